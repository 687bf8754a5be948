package interpreter

import (
	"math"
	"testing"

	"github.com/colorfulnotion/gekko/ppc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flatBus is big-endian RAM at [0, len) with everything else unmapped.
type flatBus struct{ ram []byte }

func newFlatBus(size int) *flatBus { return &flatBus{ram: make([]byte, size)} }

func (b *flatBus) Read(addr uint32, size int) (uint64, bool) {
	if int(addr)+size > len(b.ram) {
		return 0, false
	}
	var v uint64
	for i := 0; i < size; i++ {
		v = v<<8 | uint64(b.ram[int(addr)+i])
	}
	return v, true
}

func (b *flatBus) Write(addr uint32, size int, v uint64) bool {
	if int(addr)+size > len(b.ram) {
		return false
	}
	for i := size - 1; i >= 0; i-- {
		b.ram[int(addr)+i] = byte(v)
		v >>= 8
	}
	return true
}

func (b *flatBus) FetchInstruction(addr uint32) (ppc.Inst, uint32, bool) {
	v, ok := b.Read(addr, 4)
	return ppc.Inst(v), addr, ok
}

func (b *flatBus) load(addr uint32, insts ...ppc.Inst) {
	for i, inst := range insts {
		b.Write(addr+uint32(4*i), 4, uint64(inst))
	}
}

func newInterp() (*Interpreter, *flatBus) {
	bus := newFlatBus(0x10000)
	st := ppc.NewState()
	st.SetMSR(ppc.MSRFP)
	return New(st, bus), bus
}

func TestIntegerOps(t *testing.T) {
	in, _ := newInterp()
	st := in.State()
	st.SetGPR(4, 7)
	st.SetGPR(5, 0xFFFFFFFF)

	in.Execute(ppc.EncodeD(14, 3, 0, 0xFFFF)) // li r3,-1
	assert.Equal(t, uint32(0xFFFFFFFF), st.GPR(3))

	in.Execute(ppc.EncodeX(31, 6, 4, 5, 10, false)) // addc r6,r4,r5
	assert.Equal(t, uint32(6), st.GPR(6))
	assert.True(t, st.Carry())

	in.Execute(ppc.EncodeX(31, 7, 4, 4, 266, true)) // add. r7,r4,r4
	assert.Equal(t, uint32(14), st.GPR(7))
	assert.Equal(t, uint32(0x4), st.CRField(0))

	in.Execute(ppc.EncodeD(11, 1<<2, 4, 9)) // cmpwi cr1,r4,9
	assert.Equal(t, uint32(0x8), st.CRField(1))

	st.SetGPR(8, 0x80000010)
	in.Execute(ppc.EncodeX(31, 8, 9, 4, 824, false)) // srawi r9,r8,4
	assert.Equal(t, uint32(0xF8000001), st.GPR(9))
	assert.False(t, st.Carry())

	in.Execute(ppc.EncodeX(31, 5, 10, 0, 26, false)) // cntlzw r10,r5
	assert.Zero(t, st.GPR(10))
}

func TestMask(t *testing.T) {
	assert.Equal(t, uint32(0xFFFFFFFF), Mask(0, 31))
	assert.Equal(t, uint32(0x0000FFFF), Mask(16, 31))
	assert.Equal(t, uint32(0xFF0000FF), Mask(24, 7))
	assert.Equal(t, uint32(0x80000000), Mask(0, 0))
}

func TestBranches(t *testing.T) {
	in, _ := newInterp()
	st := in.State()
	st.SetPC(0x1000)
	st.SetNPC(0x1004)

	in.Execute(ppc.EncodeB(0x100, false, true)) // bl +0x100
	assert.Equal(t, uint32(0x1100), st.NPC())
	assert.Equal(t, uint32(0x1004), st.LR())

	// bdnz with CTR=2 is taken once.
	st.SetCTR(2)
	bdnz := ppc.EncodeBC(ppc.BODontCheckCond, 0, -8, false)
	st.SetNPC(0x1004)
	in.Execute(bdnz)
	assert.Equal(t, uint32(0x0FF8), st.NPC())
	st.SetNPC(0x1004)
	in.Execute(bdnz)
	assert.Equal(t, uint32(0x1004), st.NPC())
	assert.Zero(t, st.CTR())

	in.Execute(ppc.EncodeX(19, ppc.BOAlways, 0, 0, 16, false)) // blr
	assert.Equal(t, uint32(0x1004), st.NPC())

	st.SetCTR(0x2003)
	in.Execute(ppc.EncodeX(19, ppc.BOAlways, 0, 0, 528, true)) // bctrl
	assert.Equal(t, uint32(0x2000), st.NPC())
	assert.Equal(t, uint32(0x1004), st.LR())
}

func TestLoadStoreAndDSI(t *testing.T) {
	in, bus := newInterp()
	st := in.State()
	st.SetGPR(1, 0x100)
	st.SetGPR(3, 0x12345678)

	in.Execute(ppc.EncodeD(37, 3, 1, 0xFFF8)) // stwu r3,-8(r1)
	assert.Equal(t, uint32(0xF8), st.GPR(1))
	assert.Equal(t, []byte{0x12, 0x34, 0x56, 0x78}, bus.ram[0xF8:0xFC])

	in.Execute(ppc.EncodeD(42, 4, 1, 2)) // lha r4,2(r1)
	assert.Equal(t, uint32(0x5678), st.GPR(4))

	in.Execute(ppc.EncodeD(34, 5, 1, 0)) // lbz r5,0(r1)
	assert.Equal(t, uint32(0x12), st.GPR(5))

	st.SetGPR(6, 0xF0000000)
	st.SetGPR(7, 0xAAAA)
	in.Execute(ppc.EncodeD(32, 7, 6, 0)) // lwz r7,0(r6)
	assert.Equal(t, uint32(0xAAAA), st.GPR(7), "faulting load must not write rD")
	assert.Equal(t, uint32(ppc.ExceptionDSI), st.Exceptions())
	assert.Equal(t, uint32(0xF0000000), st.SPR(ppc.SprDAR))
}

func TestQuantizedRoundTrip(t *testing.T) {
	bus := newFlatBus(0x100)
	// st_type s16 scale 8, ld_type s16 scale 8
	gqr := uint32(QuantS16 | 8<<8 | QuantS16<<16 | 8<<24)
	require.True(t, QuantizedStore(bus, 0x10, gqr, false, 1.5, -2.25))
	assert.Equal(t, []byte{0x01, 0x80, 0xFD, 0xC0}, bus.ram[0x10:0x14])
	p0, p1, ok := QuantizedLoad(bus, 0x10, gqr, false)
	require.True(t, ok)
	assert.Equal(t, 1.5, p0)
	assert.Equal(t, -2.25, p1)

	p0, p1, ok = QuantizedLoad(bus, 0x10, gqr, true)
	require.True(t, ok)
	assert.Equal(t, 1.5, p0)
	assert.Equal(t, 1.0, p1)

	// u8 saturates.
	gqr = uint32(QuantU8)
	require.True(t, QuantizedStore(bus, 0x20, gqr, false, 300, -4))
	assert.Equal(t, []byte{0xFF, 0x00}, bus.ram[0x20:0x22])

	// Float type ignores scale.
	require.True(t, QuantizedStore(bus, 0x30, 0, true, 0.5, 0))
	v, _ := bus.Read(0x30, 4)
	assert.Equal(t, uint64(math.Float32bits(0.5)), v)

	_, _, ok = QuantizedLoad(bus, 0xFE, 0, false)
	assert.False(t, ok)
}

func TestRfi(t *testing.T) {
	in, _ := newInterp()
	st := in.State()
	st.SetSPR(ppc.SprSRR0, 0x80004000)
	st.SetSPR(ppc.SprSRR1, ppc.MSREE|ppc.MSRIR|ppc.MSRDR|1<<18)
	in.Execute(ppc.EncodeX(19, 0, 0, 0, 50, false))
	assert.Equal(t, uint32(0x80004000), st.NPC())
	assert.Equal(t, uint32(ppc.MSREE|ppc.MSRIR|ppc.MSRDR), st.MSR())
}

func TestStepProgram(t *testing.T) {
	in, bus := newInterp()
	st := in.State()
	bus.load(0x100,
		ppc.EncodeD(14, 3, 0, 0),             // li r3,0
		ppc.EncodeD(14, 4, 0, 5),             // li r4,5
		ppc.EncodeSPR(467, 4, ppc.SPRNumCTR), // mtctr r4
		ppc.EncodeD(14, 3, 3, 3),             // addi r3,r3,3
		ppc.EncodeBC(ppc.BODontCheckCond, 0, -4, false),
		ppc.EncodeB(0, false, false), // b .
	)
	st.SetPC(0x100)
	for i := 0; i < 3+2*5; i++ {
		_, err := in.Step()
		require.NoError(t, err)
	}
	assert.Equal(t, uint32(15), st.GPR(3))
	assert.Equal(t, uint32(0x114), st.PC())

	st.SetPC(0x8000_0000)
	_, err := in.Step()
	require.NoError(t, err)
	assert.Equal(t, uint32(ppc.VectorISI), st.PC())
}

func TestFPUUnavailable(t *testing.T) {
	in, bus := newInterp()
	st := in.State()
	st.SetMSR(0)
	bus.load(0x200, ppc.EncodeX(63, 1, 2, 3, 21, false))
	st.SetPC(0x200)
	_, err := in.Step()
	require.NoError(t, err)
	assert.Equal(t, uint32(ppc.VectorFPUUnavailable), st.PC())
	assert.Equal(t, uint32(0x200), st.SPR(ppc.SprSRR0))
}
