package ppc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstFields(t *testing.T) {
	addi := EncodeD(14, 3, 1, 0xFFF8)
	assert.Equal(t, uint32(14), addi.OPCD())
	assert.Equal(t, 3, addi.RD())
	assert.Equal(t, 1, addi.RA())
	assert.Equal(t, int32(-8), addi.SIMM())
	assert.Equal(t, uint32(0xFFF8), addi.UIMM())

	b := EncodeB(-16, false, true)
	assert.True(t, b.LK())
	assert.False(t, b.AA())
	assert.Equal(t, int32(-16), b.LI())
	assert.Equal(t, uint32(0x80003000-16), b.BranchTarget(0x80003000))

	bc := EncodeBC(BOBranchIfTrue|BODontDecrement, 2, 0x40, false)
	assert.Equal(t, uint32(0x0C), bc.BO())
	assert.Equal(t, 2, bc.BI())
	assert.Equal(t, uint32(0x80000040), bc.CondBranchTarget(0x80000000))

	mflr := EncodeSPR(339, 0, SPRNumLR)
	assert.Equal(t, uint32(0x7C0802A6), uint32(mflr))
	assert.Equal(t, uint32(SPRNumLR), mflr.SPR())

	psq := EncodePsq(56, 1, 3, true, 5, -4)
	assert.True(t, psq.PsqW())
	assert.Equal(t, 5, psq.PsqI())
	assert.Equal(t, int32(-4), psq.PsqD())
}

func TestLookup(t *testing.T) {
	cases := []struct {
		inst Inst
		id   OpID
	}{
		{EncodeD(14, 3, 0, 1), OpAddi},
		{EncodeX(31, 3, 4, 5, 266, false), OpAdd},
		{EncodeX(19, 20, 0, 0, 16, false), OpBclr},
		{EncodeX(19, 0, 0, 0, 50, false), OpRfi},
		{EncodeSPR(467, 0, SPRNumCTR), OpMtspr},
		{EncodePsq(60, 1, 3, false, 0, 0), OpPsqSt},
		{EncodeX(63, 1, 2, 3, 21, false), OpFadd},
		{EncodeX(59, 1, 2, 3, 25, false), OpFmuls},
		{Inst(0), OpUnknown},
	}
	for _, c := range cases {
		assert.Equal(t, c.id, Lookup(c.inst).ID, "inst %08x", uint32(c.inst))
	}
	assert.Equal(t, "addx", ByID(OpAdd).Name)
	assert.True(t, Lookup(Inst(0)).Has(FlEndBlock))
}

func TestRegsInOut(t *testing.T) {
	stw := EncodeD(36, 5, 1, 8)
	info := Lookup(stw)
	assert.Equal(t, []int{1, 5}, RegsIn(stw, info).Indices())
	assert.Zero(t, RegsOut(stw, info))

	li := EncodeD(14, 3, 0, 7)
	info = Lookup(li)
	assert.Zero(t, RegsIn(li, info))
	assert.Equal(t, []int{3}, RegsOut(li, info).Indices())

	lwzu := EncodeD(33, 4, 6, 0)
	info = Lookup(lwzu)
	assert.Equal(t, []int{6}, RegsIn(lwzu, info).Indices())
	assert.Equal(t, []int{4, 6}, RegsOut(lwzu, info).Indices())
}

func TestStateLayout(t *testing.T) {
	s := NewState()
	s.SetGPR(31, 0xDEADBEEF)
	assert.Equal(t, uint32(0xDEADBEEF), s.GPR(31))
	s.SetGQR(2, 0x00040004)
	assert.Equal(t, uint32(0x00040004), s.SPR(SprGQR0+2))

	s.SetCRField(0, 0x2)
	assert.True(t, s.CRBit(2))
	assert.Equal(t, uint32(0x2), s.CRField(0))

	s.SetCarry(true)
	assert.True(t, s.Carry())

	slot, ok := SPRSlot(SPRNumGQR0 + 7)
	require.True(t, ok)
	assert.Equal(t, SprGQR0+7, slot)
	_, ok = SPRSlot(1000)
	assert.False(t, ok)

	s.AppendGatherPipe([]byte{1, 2, 3, 4})
	assert.Equal(t, 4, s.GatherPipeCount())
	assert.Equal(t, []byte{1, 2, 3, 4}, s.GatherPipeBytes())
	s.Reset()
	assert.Zero(t, s.GatherPipeCount())
	assert.Zero(t, s.GPR(31))
}

func TestCheckExceptions(t *testing.T) {
	s := NewState()
	s.SetMSR(MSREE | MSRFP | MSRIR | MSRDR)
	s.SetPC(0x80001000)
	s.SetNPC(0x80001004)
	s.RaiseException(ExceptionISI | ExceptionExternalInt)

	s.CheckExceptions()
	assert.Equal(t, uint32(VectorISI), s.PC())
	assert.Equal(t, uint32(VectorISI), s.NPC())
	assert.Equal(t, uint32(0x80001004), s.SPR(SprSRR0))
	assert.Zero(t, s.MSR()&MSREE)
	assert.Equal(t, uint32(ExceptionExternalInt), s.Exceptions())

	// EE is now off, the external interrupt stays pending.
	s.CheckExceptions()
	assert.Equal(t, uint32(VectorISI), s.PC())
	assert.Equal(t, uint32(ExceptionExternalInt), s.Exceptions())

	s.SetMSR(MSREE)
	s.CheckExternalExceptions()
	assert.Equal(t, uint32(VectorExternal), s.PC())
	assert.Zero(t, s.Exceptions())
}
