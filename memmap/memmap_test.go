package memmap

import (
	"testing"
	"unsafe"

	"github.com/colorfulnotion/gekko/config"
	"github.com/colorfulnotion/gekko/jiterrors"
	"github.com/colorfulnotion/gekko/ppc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMemory(t *testing.T, fastmem bool) *Memory {
	t.Helper()
	m, err := New(config.MemoryConfig{Mem1Size: 0x100000, FastmemArena: fastmem})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Shutdown() })
	return m
}

type regFile struct {
	regs   map[uint32]uint64
	writes int
}

func (r *regFile) Read(addr uint32, _ int) uint64 { return r.regs[addr] }
func (r *regFile) Write(addr uint32, _ int, v uint64) {
	r.regs[addr] = v
	r.writes++
}

func TestSlowPathBigEndian(t *testing.T) {
	m := newTestMemory(t, false)
	require.True(t, m.WriteU32(0x80000100, 0xDEADBEEF))
	assert.Equal(t, []byte{0xDE, 0xAD, 0xBE, 0xEF}, m.RAM()[0x100:0x104])

	v, ok := m.ReadU16(0xC0000102)
	require.True(t, ok)
	assert.Equal(t, uint16(0xBEEF), v)

	require.True(t, m.WriteU64(0x80000200, 0x0102030405060708))
	b, ok := m.ReadU8(0x80000207)
	require.True(t, ok)
	assert.Equal(t, uint8(8), b)

	_, ok = m.ReadU32(0x80200000)
	assert.False(t, ok, "beyond mem1")
	_, ok = m.ReadU32(0x40000000)
	assert.False(t, ok, "untranslated")

	_, err := m.ReadPhysical(0x100, 3)
	assert.ErrorIs(t, err, jiterrors.ErrMisalignedAccess)
	_, err = m.ReadPhysical(0x0C000000, 4)
	assert.ErrorIs(t, err, jiterrors.ErrUnmappedAccess)
}

func TestTranslationFollowsMSR(t *testing.T) {
	m := newTestMemory(t, false)
	st := ppc.NewState()
	m.AttachState(st)

	require.True(t, m.WriteU32(0x10, 0x60000000), "real mode data access")
	_, _, ok := m.FetchInstruction(0x80000010)
	assert.False(t, ok, "IR off: 0x80000010 is not physical")
	inst, phys, ok := m.FetchInstruction(0x10)
	require.True(t, ok)
	assert.Equal(t, ppc.Inst(0x60000000), inst)
	assert.Equal(t, uint32(0x10), phys)

	st.SetMSR(ppc.MSRIR | ppc.MSRDR)
	inst, phys, ok = m.FetchInstruction(0x80000010)
	require.True(t, ok)
	assert.Equal(t, ppc.Inst(0x60000000), inst)
	assert.Equal(t, uint32(0x10), phys)
	_, _, ok = m.FetchInstruction(0x80000012)
	assert.False(t, ok, "misaligned fetch")
}

func TestMMIODispatch(t *testing.T) {
	m := newTestMemory(t, false)
	dev := &regFile{regs: map[uint32]uint64{0x0C003000: 7}}
	m.RegisterMMIO(0x0C003000, 0x1000, dev)

	v, ok := m.ReadU32(0xCC003000)
	require.True(t, ok)
	assert.Equal(t, uint32(7), v)
	require.True(t, m.WriteU16(0xCC003004, 0x55))
	assert.Equal(t, uint64(0x55), dev.regs[0x0C003004])
	assert.Equal(t, 1, dev.writes)

	assert.True(t, IsOptimizableGatherPipeWrite(0xCC008000))
	assert.False(t, IsOptimizableGatherPipeWrite(0xCC008004))
}

func TestCopyRoundTrip(t *testing.T) {
	m := newTestMemory(t, false)
	src := []byte("gekko block data")
	require.NoError(t, m.CopyToEmu(0x80003100, src))
	dst := make([]byte, len(src))
	require.NoError(t, m.CopyFromEmu(dst, 0xC0003100))
	assert.Equal(t, src, dst)
	assert.ErrorIs(t, m.CopyToEmu(0x40000000, src), jiterrors.ErrUnmappedAccess)

	m.Clear()
	require.NoError(t, m.CopyFromEmu(dst, 0x80003100))
	assert.Equal(t, make([]byte, len(src)), dst)
}

func TestFastmemWindows(t *testing.T) {
	m := newTestMemory(t, true)
	if !m.FastmemEnabled() {
		t.Skip("fastmem arena could not be reserved on this host")
	}
	require.True(t, m.WriteU32(0x80000040, 0xCAFEF00D))

	phys := unsafe.Slice((*byte)(unsafe.Pointer(m.PhysicalBase()+0x40)), 4)
	assert.Equal(t, []byte{0xCA, 0xFE, 0xF0, 0x0D}, phys)
	logical := unsafe.Slice((*byte)(unsafe.Pointer(m.LogicalBase()+0xC0000040)), 4)
	assert.Equal(t, []byte{0xCA, 0xFE, 0xF0, 0x0D}, logical)

	off, ok := m.WindowOffset(m.LogicalBase() + 0xCC008000)
	require.True(t, ok)
	assert.Equal(t, uint64(0xCC008000), off)
	_, ok = m.WindowOffset(m.PhysicalBase() + WindowSize)
	assert.False(t, ok)

	require.Len(t, m.Mappings(), 3)
	assert.Equal(t, uint32(0x80000000), m.Mappings()[0].Logical)
}
