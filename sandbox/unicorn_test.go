//go:build unicorn
// +build unicorn

package sandbox

import (
	"context"
	"testing"

	"github.com/colorfulnotion/gekko/config"
	"github.com/colorfulnotion/gekko/jit"
	"github.com/colorfulnotion/gekko/memmap"
	"github.com/colorfulnotion/gekko/ppc"
	"github.com/colorfulnotion/gekko/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const entry = 0x80003000

type regs map[uint32]uint32

func (r regs) Read(addr uint32, size int) uint64      { return uint64(r[addr]) }
func (r regs) Write(addr uint32, size int, v uint64) { r[addr] = uint32(v) }

func newExecutor(t *testing.T, fastmem bool, budget uint64) *Executor {
	t.Helper()
	cfg := config.Default()
	cfg.Jit.CodeSize = 1 << 20
	cfg.Jit.FarCodeSize = 512 << 10
	cfg.Jit.TrampolineSize = 256 << 10
	cfg.Jit.Fastmem = fastmem
	cfg.Memory = config.MemoryConfig{Mem1Size: 0x400000, FastmemArena: fastmem}

	mem, err := memmap.New(cfg.Memory)
	require.NoError(t, err)
	t.Cleanup(func() { _ = mem.Shutdown() })
	hints, err := storage.OpenProfileStore("", "sandbox")
	require.NoError(t, err)
	t.Cleanup(func() { _ = hints.Close() })

	x, err := New(Options{
		Config: cfg,
		Memory: mem,
		Hints:  hints,
		Timing: jit.NewSliceTimer(context.Background(), 200, budget),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = x.Close() })
	return x
}

func load(t *testing.T, x *Executor, addr uint32, insts ...ppc.Inst) {
	t.Helper()
	for i, in := range insts {
		require.True(t, x.mem.WriteU32(addr+uint32(i)*4, uint32(in)))
	}
}

func TestRunIntegerLoop(t *testing.T) {
	x := newExecutor(t, false, 2000)
	load(t, x, entry,
		ppc.EncodeD(14, 3, 0, 5), // li r3, 5
		ppc.EncodeD(14, 3, 3, 1), // addi r3, r3, 1
		ppc.EncodeD(36, 3, 0, 0x100),
		ppc.EncodeB(0, false, false), // b .
	)
	require.NoError(t, x.Run(entry))

	assert.Equal(t, uint32(ppc.CPUPowerDown), x.State().CPUState())
	assert.Equal(t, uint32(6), x.State().GPR(3))
	v, ok := x.mem.ReadU32(0x80000100)
	require.True(t, ok)
	assert.Equal(t, uint32(6), v)
	assert.NotZero(t, x.Stats().HelperCalls)
	assert.NotZero(t, x.Engine().Stats().Compiles)
}

func TestRunBackpatchesMMIOLoad(t *testing.T) {
	x := newExecutor(t, true, 2000)
	if !x.mem.FastmemEnabled() {
		t.Skip("no fastmem arena on this host")
	}
	x.mem.RegisterMMIO(0x0C006000, 0x100, regs{0x0C006000: 0x12345678})
	x.State().SetGPR(4, 0xCC006000)
	load(t, x, entry,
		ppc.EncodeD(32, 5, 4, 0), // lwz r5, 0(r4)
		ppc.EncodeB(0, false, false),
	)
	require.NoError(t, x.Run(entry))

	assert.Equal(t, uint32(0x12345678), x.State().GPR(5))
	assert.Equal(t, uint64(1), x.Engine().Stats().Backpatches)
	assert.Equal(t, uint64(1), x.Stats().Faults)
	assert.Zero(t, x.Engine().BackpatchSites())
}
