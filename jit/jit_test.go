package jit

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/colorfulnotion/gekko/config"
	"github.com/colorfulnotion/gekko/jit/blockcache"
	"github.com/colorfulnotion/gekko/jit/codecache"
	"github.com/colorfulnotion/gekko/jit/x64"
	"github.com/colorfulnotion/gekko/memmap"
	"github.com/colorfulnotion/gekko/ppc"
	"github.com/colorfulnotion/gekko/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const blockAddr = 0x80003000

var (
	instBLR  = ppc.EncodeX(19, int(ppc.BOAlways), 0, 0, 16, false)
	instNop  = ppc.EncodeD(24, 0, 0, 0) // ori r0, r0, 0
	instSync = ppc.EncodeX(31, 0, 0, 0, 598, false)
)

func addi(rd, ra int, imm int16) ppc.Inst { return ppc.EncodeD(14, rd, ra, uint16(imm)) }
func lwz(rd, ra int, d int16) ppc.Inst    { return ppc.EncodeD(32, rd, ra, uint16(d)) }
func stw(rs, ra int, d int16) ppc.Inst    { return ppc.EncodeD(36, rs, ra, uint16(d)) }
func fadds(d, a, b int) ppc.Inst          { return ppc.EncodeX(59, d, a, b, 21, false) }

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Jit.CodeSize = 256 << 10
	cfg.Jit.FarCodeSize = 128 << 10
	cfg.Jit.TrampolineSize = 64 << 10
	cfg.Jit.RoutinesSize = 4 << 10
	cfg.Jit.Fastmem = false
	cfg.Memory = config.MemoryConfig{Mem1Size: 0x100000}
	return cfg
}

type testRig struct {
	e      *Engine
	mem    *memmap.Memory
	st     *ppc.State
	hints  *storage.ProfileStore
	fatals []string
}

func newRig(t *testing.T, cfg *config.Config) *testRig {
	t.Helper()
	mem, err := memmap.New(cfg.Memory)
	require.NoError(t, err)
	t.Cleanup(func() { _ = mem.Shutdown() })
	st := ppc.NewState()
	st.SetMSR(ppc.MSRIR | ppc.MSRDR)
	mem.AttachState(st)
	hints, err := storage.OpenProfileStore("", "test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = hints.Close() })

	space := x64.NewCodeSpaceAt(make([]byte, CodeSpaceSize(cfg)))
	e, err := NewWithCodeSpace(cfg, Deps{State: st, Memory: mem, Hints: hints}, space)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Shutdown() })

	r := &testRig{e: e, mem: mem, st: st, hints: hints}
	e.SetFatalHandler(func(msg string, _ ...interface{}) { r.fatals = append(r.fatals, msg) })
	return r
}

func (r *testRig) load(t *testing.T, addr uint32, insts ...ppc.Inst) {
	t.Helper()
	for i, in := range insts {
		require.True(t, r.mem.WriteU32(addr+uint32(i)*4, uint32(in)))
	}
}

func (r *testRig) block(addr uint32) *blockcache.Block {
	return r.e.BlockCache().GetBlockFromStartAddress(addr, r.e.msrBits())
}

func (r *testRig) nearCode(b *blockcache.Block) []byte {
	return r.e.CodeSpace().Slice(b.Near.Start, b.Near.End)
}

func rel32(code []byte, at int, from uintptr) uintptr {
	return from + uintptr(at) + 5 + uintptr(int64(int32(binary.LittleEndian.Uint32(code[at+1:]))))
}

func TestHelperPageSlots(t *testing.T) {
	r := newRig(t, testConfig())
	for h := Helper(0); h < NumHelpers; h++ {
		addr := r.e.HelperAddress(h)
		got, ok := r.e.HelperAt(addr)
		require.True(t, ok, h.String())
		assert.Equal(t, h, got)
		assert.Equal(t, byte(0xC3), r.e.CodeSpace().Slice(addr, addr+1)[0], h.String())
		_, ok = r.e.HelperAt(addr + 1)
		assert.False(t, ok)
	}
	assert.Equal(t, "quantized_store", HelperQuantizedStore.String())
}

func TestWriteLinkBlock(t *testing.T) {
	r := newRig(t, testConfig())
	e := r.e
	loc := e.NearRegion().Start + 0x100
	space := e.CodeSpace()

	dest := &blockcache.Block{NormalEntry: loc + 0x40}
	e.WriteLinkBlock(&blockcache.LinkData{ExitPtr: loc}, dest)
	assert.Equal(t, []byte{0xE9, 0x3B, 0, 0, 0}, space.Slice(loc, loc+5))

	e.WriteLinkBlock(&blockcache.LinkData{ExitPtr: loc, Call: true}, dest)
	assert.Equal(t, []byte{0xE8, 0x3B, 0, 0, 0}, space.Slice(loc, loc+5))

	adjacent := &blockcache.Block{NormalEntry: loc + 5}
	e.WriteLinkBlock(&blockcache.LinkData{ExitPtr: loc}, adjacent)
	assert.Equal(t, []byte{0x0F, 0x1F, 0x44, 0x00, 0x00}, space.Slice(loc, loc+5))

	e.WriteLinkBlock(&blockcache.LinkData{ExitPtr: loc}, nil)
	code := space.Slice(loc, loc+5)
	require.Equal(t, byte(0xE9), code[0])
	assert.Equal(t, e.Routines().DispatcherNoTimingCheck, rel32(code, 0, loc))
}

func TestWriteDestroyBlock(t *testing.T) {
	r := newRig(t, testConfig())
	e := r.e
	loc := e.NearRegion().Start + 0x200
	e.WriteDestroyBlock(&blockcache.Block{NormalEntry: loc, EffectiveAddress: blockAddr})

	code := e.CodeSpace().Slice(loc, loc+destroySize)
	assert.Equal(t, []byte{0xC7, 0x45, 0x00, 0x00, 0x30, 0x00, 0x80}, code[:7])
	require.Equal(t, byte(0xE9), code[7])
	assert.Equal(t, e.Routines().DispatcherNoCheck, rel32(code, 7, loc))

	// entries outside the code space are left alone
	assert.NotPanics(t, func() { e.WriteDestroyBlock(&blockcache.Block{NormalEntry: 0x10}) })
}

func TestCompileFoldsConstants(t *testing.T) {
	r := newRig(t, testConfig())
	r.load(t, blockAddr, addi(3, 0, 5), addi(3, 3, 1), instBLR)

	r.e.Jit(blockAddr)
	b := r.block(blockAddr)
	require.NotNil(t, b)
	assert.Equal(t, 3, b.OriginalSize)
	assert.Equal(t, uint64(1), r.e.Stats().Compiles)
	assert.Zero(t, r.e.Stats().Fallbacks)
	// mov dword [rbp+0x8c], 6
	assert.True(t, bytes.Contains(r.nearCode(b), []byte{0xC7, 0x85, 0x8C, 0, 0, 0, 6, 0, 0, 0}),
		x64.DisassembleAt(r.nearCode(b), b.Near.Start))
	assert.Empty(t, b.Links)
}

func TestDispatchCompilesOnce(t *testing.T) {
	r := newRig(t, testConfig())
	r.load(t, blockAddr, addi(3, 0, 1), instBLR)
	r.st.SetPC(blockAddr)

	entry := r.e.Dispatch()
	require.NotZero(t, entry)
	assert.Equal(t, r.block(blockAddr).NormalEntry, entry)
	assert.Equal(t, entry, r.e.Dispatch())
	assert.Equal(t, uint64(1), r.e.Stats().Compiles)
}

func TestUnmappedBlockRaisesISI(t *testing.T) {
	r := newRig(t, testConfig())
	r.st.SetMSR(r.st.MSR() | ppc.MSREE)
	r.e.Jit(0x70000000)
	assert.Equal(t, uint32(0x400), r.st.PC())
	assert.Equal(t, uint32(0x70000000), r.st.SPR(ppc.SprSRR0))
	assert.Zero(t, r.e.Stats().Compiles)
}

func TestJitRetriesOnceAfterClear(t *testing.T) {
	r := newRig(t, testConfig())
	r.load(t, blockAddr, addi(3, 0, 1), instBLR)
	near := r.e.Allocator().Region(codecache.Near)
	require.NoError(t, r.e.Allocator().Commit(codecache.Near, near))

	r.e.Jit(blockAddr)
	require.NotNil(t, r.block(blockAddr))
	assert.Equal(t, uint64(1), r.e.Stats().Retries)
	assert.GreaterOrEqual(t, r.e.Stats().CacheClears, uint64(1))
	assert.Empty(t, r.fatals)
}

func TestJitFatalWhenBlockNeverFits(t *testing.T) {
	cfg := testConfig()
	cfg.Jit.CodeSize = 16
	r := newRig(t, cfg)
	r.load(t, blockAddr, addi(3, 0, 1), addi(4, 0, 2), addi(5, 0, 3), instBLR)

	r.e.Jit(blockAddr)
	assert.Nil(t, r.block(blockAddr))
	assert.Equal(t, uint64(1), r.e.Stats().Retries)
	require.Len(t, r.fatals, 1)
	assert.Equal(t, "JIT failed to find code space after a cache clear. This should never happen.", r.fatals[0])
}

func TestFPUGuardEmittedOnce(t *testing.T) {
	r := newRig(t, testConfig())
	r.load(t, blockAddr, fadds(1, 2, 3), fadds(4, 1, 1), instBLR)

	r.e.Jit(blockAddr)
	b := r.block(blockAddr)
	require.NotNil(t, b)
	// test dword [rbp+0x10], MSR.FP
	guard := []byte{0xF7, 0x45, 0x10, 0x00, 0x20, 0x00, 0x00}
	assert.Equal(t, 1, bytes.Count(r.nearCode(b), guard))
	assert.Equal(t, uint64(2), r.e.Stats().Fallbacks)
}

func TestBreakPointBlocksAreNotLinked(t *testing.T) {
	cfg := testConfig()
	cfg.Jit.EnableDebugging = true
	bc := ppc.EncodeBC(12, 2, 0x20, false)

	r := newRig(t, cfg)
	r.load(t, blockAddr, addi(3, 0, 1), addi(3, 3, 1), bc)
	r.e.Jit(blockAddr)
	plain := r.block(blockAddr)
	require.NotNil(t, plain)
	assert.Len(t, plain.Links, 2)

	r.e.AddBreakPoint(blockAddr + 4)
	assert.Nil(t, r.block(blockAddr))
	r.e.Jit(blockAddr)
	withBP := r.block(blockAddr)
	require.NotNil(t, withBP)
	assert.Empty(t, withBP.Links)
	assert.Equal(t, []uint32{blockAddr + 4}, r.e.BreakPoints().List())
}

func TestCompileExceptionCheckPersistsHint(t *testing.T) {
	r := newRig(t, testConfig())
	r.load(t, blockAddr, stw(3, 4, 0), instBLR)
	r.load(t, blockAddr+0x100, addi(3, 0, 1), instBLR)
	r.e.Jit(blockAddr)
	require.NotNil(t, r.block(blockAddr))

	r.st.SetPC(blockAddr)
	r.e.CompileExceptionCheck(storage.FIFOWrite)
	assert.True(t, r.hints.Contains(storage.FIFOWrite, blockAddr))
	assert.Nil(t, r.block(blockAddr))

	r.st.SetPC(blockAddr + 0x100)
	r.e.CompileExceptionCheck(storage.FIFOWrite)
	assert.False(t, r.hints.Contains(storage.FIFOWrite, blockAddr+0x100))

	// the guest rewriting its code drops what was learned about it
	r.e.InvalidateICache(blockAddr, 4, false)
	assert.False(t, r.hints.Contains(storage.FIFOWrite, blockAddr))
}

func TestInvalidateICacheQueuesSpans(t *testing.T) {
	r := newRig(t, testConfig())
	r.load(t, blockAddr, addi(3, 0, 1), instNop, instSync, instBLR)
	r.e.Jit(blockAddr)
	b := r.block(blockAddr)
	require.NotNil(t, b)
	used := r.e.Allocator().Used(codecache.Near)
	assert.Equal(t, b.Near.Size(), used)

	r.e.InvalidateICache(blockAddr+8, 4, true)
	assert.Nil(t, r.block(blockAddr))
	near, _ := r.e.BlockCache().RangesToFree()
	assert.Equal(t, []codecache.Range{b.Near}, near)

	// the next compile returns the span to the allocator first
	r.e.Jit(blockAddr)
	assert.Equal(t, r.block(blockAddr).Near.Size(), r.e.Allocator().Used(codecache.Near))
}

func TestSlowReadHelperRaisesDSI(t *testing.T) {
	r := newRig(t, testConfig())
	require.True(t, r.mem.WriteU32(0x80004000, 0xCAFEBABE))

	v := r.e.CallHelper(HelperReadMemory, [4]uint64{0x80004000, 4, 0})
	assert.Equal(t, uint64(0xCAFEBABE), v)
	assert.Equal(t, uint64(1), r.e.Stats().HelperCalls[HelperReadMemory])

	r.e.CallHelper(HelperReadMemory, [4]uint64{0x70000000, 4, 0})
	assert.NotZero(t, r.st.Exceptions()&ppc.ExceptionDSI)
	assert.Equal(t, uint32(0x70000000), r.st.SPR(ppc.SprDAR))
}

func TestHLEHelperReplacesFunction(t *testing.T) {
	r := newRig(t, testConfig())
	r.load(t, blockAddr, addi(3, 0, 1), instBLR)
	called := 0
	idx := r.e.PatchHook(blockAddr, "stub", HookReplace, func(st *ppc.State, _ Memory) {
		called++
		st.SetGPR(3, 42)
	})
	r.e.Jit(blockAddr)
	require.NotNil(t, r.block(blockAddr))

	r.st.SetLR(0x80001234)
	r.e.CallHelper(HelperHLE, [4]uint64{blockAddr, uint64(idx)})
	assert.Equal(t, 1, called)
	assert.Equal(t, uint32(42), r.st.GPR(3))
	assert.Equal(t, uint32(0x80001234), r.st.NPC())

	r.e.interpretHLE(blockAddr, ppc.Inst(1<<26|99))
	assert.NotZero(t, r.st.Exceptions()&ppc.ExceptionProgram)
}

func TestStackFaultDisablesBLR(t *testing.T) {
	cfg := testConfig()
	cfg.Jit.Fastmem = true
	r := newRig(t, cfg)
	if !r.e.BLREnabled() {
		t.Skip("no private stack on this host")
	}
	r.e.BindCPUThread()
	defer r.e.UnbindCPUThread()
	require.True(t, r.e.StackGuardActive())

	r.load(t, blockAddr, addi(3, 0, 1), instBLR)
	r.e.Jit(blockAddr)
	require.NotNil(t, r.block(blockAddr))
	r.st.SetDowncount(1000)

	stack, ok := r.e.Stack()
	require.True(t, ok)
	var ctx RegisterContext
	assert.True(t, r.e.HandleFault(stack.Base+GuardOffset+8, &ctx))
	assert.False(t, r.e.BLREnabled())
	assert.False(t, r.e.StackGuardActive())
	assert.Zero(t, r.st.Downcount())
	assert.Nil(t, r.block(blockAddr))
	assert.Equal(t, uint64(1), r.e.Stats().StackFaults)

	// a second hit is not ours any more
	assert.False(t, r.e.HandleFault(stack.Base+GuardOffset+8, &ctx))

	clears := r.e.Stats().CacheClears
	r.e.Jit(blockAddr)
	assert.Equal(t, clears+1, r.e.Stats().CacheClears)
	assert.NotNil(t, r.block(blockAddr))
}

func TestBackpatchStoreUndoesSwap(t *testing.T) {
	cfg := testConfig()
	cfg.Jit.Fastmem = true
	cfg.Jit.BlockLinking = false
	cfg.Memory.FastmemArena = true
	r := newRig(t, cfg)
	if !r.mem.FastmemEnabled() {
		t.Skip("no fastmem arena on this host")
	}
	r.load(t, blockAddr, lwz(3, 4, 8), stw(3, 4, 0), instBLR)
	r.e.Jit(blockAddr)
	require.NotNil(t, r.block(blockAddr))
	require.Equal(t, 2, r.e.BackpatchSites())
	assert.Zero(t, r.e.Stats().Fallbacks)

	var store *BackpatchInfo
	for _, info := range r.e.backpatchInfo {
		if info.Store {
			store = info
		}
	}
	require.NotNil(t, store)
	assert.GreaterOrEqual(t, store.Len, fastmemSiteMin)
	assert.True(t, store.HasSwap)

	var ctx RegisterContext
	ctx.Set(x64.RAX.Index(), 0x44332211)
	ctx.Set(RegPC, uint64(store.Start))
	require.True(t, r.e.HandleFault(r.mem.PhysicalBase()+0x3000, &ctx))

	assert.Equal(t, uint64(0x11223344), ctx.Get(x64.RAX.Index()))
	site := r.e.CodeSpace().Slice(store.Start, store.Start+uintptr(store.Len))
	require.Equal(t, byte(0xE9), site[0])
	tramp := rel32(site, 0, store.Start)
	assert.True(t, r.e.trampolineRegion.Contains(tramp))
	assert.Equal(t, uint64(tramp), ctx.Get(RegPC))
	for _, b := range site[5:] {
		assert.Equal(t, byte(0xCC), b)
	}
	assert.Equal(t, 1, r.e.BackpatchSites())
	assert.Equal(t, uint64(1), r.e.Stats().Backpatches)

	// the record is consumed
	assert.False(t, r.e.HandleFault(r.mem.PhysicalBase()+0x3000, &ctx))
	// addresses outside both windows are not guest accesses
	assert.False(t, r.e.HandleFault(0x10, &ctx))
}

// encode returns the bytes f emits into a scratch buffer.
func encode(f func(c *x64.Emitter)) []byte {
	space := x64.NewCodeSpaceAt(make([]byte, 64))
	c := x64.NewEmitter(space, x64.Region{Start: space.Base(), End: space.End()})
	f(c)
	return space.Slice(space.Base(), c.GetCodePtr())
}

func callsTo(code []byte, from, target uintptr) int {
	n := 0
	for i := 0; i+5 <= len(code); i++ {
		if code[i] == 0xE8 && rel32(code, i, from) == target {
			n++
		}
	}
	return n
}

// guardCount counts cmp dword [rbp+off], v directly followed by a far jnz.
func guardCount(code []byte, off int32, v uint32) int {
	cmp := encode(func(c *x64.Emitter) { c.CMP(32, x64.PPCState(off), x64.Imm32(v)) })
	return bytes.Count(code, append(cmp, 0x0F, 0x85))
}

func TestGQRGuard(t *testing.T) {
	r := newRig(t, testConfig())
	psqL := ppc.EncodePsq(56, 1, 4, false, 3, 0)
	r.load(t, blockAddr, psqL, psqL, instBLR)
	r.st.SetGQR(3, 0x00070007)

	r.e.Jit(blockAddr)
	b := r.block(blockAddr)
	require.NotNil(t, b)
	assert.Equal(t, 1, guardCount(r.nearCode(b), ppc.GQROffset(3), 0x00070007))

	// a failed guard recompiles without it
	r.st.SetPC(blockAddr)
	r.e.CompileExceptionCheck(storage.PairedQuantize)
	assert.True(t, r.hints.Contains(storage.PairedQuantize, blockAddr))
	require.Nil(t, r.block(blockAddr))
	r.e.Jit(blockAddr)
	b = r.block(blockAddr)
	require.NotNil(t, b)
	assert.Zero(t, guardCount(r.nearCode(b), ppc.GQROffset(3), 0x00070007))
}

func TestSpeculativeGatherPipeAddress(t *testing.T) {
	r := newRig(t, testConfig())
	r.load(t, blockAddr, stw(3, 5, 0), instBLR)
	r.st.SetGPR(5, memmap.GatherPipeLogical)

	r.e.Jit(blockAddr)
	b := r.block(blockAddr)
	require.NotNil(t, b)
	code := r.nearCode(b)
	assert.Equal(t, 1, guardCount(code, ppc.GPROffset(5), memmap.GatherPipeLogical))
	assert.Equal(t, 1, callsTo(code, b.Near.Start, r.e.Routines().GatherPipeWrite32))

	r.st.SetPC(blockAddr)
	r.e.CompileExceptionCheck(storage.SpeculativeConstants)
	require.Nil(t, r.block(blockAddr))
	r.e.Jit(blockAddr)
	b = r.block(blockAddr)
	require.NotNil(t, b)
	code = r.nearCode(b)
	assert.Zero(t, guardCount(code, ppc.GPROffset(5), memmap.GatherPipeLogical))
	assert.Zero(t, callsTo(code, b.Near.Start, r.e.Routines().GatherPipeWrite32))
}

func TestFifoHintChecksInterruptBeforeStore(t *testing.T) {
	check := encode(func(c *x64.Emitter) {
		c.TEST(32, x64.PPCState(ppc.OffExceptions), x64.Imm32(ppc.ExceptionExternalInt))
	})
	// checksBeforeWrite counts interrupt checks ahead of the store's
	// helper call.
	checksBeforeWrite := func(r *testRig) int {
		r.load(t, blockAddr, stw(3, 4, 0), instBLR)
		r.e.Jit(blockAddr)
		b := r.block(blockAddr)
		require.NotNil(t, b)
		code := r.nearCode(b)
		write := r.e.HelperAddress(HelperWriteMemory)
		for i := 0; i+5 <= len(code); i++ {
			if code[i] == 0xE8 && rel32(code, i, b.Near.Start) == write {
				return bytes.Count(code[:i], check)
			}
		}
		require.Fail(t, "no write helper call")
		return 0
	}
	baseline := checksBeforeWrite(newRig(t, testConfig()))

	r := newRig(t, testConfig())
	_, err := r.hints.Add(storage.FIFOWrite, blockAddr)
	require.NoError(t, err)
	assert.Equal(t, baseline+1, checksBeforeWrite(r))
}

func TestInvalidateICacheUnalignedDropsHints(t *testing.T) {
	r := newRig(t, testConfig())
	for _, h := range []struct {
		kind storage.HintKind
		addr uint32
	}{
		{storage.FIFOWrite, blockAddr},
		{storage.PairedQuantize, blockAddr + 4},
		{storage.FIFOWrite, blockAddr + 8},
	} {
		_, err := r.hints.Add(h.kind, h.addr)
		require.NoError(t, err)
	}

	r.e.InvalidateICache(blockAddr+2, 4, true)
	assert.True(t, r.hints.Contains(storage.FIFOWrite, blockAddr))

	// [blockAddr+2, blockAddr+6) touches the words at blockAddr and blockAddr+4
	r.e.InvalidateICache(blockAddr+2, 4, false)
	assert.False(t, r.hints.Contains(storage.FIFOWrite, blockAddr))
	assert.False(t, r.hints.Contains(storage.PairedQuantize, blockAddr+4))
	assert.True(t, r.hints.Contains(storage.FIFOWrite, blockAddr+8))
}

func TestBackpatchLoadRestoresAddress(t *testing.T) {
	cfg := testConfig()
	cfg.Jit.Fastmem = true
	cfg.Jit.BlockLinking = false
	cfg.Memory.FastmemArena = true
	r := newRig(t, cfg)
	if !r.mem.FastmemEnabled() {
		t.Skip("no fastmem arena on this host")
	}
	r.load(t, blockAddr, addi(3, 3, 1), lwz(3, 3, 8), instBLR)
	r.e.Jit(blockAddr)
	require.NotNil(t, r.block(blockAddr))
	require.Equal(t, 1, r.e.BackpatchSites())

	var load *BackpatchInfo
	for _, info := range r.e.backpatchInfo {
		load = info
	}
	require.NotNil(t, load)
	require.False(t, load.Store)
	require.True(t, load.OffsetAddedToAddress)
	assert.Equal(t, int32(8), load.Offset)
	assert.Equal(t, load.ValueReg, load.AddrReg)
	assert.Equal(t, uint32(blockAddr+4), load.PC)

	var ctx RegisterContext
	ctx.Set(load.AddrReg.Index(), 0x80001008)
	ctx.Set(RegPC, uint64(load.Start))
	require.True(t, r.e.HandleFault(r.mem.PhysicalBase()+0x3000, &ctx))
	assert.Equal(t, uint64(0x80001000), ctx.Get(load.AddrReg.Index()))

	site := r.e.CodeSpace().Slice(load.Start, load.Start+uintptr(load.Len))
	require.Equal(t, byte(0xE9), site[0])
	tramp := rel32(site, 0, load.Start)
	assert.Equal(t, r.e.trampolineRegion.Start, tramp)
	assert.Equal(t, uint64(tramp), ctx.Get(RegPC))

	stub := r.e.CodeSpace().Slice(tramp, tramp+uintptr(r.e.trampolines.used()))
	lea := encode(func(c *x64.Emitter) { c.LEA(32, x64.RSCRATCHExtra, x64.MDisp(load.AddrReg, 8)) })
	assert.True(t, bytes.Contains(stub, lea), "% x", stub)
	if load.ValueReg != x64.RSCRATCH {
		mov := encode(func(c *x64.Emitter) { c.MOV(32, x64.R(load.ValueReg), x64.R(x64.RSCRATCH)) })
		assert.True(t, bytes.Contains(stub, mov), "% x", stub)
	}
	tail := len(stub) - 5
	require.Equal(t, byte(0xE9), stub[tail])
	assert.Equal(t, load.Start+uintptr(load.Len), rel32(stub, tail, tramp))
}
