// Package jit compiles guest PowerPC blocks into x86-64 code. It owns the
// code space, the block cache and linker, the fault recovery that rewrites
// fastmem accesses into slow-path calls, and the host stack used to cache
// guest return addresses.
package jit

import (
	"context"
	"fmt"
	"time"

	"github.com/colorfulnotion/gekko/config"
	"github.com/colorfulnotion/gekko/jit/blockcache"
	"github.com/colorfulnotion/gekko/jit/codecache"
	"github.com/colorfulnotion/gekko/jit/regcache"
	"github.com/colorfulnotion/gekko/jit/x64"
	"github.com/colorfulnotion/gekko/jiterrors"
	"github.com/colorfulnotion/gekko/log"
	"github.com/colorfulnotion/gekko/ppc"
	"github.com/colorfulnotion/gekko/ppc/analyst"
	"github.com/colorfulnotion/gekko/ppc/interpreter"
	"github.com/colorfulnotion/gekko/storage"
	"github.com/colorfulnotion/gekko/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Memory is the guest memory seen by the compiler and its helpers.
type Memory interface {
	interpreter.Bus
	TranslateData(ea uint32) (uint32, bool)
	TranslateFetch(ea uint32) (uint32, bool)
	FastmemEnabled() bool
	PhysicalBase() uintptr
	LogicalBase() uintptr
	// WindowOffset maps a host address inside either fastmem window to the
	// guest address it stands for.
	WindowOffset(addr uintptr) (uint64, bool)
}

// Timing advances guest time between blocks.
type Timing interface {
	// Advance runs due events, refills the downcount and may stop the CPU.
	Advance(st *ppc.State)
	// Idle skips ahead to the next event.
	Idle(st *ppc.State)
}

// GatherPipe drains the write-gather buffer in the state page.
type GatherPipe interface {
	// Update flushes whole bursts.
	Update()
	// Check flushes when a full burst is buffered.
	Check()
}

// HintStore remembers per-address facts that disable an optimization.
type HintStore interface {
	Add(kind storage.HintKind, addr uint32) (bool, error)
	Contains(kind storage.HintKind, addr uint32) bool
	Remove(kind storage.HintKind, addr uint32) error
}

// Deps are the collaborators an Engine runs against.
type Deps struct {
	State       *ppc.State
	Memory      Memory
	Timing      Timing
	GatherPipe  GatherPipe
	Hints       HintStore
	BreakPoints *BreakPoints
	HLE         *HookTable
}

// Stats counts engine events for reports.
type Stats struct {
	Compiles     uint64
	Retries      uint64
	CacheClears  uint64
	Backpatches  uint64
	StackFaults  uint64
	Fallbacks    uint64
	HelperCalls  [NumHelpers]uint64
	CompileTime  time.Duration
	LargestBlock int
}

type jitOptions struct {
	enableBlockLink    bool
	optimizeGatherPipe bool
	profileBlocks      bool
	memcheck           bool
	fastmem            bool
}

// Engine is not safe for concurrent use; everything except fault handling
// runs on the CPU thread.
type Engine struct {
	cfg config.JitConfig

	st          *ppc.State
	mem         Memory
	timing      Timing
	gatherPipe  GatherPipe
	hints       HintStore
	breakpoints *BreakPoints
	hle         *HookTable
	interp      *interpreter.Interpreter

	space            *x64.CodeSpace
	routineRegion    x64.Region
	helperRegion     x64.Region
	trampolineRegion x64.Region
	nearRegion       x64.Region
	farRegion        x64.Region

	// emit is the active cursor; parked holds the other one while it is
	// not in use.
	emit   *x64.Emitter
	parked x64.Emitter
	inFar  bool

	alloc       *codecache.Allocator
	blocks      *blockcache.BlockCache
	trampolines *trampolineCache
	gpr         *regcache.RegCache
	analyzer    *analyst.Analyzer
	codeBlock   analyst.CodeBlock
	codeBuffer  []analyst.CodeOp

	backpatchInfo     map[uintptr]*BackpatchInfo
	exceptionHandlers map[uintptr]uintptr

	routines Routines
	stack    *blrStack

	blrEnabled             bool
	cleanupAfterStackFault bool
	cpuTID                 int

	js jitState
	jo jitOptions

	fatal  func(msg string, ctx ...interface{})
	tracer trace.Tracer
	stats  Stats
}

// New maps the code space, generates the shared routines and returns an
// engine with an empty cache.
func New(cfg *config.Config, d Deps) (*Engine, error) {
	space, err := x64.NewCodeSpace(codeSpaceSize(cfg.Jit))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", jiterrors.ErrCodeSpaceAlloc, err)
	}
	e, err := NewWithCodeSpace(cfg, d, space)
	if err != nil {
		space.Release()
		return nil, err
	}
	return e, nil
}

// NewWithCodeSpace builds an engine on a caller-provided code space of at
// least CodeSpaceSize bytes. Executors that run generated code somewhere
// other than the host address space pass a plain buffer here.
func NewWithCodeSpace(cfg *config.Config, d Deps, space *x64.CodeSpace) (*Engine, error) {
	if d.State == nil || d.Memory == nil {
		return nil, fmt.Errorf("jit: state and memory are required")
	}
	e := &Engine{
		cfg:               cfg.Jit,
		st:                d.State,
		mem:               d.Memory,
		timing:            d.Timing,
		gatherPipe:        d.GatherPipe,
		hints:             d.Hints,
		breakpoints:       d.BreakPoints,
		hle:               d.HLE,
		analyzer:          analyst.New(),
		backpatchInfo:     make(map[uintptr]*BackpatchInfo),
		exceptionHandlers: make(map[uintptr]uintptr),
		fatal:             func(msg string, ctx ...interface{}) { log.Crit(log.JitModule, msg, ctx...) },
		tracer:            telemetry.Tracer(),
	}
	if e.breakpoints == nil {
		e.breakpoints = NewBreakPoints()
	}
	if e.hle == nil {
		e.hle = NewHookTable()
	}
	if e.timing == nil {
		e.timing = NewSliceTimer(context.Background(), DefaultSlice, 0)
	}
	if e.gatherPipe == nil {
		e.gatherPipe = discardPipe{st: e.st}
	}
	if e.hints == nil {
		hints, err := storage.OpenProfileStore("", "scratch")
		if err != nil {
			return nil, err
		}
		e.hints = hints
	}
	e.interp = interpreter.New(e.st, e.mem)
	e.interp.InvalidateICache = func(addr, size uint32) { e.InvalidateICache(addr, size, false) }
	e.interp.HLE = e.interpretHLE
	if space.Size() < codeSpaceSize(e.cfg) {
		return nil, fmt.Errorf("%w: code space is %d bytes, need %d", jiterrors.ErrCodeSpaceAlloc, space.Size(), codeSpaceSize(e.cfg))
	}
	if err := e.init(space); err != nil {
		return nil, err
	}
	return e, nil
}

// CodeSpaceSize is the number of bytes the regions of cfg need.
func CodeSpaceSize(cfg *config.Config) int { return codeSpaceSize(cfg.Jit) }

func codeSpaceSize(jc config.JitConfig) int {
	return int(jc.RoutinesSize) + int(NumHelpers)*helperSlotSize + int(jc.TrampolineSize) + int(jc.CodeSize) + int(jc.FarCodeSize)
}

func (e *Engine) init(space *x64.CodeSpace) error {
	jc := e.cfg
	e.space = space
	regions, err := space.Carve(int(jc.RoutinesSize), int(NumHelpers)*helperSlotSize, int(jc.TrampolineSize), int(jc.CodeSize), int(jc.FarCodeSize))
	if err != nil {
		return err
	}
	e.routineRegion, e.helperRegion, e.trampolineRegion, e.nearRegion, e.farRegion = regions[0], regions[1], regions[2], regions[3], regions[4]
	e.alloc = codecache.NewAllocator(
		codecache.Range{Start: e.nearRegion.Start, End: e.nearRegion.End},
		codecache.Range{Start: e.farRegion.Start, End: e.farRegion.End},
	)
	e.blocks = blockcache.New(e)
	e.trampolines = newTrampolineCache(e)
	e.emit = x64.NewEmitter(space, e.nearRegion)
	e.parked = *x64.NewEmitter(space, e.farRegion)

	e.gpr = regcache.New(e.emit, regcache.AllocationOrder)

	max := jc.MaxBlockInstructions
	if max <= 0 {
		max = 1000
	}
	e.codeBuffer = make([]analyst.CodeOp, max)

	e.blrEnabled = jc.BlockLinking && jc.Fastmem && !jc.EnableDebugging
	if e.blrEnabled {
		s, err := newBLRStack()
		if err != nil {
			log.Warn(log.JitModule, "no private stack, BLR optimization off", "err", err)
			e.blrEnabled = false
		} else {
			e.stack = s
			e.st.SetStackTop(uint64(s.top() - 0x20))
		}
	}

	e.updateOptions()
	e.emitHelperPage()
	e.generateRoutines()
	e.resetFreeMemoryRanges()
	e.syncMemBase()
	log.Info(log.JitModule, "jit ready",
		"code", e.nearRegion.Size(), "far", e.farRegion.Size(), "trampolines", e.trampolineRegion.Size(),
		"fastmem", e.jo.fastmem, "blr", e.blrEnabled, "linking", e.jo.enableBlockLink)
	return nil
}

func (e *Engine) updateOptions() {
	e.jo = jitOptions{
		enableBlockLink:    e.cfg.BlockLinking,
		optimizeGatherPipe: e.cfg.OptimizeGatherPipe,
		profileBlocks:      e.cfg.ProfileBlocks,
		memcheck:           e.cfg.Memcheck,
		fastmem:            e.cfg.Fastmem && e.mem.FastmemEnabled(),
	}
	e.analyzer.ClearOptions()
	e.analyzer.SetOption(analyst.OptionBranchFollow | analyst.OptionIdleDetection)
	if e.blrEnabled {
		e.analyzer.SetOption(analyst.OptionFollowCalls)
	}
}

// Shutdown releases the stack and the code space.
func (e *Engine) Shutdown() error {
	var firstErr error
	if e.stack != nil {
		if err := e.stack.release(); err != nil {
			firstErr = err
		}
	}
	if e.space != nil {
		if err := e.space.Release(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	e.blocks = nil
	return firstErr
}

// SetFatalHandler replaces the handler for unrecoverable conditions, which
// by default logs at critical level and exits.
func (e *Engine) SetFatalHandler(fn func(msg string, ctx ...interface{})) { e.fatal = fn }

func (e *Engine) State() *ppc.State                 { return e.st }
func (e *Engine) CodeSpace() *x64.CodeSpace         { return e.space }
func (e *Engine) BlockCache() *blockcache.BlockCache { return e.blocks }
func (e *Engine) Allocator() *codecache.Allocator   { return e.alloc }
func (e *Engine) BLREnabled() bool                  { return e.blrEnabled }
func (e *Engine) Stats() Stats                      { return e.stats }
func (e *Engine) BreakPoints() *BreakPoints         { return e.breakpoints }
func (e *Engine) Hooks() *HookTable                 { return e.hle }
func (e *Engine) NearRegion() x64.Region            { return e.nearRegion }
func (e *Engine) FarRegion() x64.Region             { return e.farRegion }

func (e *Engine) msrBits() uint32 { return e.st.MSR() & (ppc.MSRIR | ppc.MSRDR) }

// Lookup returns the block compiled at addr under the current translation
// bits, or nil.
func (e *Engine) Lookup(addr uint32) *blockcache.Block {
	return e.blocks.GetBlockFromStartAddress(addr, e.msrBits())
}

// LinkTree renders the blocks reachable through linked exits from addr.
func (e *Engine) LinkTree(addr uint32) string {
	return e.blocks.LinkTree(addr, e.msrBits()).String()
}

func (e *Engine) resetFreeMemoryRanges() {
	e.alloc.Reset(codecache.Near)
	e.alloc.Reset(codecache.Far)
}

// ClearCache drops every block, trampoline and fault record and makes the
// whole near and far regions free again.
func (e *Engine) ClearCache() {
	_, span := e.tracer.Start(context.Background(), telemetry.SpanClear)
	defer span.End()
	e.blocks.Clear()
	e.blocks.ClearRangesToFree()
	e.trampolines.clear()
	clear(e.backpatchInfo)
	clear(e.exceptionHandlers)
	e.updateOptions()
	e.resetFreeMemoryRanges()
	e.stats.CacheClears++
	log.Debug(log.CacheModule, "code cache cleared")
}

// Jit compiles the block at addr, clearing the cache and retrying once when
// the code regions are exhausted.
func (e *Engine) Jit(addr uint32) { e.jit(addr, true) }

func (e *Engine) jit(addr uint32, clearAndRetryOnFailure bool) {
	if e.cleanupAfterStackFault {
		e.ClearCache()
		e.cleanupAfterStackFault = false
	}
	if e.trampolines.almostFull() || e.cfg.NoBlockCache {
		if !e.cfg.NoBlockCache {
			log.Warn(log.JitModule, "flushing trampoline code cache, please report if this happens a lot")
		}
		e.ClearCache()
	}

	near, far := e.blocks.RangesToFree()
	for _, r := range near {
		if err := e.alloc.MarkFree(codecache.Near, r); err != nil {
			log.Error(log.CacheModule, "free near range", "range", r.String(), "err", err)
		}
	}
	for _, r := range far {
		if err := e.alloc.MarkFree(codecache.Far, r); err != nil {
			log.Error(log.CacheModule, "free far range", "range", r.String(), "err", err)
		}
	}
	e.blocks.ClearRangesToFree()

	e.updateOptions()
	blockSize := len(e.codeBuffer)
	if e.cfg.EnableDebugging {
		if !e.jo.profileBlocks && e.st.CPUState() == ppc.CPUStepping {
			blockSize = 1
			e.jo.enableBlockLink = false
			e.analyzer.ClearOption(analyst.OptionBranchFollow | analyst.OptionFollowCalls)
		}
	}

	nextPC := e.analyzer.Analyze(addr, &e.codeBlock, e.codeBuffer[:blockSize], e.mem)
	if e.codeBlock.MemoryException {
		e.st.SetNPC(nextPC)
		e.st.RaiseException(ppc.ExceptionISI)
		e.st.CheckExceptions()
		log.Warn(log.JitModule, "ISI exception", "addr", fmt.Sprintf("%08x", nextPC), "err", jiterrors.ErrMemoryTranslation)
		return
	}

	_, span := e.tracer.Start(context.Background(), telemetry.SpanCompile,
		trace.WithAttributes(attribute.String(telemetry.AttrGuestAddress, fmt.Sprintf("%08x", addr)),
			attribute.Bool(telemetry.AttrRetry, !clearAndRetryOnFailure)))
	defer span.End()

	if e.setEmitterStateToFreeCodeRegion() {
		nearStart := e.emit.GetCodePtr()
		farStart := e.parked.GetCodePtr()
		start := time.Now()

		b := e.blocks.AllocateBlock(addr, e.msrBits())
		if e.doJit(addr, b, nextPC) {
			nearEnd := e.emit.GetCodePtr()
			farEnd := e.parked.GetCodePtr()
			b.Near = codecache.Range{Start: nearStart, End: nearEnd}
			b.Far = codecache.Range{Start: farStart, End: farEnd}
			if !b.Near.Empty() {
				if err := e.alloc.Commit(codecache.Near, b.Near); err != nil {
					log.Error(log.CacheModule, "commit near", "err", err)
				}
			}
			if !b.Far.Empty() {
				if err := e.alloc.Commit(codecache.Far, b.Far); err != nil {
					log.Error(log.CacheModule, "commit far", "err", err)
				}
			}
			if len(e.codeBlock.PhysicalAddresses) > 0 {
				b.PhysicalAddress = e.codeBlock.PhysicalAddresses[0]
			}
			e.blocks.FinalizeBlock(b, e.jo.enableBlockLink && !e.js.noLinking, e.codeBlock.PhysicalAddresses)

			e.stats.Compiles++
			e.stats.CompileTime += time.Since(start)
			if b.OriginalSize > e.stats.LargestBlock {
				e.stats.LargestBlock = b.OriginalSize
			}
			span.SetAttributes(
				attribute.Int(telemetry.AttrInstructions, b.OriginalSize),
				attribute.Int(telemetry.AttrNearBytes, int(b.Near.Size())),
				attribute.Int(telemetry.AttrFarBytes, int(b.Far.Size())))
			log.Trace(log.JitModule, "compiled", "block", b.String())
			return
		}
		e.dropFaultRecords(nearStart, e.emit.GetCodePtr())
	}

	if clearAndRetryOnFailure {
		log.Warn(log.JitModule, "flushing code caches, please report if this happens a lot", "err", jiterrors.ErrOutOfSpace)
		e.stats.Retries++
		e.ClearCache()
		e.jit(addr, false)
		return
	}
	e.fatal("JIT failed to find code space after a cache clear. This should never happen.",
		"addr", fmt.Sprintf("%08x", addr), "err", jiterrors.ErrOutOfSpace)
}

// setEmitterStateToFreeCodeRegion points the near and far cursors at the
// largest free span of each region.
func (e *Engine) setEmitterStateToFreeCodeRegion() bool {
	if e.inFar {
		e.switchToNearCode()
	}
	near, err := e.alloc.AllocateSpan(codecache.Near, 1)
	if err != nil {
		log.Warn(log.JitModule, "Failed to find free memory region in near code region.")
		return false
	}
	e.emit.SetCodePtr(near.Start, near.End)
	far, err := e.alloc.AllocateSpan(codecache.Far, 1)
	if err != nil {
		log.Warn(log.JitModule, "Failed to find free memory region in far code region.")
		return false
	}
	e.parked.SetCodePtr(far.Start, far.End)
	return true
}

// dropFaultRecords forgets fastmem sites emitted by an abandoned compile.
func (e *Engine) dropFaultRecords(from, to uintptr) {
	for addr := range e.backpatchInfo {
		if addr >= from && addr < to {
			delete(e.backpatchInfo, addr)
			delete(e.exceptionHandlers, addr)
		}
	}
}

func (e *Engine) switchToFarCode() {
	*e.emit, e.parked = e.parked, *e.emit
	e.inFar = true
}

func (e *Engine) switchToNearCode() {
	*e.emit, e.parked = e.parked, *e.emit
	e.inFar = false
}

// Dispatch returns the host entry for the current PC, compiling it first
// when needed. Zero means no block could be produced and the dispatcher
// must look again (an exception may have moved PC).
func (e *Engine) Dispatch() uintptr {
	pc := e.st.PC()
	msr := e.msrBits()
	if b := e.blocks.GetBlockFromStartAddress(pc, msr); b != nil {
		return b.NormalEntry
	}
	e.Jit(pc)
	if b := e.blocks.GetBlockFromStartAddress(e.st.PC(), e.msrBits()); b != nil {
		return b.NormalEntry
	}
	return 0
}

// InvalidateICache destroys blocks compiled from [addr, addr+length) of
// effective address space. Unforced invalidations mean the guest changed its
// code, so the hints learned for those addresses no longer apply.
func (e *Engine) InvalidateICache(addr, length uint32, forced bool) {
	if length == 0xffffffff {
		e.blocks.InvalidateAll()
		return
	}
	phys, ok := e.mem.TranslateFetch(addr)
	if !ok {
		return
	}
	e.blocks.Invalidate(phys, length)
	if forced || length > 0x10000 {
		return
	}
	end := uint64(addr) + uint64(length)
	for a := uint64(addr &^ 3); a < end; a += 4 {
		e.removeHint(storage.FIFOWrite, uint32(a))
		e.removeHint(storage.PairedQuantize, uint32(a))
	}
}

// Invalidate destroys blocks compiled from the physical range
// [low, high). Blocks stay on the stack of a running dispatcher until the
// next compile returns their spans to the allocator.
func (e *Engine) Invalidate(low, high uint32, evenIfRunning bool) {
	if high <= low {
		return
	}
	n := e.blocks.Invalidate(low, high-low)
	log.Debug(log.CacheModule, "invalidate", "low", fmt.Sprintf("%08x", low), "high", fmt.Sprintf("%08x", high),
		"blocks", n, "even_if_running", evenIfRunning)
}

func (e *Engine) removeHint(kind storage.HintKind, addr uint32) {
	if !e.hints.Contains(kind, addr) {
		return
	}
	if err := e.hints.Remove(kind, addr); err != nil {
		log.Warn(log.ProfileModule, "drop hint", "kind", kind.String(), "addr", fmt.Sprintf("%08x", addr), "err", err)
	}
}

// CompileExceptionCheck records that the optimization guarded at the
// current PC failed and forces a recompile of the block containing it.
func (e *Engine) CompileExceptionCheck(kind storage.HintKind) {
	pc := e.st.PC()
	if kind == storage.FIFOWrite {
		inst, _, ok := e.mem.FetchInstruction(pc)
		if !ok {
			return
		}
		switch ppc.Lookup(inst).Type {
		case ppc.OpTypeStore, ppc.OpTypeStoreFP, ppc.OpTypeStorePS:
		default:
			return
		}
	}
	if e.hints.Contains(kind, pc) {
		return
	}
	if _, err := e.hints.Add(kind, pc); err != nil {
		log.Warn(log.ProfileModule, "persist hint", "kind", kind.String(), "err", err)
	}
	log.Debug(log.JitModule, "optimization guard failed", "kind", kind.String(), "pc", fmt.Sprintf("%08x", pc))
	e.InvalidateICache(pc, 4, true)
}

// discardPipe drops gather pipe bursts when no consumer is attached.
type discardPipe struct{ st *ppc.State }

func (p discardPipe) Update() {
	for p.st.GatherPipeCount() >= ppc.GatherPipeSize {
		p.st.ResetGatherPipe()
	}
}

func (p discardPipe) Check() { p.Update() }
