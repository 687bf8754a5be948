package jit

import (
	"context"
	"fmt"
	"math/bits"

	"github.com/colorfulnotion/gekko/jit/x64"
	"github.com/colorfulnotion/gekko/jiterrors"
	"github.com/colorfulnotion/gekko/log"
	"github.com/colorfulnotion/gekko/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// RegPC indexes the instruction pointer in a Context; 0-15 are the general
// purpose registers in encoding order.
const RegPC = 16

// Context is the register file of the thread that faulted. Changes are
// applied when it resumes.
type Context interface {
	Get(reg int) uint64
	Set(reg int, v uint64)
}

// RegisterContext is a plain Context.
type RegisterContext [17]uint64

func (r *RegisterContext) Get(reg int) uint64    { return r[reg] }
func (r *RegisterContext) Set(reg int, v uint64) { r[reg] = v }

// BackpatchInfo records a fastmem access so a fault inside it can be turned
// into a jump to a slow-path trampoline.
type BackpatchInfo struct {
	Start      uintptr
	Len        int
	PC         uint32
	AccessSize int
	SignExtend bool
	Store      bool

	ValueReg x64.X86Reg
	AddrReg  x64.X86Reg
	Offset   int32
	// OffsetAddedToAddress is set when the offset was folded into AddrReg
	// before the access; the register must be restored before the retry.
	OffsetAddedToAddress bool

	// SwapReg holds a byte swapped copy of the stored value.
	SwapReg x64.X86Reg
	HasSwap bool

	RegistersInUse x64.RegSet
}

// BackpatchSites is the number of fastmem sites that have not faulted yet.
func (e *Engine) BackpatchSites() int { return len(e.backpatchInfo) }

// HandleFault recovers from an access violation at accessAddr raised by
// generated code. It reports whether ctx was fixed up and may resume.
func (e *Engine) HandleFault(accessAddr uintptr, ctx Context) bool {
	if e.stack != nil && e.stack.mem != nil {
		if e.stack.inMiddleGuard(accessAddr) {
			return e.HandleStackFault()
		}
		if accessAddr >= e.stack.base && accessAddr < e.stack.base+GuardSize {
			log.Error(log.FaultModule, "stack overflow in generated code",
				"addr", fmt.Sprintf("%x", accessAddr), "err", jiterrors.ErrStackGuard)
			return false
		}
	}
	if _, ok := e.mem.WindowOffset(accessAddr); !ok {
		log.Debug(log.FaultModule, "not a guest access", "addr", fmt.Sprintf("%x", accessAddr), "err", jiterrors.ErrUnrelatedFault)
		return false
	}
	if err := e.backPatch(ctx); err != nil {
		log.Error(log.FaultModule, "backpatch failed", "err", err)
		return false
	}
	return true
}

func (e *Engine) backPatch(ctx Context) error {
	pc := uintptr(ctx.Get(RegPC))
	if !e.space.Contains(pc) {
		return fmt.Errorf("fault at %x outside the code space: %w", pc, jiterrors.ErrBackpatchInconsistency)
	}
	info, ok := e.backpatchInfo[pc]
	if !ok {
		return fmt.Errorf("no fastmem site at %x: %w", pc, jiterrors.ErrBackpatchInconsistency)
	}

	_, span := e.tracer.Start(context.Background(), telemetry.SpanBackpatch,
		trace.WithAttributes(attribute.String(telemetry.AttrGuestAddress, fmt.Sprintf("%08x", info.PC))))
	defer span.End()

	tramp, err := e.trampolines.generate(info)
	if err != nil {
		return err
	}
	em := x64.NewEmitter(e.space, x64.Region{Start: info.Start, End: info.Start + uintptr(info.Len)})
	em.JMP(tramp, true)
	for em.Remaining() > 0 {
		em.INT3()
	}

	if info.HasSwap {
		r := info.SwapReg.Index()
		v := ctx.Get(r)
		switch info.AccessSize {
		case 2:
			v = v&^0xFFFF | uint64(bits.ReverseBytes16(uint16(v)))
		case 4:
			v = uint64(bits.ReverseBytes32(uint32(v)))
		case 8:
			v = bits.ReverseBytes64(v)
		}
		ctx.Set(r, v)
	}
	if info.OffsetAddedToAddress {
		r := info.AddrReg.Index()
		ctx.Set(r, uint64(uint32(ctx.Get(r))-uint32(info.Offset)))
	}
	ctx.Set(RegPC, uint64(tramp))

	delete(e.backpatchInfo, pc)
	delete(e.exceptionHandlers, pc)
	e.stats.Backpatches++
	log.Debug(log.FaultModule, "backpatched", "pc", fmt.Sprintf("%08x", info.PC), "site", fmt.Sprintf("%x", info.Start))
	return nil
}
