package jit

import (
	"fmt"

	"github.com/colorfulnotion/gekko/jit/x64"
	"github.com/colorfulnotion/gekko/jiterrors"
	"github.com/colorfulnotion/gekko/ppc"
)

// trampolineCache hands out slow-path stubs for patched fastmem sites. Stubs
// are never freed individually; the region is reset with the code cache.
type trampolineCache struct {
	e    *Engine
	emit *x64.Emitter
}

func newTrampolineCache(e *Engine) *trampolineCache {
	return &trampolineCache{e: e, emit: x64.NewEmitter(e.space, e.trampolineRegion)}
}

func (t *trampolineCache) clear() {
	r := t.e.trampolineRegion
	t.emit.SetCodePtr(r.Start, r.End)
}

// almostFull reports whether the next compile should clear the cache before
// a burst of faults runs the region dry.
func (t *trampolineCache) almostFull() bool {
	return t.emit.Remaining() < min(0x10000, t.e.trampolineRegion.Size()/2)
}

func (t *trampolineCache) used() int {
	return int(t.emit.GetCodePtr() - t.e.trampolineRegion.Start)
}

// generate emits the slow-path version of the access described by info.
// It returns to the instruction after the patched site.
func (t *trampolineCache) generate(info *BackpatchInfo) (uintptr, error) {
	c := t.emit
	e := t.e
	start := c.GetCodePtr()

	c.MOV(32, x64.PPCState(ppc.OffPC), x64.Imm32(info.PC))
	regs := info.RegistersInUse
	if !info.Store {
		regs = regs.Without(info.ValueReg)
	}
	c.ABIPushRegistersAndAdjustStack(regs, 0)
	if info.Store {
		c.MOV(32, x64.R(x64.RSCRATCH2), x64.R(info.ValueReg))
	}
	c.LEA(32, x64.RSCRATCHExtra, x64.MDisp(info.AddrReg, info.Offset))
	if info.Store {
		e.callHelperOn(c, HelperWriteMemory, x64.R(x64.RSCRATCHExtra), x64.Imm32(uint32(info.AccessSize)), x64.R(x64.RSCRATCH2))
	} else {
		signExtend := uint32(0)
		if info.SignExtend {
			signExtend = 1
		}
		e.callHelperOn(c, HelperReadMemory, x64.R(x64.RSCRATCHExtra), x64.Imm32(uint32(info.AccessSize)), x64.Imm32(signExtend))
	}
	c.ABIPopRegistersAndAdjustStack(regs, 0)
	if !info.Store && info.ValueReg != x64.RSCRATCH {
		c.MOV(32, x64.R(info.ValueReg), x64.R(x64.RSCRATCH))
	}
	if handler, ok := e.exceptionHandlers[info.Start]; ok {
		c.TEST(32, x64.PPCState(ppc.OffExceptions), x64.Imm32(ppc.ExceptionDSI))
		c.J_CC(x64.CC_NZ, handler, true)
	}
	c.JMP(info.Start+uintptr(info.Len), true)

	if c.HasWriteFailed() {
		c.SetCodePtr(start, e.trampolineRegion.End)
		return 0, fmt.Errorf("trampoline for %08x: %w", info.PC, jiterrors.ErrTrampolineFull)
	}
	return start, nil
}
