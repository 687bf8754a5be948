package jit

import (
	"fmt"

	"github.com/colorfulnotion/gekko/jit/blockcache"
	"github.com/colorfulnotion/gekko/jit/regcache"
	"github.com/colorfulnotion/gekko/jit/x64"
	"github.com/colorfulnotion/gekko/log"
	"github.com/colorfulnotion/gekko/memmap"
	"github.com/colorfulnotion/gekko/ppc"
	"github.com/colorfulnotion/gekko/ppc/analyst"
	"github.com/colorfulnotion/gekko/storage"
)

// jitState is reset for every block.
type jitState struct {
	block      *blockcache.Block
	blockStart uint32
	compilerPC uint32
	op         *analyst.CodeOp

	instructionNumber int
	isLastInstruction bool
	downcountAmount   uint32

	firstFPInstructionFound bool
	fifoBytesSinceCheck     int
	mustCheckFifo           bool
	noLinking               bool

	// fastmemSite is the start of the fastmem access emitted by the current
	// instruction, zero when it used the slow path.
	fastmemSite uintptr

	constantGqrValid ppc.BitSet8
	constantGqr      [8]uint32

	err error
}

// doJit emits the block at addr into the free spans picked for the near and
// far emitters. It returns false when either ran out of space.
func (e *Engine) doJit(addr uint32, b *blockcache.Block, nextPC uint32) bool {
	c := e.emit
	e.js = jitState{block: b, blockStart: addr, noLinking: !e.jo.enableBlockLink}

	c.AlignCode4()
	b.NormalEntry = c.GetCodePtr()

	if e.jo.profileBlocks {
		e.callHelper(HelperProfileStart, x64.Imm32(addr))
	}
	e.gpr.Start()

	if e.codeBlock.GqrUsed != 0 && !e.hints.Contains(storage.PairedQuantize, addr) {
		e.emitGQRGuards()
	}
	if !e.hints.Contains(storage.SpeculativeConstants, addr) {
		e.emitSpeculativeConstants()
	}

	ops := e.codeBuffer[:e.codeBlock.NumInstructions]
	compiled := len(ops)
	ended := false
	for i := range ops {
		op := &ops[i]
		e.js.op = op
		e.js.compilerPC = op.Address
		e.js.instructionNumber = i
		e.js.isLastInstruction = i == len(ops)-1
		e.js.downcountAmount += uint32(op.Info.Cycles)

		gatherPipeIntCheck := e.hints.Contains(storage.FIFOWrite, op.Address)
		if e.jo.optimizeGatherPipe && (e.js.fifoBytesSinceCheck >= ppc.GatherPipeSize || e.js.mustCheckFifo) {
			e.js.fifoBytesSinceCheck = 0
			e.js.mustCheckFifo = false
			regs := e.gpr.RegistersInUse() & x64.CallerSaved
			c.ABIPushRegistersAndAdjustStack(regs, 0)
			e.callHelper(HelperFastCheckGatherPipe)
			c.ABIPopRegistersAndAdjustStack(regs, 0)
			gatherPipeIntCheck = true
		}
		if gatherPipeIntCheck {
			e.emitExternalInterruptCheck(op.Address)
		}

		if idx, hook, ok := e.hle.Lookup(op.Address); ok {
			e.gpr.FlushAll()
			c.MOV(32, x64.PPCState(ppc.OffPC), x64.Imm32(op.Address))
			c.MOV(32, x64.PPCState(ppc.OffNPC), x64.Imm32(op.Address+4))
			e.callHelper(HelperHLE, x64.Imm32(op.Address), x64.Imm32(uint32(idx)))
			if hook.Kind == HookReplace {
				c.MOV(32, x64.R(x64.RSCRATCH), x64.PPCState(ppc.OffNPC))
				e.WriteExitDestInRSCRATCH(false, 0)
				compiled = i + 1
				ended = true
				break
			}
		}

		if op.Skip {
			if op.Info.ID == ppc.OpB && op.Inst.LK() {
				c.MOV(32, x64.PPCState(ppc.SPROffset(ppc.SprLR)), x64.Imm32(op.Address+4))
				e.FakeBLCall(op.Address + 4)
			}
			continue
		}

		if op.Info.Has(ppc.FlUseFPU) && !e.js.firstFPInstructionFound {
			e.emitFPUGuard(op.Address)
			e.js.firstFPInstructionFound = true
		}

		if e.cfg.EnableDebugging && e.st.CPUState() != ppc.CPUStepping && e.breakpoints.IsBreakPoint(op.Address) {
			e.emitBreakPointCheck(op.Address)
			e.js.noLinking = true
		}

		if e.cfg.RegisterCacheOff {
			e.gpr.FlushAll()
		} else {
			e.gpr.Preload(op.RegsIn & op.GprInUse &^ op.GprDiscardable)
		}

		memcheck := e.jo.memcheck && op.Info.Has(ppc.FlLoadStore)
		if memcheck {
			e.gpr.SetRevertable()
		}
		e.js.fastmemSite = 0
		e.compileInstruction(op)
		if memcheck {
			e.emitMemcheck(op)
		}

		e.gpr.Commit()
		e.gpr.Discard(op.GprDiscardable)
		e.gpr.Flush(^op.GprInUse & (op.RegsIn | op.RegsOut))
		if e.cfg.RegisterCacheOff {
			e.gpr.FlushAll()
		}
		if e.js.err != nil {
			break
		}
	}

	if !ended && e.codeBlock.Broken && e.js.err == nil {
		e.gpr.FlushAll()
		e.WriteExit(nextPC, false, 0)
	}
	if e.inFar {
		e.switchToNearCode()
	}

	if e.js.err != nil {
		log.Error(log.JitModule, "compile failed", "addr", fmt.Sprintf("%08x", addr), "err", e.js.err)
		return false
	}
	if c.HasWriteFailed() || e.parked.HasWriteFailed() {
		log.Warn(log.JitModule, "code region full", "addr", fmt.Sprintf("%08x", addr),
			"near_failed", c.HasWriteFailed(), "far_failed", e.parked.HasWriteFailed())
		return false
	}
	if e.js.noLinking {
		b.Links = nil
	}
	b.CodeSize = int(c.GetCodePtr() - b.NormalEntry)
	b.OriginalSize = compiled
	return true
}

// failureStub emits far code that records kind for the block and returns to
// the dispatcher, which recompiles without the failed assumption.
func (e *Engine) failureStub(kind storage.HintKind) uintptr {
	e.switchToFarCode()
	c := e.emit
	target := c.GetCodePtr()
	c.MOV(32, x64.PPCState(ppc.OffPC), x64.Imm32(e.js.blockStart))
	e.callHelper(HelperCompileExceptionCheck, x64.Imm32(uint32(kind)))
	c.JMP(e.routines.DispatcherNoCheck, true)
	e.switchToNearCode()
	return target
}

// emitGQRGuards assumes every GQR the block reads but never writes keeps
// its compile-time value.
func (e *Engine) emitGQRGuards() {
	static := e.codeBlock.GqrUsed &^ e.codeBlock.GqrModified
	if static == 0 {
		return
	}
	fail := e.failureStub(storage.PairedQuantize)
	c := e.emit
	for _, i := range static.Indices() {
		v := e.st.GQR(i)
		c.CMP(32, x64.PPCState(ppc.GQROffset(i)), x64.Imm32(v))
		c.J_CC(x64.CC_NZ, fail, true)
		e.js.constantGqrValid = e.js.constantGqrValid.With(i)
		e.js.constantGqr[i] = v
	}
}

func speculativeConstant(v uint32) bool {
	return memmap.IsOptimizableGatherPipeWrite(v) || memmap.IsOptimizableGatherPipeWrite(v-0x8000) || v == 0xCC000000
}

// emitSpeculativeConstants treats block inputs that currently point at the
// gather pipe as constants, so stores through them become direct pipe
// writes.
func (e *Engine) emitSpeculativeConstants() {
	var target uintptr
	c := e.emit
	for _, i := range e.codeBlock.GprInputs.Indices() {
		v := e.st.GPR(i)
		if !speculativeConstant(v) {
			continue
		}
		if target == 0 {
			target = e.failureStub(storage.SpeculativeConstants)
		}
		c.CMP(32, x64.PPCState(ppc.GPROffset(i)), x64.Imm32(v))
		c.J_CC(x64.CC_NZ, target, true)
		e.gpr.AssumeImmediate32(i, v)
	}
}

// emitExternalInterruptCheck leaves the block before pc when a gather pipe
// write raised an enabled command processor interrupt.
func (e *Engine) emitExternalInterruptCheck(pc uint32) {
	c := e.emit
	c.TEST(32, x64.PPCState(ppc.OffExceptions), x64.Imm32(ppc.ExceptionExternalInt))
	ext := c.JCC(x64.CC_NZ, false)
	e.switchToFarCode()
	c.SetJumpTarget(ext)
	c.TEST(32, x64.PPCState(ppc.OffMSR), x64.Imm32(ppc.MSREE))
	noExtIntEnable := c.JCC(x64.CC_Z, false)
	c.TEST(32, x64.PPCState(ppc.OffInterruptCause), x64.Imm32(ppc.IntCauseGPMask))
	noCPInt := c.JCC(x64.CC_Z, false)
	g := e.gpr.Fork()
	e.gpr.FlushAll()
	c.MOV(32, x64.PPCState(ppc.OffPC), x64.Imm32(pc))
	e.WriteExternalExceptionExit()
	g.Release()
	e.switchToNearCode()
	c.SetJumpTarget(noExtIntEnable)
	c.SetJumpTarget(noCPInt)
}

// emitFPUGuard raises FPU unavailable before the first floating point
// instruction of the block when MSR.FP is clear.
func (e *Engine) emitFPUGuard(pc uint32) {
	c := e.emit
	c.TEST(32, x64.PPCState(ppc.OffMSR), x64.Imm32(ppc.MSRFP))
	disabled := c.JCC(x64.CC_Z, false)
	e.switchToFarCode()
	c.SetJumpTarget(disabled)
	g := e.gpr.Fork()
	e.gpr.FlushAll()
	c.MOV(32, x64.PPCState(ppc.OffPC), x64.Imm32(pc))
	c.OR(32, x64.PPCState(ppc.OffExceptions), x64.Imm32(ppc.ExceptionFPUUnavailable))
	e.WriteExceptionExit()
	g.Release()
	e.switchToNearCode()
}

func (e *Engine) emitBreakPointCheck(pc uint32) {
	c := e.emit
	e.gpr.FlushAll()
	c.MOV(32, x64.PPCState(ppc.OffPC), x64.Imm32(pc))
	e.callHelper(HelperCheckBreakPoints)
	c.TEST(32, x64.PPCState(ppc.OffCPUState), x64.Imm32(0xFFFFFFFF))
	noBreakpoint := c.JCC(x64.CC_Z, false)
	e.WriteExit(pc, false, 0)
	c.SetJumpTarget(noBreakpoint)
}

// emitMemcheck routes a DSI raised by the current access to an exception
// exit that drops the instruction's register writes. Fastmem sites get the
// check in their trampoline instead.
func (e *Engine) emitMemcheck(op *analyst.CodeOp) {
	c := e.emit
	var memException x64.FixupBranch
	if e.js.fastmemSite == 0 {
		c.TEST(32, x64.PPCState(ppc.OffExceptions), x64.Imm32(ppc.ExceptionDSI))
		memException = c.JCC(x64.CC_NZ, false)
	}
	e.switchToFarCode()
	if e.js.fastmemSite == 0 {
		c.SetJumpTarget(memException)
	} else {
		e.exceptionHandlers[e.js.fastmemSite] = c.GetCodePtr()
	}
	g := e.gpr.Fork()
	e.gpr.Revert()
	e.gpr.FlushAll()
	c.MOV(32, x64.PPCState(ppc.OffPC), x64.Imm32(op.Address))
	e.WriteExceptionExit()
	g.Release()
	e.switchToNearCode()
}

// compileInstruction emits native code for op, or a call into the
// interpreter for anything without a native implementation.
func (e *Engine) compileInstruction(op *analyst.CodeOp) {
	var ok bool
	switch op.Info.Type {
	case ppc.OpTypeInteger:
		ok = e.compileInteger(op)
	case ppc.OpTypeLoad, ppc.OpTypeStore:
		ok = e.compileLoadStore(op)
	case ppc.OpTypeLoadPS, ppc.OpTypeStorePS:
		ok = e.compilePairedLoadStore(op)
	case ppc.OpTypeBranch:
		ok = e.compileBranch(op)
	case ppc.OpTypeSystem, ppc.OpTypeSPR:
		ok = e.compileSystem(op)
	}
	if !ok {
		e.fallBackToInterpreter(op)
	}
}

func (e *Engine) fallBackToInterpreter(op *analyst.CodeOp) {
	c := e.emit
	e.stats.Fallbacks++
	e.gpr.FlushAll()
	c.MOV(32, x64.PPCState(ppc.OffPC), x64.Imm32(op.Address))
	if op.CanEndBlock {
		c.MOV(32, x64.PPCState(ppc.OffNPC), x64.Imm32(op.Address+4))
	}
	e.callHelper(HelperInterpret, x64.Imm32(uint32(op.Inst)))

	if op.Info.Has(ppc.FlProgramException) {
		c.TEST(32, x64.PPCState(ppc.OffExceptions), x64.Imm32(ppc.ExceptionProgram))
		noProgram := c.JCC(x64.CC_Z, false)
		e.WriteExceptionExit()
		c.SetJumpTarget(noProgram)
	}
	if !op.CanEndBlock {
		return
	}
	if e.js.isLastInstruction {
		c.MOV(32, x64.R(x64.RSCRATCH), x64.PPCState(ppc.OffNPC))
		c.MOV(32, x64.PPCState(ppc.OffPC), x64.R(x64.RSCRATCH))
		e.WriteExceptionExit()
		return
	}
	c.CMP(32, x64.PPCState(ppc.OffNPC), x64.Imm32(op.Address+4))
	fallThrough := c.JCC(x64.CC_Z, false)
	c.MOV(32, x64.R(x64.RSCRATCH), x64.PPCState(ppc.OffNPC))
	c.MOV(32, x64.PPCState(ppc.OffPC), x64.R(x64.RSCRATCH))
	e.WriteExceptionExit()
	c.SetJumpTarget(fallThrough)
}

// bind places reg in a host register. An exhausted cache aborts the block;
// the retry starts from a cleared cache.
func (e *Engine) bind(reg int, mode regcache.Mode) x64.X86Reg {
	r, err := e.gpr.Bind(reg, mode)
	if err != nil {
		if e.js.err == nil {
			e.js.err = err
		}
		return x64.RSCRATCH
	}
	return r
}
