package jit

import (
	"github.com/colorfulnotion/gekko/jit/blockcache"
	"github.com/colorfulnotion/gekko/jit/x64"
	"github.com/colorfulnotion/gekko/ppc"
)

// Every exit leaves the guest registers flushed, stores the next PC and
// charges the block's cycles to the downcount before jumping to the
// dispatcher or, once linked, straight into the next block.

// Cleanup emits the work every exit owes before leaving the block. It
// reports whether it emitted anything that clobbers RSCRATCH.
func (e *Engine) Cleanup() bool {
	c := e.emit
	did := false
	if e.jo.optimizeGatherPipe && e.js.fifoBytesSinceCheck > 0 {
		c.MOV(64, x64.R(x64.RSCRATCH), x64.PPCState(ppc.OffGatherPipePtr))
		c.SUB(64, x64.R(x64.RSCRATCH), x64.PPCState(ppc.OffGatherPipeBase))
		c.CMP(64, x64.R(x64.RSCRATCH), x64.Imm32(ppc.GatherPipeSize))
		skip := c.JCC(x64.CC_L, true)
		e.callHelper(HelperUpdateGatherPipe)
		c.SetJumpTarget(skip)
		did = true
	}
	if e.jo.profileBlocks {
		e.callHelper(HelperProfileEnd, x64.Imm32(e.js.blockStart), x64.Imm32(e.js.downcountAmount))
		did = true
	}
	return did
}

func (e *Engine) subDowncount() {
	e.emit.SUB(32, x64.PPCState(ppc.OffDowncount), x64.Imm32(e.js.downcountAmount))
}

// WriteExit leaves the block for a constant destination. With bl the exit
// is a call whose return lands on after, keeping the guest return address
// on the host stack for WriteBLRExit to check.
func (e *Engine) WriteExit(dest uint32, bl bool, after uint32) {
	if !e.blrEnabled {
		bl = false
	}
	e.Cleanup()
	c := e.emit
	if bl {
		c.MOV(32, x64.R(x64.RSCRATCH2), x64.Imm32(after))
		c.PUSH(x64.RSCRATCH2)
	}
	e.subDowncount()
	e.JustWriteExit(dest, bl, after)
}

// JustWriteExit emits the linkable part of an exit. The flags of the
// downcount subtraction must still be live.
func (e *Engine) JustWriteExit(dest uint32, bl bool, after uint32) {
	c := e.emit
	c.MOV(32, x64.PPCState(ppc.OffPC), x64.Imm32(dest))
	link := blockcache.LinkData{ExitAddress: dest, Call: bl}
	if bl {
		doTiming := c.JCC(x64.CC_LE, false)
		e.switchToFarCode()
		c.SetJumpTarget(doTiming)
		c.CALL(e.routines.DoTiming)
		back := c.J(false)
		e.switchToNearCode()

		link.ExitPtr = c.GetCodePtr()
		c.CALL(e.routines.DispatcherNoTimingCheck)
		e.addLink(link)

		c.SetJumpTarget(back)
		c.POP(x64.RSCRATCH)
		e.JustWriteExit(after, false, 0)
		return
	}
	c.J_CC(x64.CC_LE, e.routines.DoTiming, true)
	link.ExitPtr = c.GetCodePtr()
	c.JMP(e.routines.DispatcherNoTimingCheck, true)
	e.addLink(link)
}

func (e *Engine) addLink(l blockcache.LinkData) {
	if e.js.noLinking || e.js.block == nil {
		return
	}
	e.js.block.Links = append(e.js.block.Links, l)
}

// WriteExitDestInRSCRATCH leaves the block for the guest address in EAX.
func (e *Engine) WriteExitDestInRSCRATCH(bl bool, after uint32) {
	if !e.blrEnabled {
		bl = false
	}
	c := e.emit
	c.MOV(32, x64.PPCState(ppc.OffPC), x64.R(x64.RSCRATCH))
	e.Cleanup()
	if bl {
		c.MOV(32, x64.R(x64.RSCRATCH2), x64.Imm32(after))
		c.PUSH(x64.RSCRATCH2)
	}
	e.subDowncount()
	if bl {
		c.CALL(e.routines.Dispatcher)
		c.POP(x64.RSCRATCH)
		e.JustWriteExit(after, false, 0)
		return
	}
	c.JMP(e.routines.Dispatcher, true)
}

// WriteBLRExit returns to the guest address in EAX. When the return address
// pushed by the matching call agrees, the host RET resumes the caller's
// code directly; otherwise the dispatcher takes over with the stack reset.
func (e *Engine) WriteBLRExit() {
	if !e.blrEnabled {
		e.WriteExitDestInRSCRATCH(false, 0)
		return
	}
	c := e.emit
	c.MOV(32, x64.PPCState(ppc.OffPC), x64.R(x64.RSCRATCH))
	if e.Cleanup() {
		c.MOV(32, x64.R(x64.RSCRATCH), x64.PPCState(ppc.OffPC))
	}
	c.MOV(32, x64.R(x64.RSCRATCH2), x64.Imm32(e.js.downcountAmount))
	c.CMP(64, x64.R(x64.RSCRATCH), x64.MDisp(x64.RSP, 8))
	c.J_CC(x64.CC_NE, e.routines.DispatcherMispredictedBLR, true)
	c.SUB(32, x64.PPCState(ppc.OffDowncount), x64.R(x64.RSCRATCH2))
	c.RET()
}

// WriteRfiExitDestInRSCRATCH leaves through an exception check, since the
// restored MSR may unmask a pending interrupt.
func (e *Engine) WriteRfiExitDestInRSCRATCH() {
	c := e.emit
	c.MOV(32, x64.PPCState(ppc.OffPC), x64.R(x64.RSCRATCH))
	c.MOV(32, x64.PPCState(ppc.OffNPC), x64.R(x64.RSCRATCH))
	e.Cleanup()
	e.callHelper(HelperCheckExceptions)
	e.subDowncount()
	c.JMP(e.routines.Dispatcher, true)
}

// WriteIdleExit skips guest time to the next event and leaves for dest.
func (e *Engine) WriteIdleExit(dest uint32) {
	e.callHelper(HelperIdle)
	e.emit.MOV(32, x64.PPCState(ppc.OffPC), x64.Imm32(dest))
	e.WriteExceptionExit()
}

// WriteExceptionExit delivers pending exceptions for the instruction at PC.
func (e *Engine) WriteExceptionExit() { e.writeExceptionExit(HelperCheckExceptions) }

// WriteExternalExceptionExit delivers a pending external interrupt.
func (e *Engine) WriteExternalExceptionExit() { e.writeExceptionExit(HelperCheckExternalExceptions) }

func (e *Engine) writeExceptionExit(check Helper) {
	c := e.emit
	e.Cleanup()
	c.MOV(32, x64.R(x64.RSCRATCH), x64.PPCState(ppc.OffPC))
	c.MOV(32, x64.PPCState(ppc.OffNPC), x64.R(x64.RSCRATCH))
	e.callHelper(check)
	e.subDowncount()
	c.JMP(e.routines.Dispatcher, true)
}

// FakeBLCall stands in for a bl whose target was compiled inline: it pushes
// the return address and a host return point so that the callee's blr can
// return here with a plain RET.
func (e *Engine) FakeBLCall(after uint32) {
	if !e.blrEnabled {
		return
	}
	c := e.emit
	c.MOV(32, x64.R(x64.RSCRATCH2), x64.Imm32(after))
	c.PUSH(x64.RSCRATCH2)
	skipExit := c.CALLForward()
	c.POP(x64.RSCRATCH2)
	e.JustWriteExit(after, false, 0)
	c.SetJumpTarget(skipExit)
}
