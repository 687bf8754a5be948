package jit

import (
	"github.com/colorfulnotion/gekko/jit/x64"
	"github.com/colorfulnotion/gekko/ppc"
)

// Routines holds the entry points of the shared assembly routines.
type Routines struct {
	EnterCode                 uintptr
	Dispatcher                uintptr
	DispatcherNoTimingCheck   uintptr
	DispatcherNoCheck         uintptr
	DispatcherMispredictedBLR uintptr
	DoTiming                  uintptr
	// GatherPipeWrite8/16/32 append EAX to the gather pipe in guest byte order.
	GatherPipeWrite8  uintptr
	GatherPipeWrite16 uintptr
	GatherPipeWrite32 uintptr
}

// Routines returns the generated routine addresses.
func (e *Engine) Routines() Routines { return e.routines }

// EnterCode is the address an executor calls to run guest code. It returns
// once the CPU state leaves CPURunning.
func (e *Engine) EnterCode() uintptr { return e.routines.EnterCode }

func (e *Engine) resetStack(c *x64.Emitter) {
	if e.stack == nil {
		return
	}
	c.MOV(64, x64.R(x64.RSP), x64.PPCState(ppc.OffStackTop))
}

// generateRoutines writes the run loop: entry, the dispatcher and its
// alternate entries, the timing slow path and the exit.
func (e *Engine) generateRoutines() {
	c := x64.NewEmitter(e.space, e.routineRegion)
	r := &e.routines

	c.AlignCode16()
	r.EnterCode = c.GetCodePtr()
	c.ABIPushRegistersAndAdjustStack(x64.CalleeSaved, 8)
	// scratch slot for the unmatchable return address below
	c.SUB(64, x64.R(x64.RSP), x64.Imm8(16))
	c.MOV(64, x64.R(x64.RPPCState), x64.Imm64(e.st.Addr()))
	c.MOV(64, x64.PPCState(ppc.OffHostRSP), x64.R(x64.RSP))
	e.resetStack(c)
	// A return address nothing can match stops the BLR check from hitting
	// in the first block.
	c.MOV(64, x64.MDisp(x64.RSP, 8), x64.Imm32(0xFFFFFFFF))

	outerLoop := c.GetCodePtr()
	c.CALL(e.HelperAddress(HelperAdvance))
	c.TEST(32, x64.PPCState(ppc.OffCPUState), x64.Imm32(0xFFFFFFFF))
	exitFromAdvance := c.JCC(x64.CC_NZ, false)
	skipToDispatch := c.J(false)

	c.AlignCode16()
	r.DispatcherMispredictedBLR = c.GetCodePtr()
	c.AND(32, x64.PPCState(ppc.OffPC), x64.Imm32(0xFFFFFFFC))
	e.resetStack(c)
	c.SUB(32, x64.PPCState(ppc.OffDowncount), x64.R(x64.RSCRATCH2))

	r.Dispatcher = c.GetCodePtr()
	bail := c.JCC(x64.CC_LE, false)

	r.DispatcherNoTimingCheck = c.GetCodePtr()
	var exitFromDebug x64.FixupBranch
	if e.cfg.EnableDebugging {
		c.TEST(32, x64.PPCState(ppc.OffCPUState), x64.Imm32(0xFFFFFFFF))
		exitFromDebug = c.JCC(x64.CC_NZ, false)
	}
	c.SetJumpTarget(skipToDispatch)

	r.DispatcherNoCheck = c.GetCodePtr()
	c.CALL(e.HelperAddress(HelperDispatch))
	c.MOV(64, x64.R(x64.RMem), x64.PPCState(ppc.OffMemBase))
	c.TEST(64, x64.R(x64.RSCRATCH), x64.R(x64.RSCRATCH))
	c.J_CC(x64.CC_Z, r.DispatcherNoCheck, false)
	c.JMPptr(x64.R(x64.RSCRATCH))

	c.SetJumpTarget(bail)
	r.DoTiming = c.GetCodePtr()
	c.MOV(32, x64.R(x64.RSCRATCH), x64.PPCState(ppc.OffPC))
	c.MOV(32, x64.PPCState(ppc.OffNPC), x64.R(x64.RSCRATCH))
	c.JMP(outerLoop, true)

	c.SetJumpTarget(exitFromAdvance)
	if exitFromDebug.Valid() {
		c.SetJumpTarget(exitFromDebug)
	}
	c.MOV(64, x64.R(x64.RSP), x64.PPCState(ppc.OffHostRSP))
	c.ADD(64, x64.R(x64.RSP), x64.Imm8(16))
	c.ABIPopRegistersAndAdjustStack(x64.CalleeSaved, 8)
	c.RET()

	r.GatherPipeWrite8 = e.generateGatherPipeWrite(c, 1)
	r.GatherPipeWrite16 = e.generateGatherPipeWrite(c, 2)
	r.GatherPipeWrite32 = e.generateGatherPipeWrite(c, 4)

	if c.HasWriteFailed() {
		e.fatal("routine region too small", "size", e.routineRegion.Size())
	}
}

func (e *Engine) generateGatherPipeWrite(c *x64.Emitter, size int) uintptr {
	c.AlignCode4()
	start := c.GetCodePtr()
	c.MOV(64, x64.R(x64.RSCRATCH2), x64.PPCState(ppc.OffGatherPipePtr))
	switch size {
	case 4:
		c.BSWAP(32, x64.RSCRATCH)
		c.MOV(32, x64.MatR(x64.RSCRATCH2), x64.R(x64.RSCRATCH))
	case 2:
		c.BSWAP(16, x64.RSCRATCH)
		c.MOV(16, x64.MatR(x64.RSCRATCH2), x64.R(x64.RSCRATCH))
	default:
		c.MOV(8, x64.MatR(x64.RSCRATCH2), x64.R(x64.RSCRATCH))
	}
	c.ADD(64, x64.R(x64.RSCRATCH2), x64.Imm8(uint8(size)))
	c.MOV(64, x64.PPCState(ppc.OffGatherPipePtr), x64.R(x64.RSCRATCH2))
	c.RET()
	return start
}
