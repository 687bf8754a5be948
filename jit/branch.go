package jit

import (
	"github.com/colorfulnotion/gekko/jit/regcache"
	"github.com/colorfulnotion/gekko/jit/x64"
	"github.com/colorfulnotion/gekko/ppc"
	"github.com/colorfulnotion/gekko/ppc/analyst"
)

const (
	rfiMask    = 0x87C0FFFF
	clearMSR13 = 0xFFFBFFFF
)

func (e *Engine) compileBranch(op *analyst.CodeOp) bool {
	switch op.Info.ID {
	case ppc.OpB:
		e.branch(op)
	case ppc.OpBc:
		e.branchConditional(op)
	case ppc.OpBclr:
		e.branchToLR(op)
	case ppc.OpBcctr:
		e.branchToCTR(op)
	default:
		return false
	}
	return true
}

func (e *Engine) setLR(pc uint32) {
	e.emit.MOV(32, x64.PPCState(ppc.SPROffset(ppc.SprLR)), x64.Imm32(pc+4))
}

func (e *Engine) branch(op *analyst.CodeOp) {
	e.gpr.FlushAll()
	if op.BranchIsIdleLoop {
		e.WriteIdleExit(op.BranchTo)
		return
	}
	if op.Inst.LK() {
		e.setLR(op.Address)
	}
	e.WriteExit(op.BranchTo, op.Inst.LK(), op.Address+4)
}

// branchConditions emits the CTR and CR tests of a conditional branch. The
// returned fixups skip the taken path.
func (e *Engine) branchConditions(inst ppc.Inst, decrement bool) []x64.FixupBranch {
	c := e.emit
	bo := inst.BO()
	var skips []x64.FixupBranch
	if decrement && bo&ppc.BODontDecrement == 0 {
		c.SUB(32, x64.PPCState(ppc.SPROffset(ppc.SprCTR)), x64.Imm8(1))
		cc := x64.CC_Z
		if bo&ppc.BOBranchIfCTR0 != 0 {
			cc = x64.CC_NZ
		}
		skips = append(skips, c.JCC(cc, false))
	}
	if bo&ppc.BODontCheckCond == 0 {
		c.TEST(32, x64.PPCState(ppc.OffCR), x64.Imm32(0x80000000>>uint(inst.BI())))
		cc := x64.CC_NZ
		if bo&ppc.BOBranchIfTrue != 0 {
			cc = x64.CC_Z
		}
		skips = append(skips, c.JCC(cc, false))
	}
	return skips
}

// notTaken closes the conditional part of a branch and exits to the next
// instruction.
func (e *Engine) notTaken(op *analyst.CodeOp, skips []x64.FixupBranch) {
	if len(skips) == 0 {
		return
	}
	for _, f := range skips {
		e.emit.SetJumpTarget(f)
	}
	e.gpr.FlushAll()
	e.WriteExit(op.Address+4, false, 0)
}

func (e *Engine) branchConditional(op *analyst.CodeOp) {
	inst := op.Inst
	skips := e.branchConditions(inst, true)
	if inst.LK() {
		e.setLR(op.Address)
	}
	g := e.gpr.Fork()
	e.gpr.FlushAll()
	if op.BranchIsIdleLoop {
		e.WriteIdleExit(op.BranchTo)
	} else {
		e.WriteExit(op.BranchTo, inst.LK(), op.Address+4)
	}
	g.Release()
	e.notTaken(op, skips)
}

func (e *Engine) branchToLR(op *analyst.CodeOp) {
	c := e.emit
	inst := op.Inst
	skips := e.branchConditions(inst, true)
	c.MOV(32, x64.R(x64.RSCRATCH), x64.PPCState(ppc.SPROffset(ppc.SprLR)))
	if !e.blrEnabled {
		c.AND(32, x64.R(x64.RSCRATCH), x64.Imm32(0xFFFFFFFC))
	}
	if inst.LK() {
		e.setLR(op.Address)
	}
	g := e.gpr.Fork()
	e.gpr.FlushAll()
	if inst.LK() {
		e.WriteExitDestInRSCRATCH(true, op.Address+4)
	} else {
		e.WriteBLRExit()
	}
	g.Release()
	e.notTaken(op, skips)
}

func (e *Engine) branchToCTR(op *analyst.CodeOp) {
	c := e.emit
	inst := op.Inst
	skips := e.branchConditions(inst, false)
	c.MOV(32, x64.R(x64.RSCRATCH), x64.PPCState(ppc.SPROffset(ppc.SprCTR)))
	c.AND(32, x64.R(x64.RSCRATCH), x64.Imm32(0xFFFFFFFC))
	if inst.LK() {
		e.setLR(op.Address)
	}
	g := e.gpr.Fork()
	e.gpr.FlushAll()
	e.WriteExitDestInRSCRATCH(inst.LK(), op.Address+4)
	g.Release()
	e.notTaken(op, skips)
}

func (e *Engine) compileSystem(op *analyst.CodeOp) bool {
	c := e.emit
	inst := op.Inst
	switch op.Info.ID {
	case ppc.OpIsync, ppc.OpSync, ppc.OpEieio:
	case ppc.OpSc:
		e.gpr.FlushAll()
		c.MOV(32, x64.PPCState(ppc.OffPC), x64.Imm32(op.Address+4))
		c.OR(32, x64.PPCState(ppc.OffExceptions), x64.Imm32(ppc.ExceptionSyscall))
		e.WriteExceptionExit()
	case ppc.OpRfi:
		e.gpr.FlushAll()
		c.AND(32, x64.PPCState(ppc.OffMSR), x64.Imm32(^uint32(rfiMask)&clearMSR13))
		c.MOV(32, x64.R(x64.RSCRATCH), x64.PPCState(ppc.SPROffset(ppc.SprSRR1)))
		c.AND(32, x64.R(x64.RSCRATCH), x64.Imm32(rfiMask&clearMSR13))
		c.OR(32, x64.PPCState(ppc.OffMSR), x64.R(x64.RSCRATCH))
		c.MOV(32, x64.R(x64.RSCRATCH), x64.PPCState(ppc.SPROffset(ppc.SprSRR0)))
		e.WriteRfiExitDestInRSCRATCH()
	case ppc.OpMfmsr:
		hd := e.bind(inst.RD(), regcache.Write)
		c.MOV(32, x64.R(hd), x64.PPCState(ppc.OffMSR))
	case ppc.OpMfspr:
		off, ok := sprOffset(inst.SPR())
		if !ok {
			return false
		}
		hd := e.bind(inst.RD(), regcache.Write)
		c.MOV(32, x64.R(hd), x64.PPCState(off))
	case ppc.OpMtspr:
		off, ok := sprOffset(inst.SPR())
		if !ok {
			return false
		}
		src := e.gpr.Use(inst.RS())
		if src.IsMem() {
			c.MOV(32, x64.R(x64.RSCRATCH), src)
			src = x64.R(x64.RSCRATCH)
		}
		c.MOV(32, x64.PPCState(off), src)
	default:
		return false
	}
	return true
}

// sprOffset returns where a plain-storage SPR lives in the state page.
// The decrementer is backed by timing state and is left to the interpreter.
func sprOffset(spr uint32) (int32, bool) {
	if spr == ppc.SPRNumXER {
		return ppc.OffXER, true
	}
	slot, ok := ppc.SPRSlot(spr)
	if !ok || slot == ppc.SprDEC {
		return 0, false
	}
	return ppc.SPROffset(slot), true
}
