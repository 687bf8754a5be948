package jit

import (
	"github.com/colorfulnotion/gekko/jit/regcache"
	"github.com/colorfulnotion/gekko/jit/x64"
	"github.com/colorfulnotion/gekko/ppc"
	"github.com/colorfulnotion/gekko/ppc/analyst"
)

// psqSingle marks the W bit in the register argument of the quantize
// helpers.
const psqSingle = 0x100

// compilePairedLoadStore calls the quantize helpers. A GQR proven constant
// by the block's guards is passed as an immediate.
func (e *Engine) compilePairedLoadStore(op *analyst.CodeOp) bool {
	inst := op.Inst
	update := op.Info.Has(ppc.FlOutA)
	ra := inst.RA()
	if update && ra == 0 {
		return false
	}
	c := e.emit
	ecx := x64.R(x64.RSCRATCHExtra)
	off := uint32(inst.PsqD())
	if ra == 0 {
		c.MOV(32, ecx, x64.Imm32(off))
	} else {
		c.MOV(32, ecx, e.gpr.Use(ra))
		if off != 0 {
			c.ADD(32, ecx, x64.Imm32(off))
		}
	}
	if update {
		hA := e.bind(ra, regcache.Write)
		c.MOV(32, x64.R(hA), ecx)
	}

	i := inst.PsqI()
	gqr := x64.PPCState(ppc.GQROffset(i))
	if e.js.constantGqrValid.Has(i) {
		gqr = x64.Imm32(e.js.constantGqr[i])
	}
	reg := uint32(inst.RD())
	if inst.PsqW() {
		reg |= psqSingle
	}
	h := HelperQuantizedLoad
	if op.Info.Type == ppc.OpTypeStorePS {
		h = HelperQuantizedStore
	}

	c.MOV(32, x64.PPCState(ppc.OffPC), x64.Imm32(op.Address))
	regs := e.gpr.RegistersInUse() & x64.CallerSaved
	c.ABIPushRegistersAndAdjustStack(regs, 0)
	e.callHelper(h, x64.Imm32(reg), ecx, gqr)
	c.ABIPopRegistersAndAdjustStack(regs, 0)
	return true
}
