package jit

import (
	"math/bits"

	"github.com/colorfulnotion/gekko/jit/regcache"
	"github.com/colorfulnotion/gekko/jit/x64"
	"github.com/colorfulnotion/gekko/ppc"
	"github.com/colorfulnotion/gekko/ppc/analyst"
	"github.com/colorfulnotion/gekko/ppc/interpreter"
)

type aluFunc func(c *x64.Emitter, bits int, dst, src x64.OpArg)

var (
	aluAdd aluFunc = (*x64.Emitter).ADD
	aluSub aluFunc = (*x64.Emitter).SUB
	aluAnd aluFunc = (*x64.Emitter).AND
	aluOr  aluFunc = (*x64.Emitter).OR
	aluXor aluFunc = (*x64.Emitter).XOR
)

func aluMul(c *x64.Emitter, bits int, dst, src x64.OpArg) {
	if src.IsImm() {
		c.IMULImm(bits, dst.Reg(), dst, int32(src.Imm()))
		return
	}
	c.IMUL(bits, dst.Reg(), src)
}

func (e *Engine) compileInteger(op *analyst.CodeOp) bool {
	inst := op.Inst
	rd, ra, rb, rs := inst.RD(), inst.RA(), inst.RB(), inst.RS()
	simm, uimm := uint32(inst.SIMM()), inst.UIMM()
	add := func(a, b uint32) uint32 { return a + b }

	switch op.Info.ID {
	case ppc.OpAddi, ppc.OpAddis:
		imm := simm
		if op.Info.ID == ppc.OpAddis {
			imm = uimm << 16
		}
		if ra == 0 {
			e.gpr.SetImmediate32(rd, imm)
			return true
		}
		e.regImmOp(rd, ra, imm, aluAdd, add)
	case ppc.OpOri, ppc.OpOris:
		imm := uimm
		if op.Info.ID == ppc.OpOris {
			imm <<= 16
		}
		if imm == 0 && ra == rs {
			return true
		}
		e.regImmOp(ra, rs, imm, aluOr, func(a, b uint32) uint32 { return a | b })
	case ppc.OpXori, ppc.OpXoris:
		imm := uimm
		if op.Info.ID == ppc.OpXoris {
			imm <<= 16
		}
		if imm == 0 && ra == rs {
			return true
		}
		e.regImmOp(ra, rs, imm, aluXor, func(a, b uint32) uint32 { return a ^ b })
	case ppc.OpAndiRc, ppc.OpAndisRc:
		imm := uimm
		if op.Info.ID == ppc.OpAndisRc {
			imm <<= 16
		}
		e.regImmOp(ra, rs, imm, aluAnd, func(a, b uint32) uint32 { return a & b })
		e.computeRC(ra)
		return true
	case ppc.OpMulli:
		e.regImmOp(rd, ra, simm, aluMul, func(a, b uint32) uint32 { return a * b })
		return true
	case ppc.OpCmpi:
		e.compare(inst.CRFD(), ra, -1, simm, true)
		return true
	case ppc.OpCmpli:
		e.compare(inst.CRFD(), ra, -1, uimm, false)
		return true
	case ppc.OpCmp:
		e.compare(inst.CRFD(), ra, rb, 0, true)
		return true
	case ppc.OpCmpl:
		e.compare(inst.CRFD(), ra, rb, 0, false)
		return true
	case ppc.OpAdd:
		e.regRegOp(rd, ra, rb, true, aluAdd, add)
	case ppc.OpSubf:
		e.regRegOp(rd, rb, ra, false, aluSub, func(a, b uint32) uint32 { return a - b })
	case ppc.OpMullw:
		e.regRegOp(rd, ra, rb, true, aluMul, func(a, b uint32) uint32 { return a * b })
	case ppc.OpAnd:
		e.regRegOp(ra, rs, rb, true, aluAnd, func(a, b uint32) uint32 { return a & b })
	case ppc.OpOr:
		if rs == rb {
			e.move(ra, rs)
			break
		}
		e.regRegOp(ra, rs, rb, true, aluOr, func(a, b uint32) uint32 { return a | b })
	case ppc.OpXor:
		if rs == rb {
			e.gpr.SetImmediate32(ra, 0)
			break
		}
		e.regRegOp(ra, rs, rb, true, aluXor, func(a, b uint32) uint32 { return a ^ b })
	case ppc.OpNor:
		e.regRegOp(ra, rs, rb, true, aluOr, func(a, b uint32) uint32 { return a | b })
		e.unaryInPlace(ra, func(c *x64.Emitter, r x64.X86Reg) { c.NOT(32, x64.R(r)) }, func(v uint32) uint32 { return ^v })
	case ppc.OpAndc:
		if e.gpr.IsImm(rs) && e.gpr.IsImm(rb) {
			e.gpr.SetImmediate32(ra, e.gpr.Imm(rs)&^e.gpr.Imm(rb))
			break
		}
		c := e.emit
		c.MOV(32, x64.R(x64.RSCRATCH), e.gpr.Use(rb))
		c.NOT(32, x64.R(x64.RSCRATCH))
		c.AND(32, x64.R(x64.RSCRATCH), e.gpr.Use(rs))
		e.writeFromScratch(ra)
	case ppc.OpNeg:
		e.unary(rd, ra, func(c *x64.Emitter, r x64.X86Reg) { c.NEG(32, x64.R(r)) }, func(v uint32) uint32 { return -v })
	case ppc.OpExtsb:
		e.extendSign(ra, rs, 8)
	case ppc.OpExtsh:
		e.extendSign(ra, rs, 16)
	case ppc.OpCntlzw:
		if !e.gpr.IsImm(rs) {
			return false
		}
		e.gpr.SetImmediate32(ra, uint32(bits.LeadingZeros32(e.gpr.Imm(rs))))
	case ppc.OpRlwinm:
		e.rlwinm(ra, rs, inst.SH(), interpreter.Mask(inst.MB(), inst.ME()))
	default:
		return false
	}
	if op.Info.Has(ppc.FlRcBit) && inst.Rc() {
		target := ra
		if op.Info.Has(ppc.FlOutD) {
			target = rd
		}
		e.computeRC(target)
	}
	return true
}

// regImmOp computes d = a OP imm.
func (e *Engine) regImmOp(d, a int, imm uint32, op aluFunc, fold func(a, b uint32) uint32) {
	if e.gpr.IsImm(a) {
		e.gpr.SetImmediate32(d, fold(e.gpr.Imm(a), imm))
		return
	}
	c := e.emit
	if d == a {
		hd := e.bind(d, regcache.ReadWrite)
		op(c, 32, x64.R(hd), x64.Imm32(imm))
		return
	}
	c.MOV(32, x64.R(x64.RSCRATCH), e.gpr.Use(a))
	op(c, 32, x64.R(x64.RSCRATCH), x64.Imm32(imm))
	e.writeFromScratch(d)
}

// regRegOp computes d = a OP b.
func (e *Engine) regRegOp(d, a, b int, commutative bool, op aluFunc, fold func(a, b uint32) uint32) {
	if e.gpr.IsImm(a) && e.gpr.IsImm(b) {
		e.gpr.SetImmediate32(d, fold(e.gpr.Imm(a), e.gpr.Imm(b)))
		return
	}
	c := e.emit
	switch {
	case d == a:
		hd := e.bind(d, regcache.ReadWrite)
		op(c, 32, x64.R(hd), e.gpr.Use(b))
	case d == b && commutative:
		hd := e.bind(d, regcache.ReadWrite)
		op(c, 32, x64.R(hd), e.gpr.Use(a))
	default:
		c.MOV(32, x64.R(x64.RSCRATCH), e.gpr.Use(a))
		op(c, 32, x64.R(x64.RSCRATCH), e.gpr.Use(b))
		e.writeFromScratch(d)
	}
}

func (e *Engine) writeFromScratch(d int) {
	hd := e.bind(d, regcache.Write)
	e.emit.MOV(32, x64.R(hd), x64.R(x64.RSCRATCH))
}

func (e *Engine) move(d, s int) {
	if d == s {
		return
	}
	if e.gpr.IsImm(s) {
		e.gpr.SetImmediate32(d, e.gpr.Imm(s))
		return
	}
	src := e.gpr.Use(s)
	if src.IsMem() {
		e.emit.MOV(32, x64.R(x64.RSCRATCH), src)
		e.writeFromScratch(d)
		return
	}
	hs := src.Reg()
	e.gpr.Lock(hs)
	hd := e.bind(d, regcache.Write)
	e.emit.MOV(32, x64.R(hd), x64.R(hs))
}

// unary computes d = f(a).
func (e *Engine) unary(d, a int, emit func(*x64.Emitter, x64.X86Reg), fold func(uint32) uint32) {
	if e.gpr.IsImm(a) {
		e.gpr.SetImmediate32(d, fold(e.gpr.Imm(a)))
		return
	}
	if d == a {
		emit(e.emit, e.bind(d, regcache.ReadWrite))
		return
	}
	e.emit.MOV(32, x64.R(x64.RSCRATCH), e.gpr.Use(a))
	emit(e.emit, x64.RSCRATCH)
	e.writeFromScratch(d)
}

func (e *Engine) unaryInPlace(d int, emit func(*x64.Emitter, x64.X86Reg), fold func(uint32) uint32) {
	e.unary(d, d, emit, fold)
}

func (e *Engine) extendSign(a, s, bits int) {
	if e.gpr.IsImm(s) {
		v := e.gpr.Imm(s)
		if bits == 8 {
			v = uint32(int32(int8(v)))
		} else {
			v = uint32(int32(int16(v)))
		}
		e.gpr.SetImmediate32(a, v)
		return
	}
	c := e.emit
	c.MOV(32, x64.R(x64.RSCRATCH), e.gpr.Use(s))
	c.MOVSX(32, bits, x64.RSCRATCH, x64.R(x64.RSCRATCH))
	e.writeFromScratch(a)
}

func (e *Engine) rlwinm(a, s int, sh, mask uint32) {
	if e.gpr.IsImm(s) {
		e.gpr.SetImmediate32(a, bits.RotateLeft32(e.gpr.Imm(s), int(sh))&mask)
		return
	}
	c := e.emit
	c.MOV(32, x64.R(x64.RSCRATCH), e.gpr.Use(s))
	if sh != 0 {
		c.ROL(32, x64.R(x64.RSCRATCH), x64.Imm8(uint8(sh)))
	}
	if mask != 0xFFFFFFFF {
		c.AND(32, x64.R(x64.RSCRATCH), x64.Imm32(mask))
	}
	e.writeFromScratch(a)
}

// compare sets cr field crf from rA against rB, or against imm when rb is
// negative.
func (e *Engine) compare(crf, ra, rb int, imm uint32, signed bool) {
	c := e.emit
	if e.gpr.IsImm(ra) && (rb < 0 || e.gpr.IsImm(rb)) {
		a := e.gpr.Imm(ra)
		b := imm
		if rb >= 0 {
			b = e.gpr.Imm(rb)
		}
		c.MOV(32, x64.R(x64.RSCRATCHExtra), x64.Imm32(compareField(a, b, signed)))
		e.storeCRField(crf)
		return
	}
	c.MOV(32, x64.R(x64.RSCRATCH), e.gpr.Use(ra))
	if rb < 0 {
		c.CMP(32, x64.R(x64.RSCRATCH), x64.Imm32(imm))
	} else {
		c.CMP(32, x64.R(x64.RSCRATCH), e.gpr.Use(rb))
	}
	e.setCRFromFlags(crf, signed)
}

func compareField(a, b uint32, signed bool) uint32 {
	switch {
	case a == b:
		return 2
	case signed && int32(a) > int32(b), !signed && a > b:
		return 4
	}
	return 8
}

// setCRFromFlags converts the flags of a CMP into an LT/GT/EQ nibble.
func (e *Engine) setCRFromFlags(crf int, signed bool) {
	c := e.emit
	gt := x64.CC_A
	if signed {
		gt = x64.CC_G
	}
	c.MOV(32, x64.R(x64.RSCRATCHExtra), x64.Imm32(2))
	eq := c.JCC(x64.CC_E, true)
	c.MOV(32, x64.R(x64.RSCRATCHExtra), x64.Imm32(4))
	greater := c.JCC(gt, true)
	c.MOV(32, x64.R(x64.RSCRATCHExtra), x64.Imm32(8))
	c.SetJumpTarget(eq)
	c.SetJumpTarget(greater)
	e.storeCRField(crf)
}

// storeCRField merges the nibble in ECX, plus XER[SO], into cr field crf.
func (e *Engine) storeCRField(crf int) {
	c := e.emit
	shift := uint8(28 - 4*crf)
	c.MOV(32, x64.R(x64.RSCRATCH2), x64.PPCState(ppc.OffXER))
	c.SHR(32, x64.R(x64.RSCRATCH2), x64.Imm8(31))
	c.OR(32, x64.R(x64.RSCRATCHExtra), x64.R(x64.RSCRATCH2))
	if shift != 0 {
		c.SHL(32, x64.R(x64.RSCRATCHExtra), x64.Imm8(shift))
	}
	c.AND(32, x64.PPCState(ppc.OffCR), x64.Imm32(^(uint32(0xF) << shift)))
	c.OR(32, x64.PPCState(ppc.OffCR), x64.R(x64.RSCRATCHExtra))
}

// computeRC sets cr0 from the signed value of reg.
func (e *Engine) computeRC(reg int) {
	if e.gpr.IsImm(reg) {
		e.emit.MOV(32, x64.R(x64.RSCRATCHExtra), x64.Imm32(compareField(e.gpr.Imm(reg), 0, true)))
		e.storeCRField(0)
		return
	}
	src := e.gpr.Use(reg)
	if src.IsMem() {
		e.emit.MOV(32, x64.R(x64.RSCRATCH), src)
		src = x64.R(x64.RSCRATCH)
	}
	e.emit.CMP(32, src, x64.Imm8(0))
	e.setCRFromFlags(0, true)
}
