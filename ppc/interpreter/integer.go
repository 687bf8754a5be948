package interpreter

import (
	"math/bits"

	"github.com/colorfulnotion/gekko/ppc"
)

func init() {
	register(ppc.OpAddi, func(in *Interpreter, i ppc.Inst) {
		in.st.SetGPR(i.RD(), in.gprOr0(i.RA())+uint32(i.SIMM()))
	})
	register(ppc.OpAddis, func(in *Interpreter, i ppc.Inst) {
		in.st.SetGPR(i.RD(), in.gprOr0(i.RA())+i.UIMM()<<16)
	})
	register(ppc.OpAddic, func(in *Interpreter, i ppc.Inst) { in.addic(i) })
	register(ppc.OpAddicRc, func(in *Interpreter, i ppc.Inst) {
		in.addic(i)
		in.updateCR0(in.st.GPR(i.RD()))
	})
	register(ppc.OpSubfic, func(in *Interpreter, i ppc.Inst) {
		a := in.st.GPR(i.RA())
		imm := uint32(i.SIMM())
		in.st.SetGPR(i.RD(), imm-a)
		in.st.SetCarry(a == 0 || imm >= a)
	})
	register(ppc.OpMulli, func(in *Interpreter, i ppc.Inst) {
		in.st.SetGPR(i.RD(), uint32(int32(in.st.GPR(i.RA()))*i.SIMM()))
	})
	register(ppc.OpOri, func(in *Interpreter, i ppc.Inst) { in.st.SetGPR(i.RA(), in.st.GPR(i.RS())|i.UIMM()) })
	register(ppc.OpOris, func(in *Interpreter, i ppc.Inst) { in.st.SetGPR(i.RA(), in.st.GPR(i.RS())|i.UIMM()<<16) })
	register(ppc.OpXori, func(in *Interpreter, i ppc.Inst) { in.st.SetGPR(i.RA(), in.st.GPR(i.RS())^i.UIMM()) })
	register(ppc.OpXoris, func(in *Interpreter, i ppc.Inst) { in.st.SetGPR(i.RA(), in.st.GPR(i.RS())^i.UIMM()<<16) })
	register(ppc.OpAndiRc, func(in *Interpreter, i ppc.Inst) {
		v := in.st.GPR(i.RS()) & i.UIMM()
		in.st.SetGPR(i.RA(), v)
		in.updateCR0(v)
	})
	register(ppc.OpAndisRc, func(in *Interpreter, i ppc.Inst) {
		v := in.st.GPR(i.RS()) & (i.UIMM() << 16)
		in.st.SetGPR(i.RA(), v)
		in.updateCR0(v)
	})
	register(ppc.OpCmpi, func(in *Interpreter, i ppc.Inst) {
		in.compareSigned(i.CRFD(), int32(in.st.GPR(i.RA())), i.SIMM())
	})
	register(ppc.OpCmpli, func(in *Interpreter, i ppc.Inst) {
		in.compareUnsigned(i.CRFD(), in.st.GPR(i.RA()), i.UIMM())
	})
	register(ppc.OpCmp, func(in *Interpreter, i ppc.Inst) {
		in.compareSigned(i.CRFD(), int32(in.st.GPR(i.RA())), int32(in.st.GPR(i.RB())))
	})
	register(ppc.OpCmpl, func(in *Interpreter, i ppc.Inst) {
		in.compareUnsigned(i.CRFD(), in.st.GPR(i.RA()), in.st.GPR(i.RB()))
	})
	register(ppc.OpRlwinm, func(in *Interpreter, i ppc.Inst) {
		v := bits.RotateLeft32(in.st.GPR(i.RS()), int(i.SH())) & Mask(i.MB(), i.ME())
		in.st.SetGPR(i.RA(), v)
		in.rc(i, v)
	})
	register(ppc.OpRlwimi, func(in *Interpreter, i ppc.Inst) {
		m := Mask(i.MB(), i.ME())
		v := bits.RotateLeft32(in.st.GPR(i.RS()), int(i.SH()))&m | in.st.GPR(i.RA())&^m
		in.st.SetGPR(i.RA(), v)
		in.rc(i, v)
	})

	binD := func(id ppc.OpID, f func(in *Interpreter, a, b uint32) uint32) {
		register(id, func(in *Interpreter, i ppc.Inst) {
			v := f(in, in.st.GPR(i.RA()), in.st.GPR(i.RB()))
			in.st.SetGPR(i.RD(), v)
			in.rc(i, v)
		})
	}
	binD(ppc.OpAdd, func(_ *Interpreter, a, b uint32) uint32 { return a + b })
	binD(ppc.OpSubf, func(_ *Interpreter, a, b uint32) uint32 { return b - a })
	binD(ppc.OpMullw, func(_ *Interpreter, a, b uint32) uint32 { return uint32(int32(a) * int32(b)) })
	binD(ppc.OpAddc, func(in *Interpreter, a, b uint32) uint32 {
		v, c := bits.Add32(a, b, 0)
		in.st.SetCarry(c != 0)
		return v
	})
	binD(ppc.OpAdde, func(in *Interpreter, a, b uint32) uint32 {
		var ca uint32
		if in.st.Carry() {
			ca = 1
		}
		v, c := bits.Add32(a, b, ca)
		in.st.SetCarry(c != 0)
		return v
	})
	binD(ppc.OpSubfc, func(in *Interpreter, a, b uint32) uint32 {
		in.st.SetCarry(a == 0 || b >= a)
		return b - a
	})
	binD(ppc.OpDivw, func(_ *Interpreter, a, b uint32) uint32 {
		if b == 0 || (a == 0x80000000 && b == 0xFFFFFFFF) {
			if int32(a) < 0 {
				return 0xFFFFFFFF
			}
			return 0
		}
		return uint32(int32(a) / int32(b))
	})
	binD(ppc.OpDivwu, func(_ *Interpreter, a, b uint32) uint32 {
		if b == 0 {
			return 0
		}
		return a / b
	})
	register(ppc.OpNeg, func(in *Interpreter, i ppc.Inst) {
		v := -in.st.GPR(i.RA())
		in.st.SetGPR(i.RD(), v)
		in.rc(i, v)
	})

	binA := func(id ppc.OpID, f func(in *Interpreter, s, b uint32) uint32) {
		register(id, func(in *Interpreter, i ppc.Inst) {
			v := f(in, in.st.GPR(i.RS()), in.st.GPR(i.RB()))
			in.st.SetGPR(i.RA(), v)
			in.rc(i, v)
		})
	}
	binA(ppc.OpAnd, func(_ *Interpreter, s, b uint32) uint32 { return s & b })
	binA(ppc.OpAndc, func(_ *Interpreter, s, b uint32) uint32 { return s &^ b })
	binA(ppc.OpOr, func(_ *Interpreter, s, b uint32) uint32 { return s | b })
	binA(ppc.OpNor, func(_ *Interpreter, s, b uint32) uint32 { return ^(s | b) })
	binA(ppc.OpXor, func(_ *Interpreter, s, b uint32) uint32 { return s ^ b })
	binA(ppc.OpSlw, func(_ *Interpreter, s, b uint32) uint32 {
		if b&0x20 != 0 {
			return 0
		}
		return s << (b & 0x1F)
	})
	binA(ppc.OpSrw, func(_ *Interpreter, s, b uint32) uint32 {
		if b&0x20 != 0 {
			return 0
		}
		return s >> (b & 0x1F)
	})
	binA(ppc.OpSraw, func(in *Interpreter, s, b uint32) uint32 {
		return in.shiftRightAlgebraic(s, b&0x3F)
	})
	register(ppc.OpSrawi, func(in *Interpreter, i ppc.Inst) {
		v := in.shiftRightAlgebraic(in.st.GPR(i.RS()), i.SH())
		in.st.SetGPR(i.RA(), v)
		in.rc(i, v)
	})

	unA := func(id ppc.OpID, f func(s uint32) uint32) {
		register(id, func(in *Interpreter, i ppc.Inst) {
			v := f(in.st.GPR(i.RS()))
			in.st.SetGPR(i.RA(), v)
			in.rc(i, v)
		})
	}
	unA(ppc.OpExtsb, func(s uint32) uint32 { return uint32(int32(int8(s))) })
	unA(ppc.OpExtsh, func(s uint32) uint32 { return uint32(int32(int16(s))) })
	unA(ppc.OpCntlzw, func(s uint32) uint32 { return uint32(bits.LeadingZeros32(s)) })
}

func (in *Interpreter) addic(i ppc.Inst) {
	v, c := bits.Add32(in.st.GPR(i.RA()), uint32(i.SIMM()), 0)
	in.st.SetGPR(i.RD(), v)
	in.st.SetCarry(c != 0)
}

func (in *Interpreter) shiftRightAlgebraic(s, sh uint32) uint32 {
	if sh > 31 {
		in.st.SetCarry(int32(s) < 0)
		if int32(s) < 0 {
			return 0xFFFFFFFF
		}
		return 0
	}
	in.st.SetCarry(int32(s) < 0 && s&(1<<sh-1) != 0)
	return uint32(int32(s) >> sh)
}

func (in *Interpreter) compareSigned(crf int, a, b int32) {
	var f uint32
	switch {
	case a < b:
		f = 0x8
	case a > b:
		f = 0x4
	default:
		f = 0x2
	}
	if in.st.XER()&(1<<31) != 0 {
		f |= 0x1
	}
	in.st.SetCRField(crf, f)
}

func (in *Interpreter) compareUnsigned(crf int, a, b uint32) {
	var f uint32
	switch {
	case a < b:
		f = 0x8
	case a > b:
		f = 0x4
	default:
		f = 0x2
	}
	if in.st.XER()&(1<<31) != 0 {
		f |= 0x1
	}
	in.st.SetCRField(crf, f)
}

// Mask builds the rlwinm mask for big-endian bit numbers mb..me.
func Mask(mb, me uint32) uint32 {
	begin := uint32(0xFFFFFFFF) >> mb
	end := uint32(0xFFFFFFFF) << (31 - me)
	if mb <= me {
		return begin & end
	}
	return begin | end
}
