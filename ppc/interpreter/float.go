package interpreter

import (
	"math"

	"github.com/colorfulnotion/gekko/ppc"
)

func roundSingle(v float64) float64 { return float64(float32(v)) }

func init() {
	single := func(id ppc.OpID, f func(a, b float64) float64, useC bool) {
		register(id, func(in *Interpreter, i ppc.Inst) {
			b := in.st.PS0(i.RB())
			if useC {
				b = in.st.PS0(i.RC())
			}
			v := roundSingle(f(in.st.PS0(i.RA()), b))
			in.st.SetPS0(i.RD(), v)
			in.st.SetPS1(i.RD(), v)
		})
	}
	double := func(id ppc.OpID, f func(a, b float64) float64, useC bool) {
		register(id, func(in *Interpreter, i ppc.Inst) {
			b := in.st.PS0(i.RB())
			if useC {
				b = in.st.PS0(i.RC())
			}
			in.st.SetPS0(i.RD(), f(in.st.PS0(i.RA()), b))
		})
	}
	add := func(a, b float64) float64 { return a + b }
	sub := func(a, b float64) float64 { return a - b }
	mul := func(a, b float64) float64 { return a * b }
	div := func(a, b float64) float64 { return a / b }
	single(ppc.OpFadds, add, false)
	single(ppc.OpFsubs, sub, false)
	single(ppc.OpFmuls, mul, true)
	single(ppc.OpFdivs, div, false)
	double(ppc.OpFadd, add, false)
	double(ppc.OpFsub, sub, false)
	double(ppc.OpFmul, mul, true)
	double(ppc.OpFdiv, div, false)

	unary := func(id ppc.OpID, f func(float64) float64) {
		register(id, func(in *Interpreter, i ppc.Inst) {
			in.st.SetPS0(i.RD(), f(in.st.PS0(i.RB())))
		})
	}
	unary(ppc.OpFmr, func(v float64) float64 { return v })
	unary(ppc.OpFneg, func(v float64) float64 { return -v })
	unary(ppc.OpFabs, math.Abs)
	unary(ppc.OpFrsp, roundSingle)

	register(ppc.OpFcmpu, func(in *Interpreter, i ppc.Inst) {
		a, b := in.st.PS0(i.RA()), in.st.PS0(i.RB())
		var f uint32
		switch {
		case math.IsNaN(a) || math.IsNaN(b):
			f = 0x1
		case a < b:
			f = 0x8
		case a > b:
			f = 0x4
		default:
			f = 0x2
		}
		in.st.SetCRField(i.CRFD(), f)
	})

	paired := func(id ppc.OpID, f func(a, b float64) float64, useC bool) {
		register(id, func(in *Interpreter, i ppc.Inst) {
			rb := i.RB()
			if useC {
				rb = i.RC()
			}
			st := in.st
			p0 := roundSingle(f(st.PS0(i.RA()), st.PS0(rb)))
			p1 := roundSingle(f(st.PS1(i.RA()), st.PS1(rb)))
			st.SetPS0(i.RD(), p0)
			st.SetPS1(i.RD(), p1)
		})
	}
	paired(ppc.OpPsAdd, add, false)
	paired(ppc.OpPsSub, sub, false)
	paired(ppc.OpPsMul, mul, true)
	register(ppc.OpPsMr, func(in *Interpreter, i ppc.Inst) {
		in.st.SetPS0(i.RD(), in.st.PS0(i.RB()))
		in.st.SetPS1(i.RD(), in.st.PS1(i.RB()))
	})
	register(ppc.OpPsMerge00, func(in *Interpreter, i ppc.Inst) {
		p0, p1 := in.st.PS0(i.RA()), in.st.PS0(i.RB())
		in.st.SetPS0(i.RD(), p0)
		in.st.SetPS1(i.RD(), p1)
	})
}
