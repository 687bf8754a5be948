package interpreter

import "github.com/colorfulnotion/gekko/ppc"

const (
	rfiMask    = 0x87C0FFFF
	clearMSR13 = 0xFFFBFFFF
)

func init() {
	register(ppc.OpHLE, func(in *Interpreter, i ppc.Inst) {
		if in.HLE == nil {
			in.st.RaiseException(ppc.ExceptionProgram)
			return
		}
		in.HLE(in.st.PC(), i)
	})
	register(ppc.OpSc, func(in *Interpreter, _ ppc.Inst) {
		in.st.RaiseException(ppc.ExceptionSyscall)
	})
	register(ppc.OpRfi, func(in *Interpreter, _ ppc.Inst) {
		st := in.st
		msr := st.MSR()&^rfiMask | st.SPR(ppc.SprSRR1)&rfiMask
		st.SetMSR(msr & clearMSR13)
		st.SetNPC(st.SPR(ppc.SprSRR0))
	})
	nop := func(*Interpreter, ppc.Inst) {}
	register(ppc.OpIsync, nop)
	register(ppc.OpSync, nop)
	register(ppc.OpEieio, nop)
	register(ppc.OpDcbf, nop)
	register(ppc.OpDcbst, nop)
	register(ppc.OpDcbi, nop)
	register(ppc.OpIcbi, func(in *Interpreter, i ppc.Inst) {
		if in.InvalidateICache != nil {
			ea := (in.gprOr0(i.RA()) + in.st.GPR(i.RB())) &^ 31
			in.InvalidateICache(ea, 32)
		}
	})
	register(ppc.OpMfmsr, func(in *Interpreter, i ppc.Inst) { in.st.SetGPR(i.RD(), in.st.MSR()) })
	register(ppc.OpMtmsr, func(in *Interpreter, i ppc.Inst) { in.st.SetMSR(in.st.GPR(i.RS())) })
	register(ppc.OpMfspr, func(in *Interpreter, i ppc.Inst) {
		spr := i.SPR()
		if spr == ppc.SPRNumXER {
			in.st.SetGPR(i.RD(), in.st.XER())
			return
		}
		slot, ok := ppc.SPRSlot(spr)
		if !ok {
			in.st.SetGPR(i.RD(), 0)
			return
		}
		in.st.SetGPR(i.RD(), in.st.SPR(slot))
	})
	register(ppc.OpMtspr, func(in *Interpreter, i ppc.Inst) {
		spr := i.SPR()
		v := in.st.GPR(i.RS())
		if spr == ppc.SPRNumXER {
			in.st.SetXER(v)
			return
		}
		if slot, ok := ppc.SPRSlot(spr); ok {
			in.st.SetSPR(slot, v)
		}
	})
	register(ppc.OpMfcr, func(in *Interpreter, i ppc.Inst) { in.st.SetGPR(i.RD(), in.st.CR()) })
	register(ppc.OpMtcrf, func(in *Interpreter, i ppc.Inst) {
		crm := uint32(i) >> 12 & 0xFF
		var mask uint32
		for f := 0; f < 8; f++ {
			if crm&(0x80>>uint(f)) != 0 {
				mask |= 0xF << uint(28-4*f)
			}
		}
		in.st.SetCR(in.st.CR()&^mask | in.st.GPR(i.RS())&mask)
	})
	register(ppc.OpMcrf, func(in *Interpreter, i ppc.Inst) {
		src := int(uint32(i)>>18) & 7
		in.st.SetCRField(i.CRFD(), in.st.CRField(src))
	})
	register(ppc.OpCrxor, func(in *Interpreter, i ppc.Inst) {
		d, a, b := i.RD(), i.RA(), i.RB()
		v := in.st.CRBit(a) != in.st.CRBit(b)
		cr := in.st.CR() &^ (0x80000000 >> uint(d))
		if v {
			cr |= 0x80000000 >> uint(d)
		}
		in.st.SetCR(cr)
	})
}
