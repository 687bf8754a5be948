package interpreter

import "github.com/colorfulnotion/gekko/ppc"

func init() {
	register(ppc.OpB, func(in *Interpreter, i ppc.Inst) {
		pc := in.st.PC()
		if i.LK() {
			in.st.SetLR(pc + 4)
		}
		in.st.SetNPC(i.BranchTarget(pc))
	})
	register(ppc.OpBc, func(in *Interpreter, i ppc.Inst) {
		if !in.counterOK(i) || !in.conditionOK(i) {
			return
		}
		pc := in.st.PC()
		if i.LK() {
			in.st.SetLR(pc + 4)
		}
		in.st.SetNPC(i.CondBranchTarget(pc))
	})
	register(ppc.OpBclr, func(in *Interpreter, i ppc.Inst) {
		if !in.counterOK(i) || !in.conditionOK(i) {
			return
		}
		target := in.st.LR() &^ 3
		if i.LK() {
			in.st.SetLR(in.st.PC() + 4)
		}
		in.st.SetNPC(target)
	})
	register(ppc.OpBcctr, func(in *Interpreter, i ppc.Inst) {
		if !in.conditionOK(i) {
			return
		}
		if i.LK() {
			in.st.SetLR(in.st.PC() + 4)
		}
		in.st.SetNPC(in.st.CTR() &^ 3)
	})
}

// counterOK decrements CTR unless BO says otherwise and tests it.
func (in *Interpreter) counterOK(i ppc.Inst) bool {
	bo := i.BO()
	if bo&ppc.BODontDecrement != 0 {
		return true
	}
	ctr := in.st.CTR() - 1
	in.st.SetCTR(ctr)
	return (ctr != 0) != (bo&ppc.BOBranchIfCTR0 != 0)
}

func (in *Interpreter) conditionOK(i ppc.Inst) bool {
	bo := i.BO()
	if bo&ppc.BODontCheckCond != 0 {
		return true
	}
	return in.st.CRBit(i.BI()) == (bo&ppc.BOBranchIfTrue != 0)
}
