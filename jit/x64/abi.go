package x64

// ABIPushRegistersAndAdjustStack saves regs and pads RSP so that a call made
// afterwards sees a 16-byte aligned stack. rspAlignment is the number of
// bytes the stack currently sits below a 16-byte boundary.
func (e *Emitter) ABIPushRegistersAndAdjustStack(regs RegSet, rspAlignment int) int {
	list := regs.Regs()
	for _, r := range list {
		e.PUSH(r)
	}
	pad := stackPad(len(list), rspAlignment)
	if pad != 0 {
		e.SUB(64, R(RSP), Imm8(uint8(pad)))
	}
	return pad
}

// ABIPopRegistersAndAdjustStack undoes ABIPushRegistersAndAdjustStack.
func (e *Emitter) ABIPopRegistersAndAdjustStack(regs RegSet, rspAlignment int) {
	list := regs.Regs()
	if pad := stackPad(len(list), rspAlignment); pad != 0 {
		e.ADD(64, R(RSP), Imm8(uint8(pad)))
	}
	for i := len(list) - 1; i >= 0; i-- {
		e.POP(list[i])
	}
}

func stackPad(pushed, rspAlignment int) int {
	return (16 - (rspAlignment+8*pushed)%16) % 16
}
