package x64

import "fmt"

func opBits8(bits int, op8, op byte) []byte {
	if bits == 8 {
		return []byte{op8}
	}
	return []byte{op}
}

// MOV moves between registers, memory and immediates.
func (e *Emitter) MOV(bits int, dst, src OpArg) {
	switch {
	case src.IsImm():
		e.movImm(bits, dst, src.imm)
	case src.IsReg() && (dst.IsReg() || dst.IsMem()):
		e.encodeRM(bits, opBits8(bits, X86_OP_MOV_RM8_R8, X86_OP_MOV_RM_R), src.reg.Index(), dst, bits == 8)
	case dst.IsReg() && src.IsMem():
		e.encodeRM(bits, opBits8(bits, X86_OP_MOV_R8_RM8, X86_OP_MOV_R_RM), dst.reg.Index(), src, bits == 8)
	default:
		panic(fmt.Sprintf("x64: MOV %s, %s", dst, src))
	}
}

func (e *Emitter) movImm(bits int, dst OpArg, v uint64) {
	if dst.IsReg() && bits == 64 && !fitsInt32(int64(v)) {
		rex := byte(X86_REX | X86_REX_W)
		if dst.reg.REXBit != 0 {
			rex |= X86_REX_B
		}
		e.write(rex, X86_OP_MOV_R_IMM+dst.reg.RegBits)
		e.Write64(v)
		return
	}
	if dst.IsReg() && bits == 32 {
		if dst.reg.REXBit != 0 {
			e.write(X86_REX | X86_REX_B)
		}
		e.write(X86_OP_MOV_R_IMM + dst.reg.RegBits)
		e.Write32(uint32(v))
		return
	}
	if bits == 8 {
		e.encodeRM(8, []byte{X86_OP_MOV_RM8_IMM8}, 0, dst, true)
		e.write(byte(v))
		return
	}
	e.encodeRM(bits, []byte{X86_OP_MOV_RM_IMM}, 0, dst, false)
	if bits == 16 {
		e.Write16(uint16(v))
	} else {
		e.Write32(uint32(v))
	}
}

// MOVZX zero-extends srcBits from src into dst.
func (e *Emitter) MOVZX(dstBits, srcBits int, dst X86Reg, src OpArg) {
	switch srcBits {
	case 8:
		e.encodeRM(dstBits, []byte{X86_OP2_ESCAPE, X86_OP2_MOVZX_R_RM8}, dst.Index(), src, true)
	case 16:
		e.encodeRM(dstBits, []byte{X86_OP2_ESCAPE, X86_OP2_MOVZX_R_RM16}, dst.Index(), src, false)
	case 32:
		// a 32-bit move clears the upper half
		e.MOV(32, R(dst), src)
	default:
		panic(fmt.Sprintf("x64: MOVZX from %d bits", srcBits))
	}
}

// MOVSX sign-extends srcBits from src into dst.
func (e *Emitter) MOVSX(dstBits, srcBits int, dst X86Reg, src OpArg) {
	switch srcBits {
	case 8:
		e.encodeRM(dstBits, []byte{X86_OP2_ESCAPE, X86_OP2_MOVSX_R_RM8}, dst.Index(), src, true)
	case 16:
		e.encodeRM(dstBits, []byte{X86_OP2_ESCAPE, X86_OP2_MOVSX_R_RM16}, dst.Index(), src, false)
	case 32:
		e.encodeRM(64, []byte{X86_OP_MOVSXD}, dst.Index(), src, false)
	default:
		panic(fmt.Sprintf("x64: MOVSX from %d bits", srcBits))
	}
}

func (e *Emitter) alu(ext int, bits int, dst, src OpArg) {
	base := byte(ext << 3)
	switch {
	case src.IsImm():
		v := int64(int32(src.imm))
		switch {
		case bits == 8:
			e.encodeRM(8, []byte{X86_OP_GROUP1_RM8_IMM8}, ext, dst, true)
			e.write(byte(src.imm))
		case fitsInt8(v):
			e.encodeRM(bits, []byte{X86_OP_GROUP1_RM_IMM8}, ext, dst, false)
			e.write(byte(int8(v)))
		default:
			e.encodeRM(bits, []byte{X86_OP_GROUP1_RM_IMM32}, ext, dst, false)
			e.writeImm(bits, src.imm)
		}
	case src.IsReg():
		e.encodeRM(bits, opBits8(bits, base, base+1), src.reg.Index(), dst, bits == 8)
	case dst.IsReg() && src.IsMem():
		e.encodeRM(bits, opBits8(bits, base+2, base+3), dst.reg.Index(), src, bits == 8)
	default:
		panic(fmt.Sprintf("x64: ALU %d %s, %s", ext, dst, src))
	}
}

func (e *Emitter) ADD(bits int, dst, src OpArg) { e.alu(aluADD, bits, dst, src) }
func (e *Emitter) OR(bits int, dst, src OpArg) { e.alu(aluOR, bits, dst, src) }
func (e *Emitter) ADC(bits int, dst, src OpArg) { e.alu(aluADC, bits, dst, src) }
func (e *Emitter) AND(bits int, dst, src OpArg) { e.alu(aluAND, bits, dst, src) }
func (e *Emitter) SUB(bits int, dst, src OpArg) { e.alu(aluSUB, bits, dst, src) }
func (e *Emitter) XOR(bits int, dst, src OpArg) { e.alu(aluXOR, bits, dst, src) }
func (e *Emitter) CMP(bits int, dst, src OpArg) { e.alu(aluCMP, bits, dst, src) }

// TEST ands dst with src for flags only.
func (e *Emitter) TEST(bits int, dst, src OpArg) {
	switch {
	case src.IsImm():
		if bits == 8 {
			e.encodeRM(8, []byte{X86_OP_GROUP3_RM8}, 0, dst, true)
			e.write(byte(src.imm))
			return
		}
		e.encodeRM(bits, []byte{X86_OP_GROUP3_RM}, 0, dst, false)
		e.writeImm(bits, src.imm)
	case src.IsReg():
		e.encodeRM(bits, opBits8(bits, X86_OP_TEST_RM8_R8, X86_OP_TEST_RM_R), src.reg.Index(), dst, bits == 8)
	default:
		panic(fmt.Sprintf("x64: TEST %s, %s", dst, src))
	}
}

// LEA loads the address of a memory operand.
func (e *Emitter) LEA(bits int, dst X86Reg, src OpArg) {
	e.encodeRM(bits, []byte{X86_OP_LEA}, dst.Index(), src, false)
}

func (e *Emitter) shift(ext int, bits int, dst OpArg, amount OpArg) {
	switch {
	case amount.IsReg():
		if amount.reg != RCX {
			panic("x64: variable shift count must be in CL")
		}
		e.encodeRM(bits, opBits8(bits, 0xD2, X86_OP_GROUP2_RM_CL), ext, dst, bits == 8)
	case amount.imm == 1:
		e.encodeRM(bits, opBits8(bits, 0xD0, X86_OP_GROUP2_RM_1), ext, dst, bits == 8)
	default:
		e.encodeRM(bits, opBits8(bits, 0xC0, X86_OP_GROUP2_RM_IMM8), ext, dst, bits == 8)
		e.write(byte(amount.imm))
	}
}

func (e *Emitter) ROL(bits int, dst, amount OpArg) { e.shift(shROL, bits, dst, amount) }
func (e *Emitter) ROR(bits int, dst, amount OpArg) { e.shift(shROR, bits, dst, amount) }
func (e *Emitter) SHL(bits int, dst, amount OpArg) { e.shift(shSHL, bits, dst, amount) }
func (e *Emitter) SHR(bits int, dst, amount OpArg) { e.shift(shSHR, bits, dst, amount) }
func (e *Emitter) SAR(bits int, dst, amount OpArg) { e.shift(shSAR, bits, dst, amount) }

// IMUL multiplies dst by src.
func (e *Emitter) IMUL(bits int, dst X86Reg, src OpArg) {
	e.encodeRM(bits, []byte{X86_OP2_ESCAPE, X86_OP2_IMUL_R_RM}, dst.Index(), src, false)
}

// IMULImm sets dst = src * imm.
func (e *Emitter) IMULImm(bits int, dst X86Reg, src OpArg, imm int32) {
	if fitsInt8(int64(imm)) {
		e.encodeRM(bits, []byte{X86_OP_IMUL_IMM8}, dst.Index(), src, false)
		e.write(byte(int8(imm)))
		return
	}
	e.encodeRM(bits, []byte{X86_OP_IMUL_IMM32}, dst.Index(), src, false)
	e.Write32(uint32(imm))
}

func (e *Emitter) NOT(bits int, dst OpArg) {
	e.encodeRM(bits, opBits8(bits, X86_OP_GROUP3_RM8, X86_OP_GROUP3_RM), 2, dst, bits == 8)
}

func (e *Emitter) NEG(bits int, dst OpArg) {
	e.encodeRM(bits, opBits8(bits, X86_OP_GROUP3_RM8, X86_OP_GROUP3_RM), 3, dst, bits == 8)
}

// BSWAP reverses byte order; 16-bit swaps use ROL 8.
func (e *Emitter) BSWAP(bits int, r X86Reg) {
	if bits == 16 {
		e.ROL(16, R(r), Imm8(8))
		return
	}
	rex := byte(0)
	if bits == 64 {
		rex |= X86_REX_W
	}
	if r.REXBit != 0 {
		rex |= X86_REX_B
	}
	if rex != 0 {
		e.write(X86_REX | rex)
	}
	e.write(X86_OP2_ESCAPE, X86_OP2_BSWAP+r.RegBits)
}

// SETcc stores the condition as a byte.
func (e *Emitter) SETcc(cc CCFlags, dst OpArg) {
	e.encodeRM(8, []byte{X86_OP2_ESCAPE, X86_OP2_SETCC + byte(cc)}, 0, dst, true)
}

func (e *Emitter) PUSH(r X86Reg) {
	if r.REXBit != 0 {
		e.write(X86_REX | X86_REX_B)
	}
	e.write(X86_OP_PUSH_R + r.RegBits)
}

func (e *Emitter) POP(r X86Reg) {
	if r.REXBit != 0 {
		e.write(X86_REX | X86_REX_B)
	}
	e.write(X86_OP_POP_R + r.RegBits)
}

// PUSHImm pushes a sign-extended 32-bit immediate.
func (e *Emitter) PUSHImm(v int32) {
	e.write(X86_OP_PUSH_IMM32)
	e.Write32(uint32(v))
}

func (e *Emitter) RET() { e.write(X86_OP_RET) }
func (e *Emitter) INT3() { e.write(X86_OP_INT3) }
func (e *Emitter) UD2() { e.write(X86_OP2_ESCAPE, X86_OP2_UD2) }

// NOP emits the recommended multi-byte no-op sequences totalling n bytes.
func (e *Emitter) NOP(n int) {
	seqs := [][]byte{
		{0x90},
		{0x66, 0x90},
		{0x0F, 0x1F, 0x00},
		{0x0F, 0x1F, 0x40, 0x00},
		{0x0F, 0x1F, 0x44, 0x00, 0x00},
		{0x66, 0x0F, 0x1F, 0x44, 0x00, 0x00},
		{0x0F, 0x1F, 0x80, 0x00, 0x00, 0x00, 0x00},
		{0x0F, 0x1F, 0x84, 0x00, 0x00, 0x00, 0x00, 0x00},
		{0x66, 0x0F, 0x1F, 0x84, 0x00, 0x00, 0x00, 0x00, 0x00},
	}
	for n > 0 {
		k := n
		if k > len(seqs) {
			k = len(seqs)
		}
		e.write(seqs[k-1]...)
		n -= k
	}
}
