package x64

import "fmt"

type argKind uint8

const (
	argNone argKind = iota
	argReg
	argMem
	argImm
)

// OpArg is a register, memory or immediate operand.
type OpArg struct {
	kind     argKind
	reg      X86Reg
	base     X86Reg
	index    X86Reg
	scale    byte
	hasIndex bool
	disp     int32
	imm      uint64
	immBits  int
}

func R(r X86Reg) OpArg { return OpArg{kind: argReg, reg: r} }

// MDisp addresses [base + disp].
func MDisp(base X86Reg, disp int32) OpArg { return OpArg{kind: argMem, base: base, disp: disp} }

// MatR addresses [base].
func MatR(base X86Reg) OpArg { return MDisp(base, 0) }

// MComplex addresses [base + index*scale + disp]; scale is 1, 2, 4 or 8.
func MComplex(base, index X86Reg, scale byte, disp int32) OpArg {
	return OpArg{kind: argMem, base: base, index: index, scale: scale, hasIndex: true, disp: disp}
}

// PPCState addresses a field of the guest state page.
func PPCState(off int32) OpArg { return MDisp(RPPCState, off) }

func Imm8(v uint8) OpArg   { return OpArg{kind: argImm, imm: uint64(v), immBits: 8} }
func Imm16(v uint16) OpArg { return OpArg{kind: argImm, imm: uint64(v), immBits: 16} }
func Imm32(v uint32) OpArg { return OpArg{kind: argImm, imm: uint64(v), immBits: 32} }
func Imm64(v uint64) OpArg { return OpArg{kind: argImm, imm: v, immBits: 64} }

func (a OpArg) IsReg() bool { return a.kind == argReg }
func (a OpArg) IsMem() bool { return a.kind == argMem }
func (a OpArg) IsImm() bool { return a.kind == argImm }

// Reg returns the register of a register operand.
func (a OpArg) Reg() X86Reg { return a.reg }

// Base returns the base register of a memory operand.
func (a OpArg) Base() X86Reg { return a.base }

// Disp returns the displacement of a memory operand.
func (a OpArg) Disp() int32 { return a.disp }

// Imm returns the immediate value.
func (a OpArg) Imm() uint64 { return a.imm }

// WithDisp returns a memory operand displaced by d.
func (a OpArg) WithDisp(d int32) OpArg {
	a.disp += d
	return a
}

func (a OpArg) String() string {
	switch a.kind {
	case argReg:
		return a.reg.Name
	case argMem:
		if a.hasIndex {
			return fmt.Sprintf("[%s+%s*%d%+d]", a.base.Name, a.index.Name, a.scale, a.disp)
		}
		return fmt.Sprintf("[%s%+d]", a.base.Name, a.disp)
	case argImm:
		return fmt.Sprintf("0x%x", a.imm)
	}
	return "none"
}

func fitsInt8(v int64) bool  { return v >= -128 && v <= 127 }
func fitsInt32(v int64) bool { return v >= -1<<31 && v <= 1<<31-1 }
