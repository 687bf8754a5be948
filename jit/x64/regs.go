// Package x64 emits x86-64 machine code into executable code space.
package x64

import "math/bits"

// X86Reg represents an x86-64 register with encoding information
type X86Reg struct {
	Name    string
	RegBits byte // 3-bit code for ModRM/SIB
	REXBit  byte // 1 if register index >= 8
}

// Index is the 4-bit hardware register number.
func (r X86Reg) Index() int { return int(r.REXBit)<<3 | int(r.RegBits) }

func (r X86Reg) String() string { return r.Name }

var (
	RAX = X86Reg{"rax", 0, 0}
	RCX = X86Reg{"rcx", 1, 0}
	RDX = X86Reg{"rdx", 2, 0}
	RBX = X86Reg{"rbx", 3, 0}
	RSP = X86Reg{"rsp", 4, 0}
	RBP = X86Reg{"rbp", 5, 0}
	RSI = X86Reg{"rsi", 6, 0}
	RDI = X86Reg{"rdi", 7, 0}
	R8  = X86Reg{"r8", 0, 1}
	R9  = X86Reg{"r9", 1, 1}
	R10 = X86Reg{"r10", 2, 1}
	R11 = X86Reg{"r11", 3, 1}
	R12 = X86Reg{"r12", 4, 1}
	R13 = X86Reg{"r13", 5, 1}
	R14 = X86Reg{"r14", 6, 1}
	R15 = X86Reg{"r15", 7, 1}
)

// Regs lists the registers by hardware number.
var Regs = [16]X86Reg{RAX, RCX, RDX, RBX, RSP, RBP, RSI, RDI, R8, R9, R10, R11, R12, R13, R14, R15}

// Fixed roles in generated code.
var (
	RSCRATCH      = RAX // return values, indirect exit destinations
	RSCRATCH2     = RDX
	RSCRATCHExtra = RCX
	RPPCState     = RBP // guest state page
	RMem          = RBX // fastmem base
)

// System V argument registers.
var ABIParams = [4]X86Reg{RDI, RSI, RDX, RCX}

// RegSet is a set of host registers indexed by hardware number.
type RegSet uint16

func SetOf(regs ...X86Reg) RegSet {
	var s RegSet
	for _, r := range regs {
		s |= 1 << uint(r.Index())
	}
	return s
}

func (s RegSet) Has(r X86Reg) bool { return s&(1<<uint(r.Index())) != 0 }
func (s RegSet) With(r X86Reg) RegSet { return s | 1<<uint(r.Index()) }
func (s RegSet) Without(r X86Reg) RegSet { return s &^ (1 << uint(r.Index())) }
func (s RegSet) Count() int { return bits.OnesCount16(uint16(s)) }

// Regs returns the members in hardware order.
func (s RegSet) Regs() []X86Reg {
	out := make([]X86Reg, 0, s.Count())
	for v := uint16(s); v != 0; v &= v - 1 {
		out = append(out, Regs[bits.TrailingZeros16(v)])
	}
	return out
}

// CallerSaved are clobbered by helper calls.
var CallerSaved = SetOf(RAX, RCX, RDX, RSI, RDI, R8, R9, R10, R11)

// CalleeSaved must be preserved by the entry routine.
var CalleeSaved = SetOf(RBX, RBP, R12, R13, R14, R15)
