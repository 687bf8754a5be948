package x64

import (
	"encoding/binary"
	"fmt"
)

// FixupBranch is a forward jump whose target is patched later.
type FixupBranch struct {
	ptr   uintptr // address just past the displacement
	short bool
	valid bool
}

func (f FixupBranch) Valid() bool { return f.valid }

func rel(from, to uintptr) int64 { return int64(to) - int64(from) }

// JMP jumps to target, using rel8 when it reaches and force5 is not set.
func (e *Emitter) JMP(target uintptr, force5 bool) {
	if !force5 {
		if d := rel(e.code+2, target); fitsInt8(d) {
			e.write(X86_OP_JMP_REL8, byte(int8(d)))
			return
		}
	}
	d := rel(e.code+5, target)
	if !fitsInt32(d) {
		panic(fmt.Sprintf("x64: JMP target %#x out of rel32 range", target))
	}
	e.write(X86_OP_JMP_REL32)
	e.Write32(uint32(int32(d)))
}

// J_CC jumps to target when cc holds.
func (e *Emitter) J_CC(cc CCFlags, target uintptr, force6 bool) {
	if !force6 {
		if d := rel(e.code+2, target); fitsInt8(d) {
			e.write(X86_OP_JCC_REL8+byte(cc), byte(int8(d)))
			return
		}
	}
	d := rel(e.code+6, target)
	if !fitsInt32(d) {
		panic(fmt.Sprintf("x64: Jcc target %#x out of rel32 range", target))
	}
	e.write(X86_OP2_ESCAPE, X86_OP2_JCC_REL32+byte(cc))
	e.Write32(uint32(int32(d)))
}

// J emits a forward JMP to be resolved with SetJumpTarget.
func (e *Emitter) J(short bool) FixupBranch {
	if short {
		e.write(X86_OP_JMP_REL8, 0)
	} else {
		e.write(X86_OP_JMP_REL32)
		e.Write32(0)
	}
	return FixupBranch{ptr: e.code, short: short, valid: !e.writeFailed}
}

// JCC emits a forward conditional jump to be resolved with SetJumpTarget.
func (e *Emitter) JCC(cc CCFlags, short bool) FixupBranch {
	if short {
		e.write(X86_OP_JCC_REL8+byte(cc), 0)
	} else {
		e.write(X86_OP2_ESCAPE, X86_OP2_JCC_REL32+byte(cc))
		e.Write32(0)
	}
	return FixupBranch{ptr: e.code, short: short, valid: !e.writeFailed}
}

// SetJumpTarget resolves f to the current cursor.
func (e *Emitter) SetJumpTarget(f FixupBranch) { e.SetJumpTargetTo(f, e.code) }

// SetJumpTargetTo resolves f to target.
func (e *Emitter) SetJumpTargetTo(f FixupBranch, target uintptr) {
	if !f.valid {
		return
	}
	d := rel(f.ptr, target)
	if f.short {
		if !fitsInt8(d) {
			panic(fmt.Sprintf("x64: short jump to %#x out of range", target))
		}
		e.space.Write(f.ptr-1, []byte{byte(int8(d))})
		return
	}
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(int32(d)))
	e.space.Write(f.ptr-4, b[:])
}

// CALL calls target with a rel32 displacement.
func (e *Emitter) CALL(target uintptr) {
	d := rel(e.code+5, target)
	if !fitsInt32(d) {
		panic(fmt.Sprintf("x64: CALL target %#x out of rel32 range", target))
	}
	e.write(X86_OP_CALL_REL32)
	e.Write32(uint32(int32(d)))
}

// CALLForward emits a CALL whose target is bound later with SetJumpTarget.
func (e *Emitter) CALLForward() FixupBranch {
	e.write(X86_OP_CALL_REL32)
	e.Write32(0)
	return FixupBranch{ptr: e.code, valid: !e.writeFailed}
}

// CallFar calls target through RAX when it may be out of rel32 range.
func (e *Emitter) CallFar(target uintptr) {
	if fitsInt32(rel(e.code+5, target)) {
		e.CALL(target)
		return
	}
	e.MOV(64, R(RAX), Imm64(uint64(target)))
	e.CALLptr(R(RAX))
}

// CALLptr calls through a register or memory operand.
func (e *Emitter) CALLptr(a OpArg) { e.encodeRM(32, []byte{X86_OP_GROUP5_RM}, 2, a, false) }

// JMPptr jumps through a register or memory operand.
func (e *Emitter) JMPptr(a OpArg) { e.encodeRM(32, []byte{X86_OP_GROUP5_RM}, 4, a, false) }
