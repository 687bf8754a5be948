package x64

import (
	"encoding/binary"
	"fmt"
)

// Emitter writes instructions at a cursor inside a code space region. A
// write that would cross the region end is dropped and latches
// HasWriteFailed until the cursor is moved again.
type Emitter struct {
	space       *CodeSpace
	code        uintptr
	end         uintptr
	writeFailed bool
}

func NewEmitter(space *CodeSpace, r Region) *Emitter {
	return &Emitter{space: space, code: r.Start, end: r.End}
}

func (e *Emitter) Space() *CodeSpace { return e.space }

// SetCodePtr moves the cursor and its limit, clearing any write failure.
func (e *Emitter) SetCodePtr(p, end uintptr) {
	e.code = p
	e.end = end
	e.writeFailed = false
}

func (e *Emitter) GetCodePtr() uintptr { return e.code }
func (e *Emitter) GetCodeEnd() uintptr { return e.end }
func (e *Emitter) HasWriteFailed() bool { return e.writeFailed }

// Remaining is the number of bytes left before the limit.
func (e *Emitter) Remaining() int {
	if e.code >= e.end {
		return 0
	}
	return int(e.end - e.code)
}

func (e *Emitter) write(b ...byte) {
	if e.writeFailed {
		return
	}
	if e.code+uintptr(len(b)) > e.end {
		e.writeFailed = true
		return
	}
	e.space.Write(e.code, b)
	e.code += uintptr(len(b))
}

func (e *Emitter) Write8(v uint8) { e.write(v) }

func (e *Emitter) Write16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	e.write(b[:]...)
}

func (e *Emitter) Write32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	e.write(b[:]...)
}

func (e *Emitter) Write64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	e.write(b[:]...)
}

// WriteBytes copies raw bytes.
func (e *Emitter) WriteBytes(b []byte) { e.write(b...) }

// AlignCode4 pads with INT3 to a 4-byte boundary.
func (e *Emitter) AlignCode4() { e.align(4) }

// AlignCode16 pads with INT3 to a 16-byte boundary.
func (e *Emitter) AlignCode16() { e.align(16) }

func (e *Emitter) align(n uintptr) {
	for e.code%n != 0 && !e.writeFailed {
		e.write(X86_OP_INT3)
	}
}

// encodeRM writes prefixes, opcode, ModRM, SIB and displacement. reg is the
// ModRM reg field (a register number or an opcode extension). byteRegs
// forces a REX prefix so that registers 4-7 address SPL..DIL.
func (e *Emitter) encodeRM(bits int, opcode []byte, reg int, rm OpArg, byteRegs bool) {
	if bits == 16 {
		e.write(X86_OP_OPSIZE)
	}
	rex := byte(0)
	if bits == 64 {
		rex |= X86_REX_W
	}
	if reg >= 8 {
		rex |= X86_REX_R
	}
	switch rm.kind {
	case argReg:
		if rm.reg.REXBit != 0 {
			rex |= X86_REX_B
		}
		if byteRegs && rm.reg.Index() >= 4 && rm.reg.Index() < 8 {
			rex |= X86_REX
		}
	case argMem:
		if rm.base.REXBit != 0 {
			rex |= X86_REX_B
		}
		if rm.hasIndex && rm.index.REXBit != 0 {
			rex |= X86_REX_X
		}
	default:
		panic(fmt.Sprintf("x64: bad r/m operand %s", rm))
	}
	if byteRegs && reg >= 4 && reg < 8 {
		rex |= X86_REX
	}
	if rex != 0 {
		e.write(X86_REX | rex)
	}
	e.write(opcode...)

	r := byte(reg & 7)
	if rm.kind == argReg {
		e.write(X86_MOD_REGISTER<<6 | r<<3 | rm.reg.RegBits)
		return
	}
	e.writeMem(r, rm)
}

func (e *Emitter) writeMem(r byte, m OpArg) {
	base := m.base.RegBits
	var mod byte
	switch {
	case m.disp == 0 && base != 5:
		mod = X86_MOD_INDIRECT
	case fitsInt8(int64(m.disp)):
		mod = X86_MOD_INDIRECT_DISP8
	default:
		mod = X86_MOD_INDIRECT_DISP32
	}
	if m.hasIndex {
		e.write(mod<<6 | r<<3 | 4)
		e.write(scaleBits(m.scale)<<6 | m.index.RegBits<<3 | base)
	} else if base == 4 {
		e.write(mod<<6 | r<<3 | 4)
		e.write(0x24)
	} else {
		e.write(mod<<6 | r<<3 | base)
	}
	switch mod {
	case X86_MOD_INDIRECT_DISP8:
		e.write(byte(int8(m.disp)))
	case X86_MOD_INDIRECT_DISP32:
		e.Write32(uint32(m.disp))
	}
}

func scaleBits(s byte) byte {
	switch s {
	case 2:
		return 1
	case 4:
		return 2
	case 8:
		return 3
	}
	return 0
}

func (e *Emitter) writeImm(bits int, v uint64) {
	switch bits {
	case 8:
		e.write(byte(v))
	case 16:
		e.Write16(uint16(v))
	default:
		e.Write32(uint32(v))
	}
}
