package x64

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEmitter(t *testing.T, size int) (*Emitter, *CodeSpace) {
	t.Helper()
	space := NewCodeSpaceAt(make([]byte, size))
	return NewEmitter(space, Region{Start: space.Base(), End: space.End()}), space
}

func emitted(e *Emitter, space *CodeSpace) []byte {
	return space.Slice(space.Base(), e.GetCodePtr())
}

func TestEncodings(t *testing.T) {
	cases := []struct {
		name string
		emit func(e *Emitter)
		want []byte
	}{
		{"mov eax, ecx", func(e *Emitter) { e.MOV(32, R(RAX), R(RCX)) }, []byte{0x89, 0xC8}},
		{"mov r12, [rbp+0x80]", func(e *Emitter) { e.MOV(64, R(R12), PPCState(0x80)) }, []byte{0x4C, 0x8B, 0xA5, 0x80, 0, 0, 0}},
		{"mov [rbp], eax", func(e *Emitter) { e.MOV(32, PPCState(0), R(RAX)) }, []byte{0x89, 0x45, 0x00}},
		{"mov rax, imm64", func(e *Emitter) { e.MOV(64, R(RAX), Imm64(0x123456789)) }, []byte{0x48, 0xB8, 0x89, 0x67, 0x45, 0x23, 0x01, 0, 0, 0}},
		{"mov r9d, 5", func(e *Emitter) { e.MOV(32, R(R9), Imm32(5)) }, []byte{0x41, 0xB9, 5, 0, 0, 0}},
		{"mov eax, [rbx+rdx]", func(e *Emitter) { e.MOV(32, R(RAX), MComplex(RBX, RDX, 1, 0)) }, []byte{0x8B, 0x04, 0x13}},
		{"add eax, 1", func(e *Emitter) { e.ADD(32, R(RAX), Imm32(1)) }, []byte{0x83, 0xC0, 0x01}},
		{"cmp rax, [rsp+8]", func(e *Emitter) { e.CMP(64, R(RAX), MDisp(RSP, 8)) }, []byte{0x48, 0x3B, 0x44, 0x24, 0x08}},
		{"movzx esi, dil", func(e *Emitter) { e.MOVZX(32, 8, RSI, R(RDI)) }, []byte{0x40, 0x0F, 0xB6, 0xF7}},
		{"bswap r8d", func(e *Emitter) { e.BSWAP(32, R8) }, []byte{0x41, 0x0F, 0xC8}},
		{"shl eax, 3", func(e *Emitter) { e.SHL(32, R(RAX), Imm8(3)) }, []byte{0xC1, 0xE0, 0x03}},
		{"sar eax, 1", func(e *Emitter) { e.SAR(32, R(RAX), Imm8(1)) }, []byte{0xD1, 0xF8}},
		{"ror ecx, cl", func(e *Emitter) { e.ROR(32, R(RCX), R(RCX)) }, []byte{0xD3, 0xC9}},
		{"adc eax, ebx", func(e *Emitter) { e.ADC(32, R(RAX), R(RBX)) }, []byte{0x11, 0xD8}},
		{"ud2", func(e *Emitter) { e.UD2() }, []byte{0x0F, 0x0B}},
		{"push r12", func(e *Emitter) { e.PUSH(R12) }, []byte{0x41, 0x54}},
		{"ret", func(e *Emitter) { e.RET() }, []byte{0xC3}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e, space := newTestEmitter(t, 64)
			tc.emit(e)
			require.False(t, e.HasWriteFailed())
			got := emitted(e, space)
			assert.Equal(t, tc.want, got)
			lens, err := InstLengths(got)
			require.NoError(t, err)
			assert.Len(t, lens, 1)
		})
	}
}

func TestFixupBranch(t *testing.T) {
	e, space := newTestEmitter(t, 64)
	f := e.J(false)
	e.INT3()
	e.INT3()
	e.INT3()
	e.SetJumpTarget(f)
	assert.Equal(t, []byte{0xE9, 3, 0, 0, 0, 0xCC, 0xCC, 0xCC}, emitted(e, space))

	e, space = newTestEmitter(t, 64)
	f = e.JCC(CC_NZ, true)
	e.RET()
	e.SetJumpTarget(f)
	assert.Equal(t, []byte{0x75, 1, 0xC3}, emitted(e, space))
}

func TestBackwardBranches(t *testing.T) {
	e, space := newTestEmitter(t, 64)
	start := e.GetCodePtr()
	e.JMP(start, false)
	e.J_CC(CC_E, start, true)
	e.CALL(start)
	code := emitted(e, space)
	assert.Equal(t, []byte{0xEB, 0xFE}, code[:2])
	assert.Equal(t, []byte{0x0F, 0x84, 0xF8, 0xFF, 0xFF, 0xFF}, code[2:8])
	assert.Equal(t, []byte{0xE8, 0xF3, 0xFF, 0xFF, 0xFF}, code[8:13])

	e, _ = newTestEmitter(t, 64)
	start = e.GetCodePtr()
	e.JMP(start, true)
	assert.Equal(t, uintptr(5), e.GetCodePtr()-start)
}

func TestWriteOverflowLatches(t *testing.T) {
	e, space := newTestEmitter(t, 16)
	e.SetCodePtr(space.Base(), space.Base()+4)
	e.Write32(0xdeadbeef)
	assert.False(t, e.HasWriteFailed())
	e.Write8(1)
	assert.True(t, e.HasWriteFailed())
	assert.Equal(t, 0, e.Remaining())
	e.SetCodePtr(space.Base(), space.End())
	assert.False(t, e.HasWriteFailed())
}

func TestNOPAndAlign(t *testing.T) {
	e, space := newTestEmitter(t, 64)
	e.NOP(12)
	lens, err := InstLengths(emitted(e, space))
	require.NoError(t, err)
	total := 0
	for _, l := range lens {
		total += l
	}
	assert.Equal(t, 12, total)
	e.AlignCode16()
	assert.Equal(t, uintptr(0), (e.GetCodePtr()-space.Base())%16)
}

func TestDirtyTracking(t *testing.T) {
	e, space := newTestEmitter(t, 64)
	_, _, ok := space.TakeDirty()
	assert.False(t, ok)
	e.SetCodePtr(space.Base()+8, space.End())
	e.RET()
	lo, hi, ok := space.TakeDirty()
	require.True(t, ok)
	assert.Equal(t, space.Base()+8, lo)
	assert.Equal(t, space.Base()+9, hi)
	_, _, ok = space.TakeDirty()
	assert.False(t, ok)
}

func TestCarveAndRegSet(t *testing.T) {
	space := NewCodeSpaceAt(make([]byte, 100))
	regions, err := space.Carve(10, 40, 50)
	require.NoError(t, err)
	require.Len(t, regions, 3)
	assert.Equal(t, regions[0].End, regions[1].Start)
	assert.Equal(t, 50, regions[2].Size())
	_, err = space.Carve(60, 60)
	assert.Error(t, err)

	s := SetOf(RAX, R12, RDI)
	assert.Equal(t, 3, s.Count())
	assert.True(t, s.Has(R12))
	assert.False(t, s.Without(R12).Has(R12))
	assert.Equal(t, []X86Reg{RAX, RDI, R12}, s.Regs())
}

func TestDisassemble(t *testing.T) {
	e, space := newTestEmitter(t, 64)
	e.MOV(32, R(RAX), R(RCX))
	e.RET()
	out := Disassemble(emitted(e, space))
	assert.Contains(t, out, "0x0000: 89 c8")
	assert.Contains(t, out, "0x0002: c3")
}
