package ppc

import (
	"encoding/binary"
	"math"
	"unsafe"
)

// The architectural state lives in one flat page so generated code can reach
// every field as [RBP + offset]. All fields are host (little) endian.
const (
	OffPC              = 0x00
	OffNPC             = 0x04
	OffDowncount       = 0x08
	OffExceptions      = 0x0C
	OffMSR             = 0x10
	OffCPUState        = 0x14
	OffInterruptCause  = 0x18
	OffCR              = 0x1C
	OffXER             = 0x20
	OffFPSCR           = 0x24
	OffMemBase         = 0x28
	OffGatherPipePtr   = 0x30
	OffGatherPipeBase  = 0x38
	OffHostRSP         = 0x40
	OffStackTop        = 0x48
	OffDispatchScratch = 0x50
	OffGPR             = 0x80
	OffSPR             = 0x100
	OffPS              = 0x200
	OffGatherPipeBuf   = 0x800

	StateSize         = 0x1000
	GatherPipeBufSize = 0x400
	// GatherPipeSize is the burst size after which buffered writes must be flushed.
	GatherPipeSize = 32
)

// Run states stored at OffCPUState; anything but CPURunning makes the
// dispatcher leave the run loop.
const (
	CPURunning   = 0
	CPUStepping  = 1
	CPUPowerDown = 2
)

// Special purpose register slots inside the SPR area.
const (
	SprLR = iota
	SprCTR
	SprSRR0
	SprSRR1
	SprDAR
	SprDSISR
	SprDEC
	SprHID2
	SprGQR0
	sprSlots = SprGQR0 + 8
)

// Architectural SPR numbers (as encoded in mfspr/mtspr).
const (
	SPRNumXER   = 1
	SPRNumLR    = 8
	SPRNumCTR   = 9
	SPRNumDSISR = 18
	SPRNumDAR   = 19
	SPRNumDEC   = 22
	SPRNumSRR0  = 26
	SPRNumSRR1  = 27
	SPRNumGQR0  = 912
	SPRNumHID2  = 920
)

// SPRSlot maps an architectural SPR number to its state slot.
func SPRSlot(spr uint32) (int, bool) {
	switch {
	case spr == SPRNumLR:
		return SprLR, true
	case spr == SPRNumCTR:
		return SprCTR, true
	case spr == SPRNumSRR0:
		return SprSRR0, true
	case spr == SPRNumSRR1:
		return SprSRR1, true
	case spr == SPRNumDAR:
		return SprDAR, true
	case spr == SPRNumDSISR:
		return SprDSISR, true
	case spr == SPRNumDEC:
		return SprDEC, true
	case spr == SPRNumHID2:
		return SprHID2, true
	case spr >= SPRNumGQR0 && spr < SPRNumGQR0+8:
		return SprGQR0 + int(spr-SPRNumGQR0), true
	}
	return 0, false
}

// GPROffset returns the state offset of gpr[i].
func GPROffset(i int) int32 { return int32(OffGPR + 4*i) }

// SPROffset returns the state offset of an SPR slot.
func SPROffset(slot int) int32 { return int32(OffSPR + 4*slot) }

// GQROffset returns the state offset of GQR i.
func GQROffset(i int) int32 { return SPROffset(SprGQR0 + i) }

// PSOffset returns the offset of ps0 (ps1 follows at +8) of fpr i.
func PSOffset(i int) int32 { return int32(OffPS + 16*i) }

// State is a view over the architectural state page.
type State struct {
	mem []byte
}

// NewState allocates a private state page.
func NewState() *State {
	return NewStateAt(make([]byte, StateSize))
}

// NewStateAt wraps an existing page, e.g. one mapped into an executor.
func NewStateAt(page []byte) *State {
	if len(page) < StateSize {
		panic("ppc: state page too small")
	}
	s := &State{mem: page[:StateSize]}
	s.ResetGatherPipe()
	return s
}

// Addr is the host address generated code uses as the state base.
func (s *State) Addr() uint64 {
	return uint64(uintptr(unsafe.Pointer(&s.mem[0])))
}

// Bytes exposes the raw page.
func (s *State) Bytes() []byte { return s.mem }

func (s *State) u32(off int32) uint32 { return binary.LittleEndian.Uint32(s.mem[off:]) }
func (s *State) put32(off int32, v uint32) { binary.LittleEndian.PutUint32(s.mem[off:], v) }
func (s *State) u64(off int32) uint64 { return binary.LittleEndian.Uint64(s.mem[off:]) }
func (s *State) put64(off int32, v uint64) { binary.LittleEndian.PutUint64(s.mem[off:], v) }

func (s *State) PC() uint32 { return s.u32(OffPC) }
func (s *State) SetPC(v uint32) { s.put32(OffPC, v) }
func (s *State) NPC() uint32 { return s.u32(OffNPC) }
func (s *State) SetNPC(v uint32) { s.put32(OffNPC, v) }
func (s *State) Downcount() int32 { return int32(s.u32(OffDowncount)) }
func (s *State) SetDowncount(v int32) { s.put32(OffDowncount, uint32(v)) }
func (s *State) Exceptions() uint32 { return s.u32(OffExceptions) }
func (s *State) SetExceptions(v uint32) { s.put32(OffExceptions, v) }
func (s *State) RaiseException(bits uint32) { s.SetExceptions(s.Exceptions() | bits) }
func (s *State) ClearException(bits uint32) { s.SetExceptions(s.Exceptions() &^ bits) }
func (s *State) MSR() uint32 { return s.u32(OffMSR) }
func (s *State) SetMSR(v uint32) { s.put32(OffMSR, v) }
func (s *State) CPUState() uint32 { return s.u32(OffCPUState) }
func (s *State) SetCPUState(v uint32) { s.put32(OffCPUState, v) }
func (s *State) InterruptCause() uint32 { return s.u32(OffInterruptCause) }
func (s *State) SetInterruptCause(v uint32) { s.put32(OffInterruptCause, v) }
func (s *State) CR() uint32 { return s.u32(OffCR) }
func (s *State) SetCR(v uint32) { s.put32(OffCR, v) }
func (s *State) XER() uint32 { return s.u32(OffXER) }
func (s *State) SetXER(v uint32) { s.put32(OffXER, v) }
func (s *State) MemBase() uint64 { return s.u64(OffMemBase) }
func (s *State) SetMemBase(v uint64) { s.put64(OffMemBase, v) }
func (s *State) StackTop() uint64 { return s.u64(OffStackTop) }
func (s *State) SetStackTop(v uint64) { s.put64(OffStackTop, v) }

func (s *State) GPR(i int) uint32 { return s.u32(GPROffset(i)) }
func (s *State) SetGPR(i int, v uint32) { s.put32(GPROffset(i), v) }
func (s *State) SPR(slot int) uint32 { return s.u32(SPROffset(slot)) }
func (s *State) SetSPR(slot int, v uint32) { s.put32(SPROffset(slot), v) }
func (s *State) LR() uint32 { return s.SPR(SprLR) }
func (s *State) SetLR(v uint32) { s.SetSPR(SprLR, v) }
func (s *State) CTR() uint32 { return s.SPR(SprCTR) }
func (s *State) SetCTR(v uint32) { s.SetSPR(SprCTR, v) }
func (s *State) GQR(i int) uint32 { return s.SPR(SprGQR0 + i) }
func (s *State) SetGQR(i int, v uint32) { s.SetSPR(SprGQR0+i, v) }

func (s *State) PS0(i int) float64 { return math.Float64frombits(s.u64(PSOffset(i))) }
func (s *State) PS1(i int) float64 { return math.Float64frombits(s.u64(PSOffset(i) + 8)) }
func (s *State) SetPS0(i int, v float64) { s.put64(PSOffset(i), math.Float64bits(v)) }
func (s *State) SetPS1(i int, v float64) { s.put64(PSOffset(i)+8, math.Float64bits(v)) }

// CRBit reads condition register bit n, numbered from the most significant bit.
func (s *State) CRBit(n int) bool { return s.CR()&(0x80000000>>uint(n)) != 0 }

// SetCRField stores the 4-bit field LT GT EQ SO of cr field f.
func (s *State) SetCRField(f int, v uint32) {
	shift := uint(28 - 4*f)
	s.SetCR(s.CR()&^(0xF<<shift) | (v&0xF)<<shift)
}

// CRField reads field f as LT GT EQ SO.
func (s *State) CRField(f int) uint32 { return s.CR() >> uint(28-4*f) & 0xF }

// Carry reports XER[CA].
func (s *State) Carry() bool { return s.XER()&XERCA != 0 }

func (s *State) SetCarry(ca bool) {
	if ca {
		s.SetXER(s.XER() | XERCA)
	} else {
		s.SetXER(s.XER() &^ XERCA)
	}
}

// GatherPipeCount is the number of bytes buffered since the last flush.
func (s *State) GatherPipeCount() int {
	return int(s.u64(OffGatherPipePtr) - s.u64(OffGatherPipeBase))
}

// GatherPipeBytes returns the buffered bytes.
func (s *State) GatherPipeBytes() []byte {
	n := s.GatherPipeCount()
	return s.mem[OffGatherPipeBuf : OffGatherPipeBuf+n]
}

// AppendGatherPipe buffers guest-order bytes from the slow path.
func (s *State) AppendGatherPipe(b []byte) {
	n := s.GatherPipeCount()
	copy(s.mem[OffGatherPipeBuf+n:OffGatherPipeBuf+GatherPipeBufSize], b)
	s.put64(OffGatherPipePtr, s.u64(OffGatherPipePtr)+uint64(len(b)))
}

// ResetGatherPipe points both pipe pointers back at the buffer start.
func (s *State) ResetGatherPipe() {
	base := s.Addr() + OffGatherPipeBuf
	s.put64(OffGatherPipeBase, base)
	s.put64(OffGatherPipePtr, base)
}

// Reset zeroes the registers, keeping the gather pipe pointers valid.
func (s *State) Reset() {
	clear(s.mem)
	s.ResetGatherPipe()
}
