package memmap

import (
	"encoding/binary"
	"fmt"

	"github.com/colorfulnotion/gekko/jiterrors"
	"github.com/colorfulnotion/gekko/ppc"
)

// translate maps an effective address to a physical one using the fixed
// block translation games boot with: 0x8/0xC (and 0x9/0xD on Wii) mirror
// physical memory, fake VMEM maps one to one.
func (m *Memory) translate(ea uint32, enabled bool) (uint32, bool) {
	if !enabled {
		return ea, true
	}
	switch ea >> 28 {
	case 0x8, 0xC:
		return ea & 0x3FFFFFFF, true
	case 0x9, 0xD:
		if m.cfg.Wii {
			return ea & 0x3FFFFFFF, true
		}
	}
	if ea >= FakeVMEMBase && ea < FakeVMEMBase+FakeVMEMSize && m.regionFor(FakeVMEMBase) != nil {
		return ea, true
	}
	return 0, false
}

func (m *Memory) msrBit(bit uint32) bool {
	if m.msr == nil {
		return true
	}
	return m.msr()&bit != 0
}

// TranslateData applies data address translation.
func (m *Memory) TranslateData(ea uint32) (uint32, bool) { return m.translate(ea, m.msrBit(ppc.MSRDR)) }

// TranslateFetch applies instruction address translation.
func (m *Memory) TranslateFetch(ea uint32) (uint32, bool) { return m.translate(ea, m.msrBit(ppc.MSRIR)) }

// hostSlice returns the backing bytes for a physical access that fits in
// one region.
func (m *Memory) hostSlice(phys uint32, size int) []byte {
	r := m.regionFor(phys)
	if r == nil {
		return nil
	}
	off := phys - r.Physical
	if uint64(off)+uint64(size) > uint64(r.Size) {
		return nil
	}
	return r.view[off : off+uint32(size)]
}

func validSize(size int) bool { return size == 1 || size == 2 || size == 4 || size == 8 }

// ReadPhysical reads size bytes at a physical address, MMIO included.
func (m *Memory) ReadPhysical(phys uint32, size int) (uint64, error) {
	if !validSize(size) {
		return 0, fmt.Errorf("%w: %d", jiterrors.ErrMisalignedAccess, size)
	}
	if b := m.hostSlice(phys, size); b != nil {
		return beLoad(b, size), nil
	}
	if h := m.mmioFor(phys); h != nil {
		return h.Read(phys, size), nil
	}
	return 0, fmt.Errorf("%w: read%d at 0x%08X", jiterrors.ErrUnmappedAccess, size*8, phys)
}

// WritePhysical writes size bytes at a physical address, MMIO included.
func (m *Memory) WritePhysical(phys uint32, size int, v uint64) error {
	if !validSize(size) {
		return fmt.Errorf("%w: %d", jiterrors.ErrMisalignedAccess, size)
	}
	if b := m.hostSlice(phys, size); b != nil {
		beStore(b, size, v)
		return nil
	}
	if h := m.mmioFor(phys); h != nil {
		h.Write(phys, size, v)
		return nil
	}
	return fmt.Errorf("%w: write%d at 0x%08X", jiterrors.ErrUnmappedAccess, size*8, phys)
}

// Read is the translated slow path load used by the interpreter and by
// compiled code that cannot use fastmem.
func (m *Memory) Read(ea uint32, size int) (uint64, bool) {
	phys, ok := m.TranslateData(ea)
	if !ok {
		return 0, false
	}
	v, err := m.ReadPhysical(phys, size)
	return v, err == nil
}

// Write is the translated slow path store.
func (m *Memory) Write(ea uint32, size int, v uint64) bool {
	phys, ok := m.TranslateData(ea)
	if !ok {
		return false
	}
	return m.WritePhysical(phys, size, v) == nil
}

func (m *Memory) ReadU8(ea uint32) (uint8, bool) {
	v, ok := m.Read(ea, 1)
	return uint8(v), ok
}

func (m *Memory) ReadU16(ea uint32) (uint16, bool) {
	v, ok := m.Read(ea, 2)
	return uint16(v), ok
}

func (m *Memory) ReadU32(ea uint32) (uint32, bool) {
	v, ok := m.Read(ea, 4)
	return uint32(v), ok
}

func (m *Memory) ReadU64(ea uint32) (uint64, bool) { return m.Read(ea, 8) }

func (m *Memory) WriteU8(ea uint32, v uint8) bool   { return m.Write(ea, 1, uint64(v)) }
func (m *Memory) WriteU16(ea uint32, v uint16) bool { return m.Write(ea, 2, uint64(v)) }
func (m *Memory) WriteU32(ea uint32, v uint32) bool { return m.Write(ea, 4, uint64(v)) }
func (m *Memory) WriteU64(ea uint32, v uint64) bool { return m.Write(ea, 8, v) }

// FetchInstruction reads an instruction word through instruction
// translation. Only RAM-backed addresses are executable.
func (m *Memory) FetchInstruction(ea uint32) (ppc.Inst, uint32, bool) {
	phys, ok := m.TranslateFetch(ea)
	if !ok || ea&3 != 0 {
		return 0, 0, false
	}
	b := m.hostSlice(phys, 4)
	if b == nil {
		return 0, 0, false
	}
	return ppc.Inst(binary.BigEndian.Uint32(b)), phys, true
}

// CopyToEmu copies host bytes to guest effective address ea.
func (m *Memory) CopyToEmu(ea uint32, data []byte) error {
	for len(data) > 0 {
		phys, ok := m.TranslateData(ea)
		if !ok {
			return fmt.Errorf("%w: copy to 0x%08X", jiterrors.ErrUnmappedAccess, ea)
		}
		r := m.regionFor(phys)
		if r == nil {
			return fmt.Errorf("%w: copy to 0x%08X", jiterrors.ErrUnmappedAccess, ea)
		}
		n := copy(r.view[phys-r.Physical:], data)
		data = data[n:]
		ea += uint32(n)
	}
	return nil
}

// CopyFromEmu fills dst from guest effective address ea.
func (m *Memory) CopyFromEmu(dst []byte, ea uint32) error {
	for len(dst) > 0 {
		phys, ok := m.TranslateData(ea)
		if !ok {
			return fmt.Errorf("%w: copy from 0x%08X", jiterrors.ErrUnmappedAccess, ea)
		}
		r := m.regionFor(phys)
		if r == nil {
			return fmt.Errorf("%w: copy from 0x%08X", jiterrors.ErrUnmappedAccess, ea)
		}
		n := copy(dst, r.view[phys-r.Physical:])
		dst = dst[n:]
		ea += uint32(n)
	}
	return nil
}

// Clear zeroes every region.
func (m *Memory) Clear() {
	for _, r := range m.regions {
		clear(r.view)
	}
}

func beLoad(b []byte, size int) uint64 {
	switch size {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(binary.BigEndian.Uint16(b))
	case 4:
		return uint64(binary.BigEndian.Uint32(b))
	}
	return binary.BigEndian.Uint64(b)
}

func beStore(b []byte, size int, v uint64) {
	switch size {
	case 1:
		b[0] = byte(v)
	case 2:
		binary.BigEndian.PutUint16(b, uint16(v))
	case 4:
		binary.BigEndian.PutUint32(b, uint32(v))
	default:
		binary.BigEndian.PutUint64(b, v)
	}
}
