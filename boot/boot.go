// Package boot prepares guest state the way the console's boot ROM leaves
// it, and loads DOL executables into guest memory.
package boot

import (
	"encoding/binary"
	"fmt"

	"github.com/colorfulnotion/gekko/log"
	"github.com/colorfulnotion/gekko/ppc"
	"github.com/colorfulnotion/gekko/ppc/interpreter"
)

// Memory is the subset of guest memory the boot code writes.
type Memory interface {
	WriteU32(ea uint32, v uint32) bool
	CopyToEmu(ea uint32, data []byte) error
}

const (
	hid2LSQE = 1 << 31
	hid2WPE  = 1 << 30
	hid2PSE  = 1 << 29

	rfiInst = 0x4C000064
)

// SetupMSR enables translation, recoverable interrupts and the FPU.
func SetupMSR(st *ppc.State) {
	st.SetMSR(st.MSR() | ppc.MSRRI | ppc.MSRDR | ppc.MSRIR | ppc.MSRFP)
}

// SetupHID enables paired singles, write gathering and quantized
// load/store.
func SetupHID(st *ppc.State) {
	st.SetSPR(ppc.SprHID2, st.SPR(ppc.SprHID2)|hid2LSQE|hid2WPE|hid2PSE)
}

// SetupGCMemory writes the low-memory globals the boot ROM leaves behind
// and installs rfi stubs at the DSI, FPU and syscall vectors.
func SetupGCMemory(mem Memory, ramSize uint32) error {
	words := []struct {
		addr, v uint32
	}{
		{0x80000020, 0x0D15EA5E}, // booted from boot ROM
		{0x80000028, ramSize},
		{0x8000002C, 0x10000006}, // latest devkit console type
		{0x800000CC, 0},          // NTSC video
		{0x800000D0, 0x01000000}, // ARAM size
		{0x800000F8, 0x09A7EC80}, // bus clock
		{0x800000FC, 0x1CF7C580}, // CPU clock
		{0x80000300, rfiInst},
		{0x80000800, rfiInst},
		{0x80000C00, rfiInst},
	}
	for _, w := range words {
		if !mem.WriteU32(w.addr, w.v) {
			return fmt.Errorf("boot: cannot write 0x%08X", w.addr)
		}
	}
	return nil
}

// RunFunction interprets from addr with LR cleared until the function
// returns to address zero, or fails after maxSteps instructions.
func RunFunction(in *interpreter.Interpreter, addr uint32, maxSteps int) error {
	st := in.State()
	st.SetPC(addr)
	st.SetLR(0)
	for steps := 0; st.PC() != 0; steps++ {
		if steps >= maxSteps {
			return fmt.Errorf("boot: function at 0x%08X did not return within %d steps", addr, maxSteps)
		}
		if _, err := in.Step(); err != nil {
			return err
		}
	}
	return nil
}

// DOL layout: 7 text and 11 data sections.
const (
	dolTextSections = 7
	dolDataSections = 11
	dolSections     = dolTextSections + dolDataSections
	dolHeaderSize   = 0x100
)

// Section is one loadable DOL segment.
type Section struct {
	Offset, Address, Size uint32
	Text                  bool
}

// DOL is a parsed executable.
type DOL struct {
	Sections []Section
	BSSAddr  uint32
	BSSSize  uint32
	Entry    uint32
	data     []byte
}

// ParseDOL validates the header and section bounds.
func ParseDOL(data []byte) (*DOL, error) {
	if len(data) < dolHeaderSize {
		return nil, fmt.Errorf("dol: header truncated (%d bytes)", len(data))
	}
	be := binary.BigEndian
	d := &DOL{
		BSSAddr: be.Uint32(data[0xD8:]),
		BSSSize: be.Uint32(data[0xDC:]),
		Entry:   be.Uint32(data[0xE0:]),
		data:    data,
	}
	for i := 0; i < dolSections; i++ {
		s := Section{
			Offset:  be.Uint32(data[4*i:]),
			Address: be.Uint32(data[0x48+4*i:]),
			Size:    be.Uint32(data[0x90+4*i:]),
			Text:    i < dolTextSections,
		}
		if s.Size == 0 {
			continue
		}
		if uint64(s.Offset)+uint64(s.Size) > uint64(len(data)) {
			return nil, fmt.Errorf("dol: section %d [0x%x, +0x%x) exceeds file size 0x%x", i, s.Offset, s.Size, len(data))
		}
		d.Sections = append(d.Sections, s)
	}
	return d, nil
}

// Load copies every section into guest memory and zeroes BSS.
func (d *DOL) Load(mem Memory) error {
	for _, s := range d.Sections {
		if err := mem.CopyToEmu(s.Address, d.data[s.Offset:s.Offset+s.Size]); err != nil {
			return fmt.Errorf("dol: section at 0x%08X: %w", s.Address, err)
		}
	}
	if d.BSSSize > 0 {
		if err := mem.CopyToEmu(d.BSSAddr, make([]byte, d.BSSSize)); err != nil {
			return fmt.Errorf("dol: bss at 0x%08X: %w", d.BSSAddr, err)
		}
	}
	log.Info(log.MemoryModule, "dol loaded", "sections", len(d.Sections), "entry", fmt.Sprintf("0x%08X", d.Entry))
	return nil
}

// Boot loads the DOL, prepares registers and points PC at its entry.
func Boot(st *ppc.State, mem Memory, ramSize uint32, image []byte) (*DOL, error) {
	d, err := ParseDOL(image)
	if err != nil {
		return nil, err
	}
	SetupMSR(st)
	SetupHID(st)
	if err := SetupGCMemory(mem, ramSize); err != nil {
		return nil, err
	}
	if err := d.Load(mem); err != nil {
		return nil, err
	}
	st.SetPC(d.Entry)
	st.SetNPC(d.Entry)
	st.SetGPR(1, 0x80000000+ramSize-0x10) // initial stack
	return d, nil
}

// BuildDOL assembles a DOL image with a single text section; used by tests
// and the CLI to wrap raw code.
func BuildDOL(textAddr uint32, text []byte, entry uint32) []byte {
	img := make([]byte, dolHeaderSize+len(text))
	be := binary.BigEndian
	be.PutUint32(img[0:], dolHeaderSize)
	be.PutUint32(img[0x48:], textAddr)
	be.PutUint32(img[0x90:], uint32(len(text)))
	be.PutUint32(img[0xE0:], entry)
	copy(img[dolHeaderSize:], text)
	return img
}
