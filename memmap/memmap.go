// Package memmap owns guest memory: the physical regions backed by a shared
// memory file, the fastmem arena that maps them at fixed host offsets, the
// slow big-endian access path, and MMIO dispatch.
package memmap

import (
	"fmt"
	"sort"
	"sync"
	"unsafe"

	"github.com/colorfulnotion/gekko/config"
	"github.com/colorfulnotion/gekko/jiterrors"
	"github.com/colorfulnotion/gekko/log"
	"github.com/colorfulnotion/gekko/ppc"
	"golang.org/x/sys/unix"
)

const (
	// ArenaSize covers the physical window, the logical window and slack.
	ArenaSize = 0x400000000
	// LogicalOffset is the distance from the physical to the logical base.
	LogicalOffset = 0x200000000
	// WindowSize bounds each window; the extra 0x10000 absorbs displacement
	// overrun from base+offset addressing.
	WindowSize = 0x100010000

	RAMBase      = 0x00000000
	L1Base       = 0xE0000000
	L1Size       = 0x00040000
	FakeVMEMBase = 0x7E000000
	FakeVMEMSize = 0x02000000
	EXRAMBase    = 0x10000000

	// GatherPipePhysical is the write-gather port; guest code writes it at
	// 0xCC008000.
	GatherPipePhysical = 0x0C008000
	GatherPipeLogical  = 0xCC008000
)

type regionFlag int

const (
	always regionFlag = iota
	fakeVMEM
	wiiOnly
)

// Region is one physical memory block.
type Region struct {
	Name     string
	Physical uint32
	Size     uint32
	shmOff   int64
	flags    regionFlag
	view     []byte
}

// View is the region's host mapping used by the slow path.
func (r *Region) View() []byte { return r.view }

// Mapping is a logical alias of a physical region inside the fastmem arena.
type Mapping struct {
	Logical  uint32
	Physical uint32
	Size     uint32
}

// MMIOHandler serves accesses to a device register block.
type MMIOHandler interface {
	Read(addr uint32, size int) uint64
	Write(addr uint32, size int, v uint64)
}

type mmioRange struct {
	base, size uint32
	h          MMIOHandler
}

// Memory is guest memory for one emulated console.
type Memory struct {
	mu       sync.RWMutex
	cfg      config.MemoryConfig
	fd       int
	regions  []*Region
	mappings []Mapping
	mmio     []mmioRange
	msr      func() uint32

	arena        []byte
	physicalBase uintptr
	logicalBase  uintptr
}

// New creates the shared memory file and a view of every active region. The
// fastmem arena is reserved when cfg.FastmemArena is set; failure to reserve
// it is not fatal, accesses then only use the slow path.
func New(cfg config.MemoryConfig) (*Memory, error) {
	m := &Memory{cfg: cfg, fd: -1}
	ram := &Region{Name: "mem1", Physical: RAMBase, Size: uint32(cfg.Mem1Size), flags: always}
	m.regions = []*Region{
		ram,
		{Name: "l1", Physical: L1Base, Size: L1Size, flags: always},
		{Name: "fakevmem", Physical: FakeVMEMBase, Size: FakeVMEMSize, flags: fakeVMEM},
		{Name: "exram", Physical: EXRAMBase, Size: uint32(cfg.Mem2Size), flags: wiiOnly},
	}
	active := m.regions[:0]
	for _, r := range m.regions {
		if r.flags == wiiOnly && !cfg.Wii {
			continue
		}
		if r.Size == 0 {
			continue
		}
		active = append(active, r)
	}
	m.regions = active

	var total int64
	for _, r := range m.regions {
		r.shmOff = total
		total += int64(r.Size)
	}
	fd, err := unix.MemfdCreate("gekko-ram", unix.MFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("memfd: %w", err)
	}
	m.fd = fd
	if err := unix.Ftruncate(fd, total); err != nil {
		m.Shutdown()
		return nil, fmt.Errorf("ftruncate %d: %w", total, err)
	}
	for _, r := range m.regions {
		v, err := unix.Mmap(fd, r.shmOff, int(r.Size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
		if err != nil {
			m.Shutdown()
			return nil, fmt.Errorf("view of %s at 0x%08X (size 0x%08X): %w", r.Name, r.Physical, r.Size, err)
		}
		r.view = v
	}

	m.mappings = []Mapping{
		{Logical: 0x80000000, Physical: RAMBase, Size: ram.Size},
		{Logical: 0xC0000000, Physical: RAMBase, Size: ram.Size},
		{Logical: FakeVMEMBase, Physical: FakeVMEMBase, Size: FakeVMEMSize},
	}
	if cfg.Wii && cfg.Mem2Size > 0 {
		m.mappings = append(m.mappings,
			Mapping{Logical: 0x90000000, Physical: EXRAMBase, Size: uint32(cfg.Mem2Size)},
			Mapping{Logical: 0xD0000000, Physical: EXRAMBase, Size: uint32(cfg.Mem2Size)},
		)
	}

	if cfg.FastmemArena {
		if err := m.initFastmemArena(); err != nil {
			log.Warn(log.MemoryModule, "fastmem arena unavailable, using slow path", "err", err)
		}
	}
	log.Info(log.MemoryModule, "guest memory ready", "regions", len(m.regions), "fastmem", m.FastmemEnabled())
	return m, nil
}

func (m *Memory) initFastmemArena() error {
	arena, err := unix.Mmap(-1, 0, ArenaSize, unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_NORESERVE)
	if err != nil {
		return fmt.Errorf("%w: %v", jiterrors.ErrArenaUnavailable, err)
	}
	m.arena = arena
	m.physicalBase = uintptr(unsafe.Pointer(&arena[0]))
	m.logicalBase = m.physicalBase + LogicalOffset

	for _, r := range m.regions {
		if err := m.mapFixed(m.physicalBase+uintptr(r.Physical), r.shmOff, r.Size); err != nil {
			m.releaseArena()
			return fmt.Errorf("%w: physical region at 0x%08X (size 0x%08X): %v", jiterrors.ErrArenaUnavailable, r.Physical, r.Size, err)
		}
	}
	for _, mp := range m.mappings {
		r := m.regionFor(mp.Physical)
		if r == nil {
			continue
		}
		off := r.shmOff + int64(mp.Physical-r.Physical)
		if err := m.mapFixed(m.logicalBase+uintptr(mp.Logical), off, mp.Size); err != nil {
			m.releaseArena()
			return fmt.Errorf("%w: logical region at 0x%08X (size 0x%08X): %v", jiterrors.ErrArenaUnavailable, mp.Logical, mp.Size, err)
		}
	}
	return nil
}

func (m *Memory) mapFixed(at uintptr, off int64, size uint32) error {
	_, err := unix.MmapPtr(m.fd, off, unsafe.Pointer(at), uintptr(size),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_FIXED)
	return err
}

func (m *Memory) releaseArena() {
	if m.arena != nil {
		_ = unix.Munmap(m.arena)
	}
	m.arena = nil
	m.physicalBase = 0
	m.logicalBase = 0
}

// Shutdown unmaps every view and the arena and closes the memory file.
func (m *Memory) Shutdown() error {
	m.releaseArena()
	for _, r := range m.regions {
		if r.view != nil {
			_ = unix.Munmap(r.view)
			r.view = nil
		}
	}
	if m.fd >= 0 {
		err := unix.Close(m.fd)
		m.fd = -1
		return err
	}
	return nil
}

// AttachState lets translation follow the guest MSR.
func (m *Memory) AttachState(st *ppc.State) { m.msr = st.MSR }

func (m *Memory) FastmemEnabled() bool  { return m.arena != nil }
func (m *Memory) PhysicalBase() uintptr { return m.physicalBase }
func (m *Memory) LogicalBase() uintptr  { return m.logicalBase }

// Regions lists active physical regions in address order.
func (m *Memory) Regions() []*Region {
	out := append([]*Region(nil), m.regions...)
	sort.Slice(out, func(i, j int) bool { return out[i].Physical < out[j].Physical })
	return out
}

// Mappings lists the logical aliases.
func (m *Memory) Mappings() []Mapping { return append([]Mapping(nil), m.mappings...) }

// RAM is the mem1 view.
func (m *Memory) RAM() []byte { return m.regions[0].view }

// WindowOffset reports whether host address addr falls in the physical or
// logical fastmem window and returns its offset from that window's base.
func (m *Memory) WindowOffset(addr uintptr) (uint64, bool) {
	if m.arena == nil {
		return 0, false
	}
	if addr >= m.physicalBase && addr < m.physicalBase+WindowSize {
		return uint64(addr - m.physicalBase), true
	}
	if addr >= m.logicalBase && addr < m.logicalBase+WindowSize {
		return uint64(addr - m.logicalBase), true
	}
	return 0, false
}

func (m *Memory) regionFor(phys uint32) *Region {
	for _, r := range m.regions {
		if phys >= r.Physical && uint64(phys) < uint64(r.Physical)+uint64(r.Size) {
			return r
		}
	}
	return nil
}

// RegisterMMIO routes accesses to [base, base+size) physical to h.
func (m *Memory) RegisterMMIO(base, size uint32, h MMIOHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mmio = append(m.mmio, mmioRange{base: base, size: size, h: h})
}

func (m *Memory) mmioFor(phys uint32) MMIOHandler {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.mmio {
		if phys >= r.base && phys-r.base < r.size {
			return r.h
		}
	}
	return nil
}

// IsOptimizableGatherPipeWrite reports whether a store to addr can be
// compiled as a direct gather pipe append.
func IsOptimizableGatherPipeWrite(addr uint32) bool {
	return addr == GatherPipeLogical
}
