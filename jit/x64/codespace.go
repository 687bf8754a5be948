package x64

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/colorfulnotion/gekko/jiterrors"
	"golang.org/x/sys/unix"
)

// CodeSpace is one contiguous executable mapping. Every code region lives in
// it so any two points are reachable with rel32 branches.
type CodeSpace struct {
	mem    []byte
	base   uintptr
	mapped bool

	mu               sync.Mutex
	dirtyLo, dirtyHi uintptr
}

// NewCodeSpace maps size bytes RWX.
func NewCodeSpace(size int) (*CodeSpace, error) {
	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("%w: %d bytes: %v", jiterrors.ErrCodeSpaceAlloc, size, err)
	}
	return &CodeSpace{mem: mem, base: uintptr(unsafe.Pointer(&mem[0])), mapped: true}, nil
}

// NewCodeSpaceAt wraps caller-owned memory; nothing executes from it unless
// the caller made it executable.
func NewCodeSpaceAt(buf []byte) *CodeSpace {
	return &CodeSpace{mem: buf, base: uintptr(unsafe.Pointer(&buf[0]))}
}

// Release unmaps the space.
func (c *CodeSpace) Release() error {
	if !c.mapped {
		return nil
	}
	c.mapped = false
	return unix.Munmap(c.mem)
}

func (c *CodeSpace) Base() uintptr { return c.base }
func (c *CodeSpace) Size() int { return len(c.mem) }
func (c *CodeSpace) End() uintptr { return c.base + uintptr(len(c.mem)) }

// Bytes exposes the whole mapping.
func (c *CodeSpace) Bytes() []byte { return c.mem }

// Contains reports whether p points into the space.
func (c *CodeSpace) Contains(p uintptr) bool { return p >= c.base && p < c.End() }

// Slice returns the bytes in [from, to).
func (c *CodeSpace) Slice(from, to uintptr) []byte {
	return c.mem[from-c.base : to-c.base]
}

// Write stores b at p and widens the dirty window.
func (c *CodeSpace) Write(p uintptr, b []byte) {
	copy(c.mem[p-c.base:], b)
	c.mu.Lock()
	if c.dirtyHi == 0 || p < c.dirtyLo {
		c.dirtyLo = p
	}
	if end := p + uintptr(len(b)); end > c.dirtyHi {
		c.dirtyHi = end
	}
	c.mu.Unlock()
}

// TakeDirty returns and resets the range written since the last call, so an
// executor holding a copy of the space can resynchronise it.
func (c *CodeSpace) TakeDirty() (lo, hi uintptr, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dirtyHi == 0 {
		return 0, 0, false
	}
	lo, hi = c.dirtyLo, c.dirtyHi
	c.dirtyLo, c.dirtyHi = 0, 0
	return lo, hi, true
}

// Region is a sub-range of the space owned by one emitter.
type Region struct {
	Start, End uintptr
}

func (r Region) Size() int { return int(r.End - r.Start) }
func (r Region) Contains(p uintptr) bool { return p >= r.Start && p < r.End }

// Carve splits the space into consecutive regions of the given sizes.
func (c *CodeSpace) Carve(sizes ...int) ([]Region, error) {
	out := make([]Region, 0, len(sizes))
	p := c.base
	for _, sz := range sizes {
		if p+uintptr(sz) > c.End() {
			return nil, fmt.Errorf("%w: regions exceed code space of %d bytes", jiterrors.ErrCodeSpaceAlloc, len(c.mem))
		}
		out = append(out, Region{Start: p, End: p + uintptr(sz)})
		p += uintptr(sz)
	}
	return out, nil
}
