package codecache

import (
	"fmt"

	"github.com/colorfulnotion/gekko/common"
	"github.com/colorfulnotion/gekko/jiterrors"
	"github.com/colorfulnotion/gekko/log"
)

// Pool names one of the two code regions.
type Pool int

const (
	Near Pool = iota // hot block code
	Far              // slow paths and exception exits
)

func (p Pool) String() string {
	if p == Far {
		return "far"
	}
	return "near"
}

// Allocator tracks free space in the near and far code regions. It never
// grows a region; a failed allocation is the caller's cue to clear the cache.
type Allocator struct {
	regions [2]Range
	free    [2]*RangeSet
}

// NewAllocator starts with both regions entirely free.
func NewAllocator(near, far Range) *Allocator {
	a := &Allocator{regions: [2]Range{near, far}}
	for i := range a.free {
		a.free[i] = NewRangeSet()
	}
	a.Reset(Near)
	a.Reset(Far)
	return a
}

// Region returns the bounds of pool p.
func (a *Allocator) Region(p Pool) Range { return a.regions[p] }

// Set exposes the free ranges of pool p.
func (a *Allocator) Set(p Pool) *RangeSet { return a.free[p] }

// AllocateSpan returns the largest free span of pool p as an emission
// window. Nothing is reserved until Commit records the bytes actually used.
func (a *Allocator) AllocateSpan(p Pool, minSize uintptr) (Range, error) {
	r, ok := a.free[p].Largest()
	if !ok || r.Size() < minSize {
		return Range{}, fmt.Errorf("%w: %s pool, need %d, largest %d", jiterrors.ErrNoFreeRange, p, minSize, r.Size())
	}
	return r, nil
}

// Commit marks span as live code.
func (a *Allocator) Commit(p Pool, span Range) error {
	if err := a.check(p, span); err != nil {
		return err
	}
	return a.free[p].Erase(span)
}

// MarkFree returns span to pool p.
func (a *Allocator) MarkFree(p Pool, span Range) error {
	if err := a.check(p, span); err != nil {
		return err
	}
	return a.free[p].Insert(span)
}

// Reset makes all of pool p free again.
func (a *Allocator) Reset(p Pool) {
	a.free[p].Clear()
	if !a.regions[p].Empty() {
		a.free[p].add(a.regions[p])
	}
	log.Debug(log.CacheModule, "code region reset", "pool", p, "size", common.HumanSize(uint64(a.regions[p].Size())))
}

// Free is the number of free bytes in pool p.
func (a *Allocator) Free(p Pool) uintptr { return a.free[p].Free() }

// Used is the number of bytes held by live code in pool p.
func (a *Allocator) Used(p Pool) uintptr { return a.regions[p].Size() - a.free[p].Free() }

func (a *Allocator) check(p Pool, span Range) error {
	reg := a.regions[p]
	if span.End < span.Start || span.Start < reg.Start || span.End > reg.End {
		return fmt.Errorf("%w: %s outside %s pool %s", jiterrors.ErrInvalidRange, span, p, reg)
	}
	return nil
}
