package codecache

import (
	"fmt"

	"github.com/colorfulnotion/gekko/jiterrors"
	"github.com/google/btree"
)

const btreeDegree = 8

// Range is the half-open host address range [Start, End).
type Range struct {
	Start, End uintptr
}

func (r Range) Size() uintptr { return r.End - r.Start }
func (r Range) Empty() bool { return r.End <= r.Start }

func (r Range) String() string { return fmt.Sprintf("[%#x, %#x)", r.Start, r.End) }

// RangeSet holds disjoint free ranges indexed both by address and by size.
// Adjacent ranges are merged on insert.
type RangeSet struct {
	byAddr *btree.BTreeG[Range]
	bySize *btree.BTreeG[Range]
	total  uintptr
}

func NewRangeSet() *RangeSet {
	return &RangeSet{
		byAddr: btree.NewG[Range](btreeDegree, func(a, b Range) bool { return a.Start < b.Start }),
		// largest first, lowest address breaking ties
		bySize: btree.NewG[Range](btreeDegree, func(a, b Range) bool {
			if a.Size() != b.Size() {
				return a.Size() > b.Size()
			}
			return a.Start < b.Start
		}),
	}
}

func (s *RangeSet) add(r Range) {
	s.byAddr.ReplaceOrInsert(r)
	s.bySize.ReplaceOrInsert(r)
	s.total += r.Size()
}

func (s *RangeSet) remove(r Range) {
	s.byAddr.Delete(r)
	s.bySize.Delete(r)
	s.total -= r.Size()
}

// containing returns the free range holding addr, if any.
func (s *RangeSet) containing(addr uintptr) (Range, bool) {
	var found Range
	ok := false
	s.byAddr.DescendLessOrEqual(Range{Start: addr}, func(r Range) bool {
		if addr < r.End {
			found, ok = r, true
		}
		return false
	})
	return found, ok
}

// Insert returns r to the set, merging it with free neighbours.
func (s *RangeSet) Insert(r Range) error {
	if r.Empty() {
		return nil
	}
	var overlap bool
	s.byAddr.DescendLessOrEqual(Range{Start: r.End - 1}, func(f Range) bool {
		overlap = f.End > r.Start
		return false
	})
	if overlap {
		return fmt.Errorf("%w: insert %s overlaps a free range", jiterrors.ErrInvalidRange, r)
	}
	merged := r
	if r.Start > 0 {
		if prev, ok := s.containing(r.Start - 1); ok && prev.End == r.Start {
			s.remove(prev)
			merged.Start = prev.Start
		}
	}
	if next, ok := s.byAddr.Get(Range{Start: r.End}); ok {
		s.remove(next)
		merged.End = next.End
	}
	s.add(merged)
	return nil
}

// Erase removes r from the set. r must lie inside a single free range, which
// is split around it.
func (s *RangeSet) Erase(r Range) error {
	if r.Empty() {
		return nil
	}
	f, ok := s.containing(r.Start)
	if !ok || r.End > f.End {
		return fmt.Errorf("%w: erase %s is not free", jiterrors.ErrInvalidRange, r)
	}
	s.remove(f)
	if f.Start < r.Start {
		s.add(Range{Start: f.Start, End: r.Start})
	}
	if r.End < f.End {
		s.add(Range{Start: r.End, End: f.End})
	}
	return nil
}

// Largest returns the biggest free range; ties go to the lowest address.
func (s *RangeSet) Largest() (Range, bool) {
	return s.bySize.Min()
}

// Contains reports whether every byte of r is free.
func (s *RangeSet) Contains(r Range) bool {
	f, ok := s.containing(r.Start)
	return ok && r.End <= f.End
}

// Free is the total number of free bytes.
func (s *RangeSet) Free() uintptr { return s.total }

// Len is the number of disjoint free ranges.
func (s *RangeSet) Len() int { return s.byAddr.Len() }

// Ascend visits the free ranges by address.
func (s *RangeSet) Ascend(fn func(Range) bool) { s.byAddr.Ascend(fn) }

// Clear drops every range.
func (s *RangeSet) Clear() {
	s.byAddr.Clear(false)
	s.bySize.Clear(false)
	s.total = 0
}
