package jit

import (
	"slices"
	"sync"
)

// BreakPoints is the set of guest addresses that stop execution when
// debugging is enabled.
type BreakPoints struct {
	mu    sync.Mutex
	addrs map[uint32]struct{}
}

func NewBreakPoints() *BreakPoints {
	return &BreakPoints{addrs: make(map[uint32]struct{})}
}

// Add reports whether addr was not already set.
func (b *BreakPoints) Add(addr uint32) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.addrs[addr]; ok {
		return false
	}
	b.addrs[addr] = struct{}{}
	return true
}

func (b *BreakPoints) Remove(addr uint32) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.addrs[addr]; !ok {
		return false
	}
	delete(b.addrs, addr)
	return true
}

func (b *BreakPoints) IsBreakPoint(addr uint32) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.addrs[addr]
	return ok
}

func (b *BreakPoints) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	clear(b.addrs)
}

// List returns the addresses in ascending order.
func (b *BreakPoints) List() []uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]uint32, 0, len(b.addrs))
	for a := range b.addrs {
		out = append(out, a)
	}
	slices.Sort(out)
	return out
}

// AddBreakPoint sets a breakpoint and drops the block holding addr so the
// check is compiled in.
func (e *Engine) AddBreakPoint(addr uint32) {
	if e.breakpoints.Add(addr) {
		e.InvalidateICache(addr, 4, true)
	}
}

func (e *Engine) RemoveBreakPoint(addr uint32) {
	if e.breakpoints.Remove(addr) {
		e.InvalidateICache(addr, 4, true)
	}
}
