package jit

import (
	"fmt"
	"runtime"
	"unsafe"

	"github.com/colorfulnotion/gekko/jit/codecache"
	"github.com/colorfulnotion/gekko/log"
	"golang.org/x/sys/unix"
)

// Layout of the private host stack used while the BLR optimization is on.
// Execution starts at the top; the middle guard trips after SafeStackSize
// bytes of pushed return addresses and the space below it is what the
// emulator keeps running on until the next compile resets everything.
const (
	StackSize     = 2 << 20
	SafeStackSize = 512 << 10
	GuardSize     = 0x10000
	GuardOffset   = StackSize - SafeStackSize - GuardSize
)

type blrStack struct {
	mem             []byte
	base            uintptr
	middleProtected bool
}

func newBLRStack() (*blrStack, error) {
	mem, err := unix.Mmap(-1, 0, StackSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("map jit stack: %w", err)
	}
	s := &blrStack{mem: mem, base: uintptr(unsafe.Pointer(&mem[0]))}
	if err := unix.Mprotect(mem[:GuardSize], unix.PROT_NONE); err != nil {
		unix.Munmap(mem)
		return nil, fmt.Errorf("protect bottom guard: %w", err)
	}
	if err := unix.Mprotect(mem[GuardOffset:GuardOffset+GuardSize], unix.PROT_NONE); err != nil {
		unix.Munmap(mem)
		return nil, fmt.Errorf("protect middle guard: %w", err)
	}
	s.middleProtected = true
	return s, nil
}

func (s *blrStack) top() uintptr { return s.base + StackSize }

func (s *blrStack) inMiddleGuard(addr uintptr) bool {
	return addr >= s.base+GuardOffset && addr < s.base+GuardOffset+GuardSize
}

func (s *blrStack) unprotectMiddle() error {
	if !s.middleProtected {
		return nil
	}
	if err := unix.Mprotect(s.mem[GuardOffset:GuardOffset+GuardSize], unix.PROT_READ|unix.PROT_WRITE); err != nil {
		return fmt.Errorf("unprotect middle guard: %w", err)
	}
	s.middleProtected = false
	return nil
}

// guards lists the ranges that currently fault on access.
func (s *blrStack) guards() []codecache.Range {
	out := []codecache.Range{{Start: s.base, End: s.base + GuardSize}}
	if s.middleProtected {
		out = append(out, codecache.Range{Start: s.base + GuardOffset, End: s.base + GuardOffset + GuardSize})
	}
	return out
}

func (s *blrStack) release() error {
	if s.mem == nil {
		return nil
	}
	err := unix.Munmap(s.mem)
	s.mem = nil
	return err
}

// StackRegion describes the host stack generated code runs on.
type StackRegion struct {
	Base   uintptr
	Size   int
	Guards []codecache.Range
}

// Stack reports the BLR stack, if one was allocated.
func (e *Engine) Stack() (StackRegion, bool) {
	if e.stack == nil || e.stack.mem == nil {
		return StackRegion{}, false
	}
	return StackRegion{Base: e.stack.base, Size: StackSize, Guards: e.stack.guards()}, true
}

// StackGuardActive reports whether the middle guard still traps.
func (e *Engine) StackGuardActive() bool {
	return e.stack != nil && e.stack.middleProtected
}

// BindCPUThread pins the calling goroutine to its OS thread and records it
// as the thread running guest code. Stack faults from other threads are not
// ours to handle.
func (e *Engine) BindCPUThread() {
	runtime.LockOSThread()
	e.cpuTID = unix.Gettid()
}

// UnbindCPUThread undoes BindCPUThread.
func (e *Engine) UnbindCPUThread() {
	e.cpuTID = 0
	runtime.UnlockOSThread()
}

func (e *Engine) onCPUThread() bool {
	return e.cpuTID != 0 && unix.Gettid() == e.cpuTID
}

// HandleStackFault turns the BLR optimization off after the guest nested
// calls deep enough to reach the middle guard. The cache cannot be cleared
// while a block may still be on the stack, so every block is invalidated,
// the downcount forces a return to the dispatcher, and the next compile
// clears the cache.
func (e *Engine) HandleStackFault() bool {
	if !e.blrEnabled || !e.onCPUThread() {
		return false
	}
	log.Warn(log.FaultModule, "BLR cache disabled due to excessive BL in the emulated program.")
	e.blrEnabled = false
	if err := e.stack.unprotectMiddle(); err != nil {
		log.Error(log.FaultModule, "stack guard", "err", err)
	}
	e.InvalidateICache(0, 0xffffffff, true)
	e.st.SetDowncount(0)
	e.cleanupAfterStackFault = true
	e.stats.StackFaults++
	return true
}
