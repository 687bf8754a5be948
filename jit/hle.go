package jit

import (
	"fmt"
	"sync"

	"github.com/colorfulnotion/gekko/log"
	"github.com/colorfulnotion/gekko/ppc"
)

// HookKind says what happens to the guest function after its hook ran.
type HookKind uint8

const (
	// HookStart runs the hook and then the guest function.
	HookStart HookKind = iota
	// HookReplace runs the hook instead of the guest function and returns
	// to the caller.
	HookReplace
)

func (k HookKind) String() string {
	if k == HookReplace {
		return "replace"
	}
	return "start"
}

// HookFunc is host code standing in for or preceding a guest function.
type HookFunc func(st *ppc.State, mem Memory)

type Hook struct {
	Name string
	Addr uint32
	Kind HookKind
	Fn   HookFunc
}

// HookTable maps guest function addresses to hooks. Indices are stable for
// the lifetime of the table; they are baked into generated code and into
// the HLE opcode.
type HookTable struct {
	mu     sync.RWMutex
	hooks  []Hook
	byAddr map[uint32]int
}

func NewHookTable() *HookTable {
	return &HookTable{byAddr: make(map[uint32]int)}
}

// Patch installs a hook at addr and returns its index.
func (t *HookTable) Patch(addr uint32, name string, kind HookKind, fn HookFunc) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i, ok := t.byAddr[addr]; ok {
		t.hooks[i] = Hook{Name: name, Addr: addr, Kind: kind, Fn: fn}
		return i
	}
	t.hooks = append(t.hooks, Hook{Name: name, Addr: addr, Kind: kind, Fn: fn})
	i := len(t.hooks) - 1
	t.byAddr[addr] = i
	return i
}

// Unpatch removes the hook at addr. Its index is not reused.
func (t *HookTable) Unpatch(addr uint32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	i, ok := t.byAddr[addr]
	if !ok {
		return false
	}
	delete(t.byAddr, addr)
	t.hooks[i].Fn = nil
	return true
}

func (t *HookTable) Lookup(addr uint32) (int, Hook, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	i, ok := t.byAddr[addr]
	if !ok {
		return 0, Hook{}, false
	}
	return i, t.hooks[i], true
}

// Execute runs hook index. A replaced function returns through LR.
func (t *HookTable) Execute(index uint32, st *ppc.State, mem Memory) bool {
	t.mu.RLock()
	if int(index) >= len(t.hooks) || t.hooks[index].Fn == nil {
		t.mu.RUnlock()
		return false
	}
	h := t.hooks[index]
	t.mu.RUnlock()
	h.Fn(st, mem)
	if h.Kind == HookReplace {
		st.SetNPC(st.LR())
	}
	return true
}

func (t *HookTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.hooks)
}

// PatchHook installs a hook and drops any block compiled over addr.
func (e *Engine) PatchHook(addr uint32, name string, kind HookKind, fn HookFunc) int {
	i := e.hle.Patch(addr, name, kind, fn)
	e.InvalidateICache(addr, 4, true)
	log.Info(log.JitModule, "hle hook", "name", name, "addr", fmt.Sprintf("%08x", addr), "kind", kind.String())
	return i
}

// UnpatchHook removes the hook at addr.
func (e *Engine) UnpatchHook(addr uint32) bool {
	if !e.hle.Unpatch(addr) {
		return false
	}
	e.InvalidateICache(addr, 4, true)
	return true
}

// hleIndexMask selects the hook index in the HLE opcode.
const hleIndexMask = 0x03FFFFFF

// interpretHLE runs the hook named by an HLE opcode met by the interpreter.
func (e *Engine) interpretHLE(pc uint32, inst ppc.Inst) {
	if !e.hle.Execute(uint32(inst)&hleIndexMask, e.st, e.mem) {
		log.Warn(log.JitModule, "invalid hle opcode", "pc", fmt.Sprintf("%08x", pc), "inst", fmt.Sprintf("%08x", uint32(inst)))
		e.st.RaiseException(ppc.ExceptionProgram)
	}
}
