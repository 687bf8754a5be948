// Package regcache binds guest general purpose registers to host registers
// for the duration of a block.
package regcache

import (
	"fmt"

	"github.com/colorfulnotion/gekko/jit/x64"
	"github.com/colorfulnotion/gekko/log"
	"github.com/colorfulnotion/gekko/ppc"
)

// NumGuestRegs is the number of cached guest registers.
const NumGuestRegs = 32

// Mode says how an instruction uses a bound register.
type Mode int

const (
	Read Mode = iota
	Write
	ReadWrite
)

type location int

const (
	inState location = iota
	bound
	immediate
)

type slot struct {
	loc   location
	host  x64.X86Reg
	imm   uint32
	dirty bool
}

// AllocationOrder lists the host registers handed out to guest registers;
// RAX, RCX and RDX stay free as scratch and RBX, RBP, RSP are reserved.
var AllocationOrder = []x64.X86Reg{x64.R12, x64.R13, x64.R14, x64.R15, x64.RSI, x64.RDI, x64.R8, x64.R9, x64.R10, x64.R11}

type snapshot struct {
	slots [NumGuestRegs]slot
	owner [16]int
}

// RegCache tracks where each guest register currently lives and emits the
// loads and stores that move values between the state page and host
// registers.
type RegCache struct {
	emit  *x64.Emitter
	order []x64.X86Reg

	slots  [NumGuestRegs]slot
	owner  [16]int // guest reg bound to host reg, or -1
	locked x64.RegSet
	tick   [16]uint64
	clock  uint64

	revertable bool
	written    ppc.BitSet32
	committed  snapshot
}

// New creates a cache emitting through e. An empty order disables caching
// and every operand resolves to the state page.
func New(e *x64.Emitter, order []x64.X86Reg) *RegCache {
	c := &RegCache{emit: e, order: order}
	c.Start()
	return c
}

// Start forgets every binding at the beginning of a block.
func (c *RegCache) Start() {
	for i := range c.slots {
		c.slots[i] = slot{}
	}
	for i := range c.owner {
		c.owner[i] = -1
	}
	c.locked = 0
	c.revertable = false
	c.written = 0
	c.committed = c.save()
}

func (c *RegCache) save() snapshot {
	return snapshot{slots: c.slots, owner: c.owner}
}

func (c *RegCache) restore(s snapshot) {
	c.slots = s.slots
	c.owner = s.owner
}

func stateArg(reg int) x64.OpArg { return x64.PPCState(ppc.GPROffset(reg)) }

// IsImm reports whether reg holds a known constant.
func (c *RegCache) IsImm(reg int) bool { return c.slots[reg].loc == immediate }

// Imm returns the constant held by reg.
func (c *RegCache) Imm(reg int) uint32 { return c.slots[reg].imm }

// IsBound reports whether reg lives in a host register.
func (c *RegCache) IsBound(reg int) bool { return c.slots[reg].loc == bound }

// Use returns an operand for reading reg without binding it.
func (c *RegCache) Use(reg int) x64.OpArg {
	s := &c.slots[reg]
	switch s.loc {
	case bound:
		c.touch(s.host)
		return x64.R(s.host)
	case immediate:
		return x64.Imm32(s.imm)
	}
	return stateArg(reg)
}

func (c *RegCache) touch(r x64.X86Reg) {
	c.clock++
	c.tick[r.Index()] = c.clock
}

// SetImmediate32 records reg as the constant v; it is written back on flush.
func (c *RegCache) SetImmediate32(reg int, v uint32) {
	c.prepareWrite(reg)
	s := &c.slots[reg]
	if s.loc == bound {
		c.owner[s.host.Index()] = -1
	}
	*s = slot{loc: immediate, imm: v, dirty: true}
}

// AssumeImmediate32 records that reg already holds v in the state page, as
// established by a runtime guard. Nothing is written back unless the
// register is later modified.
func (c *RegCache) AssumeImmediate32(reg int, v uint32) {
	s := &c.slots[reg]
	if s.loc == bound {
		c.owner[s.host.Index()] = -1
	}
	*s = slot{loc: immediate, imm: v}
}

func (c *RegCache) prepareWrite(reg int) {
	c.written = c.written.With(reg)
	if !c.revertable {
		return
	}
	// keep the pre-instruction value in the state page so Revert can drop
	// the new one
	s := &c.slots[reg]
	if s.dirty {
		c.storeBack(reg)
		s.dirty = false
	}
}

// Bind places reg in a host register and locks it until Unlock or Commit.
func (c *RegCache) Bind(reg int, mode Mode) (x64.X86Reg, error) {
	if mode != Read {
		c.prepareWrite(reg)
	}
	s := &c.slots[reg]
	if s.loc != bound {
		host, err := c.allocate()
		if err != nil {
			return x64.X86Reg{}, err
		}
		if mode != Write {
			switch s.loc {
			case immediate:
				c.emit.MOV(32, x64.R(host), x64.Imm32(s.imm))
			default:
				c.emit.MOV(32, x64.R(host), stateArg(reg))
			}
		}
		wasDirty := s.dirty && s.loc == immediate && mode == Read
		*s = slot{loc: bound, host: host, dirty: wasDirty}
		c.owner[host.Index()] = reg
	}
	if mode != Read {
		s.dirty = true
	}
	c.locked = c.locked.With(s.host)
	c.touch(s.host)
	return s.host, nil
}

func (c *RegCache) allocate() (x64.X86Reg, error) {
	for _, r := range c.order {
		if c.owner[r.Index()] < 0 && !c.locked.Has(r) {
			return r, nil
		}
	}
	var victim x64.X86Reg
	found := false
	for _, r := range c.order {
		if c.locked.Has(r) {
			continue
		}
		if !found || c.tick[r.Index()] < c.tick[victim.Index()] {
			victim, found = r, true
		}
	}
	if !found {
		return x64.X86Reg{}, fmt.Errorf("regcache: all %d host registers locked", len(c.order))
	}
	c.flushReg(c.owner[victim.Index()])
	return victim, nil
}

// Lock pins host registers so they are neither spilled nor handed out.
func (c *RegCache) Lock(regs ...x64.X86Reg) {
	for _, r := range regs {
		c.locked = c.locked.With(r)
	}
}

// UnlockAll releases every lock taken by the current instruction.
func (c *RegCache) UnlockAll() { c.locked = 0 }

func (c *RegCache) storeBack(reg int) {
	s := &c.slots[reg]
	switch s.loc {
	case bound:
		c.emit.MOV(32, stateArg(reg), x64.R(s.host))
	case immediate:
		c.emit.MOV(32, stateArg(reg), x64.Imm32(s.imm))
	}
}

func (c *RegCache) flushReg(reg int) {
	if reg < 0 {
		return
	}
	s := &c.slots[reg]
	if s.dirty {
		c.storeBack(reg)
	}
	if s.loc == bound {
		c.owner[s.host.Index()] = -1
	}
	*s = slot{}
}

// Flush writes back and unbinds the registers in set.
func (c *RegCache) Flush(set ppc.BitSet32) {
	for _, reg := range set.Indices() {
		c.flushReg(reg)
	}
}

// FlushAll writes back and unbinds everything.
func (c *RegCache) FlushAll() { c.Flush(^ppc.BitSet32(0)) }

// Discard drops the registers in set without writing them back; their
// values are dead.
func (c *RegCache) Discard(set ppc.BitSet32) {
	for _, reg := range set.Indices() {
		s := &c.slots[reg]
		if s.loc == bound {
			if c.locked.Has(s.host) {
				continue
			}
			c.owner[s.host.Index()] = -1
		}
		if s.loc != inState {
			log.Trace(log.RegCacheModule, "discard", "reg", reg)
		}
		*s = slot{}
	}
}

// Preload binds the registers in set that are read by the coming
// instructions, as long as free host registers remain.
func (c *RegCache) Preload(set ppc.BitSet32) {
	defer c.UnlockAll()
	for _, reg := range set.Indices() {
		if c.slots[reg].loc != inState {
			continue
		}
		free := false
		for _, r := range c.order {
			if c.owner[r.Index()] < 0 && !c.locked.Has(r) {
				free = true
				break
			}
		}
		if !free {
			return
		}
		if _, err := c.Bind(reg, Read); err != nil {
			return
		}
	}
}

// SetRevertable makes writes of the current instruction undoable by Revert.
func (c *RegCache) SetRevertable() { c.revertable = true }

// Commit ends the current instruction; its writes become permanent.
func (c *RegCache) Commit() {
	c.revertable = false
	c.written = 0
	c.UnlockAll()
	c.committed = c.save()
}

// Revert drops the writes since the last Commit. Only valid after
// SetRevertable, which kept the old values in the state page.
func (c *RegCache) Revert() {
	for _, reg := range c.written.Indices() {
		s := &c.slots[reg]
		if s.loc == bound {
			c.owner[s.host.Index()] = -1
		}
		*s = slot{}
	}
	c.written = 0
	c.revertable = false
	c.UnlockAll()
}

// ForkGuard restores the cache bookkeeping when released. Code emitted on a
// side path (far code) may flush freely inside a fork without disturbing the
// main path's view.
type ForkGuard struct {
	c      *RegCache
	saved  snapshot
	locked x64.RegSet
}

func (c *RegCache) Fork() *ForkGuard {
	return &ForkGuard{c: c, saved: c.save(), locked: c.locked}
}

func (g *ForkGuard) Release() {
	g.c.restore(g.saved)
	g.c.locked = g.locked
}

// RegistersInUse returns the host registers holding guest values.
func (c *RegCache) RegistersInUse() x64.RegSet {
	var s x64.RegSet
	for i, owner := range c.owner {
		if owner >= 0 {
			s = s.With(x64.Regs[i])
		}
	}
	return s
}

// HostFor returns the host register holding reg, if bound.
func (c *RegCache) HostFor(reg int) (x64.X86Reg, bool) {
	s := c.slots[reg]
	return s.host, s.loc == bound
}
