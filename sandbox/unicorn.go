//go:build unicorn
// +build unicorn

package sandbox

import (
	"encoding/binary"
	"fmt"
	"unsafe"

	"github.com/colorfulnotion/gekko/common"
	"github.com/colorfulnotion/gekko/jit"
	"github.com/colorfulnotion/gekko/jit/x64"
	"github.com/colorfulnotion/gekko/jiterrors"
	"github.com/colorfulnotion/gekko/log"
	"github.com/colorfulnotion/gekko/memmap"
	"github.com/colorfulnotion/gekko/ppc"
	uc "github.com/unicorn-engine/unicorn/bindings/go/unicorn"
	"golang.org/x/sys/unix"
)

const pageSize = 0x1000

// ucRegs maps jit.Context register numbers to unicorn registers.
var ucRegs = [jit.RegPC + 1]int{
	uc.X86_REG_RAX, uc.X86_REG_RCX, uc.X86_REG_RDX, uc.X86_REG_RBX,
	uc.X86_REG_RSP, uc.X86_REG_RBP, uc.X86_REG_RSI, uc.X86_REG_RDI,
	uc.X86_REG_R8, uc.X86_REG_R9, uc.X86_REG_R10, uc.X86_REG_R11,
	uc.X86_REG_R12, uc.X86_REG_R13, uc.X86_REG_R14, uc.X86_REG_R15,
	uc.X86_REG_RIP,
}

// ucContext exposes the emulator registers to the fault handler.
type ucContext struct {
	mu  uc.Unicorn
	err error
}

func (c *ucContext) Get(reg int) uint64 {
	v, err := c.mu.RegRead(ucRegs[reg])
	if err != nil && c.err == nil {
		c.err = err
	}
	return v
}

func (c *ucContext) Set(reg int, v uint64) {
	if err := c.mu.RegWrite(ucRegs[reg], v); err != nil && c.err == nil {
		c.err = err
	}
}

type fault struct {
	addr   uint64
	access int
}

// Executor owns a unicorn instance and the engine whose code it runs.
type Executor struct {
	mu    uc.Unicorn
	e     *jit.Engine
	st    *ppc.State
	mem   *memmap.Memory
	space *x64.CodeSpace

	statePage []byte
	stack     []byte
	exitPage  []byte
	exitAddr  uint64

	helpers x64.Region
	fault   *fault
	stats   Stats
}

func hostAddr(b []byte) uint64 { return uint64(uintptr(unsafe.Pointer(&b[0]))) }

func mmap(size int, prot int) ([]byte, error) {
	return unix.Mmap(-1, 0, size, prot, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
}

// New builds an engine on a fresh state page and code space and maps
// everything it touches into unicorn.
func New(opts Options) (*Executor, error) {
	x := &Executor{mem: opts.Memory}
	var err error
	if x.statePage, err = mmap(ppc.StateSize, unix.PROT_READ|unix.PROT_WRITE); err != nil {
		return nil, fmt.Errorf("map state page: %w", err)
	}
	x.st = ppc.NewStateAt(x.statePage)
	x.st.SetMSR(ppc.MSRIR | ppc.MSRDR | ppc.MSRFP)
	opts.Memory.AttachState(x.st)

	if x.space, err = x64.NewCodeSpace(jit.CodeSpaceSize(opts.Config)); err != nil {
		x.Close()
		return nil, err
	}
	deps := jit.Deps{
		State:  x.st,
		Memory: opts.Memory,
		Timing: opts.Timing,
		Hints:  opts.Hints,
	}
	if opts.GatherPipe != nil {
		deps.GatherPipe = opts.GatherPipe(x.st)
	}
	x.e, err = jit.NewWithCodeSpace(opts.Config, deps, x.space)
	if err != nil {
		x.space.Release()
		x.space = nil
		x.Close()
		return nil, err
	}
	x.helpers = x.e.HelperRegion()

	if x.stack, err = mmap(hostStackSize, unix.PROT_READ|unix.PROT_WRITE); err != nil {
		x.Close()
		return nil, fmt.Errorf("map host stack: %w", err)
	}
	if x.exitPage, err = mmap(pageSize, unix.PROT_READ|unix.PROT_WRITE); err != nil {
		x.Close()
		return nil, fmt.Errorf("map exit page: %w", err)
	}
	for i := range x.exitPage {
		x.exitPage[i] = 0xF4 // hlt
	}
	x.exitAddr = hostAddr(x.exitPage)

	if x.mu, err = uc.NewUnicorn(uc.ARCH_X86, uc.MODE_64); err != nil {
		x.Close()
		return nil, fmt.Errorf("create unicorn: %w", err)
	}
	if err := x.mapAll(); err != nil {
		x.Close()
		return nil, err
	}
	if err := x.addHooks(); err != nil {
		x.Close()
		return nil, err
	}
	// everything generated so far is visible through the shared mappings
	x.space.TakeDirty()
	log.Info(log.SandboxModule, "sandbox ready", "code", fmt.Sprintf("%#x", x.space.Base()),
		"state", fmt.Sprintf("%#x", x.st.Addr()), "fastmem", opts.Memory.FastmemEnabled())
	return x, nil
}

func (x *Executor) mapPtr(addr, size uint64, prot int, ptr unsafe.Pointer, what string) error {
	if err := x.mu.MemMapPtr(addr, size, prot, ptr); err != nil {
		return fmt.Errorf("map %s at %#x (+%#x): %w", what, addr, size, err)
	}
	return nil
}

func (x *Executor) mapAll() error {
	if err := x.mapPtr(x.st.Addr(), pageSize, uc.PROT_READ|uc.PROT_WRITE, unsafe.Pointer(&x.statePage[0]), "state page"); err != nil {
		return err
	}
	code := x.space.Bytes()
	codeSize := common.AlignUp(uint64(len(code)), pageSize)
	if err := x.mapPtr(uint64(x.space.Base()), codeSize, uc.PROT_ALL, unsafe.Pointer(&code[0]), "code space"); err != nil {
		return err
	}
	if err := x.mapPtr(hostAddr(x.stack), hostStackSize, uc.PROT_READ|uc.PROT_WRITE, unsafe.Pointer(&x.stack[0]), "host stack"); err != nil {
		return err
	}
	if err := x.mapPtr(x.exitAddr, pageSize, uc.PROT_ALL, unsafe.Pointer(&x.exitPage[0]), "exit page"); err != nil {
		return err
	}
	if s, ok := x.e.Stack(); ok {
		if err := x.mapPtr(uint64(s.Base), uint64(s.Size), uc.PROT_READ|uc.PROT_WRITE, unsafe.Pointer(s.Base), "jit stack"); err != nil {
			return err
		}
		if err := x.syncGuards(); err != nil {
			return err
		}
	}
	if x.mem.FastmemEnabled() {
		return x.mapWindows()
	}
	return nil
}

// mapWindows maps every RAM view where the fastmem arena has it. Holes in
// the windows stay unmapped so accesses there fault like on the host.
func (x *Executor) mapWindows() error {
	rw := uc.PROT_READ | uc.PROT_WRITE
	for _, r := range x.mem.Regions() {
		view := r.View()
		if len(view) == 0 {
			continue
		}
		addr := uint64(x.mem.PhysicalBase()) + uint64(r.Physical)
		if err := x.mapPtr(addr, uint64(len(view)), rw, unsafe.Pointer(&view[0]), r.Name); err != nil {
			return err
		}
	}
	for _, m := range x.mem.Mappings() {
		for _, r := range x.mem.Regions() {
			view := r.View()
			if m.Physical < r.Physical || m.Physical-r.Physical >= uint32(len(view)) {
				continue
			}
			addr := uint64(x.mem.LogicalBase()) + uint64(m.Logical)
			ptr := unsafe.Pointer(&view[m.Physical-r.Physical])
			if err := x.mapPtr(addr, uint64(m.Size), rw, ptr, r.Name+" logical"); err != nil {
				return err
			}
		}
	}
	return nil
}

// syncGuards mirrors the engine's stack guards into unicorn's protections.
func (x *Executor) syncGuards() error {
	s, ok := x.e.Stack()
	if !ok {
		return nil
	}
	if err := x.mu.MemProtect(uint64(s.Base), uint64(s.Size), uc.PROT_READ|uc.PROT_WRITE); err != nil {
		return fmt.Errorf("unprotect jit stack: %w", err)
	}
	for _, g := range s.Guards {
		if err := x.mu.MemProtect(uint64(g.Start), uint64(g.Size()), uc.PROT_NONE); err != nil {
			return fmt.Errorf("protect guard %s: %w", g, err)
		}
	}
	return nil
}

func (x *Executor) addHooks() error {
	args := [4]int{uc.X86_REG_RDI, uc.X86_REG_RSI, uc.X86_REG_RDX, uc.X86_REG_RCX}
	_, err := x.mu.HookAdd(uc.HOOK_CODE, func(mu uc.Unicorn, addr uint64, size uint32) {
		h, ok := x.e.HelperAt(uintptr(addr))
		if !ok {
			return
		}
		var in [4]uint64
		for i, r := range args {
			in[i], _ = mu.RegRead(r)
		}
		ret := x.e.CallHelper(h, in)
		if err := mu.RegWrite(uc.X86_REG_RAX, ret); err != nil {
			log.Error(log.SandboxModule, "helper result", "helper", h.String(), "err", err)
		}
		x.stats.HelperCalls++
		x.resync()
	}, uint64(x.helpers.Start), uint64(x.helpers.End-1))
	if err != nil {
		return fmt.Errorf("add helper hook: %w", err)
	}

	onFault := func(mu uc.Unicorn, access int, addr uint64, size int, value int64) bool {
		x.fault = &fault{addr: addr, access: access}
		return false
	}
	if _, err := x.mu.HookAdd(uc.HOOK_MEM_UNMAPPED, onFault, 1, 0); err != nil {
		return fmt.Errorf("add unmapped hook: %w", err)
	}
	if _, err := x.mu.HookAdd(uc.HOOK_MEM_PROT, onFault, 1, 0); err != nil {
		return fmt.Errorf("add protection hook: %w", err)
	}
	return nil
}

// resync rewrites code changed on the host side so unicorn drops its stale
// translations of it.
func (x *Executor) resync() {
	lo, hi, ok := x.space.TakeDirty()
	if !ok {
		return
	}
	if err := x.mu.MemWrite(uint64(lo), x.space.Slice(lo, hi)); err != nil {
		log.Error(log.SandboxModule, "resync code", "lo", fmt.Sprintf("%#x", lo), "hi", fmt.Sprintf("%#x", hi), "err", err)
		return
	}
	x.stats.Resyncs++
	x.stats.ResyncedBytes += uint64(hi - lo)
}

func (x *Executor) Engine() *jit.Engine { return x.e }
func (x *Executor) State() *ppc.State   { return x.st }
func (x *Executor) Stats() Stats        { return x.stats }

// Run executes guest code from pc until the CPU leaves the running state.
// Faults the engine cannot handle end the run with an error.
func (x *Executor) Run(pc uint32) error {
	x.st.SetPC(pc)
	x.st.SetNPC(pc)
	x.st.SetCPUState(ppc.CPURunning)
	x.stats.Runs++

	x.e.BindCPUThread()
	defer x.e.UnbindCPUThread()

	sp := hostAddr(x.stack) + hostStackSize - 16
	binary.LittleEndian.PutUint64(x.stack[hostStackSize-16:], x.exitAddr)
	if err := x.mu.RegWrite(uc.X86_REG_RSP, sp); err != nil {
		return fmt.Errorf("set rsp: %w", err)
	}
	rip := uint64(x.e.EnterCode())
	for {
		x.fault = nil
		err := x.mu.Start(rip, x.exitAddr)
		if x.fault == nil {
			if err != nil {
				return fmt.Errorf("sandbox stopped at pc %08x: %w", x.st.PC(), err)
			}
			return nil
		}
		x.stats.Faults++
		ctx := &ucContext{mu: x.mu}
		if !x.e.HandleFault(uintptr(x.fault.addr), ctx) {
			return fmt.Errorf("fault at %#x (access %d), pc %08x: %w", x.fault.addr, x.fault.access, x.st.PC(), jiterrors.ErrUnrelatedFault)
		}
		if ctx.err != nil {
			return fmt.Errorf("fault context: %w", ctx.err)
		}
		if err := x.syncGuards(); err != nil {
			return err
		}
		x.resync()
		rip = ctx.Get(jit.RegPC)
		log.Debug(log.SandboxModule, "resume after fault", "addr", fmt.Sprintf("%#x", x.fault.addr), "rip", fmt.Sprintf("%#x", rip))
	}
}

// Close releases unicorn, the engine and the executor's own mappings.
func (x *Executor) Close() error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if x.mu != nil {
		keep(x.mu.Close())
		x.mu = nil
	}
	if x.e != nil {
		keep(x.e.Shutdown())
		x.e = nil
	}
	for _, b := range []*[]byte{&x.statePage, &x.stack, &x.exitPage} {
		if *b != nil {
			keep(unix.Munmap(*b))
			*b = nil
		}
	}
	return firstErr
}
