// Package interpreter executes single Gekko instructions against a ppc.State.
// The JIT calls it for every instruction it does not compile natively.
package interpreter

import (
	"fmt"

	"github.com/colorfulnotion/gekko/ppc"
)

// Bus is the guest memory seen through data translation. Values are in
// guest (big-endian) significance; ok is false when the access faults.
type Bus interface {
	Read(addr uint32, size int) (v uint64, ok bool)
	Write(addr uint32, size int, v uint64) bool
	FetchInstruction(addr uint32) (inst ppc.Inst, phys uint32, ok bool)
}

// Interpreter is bound to one state page and one bus.
type Interpreter struct {
	st  *ppc.State
	mem Bus

	// InvalidateICache is called by icbi with a 32-byte line address.
	InvalidateICache func(addr, size uint32)
	// HLE handles opcode-1 hook words; a nil hook raises a program exception.
	HLE func(pc uint32, inst ppc.Inst)
}

type opFunc func(in *Interpreter, inst ppc.Inst)

var table [ppc.NumOps]opFunc

func register(id ppc.OpID, fn opFunc) { table[id] = fn }

func New(st *ppc.State, mem Bus) *Interpreter {
	return &Interpreter{st: st, mem: mem}
}

func (in *Interpreter) State() *ppc.State { return in.st }

// Execute runs inst as if fetched from the current PC. Branches write NPC;
// everything else leaves NPC for the caller.
func (in *Interpreter) Execute(inst ppc.Inst) {
	info := ppc.Lookup(inst)
	if fn := table[info.ID]; fn != nil {
		fn(in, inst)
		return
	}
	in.st.RaiseException(ppc.ExceptionProgram)
}

// Supports reports whether id has an interpreter implementation.
func Supports(id ppc.OpID) bool { return int(id) < len(table) && table[id] != nil }

// Step executes one instruction, delivers exceptions, and advances PC.
// It returns the number of cycles consumed.
func (in *Interpreter) Step() (int, error) {
	st := in.st
	pc := st.PC()
	inst, _, ok := in.mem.FetchInstruction(pc)
	if !ok {
		st.SetNPC(pc)
		st.RaiseException(ppc.ExceptionISI)
		st.CheckExceptions()
		return 1, nil
	}
	info := ppc.Lookup(inst)
	st.SetNPC(pc + 4)
	if info.Has(ppc.FlUseFPU) && st.MSR()&ppc.MSRFP == 0 {
		st.RaiseException(ppc.ExceptionFPUUnavailable)
		st.CheckExceptions()
		return info.Cycles, nil
	}
	in.Execute(inst)
	if st.Exceptions() != 0 {
		st.CheckExceptions()
	} else {
		st.SetPC(st.NPC())
	}
	return info.Cycles, nil
}

// Run steps until at least cycles have elapsed.
func (in *Interpreter) Run(cycles int) error {
	for cycles > 0 {
		n, err := in.Step()
		if err != nil {
			return fmt.Errorf("interpreter at %08x: %w", in.st.PC(), err)
		}
		cycles -= n
	}
	return nil
}

func (in *Interpreter) updateCR0(v uint32) {
	var f uint32
	switch {
	case int32(v) < 0:
		f = 0x8
	case int32(v) > 0:
		f = 0x4
	default:
		f = 0x2
	}
	if in.st.XER()&(1<<31) != 0 {
		f |= 0x1
	}
	in.st.SetCRField(0, f)
}

func (in *Interpreter) rc(inst ppc.Inst, v uint32) {
	if inst.Rc() {
		in.updateCR0(v)
	}
}

// gprOr0 reads rA, treating r0 as zero.
func (in *Interpreter) gprOr0(ra int) uint32 {
	if ra == 0 {
		return 0
	}
	return in.st.GPR(ra)
}
