// Package analyst decodes a run of guest instructions into a CodeBlock and
// annotates each op with the register liveness the compiler needs.
package analyst

import (
	"github.com/colorfulnotion/gekko/log"
	"github.com/colorfulnotion/gekko/ppc"
)

// Fetcher reads instruction words through the guest's instruction
// translation. ok is false when addr is unmapped.
type Fetcher interface {
	FetchInstruction(addr uint32) (inst ppc.Inst, phys uint32, ok bool)
}

// Option toggles analysis passes.
type Option uint32

const (
	// OptionBranchFollow inlines the target of unconditional, non-linking b.
	OptionBranchFollow Option = 1 << iota
	// OptionIdleDetection marks known busy-wait loops.
	OptionIdleDetection
	// OptionFollowCalls also inlines the target of bl; the compiler keeps
	// the return address on the host stack.
	OptionFollowCalls
)

// CodeOp is one analysed instruction.
type CodeOp struct {
	Inst    ppc.Inst
	Address uint32
	Info    *ppc.OpInfo

	RegsIn  ppc.BitSet32
	RegsOut ppc.BitSet32
	// GprInUse holds registers read by any later op in the block.
	GprInUse ppc.BitSet32
	// GprDiscardable holds registers that later ops overwrite before reading
	// them, with no exception point in between.
	GprDiscardable ppc.BitSet32

	// Skip is set for branches that were followed during analysis.
	Skip             bool
	BranchTo         uint32
	BranchIsIdleLoop bool
	CanEndBlock      bool
}

// ExceptionPoint reports whether the op may leave the block through an
// exception exit, so all guest registers must be consistent before it.
func (op *CodeOp) ExceptionPoint() bool {
	return op.CanEndBlock || op.Info.Has(ppc.FlLoadStore|ppc.FlUseFPU|ppc.FlProgramException)
}

// CodeBlock summarises a decoded block.
type CodeBlock struct {
	Address         uint32
	NumInstructions int
	// Broken is set when the block ended without an end-of-block op.
	Broken          bool
	MemoryException bool
	GprInputs       ppc.BitSet32
	GqrUsed         ppc.BitSet8
	GqrModified     ppc.BitSet8
	// PhysicalAddresses lists the distinct physical words the block covers.
	PhysicalAddresses []uint32
}

// Analyzer is not safe for concurrent use.
type Analyzer struct {
	options Option
}

func New() *Analyzer { return &Analyzer{} }

func (a *Analyzer) SetOption(o Option) { a.options |= o }
func (a *Analyzer) ClearOption(o Option) { a.options &^= o }
func (a *Analyzer) ClearOptions() { a.options = 0 }
func (a *Analyzer) HasOption(o Option) bool { return a.options&o != 0 }

// Analyze decodes up to len(buf) instructions starting at addr into buf and
// fills block. It returns the guest address following the block, which is
// where a broken block continues.
func (a *Analyzer) Analyze(addr uint32, block *CodeBlock, buf []CodeOp, fetch Fetcher) uint32 {
	*block = CodeBlock{Address: addr}
	seenPhys := make(map[uint32]struct{})
	visited := make(map[uint32]struct{})

	pc := addr
	n := 0
	ended := false
	for n < len(buf) {
		inst, phys, ok := fetch.FetchInstruction(pc)
		if !ok {
			if n == 0 {
				block.MemoryException = true
			}
			block.Broken = true
			break
		}
		if _, dup := seenPhys[phys]; !dup {
			seenPhys[phys] = struct{}{}
			block.PhysicalAddresses = append(block.PhysicalAddresses, phys)
		}
		visited[pc] = struct{}{}

		info := ppc.Lookup(inst)
		op := &buf[n]
		*op = CodeOp{
			Inst:        inst,
			Address:     pc,
			Info:        info,
			RegsIn:      ppc.RegsIn(inst, info),
			RegsOut:     ppc.RegsOut(inst, info),
			CanEndBlock: info.Has(ppc.FlEndBlock),
		}
		n++

		next := pc + 4
		if info.ID == ppc.OpB {
			op.BranchTo = inst.BranchTarget(pc)
			if op.BranchTo == pc && a.HasOption(OptionIdleDetection) {
				op.BranchIsIdleLoop = true
			}
			_, loops := visited[op.BranchTo]
			follow := a.HasOption(OptionBranchFollow) && !inst.LK() ||
				a.HasOption(OptionFollowCalls) && inst.LK()
			if follow && !loops {
				op.Skip = true
				op.CanEndBlock = false
				pc = op.BranchTo
				continue
			}
		}
		if info.ID == ppc.OpBc {
			op.BranchTo = inst.CondBranchTarget(pc)
			if a.HasOption(OptionIdleDetection) && n >= 3 && isPollLoop(buf[n-3:n]) {
				op.BranchIsIdleLoop = true
			}
		}
		pc = next
		if op.CanEndBlock {
			ended = true
			break
		}
	}
	if !ended && n == len(buf) {
		block.Broken = true
	}
	block.NumInstructions = n
	a.setInputs(block, buf[:n])
	a.setLiveness(buf[:n])
	if block.MemoryException {
		log.Debug(log.AnalystModule, "block start unmapped", "addr", addr)
	}
	return pc
}

// isPollLoop matches lwz rX,d(rY); cmpwi rX,imm; bc back to the lwz.
func isPollLoop(ops []CodeOp) bool {
	load, cmp, br := &ops[0], &ops[1], &ops[2]
	if load.Info.ID != ppc.OpLwz || cmp.Info.ID != ppc.OpCmpi {
		return false
	}
	if cmp.Inst.RA() != load.Inst.RD() || load.Inst.RA() == load.Inst.RD() {
		return false
	}
	return br.BranchTo == load.Address && br.Inst.BO()&ppc.BODontDecrement != 0 && !br.Inst.LK()
}

func (a *Analyzer) setInputs(block *CodeBlock, ops []CodeOp) {
	var written ppc.BitSet32
	for i := range ops {
		op := &ops[i]
		if op.Skip {
			continue
		}
		block.GprInputs |= op.RegsIn &^ written
		written |= op.RegsOut
		switch op.Info.ID {
		case ppc.OpPsqL, ppc.OpPsqLu, ppc.OpPsqSt, ppc.OpPsqStu:
			block.GqrUsed = block.GqrUsed.With(op.Inst.PsqI())
		case ppc.OpMtspr:
			spr := op.Inst.SPR()
			if spr >= ppc.SPRNumGQR0 && spr < ppc.SPRNumGQR0+8 {
				block.GqrModified = block.GqrModified.With(int(spr - ppc.SPRNumGQR0))
			}
		}
	}
}

func (a *Analyzer) setLiveness(ops []CodeOp) {
	var inUse, discardable ppc.BitSet32
	for i := len(ops) - 1; i >= 0; i-- {
		op := &ops[i]
		op.GprInUse = inUse
		op.GprDiscardable = discardable
		if op.Skip {
			continue
		}
		discardable |= op.RegsOut
		discardable &^= op.RegsIn
		if op.ExceptionPoint() {
			discardable = 0
		}
		inUse |= op.RegsIn
	}
}
