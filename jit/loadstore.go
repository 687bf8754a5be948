package jit

import (
	"github.com/colorfulnotion/gekko/jit/regcache"
	"github.com/colorfulnotion/gekko/jit/x64"
	"github.com/colorfulnotion/gekko/memmap"
	"github.com/colorfulnotion/gekko/ppc"
	"github.com/colorfulnotion/gekko/ppc/analyst"
	"github.com/colorfulnotion/gekko/storage"
)

// fastmemSiteMin is the shortest patchable access: room for a jmp rel32.
const fastmemSiteMin = 5

// accessAddress describes where a load or store finds its effective address.
type accessAddress struct {
	reg         x64.X86Reg
	offset      int32
	offsetAdded bool
	constant    bool
	value       uint32
}

func (e *Engine) compileLoadStore(op *analyst.CodeOp) bool {
	inst := op.Inst
	info := op.Info
	store := info.Type == ppc.OpTypeStore
	update := info.Has(ppc.FlOutA)
	ra, rd := inst.RA(), inst.RD()

	if info.ID == ppc.OpDcbz || info.AccessSize > 4 {
		return false
	}
	if update && (ra == 0 || !store && ra == rd) {
		return false
	}

	addr := e.resolveAddress(op, update)
	if e.js.err != nil {
		return true
	}
	size := info.AccessSize

	if store && addr.constant && e.jo.optimizeGatherPipe && memmap.IsOptimizableGatherPipeWrite(addr.value) {
		e.gatherPipeStore(rd, size)
		if update {
			e.gpr.SetImmediate32(ra, addr.value)
		}
		return true
	}
	if addr.constant {
		e.emit.MOV(32, x64.R(x64.RSCRATCHExtra), x64.Imm32(addr.value))
		addr.reg = x64.RSCRATCHExtra
	}

	fastmem := e.jo.fastmem && !(store && e.hints.Contains(storage.FIFOWrite, op.Address))
	if store {
		e.emit.MOV(32, x64.R(x64.RSCRATCH), e.gpr.Use(rd))
	}
	if update {
		// the base register takes the address before the access so the
		// helper call clobbering ECX cannot lose it
		hA := e.bind(ra, regcache.Write)
		e.emit.MOV(32, x64.R(hA), x64.R(addr.reg))
		addr.reg = hA
	}
	switch {
	case fastmem && store:
		e.fastmemStore(op, addr, size)
	case fastmem:
		e.fastmemLoad(op, addr, size)
	case store:
		e.slowStore(op, addr, size)
	default:
		e.slowLoad(op, addr, size)
	}
	return true
}

// resolveAddress folds what it can of the effective address at compile time.
// Anything left lands in ECX unless a bound base register can be used as is.
func (e *Engine) resolveAddress(op *analyst.CodeOp, update bool) accessAddress {
	c := e.emit
	inst := op.Inst
	ra, rb, rd := inst.RA(), inst.RB(), inst.RD()
	ecx := x64.R(x64.RSCRATCHExtra)

	if op.Info.Has(ppc.FlInB) {
		switch {
		case ra == 0 && e.gpr.IsImm(rb):
			return accessAddress{constant: true, value: e.gpr.Imm(rb)}
		case ra != 0 && e.gpr.IsImm(ra) && e.gpr.IsImm(rb):
			return accessAddress{constant: true, value: e.gpr.Imm(ra) + e.gpr.Imm(rb)}
		}
		if ra == 0 {
			c.MOV(32, ecx, e.gpr.Use(rb))
		} else {
			c.MOV(32, ecx, e.gpr.Use(ra))
			c.ADD(32, ecx, e.gpr.Use(rb))
		}
		return accessAddress{reg: x64.RSCRATCHExtra}
	}

	off := inst.SIMM()
	if ra == 0 && !update {
		return accessAddress{constant: true, value: uint32(off)}
	}
	if e.gpr.IsImm(ra) {
		return accessAddress{constant: true, value: e.gpr.Imm(ra) + uint32(off)}
	}
	if hA, ok := e.gpr.HostFor(ra); ok && !update {
		if off == 0 {
			e.gpr.Lock(hA)
			return accessAddress{reg: hA}
		}
		if op.Info.Type == ppc.OpTypeLoad && rd == ra && e.jo.fastmem {
			e.bind(rd, regcache.Write)
			c.ADD(32, x64.R(hA), x64.Imm32(uint32(off)))
			return accessAddress{reg: hA, offset: off, offsetAdded: true}
		}
		c.LEA(32, x64.RSCRATCHExtra, x64.MDisp(hA, off))
		return accessAddress{reg: x64.RSCRATCHExtra}
	}
	c.MOV(32, ecx, e.gpr.Use(ra))
	if off != 0 {
		c.ADD(32, ecx, x64.Imm32(uint32(off)))
	}
	return accessAddress{reg: x64.RSCRATCHExtra}
}

func (e *Engine) gatherPipeStore(rs, size int) {
	c := e.emit
	c.MOV(32, x64.R(x64.RSCRATCH), e.gpr.Use(rs))
	switch size {
	case 1:
		c.CALL(e.routines.GatherPipeWrite8)
	case 2:
		c.CALL(e.routines.GatherPipeWrite16)
	default:
		c.CALL(e.routines.GatherPipeWrite32)
	}
	e.js.fifoBytesSinceCheck += size
}

func (e *Engine) padFastmemSite(start uintptr) int {
	c := e.emit
	if n := int(c.GetCodePtr() - start); n < fastmemSiteMin {
		c.NOP(fastmemSiteMin - n)
	}
	return int(c.GetCodePtr() - start)
}

// fastmemLoad reads straight from the guest window. The whole sequence,
// byte swap included, is what a fault replaces with a jump to a trampoline.
func (e *Engine) fastmemLoad(op *analyst.CodeOp, addr accessAddress, size int) {
	c := e.emit
	hd := e.bind(op.Inst.RD(), regcache.Write)
	access := x64.MComplex(x64.RMem, addr.reg, 1, 0)

	start := c.GetCodePtr()
	switch size {
	case 4:
		c.MOV(32, x64.R(hd), access)
		c.BSWAP(32, hd)
	case 2:
		c.MOVZX(32, 16, hd, access)
		c.BSWAP(16, hd)
		if op.Info.SignExtend {
			c.MOVSX(32, 16, hd, x64.R(hd))
		}
	default:
		c.MOVZX(32, 8, hd, access)
	}
	n := e.padFastmemSite(start)

	e.backpatchInfo[start] = &BackpatchInfo{
		Start:                start,
		Len:                  n,
		PC:                   op.Address,
		AccessSize:           size,
		SignExtend:           op.Info.SignExtend,
		ValueReg:             hd,
		AddrReg:              addr.reg,
		Offset:               addr.offset,
		OffsetAddedToAddress: addr.offsetAdded,
		RegistersInUse:       e.gpr.RegistersInUse() & x64.CallerSaved,
	}
	e.js.fastmemSite = start
}

// fastmemStore writes the byte swapped value from EAX. Only the store itself
// is patched, so a fault has to undo the swap before the slow write.
func (e *Engine) fastmemStore(op *analyst.CodeOp, addr accessAddress, size int) {
	c := e.emit
	if size > 1 {
		c.BSWAP(size*8, x64.RSCRATCH)
	}
	access := x64.MComplex(x64.RMem, addr.reg, 1, 0)

	start := c.GetCodePtr()
	c.MOV(size*8, access, x64.R(x64.RSCRATCH))
	n := e.padFastmemSite(start)

	e.backpatchInfo[start] = &BackpatchInfo{
		Start:          start,
		Len:            n,
		PC:             op.Address,
		AccessSize:     size,
		Store:          true,
		ValueReg:       x64.RSCRATCH,
		AddrReg:        addr.reg,
		Offset:         addr.offset,
		SwapReg:        x64.RSCRATCH,
		HasSwap:        size > 1,
		RegistersInUse: e.gpr.RegistersInUse() & x64.CallerSaved,
	}
	e.js.fastmemSite = start
}

func (e *Engine) slowLoad(op *analyst.CodeOp, addr accessAddress, size int) {
	c := e.emit
	c.MOV(32, x64.PPCState(ppc.OffPC), x64.Imm32(op.Address))
	regs := e.gpr.RegistersInUse() & x64.CallerSaved
	c.ABIPushRegistersAndAdjustStack(regs, 0)
	signExtend := uint32(0)
	if op.Info.SignExtend {
		signExtend = 1
	}
	e.callHelper(HelperReadMemory, x64.R(addr.reg), x64.Imm32(uint32(size)), x64.Imm32(signExtend))
	c.ABIPopRegistersAndAdjustStack(regs, 0)
	hd := e.bind(op.Inst.RD(), regcache.Write)
	c.MOV(32, x64.R(hd), x64.R(x64.RSCRATCH))
}

func (e *Engine) slowStore(op *analyst.CodeOp, addr accessAddress, size int) {
	c := e.emit
	c.MOV(32, x64.PPCState(ppc.OffPC), x64.Imm32(op.Address))
	regs := e.gpr.RegistersInUse() & x64.CallerSaved
	c.ABIPushRegistersAndAdjustStack(regs, 0)
	e.callHelper(HelperWriteMemory, x64.R(addr.reg), x64.Imm32(uint32(size)), x64.R(x64.RSCRATCH))
	c.ABIPopRegistersAndAdjustStack(regs, 0)
}
