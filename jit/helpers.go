package jit

import (
	"fmt"
	"time"

	"github.com/colorfulnotion/gekko/jit/x64"
	"github.com/colorfulnotion/gekko/log"
	"github.com/colorfulnotion/gekko/memmap"
	"github.com/colorfulnotion/gekko/ppc"
	"github.com/colorfulnotion/gekko/ppc/interpreter"
	"github.com/colorfulnotion/gekko/storage"
)

// Helper names a host routine generated code calls into. Each helper owns
// a small slot in the helper page holding a bare RET; the executor
// intercepts execution at the slot, runs the helper with the System V
// argument registers and places the result in RAX before the RET.
type Helper int

const (
	HelperDispatch Helper = iota
	HelperAdvance
	HelperIdle
	HelperInterpret
	HelperReadMemory
	HelperWriteMemory
	HelperCheckExceptions
	HelperCheckExternalExceptions
	HelperCheckBreakPoints
	HelperCompileExceptionCheck
	HelperHLE
	HelperUpdateGatherPipe
	HelperFastCheckGatherPipe
	HelperProfileStart
	HelperProfileEnd
	HelperQuantizedLoad
	HelperQuantizedStore
	NumHelpers
)

var helperNames = [NumHelpers]string{
	"dispatch", "advance", "idle", "interpret", "read_memory", "write_memory",
	"check_exceptions", "check_external_exceptions", "check_breakpoints",
	"compile_exception_check", "hle", "update_gather_pipe", "fast_check_gather_pipe",
	"profile_start", "profile_end", "quantized_load", "quantized_store",
}

func (h Helper) String() string {
	if h >= 0 && h < NumHelpers {
		return helperNames[h]
	}
	return fmt.Sprintf("helper(%d)", int(h))
}

const helperSlotSize = 16

// HelperAddress is the call target generated code uses for h.
func (e *Engine) HelperAddress(h Helper) uintptr {
	return e.helperRegion.Start + uintptr(h)*helperSlotSize
}

// HelperAt maps an instruction pointer inside the helper page back to its
// helper.
func (e *Engine) HelperAt(pc uintptr) (Helper, bool) {
	if !e.helperRegion.Contains(pc) {
		return 0, false
	}
	off := pc - e.helperRegion.Start
	if off%helperSlotSize != 0 || off/helperSlotSize >= uintptr(NumHelpers) {
		return 0, false
	}
	return Helper(off / helperSlotSize), true
}

// HelperRegion is the page of helper slots.
func (e *Engine) HelperRegion() x64.Region { return e.helperRegion }

func (e *Engine) emitHelperPage() {
	em := x64.NewEmitter(e.space, e.helperRegion)
	for h := Helper(0); h < NumHelpers; h++ {
		em.SetCodePtr(e.HelperAddress(h), e.HelperAddress(h)+helperSlotSize)
		em.RET()
		for em.Remaining() > 0 {
			em.INT3()
		}
	}
}

// callHelper emits a call to h after loading up to four integer
// arguments. Arguments are moved in parameter order, so an argument must not
// be read from a parameter register already written.
func (e *Engine) callHelper(h Helper, args ...x64.OpArg) { e.callHelperOn(e.emit, h, args...) }

func (e *Engine) callHelperOn(c *x64.Emitter, h Helper, args ...x64.OpArg) {
	for i, a := range args {
		dst := x64.ABIParams[i]
		if a.IsReg() && a.Reg() == dst {
			continue
		}
		c.MOV(32, x64.R(dst), a)
	}
	c.CALL(e.HelperAddress(h))
}

// CallHelper runs h with the argument registers of the interrupted code and
// returns the value for RAX.
func (e *Engine) CallHelper(h Helper, args [4]uint64) uint64 {
	var ret uint64
	st := e.st
	switch h {
	case HelperDispatch:
		ret = uint64(e.Dispatch())
	case HelperAdvance:
		e.timing.Advance(st)
	case HelperIdle:
		e.timing.Idle(st)
	case HelperInterpret:
		e.interp.Execute(ppc.Inst(args[0]))
	case HelperReadMemory:
		ret = uint64(e.slowRead(uint32(args[0]), int(args[1]), args[2] != 0))
	case HelperWriteMemory:
		e.slowWrite(uint32(args[0]), int(args[1]), args[2])
	case HelperCheckExceptions:
		st.CheckExceptions()
	case HelperCheckExternalExceptions:
		st.CheckExternalExceptions()
	case HelperCheckBreakPoints:
		e.checkBreakPoints()
	case HelperCompileExceptionCheck:
		e.CompileExceptionCheck(storage.HintKind(args[0]))
	case HelperHLE:
		e.hle.Execute(uint32(args[1]), st, e.mem)
	case HelperUpdateGatherPipe:
		e.gatherPipe.Update()
	case HelperFastCheckGatherPipe:
		e.gatherPipe.Check()
	case HelperProfileStart:
		e.profileStart(uint32(args[0]))
	case HelperProfileEnd:
		e.profileEnd(uint32(args[0]), uint32(args[1]))
	case HelperQuantizedLoad:
		e.quantizedLoad(uint32(args[0]), uint32(args[1]), uint32(args[2]))
	case HelperQuantizedStore:
		e.quantizedStore(uint32(args[0]), uint32(args[1]), uint32(args[2]))
	default:
		log.Error(log.JitModule, "unknown helper", "id", int(h))
	}
	e.syncMemBase()
	e.stats.HelperCalls[h]++
	return ret
}

// syncMemBase points the fastmem base slot at the window matching the
// current data translation mode; helpers may have changed MSR.
func (e *Engine) syncMemBase() {
	if !e.mem.FastmemEnabled() {
		return
	}
	base := e.mem.PhysicalBase()
	if e.st.MSR()&ppc.MSRDR != 0 {
		base = e.mem.LogicalBase()
	}
	e.st.SetMemBase(uint64(base))
}

func extend(v uint64, size int, signExtend bool) uint32 {
	if !signExtend {
		return uint32(v)
	}
	switch size {
	case 1:
		return uint32(int32(int8(v)))
	case 2:
		return uint32(int32(int16(v)))
	}
	return uint32(v)
}

func (e *Engine) slowRead(addr uint32, size int, signExtend bool) uint32 {
	v, ok := e.mem.Read(addr, size)
	if !ok {
		e.st.RaiseDSI(addr, false)
		return 0
	}
	return extend(v, size, signExtend)
}

func (e *Engine) slowWrite(addr uint32, size int, v uint64) {
	if !e.mem.Write(addr, size, v) {
		e.st.RaiseDSI(addr, true)
		return
	}
	if phys, ok := e.mem.TranslateData(addr); ok && phys&^0x1F == memmap.GatherPipePhysical {
		e.CompileExceptionCheck(storage.FIFOWrite)
	}
}

func (e *Engine) quantizedLoad(regW, ea, gqr uint32) {
	frd, w := int(regW&31), regW&0x100 != 0
	ps0, ps1, ok := interpreter.QuantizedLoad(e.mem, ea, gqr, w)
	if !ok {
		e.st.RaiseDSI(ea, false)
		return
	}
	e.st.SetPS0(frd, ps0)
	e.st.SetPS1(frd, ps1)
}

func (e *Engine) quantizedStore(regW, ea, gqr uint32) {
	frs, w := int(regW&31), regW&0x100 != 0
	if !interpreter.QuantizedStore(e.mem, ea, gqr, w, e.st.PS0(frs), e.st.PS1(frs)) {
		e.st.RaiseDSI(ea, true)
	}
}

func (e *Engine) checkBreakPoints() {
	pc := e.st.PC()
	if e.breakpoints.IsBreakPoint(pc) {
		log.Info(log.JitModule, "breakpoint hit", "pc", fmt.Sprintf("%08x", pc))
		e.st.SetCPUState(ppc.CPUStepping)
	}
}

func (e *Engine) profileStart(addr uint32) {
	if b := e.blocks.GetBlockFromStartAddress(addr, e.msrBits()); b != nil {
		b.Profile.RunCount++
		b.Profile.TicStart = time.Now().UnixNano()
	}
}

func (e *Engine) profileEnd(addr, downcount uint32) {
	if b := e.blocks.GetBlockFromStartAddress(addr, e.msrBits()); b != nil {
		b.Profile.Ticks += uint64(time.Now().UnixNano() - b.Profile.TicStart)
		b.Profile.Downcount += uint64(downcount)
	}
}
