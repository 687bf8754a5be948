package ppc

// Pending exception bits in State.Exceptions.
const (
	ExceptionDecrementer        = 0x00000001
	ExceptionSyscall            = 0x00000002
	ExceptionExternalInt        = 0x00000004
	ExceptionDSI                = 0x00000008
	ExceptionISI                = 0x00000010
	ExceptionAlignment          = 0x00000020
	ExceptionFPUUnavailable     = 0x00000040
	ExceptionProgram            = 0x00000080
	ExceptionPerformanceMonitor = 0x00000100
)

// MSR bits.
const (
	MSREE = 1 << 15
	MSRPR = 1 << 14
	MSRFP = 1 << 13
	MSRIR = 1 << 5
	MSRDR = 1 << 4
	MSRRI = 1 << 1
)

const XERCA = 1 << 29

// Interrupt causes the gather pipe check looks at.
const (
	IntCauseCP       = 0x0800
	IntCausePEToken  = 0x0200
	IntCausePEFinish = 0x0400
	IntCauseGPMask   = IntCauseCP | IntCausePEToken | IntCausePEFinish
)

const (
	srr1Mask    = 0x87C0FFFF
	msrOnVector = 0x04EF36
)

// Exception vectors.
const (
	VectorDSI             = 0x300
	VectorISI             = 0x400
	VectorExternal        = 0x500
	VectorAlignment       = 0x600
	VectorProgram         = 0x700
	VectorFPUUnavailable  = 0x800
	VectorDecrementer     = 0x900
	VectorSyscall         = 0xC00
	VectorPerfMonitor     = 0xF00
)

func (s *State) takeException(vector uint32, srr0 uint32, clear uint32, srr1Extra uint32) {
	s.SetSPR(SprSRR0, srr0)
	s.SetSPR(SprSRR1, s.MSR()&srr1Mask|srr1Extra)
	s.SetMSR(s.MSR() &^ msrOnVector)
	s.SetPC(vector)
	s.SetNPC(vector)
	s.ClearException(clear)
}

// RaiseDSI records a data storage fault at ea.
func (s *State) RaiseDSI(ea uint32, store bool) {
	s.SetSPR(SprDAR, ea)
	var dsisr uint32 = 1 << 30
	if store {
		dsisr |= 1 << 25
	}
	s.SetSPR(SprDSISR, dsisr)
	s.RaiseException(ExceptionDSI)
}

// CheckExceptions delivers the highest priority pending synchronous
// exception, falling back to external ones.
func (s *State) CheckExceptions() {
	exc := s.Exceptions()
	switch {
	case exc == 0:
		return
	case exc&ExceptionISI != 0:
		s.takeException(VectorISI, s.NPC(), ExceptionISI, 1<<30)
	case exc&ExceptionProgram != 0:
		s.takeException(VectorProgram, s.PC(), ExceptionProgram, 0)
	case exc&ExceptionSyscall != 0:
		s.takeException(VectorSyscall, s.NPC(), ExceptionSyscall, 0)
	case exc&ExceptionFPUUnavailable != 0:
		s.takeException(VectorFPUUnavailable, s.PC(), ExceptionFPUUnavailable, 0)
	case exc&ExceptionDSI != 0:
		s.takeException(VectorDSI, s.PC(), ExceptionDSI, 0)
	case exc&ExceptionAlignment != 0:
		s.takeException(VectorAlignment, s.PC(), ExceptionAlignment, 0)
	default:
		s.CheckExternalExceptions()
	}
}

// CheckExternalExceptions delivers interrupts when MSR[EE] allows them.
func (s *State) CheckExternalExceptions() {
	exc := s.Exceptions()
	if exc == 0 || s.MSR()&MSREE == 0 {
		return
	}
	switch {
	case exc&ExceptionExternalInt != 0:
		s.takeException(VectorExternal, s.NPC(), ExceptionExternalInt, 0)
	case exc&ExceptionPerformanceMonitor != 0:
		s.takeException(VectorPerfMonitor, s.NPC(), ExceptionPerformanceMonitor, 0)
	case exc&ExceptionDecrementer != 0:
		s.takeException(VectorDecrementer, s.NPC(), ExceptionDecrementer, 0)
	}
}
