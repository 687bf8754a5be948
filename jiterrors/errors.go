package jiterrors

import (
	"errors"
	"strings"
)

// Compilation (J) Errors
var (
	ErrMemoryTranslation      = errors.New("J1|MemoryTranslationFault: Guest instruction fetch address could not be translated.")
	ErrOutOfSpace             = errors.New("J2|OutOfSpace: Code region exhausted during block emission.")
	ErrBackpatchInconsistency = errors.New("J3|BackpatchInconsistency: Fault inside generated code at a site with no recovery record.")
	ErrStackGuard             = errors.New("J4|StackGuardFault: Access hit the guard region beneath the JIT stack.")
	ErrUnrelatedFault         = errors.New("J5|UnrelatedFault: Fault address outside every known guest memory window.")
)

// Code space (C) Errors
var (
	ErrNoFreeRange    = errors.New("C1|NoFreeRange: No free span large enough in the code region.")
	ErrInvalidRange   = errors.New("C2|InvalidRange: Range is empty, inverted or outside the region.")
	ErrTrampolineFull = errors.New("C3|TrampolineFull: Trampoline region cannot hold another trampoline.")
	ErrCodeSpaceAlloc = errors.New("C4|CodeSpaceAlloc: Unable to map the code space.")
)

// Memory (M) Errors
var (
	ErrArenaUnavailable = errors.New("M1|ArenaUnavailable: Fastmem arena could not be reserved.")
	ErrUnmappedAccess   = errors.New("M2|UnmappedAccess: Guest physical address is not backed by RAM or MMIO.")
	ErrMisalignedAccess = errors.New("M3|MisalignedAccess: Access size is not 1, 2, 4 or 8 bytes.")
)

var all = []error{
	ErrMemoryTranslation, ErrOutOfSpace, ErrBackpatchInconsistency, ErrStackGuard, ErrUnrelatedFault,
	ErrNoFreeRange, ErrInvalidRange, ErrTrampolineFull, ErrCodeSpaceAlloc,
	ErrArenaUnavailable, ErrUnmappedAccess, ErrMisalignedAccess,
}

// Kind returns the sentinel wrapped by err, or nil when err carries none.
func Kind(err error) error {
	for _, e := range all {
		if errors.Is(err, e) {
			return e
		}
	}
	return nil
}

// GetErrorName extracts the error name from the error message.
func GetErrorName(err error) string {
	if err == nil {
		return "No Error"
	}
	if k := Kind(err); k != nil {
		err = k
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "|") || !strings.Contains(errStr, ":") {
		return errStr
	}
	parts := strings.SplitN(errStr, "|", 2)
	if len(parts) < 2 {
		return errStr
	}
	nameDesc := parts[1]
	// Split on ':' to separate the error name from its description.
	nameParts := strings.SplitN(nameDesc, ":", 2)
	if len(nameParts) < 1 {
		return errStr
	}
	return strings.TrimSpace(nameParts[0])
}

func GetErrorNames(errs []error) []string {
	errStrs := make([]string, len(errs))
	for i, err := range errs {
		errStrs[i] = GetErrorName(err)
	}
	return errStrs
}

// GetErrorCode extracts the error code from the error message.
func GetErrorCode(err error) string {
	if err == nil {
		return ""
	}
	if k := Kind(err); k != nil {
		err = k
	}
	errStr := err.Error()
	// Check if the error string contains '|'.
	if !strings.Contains(errStr, "|") {
		return ""
	}
	parts := strings.SplitN(errStr, "|", 2)
	return strings.TrimSpace(parts[0])
}

// GetErrorCodeWithName returns the error code and name in the format "Code_ErrorName".
func GetErrorCodeWithName(err error) string {
	code := GetErrorCode(err)
	name := GetErrorName(err)
	if code == "" || name == "" {
		return ""
	}
	return code + "_" + name
}

// GetErrorDesc extracts the error description from the error message.
func GetErrorDesc(err error) string {
	if err == nil {
		return ""
	}
	errStr := err.Error()
	parts := strings.SplitN(errStr, ":", 2)
	if len(parts) < 2 {
		return "DESC NOT SET"
	}
	return strings.TrimSpace(parts[1])
}
