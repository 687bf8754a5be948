package common

import (
	"fmt"
	"time"

	units "github.com/docker/go-units"
)

// Elapsed returns the microseconds since start.
func Elapsed(start time.Time) uint32 {
	return uint32(time.Since(start).Microseconds())
}

// HumanSize renders a byte count with binary units, e.g. "32MiB".
func HumanSize(n uint64) string {
	return units.BytesSize(float64(n))
}

// ParseSize accepts sizes such as "32MiB", "64k" or "1048576".
func ParseSize(s string) (uint64, error) {
	v, err := units.RAMInBytes(s)
	if err != nil {
		return 0, fmt.Errorf("parse size %q: %w", s, err)
	}
	if v < 0 {
		return 0, fmt.Errorf("parse size %q: negative", s)
	}
	return uint64(v), nil
}

// AlignUp rounds v up to a multiple of align, which must be a power of two.
func AlignUp(v, align uint64) uint64 {
	return (v + align - 1) &^ (align - 1)
}

// Hex32 formats a guest address the way logs print it.
func Hex32(v uint32) string {
	return fmt.Sprintf("0x%08x", v)
}
