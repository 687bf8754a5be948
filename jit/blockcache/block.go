package blockcache

import (
	"fmt"

	"github.com/colorfulnotion/gekko/jit/codecache"
)

// LinkData is one patchable exit of a block.
type LinkData struct {
	ExitAddress uint32  // guest target
	ExitPtr     uintptr // host address of the 5-byte JMP/CALL
	Call        bool    // exit is a CALL pushing a BLR return address
	Linked      bool
}

// ProfileData accumulates per-block run statistics.
type ProfileData struct {
	TicStart  int64 // monotonic nanoseconds at the last entry
	RunCount  uint64
	Downcount uint64
	Ticks     uint64
}

// Block is a compiled run of guest instructions.
type Block struct {
	EffectiveAddress uint32
	PhysicalAddress  uint32
	MSRBits          uint32
	NormalEntry      uintptr
	CodeSize         int
	OriginalSize     int // guest instructions

	Near codecache.Range
	Far  codecache.Range

	Links []LinkData

	// PhysicalAddresses holds the physical address of every guest
	// instruction compiled into the block.
	PhysicalAddresses map[uint32]struct{}

	Profile ProfileData

	pages []uint32
}

// OverlapsPhysicalRange reports whether any source instruction lies in
// [addr, addr+length).
func (b *Block) OverlapsPhysicalRange(addr, length uint32) bool {
	for p := range b.PhysicalAddresses {
		if p+4 > addr && p < addr+length {
			return true
		}
	}
	return false
}

func (b *Block) String() string {
	return fmt.Sprintf("block %08x (phys %08x, %d insts, %d bytes @ %#x)",
		b.EffectiveAddress, b.PhysicalAddress, b.OriginalSize, b.CodeSize, b.NormalEntry)
}
