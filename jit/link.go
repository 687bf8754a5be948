package jit

import (
	"github.com/colorfulnotion/gekko/jit/blockcache"
	"github.com/colorfulnotion/gekko/jit/x64"
	"github.com/colorfulnotion/gekko/ppc"
)

// linkSlack is how far past a 5-byte exit the next block may start and
// still be reached by padding with NOPs instead of a jump.
const linkSlack = 3

// WriteLinkBlock rewrites one exit of a block to reach dest directly, or the
// dispatcher when dest is nil.
func (e *Engine) WriteLinkBlock(source *blockcache.LinkData, dest *blockcache.Block) {
	loc := source.ExitPtr
	em := x64.NewEmitter(e.space, x64.Region{Start: loc, End: loc + 5 + linkSlack})
	target := e.routines.DispatcherNoTimingCheck
	if dest != nil {
		target = dest.NormalEntry
	}
	if source.Call {
		em.CALL(target)
		return
	}
	if dest != nil {
		if off := int64(target) - int64(loc); off > 0 && off <= 5+linkSlack {
			em.NOP(int(off))
			return
		}
	}
	em.JMP(target, true)
}

// WriteDestroyBlock overwrites the entry of b so that anything still
// jumping there stores the block's address as PC and goes back to the
// dispatcher.
func (e *Engine) WriteDestroyBlock(b *blockcache.Block) {
	if b.NormalEntry == 0 || !e.space.Contains(b.NormalEntry) {
		return
	}
	em := x64.NewEmitter(e.space, x64.Region{Start: b.NormalEntry, End: b.NormalEntry + destroySize})
	em.MOV(32, x64.PPCState(ppc.OffPC), x64.Imm32(b.EffectiveAddress))
	em.JMP(e.routines.DispatcherNoCheck, true)
}

// destroySize is the length of the sequence WriteDestroyBlock writes:
// mov dword [rbp+0], imm32 (7 bytes) and jmp rel32 (5 bytes).
const destroySize = 12
