package blockcache

import (
	"strings"
	"testing"

	"github.com/colorfulnotion/gekko/jit/codecache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type linkEvent struct {
	exit uintptr
	dest uint32 // 0 for dispatcher
}

type fakeLinker struct {
	links     []linkEvent
	destroyed []uint32
}

func (f *fakeLinker) WriteLinkBlock(source *LinkData, dest *Block) {
	ev := linkEvent{exit: source.ExitPtr}
	if dest != nil {
		ev.dest = dest.EffectiveAddress
	}
	f.links = append(f.links, ev)
}

func (f *fakeLinker) WriteDestroyBlock(b *Block) { f.destroyed = append(f.destroyed, b.EffectiveAddress) }

func addBlock(c *BlockCache, addr uint32, near codecache.Range, n int, exits ...uint32) *Block {
	b := c.AllocateBlock(addr, 0)
	b.PhysicalAddress = addr & 0x3FFFFFFF
	b.Near = near
	b.NormalEntry = near.Start
	b.OriginalSize = n
	for i, e := range exits {
		b.Links = append(b.Links, LinkData{ExitAddress: e, ExitPtr: near.Start + 0x10 + uintptr(i)*8})
	}
	phys := make([]uint32, n)
	for i := range phys {
		phys[i] = b.PhysicalAddress + uint32(i)*4
	}
	c.FinalizeBlock(b, true, phys)
	return b
}

func TestLinkOnLaterCompile(t *testing.T) {
	l := &fakeLinker{}
	c := New(l)
	a := addBlock(c, 0x80003000, codecache.Range{Start: 0x1000, End: 0x1040}, 2, 0x80003008)
	assert.False(t, a.Links[0].Linked)
	assert.Empty(t, l.links)

	addBlock(c, 0x80003008, codecache.Range{Start: 0x1040, End: 0x1080}, 1)
	require.Len(t, l.links, 1)
	assert.Equal(t, linkEvent{exit: 0x1010, dest: 0x80003008}, l.links[0])
	assert.True(t, a.Links[0].Linked)
}

func TestInvalidateUnlinksAndQueuesSpans(t *testing.T) {
	l := &fakeLinker{}
	c := New(l)
	a := addBlock(c, 0x80003000, codecache.Range{Start: 0x1000, End: 0x1040}, 2, 0x80003100)
	b := addBlock(c, 0x80003100, codecache.Range{Start: 0x1040, End: 0x1080}, 4)
	b.Far = codecache.Range{Start: 0x9000, End: 0x9010}
	require.True(t, a.Links[0].Linked)

	assert.Equal(t, 0, c.Invalidate(0x00003200, 0x20))
	assert.Equal(t, 1, c.Invalidate(0x0000310C, 4))
	assert.Nil(t, c.GetBlockFromStartAddress(0x80003100, 0))
	assert.False(t, a.Links[0].Linked)
	assert.Equal(t, linkEvent{exit: 0x1010}, l.links[len(l.links)-1])
	assert.Equal(t, []uint32{0x80003100}, l.destroyed)

	near, far := c.RangesToFree()
	assert.Equal(t, []codecache.Range{{Start: 0x1040, End: 0x1080}}, near)
	assert.Equal(t, []codecache.Range{{Start: 0x9000, End: 0x9010}}, far)
	c.ClearRangesToFree()
	near, _ = c.RangesToFree()
	assert.Empty(t, near)
	assert.Equal(t, 1, c.Len())
}

func TestRecompileReplacesBlock(t *testing.T) {
	l := &fakeLinker{}
	c := New(l)
	addBlock(c, 0x80004000, codecache.Range{Start: 0x1000, End: 0x1040}, 1)
	nb := addBlock(c, 0x80004000, codecache.Range{Start: 0x2000, End: 0x2040}, 1)
	assert.Same(t, nb, c.GetBlockFromStartAddress(0x80004000, 0))
	assert.Equal(t, 1, c.Len())
	near, _ := c.RangesToFree()
	assert.Equal(t, []codecache.Range{{Start: 0x1000, End: 0x1040}}, near)
}

func TestClearIsIdempotent(t *testing.T) {
	l := &fakeLinker{}
	c := New(l)
	addBlock(c, 0x80003000, codecache.Range{Start: 0x1000, End: 0x1040}, 2, 0x80003008)
	addBlock(c, 0x80003008, codecache.Range{Start: 0x1040, End: 0x1080}, 1)
	c.Clear()
	assert.Equal(t, 0, c.Len())
	destroyed := len(l.destroyed)
	c.Clear()
	assert.Equal(t, 0, c.Len())
	assert.Len(t, l.destroyed, destroyed)
	near, far := c.RangesToFree()
	assert.Empty(t, near)
	assert.Empty(t, far)
	assert.Empty(t, c.Blocks())
}

func TestLinkTree(t *testing.T) {
	l := &fakeLinker{}
	c := New(l)
	addBlock(c, 0x80003000, codecache.Range{Start: 0x1000, End: 0x1040}, 2, 0x80003008, 0x80005000)
	addBlock(c, 0x80003008, codecache.Range{Start: 0x1040, End: 0x1080}, 1, 0x80003000)
	out := c.LinkTree(0x80003000, 0).String()
	assert.Contains(t, out, "jmp block 80003008")
	assert.Contains(t, out, "80005000 -> dispatcher")
	assert.Contains(t, out, "80003000 (seen)")
	assert.True(t, strings.HasPrefix(out, "block 80003000"))
}

func TestInvalidateAllQueuesEverySpan(t *testing.T) {
	l := &fakeLinker{}
	c := New(l)
	addBlock(c, 0x80003000, codecache.Range{Start: 0x1000, End: 0x1040}, 2, 0x80003100)
	addBlock(c, 0x80003100, codecache.Range{Start: 0x1040, End: 0x1080}, 1)
	assert.Equal(t, 2, c.InvalidateAll())
	assert.Equal(t, 0, c.Len())
	assert.ElementsMatch(t, []uint32{0x80003000, 0x80003100}, l.destroyed)
	near, _ := c.RangesToFree()
	assert.Len(t, near, 2)
}
