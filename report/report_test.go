package report

import (
	"bytes"
	"testing"

	"github.com/colorfulnotion/gekko/jit/blockcache"
	"github.com/colorfulnotion/gekko/jit/codecache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopLinker struct{}

func (nopLinker) WriteLinkBlock(*blockcache.LinkData, *blockcache.Block) {}
func (nopLinker) WriteDestroyBlock(*blockcache.Block)                    {}

type fakeSource struct {
	alloc  *codecache.Allocator
	blocks *blockcache.BlockCache
}

func (f *fakeSource) Allocator() *codecache.Allocator    { return f.alloc }
func (f *fakeSource) BlockCache() *blockcache.BlockCache { return f.blocks }

func newSource(t *testing.T) *fakeSource {
	t.Helper()
	near := codecache.Range{Start: 0x10000, End: 0x20000}
	far := codecache.Range{Start: 0x20000, End: 0x28000}
	src := &fakeSource{alloc: codecache.NewAllocator(near, far), blocks: blockcache.New(nopLinker{})}

	add := func(addr uint32, start, size uintptr, insts int, exits ...uint32) {
		b := src.blocks.AllocateBlock(addr, 0)
		b.Near = codecache.Range{Start: start, End: start + size}
		b.NormalEntry = start
		b.OriginalSize = insts
		for i, x := range exits {
			b.Links = append(b.Links, blockcache.LinkData{ExitAddress: x, ExitPtr: start + 8 + uintptr(i)*8})
		}
		require.NoError(t, src.alloc.Commit(codecache.Near, b.Near))
		src.blocks.FinalizeBlock(b, true, []uint32{addr & 0x3FFFFFFF})
	}
	add(0x80003000, 0x10000, 40, 3, 0x80003100)
	add(0x80003100, 0x10100, 300, 12, 0x80003000, 0x80009000)
	add(0x80003200, 0x11000, 5000, 200)
	return src
}

func TestCollect(t *testing.T) {
	r := Collect(newSource(t))

	assert.Equal(t, 3, r.Blocks)
	assert.Equal(t, 215, r.Instructions)
	assert.Equal(t, 3, r.Links)
	assert.Equal(t, 2, r.Linked)

	assert.Equal(t, uintptr(0x10000), r.Near.Size)
	assert.Equal(t, uintptr(5340), r.Near.Live)
	assert.Equal(t, r.Near.Size-r.Near.Live, r.Near.Free)
	assert.Equal(t, 3, r.Near.FreeRanges)
	assert.Zero(t, r.Far.Live)
	assert.Zero(t, r.Far.Fragmentation())
	assert.Greater(t, r.Near.Fragmentation(), 0.0)

	counts := map[uintptr]int{}
	for _, b := range r.Histogram {
		counts[b.Limit] = b.Count
	}
	assert.Equal(t, 1, counts[64])
	assert.Equal(t, 1, counts[512])
	assert.Equal(t, 1, counts[0])
	assert.Equal(t, "larger", r.Histogram[len(r.Histogram)-1].Label())
	assert.Equal(t, "< 64B", r.Histogram[0].Label())
}

func TestRender(t *testing.T) {
	r := Collect(newSource(t))
	var buf bytes.Buffer
	require.NoError(t, r.Render(&buf))
	html := buf.String()
	assert.Contains(t, html, "Code cache occupancy")
	assert.Contains(t, html, "Block sizes")
	assert.Contains(t, html, "2 of 3 exits linked")
	assert.Contains(t, html, "0x80003100")
}
