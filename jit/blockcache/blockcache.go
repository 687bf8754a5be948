package blockcache

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/colorfulnotion/gekko/jit/codecache"
	"github.com/colorfulnotion/gekko/log"
	"github.com/xlab/treeprint"
)

// pageShift groups blocks by the physical 4KiB page of each source
// instruction for invalidation lookups.
const pageShift = 12

// Linker rewrites host code when links change.
type Linker interface {
	// WriteLinkBlock points an exit at dest, or back to the dispatcher when
	// dest is nil.
	WriteLinkBlock(source *LinkData, dest *Block)
	// WriteDestroyBlock makes the block entry fall back to the dispatcher.
	WriteDestroyBlock(b *Block)
}

type blockKey struct {
	addr uint32
	msr  uint32
}

// BlockCache indexes compiled blocks by entry address, by source physical
// page and by link target.
type BlockCache struct {
	linker Linker

	blocks  map[blockKey]*Block
	byPage  map[uint32]map[*Block]struct{}
	linksTo map[uint32]map[*Block]struct{}

	freeNear []codecache.Range
	freeFar  []codecache.Range
}

func New(linker Linker) *BlockCache {
	c := &BlockCache{linker: linker}
	c.reset()
	return c
}

func (c *BlockCache) reset() {
	c.blocks = make(map[blockKey]*Block)
	c.byPage = make(map[uint32]map[*Block]struct{})
	c.linksTo = make(map[uint32]map[*Block]struct{})
}

// Len is the number of live blocks.
func (c *BlockCache) Len() int { return len(c.blocks) }

// AllocateBlock returns a fresh block for addr; it is not visible until
// FinalizeBlock.
func (c *BlockCache) AllocateBlock(addr, msrBits uint32) *Block {
	return &Block{EffectiveAddress: addr, MSRBits: msrBits, PhysicalAddresses: make(map[uint32]struct{})}
}

// FinalizeBlock publishes b, replacing any older block at the same entry,
// and links it in both directions when linking is enabled.
func (c *BlockCache) FinalizeBlock(b *Block, link bool, physical []uint32) {
	key := blockKey{b.EffectiveAddress, b.MSRBits}
	if old, ok := c.blocks[key]; ok {
		c.destroy(old)
		c.queueFree(old)
	}
	for _, p := range physical {
		b.PhysicalAddresses[p] = struct{}{}
		page := p >> pageShift
		set, ok := c.byPage[page]
		if !ok {
			set = make(map[*Block]struct{})
			c.byPage[page] = set
		}
		if _, dup := set[b]; !dup {
			set[b] = struct{}{}
			b.pages = append(b.pages, page)
		}
	}
	c.blocks[key] = b
	for _, l := range b.Links {
		set, ok := c.linksTo[l.ExitAddress]
		if !ok {
			set = make(map[*Block]struct{})
			c.linksTo[l.ExitAddress] = set
		}
		set[b] = struct{}{}
	}
	if link {
		c.linkBlock(b)
	}
	log.Trace(log.CacheModule, "block finalized", "block", b.String(), "links", len(b.Links))
}

// GetBlockFromStartAddress returns the block entered at addr under msrBits.
func (c *BlockCache) GetBlockFromStartAddress(addr, msrBits uint32) *Block {
	return c.blocks[blockKey{addr, msrBits}]
}

// Blocks returns the live blocks ordered by address.
func (c *BlockCache) Blocks() []*Block {
	out := make([]*Block, 0, len(c.blocks))
	for _, b := range c.blocks {
		out = append(out, b)
	}
	slices.SortFunc(out, func(a, b *Block) int {
		if a.EffectiveAddress != b.EffectiveAddress {
			return cmp.Compare(a.EffectiveAddress, b.EffectiveAddress)
		}
		return cmp.Compare(a.MSRBits, b.MSRBits)
	})
	return out
}

func (c *BlockCache) linkBlockExits(b *Block) {
	for i := range b.Links {
		l := &b.Links[i]
		if l.Linked {
			continue
		}
		if dest := c.GetBlockFromStartAddress(l.ExitAddress, b.MSRBits); dest != nil {
			c.linker.WriteLinkBlock(l, dest)
			l.Linked = true
		}
	}
}

func (c *BlockCache) linkBlock(b *Block) {
	c.linkBlockExits(b)
	for src := range c.linksTo[b.EffectiveAddress] {
		if src.MSRBits == b.MSRBits {
			c.linkBlockExits(src)
		}
	}
}

func (c *BlockCache) unlinkBlock(b *Block) {
	for src := range c.linksTo[b.EffectiveAddress] {
		if src.MSRBits != b.MSRBits {
			continue
		}
		for i := range src.Links {
			l := &src.Links[i]
			if l.ExitAddress == b.EffectiveAddress && l.Linked {
				c.linker.WriteLinkBlock(l, nil)
				l.Linked = false
			}
		}
	}
}

// destroy removes b from every index and rewrites its code to fall back to
// the dispatcher.
func (c *BlockCache) destroy(b *Block) {
	key := blockKey{b.EffectiveAddress, b.MSRBits}
	if c.blocks[key] == b {
		delete(c.blocks, key)
	}
	for _, page := range b.pages {
		if set, ok := c.byPage[page]; ok {
			delete(set, b)
			if len(set) == 0 {
				delete(c.byPage, page)
			}
		}
	}
	b.pages = nil
	for _, l := range b.Links {
		if set, ok := c.linksTo[l.ExitAddress]; ok {
			delete(set, b)
			if len(set) == 0 {
				delete(c.linksTo, l.ExitAddress)
			}
		}
	}
	c.unlinkBlock(b)
	c.linker.WriteDestroyBlock(b)
}

func (c *BlockCache) queueFree(b *Block) {
	if !b.Near.Empty() {
		c.freeNear = append(c.freeNear, b.Near)
	}
	if !b.Far.Empty() {
		c.freeFar = append(c.freeFar, b.Far)
	}
}

// Invalidate destroys every block compiled from [addr, addr+length) of
// physical memory. Their code spans are queued rather than freed since a
// fault may still be in flight inside them. It reports how many blocks went.
func (c *BlockCache) Invalidate(addr, length uint32) int {
	if length == 0 {
		return 0
	}
	var victims []*Block
	seen := make(map[*Block]struct{})
	last := (addr + length - 1) >> pageShift
	for page := addr >> pageShift; page <= last; page++ {
		for b := range c.byPage[page] {
			if _, ok := seen[b]; ok {
				continue
			}
			seen[b] = struct{}{}
			if b.OverlapsPhysicalRange(addr, length) {
				victims = append(victims, b)
			}
		}
		if page == last {
			break
		}
	}
	for _, b := range victims {
		c.destroy(b)
		c.queueFree(b)
	}
	if len(victims) > 0 {
		log.Debug(log.CacheModule, "invalidated blocks", "addr", fmt.Sprintf("%08x", addr), "length", length, "count", len(victims))
	}
	return len(victims)
}

// InvalidateAll destroys every block but, unlike Clear, queues their spans
// for release at the next compile.
func (c *BlockCache) InvalidateAll() int {
	victims := make([]*Block, 0, len(c.blocks))
	for _, b := range c.blocks {
		victims = append(victims, b)
	}
	for _, b := range victims {
		c.destroy(b)
		c.queueFree(b)
	}
	return len(victims)
}

// Clear destroys every block and forgets queued spans; the caller resets
// the allocator. Calling it on an empty cache is a no-op.
func (c *BlockCache) Clear() {
	for _, b := range c.blocks {
		c.linker.WriteDestroyBlock(b)
	}
	c.reset()
	c.ClearRangesToFree()
}

// RangesToFree returns the spans of destroyed blocks awaiting release.
func (c *BlockCache) RangesToFree() (near, far []codecache.Range) {
	return c.freeNear, c.freeFar
}

func (c *BlockCache) ClearRangesToFree() {
	c.freeNear = nil
	c.freeFar = nil
}

// LinkTree renders the direct links reachable from the block at addr.
func (c *BlockCache) LinkTree(addr, msrBits uint32) treeprint.Tree {
	tree := treeprint.New()
	root := c.GetBlockFromStartAddress(addr, msrBits)
	if root == nil {
		tree.SetValue(fmt.Sprintf("%08x (not compiled)", addr))
		return tree
	}
	tree.SetValue(root.String())
	c.addLinks(tree, root, map[*Block]bool{root: true})
	return tree
}

func (c *BlockCache) addLinks(node treeprint.Tree, b *Block, visited map[*Block]bool) {
	for _, l := range b.Links {
		kind := "jmp"
		if l.Call {
			kind = "call"
		}
		dest := c.GetBlockFromStartAddress(l.ExitAddress, b.MSRBits)
		switch {
		case dest == nil:
			node.AddNode(fmt.Sprintf("%s %08x -> dispatcher", kind, l.ExitAddress))
		case !l.Linked:
			node.AddNode(fmt.Sprintf("%s %08x (unlinked)", kind, l.ExitAddress))
		case visited[dest]:
			node.AddNode(fmt.Sprintf("%s %08x (seen)", kind, l.ExitAddress))
		default:
			visited[dest] = true
			branch := node.AddBranch(fmt.Sprintf("%s %s", kind, dest.String()))
			c.addLinks(branch, dest, visited)
		}
	}
}
