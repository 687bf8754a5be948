package codecache

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(s *RangeSet) []Range {
	var out []Range
	s.Ascend(func(r Range) bool {
		out = append(out, r)
		return true
	})
	return out
}

func TestRangeSetMergeAndSplit(t *testing.T) {
	s := NewRangeSet()
	require.NoError(t, s.Insert(Range{0x100, 0x200}))
	require.NoError(t, s.Insert(Range{0x300, 0x400}))
	require.NoError(t, s.Insert(Range{0x200, 0x300}))
	assert.Equal(t, []Range{{0x100, 0x400}}, collect(s))
	assert.Equal(t, uintptr(0x300), s.Free())

	require.NoError(t, s.Erase(Range{0x180, 0x280}))
	assert.Equal(t, []Range{{0x100, 0x180}, {0x280, 0x400}}, collect(s))
	assert.Equal(t, uintptr(0x200), s.Free())

	assert.Error(t, s.Erase(Range{0x170, 0x190}), "erase across an allocated hole")
	assert.Error(t, s.Insert(Range{0x150, 0x160}), "insert over free space")
	assert.True(t, s.Contains(Range{0x280, 0x300}))
	assert.False(t, s.Contains(Range{0x180, 0x190}))
}

func TestLargestPrefersLowestAddress(t *testing.T) {
	s := NewRangeSet()
	require.NoError(t, s.Insert(Range{0x500, 0x600}))
	require.NoError(t, s.Insert(Range{0x100, 0x200}))
	require.NoError(t, s.Insert(Range{0x300, 0x380}))
	r, ok := s.Largest()
	require.True(t, ok)
	assert.Equal(t, Range{0x100, 0x200}, r)

	require.NoError(t, s.Erase(Range{0x100, 0x200}))
	r, _ = s.Largest()
	assert.Equal(t, Range{0x500, 0x600}, r)

	s.Clear()
	_, ok = s.Largest()
	assert.False(t, ok)
}

func TestAllocatorAccounting(t *testing.T) {
	near := Range{0x10000, 0x20000}
	far := Range{0x20000, 0x28000}
	a := NewAllocator(near, far)
	assert.Equal(t, near.Size(), a.Free(Near))
	assert.Equal(t, far.Size(), a.Free(Far))

	rng := rand.New(rand.NewSource(1))
	var live []Range
	for i := 0; i < 500; i++ {
		if len(live) > 0 && rng.Intn(3) == 0 {
			k := rng.Intn(len(live))
			require.NoError(t, a.MarkFree(Near, live[k]))
			live = append(live[:k], live[k+1:]...)
		} else {
			size := uintptr(16 + rng.Intn(512))
			span, err := a.AllocateSpan(Near, size)
			if err != nil {
				continue
			}
			used := Range{span.Start, span.Start + size}
			require.NoError(t, a.Commit(Near, used))
			live = append(live, used)
		}
		var liveSize uintptr
		for _, r := range live {
			liveSize += r.Size()
		}
		require.Equal(t, near.Size(), a.Free(Near)+liveSize)
		require.Equal(t, liveSize, a.Used(Near))
	}
}

func TestAllocatorExhaustion(t *testing.T) {
	a := NewAllocator(Range{0x1000, 0x1100}, Range{0x2000, 0x2000})
	_, err := a.AllocateSpan(Far, 1)
	assert.Error(t, err)
	_, err = a.AllocateSpan(Near, 0x200)
	assert.Error(t, err)

	span, err := a.AllocateSpan(Near, 0x80)
	require.NoError(t, err)
	require.NoError(t, a.Commit(Near, span))
	_, err = a.AllocateSpan(Near, 1)
	assert.Error(t, err)

	assert.Error(t, a.MarkFree(Near, Range{0x0, 0x10}), "outside the region")
	a.Reset(Near)
	assert.Equal(t, uintptr(0x100), a.Free(Near))
}
