package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPersistenceStorePrefix(t *testing.T) {
	ps, err := NewPersistenceStore("")
	require.NoError(t, err)
	defer ps.Close()

	require.NoError(t, ps.Put([]byte("a/1"), []byte("x")))
	require.NoError(t, ps.Put([]byte("a/2"), []byte("y")))
	require.NoError(t, ps.Put([]byte("b/1"), []byte("z")))

	pairs, err := ps.GetWithPrefix([]byte("a/"))
	require.NoError(t, err)
	require.Len(t, pairs, 2)
	assert.Equal(t, []byte("a/1"), pairs[0][0])

	require.NoError(t, ps.DeletePrefix([]byte("a/")))
	_, found, err := ps.Get([]byte("a/2"))
	require.NoError(t, err)
	assert.False(t, found)
	_, found, _ = ps.Get([]byte("b/1"))
	assert.True(t, found)
}

func TestProfileStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile")

	ps, err := OpenProfileStore(path, "GZLE01")
	require.NoError(t, err)
	added, err := ps.Add(PairedQuantize, 0x80004000)
	require.NoError(t, err)
	assert.True(t, added)
	added, err = ps.Add(PairedQuantize, 0x80004000)
	require.NoError(t, err)
	assert.False(t, added)
	_, err = ps.Add(FIFOWrite, 0x80001234)
	require.NoError(t, err)
	require.NoError(t, ps.Close())

	ps, err = OpenProfileStore(path, "GZLE01")
	require.NoError(t, err)
	defer ps.Close()
	assert.True(t, ps.Contains(PairedQuantize, 0x80004000))
	assert.True(t, ps.Contains(FIFOWrite, 0x80001234))
	assert.False(t, ps.Contains(SpeculativeConstants, 0x80004000))
	assert.Equal(t, []uint32{0x80004000}, ps.Addresses(PairedQuantize))

	other, err := OpenProfileStore("", "RMCE01")
	require.NoError(t, err)
	defer other.Close()
	assert.Empty(t, other.Addresses(PairedQuantize))
}

func TestProfileStoreReset(t *testing.T) {
	ps, err := OpenProfileStore("", "test")
	require.NoError(t, err)
	defer ps.Close()
	_, err = ps.Add(SpeculativeConstants, 0x80000100)
	require.NoError(t, err)
	require.NoError(t, ps.Reset())
	assert.False(t, ps.Contains(SpeculativeConstants, 0x80000100))
}

func TestProfileStoreRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile")
	ps, err := OpenProfileStore(path, "GALE01")
	require.NoError(t, err)
	_, err = ps.Add(FIFOWrite, 0x80001000)
	require.NoError(t, err)
	require.NoError(t, ps.Remove(FIFOWrite, 0x80001000))
	require.NoError(t, ps.Remove(FIFOWrite, 0x80002000))
	assert.False(t, ps.Contains(FIFOWrite, 0x80001000))
	require.NoError(t, ps.Close())

	ps, err = OpenProfileStore(path, "GALE01")
	require.NoError(t, err)
	defer ps.Close()
	assert.Empty(t, ps.Addresses(FIFOWrite))
}
