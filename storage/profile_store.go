package storage

import (
	"encoding/binary"
	"fmt"
	"sort"
	"sync"

	"github.com/colorfulnotion/gekko/log"
)

// HintKind names one of the per-address sets the block compiler consults
// before applying an optimization.
type HintKind byte

const (
	// FIFOWrite marks stores that reached the gather pipe through a non-constant address.
	FIFOWrite HintKind = iota + 1
	// PairedQuantize marks block starts whose GQR guard failed.
	PairedQuantize
	// SpeculativeConstants marks block starts whose constant-register guard failed.
	SpeculativeConstants
)

func (k HintKind) String() string {
	switch k {
	case FIFOWrite:
		return "fifo_write"
	case PairedQuantize:
		return "paired_quantize"
	case SpeculativeConstants:
		return "no_speculative_constants"
	default:
		return fmt.Sprintf("hint(%d)", byte(k))
	}
}

var HintKinds = []HintKind{FIFOWrite, PairedQuantize, SpeculativeConstants}

// ProfileStore keeps the hint sets in memory and mirrors every insertion to
// LevelDB so a later session starts with what this one learned.
// Key layout: "hint/" + gameID + "/" + kind + address(big endian).
type ProfileStore struct {
	mu     sync.RWMutex
	db     *PersistenceStore
	gameID string
	sets   map[HintKind]map[uint32]struct{}
}

// OpenProfileStore opens the store at path (in memory when empty) and loads
// the sets recorded for gameID.
func OpenProfileStore(path, gameID string) (*ProfileStore, error) {
	db, err := NewPersistenceStore(path)
	if err != nil {
		return nil, err
	}
	ps := &ProfileStore{db: db, gameID: gameID, sets: make(map[HintKind]map[uint32]struct{})}
	for _, k := range HintKinds {
		ps.sets[k] = make(map[uint32]struct{})
	}
	if err := ps.load(); err != nil {
		db.Close()
		return nil, err
	}
	return ps, nil
}

func (ps *ProfileStore) prefix() []byte {
	return []byte("hint/" + ps.gameID + "/")
}

func (ps *ProfileStore) key(kind HintKind, addr uint32) []byte {
	k := append(ps.prefix(), byte(kind), 0, 0, 0, 0)
	binary.BigEndian.PutUint32(k[len(k)-4:], addr)
	return k
}

func (ps *ProfileStore) load() error {
	pairs, err := ps.db.GetWithPrefix(ps.prefix())
	if err != nil {
		return err
	}
	n := len(ps.prefix())
	for _, kv := range pairs {
		k := kv[0]
		if len(k) != n+5 {
			continue
		}
		set, ok := ps.sets[HintKind(k[n])]
		if !ok {
			continue
		}
		set[binary.BigEndian.Uint32(k[n+1:])] = struct{}{}
	}
	log.Debug(log.ProfileModule, "profile hints loaded", "game", ps.gameID, "entries", len(pairs))
	return nil
}

// Add records addr under kind. It reports whether the address was new.
func (ps *ProfileStore) Add(kind HintKind, addr uint32) (bool, error) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	set, ok := ps.sets[kind]
	if !ok {
		return false, fmt.Errorf("unknown hint kind %d", kind)
	}
	if _, dup := set[addr]; dup {
		return false, nil
	}
	set[addr] = struct{}{}
	if err := ps.db.Put(ps.key(kind, addr), []byte{1}); err != nil {
		return true, fmt.Errorf("persist %s %#x: %w", kind, addr, err)
	}
	return true, nil
}

// Remove drops addr from kind, in memory and on disk.
func (ps *ProfileStore) Remove(kind HintKind, addr uint32) error {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	set, ok := ps.sets[kind]
	if !ok {
		return fmt.Errorf("unknown hint kind %d", kind)
	}
	if _, ok := set[addr]; !ok {
		return nil
	}
	delete(set, addr)
	return ps.db.Delete(ps.key(kind, addr))
}

func (ps *ProfileStore) Contains(kind HintKind, addr uint32) bool {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	_, ok := ps.sets[kind][addr]
	return ok
}

// Addresses returns the sorted members of one set.
func (ps *ProfileStore) Addresses(kind HintKind) []uint32 {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	out := make([]uint32, 0, len(ps.sets[kind]))
	for a := range ps.sets[kind] {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Reset forgets every hint of this game, in memory and on disk.
func (ps *ProfileStore) Reset() error {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	for _, k := range HintKinds {
		ps.sets[k] = make(map[uint32]struct{})
	}
	return ps.db.DeletePrefix(ps.prefix())
}

func (ps *ProfileStore) Close() error {
	return ps.db.Close()
}
