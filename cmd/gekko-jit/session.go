package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/colorfulnotion/gekko/boot"
	"github.com/colorfulnotion/gekko/config"
	"github.com/colorfulnotion/gekko/jit"
	"github.com/colorfulnotion/gekko/jit/blockcache"
	"github.com/colorfulnotion/gekko/jit/x64"
	log "github.com/colorfulnotion/gekko/log"
	"github.com/colorfulnotion/gekko/memmap"
	"github.com/colorfulnotion/gekko/ppc"
	"github.com/colorfulnotion/gekko/storage"
)

// session is a compile-only engine: generated code goes to a plain buffer
// and is inspected, never entered.
type session struct {
	cfg   *config.Config
	mem   *memmap.Memory
	st    *ppc.State
	hints *storage.ProfileStore
	e     *jit.Engine
	entry uint32
}

func newSession(cfg *config.Config) (*session, error) {
	s := &session{cfg: cfg}
	var err error
	if s.mem, err = memmap.New(cfg.Memory); err != nil {
		return nil, err
	}
	s.st = ppc.NewState()
	s.st.SetMSR(ppc.MSRIR | ppc.MSRDR | ppc.MSRFP)
	s.mem.AttachState(s.st)
	if s.hints, err = storage.OpenProfileStore(cfg.Profile.Path, cfg.Profile.GameID); err != nil {
		s.close()
		return nil, err
	}
	space := x64.NewCodeSpaceAt(make([]byte, jit.CodeSpaceSize(cfg)))
	s.e, err = jit.NewWithCodeSpace(cfg, jit.Deps{State: s.st, Memory: s.mem, Hints: s.hints}, space)
	if err != nil {
		s.close()
		return nil, err
	}
	return s, nil
}

func (s *session) close() {
	if s.e != nil {
		if err := s.e.Shutdown(); err != nil {
			log.Warn(log.JitModule, "engine shutdown", "err", err)
		}
		s.e = nil
	}
	if s.hints != nil {
		if err := s.hints.Close(); err != nil {
			log.Warn(log.ProfileModule, "profile store close", "err", err)
		}
		s.hints = nil
	}
	if s.mem != nil {
		if err := s.mem.Shutdown(); err != nil {
			log.Warn(log.MemoryModule, "memory shutdown", "err", err)
		}
		s.mem = nil
	}
}

// loadImage boots a DOL, or wraps raw big-endian code placed at base.
func loadImage(st *ppc.State, mem boot.Memory, ramSize uint32, path string, raw bool, base uint32) (uint32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	if raw {
		data = boot.BuildDOL(base, data, base)
	}
	d, err := boot.Boot(st, mem, ramSize, data)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", path, err)
	}
	return d.Entry, nil
}

func (s *session) load(path string, raw bool, base uint32) error {
	entry, err := loadImage(s.st, s.mem, uint32(s.cfg.Memory.Mem1Size), path, raw, base)
	if err != nil {
		return err
	}
	s.entry = entry
	return nil
}

// compileReachable compiles addr and then the targets of its exits,
// breadth first, until limit blocks exist. Returns how many it compiled.
func (s *session) compileReachable(addr uint32, limit int) int {
	queue := []uint32{addr}
	seen := map[uint32]bool{addr: true}
	compiled := 0
	for len(queue) > 0 && compiled < limit {
		pc := queue[0]
		queue = queue[1:]
		if s.e.Lookup(pc) == nil {
			s.e.Jit(pc)
		}
		b := s.e.Lookup(pc)
		if b == nil {
			log.Debug(log.JitModule, "no block", "pc", fmt.Sprintf("%08x", pc))
			continue
		}
		compiled++
		for _, l := range b.Links {
			if !seen[l.ExitAddress] {
				seen[l.ExitAddress] = true
				queue = append(queue, l.ExitAddress)
			}
		}
	}
	return compiled
}

func (s *session) disassemble(b *blockcache.Block) string {
	var sb strings.Builder
	space := s.e.CodeSpace()
	fmt.Fprintf(&sb, "%s\n", b)
	sb.WriteString("near:\n")
	sb.WriteString(x64.DisassembleAt(space.Slice(b.Near.Start, b.Near.End), b.Near.Start))
	if !b.Far.Empty() {
		sb.WriteString("far:\n")
		sb.WriteString(x64.DisassembleAt(space.Slice(b.Far.Start, b.Far.End), b.Far.Start))
	}
	return sb.String()
}

// parseAddr accepts guest addresses as hex with or without 0x.
func parseAddr(s string) (uint32, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("bad address %q", s)
	}
	return uint32(v), nil
}
