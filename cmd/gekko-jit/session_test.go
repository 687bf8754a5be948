package main

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/colorfulnotion/gekko/config"
	"github.com/colorfulnotion/gekko/ppc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const base = 0x80003100

func testConfig() *config.Config {
	c := config.Default()
	c.Jit.CodeSize = 256 << 10
	c.Jit.FarCodeSize = 128 << 10
	c.Jit.TrampolineSize = 64 << 10
	c.Jit.RoutinesSize = 4 << 10
	c.Jit.Fastmem = false
	c.Memory = config.MemoryConfig{Mem1Size: 0x400000}
	return c
}

// writeRaw writes li/addi/beq followed by two blr targets.
func writeRaw(t *testing.T) string {
	t.Helper()
	blr := ppc.EncodeX(19, int(ppc.BOAlways), 0, 0, 16, false)
	code := make([]ppc.Inst, 11)
	for i := range code {
		code[i] = ppc.EncodeD(24, 0, 0, 0)
	}
	code[0] = ppc.EncodeD(14, 3, 0, 1)
	code[1] = ppc.EncodeD(14, 3, 3, 1)
	code[2] = ppc.EncodeBC(12, 2, 0x20, false)
	code[3] = blr
	code[10] = blr
	buf := make([]byte, 4*len(code))
	for i, in := range code {
		binary.BigEndian.PutUint32(buf[4*i:], uint32(in))
	}
	path := filepath.Join(t.TempDir(), "code.bin")
	require.NoError(t, os.WriteFile(path, buf, 0o644))
	return path
}

func newTestSession(t *testing.T) *session {
	t.Helper()
	s, err := newSession(testConfig())
	require.NoError(t, err)
	t.Cleanup(s.close)
	require.NoError(t, s.load(writeRaw(t), true, base))
	return s
}

func TestParseAddr(t *testing.T) {
	a, err := parseAddr("0x80003100")
	require.NoError(t, err)
	assert.Equal(t, uint32(base), a)
	a, err = parseAddr("cc008000")
	require.NoError(t, err)
	assert.Equal(t, uint32(0xCC008000), a)
	_, err = parseAddr("1_0000_0000")
	assert.Error(t, err)
}

func TestCompileReachable(t *testing.T) {
	s := newTestSession(t)
	assert.Equal(t, uint32(base), s.entry)

	assert.Equal(t, 3, s.compileReachable(s.entry, 8))
	b := s.e.Lookup(base)
	require.NotNil(t, b)
	require.Len(t, b.Links, 2)
	for _, l := range b.Links {
		assert.True(t, l.Linked)
	}
	assert.NotNil(t, s.e.Lookup(base+0xC))
	assert.NotNil(t, s.e.Lookup(base+0x28))
	assert.Contains(t, s.disassemble(b), "near:")
}

func TestCompileReachableLimit(t *testing.T) {
	s := newTestSession(t)
	assert.Equal(t, 1, s.compileReachable(s.entry, 1))
	assert.Equal(t, 1, s.e.BlockCache().Len())
}

func TestShellCommands(t *testing.T) {
	s := newTestSession(t)

	out, err := s.exec("jit 80003100")
	require.NoError(t, err)
	assert.Contains(t, out, "block 80003100")

	out, err = s.exec("dis 0x80003100")
	require.NoError(t, err)
	assert.Contains(t, out, "near:")

	_, err = s.exec("bp add 80003104")
	require.NoError(t, err)
	assert.Nil(t, s.e.Lookup(base))
	out, err = s.exec("bp")
	require.NoError(t, err)
	assert.Contains(t, out, "0x80003104")

	_, err = s.exec("jit 80003100")
	require.NoError(t, err)
	out, err = s.exec("inv 80003100 4")
	require.NoError(t, err)
	assert.Equal(t, "1 blocks invalidated", out)

	_, err = s.exec("dis 80003100")
	assert.Error(t, err)
	_, err = s.exec("frobnicate")
	assert.Error(t, err)
	_, err = s.exec("inv 80003100")
	assert.Error(t, err)

	out, err = s.exec("")
	require.NoError(t, err)
	assert.Empty(t, out)
}
