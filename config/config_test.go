package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Size(32<<20), c.Jit.CodeSize)
	assert.True(t, c.Jit.Fastmem)
	assert.True(t, c.BLROptimization())
	assert.Equal(t, 1000, c.Jit.MaxBlockInstructions)
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gekko.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[jit]
code_size = "4MiB"
far_code_size = "512k"
enable_debugging = true

[memory]
wii = true

[profile]
path = "/tmp/profile.db"

[log]
level = "debug"
modules = ["jit", "jit_fault"]
`), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, path, c.Path)
	assert.Equal(t, Size(4<<20), c.Jit.CodeSize)
	assert.Equal(t, Size(512<<10), c.Jit.FarCodeSize)
	assert.Equal(t, Size(8<<20), c.Jit.TrampolineSize, "untouched keys keep defaults")
	assert.False(t, c.BLROptimization(), "debugging disables the return-address cache")
	assert.True(t, c.Memory.Wii)
	assert.Equal(t, []string{"jit", "jit_fault"}, c.Log.Modules)
}

func TestParseRejectsBadValues(t *testing.T) {
	_, err := Parse([]byte("[jit]\ncode_size = \"huge\"\n"))
	assert.Error(t, err)

	_, err = Parse([]byte("[jit]\nmax_block_instructions = 0\n"))
	assert.Error(t, err)
}

func TestParseRejectsUnknownSettings(t *testing.T) {
	_, err := Parse([]byte("[jit]\naccurate_single_precision = true\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jit.accurate_single_precision")

	_, err = Parse([]byte("[jit]\nfastmem = false\n[memory]\nwii = true\n"))
	assert.NoError(t, err)
}
