package log

import (
	"bytes"
	"strings"
	"testing"

	"github.com/colorfulnotion/gekko/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureRoot(t *testing.T, level string) *bytes.Buffer {
	t.Helper()
	lvl, err := ParseLevel(level)
	require.NoError(t, err)
	var buf bytes.Buffer
	prev := Root()
	SetDefault(NewLogger(NewTerminalHandlerWithLevel(&buf, lvl, false)))
	t.Cleanup(func() { SetDefault(prev) })
	return &buf
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]string{"trace": "trace", "DEBUG": "debug", "warning": "warn", "crit": "crit"} {
		lvl, err := ParseLevel(in)
		require.NoError(t, err)
		assert.Equal(t, want, LevelString(lvl))
	}
	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestModuleFiltering(t *testing.T) {
	buf := captureRoot(t, "trace")

	DisableModule(CacheModule)
	Debug(CacheModule, "hidden")
	assert.Empty(t, buf.String())

	EnableModule(CacheModule)
	t.Cleanup(func() { DisableModule(CacheModule) })
	Debug(CacheModule, "visible", "blocks", 3)
	out := buf.String()
	assert.Contains(t, out, "jit_cache | visible")
	assert.Contains(t, out, "blocks=3")

	// Info and above ignore the module switch.
	buf.Reset()
	Warn(FaultModule, "Code cache is full")
	assert.True(t, strings.HasPrefix(buf.String(), "WARN "))
}

func TestEnableModulesAll(t *testing.T) {
	EnableModules("all")
	t.Cleanup(func() {
		for _, m := range defaultKnownModules {
			DisableModule(m)
		}
	})
	for _, m := range defaultKnownModules {
		assert.True(t, isModuleEnabled(m), m)
	}
}

func TestCritRunsExit(t *testing.T) {
	buf := captureRoot(t, "info")
	code := -1
	prev := exit
	exit = func(c int) { code = c }
	t.Cleanup(func() { exit = prev })

	Crit(JitModule, "JIT failed to find code space after a cache clear")
	assert.Equal(t, 1, code)
	assert.Contains(t, buf.String(), "CRIT ")
}

func TestTerminalHandlerColor(t *testing.T) {
	prev := common.NoColor
	common.NoColor = false
	t.Cleanup(func() { common.NoColor = prev })

	var buf bytes.Buffer
	NewLogger(NewTerminalHandlerWithLevel(&buf, LevelInfo, true)).Warn(JitModule, "Code cache is full")
	assert.True(t, strings.HasPrefix(buf.String(), common.ColorYellow+"WARN "+common.ColorReset), buf.String())

	buf.Reset()
	NewLogger(NewTerminalHandlerWithLevel(&buf, LevelInfo, false)).Warn(JitModule, "Code cache is full")
	assert.True(t, strings.HasPrefix(buf.String(), "WARN "), buf.String())
}
