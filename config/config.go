// Package config loads gekko.toml, the settings file of the JIT core.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/colorfulnotion/gekko/common"
)

// Size is a byte count written as "32MiB", "512k" or a plain number string.
type Size uint64

func (s *Size) UnmarshalText(text []byte) error {
	v, err := common.ParseSize(string(text))
	if err != nil {
		return err
	}
	*s = Size(v)
	return nil
}

func (s Size) MarshalText() ([]byte, error) {
	return []byte(common.HumanSize(uint64(s))), nil
}

// Config is the full settings tree.
type Config struct {
	Jit       JitConfig       `toml:"jit"`
	Memory    MemoryConfig    `toml:"memory"`
	Profile   ProfileConfig   `toml:"profile"`
	Telemetry TelemetryConfig `toml:"telemetry"`
	Log       LogConfig       `toml:"log"`

	// Path is the file the settings were read from (set at load time).
	Path string `toml:"-"`
}

// JitConfig controls the block compiler and its code regions.
type JitConfig struct {
	CodeSize             Size `toml:"code_size"`
	FarCodeSize          Size `toml:"far_code_size"`
	TrampolineSize       Size `toml:"trampoline_size"`
	RoutinesSize         Size `toml:"routines_size"`
	Fastmem              bool `toml:"fastmem"`
	BlockLinking         bool `toml:"block_linking"`
	NoBlockCache         bool `toml:"no_block_cache"`
	EnableDebugging      bool `toml:"enable_debugging"`
	ProfileBlocks        bool `toml:"profile_blocks"`
	Memcheck             bool `toml:"memcheck"`
	OptimizeGatherPipe   bool `toml:"optimize_gather_pipe"`
	RegisterCacheOff     bool `toml:"register_cache_off"`
	MaxBlockInstructions int  `toml:"max_block_instructions"`
}

// MemoryConfig describes the emulated memory map.
type MemoryConfig struct {
	Mem1Size     Size `toml:"mem1_size"`
	Mem2Size     Size `toml:"mem2_size"`
	FastmemArena bool `toml:"fastmem_arena"`
	Wii          bool `toml:"wii"`
}

// ProfileConfig locates the LevelDB store holding per-address compile hints.
type ProfileConfig struct {
	Path   string `toml:"path"`
	GameID string `toml:"game_id"`
}

// TelemetryConfig configures the OTLP trace exporter.
type TelemetryConfig struct {
	Endpoint    string `toml:"endpoint"`
	Insecure    bool   `toml:"insecure"`
	ServiceName string `toml:"service_name"`
}

type LogConfig struct {
	Level   string   `toml:"level"`
	Modules []string `toml:"modules"`
}

// Default returns the settings used when no file is given.
func Default() *Config {
	return &Config{
		Jit: JitConfig{
			CodeSize:             32 << 20,
			FarCodeSize:          16 << 20,
			TrampolineSize:       8 << 20,
			RoutinesSize:         64 << 10,
			Fastmem:              true,
			BlockLinking:         true,
			OptimizeGatherPipe:   true,
			MaxBlockInstructions: 1000,
		},
		Memory: MemoryConfig{
			Mem1Size:     0x01800000,
			Mem2Size:     0x04000000,
			FastmemArena: true,
		},
		Profile: ProfileConfig{
			GameID: "default",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "gekko-jit",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Parse decodes TOML on top of the defaults.
func Parse(data []byte) (*Config, error) {
	c := Default()
	md, err := toml.Decode(string(data), c)
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	if u := md.Undecoded(); len(u) > 0 {
		return nil, fmt.Errorf("unknown setting %q", u[0].String())
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Load reads a settings file. An empty path yields Default().
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	c.Path = path
	return c, nil
}

// Validate rejects settings the JIT cannot start with.
func (c *Config) Validate() error {
	if c.Jit.CodeSize == 0 || c.Jit.FarCodeSize == 0 {
		return fmt.Errorf("code_size and far_code_size must be non-zero")
	}
	if c.Jit.TrampolineSize == 0 || c.Jit.RoutinesSize == 0 {
		return fmt.Errorf("trampoline_size and routines_size must be non-zero")
	}
	if c.Jit.MaxBlockInstructions <= 0 {
		return fmt.Errorf("max_block_instructions must be positive, got %d", c.Jit.MaxBlockInstructions)
	}
	if c.Memory.Mem1Size == 0 {
		return fmt.Errorf("mem1_size must be non-zero")
	}
	return nil
}

// BLROptimization reports whether return addresses may be cached on the host stack.
func (c *Config) BLROptimization() bool {
	return c.Jit.BlockLinking && c.Jit.Fastmem && !c.Jit.EnableDebugging
}
