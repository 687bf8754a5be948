// Package sandbox runs generated code inside unicorn instead of on the host
// CPU. Host buffers (state page, code space, stacks, guest RAM views) are
// mapped into the emulator at their host addresses, so the absolute
// addresses baked into generated code stay valid. Protection faults are
// handed to the engine's fault handler and execution resumes where the
// handler left the instruction pointer.
package sandbox

import (
	"errors"

	"github.com/colorfulnotion/gekko/config"
	"github.com/colorfulnotion/gekko/jit"
	"github.com/colorfulnotion/gekko/memmap"
	"github.com/colorfulnotion/gekko/ppc"
)

// ErrUnavailable is returned when the binary was built without the unicorn
// tag.
var ErrUnavailable = errors.New("sandbox: built without unicorn support")

// Options configures an Executor. Memory must already be created from
// Config.Memory; the executor attaches its own state page to it.
// GatherPipe, when set, is called once with that state.
type Options struct {
	Config     *config.Config
	Memory     *memmap.Memory
	Hints      jit.HintStore
	Timing     jit.Timing
	GatherPipe func(*ppc.State) jit.GatherPipe
}

// Stats counts what the executor did on behalf of generated code.
type Stats struct {
	Runs          uint64
	HelperCalls   uint64
	Faults        uint64
	Resyncs       uint64
	ResyncedBytes uint64
}

// hostStackSize is the stack the executor enters generated code on. The
// BLR stack, when the engine has one, replaces it after entry.
const hostStackSize = 256 << 10
