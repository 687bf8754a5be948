//go:build !unicorn
// +build !unicorn

package sandbox

import (
	"github.com/colorfulnotion/gekko/jit"
	"github.com/colorfulnotion/gekko/ppc"
)

// Executor is unavailable without unicorn.
type Executor struct{}

func New(opts Options) (*Executor, error) { return nil, ErrUnavailable }

func (x *Executor) Engine() *jit.Engine { return nil }
func (x *Executor) State() *ppc.State   { return nil }
func (x *Executor) Stats() Stats        { return Stats{} }
func (x *Executor) Run(pc uint32) error { return ErrUnavailable }
func (x *Executor) Close() error        { return nil }
