package jit

import (
	"context"

	"github.com/colorfulnotion/gekko/ppc"
)

// DefaultSlice is the number of guest cycles run between timing checks.
const DefaultSlice = 20000

// SliceTimer is the stock Timing: fixed slices, a decrementer that counts
// down with executed cycles, and an optional overall cycle budget. The CPU
// is powered down once the budget is spent or ctx is done.
type SliceTimer struct {
	ctx       context.Context
	slice     int32
	budget    uint64
	executed  uint64
	lastSlice int32
}

// NewSliceTimer returns a timer handing out slice cycles at a time. A zero
// budget runs until ctx is done.
func NewSliceTimer(ctx context.Context, slice int32, budget uint64) *SliceTimer {
	if slice <= 0 {
		slice = DefaultSlice
	}
	return &SliceTimer{ctx: ctx, slice: slice, budget: budget}
}

func (t *SliceTimer) account(st *ppc.State) {
	used := t.lastSlice - st.Downcount()
	if used <= 0 {
		return
	}
	t.executed += uint64(used)
	dec := st.SPR(ppc.SprDEC)
	next := dec - uint32(used)
	if int32(dec) >= 0 && int32(next) < 0 {
		st.RaiseException(ppc.ExceptionDecrementer)
	}
	st.SetSPR(ppc.SprDEC, next)
	t.lastSlice = st.Downcount()
}

// Advance charges the cycles run since the last call and starts a new slice.
func (t *SliceTimer) Advance(st *ppc.State) {
	t.account(st)
	select {
	case <-t.ctx.Done():
		st.SetCPUState(ppc.CPUPowerDown)
		return
	default:
	}
	if t.budget != 0 && t.executed >= t.budget {
		st.SetCPUState(ppc.CPUPowerDown)
		return
	}
	st.CheckExternalExceptions()
	st.SetDowncount(t.slice)
	t.lastSlice = t.slice
}

// Idle ends the slice early and charges all of it; the guest is spinning
// until the next event.
func (t *SliceTimer) Idle(st *ppc.State) {
	st.SetDowncount(0)
	t.account(st)
}

// Executed is the number of guest cycles accounted so far.
func (t *SliceTimer) Executed() uint64 { return t.executed }
