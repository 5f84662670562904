package analysis

import (
	"context"
	"sync/atomic"

	"github.com/banshee-data/footage.report/internal/monitoring"
)

// Terminator is the one-way early-stop flag for a run. The matcher fires it
// on a high-confidence hit; the frame gate reads it to skip aggressively and,
// in realtime mode, the whole run context is cancelled so upstream stages
// stop pulling frames.
type Terminator struct {
	fired    atomic.Bool
	realtime bool
	cancel   context.CancelFunc
}

// NewTerminator wires a terminator to a run. cancel may be nil; it is only
// invoked when realtime is set.
func NewTerminator(realtime bool, cancel context.CancelFunc) *Terminator {
	return &Terminator{realtime: realtime, cancel: cancel}
}

// Fire latches the flag. Once set it never clears; repeat calls are no-ops.
func (t *Terminator) Fire(similarity float64) {
	if t.fired.Swap(true) {
		return
	}
	monitoring.Opsf("[Terminate] high-confidence hit (similarity %.3f), early stop requested", similarity)
	if t.realtime && t.cancel != nil {
		t.cancel()
	}
}

// Fired reports whether early stop has been requested.
func (t *Terminator) Fired() bool {
	return t.fired.Load()
}

// Realtime reports whether the run stops streaming as soon as the flag fires.
func (t *Terminator) Realtime() bool {
	return t.realtime
}
