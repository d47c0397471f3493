package runner

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/torosent/stampede/internal/loadpattern"
	"github.com/torosent/stampede/internal/metrics"
)

// State is the executor lifecycle phase.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// RunState is the state of one run. It is created when a run starts and
// handed to the components that need it; nothing about a run lives in
// package-level variables.
type RunState struct {
	ID              string
	StartTime       time.Time
	PlannedDuration time.Duration
	Pattern         loadpattern.Pattern
	Registry        *metrics.Registry

	cancelled atomic.Bool
	reason    atomic.Pointer[string]
	done      chan struct{}
}

func newRunState(id string, pattern loadpattern.Pattern, planned time.Duration) *RunState {
	if id == "" {
		id = ulid.Make().String()
	}
	return &RunState{
		ID:              id,
		StartTime:       time.Now(),
		PlannedDuration: planned,
		Pattern:         pattern,
		Registry:        metrics.NewRegistry(),
		done:            make(chan struct{}),
	}
}

// Unbounded reports whether the run only ends on cancellation or an
// iteration budget.
func (r *RunState) Unbounded() bool { return r.PlannedDuration <= 0 }

// Elapsed reports the monotonic time since the run started.
func (r *RunState) Elapsed() time.Duration { return time.Since(r.StartTime) }

// Cancel requests the run to drain. Only the first call has an effect; it
// reports whether this call was that one.
func (r *RunState) Cancel(reason string) bool {
	// The reason is the gate so it is visible before the flag flips.
	if !r.reason.CompareAndSwap(nil, &reason) {
		return false
	}
	r.cancelled.Store(true)
	close(r.done)
	return true
}

// Cancelled reports whether Cancel has been called.
func (r *RunState) Cancelled() bool { return r.cancelled.Load() }

// Reason returns the reason given to the first Cancel call.
func (r *RunState) Reason() string {
	if p := r.reason.Load(); p != nil {
		return *p
	}
	return ""
}

// CancelRequested is closed once Cancel has been called.
func (r *RunState) CancelRequested() <-chan struct{} { return r.done }
