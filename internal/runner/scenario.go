package runner

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Measurements are named numeric values reported by one iteration. The map
// must not be modified after it is returned.
type Measurements map[string]float64

// Iteration identifies one execution of a scenario.
type Iteration struct {
	RunID string
	// ID is the run-wide iteration sequence number, starting at 1.
	ID int64
	// VU is the virtual user running the iteration; 0 in open-loop runs.
	VU int64
	// VUIteration counts iterations within the virtual user, starting at 1.
	VUIteration int64
	StartedAt   time.Time
}

// Scenario is the unit of work a run executes repeatedly. Run is invoked
// concurrently and must not share mutable state between calls. A nil error
// marks the iteration as successful.
type Scenario interface {
	Run(ctx context.Context, it Iteration) (Measurements, error)
}

// ScenarioFunc adapts a function to the Scenario interface.
type ScenarioFunc func(ctx context.Context, it Iteration) (Measurements, error)

func (f ScenarioFunc) Run(ctx context.Context, it Iteration) (Measurements, error) {
	return f(ctx, it)
}

// AbortError asks the executor to stop the whole run. The iteration that
// returned it is still recorded as a failure.
type AbortError struct {
	Err error
}

// Abort wraps err so that returning it from a scenario drains the run.
func Abort(err error) error {
	if err == nil {
		err = errors.New("aborted by scenario")
	}
	return &AbortError{Err: err}
}

func (e *AbortError) Error() string { return "run aborted: " + e.Err.Error() }
func (e *AbortError) Unwrap() error { return e.Err }

// Reasoner is implemented by errors that know their own short failure
// reason, e.g. "HTTP 503". Failure breakdowns group by this reason.
type Reasoner interface {
	Reason() string
}

func failureReason(err error) string {
	var r Reasoner
	if errors.As(err, &r) {
		if reason := r.Reason(); reason != "" {
			return reason
		}
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	// Errors without a message are grouped by their type.
	return fmt.Sprintf("%T", err)
}
