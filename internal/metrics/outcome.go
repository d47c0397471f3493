package metrics

import (
	"fmt"
	"time"
)

// IterationDuration is the implicit metric recorded for every iteration,
// in milliseconds.
const IterationDuration = "iteration_duration"

// FailureKind classifies why an iteration failed.
type FailureKind string

const (
	// FailureError means the scenario returned an error.
	FailureError FailureKind = "error"
	// FailureFault means the scenario panicked.
	FailureFault FailureKind = "fault"
	// FailureCancelled means the iteration was still running when the
	// drain timeout expired and was force-cancelled.
	FailureCancelled FailureKind = "cancelled"
)

// Failure describes a failed iteration.
type Failure struct {
	Kind   FailureKind
	Reason string
}

func (f Failure) String() string {
	if f.Reason == "" {
		return string(f.Kind)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Reason)
}

// Outcome is the immutable result of one iteration. A nil Failure means
// the iteration succeeded.
type Outcome struct {
	StartedAt    time.Time
	Duration     time.Duration
	Failure      *Failure
	Measurements map[string]float64
}

// Succeeded reports whether the iteration completed without failure.
func (o Outcome) Succeeded() bool { return o.Failure == nil }

// Fail builds a failed outcome.
func Fail(startedAt time.Time, d time.Duration, kind FailureKind, reason string) Outcome {
	return Outcome{
		StartedAt: startedAt,
		Duration:  d,
		Failure:   &Failure{Kind: kind, Reason: reason},
	}
}

func durationMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
