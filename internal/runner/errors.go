package runner

import (
	"errors"
	"fmt"
	"time"

	"github.com/torosent/stampede/internal/loadpattern"
)

// ConfigurationError reports invalid run options. Patterns report the same
// type from their constructors.
type ConfigurationError = loadpattern.ConfigurationError

// ErrRunInProgress is returned by Run while another run is active on the
// same executor.
var ErrRunInProgress = errors.New("runner: run already in progress")

// IterationFault is a panic recovered from a scenario.
type IterationFault struct {
	Value interface{}
	Stack []byte
}

func (f *IterationFault) Error() string {
	return fmt.Sprintf("iteration fault: %v", f.Value)
}

// CancellationTimeout reports iterations that were still running when the
// drain timeout expired. They were cancelled and recorded as failures; the
// summary returned alongside it is complete.
type CancellationTimeout struct {
	Cancelled int64
	Timeout   time.Duration
}

func (e *CancellationTimeout) Error() string {
	return fmt.Sprintf("%d iteration(s) still running after %s drain timeout were cancelled", e.Cancelled, e.Timeout)
}

// SinkError reports a sink that failed to accept a snapshot or summary.
// Sink errors are logged and never stop a run.
type SinkError struct {
	Sink string
	Op   string
	Err  error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("sink %s %s: %v", e.Sink, e.Op, e.Err)
}

func (e *SinkError) Unwrap() error { return e.Err }
