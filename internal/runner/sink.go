package runner

import (
	"errors"
	"fmt"

	"github.com/torosent/stampede/internal/metrics"
)

// Sink receives snapshots from the executor. Both methods are called
// synchronously from the scheduling loop, so implementations must hand the
// data to their own goroutine instead of rendering inline. Returned errors
// are logged and otherwise ignored.
type Sink interface {
	OnSnapshot(s metrics.Snapshot) error
	OnRunEnd(s metrics.Summary) error
}

// RunStarter is implemented by sinks that want the run state before the
// first snapshot.
type RunStarter interface {
	OnRunStart(run *RunState) error
}

func sinkName(s Sink) string {
	if n, ok := s.(fmt.Stringer); ok {
		return n.String()
	}
	return fmt.Sprintf("%T", s)
}

// MultiSink fans snapshots out to several sinks in order. Every sink is
// called even when an earlier one fails; the errors are joined.
type MultiSink []Sink

func (m MultiSink) OnRunStart(run *RunState) error {
	var errs []error
	for _, s := range m {
		if starter, ok := s.(RunStarter); ok {
			if err := starter.OnRunStart(run); err != nil {
				errs = append(errs, &SinkError{Sink: sinkName(s), Op: "start", Err: err})
			}
		}
	}
	return errors.Join(errs...)
}

func (m MultiSink) OnSnapshot(snap metrics.Snapshot) error {
	var errs []error
	for _, s := range m {
		if err := s.OnSnapshot(snap); err != nil {
			errs = append(errs, &SinkError{Sink: sinkName(s), Op: "snapshot", Err: err})
		}
	}
	return errors.Join(errs...)
}

func (m MultiSink) OnRunEnd(summary metrics.Summary) error {
	var errs []error
	for _, s := range m {
		if err := s.OnRunEnd(summary); err != nil {
			errs = append(errs, &SinkError{Sink: sinkName(s), Op: "end", Err: err})
		}
	}
	return errors.Join(errs...)
}
