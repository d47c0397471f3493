package output

import (
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/torosent/stampede/internal/metrics"
)

// ProgressReporter prints a single status line that is rewritten on every
// snapshot. Rendering happens on its own goroutine; a snapshot that arrives
// while the previous one is still being written replaces it.
type ProgressReporter struct {
	writer  io.Writer
	pending chan metrics.Snapshot
	done    chan struct{}

	mu     sync.Mutex
	closed bool
}

// NewProgressReporter starts a reporter writing to writer.
func NewProgressReporter(writer io.Writer) *ProgressReporter {
	if writer == nil {
		writer = io.Discard
	}
	p := &ProgressReporter{
		writer:  writer,
		pending: make(chan metrics.Snapshot, 1),
		done:    make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *ProgressReporter) String() string { return "progress" }

func (p *ProgressReporter) OnSnapshot(s metrics.Snapshot) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	for {
		select {
		case p.pending <- s:
			return nil
		default:
		}
		// Drop the stale snapshot and retry.
		select {
		case <-p.pending:
		default:
		}
	}
}

// OnRunEnd flushes the last line and stops the render goroutine.
func (p *ProgressReporter) OnRunEnd(metrics.Summary) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.pending)
	}
	p.mu.Unlock()
	<-p.done
	_, err := fmt.Fprintln(p.writer)
	return err
}

func (p *ProgressReporter) run() {
	defer close(p.done)
	for s := range p.pending {
		fmt.Fprint(p.writer, "\r"+ProgressLine(s))
	}
}

// ProgressLine formats the status line for one snapshot.
func ProgressLine(s metrics.Snapshot) string {
	total := s.Iterations()
	window := s.Interval[metrics.IterationDuration]
	line := fmt.Sprintf("[%s] %s | Iterations: %d | Failures: %d | Rate: %.1f/s | Active: %d",
		s.Elapsed.Round(time.Second),
		s.State, total.Count, total.Failures, window.Rate, s.Active)
	if s.TargetKind != "" {
		line += fmt.Sprintf(" | Target: %.1f %s", s.Target, s.TargetKind)
	}
	if s.Stages > 1 {
		line += fmt.Sprintf(" | Stage %d/%d", s.Stage, s.Stages)
	}
	if window.Count > 0 {
		line += fmt.Sprintf(" | P99 %.1fms", window.P99)
	}
	if s.Dropped > 0 {
		line += fmt.Sprintf(" | Dropped: %d", s.Dropped)
	}
	return line
}

// LogSink writes every snapshot and the final summary as structured log
// lines.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink returns a sink logging through logger.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (l *LogSink) String() string { return "log" }

func (l *LogSink) OnSnapshot(s metrics.Snapshot) error {
	window := s.Interval[metrics.IterationDuration]
	l.logger.Info("progress",
		zap.String("run_id", s.RunID),
		zap.String("state", s.State),
		zap.Float64("elapsed_ms", s.ElapsedMs),
		zap.Int64("iterations", s.Iterations().Count),
		zap.Int64("failures", s.Iterations().Failures),
		zap.Float64("rate", window.Rate),
		zap.Float64("p99_ms", window.P99),
		zap.Int("active", s.Active),
		zap.Float64("target", s.Target),
		zap.Int("stage", s.Stage),
		zap.Int64("dropped", s.Dropped),
	)
	return nil
}

func (l *LogSink) OnRunEnd(s metrics.Summary) error {
	it := s.Iterations()
	l.logger.Info("run finished",
		zap.String("run_id", s.RunID),
		zap.String("stop_reason", s.StopReason),
		zap.Duration("duration", s.Duration),
		zap.Int64("iterations", it.Count),
		zap.Int64("failures", it.Failures),
		zap.Float64("p50_ms", it.P50),
		zap.Float64("p99_ms", it.P99),
		zap.Int("peak_concurrency", s.PeakActive),
		zap.Int64("force_cancelled", s.ForceCancelled),
	)
	return nil
}
