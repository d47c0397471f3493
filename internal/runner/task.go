package runner

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/torosent/stampede/internal/metrics"
)

// task is the handle the scheduling loop keeps for every goroutine it
// starts. done is closed when the goroutine exits.
type task struct {
	vu      int64
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	current atomic.Pointer[pending]
}

// pending is an iteration in progress. Whoever flips settled first, the
// iteration itself or a forced cancel, records its outcome.
type pending struct {
	startedAt time.Time
	settled   atomic.Bool
}

func (l *loop) newTask(vu int64) *task {
	ctx, cancel := context.WithCancel(l.iterCtx)
	t := &task{vu: vu, ctx: ctx, cancel: cancel, done: make(chan struct{})}
	l.nextID++
	l.tasks[l.nextID] = t
	return t
}

// accepting reports whether new iterations may start. It is checked at
// every iteration boundary.
func (l *loop) accepting() bool {
	return l.state() == StateRunning && !l.run.Cancelled()
}

// runUser is a closed-loop virtual user: it starts its next iteration as
// soon as the previous one finishes, and retires when there are more users
// than the pattern asks for. With a per-user budget it stops after its last
// iteration and keeps its slot.
func (l *loop) runUser(t *task) {
	retired, finished := false, false
	defer func() {
		if finished {
			l.finished.Add(1)
		}
		if !retired {
			l.live.Add(-1)
		}
		close(t.done)
	}()

	for n := int64(1); l.accepting(); n++ {
		id, ok := l.claim()
		if !ok {
			return
		}
		l.execute(t, Iteration{
			RunID:       l.run.ID,
			ID:          id,
			VU:          t.vu,
			VUIteration: n,
		})
		if l.opt.IterationsPerUser > 0 && n >= l.opt.IterationsPerUser {
			finished = true
			return
		}
		if l.retire() {
			retired = true
			return
		}
	}
}

// retire removes this user if the user population is above target.
func (l *loop) retire() bool {
	for {
		live := l.live.Load()
		if live+l.finished.Load() <= l.target.Load() {
			return false
		}
		if l.live.CompareAndSwap(live, live-1) {
			return true
		}
	}
}

// runArrival runs a single open-loop iteration.
func (l *loop) runArrival(t *task, id int64) {
	defer func() {
		l.live.Add(-1)
		close(t.done)
	}()
	l.execute(t, Iteration{RunID: l.run.ID, ID: id})
}

func (l *loop) execute(t *task, it Iteration) {
	rec := &pending{startedAt: time.Now()}
	t.current.Store(rec)
	defer t.current.Store(nil)
	if l.halted.Load() {
		// Force-cancelled before it started; it never ran.
		return
	}

	it.StartedAt = rec.startedAt
	l.started.Add(1)
	l.active.Add(1)
	outcome, abort := l.invoke(t.ctx, it)
	l.active.Add(-1)

	if !rec.settled.CompareAndSwap(false, true) {
		return
	}
	l.run.Registry.Observe(outcome)
	if abort != nil && l.run.Cancel(abort.Error()) {
		l.logger.Warn("run aborted by scenario", zap.Int64("iteration", it.ID), zap.Error(abort))
	}
}

// invoke runs the scenario once, converting a panic into a fault outcome.
func (l *loop) invoke(ctx context.Context, it Iteration) (outcome metrics.Outcome, abort error) {
	defer func() {
		if r := recover(); r != nil {
			fault := &IterationFault{Value: r, Stack: debug.Stack()}
			l.logger.Error("iteration fault",
				zap.Int64("iteration", it.ID),
				zap.Int64("vu", it.VU),
				zap.Error(fault),
				zap.ByteString("stack", fault.Stack),
			)
			outcome = metrics.Fail(it.StartedAt, time.Since(it.StartedAt), metrics.FailureFault, fmt.Sprint(r))
			abort = nil
		}
	}()

	m, err := l.opt.Scenario.Run(ctx, it)
	d := time.Since(it.StartedAt)
	if err == nil {
		return metrics.Outcome{StartedAt: it.StartedAt, Duration: d, Measurements: m}, nil
	}

	outcome = metrics.Fail(it.StartedAt, d, metrics.FailureError, failureReason(err))
	outcome.Measurements = m
	var ab *AbortError
	if errors.As(err, &ab) {
		abort = ab
	}
	return outcome, abort
}
