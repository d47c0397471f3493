package runner

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/torosent/stampede/internal/loadpattern"
	"github.com/torosent/stampede/internal/metrics"
)

// Executor drives one scenario according to a load pattern. A single
// goroutine, the scheduling loop, owns all run bookkeeping; iterations run
// in their own goroutines and only touch the metrics registry and a few
// atomic counters.
type Executor struct {
	opt   Options
	state atomic.Int32
	busy  atomic.Bool
	run   atomic.Pointer[RunState]
}

// New validates opt and returns an idle Executor.
func New(opt Options) (*Executor, error) {
	opt.normalize()
	if err := opt.Validate(); err != nil {
		return nil, err
	}
	return &Executor{opt: opt}, nil
}

// State reports the current lifecycle phase.
func (e *Executor) State() State { return State(e.state.Load()) }

// RunState returns the active or most recent run, or nil before the first
// run starts.
func (e *Executor) RunState() *RunState { return e.run.Load() }

// Cancel asks the active run to drain. It is safe to call from any
// goroutine, any number of times, in any state.
func (e *Executor) Cancel() {
	if run := e.run.Load(); run != nil {
		run.Cancel("cancelled")
	}
}

// Run executes one run and blocks until it stops. Cancelling ctx drains the
// run like Cancel does; iterations are not interrupted until the drain
// timeout expires. The summary is complete even when the returned error is
// a *CancellationTimeout.
func (e *Executor) Run(ctx context.Context) (metrics.Summary, error) {
	if !e.busy.CompareAndSwap(false, true) {
		return metrics.Summary{}, ErrRunInProgress
	}
	defer e.busy.Store(false)
	e.state.Store(int32(StateRunning))

	pacer, err := NewPacer(e.opt.Pattern.Kind(), e.opt.ArrivalModel, e.opt.MaxInFlight, e.opt.RandomSeed)
	if err != nil {
		e.state.Store(int32(StateStopped))
		return metrics.Summary{}, err
	}

	run := newRunState(e.opt.RunID, e.opt.Pattern, e.opt.plannedDuration())
	e.run.Store(run)

	// Iterations keep running through a drain even after ctx is cancelled;
	// only the drain timeout cancels them.
	iterCtx, cancelIterations := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelIterations()

	l := &loop{
		e:       e,
		opt:     e.opt,
		run:     run,
		pacer:   pacer,
		logger:  e.opt.Logger.With(zap.String("run_id", run.ID)),
		history: metrics.NewHistory(e.opt.HistoryLimit),
		iterCtx: iterCtx,
		tasks:   make(map[int64]*task),
		current: loadpattern.Target{Kind: e.opt.Pattern.Kind()},
	}
	if staged, ok := e.opt.Pattern.(*loadpattern.Staged); ok {
		l.staged = staged
	}
	return l.drive(ctx)
}

type loop struct {
	e       *Executor
	opt     Options
	run     *RunState
	pacer   Pacer
	logger  *zap.Logger
	history *metrics.History
	staged  *loadpattern.Staged

	iterCtx context.Context
	tasks   map[int64]*task
	nextID  int64
	nextVU  int64

	// Shared with iteration goroutines.
	seq      atomic.Int64 // iteration IDs handed out
	started  atomic.Int64 // iterations actually started
	live     atomic.Int64 // virtual users (closed loop) or pending iterations (open loop)
	finished atomic.Int64 // virtual users that spent their per-user budget
	active   atomic.Int64 // iterations executing the scenario
	target   atomic.Int64 // virtual user target, read by retiring users
	halted   atomic.Bool  // set once remaining iterations are force-cancelled
	current  loadpattern.Target
	dropped  int64
	forced   int64
	peak     int
	lastTick time.Time
	elapsed  time.Duration
	reported time.Duration
	reason   string
	deadline time.Time
	drainC   <-chan time.Time
}

func (l *loop) state() State { return State(l.e.state.Load()) }

func (l *loop) transition(from, to State) bool {
	return l.e.state.CompareAndSwap(int32(from), int32(to))
}

func (l *loop) drive(ctx context.Context) (metrics.Summary, error) {
	l.logger.Info("run started",
		zap.Stringer("kind", l.opt.Pattern.Kind()),
		zap.Duration("planned", l.run.PlannedDuration),
		zap.Int64("max_iterations", l.opt.MaxIterations),
		zap.Int("max_in_flight", l.opt.MaxInFlight),
	)
	for _, s := range l.opt.Sinks {
		if starter, ok := s.(RunStarter); ok {
			l.notify(s, "start", func() error { return starter.OnRunStart(l.run) })
		}
	}

	ticker := time.NewTicker(l.opt.TickInterval)
	defer ticker.Stop()

	ctxDone := ctx.Done()
	cancelled := l.run.CancelRequested()
	l.lastTick = l.run.StartTime

	for {
		now := time.Now()
		l.tick(now)
		if l.state() == StateStopped {
			break
		}
		select {
		case <-ticker.C:
		case <-l.drainC:
		case <-cancelled:
			cancelled = nil
		case <-ctxDone:
			ctxDone = nil
			l.run.Cancel("context cancelled")
		}
	}
	return l.finish()
}

// tick performs one scheduling step: check stop conditions, evaluate the
// pattern, spawn, reap and report, in that order.
func (l *loop) tick(now time.Time) {
	if e := now.Sub(l.run.StartTime); e > l.elapsed {
		l.elapsed = e
	}
	dt := now.Sub(l.lastTick)
	l.lastTick = now

	l.checkStop(now)

	if l.state() == StateRunning {
		if target, ok := l.evaluate(); ok {
			l.current = target
			l.spawn(target, dt)
		}
	}

	l.reap()

	if a := int(l.active.Load()); a > l.peak {
		l.peak = a
	}
	if l.elapsed-l.reported >= l.opt.ReportInterval && l.state() != StateStopped {
		l.reported = l.elapsed
		l.report(now)
	}
}

func (l *loop) checkStop(now time.Time) {
	switch l.state() {
	case StateRunning:
		switch {
		case l.run.Cancelled():
			l.drain(now, l.run.Reason())
		case !l.run.Unbounded() && l.elapsed >= l.run.PlannedDuration:
			l.drain(now, "duration elapsed")
		case l.opt.MaxIterations > 0 && l.seq.Load() >= l.opt.MaxIterations:
			l.drain(now, "iteration limit reached")
		case l.usersFinished():
			l.drain(now, "per-user iterations completed")
		}
		if l.state() != StateDraining {
			return
		}
		fallthrough
	case StateDraining:
		if l.live.Load() == 0 {
			l.transition(StateDraining, StateStopped)
			return
		}
		if !now.Before(l.deadline) {
			l.forceCancel(now)
			l.transition(StateDraining, StateStopped)
		}
	}
}

// usersFinished reports whether every virtual user the pattern currently
// asks for has spent its per-user budget.
func (l *loop) usersFinished() bool {
	if l.opt.IterationsPerUser <= 0 {
		return false
	}
	done := l.finished.Load()
	return done > 0 && l.live.Load() == 0 && done >= int64(l.current.Users())
}

func (l *loop) drain(now time.Time, reason string) {
	if !l.transition(StateRunning, StateDraining) {
		return
	}
	l.reason = reason
	l.deadline = now.Add(l.opt.DrainTimeout)
	l.drainC = time.After(l.opt.DrainTimeout)
	l.logger.Info("draining",
		zap.String("reason", reason),
		zap.Int64("live", l.live.Load()),
		zap.Duration("timeout", l.opt.DrainTimeout),
	)
}

// evaluate reads the pattern, turning a panicking pattern into a drain.
func (l *loop) evaluate() (target loadpattern.Target, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("load pattern failed", zap.Any("panic", r))
			l.drain(time.Now(), fmt.Sprintf("scheduling error: %v", r))
			ok = false
		}
	}()
	return l.opt.Pattern.Evaluate(l.elapsed), true
}

func (l *loop) spawn(target loadpattern.Target, dt time.Duration) {
	if target.Kind == loadpattern.Concurrency {
		l.target.Store(int64(target.Users()))
	}
	d := l.pacer.Decide(target, int(l.live.Load()+l.finished.Load()), dt)
	l.dropped += int64(d.Dropped)

	for i := 0; i < d.Spawn; i++ {
		if target.Kind == loadpattern.Concurrency {
			l.nextVU++
			l.live.Add(1)
			t := l.newTask(l.nextVU)
			go l.runUser(t)
			continue
		}
		id, ok := l.claim()
		if !ok {
			return
		}
		l.live.Add(1)
		t := l.newTask(0)
		go l.runArrival(t, id)
	}
}

// claim hands out the next iteration ID unless the iteration budget is
// spent.
func (l *loop) claim() (int64, bool) {
	id := l.seq.Add(1)
	if l.opt.MaxIterations > 0 && id > l.opt.MaxIterations {
		return 0, false
	}
	return id, true
}

func (l *loop) reap() {
	for id, t := range l.tasks {
		select {
		case <-t.done:
			t.cancel()
			delete(l.tasks, id)
		default:
		}
	}
}

// forceCancel cancels every remaining iteration and records each one as
// cancelled, unless it completed on its own first.
func (l *loop) forceCancel(now time.Time) {
	l.halted.Store(true)
	var n int64
	for _, t := range l.tasks {
		t.cancel()
		if rec := t.current.Load(); rec != nil && rec.settled.CompareAndSwap(false, true) {
			l.run.Registry.Observe(metrics.Fail(rec.startedAt, now.Sub(rec.startedAt), metrics.FailureCancelled, "drain timeout"))
			n++
		}
	}
	l.forced += n
	l.logger.Warn("drain timeout expired",
		zap.Int64("cancelled", n),
		zap.Int("tasks", len(l.tasks)),
	)
}

func (l *loop) gauges() metrics.Gauges {
	g := metrics.Gauges{
		RunID:      l.run.ID,
		State:      l.state().String(),
		Active:     int(l.active.Load()),
		PeakActive: l.peak,
		TargetKind: l.opt.Pattern.Kind().String(),
		Spawned:    l.started.Load(),
		Dropped:    l.dropped,
	}
	if l.current.Kind == loadpattern.Concurrency {
		g.VirtualUsers = int(l.live.Load())
		g.Target = float64(l.current.Users())
	} else {
		g.Target = l.current.PerSecond()
	}
	if l.staged != nil {
		g.Stages = l.staged.NumStages()
		g.Stage = min(l.staged.StageAt(l.elapsed)+1, g.Stages)
	}
	return g
}

func (l *loop) report(now time.Time) {
	snap := l.run.Registry.Snapshot(l.elapsed, l.gauges())
	l.history.Record(now, snap)
	for _, s := range l.opt.Sinks {
		l.notify(s, "snapshot", func() error { return s.OnSnapshot(snap) })
	}
}

// notify calls into a sink, logging failures and panics as SinkErrors.
func (l *loop) notify(s Sink, op string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Warn("sink failed", zap.Error(&SinkError{Sink: sinkName(s), Op: op, Err: fmt.Errorf("panic: %v", r)}))
		}
	}()
	if err := fn(); err != nil {
		l.logger.Warn("sink failed", zap.Error(&SinkError{Sink: sinkName(s), Op: op, Err: err}))
	}
}

// awaitTasks joins the remaining iteration goroutines. Tasks that finished
// on their own close done right after recording their outcome. After a
// forced cancel, tasks get a short grace period and are then left to the
// context they were cancelled through.
func (l *loop) awaitTasks() {
	grace := time.NewTimer(l.opt.TickInterval / 2)
	defer grace.Stop()
	for id, t := range l.tasks {
		if l.halted.Load() {
			select {
			case <-t.done:
			case <-grace.C:
				l.logger.Warn("iterations ignored cancellation", zap.Int("remaining", len(l.tasks)))
				return
			}
		} else {
			<-t.done
		}
		t.cancel()
		delete(l.tasks, id)
	}
}

func (l *loop) finish() (metrics.Summary, error) {
	l.awaitTasks()

	final := l.run.Registry.Snapshot(l.elapsed, l.gauges())
	l.history.Record(time.Now(), final)

	summary := metrics.Summary{
		Snapshot:       final,
		StartedAt:      l.run.StartTime,
		Duration:       l.elapsed,
		DurationMs:     final.ElapsedMs,
		Cancelled:      l.run.Cancelled(),
		StopReason:     l.reason,
		ForceCancelled: l.forced,
		History:        l.history.Points(),
	}
	for _, s := range l.opt.Sinks {
		l.notify(s, "end", func() error { return s.OnRunEnd(summary) })
	}

	it := final.Iterations()
	l.logger.Info("run stopped",
		zap.String("reason", l.reason),
		zap.Duration("elapsed", l.elapsed),
		zap.Int64("iterations", it.Count),
		zap.Int64("failures", it.Failures),
		zap.Int64("force_cancelled", l.forced),
	)
	if l.forced > 0 {
		return summary, &CancellationTimeout{Cancelled: l.forced, Timeout: l.opt.DrainTimeout}
	}
	return summary, nil
}
