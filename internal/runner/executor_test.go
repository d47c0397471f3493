package runner_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/torosent/stampede/internal/loadpattern"
	"github.com/torosent/stampede/internal/metrics"
	"github.com/torosent/stampede/internal/runner"
)

// fakeScenario simulates an iteration with fixed latency and tracks how many
// iterations overlap.
type fakeScenario struct {
	latency  time.Duration
	calls    atomic.Int64
	inflight atomic.Int64
	maxSeen  atomic.Int64
}

func (f *fakeScenario) Run(ctx context.Context, it runner.Iteration) (runner.Measurements, error) {
	f.calls.Add(1)
	n := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		m := f.maxSeen.Load()
		if n <= m || f.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	select {
	case <-time.After(f.latency):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return nil, nil
}

func constant(t *testing.T, kind loadpattern.Kind, v float64) loadpattern.Pattern {
	t.Helper()
	p, err := loadpattern.NewConstant(kind, v)
	if err != nil {
		t.Fatalf("NewConstant() error = %v", err)
	}
	return p
}

func newExecutor(t *testing.T, opt runner.Options) *runner.Executor {
	t.Helper()
	e, err := runner.New(opt)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return e
}

// recordingSink keeps everything it is given.
type recordingSink struct {
	mu        sync.Mutex
	started   *runner.RunState
	snapshots []metrics.Snapshot
	summaries []metrics.Summary
}

func (r *recordingSink) OnRunStart(run *runner.RunState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = run
	return nil
}

func (r *recordingSink) OnSnapshot(s metrics.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = append(r.snapshots, s)
	return nil
}

func (r *recordingSink) OnRunEnd(s metrics.Summary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summaries = append(r.summaries, s)
	return nil
}

func TestClosedLoopHoldsConcurrentUsers(t *testing.T) {
	sc := &fakeScenario{latency: 20 * time.Millisecond}
	e := newExecutor(t, runner.Options{
		Pattern:      constant(t, loadpattern.Concurrency, 5),
		Scenario:     sc,
		Duration:     250 * time.Millisecond,
		TickInterval: 5 * time.Millisecond,
	})

	summary, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := sc.maxSeen.Load(); got != 5 {
		t.Errorf("max concurrent iterations = %d, want 5", got)
	}
	if summary.PeakActive > 5 {
		t.Errorf("PeakActive = %d, want <= 5", summary.PeakActive)
	}
	it := summary.Iterations()
	if it.Count != sc.calls.Load() {
		t.Errorf("recorded %d iterations, scenario ran %d", it.Count, sc.calls.Load())
	}
	if it.Count != summary.Spawned {
		t.Errorf("Spawned = %d, want %d", summary.Spawned, it.Count)
	}
	if it.Failures != 0 || it.SuccessRate != 1 {
		t.Errorf("failures = %d success rate = %v, want 0 and 1", it.Failures, it.SuccessRate)
	}
	if e.State() != runner.StateStopped {
		t.Errorf("State() = %v, want stopped", e.State())
	}
	if summary.StopReason != "duration elapsed" {
		t.Errorf("StopReason = %q", summary.StopReason)
	}
}

func TestClosedLoopRetiresUsersWhenTargetDrops(t *testing.T) {
	high := constant(t, loadpattern.Concurrency, 6)
	low := constant(t, loadpattern.Concurrency, 1)
	pattern, err := loadpattern.NewStaged(
		loadpattern.Stage{Duration: 100 * time.Millisecond, Shape: high},
		loadpattern.Stage{Duration: 400 * time.Millisecond, Shape: low},
	)
	if err != nil {
		t.Fatalf("NewStaged() error = %v", err)
	}

	var (
		mu       sync.Mutex
		runStart time.Time
		lateMax  int64
		inflight atomic.Int64
	)
	sc := runner.ScenarioFunc(func(ctx context.Context, it runner.Iteration) (runner.Measurements, error) {
		n := inflight.Add(1)
		defer inflight.Add(-1)
		mu.Lock()
		if runStart.IsZero() {
			runStart = it.StartedAt
		}
		if it.StartedAt.Sub(runStart) > 250*time.Millisecond && n > lateMax {
			lateMax = n
		}
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		return nil, nil
	})

	sink := &recordingSink{}
	e := newExecutor(t, runner.Options{
		Pattern:        pattern,
		Scenario:       sc,
		TickInterval:   5 * time.Millisecond,
		ReportInterval: 50 * time.Millisecond,
		Sinks:          []runner.Sink{sink},
	})
	summary, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if lateMax > 1 {
		t.Errorf("concurrency after ramp down = %d, want <= 1", lateMax)
	}
	if summary.Stages != 2 {
		t.Errorf("Stages = %d, want 2", summary.Stages)
	}
	if summary.VirtualUsers != 0 {
		t.Errorf("VirtualUsers after stop = %d, want 0", summary.VirtualUsers)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	var sawFirst, sawSecond bool
	for _, s := range sink.snapshots {
		switch s.Stage {
		case 1:
			sawFirst = true
		case 2:
			sawSecond = true
		}
	}
	if !sawFirst || !sawSecond {
		t.Errorf("snapshots did not report both stages (first=%v second=%v)", sawFirst, sawSecond)
	}
}

func TestOpenLoopStartsArrivalsOnSchedule(t *testing.T) {
	sc := &fakeScenario{}
	e := newExecutor(t, runner.Options{
		Pattern:      constant(t, loadpattern.ArrivalRate, 100),
		Scenario:     sc,
		Duration:     time.Second,
		TickInterval: 10 * time.Millisecond,
	})

	summary, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	got := summary.Iterations().Count
	if got < 95 || got > 101 {
		t.Errorf("iterations = %d, want 95..101 for 100/s over 1s", got)
	}
	if summary.Dropped != 0 {
		t.Errorf("Dropped = %d, want 0 without a backstop", summary.Dropped)
	}
}

func TestOpenLoopIgnoresIterationLatency(t *testing.T) {
	// Each iteration takes longer than the whole run; arrivals must not
	// wait for earlier iterations.
	sc := &fakeScenario{latency: 400 * time.Millisecond}
	e := newExecutor(t, runner.Options{
		Pattern:      constant(t, loadpattern.ArrivalRate, 50),
		Scenario:     sc,
		Duration:     200 * time.Millisecond,
		TickInterval: 10 * time.Millisecond,
		DrainTimeout: time.Second,
	})

	summary, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := summary.Iterations().Count; got < 8 || got > 11 {
		t.Errorf("iterations = %d, want about 10", got)
	}
	if got := sc.maxSeen.Load(); got < 8 {
		t.Errorf("max in flight = %d, want the backlog to grow", got)
	}
}

func TestMaxInFlightDropsArrivals(t *testing.T) {
	sc := &fakeScenario{latency: 50 * time.Millisecond}
	e := newExecutor(t, runner.Options{
		Pattern:      constant(t, loadpattern.ArrivalRate, 200),
		Scenario:     sc,
		Duration:     300 * time.Millisecond,
		TickInterval: 5 * time.Millisecond,
		MaxInFlight:  2,
	})

	summary, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := sc.maxSeen.Load(); got > 2 {
		t.Errorf("max in flight = %d, want <= 2", got)
	}
	if summary.Dropped == 0 {
		t.Error("Dropped = 0, want arrivals over the backstop counted")
	}
	if total := summary.Iterations().Count + summary.Dropped; total < 50 {
		t.Errorf("started+dropped = %d, want roughly 60 arrivals", total)
	}
}

func TestCancelForceCancelsAfterDrainTimeout(t *testing.T) {
	blocked := runner.ScenarioFunc(func(ctx context.Context, it runner.Iteration) (runner.Measurements, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	const (
		tick  = 10 * time.Millisecond
		drain = 100 * time.Millisecond
	)
	e := newExecutor(t, runner.Options{
		Pattern:      constant(t, loadpattern.Concurrency, 3),
		Scenario:     blocked,
		TickInterval: tick,
		DrainTimeout: drain,
	})

	type result struct {
		summary metrics.Summary
		err     error
	}
	done := make(chan result, 1)
	go func() {
		s, err := e.Run(context.Background())
		done <- result{s, err}
	}()

	time.Sleep(50 * time.Millisecond)
	cancelledAt := time.Now()
	e.Cancel()

	var res result
	select {
	case res = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after drain timeout")
	}
	if waited := time.Since(cancelledAt); waited > drain+tick+150*time.Millisecond {
		t.Errorf("Run() returned %s after Cancel, want about %s", waited, drain+tick)
	}

	var timeout *runner.CancellationTimeout
	if !errors.As(res.err, &timeout) {
		t.Fatalf("Run() error = %v, want *CancellationTimeout", res.err)
	}
	if timeout.Cancelled != 3 {
		t.Errorf("Cancelled = %d, want 3", timeout.Cancelled)
	}
	it := res.summary.Iterations()
	if it.Count != 3 || it.Failures != 3 {
		t.Errorf("iterations = %d failures = %d, want 3 and 3", it.Count, it.Failures)
	}
	if got := res.summary.Failures["cancelled: drain timeout"]; got != 3 {
		t.Errorf("cancelled failures = %d, want 3 (failures: %v)", got, res.summary.Failures)
	}
	if !res.summary.Cancelled || res.summary.ForceCancelled != 3 {
		t.Errorf("Cancelled = %v ForceCancelled = %d", res.summary.Cancelled, res.summary.ForceCancelled)
	}
}

func TestDrainWaitsForInFlightIterations(t *testing.T) {
	sc := &fakeScenario{latency: 60 * time.Millisecond}
	e := newExecutor(t, runner.Options{
		Pattern:      constant(t, loadpattern.Concurrency, 4),
		Scenario:     sc,
		Duration:     30 * time.Millisecond,
		TickInterval: 5 * time.Millisecond,
		DrainTimeout: time.Second,
	})

	summary, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	it := summary.Iterations()
	if it.Count != 4 || it.Failures != 0 {
		t.Errorf("iterations = %d failures = %d, want 4 successful", it.Count, it.Failures)
	}
	if summary.ForceCancelled != 0 {
		t.Errorf("ForceCancelled = %d, want 0", summary.ForceCancelled)
	}
}

func TestPanicIsRecordedAsFault(t *testing.T) {
	sc := runner.ScenarioFunc(func(ctx context.Context, it runner.Iteration) (runner.Measurements, error) {
		if it.ID%5 == 0 {
			panic("boom")
		}
		return nil, nil
	})
	e := newExecutor(t, runner.Options{
		Pattern:       constant(t, loadpattern.Concurrency, 2),
		Scenario:      sc,
		MaxIterations: 20,
		TickInterval:  5 * time.Millisecond,
	})

	summary, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	it := summary.Iterations()
	if it.Count != 20 {
		t.Fatalf("iterations = %d, want 20", it.Count)
	}
	if it.Successes != 16 || it.Failures != 4 {
		t.Errorf("successes = %d failures = %d, want 16 and 4", it.Successes, it.Failures)
	}
	if got := summary.Failures["fault: boom"]; got != 4 {
		t.Errorf("fault failures = %d, want 4 (failures: %v)", got, summary.Failures)
	}
}

func TestMaxIterationsIsExact(t *testing.T) {
	for _, kind := range []loadpattern.Kind{loadpattern.Concurrency, loadpattern.ArrivalRate} {
		t.Run(kind.String(), func(t *testing.T) {
			value := 8.0
			if kind == loadpattern.ArrivalRate {
				value = 500
			}
			sc := &fakeScenario{latency: time.Millisecond}
			e := newExecutor(t, runner.Options{
				Pattern:       constant(t, kind, value),
				Scenario:      sc,
				MaxIterations: 25,
				TickInterval:  5 * time.Millisecond,
			})

			summary, err := e.Run(context.Background())
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if got := sc.calls.Load(); got != 25 {
				t.Errorf("scenario ran %d times, want 25", got)
			}
			if got := summary.Iterations().Count; got != 25 {
				t.Errorf("recorded %d iterations, want 25", got)
			}
			if summary.StopReason != "iteration limit reached" {
				t.Errorf("StopReason = %q", summary.StopReason)
			}
		})
	}
}

func TestRunUsesSuppliedRunID(t *testing.T) {
	var got atomic.Value
	sc := runner.ScenarioFunc(func(ctx context.Context, it runner.Iteration) (runner.Measurements, error) {
		got.Store(it.RunID)
		return nil, nil
	})
	e := newExecutor(t, runner.Options{
		Pattern:       constant(t, loadpattern.Concurrency, 1),
		Scenario:      sc,
		RunID:         "01HWARMUPRUN",
		MaxIterations: 3,
		TickInterval:  5 * time.Millisecond,
	})
	summary, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.RunID != "01HWARMUPRUN" {
		t.Errorf("summary RunID = %q", summary.RunID)
	}
	if id, _ := got.Load().(string); id != "01HWARMUPRUN" {
		t.Errorf("iteration RunID = %q", id)
	}
}

func TestIterationsPerUserRunsExactBudget(t *testing.T) {
	var (
		mu   sync.Mutex
		seen = make(map[int64]int64)
	)
	sc := runner.ScenarioFunc(func(ctx context.Context, it runner.Iteration) (runner.Measurements, error) {
		mu.Lock()
		defer mu.Unlock()
		seen[it.VU]++
		if it.VUIteration != seen[it.VU] {
			t.Errorf("VU %d: VUIteration = %d, want %d", it.VU, it.VUIteration, seen[it.VU])
		}
		time.Sleep(time.Millisecond)
		return nil, nil
	})
	e := newExecutor(t, runner.Options{
		Pattern:           constant(t, loadpattern.Concurrency, 3),
		Scenario:          sc,
		Duration:          10 * time.Second,
		IterationsPerUser: 4,
		TickInterval:      5 * time.Millisecond,
	})

	start := time.Now()
	summary, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Errorf("run did not stop once every user finished")
	}
	if got := summary.Iterations().Count; got != 12 {
		t.Errorf("recorded %d iterations, want 12", got)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 3 {
		t.Errorf("ran %d virtual users, want 3 (finished users are not replaced)", len(seen))
	}
	for vu, n := range seen {
		if n != 4 {
			t.Errorf("VU %d ran %d iterations, want 4", vu, n)
		}
	}
	if summary.StopReason != "per-user iterations completed" {
		t.Errorf("StopReason = %q", summary.StopReason)
	}
}

func TestAbortDrainsRun(t *testing.T) {
	sc := runner.ScenarioFunc(func(ctx context.Context, it runner.Iteration) (runner.Measurements, error) {
		if it.ID == 3 {
			return nil, runner.Abort(errors.New("credentials rejected"))
		}
		return nil, nil
	})
	e := newExecutor(t, runner.Options{
		Pattern:      constant(t, loadpattern.Concurrency, 1),
		Scenario:     sc,
		Duration:     10 * time.Second,
		TickInterval: 5 * time.Millisecond,
	})

	start := time.Now()
	summary, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Errorf("abort did not stop the run early")
	}
	if !strings.Contains(summary.StopReason, "credentials rejected") {
		t.Errorf("StopReason = %q", summary.StopReason)
	}
	it := summary.Iterations()
	if it.Count != 3 || it.Failures != 1 {
		t.Errorf("iterations = %d failures = %d, want 3 and 1", it.Count, it.Failures)
	}
}

func TestContextCancellationDrains(t *testing.T) {
	sc := &fakeScenario{latency: 10 * time.Millisecond}
	e := newExecutor(t, runner.Options{
		Pattern:      constant(t, loadpattern.Concurrency, 2),
		Scenario:     sc,
		TickInterval: 5 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()
	summary, err := e.Run(ctx)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.StopReason != "context cancelled" {
		t.Errorf("StopReason = %q, want context cancelled", summary.StopReason)
	}
	// The drain lets running iterations finish instead of failing them.
	if it := summary.Iterations(); it.Failures != 0 {
		t.Errorf("failures = %d, want 0", it.Failures)
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	sc := &fakeScenario{latency: 5 * time.Millisecond}
	e := newExecutor(t, runner.Options{
		Pattern:      constant(t, loadpattern.Concurrency, 2),
		Scenario:     sc,
		TickInterval: 5 * time.Millisecond,
	})
	e.Cancel() // no run yet

	done := make(chan metrics.Summary, 1)
	go func() {
		s, _ := e.Run(context.Background())
		done <- s
	}()
	waitForState(t, e, runner.StateRunning)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.Cancel()
		}()
	}
	wg.Wait()

	select {
	case s := <-done:
		if !s.Cancelled || s.StopReason != "cancelled" {
			t.Errorf("Cancelled = %v StopReason = %q", s.Cancelled, s.StopReason)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after Cancel")
	}
	e.Cancel() // after stop
	if !e.RunState().Cancelled() {
		t.Error("RunState().Cancelled() = false")
	}
}

func TestRunRejectsConcurrentRun(t *testing.T) {
	release := make(chan struct{})
	sc := runner.ScenarioFunc(func(ctx context.Context, it runner.Iteration) (runner.Measurements, error) {
		<-release
		return nil, nil
	})
	e := newExecutor(t, runner.Options{
		Pattern:       constant(t, loadpattern.Concurrency, 1),
		Scenario:      sc,
		MaxIterations: 1,
		TickInterval:  5 * time.Millisecond,
	})

	done := make(chan error, 1)
	go func() {
		_, err := e.Run(context.Background())
		done <- err
	}()
	waitForState(t, e, runner.StateRunning)

	if _, err := e.Run(context.Background()); !errors.Is(err, runner.ErrRunInProgress) {
		t.Errorf("second Run() error = %v, want ErrRunInProgress", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	// A stopped executor can run again with a fresh run state.
	first := e.RunState()
	summary, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("rerun error = %v", err)
	}
	if e.RunState().ID == first.ID {
		t.Error("rerun reused the previous run ID")
	}
	if summary.Iterations().Count != 1 {
		t.Errorf("rerun iterations = %d, want 1", summary.Iterations().Count)
	}
}

// failingSink fails every call, by error or by panic.
type failingSink struct {
	panics bool
	calls  atomic.Int64
}

func (f *failingSink) OnSnapshot(metrics.Snapshot) error { return f.fail() }
func (f *failingSink) OnRunEnd(metrics.Summary) error    { return f.fail() }

func (f *failingSink) fail() error {
	f.calls.Add(1)
	if f.panics {
		panic("sink exploded")
	}
	return errors.New("sink unavailable")
}

func TestSinkFailuresDoNotStopRun(t *testing.T) {
	erroring := &failingSink{}
	panicking := &failingSink{panics: true}
	rec := &recordingSink{}
	sc := &fakeScenario{latency: time.Millisecond}

	e := newExecutor(t, runner.Options{
		Pattern:        constant(t, loadpattern.Concurrency, 2),
		Scenario:       sc,
		Duration:       200 * time.Millisecond,
		TickInterval:   5 * time.Millisecond,
		ReportInterval: 20 * time.Millisecond,
		Sinks:          []runner.Sink{erroring, panicking, rec},
	})

	summary, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.StopReason != "duration elapsed" {
		t.Errorf("StopReason = %q", summary.StopReason)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.started == nil || rec.started.ID != summary.RunID {
		t.Error("OnRunStart not called with the run state")
	}
	if len(rec.snapshots) < 3 {
		t.Errorf("snapshots = %d, want several", len(rec.snapshots))
	}
	if len(rec.summaries) != 1 {
		t.Fatalf("OnRunEnd calls = %d, want 1", len(rec.summaries))
	}
	if panicking.calls.Load() != erroring.calls.Load() {
		t.Errorf("panicking sink called %d times, erroring sink %d", panicking.calls.Load(), erroring.calls.Load())
	}

	var last time.Duration
	var lastCount int64
	for _, s := range rec.snapshots {
		if s.Elapsed < last {
			t.Errorf("elapsed went backwards: %s after %s", s.Elapsed, last)
		}
		if c := s.Iterations().Count; c < lastCount {
			t.Errorf("iteration count went backwards: %d after %d", c, lastCount)
		}
		last, lastCount = s.Elapsed, s.Iterations().Count
	}
}

func TestMeasurementsAreAggregated(t *testing.T) {
	sc := runner.ScenarioFunc(func(ctx context.Context, it runner.Iteration) (runner.Measurements, error) {
		return runner.Measurements{"body_bytes": float64(it.ID)}, nil
	})
	e := newExecutor(t, runner.Options{
		Pattern:       constant(t, loadpattern.Concurrency, 1),
		Scenario:      sc,
		MaxIterations: 100,
		TickInterval:  5 * time.Millisecond,
	})

	summary, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	m, ok := summary.Metrics["body_bytes"]
	if !ok {
		t.Fatalf("body_bytes missing from %v", summary.Measurements())
	}
	if m.Count != 100 || m.Min != 1 || m.Max != 100 {
		t.Errorf("body_bytes count=%d min=%v max=%v", m.Count, m.Min, m.Max)
	}
	if m.P50 < 49 || m.P50 > 51 {
		t.Errorf("body_bytes p50 = %v, want about 50", m.P50)
	}
}

func TestNewRejectsInvalidOptions(t *testing.T) {
	closed := constant(t, loadpattern.Concurrency, 1)
	sc := &fakeScenario{}

	cases := []struct {
		name string
		opt  runner.Options
		want string
	}{
		{"missing pattern", runner.Options{Scenario: sc}, "load pattern is required"},
		{"missing scenario", runner.Options{Pattern: closed}, "scenario is required"},
		{"negative duration", runner.Options{Pattern: closed, Scenario: sc, Duration: -time.Second}, "duration"},
		{"negative drain", runner.Options{Pattern: closed, Scenario: sc, DrainTimeout: -1}, "drain timeout"},
		{"negative tick", runner.Options{Pattern: closed, Scenario: sc, TickInterval: -1}, "tick interval"},
		{"backstop on closed loop", runner.Options{Pattern: closed, Scenario: sc, MaxInFlight: 3}, "max in-flight"},
		{"poisson on closed loop", runner.Options{Pattern: closed, Scenario: sc, ArrivalModel: runner.ArrivalModelPoisson}, "arrival model"},
		{"negative per-user budget", runner.Options{Pattern: closed, Scenario: sc, IterationsPerUser: -1}, "iterations per user"},
		{"per-user budget on open loop", runner.Options{Pattern: constant(t, loadpattern.ArrivalRate, 1), Scenario: sc, IterationsPerUser: 2}, "concurrency patterns"},
		{"unknown model", runner.Options{Pattern: constant(t, loadpattern.ArrivalRate, 1), Scenario: sc, ArrivalModel: "bursty"}, "unknown arrival model"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := runner.New(tc.opt)
			var cfgErr *runner.ConfigurationError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("New() error = %v, want *ConfigurationError", err)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func waitForState(t *testing.T, e *runner.Executor, want runner.State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for e.State() != want || e.RunState() == nil {
		if time.Now().After(deadline) {
			t.Fatalf("executor never reached %v (at %v)", want, e.State())
		}
		time.Sleep(time.Millisecond)
	}
}
