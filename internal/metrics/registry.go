package metrics

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/torosent/stampede/internal/sketch"
)

const (
	shardCount = 16

	// maxFailureReasons bounds the failure breakdown; further distinct
	// reasons are counted under otherFailures.
	maxFailureReasons = 64
	otherFailures     = "other"
	maxReasonLen      = 120
)

// entry is the aggregate for one metric name.
type entry struct {
	agg       *sketch.Sketch
	count     int64
	successes int64
	failures  int64
}

func newEntry() *entry {
	return &entry{agg: sketch.New()}
}

func (e *entry) record(v float64, ok bool) {
	e.agg.Observe(v)
	e.count++
	if ok {
		e.successes++
	} else {
		e.failures++
	}
}

func (e *entry) merge(o *entry) {
	_ = e.agg.Merge(o.agg)
	e.count += o.count
	e.successes += o.successes
	e.failures += o.failures
}

func (e *entry) reset() {
	e.agg.Reset()
	e.count = 0
	e.successes = 0
	e.failures = 0
}

func (e *entry) summary(elapsed time.Duration) MetricSummary {
	s := MetricSummary{
		Count:     e.count,
		Successes: e.successes,
		Failures:  e.failures,
	}
	if e.count == 0 {
		return s
	}
	s.SuccessRate = float64(e.successes) / float64(e.count)
	s.Min = e.agg.Min()
	s.Mean = e.agg.Mean()
	s.P50 = e.agg.Quantile(0.50)
	s.P90 = e.agg.Quantile(0.90)
	s.P95 = e.agg.Quantile(0.95)
	s.P99 = e.agg.Quantile(0.99)
	s.Max = e.agg.Max()
	if elapsed > 0 {
		s.Rate = float64(e.count) / elapsed.Seconds()
	}
	return s
}

// window holds one shard's observations since the last snapshot.
type window struct {
	entries  map[string]*entry
	failures map[string]int64
}

func newWindow() *window {
	return &window{
		entries:  make(map[string]*entry),
		failures: make(map[string]int64),
	}
}

func (w *window) entry(name string) *entry {
	e, ok := w.entries[name]
	if !ok {
		e = newEntry()
		w.entries[name] = e
	}
	return e
}

func (w *window) reset() {
	for _, e := range w.entries {
		e.reset()
	}
	clear(w.failures)
}

type shard struct {
	mu    sync.Mutex
	live  *window
	spare *window
}

// Registry aggregates outcomes for a single run. It is safe for concurrent
// use; Observe never blocks on Snapshot for longer than a pointer swap.
type Registry struct {
	shards [shardCount]*shard

	// Fields below are owned by Snapshot and guarded by mu.
	mu          sync.Mutex
	totals      map[string]*entry
	failures    map[string]int64
	lastElapsed time.Duration
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	r := &Registry{
		totals:   make(map[string]*entry),
		failures: make(map[string]int64),
	}
	for i := range r.shards {
		r.shards[i] = &shard{live: newWindow(), spare: newWindow()}
	}
	return r
}

// Observe ingests one outcome. It is safe to call from many goroutines and
// never fails for a well-formed outcome.
func (r *Registry) Observe(o Outcome) {
	ok := o.Succeeded()
	var reason string
	if !ok {
		reason = failureKey(o.Failure)
	}

	sh := r.shards[rand.IntN(shardCount)]
	sh.mu.Lock()
	w := sh.live
	w.entry(IterationDuration).record(durationMs(o.Duration), ok)
	for name, v := range o.Measurements {
		if name == "" || name == IterationDuration {
			continue
		}
		w.entry(name).record(v, ok)
	}
	if !ok {
		addFailure(w.failures, reason, 1)
	}
	sh.mu.Unlock()
}

// Snapshot folds every shard's current window into the run totals and
// returns an immutable summary. elapsed never goes backwards between
// calls; a smaller value is raised to the previous one.
func (r *Registry) Snapshot(elapsed time.Duration, g Gauges) Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	if elapsed < r.lastElapsed {
		elapsed = r.lastElapsed
	}
	interval := elapsed - r.lastElapsed
	r.lastElapsed = elapsed

	windowTotals := make(map[string]*entry)
	windowFailures := make(map[string]int64)
	for _, sh := range r.shards {
		sh.mu.Lock()
		w := sh.live
		sh.live, sh.spare = sh.spare, sh.live
		sh.mu.Unlock()

		// w is no longer reachable by writers.
		for name, e := range w.entries {
			if e.count == 0 {
				continue
			}
			acc, ok := windowTotals[name]
			if !ok {
				acc = newEntry()
				windowTotals[name] = acc
			}
			acc.merge(e)
		}
		for reason, n := range w.failures {
			addFailure(windowFailures, reason, n)
		}
		w.reset()
	}

	snap := Snapshot{
		Gauges:   g,
		Elapsed:  elapsed,
		Metrics:  make(map[string]MetricSummary, len(r.totals)+len(windowTotals)),
		Interval: make(map[string]MetricSummary, len(windowTotals)),
	}
	for name, w := range windowTotals {
		snap.Interval[name] = w.summary(interval)
		total, ok := r.totals[name]
		if !ok {
			total = newEntry()
			r.totals[name] = total
		}
		total.merge(w)
	}
	for name, total := range r.totals {
		snap.Metrics[name] = total.summary(elapsed)
	}
	for reason, n := range windowFailures {
		addFailure(r.failures, reason, n)
	}
	if len(r.failures) > 0 {
		snap.Failures = make(map[string]int64, len(r.failures))
		for reason, n := range r.failures {
			snap.Failures[reason] = n
		}
	}
	snap.ElapsedMs = durationMs(elapsed)
	return snap
}

func failureKey(f *Failure) string {
	key := f.String()
	if len(key) > maxReasonLen {
		key = key[:maxReasonLen]
	}
	return key
}

func addFailure(m map[string]int64, reason string, n int64) {
	if _, ok := m[reason]; !ok && len(m) >= maxFailureReasons {
		reason = otherFailures
	}
	m[reason] += n
}
