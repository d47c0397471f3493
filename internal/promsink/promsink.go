// Package promsink exposes run snapshots as Prometheus metrics.
package promsink

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/torosent/stampede/internal/metrics"
	"github.com/torosent/stampede/internal/runner"
)

const namespace = "stampede"

var quantiles = []struct {
	label string
	value func(metrics.MetricSummary) float64
}{
	{"0.5", func(m metrics.MetricSummary) float64 { return m.P50 }},
	{"0.9", func(m metrics.MetricSummary) float64 { return m.P90 }},
	{"0.95", func(m metrics.MetricSummary) float64 { return m.P95 }},
	{"0.99", func(m metrics.MetricSummary) float64 { return m.P99 }},
}

// Sink mirrors snapshots into a dedicated Prometheus registry. Totals in a
// snapshot are cumulative, so counters are advanced by the difference from
// the previous snapshot.
type Sink struct {
	registry *prometheus.Registry

	iterations *prometheus.CounterVec
	failures   *prometheus.CounterVec
	dropped    prometheus.Counter
	active     prometheus.Gauge
	peak       prometheus.Gauge
	target     prometheus.Gauge
	stage      prometheus.Gauge
	values     *prometheus.GaugeVec
	means      *prometheus.GaugeVec

	mu       sync.Mutex
	seen     map[string]float64
	lastDrop int64
}

// New registers the run metrics on a fresh registry.
func New() *Sink {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Sink{
		registry: reg,
		iterations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "iterations_total",
			Help:      "Completed iterations by result.",
		}, []string{"result"}),
		failures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failures_total",
			Help:      "Failed iterations by kind and reason.",
		}, []string{"reason"}),
		dropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_arrivals_total",
			Help:      "Open-loop arrivals refused by the in-flight limit.",
		}),
		active: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_iterations",
			Help:      "Iterations currently in flight.",
		}),
		peak: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "peak_active_iterations",
			Help:      "Highest number of iterations in flight so far.",
		}),
		target: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "target",
			Help:      "Current load pattern target, in users or iterations per second.",
		}),
		stage: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stage",
			Help:      "Current stage of a staged load pattern, starting at 1.",
		}),
		values: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "metric_quantile",
			Help:      "Run-cumulative quantiles of each recorded metric.",
		}, []string{"metric", "quantile"}),
		means: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "metric_mean",
			Help:      "Run-cumulative mean of each recorded metric.",
		}, []string{"metric"}),
		seen: make(map[string]float64),
	}
}

// Registry is the registry to serve, e.g. with promhttp.HandlerFor.
func (s *Sink) Registry() *prometheus.Registry { return s.registry }

func (s *Sink) String() string { return "prometheus" }

// OnRunStart rebases the counters for a new run of a sequence, whose
// snapshot totals start again from zero.
func (s *Sink) OnRunStart(*runner.RunState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.seen)
	s.lastDrop = 0
	return nil
}

func (s *Sink) OnSnapshot(snap metrics.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	it := snap.Iterations()
	s.advance(s.iterations.WithLabelValues("success"), "iterations/success", float64(it.Successes))
	s.advance(s.iterations.WithLabelValues("failure"), "iterations/failure", float64(it.Failures))
	for reason, n := range snap.Failures {
		s.advance(s.failures.WithLabelValues(reason), "failure/"+reason, float64(n))
	}
	if d := snap.Dropped - s.lastDrop; d > 0 {
		s.dropped.Add(float64(d))
		s.lastDrop = snap.Dropped
	}

	s.active.Set(float64(snap.Active))
	s.peak.Set(float64(snap.PeakActive))
	s.target.Set(snap.Target)
	s.stage.Set(float64(snap.Stage))

	for name, m := range snap.Metrics {
		if m.Count == 0 {
			continue
		}
		for _, q := range quantiles {
			s.values.WithLabelValues(name, q.label).Set(q.value(m))
		}
		s.means.WithLabelValues(name).Set(m.Mean)
	}
	return nil
}

func (s *Sink) OnRunEnd(summary metrics.Summary) error {
	return s.OnSnapshot(summary.Snapshot)
}

func (s *Sink) advance(c prometheus.Counter, key string, total float64) {
	if d := total - s.seen[key]; d > 0 {
		c.Add(d)
		s.seen[key] = total
	}
}
