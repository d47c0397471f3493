package metrics

import (
	"sort"
	"time"
)

// MetricSummary is the point-in-time view of one metric.
type MetricSummary struct {
	Count       int64   `json:"count" yaml:"count"`
	Successes   int64   `json:"successes" yaml:"successes"`
	Failures    int64   `json:"failures" yaml:"failures"`
	SuccessRate float64 `json:"success_rate" yaml:"success_rate"`
	Rate        float64 `json:"rate_per_sec" yaml:"rate_per_sec"`
	Min         float64 `json:"min" yaml:"min"`
	Mean        float64 `json:"mean" yaml:"mean"`
	P50         float64 `json:"p50" yaml:"p50"`
	P90         float64 `json:"p90" yaml:"p90"`
	P95         float64 `json:"p95" yaml:"p95"`
	P99         float64 `json:"p99" yaml:"p99"`
	Max         float64 `json:"max" yaml:"max"`
}

// Gauges carries executor state that is not derived from outcomes.
type Gauges struct {
	RunID string `json:"run_id" yaml:"run_id"`
	State string `json:"state" yaml:"state"`
	// Active is the number of iterations currently in flight. In open-loop
	// runs this is the depth of the unbounded backlog.
	Active       int     `json:"active_concurrency" yaml:"active_concurrency"`
	PeakActive   int     `json:"peak_concurrency" yaml:"peak_concurrency"`
	VirtualUsers int     `json:"virtual_users" yaml:"virtual_users"`
	TargetKind   string  `json:"target_kind" yaml:"target_kind"`
	Target       float64 `json:"target" yaml:"target"`
	Stage        int     `json:"stage" yaml:"stage"`
	Stages       int     `json:"stages" yaml:"stages"`
	Spawned      int64   `json:"spawned" yaml:"spawned"`
	// Dropped counts open-loop arrivals refused by the in-flight limit.
	Dropped int64 `json:"dropped" yaml:"dropped"`
}

// Snapshot is an immutable point-in-time copy of run statistics. Metrics
// holds run-cumulative summaries and Interval holds the summaries of the
// window since the previous snapshot.
type Snapshot struct {
	Gauges    `yaml:",inline"`
	Elapsed   time.Duration            `json:"-" yaml:"-"`
	ElapsedMs float64                  `json:"elapsed_ms" yaml:"elapsed_ms"`
	Metrics   map[string]MetricSummary `json:"metrics" yaml:"metrics"`
	Interval  map[string]MetricSummary `json:"interval,omitempty" yaml:"interval,omitempty"`
	Failures  map[string]int64         `json:"failures,omitempty" yaml:"failures,omitempty"`
}

// Iterations returns the run-cumulative iteration summary.
func (s Snapshot) Iterations() MetricSummary {
	return s.Metrics[IterationDuration]
}

// Measurements lists the names of metrics other than the iteration
// duration, sorted.
func (s Snapshot) Measurements() []string {
	names := make([]string, 0, len(s.Metrics))
	for name := range s.Metrics {
		if name != IterationDuration {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Summary is the final report of a run.
type Summary struct {
	Snapshot       `yaml:",inline"`
	StartedAt      time.Time     `json:"started_at" yaml:"started_at"`
	Duration       time.Duration `json:"-" yaml:"-"`
	DurationMs     float64       `json:"duration_ms" yaml:"duration_ms"`
	Cancelled      bool          `json:"cancelled" yaml:"cancelled"`
	StopReason     string        `json:"stop_reason" yaml:"stop_reason"`
	ForceCancelled int64         `json:"force_cancelled" yaml:"force_cancelled"`
	History        []DataPoint   `json:"history,omitempty" yaml:"-"`
}

// FailureBucket is one row of the failure breakdown.
type FailureBucket struct {
	Reason string `json:"reason" yaml:"reason"`
	Count  int64  `json:"count" yaml:"count"`
}

// FlattenFailures converts the failure map into rows sorted by descending
// count, then by reason for stability.
func FlattenFailures(failures map[string]int64) []FailureBucket {
	if len(failures) == 0 {
		return nil
	}
	rows := make([]FailureBucket, 0, len(failures))
	for reason, count := range failures {
		rows = append(rows, FailureBucket{Reason: reason, Count: count})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Count == rows[j].Count {
			return rows[i].Reason < rows[j].Reason
		}
		return rows[i].Count > rows[j].Count
	})
	return rows
}
