package output_test

import (
	"time"

	"github.com/torosent/stampede/internal/metrics"
)

func sampleSummary() metrics.Summary {
	var s metrics.Summary
	s.RunID = "01J9ZQ4V6Y3XK2T8N5R7W0C1DE"
	s.State = "stopped"
	s.PeakActive = 12
	s.Dropped = 4
	s.StopReason = "duration elapsed"
	s.Duration = 2 * time.Second
	s.DurationMs = 2000
	s.Metrics = map[string]metrics.MetricSummary{
		metrics.IterationDuration: {
			Count: 100, Successes: 95, Failures: 5, SuccessRate: 0.95, Rate: 50,
			Min: 10, Mean: 50, P50: 45, P90: 80, P95: 90, P99: 95, Max: 100,
		},
		"ttfb_ms": {Count: 95, Successes: 95, SuccessRate: 1, Mean: 12.5, P99: 30, Max: 31},
	}
	s.Failures = map[string]int64{"error: HTTP 503": 4, "fault: boom": 1}
	s.History = []metrics.DataPoint{
		{Timestamp: time.Now(), ElapsedMs: 1000, Iterations: 50, IterationsPerSec: 50, ActiveConcurrency: 10, Target: 10, P50Ms: 45, P95Ms: 85, P99Ms: 90},
		{Timestamp: time.Now(), ElapsedMs: 2000, Iterations: 100, IterationsPerSec: 50, ActiveConcurrency: 12, Target: 12, P50Ms: 46, P95Ms: 88, P99Ms: 94},
	}
	return s
}
