package threshold

import (
	"testing"

	"github.com/torosent/stampede/internal/metrics"
)

func sampleSummary() metrics.Summary {
	var s metrics.Summary
	s.PeakActive = 40
	s.Dropped = 3
	s.Metrics = map[string]metrics.MetricSummary{
		metrics.IterationDuration: {
			Count:       1000,
			Successes:   980,
			Failures:    20,
			SuccessRate: 0.98,
			Rate:        100,
			Min:         10,
			Mean:        100,
			P50:         80,
			P90:         200,
			P95:         300,
			P99:         400,
			Max:         500,
		},
		"ttfb_ms": {Count: 980, Successes: 980, SuccessRate: 1, P99: 120, Mean: 40},
	}
	return s
}

func TestParse(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		want      Threshold
		wantError bool
	}{
		{
			name:  "valid p95 duration threshold",
			input: "iteration_duration:p95 < 500",
			want: Threshold{
				Metric:    "iteration_duration",
				Aggregate: "p95",
				Operator:  "<",
				Value:     500,
				Raw:       "iteration_duration:p95 < 500",
			},
		},
		{
			name:  "valid success rate threshold",
			input: "iterations:success_rate > 0.99",
			want: Threshold{
				Metric:    "iterations",
				Aggregate: "success_rate",
				Operator:  ">",
				Value:     0.99,
				Raw:       "iterations:success_rate > 0.99",
			},
		},
		{
			name:  "measurement with <=",
			input: "ttfb_ms:p99<=1000",
			want: Threshold{
				Metric:    "ttfb_ms",
				Aggregate: "p99",
				Operator:  "<=",
				Value:     1000,
				Raw:       "ttfb_ms:p99<=1000",
			},
		},
		{
			name:  "dropped arrivals",
			input: "dropped:count == 0",
			want: Threshold{
				Metric:    "dropped",
				Aggregate: "count",
				Operator:  "==",
				Value:     0,
				Raw:       "dropped:count == 0",
			},
		},
		{name: "empty string", input: "", wantError: true},
		{name: "invalid format - missing operator", input: "iteration_duration:p95 500", wantError: true},
		{name: "invalid aggregate", input: "iteration_duration:p85 < 500", wantError: true},
		{name: "aggregate not valid for run metric", input: "iterations:p95 < 500", wantError: true},
		{name: "invalid operator", input: "iteration_duration:p95 << 500", wantError: true},
		{name: "not equal unsupported", input: "iteration_duration:p95 != 500", wantError: true},
		{name: "invalid value - not a number", input: "iteration_duration:p95 < abc", wantError: true},
		{name: "invalid value - two dots", input: "iteration_duration:p95 < 1.2.3", wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if (err != nil) != tt.wantError {
				t.Errorf("Parse() error = %v, wantError %v", err, tt.wantError)
				return
			}
			if !tt.wantError && got != tt.want {
				t.Errorf("Parse() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseMultiple(t *testing.T) {
	tests := []struct {
		name      string
		input     []string
		wantCount int
		wantError bool
	}{
		{
			name: "multiple valid thresholds",
			input: []string{
				"iteration_duration:p95 < 500",
				"iterations_failed:rate < 0.01",
				"iterations:rate > 100",
			},
			wantCount: 3,
		},
		{
			name:      "empty slice",
			input:     []string{},
			wantCount: 0,
		},
		{
			name: "one valid, one invalid",
			input: []string{
				"iteration_duration:p95 < 500",
				"invalid threshold",
			},
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseMultiple(tt.input)
			if (err != nil) != tt.wantError {
				t.Errorf("ParseMultiple() error = %v, wantError %v", err, tt.wantError)
				return
			}
			if !tt.wantError && len(got) != tt.wantCount {
				t.Errorf("ParseMultiple() returned %d thresholds, want %d", len(got), tt.wantCount)
			}
		})
	}
}

func TestEvaluator(t *testing.T) {
	summary := sampleSummary()

	tests := []struct {
		name       string
		thresholds []string
		wantPass   []bool
	}{
		{
			name: "all thresholds pass",
			thresholds: []string{
				"iteration_duration:p99 < 500",
				"iterations_failed:rate < 0.05",
				"iterations:rate > 50",
			},
			wantPass: []bool{true, true, true},
		},
		{
			name: "some thresholds fail",
			thresholds: []string{
				"iteration_duration:p99 < 300",
				"iterations:success_rate > 0.99",
				"iterations:rate > 50",
			},
			wantPass: []bool{false, false, true},
		},
		{
			name: "percentiles",
			thresholds: []string{
				"iteration_duration:p50 < 100",
				"iteration_duration:p90 < 250",
				"iteration_duration:p95 <= 300",
			},
			wantPass: []bool{true, true, true},
		},
		{
			name: "run gauges",
			thresholds: []string{
				"concurrency:max <= 50",
				"dropped:count == 0",
			},
			wantPass: []bool{true, false},
		},
		{
			name: "measurements",
			thresholds: []string{
				"ttfb_ms:p99 < 150",
				"ttfb_ms:avg < 30",
				"body_bytes:max < 10",
			},
			wantPass: []bool{true, false, false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			thresholds, err := ParseMultiple(tt.thresholds)
			if err != nil {
				t.Fatalf("ParseMultiple() error = %v", err)
			}

			results := NewEvaluator(thresholds).Evaluate(summary)
			if len(results) != len(tt.wantPass) {
				t.Fatalf("got %d results, want %d", len(results), len(tt.wantPass))
			}

			allPass := true
			for i, result := range results {
				allPass = allPass && tt.wantPass[i]
				if result.Pass != tt.wantPass[i] {
					t.Errorf("threshold[%d] %q: got pass=%v, want %v (actual=%.2f)",
						i, result.Threshold.Raw, result.Pass, tt.wantPass[i], result.Actual)
				}
			}
			if AllPassed(results) != allPass {
				t.Errorf("AllPassed() = %v, want %v", !allPass, allPass)
			}
		})
	}
}

func TestEvaluateUnrecordedMetric(t *testing.T) {
	th, err := Parse("queue_depth:max < 5")
	if err != nil {
		t.Fatal(err)
	}
	results := NewEvaluator([]Threshold{th}).Evaluate(sampleSummary())
	if results[0].Pass {
		t.Error("threshold on an unrecorded metric must fail")
	}
}

func TestCompareValues(t *testing.T) {
	tests := []struct {
		name     string
		actual   float64
		operator string
		expected float64
		want     bool
	}{
		{"less than true", 50, "<", 100, true},
		{"less than false", 100, "<", 50, false},
		{"less than equal", 100, "<", 100, false},
		{"less than or equal true", 50, "<=", 100, true},
		{"less than or equal equal", 100, "<=", 100, true},
		{"less than or equal false", 150, "<=", 100, false},
		{"greater than true", 150, ">", 100, true},
		{"greater than false", 50, ">", 100, false},
		{"greater than equal", 100, ">", 100, false},
		{"greater than or equal true", 150, ">=", 100, true},
		{"greater than or equal equal", 100, ">=", 100, true},
		{"greater than or equal false", 50, ">=", 100, false},
		{"equal true", 100, "==", 100, true},
		{"equal false", 100, "==", 101, false},
		{"equal with floating point precision", 100.0000000001, "==", 100, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := compareValues(tt.actual, tt.operator, tt.expected)
			if got != tt.want {
				t.Errorf("compareValues(%.2f, %s, %.2f) = %v, want %v",
					tt.actual, tt.operator, tt.expected, got, tt.want)
			}
		})
	}
}

func TestExtractMetricValue(t *testing.T) {
	summary := sampleSummary()

	tests := []struct {
		name      string
		threshold Threshold
		want      float64
		wantError bool
	}{
		{"duration p50", Threshold{Metric: "iteration_duration", Aggregate: "p50"}, 80, false},
		{"duration p95", Threshold{Metric: "iteration_duration", Aggregate: "p95"}, 300, false},
		{"duration avg", Threshold{Metric: "iteration_duration", Aggregate: "avg"}, 100, false},
		{"duration min", Threshold{Metric: "iteration_duration", Aggregate: "min"}, 10, false},
		{"duration max", Threshold{Metric: "iteration_duration", Aggregate: "max"}, 500, false},
		{"iterations count", Threshold{Metric: "iterations", Aggregate: "count"}, 1000, false},
		{"iterations failure rate", Threshold{Metric: "iterations", Aggregate: "failure_rate"}, 0.02, false},
		{"failed count", Threshold{Metric: "iterations_failed", Aggregate: "count"}, 20, false},
		{"peak concurrency", Threshold{Metric: "concurrency", Aggregate: "max"}, 40, false},
		{"dropped", Threshold{Metric: "dropped", Aggregate: "count"}, 3, false},
		{"measurement success rate", Threshold{Metric: "ttfb_ms", Aggregate: "success_rate"}, 1, false},
		{"unrecorded metric", Threshold{Metric: "invalid_metric", Aggregate: "p95"}, 0, true},
		{"unsupported aggregate for run metric", Threshold{Metric: "iterations_failed", Aggregate: "p95"}, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := extractMetricValue(tt.threshold, summary)
			if (err != nil) != tt.wantError {
				t.Errorf("extractMetricValue() error = %v, wantError %v", err, tt.wantError)
				return
			}
			if !tt.wantError && got != tt.want {
				t.Errorf("extractMetricValue() = %v, want %v", got, tt.want)
			}
		})
	}
}
