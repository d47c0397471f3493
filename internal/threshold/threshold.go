package threshold

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/torosent/stampede/internal/metrics"
)

// Run-level metric names. Any other metric name refers to a recorded
// metric, such as iteration_duration or a scenario measurement.
const (
	MetricIterations       = "iterations"
	MetricIterationsFailed = "iterations_failed"
	MetricConcurrency      = "concurrency"
	MetricDropped          = "dropped"
)

// Threshold represents a performance assertion that can pass or fail.
type Threshold struct {
	Metric    string  // e.g., "iteration_duration", "iterations", "ttfb_ms"
	Aggregate string  // e.g., "p95", "p99", "avg", "max", "rate"
	Operator  string  // e.g., "<", "<=", ">", ">=", "=="
	Value     float64 // The threshold value to compare against
	Raw       string  // Original threshold string for display
}

// Result represents the outcome of evaluating a threshold.
type Result struct {
	Threshold Threshold
	Actual    float64
	Pass      bool
	Message   string
}

// Evaluator evaluates thresholds against a run summary.
type Evaluator struct {
	thresholds []Threshold
}

// NewEvaluator creates a new threshold evaluator.
func NewEvaluator(thresholds []Threshold) *Evaluator {
	return &Evaluator{
		thresholds: thresholds,
	}
}

// Evaluate checks all thresholds against the summary.
func (e *Evaluator) Evaluate(summary metrics.Summary) []Result {
	if len(e.thresholds) == 0 {
		return nil
	}

	results := make([]Result, 0, len(e.thresholds))
	for _, t := range e.thresholds {
		results = append(results, e.evaluateOne(t, summary))
	}
	return results
}

// AllPassed reports whether every result passed.
func AllPassed(results []Result) bool {
	for _, r := range results {
		if !r.Pass {
			return false
		}
	}
	return true
}

func (e *Evaluator) evaluateOne(t Threshold, summary metrics.Summary) Result {
	actual, err := extractMetricValue(t, summary)
	if err != nil {
		return Result{
			Threshold: t,
			Pass:      false,
			Message:   fmt.Sprintf("✗ %s: error: %v", t.Raw, err),
		}
	}

	pass := compareValues(actual, t.Operator, t.Value)
	status := "✓"
	if !pass {
		status = "✗"
	}

	return Result{
		Threshold: t,
		Actual:    actual,
		Pass:      pass,
		Message:   fmt.Sprintf("%s %s: %.2f %s %.2f", status, t.Raw, actual, t.Operator, t.Value),
	}
}

var thresholdPattern = regexp.MustCompile(`^([A-Za-z][A-Za-z0-9_.\-]*):([a-z0-9_]+)\s*([<>=!]+)\s*(-?[0-9.]+)$`)

// Parse parses a threshold string into a Threshold struct.
// Supported formats:
// - "iteration_duration:p95 < 500"   (iteration duration percentile in ms)
// - "iteration_duration:avg < 200"   (average iteration duration in ms)
// - "iterations:success_rate > 0.99" (fraction of successful iterations)
// - "iterations:rate > 100"          (iterations per second)
// - "iterations_failed:count < 10"   (failed iterations)
// - "concurrency:max <= 50"          (peak in-flight iterations)
// - "dropped:count == 0"             (arrivals refused by the in-flight limit)
// - "ttfb_ms:p99 < 300"              (any recorded measurement)
func Parse(s string) (Threshold, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Threshold{}, fmt.Errorf("empty threshold string")
	}

	matches := thresholdPattern.FindStringSubmatch(s)
	if matches == nil {
		return Threshold{}, fmt.Errorf("invalid threshold format: %q (expected format: metric:aggregate operator value, e.g., 'iteration_duration:p95 < 500')", s)
	}

	metric := matches[1]
	aggregate := matches[2]
	operator := matches[3]
	valueStr := matches[4]

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return Threshold{}, fmt.Errorf("invalid threshold value %q: %v", valueStr, err)
	}

	if allowed, ok := runAggregates[metric]; ok {
		if !contains(allowed, aggregate) {
			return Threshold{}, fmt.Errorf("unsupported aggregate %q for %s (supported: %s)", aggregate, metric, strings.Join(allowed, ", "))
		}
	} else if !contains(metricAggregates, aggregate) {
		return Threshold{}, fmt.Errorf("unsupported aggregate: %q (supported: %s)", aggregate, strings.Join(metricAggregates, ", "))
	}

	if !contains(operators, operator) {
		return Threshold{}, fmt.Errorf("unsupported operator: %q (supported: <, <=, >, >=, ==)", operator)
	}

	return Threshold{
		Metric:    metric,
		Aggregate: aggregate,
		Operator:  operator,
		Value:     value,
		Raw:       s,
	}, nil
}

// ParseMultiple parses multiple threshold strings.
func ParseMultiple(thresholds []string) ([]Threshold, error) {
	if len(thresholds) == 0 {
		return nil, nil
	}

	result := make([]Threshold, 0, len(thresholds))
	var errors []string

	for i, s := range thresholds {
		t, err := Parse(s)
		if err != nil {
			errors = append(errors, fmt.Sprintf("threshold[%d]: %v", i, err))
			continue
		}
		result = append(result, t)
	}

	if len(errors) > 0 {
		return nil, fmt.Errorf("threshold parsing errors: %s", strings.Join(errors, "; "))
	}

	return result, nil
}

var (
	metricAggregates = []string{"p50", "p90", "p95", "p99", "avg", "mean", "min", "max", "count", "rate", "success_rate"}
	runAggregates    = map[string][]string{
		MetricIterations:       {"count", "rate", "success_rate", "failure_rate"},
		MetricIterationsFailed: {"count", "rate"},
		MetricConcurrency:      {"max"},
		MetricDropped:          {"count"},
	}
	operators = []string{"<", "<=", ">", ">=", "=="}
)

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func extractMetricValue(t Threshold, summary metrics.Summary) (float64, error) {
	iterations := summary.Iterations()
	switch t.Metric {
	case MetricIterations:
		switch t.Aggregate {
		case "count":
			return float64(iterations.Count), nil
		case "rate":
			return iterations.Rate, nil
		case "success_rate":
			return iterations.SuccessRate, nil
		case "failure_rate":
			return failureRate(iterations), nil
		}
	case MetricIterationsFailed:
		switch t.Aggregate {
		case "count":
			return float64(iterations.Failures), nil
		case "rate":
			return failureRate(iterations), nil
		}
	case MetricConcurrency:
		return float64(summary.PeakActive), nil
	case MetricDropped:
		return float64(summary.Dropped), nil
	default:
		m, ok := summary.Metrics[t.Metric]
		if !ok {
			return 0, fmt.Errorf("metric %q was not recorded", t.Metric)
		}
		return extractSummaryValue(t.Aggregate, m)
	}
	return 0, fmt.Errorf("unsupported aggregate %q for %s", t.Aggregate, t.Metric)
}

func failureRate(m metrics.MetricSummary) float64 {
	if m.Count == 0 {
		return 0
	}
	return float64(m.Failures) / float64(m.Count)
}

func extractSummaryValue(aggregate string, m metrics.MetricSummary) (float64, error) {
	switch aggregate {
	case "p50":
		return m.P50, nil
	case "p90":
		return m.P90, nil
	case "p95":
		return m.P95, nil
	case "p99":
		return m.P99, nil
	case "avg", "mean":
		return m.Mean, nil
	case "min":
		return m.Min, nil
	case "max":
		return m.Max, nil
	case "count":
		return float64(m.Count), nil
	case "rate":
		return m.Rate, nil
	case "success_rate":
		return m.SuccessRate, nil
	default:
		return 0, fmt.Errorf("unsupported aggregate %q", aggregate)
	}
}

func compareValues(actual float64, operator string, expected float64) bool {
	// Handle floating point comparison with small epsilon
	epsilon := 1e-9

	switch operator {
	case "<":
		return actual < expected
	case "<=":
		return actual <= expected || math.Abs(actual-expected) < epsilon
	case ">":
		return actual > expected
	case ">=":
		return actual >= expected || math.Abs(actual-expected) < epsilon
	case "==":
		return math.Abs(actual-expected) < epsilon
	default:
		return false
	}
}
