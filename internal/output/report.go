package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/torosent/stampede/internal/metrics"
	"github.com/torosent/stampede/internal/threshold"
)

// Report is the structured form of a finished run.
type Report struct {
	Name       string                  `json:"name,omitempty" yaml:"name,omitempty"`
	Summary    metrics.Summary         `json:"summary" yaml:"summary"`
	Thresholds *ThresholdSummary       `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`
	Failures   []metrics.FailureBucket `json:"failure_breakdown,omitempty" yaml:"failure_breakdown,omitempty"`
}

// ThresholdSummary counts threshold results.
type ThresholdSummary struct {
	Total   int                   `json:"total" yaml:"total"`
	Passed  int                   `json:"passed" yaml:"passed"`
	Failed  int                   `json:"failed" yaml:"failed"`
	Results []ThresholdResultJSON `json:"results" yaml:"results"`
}

// ThresholdResultJSON is one threshold result in serializable form.
type ThresholdResultJSON struct {
	Threshold string  `json:"threshold" yaml:"threshold"`
	Metric    string  `json:"metric" yaml:"metric"`
	Aggregate string  `json:"aggregate" yaml:"aggregate"`
	Operator  string  `json:"operator" yaml:"operator"`
	Expected  float64 `json:"expected" yaml:"expected"`
	Actual    float64 `json:"actual" yaml:"actual"`
	Pass      bool    `json:"pass" yaml:"pass"`
}

// NewReport bundles a summary with its threshold results.
func NewReport(summary metrics.Summary, results []threshold.Result) Report {
	return Report{
		Summary:    summary,
		Thresholds: summarizeThresholds(results),
		Failures:   metrics.FlattenFailures(summary.Failures),
	}
}

func summarizeThresholds(results []threshold.Result) *ThresholdSummary {
	if len(results) == 0 {
		return nil
	}
	ts := &ThresholdSummary{
		Total:   len(results),
		Results: make([]ThresholdResultJSON, len(results)),
	}
	for i, tr := range results {
		ts.Results[i] = ThresholdResultJSON{
			Threshold: tr.Threshold.Raw,
			Metric:    tr.Threshold.Metric,
			Aggregate: tr.Threshold.Aggregate,
			Operator:  tr.Threshold.Operator,
			Expected:  tr.Threshold.Value,
			Actual:    tr.Actual,
			Pass:      tr.Pass,
		}
		if tr.Pass {
			ts.Passed++
		} else {
			ts.Failed++
		}
	}
	return ts
}

// PrintReport outputs a human-readable summary report.
func PrintReport(w io.Writer, r Report) {
	s := r.Summary
	it := s.Iterations()
	fmt.Fprintln(w, "\n--- Load Test Results ---")
	if r.Name != "" {
		fmt.Fprintf(w, "Run:               %s\n", r.Name)
	}
	fmt.Fprintf(w, "Run ID:            %s\n", s.RunID)
	fmt.Fprintf(w, "Stopped:           %s\n", s.StopReason)
	fmt.Fprintf(w, "Duration:          %s\n", s.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "Iterations:        %d\n", it.Count)
	fmt.Fprintf(w, "Successful:        %d\n", it.Successes)
	fmt.Fprintf(w, "Failed:            %d\n", it.Failures)
	fmt.Fprintf(w, "Iterations/sec:    %.2f\n", it.Rate)
	fmt.Fprintf(w, "Peak concurrency:  %d\n", s.PeakActive)
	if s.Dropped > 0 {
		fmt.Fprintf(w, "Dropped arrivals:  %d\n", s.Dropped)
	}
	if s.ForceCancelled > 0 {
		fmt.Fprintf(w, "Force cancelled:   %d\n", s.ForceCancelled)
	}

	fmt.Fprintln(w, "\nIteration Duration (ms):")
	writeMetric(w, it, "  ")

	if names := s.Measurements(); len(names) > 0 {
		fmt.Fprintln(w, "\nMeasurements:")
		for _, name := range names {
			fmt.Fprintf(w, "  %s:\n", name)
			writeMetric(w, s.Metrics[name], "    ")
		}
	}

	if len(r.Failures) > 0 {
		fmt.Fprintln(w, "\nFailures:")
		for _, row := range r.Failures {
			fmt.Fprintf(w, "  %s: %d\n", row.Reason, row.Count)
		}
	}

	if r.Thresholds != nil {
		fmt.Fprintf(w, "\nThresholds (%d/%d passed):\n", r.Thresholds.Passed, r.Thresholds.Total)
		for _, tr := range r.Thresholds.Results {
			status := "✓"
			if !tr.Pass {
				status = "✗"
			}
			fmt.Fprintf(w, "  %s %s: %.2f %s %.2f\n", status, tr.Threshold, tr.Actual, tr.Operator, tr.Expected)
		}
	}
}

func writeMetric(w io.Writer, m metrics.MetricSummary, indent string) {
	if m.Count == 0 {
		fmt.Fprintf(w, "%sNone\n", indent)
		return
	}
	fields := []struct {
		label string
		value float64
	}{
		{"Min", m.Min}, {"Mean", m.Mean}, {"P50", m.P50}, {"P90", m.P90},
		{"P95", m.P95}, {"P99", m.P99}, {"Max", m.Max},
	}
	for _, f := range fields {
		fmt.Fprintf(w, "%s%-6s %s\n", indent, f.label+":", formatFloat(f.value))
	}
}

func formatFloat(v float64) string {
	return strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%.3f", v), "0"), ".")
}

// PrintJSONReport outputs a JSON-formatted report.
func PrintJSONReport(w io.Writer, r Report) error {
	return printJSON(w, r)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printYAML(w io.Writer, v interface{}) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

// PrintYAMLReport outputs a YAML-formatted report.
func PrintYAMLReport(w io.Writer, r Report) error {
	return printYAML(w, r)
}

// Write renders r in the named format: "text", "json" or "yaml".
func Write(w io.Writer, format string, r Report) error {
	switch format {
	case "", "text":
		PrintReport(w, r)
		return nil
	case "json":
		return PrintJSONReport(w, r)
	case "yaml":
		return PrintYAMLReport(w, r)
	default:
		return fmt.Errorf("unknown report format %q", format)
	}
}

// WriteAll renders the reports of a run sequence. A single report is written
// exactly like Write; several become a JSON array, a YAML list or
// consecutive text reports.
func WriteAll(w io.Writer, format string, reports []Report) error {
	if len(reports) == 1 {
		return Write(w, format, reports[0])
	}
	switch format {
	case "", "text":
		for _, r := range reports {
			PrintReport(w, r)
		}
		return nil
	case "json":
		return printJSON(w, reports)
	case "yaml":
		return printYAML(w, reports)
	default:
		return fmt.Errorf("unknown report format %q", format)
	}
}
