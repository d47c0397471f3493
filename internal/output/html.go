package output

import (
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/torosent/stampede/internal/metrics"
	"github.com/torosent/stampede/internal/threshold"
)

// HTMLReportData contains all data needed for the HTML report template.
type HTMLReportData struct {
	GeneratedAt      string
	Summary          metrics.Summary
	Iterations       metrics.MetricSummary
	Measurements     []NamedMetric
	Failures         []metrics.FailureBucket
	ThresholdSummary *ThresholdSummary
	HistoryJSON      string
	HasHistory       bool
	Metadata         ReportMetadata
}

// NamedMetric pairs a measurement name with its summary.
type NamedMetric struct {
	Name string
	metrics.MetricSummary
}

// ReportMetadata contains configuration information about the test run.
type ReportMetadata struct {
	TargetURL string
	Method    string
	Mode      string
}

// GenerateHTMLReport generates a standalone HTML report with embedded charts
// drawn from the run timeline in summary.History.
func GenerateHTMLReport(w io.Writer, summary metrics.Summary, thresholdResults []threshold.Result, metadata ReportMetadata) error {
	history := summary.History
	if history == nil {
		history = []metrics.DataPoint{}
	}
	historyJSON, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}

	names := summary.Measurements()
	measurements := make([]NamedMetric, 0, len(names))
	for _, name := range names {
		measurements = append(measurements, NamedMetric{Name: name, MetricSummary: summary.Metrics[name]})
	}

	data := HTMLReportData{
		GeneratedAt:      time.Now().Format(time.RFC3339),
		Summary:          summary,
		Iterations:       summary.Iterations(),
		Measurements:     measurements,
		Failures:         metrics.FlattenFailures(summary.Failures),
		ThresholdSummary: summarizeThresholds(thresholdResults),
		HistoryJSON:      string(historyJSON),
		HasHistory:       len(history) > 0,
		Metadata:         metadata,
	}

	tmpl, err := template.New("report").Funcs(template.FuncMap{
		"formatDuration": func(d time.Duration) string {
			return d.Round(time.Millisecond).String()
		},
		"formatFloat": func(f float64) string {
			return fmt.Sprintf("%.2f", f)
		},
		"formatPercent": func(part, total int64) string {
			if total == 0 {
				return "0.0"
			}
			return fmt.Sprintf("%.1f", (float64(part)/float64(total))*100)
		},
	}).Parse(htmlTemplate)
	if err != nil {
		return fmt.Errorf("failed to parse template: %w", err)
	}

	if err := tmpl.Execute(w, data); err != nil {
		return fmt.Errorf("failed to execute template: %w", err)
	}

	return nil
}

const htmlTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Stampede Load Test Report</title>
    <style>
        * {
            margin: 0;
            padding: 0;
            box-sizing: border-box;
        }
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, 'Helvetica Neue', Arial, sans-serif;
            background: #f5f7fa;
            color: #2c3e50;
            line-height: 1.6;
            padding: 20px;
        }
        .container {
            max-width: 1400px;
            margin: 0 auto;
            background: white;
            border-radius: 8px;
            box-shadow: 0 2px 8px rgba(0,0,0,0.1);
            overflow: hidden;
        }
        header {
            background: linear-gradient(135deg, #667eea 0%, #764ba2 100%);
            color: white;
            padding: 30px 40px;
        }
        header h1 {
            font-size: 2rem;
            margin-bottom: 10px;
        }
        header .meta {
            opacity: 0.9;
            font-size: 0.9rem;
        }
        .content {
            padding: 40px;
        }
        .grid {
            display: grid;
            grid-template-columns: repeat(auto-fit, minmax(250px, 1fr));
            gap: 20px;
            margin-bottom: 40px;
        }
        .card {
            background: #f8f9fa;
            border-radius: 8px;
            padding: 20px;
            border-left: 4px solid #667eea;
        }
        .card h3 {
            font-size: 0.9rem;
            color: #6c757d;
            text-transform: uppercase;
            letter-spacing: 0.5px;
            margin-bottom: 10px;
        }
        .card .value {
            font-size: 2rem;
            font-weight: bold;
            color: #2c3e50;
        }
        .card .subvalue {
            font-size: 0.85rem;
            color: #6c757d;
            margin-top: 5px;
        }
        .card.success {
            border-left-color: #10b981;
        }
        .card.error {
            border-left-color: #ef4444;
        }
        .card.warning {
            border-left-color: #f59e0b;
        }
        .section {
            margin-bottom: 40px;
        }
        .section h2 {
            font-size: 1.5rem;
            margin-bottom: 20px;
            padding-bottom: 10px;
            border-bottom: 2px solid #e5e7eb;
        }
        .chart-container {
            background: white;
            border-radius: 8px;
            padding: 20px;
            margin-bottom: 30px;
            border: 1px solid #e5e7eb;
        }
        .chart-container h3 {
            font-size: 1.1rem;
            margin-bottom: 15px;
            color: #4b5563;
        }
        .chart {
            width: 100%;
            height: 300px;
        }
        table {
            width: 100%;
            border-collapse: collapse;
            background: white;
        }
        th, td {
            text-align: left;
            padding: 12px;
            border-bottom: 1px solid #e5e7eb;
        }
        th {
            background: #f8f9fa;
            font-weight: 600;
            color: #4b5563;
            font-size: 0.9rem;
            text-transform: uppercase;
            letter-spacing: 0.5px;
        }
        tr:hover {
            background: #f8f9fa;
        }
        .badge {
            display: inline-block;
            padding: 4px 12px;
            border-radius: 12px;
            font-size: 0.85rem;
            font-weight: 600;
        }
        .badge-success {
            background: #d1fae5;
            color: #065f46;
        }
        .badge-error {
            background: #fee2e2;
            color: #991b1b;
        }
        .latency-grid {
            display: grid;
            grid-template-columns: repeat(auto-fit, minmax(150px, 1fr));
            gap: 15px;
            margin-top: 20px;
        }
        .latency-item {
            background: #f8f9fa;
            padding: 15px;
            border-radius: 6px;
            text-align: center;
        }
        .latency-item .label {
            font-size: 0.85rem;
            color: #6c757d;
            margin-bottom: 5px;
        }
        .latency-item .value {
            font-size: 1.3rem;
            font-weight: bold;
            color: #2c3e50;
        }
        .no-data {
            text-align: center;
            padding: 40px;
            color: #6c757d;
            font-style: italic;
        }
    </style>
    <script src="https://cdn.jsdelivr.net/npm/uplot@1.6.24/dist/uPlot.iife.min.js"></script>
    <link rel="stylesheet" href="https://cdn.jsdelivr.net/npm/uplot@1.6.24/dist/uPlot.min.css">
</head>
<body>
    <div class="container">
        <header>
            <h1>Stampede Load Test Report</h1>
            {{if .Metadata.TargetURL}}
            <div class="meta" style="margin-top: 5px;">Target: {{if .Metadata.Method}}{{.Metadata.Method}} {{end}}<a href="{{.Metadata.TargetURL}}" style="color: white; text-decoration: underline;">{{.Metadata.TargetURL}}</a></div>
            {{end}}
            <div class="meta">Run {{.Summary.RunID}} | {{if .Metadata.Mode}}{{.Metadata.Mode}} mode | {{end}}Generated: {{.GeneratedAt}} | Duration: {{formatDuration .Summary.Duration}} | Stopped: {{.Summary.StopReason}}</div>
        </header>
        
        <div class="content">
            <!-- Summary Cards -->
            <div class="grid">
                <div class="card">
                    <h3>Iterations</h3>
                    <div class="value">{{.Iterations.Count}}</div>
                </div>
                <div class="card success">
                    <h3>Successful</h3>
                    <div class="value">{{.Iterations.Successes}}</div>
                    <div class="subvalue">{{formatPercent .Iterations.Successes .Iterations.Count}}%</div>
                </div>
                <div class="card error">
                    <h3>Failed</h3>
                    <div class="value">{{.Iterations.Failures}}</div>
                    <div class="subvalue">{{formatPercent .Iterations.Failures .Iterations.Count}}%</div>
                </div>
                <div class="card">
                    <h3>Iterations/sec</h3>
                    <div class="value">{{formatFloat .Iterations.Rate}}</div>
                </div>
                <div class="card warning">
                    <h3>Peak Concurrency</h3>
                    <div class="value">{{.Summary.PeakActive}}</div>
                    {{if .Summary.Dropped}}<div class="subvalue">{{.Summary.Dropped}} arrivals dropped</div>{{end}}
                </div>
            </div>

            <!-- Charts Section -->
            {{if .HasHistory}}
            <div class="section">
                <h2>Performance Over Time</h2>

                <div class="chart-container">
                    <h3>Iterations Per Second</h3>
                    <div id="rate-chart" class="chart"></div>
                </div>

                <div class="chart-container">
                    <h3>Iteration Duration Percentiles (ms)</h3>
                    <div id="latency-chart" class="chart"></div>
                </div>

                <div class="chart-container">
                    <h3>Concurrency</h3>
                    <div id="concurrency-chart" class="chart"></div>
                </div>
            </div>
            {{end}}

            <!-- Duration Statistics -->
            <div class="section">
                <h2>Iteration Duration (ms)</h2>
                <div class="latency-grid">
                    <div class="latency-item">
                        <div class="label">Min</div>
                        <div class="value">{{formatFloat .Iterations.Min}}</div>
                    </div>
                    <div class="latency-item">
                        <div class="label">Max</div>
                        <div class="value">{{formatFloat .Iterations.Max}}</div>
                    </div>
                    <div class="latency-item">
                        <div class="label">Mean</div>
                        <div class="value">{{formatFloat .Iterations.Mean}}</div>
                    </div>
                    <div class="latency-item">
                        <div class="label">P50</div>
                        <div class="value">{{formatFloat .Iterations.P50}}</div>
                    </div>
                    <div class="latency-item">
                        <div class="label">P90</div>
                        <div class="value">{{formatFloat .Iterations.P90}}</div>
                    </div>
                    <div class="latency-item">
                        <div class="label">P95</div>
                        <div class="value">{{formatFloat .Iterations.P95}}</div>
                    </div>
                    <div class="latency-item">
                        <div class="label">P99</div>
                        <div class="value">{{formatFloat .Iterations.P99}}</div>
                    </div>
                </div>
            </div>

            <!-- Thresholds -->
            {{if .ThresholdSummary}}
            <div class="section">
                <h2>Thresholds ({{.ThresholdSummary.Passed}}/{{.ThresholdSummary.Total}} Passed)</h2>
                <table>
                    <thead>
                        <tr>
                            <th>Threshold</th>
                            <th>Metric</th>
                            <th>Expected</th>
                            <th>Actual</th>
                            <th>Status</th>
                        </tr>
                    </thead>
                    <tbody>
                        {{range .ThresholdSummary.Results}}
                        <tr>
                            <td>{{.Threshold}}</td>
                            <td>{{.Metric}} ({{.Aggregate}})</td>
                            <td>{{.Operator}} {{formatFloat .Expected}}</td>
                            <td>{{formatFloat .Actual}}</td>
                            <td>
                                {{if .Pass}}
                                <span class="badge badge-success">✓ PASS</span>
                                {{else}}
                                <span class="badge badge-error">✗ FAIL</span>
                                {{end}}
                            </td>
                        </tr>
                        {{end}}
                    </tbody>
                </table>
            </div>
            {{end}}

            <!-- Measurements -->
            {{if .Measurements}}
            <div class="section">
                <h2>Measurements</h2>
                <table>
                    <thead>
                        <tr>
                            <th>Name</th>
                            <th>Count</th>
                            <th>Mean</th>
                            <th>P50</th>
                            <th>P95</th>
                            <th>P99</th>
                            <th>Max</th>
                        </tr>
                    </thead>
                    <tbody>
                        {{range .Measurements}}
                        <tr>
                            <td><strong>{{.Name}}</strong></td>
                            <td>{{.Count}}</td>
                            <td>{{formatFloat .Mean}}</td>
                            <td>{{formatFloat .P50}}</td>
                            <td>{{formatFloat .P95}}</td>
                            <td>{{formatFloat .P99}}</td>
                            <td>{{formatFloat .Max}}</td>
                        </tr>
                        {{end}}
                    </tbody>
                </table>
            </div>
            {{end}}

            <!-- Failure Breakdown -->
            {{if .Failures}}
            <div class="section">
                <h2>Failure Breakdown</h2>
                <table>
                    <thead>
                        <tr>
                            <th>Reason</th>
                            <th>Count</th>
                            <th>Share</th>
                        </tr>
                    </thead>
                    <tbody>
                        {{range .Failures}}
                        <tr>
                            <td>{{.Reason}}</td>
                            <td>{{.Count}}</td>
                            <td>{{formatPercent .Count $.Iterations.Count}}%</td>
                        </tr>
                        {{end}}
                    </tbody>
                </table>
            </div>
            {{end}}
        </div>
    </div>

    {{if .HasHistory}}
    <script>
        const history = JSON.parse({{.HistoryJSON}});

        if (history && history.length > 0) {
            const seconds = history.map(d => d.elapsed_ms / 1000);

            function chart(id, title, yLabel, series, data) {
                const el = document.getElementById(id);
                new uPlot({
                    title: title,
                    width: el.offsetWidth,
                    height: 300,
                    scales: { x: { time: false } },
                    series: [{ label: "Time (s)" }].concat(series),
                    axes: [
                        { label: "Time (seconds)" },
                        { label: yLabel }
                    ]
                }, [seconds].concat(data), el);
            }

            chart('rate-chart', "Iterations Per Second", "Iterations/sec",
                [{ label: "Rate", stroke: "#667eea", fill: "rgba(102, 126, 234, 0.1)", width: 2 }],
                [history.map(d => d.iterations_per_sec)]);

            chart('latency-chart', "Iteration Duration Percentiles", "Duration (ms)",
                [
                    { label: "P50", stroke: "#10b981", width: 2 },
                    { label: "P95", stroke: "#f59e0b", width: 2 },
                    { label: "P99", stroke: "#ef4444", width: 2 }
                ],
                [history.map(d => d.p50_ms), history.map(d => d.p95_ms), history.map(d => d.p99_ms)]);

            chart('concurrency-chart', "Concurrency", "In flight",
                [
                    { label: "Active", stroke: "#764ba2", width: 2 },
                    { label: "Target", stroke: "#9ca3af", dash: [5, 5], width: 1 }
                ],
                [history.map(d => d.active_concurrency), history.map(d => d.target)]);
        }
    </script>
    {{end}}
</body>
</html>
`
