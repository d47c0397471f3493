package dashboard

import (
	"fmt"
	"strings"
	"sync"
	"time"

	ui "github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"

	"github.com/torosent/stampede/internal/loadpattern"
	"github.com/torosent/stampede/internal/metrics"
)

// RunConfig holds load test parameters for display.
type RunConfig struct {
	TargetURL  string        // Full target URL
	Method     string        // HTTP method
	Mode       string        // closed or open
	Users      int           // Virtual users in closed mode
	Rate       float64       // Arrivals per second in open mode
	Duration   time.Duration // Run duration (0 = pattern length or unlimited)
	Iterations int64         // Iteration budget (0 = unlimited)
	PerUser    int64         // Iterations per virtual user (0 = unlimited)
	Runs       int           // Entries in the run sequence
	Timeout    time.Duration // Request timeout
	Retries    int           // Number of retries
	ConfigFile string        // Path to config file if used
}

const historyLen = 100

// view owns the widgets and the state derived from snapshots. It does not
// touch the terminal, so it can be exercised without one.
type view struct {
	cfg RunConfig

	summaryPara  *widgets.Paragraph
	rateGauge    *widgets.Gauge
	metricsPara  *widgets.Paragraph
	durationLine *widgets.SparklineGroup
	durationPara *widgets.Paragraph
	activePlot   *widgets.Plot
	measurePara  *widgets.Paragraph
	failureList  *widgets.List

	durationHistory []float64
	activeHistory   []float64
	targetHistory   []float64
	peakRate        float64
}

func newView(cfg RunConfig) *view {
	v := &view{cfg: cfg}

	v.summaryPara = widgets.NewParagraph()
	v.summaryPara.Title = "Run"
	v.summaryPara.Text = "Initializing..."
	v.summaryPara.BorderStyle.Fg = ui.ColorCyan

	v.rateGauge = widgets.NewGauge()
	v.rateGauge.Title = "Iterations Per Second"
	v.rateGauge.BarColor = ui.ColorBlue
	v.rateGauge.BorderStyle.Fg = ui.ColorCyan
	v.rateGauge.LabelStyle = ui.NewStyle(ui.ColorWhite)

	v.metricsPara = widgets.NewParagraph()
	v.metricsPara.Title = "Iterations"
	v.metricsPara.Text = "Waiting for data..."
	v.metricsPara.BorderStyle.Fg = ui.ColorCyan

	sparkline := widgets.NewSparkline()
	sparkline.Title = "P50 (ms)"
	sparkline.LineColor = ui.ColorGreen
	sparkline.Data = []float64{0}
	v.durationLine = widgets.NewSparklineGroup(sparkline)
	v.durationLine.Title = "Iteration Duration"
	v.durationLine.BorderStyle.Fg = ui.ColorCyan

	v.durationPara = widgets.NewParagraph()
	v.durationPara.Title = "Duration Stats"
	v.durationPara.Text = "Min: 0ms\nMean: 0ms\nP50: 0ms\nP90: 0ms\nP99: 0ms"
	v.durationPara.BorderStyle.Fg = ui.ColorCyan

	v.activePlot = widgets.NewPlot()
	v.activePlot.Title = "Active / Target"
	v.activePlot.Data = [][]float64{{0, 0}, {0, 0}}
	v.activePlot.LineColors = []ui.Color{ui.ColorMagenta, ui.ColorWhite}
	v.activePlot.AxesColor = ui.ColorWhite
	v.activePlot.BorderStyle.Fg = ui.ColorCyan

	v.measurePara = widgets.NewParagraph()
	v.measurePara.Title = "Measurements"
	v.measurePara.Text = "No measurements"
	v.measurePara.TextStyle = ui.NewStyle(ui.ColorGreen)
	v.measurePara.BorderStyle.Fg = ui.ColorCyan

	v.failureList = widgets.NewList()
	v.failureList.Title = "Failures"
	v.failureList.Rows = []string{"[No failures](fg:green)"}
	v.failureList.TextStyle = ui.NewStyle(ui.ColorYellow)
	v.failureList.BorderStyle.Fg = ui.ColorCyan

	return v
}

func (v *view) grid(width, height int) *ui.Grid {
	grid := ui.NewGrid()
	grid.SetRect(0, 0, width, height)
	grid.Set(
		ui.NewRow(0.14,
			ui.NewCol(1.0, v.summaryPara),
		),
		ui.NewRow(0.2,
			ui.NewCol(0.5, v.rateGauge),
			ui.NewCol(0.5, v.metricsPara),
		),
		ui.NewRow(0.24,
			ui.NewCol(0.65, v.durationLine),
			ui.NewCol(0.35, v.durationPara),
		),
		ui.NewRow(0.22,
			ui.NewCol(0.5, v.activePlot),
			ui.NewCol(0.5, v.measurePara),
		),
		ui.NewRow(0.2,
			ui.NewCol(1.0, v.failureList),
		),
	)
	return grid
}

func appendBounded(history []float64, v float64) []float64 {
	history = append(history, v)
	if len(history) > historyLen {
		history = history[1:]
	}
	return history
}

// apply refreshes every widget from s.
func (v *view) apply(s metrics.Snapshot) {
	total := s.Iterations()
	window := s.Interval[metrics.IterationDuration]

	if window.Count > 0 {
		v.durationHistory = appendBounded(v.durationHistory, window.P50)
		v.durationLine.Sparklines[0].Data = v.durationHistory
		v.durationLine.Title = fmt.Sprintf(
			"Iteration Duration | P50: %.2fms | P99: %.2fms | Max: %.2fms",
			window.P50, window.P99, window.Max,
		)
	}

	v.activeHistory = appendBounded(v.activeHistory, float64(s.Active))
	v.targetHistory = appendBounded(v.targetHistory, s.Target)
	// The plot needs at least two points per series.
	if len(v.activeHistory) >= 2 {
		v.activePlot.Data = [][]float64{v.activeHistory, v.targetHistory}
	}
	v.activePlot.Title = fmt.Sprintf("Active %d / Target %.1f %s (peak %d)", s.Active, s.Target, s.TargetKind, s.PeakActive)

	rate := window.Rate
	if rate > v.peakRate {
		v.peakRate = rate
	}
	scale := v.peakRate
	if s.TargetKind == loadpattern.ArrivalRate.String() && s.Target > scale {
		scale = s.Target
	}
	if scale <= 0 {
		scale = 1
	}
	v.rateGauge.Percent = min(100, int(rate/scale*100))
	v.rateGauge.Label = fmt.Sprintf("%.1f/s", rate)

	successRate := total.SuccessRate * 100
	v.summaryPara.Text = fmt.Sprintf(
		"Target: %s\n%s\nState: %s | Elapsed: %s | Stage %d/%d | Success Rate: %.1f%%",
		v.cfg.TargetURL,
		v.formatParams(),
		s.State,
		s.Elapsed.Round(time.Second),
		s.Stage, max(1, s.Stages),
		successRate,
	)

	v.metricsPara.Text = fmt.Sprintf(
		"Iterations:   %d\nSuccessful:   %d\nFailed:       %d\nRate:         %.2f/s\nActive:       %d\nSpawned:      %d\nDropped:      %d",
		total.Count, total.Successes, total.Failures, rate, s.Active, s.Spawned, s.Dropped,
	)

	v.durationPara.Text = fmt.Sprintf(
		"Min:  %.2fms\nMean: %.2fms\nP50:  %.2fms\nP90:  %.2fms\nP99:  %.2fms",
		total.Min, total.Mean, total.P50, total.P90, total.P99,
	)

	v.measurePara.Text = formatMeasurements(s)
	v.failureList.Rows = formatFailureRows(s.Failures, 10)
}

func formatMeasurements(s metrics.Snapshot) string {
	names := s.Measurements()
	if len(names) == 0 {
		return "[No measurements](fg:green)"
	}
	lines := make([]string, 0, len(names))
	for _, name := range names {
		m := s.Metrics[name]
		lines = append(lines, fmt.Sprintf("[%s:](fg:cyan) mean %s | p99 %s | n=%d",
			name, formatValue(m.Mean), formatValue(m.P99), m.Count))
	}
	return strings.Join(lines, "\n")
}

func formatValue(v float64) string {
	if v > 1000 || v < -1000 {
		return fmt.Sprintf("%.0f", v)
	}
	return fmt.Sprintf("%.2f", v)
}

func formatFailureRows(failures map[string]int64, limit int) []string {
	rows := metrics.FlattenFailures(failures)
	if len(rows) == 0 {
		return []string{"[No failures](fg:green)"}
	}
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	formatted := make([]string, 0, len(rows))
	for _, row := range rows {
		formatted = append(formatted, fmt.Sprintf("[%s](fg:red) %d", row.Reason, row.Count))
	}
	return formatted
}

// formatParams formats the run configuration for display.
func (v *view) formatParams() string {
	var parts []string
	cfg := v.cfg

	if cfg.Method != "" && cfg.Method != "GET" {
		parts = append(parts, fmt.Sprintf("Method: %s", cfg.Method))
	}
	switch cfg.Mode {
	case "open":
		parts = append(parts, fmt.Sprintf("Open loop: %.1f/s", cfg.Rate))
	case "closed":
		parts = append(parts, fmt.Sprintf("Closed loop: %d users", cfg.Users))
	}
	if cfg.Duration > 0 {
		parts = append(parts, fmt.Sprintf("Duration: %s", cfg.Duration))
	}
	if cfg.Iterations > 0 {
		parts = append(parts, fmt.Sprintf("Iterations: %d", cfg.Iterations))
	}
	if cfg.PerUser > 0 {
		parts = append(parts, fmt.Sprintf("Per user: %d", cfg.PerUser))
	}
	if cfg.Runs > 1 {
		parts = append(parts, fmt.Sprintf("Runs: %d", cfg.Runs))
	}
	if cfg.Timeout > 0 {
		parts = append(parts, fmt.Sprintf("Timeout: %s", cfg.Timeout))
	}
	if cfg.Retries > 0 {
		parts = append(parts, fmt.Sprintf("Retries: %d", cfg.Retries))
	}
	if cfg.ConfigFile != "" {
		parts = append(parts, fmt.Sprintf("Config: %s", cfg.ConfigFile))
	}
	return strings.Join(parts, " | ")
}

// Dashboard renders a live terminal UI. It is a runner sink: snapshots are
// handed to the UI goroutine and never rendered on the caller's goroutine.
type Dashboard struct {
	view         *view
	grid         *ui.Grid
	shutdownFunc func()

	snapshots chan metrics.Snapshot
	stop      chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// New initializes the terminal. shutdownFunc is called when the user
// presses q or Ctrl-C.
func New(cfg RunConfig, shutdownFunc func()) (*Dashboard, error) {
	if err := ui.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize termui: %w", err)
	}

	v := newView(cfg)
	width, height := ui.TerminalDimensions()
	return &Dashboard{
		view:         v,
		grid:         v.grid(width, height),
		shutdownFunc: shutdownFunc,
		snapshots:    make(chan metrics.Snapshot, 1),
		stop:         make(chan struct{}),
	}, nil
}

func (d *Dashboard) String() string { return "dashboard" }

// Start begins the dashboard update loop.
func (d *Dashboard) Start() {
	d.wg.Add(1)
	go d.run()
}

// OnSnapshot hands s to the UI goroutine, replacing any snapshot that has
// not been drawn yet.
func (d *Dashboard) OnSnapshot(s metrics.Snapshot) error {
	for {
		select {
		case d.snapshots <- s:
			return nil
		case <-d.stop:
			return nil
		default:
		}
		select {
		case <-d.snapshots:
		default:
		}
	}
}

// OnRunEnd draws the final state. The dashboard stays up until Stop.
func (d *Dashboard) OnRunEnd(s metrics.Summary) error {
	return d.OnSnapshot(s.Snapshot)
}

// Stop stops the dashboard and restores the terminal.
func (d *Dashboard) Stop() {
	d.stopOnce.Do(func() {
		close(d.stop)
		d.wg.Wait()
		ui.Close()
	})
}

func (d *Dashboard) run() {
	defer d.wg.Done()

	uiEvents := ui.PollEvents()
	ui.Render(d.grid)

	for {
		select {
		case <-d.stop:
			return
		case e := <-uiEvents:
			switch e.ID {
			case "q", "<C-c>":
				if d.shutdownFunc != nil {
					d.shutdownFunc()
				}
				// Keep rendering; Stop ends the loop once the run drains.
			case "<Resize>":
				payload := e.Payload.(ui.Resize)
				d.grid.SetRect(0, 0, payload.Width, payload.Height)
				ui.Clear()
				ui.Render(d.grid)
			}
		case s := <-d.snapshots:
			d.view.apply(s)
			ui.Render(d.grid)
		}
	}
}
