package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"
	"unicode"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/torosent/stampede/internal/config"
	"github.com/torosent/stampede/internal/dashboard"
	"github.com/torosent/stampede/internal/loadpattern"
	"github.com/torosent/stampede/internal/logging"
	"github.com/torosent/stampede/internal/metrics"
	"github.com/torosent/stampede/internal/output"
	"github.com/torosent/stampede/internal/promsink"
	"github.com/torosent/stampede/internal/runner"
	"github.com/torosent/stampede/internal/scenario"
	"github.com/torosent/stampede/internal/threshold"
	"github.com/torosent/stampede/internal/tracing"
	"github.com/torosent/stampede/internal/webdash"
)

const (
	baseRetryDelay  = 100 * time.Millisecond
	maxRetryDelay   = 5 * time.Second
	failureLogRate  = 10
	shutdownTimeout = 5 * time.Second
)

// errThresholdsFailed makes the process exit with thresholdExitCode.
var errThresholdsFailed = errors.New("thresholds failed")

const thresholdExitCode = 2

type jitterSource struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if errors.Is(err, errThresholdsFailed) {
			os.Exit(thresholdExitCode)
		}
		os.Exit(1)
	}
}

func run(parent context.Context, args []string, stdout io.Writer) error {
	loader := config.NewLoader()
	cfg, err := loader.Load(args)
	if err != nil {
		if errors.Is(err, config.ErrHelpRequested) {
			return nil
		}
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	thresholds, err := threshold.ParseMultiple(cfg.Thresholds)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	seq := cfg.Sequence()
	patterns := make([]loadpattern.Pattern, len(seq))
	session := tracing.Session{RunIDs: make([]string, len(seq))}
	for i := range seq {
		if patterns[i], err = seq[i].BuildPattern(); err != nil {
			return runError(seq[i], err)
		}
		session.RunIDs[i] = ulid.Make().String()
		if seq[i].RunName != "" {
			session.RunNames = append(session.RunNames, seq[i].RunName)
		}
	}

	provider, err := tracing.Init(ctx, cfg.Tracing, session)
	if err != nil {
		return err
	}
	// Set once the web dashboard is listening; both are released on every
	// return path.
	var web *webdash.Server
	defer func() {
		if err := shutdown(web, provider); err != nil {
			logger.Warn("shutdown", zap.Error(err))
		}
	}()
	var tracer trace.Tracer
	if cfg.Tracing.Enabled() {
		tracer = provider.Tracer()
	}

	httpScenario, err := scenario.FromConfig(cfg, tracer, provider.ShouldPropagate(), logger)
	if err != nil {
		return err
	}
	sc := wrapScenario(cfg, httpScenario, tracer, logger)

	var sinks []runner.Sink
	var dash *dashboard.Dashboard
	switch {
	case cfg.Dashboard:
		dash, err = dashboard.New(dashboardConfig(cfg), cancel)
		if err != nil {
			return err
		}
		dash.Start()
		defer dash.Stop()
		sinks = append(sinks, dash)
	case cfg.Format == config.FormatText || cfg.ReportFile != "":
		sinks = append(sinks, output.NewProgressReporter(stdout))
	}
	if cfg.LogFormat == "json" {
		sinks = append(sinks, output.NewLogSink(logger))
	}

	if cfg.WebAddr != "" {
		prom := promsink.New()
		web = webdash.New(cfg.WebAddr, prom.Registry(), logger)
		if err := web.Start(); err != nil {
			return err
		}
		sinks = append(sinks, prom, web)
	}

	var completed []completedRun
	for i := range seq {
		rc := &seq[i]
		opts := runOptions(rc, patterns[i], sc, sinks, logger)
		opts.RunID = session.RunIDs[i]
		executor, err := runner.New(opts)
		if err != nil {
			return runError(*rc, err)
		}
		if rc.RunName != "" {
			logger.Info("starting run", zap.String("run", rc.RunName), zap.Int("index", i+1), zap.Int("runs", len(seq)))
		}

		summary, runErr := executor.Run(ctx)
		var timeoutErr *runner.CancellationTimeout
		switch {
		case runErr == nil:
		case errors.As(runErr, &timeoutErr):
			logger.Warn("drain timeout expired", zap.Int64("force_cancelled", timeoutErr.Cancelled))
		default:
			return runError(*rc, runErr)
		}
		completed = append(completed, completedRun{
			cfg:     rc,
			summary: summary,
			results: threshold.NewEvaluator(thresholds).Evaluate(summary),
		})

		// A cancelled or aborted run ends the whole sequence.
		if summary.Cancelled && i < len(seq)-1 {
			logger.Warn("run sequence stopped",
				zap.String("reason", summary.StopReason),
				zap.Int("skipped", len(seq)-i-1),
			)
			break
		}
	}
	if dash != nil {
		dash.Stop()
	}

	if err := writeReports(cfg, stdout, completed); err != nil {
		return err
	}

	failed, total := 0, 0
	for _, c := range completed {
		for _, r := range c.results {
			total++
			if !r.Pass {
				failed++
			}
		}
	}
	if failed > 0 {
		return fmt.Errorf("%w: %d of %d", errThresholdsFailed, failed, total)
	}
	return nil
}

// completedRun is one finished entry of the run sequence.
type completedRun struct {
	cfg     *config.Config
	summary metrics.Summary
	results []threshold.Result
}

func runError(rc config.Config, err error) error {
	if rc.RunName == "" {
		return err
	}
	return fmt.Errorf("run %s: %w", rc.RunName, err)
}

func runOptions(rc *config.Config, pattern loadpattern.Pattern, sc runner.Scenario, sinks []runner.Sink, logger *zap.Logger) runner.Options {
	if rc.RunName != "" {
		logger = logger.With(zap.String("run", rc.RunName))
	}
	return runner.Options{
		Pattern:           pattern,
		Scenario:          sc,
		Duration:          rc.Duration,
		MaxIterations:     rc.Iterations,
		IterationsPerUser: rc.IterationsPerUser,
		TickInterval:      rc.TickInterval,
		ReportInterval:    rc.ReportInterval,
		DrainTimeout:      rc.DrainTimeout,
		MaxInFlight:       rc.MaxInFlight,
		ArrivalModel:      toRunnerArrivalModel(rc),
		RandomSeed:        rc.Arrival.Seed,
		Sinks:             sinks,
		Logger:            logger,
	}
}

// wrapScenario layers retries, failure logging and iteration spans around
// the HTTP scenario. Retries are innermost so only the final failure of an
// iteration is logged.
func wrapScenario(cfg *config.Config, sc runner.Scenario, tracer trace.Tracer, logger *zap.Logger) runner.Scenario {
	name := "iteration"
	if named, ok := sc.(interface{ Name() string }); ok {
		name = named.Name()
	}
	if cfg.Retries > 0 {
		sc = runner.WithRetry(sc, newRetryPolicy(cfg.Retries))
	}
	if cfg.LogErrors {
		sc = runner.WithLogging(sc, runner.NewZapFailureLogger(logger, failureLogRate))
	}
	if tracer != nil {
		sc = runner.WithTracing(sc, tracer, name)
	}
	return sc
}

func shutdown(web *webdash.Server, provider *tracing.Provider) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	if web != nil {
		g.Go(func() error { return web.Shutdown(gctx) })
	}
	g.Go(func() error { return provider.Shutdown(gctx) })
	return g.Wait()
}

func writeReports(cfg *config.Config, stdout io.Writer, completed []completedRun) error {
	reports := make([]output.Report, len(completed))
	for i, c := range completed {
		reports[i] = output.NewReport(c.summary, c.results)
		reports[i].Name = c.cfg.RunName
	}
	render := func(w io.Writer) error { return output.WriteAll(w, string(cfg.Format), reports) }

	if cfg.ReportFile != "" {
		if err := output.WriteFile(context.Background(), cfg.ReportFile, render); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
		fmt.Fprintf(stdout, "Report written to %s\n", cfg.ReportFile)
	} else if err := render(stdout); err != nil {
		return err
	}

	if cfg.HTMLOutput == "" {
		return nil
	}
	for _, c := range completed {
		path := cfg.HTMLOutput
		if len(completed) > 1 {
			path = htmlPathForRun(path, c.cfg.RunName)
		}
		meta := output.ReportMetadata{TargetURL: cfg.TargetURL, Method: cfg.Method, Mode: string(c.cfg.Mode)}
		err := output.WriteFile(context.Background(), path, func(w io.Writer) error {
			return output.GenerateHTMLReport(w, c.summary, c.results, meta)
		})
		if err != nil {
			return fmt.Errorf("write HTML report: %w", err)
		}
		fmt.Fprintf(stdout, "HTML report written to %s\n", path)
	}
	return nil
}

// htmlPathForRun inserts the run name before the extension:
// report.html becomes report-warmup.html.
func htmlPathForRun(path, run string) string {
	safe := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' {
			return r
		}
		return '_'
	}, run)
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "-" + safe + ext
}

func dashboardConfig(cfg *config.Config) dashboard.RunConfig {
	return dashboard.RunConfig{
		TargetURL:  cfg.TargetURL,
		Method:     cfg.Method,
		Mode:       string(cfg.Mode),
		Users:      cfg.Users,
		Rate:       cfg.Rate,
		Duration:   cfg.Duration,
		Iterations: cfg.Iterations,
		PerUser:    cfg.IterationsPerUser,
		Runs:       len(cfg.Sequence()),
		Timeout:    cfg.Timeout,
		Retries:    cfg.Retries,
		ConfigFile: cfg.ConfigFile,
	}
}

// toRunnerArrivalModel only shapes open-loop runs; closed loops stay
// uniform so the executor does not reject the default.
func toRunnerArrivalModel(cfg *config.Config) runner.ArrivalModel {
	if cfg.Mode != config.ModeOpen {
		return runner.ArrivalModelUniform
	}
	switch cfg.Arrival.Model {
	case config.ArrivalModelPoisson:
		return runner.ArrivalModelPoisson
	default:
		return runner.ArrivalModelUniform
	}
}

func newRetryPolicy(retries int) runner.RetryPolicy {
	source := &jitterSource{rnd: rand.New(rand.NewSource(time.Now().UnixNano()))}

	return runner.RetryPolicy{
		MaxAttempts: retries + 1,
		ShouldRetry: scenario.Retryable,
		DelayFunc: func(attempt int, err error) time.Duration {
			if attempt < 1 {
				attempt = 1
			}
			backoff := time.Duration(1<<uint(attempt-1)) * baseRetryDelay
			if backoff > maxRetryDelay {
				backoff = maxRetryDelay
			}
			return backoff + source.jitter(backoff/2)
		},
	}
}

func (j *jitterSource) jitter(max time.Duration) time.Duration {
	if j == nil || max <= 0 {
		return 0
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return time.Duration(j.rnd.Int63n(int64(max)))
}
