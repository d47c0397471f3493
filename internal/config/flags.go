package config

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// RegisterFlags registers all CLI flags to a cobra command.
func RegisterFlags(cmd *cobra.Command) {
	configureFlags(cmd.Flags())
}

// newFlagCommand creates a cobra command with all flags configured.
func newFlagCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "stampede",
		Short:         "Drive a scenario under a load profile and report latency quantiles",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.SetOut(os.Stdout)
	configureFlags(cmd.Flags())
	return cmd
}

func configureFlags(flags *pflag.FlagSet) {
	// Scenario
	flags.String("target", "", "Target URL to load test")
	flags.String("method", "GET", "HTTP method to use")
	flags.StringSlice("header", nil, "Additional request header in key=value form")
	flags.String("body", "", "Inline request body payload")
	flags.String("body-file", "", "Path to file containing the request body")
	flags.Duration("timeout", 30*time.Second, "Per-iteration timeout")
	flags.Int("retries", 0, "Number of retries per iteration")
	flags.StringSlice("measure", nil, "Numeric measurement from the JSON response in name=json.path form (repeatable)")
	flags.String("feeder-path", "", "CSV or JSON file whose rows fill {{field}} placeholders per iteration")
	flags.String("feeder-type", "", "Feeder file type: csv or json (defaults to the file extension)")
	flags.Bool("feeder-once", false, "Stop the run once every feeder row has been used")

	// Load profile
	flags.String("mode", string(ModeClosed), "Load mode: closed (concurrent users) or open (arrival rate)")
	flags.IntP("users", "u", 1, "Concurrent virtual users in closed mode")
	flags.Float64P("rate", "r", 0, "Iterations per second in open mode")
	flags.DurationP("duration", "d", 0, "How long to run (e.g. 30s, 1m); 0 follows the load pattern or runs until interrupted")
	flags.Int64P("iterations", "n", 0, "Total iterations across all users (0 means unlimited)")
	flags.Int64("iterations-per-user", 0, "Closed mode: each user runs exactly this many iterations, then the run ends (0 means unlimited)")
	flags.Duration("tick", 0, "Scheduler tick interval (0 uses the default)")
	flags.Duration("report-interval", 0, "Snapshot interval for live sinks (0 uses the default)")
	flags.Duration("drain-timeout", 0, "Max time to wait for in-flight iterations after the run ends (0 uses the default)")
	flags.Int("max-in-flight", 0, "Open mode overload backstop: drop arrivals above this many in flight (0 means unbounded)")
	flags.String("arrival-model", string(ArrivalModelUniform), "Arrival model for open mode (uniform or poisson)")
	flags.Int64("seed", 0, "Random seed for the poisson arrival model (0 picks one)")

	// Output
	flags.String("format", string(FormatText), "Final report format: text, json or yaml")
	flags.String("report-file", "", "Write the final report to this file instead of stdout")
	flags.String("html-output", "", "Generate HTML report to the specified file path")
	flags.Bool("dashboard", false, "Show live terminal dashboard with metrics")
	flags.String("web-addr", "", "Serve a live web dashboard and /metrics on this address (e.g. :8089)")
	flags.StringSlice("threshold", nil, "Pass/fail thresholds (repeatable, e.g. 'iteration_duration:p95 < 500')")
	flags.String("config", "", "Path to configuration file (JSON or YAML)")

	// Logging
	flags.String("log-level", "info", "Log level: debug, info, warn or error")
	flags.String("log-format", "console", "Log format: console or json")
	flags.Bool("log-errors", false, "Log each failed iteration (rate limited)")

	// Tracing
	flags.String("otlp-endpoint", "", "OTLP collector endpoint for iteration spans")
	flags.String("otlp-protocol", "grpc", "OTLP protocol: grpc or http")
	flags.Bool("otlp-insecure", false, "Disable TLS for the OTLP exporter")
	flags.Float64("trace-sample-rate", 0, "Fraction of iterations to trace (0 traces all)")
}

// displayHelp prints the help message for a command.
func displayHelp(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s\n\nUsage: %s\n\nFlags:\n", cmd.Short, cmd.UseLine())
	fs := cmd.Flags()
	fs.SetOutput(out)
	fs.PrintDefaults()
}

// applyFlagOverrides applies command-line flag values to the config, overriding
// values from the config file.
func applyFlagOverrides(cfg *Config, fs *pflag.FlagSet) error {
	if fs.Changed("target") {
		val, err := fs.GetString("target")
		if err != nil {
			return err
		}
		cfg.TargetURL = strings.TrimSpace(val)
	}
	if fs.Changed("method") {
		val, err := fs.GetString("method")
		if err != nil {
			return err
		}
		cfg.Method = val
	}
	if fs.Changed("body") {
		val, err := fs.GetString("body")
		if err != nil {
			return err
		}
		cfg.Body = val
		cfg.BodyFile = ""
	}
	if fs.Changed("body-file") {
		val, err := fs.GetString("body-file")
		if err != nil {
			return err
		}
		cfg.BodyFile = val
		cfg.Body = ""
	}
	if fs.Changed("timeout") {
		val, err := fs.GetDuration("timeout")
		if err != nil {
			return err
		}
		cfg.Timeout = val
	}
	if fs.Changed("retries") {
		val, err := fs.GetInt("retries")
		if err != nil {
			return err
		}
		cfg.Retries = val
	}
	if fs.Changed("measure") {
		vals, err := fs.GetStringSlice("measure")
		if err != nil {
			return err
		}
		cfg.Measures = nil
		for _, entry := range vals {
			m, err := parseMeasure(entry)
			if err != nil {
				return err
			}
			cfg.Measures = append(cfg.Measures, m)
		}
	}

	if fs.Changed("feeder-path") {
		val, err := fs.GetString("feeder-path")
		if err != nil {
			return err
		}
		cfg.Feeder.Path = strings.TrimSpace(val)
	}
	if fs.Changed("feeder-type") {
		val, err := fs.GetString("feeder-type")
		if err != nil {
			return err
		}
		cfg.Feeder.Type = strings.TrimSpace(val)
	}
	if fs.Changed("feeder-once") {
		val, err := fs.GetBool("feeder-once")
		if err != nil {
			return err
		}
		cfg.Feeder.Once = val
	}

	if fs.Changed("mode") {
		val, err := fs.GetString("mode")
		if err != nil {
			return err
		}
		cfg.Mode = Mode(strings.ToLower(strings.TrimSpace(val)))
	}
	if fs.Changed("users") {
		val, err := fs.GetInt("users")
		if err != nil {
			return err
		}
		cfg.Users = val
	}
	if fs.Changed("rate") {
		val, err := fs.GetFloat64("rate")
		if err != nil {
			return err
		}
		cfg.Rate = val
	}
	if fs.Changed("duration") {
		val, err := fs.GetDuration("duration")
		if err != nil {
			return err
		}
		cfg.Duration = val
	}
	if fs.Changed("iterations") {
		val, err := fs.GetInt64("iterations")
		if err != nil {
			return err
		}
		cfg.Iterations = val
	}
	if fs.Changed("iterations-per-user") {
		val, err := fs.GetInt64("iterations-per-user")
		if err != nil {
			return err
		}
		cfg.IterationsPerUser = val
	}
	if fs.Changed("tick") {
		val, err := fs.GetDuration("tick")
		if err != nil {
			return err
		}
		cfg.TickInterval = val
	}
	if fs.Changed("report-interval") {
		val, err := fs.GetDuration("report-interval")
		if err != nil {
			return err
		}
		cfg.ReportInterval = val
	}
	if fs.Changed("drain-timeout") {
		val, err := fs.GetDuration("drain-timeout")
		if err != nil {
			return err
		}
		cfg.DrainTimeout = val
	}
	if fs.Changed("max-in-flight") {
		val, err := fs.GetInt("max-in-flight")
		if err != nil {
			return err
		}
		cfg.MaxInFlight = val
	}
	if fs.Changed("arrival-model") {
		val, err := fs.GetString("arrival-model")
		if err != nil {
			return err
		}
		cfg.Arrival.Model = ArrivalModel(strings.ToLower(strings.TrimSpace(val)))
	}
	if fs.Changed("seed") {
		val, err := fs.GetInt64("seed")
		if err != nil {
			return err
		}
		cfg.Arrival.Seed = val
	}

	if fs.Changed("format") {
		val, err := fs.GetString("format")
		if err != nil {
			return err
		}
		cfg.Format = Format(strings.ToLower(strings.TrimSpace(val)))
	}
	if fs.Changed("report-file") {
		val, err := fs.GetString("report-file")
		if err != nil {
			return err
		}
		cfg.ReportFile = strings.TrimSpace(val)
	}
	if fs.Changed("html-output") {
		val, err := fs.GetString("html-output")
		if err != nil {
			return err
		}
		cfg.HTMLOutput = strings.TrimSpace(val)
	}
	if fs.Changed("dashboard") {
		val, err := fs.GetBool("dashboard")
		if err != nil {
			return err
		}
		cfg.Dashboard = val
	}
	if fs.Changed("web-addr") {
		val, err := fs.GetString("web-addr")
		if err != nil {
			return err
		}
		cfg.WebAddr = strings.TrimSpace(val)
	}
	if fs.Changed("threshold") {
		val, err := fs.GetStringSlice("threshold")
		if err != nil {
			return err
		}
		cfg.Thresholds = val
	}

	if fs.Changed("log-level") {
		val, err := fs.GetString("log-level")
		if err != nil {
			return err
		}
		cfg.LogLevel = strings.TrimSpace(val)
	}
	if fs.Changed("log-format") {
		val, err := fs.GetString("log-format")
		if err != nil {
			return err
		}
		cfg.LogFormat = strings.TrimSpace(val)
	}
	if fs.Changed("log-errors") {
		val, err := fs.GetBool("log-errors")
		if err != nil {
			return err
		}
		cfg.LogErrors = val
	}

	if fs.Changed("otlp-endpoint") {
		val, err := fs.GetString("otlp-endpoint")
		if err != nil {
			return err
		}
		cfg.Tracing.Endpoint = strings.TrimSpace(val)
	}
	if fs.Changed("otlp-protocol") {
		val, err := fs.GetString("otlp-protocol")
		if err != nil {
			return err
		}
		cfg.Tracing.Protocol = strings.TrimSpace(val)
	}
	if fs.Changed("otlp-insecure") {
		val, err := fs.GetBool("otlp-insecure")
		if err != nil {
			return err
		}
		cfg.Tracing.Insecure = val
	}
	if fs.Changed("trace-sample-rate") {
		val, err := fs.GetFloat64("trace-sample-rate")
		if err != nil {
			return err
		}
		cfg.Tracing.SampleRate = val
	}

	vals, err := fs.GetStringSlice("header")
	if err != nil {
		return err
	}
	if len(vals) > 0 {
		if cfg.Headers == nil {
			cfg.Headers = map[string]string{}
		}
		for _, entry := range vals {
			parts := strings.SplitN(entry, "=", 2)
			if len(parts) != 2 {
				return fmt.Errorf("header must be in key=value format: %s", entry)
			}
			key := http.CanonicalHeaderKey(strings.TrimSpace(parts[0]))
			if key == "" {
				return fmt.Errorf("header key cannot be empty")
			}
			cfg.Headers[key] = strings.TrimSpace(parts[1])
		}
	}

	return nil
}
