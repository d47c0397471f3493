package config

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Loader handles loading configuration from files and command-line arguments.
type Loader struct{}

// ErrHelpRequested is returned when the user requests help via --help flag.
var ErrHelpRequested = errors.New("help requested")

// NewLoader creates a new configuration Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load parses command-line arguments and configuration files to produce a Config.
func (Loader) Load(args []string) (*Config, error) {
	cmd := newFlagCommand()
	if err := cmd.Flags().Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
		return nil, err
	}

	flagSet := cmd.Flags()
	if helpFlag := flagSet.Lookup("help"); helpFlag != nil {
		if wantsHelp, err := strconv.ParseBool(helpFlag.Value.String()); err == nil && wantsHelp {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
	}

	configPath := flagSet.Lookup("config").Value.String()
	cfgViper := viper.New()
	if configPath != "" {
		cfgViper.SetConfigFile(configPath)
		if err := cfgViper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configPath, err)
		}
	}

	cfg := Defaults()
	cfg.ConfigFile = configPath

	if err := applyConfigSettings(cfg, cfgViper.AllSettings()); err != nil {
		return nil, err
	}
	if err := applyFlagOverrides(cfg, flagSet); err != nil {
		return nil, err
	}

	// A rate without an explicit mode means open loop.
	if cfg.Mode == "" {
		cfg.Mode = ModeClosed
		if cfg.Rate > 0 {
			cfg.Mode = ModeOpen
		}
	}
	cfg.Method = strings.ToUpper(cfg.Method)
	cfg.TargetURL = strings.TrimSpace(cfg.TargetURL)
	cfg.BodyFile = strings.TrimSpace(cfg.BodyFile)
	if cfg.Headers == nil {
		cfg.Headers = map[string]string{}
	}
	return cfg, nil
}

// Defaults returns the configuration used before any file or flag applies.
func Defaults() *Config {
	return &Config{
		Users:     1,
		Method:    "GET",
		Headers:   map[string]string{},
		Timeout:   30 * time.Second,
		Format:    FormatText,
		LogLevel:  "info",
		LogFormat: "console",
		Arrival:   ArrivalConfig{Model: ArrivalModelUniform},
	}
}

// applyConfigSettings applies settings from a config file to the Config struct.
func applyConfigSettings(cfg *Config, settings map[string]interface{}) error {
	if len(settings) == 0 {
		return nil
	}

	if raw, ok := lookupSetting(settings, "target"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("target: %w", err)
		}
		cfg.TargetURL = strings.TrimSpace(val)
	}

	if raw, ok := lookupSetting(settings, "method"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("method: %w", err)
		}
		if val != "" {
			cfg.Method = val
		}
	}

	if raw, ok := lookupSetting(settings, "headers"); ok {
		hdrs, err := asStringMap(raw)
		if err != nil {
			return fmt.Errorf("headers: %w", err)
		}
		for k, v := range hdrs {
			cfg.Headers[http.CanonicalHeaderKey(k)] = v
		}
	}

	if raw, ok := lookupSetting(settings, "body"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("body: %w", err)
		}
		cfg.Body = val
	}

	if raw, ok := lookupSetting(settings, "bodyfile", "body_file", "body-file"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("bodyFile: %w", err)
		}
		cfg.BodyFile = val
	}

	if raw, ok := lookupSetting(settings, "timeout"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("timeout: %w", err)
		}
		cfg.Timeout = dur
	}

	if raw, ok := lookupSetting(settings, "retries"); ok {
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("retries: %w", err)
		}
		cfg.Retries = val
	}

	if raw, ok := lookupSetting(settings, "measures", "measure"); ok {
		measures, err := parseMeasures(raw)
		if err != nil {
			return fmt.Errorf("measures: %w", err)
		}
		cfg.Measures = measures
	}

	if raw, ok := lookupSetting(settings, "feeder"); ok {
		feeder, err := parseFeeder(raw)
		if err != nil {
			return fmt.Errorf("feeder: %w", err)
		}
		cfg.Feeder = feeder
	}

	if raw, ok := lookupSetting(settings, "mode"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("mode: %w", err)
		}
		cfg.Mode = Mode(strings.ToLower(strings.TrimSpace(val)))
	}

	if raw, ok := lookupSetting(settings, "users", "vus"); ok {
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("users: %w", err)
		}
		cfg.Users = val
	}

	if raw, ok := lookupSetting(settings, "rate"); ok {
		val, err := asFloat64(raw)
		if err != nil {
			return fmt.Errorf("rate: %w", err)
		}
		cfg.Rate = val
	}

	if raw, ok := lookupSetting(settings, "duration"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("duration: %w", err)
		}
		cfg.Duration = dur
	}

	if raw, ok := lookupSetting(settings, "iterations"); ok {
		val, err := asInt64(raw)
		if err != nil {
			return fmt.Errorf("iterations: %w", err)
		}
		cfg.Iterations = val
	}

	if raw, ok := lookupSetting(settings, "iterationsperuser", "iterations_per_user", "iterations-per-user"); ok {
		val, err := asInt64(raw)
		if err != nil {
			return fmt.Errorf("iterations_per_user: %w", err)
		}
		cfg.IterationsPerUser = val
	}

	if raw, ok := lookupSetting(settings, "runs", "scenarios"); ok {
		runs, err := parseRuns(raw)
		if err != nil {
			return fmt.Errorf("runs: %w", err)
		}
		cfg.Runs = runs
	}

	durations := []struct {
		dst  *time.Duration
		keys []string
	}{
		{&cfg.TickInterval, []string{"tick", "tick_interval", "tick-interval"}},
		{&cfg.ReportInterval, []string{"reportinterval", "report_interval", "report-interval"}},
		{&cfg.DrainTimeout, []string{"draintimeout", "drain_timeout", "drain-timeout"}},
	}
	for _, d := range durations {
		if raw, ok := lookupSetting(settings, d.keys...); ok {
			dur, err := asDuration(raw)
			if err != nil {
				return fmt.Errorf("%s: %w", d.keys[1], err)
			}
			*d.dst = dur
		}
	}

	if raw, ok := lookupSetting(settings, "maxinflight", "max_in_flight", "max-in-flight"); ok {
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("max_in_flight: %w", err)
		}
		cfg.MaxInFlight = val
	}

	if raw, ok := lookupSetting(settings, "loadpatterns", "load_patterns", "load-patterns"); ok {
		patterns, err := parseLoadPatterns(raw)
		if err != nil {
			return fmt.Errorf("loadPatterns: %w", err)
		}
		cfg.LoadPatterns = patterns
	}

	if raw, ok := lookupSetting(settings, "arrival"); ok {
		arrival, err := parseArrival(raw)
		if err != nil {
			return fmt.Errorf("arrival: %w", err)
		}
		if arrival.Model != "" {
			cfg.Arrival.Model = arrival.Model
		}
		cfg.Arrival.Seed = arrival.Seed
	} else if raw, ok := lookupSetting(settings, "arrivalmodel", "arrival_model", "arrival-model"); ok {
		arrival, err := parseArrival(raw)
		if err != nil {
			return fmt.Errorf("arrivalModel: %w", err)
		}
		if arrival.Model != "" {
			cfg.Arrival.Model = arrival.Model
		}
	}

	if raw, ok := lookupSetting(settings, "format"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("format: %w", err)
		}
		cfg.Format = Format(strings.ToLower(strings.TrimSpace(val)))
	}

	if raw, ok := lookupSetting(settings, "jsonoutput", "json_output", "json-output"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("jsonOutput: %w", err)
		}
		if val {
			cfg.Format = FormatJSON
		}
	}

	strs := []struct {
		dst  *string
		keys []string
	}{
		{&cfg.ReportFile, []string{"reportfile", "report_file", "report-file"}},
		{&cfg.HTMLOutput, []string{"htmloutput", "html_output", "html-output"}},
		{&cfg.WebAddr, []string{"webaddr", "web_addr", "web-addr"}},
		{&cfg.LogLevel, []string{"loglevel", "log_level", "log-level"}},
		{&cfg.LogFormat, []string{"logformat", "log_format", "log-format"}},
	}
	for _, s := range strs {
		if raw, ok := lookupSetting(settings, s.keys...); ok {
			val, err := asString(raw)
			if err != nil {
				return fmt.Errorf("%s: %w", s.keys[1], err)
			}
			*s.dst = strings.TrimSpace(val)
		}
	}

	if raw, ok := lookupSetting(settings, "dashboard"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("dashboard: %w", err)
		}
		cfg.Dashboard = val
	}

	if raw, ok := lookupSetting(settings, "logerrors", "log_errors", "log-errors"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("logErrors: %w", err)
		}
		cfg.LogErrors = val
	}

	if raw, ok := lookupSetting(settings, "thresholds"); ok {
		thresholds, err := asStringSlice(raw)
		if err != nil {
			return fmt.Errorf("thresholds: %w", err)
		}
		cfg.Thresholds = thresholds
	}

	if raw, ok := lookupSetting(settings, "tracing"); ok {
		tracing, err := parseTracing(raw)
		if err != nil {
			return fmt.Errorf("tracing: %w", err)
		}
		cfg.Tracing = tracing
	}

	return nil
}

// parseRuns reads a run sequence: a list of maps, each with an optional
// name and any of the load profile keys.
func parseRuns(value interface{}) ([]RunConfig, error) {
	if value == nil {
		return nil, nil
	}
	items, err := toInterfaceSlice(value)
	if err != nil {
		return nil, err
	}
	runs := make([]RunConfig, 0, len(items))
	for idx, item := range items {
		entry, err := toStringKeyMap(item)
		if err != nil {
			return nil, fmt.Errorf("index %d: %w", idx, err)
		}
		run, err := buildRun(entry)
		if err != nil {
			return nil, fmt.Errorf("index %d: %w", idx, err)
		}
		runs = append(runs, run)
	}
	return runs, nil
}

func buildRun(settings map[string]interface{}) (RunConfig, error) {
	var run RunConfig
	if raw, ok := lookupSetting(settings, "name"); ok {
		val, err := asString(raw)
		if err != nil {
			return RunConfig{}, fmt.Errorf("name: %w", err)
		}
		run.Name = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "mode"); ok {
		val, err := asString(raw)
		if err != nil {
			return RunConfig{}, fmt.Errorf("mode: %w", err)
		}
		run.Mode = Mode(strings.ToLower(strings.TrimSpace(val)))
	}
	if raw, ok := lookupSetting(settings, "users", "vus"); ok {
		val, err := asInt(raw)
		if err != nil {
			return RunConfig{}, fmt.Errorf("users: %w", err)
		}
		run.Users = val
	}
	if raw, ok := lookupSetting(settings, "rate"); ok {
		val, err := asFloat64(raw)
		if err != nil {
			return RunConfig{}, fmt.Errorf("rate: %w", err)
		}
		run.Rate = val
	}
	if raw, ok := lookupSetting(settings, "loadpatterns", "load_patterns", "load-patterns"); ok {
		patterns, err := parseLoadPatterns(raw)
		if err != nil {
			return RunConfig{}, fmt.Errorf("loadPatterns: %w", err)
		}
		run.LoadPatterns = patterns
	}
	if raw, ok := lookupSetting(settings, "duration"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return RunConfig{}, fmt.Errorf("duration: %w", err)
		}
		run.Duration = dur
	}
	if raw, ok := lookupSetting(settings, "iterations"); ok {
		val, err := asInt64(raw)
		if err != nil {
			return RunConfig{}, fmt.Errorf("iterations: %w", err)
		}
		run.Iterations = val
	}
	if raw, ok := lookupSetting(settings, "iterationsperuser", "iterations_per_user", "iterations-per-user"); ok {
		val, err := asInt64(raw)
		if err != nil {
			return RunConfig{}, fmt.Errorf("iterations_per_user: %w", err)
		}
		run.IterationsPerUser = val
	}
	return run, nil
}

func parseLoadPatterns(value interface{}) ([]LoadPattern, error) {
	if value == nil {
		return nil, nil
	}
	items, err := toInterfaceSlice(value)
	if err != nil {
		return nil, err
	}
	patterns := make([]LoadPattern, 0, len(items))
	for idx, item := range items {
		entry, err := toStringKeyMap(item)
		if err != nil {
			return nil, fmt.Errorf("index %d: %w", idx, err)
		}
		pattern, err := buildLoadPattern(entry)
		if err != nil {
			return nil, fmt.Errorf("index %d: %w", idx, err)
		}
		patterns = append(patterns, pattern)
	}
	return patterns, nil
}

func buildLoadPattern(settings map[string]interface{}) (LoadPattern, error) {
	var pattern LoadPattern
	if raw, ok := lookupSetting(settings, "name"); ok {
		val, err := asString(raw)
		if err != nil {
			return LoadPattern{}, fmt.Errorf("name: %w", err)
		}
		pattern.Name = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "type"); ok {
		val, err := asString(raw)
		if err != nil {
			return LoadPattern{}, fmt.Errorf("type: %w", err)
		}
		pattern.Type = LoadPatternType(strings.ToLower(strings.TrimSpace(val)))
	}
	floats := []struct {
		dst  *float64
		keys []string
	}{
		{&pattern.From, []string{"from", "from_rps", "fromrps", "from_users"}},
		{&pattern.To, []string{"to", "to_rps", "torps", "to_users"}},
		{&pattern.Value, []string{"value", "rps", "users", "rate"}},
	}
	for _, f := range floats {
		if raw, ok := lookupSetting(settings, f.keys...); ok {
			val, err := asFloat64(raw)
			if err != nil {
				return LoadPattern{}, fmt.Errorf("%s: %w", f.keys[0], err)
			}
			*f.dst = val
		}
	}
	if raw, ok := lookupSetting(settings, "duration"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return LoadPattern{}, fmt.Errorf("duration: %w", err)
		}
		pattern.Duration = dur
	}
	if raw, ok := lookupSetting(settings, "steps"); ok {
		steps, err := parseLoadSteps(raw)
		if err != nil {
			return LoadPattern{}, fmt.Errorf("steps: %w", err)
		}
		pattern.Steps = steps
	}
	return pattern, nil
}

func parseLoadSteps(value interface{}) ([]LoadStep, error) {
	items, err := toInterfaceSlice(value)
	if err != nil {
		return nil, err
	}
	steps := make([]LoadStep, 0, len(items))
	for idx, item := range items {
		entry, err := toStringKeyMap(item)
		if err != nil {
			return nil, fmt.Errorf("index %d: %w", idx, err)
		}
		var step LoadStep
		if raw, ok := lookupSetting(entry, "value", "rps", "users", "rate"); ok {
			val, err := asFloat64(raw)
			if err != nil {
				return nil, fmt.Errorf("index %d: value: %w", idx, err)
			}
			step.Value = val
		}
		if raw, ok := lookupSetting(entry, "duration"); ok {
			dur, err := asDuration(raw)
			if err != nil {
				return nil, fmt.Errorf("index %d: duration: %w", idx, err)
			}
			step.Duration = dur
		}
		steps = append(steps, step)
	}
	return steps, nil
}

// parseArrival accepts either a bare model name or a map with model and seed.
func parseArrival(value interface{}) (ArrivalConfig, error) {
	switch v := value.(type) {
	case nil:
		return ArrivalConfig{}, nil
	case string:
		return ArrivalConfig{Model: ArrivalModel(strings.ToLower(strings.TrimSpace(v)))}, nil
	}
	settings, err := toStringKeyMap(value)
	if err != nil {
		return ArrivalConfig{}, err
	}
	var arrival ArrivalConfig
	if raw, ok := lookupSetting(settings, "model"); ok {
		val, err := asString(raw)
		if err != nil {
			return ArrivalConfig{}, fmt.Errorf("model: %w", err)
		}
		arrival.Model = ArrivalModel(strings.ToLower(strings.TrimSpace(val)))
	}
	if raw, ok := lookupSetting(settings, "seed"); ok {
		val, err := asInt64(raw)
		if err != nil {
			return ArrivalConfig{}, fmt.Errorf("seed: %w", err)
		}
		arrival.Seed = val
	}
	return arrival, nil
}

// parseMeasures accepts a list of "name=path" strings or of maps with name
// and path keys.
func parseMeasures(value interface{}) ([]Measure, error) {
	if value == nil {
		return nil, nil
	}
	if s, ok := value.(string); ok {
		m, err := parseMeasure(s)
		if err != nil {
			return nil, err
		}
		return []Measure{m}, nil
	}
	var items []interface{}
	switch v := value.(type) {
	case []string:
		for _, s := range v {
			items = append(items, s)
		}
	default:
		var err error
		if items, err = toInterfaceSlice(value); err != nil {
			return nil, err
		}
	}
	measures := make([]Measure, 0, len(items))
	for idx, item := range items {
		if s, ok := item.(string); ok {
			m, err := parseMeasure(s)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", idx, err)
			}
			measures = append(measures, m)
			continue
		}
		entry, err := toStringKeyMap(item)
		if err != nil {
			return nil, fmt.Errorf("index %d: %w", idx, err)
		}
		var m Measure
		if raw, ok := lookupSetting(entry, "name"); ok {
			if m.Name, err = asString(raw); err != nil {
				return nil, fmt.Errorf("index %d: name: %w", idx, err)
			}
		}
		if raw, ok := lookupSetting(entry, "path", "jsonpath", "json_path"); ok {
			if m.Path, err = asString(raw); err != nil {
				return nil, fmt.Errorf("index %d: path: %w", idx, err)
			}
		}
		m.Name, m.Path = strings.TrimSpace(m.Name), strings.TrimSpace(m.Path)
		measures = append(measures, m)
	}
	return measures, nil
}

// parseFeeder accepts a bare path or a map with path, type and once keys.
func parseFeeder(value interface{}) (FeederConfig, error) {
	if value == nil {
		return FeederConfig{}, nil
	}
	if s, ok := value.(string); ok {
		return FeederConfig{Path: strings.TrimSpace(s)}, nil
	}
	settings, err := toStringKeyMap(value)
	if err != nil {
		return FeederConfig{}, err
	}
	var feeder FeederConfig
	if raw, ok := lookupSetting(settings, "path", "file"); ok {
		if feeder.Path, err = asString(raw); err != nil {
			return FeederConfig{}, fmt.Errorf("path: %w", err)
		}
		feeder.Path = strings.TrimSpace(feeder.Path)
	}
	if raw, ok := lookupSetting(settings, "type"); ok {
		if feeder.Type, err = asString(raw); err != nil {
			return FeederConfig{}, fmt.Errorf("type: %w", err)
		}
		feeder.Type = strings.TrimSpace(feeder.Type)
	}
	if raw, ok := lookupSetting(settings, "once"); ok {
		if feeder.Once, err = asBool(raw); err != nil {
			return FeederConfig{}, fmt.Errorf("once: %w", err)
		}
	}
	return feeder, nil
}

func parseTracing(value interface{}) (TracingConfig, error) {
	if value == nil {
		return TracingConfig{}, nil
	}
	settings, err := toStringKeyMap(value)
	if err != nil {
		return TracingConfig{}, err
	}
	var tc TracingConfig
	if raw, ok := lookupSetting(settings, "endpoint"); ok {
		if tc.Endpoint, err = asString(raw); err != nil {
			return TracingConfig{}, fmt.Errorf("endpoint: %w", err)
		}
	}
	if raw, ok := lookupSetting(settings, "protocol"); ok {
		if tc.Protocol, err = asString(raw); err != nil {
			return TracingConfig{}, fmt.Errorf("protocol: %w", err)
		}
	}
	if raw, ok := lookupSetting(settings, "servicename", "service_name", "service-name"); ok {
		if tc.ServiceName, err = asString(raw); err != nil {
			return TracingConfig{}, fmt.Errorf("service_name: %w", err)
		}
	}
	if raw, ok := lookupSetting(settings, "samplerate", "sample_rate", "sample-rate"); ok {
		if tc.SampleRate, err = asFloat64(raw); err != nil {
			return TracingConfig{}, fmt.Errorf("sample_rate: %w", err)
		}
	}
	if raw, ok := lookupSetting(settings, "insecure"); ok {
		if tc.Insecure, err = asBool(raw); err != nil {
			return TracingConfig{}, fmt.Errorf("insecure: %w", err)
		}
	}
	if raw, ok := lookupSetting(settings, "propagate"); ok {
		val, err := asBool(raw)
		if err != nil {
			return TracingConfig{}, fmt.Errorf("propagate: %w", err)
		}
		tc.Propagate = &val
	}
	tc.Endpoint = strings.TrimSpace(tc.Endpoint)
	return tc, nil
}
