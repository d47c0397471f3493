package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/torosent/stampede/internal/loadpattern"
)

// Mode selects how the load target is interpreted.
type Mode string

const (
	// ModeClosed drives a number of concurrent virtual users.
	ModeClosed Mode = "closed"
	// ModeOpen drives an arrival rate in iterations per second.
	ModeOpen Mode = "open"
)

// Format selects the final report format.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

type Config struct {
	ConfigFile string `mapstructure:"-"`
	RunName    string `mapstructure:"-"` // set by Sequence

	Mode              Mode          `mapstructure:"mode"`
	Users             int           `mapstructure:"users"`
	Rate              float64       `mapstructure:"rate"`
	LoadPatterns      []LoadPattern `mapstructure:"load_patterns"`
	Duration          time.Duration `mapstructure:"duration"`
	Iterations        int64         `mapstructure:"iterations"`
	IterationsPerUser int64         `mapstructure:"iterations_per_user"`
	Runs              []RunConfig   `mapstructure:"runs"`
	TickInterval      time.Duration `mapstructure:"tick"`
	ReportInterval    time.Duration `mapstructure:"report_interval"`
	DrainTimeout      time.Duration `mapstructure:"drain_timeout"`
	MaxInFlight       int           `mapstructure:"max_in_flight"`
	Arrival           ArrivalConfig `mapstructure:"arrival"`

	TargetURL string            `mapstructure:"target"`
	Method    string            `mapstructure:"method"`
	Headers   map[string]string `mapstructure:"headers"`
	Body      string            `mapstructure:"body"`
	BodyFile  string            `mapstructure:"body_file"`
	Timeout   time.Duration     `mapstructure:"timeout"`
	Retries   int               `mapstructure:"retries"`
	Measures  []Measure         `mapstructure:"measures"`
	Feeder    FeederConfig      `mapstructure:"feeder"`

	Format     Format   `mapstructure:"format"`
	ReportFile string   `mapstructure:"report_file"`
	HTMLOutput string   `mapstructure:"html_output"`
	Dashboard  bool     `mapstructure:"dashboard"`
	WebAddr    string   `mapstructure:"web_addr"`
	Thresholds []string `mapstructure:"thresholds"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
	LogErrors bool   `mapstructure:"log_errors"`

	Tracing TracingConfig `mapstructure:"tracing"`
}

// RunConfig is one entry of a run sequence. Setting any of Mode, Users,
// Rate or LoadPatterns replaces the top-level load profile for that run;
// non-zero Duration, Iterations and IterationsPerUser override theirs.
type RunConfig struct {
	Name              string        `mapstructure:"name"`
	Mode              Mode          `mapstructure:"mode"`
	Users             int           `mapstructure:"users"`
	Rate              float64       `mapstructure:"rate"`
	LoadPatterns      []LoadPattern `mapstructure:"load_patterns"`
	Duration          time.Duration `mapstructure:"duration"`
	Iterations        int64         `mapstructure:"iterations"`
	IterationsPerUser int64         `mapstructure:"iterations_per_user"`
}

func (r RunConfig) overridesLoad() bool {
	return r.Mode != "" || r.Users != 0 || r.Rate != 0 || len(r.LoadPatterns) > 0
}

type LoadPatternType string

const (
	LoadPatternTypeConstant LoadPatternType = "constant"
	LoadPatternTypeRamp     LoadPatternType = "ramp"
	LoadPatternTypeStep     LoadPatternType = "step"
	LoadPatternTypeSpike    LoadPatternType = "spike"
)

// LoadPattern is one phase of the load profile. Values are users in closed
// mode and iterations per second in open mode.
type LoadPattern struct {
	Name     string          `mapstructure:"name"`
	Type     LoadPatternType `mapstructure:"type"`
	From     float64         `mapstructure:"from"`
	To       float64         `mapstructure:"to"`
	Value    float64         `mapstructure:"value"`
	Duration time.Duration   `mapstructure:"duration"`
	Steps    []LoadStep      `mapstructure:"steps"`
}

type LoadStep struct {
	Value    float64       `mapstructure:"value"`
	Duration time.Duration `mapstructure:"duration"`
}

type ArrivalModel string

const (
	ArrivalModelUniform ArrivalModel = "uniform"
	ArrivalModelPoisson ArrivalModel = "poisson"
)

type ArrivalConfig struct {
	Model ArrivalModel `mapstructure:"model"`
	Seed  int64        `mapstructure:"seed"`
}

// Measure names a numeric value extracted from each JSON response body.
type Measure struct {
	Name string `mapstructure:"name"`
	Path string `mapstructure:"path"`
}

// FeederConfig points at a CSV or JSON dataset whose rows fill {{field}}
// placeholders in the target, headers and body. Once stops the run when
// every row has been used instead of starting over.
type FeederConfig struct {
	Path string `mapstructure:"path"`
	Type string `mapstructure:"type"`
	Once bool   `mapstructure:"once"`
}

// FeederType is Type, or the path's extension when Type is empty.
func (f FeederConfig) FeederType() string {
	if t := strings.ToLower(strings.TrimSpace(f.Type)); t != "" {
		return t
	}
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(f.Path)), ".")
}

// TracingConfig configures OTLP export of iteration spans.
type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	Protocol    string  `mapstructure:"protocol"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	Insecure    bool    `mapstructure:"insecure"`
	Propagate   *bool   `mapstructure:"propagate"`
}

// Enabled reports whether an exporter endpoint is configured, either here
// or through OTEL_EXPORTER_OTLP_ENDPOINT.
func (t TracingConfig) Enabled() bool {
	return strings.TrimSpace(t.Endpoint) != "" || os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != ""
}

// ShouldPropagate defaults to Enabled unless set explicitly.
func (t TracingConfig) ShouldPropagate() bool {
	if t.Propagate != nil {
		return *t.Propagate
	}
	return t.Enabled()
}

type ValidationError struct {
	issues []string
}

func (e ValidationError) Error() string {
	if len(e.issues) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(e.issues, "; "))
}

func (e ValidationError) Issues() []string {
	return append([]string(nil), e.issues...)
}

func (c Config) Validate() error {
	var issues []string

	if strings.TrimSpace(c.TargetURL) == "" {
		issues = append(issues, "target is required (use --help for usage information)")
	}

	if c.Rate > 1000 {
		fmt.Fprintf(os.Stderr, "WARNING: High arrival rate configured (%g/s). Ensure you have authorization to test the target system.\n", c.Rate)
	}
	if c.Users > 500 {
		fmt.Fprintf(os.Stderr, "WARNING: High user count configured (%d users). Ensure you have authorization to test the target system.\n", c.Users)
	}

	if len(c.Runs) == 0 {
		issues = append(issues, c.validateLoad()...)
	} else {
		names := map[string]int{}
		for idx, rc := range c.Sequence() {
			for _, issue := range rc.validateLoad() {
				issues = append(issues, fmt.Sprintf("runs[%d]: %s", idx, issue))
			}
			if prev, ok := names[rc.RunName]; ok {
				issues = append(issues, fmt.Sprintf("runs[%d]: duplicate name %q also used at index %d", idx, rc.RunName, prev))
			} else {
				names[rc.RunName] = idx
			}
		}
	}
	for _, d := range []struct {
		name  string
		value time.Duration
	}{
		{"timeout", c.Timeout},
		{"tick", c.TickInterval},
		{"report_interval", c.ReportInterval},
		{"drain_timeout", c.DrainTimeout},
	} {
		if d.value < 0 {
			issues = append(issues, fmt.Sprintf("%s must be >= 0", d.name))
		}
	}
	if c.Retries < 0 {
		issues = append(issues, "retries must be >= 0")
	}
	if strings.TrimSpace(c.Body) != "" && strings.TrimSpace(c.BodyFile) != "" {
		issues = append(issues, "body and bodyFile are mutually exclusive")
	}

	switch c.Format {
	case "", FormatText, FormatJSON, FormatYAML:
	default:
		issues = append(issues, fmt.Sprintf("format %q is not supported (text, json or yaml)", c.Format))
	}
	if c.Dashboard && (c.Format == FormatJSON || c.Format == FormatYAML) && c.ReportFile == "" {
		issues = append(issues, "dashboard and structured stdout output are mutually exclusive")
	}

	issues = append(issues, validateMeasures(c.Measures)...)
	issues = append(issues, validateFeederConfig(c.Feeder)...)

	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		issues = append(issues, "tracing: sample_rate must be between 0 and 1")
	}

	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}
	return nil
}

// validateLoad checks the settings that a run sequence entry may override.
func (c Config) validateLoad() []string {
	var issues []string

	switch c.mode() {
	case ModeClosed:
		if len(c.LoadPatterns) == 0 && c.Users < 1 {
			issues = append(issues, "users must be >= 1")
		}
		if c.MaxInFlight != 0 {
			issues = append(issues, "max_in_flight only applies to open mode")
		}
	case ModeOpen:
		if len(c.LoadPatterns) == 0 && c.Rate <= 0 {
			issues = append(issues, "rate must be > 0 in open mode")
		}
	default:
		issues = append(issues, fmt.Sprintf("mode %q is not supported (closed or open)", c.Mode))
	}

	if c.Users < 0 {
		issues = append(issues, "users must be >= 0")
	}
	if c.Rate < 0 {
		issues = append(issues, "rate must be >= 0")
	}
	if c.Iterations < 0 {
		issues = append(issues, "iterations must be >= 0")
	}
	if c.MaxInFlight < 0 {
		issues = append(issues, "max_in_flight must be >= 0")
	}
	if c.Duration < 0 {
		issues = append(issues, "duration must be >= 0")
	}
	if c.IterationsPerUser < 0 {
		issues = append(issues, "iterations_per_user must be >= 0")
	}
	if c.IterationsPerUser > 0 && c.mode() == ModeOpen {
		issues = append(issues, "iterations_per_user only applies to closed mode")
	}
	issues = append(issues, validateArrivalConfig(c.mode(), c.Arrival)...)
	issues = append(issues, validateLoadPatterns(c.LoadPatterns)...)
	return issues
}

// Sequence expands Runs into one Config per run, in order. Without runs it
// returns c alone.
func (c Config) Sequence() []Config {
	if len(c.Runs) == 0 {
		return []Config{c}
	}
	seq := make([]Config, 0, len(c.Runs))
	for idx, r := range c.Runs {
		rc := c
		rc.Runs = nil
		rc.RunName = strings.TrimSpace(r.Name)
		if rc.RunName == "" {
			rc.RunName = fmt.Sprintf("run-%d", idx+1)
		}
		if r.overridesLoad() {
			rc.Mode, rc.Users, rc.Rate, rc.LoadPatterns = r.Mode, r.Users, r.Rate, r.LoadPatterns
			if rc.Mode == "" {
				rc.Mode = ModeClosed
				if r.Rate > 0 {
					rc.Mode = ModeOpen
				}
			}
		}
		if r.Duration != 0 {
			rc.Duration = r.Duration
		}
		if r.Iterations != 0 {
			rc.Iterations = r.Iterations
		}
		if r.IterationsPerUser != 0 {
			rc.IterationsPerUser = r.IterationsPerUser
		}
		seq = append(seq, rc)
	}
	return seq
}

func (c Config) mode() Mode {
	if c.Mode == "" {
		return ModeClosed
	}
	return Mode(strings.ToLower(string(c.Mode)))
}

func validateArrivalConfig(mode Mode, arr ArrivalConfig) []string {
	model := arr.Model
	if model == "" {
		model = ArrivalModelUniform
	}
	switch model {
	case ArrivalModelUniform:
		return nil
	case ArrivalModelPoisson:
		if mode == ModeClosed {
			return []string{"arrival model poisson only applies to open mode"}
		}
		return nil
	default:
		return []string{fmt.Sprintf("arrival model %q is not supported", model)}
	}
}

func validateLoadPatterns(patterns []LoadPattern) []string {
	var issues []string
	for idx, pattern := range patterns {
		typeLabel := strings.TrimSpace(string(pattern.Type))
		if typeLabel == "" {
			issues = append(issues, fmt.Sprintf("loadPatterns[%d]: type is required", idx))
			continue
		}
		switch LoadPatternType(strings.ToLower(typeLabel)) {
		case LoadPatternTypeRamp:
			if pattern.Duration <= 0 {
				issues = append(issues, fmt.Sprintf("loadPatterns[%d]: duration must be > 0 for ramp", idx))
			}
			if pattern.From < 0 || pattern.To < 0 {
				issues = append(issues, fmt.Sprintf("loadPatterns[%d]: from and to must be >= 0", idx))
			}
		case LoadPatternTypeStep:
			if len(pattern.Steps) == 0 {
				issues = append(issues, fmt.Sprintf("loadPatterns[%d]: steps are required for step pattern", idx))
			}
			for stepIdx, step := range pattern.Steps {
				if step.Value < 0 {
					issues = append(issues, fmt.Sprintf("loadPatterns[%d].steps[%d]: value must be >= 0", idx, stepIdx))
				}
				if step.Duration <= 0 {
					issues = append(issues, fmt.Sprintf("loadPatterns[%d].steps[%d]: duration must be > 0", idx, stepIdx))
				}
			}
		case LoadPatternTypeSpike:
			if pattern.Value <= 0 {
				issues = append(issues, fmt.Sprintf("loadPatterns[%d]: value must be > 0 for spike", idx))
			}
			if pattern.Duration <= 0 {
				issues = append(issues, fmt.Sprintf("loadPatterns[%d]: duration must be > 0 for spike", idx))
			}
		case LoadPatternTypeConstant:
			if pattern.Value < 0 {
				issues = append(issues, fmt.Sprintf("loadPatterns[%d]: value must be >= 0", idx))
			}
			if pattern.Duration <= 0 {
				issues = append(issues, fmt.Sprintf("loadPatterns[%d]: duration must be > 0 for constant", idx))
			}
		default:
			issues = append(issues, fmt.Sprintf("loadPatterns[%d]: unsupported type %q", idx, pattern.Type))
		}
	}
	return issues
}

func validateMeasures(measures []Measure) []string {
	var issues []string
	seen := map[string]int{}
	for idx, m := range measures {
		name := strings.TrimSpace(m.Name)
		if name == "" {
			issues = append(issues, fmt.Sprintf("measures[%d]: name is required", idx))
			continue
		}
		if strings.TrimSpace(m.Path) == "" {
			issues = append(issues, fmt.Sprintf("measures[%d]: path is required", idx))
		}
		if prev, ok := seen[name]; ok {
			issues = append(issues, fmt.Sprintf("measures[%d]: duplicate name also defined at index %d", idx, prev))
		} else {
			seen[name] = idx
		}
	}
	return issues
}

func validateFeederConfig(feeder FeederConfig) []string {
	if strings.TrimSpace(feeder.Path) == "" {
		if feeder.Once {
			return []string{"feeder: once requires a path"}
		}
		return nil
	}
	switch t := feeder.FeederType(); t {
	case "csv", "json":
		return nil
	case "":
		return []string{"feeder: type is required when the path has no .csv or .json extension"}
	default:
		return []string{fmt.Sprintf("feeder: type must be 'csv' or 'json', got %q", t)}
	}
}

// Kind maps the configured mode onto a pattern kind.
func (c Config) Kind() loadpattern.Kind {
	if c.mode() == ModeOpen {
		return loadpattern.ArrivalRate
	}
	return loadpattern.Concurrency
}

// BuildPattern turns the configured phases into a load pattern. Without
// phases the run holds users (closed) or rate (open) constant.
func (c Config) BuildPattern() (loadpattern.Pattern, error) {
	kind := c.Kind()
	if len(c.LoadPatterns) == 0 {
		value := float64(c.Users)
		if kind == loadpattern.ArrivalRate {
			value = c.Rate
		}
		p, err := loadpattern.NewConstant(kind, value)
		if err != nil {
			return nil, err
		}
		return p, nil
	}

	var stages []loadpattern.Stage
	for idx, lp := range c.LoadPatterns {
		var (
			shape loadpattern.Pattern
			err   error
		)
		switch LoadPatternType(strings.ToLower(string(lp.Type))) {
		case LoadPatternTypeRamp:
			shape, err = loadpattern.NewRamp(kind, lp.From, lp.To, lp.Duration)
		case LoadPatternTypeConstant, LoadPatternTypeSpike:
			shape, err = loadpattern.NewConstant(kind, lp.Value)
		case LoadPatternTypeStep:
			for stepIdx, step := range lp.Steps {
				s, err := loadpattern.NewConstant(kind, step.Value)
				if err != nil {
					return nil, fmt.Errorf("loadPatterns[%d].steps[%d]: %w", idx, stepIdx, err)
				}
				stages = append(stages, loadpattern.Stage{Duration: step.Duration, Shape: s})
			}
			continue
		default:
			return nil, fmt.Errorf("loadPatterns[%d]: unsupported type %q", idx, lp.Type)
		}
		if err != nil {
			return nil, fmt.Errorf("loadPatterns[%d]: %w", idx, err)
		}
		stages = append(stages, loadpattern.Stage{Duration: lp.Duration, Shape: shape})
	}
	staged, err := loadpattern.NewStaged(stages...)
	if err != nil {
		return nil, err
	}
	return staged, nil
}
