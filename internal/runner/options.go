package runner

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/torosent/stampede/internal/loadpattern"
)

const (
	DefaultTickInterval   = 50 * time.Millisecond
	DefaultReportInterval = time.Second
	DefaultDrainTimeout   = 30 * time.Second
)

// Options configure an Executor. Zero durations select the defaults above;
// negative values are rejected by Validate.
type Options struct {
	Pattern  loadpattern.Pattern // required
	Scenario Scenario            // required
	// RunID names the run in reports, sinks and iteration spans. Empty
	// generates a ULID.
	RunID string

	// Duration caps the run. Zero runs for Pattern.Duration(), and a
	// pattern without a duration runs until cancelled or MaxIterations
	// is reached.
	Duration time.Duration
	// MaxIterations stops starting iterations once this many have been
	// started. Zero means unlimited.
	MaxIterations int64
	// IterationsPerUser makes every closed-loop virtual user run exactly
	// this many iterations and then stop for good; its slot is not
	// refilled. The run drains once every user has finished. Zero lets
	// users loop until the run ends.
	IterationsPerUser int64

	TickInterval   time.Duration
	ReportInterval time.Duration
	DrainTimeout   time.Duration

	// MaxInFlight is the open-loop overload backstop. Zero lets live
	// iterations grow without bound, which surfaces an overloaded target
	// as a growing active_concurrency gauge. A positive value refuses
	// arrivals beyond that many live iterations and counts them as
	// dropped. Closed-loop runs are bounded by their pattern and must
	// leave this at zero.
	MaxInFlight int

	ArrivalModel ArrivalModel
	RandomSeed   int64

	Sinks        []Sink
	Logger       *zap.Logger
	HistoryLimit int
}

func (o *Options) normalize() {
	if o.TickInterval == 0 {
		o.TickInterval = DefaultTickInterval
	}
	if o.ReportInterval == 0 {
		o.ReportInterval = DefaultReportInterval
	}
	if o.DrainTimeout == 0 {
		o.DrainTimeout = DefaultDrainTimeout
	}
	if o.ArrivalModel == "" {
		o.ArrivalModel = ArrivalModelUniform
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

// Validate reports every problem with the options at once.
func (o Options) Validate() error {
	cfgErr := &ConfigurationError{Field: "run options"}
	add := func(format string, args ...interface{}) {
		cfgErr.Issues = append(cfgErr.Issues, fmt.Sprintf(format, args...))
	}

	if o.Pattern == nil {
		add("load pattern is required")
	}
	if o.Scenario == nil {
		add("scenario is required")
	}
	if o.Duration < 0 {
		add("duration must not be negative")
	}
	if o.MaxIterations < 0 {
		add("max iterations must not be negative")
	}
	if o.IterationsPerUser < 0 {
		add("iterations per user must not be negative")
	}
	if o.TickInterval < 0 {
		add("tick interval must not be negative")
	}
	if o.ReportInterval < 0 {
		add("reporting interval must not be negative")
	}
	if o.DrainTimeout < 0 {
		add("drain timeout must not be negative")
	}
	if o.MaxInFlight < 0 {
		add("max in-flight must not be negative")
	}
	if o.Pattern != nil && o.Pattern.Kind() == loadpattern.Concurrency {
		if o.MaxInFlight > 0 {
			add("max in-flight only applies to arrival-rate patterns")
		}
		if o.ArrivalModel != "" && o.ArrivalModel != ArrivalModelUniform {
			add("arrival model %q only applies to arrival-rate patterns", o.ArrivalModel)
		}
	}
	if o.Pattern != nil && o.Pattern.Kind() == loadpattern.ArrivalRate && o.IterationsPerUser > 0 {
		add("iterations per user only applies to concurrency patterns")
	}
	switch o.ArrivalModel {
	case "", ArrivalModelUniform, ArrivalModelPoisson:
	default:
		add("unknown arrival model %q", o.ArrivalModel)
	}
	if len(cfgErr.Issues) > 0 {
		return cfgErr
	}
	return nil
}

// plannedDuration is zero for unbounded runs.
func (o Options) plannedDuration() time.Duration {
	if o.Duration > 0 {
		return o.Duration
	}
	if o.Pattern != nil {
		return o.Pattern.Duration()
	}
	return 0
}
