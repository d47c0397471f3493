package loadpattern

import (
	"fmt"
	"math"
	"time"
)

// Kind tells whether a pattern drives virtual users or an arrival rate.
type Kind int

const (
	// Concurrency targets a number of concurrently live virtual users.
	Concurrency Kind = iota
	// ArrivalRate targets iterations started per second, independent of
	// how long each iteration takes.
	ArrivalRate
)

func (k Kind) String() string {
	switch k {
	case Concurrency:
		return "concurrency"
	case ArrivalRate:
		return "arrival-rate"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// ParseKind accepts the names used in configuration files.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "closed", "users", "concurrency", "vus", "":
		return Concurrency, nil
	case "open", "rate", "arrival-rate", "arrival_rate":
		return ArrivalRate, nil
	default:
		return 0, configErrorf("mode", "unknown load mode %q (want closed or open)", s)
	}
}

// usersEpsilon absorbs interpolation error so Ramp(0, 100) at the midpoint
// yields 50 users rather than 49.
const usersEpsilon = 1e-9

// Target is the load requested at one instant.
type Target struct {
	Kind  Kind
	Value float64
}

// Users returns the requested number of virtual users.
func (t Target) Users() int {
	if t.Kind != Concurrency || t.Value <= 0 {
		return 0
	}
	return int(math.Floor(t.Value + usersEpsilon))
}

// PerSecond returns the requested arrival rate.
func (t Target) PerSecond() float64 {
	if t.Kind != ArrivalRate || t.Value <= 0 {
		return 0
	}
	return t.Value
}

func (t Target) String() string {
	if t.Kind == Concurrency {
		return fmt.Sprintf("%d users", t.Users())
	}
	return fmt.Sprintf("%.2f/s", t.PerSecond())
}

// Pattern is a pure function of elapsed run time. Implementations are
// immutable and safe for concurrent use.
type Pattern interface {
	Kind() Kind
	Evaluate(elapsed time.Duration) Target
	// Duration is the planned length of the pattern; zero means unbounded.
	Duration() time.Duration
}

// Constant requests the same value for all elapsed times.
type Constant struct {
	kind  Kind
	value float64
}

// NewConstant builds a Constant pattern.
func NewConstant(kind Kind, value float64) (*Constant, error) {
	if err := checkKind(kind); err != nil {
		return nil, err
	}
	if err := checkValue("constant", value); err != nil {
		return nil, err
	}
	return &Constant{kind: kind, value: value}, nil
}

func (c *Constant) Kind() Kind { return c.kind }
func (c *Constant) Duration() time.Duration { return 0 }
func (c *Constant) Evaluate(time.Duration) Target { return Target{Kind: c.kind, Value: c.value} }

// Ramp interpolates linearly from one value to another and holds the final
// value once its duration has elapsed.
type Ramp struct {
	kind     Kind
	from     float64
	to       float64
	duration time.Duration
}

// NewRamp builds a Ramp pattern. The duration must be positive.
func NewRamp(kind Kind, from, to float64, over time.Duration) (*Ramp, error) {
	if err := checkKind(kind); err != nil {
		return nil, err
	}
	if err := checkValue("ramp from", from); err != nil {
		return nil, err
	}
	if err := checkValue("ramp to", to); err != nil {
		return nil, err
	}
	if over <= 0 {
		return nil, configErrorf("ramp duration", "must be positive, got %s", over)
	}
	return &Ramp{kind: kind, from: from, to: to, duration: over}, nil
}

func (r *Ramp) Kind() Kind              { return r.kind }
func (r *Ramp) Duration() time.Duration { return r.duration }

func (r *Ramp) Evaluate(elapsed time.Duration) Target {
	if elapsed <= 0 {
		return Target{Kind: r.kind, Value: r.from}
	}
	if elapsed >= r.duration {
		return Target{Kind: r.kind, Value: r.to}
	}
	progress := float64(elapsed) / float64(r.duration)
	return Target{Kind: r.kind, Value: r.from + (r.to-r.from)*progress}
}

func checkKind(kind Kind) error {
	if kind != Concurrency && kind != ArrivalRate {
		return configErrorf("kind", "unknown pattern kind %d", int(kind))
	}
	return nil
}

func checkValue(field string, v float64) error {
	switch {
	case math.IsNaN(v) || math.IsInf(v, 0):
		return configErrorf(field, "must be finite, got %v", v)
	case v < 0:
		return configErrorf(field, "must not be negative, got %v", v)
	}
	return nil
}
