package runner

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/torosent/stampede/internal/loadpattern"
)

// ArrivalModel shapes open-loop arrivals.
type ArrivalModel string

const (
	// ArrivalModelUniform spaces arrivals evenly.
	ArrivalModelUniform ArrivalModel = "uniform"
	// ArrivalModelPoisson draws exponential gaps between arrivals, which
	// approximates independent clients.
	ArrivalModelPoisson ArrivalModel = "poisson"
)

// Decision is what a pacer wants done on one tick.
type Decision struct {
	Spawn int
	// Dropped counts arrivals refused by the in-flight limit.
	Dropped int
}

// Pacer turns a target into spawn decisions. It is driven by the
// scheduling loop only and need not be safe for concurrent use.
type Pacer interface {
	// Decide is called once per tick with the current target, the number
	// of live tasks and the time since the previous tick.
	Decide(target loadpattern.Target, live int, dt time.Duration) Decision
}

// NewPacer returns the pacer for a pattern kind.
func NewPacer(kind loadpattern.Kind, model ArrivalModel, maxInFlight int, seed int64) (Pacer, error) {
	switch kind {
	case loadpattern.Concurrency:
		return ClosedLoop(), nil
	case loadpattern.ArrivalRate:
		switch model {
		case "", ArrivalModelUniform:
			return OpenLoop(maxInFlight), nil
		case ArrivalModelPoisson:
			sample := rand.New(rand.NewSource(seed)).ExpFloat64
			return OpenLoopPoisson(maxInFlight, sample), nil
		}
		return nil, &ConfigurationError{Field: "arrival model", Issues: []string{fmt.Sprintf("unknown model %q", model)}}
	}
	return nil, &ConfigurationError{Field: "pattern", Issues: []string{fmt.Sprintf("unsupported kind %s", kind)}}
}

type closedLoop struct{}

// ClosedLoop keeps the number of live virtual users at the target. It
// never asks for users to be removed; surplus users retire on their own
// after finishing their current iteration.
func ClosedLoop() Pacer { return closedLoop{} }

func (closedLoop) Decide(target loadpattern.Target, live int, _ time.Duration) Decision {
	n := target.Users()
	if live >= n {
		return Decision{}
	}
	return Decision{Spawn: n - live}
}

// openLoop accumulates arrival credit at the target rate and spends one
// credit per spawned iteration, regardless of how many are still running.
type openLoop struct {
	credit      float64
	threshold   float64
	maxInFlight int
	sample      func() float64
}

// OpenLoop paces uniform arrivals. maxInFlight is the overload backstop:
// zero leaves the number of live iterations unbounded, otherwise arrivals
// that would exceed it are dropped and counted.
func OpenLoop(maxInFlight int) Pacer {
	return &openLoop{threshold: 1, maxInFlight: maxInFlight}
}

// OpenLoopPoisson paces arrivals with exponentially distributed gaps.
// sample must return Exp(1) variates.
func OpenLoopPoisson(maxInFlight int, sample func() float64) Pacer {
	p := &openLoop{maxInFlight: maxInFlight, sample: sample}
	p.threshold = p.next()
	return p
}

func (p *openLoop) next() float64 {
	if p.sample == nil {
		return 1
	}
	return p.sample()
}

func (p *openLoop) Decide(target loadpattern.Target, live int, dt time.Duration) Decision {
	rate := target.PerSecond()
	if rate <= 0 || dt <= 0 {
		return Decision{}
	}
	p.credit += rate * dt.Seconds()

	var d Decision
	for p.credit >= p.threshold {
		p.credit -= p.threshold
		p.threshold = p.next()
		if p.maxInFlight > 0 && live+d.Spawn >= p.maxInFlight {
			d.Dropped++
			continue
		}
		d.Spawn++
	}
	return d
}
