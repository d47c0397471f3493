package loadpattern_test

import (
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/torosent/stampede/internal/loadpattern"
)

func drawPattern(t *rapid.T) loadpattern.Pattern {
	kind := loadpattern.Kind(rapid.IntRange(0, 1).Draw(t, "kind"))
	n := rapid.IntRange(1, 5).Draw(t, "steps")
	steps := make([]loadpattern.Step, n)
	for i := range steps {
		steps[i] = loadpattern.Step{
			Duration: time.Duration(rapid.IntRange(1, 10_000).Draw(t, "ms")) * time.Millisecond,
			Target:   rapid.Float64Range(0, 1000).Draw(t, "target"),
		}
	}
	p, err := loadpattern.NewRamping(kind, rapid.Float64Range(0, 1000).Draw(t, "start"), steps...)
	if err != nil {
		t.Fatalf("NewRamping: %v", err)
	}
	return p
}

func TestPropertyEvaluateIsDeterministic(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		p := drawPattern(t)
		elapsed := time.Duration(rapid.Int64Range(0, int64(time.Minute)).Draw(t, "elapsed"))
		if a, b := p.Evaluate(elapsed), p.Evaluate(elapsed); a != b {
			t.Fatalf("Evaluate(%s) not deterministic: %v vs %v", elapsed, a, b)
		}
	})
}

func TestPropertyEvaluateStaysWithinBounds(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		from := rapid.Float64Range(0, 1000).Draw(t, "from")
		to := rapid.Float64Range(0, 1000).Draw(t, "to")
		over := time.Duration(rapid.Int64Range(1, int64(time.Hour)).Draw(t, "over"))
		p, err := loadpattern.NewRamp(loadpattern.ArrivalRate, from, to, over)
		if err != nil {
			t.Fatalf("NewRamp: %v", err)
		}
		lo, hi := from, to
		if lo > hi {
			lo, hi = hi, lo
		}
		elapsed := time.Duration(rapid.Int64Range(0, int64(2*time.Hour)).Draw(t, "elapsed"))
		v := p.Evaluate(elapsed).Value
		if v < lo-1e-9 || v > hi+1e-9 {
			t.Fatalf("Evaluate(%s) = %v outside [%v, %v]", elapsed, v, lo, hi)
		}
	})
}

func TestPropertyExhaustedPatternHoldsTerminalValue(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		p := drawPattern(t)
		end := p.Evaluate(p.Duration())
		extra := time.Duration(rapid.Int64Range(0, int64(time.Hour)).Draw(t, "extra"))
		if got := p.Evaluate(p.Duration() + extra); got != end {
			t.Fatalf("after end got %v, want %v", got, end)
		}
	})
}
