package loadpattern

import (
	"fmt"
	"sort"
	"time"
)

// Stage is one window of a Staged pattern. Shape is evaluated with the time
// elapsed since the stage began.
type Stage struct {
	Duration time.Duration
	Shape    Pattern
}

// Staged runs a sequence of stages back to back. Once every stage has
// elapsed it keeps returning the last stage's terminal value.
type Staged struct {
	kind     Kind
	stages   []Stage
	ends     []time.Duration
	duration time.Duration
}

// NewStaged builds a Staged pattern. All stages must share one Kind and
// have a positive duration.
func NewStaged(stages ...Stage) (*Staged, error) {
	if len(stages) == 0 {
		return nil, configErrorf("stages", "at least one stage is required")
	}
	cfgErr := &ConfigurationError{Field: "stages"}
	kind := Kind(-1)
	for i, st := range stages {
		if st.Shape == nil {
			cfgErr.Issues = append(cfgErr.Issues, fmt.Sprintf("stage %d: shape is required", i))
			continue
		}
		if st.Duration <= 0 {
			cfgErr.Issues = append(cfgErr.Issues, fmt.Sprintf("stage %d: duration must be positive, got %s", i, st.Duration))
		}
		if kind < 0 {
			kind = st.Shape.Kind()
		} else if st.Shape.Kind() != kind {
			cfgErr.Issues = append(cfgErr.Issues, fmt.Sprintf("stage %d: %s stage cannot follow %s stages", i, st.Shape.Kind(), kind))
		}
	}
	if len(cfgErr.Issues) > 0 {
		return nil, cfgErr
	}

	s := &Staged{
		kind:   kind,
		stages: append([]Stage(nil), stages...),
		ends:   make([]time.Duration, len(stages)),
	}
	var offset time.Duration
	for i, st := range stages {
		offset += st.Duration
		s.ends[i] = offset
	}
	s.duration = offset
	return s, nil
}

func (s *Staged) Kind() Kind              { return s.kind }
func (s *Staged) Duration() time.Duration { return s.duration }

// Stages returns a copy of the stage list.
func (s *Staged) Stages() []Stage {
	return append([]Stage(nil), s.stages...)
}

// NumStages reports how many stages the pattern has.
func (s *Staged) NumStages() int { return len(s.stages) }

// StageAt reports which stage is active at elapsed, or len(stages) once the
// pattern is exhausted.
func (s *Staged) StageAt(elapsed time.Duration) int {
	if elapsed < 0 {
		elapsed = 0
	}
	return sort.Search(len(s.ends), func(i int) bool { return elapsed < s.ends[i] })
}

func (s *Staged) Evaluate(elapsed time.Duration) Target {
	if elapsed < 0 {
		elapsed = 0
	}
	idx := s.StageAt(elapsed)
	if idx >= len(s.stages) {
		last := s.stages[len(s.stages)-1]
		return last.Shape.Evaluate(last.Duration)
	}
	start := s.ends[idx] - s.stages[idx].Duration
	return s.stages[idx].Shape.Evaluate(elapsed - start)
}

// Step is one leg of a ramping profile: move to Target over Duration.
type Step struct {
	Duration time.Duration
	Target   float64
}

// NewRamping builds a staged profile that ramps from start to each step's
// target in turn, the way ramping-users and ramping-arrival-rate profiles
// are usually written. A step whose target equals the previous one holds
// that value.
func NewRamping(kind Kind, start float64, steps ...Step) (*Staged, error) {
	if err := checkValue("ramping start", start); err != nil {
		return nil, err
	}
	stages := make([]Stage, 0, len(steps))
	from := start
	for i, step := range steps {
		var (
			shape Pattern
			err   error
		)
		if step.Target == from {
			shape, err = NewConstant(kind, step.Target)
		} else {
			shape, err = NewRamp(kind, from, step.Target, step.Duration)
		}
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		stages = append(stages, Stage{Duration: step.Duration, Shape: shape})
		from = step.Target
	}
	return NewStaged(stages...)
}

// NewSteps builds a staged profile of constant plateaus.
func NewSteps(kind Kind, steps ...Step) (*Staged, error) {
	stages := make([]Stage, 0, len(steps))
	for i, step := range steps {
		shape, err := NewConstant(kind, step.Target)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		stages = append(stages, Stage{Duration: step.Duration, Shape: shape})
	}
	return NewStaged(stages...)
}
