// Package loadpattern describes how much load a run should apply at any
// instant.
//
// A [Pattern] is a pure function of elapsed run time. It yields a [Target]
// that is either a number of concurrent virtual users (closed loop) or an
// arrival rate in iterations per second (open loop). Patterns are built from
// three primitive shapes:
//   - [Constant]: the same value for the whole run
//   - [Ramp]: linear interpolation between two values over a duration
//   - [Staged]: an ordered sequence of (duration, shape) stages
//
// Construction validates every parameter and returns a [*ConfigurationError]
// instead of clamping bad input. A run never mixes the two target kinds, so
// a Staged pattern rejects stages of different kinds.
//
//	p, err := loadpattern.NewRamping(loadpattern.ArrivalRate, 0,
//		loadpattern.Step{Duration: 30 * time.Second, Target: 100},
//		loadpattern.Step{Duration: time.Minute, Target: 100},
//	)
//	target := p.Evaluate(45 * time.Second) // 100 iterations/s
package loadpattern
