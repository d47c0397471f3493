// Package runner is the execution engine: it drives a [Scenario] under a
// load pattern and feeds every outcome into a metrics registry.
//
// # Basic Usage
//
//	pattern, _ := loadpattern.NewConstant(loadpattern.Concurrency, 10)
//	exec, err := runner.New(runner.Options{
//		Pattern:  pattern,
//		Scenario: runner.ScenarioFunc(checkout),
//		Duration: time.Minute,
//		Sinks:    []runner.Sink{progress},
//	})
//	if err != nil {
//		return err
//	}
//	summary, err := exec.Run(ctx)
//
// # Lifecycle
//
// An [Executor] moves Idle → Running → Draining → Stopped. A single
// scheduling goroutine ticks every [Options.TickInterval] and, in order,
// checks stop conditions, evaluates the pattern, asks the [Pacer] how many
// tasks to start, reaps finished tasks and pushes a snapshot to the sinks
// when the report interval has passed.
//
// Once Draining, no new iterations start. In-flight iterations get
// [Options.DrainTimeout] to finish; after that their contexts are cancelled
// and each is recorded as a cancelled failure.
//
// # Load Models
//
// Concurrency patterns run closed loop: each virtual user starts its next
// iteration as soon as the previous one returns. Arrival-rate patterns run
// open loop: iterations start on schedule no matter how long earlier ones
// take. [Options.MaxInFlight] bounds open-loop concurrency; arrivals over
// the bound are dropped and counted.
//
// # Failures
//
// A scenario error is a failure. A panic is recovered and recorded as a
// fault. Wrapping an error with [Abort] also stops the run.
//
// # Middleware
//
//   - [WithRetry]: retry failed iterations with a backoff policy
//   - [WithLogging]: report failures to a [FailureLogger]
//   - [WithTracing]: wrap each iteration in a span
package runner
