// Package metrics aggregates iteration outcomes into streaming statistics.
//
// Every completed iteration produces one [Outcome]. The [Registry] ingests
// outcomes concurrently from many goroutines: each call locks a single
// randomly chosen shard, so ingestion cost does not depend on how many
// metrics exist or how many goroutines are recording. Each shard keeps a
// quantile sketch and counters per metric name for the current reporting
// window.
//
// [Registry.Snapshot] swaps every shard's window out under that shard's
// lock, merges the windows into run-cumulative totals and returns an
// immutable [Snapshot]:
//
//	reg := metrics.NewRegistry()
//	reg.Observe(metrics.Outcome{StartedAt: t0, Duration: 12 * time.Millisecond})
//	snap := reg.Snapshot(time.Since(t0), metrics.Gauges{Active: 3})
//	p99 := snap.Metrics[metrics.IterationDuration].P99
//
// The implicit [IterationDuration] metric records every iteration's wall
// clock duration in milliseconds. Named measurements reported by a scenario
// become metrics of their own and are summarised the same way.
package metrics
