// Package pool executes one task per chunk with bounded concurrency and
// all-or-nothing semantics.
//
// All tasks are submitted up front; a weighted semaphore keeps at most
// min(workers, tasks) of them running. Each task reports a [Result] message
// to a single collector loop, which owns the pool state:
//
//	init -> running -> completed
//	                -> failed     (terminal, first error wins)
//
// On the first failure the collector cancels every other task. Cancellation
// is cooperative: in-process workers check the context between lines, and
// worker processes receive SIGTERM. A task that finishes anyway is recorded
// but cannot revert the failed state.
//
// # Runners
//
//   - [InProcess]: goroutine workers calling a transform.Func directly.
//   - [Process]: one OS process per task running the binary's worker
//     subcommand with a registered transform name.
//
// # Usage
//
//	p := pool.New(pool.InProcess{Fn: fn},
//	    pool.WithWorkers(8),
//	    pool.WithSink(reporter),
//	)
//	results, err := p.Run(ctx, tasks)
package pool
