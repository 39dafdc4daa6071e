// Package chunked applies a line transform to a large text file in parallel.
//
// A job splits the input into chunk files of a fixed number of lines, runs a
// bounded pool of workers over the chunks and concatenates the per-chunk
// results, in chunk order, into the output file.
//
// # Running a job
//
// Use [NewJob] to build a [Job] with defaults and pass it to [Run]:
//
//	upper, _ := transform.Lookup("upper")
//	job := chunked.NewJob("in.txt", "out.txt", upper)
//	job.Workers = 8
//	res := chunked.Run(ctx, job, chunked.WithLogger(logger))
//	if !res.OK {
//		log.Fatal(res.Message)
//	}
//
// Options:
//   - [WithRunner]: process chunks in a subprocess instead of in-process
//   - [WithSink]: receive task events, e.g. for a progress display
//   - [WithTaskTimeout]: limit the time spent on one chunk
//   - [WithOnSplit]: observe the [Manifest] before workers start
//
// # Failure
//
// A job either fully succeeds or leaves the output untouched. The first task
// failure cancels every other task. Errors are classified with [KindOf] into
// [ErrValidation], [ErrSplit], [ErrTask] and [ErrMerge].
//
// # Workspace Layout
//
//	{workspace dir}/{output name}.chunks/part-00000000
//	{workspace dir}/{output name}.chunks/part-00000000.result
//	{workspace dir}/{output name}.chunks/part-00000001
//	...
//
// The workspace must not exist when the job starts and is removed when it
// ends, whatever the outcome.
package chunked
