package chunked

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/ligustah/chunkline/pkg/pool"
)

// Result is the outcome of Run. Err is nil exactly when OK is true.
type Result struct {
	OK      bool
	Elapsed time.Duration

	// Err is the failure, if any. Kind is its classification (ErrValidation,
	// ErrSplit, ErrTask, ErrMerge) or nil for a cancellation or an error this
	// package does not classify.
	Err  error
	Kind error

	// Message renders Err as "<Kind>: <message>", e.g.
	// "TaskError: task 3 (part-00000003) line 12: boom".
	Message string

	Chunks int
	Lines  int64
	Bytes  int64
	JobID  string
}

type runOptions struct {
	logger       *slog.Logger
	runner       pool.Runner
	sink         pool.Sink
	taskTimeout  time.Duration
	pollInterval time.Duration
	skipEncoding bool
	onSplit      func(Manifest)
}

// Option configures Run.
type Option func(*runOptions)

// WithLogger sets the logger. Default discards.
func WithLogger(l *slog.Logger) Option {
	return func(o *runOptions) {
		o.logger = l
	}
}

// WithRunner sets how chunks are processed.
// Default: pool.InProcess with the job's transform. Use pool.Process to run
// each chunk in its own OS process, so a transform that crashes or exits
// cannot take down the caller.
func WithRunner(r pool.Runner) Option {
	return func(o *runOptions) {
		o.runner = r
	}
}

// WithSink receives task start and completion events from the pool.
func WithSink(s pool.Sink) Option {
	return func(o *runOptions) {
		o.sink = s
	}
}

// WithTaskTimeout bounds the time spent on a single chunk. Zero means no
// limit.
func WithTaskTimeout(d time.Duration) Option {
	return func(o *runOptions) {
		o.taskTimeout = d
	}
}

// WithPollInterval sets how often the pool checks for caller cancellation.
func WithPollInterval(d time.Duration) Option {
	return func(o *runOptions) {
		o.pollInterval = d
	}
}

// WithSkipEncodingCheck disables UTF-8 validation of the input.
func WithSkipEncodingCheck() Option {
	return func(o *runOptions) {
		o.skipEncoding = true
	}
}

// WithOnSplit is called with the manifest once splitting succeeds and
// before any task runs.
func WithOnSplit(fn func(Manifest)) Option {
	return func(o *runOptions) {
		o.onSplit = fn
	}
}

// Run validates job, splits the input into chunks, transforms every chunk
// with a bounded pool of workers and merges the results into job.Output.
//
// The job either fully succeeds or fails without writing the output. The
// workspace is removed on every path. Cancelling ctx stops the workers
// cooperatively and fails the job with the context error.
func Run(ctx context.Context, job Job, options ...Option) (res Result) {
	start := time.Now()
	o := runOptions{}
	for _, opt := range options {
		opt(&o)
	}
	logger := o.logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	res.JobID = uuid.NewString()
	logger = logger.With(slog.String("component", "chunked"), slog.String("job_id", res.JobID))

	defer func() {
		res.Elapsed = time.Since(start)
		res.OK = res.Err == nil
		if res.Err != nil {
			res.Kind = KindOf(res.Err)
			res.Message = kindName(res.Kind) + ": " + res.Err.Error()
			logger.Error("job failed", "kind", kindName(res.Kind), "error", res.Err, "elapsed", res.Elapsed)
			return
		}
		logger.Info("processing took", "elapsed", res.Elapsed, "chunks", res.Chunks, "lines", res.Lines, "bytes", res.Bytes)
	}()

	if err := job.Validate(); err != nil {
		res.Err = err
		return res
	}
	job = job.withDefaults()

	ws := NewWorkspace(job.WorkspacePath())
	defer func() {
		if err := ws.Remove(); err != nil {
			logger.Warn("remove workspace", "path", ws.Path(), "error", err)
		}
	}()

	logger.Info("job started",
		"input", job.Input,
		"output", job.Output,
		"chunk_lines", job.ChunkLines,
		"workers", job.Workers,
		"workspace", ws.Path(),
	)

	splitter := Splitter{ChunkLines: job.ChunkLines, CheckEncoding: !o.skipEncoding}
	m, err := splitter.Split(ctx, job.Input, ws)
	if err != nil {
		res.Err = err
		return res
	}
	res.Chunks = len(m.Chunks)
	logger.Info("input split",
		"chunks", len(m.Chunks),
		"lines", humanize.Comma(m.TotalLines),
		"size", humanize.IBytes(uint64(m.TotalBytes)),
	)
	if o.onSplit != nil {
		o.onSplit(*m)
	}

	runner := o.runner
	if runner == nil {
		runner = pool.InProcess{Fn: job.Transform}
	}
	poolOpts := []pool.Option{
		pool.WithWorkers(job.Workers),
		pool.WithLogger(logger),
		pool.WithTaskTimeout(o.taskTimeout),
	}
	if o.sink != nil {
		poolOpts = append(poolOpts, pool.WithSink(o.sink))
	}
	if o.pollInterval > 0 {
		poolOpts = append(poolOpts, pool.WithPollInterval(o.pollInterval))
	}

	results, err := pool.New(runner, poolOpts...).Run(ctx, m.Tasks())
	if err != nil {
		var te *pool.TaskError
		if errors.As(err, &te) {
			res.Err = &Error{Kind: ErrTask, Op: "transform chunk", Err: te}
		} else {
			res.Err = err
		}
		return res
	}
	for _, r := range results {
		res.Lines += int64(r.Lines)
	}

	n, err := Merge(ctx, m.Chunks, job.Output, job.Overwrite)
	if err != nil {
		res.Err = err
		return res
	}
	res.Bytes = n
	logger.Info("results merged", "output", job.Output, "size", humanize.IBytes(uint64(n)))

	if err := ws.Remove(); err != nil {
		logger.Warn("remove workspace", "path", ws.Path(), "error", err)
	} else {
		logger.Debug("workspace removed", "path", ws.Path())
	}
	return res
}
