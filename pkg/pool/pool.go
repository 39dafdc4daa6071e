package pool

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/ligustah/chunkline/pkg/transform"
)

// Runner executes a single task.
type Runner interface {
	Run(ctx context.Context, task Task) (transform.Stats, error)
}

// Options configures a Pool.
type Options struct {
	// Workers bounds how many tasks run at once.
	// Default: 1
	Workers int

	// Sink is notified as tasks start and resolve. Optional.
	Sink Sink

	// Logger receives pool events. Default discards.
	Logger *slog.Logger

	// TaskTimeout limits each task. Zero means no limit, so a hung task
	// stalls the pool until the caller cancels.
	TaskTimeout time.Duration

	// PollInterval bounds how long the collector waits between checks of
	// the caller's context.
	// Default: 500ms
	PollInterval time.Duration
}

// Option is a functional option for configuring a Pool.
type Option func(*Options)

// WithWorkers sets the concurrency limit.
func WithWorkers(n int) Option {
	return func(o *Options) {
		o.Workers = n
	}
}

// WithSink sets the progress sink.
func WithSink(s Sink) Option {
	return func(o *Options) {
		o.Sink = s
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

// WithTaskTimeout sets a per-task time limit.
func WithTaskTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.TaskTimeout = d
	}
}

// WithPollInterval sets the collector's poll interval.
func WithPollInterval(d time.Duration) Option {
	return func(o *Options) {
		o.PollInterval = d
	}
}

// Snapshot is a point-in-time copy of the pool state.
type Snapshot struct {
	State      State
	Total      int
	Completed  int
	Failed     int
	Cancelled  int
	Cancelling bool
	Err        error
}

// Resolved returns how many tasks have finished in any way.
func (s Snapshot) Resolved() int {
	return s.Completed + s.Failed + s.Cancelled
}

// Pool runs one task per chunk with bounded concurrency and collapses the
// batch into a single outcome. The first failure wins: it cancels every
// other task and later errors are discarded.
type Pool struct {
	runner Runner
	opts   Options
	logger *slog.Logger

	// All fields below are guarded by mu. Only the collector and the
	// dispatch path (sink notification) take it.
	mu         sync.Mutex
	state      State
	total      int
	completed  int
	failed     int
	cancelled  int
	cancelling bool
	firstErr   error
}

// New creates a pool that executes tasks with runner.
func New(runner Runner, options ...Option) *Pool {
	opts := Options{
		Workers:      1,
		PollInterval: 500 * time.Millisecond,
	}
	for _, opt := range options {
		opt(&opts)
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Pool{
		runner: runner,
		opts:   opts,
		logger: logger.With(slog.String("component", "pool")),
		state:  StateInit,
	}
}

// outcome is the message a dispatched task sends to the collector.
type outcome struct {
	pos    int
	result Result
}

// Run submits every task up front and blocks until all of them have
// resolved. Concurrency is min(workers, len(tasks)). The returned results
// are in the same order as tasks. The error is nil only if every task
// completed; otherwise it is the first *TaskError, or the context error when
// the caller cancelled before any task failed.
func (p *Pool) Run(ctx context.Context, tasks []Task) ([]Result, error) {
	if p.runner == nil {
		return nil, errors.New("pool: nil runner")
	}

	p.mu.Lock()
	if p.state != StateInit {
		p.mu.Unlock()
		return nil, errors.New("pool: already started")
	}
	p.state = StateRunning
	p.total = len(tasks)
	p.mu.Unlock()

	results := make([]Result, len(tasks))
	if len(tasks) == 0 {
		p.finish(ctx)
		return results, nil
	}

	workers := min(p.opts.Workers, len(tasks))
	p.logger.Info("pool started", "tasks", len(tasks), "workers", workers)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sem := semaphore.NewWeighted(int64(workers))
	outCh := make(chan outcome, len(tasks))
	for i, task := range tasks {
		go p.dispatch(runCtx, sem, i, task, outCh)
	}

	ticker := time.NewTicker(p.opts.PollInterval)
	defer ticker.Stop()

	for resolved := 0; resolved < len(tasks); {
		select {
		case o := <-outCh:
			resolved++
			results[o.pos] = o.result
			p.record(o.result, cancel)
		case <-ticker.C:
			if err := ctx.Err(); err != nil {
				p.interrupt(err, cancel)
			}
			snap := p.Snapshot()
			p.logger.Debug("waiting for tasks", "resolved", snap.Resolved(), "total", snap.Total)
		}
	}

	err := p.finish(ctx)
	return results, err
}

// dispatch waits for a worker slot, runs the task and reports the outcome.
func (p *Pool) dispatch(ctx context.Context, sem *semaphore.Weighted, pos int, task Task, outCh chan<- outcome) {
	r := Result{Index: task.Index}

	if err := sem.Acquire(ctx, 1); err != nil {
		r.Status = StatusCancelled
		r.Err = err
		outCh <- outcome{pos: pos, result: r}
		return
	}
	defer sem.Release(1)

	// Acquire may succeed on a done context.
	if err := ctx.Err(); err != nil {
		r.Status = StatusCancelled
		r.Err = err
		outCh <- outcome{pos: pos, result: r}
		return
	}

	p.started(task)

	taskCtx := ctx
	if p.opts.TaskTimeout > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(ctx, p.opts.TaskTimeout)
		defer cancel()
	}

	stats, err := p.runner.Run(taskCtx, task)
	r.Lines = stats.Lines
	r.Bytes = stats.Bytes
	switch {
	case err == nil:
		r.Status = StatusCompleted
		r.Output = task.Output
	case ctx.Err() != nil:
		// Interrupted by cancellation of the whole pool, not a failure of
		// its own.
		r.Status = StatusCancelled
		r.Err = err
	default:
		r.Status = StatusFailed
		r.Err = newTaskError(task, err)
	}
	outCh <- outcome{pos: pos, result: r}
}

func (p *Pool) started(task Task) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.opts.Sink != nil {
		p.opts.Sink.TaskStarted(task)
	}
}

// record applies a task outcome to the pool state.
func (p *Pool) record(r Result, cancel context.CancelFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch r.Status {
	case StatusCompleted:
		p.completed++
	case StatusFailed:
		p.failed++
		if p.firstErr == nil {
			p.firstErr = r.Err
			p.state = StateFailed
			p.cancelling = true
			p.logger.Error("task failed, cancelling remaining tasks", "task", r.Index, "error", r.Err)
			cancel()
		} else {
			p.logger.Debug("discarding later task error", "task", r.Index, "error", r.Err)
		}
	case StatusCancelled:
		p.cancelled++
	}

	if p.opts.Sink != nil {
		p.opts.Sink.TaskDone(r)
	}
}

// interrupt handles cancellation by the caller.
func (p *Pool) interrupt(err error, cancel context.CancelFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancelling {
		return
	}
	p.cancelling = true
	p.logger.Warn("pool interrupted", "error", err)
	cancel()
}

// finish moves the pool to its terminal state.
func (p *Pool) finish(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == StateRunning {
		if err := ctx.Err(); err != nil && p.completed < p.total {
			p.state = StateFailed
			p.cancelling = true
			p.firstErr = err
		} else {
			p.state = StateCompleted
		}
	}

	p.logger.Info("pool finished",
		"state", p.state,
		"completed", p.completed,
		"failed", p.failed,
		"cancelled", p.cancelled,
	)
	if p.state == StateFailed {
		return p.firstErr
	}
	return nil
}

// Snapshot returns a copy of the current pool state. Safe for concurrent use.
func (p *Pool) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Snapshot{
		State:      p.state,
		Total:      p.total,
		Completed:  p.completed,
		Failed:     p.failed,
		Cancelled:  p.cancelled,
		Cancelling: p.cancelling,
		Err:        p.firstErr,
	}
}
