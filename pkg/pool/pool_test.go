package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ligustah/chunkline/pkg/transform"
)

// runnerFunc adapts a function to the Runner interface.
type runnerFunc func(ctx context.Context, task Task) (transform.Stats, error)

func (f runnerFunc) Run(ctx context.Context, task Task) (transform.Stats, error) {
	return f(ctx, task)
}

func makeTasks(n int) []Task {
	tasks := make([]Task, n)
	for i := range tasks {
		tasks[i] = Task{
			Index:  i,
			Input:  fmt.Sprintf("part-%08d", i),
			Output: fmt.Sprintf("part-%08d.result", i),
		}
	}
	return tasks
}

// recordingSink counts notifications and detects overlapping calls.
type recordingSink struct {
	inCall  atomic.Bool
	overlap atomic.Bool
	started atomic.Int32
	done    map[int]int
}

func newRecordingSink() *recordingSink {
	return &recordingSink{done: map[int]int{}}
}

func (s *recordingSink) enter() func() {
	if !s.inCall.CompareAndSwap(false, true) {
		s.overlap.Store(true)
	}
	time.Sleep(time.Millisecond)
	return func() { s.inCall.Store(false) }
}

func (s *recordingSink) TaskStarted(Task) {
	defer s.enter()()
	s.started.Add(1)
}

func (s *recordingSink) TaskDone(r Result) {
	defer s.enter()()
	s.done[r.Index]++
}

func TestRunAllComplete(t *testing.T) {
	sink := newRecordingSink()
	p := New(runnerFunc(func(ctx context.Context, task Task) (transform.Stats, error) {
		// Finish in reverse order to show results stay in task order.
		time.Sleep(time.Duration(10-task.Index) * time.Millisecond)
		return transform.Stats{Lines: task.Index + 1, Bytes: 2}, nil
	}), WithWorkers(4), WithSink(sink))

	results, err := p.Run(context.Background(), makeTasks(10))
	require.NoError(t, err)
	require.Len(t, results, 10)
	for i, r := range results {
		require.Equal(t, i, r.Index)
		require.Equal(t, StatusCompleted, r.Status)
		require.Equal(t, fmt.Sprintf("part-%08d.result", i), r.Output)
		require.Equal(t, i+1, r.Lines)
	}

	snap := p.Snapshot()
	require.Equal(t, StateCompleted, snap.State)
	require.Equal(t, 10, snap.Completed)
	require.NoError(t, snap.Err)

	require.False(t, sink.overlap.Load(), "sink calls must be serialized")
	require.EqualValues(t, 10, sink.started.Load())
	for i := 0; i < 10; i++ {
		require.Equal(t, 1, sink.done[i], "task %d must be reported exactly once", i)
	}
}

func TestRunBoundsConcurrency(t *testing.T) {
	var running, peak atomic.Int32
	p := New(runnerFunc(func(ctx context.Context, task Task) (transform.Stats, error) {
		n := running.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		running.Add(-1)
		return transform.Stats{}, nil
	}), WithWorkers(3))

	_, err := p.Run(context.Background(), makeTasks(20))
	require.NoError(t, err)
	require.LessOrEqual(t, peak.Load(), int32(3))
}

func TestRunFirstErrorCancelsOthers(t *testing.T) {
	boom := errors.New("boom")
	p := New(runnerFunc(func(ctx context.Context, task Task) (transform.Stats, error) {
		if task.Index == 0 {
			return transform.Stats{}, &transform.LineError{Line: 7, Err: boom}
		}
		<-ctx.Done()
		return transform.Stats{}, ctx.Err()
	}), WithWorkers(4), WithPollInterval(10*time.Millisecond))

	results, err := p.Run(context.Background(), makeTasks(8))

	var taskErr *TaskError
	require.ErrorAs(t, err, &taskErr)
	require.Equal(t, 0, taskErr.Index)
	require.Equal(t, 7, taskErr.Line)
	require.Equal(t, "part-00000000", taskErr.Chunk)
	require.ErrorIs(t, err, boom)

	require.Equal(t, StatusFailed, results[0].Status)
	for _, r := range results[1:] {
		require.Equal(t, StatusCancelled, r.Status)
	}

	snap := p.Snapshot()
	require.Equal(t, StateFailed, snap.State)
	require.True(t, snap.Cancelling)
	require.Equal(t, 1, snap.Failed)
	require.Equal(t, 7, snap.Cancelled)
}

func TestRunFailedIsTerminal(t *testing.T) {
	failed := make(chan struct{})
	p := New(runnerFunc(func(ctx context.Context, task Task) (transform.Stats, error) {
		if task.Index == 0 {
			defer close(failed)
			return transform.Stats{}, errors.New("first")
		}
		// Ignore cancellation and finish successfully after the failure.
		<-failed
		time.Sleep(10 * time.Millisecond)
		return transform.Stats{Lines: 1}, nil
	}), WithWorkers(2))

	results, err := p.Run(context.Background(), makeTasks(2))
	require.Error(t, err)
	require.Equal(t, StatusFailed, results[0].Status)
	require.Equal(t, StateFailed, p.Snapshot().State)
}

func TestRunDiscardsLaterErrors(t *testing.T) {
	var calls atomic.Int32
	p := New(runnerFunc(func(ctx context.Context, task Task) (transform.Stats, error) {
		n := calls.Add(1)
		time.Sleep(time.Duration(n) * 5 * time.Millisecond)
		return transform.Stats{}, fmt.Errorf("error %d", n)
	}), WithWorkers(2))

	_, err := p.Run(context.Background(), makeTasks(2))

	var taskErr *TaskError
	require.ErrorAs(t, err, &taskErr)
	require.EqualError(t, taskErr.Err, "error 1")
}

func TestRunParentCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{}, 4)
	p := New(runnerFunc(func(ctx context.Context, task Task) (transform.Stats, error) {
		started <- struct{}{}
		<-ctx.Done()
		return transform.Stats{}, ctx.Err()
	}), WithWorkers(2), WithPollInterval(5*time.Millisecond))

	go func() {
		<-started
		cancel()
	}()

	_, err := p.Run(ctx, makeTasks(4))
	require.ErrorIs(t, err, context.Canceled)

	snap := p.Snapshot()
	require.Equal(t, StateFailed, snap.State)
	require.Equal(t, 4, snap.Cancelled)
}

func TestRunTaskTimeout(t *testing.T) {
	p := New(runnerFunc(func(ctx context.Context, task Task) (transform.Stats, error) {
		<-ctx.Done()
		return transform.Stats{}, ctx.Err()
	}), WithTaskTimeout(20*time.Millisecond))

	_, err := p.Run(context.Background(), makeTasks(1))

	var taskErr *TaskError
	require.ErrorAs(t, err, &taskErr)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRunEmpty(t *testing.T) {
	p := New(InProcess{Fn: transform.Repeat(1)})

	results, err := p.Run(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, results)
	require.Equal(t, StateCompleted, p.Snapshot().State)
}

func TestRunTwice(t *testing.T) {
	p := New(runnerFunc(func(ctx context.Context, task Task) (transform.Stats, error) {
		return transform.Stats{}, nil
	}))

	_, err := p.Run(context.Background(), makeTasks(1))
	require.NoError(t, err)

	_, err = p.Run(context.Background(), makeTasks(1))
	require.Error(t, err)
}

func TestSnapshotConcurrent(t *testing.T) {
	p := New(runnerFunc(func(ctx context.Context, task Task) (transform.Stats, error) {
		time.Sleep(time.Millisecond)
		return transform.Stats{}, nil
	}), WithWorkers(4))

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				snap := p.Snapshot()
				require.LessOrEqual(t, snap.Resolved(), 50)
			}
		}
	}()

	_, err := p.Run(context.Background(), makeTasks(50))
	close(stop)
	wg.Wait()
	require.NoError(t, err)
}
