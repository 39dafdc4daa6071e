package pool

import (
	"errors"
	"fmt"

	"github.com/ligustah/chunkline/pkg/transform"
)

// Task is one unit of work: transform the lines of Input into Output.
type Task struct {
	Index  int    // chunk ordinal
	Input  string // chunk file
	Output string // result file
}

// Status is the resolution of a single task.
type Status string

const (
	// StatusCompleted means the result file was fully written.
	StatusCompleted Status = "completed"
	// StatusFailed means the task reported an error.
	StatusFailed Status = "failed"
	// StatusCancelled means the task was stopped or never started because
	// the pool was cancelled.
	StatusCancelled Status = "cancelled"
)

// Result reports how a task resolved.
type Result struct {
	Index  int
	Status Status
	Output string // result file, set on success
	Lines  int
	Bytes  int64
	Err    error
}

// State is the pool state machine: init -> running -> completed | failed.
type State string

const (
	StateInit      State = "init"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// TaskError is a task failure with the chunk and line it originated from.
// Line is 0 when the failure is not tied to a line, e.g. a missing chunk.
type TaskError struct {
	Index int
	Chunk string
	Line  int
	Err   error
}

func (e *TaskError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("task %d (%s) line %d: %v", e.Index, e.Chunk, e.Line, e.Err)
	}
	return fmt.Sprintf("task %d (%s): %v", e.Index, e.Chunk, e.Err)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}

// newTaskError attaches task context to err, lifting the line number out of
// a transform.LineError.
func newTaskError(task Task, err error) *TaskError {
	te := &TaskError{Index: task.Index, Chunk: task.Input, Err: err}
	var lineErr *transform.LineError
	if errors.As(err, &lineErr) {
		te.Line = lineErr.Line
		te.Err = lineErr.Err
	}
	return te
}

// Sink receives progress notifications. Calls are serialized by the pool, so
// implementations need no locking of their own for these methods.
type Sink interface {
	TaskStarted(task Task)
	TaskDone(r Result)
}
