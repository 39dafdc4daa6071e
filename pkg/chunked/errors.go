package chunked

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Use errors.Is to classify an error returned by this package.
var (
	// ErrValidation: bad paths or options, a pre-existing workspace, or
	// input that is not valid UTF-8. Nothing has been processed.
	ErrValidation = errors.New("validation error")

	// ErrSplit: I/O failure while dividing the input into chunks.
	ErrSplit = errors.New("split error")

	// ErrTask: a transform failed on some line or a chunk was missing. The
	// underlying error is a *pool.TaskError.
	ErrTask = errors.New("task error")

	// ErrMerge: a result file was missing or unreadable after the pool
	// reported success.
	ErrMerge = errors.New("merge error")
)

// Error is a classified failure of one step of a job.
type Error struct {
	Kind error  // one of ErrValidation, ErrSplit, ErrTask, ErrMerge
	Op   string // what was being done
	Path string // file involved, if any
	Err  error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("chunked: ")
	b.WriteString(e.Kind.Error())
	if e.Op != "" {
		b.WriteString(": ")
		b.WriteString(e.Op)
	}
	if e.Path != "" {
		b.WriteString(" ")
		b.WriteString(e.Path)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func validationError(op, path string, err error) error {
	return &Error{Kind: ErrValidation, Op: op, Path: path, Err: err}
}

func splitError(op, path string, err error) error {
	return &Error{Kind: ErrSplit, Op: op, Path: path, Err: err}
}

func mergeError(op, path string, err error) error {
	return &Error{Kind: ErrMerge, Op: op, Path: path, Err: err}
}

// KindOf returns the kind of err, or nil if err was not produced by this
// package.
func KindOf(err error) error {
	for _, kind := range []error{ErrValidation, ErrSplit, ErrTask, ErrMerge} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// kindName renders a kind the way job results report it.
func kindName(kind error) string {
	switch kind {
	case ErrValidation:
		return "ValidationError"
	case ErrSplit:
		return "SplitError"
	case ErrTask:
		return "TaskError"
	case ErrMerge:
		return "MergeError"
	}
	return "Error"
}

func wrapf(kind error, format string, args ...any) error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}
