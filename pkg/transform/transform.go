package transform

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
)

// Func transforms a single line. The line passed in includes its terminator
// (if any), and the returned string is written to the result verbatim.
//
// A Func must not depend on shared mutable state: it may run in a separate
// worker process, and lines of a failed batch are never retried.
type Func func(line string) (string, error)

// LineError reports a transform failure on a specific line of a chunk.
type LineError struct {
	Line int // 1-based line number within the chunk
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *LineError) Unwrap() error {
	return e.Err
}

// Stats summarizes a processed chunk.
type Stats struct {
	Lines int
	Bytes int64
}

// ApplyFile reads input line by line, applies fn and writes the results to
// output, which is created or truncated. The context is checked between lines
// so a cancelled job stops promptly.
func ApplyFile(ctx context.Context, input, output string, fn Func) (Stats, error) {
	var stats Stats
	if fn == nil {
		return stats, errors.New("transform: nil func")
	}

	in, err := os.Open(input)
	if err != nil {
		return stats, fmt.Errorf("transform: open chunk: %w", err)
	}
	defer in.Close()

	out, err := os.Create(output)
	if err != nil {
		return stats, fmt.Errorf("transform: create result: %w", err)
	}

	r := bufio.NewReaderSize(in, 64*1024)
	w := bufio.NewWriterSize(out, 64*1024)

	stats, err = apply(ctx, r, w, fn)
	if err == nil {
		err = w.Flush()
	}
	if cerr := out.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("transform: close result: %w", cerr)
	}
	return stats, err
}

func apply(ctx context.Context, r *bufio.Reader, w *bufio.Writer, fn Func) (Stats, error) {
	var stats Stats
	done := ctx.Done()
	for {
		select {
		case <-done:
			return stats, ctx.Err()
		default:
		}

		line, readErr := r.ReadString('\n')
		if len(line) > 0 {
			res, err := call(fn, line)
			if err != nil {
				return stats, &LineError{Line: stats.Lines + 1, Err: err}
			}
			n, err := w.WriteString(res)
			if err != nil {
				return stats, fmt.Errorf("transform: write result: %w", err)
			}
			stats.Lines++
			stats.Bytes += int64(n)
		}
		if readErr == io.EOF {
			return stats, nil
		}
		if readErr != nil {
			return stats, fmt.Errorf("transform: read chunk: %w", readErr)
		}
	}
}

// call invokes fn, turning a panic into an error.
func call(fn Func, line string) (res string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return fn(line)
}
