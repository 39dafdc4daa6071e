package pool

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/ligustah/chunkline/pkg/transform"
)

// InProcess runs tasks on goroutines of the current process. Panics in Fn
// are recovered and reported as task failures.
type InProcess struct {
	Fn transform.Func
}

// Run implements Runner.
func (r InProcess) Run(ctx context.Context, task Task) (transform.Stats, error) {
	return transform.ApplyFile(ctx, task.Input, task.Output, r.Fn)
}

// Process runs every task in its own OS process, so a crashing or
// misbehaving transform cannot touch the orchestrator's memory. The child
// is the worker subcommand of the same binary; the transform is passed by
// its registered name.
//
// On cancellation the child receives SIGTERM and is killed if it has not
// exited after WaitDelay.
type Process struct {
	// Path is the executable. Default: os.Executable()
	Path string

	// Args precede the worker flags. Default: ["worker"]
	Args []string

	// Transform is the registered transform name, e.g. "repeat:10".
	Transform string

	// Env is appended to the current environment.
	Env []string

	// WaitDelay bounds how long a terminated child may linger.
	// Default: 5s
	WaitDelay time.Duration
}

// Report is the JSON document a worker process prints on stdout.
type Report struct {
	Lines int    `json:"lines"`
	Bytes int64  `json:"bytes"`
	Line  int    `json:"line,omitempty"`
	Error string `json:"error,omitempty"`
}

// Run implements Runner.
func (p Process) Run(ctx context.Context, task Task) (transform.Stats, error) {
	var stats transform.Stats

	path := p.Path
	if path == "" {
		exe, err := os.Executable()
		if err != nil {
			return stats, fmt.Errorf("pool: locate executable: %w", err)
		}
		path = exe
	}
	args := p.Args
	if args == nil {
		args = []string{"worker"}
	}
	args = append(append([]string{}, args...),
		"-transform", p.Transform,
		"-input", task.Input,
		"-output", task.Output,
	)

	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Env = append(os.Environ(), p.Env...)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = p.WaitDelay
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = 5 * time.Second
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if ctx.Err() != nil {
		return stats, ctx.Err()
	}

	rep, decodeErr := lastReport(stdout.Bytes())
	if decodeErr != nil {
		if runErr != nil {
			return stats, fmt.Errorf("worker process: %w: %s", runErr, strings.TrimSpace(stderr.String()))
		}
		return stats, fmt.Errorf("worker process: %w", decodeErr)
	}

	stats.Lines = rep.Lines
	stats.Bytes = rep.Bytes
	if rep.Error != "" {
		err := errors.New(rep.Error)
		if rep.Line > 0 {
			return stats, &transform.LineError{Line: rep.Line, Err: err}
		}
		return stats, err
	}
	if runErr != nil {
		return stats, fmt.Errorf("worker process: %w", runErr)
	}
	return stats, nil
}

// lastReport decodes the last non-empty line of out.
func lastReport(out []byte) (Report, error) {
	var rep Report
	out = bytes.TrimSpace(out)
	if i := bytes.LastIndexByte(out, '\n'); i >= 0 {
		out = out[i+1:]
	}
	if len(out) == 0 {
		return rep, errors.New("no report on stdout")
	}
	if err := json.Unmarshal(out, &rep); err != nil {
		return rep, fmt.Errorf("decode report: %w", err)
	}
	return rep, nil
}

// Work is the body of a worker process: it resolves the named transform,
// processes one task and returns the report to print.
func Work(ctx context.Context, name string, task Task) Report {
	fn, err := transform.Lookup(name)
	if err != nil {
		return Report{Error: err.Error()}
	}

	stats, err := transform.ApplyFile(ctx, task.Input, task.Output, fn)
	rep := Report{Lines: stats.Lines, Bytes: stats.Bytes}
	if err != nil {
		var lineErr *transform.LineError
		if errors.As(err, &lineErr) {
			rep.Line = lineErr.Line
			rep.Error = lineErr.Err.Error()
		} else {
			rep.Error = err.Error()
		}
	}
	return rep
}
