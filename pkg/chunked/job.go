package chunked

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"

	"github.com/ligustah/chunkline/pkg/transform"
)

const (
	// DefaultChunkLines is the chunk size used when Job.ChunkLines is zero.
	DefaultChunkLines = 10_000

	// ResultSuffix is appended to a chunk file name to name its result.
	ResultSuffix = ".result"

	// workspaceSuffix is appended to the output file name to name the
	// workspace directory under Job.WorkspaceDir.
	workspaceSuffix = ".chunks"
)

// Job describes one split, transform and merge run. A Job is a plain value;
// Run validates it and never modifies the caller's copy.
type Job struct {
	// Input is the file to transform. Required.
	Input string

	// Output is the file to produce. Its directory must exist. Required.
	Output string

	// Transform is applied to every line. Required.
	Transform transform.Func

	// ChunkLines is the maximum number of lines per chunk.
	// Default: 10,000
	ChunkLines int

	// Workers is the number of tasks processed at once.
	// Default: runtime.GOMAXPROCS(0)
	Workers int

	// WorkspaceDir is the absolute directory in which the job's workspace
	// is created.
	// Default: os.TempDir()
	WorkspaceDir string

	// Overwrite allows replacing an existing output file. NewJob sets it to
	// true.
	Overwrite bool
}

// NewJob returns a Job with defaults applied and Overwrite enabled.
func NewJob(input, output string, fn transform.Func) Job {
	return Job{
		Input:     input,
		Output:    output,
		Transform: fn,
		Overwrite: true,
	}.withDefaults()
}

func (j Job) withDefaults() Job {
	if j.ChunkLines == 0 {
		j.ChunkLines = DefaultChunkLines
	}
	if j.Workers == 0 {
		j.Workers = runtime.GOMAXPROCS(0)
	}
	if j.WorkspaceDir == "" {
		j.WorkspaceDir = os.TempDir()
	}
	return j
}

// WorkspacePath returns the directory that holds the job's chunk and result
// files: <WorkspaceDir>/<output name>.chunks
func (j Job) WorkspacePath() string {
	j = j.withDefaults()
	return filepath.Join(j.WorkspaceDir, filepath.Base(j.Output)+workspaceSuffix)
}

// Validate checks the job before any work starts. Every failure is an
// ErrValidation.
func (j Job) Validate() error {
	j = j.withDefaults()

	if j.Transform == nil {
		return validationError("check transform", "", errors.New("transform is required"))
	}
	if j.ChunkLines < 0 {
		return wrapf(ErrValidation, "chunk size must be positive, got %d", j.ChunkLines)
	}
	if j.Workers < 0 {
		return wrapf(ErrValidation, "worker count must be positive, got %d", j.Workers)
	}

	if err := j.validateWorkspace(); err != nil {
		return err
	}
	if err := j.validateOutput(); err != nil {
		return err
	}
	return j.validateInput()
}

// validateWorkspace runs before the input is opened.
func (j Job) validateWorkspace() error {
	if j.Output == "" {
		return validationError("check output", "", errors.New("output file is required"))
	}
	if !filepath.IsAbs(j.WorkspaceDir) {
		return validationError("check workspace dir", j.WorkspaceDir, errors.New("must be an absolute path"))
	}
	ws := j.WorkspacePath()
	if _, err := os.Lstat(ws); err == nil {
		return validationError("check workspace", ws, fs.ErrExist)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return validationError("check workspace", ws, err)
	}
	return nil
}

func (j Job) validateOutput() error {
	if j.Output == "" {
		return validationError("check output", "", errors.New("output file is required"))
	}
	dir, name := filepath.Split(j.Output)
	if name == "" || name == "." || name == ".." {
		return validationError("check output", j.Output, errors.New("output has no file name"))
	}
	if dir == "" {
		dir = "."
	}
	info, err := os.Stat(dir)
	if err != nil {
		return validationError("check output dir", dir, err)
	}
	if !info.IsDir() {
		return validationError("check output dir", dir, errors.New("not a directory"))
	}

	info, err = os.Stat(j.Output)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil
	case err != nil:
		return validationError("check output", j.Output, err)
	case info.IsDir():
		return validationError("check output", j.Output, errors.New("is a directory"))
	case !j.Overwrite:
		return validationError("check output", j.Output, fmt.Errorf("%w and overwrite is disabled", fs.ErrExist))
	}
	return nil
}

func (j Job) validateInput() error {
	if j.Input == "" {
		return validationError("check input", "", errors.New("input file is required"))
	}
	info, err := os.Stat(j.Input)
	if err != nil {
		return validationError("check input", j.Input, err)
	}
	if !info.Mode().IsRegular() {
		return validationError("check input", j.Input, errors.New("not a regular file"))
	}
	f, err := os.Open(j.Input)
	if err != nil {
		return validationError("check input", j.Input, err)
	}
	return f.Close()
}
