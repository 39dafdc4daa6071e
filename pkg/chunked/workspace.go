package chunked

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// Workspace owns the scratch directory of one job. It is created at most
// once, must not exist beforehand, and Remove is safe to call any number of
// times.
type Workspace struct {
	path string

	mu      sync.Mutex
	created bool
	removed bool
}

// NewWorkspace returns a handle for path without touching the filesystem.
func NewWorkspace(path string) *Workspace {
	return &Workspace{path: path}
}

// Path returns the workspace directory.
func (w *Workspace) Path() string {
	return w.path
}

// Create makes the workspace directory. It fails with ErrValidation if the
// path already exists; two jobs never share a workspace.
func (w *Workspace) Create() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.created {
		return nil
	}
	if w.removed {
		return errors.New("chunked: workspace already removed")
	}

	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return splitError("create workspace parent", filepath.Dir(w.path), err)
	}
	if err := os.Mkdir(w.path, 0o755); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return validationError("create workspace", w.path, fs.ErrExist)
		}
		return splitError("create workspace", w.path, err)
	}
	w.created = true
	return nil
}

// Remove deletes the workspace and everything in it. Missing or partially
// deleted trees are fine. A workspace this handle did not create is left
// alone, so a colliding job never removes another job's files.
func (w *Workspace) Remove() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.removed {
		return nil
	}
	w.removed = true
	if !w.created {
		return nil
	}
	if err := os.RemoveAll(w.path); err != nil {
		return fmt.Errorf("chunked: remove workspace: %w", err)
	}
	return nil
}

// Removed reports whether Remove has been called.
func (w *Workspace) Removed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.removed
}
