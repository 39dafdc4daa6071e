package chunked

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWorkspace_RemoveIsIdempotent(t *testing.T) {
	ws := NewWorkspace(filepath.Join(t.TempDir(), "ws"))
	require.NoError(t, ws.Create())
	require.NoError(t, os.WriteFile(filepath.Join(ws.Path(), "part-00000000"), []byte("x"), 0o644))

	require.NoError(t, ws.Remove())
	require.NoError(t, ws.Remove())
	require.True(t, ws.Removed())

	_, err := os.Stat(ws.Path())
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestWorkspace_RemoveAfterExternalDelete(t *testing.T) {
	ws := NewWorkspace(filepath.Join(t.TempDir(), "ws"))
	require.NoError(t, ws.Create())
	require.NoError(t, os.RemoveAll(ws.Path()))

	require.NoError(t, ws.Remove())
}

func TestWorkspace_RemoveWithoutCreate(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "ws")
	require.NoError(t, os.Mkdir(dir, 0o755))

	ws := NewWorkspace(dir)
	require.NoError(t, ws.Remove())

	_, err := os.Stat(dir)
	require.NoError(t, err, "a directory the handle did not create must survive")
}

func TestWorkspace_CreatesParents(t *testing.T) {
	ws := NewWorkspace(filepath.Join(t.TempDir(), "a", "b", "ws"))
	require.NoError(t, ws.Create())
	require.NoError(t, ws.Create())
	defer ws.Remove()

	info, err := os.Stat(ws.Path())
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestWorkspace_CreateAfterRemove(t *testing.T) {
	ws := NewWorkspace(filepath.Join(t.TempDir(), "ws"))
	require.NoError(t, ws.Remove())
	require.Error(t, ws.Create())
}
