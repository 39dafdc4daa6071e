package publish

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gocloud.dev/blob"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "out.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func memPublisher(t *testing.T, opts Options) (*Publisher, *blob.Bucket) {
	t.Helper()
	ctx := context.Background()
	bucket, err := blob.OpenBucket(ctx, "mem://")
	require.NoError(t, err)
	t.Cleanup(func() { bucket.Close() })
	return New(bucket, opts), bucket
}

func TestUpload(t *testing.T) {
	ctx := context.Background()
	p, bucket := memPublisher(t, Options{Metadata: map[string]string{"job": "42"}})
	src := writeFile(t, "HELLO\nWORLD\n")

	info, err := p.Upload(ctx, src, "runs/out.txt")
	require.NoError(t, err)
	require.Equal(t, "runs/out.txt", info.Key)
	require.Equal(t, int64(12), info.Size)
	require.Equal(t, 1, info.Attempts)

	data, err := bucket.ReadAll(ctx, "runs/out.txt")
	require.NoError(t, err)
	require.Equal(t, "HELLO\nWORLD\n", string(data))

	attrs, err := bucket.Attributes(ctx, "runs/out.txt")
	require.NoError(t, err)
	require.Equal(t, "text/plain; charset=utf-8", attrs.ContentType)
	require.Equal(t, "42", attrs.Metadata["job"])
}

func TestUploadReplacesObject(t *testing.T) {
	ctx := context.Background()
	p, bucket := memPublisher(t, Options{})
	require.NoError(t, bucket.WriteAll(ctx, "out.txt", []byte("an older and longer result\n"), nil))

	_, err := p.Upload(ctx, writeFile(t, "new\n"), "out.txt")
	require.NoError(t, err)

	data, err := bucket.ReadAll(ctx, "out.txt")
	require.NoError(t, err)
	require.Equal(t, "new\n", string(data))
}

func TestUploadMissingFile(t *testing.T) {
	p, _ := memPublisher(t, Options{})

	_, err := p.Upload(context.Background(), filepath.Join(t.TempDir(), "nope"), "out.txt")
	require.ErrorIs(t, err, fs.ErrNotExist)
}

func TestUploadDirectory(t *testing.T) {
	p, _ := memPublisher(t, Options{})

	_, err := p.Upload(context.Background(), t.TempDir(), "out.txt")
	require.Error(t, err)
}

func TestExists(t *testing.T) {
	ctx := context.Background()
	p, bucket := memPublisher(t, Options{})

	ok, err := p.Exists(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, bucket.WriteAll(ctx, "present", []byte("x"), nil))
	ok, err = p.Exists(ctx, "present")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestOpenFileBucket(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	p, err := Open(ctx, "file://"+filepath.ToSlash(dir), Options{})
	require.NoError(t, err)
	defer p.Close()

	_, err = p.Upload(ctx, writeFile(t, "a\nb\n"), "result.txt")
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "result.txt"))
	require.NoError(t, err)
	require.Equal(t, "a\nb\n", string(data))
}

func TestOpenInvalidURL(t *testing.T) {
	_, err := Open(context.Background(), "nosuchscheme://bucket", Options{})
	require.Error(t, err)
}

func TestObjectKey(t *testing.T) {
	tests := []struct {
		output, object, want string
	}{
		{"/data/out.txt", "", "out.txt"},
		{"out.txt", "", "out.txt"},
		{"/data/out.txt", "runs/2024/out.txt", "runs/2024/out.txt"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, ObjectKey(tt.output, tt.object))
	}
}

func TestRetry(t *testing.T) {
	p, _ := memPublisher(t, Options{Attempts: 4, Backoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond})

	calls := 0
	attempts, err := p.retry(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("connection reset")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, attempts)
	require.Equal(t, 3, calls)
}

func TestRetryExhausted(t *testing.T) {
	p, _ := memPublisher(t, Options{Attempts: 3, Backoff: time.Millisecond, MaxBackoff: time.Millisecond})

	flaky := errors.New("connection reset")
	attempts, err := p.retry(context.Background(), func(context.Context) error { return flaky })
	require.ErrorIs(t, err, flaky)
	require.Contains(t, err.Error(), "after 3 attempts")
	require.Equal(t, 3, attempts)
}

func TestRetryPermanentError(t *testing.T) {
	p, _ := memPublisher(t, Options{Attempts: 5, Backoff: time.Millisecond})

	calls := 0
	_, err := p.retry(context.Background(), func(context.Context) error {
		calls++
		return fmt.Errorf("open: %w", fs.ErrPermission)
	})
	require.ErrorIs(t, err, fs.ErrPermission)
	require.Equal(t, 1, calls)
}

func TestRetryCancelledDuringBackoff(t *testing.T) {
	p, _ := memPublisher(t, Options{Attempts: 5, Backoff: time.Hour, MaxBackoff: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	_, err := p.retry(ctx, func(context.Context) error {
		cancel()
		return errors.New("connection reset")
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestBackoffDelay(t *testing.T) {
	base := 100 * time.Millisecond
	limit := time.Second

	for attempt := 1; attempt <= 40; attempt++ {
		d := backoffDelay(base, limit, attempt)
		want := min(base*time.Duration(1<<uint(min(attempt-1, 30))), limit)
		if attempt > 30 {
			want = limit
		}
		require.GreaterOrEqual(t, d, want/2, "attempt %d", attempt)
		require.Less(t, d, want*3/2, "attempt %d", attempt)
	}
}
