//go:build integration

package publish

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ligustah/chunkline/internal/testutils"
)

func TestIntegrationUploadToMinio(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	env := testutils.StartMinio(ctx, t, "chunkline-results")

	p, err := Open(ctx, env.BucketURL, Options{Attempts: 3, Backoff: 100 * time.Millisecond})
	require.NoError(t, err)
	defer p.Close()

	src := testutils.WriteLines(t, 50_000)
	want, err := os.ReadFile(src)
	require.NoError(t, err)

	info, err := p.Upload(ctx, src, "runs/out.txt")
	require.NoError(t, err)
	require.Equal(t, int64(len(want)), info.Size)

	bucket, err := env.OpenBucket(ctx)
	require.NoError(t, err)
	defer bucket.Close()

	got, err := bucket.ReadAll(ctx, "runs/out.txt")
	require.NoError(t, err)
	require.Equal(t, want, got)

	ok, err := p.Exists(ctx, "runs/missing.txt")
	require.NoError(t, err)
	require.False(t, ok)
}
