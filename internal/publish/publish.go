package publish

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"math/rand"
	"os"
	"path"
	"path/filepath"
	"time"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
	"gocloud.dev/gcerrors"
)

// ErrSizeMismatch is returned when the stored object does not have the size
// of the local file after upload.
var ErrSizeMismatch = errors.New("publish: size mismatch after upload")

// Options configures a Publisher.
type Options struct {
	// Attempts is the maximum number of upload attempts.
	// Default: 5
	Attempts int

	// Backoff is the initial backoff duration.
	// Default: 1s
	Backoff time.Duration

	// MaxBackoff is the maximum backoff duration.
	// Default: 30s
	MaxBackoff time.Duration

	// ContentType of the stored object.
	// Default: text/plain; charset=utf-8
	ContentType string

	// Metadata is stored with the object.
	Metadata map[string]string

	// Logger receives upload events. Default discards.
	Logger *slog.Logger
}

// DefaultOptions returns options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		Attempts:    5,
		Backoff:     time.Second,
		MaxBackoff:  30 * time.Second,
		ContentType: "text/plain; charset=utf-8",
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Attempts <= 0 {
		o.Attempts = d.Attempts
	}
	if o.Backoff <= 0 {
		o.Backoff = d.Backoff
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = d.MaxBackoff
	}
	if o.ContentType == "" {
		o.ContentType = d.ContentType
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return o
}

// Info describes a published object.
type Info struct {
	Key      string
	Size     int64
	Attempts int
}

// Publisher uploads finished output files to object storage.
type Publisher struct {
	bucket *blob.Bucket
	owned  bool
	opts   Options
	logger *slog.Logger
}

// Open opens the bucket at bucketURL (any gocloud.dev/blob URL: s3://,
// gs://, file://, mem://). The Publisher owns the bucket and closes it in
// Close.
func Open(ctx context.Context, bucketURL string, opts Options) (*Publisher, error) {
	bkt, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("publish: open bucket: %w", err)
	}
	p := New(bkt, opts)
	p.owned = true
	return p, nil
}

// New returns a Publisher writing to bucket. The caller keeps ownership of
// bucket.
func New(bucket *blob.Bucket, opts Options) *Publisher {
	opts = opts.withDefaults()
	return &Publisher{
		bucket: bucket,
		opts:   opts,
		logger: opts.Logger.With(slog.String("component", "publish")),
	}
}

// Close releases the bucket if the Publisher opened it.
func (p *Publisher) Close() error {
	if p.owned {
		return p.bucket.Close()
	}
	return nil
}

// ObjectKey returns object, or the base name of output when object is empty.
func ObjectKey(output, object string) string {
	if object != "" {
		return object
	}
	return path.Base(filepath.ToSlash(output))
}

// Upload copies the local file at src to key, retrying transient failures
// with exponential backoff. The object is only visible once an attempt has
// written it completely.
func (p *Publisher) Upload(ctx context.Context, src, key string) (Info, error) {
	info, err := os.Stat(src)
	if err != nil {
		return Info{}, fmt.Errorf("publish: %w", err)
	}
	if !info.Mode().IsRegular() {
		return Info{}, fmt.Errorf("publish: %s is not a regular file", src)
	}

	attempts, err := p.retry(ctx, func(ctx context.Context) error {
		return p.put(ctx, src, key)
	})
	if err != nil {
		return Info{Key: key, Attempts: attempts}, fmt.Errorf("publish %s: %w", key, err)
	}

	attrs, err := p.bucket.Attributes(ctx, key)
	if err != nil {
		return Info{Key: key, Attempts: attempts}, fmt.Errorf("publish %s: stat: %w", key, err)
	}
	if attrs.Size != info.Size() {
		return Info{Key: key, Attempts: attempts}, fmt.Errorf("%w: %s has %d bytes, local file %d",
			ErrSizeMismatch, key, attrs.Size, info.Size())
	}

	p.logger.Info("output published", "key", key, "bytes", attrs.Size, "attempts", attempts)
	return Info{Key: key, Size: attrs.Size, Attempts: attempts}, nil
}

// Exists reports whether key exists in the bucket.
func (p *Publisher) Exists(ctx context.Context, key string) (bool, error) {
	_, err := p.bucket.Attributes(ctx, key)
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("publish: stat %s: %w", key, err)
}

// put performs a single upload attempt.
func (p *Publisher) put(ctx context.Context, src, key string) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()

	// Cancelling the writer's context discards a partial upload.
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w, err := p.bucket.NewWriter(wctx, key, &blob.WriterOptions{
		ContentType: p.opts.ContentType,
		Metadata:    p.opts.Metadata,
	})
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, f); err != nil {
		cancel()
		w.Close()
		return err
	}
	return w.Close()
}

// retry runs op until it succeeds, fails permanently, or the attempts are
// used up. It returns the number of attempts made.
func (p *Publisher) retry(ctx context.Context, op func(context.Context) error) (int, error) {
	var lastErr error
	for attempt := 0; attempt < p.opts.Attempts; attempt++ {
		if attempt > 0 {
			if err := p.backoff(ctx, attempt); err != nil {
				return attempt, err
			}
		}

		err := op(ctx)
		if err == nil {
			return attempt + 1, nil
		}
		if ctx.Err() != nil {
			return attempt + 1, ctx.Err()
		}
		if !retryable(err) {
			return attempt + 1, err
		}
		p.logger.Warn("upload attempt failed", "attempt", attempt+1, "error", err)
		lastErr = err
	}
	return p.opts.Attempts, fmt.Errorf("upload failed after %d attempts: %w", p.opts.Attempts, lastErr)
}

// backoff waits for an exponentially increasing duration with jitter.
func (p *Publisher) backoff(ctx context.Context, attempt int) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(backoffDelay(p.opts.Backoff, p.opts.MaxBackoff, attempt)):
		return nil
	}
}

// backoffDelay returns the wait before retry number attempt (1-based):
// base doubled per attempt, capped at limit, scaled by a jitter in [0.5, 1.5).
func backoffDelay(base, limit time.Duration, attempt int) time.Duration {
	d := base * time.Duration(1<<uint(min(attempt-1, 30)))
	if d > limit || d <= 0 {
		d = limit
	}
	return time.Duration(float64(d) * (0.5 + rand.Float64()))
}

// retryable reports whether an upload error may succeed on a later attempt.
func retryable(err error) bool {
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
		return false
	}
	switch gcerrors.Code(err) {
	case gcerrors.InvalidArgument, gcerrors.PermissionDenied, gcerrors.NotFound,
		gcerrors.Unimplemented, gcerrors.FailedPrecondition:
		return false
	}
	return true
}

func isNotFound(err error) bool {
	return gcerrors.Code(err) == gcerrors.NotFound
}
