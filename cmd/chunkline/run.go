package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/ligustah/chunkline/internal/config"
	"github.com/ligustah/chunkline/internal/progress"
	"github.com/ligustah/chunkline/internal/publish"
	"github.com/ligustah/chunkline/pkg/chunked"
	"github.com/ligustah/chunkline/pkg/pool"
	"github.com/ligustah/chunkline/pkg/transform"
)

// runJob transforms a file line by line with a pool of workers and
// optionally publishes the result to object storage.
func runJob(args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)

	configPath := fs.String("config", "", "YAML config file")
	input := fs.String("input", "", "Input file (required)")
	output := fs.String("output", "", "Output file (required)")
	transformName := fs.String("transform", "", "Transform to apply, see 'chunkline transforms' (default identity)")
	chunkSize := fs.Int("chunk-size", 0, "Lines per chunk (default 10000)")
	workers := fs.Int("workers", 0, "Number of parallel workers (default: number of CPUs)")
	workspace := fs.String("workspace", "", "Directory for chunk files (default: system temp dir)")
	overwrite := fs.Bool("overwrite", true, "Replace an existing output file")
	isolate := fs.Bool("isolate", false, "Run each chunk in a separate worker process")
	showProgress := fs.Bool("progress", false, "Show progress output")
	taskTimeout := fs.Duration("task-timeout", 0, "Time limit per chunk (0 = none)")
	skipEncoding := fs.Bool("skip-encoding-check", false, "Do not reject input that is not valid UTF-8")
	publishBucket := fs.String("publish-bucket", "", "Bucket URL to upload the output to (s3://, gs://, file://)")
	publishObject := fs.String("publish-object", "", "Object key for the uploaded output (default: output file name)")
	logLevel := fs.String("log-level", "", "Log level: debug, info, warn, error (default info)")
	logFormat := fs.String("log-format", "", "Log format: text or json (default text)")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: chunkline run [options]

Split the input into chunks, apply a transform to every line in parallel and
merge the results into the output file. The output is written only if every
chunk succeeds.

Settings are taken from, in increasing precedence: defaults, the -config
file, CHUNKLINE_* environment variables, flags.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return ExitSuccess
		}
		return ExitInvalidArgs
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.LoadFromFile(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return ExitInvalidArgs
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}

	var override config.Config
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "input":
			override.Input = *input
		case "output":
			override.Output = *output
		case "transform":
			override.Transform = *transformName
		case "chunk-size":
			override.ChunkSize = *chunkSize
		case "workers":
			override.Workers = *workers
		case "workspace":
			override.WorkspaceDir = *workspace
		case "overwrite":
			cfg.Overwrite = *overwrite
		case "isolate":
			cfg.Isolate = *isolate
		case "progress":
			cfg.Progress = *showProgress
		case "task-timeout":
			override.TaskTimeout = *taskTimeout
		case "skip-encoding-check":
			cfg.SkipEncodingCheck = *skipEncoding
		case "publish-bucket":
			override.Publish.Bucket = *publishBucket
		case "publish-object":
			override.Publish.Object = *publishObject
		case "log-level":
			override.LogLevel = *logLevel
		case "log-format":
			override.LogFormat = *logFormat
		}
	})
	cfg = cfg.Merge(override)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		fs.Usage()
		return ExitInvalidArgs
	}

	logger, err := newLogger(os.Stderr, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}

	fn, err := transform.Lookup(cfg.Transform)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}

	// Setup context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(os.Stderr, "\n[chunkline] Received interrupt, shutting down...")
			cancel()
		case <-ctx.Done():
		}
	}()

	job := chunked.Job{
		Input:        cfg.Input,
		Output:       cfg.Output,
		Transform:    fn,
		ChunkLines:   cfg.ChunkSize,
		Workers:      cfg.Workers,
		WorkspaceDir: cfg.WorkspaceDir,
		Overwrite:    cfg.Overwrite,
	}

	opts := []chunked.Option{
		chunked.WithLogger(logger),
		chunked.WithTaskTimeout(cfg.TaskTimeout),
		chunked.WithPollInterval(cfg.PollInterval),
	}
	if cfg.SkipEncodingCheck {
		opts = append(opts, chunked.WithSkipEncodingCheck())
	}
	if cfg.Isolate {
		opts = append(opts, chunked.WithRunner(pool.Process{Transform: cfg.Transform}))
	}

	sink := &progressSink{}
	if cfg.Progress {
		opts = append(opts,
			chunked.WithSink(sink),
			chunked.WithOnSplit(func(m chunked.Manifest) {
				sink.start(progress.Options{
					Input:          cfg.Input,
					TotalChunks:    len(m.Chunks),
					TotalLines:     m.TotalLines,
					TotalBytes:     m.TotalBytes,
					ChunkLines:     m.ChunkLines,
					Workers:        min(cfg.Workers, len(m.Chunks)),
					Output:         os.Stderr,
					UpdateInterval: time.Second,
				})
			}),
		)
	}

	res := chunked.Run(ctx, job, opts...)
	sink.stop()

	if !res.OK {
		if ctx.Err() != nil {
			fmt.Fprintln(os.Stderr, "[chunkline] Interrupted, no output written")
			return ExitGeneralError
		}
		fmt.Fprintf(os.Stderr, "[chunkline] %s\n", res.Message)
		return exitCode(res.Kind)
	}

	fmt.Fprintf(os.Stderr, "[chunkline] Processed %s lines in %s\n",
		humanize.Comma(res.Lines), res.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(os.Stderr, "[chunkline] Output: %s (%s)\n", cfg.Output, progress.FormatBytes(res.Bytes))

	if cfg.Publish.Bucket == "" {
		return ExitSuccess
	}
	return publishOutput(ctx, cfg, res.JobID, logger)
}

// publishOutput uploads the merged output to the configured bucket.
func publishOutput(ctx context.Context, cfg config.Config, jobID string, logger *slog.Logger) int {
	p, err := publish.Open(ctx, cfg.Publish.Bucket, publish.Options{
		Attempts:   cfg.Publish.Retry.Attempts,
		Backoff:    cfg.Publish.Retry.Backoff,
		MaxBackoff: cfg.Publish.Retry.MaxBackoff,
		Metadata: map[string]string{
			"chunkline-job-id":    jobID,
			"chunkline-transform": cfg.Transform,
		},
		Logger: logger,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening bucket: %v\n", err)
		return ExitPublishError
	}
	defer p.Close()

	key := publish.ObjectKey(cfg.Output, cfg.Publish.Object)
	if _, err := p.Upload(ctx, cfg.Output, key); err != nil {
		fmt.Fprintf(os.Stderr, "Error publishing output: %v\n", err)
		return ExitPublishError
	}

	fmt.Fprintf(os.Stderr, "[chunkline] Published: %s/%s\n", cfg.Publish.Bucket, key)
	return ExitSuccess
}

// exitCode maps an error kind to the process exit code.
func exitCode(kind error) int {
	switch kind {
	case chunked.ErrValidation:
		return ExitValidationError
	case chunked.ErrSplit:
		return ExitSplitError
	case chunked.ErrTask:
		return ExitTaskError
	case chunked.ErrMerge:
		return ExitMergeError
	}
	return ExitGeneralError
}

// newLogger builds the stderr logger selected by the config.
func newLogger(w io.Writer, cfg config.Config) (*slog.Logger, error) {
	level, err := cfg.Level()
	if err != nil {
		return nil, err
	}
	hopts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	switch cfg.LogFormat {
	case "json":
		h = slog.NewJSONHandler(w, hopts)
	default:
		h = slog.NewTextHandler(w, hopts)
	}
	return slog.New(h), nil
}

// progressSink forwards pool events to a reporter that is created once the
// input has been split and its size is known. start runs before the pool
// starts, on the same goroutine.
type progressSink struct {
	r *progress.Reporter
}

func (s *progressSink) start(opts progress.Options) {
	s.r = progress.NewReporter(opts)
	s.r.Start()
}

func (s *progressSink) stop() {
	if s.r != nil {
		s.r.Stop()
	}
}

func (s *progressSink) TaskStarted(task pool.Task) {
	if s.r != nil {
		s.r.TaskStarted(task)
	}
}

func (s *progressSink) TaskDone(r pool.Result) {
	if s.r != nil {
		s.r.TaskDone(r)
	}
}
