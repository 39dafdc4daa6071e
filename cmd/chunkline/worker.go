package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ligustah/chunkline/pkg/pool"
)

// runWorker transforms one chunk and prints a JSON report on stdout. It is
// started by the isolated runner, one process per chunk.
func runWorker(args []string) int {
	fs := flag.NewFlagSet("worker", flag.ContinueOnError)

	name := fs.String("transform", "", "Transform to apply (required)")
	input := fs.String("input", "", "Chunk file (required)")
	output := fs.String("output", "", "Result file (required)")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: chunkline worker -transform NAME -input CHUNK -output RESULT

Transform a single chunk file. Prints a JSON report on stdout:
  {"lines": 10000, "bytes": 110000}
  {"lines": 11, "bytes": 0, "line": 12, "error": "..."}

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return ExitSuccess
		}
		return ExitInvalidArgs
	}
	if *name == "" || *input == "" || *output == "" {
		fmt.Fprintln(os.Stderr, "Error: -transform, -input, and -output are required")
		fs.Usage()
		return ExitInvalidArgs
	}

	// The parent terminates workers with SIGTERM on cancellation.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rep := pool.Work(ctx, *name, pool.Task{Input: *input, Output: *output})
	if err := json.NewEncoder(os.Stdout).Encode(rep); err != nil {
		fmt.Fprintf(os.Stderr, "Error: write report: %v\n", err)
		return ExitGeneralError
	}
	if rep.Error != "" {
		return ExitTaskError
	}
	return ExitSuccess
}
