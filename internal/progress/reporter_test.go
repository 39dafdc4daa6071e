package progress

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ligustah/chunkline/pkg/pool"
)

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		input    int64
		expected string
	}{
		{-1, "0 B"},
		{0, "0 B"},
		{100, "100 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{1024 * 1024, "1.0 MiB"},
		{256 * 1024 * 1024, "256 MiB"},
		{1024 * 1024 * 1024, "1.0 GiB"},
		{1024 * 1024 * 1024 * 1024, "1.0 TiB"},
		{2.5 * 1024 * 1024 * 1024 * 1024, "2.5 TiB"},
	}

	for _, tt := range tests {
		result := FormatBytes(tt.input)
		if result != tt.expected {
			t.Errorf("FormatBytes(%d) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		input    time.Duration
		expected string
	}{
		{12 * time.Second, "12s"},
		{3*time.Minute + 4*time.Second, "3m 4s"},
		{2*time.Hour + 5*time.Minute + 9*time.Second, "2h 5m 9s"},
	}

	for _, tt := range tests {
		if got := formatDuration(tt.input); got != tt.expected {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestReporterTaskTracking(t *testing.T) {
	reporter := NewReporter(Options{
		TotalChunks:    4,
		TotalLines:     40,
		Workers:        2,
		UpdateInterval: 100 * time.Millisecond,
	})

	// Test task tracking without starting the reporter
	reporter.TaskStarted(pool.Task{Index: 0})
	if reporter.inProgress.Load() != 1 {
		t.Errorf("expected 1 in-progress, got %d", reporter.inProgress.Load())
	}

	reporter.TaskDone(pool.Result{Index: 0, Status: pool.StatusCompleted, Lines: 10, Bytes: 256})
	if reporter.inProgress.Load() != 0 {
		t.Errorf("expected 0 in-progress after complete, got %d", reporter.inProgress.Load())
	}
	if reporter.completedChunks.Load() != 1 {
		t.Errorf("expected 1 completed, got %d", reporter.completedChunks.Load())
	}
	if reporter.completedLines.Load() != 10 {
		t.Errorf("expected 10 lines, got %d", reporter.completedLines.Load())
	}
	if reporter.completedBytes.Load() != 256 {
		t.Errorf("expected 256 bytes, got %d", reporter.completedBytes.Load())
	}

	reporter.TaskStarted(pool.Task{Index: 1})
	reporter.TaskDone(pool.Result{Index: 1, Status: pool.StatusFailed, Err: errors.New("boom")})
	if reporter.inProgress.Load() != 0 {
		t.Errorf("expected 0 in-progress after fail, got %d", reporter.inProgress.Load())
	}
	if reporter.failedChunks.Load() != 1 {
		t.Errorf("expected 1 failed, got %d", reporter.failedChunks.Load())
	}

	// Cancelled before it ever started.
	reporter.TaskDone(pool.Result{Index: 2, Status: pool.StatusCancelled})
	if reporter.inProgress.Load() != 0 {
		t.Errorf("expected 0 in-progress after cancel, got %d", reporter.inProgress.Load())
	}
}

func TestReporterStartStop(t *testing.T) {
	var out bytes.Buffer
	reporter := NewReporter(Options{
		Input:          "/data/in.txt",
		TotalChunks:    2,
		TotalLines:     20_000,
		TotalBytes:     512 * 1024,
		ChunkLines:     10_000,
		Workers:        2,
		Output:         &out,
		UpdateInterval: 10 * time.Millisecond,
	})

	reporter.Start()

	// Simulate task progress
	for i := 0; i < 2; i++ {
		reporter.TaskStarted(pool.Task{Index: i})
		reporter.TaskDone(pool.Result{Index: i, Status: pool.StatusCompleted, Lines: 10_000, Bytes: 256 * 1024})
	}

	time.Sleep(50 * time.Millisecond) // Let updates run

	reporter.Stop()
	reporter.Stop()

	if reporter.completedChunks.Load() != 2 {
		t.Errorf("expected 2 completed chunks, got %d", reporter.completedChunks.Load())
	}

	text := out.String()
	for _, want := range []string{
		"[chunkline] Transforming: /data/in.txt",
		"Input: 20,000 lines, 512 KiB | Chunks: 2 x 10,000 lines | Workers: 2",
		"20,000 / 20,000 lines | 512 KiB written | Complete!",
		"Chunks: 2 completed | 0 failed",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q:\n%s", want, text)
		}
	}
}

func TestReporterStoppedEarly(t *testing.T) {
	var out bytes.Buffer
	reporter := NewReporter(Options{TotalChunks: 3, Output: &out, UpdateInterval: time.Hour})

	reporter.Start()
	reporter.TaskStarted(pool.Task{Index: 0})
	reporter.TaskDone(pool.Result{Index: 0, Status: pool.StatusFailed})
	reporter.Stop()

	if !strings.Contains(out.String(), "Stopped.") {
		t.Errorf("expected stopped status, got:\n%s", out.String())
	}
}

func TestReporterStopWithoutStart(t *testing.T) {
	var out bytes.Buffer
	reporter := NewReporter(Options{Output: &out})
	reporter.Stop()
	reporter.Start()

	if out.Len() != 0 {
		t.Errorf("expected no output, got %q", out.String())
	}
}
