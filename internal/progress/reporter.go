package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/ligustah/chunkline/pkg/pool"
)

// Options configures the progress reporter.
type Options struct {
	// Input is the file being transformed (for display).
	Input string

	// TotalChunks is the total number of chunks.
	TotalChunks int

	// TotalLines is the number of input lines.
	TotalLines int64

	// TotalBytes is the input size in bytes (for display).
	TotalBytes int64

	// ChunkLines is the number of lines per chunk (for display).
	ChunkLines int

	// Workers is the number of parallel workers.
	Workers int

	// Output is where to write progress output.
	// Default: os.Stdout
	Output io.Writer

	// UpdateInterval is how often to update the progress display.
	// Default: 500ms
	UpdateInterval time.Duration
}

// Reporter outputs human-readable progress information. It implements
// pool.Sink so it can be handed to a pool directly.
type Reporter struct {
	opts Options

	mu              sync.Mutex
	completedLines  atomic.Int64
	completedBytes  atomic.Int64
	completedChunks atomic.Int32
	failedChunks    atomic.Int32
	inProgress      atomic.Int32
	startTime       time.Time
	lastUpdate      time.Time
	lastLines       int64
	running         map[int]struct{}
	started         bool
	stopped         bool
	stopCh          chan struct{}
	doneCh          chan struct{}
}

var _ pool.Sink = (*Reporter)(nil)

// NewReporter creates a new progress reporter.
func NewReporter(opts Options) *Reporter {
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.UpdateInterval == 0 {
		opts.UpdateInterval = 500 * time.Millisecond
	}

	return &Reporter{
		opts:    opts,
		running: make(map[int]struct{}),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start begins outputting progress information.
func (r *Reporter) Start() {
	r.mu.Lock()
	if r.started || r.stopped {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.startTime = time.Now()
	r.lastUpdate = r.startTime
	r.mu.Unlock()

	fmt.Fprintf(r.opts.Output, "[chunkline] Transforming: %s\n", r.opts.Input)
	fmt.Fprintf(r.opts.Output, "[chunkline] Input: %s lines, %s | Chunks: %d x %s lines | Workers: %d\n",
		humanize.Comma(r.opts.TotalLines),
		FormatBytes(r.opts.TotalBytes),
		r.opts.TotalChunks,
		humanize.Comma(int64(r.opts.ChunkLines)),
		r.opts.Workers,
	)

	go r.updateLoop()
}

// Stop stops the progress reporter and waits for the final status to be
// written. Safe to call more than once, and before Start.
func (r *Reporter) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	started := r.started
	r.mu.Unlock()

	close(r.stopCh)
	if started {
		<-r.doneCh
	}
}

// TaskStarted marks a chunk as in progress.
func (r *Reporter) TaskStarted(task pool.Task) {
	r.mu.Lock()
	r.running[task.Index] = struct{}{}
	r.mu.Unlock()
	r.inProgress.Add(1)
}

// TaskDone records the outcome of a chunk. Tasks cancelled before they
// started were never in progress.
func (r *Reporter) TaskDone(res pool.Result) {
	r.mu.Lock()
	_, wasRunning := r.running[res.Index]
	delete(r.running, res.Index)
	r.mu.Unlock()
	if wasRunning {
		r.inProgress.Add(-1)
	}

	switch res.Status {
	case pool.StatusCompleted:
		r.completedLines.Add(int64(res.Lines))
		r.completedBytes.Add(res.Bytes)
		r.completedChunks.Add(1)
	case pool.StatusFailed:
		r.failedChunks.Add(1)
	}
}

// updateLoop periodically updates the progress display.
func (r *Reporter) updateLoop() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.opts.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			r.printFinalStatus()
			return
		case <-ticker.C:
			r.printProgress()
		}
	}
}

// printProgress outputs the current progress.
func (r *Reporter) printProgress() {
	now := time.Now()
	lines := r.completedLines.Load()
	completedChunks := int(r.completedChunks.Load())
	inProgress := int(r.inProgress.Load())

	// Calculate speed
	elapsed := now.Sub(r.lastUpdate).Seconds()
	if elapsed < 0.1 {
		elapsed = 0.1
	}
	speed := float64(lines-r.lastLines) / elapsed

	r.lastUpdate = now
	r.lastLines = lines

	// Calculate percentage and ETA
	var percent float64
	eta := "calculating..."
	if r.opts.TotalChunks > 0 {
		percent = float64(completedChunks) / float64(r.opts.TotalChunks) * 100
	}
	if r.opts.TotalLines > 0 && speed > 0 {
		remaining := float64(r.opts.TotalLines - lines)
		eta = formatDuration(time.Duration(remaining / speed * float64(time.Second)))
	}

	pending := max(r.opts.TotalChunks-completedChunks-inProgress-int(r.failedChunks.Load()), 0)

	fmt.Fprintf(r.opts.Output, "\r[chunkline] Progress: %.1f%% | %s / %s lines | Speed: %s lines/s | ETA: %s    ",
		percent,
		humanize.Comma(lines),
		humanize.Comma(r.opts.TotalLines),
		humanize.Comma(int64(speed)),
		eta,
	)
	fmt.Fprintf(r.opts.Output, "\n[chunkline] Chunks: %d completed | %d in-progress | %d pending    \033[A",
		completedChunks,
		inProgress,
		pending,
	)
}

// printFinalStatus outputs the final status.
func (r *Reporter) printFinalStatus() {
	lines := r.completedLines.Load()
	completedChunks := int(r.completedChunks.Load())
	failed := int(r.failedChunks.Load())
	duration := time.Since(r.startTime)
	avgSpeed := float64(lines) / max(duration.Seconds(), 0.001)

	status := "Complete!"
	if completedChunks < r.opts.TotalChunks {
		status = "Stopped."
	}

	fmt.Fprintf(r.opts.Output, "\r[chunkline] Progress: %.1f%% | %s / %s lines | %s written | %s    \n",
		percentOf(completedChunks, r.opts.TotalChunks),
		humanize.Comma(lines),
		humanize.Comma(r.opts.TotalLines),
		FormatBytes(r.completedBytes.Load()),
		status,
	)
	fmt.Fprintf(r.opts.Output, "[chunkline] Chunks: %d completed | %d failed    \n",
		completedChunks,
		failed,
	)
	fmt.Fprintf(r.opts.Output, "[chunkline] Total time: %s | Average speed: %s lines/s\n",
		formatDuration(duration),
		humanize.Comma(int64(avgSpeed)),
	)
}

func percentOf(n, total int) float64 {
	if total == 0 {
		return 100
	}
	return float64(n) / float64(total) * 100
}

// formatDuration formats a duration as a human-readable string.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %dm %ds", h, m, s)
}

// FormatBytes formats bytes as a human-readable IEC string, e.g. "1.5 KiB".
func FormatBytes(b int64) string {
	if b < 0 {
		b = 0
	}
	return humanize.IBytes(uint64(b))
}
