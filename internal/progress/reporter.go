package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Options configures the progress reporter.
type Options struct {
	// TotalSize is the total size in bytes to download.
	TotalSize int64

	// TotalChunks is the total number of chunks.
	TotalChunks int

	// Workers is the number of parallel workers (for the header line).
	Workers int

	// Output is where to write progress output.
	// Default: os.Stderr
	Output io.Writer

	// UpdateInterval is how often to render progress.
	// Default: 500ms
	UpdateInterval time.Duration

	// SourceURL is the URL being downloaded (for display).
	SourceURL string

	// ChunkSize is the size of each chunk (for display).
	ChunkSize int64
}

// Reporter outputs human-readable progress information. All event methods
// are safe for concurrent use and only touch atomic counters.
type Reporter struct {
	opts Options

	completedBytes  atomic.Int64
	completedChunks atomic.Int32
	resumedChunks   atomic.Int32
	inProgress      atomic.Int32

	mu         sync.Mutex
	startTime  time.Time
	lastRender time.Time
	lastBytes  int64
	stopCh     chan struct{}
	stopped    bool
}

// NewReporter creates a new progress reporter.
func NewReporter(opts Options) *Reporter {
	if opts.Output == nil {
		opts.Output = os.Stderr
	}
	if opts.UpdateInterval == 0 {
		opts.UpdateInterval = 500 * time.Millisecond
	}

	return &Reporter{
		opts:   opts,
		stopCh: make(chan struct{}),
	}
}

// Start prints the header and begins the render loop.
func (r *Reporter) Start() {
	r.mu.Lock()
	r.startTime = time.Now()
	r.lastRender = r.startTime
	r.mu.Unlock()

	fmt.Fprintf(r.opts.Output, "[parfetch] Downloading %s\n", r.opts.SourceURL)
	fmt.Fprintf(r.opts.Output, "[parfetch] %s | %d chunks x %s | %d workers\n",
		FormatBytes(r.opts.TotalSize),
		r.opts.TotalChunks,
		FormatBytes(r.opts.ChunkSize),
		r.opts.Workers,
	)

	go r.renderLoop()
}

// Stop halts the render loop and prints a final summary line.
func (r *Reporter) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	r.mu.Unlock()

	close(r.stopCh)
}

// ChunkStarted marks a chunk as in progress.
func (r *Reporter) ChunkStarted() {
	r.inProgress.Add(1)
}

// ChunkCompleted marks a chunk as completed with the given byte count.
func (r *Reporter) ChunkCompleted(size int64) {
	r.completedBytes.Add(size)
	r.completedChunks.Add(1)
	r.inProgress.Add(-1)
}

// ChunkSkipped counts a chunk restored from a progress record. Its bytes
// were written by an earlier run, so it counts toward completion but not
// toward transfer speed.
func (r *Reporter) ChunkSkipped() {
	r.completedChunks.Add(1)
	r.resumedChunks.Add(1)
}

// ChunkFailed removes a chunk from the in-progress count.
func (r *Reporter) ChunkFailed() {
	r.inProgress.Add(-1)
}

// BytesTransferred adds raw transferred bytes outside chunk accounting,
// used by the single-stream fallback path.
func (r *Reporter) BytesTransferred(n int64) {
	r.completedBytes.Add(n)
}

func (r *Reporter) renderLoop() {
	ticker := time.NewTicker(r.opts.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			r.renderFinal()
			return
		case <-ticker.C:
			r.render()
		}
	}
}

func (r *Reporter) render() {
	r.mu.Lock()
	now := time.Now()
	elapsed := now.Sub(r.lastRender).Seconds()
	if elapsed < 0.1 {
		elapsed = 0.1
	}
	completed := r.completedBytes.Load()
	speed := float64(completed-r.lastBytes) / elapsed
	r.lastRender = now
	r.lastBytes = completed
	r.mu.Unlock()

	var percent float64
	eta := "?"
	if r.opts.TotalSize > 0 {
		percent = float64(completed) / float64(r.opts.TotalSize) * 100
		if speed > 0 {
			remaining := float64(r.opts.TotalSize - completed)
			eta = formatDuration(time.Duration(remaining / speed * float64(time.Second)))
		}
	}

	fmt.Fprintf(r.opts.Output, "\r[parfetch] %.1f%% | %s / %s | %s/s | ETA %s | chunks %d/%d    ",
		percent,
		FormatBytes(completed),
		FormatBytes(r.opts.TotalSize),
		FormatBytes(int64(speed)),
		eta,
		r.completedChunks.Load(),
		r.opts.TotalChunks,
	)
}

func (r *Reporter) renderFinal() {
	r.mu.Lock()
	duration := time.Since(r.startTime)
	r.mu.Unlock()

	completed := r.completedBytes.Load()
	avgSpeed := float64(completed) / duration.Seconds()

	fmt.Fprintf(r.opts.Output, "\r[parfetch] %s transferred in %s (%s/s), chunks %d/%d (%d resumed)    \n",
		FormatBytes(completed),
		formatDuration(duration),
		FormatBytes(int64(avgSpeed)),
		r.completedChunks.Load(),
		r.opts.TotalChunks,
		r.resumedChunks.Load(),
	)
}

// FormatBytes formats bytes as a human-readable string.
func FormatBytes(b int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
		TB = GB * 1024
	)

	switch {
	case b >= TB:
		return fmt.Sprintf("%.2f TB", float64(b)/float64(TB))
	case b >= GB:
		return fmt.Sprintf("%.2f GB", float64(b)/float64(GB))
	case b >= MB:
		return fmt.Sprintf("%.2f MB", float64(b)/float64(MB))
	case b >= KB:
		return fmt.Sprintf("%.2f KB", float64(b)/float64(KB))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

// formatDuration formats a duration as a human-readable string.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm %ds", int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60)
}

// ParseBytes parses a human-readable byte string (e.g., "6MB", "256 KB").
func ParseBytes(s string) (int64, error) {
	s = strings.TrimSpace(s)

	var multiplier int64 = 1
	upper := strings.ToUpper(s)
	switch {
	case strings.HasSuffix(upper, "TB"):
		multiplier = 1 << 40
		s = s[:len(s)-2]
	case strings.HasSuffix(upper, "GB"):
		multiplier = 1 << 30
		s = s[:len(s)-2]
	case strings.HasSuffix(upper, "MB"):
		multiplier = 1 << 20
		s = s[:len(s)-2]
	case strings.HasSuffix(upper, "KB"):
		multiplier = 1 << 10
		s = s[:len(s)-2]
	case strings.HasSuffix(upper, "B"):
		s = s[:len(s)-1]
	}

	var value float64
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%f", &value); err != nil {
		return 0, fmt.Errorf("invalid byte string: %s", s)
	}
	return int64(value * float64(multiplier)), nil
}
