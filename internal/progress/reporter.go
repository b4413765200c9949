package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Options configures the progress reporter.
type Options struct {
	// Subdir is the subdir being loaded (for display).
	Subdir string

	// Total is the number of shards expected. Zero means unknown.
	Total int

	// Workers is the number of parallel readers (for display).
	Workers int

	// Output is where to write progress output.
	// Default: os.Stderr
	Output io.Writer

	// UpdateInterval is how often to update the progress display.
	// Default: 500ms
	UpdateInterval time.Duration
}

// Reporter prints how far a bulk shard load has come.
type Reporter struct {
	opts Options

	mu         sync.Mutex
	loaded     atomic.Int64
	startTime  time.Time
	lastUpdate time.Time
	lastLoaded int64
	stopCh     chan struct{}
	doneCh     chan struct{}
	started    bool
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
		doneCh: make(chan struct{}),
	}
}

// Start prints the header and begins periodic updates.
func (r *Reporter) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.started = true
	r.startTime = time.Now()
	r.lastUpdate = r.startTime

	fmt.Fprintf(r.opts.Output, "[shardpub] Loading shards: %s | Expected: %s | Workers: %d\n",
		r.opts.Subdir, formatTotal(r.opts.Total), r.opts.Workers)

	go r.updateLoop()
}

// Stop prints the final status and waits for the update loop to exit.
func (r *Reporter) Stop() {
	r.mu.Lock()
	if r.stopped || !r.started {
		r.stopped = true
		r.mu.Unlock()
		return
	}
	r.stopped = true
	r.mu.Unlock()

	close(r.stopCh)
	<-r.doneCh
}

// Loaded records one loaded shard. Its signature matches
// shard.LoadOptions.OnLoaded.
func (r *Reporter) Loaded(string) {
	r.loaded.Add(1)
}

// Count returns the number of shards recorded so far.
func (r *Reporter) Count() int {
	return int(r.loaded.Load())
}

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

func (r *Reporter) printProgress() {
	now := time.Now()
	loaded := r.loaded.Load()

	elapsed := now.Sub(r.lastUpdate).Seconds()
	if elapsed < 0.1 {
		elapsed = 0.1
	}
	rate := float64(loaded-r.lastLoaded) / elapsed
	r.lastUpdate = now
	r.lastLoaded = loaded

	if r.opts.Total <= 0 {
		fmt.Fprintf(r.opts.Output, "\r[shardpub] Loaded: %d | Rate: %.0f/s    ", loaded, rate)
		return
	}

	percent := float64(loaded) / float64(r.opts.Total) * 100
	eta := "calculating..."
	if rate > 0 {
		remaining := float64(int64(r.opts.Total) - loaded)
		eta = formatDuration(time.Duration(remaining / rate * float64(time.Second)))
	}
	fmt.Fprintf(r.opts.Output, "\r[shardpub] Progress: %.1f%% | %d / %d | Rate: %.0f/s | ETA: %s    ",
		percent, loaded, r.opts.Total, rate, eta)
}

func (r *Reporter) printFinalStatus() {
	loaded := r.loaded.Load()
	duration := time.Since(r.startTime)
	rate := float64(loaded) / max(duration.Seconds(), 0.001)

	fmt.Fprintf(r.opts.Output, "\r[shardpub] Loaded: %d shards | Total time: %s | Average rate: %.0f/s    \n",
		loaded, formatDuration(duration), rate)
}

func formatTotal(n int) string {
	if n <= 0 {
		return "unknown"
	}
	return fmt.Sprintf("%d", n)
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
