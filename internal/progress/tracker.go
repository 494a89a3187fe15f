package progress

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/openhealth/gho-ingest/internal/logging"
	"github.com/schollz/progressbar/v3"
)

// Tracker tracks ingest progress across partition workers
type Tracker struct {
	bar       *progressbar.ProgressBar
	current   atomic.Int64
	startTime time.Time

	// Track active partitions for accurate display
	mu     sync.Mutex
	active map[string]int // partition key -> active job count
}

// New creates a new progress tracker. The total record count is unknown
// up front (the API does not expose it), so the bar runs in spinner mode.
func New() *Tracker {
	return &Tracker{
		startTime: time.Now(),
		active:    make(map[string]int),
	}
}

// Start initializes the progress bar
func (t *Tracker) Start() {
	t.bar = progressbar.NewOptions64(
		-1,
		progressbar.OptionSetDescription("Ingesting"),
		progressbar.OptionShowBytes(false),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("records"),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetRenderBlankState(true),
	)
}

// Add increments the record counter
func (t *Tracker) Add(n int64) {
	t.current.Add(n)
	if t.bar != nil {
		t.bar.Add64(n)
	}
}

// StartPartition marks a partition as actively ingesting
func (t *Tracker) StartPartition(partition string) {
	t.mu.Lock()
	t.active[partition]++
	count := len(t.active)
	t.mu.Unlock()

	if t.bar != nil {
		if count == 1 {
			t.bar.Describe(fmt.Sprintf("Ingesting %s", partition))
		} else {
			t.bar.Describe(fmt.Sprintf("Ingesting (%d partitions)", count))
		}
		t.bar.RenderBlank()
	}
}

// EndPartition marks a partition job as done
func (t *Tracker) EndPartition(partition string) {
	t.mu.Lock()
	t.active[partition]--
	if t.active[partition] <= 0 {
		delete(t.active, partition)
	}
	count := len(t.active)
	// Get remaining partition name if only one left
	var remaining string
	for name := range t.active {
		remaining = name
		break
	}
	t.mu.Unlock()

	if t.bar != nil && count > 0 {
		if count == 1 {
			t.bar.Describe(fmt.Sprintf("Ingesting %s", remaining))
		} else {
			t.bar.Describe(fmt.Sprintf("Ingesting (%d partitions)", count))
		}
	}
}

// Current returns the current count
func (t *Tracker) Current() int64 {
	return t.current.Load()
}

// Finish marks the progress as complete
func (t *Tracker) Finish() {
	if t.bar != nil {
		t.bar.Finish()
	}

	elapsed := time.Since(t.startTime)
	recsPerSec := float64(t.current.Load()) / elapsed.Seconds()

	fmt.Println()
	logging.Info("Ingest complete: %d records in %s (%.0f records/sec)",
		t.current.Load(), elapsed.Round(time.Second), recsPerSec)
}
