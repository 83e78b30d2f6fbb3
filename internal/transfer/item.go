package transfer

import (
	"sync"
	"time"

	"fablink/internal/connector"
)

// File describes one file to transfer. Content carries the upload payload;
// Type selects the response interpretation for downloads.
type File struct {
	Filename string
	Content  []byte
	Type     connector.ContentType
}

// Item tracks the live state of one file inside a batch. The orchestrator
// mutates it from the batch goroutine and transport progress callbacks may
// arrive on connector goroutines, so all state sits behind a mutex and
// readers get snapshots.
type Item struct {
	mu sync.Mutex

	filename  string
	content   []byte
	kind      connector.ContentType
	startTime time.Time
	retry     int
	progress  float64
	speed     float64
	size      int64
	err       error
}

func newItem(f File) *Item {
	it := &Item{
		filename: f.Filename,
		content:  f.Content,
		kind:     f.Type,
		size:     -1,
	}
	if f.Content != nil {
		it.size = int64(len(f.Content))
	}
	return it
}

// ensureStarted stamps the start time exactly once, whether the first caller
// is the orchestrator right before the transport call or an early progress
// callback.
func (it *Item) ensureStarted(now time.Time) {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.startTime.IsZero() {
		it.startTime = now
	}
}

// update applies a transport progress callback.
func (it *Item) update(loaded, total int64, retry int, now time.Time) {
	it.mu.Lock()
	defer it.mu.Unlock()

	if it.startTime.IsZero() {
		it.startTime = now
	}
	if total > 0 {
		it.size = total
		it.progress = float64(loaded) / float64(total)
	}
	if elapsed := now.Sub(it.startTime).Seconds(); elapsed > 0 {
		it.speed = float64(loaded) / elapsed
	}
	if retry > it.retry {
		it.retry = retry
	}
}

func (it *Item) markDone() {
	it.mu.Lock()
	defer it.mu.Unlock()
	it.progress = 1
}

func (it *Item) setContent(content []byte) {
	it.mu.Lock()
	defer it.mu.Unlock()
	it.content = content
	it.size = int64(len(content))
}

func (it *Item) fail(err error) {
	it.mu.Lock()
	defer it.mu.Unlock()
	it.err = err
}

// Filename returns the machine path this item transfers.
func (it *Item) Filename() string { return it.filename }

// Content returns the upload payload or, after a successful download, the
// received bytes.
func (it *Item) Content() []byte {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.content
}

// StartTime returns when the transfer started, or the zero time before that.
func (it *Item) StartTime() time.Time {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.startTime
}

// Retry returns how often the transport restarted this transfer.
func (it *Item) Retry() int {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.retry
}

// Progress returns the completed fraction in [0, 1].
func (it *Item) Progress() float64 {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.progress
}

// Speed returns the observed transfer speed in bytes per second.
func (it *Item) Speed() float64 {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.speed
}

// Size returns the total byte count, or -1 while still unknown.
func (it *Item) Size() int64 {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.size
}

// Err returns the terminal failure cause, or nil.
func (it *Item) Err() error {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.err
}
