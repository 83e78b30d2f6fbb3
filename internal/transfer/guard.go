package transfer

import (
	"fmt"
	"sort"
	"sync"

	"fablink/internal/connector"
)

// ErrBatchInProgress rejects a multi-file batch while another one is still
// running. It carries the operation-failed kind so callers can classify it
// with errors.Is.
var ErrBatchInProgress = fmt.Errorf("%w: another multi-file transfer is already in progress", connector.ErrOperationFailed)

// Guard tracks which machine files have writes in flight and enforces that
// at most one multi-file batch runs at a time. Single-file transfers skip
// the exclusivity check but still register their filename so readers can
// treat those paths as busy.
type Guard struct {
	mu    sync.Mutex
	files map[string]int
	multi bool
}

// NewGuard returns an empty guard.
func NewGuard() *Guard {
	return &Guard{files: make(map[string]int)}
}

// acquire registers filenames, claiming the multi-batch slot first when
// multi is set. Check and claim happen under one lock, so two concurrent
// batches cannot both pass.
func (g *Guard) acquire(filenames []string, multi bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if multi {
		if g.multi {
			return ErrBatchInProgress
		}
		g.multi = true
	}
	for _, f := range filenames {
		g.files[f]++
	}
	return nil
}

// release clears the registrations made by the matching acquire.
func (g *Guard) release(filenames []string, multi bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if multi {
		g.multi = false
	}
	for _, f := range filenames {
		if g.files[f] <= 1 {
			delete(g.files, f)
		} else {
			g.files[f]--
		}
	}
}

// FilesBeingChanged returns the sorted set of machine paths with writes in
// flight.
func (g *Guard) FilesBeingChanged() []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	files := make([]string, 0, len(g.files))
	for f := range g.files {
		files = append(files, f)
	}
	sort.Strings(files)
	return files
}

// MultiTransferActive reports whether a multi-file batch currently runs.
func (g *Guard) MultiTransferActive() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.multi
}
