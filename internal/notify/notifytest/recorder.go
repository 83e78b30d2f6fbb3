// Package notifytest provides a recording notify.Sink for tests.
package notifytest

import (
	"context"
	"sync"

	"fablink/internal/notify"
)

// LogEntry is one recorded Log call.
type LogEntry struct {
	Kind    notify.LogKind
	Title   string
	Message string
}

// BeginCall is one recorded Progress.Begin call.
type BeginCall struct {
	Filename string
	Index    int
	Count    int
	Size     int64
}

// UpdateCall is one recorded Progress.Update call.
type UpdateCall struct {
	Loaded int64
	Total  int64
	Speed  float64
}

// Recorder captures all sink activity for assertions.
type Recorder struct {
	mu        sync.Mutex
	logs      []LogEntry
	transfers []*TransferRecorder
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Log(kind notify.LogKind, title, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, LogEntry{Kind: kind, Title: title, Message: message})
}

func (r *Recorder) StartTransfer(kind notify.TransferKind, count int, cancel context.CancelFunc) notify.Progress {
	t := &TransferRecorder{Kind: kind, Count: count, Cancel: cancel}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transfers = append(r.transfers, t)
	return t
}

// Logs returns all recorded log entries.
func (r *Recorder) Logs() []LogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]LogEntry(nil), r.logs...)
}

// LogsOfKind returns recorded log entries of the given kind.
func (r *Recorder) LogsOfKind(kind notify.LogKind) []LogEntry {
	var out []LogEntry
	for _, e := range r.Logs() {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// Transfers returns all progress displays the sink handed out.
func (r *Recorder) Transfers() []*TransferRecorder {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*TransferRecorder(nil), r.transfers...)
}

// TransferRecorder captures the lifecycle of one progress display.
type TransferRecorder struct {
	Kind   notify.TransferKind
	Count  int
	Cancel context.CancelFunc

	mu      sync.Mutex
	begins  []BeginCall
	updates []UpdateCall
	closes  int
}

func (t *TransferRecorder) Begin(filename string, index, count int, size int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.begins = append(t.begins, BeginCall{Filename: filename, Index: index, Count: count, Size: size})
}

func (t *TransferRecorder) Update(loaded, total int64, speed float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.updates = append(t.updates, UpdateCall{Loaded: loaded, Total: total, Speed: speed})
}

func (t *TransferRecorder) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closes++
}

// Begins returns the recorded Begin calls.
func (t *TransferRecorder) Begins() []BeginCall {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]BeginCall(nil), t.begins...)
}

// Updates returns the recorded Update calls.
func (t *TransferRecorder) Updates() []UpdateCall {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]UpdateCall(nil), t.updates...)
}

// Closes returns how often Close was called.
func (t *TransferRecorder) Closes() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closes
}
