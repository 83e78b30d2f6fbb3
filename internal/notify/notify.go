package notify

import "context"

// LogKind classifies user-facing log messages.
type LogKind string

const (
	LogSuccess LogKind = "success"
	LogInfo    LogKind = "info"
	LogWarning LogKind = "warning"
	LogError   LogKind = "error"
)

// TransferKind is the direction of a file transfer shown to the user.
type TransferKind string

const (
	TransferUpload   TransferKind = "upload"
	TransferDownload TransferKind = "download"
)

// Progress receives updates for one transfer batch. Begin is called once per
// item before its first Update; Close ends the display and is idempotent.
type Progress interface {
	Begin(filename string, index, count int, size int64)
	Update(loaded, total int64, speed float64)
	Close()
}

// Sink renders user-facing feedback. Implementations are fire and forget:
// the caller never consults them for control decisions, and a cancel func is
// handed over so interactive sinks can offer aborting the batch.
type Sink interface {
	Log(kind LogKind, title, message string)
	StartTransfer(kind TransferKind, count int, cancel context.CancelFunc) Progress
}

type nopSink struct{}

type nopProgress struct{}

// Nop returns a sink that discards all output. Useful as a default and in
// tests.
func Nop() Sink { return nopSink{} }

func (nopSink) Log(LogKind, string, string) {}

func (nopSink) StartTransfer(TransferKind, int, context.CancelFunc) Progress {
	return nopProgress{}
}

func (nopProgress) Begin(string, int, int, int64) {}
func (nopProgress) Update(int64, int64, float64)  {}
func (nopProgress) Close()                        {}
