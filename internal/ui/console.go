package ui

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"

	"fablink/internal/notify"
	"fablink/pkg/utils"
)

// Console renders user-facing feedback on the terminal: log lines on stdout
// and a progress bar on stderr so transfers stay visible when output is
// piped.
type Console struct {
	out    io.Writer
	barOut io.Writer
	log    *zap.Logger
}

func NewConsole(log *zap.Logger) *Console {
	if log == nil {
		log = zap.NewNop()
	}
	return &Console{out: os.Stdout, barOut: os.Stderr, log: log}
}

func (c *Console) Log(kind notify.LogKind, title, message string) {
	line := title
	if message != "" {
		line = fmt.Sprintf("%s: %s", title, message)
	}
	switch kind {
	case notify.LogWarning:
		fmt.Fprintf(c.out, "warning: %s\n", line)
	case notify.LogError:
		fmt.Fprintf(c.out, "error: %s\n", line)
	default:
		fmt.Fprintln(c.out, line)
	}
	c.log.Debug("notified user",
		zap.String("kind", string(kind)),
		zap.String("title", title))
}

// StartTransfer returns a progress display for one batch. The cancel func is
// ignored here: on a terminal, aborting is the surrounding command's job
// (Ctrl-C cancels the command context).
func (c *Console) StartTransfer(kind notify.TransferKind, count int, _ context.CancelFunc) notify.Progress {
	verb := "Uploading"
	if kind == notify.TransferDownload {
		verb = "Downloading"
	}
	return &barProgress{out: c.barOut, verb: verb}
}

// barProgress drives one progress bar per batch item. An unknown size (-1)
// renders as a spinner until the transport reports a total.
type barProgress struct {
	mu     sync.Mutex
	out    io.Writer
	verb   string
	desc   string
	bar    *progressbar.ProgressBar
	closed bool
}

func (p *barProgress) Begin(filename string, index, count int, size int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	if p.bar != nil {
		_ = p.bar.Finish()
	}
	p.desc = fmt.Sprintf("%s %s", p.verb, filename)
	if count > 1 {
		p.desc = fmt.Sprintf("%s %s (%d/%d)", p.verb, filename, index+1, count)
	}
	p.bar = progressbar.NewOptions64(size,
		progressbar.OptionSetDescription(p.desc),
		progressbar.OptionSetWriter(p.out),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(50),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionShowCount(),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionUseANSICodes(true),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(false),
	)
}

func (p *barProgress) Update(loaded, total int64, speed float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.bar == nil {
		return
	}
	if total > 0 && p.bar.GetMax64() != total {
		p.bar.ChangeMax64(total)
	}
	_ = p.bar.Set64(loaded)
	if speed > 0 {
		p.bar.Describe(fmt.Sprintf("%s (%s/s)", p.desc, utils.FormatFileSize(int64(speed))))
	}
}

func (p *barProgress) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	if p.bar != nil {
		_ = p.bar.Finish()
	}
}
