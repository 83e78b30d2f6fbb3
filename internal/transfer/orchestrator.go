package transfer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"fablink/internal/connector"
	"fablink/internal/events"
	"fablink/internal/notify"
)

// Invalidator drops cached metadata for files about to change.
type Invalidator interface {
	Invalidate(filename string)
}

// SystemPaths resolves well-known machine file locations.
type SystemPaths interface {
	ConfigFile() string
}

type direction int

const (
	dirUpload direction = iota
	dirDownload
)

func (d direction) startType() events.Type {
	if d == dirUpload {
		return events.FileUploading
	}
	return events.FileDownloading
}

func (d direction) batchType() events.Type {
	if d == dirUpload {
		return events.MultipleFilesUploading
	}
	return events.MultipleFilesDownloading
}

func (d direction) doneType() events.Type {
	if d == dirUpload {
		return events.FileUploaded
	}
	return events.FileDownloaded
}

func (d direction) errorType() events.Type {
	if d == dirUpload {
		return events.FileUploadError
	}
	return events.FileDownloadError
}

func (d direction) transferKind() notify.TransferKind {
	if d == dirUpload {
		return notify.TransferUpload
	}
	return notify.TransferDownload
}

func (d direction) pastTense() string {
	if d == dirUpload {
		return "Uploaded"
	}
	return "Downloaded"
}

func (d direction) verb() string {
	if d == dirUpload {
		return "upload"
	}
	return "download"
}

// Orchestrator runs upload and download batches against a connector. Items
// inside a batch transfer strictly in order and the first failure aborts the
// rest; progress, speed and retry accounting live on the per-file items.
type Orchestrator struct {
	conn  connector.Connector
	guard *Guard
	bus   *events.Bus
	sink  notify.Sink
	cache Invalidator
	paths SystemPaths
	log   *zap.Logger

	// now is replaceable in tests.
	now func() time.Time
}

// NewOrchestrator wires an orchestrator. cache and paths may be nil, which
// disables cache invalidation and configuration backups respectively.
func NewOrchestrator(
	conn connector.Connector,
	guard *Guard,
	bus *events.Bus,
	sink notify.Sink,
	cache Invalidator,
	paths SystemPaths,
	log *zap.Logger,
) *Orchestrator {
	if sink == nil {
		sink = notify.Nop()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{
		conn:  conn,
		guard: guard,
		bus:   bus,
		sink:  sink,
		cache: cache,
		paths: paths,
		log:   log,
		now:   time.Now,
	}
}

// Upload transfers one file to the machine.
func (o *Orchestrator) Upload(ctx context.Context, f File, opts *Options) error {
	_, err := o.run(ctx, dirUpload, []File{f}, false, opts)
	return err
}

// UploadMany transfers files to the machine in order, stopping at the first
// failure. It fails immediately with ErrBatchInProgress while another
// multi-file batch runs. The returned items expose per-file state even when
// the batch failed part way.
func (o *Orchestrator) UploadMany(ctx context.Context, files []File, opts *Options) ([]*Item, error) {
	return o.run(ctx, dirUpload, files, true, opts)
}

// Download fetches one file from the machine and returns its content.
func (o *Orchestrator) Download(ctx context.Context, f File, opts *Options) ([]byte, error) {
	items, err := o.run(ctx, dirDownload, []File{f}, false, opts)
	if err != nil {
		return nil, err
	}
	return items[0].Content(), nil
}

// DownloadMany fetches files from the machine in order, stopping at the
// first failure. Downloaded content is available via each item.
func (o *Orchestrator) DownloadMany(ctx context.Context, files []File, opts *Options) ([]*Item, error) {
	return o.run(ctx, dirDownload, files, true, opts)
}

func (o *Orchestrator) run(ctx context.Context, dir direction, files []File, multi bool, opts *Options) ([]*Item, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	filenames := make([]string, len(files))
	for i, f := range files {
		filenames[i] = f.Filename
	}

	if err := o.guard.acquire(filenames, multi); err != nil {
		return nil, err
	}

	items := make([]*Item, len(files))
	for i, f := range files {
		items[i] = newItem(f)
	}

	// The cancel func reaches the progress display so interactive sinks can
	// abort the whole batch.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var progress notify.Progress
	if opts.ShowProgress {
		progress = o.sink.StartTransfer(dir.transferKind(), len(items), cancel)
	}

	defer func() {
		if progress != nil {
			progress.Close()
		}
		o.guard.release(filenames, multi)
		o.bus.Publish(events.Event{
			Type:    events.FilesOrDirectoriesChanged,
			Payload: events.ChangedPayload{Files: filenames},
		})
	}()

	if multi {
		o.bus.Publish(events.Event{Type: dir.batchType(), Payload: events.BatchPayload{Filenames: filenames}})
	} else {
		o.bus.Publish(events.Event{Type: dir.startType(), Payload: events.TransferPayload{Filename: filenames[0]}})
	}

	for i, it := range items {
		if err := o.transferOne(ctx, dir, it, i, len(items), multi, opts, progress); err != nil {
			return items, err
		}
	}

	if opts.CloseProgressOnSuccess && progress != nil {
		progress.Close()
	}
	return items, nil
}

func (o *Orchestrator) transferOne(
	ctx context.Context,
	dir direction,
	it *Item,
	index, count int,
	multi bool,
	opts *Options,
	progress notify.Progress,
) error {
	if progress != nil {
		progress.Begin(it.Filename(), index, count, it.Size())
	}

	err := o.transport(ctx, dir, it, progress)
	if err != nil {
		it.fail(err)
		o.bus.Publish(events.Event{
			Type:    dir.errorType(),
			Payload: events.TransferErrorPayload{Filename: it.Filename(), Err: err},
		})
		if opts.ShowError && !connector.IsCancelled(err) {
			o.sink.Log(notify.LogError, fmt.Sprintf("Failed to %s %s", dir.verb(), it.Filename()), err.Error())
		}
		o.log.Debug("transfer failed",
			zap.String("filename", it.Filename()),
			zap.String("direction", dir.verb()),
			zap.Bool("cancelled", connector.IsCancelled(err)),
			zap.Error(err))
		return err
	}

	it.markDone()
	elapsed := o.now().Sub(it.StartTime()).Round(time.Millisecond)
	if !multi && opts.ShowSuccess {
		o.sink.Log(notify.LogSuccess, fmt.Sprintf("%s %s", dir.pastTense(), it.Filename()),
			fmt.Sprintf("%s %s in %s", dir.pastTense(), it.Filename(), elapsed))
	}
	o.bus.Publish(events.Event{
		Type:    dir.doneType(),
		Payload: events.TransferredPayload{Filename: it.Filename(), Index: index, Count: count},
	})
	o.log.Debug("transfer finished",
		zap.String("filename", it.Filename()),
		zap.String("direction", dir.verb()),
		zap.Duration("elapsed", elapsed))
	return nil
}

// transport runs the pre-transfer side effects and the connector call for
// one item.
func (o *Orchestrator) transport(ctx context.Context, dir direction, it *Item, progress notify.Progress) error {
	if dir == dirUpload {
		if err := o.backupConfig(ctx, it.Filename()); err != nil {
			return err
		}
		if o.cache != nil {
			o.cache.Invalidate(it.Filename())
		}
		it.ensureStarted(o.now())
		return o.conn.Upload(ctx, connector.UploadRequest{
			Filename: it.Filename(),
			Content:  it.Content(),
			Progress: o.progressFunc(it, progress),
		})
	}

	it.ensureStarted(o.now())
	data, err := o.conn.Download(ctx, connector.DownloadRequest{
		Filename: it.Filename(),
		Type:     it.kind,
		Progress: o.progressFunc(it, progress),
	})
	if err != nil {
		return err
	}
	it.setContent(data)
	return nil
}

// backupConfig renames the machine's startup configuration aside before it
// gets overwritten. A missing original is fine; any other rename failure
// aborts the upload before content transfer begins.
func (o *Orchestrator) backupConfig(ctx context.Context, filename string) error {
	if o.paths == nil || filename != o.paths.ConfigFile() {
		return nil
	}

	backup := filename + ".bak"
	if err := o.conn.Move(ctx, filename, backup, true); err != nil && !errors.Is(err, connector.ErrFileNotFound) {
		return fmt.Errorf("failed to back up %s: %w", filename, err)
	}
	return nil
}

func (o *Orchestrator) progressFunc(it *Item, progress notify.Progress) connector.ProgressFunc {
	return func(loaded, total int64, retry int) {
		it.update(loaded, total, retry, o.now())
		if progress != nil {
			progress.Update(loaded, total, it.Speed())
		}
	}
}
