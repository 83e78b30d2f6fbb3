package bridge

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"fablink/internal/connector"
	"fablink/internal/model"
)

// ModelSource produces a full model snapshot on demand. Connectors that
// implement it let the agent push the current model to a freshly
// authenticated client.
type ModelSource interface {
	Model() model.Update
}

// Agent serves a machine's connector to one remote client at a time.
// Request frames dispatch onto the connector, transfer progress is relayed
// back, and model updates are pushed as event frames.
type Agent struct {
	conn     connector.Connector
	password string
	log      *zap.Logger

	mu      sync.Mutex
	fc      FrameConn
	authed  bool
	running map[string]context.CancelFunc
}

func NewAgent(conn connector.Connector, password string, log *zap.Logger) *Agent {
	if log == nil {
		log = zap.NewNop()
	}
	return &Agent{conn: conn, password: password, log: log}
}

// Serve handles frames from fc until the connection closes or ctx ends.
// It returns the close cause, which for an orderly client disconnect is a
// disconnected-kind error.
func (a *Agent) Serve(ctx context.Context, fc FrameConn) error {
	a.mu.Lock()
	stale := a.running
	a.fc = fc
	a.authed = false
	a.running = make(map[string]context.CancelFunc)
	a.mu.Unlock()
	for _, cancel := range stale {
		cancel()
	}

	closed := make(chan error, 1)
	fc.OnClose(func(err error) {
		select {
		case closed <- err:
		default:
		}
	})
	fc.OnMessage(func(data []byte) {
		a.handleFrame(ctx, data)
	})
	a.conn.OnModelUpdate(func(u model.Update) {
		a.pushModel(u)
	})

	var cause error
	select {
	case <-ctx.Done():
		cause = ctx.Err()
		_ = fc.Close()
	case err := <-closed:
		cause = err
	}

	// A replacement session may already be installed; only tear down our own.
	a.mu.Lock()
	var running map[string]context.CancelFunc
	if a.fc == fc {
		a.fc = nil
		a.authed = false
		running = a.running
		a.running = nil
	}
	a.mu.Unlock()
	for _, cancel := range running {
		cancel()
	}
	return cause
}

func (a *Agent) handleFrame(ctx context.Context, data []byte) {
	f, err := decodeFrame(data)
	if err != nil {
		a.log.Warn("dropping undecodable frame", zap.Error(err))
		return
	}
	if f.Kind != frameRequest {
		return
	}

	switch f.Op {
	case opCancel:
		var b cancelBody
		if err := decodeBody(f.Body, &b); err != nil {
			return
		}
		a.cancelOp(b.ID)
		return
	case opAuth:
		a.handleAuth(f)
		return
	}

	if !a.isAuthed() {
		a.respondErr(f, fmt.Errorf("%w: not authenticated", connector.ErrInvalidPassword))
		return
	}

	opCtx, cancel := context.WithCancel(ctx)
	if !a.track(f.ID, cancel) {
		cancel()
		return
	}
	go func() {
		defer a.untrack(f.ID)
		a.dispatch(opCtx, f)
	}()
}

func (a *Agent) handleAuth(f *frame) {
	var b authBody
	if err := decodeBody(f.Body, &b); err != nil {
		a.respondErr(f, err)
		return
	}
	if a.password != "" && b.Password != a.password {
		a.log.Warn("rejected client with wrong password", zap.String("client", b.Client))
		a.respondErr(f, fmt.Errorf("%w: wrong password", connector.ErrInvalidPassword))
		return
	}

	a.mu.Lock()
	a.authed = true
	a.mu.Unlock()
	a.log.Info("client authenticated", zap.String("client", b.Client))

	// The snapshot goes out before the auth response. The channel delivers
	// in order, so the client's model is populated by the time its Connect
	// returns.
	if src, ok := a.conn.(ModelSource); ok {
		a.pushModel(src.Model())
	}
	a.respond(f, nil)
}

func (a *Agent) dispatch(ctx context.Context, f *frame) {
	switch f.Op {
	case opSendCode:
		var b codeBody
		if err := decodeBody(f.Body, &b); err != nil {
			a.respondErr(f, err)
			return
		}
		reply, err := a.conn.SendCode(ctx, b.Code)
		if err != nil {
			a.respondErr(f, err)
			return
		}
		a.respond(f, replyBody{Reply: reply})

	case opUpload:
		var b uploadBody
		if err := decodeBody(f.Body, &b); err != nil {
			a.respondErr(f, err)
			return
		}
		err := a.conn.Upload(ctx, connector.UploadRequest{
			Filename: b.Filename,
			Content:  b.Content,
			Progress: a.progressFunc(f.ID),
		})
		if err != nil {
			a.respondErr(f, err)
			return
		}
		a.respond(f, nil)

	case opDownload:
		var b downloadBody
		if err := decodeBody(f.Body, &b); err != nil {
			a.respondErr(f, err)
			return
		}
		content, err := a.conn.Download(ctx, connector.DownloadRequest{
			Filename: b.Filename,
			Type:     connector.ContentType(b.Type),
			Progress: a.progressFunc(f.ID),
		})
		if err != nil {
			a.respondErr(f, err)
			return
		}
		a.respond(f, contentBody{Content: content})

	case opDelete:
		var b filenameBody
		if err := decodeBody(f.Body, &b); err != nil {
			a.respondErr(f, err)
			return
		}
		a.finish(f, a.conn.Delete(ctx, b.Filename))

	case opMove:
		var b moveBody
		if err := decodeBody(f.Body, &b); err != nil {
			a.respondErr(f, err)
			return
		}
		a.finish(f, a.conn.Move(ctx, b.From, b.To, b.Force))

	case opMakeDirectory:
		var b directoryBody
		if err := decodeBody(f.Body, &b); err != nil {
			a.respondErr(f, err)
			return
		}
		a.finish(f, a.conn.MakeDirectory(ctx, b.Directory))

	case opFileList:
		var b directoryBody
		if err := decodeBody(f.Body, &b); err != nil {
			a.respondErr(f, err)
			return
		}
		entries, err := a.conn.GetFileList(ctx, b.Directory)
		if err != nil {
			a.respondErr(f, err)
			return
		}
		a.respond(f, entriesBody{Entries: entries})

	case opFileInfo:
		var b filenameBody
		if err := decodeBody(f.Body, &b); err != nil {
			a.respondErr(f, err)
			return
		}
		info, err := a.conn.GetFileInfo(ctx, b.Filename)
		if err != nil {
			a.respondErr(f, err)
			return
		}
		a.respond(f, fileInfoBody{Info: info})

	case opInstallPlugin:
		var b installPluginBody
		if err := decodeBody(f.Body, &b); err != nil {
			a.respondErr(f, err)
			return
		}
		a.finish(f, a.conn.InstallPlugin(ctx, connector.PluginInstallRequest{
			ZipFilename: b.ZipFilename,
			ZipContent:  b.ZipContent,
			Start:       b.Start,
		}))

	case opUninstallPlugin:
		var b pluginIDBody
		if err := decodeBody(f.Body, &b); err != nil {
			a.respondErr(f, err)
			return
		}
		a.finish(f, a.conn.UninstallPlugin(ctx, b.ID))

	case opStartPlugin:
		var b pluginIDBody
		if err := decodeBody(f.Body, &b); err != nil {
			a.respondErr(f, err)
			return
		}
		a.finish(f, a.conn.StartPlugin(ctx, b.ID))

	case opStopPlugin:
		var b pluginIDBody
		if err := decodeBody(f.Body, &b); err != nil {
			a.respondErr(f, err)
			return
		}
		a.finish(f, a.conn.StopPlugin(ctx, b.ID))

	case opSetPluginData:
		var b pluginDataBody
		if err := decodeBody(f.Body, &b); err != nil {
			a.respondErr(f, err)
			return
		}
		a.finish(f, a.conn.SetPluginData(ctx, b.PluginID, b.Key, b.Value))

	case opInstallPackage:
		var b packageBody
		if err := decodeBody(f.Body, &b); err != nil {
			a.respondErr(f, err)
			return
		}
		a.finish(f, a.conn.InstallSystemPackage(ctx, b.Filename, b.Content))

	case opUninstallPackage:
		var b packageBody
		if err := decodeBody(f.Body, &b); err != nil {
			a.respondErr(f, err)
			return
		}
		a.finish(f, a.conn.UninstallSystemPackage(ctx, b.Filename))

	default:
		a.respondErr(f, fmt.Errorf("%w: unknown operation %q", connector.ErrOperationFailed, f.Op))
	}
}

func (a *Agent) finish(f *frame, err error) {
	if err != nil {
		a.respondErr(f, err)
		return
	}
	a.respond(f, nil)
}

func (a *Agent) respond(f *frame, body any) {
	raw, err := encodeBody(body)
	if err != nil {
		a.log.Warn("failed to encode response", zap.String("op", f.Op), zap.Error(err))
		return
	}
	a.send(&frame{Kind: frameResponse, ID: f.ID, Op: f.Op, Body: raw})
}

func (a *Agent) respondErr(f *frame, err error) {
	a.send(&frame{Kind: frameResponse, ID: f.ID, Op: f.Op, Error: err.Error(), ErrKind: errKindOf(err)})
}

func (a *Agent) progressFunc(id string) connector.ProgressFunc {
	return func(loaded, total int64, retry int) {
		raw, err := encodeBody(progressBody{Loaded: loaded, Total: total, Retry: retry})
		if err != nil {
			return
		}
		a.send(&frame{Kind: frameProgress, ID: id, Body: raw})
	}
}

func (a *Agent) pushModel(u model.Update) {
	a.mu.Lock()
	authed := a.authed
	a.mu.Unlock()
	if !authed {
		return
	}
	raw, err := encodeBody(modelBody{Update: u})
	if err != nil {
		a.log.Warn("failed to encode model push", zap.Error(err))
		return
	}
	a.send(&frame{Kind: frameEvent, Op: opModel, Body: raw})
}

func (a *Agent) send(f *frame) {
	a.mu.Lock()
	fc := a.fc
	a.mu.Unlock()
	if fc == nil {
		return
	}
	data, err := encodeFrame(f)
	if err != nil {
		a.log.Warn("failed to encode frame", zap.String("op", f.Op), zap.Error(err))
		return
	}
	if err := fc.Send(data); err != nil {
		a.log.Warn("failed to send frame", zap.String("op", f.Op), zap.Error(err))
	}
}

func (a *Agent) isAuthed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.authed
}

func (a *Agent) track(id string, cancel context.CancelFunc) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running == nil {
		return false
	}
	a.running[id] = cancel
	return true
}

func (a *Agent) untrack(id string) {
	a.mu.Lock()
	cancel := a.running[id]
	delete(a.running, id)
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (a *Agent) cancelOp(id string) {
	a.mu.Lock()
	cancel := a.running[id]
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
