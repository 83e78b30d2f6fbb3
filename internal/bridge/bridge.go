// Package bridge connects to a remote machine agent over a WebRTC data
// channel. Requests, responses, transfer progress and model updates travel
// as CBOR frames; a Firebase realtime database handles the pairing
// handshake between the two peers.
package bridge

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"fablink/internal/config"
	"fablink/internal/connector"
	"fablink/internal/model"
	"fablink/internal/version"
)

// DialFunc establishes a fresh control channel. Reconnecting runs it again,
// which for the WebRTC transport means a new pairing handshake.
type DialFunc func(ctx context.Context) (FrameConn, error)

// Client is the connector.Connector for machines reached through a remote
// agent. It is created disconnected; Connect dials and authenticates.
type Client struct {
	hostname string
	password string
	dial     DialFunc
	log      *zap.Logger

	mu       sync.Mutex
	conn     FrameConn
	pending  map[string]chan *frame
	progress map[string]connector.ProgressFunc
	onModel  func(model.Update)
}

var _ connector.Connector = (*Client)(nil)

func NewClient(cfg config.MachineConfig, dial DialFunc, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		hostname: cfg.Hostname,
		password: cfg.Password,
		dial:     dial,
		log:      log,
	}
}

func (c *Client) Hostname() string { return c.hostname }

// Connect dials the agent and authenticates. The agent pushes a full model
// snapshot once the password is accepted.
func (c *Client) Connect(ctx context.Context) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.pending = make(map[string]chan *frame)
	c.progress = make(map[string]connector.ProgressFunc)
	c.mu.Unlock()

	conn.OnMessage(c.handleMessage)
	conn.OnClose(c.handleClose)

	if _, err := c.call(ctx, opAuth, authBody{Password: c.password, Client: "fablink/" + version.Version}, nil); err != nil {
		_ = c.Disconnect(ctx)
		return err
	}
	c.log.Info("connected to machine", zap.String("hostname", c.hostname))
	return nil
}

func (c *Client) Reconnect(ctx context.Context) error {
	_ = c.Disconnect(ctx)
	return c.Connect(ctx)
}

func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	pending := c.pending
	c.conn = nil
	c.pending = nil
	c.progress = nil
	c.mu.Unlock()

	for _, ch := range pending {
		close(ch)
	}
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// OnModelUpdate registers the handler receiving model pushes from the
// agent. Register before Connect so the post-auth snapshot is not missed.
func (c *Client) OnModelUpdate(fn func(model.Update)) {
	c.mu.Lock()
	c.onModel = fn
	c.mu.Unlock()
}

func (c *Client) SendCode(ctx context.Context, code string) (string, error) {
	f, err := c.call(ctx, opSendCode, codeBody{Code: code}, nil)
	if err != nil {
		return "", err
	}
	var r replyBody
	if err := decodeBody(f.Body, &r); err != nil {
		return "", err
	}
	return r.Reply, nil
}

func (c *Client) Upload(ctx context.Context, req connector.UploadRequest) error {
	_, err := c.call(ctx, opUpload, uploadBody{Filename: req.Filename, Content: req.Content}, req.Progress)
	return err
}

func (c *Client) Download(ctx context.Context, req connector.DownloadRequest) ([]byte, error) {
	f, err := c.call(ctx, opDownload, downloadBody{Filename: req.Filename, Type: string(req.Type)}, req.Progress)
	if err != nil {
		return nil, err
	}
	var body contentBody
	if err := decodeBody(f.Body, &body); err != nil {
		return nil, err
	}
	return body.Content, nil
}

func (c *Client) Delete(ctx context.Context, filename string) error {
	_, err := c.call(ctx, opDelete, filenameBody{Filename: filename}, nil)
	return err
}

func (c *Client) Move(ctx context.Context, from, to string, force bool) error {
	_, err := c.call(ctx, opMove, moveBody{From: from, To: to, Force: force}, nil)
	return err
}

func (c *Client) MakeDirectory(ctx context.Context, directory string) error {
	_, err := c.call(ctx, opMakeDirectory, directoryBody{Directory: directory}, nil)
	return err
}

func (c *Client) GetFileList(ctx context.Context, directory string) ([]model.FileEntry, error) {
	f, err := c.call(ctx, opFileList, directoryBody{Directory: directory}, nil)
	if err != nil {
		return nil, err
	}
	var body entriesBody
	if err := decodeBody(f.Body, &body); err != nil {
		return nil, err
	}
	return body.Entries, nil
}

func (c *Client) GetFileInfo(ctx context.Context, filename string) (*model.ParsedFileInfo, error) {
	f, err := c.call(ctx, opFileInfo, filenameBody{Filename: filename}, nil)
	if err != nil {
		return nil, err
	}
	var body fileInfoBody
	if err := decodeBody(f.Body, &body); err != nil {
		return nil, err
	}
	return body.Info, nil
}

func (c *Client) InstallPlugin(ctx context.Context, req connector.PluginInstallRequest) error {
	_, err := c.call(ctx, opInstallPlugin, installPluginBody{
		ZipFilename: req.ZipFilename,
		ZipContent:  req.ZipContent,
		Start:       req.Start,
	}, nil)
	return err
}

func (c *Client) UninstallPlugin(ctx context.Context, id string) error {
	_, err := c.call(ctx, opUninstallPlugin, pluginIDBody{ID: id}, nil)
	return err
}

func (c *Client) StartPlugin(ctx context.Context, id string) error {
	_, err := c.call(ctx, opStartPlugin, pluginIDBody{ID: id}, nil)
	return err
}

func (c *Client) StopPlugin(ctx context.Context, id string) error {
	_, err := c.call(ctx, opStopPlugin, pluginIDBody{ID: id}, nil)
	return err
}

func (c *Client) SetPluginData(ctx context.Context, pluginID, key string, value any) error {
	_, err := c.call(ctx, opSetPluginData, pluginDataBody{PluginID: pluginID, Key: key, Value: value}, nil)
	return err
}

func (c *Client) InstallSystemPackage(ctx context.Context, filename string, content []byte) error {
	_, err := c.call(ctx, opInstallPackage, packageBody{Filename: filename, Content: content}, nil)
	return err
}

func (c *Client) UninstallSystemPackage(ctx context.Context, pkg string) error {
	_, err := c.call(ctx, opUninstallPackage, packageBody{Filename: pkg}, nil)
	return err
}

// call sends one request frame and waits for its response. Progress frames
// arriving under the same id are forwarded to onProgress. Context
// cancellation aborts the wait and tells the agent to stop the operation.
func (c *Client) call(ctx context.Context, op string, body any, onProgress connector.ProgressFunc) (*frame, error) {
	raw, err := encodeBody(body)
	if err != nil {
		return nil, err
	}
	id := uuid.NewString()
	data, err := encodeFrame(&frame{Kind: frameRequest, ID: id, Op: op, Body: raw})
	if err != nil {
		return nil, err
	}

	ch := make(chan *frame, 1)

	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: not connected to %s", connector.ErrDisconnected, c.hostname)
	}
	c.pending[id] = ch
	if onProgress != nil {
		c.progress[id] = onProgress
	}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		delete(c.progress, id)
		c.mu.Unlock()
	}()

	if err := conn.Send(data); err != nil {
		return nil, fmt.Errorf("failed to send %s request: %w", op, err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("%w: connection to %s lost", connector.ErrDisconnected, c.hostname)
		}
		if resp.Error != "" {
			return nil, wireError(resp.ErrKind, resp.Error)
		}
		return resp, nil
	case <-ctx.Done():
		c.requestCancel(id)
		return nil, fmt.Errorf("%w: %s: %v", connector.ErrCancelled, op, ctx.Err())
	}
}

// requestCancel asks the agent to abort a running operation. Best effort;
// the caller has already given up on the response.
func (c *Client) requestCancel(id string) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}
	raw, err := encodeBody(cancelBody{ID: id})
	if err != nil {
		return
	}
	data, err := encodeFrame(&frame{Kind: frameRequest, Op: opCancel, Body: raw})
	if err != nil {
		return
	}
	_ = conn.Send(data)
}

func (c *Client) handleMessage(data []byte) {
	f, err := decodeFrame(data)
	if err != nil {
		c.log.Warn("dropping undecodable frame", zap.Error(err))
		return
	}

	switch f.Kind {
	case frameResponse:
		c.mu.Lock()
		ch := c.pending[f.ID]
		c.mu.Unlock()
		if ch == nil {
			c.log.Debug("dropping response for unknown request", zap.String("op", f.Op), zap.String("id", f.ID))
			return
		}
		select {
		case ch <- f:
		default:
		}

	case frameProgress:
		c.mu.Lock()
		fn := c.progress[f.ID]
		c.mu.Unlock()
		if fn == nil {
			return
		}
		var p progressBody
		if err := decodeBody(f.Body, &p); err != nil {
			return
		}
		fn(p.Loaded, p.Total, p.Retry)

	case frameEvent:
		if f.Op != opModel {
			return
		}
		c.mu.Lock()
		fn := c.onModel
		c.mu.Unlock()
		if fn == nil {
			return
		}
		var m modelBody
		if err := decodeBody(f.Body, &m); err != nil {
			c.log.Warn("failed to decode model push", zap.Error(err))
			return
		}
		fn(m.Update)
	}
}

// handleClose fails every in-flight call once the control channel dies.
func (c *Client) handleClose(cause error) {
	c.mu.Lock()
	if c.conn == nil {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	pending := c.pending
	c.pending = nil
	c.progress = nil
	c.mu.Unlock()

	c.log.Warn("control channel lost", zap.String("hostname", c.hostname), zap.Error(cause))
	for _, ch := range pending {
		close(ch)
	}
}
