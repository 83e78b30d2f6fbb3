package bridge

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"fablink/internal/config"
	"fablink/internal/connector"
	"fablink/pkg/utils"
)

const controlChannelLabel = "fablink-ctrl"

// Data channel messages are size limited, so encoded frames travel as
// segments with a one byte header. Bit 0 marks the last segment of a frame.
const segFlagLast byte = 1 << 0

// FrameConn is a reliable, ordered pipe carrying whole encoded frames
// between a client and a machine agent.
type FrameConn interface {
	Send(data []byte) error
	OnMessage(fn func(data []byte))
	OnClose(fn func(err error))
	Close() error
}

// Host publishes an offer under a fresh pairing code, reports the code
// through onCode, then waits for a client to answer and the control channel
// to open. The pairing session is single use and deleted once answered.
func Host(ctx context.Context, rv Rendezvous, cfg config.BridgeConfig, onCode func(code string), log *zap.Logger) (FrameConn, error) {
	if log == nil {
		log = zap.NewNop()
	}

	pc, err := newPeerConnection(cfg)
	if err != nil {
		return nil, err
	}

	ordered := true
	dc, err := pc.CreateDataChannel(controlChannelLabel, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("failed to create control channel: %w", err)
	}
	conn := newDataChannelConn(pc, dc, cfg, log)

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to create offer: %w", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to set local description: %w", err)
	}
	if err := waitForICEGathering(ctx, pc); err != nil {
		_ = conn.Close()
		return nil, err
	}

	encoded, err := utils.EncodeSessionDescription(*pc.LocalDescription())
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	code, err := rv.CreateSession(ctx, encoded)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if onCode != nil {
		onCode(code)
	}

	log.Info("waiting for client to pair", zap.String("code", code))
	answer, err := rv.WaitForAnswer(ctx, code)
	if err != nil {
		_ = rv.DeleteSession(context.Background(), code)
		_ = conn.Close()
		return nil, fmt.Errorf("failed waiting for answer: %w", err)
	}
	if err := rv.DeleteSession(ctx, code); err != nil {
		log.Warn("failed to delete pairing session", zap.String("code", code), zap.Error(err))
	}

	desc, err := utils.DecodeSessionDescription(answer)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := pc.SetRemoteDescription(desc); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to set remote description: %w", err)
	}

	if err := conn.waitOpen(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	log.Info("control channel open")
	return conn, nil
}

// DialWithCode joins the pairing session published under code and returns
// the control channel once it opens.
func DialWithCode(ctx context.Context, rv Rendezvous, cfg config.BridgeConfig, code string, log *zap.Logger) (FrameConn, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if !utils.IsValidPairingCode(code) {
		return nil, fmt.Errorf("invalid pairing code %q", code)
	}

	encoded, err := rv.GetOffer(ctx, code)
	if err != nil {
		return nil, err
	}
	offer, err := utils.DecodeSessionDescription(encoded)
	if err != nil {
		return nil, err
	}

	pc, err := newPeerConnection(cfg)
	if err != nil {
		return nil, err
	}

	// The host created the control channel; adopt it when it arrives.
	dcCh := make(chan *webrtc.DataChannel, 1)
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != controlChannelLabel {
			log.Warn("ignoring unexpected data channel", zap.String("label", dc.Label()))
			return
		}
		select {
		case dcCh <- dc:
		default:
		}
	})

	if err := pc.SetRemoteDescription(offer); err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("failed to set remote description: %w", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("failed to create answer: %w", err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("failed to set local description: %w", err)
	}
	if err := waitForICEGathering(ctx, pc); err != nil {
		_ = pc.Close()
		return nil, err
	}

	local, err := utils.EncodeSessionDescription(*pc.LocalDescription())
	if err != nil {
		_ = pc.Close()
		return nil, err
	}
	if err := rv.PublishAnswer(ctx, code, local); err != nil {
		_ = pc.Close()
		return nil, err
	}

	select {
	case dc := <-dcCh:
		conn := newDataChannelConn(pc, dc, cfg, log)
		if err := conn.waitOpen(ctx); err != nil {
			_ = conn.Close()
			return nil, err
		}
		log.Info("control channel open")
		return conn, nil
	case <-ctx.Done():
		_ = pc.Close()
		return nil, ctx.Err()
	}
}

func newPeerConnection(cfg config.BridgeConfig) (*webrtc.PeerConnection, error) {
	servers := make([]webrtc.ICEServer, 0, len(cfg.ICEServers))
	for _, url := range cfg.ICEServers {
		servers = append(servers, webrtc.ICEServer{URLs: []string{url}})
	}
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: servers})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}
	return pc, nil
}

func waitForICEGathering(ctx context.Context, pc *webrtc.PeerConnection) error {
	select {
	case <-webrtc.GatheringCompletePromise(pc):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// dataChannelConn carries frames over a WebRTC data channel, segmenting
// them to respect message size limits and pacing sends against the
// channel's buffered amount.
type dataChannelConn struct {
	pc  *webrtc.PeerConnection
	dc  *webrtc.DataChannel
	cfg config.BridgeConfig
	log *zap.Logger

	sendMu   sync.Mutex
	sendMore chan struct{}

	openOnce  sync.Once
	openCh    chan struct{}
	closeOnce sync.Once
	closedCh  chan struct{}

	mu        sync.Mutex
	onMessage func([]byte)
	onClose   func(error)
	assembly  []byte
}

func newDataChannelConn(pc *webrtc.PeerConnection, dc *webrtc.DataChannel, cfg config.BridgeConfig, log *zap.Logger) *dataChannelConn {
	c := &dataChannelConn{
		pc:       pc,
		dc:       dc,
		cfg:      cfg,
		log:      log,
		sendMore: make(chan struct{}, 1),
		openCh:   make(chan struct{}),
		closedCh: make(chan struct{}),
	}

	dc.SetBufferedAmountLowThreshold(cfg.BufferedAmountLowThreshold)
	dc.OnBufferedAmountLow(func() {
		select {
		case c.sendMore <- struct{}{}:
		default:
		}
	})
	dc.OnOpen(func() {
		c.openOnce.Do(func() { close(c.openCh) })
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		c.receive(msg.Data)
	})
	dc.OnClose(func() {
		c.notifyClose(fmt.Errorf("%w: control channel closed", connector.ErrDisconnected))
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		c.log.Debug("peer connection state changed", zap.String("state", state.String()))
		switch state {
		case webrtc.PeerConnectionStateFailed:
			c.notifyClose(fmt.Errorf("%w: peer connection failed", connector.ErrDisconnected))
		case webrtc.PeerConnectionStateClosed:
			c.notifyClose(fmt.Errorf("%w: peer connection closed", connector.ErrDisconnected))
		}
	})

	return c
}

func (c *dataChannelConn) waitOpen(ctx context.Context) error {
	if c.dc.ReadyState() == webrtc.DataChannelStateOpen {
		return nil
	}
	select {
	case <-c.openCh:
		return nil
	case <-c.closedCh:
		return fmt.Errorf("%w: control channel closed before opening", connector.ErrDisconnected)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *dataChannelConn) Send(data []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	select {
	case <-c.closedCh:
		return fmt.Errorf("%w: control channel closed", connector.ErrDisconnected)
	default:
	}

	chunk := c.cfg.ChunkSize
	for off := 0; ; off += chunk {
		end := off + chunk
		flag := byte(0)
		if end >= len(data) {
			end = len(data)
			flag = segFlagLast
		}

		seg := make([]byte, 0, end-off+1)
		seg = append(seg, flag)
		seg = append(seg, data[off:end]...)
		if err := c.dc.Send(seg); err != nil {
			return fmt.Errorf("%w: %v", connector.ErrDisconnected, err)
		}

		if c.dc.BufferedAmount() > c.cfg.MaxBufferedAmount {
			select {
			case <-c.sendMore:
			case <-c.closedCh:
				return fmt.Errorf("%w: control channel closed", connector.ErrDisconnected)
			}
		}

		if flag&segFlagLast != 0 {
			return nil
		}
	}
}

func (c *dataChannelConn) receive(seg []byte) {
	if len(seg) == 0 {
		return
	}
	flag := seg[0]

	c.mu.Lock()
	c.assembly = append(c.assembly, seg[1:]...)
	if flag&segFlagLast == 0 {
		c.mu.Unlock()
		return
	}
	data := c.assembly
	c.assembly = nil
	fn := c.onMessage
	c.mu.Unlock()

	if fn != nil {
		fn(data)
	}
}

func (c *dataChannelConn) OnMessage(fn func([]byte)) {
	c.mu.Lock()
	c.onMessage = fn
	c.mu.Unlock()
}

func (c *dataChannelConn) OnClose(fn func(error)) {
	c.mu.Lock()
	c.onClose = fn
	c.mu.Unlock()
}

func (c *dataChannelConn) notifyClose(err error) {
	c.closeOnce.Do(func() {
		close(c.closedCh)
		c.mu.Lock()
		fn := c.onClose
		c.mu.Unlock()
		if fn != nil {
			fn(err)
		}
	})
}

func (c *dataChannelConn) Close() error {
	c.notifyClose(fmt.Errorf("%w: connection closed", connector.ErrDisconnected))
	if c.dc != nil {
		_ = c.dc.Close()
	}
	if c.pc != nil {
		return c.pc.Close()
	}
	return nil
}
