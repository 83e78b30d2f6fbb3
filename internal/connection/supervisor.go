package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"fablink/internal/config"
	"fablink/internal/connector"
	"fablink/internal/model"
	"fablink/internal/notify"
)

// Reconnector is the slice of connector.Connector the supervisor drives.
type Reconnector interface {
	Hostname() string
	Reconnect(ctx context.Context) error
}

// ModelState exposes the machine state the supervisor consults and resets.
type ModelState interface {
	Status() model.MachineStatus
	Reset()
}

// Supervisor owns the reconnection state machine. A machine is either
// connected or reconnecting; transitions are driven by connection errors
// reported through OnConnectionError and by explicit Reconnect calls.
//
// Authentication failures are terminal: they are escalated to the root error
// handler and never retried. Everything else is retried on a fixed cadence
// until the connection is restored or the retry policy gives up.
type Supervisor struct {
	conn     Reconnector
	model    ModelState
	sink     notify.Sink
	escalate func(error)
	log      *zap.Logger

	retryDelay  time.Duration
	maxAttempts uint64

	// Test hooks. delay sleeps between attempts, newPolicy builds the
	// per-reconnect retry policy.
	delay     func(ctx context.Context, d time.Duration) error
	newPolicy func() backoff.BackOff

	mu           sync.Mutex
	reconnecting bool
}

func NewSupervisor(conn Reconnector, state ModelState, sink notify.Sink, escalate func(error), cfg config.ReconnectConfig, log *zap.Logger) *Supervisor {
	if sink == nil {
		sink = notify.Nop()
	}
	if log == nil {
		log = zap.NewNop()
	}
	s := &Supervisor{
		conn:        conn,
		model:       state,
		sink:        sink,
		escalate:    escalate,
		log:         log,
		retryDelay:  cfg.Delay,
		maxAttempts: cfg.MaxAttempts,
		delay:       sleepContext,
	}
	if s.escalate == nil {
		s.escalate = func(err error) {
			s.log.Error("unrecoverable connection error", zap.Error(err))
			s.sink.Log(notify.LogError, "Connection lost", err.Error())
		}
	}
	return s
}

// Reconnecting reports whether a reconnect is currently in progress.
func (s *Supervisor) Reconnecting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reconnecting
}

// OnConnectionError handles a connection failure reported by the transport.
// It blocks until the connection is restored, the error is escalated, or ctx
// is cancelled; callers that must not block should invoke it from a
// goroutine.
func (s *Supervisor) OnConnectionError(ctx context.Context, cause error) {
	if errors.Is(cause, connector.ErrInvalidPassword) {
		s.log.Error("authentication rejected", zap.Error(cause))
		s.escalate(cause)
		return
	}

	if s.Reconnecting() {
		s.log.Warn("connection error while reconnecting",
			zap.Error(cause),
			zap.Duration("retry_in", s.retryDelay))
		if err := s.delay(ctx, s.retryDelay); err != nil {
			return
		}
		_ = s.Reconnect(ctx)
		return
	}

	switch status := s.model.Status(); status {
	case model.StatusUpdating, model.StatusHalted:
		if status != model.StatusUpdating {
			s.log.Warn("connection interrupted, attempting to reconnect",
				zap.Error(cause),
				zap.String("status", string(status)))
		}
		_ = s.Reconnect(ctx)
	default:
		s.escalate(cause)
	}
}

// Reconnect re-establishes the connection, retrying on the configured cadence
// until it succeeds or the retry policy gives up. The first entry resets the
// machine model to its disconnected baseline; re-entries while already
// reconnecting keep the accumulated state untouched.
func (s *Supervisor) Reconnect(ctx context.Context) error {
	s.mu.Lock()
	if !s.reconnecting {
		s.reconnecting = true
		s.model.Reset()
	}
	s.mu.Unlock()

	policy := s.policy()
	for {
		err := s.conn.Reconnect(ctx)
		if err == nil {
			s.mu.Lock()
			s.reconnecting = false
			s.mu.Unlock()
			s.log.Info("reconnected", zap.String("hostname", s.conn.Hostname()))
			s.sink.Log(notify.LogSuccess, "Reconnected",
				fmt.Sprintf("Connection to %s restored", s.conn.Hostname()))
			return nil
		}
		if errors.Is(err, connector.ErrInvalidPassword) {
			s.clearReconnecting()
			s.log.Error("authentication rejected during reconnect", zap.Error(err))
			s.escalate(err)
			return err
		}
		next := policy.NextBackOff()
		if next == backoff.Stop {
			s.clearReconnecting()
			s.escalate(err)
			return err
		}
		s.log.Warn("failed to reconnect",
			zap.Error(err),
			zap.Duration("retry_in", next))
		if derr := s.delay(ctx, next); derr != nil {
			return derr
		}
	}
}

func (s *Supervisor) clearReconnecting() {
	s.mu.Lock()
	s.reconnecting = false
	s.mu.Unlock()
}

func (s *Supervisor) policy() backoff.BackOff {
	if s.newPolicy != nil {
		return s.newPolicy()
	}
	var policy backoff.BackOff = backoff.NewConstantBackOff(s.retryDelay)
	if s.maxAttempts > 0 {
		policy = backoff.WithMaxRetries(policy, s.maxAttempts)
	}
	return policy
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
