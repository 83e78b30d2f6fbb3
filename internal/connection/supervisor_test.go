package connection

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"fablink/internal/config"
	"fablink/internal/connector"
	"fablink/internal/connector/connectortest"
	"fablink/internal/model"
	"fablink/internal/notify"
	"fablink/internal/notify/notifytest"
)

type stateStub struct {
	mu     sync.Mutex
	status model.MachineStatus
	resets int
}

func (s *stateStub) Status() model.MachineStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *stateStub) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resets++
}

func (s *stateStub) Resets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resets
}

type escalations struct {
	mu   sync.Mutex
	errs []error
}

func (e *escalations) fn(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.errs = append(e.errs, err)
}

func (e *escalations) all() []error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]error(nil), e.errs...)
}

func newTestSupervisor(fake *connectortest.Fake, state *stateStub, cfg config.ReconnectConfig) (*Supervisor, *notifytest.Recorder, *escalations, *[]time.Duration) {
	sink := notifytest.NewRecorder()
	esc := &escalations{}
	s := NewSupervisor(fake, state, sink, esc.fn, cfg, zap.NewNop())
	delays := &[]time.Duration{}
	s.delay = func(_ context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
	return s, sink, esc, delays
}

func TestAuthFailureNeverRetried(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		reconnecting bool
		status       model.MachineStatus
	}{
		{name: "connected and idle", status: model.StatusIdle},
		{name: "connected and updating", status: model.StatusUpdating},
		{name: "already reconnecting", reconnecting: true, status: model.StatusIdle},
		{name: "reconnecting during update", reconnecting: true, status: model.StatusUpdating},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			fake := &connectortest.Fake{}
			state := &stateStub{status: tc.status}
			s, _, esc, delays := newTestSupervisor(fake, state, config.ReconnectConfig{Delay: 2 * time.Second})
			s.reconnecting = tc.reconnecting

			s.OnConnectionError(context.Background(), connector.ErrInvalidPassword)

			errs := esc.all()
			require.Len(t, errs, 1)
			require.ErrorIs(t, errs[0], connector.ErrInvalidPassword)
			require.Zero(t, fake.Reconnects)
			require.Empty(t, *delays)
		})
	}
}

func TestReconnectRetriesUntilSuccess(t *testing.T) {
	t.Parallel()

	fake := &connectortest.Fake{}
	calls := 0
	fake.ReconnectFn = func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return fmt.Errorf("%w: tunnel closed", connector.ErrDisconnected)
		}
		return nil
	}
	state := &stateStub{status: model.StatusIdle}
	s, sink, esc, delays := newTestSupervisor(fake, state, config.ReconnectConfig{Delay: 2 * time.Second})

	require.NoError(t, s.Reconnect(context.Background()))

	require.Equal(t, 3, calls)
	require.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, *delays)
	require.Equal(t, 1, state.Resets())
	require.False(t, s.Reconnecting())
	require.Empty(t, esc.all())

	success := sink.LogsOfKind(notify.LogSuccess)
	require.Len(t, success, 1)
	require.Contains(t, success[0].Message, "machine.local")
}

func TestReconnectAuthFailureEscalates(t *testing.T) {
	t.Parallel()

	fake := &connectortest.Fake{}
	fake.ReconnectFn = func(ctx context.Context) error {
		return fmt.Errorf("%w: wrong password", connector.ErrInvalidPassword)
	}
	state := &stateStub{status: model.StatusIdle}
	s, _, esc, delays := newTestSupervisor(fake, state, config.ReconnectConfig{Delay: 2 * time.Second})

	err := s.Reconnect(context.Background())
	require.ErrorIs(t, err, connector.ErrInvalidPassword)

	require.Equal(t, 1, fake.Reconnects)
	require.Empty(t, *delays)
	require.Len(t, esc.all(), 1)
	require.False(t, s.Reconnecting())
}

func TestReconnectGivesUpWhenPolicyExhausted(t *testing.T) {
	t.Parallel()

	fake := &connectortest.Fake{}
	fake.ReconnectFn = func(ctx context.Context) error {
		return connector.ErrDisconnected
	}
	state := &stateStub{status: model.StatusIdle}
	cfg := config.ReconnectConfig{Delay: time.Second, MaxAttempts: 2}
	s, _, esc, _ := newTestSupervisor(fake, state, cfg)

	err := s.Reconnect(context.Background())
	require.ErrorIs(t, err, connector.ErrDisconnected)

	// Initial attempt plus two retries.
	require.Equal(t, 3, fake.Reconnects)
	require.Len(t, esc.all(), 1)
	require.False(t, s.Reconnecting())
}

func TestConnectionErrorWhileReconnectingRetriesAfterDelay(t *testing.T) {
	t.Parallel()

	fake := &connectortest.Fake{}
	state := &stateStub{status: model.StatusIdle}
	s, _, esc, delays := newTestSupervisor(fake, state, config.ReconnectConfig{Delay: 2 * time.Second})
	s.reconnecting = true

	s.OnConnectionError(context.Background(), connector.ErrDisconnected)

	require.Equal(t, []time.Duration{2 * time.Second}, *delays)
	require.Equal(t, 1, fake.Reconnects)
	// The model keeps its state while a reconnect is already in flight.
	require.Zero(t, state.Resets())
	require.False(t, s.Reconnecting())
	require.Empty(t, esc.all())
}

func TestConnectionErrorDuringUpdateOrHaltReconnects(t *testing.T) {
	t.Parallel()

	for _, status := range []model.MachineStatus{model.StatusUpdating, model.StatusHalted} {
		t.Run(string(status), func(t *testing.T) {
			t.Parallel()

			fake := &connectortest.Fake{}
			state := &stateStub{status: status}
			s, _, esc, _ := newTestSupervisor(fake, state, config.ReconnectConfig{Delay: 2 * time.Second})

			s.OnConnectionError(context.Background(), connector.ErrDisconnected)

			require.Equal(t, 1, fake.Reconnects)
			require.Equal(t, 1, state.Resets())
			require.False(t, s.Reconnecting())
			require.Empty(t, esc.all())
		})
	}
}

func TestConnectionErrorEscalatesWhenIdle(t *testing.T) {
	t.Parallel()

	fake := &connectortest.Fake{}
	state := &stateStub{status: model.StatusIdle}
	s, _, esc, _ := newTestSupervisor(fake, state, config.ReconnectConfig{Delay: 2 * time.Second})

	cause := fmt.Errorf("%w: ice restart failed", connector.ErrDisconnected)
	s.OnConnectionError(context.Background(), cause)

	require.Zero(t, fake.Reconnects)
	errs := esc.all()
	require.Len(t, errs, 1)
	require.ErrorIs(t, errs[0], connector.ErrDisconnected)
}
