// Package machine ties one connector to the services built around it: the
// object model store, the event bus, the transfer orchestrator, the plugin
// loader and the reconnection supervisor. Commands operate on a Machine
// instead of wiring those pieces up themselves.
package machine

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"fablink/internal/cache"
	"fablink/internal/config"
	"fablink/internal/connection"
	"fablink/internal/connector"
	"fablink/internal/events"
	"fablink/internal/model"
	"fablink/internal/notify"
	"fablink/internal/plugins"
	"fablink/internal/settings"
	"fablink/internal/transfer"
)

// Deps are the collaborators a Machine is assembled from. Conn is required;
// the rest default to an OS filesystem, a silent sink and a no-op logger.
type Deps struct {
	Conn connector.Connector
	Sink notify.Sink
	FS   afero.Fs
	Log  *zap.Logger
}

// Machine is the per-machine facade.
type Machine struct {
	conn connector.Connector
	sink notify.Sink
	log  *zap.Logger

	store      *model.Store
	bus        *events.Bus
	cache      *cache.FileInfoCache
	settings   *settings.Store
	transfers  *transfer.Orchestrator
	plugins    *plugins.Loader
	supervisor *connection.Supervisor
}

// New assembles a Machine around deps.Conn. It registers the model update
// handler on the connector, so it must run before the connector's session is
// established or the initial snapshot is missed.
func New(cfg *config.Config, deps Deps) (*Machine, error) {
	if deps.Conn == nil {
		return nil, errors.New("machine: connector is required")
	}
	fs := deps.FS
	if fs == nil {
		fs = afero.NewOsFs()
	}
	sink := deps.Sink
	if sink == nil {
		sink = notify.Nop()
	}
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}

	settingsStore, err := settings.NewStore(fs, cfg.PluginSettingsFile())
	if err != nil {
		return nil, fmt.Errorf("failed to open plugin settings: %w", err)
	}

	store := model.NewStore()
	bus := events.NewBus()
	infoCache := cache.NewFileInfoCache(cfg.Cache.FileInfoTTL, cfg.Cache.MaxEntries)
	resources := plugins.NewBundleLoader(deps.Conn, store, fs, cfg.PluginStageDir(), log)

	m := &Machine{
		conn:      deps.Conn,
		sink:      sink,
		log:       log,
		store:     store,
		bus:       bus,
		cache:     infoCache,
		settings:  settingsStore,
		transfers: transfer.NewOrchestrator(deps.Conn, transfer.NewGuard(), bus, sink, infoCache, store, log),
		plugins:   plugins.NewLoader(store, resources, plugins.NewRegistry(), settingsStore, cfg.Plugins.DevBuild, log),
	}
	m.supervisor = connection.NewSupervisor(deps.Conn, store, sink, nil, cfg.Reconnect, log)

	deps.Conn.OnModelUpdate(func(u model.Update) {
		m.store.Apply(u)
		m.bus.Publish(events.Event{Type: events.MachineModelUpdated})
	})
	return m, nil
}

// Hostname reports which machine this facade talks to.
func (m *Machine) Hostname() string { return m.conn.Hostname() }

// Model is the local replica of the machine's object model.
func (m *Machine) Model() *model.Store { return m.store }

// Events is the bus machine lifecycle events are published on.
func (m *Machine) Events() *events.Bus { return m.bus }

// Transfers runs file uploads and downloads with progress and events.
func (m *Machine) Transfers() *transfer.Orchestrator { return m.transfers }

// OnConnectionError feeds a transport failure into the reconnection state
// machine. It blocks while reconnecting; see connection.Supervisor.
func (m *Machine) OnConnectionError(ctx context.Context, cause error) {
	m.supervisor.OnConnectionError(ctx, cause)
}

// Reconnect re-establishes the connection through the supervisor's retry
// policy.
func (m *Machine) Reconnect(ctx context.Context) error {
	return m.supervisor.Reconnect(ctx)
}

// Reconnecting reports whether a reconnect is currently in progress.
func (m *Machine) Reconnecting() bool {
	return m.supervisor.Reconnecting()
}

// Disconnect closes the connection and resets the local model and caches.
func (m *Machine) Disconnect(ctx context.Context) error {
	err := m.conn.Disconnect(ctx)
	m.store.Reset()
	m.cache.Clear()
	return err
}
