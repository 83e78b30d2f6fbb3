package plugins

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"fablink/internal/model"
)

type resourcesStub struct {
	loads []string
	err   error
}

func (r *resourcesStub) LoadClientResources(ctx context.Context, plugin *model.Plugin) error {
	r.loads = append(r.loads, plugin.ID)
	return r.err
}

type settingsStub struct {
	enabled map[string]bool
	err     error
}

func (s *settingsStub) SetPluginEnabled(id string, enabled bool) error {
	if s.err != nil {
		return s.err
	}
	s.enabled[id] = enabled
	return nil
}

func testPlugin(id string, mutate func(*model.Plugin)) *model.Plugin {
	p := &model.Plugin{
		ID:      id,
		Name:    id,
		Author:  "fablink",
		Version: "1.0.0",
		Files:   []string{id + ".js"},
	}
	if mutate != nil {
		mutate(p)
	}
	return p
}

func storeWith(plugins ...*model.Plugin) *model.Store {
	s := model.NewStore()
	m := make(map[string]*model.Plugin, len(plugins))
	for _, p := range plugins {
		m[p.ID] = p
	}
	s.Apply(model.Update{Plugins: m})
	return s
}

func newTestLoader(store *model.Store, devBuild bool) (*Loader, *Registry, *resourcesStub, *settingsStub) {
	registry := NewRegistry()
	resources := &resourcesStub{}
	settings := &settingsStub{enabled: map[string]bool{}}
	l := NewLoader(store, resources, registry, settings, devBuild, zap.NewNop())
	return l, registry, resources, settings
}

func TestLoadPluginIdempotent(t *testing.T) {
	t.Parallel()

	store := storeWith(testPlugin("viz-tools", nil))
	l, registry, resources, settings := newTestLoader(store, false)

	require.NoError(t, l.LoadPlugin(context.Background(), "viz-tools", true))
	require.NoError(t, l.LoadPlugin(context.Background(), "viz-tools", true))

	require.Equal(t, []string{"viz-tools"}, resources.loads)
	require.True(t, registry.Contains("viz-tools"))
	require.Equal(t, map[string]bool{"viz-tools": true}, settings.enabled)
}

func TestLoadPluginMissingFromModel(t *testing.T) {
	t.Parallel()

	l, registry, resources, _ := newTestLoader(storeWith(), false)

	err := l.LoadPlugin(context.Background(), "ghost", true)
	require.ErrorIs(t, err, ErrPluginNotFound)

	// A configuration replay tolerates ids that no longer resolve.
	require.NoError(t, l.LoadPlugin(context.Background(), "ghost", false))
	require.Empty(t, resources.loads)
	require.False(t, registry.Contains("ghost"))
}

func TestLoadPluginSkipsWithoutClientBundle(t *testing.T) {
	t.Parallel()

	store := storeWith(testPlugin("backend-only", func(p *model.Plugin) {
		p.Files = []string{"README.md", "daemon.py"}
	}))
	l, registry, resources, _ := newTestLoader(store, false)

	require.NoError(t, l.LoadPlugin(context.Background(), "backend-only", true))
	require.Empty(t, resources.loads)
	require.False(t, registry.Contains("backend-only"))
}

func TestLoadPluginSkipsInDevBuild(t *testing.T) {
	t.Parallel()

	store := storeWith(testPlugin("viz-tools", nil))
	l, registry, resources, _ := newTestLoader(store, true)

	require.NoError(t, l.LoadPlugin(context.Background(), "viz-tools", true))
	require.Empty(t, resources.loads)
	require.False(t, registry.Contains("viz-tools"))
}

func TestLoadPluginBuiltinConflict(t *testing.T) {
	t.Parallel()

	// Unsatisfiable version and dependency requirements must not mask the
	// conflict.
	store := storeWith(testPlugin("height-map", func(p *model.Plugin) {
		p.ClientVersion = "99.0.0"
		p.Dependencies = []string{"does-not-exist"}
	}))
	l, registry, resources, _ := newTestLoader(store, false)

	err := l.LoadPlugin(context.Background(), "height-map", true)
	require.ErrorIs(t, err, ErrPluginConflict)
	require.Empty(t, resources.loads)
	require.False(t, registry.Contains("height-map"))
}

func TestLoadPluginVersionGates(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*model.Plugin)
		prepare func(*model.Store)
		wantErr bool
	}{
		{
			name:    "companion required but absent",
			mutate:  func(p *model.Plugin) { p.CompanionVersion = "3.5.0" },
			wantErr: true,
		},
		{
			name:   "companion too old",
			mutate: func(p *model.Plugin) { p.CompanionVersion = "3.5.0" },
			prepare: func(s *model.Store) {
				s.Apply(model.Update{SBC: &model.SBC{Model: "rpi4", Version: "3.4.6"}})
			},
			wantErr: true,
		},
		{
			name:   "companion satisfied",
			mutate: func(p *model.Plugin) { p.CompanionVersion = "3.5.0" },
			prepare: func(s *model.Store) {
				s.Apply(model.Update{SBC: &model.SBC{Model: "rpi4", Version: "3.5.2"}})
			},
		},
		{
			name:    "firmware required but no board",
			mutate:  func(p *model.Plugin) { p.FirmwareVersion = "3.5.0" },
			wantErr: true,
		},
		{
			name:   "firmware too old",
			mutate: func(p *model.Plugin) { p.FirmwareVersion = "3.5.0" },
			prepare: func(s *model.Store) {
				s.Apply(model.Update{Boards: []model.Board{{Name: "Duet 3", FirmwareVersion: "3.4.0"}}})
			},
			wantErr: true,
		},
		{
			name:   "firmware satisfied",
			mutate: func(p *model.Plugin) { p.FirmwareVersion = "3.5.0" },
			prepare: func(s *model.Store) {
				s.Apply(model.Update{Boards: []model.Board{{Name: "Duet 3", FirmwareVersion: "3.5.1"}}})
			},
		},
		{
			name:    "client too old",
			mutate:  func(p *model.Plugin) { p.ClientVersion = "99.0.0" },
			wantErr: true,
		},
		{
			name:   "client satisfied",
			mutate: func(p *model.Plugin) { p.ClientVersion = "1.0.0" },
		},
		{
			name:   "unparseable firmware version fails the gate",
			mutate: func(p *model.Plugin) { p.FirmwareVersion = "3.5.0" },
			prepare: func(s *model.Store) {
				s.Apply(model.Update{Boards: []model.Board{{Name: "Duet 3", FirmwareVersion: "unknown"}}})
			},
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			store := storeWith(testPlugin("viz-tools", tc.mutate))
			if tc.prepare != nil {
				tc.prepare(store)
			}
			l, registry, _, _ := newTestLoader(store, false)

			err := l.LoadPlugin(context.Background(), "viz-tools", true)
			if tc.wantErr {
				require.ErrorIs(t, err, ErrVersionMismatch)
				require.False(t, registry.Contains("viz-tools"))
			} else {
				require.NoError(t, err)
				require.True(t, registry.Contains("viz-tools"))
			}
		})
	}
}

func TestLoadPluginLoadsDependenciesFirst(t *testing.T) {
	t.Parallel()

	store := storeWith(
		testPlugin("cam-suite", func(p *model.Plugin) { p.Dependencies = []string{"mesh-utils"} }),
		testPlugin("mesh-utils", nil),
	)
	l, registry, resources, settings := newTestLoader(store, false)

	require.NoError(t, l.LoadPlugin(context.Background(), "cam-suite", true))

	require.Equal(t, []string{"mesh-utils", "cam-suite"}, resources.loads)
	require.True(t, registry.Contains("mesh-utils"))
	require.True(t, registry.Contains("cam-suite"))

	// Dependency loads are never persisted.
	require.Equal(t, map[string]bool{"cam-suite": true}, settings.enabled)
}

func TestLoadPluginMissingDependency(t *testing.T) {
	t.Parallel()

	store := storeWith(testPlugin("cam-suite", func(p *model.Plugin) {
		p.Dependencies = []string{"mesh-utils"}
	}))
	l, registry, resources, _ := newTestLoader(store, false)

	err := l.LoadPlugin(context.Background(), "cam-suite", true)
	require.ErrorIs(t, err, ErrPluginNotFound)
	require.Empty(t, resources.loads)
	require.False(t, registry.Contains("cam-suite"))
}

func TestLoadPluginDependencyCycle(t *testing.T) {
	t.Parallel()

	store := storeWith(
		testPlugin("alpha", func(p *model.Plugin) { p.Dependencies = []string{"beta"} }),
		testPlugin("beta", func(p *model.Plugin) { p.Dependencies = []string{"alpha"} }),
	)
	l, registry, _, _ := newTestLoader(store, false)

	err := l.LoadPlugin(context.Background(), "alpha", true)
	require.ErrorIs(t, err, ErrDependencyCycle)
	require.ErrorContains(t, err, "alpha -> beta -> alpha")
	require.False(t, registry.Contains("alpha"))
	require.False(t, registry.Contains("beta"))
}

func TestLoadPluginResourceErrorPropagates(t *testing.T) {
	t.Parallel()

	store := storeWith(testPlugin("viz-tools", nil))
	l, registry, resources, settings := newTestLoader(store, false)
	resources.err = errors.New("bundle fetch failed")

	err := l.LoadPlugin(context.Background(), "viz-tools", true)
	require.ErrorIs(t, err, resources.err)
	require.False(t, registry.Contains("viz-tools"))
	require.Empty(t, settings.enabled)
}

func TestUnloadPluginDisablesInSettings(t *testing.T) {
	t.Parallel()

	store := storeWith(testPlugin("viz-tools", nil))
	l, registry, _, settings := newTestLoader(store, false)

	require.NoError(t, l.LoadPlugin(context.Background(), "viz-tools", true))
	require.NoError(t, l.UnloadPlugin("viz-tools"))

	require.False(t, settings.enabled["viz-tools"])
	// Already-activated resources stay active until restart.
	require.True(t, registry.Contains("viz-tools"))
}
