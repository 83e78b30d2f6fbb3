package plugins

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
	"go.uber.org/zap"

	"fablink/internal/model"
	"fablink/internal/version"
)

var (
	ErrPluginNotFound  = errors.New("plugin not found in machine model")
	ErrPluginConflict  = errors.New("plugin conflicts with a built-in plugin")
	ErrVersionMismatch = errors.New("plugin version requirement not satisfied")
	ErrDependencyCycle = errors.New("plugin dependency cycle detected")
)

// ModelReader is the slice of the object model store the loader consults.
type ModelReader interface {
	Plugin(id string) *model.Plugin
	Boards() []model.Board
	SBC() *model.SBC
}

// SettingsStore persists which plugins the user has enabled.
type SettingsStore interface {
	SetPluginEnabled(id string, enabled bool) error
}

// Loader resolves plugin dependencies and version requirements before handing
// the plugin to the resource loader for activation.
type Loader struct {
	model     ModelReader
	resources ResourceLoader
	registry  *Registry
	settings  SettingsStore
	devBuild  bool
	log       *zap.Logger
}

func NewLoader(model ModelReader, resources ResourceLoader, registry *Registry, settings SettingsStore, devBuild bool, log *zap.Logger) *Loader {
	if log == nil {
		log = zap.NewNop()
	}
	return &Loader{
		model:     model,
		resources: resources,
		registry:  registry,
		settings:  settings,
		devBuild:  devBuild,
		log:       log,
	}
}

// LoadPlugin resolves and activates the client resources of the given plugin.
// saveSettings distinguishes an explicit user action from a replay of the
// persisted plugin list: explicit loads persist the id on success and fail
// loudly when the plugin is unknown, replays stay quiet.
func (l *Loader) LoadPlugin(ctx context.Context, id string, saveSettings bool) error {
	return l.load(ctx, id, saveSettings, nil)
}

func (l *Loader) load(ctx context.Context, id string, saveSettings bool, stack []string) error {
	if l.registry.Contains(id) {
		return nil
	}
	for _, ancestor := range stack {
		if ancestor == id {
			chain := strings.Join(append(stack, id), " -> ")
			return fmt.Errorf("%w: %s", ErrDependencyCycle, chain)
		}
	}

	plugin := l.model.Plugin(id)
	if plugin == nil {
		if saveSettings {
			return fmt.Errorf("%w: %s", ErrPluginNotFound, id)
		}
		l.log.Warn("skipping unknown plugin", zap.String("plugin", id))
		return nil
	}

	if l.devBuild || !hasClientBundle(plugin) {
		l.log.Debug("plugin has no loadable client bundle", zap.String("plugin", id))
		return nil
	}

	if IsBuiltin(id) {
		return fmt.Errorf("%w: %s", ErrPluginConflict, id)
	}

	if err := l.checkVersions(plugin); err != nil {
		return err
	}

	next := append(append([]string(nil), stack...), id)
	for _, dep := range plugin.Dependencies {
		if l.registry.Contains(dep) {
			continue
		}
		// The recursive call treats an unknown plugin as a quiet no-op,
		// so missing dependencies must be rejected here.
		if l.model.Plugin(dep) == nil {
			return fmt.Errorf("%w: dependency %s of %s", ErrPluginNotFound, dep, id)
		}
		if err := l.load(ctx, dep, false, next); err != nil {
			return fmt.Errorf("failed to load dependency %s of %s: %w", dep, id, err)
		}
	}

	if err := l.resources.LoadClientResources(ctx, plugin); err != nil {
		return err
	}

	l.registry.Add(id)
	l.log.Info("loaded plugin",
		zap.String("plugin", id),
		zap.String("version", plugin.Version))

	if saveSettings {
		if err := l.settings.SetPluginEnabled(id, true); err != nil {
			return fmt.Errorf("failed to persist enabled plugin %s: %w", id, err)
		}
	}
	return nil
}

// UnloadPlugin disables the plugin for future sessions. Resources already
// activated in this process stay active until restart.
func (l *Loader) UnloadPlugin(id string) error {
	l.log.Info("disabling plugin", zap.String("plugin", id))
	return l.settings.SetPluginEnabled(id, false)
}

func (l *Loader) checkVersions(plugin *model.Plugin) error {
	if plugin.CompanionVersion != "" {
		sbc := l.model.SBC()
		if sbc == nil {
			return fmt.Errorf("%w: %s requires a companion computer running %s or newer",
				ErrVersionMismatch, plugin.ID, plugin.CompanionVersion)
		}
		if err := checkAtLeast(plugin.CompanionVersion, sbc.Version); err != nil {
			return fmt.Errorf("companion version for plugin %s: %w", plugin.ID, err)
		}
	}
	if plugin.FirmwareVersion != "" {
		boards := l.model.Boards()
		if len(boards) == 0 {
			return fmt.Errorf("%w: %s requires firmware %s or newer but no board is connected",
				ErrVersionMismatch, plugin.ID, plugin.FirmwareVersion)
		}
		if err := checkAtLeast(plugin.FirmwareVersion, boards[0].FirmwareVersion); err != nil {
			return fmt.Errorf("firmware version for plugin %s: %w", plugin.ID, err)
		}
	}
	if plugin.ClientVersion != "" {
		if err := checkAtLeast(plugin.ClientVersion, version.Version); err != nil {
			return fmt.Errorf("client version for plugin %s: %w", plugin.ID, err)
		}
	}
	return nil
}

func checkAtLeast(required, observed string) error {
	req, err := semver.NewVersion(required)
	if err != nil {
		return fmt.Errorf("%w: cannot parse required version %q", ErrVersionMismatch, required)
	}
	obs, err := semver.NewVersion(observed)
	if err != nil {
		return fmt.Errorf("%w: cannot parse reported version %q", ErrVersionMismatch, observed)
	}
	if obs.LessThan(req) {
		return fmt.Errorf("%w: need %s or newer, found %s", ErrVersionMismatch, required, observed)
	}
	return nil
}
