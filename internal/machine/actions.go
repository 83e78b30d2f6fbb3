package machine

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"fablink/internal/connector"
	"fablink/internal/events"
	"fablink/internal/model"
	"fablink/internal/notify"
)

// SendCode executes a G-code on the machine and publishes the reply as a
// CodeExecuted event. A code rejected because the controller's input buffer
// is occupied surfaces as a warning notification, not an error, and no event
// is published.
func (m *Machine) SendCode(ctx context.Context, code string) (string, error) {
	reply, err := m.conn.SendCode(ctx, code)
	if err != nil {
		if errors.Is(err, connector.ErrCodeBuffer) {
			m.log.Warn("code not executed, buffer occupied", zap.String("code", code))
			m.sink.Log(notify.LogWarning, "Code not executed",
				fmt.Sprintf("%s was not executed because the machine's code buffer is full", code))
		}
		return "", err
	}
	m.bus.Publish(events.Event{
		Type:    events.CodeExecuted,
		Payload: events.CodePayload{Code: code, Reply: reply},
	})
	return reply, nil
}

// Delete removes a file or directory on the machine and drops any cached
// metadata for it.
func (m *Machine) Delete(ctx context.Context, path string) error {
	if err := m.conn.Delete(ctx, path); err != nil {
		return err
	}
	m.cache.Invalidate(path)
	m.bus.Publish(events.Event{
		Type:    events.FileOrDirectoryDeleted,
		Payload: events.DeletedPayload{Path: path},
	})
	m.publishChanged(path)
	return nil
}

// Move renames a file or directory on the machine. force overwrites an
// existing destination.
func (m *Machine) Move(ctx context.Context, from, to string, force bool) error {
	if err := m.conn.Move(ctx, from, to, force); err != nil {
		return err
	}
	m.cache.Invalidate(from)
	m.cache.Invalidate(to)
	m.bus.Publish(events.Event{
		Type:    events.FileOrDirectoryMoved,
		Payload: events.MovedPayload{From: from, To: to, Force: force},
	})
	m.publishChanged(from, to)
	return nil
}

// MakeDirectory creates a directory on the machine.
func (m *Machine) MakeDirectory(ctx context.Context, directory string) error {
	if err := m.conn.MakeDirectory(ctx, directory); err != nil {
		return err
	}
	m.bus.Publish(events.Event{
		Type:    events.DirectoryCreated,
		Payload: events.DirectoryPayload{Path: directory},
	})
	m.publishChanged(directory)
	return nil
}

// GetFileList lists the entries of a directory on the machine.
func (m *Machine) GetFileList(ctx context.Context, directory string) ([]model.FileEntry, error) {
	return m.conn.GetFileList(ctx, directory)
}

// GetFileInfo returns parsed job metadata for a file, served from the cache
// when a fresh entry exists.
func (m *Machine) GetFileInfo(ctx context.Context, filename string) (*model.ParsedFileInfo, error) {
	if info, ok := m.cache.Get(filename); ok {
		return info, nil
	}
	info, err := m.conn.GetFileInfo(ctx, filename)
	if err != nil {
		return nil, err
	}
	m.cache.Set(filename, info)
	return info, nil
}

// InstallPlugin uploads a plugin bundle to the machine.
func (m *Machine) InstallPlugin(ctx context.Context, req connector.PluginInstallRequest) error {
	return m.conn.InstallPlugin(ctx, req)
}

// UninstallPlugin removes a plugin from the machine and disables it for
// future sessions.
func (m *Machine) UninstallPlugin(ctx context.Context, id string) error {
	if err := m.conn.UninstallPlugin(ctx, id); err != nil {
		return err
	}
	return m.plugins.UnloadPlugin(id)
}

// StartPlugin starts a plugin's machine-side process.
func (m *Machine) StartPlugin(ctx context.Context, id string) error {
	return m.conn.StartPlugin(ctx, id)
}

// StopPlugin stops a plugin's machine-side process.
func (m *Machine) StopPlugin(ctx context.Context, id string) error {
	return m.conn.StopPlugin(ctx, id)
}

// SetPluginData writes one key of a plugin's machine-held data block.
func (m *Machine) SetPluginData(ctx context.Context, pluginID, key string, value any) error {
	return m.conn.SetPluginData(ctx, pluginID, key, value)
}

// LoadPlugin resolves and activates a plugin's client resources and persists
// it as enabled.
func (m *Machine) LoadPlugin(ctx context.Context, id string) error {
	return m.plugins.LoadPlugin(ctx, id, true)
}

// UnloadPlugin disables a plugin for future sessions.
func (m *Machine) UnloadPlugin(id string) error {
	return m.plugins.UnloadPlugin(id)
}

// StartEnabledPlugins replays the persisted enabled-plugin list. Plugins
// missing from the machine are skipped; failures are logged and do not stop
// the replay.
func (m *Machine) StartEnabledPlugins(ctx context.Context) {
	for _, id := range m.settings.EnabledPlugins() {
		if err := m.plugins.LoadPlugin(ctx, id, false); err != nil {
			m.log.Warn("failed to load enabled plugin",
				zap.String("plugin", id),
				zap.Error(err))
		}
	}
}

// InstallSystemPackage installs a system package on the machine's companion
// computer.
func (m *Machine) InstallSystemPackage(ctx context.Context, filename string, content []byte) error {
	return m.conn.InstallSystemPackage(ctx, filename, content)
}

// UninstallSystemPackage removes a system package from the machine's
// companion computer.
func (m *Machine) UninstallSystemPackage(ctx context.Context, pkg string) error {
	return m.conn.UninstallSystemPackage(ctx, pkg)
}

func (m *Machine) publishChanged(files ...string) {
	m.bus.Publish(events.Event{
		Type:    events.FilesOrDirectoriesChanged,
		Payload: events.ChangedPayload{Files: files},
	})
}
