package sim

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"fablink/internal/connector"
	"fablink/internal/model"
)

func (d *Device) pluginsRoot() string {
	return d.resolve(model.DefaultDirectories().Plugins)
}

func (d *Device) packagesRoot() string {
	return d.resolve(model.JoinPath(model.DefaultDirectories().System, "packages"))
}

func (d *Device) InstallPlugin(ctx context.Context, req connector.PluginInstallRequest) error {
	if err := d.online(); err != nil {
		return err
	}
	zr, err := zip.NewReader(bytes.NewReader(req.ZipContent), int64(len(req.ZipContent)))
	if err != nil {
		return fmt.Errorf("%w: %s is not a valid plugin archive", connector.ErrOperationFailed, req.ZipFilename)
	}
	id := pluginIDFromArchive(zr, req.ZipFilename)
	root := path.Join(d.pluginsRoot(), id)
	for _, file := range zr.File {
		if file.FileInfo().IsDir() {
			continue
		}
		// Clean against the archive root so entry names cannot escape the
		// plugin directory.
		dest := path.Join(root, path.Clean("/"+file.Name))
		rc, err := file.Open()
		if err != nil {
			return fmt.Errorf("failed to read %s from %s: %w", file.Name, req.ZipFilename, err)
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return fmt.Errorf("failed to read %s from %s: %w", file.Name, req.ZipFilename, err)
		}
		if err := d.fs.MkdirAll(path.Dir(dest), 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", path.Dir(dest), err)
		}
		if err := afero.WriteFile(d.fs, dest, content, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", dest, err)
		}
	}
	d.log.Info("installed plugin", zap.String("plugin", id))
	if req.Start {
		d.mu.Lock()
		d.started[id] = true
		d.mu.Unlock()
	}
	d.pushModel()
	return nil
}

func (d *Device) UninstallPlugin(ctx context.Context, id string) error {
	if err := d.online(); err != nil {
		return err
	}
	root := path.Join(d.pluginsRoot(), id)
	if _, err := d.fs.Stat(root); err != nil {
		return wrapNotFound(err, id)
	}
	if err := d.fs.RemoveAll(root); err != nil {
		return fmt.Errorf("failed to uninstall plugin %s: %w", id, err)
	}
	d.mu.Lock()
	delete(d.started, id)
	d.mu.Unlock()
	d.pushModel()
	return nil
}

func (d *Device) StartPlugin(ctx context.Context, id string) error {
	if err := d.online(); err != nil {
		return err
	}
	if _, err := d.fs.Stat(path.Join(d.pluginsRoot(), id)); err != nil {
		return fmt.Errorf("%w: plugin %s is not installed", connector.ErrOperationFailed, id)
	}
	d.mu.Lock()
	d.started[id] = true
	d.mu.Unlock()
	return nil
}

func (d *Device) StopPlugin(ctx context.Context, id string) error {
	if err := d.online(); err != nil {
		return err
	}
	d.mu.Lock()
	delete(d.started, id)
	d.mu.Unlock()
	return nil
}

// StartedPlugins lists the ids of plugins whose backend is running.
func (d *Device) StartedPlugins() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]string, 0, len(d.started))
	for id := range d.started {
		ids = append(ids, id)
	}
	return ids
}

func (d *Device) SetPluginData(ctx context.Context, pluginID, key string, value any) error {
	if err := d.online(); err != nil {
		return err
	}
	root := path.Join(d.pluginsRoot(), pluginID)
	if _, err := d.fs.Stat(root); err != nil {
		return fmt.Errorf("%w: plugin %s is not installed", connector.ErrOperationFailed, pluginID)
	}
	dataPath := path.Join(root, "data.json")
	data := map[string]any{}
	if raw, err := afero.ReadFile(d.fs, dataPath); err == nil {
		_ = json.Unmarshal(raw, &data)
	}
	data[key] = value
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode data for plugin %s: %w", pluginID, err)
	}
	if err := afero.WriteFile(d.fs, dataPath, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", dataPath, err)
	}
	return nil
}

func (d *Device) InstallSystemPackage(ctx context.Context, filename string, content []byte) error {
	if err := d.online(); err != nil {
		return err
	}
	dest := path.Join(d.packagesRoot(), path.Base(filename))
	if err := d.fs.MkdirAll(d.packagesRoot(), 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", d.packagesRoot(), err)
	}
	if err := afero.WriteFile(d.fs, dest, content, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", dest, err)
	}
	return nil
}

func (d *Device) UninstallSystemPackage(ctx context.Context, pkg string) error {
	if err := d.online(); err != nil {
		return err
	}
	entries, err := afero.ReadDir(d.fs, d.packagesRoot())
	if err != nil {
		return wrapNotFound(err, pkg)
	}
	removed := false
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), pkg) {
			continue
		}
		if err := d.fs.Remove(path.Join(d.packagesRoot(), e.Name())); err != nil {
			return fmt.Errorf("failed to remove package %s: %w", e.Name(), err)
		}
		removed = true
	}
	if !removed {
		return fmt.Errorf("%w: package %s", connector.ErrFileNotFound, pkg)
	}
	return nil
}

// installedPlugins scans the plugin directory for manifests.
func (d *Device) installedPlugins() map[string]*model.Plugin {
	plugins := map[string]*model.Plugin{}
	entries, err := afero.ReadDir(d.fs, d.pluginsRoot())
	if err != nil {
		return plugins
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		raw, err := afero.ReadFile(d.fs, path.Join(d.pluginsRoot(), e.Name(), "plugin.json"))
		if err != nil {
			continue
		}
		var p model.Plugin
		if err := json.Unmarshal(raw, &p); err != nil || p.ID == "" {
			d.log.Warn("ignoring malformed plugin manifest", zap.String("dir", e.Name()))
			continue
		}
		plugins[p.ID] = &p
	}
	return plugins
}

func pluginIDFromArchive(zr *zip.Reader, zipName string) string {
	for _, f := range zr.File {
		if path.Base(f.Name) != "plugin.json" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			continue
		}
		var manifest struct {
			ID string `json:"id"`
		}
		err = json.NewDecoder(rc).Decode(&manifest)
		rc.Close()
		if err == nil && manifest.ID != "" {
			return manifest.ID
		}
	}
	return strings.TrimSuffix(path.Base(zipName), ".zip")
}
