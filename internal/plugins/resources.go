package plugins

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"fablink/internal/connector"
	"fablink/internal/model"
)

// ResourceLoader activates a plugin's client-side code.
type ResourceLoader interface {
	LoadClientResources(ctx context.Context, plugin *model.Plugin) error
}

// Downloader is the slice of connector.Connector the bundle loader needs.
type Downloader interface {
	Download(ctx context.Context, req connector.DownloadRequest) ([]byte, error)
}

// PluginPaths resolves machine-side directories.
type PluginPaths interface {
	Directories() model.Directories
}

// BundleLoader fetches a plugin's script files from the machine and stages
// them under a local directory so the frontend can serve them.
type BundleLoader struct {
	conn  Downloader
	paths PluginPaths
	fs    afero.Fs
	root  string
	log   *zap.Logger
}

func NewBundleLoader(conn Downloader, paths PluginPaths, fs afero.Fs, root string, log *zap.Logger) *BundleLoader {
	if log == nil {
		log = zap.NewNop()
	}
	return &BundleLoader{conn: conn, paths: paths, fs: fs, root: root, log: log}
}

func (b *BundleLoader) LoadClientResources(ctx context.Context, plugin *model.Plugin) error {
	pluginsDir := b.paths.Directories().Plugins
	for _, file := range plugin.Files {
		if !isClientScript(plugin.ID, file) {
			continue
		}
		content, err := b.conn.Download(ctx, connector.DownloadRequest{
			Filename: model.JoinPath(pluginsDir, file),
			Type:     connector.TypeBlob,
		})
		if err != nil {
			return fmt.Errorf("failed to fetch %s for plugin %s: %w", file, plugin.ID, err)
		}
		dest := filepath.Join(b.root, plugin.ID, path.Base(file))
		if err := b.fs.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", filepath.Dir(dest), err)
		}
		if err := afero.WriteFile(b.fs, dest, content, 0o644); err != nil {
			return fmt.Errorf("failed to stage %s: %w", dest, err)
		}
		b.log.Debug("staged plugin resource",
			zap.String("plugin", plugin.ID),
			zap.String("file", dest))
	}
	return nil
}

// isClientScript reports whether file is part of the plugin's client bundle:
// a script named after the plugin's own identifier.
func isClientScript(id, file string) bool {
	return strings.HasSuffix(file, ".js") && strings.Contains(path.Base(file), id)
}

func hasClientBundle(plugin *model.Plugin) bool {
	for _, file := range plugin.Files {
		if isClientScript(plugin.ID, file) {
			return true
		}
	}
	return false
}
