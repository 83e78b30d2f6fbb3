package sim

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"sync"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"fablink/internal/connector"
	"fablink/internal/model"
)

// chunkSize is the granularity of simulated transfers. Small enough to
// produce several progress callbacks for realistic files.
const chunkSize = 64 * 1024

// Device emulates a machine by serving connector operations from a local
// filesystem tree. Machine paths keep their volume prefix ("0:/gcodes/x.g");
// the prefix maps onto the root of the backing filesystem.
type Device struct {
	fs       afero.Fs
	hostname string
	log      *zap.Logger

	mu        sync.Mutex
	connected bool
	started   map[string]bool
	onModel   func(model.Update)
}

var _ connector.Connector = (*Device)(nil)

func NewDevice(fs afero.Fs, hostname string, log *zap.Logger) *Device {
	if log == nil {
		log = zap.NewNop()
	}
	return &Device{
		fs:        fs,
		hostname:  hostname,
		log:       log,
		connected: true,
		started:   make(map[string]bool),
	}
}

// Seed creates the machine's standard directory layout and a minimal startup
// configuration so a fresh tree behaves like a set up printer.
func (d *Device) Seed() error {
	dirs := model.DefaultDirectories()
	for _, dir := range []string{dirs.System, dirs.GCodes, dirs.Macros, dirs.Filaments, dirs.Firmware, dirs.Plugins} {
		if err := d.fs.MkdirAll(d.resolve(dir), 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	configPath := d.resolve(model.JoinPath(dirs.System, model.ConfigFileName))
	if _, err := d.fs.Stat(configPath); os.IsNotExist(err) {
		content := []byte("; Simulated machine configuration\nM550 P\"" + d.hostname + "\"\n")
		if err := afero.WriteFile(d.fs, configPath, content, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", configPath, err)
		}
	}
	return nil
}

// Model returns the object model the simulated machine reports after a
// connection is established.
func (d *Device) Model() model.Update {
	status := model.StatusIdle
	dirs := model.DefaultDirectories()
	return model.Update{
		Status: &status,
		Boards: []model.Board{{
			Name:            "Sim Duet 3 MB6HC",
			ShortName:       "sim6hc",
			FirmwareName:    "RepRapFirmware",
			FirmwareVersion: "3.5.2",
		}},
		SBC:         &model.SBC{Model: "sim-sbc", Version: "3.5.2"},
		Plugins:     d.installedPlugins(),
		Directories: &dirs,
	}
}

func (d *Device) Hostname() string { return d.hostname }

func (d *Device) SendCode(ctx context.Context, code string) (string, error) {
	if err := d.online(); err != nil {
		return "", err
	}
	trimmed := strings.TrimSpace(code)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty code", connector.ErrOperationFailed)
	}
	d.log.Debug("executing code", zap.String("code", trimmed))
	switch {
	case strings.HasPrefix(trimmed, "M115"):
		return "FIRMWARE_NAME: RepRapFirmware for Sim Duet 3 FIRMWARE_VERSION: 3.5.2", nil
	case strings.HasPrefix(trimmed, "M408"):
		return `{"status":"I"}`, nil
	default:
		return "ok", nil
	}
}

func (d *Device) Upload(ctx context.Context, req connector.UploadRequest) error {
	if err := d.online(); err != nil {
		return err
	}
	target := d.resolve(req.Filename)
	if err := d.fs.MkdirAll(path.Dir(target), 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", path.Dir(target), err)
	}
	f, err := d.fs.Create(target)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", target, err)
	}
	defer f.Close()

	total := int64(len(req.Content))
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("upload of %s aborted: %w", req.Filename, err)
		}
		end := min(written+chunkSize, total)
		if _, err := f.Write(req.Content[written:end]); err != nil {
			return fmt.Errorf("failed to write %s: %w", target, err)
		}
		written = end
		if req.Progress != nil {
			req.Progress(written, total, 0)
		}
		if written >= total {
			return nil
		}
	}
}

func (d *Device) Download(ctx context.Context, req connector.DownloadRequest) ([]byte, error) {
	if err := d.online(); err != nil {
		return nil, err
	}
	target := d.resolve(req.Filename)
	info, err := d.fs.Stat(target)
	if err != nil {
		return nil, wrapNotFound(err, req.Filename)
	}
	f, err := d.fs.Open(target)
	if err != nil {
		return nil, wrapNotFound(err, req.Filename)
	}
	defer f.Close()

	total := info.Size()
	content := make([]byte, 0, total)
	buf := make([]byte, chunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("download of %s aborted: %w", req.Filename, err)
		}
		n, err := f.Read(buf)
		if n > 0 {
			content = append(content, buf[:n]...)
			if req.Progress != nil {
				req.Progress(int64(len(content)), total, 0)
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", target, err)
		}
	}
	if total == 0 && req.Progress != nil {
		req.Progress(0, 0, 0)
	}
	return content, nil
}

func (d *Device) Delete(ctx context.Context, filename string) error {
	if err := d.online(); err != nil {
		return err
	}
	target := d.resolve(filename)
	if _, err := d.fs.Stat(target); err != nil {
		return wrapNotFound(err, filename)
	}
	if err := d.fs.RemoveAll(target); err != nil {
		return fmt.Errorf("failed to delete %s: %w", filename, err)
	}
	return nil
}

func (d *Device) Move(ctx context.Context, from, to string, force bool) error {
	if err := d.online(); err != nil {
		return err
	}
	src := d.resolve(from)
	dst := d.resolve(to)
	if _, err := d.fs.Stat(src); err != nil {
		return wrapNotFound(err, from)
	}
	if _, err := d.fs.Stat(dst); err == nil {
		if !force {
			return fmt.Errorf("%w: %s already exists", connector.ErrOperationFailed, to)
		}
		if err := d.fs.RemoveAll(dst); err != nil {
			return fmt.Errorf("failed to replace %s: %w", to, err)
		}
	}
	if err := d.fs.MkdirAll(path.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", path.Dir(dst), err)
	}
	if err := d.fs.Rename(src, dst); err != nil {
		return fmt.Errorf("failed to move %s to %s: %w", from, to, err)
	}
	return nil
}

func (d *Device) MakeDirectory(ctx context.Context, directory string) error {
	if err := d.online(); err != nil {
		return err
	}
	if err := d.fs.MkdirAll(d.resolve(directory), 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", directory, err)
	}
	return nil
}

func (d *Device) GetFileList(ctx context.Context, directory string) ([]model.FileEntry, error) {
	if err := d.online(); err != nil {
		return nil, err
	}
	entries, err := afero.ReadDir(d.fs, d.resolve(directory))
	if err != nil {
		return nil, wrapNotFound(err, directory)
	}
	list := make([]model.FileEntry, 0, len(entries))
	for _, e := range entries {
		list = append(list, model.FileEntry{
			Name:         e.Name(),
			Size:         e.Size(),
			IsDirectory:  e.IsDir(),
			LastModified: e.ModTime(),
		})
	}
	return list, nil
}

// OnModelUpdate registers the model handler. If the device is already
// online it receives a snapshot immediately.
func (d *Device) OnModelUpdate(fn func(model.Update)) {
	d.mu.Lock()
	d.onModel = fn
	connected := d.connected
	d.mu.Unlock()
	if fn != nil && connected {
		fn(d.Model())
	}
}

// pushModel re-sends the current snapshot after the machine state changed.
func (d *Device) pushModel() {
	d.mu.Lock()
	fn := d.onModel
	connected := d.connected
	d.mu.Unlock()
	if fn != nil && connected {
		fn(d.Model())
	}
}

func (d *Device) Reconnect(ctx context.Context) error {
	d.mu.Lock()
	d.connected = true
	fn := d.onModel
	d.mu.Unlock()
	if fn != nil {
		fn(d.Model())
	}
	return nil
}

func (d *Device) Disconnect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected = false
	return nil
}

func (d *Device) online() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected {
		return fmt.Errorf("%w: sim device is offline", connector.ErrDisconnected)
	}
	return nil
}

// resolve maps a machine path onto the backing filesystem.
func (d *Device) resolve(filename string) string {
	trimmed := strings.TrimPrefix(filename, "0:")
	if !strings.HasPrefix(trimmed, "/") {
		trimmed = "/" + trimmed
	}
	return path.Clean(trimmed)
}

func wrapNotFound(err error, filename string) error {
	if os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", connector.ErrFileNotFound, filename)
	}
	return err
}
