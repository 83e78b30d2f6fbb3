package sim

import (
	"archive/zip"
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"fablink/internal/connector"
)

const sampleGCode = `; generated by SuperSlicer 2.5.0
; layer_height = 0.2
; estimated printing time (normal mode) = 1h 32m 12s
; filament used [mm] = 1234.5
G28
G1 Z0.2 F300
G1 X10 Y10 E2.5
G1 Z10.4
`

func newTestDevice(t *testing.T) *Device {
	t.Helper()
	d := NewDevice(afero.NewMemMapFs(), "sim.local", zap.NewNop())
	require.NoError(t, d.Seed())
	return d
}

func TestDeviceUploadDownloadRoundTrip(t *testing.T) {
	t.Parallel()

	d := newTestDevice(t)
	content := bytes.Repeat([]byte("g"), 150_000)

	var uploads [][2]int64
	err := d.Upload(context.Background(), connector.UploadRequest{
		Filename: "0:/gcodes/part.gcode",
		Content:  content,
		Progress: func(loaded, total int64, retry int) {
			uploads = append(uploads, [2]int64{loaded, total})
		},
	})
	require.NoError(t, err)

	// Three chunks at 64 KiB granularity, finishing exactly at the total.
	require.Len(t, uploads, 3)
	require.Equal(t, [2]int64{150_000, 150_000}, uploads[2])

	var downloads [][2]int64
	got, err := d.Download(context.Background(), connector.DownloadRequest{
		Filename: "0:/gcodes/part.gcode",
		Type:     connector.TypeBlob,
		Progress: func(loaded, total int64, retry int) {
			downloads = append(downloads, [2]int64{loaded, total})
		},
	})
	require.NoError(t, err)
	require.Equal(t, content, got)
	require.NotEmpty(t, downloads)
	require.Equal(t, [2]int64{150_000, 150_000}, downloads[len(downloads)-1])
}

func TestDeviceDownloadMissingFile(t *testing.T) {
	t.Parallel()

	d := newTestDevice(t)
	_, err := d.Download(context.Background(), connector.DownloadRequest{Filename: "0:/gcodes/nope.gcode"})
	require.ErrorIs(t, err, connector.ErrFileNotFound)
}

func TestDeviceUploadObservesCancellation(t *testing.T) {
	t.Parallel()

	d := newTestDevice(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := d.Upload(ctx, connector.UploadRequest{Filename: "0:/gcodes/a.g", Content: []byte("G28")})
	require.Error(t, err)
	require.True(t, connector.IsCancelled(err))
}

func TestDeviceMoveHonorsForce(t *testing.T) {
	t.Parallel()

	d := newTestDevice(t)
	require.NoError(t, d.Upload(context.Background(), connector.UploadRequest{Filename: "0:/sys/config.g", Content: []byte("new")}))
	require.NoError(t, d.Upload(context.Background(), connector.UploadRequest{Filename: "0:/sys/config.g.bak", Content: []byte("old")}))

	err := d.Move(context.Background(), "0:/sys/config.g", "0:/sys/config.g.bak", false)
	require.ErrorIs(t, err, connector.ErrOperationFailed)

	require.NoError(t, d.Move(context.Background(), "0:/sys/config.g", "0:/sys/config.g.bak", true))

	got, err := d.Download(context.Background(), connector.DownloadRequest{Filename: "0:/sys/config.g.bak"})
	require.NoError(t, err)
	require.Equal(t, []byte("new"), got)

	err = d.Move(context.Background(), "0:/sys/gone.g", "0:/sys/other.g", false)
	require.ErrorIs(t, err, connector.ErrFileNotFound)
}

func TestDeviceDeleteAndList(t *testing.T) {
	t.Parallel()

	d := newTestDevice(t)
	require.NoError(t, d.Upload(context.Background(), connector.UploadRequest{Filename: "0:/macros/home.g", Content: []byte("G28")}))
	require.NoError(t, d.MakeDirectory(context.Background(), "0:/macros/tools"))

	entries, err := d.GetFileList(context.Background(), "0:/macros")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	names := map[string]bool{}
	for _, e := range entries {
		names[e.Name] = e.IsDirectory
	}
	require.Equal(t, map[string]bool{"home.g": false, "tools": true}, names)

	require.NoError(t, d.Delete(context.Background(), "0:/macros/home.g"))
	require.ErrorIs(t, d.Delete(context.Background(), "0:/macros/home.g"), connector.ErrFileNotFound)
}

func TestDeviceDisconnectTakesOpsOffline(t *testing.T) {
	t.Parallel()

	d := newTestDevice(t)
	require.NoError(t, d.Disconnect(context.Background()))

	err := d.Upload(context.Background(), connector.UploadRequest{Filename: "0:/gcodes/a.g", Content: []byte("G28")})
	require.ErrorIs(t, err, connector.ErrDisconnected)

	_, err = d.SendCode(context.Background(), "M115")
	require.ErrorIs(t, err, connector.ErrDisconnected)

	require.NoError(t, d.Reconnect(context.Background()))
	_, err = d.SendCode(context.Background(), "M115")
	require.NoError(t, err)
}

func pluginZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range files {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestDevicePluginLifecycle(t *testing.T) {
	t.Parallel()

	d := newTestDevice(t)
	archive := pluginZip(t, map[string]string{
		"plugin.json":  `{"id":"demo-pane","name":"Demo Pane","version":"1.0.0","files":["demo-pane.js"]}`,
		"demo-pane.js": "export default {}",
	})

	err := d.InstallPlugin(context.Background(), connector.PluginInstallRequest{
		ZipFilename: "demo-pane-1.0.0.zip",
		ZipContent:  archive,
		Start:       true,
	})
	require.NoError(t, err)
	require.Equal(t, []string{"demo-pane"}, d.StartedPlugins())

	update := d.Model()
	require.Contains(t, update.Plugins, "demo-pane")
	require.Equal(t, "Demo Pane", update.Plugins["demo-pane"].Name)

	require.NoError(t, d.SetPluginData(context.Background(), "demo-pane", "theme", "dark"))
	require.NoError(t, d.StopPlugin(context.Background(), "demo-pane"))
	require.Empty(t, d.StartedPlugins())

	require.NoError(t, d.UninstallPlugin(context.Background(), "demo-pane"))
	require.ErrorIs(t, d.StartPlugin(context.Background(), "demo-pane"), connector.ErrOperationFailed)

	err = d.InstallPlugin(context.Background(), connector.PluginInstallRequest{
		ZipFilename: "broken.zip",
		ZipContent:  []byte("not a zip"),
	})
	require.ErrorIs(t, err, connector.ErrOperationFailed)
}

func TestDeviceGetFileInfoParsesSlicerMetadata(t *testing.T) {
	t.Parallel()

	d := newTestDevice(t)
	require.NoError(t, d.Upload(context.Background(), connector.UploadRequest{
		Filename: "0:/gcodes/part.gcode",
		Content:  []byte(sampleGCode),
	}))

	info, err := d.GetFileInfo(context.Background(), "0:/gcodes/part.gcode")
	require.NoError(t, err)

	require.Equal(t, "0:/gcodes/part.gcode", info.FileName)
	require.Equal(t, int64(len(sampleGCode)), info.Size)
	require.InDelta(t, 0.2, info.LayerHeight, 1e-9)
	require.InDelta(t, 10.4, info.Height, 1e-9)
	require.Equal(t, 52, info.NumLayers)
	require.Equal(t, []float64{1234.5}, info.Filament)
	require.Equal(t, time.Hour+32*time.Minute+12*time.Second, info.PrintTime)
	require.Equal(t, "SuperSlicer 2.5.0", info.GeneratedBy)
}

func TestDeviceSeedWritesStartupConfig(t *testing.T) {
	t.Parallel()

	d := newTestDevice(t)
	got, err := d.Download(context.Background(), connector.DownloadRequest{Filename: "0:/sys/config.g", Type: connector.TypeText})
	require.NoError(t, err)
	require.True(t, strings.Contains(string(got), `M550 P"sim.local"`))
}
