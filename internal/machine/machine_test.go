package machine

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"fablink/internal/config"
	"fablink/internal/connector"
	"fablink/internal/connector/connectortest"
	"fablink/internal/events"
	"fablink/internal/model"
	"fablink/internal/notify"
	"fablink/internal/notify/notifytest"
)

func newTestMachine(t *testing.T, fake *connectortest.Fake) (*Machine, *notifytest.Recorder, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	m, sink := newTestMachineOn(t, fake, fs)
	return m, sink, fs
}

func newTestMachineOn(t *testing.T, fake *connectortest.Fake, fs afero.Fs) (*Machine, *notifytest.Recorder) {
	t.Helper()

	cfg := config.NewDefaultConfig()
	cfg.Plugins.SettingsFile = "settings/plugins.yaml"
	cfg.Plugins.StageDir = "stage"

	sink := notifytest.NewRecorder()
	m, err := New(cfg, Deps{Conn: fake, Sink: sink, FS: fs})
	require.NoError(t, err)
	return m, sink
}

func TestSendCodePublishesReply(t *testing.T) {
	t.Parallel()

	fake := &connectortest.Fake{}
	m, _, _ := newTestMachine(t, fake)

	var got []events.Event
	m.Events().SubscribeTo(events.CodeExecuted, func(evt events.Event) { got = append(got, evt) })

	reply, err := m.SendCode(context.Background(), "M115")
	require.NoError(t, err)
	require.Equal(t, "ok", reply)
	require.Equal(t, []string{"M115"}, fake.Codes)
	require.Len(t, got, 1)
	require.Equal(t, events.CodePayload{Code: "M115", Reply: "ok"}, got[0].Payload)
}

func TestSendCodeBufferRejectionIsWarning(t *testing.T) {
	t.Parallel()

	fake := &connectortest.Fake{}
	fake.SendCodeFn = func(ctx context.Context, code string) (string, error) {
		return "", fmt.Errorf("%w: message prompt pending", connector.ErrCodeBuffer)
	}
	m, sink, _ := newTestMachine(t, fake)

	var got []events.Event
	m.Events().SubscribeTo(events.CodeExecuted, func(evt events.Event) { got = append(got, evt) })

	reply, err := m.SendCode(context.Background(), "M25")
	require.ErrorIs(t, err, connector.ErrCodeBuffer)
	require.Empty(t, reply)
	require.Empty(t, got)

	warnings := sink.LogsOfKind(notify.LogWarning)
	require.Len(t, warnings, 1)
	require.Contains(t, warnings[0].Message, "M25")
	require.Empty(t, sink.LogsOfKind(notify.LogError))
}

func TestGetFileInfoCachesLookups(t *testing.T) {
	t.Parallel()

	calls := 0
	fake := &connectortest.Fake{}
	fake.GetFileInfoFn = func(ctx context.Context, filename string) (*model.ParsedFileInfo, error) {
		calls++
		return &model.ParsedFileInfo{FileName: filename, Height: 12.5}, nil
	}
	m, _, _ := newTestMachine(t, fake)

	first, err := m.GetFileInfo(context.Background(), "0:/gcodes/part.gcode")
	require.NoError(t, err)
	second, err := m.GetFileInfo(context.Background(), "0:/gcodes/part.gcode")
	require.NoError(t, err)

	require.Equal(t, 1, calls)
	require.Equal(t, first, second)
	require.Equal(t, 12.5, second.Height)
}

func TestGetFileInfoErrorIsNotCached(t *testing.T) {
	t.Parallel()

	calls := 0
	fake := &connectortest.Fake{}
	fake.GetFileInfoFn = func(ctx context.Context, filename string) (*model.ParsedFileInfo, error) {
		calls++
		if calls == 1 {
			return nil, fmt.Errorf("%w: %s", connector.ErrFileNotFound, filename)
		}
		return &model.ParsedFileInfo{FileName: filename}, nil
	}
	m, _, _ := newTestMachine(t, fake)

	_, err := m.GetFileInfo(context.Background(), "0:/gcodes/late.gcode")
	require.ErrorIs(t, err, connector.ErrFileNotFound)

	info, err := m.GetFileInfo(context.Background(), "0:/gcodes/late.gcode")
	require.NoError(t, err)
	require.Equal(t, "0:/gcodes/late.gcode", info.FileName)
	require.Equal(t, 2, calls)
}

func TestDeleteInvalidatesFileInfoAndPublishes(t *testing.T) {
	t.Parallel()

	calls := 0
	fake := &connectortest.Fake{}
	fake.GetFileInfoFn = func(ctx context.Context, filename string) (*model.ParsedFileInfo, error) {
		calls++
		return &model.ParsedFileInfo{FileName: filename}, nil
	}
	m, _, _ := newTestMachine(t, fake)

	_, err := m.GetFileInfo(context.Background(), "0:/gcodes/old.gcode")
	require.NoError(t, err)
	require.Equal(t, 1, calls)

	var got []events.Event
	m.Events().Subscribe(func(evt events.Event) { got = append(got, evt) })

	require.NoError(t, m.Delete(context.Background(), "0:/gcodes/old.gcode"))
	require.Equal(t, []string{"0:/gcodes/old.gcode"}, fake.Deletes)

	require.Len(t, got, 2)
	require.Equal(t, events.FileOrDirectoryDeleted, got[0].Type)
	require.Equal(t, events.DeletedPayload{Path: "0:/gcodes/old.gcode"}, got[0].Payload)
	require.Equal(t, events.FilesOrDirectoriesChanged, got[1].Type)
	require.Equal(t, events.ChangedPayload{Files: []string{"0:/gcodes/old.gcode"}}, got[1].Payload)

	_, err = m.GetFileInfo(context.Background(), "0:/gcodes/old.gcode")
	require.NoError(t, err)
	require.Equal(t, 2, calls)
}

func TestMoveInvalidatesBothEnds(t *testing.T) {
	t.Parallel()

	calls := 0
	fake := &connectortest.Fake{}
	fake.GetFileInfoFn = func(ctx context.Context, filename string) (*model.ParsedFileInfo, error) {
		calls++
		return &model.ParsedFileInfo{FileName: filename}, nil
	}
	m, _, _ := newTestMachine(t, fake)

	_, err := m.GetFileInfo(context.Background(), "0:/gcodes/a.gcode")
	require.NoError(t, err)
	_, err = m.GetFileInfo(context.Background(), "0:/gcodes/b.gcode")
	require.NoError(t, err)
	require.Equal(t, 2, calls)

	var got []events.Event
	m.Events().Subscribe(func(evt events.Event) { got = append(got, evt) })

	require.NoError(t, m.Move(context.Background(), "0:/gcodes/a.gcode", "0:/gcodes/b.gcode", true))
	require.Len(t, fake.Moves, 1)
	require.True(t, fake.Moves[0].Force)

	require.Len(t, got, 2)
	require.Equal(t, events.FileOrDirectoryMoved, got[0].Type)
	require.Equal(t, events.MovedPayload{From: "0:/gcodes/a.gcode", To: "0:/gcodes/b.gcode", Force: true}, got[0].Payload)
	require.Equal(t, events.FilesOrDirectoriesChanged, got[1].Type)

	_, err = m.GetFileInfo(context.Background(), "0:/gcodes/a.gcode")
	require.NoError(t, err)
	_, err = m.GetFileInfo(context.Background(), "0:/gcodes/b.gcode")
	require.NoError(t, err)
	require.Equal(t, 4, calls)
}

func TestMakeDirectoryPublishes(t *testing.T) {
	t.Parallel()

	fake := &connectortest.Fake{}
	m, _, _ := newTestMachine(t, fake)

	var got []events.Event
	m.Events().Subscribe(func(evt events.Event) { got = append(got, evt) })

	require.NoError(t, m.MakeDirectory(context.Background(), "0:/gcodes/jobs"))
	require.Equal(t, []string{"0:/gcodes/jobs"}, fake.MadeDirs)

	require.Len(t, got, 2)
	require.Equal(t, events.DirectoryCreated, got[0].Type)
	require.Equal(t, events.DirectoryPayload{Path: "0:/gcodes/jobs"}, got[0].Payload)
	require.Equal(t, events.FilesOrDirectoriesChanged, got[1].Type)
}

func TestModelUpdatesReachStoreAndBus(t *testing.T) {
	t.Parallel()

	fake := &connectortest.Fake{}
	m, _, _ := newTestMachine(t, fake)

	updated := 0
	m.Events().SubscribeTo(events.MachineModelUpdated, func(events.Event) { updated++ })

	status := model.StatusProcessing
	fake.PushModel(model.Update{
		Status: &status,
		Boards: []model.Board{{Name: "Duet 3", FirmwareName: "RepRapFirmware", FirmwareVersion: "3.5.2"}},
	})

	require.Equal(t, model.StatusProcessing, m.Model().Status())
	boards := m.Model().Boards()
	require.Len(t, boards, 1)
	require.Equal(t, "RepRapFirmware", boards[0].FirmwareName)
	require.Equal(t, 1, updated)
}

func TestLoadPluginStagesResourcesAndPersists(t *testing.T) {
	t.Parallel()

	manifest := &model.Plugin{
		ID:      "viz",
		Name:    "Toolpath Viz",
		Author:  "fablink",
		Version: "1.0.0",
		Files:   []string{"viz.js"},
	}
	fake := &connectortest.Fake{}
	fake.DownloadFn = func(ctx context.Context, req connector.DownloadRequest) ([]byte, error) {
		return []byte("export default {}"), nil
	}
	m, _, fs := newTestMachine(t, fake)
	fake.PushModel(model.Update{Plugins: map[string]*model.Plugin{"viz": manifest}})

	require.NoError(t, m.LoadPlugin(context.Background(), "viz"))

	require.Len(t, fake.Downloads, 1)
	require.Equal(t, "0:/plugins/viz.js", fake.Downloads[0].Filename)

	staged, err := afero.ReadFile(fs, filepath.Join("stage", "viz", "viz.js"))
	require.NoError(t, err)
	require.Equal(t, "export default {}", string(staged))

	// A second machine over the same settings file replays the enable.
	replay := &connectortest.Fake{}
	replay.DownloadFn = fake.DownloadFn
	m2, _ := newTestMachineOn(t, replay, fs)
	replay.PushModel(model.Update{Plugins: map[string]*model.Plugin{"viz": manifest}})

	m2.StartEnabledPlugins(context.Background())
	require.Len(t, replay.Downloads, 1)
}

func TestStartEnabledPluginsSkipsUnknown(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	settingsFile := "settings/plugins.yaml"
	require.NoError(t, afero.WriteFile(fs, settingsFile, []byte("enabled_plugins:\n    - ghost\n"), 0o644))

	fake := &connectortest.Fake{}
	m, _ := newTestMachineOn(t, fake, fs)

	m.StartEnabledPlugins(context.Background())
	require.Empty(t, fake.Downloads)
}

func TestUninstallPluginDisablesReplay(t *testing.T) {
	t.Parallel()

	manifest := &model.Plugin{ID: "viz", Name: "Toolpath Viz", Version: "1.0.0", Files: []string{"viz.js"}}
	fake := &connectortest.Fake{}
	fake.DownloadFn = func(ctx context.Context, req connector.DownloadRequest) ([]byte, error) {
		return []byte("export default {}"), nil
	}
	m, _, fs := newTestMachine(t, fake)
	fake.PushModel(model.Update{Plugins: map[string]*model.Plugin{"viz": manifest}})

	require.NoError(t, m.LoadPlugin(context.Background(), "viz"))
	require.NoError(t, m.UninstallPlugin(context.Background(), "viz"))
	require.Equal(t, []string{"viz"}, fake.PluginUninstalls)

	replay := &connectortest.Fake{}
	replay.DownloadFn = fake.DownloadFn
	m2, _ := newTestMachineOn(t, replay, fs)
	replay.PushModel(model.Update{Plugins: map[string]*model.Plugin{"viz": manifest}})

	m2.StartEnabledPlugins(context.Background())
	require.Empty(t, replay.Downloads)
}

func TestDisconnectResetsModelAndCache(t *testing.T) {
	t.Parallel()

	calls := 0
	fake := &connectortest.Fake{}
	fake.GetFileInfoFn = func(ctx context.Context, filename string) (*model.ParsedFileInfo, error) {
		calls++
		return &model.ParsedFileInfo{FileName: filename}, nil
	}
	m, _, _ := newTestMachine(t, fake)

	status := model.StatusIdle
	fake.PushModel(model.Update{Status: &status})
	require.Equal(t, model.StatusIdle, m.Model().Status())

	_, err := m.GetFileInfo(context.Background(), "0:/gcodes/part.gcode")
	require.NoError(t, err)
	require.Equal(t, 1, calls)

	require.NoError(t, m.Disconnect(context.Background()))
	require.Equal(t, 1, fake.Disconnects)
	require.Equal(t, model.StatusDisconnected, m.Model().Status())

	_, err = m.GetFileInfo(context.Background(), "0:/gcodes/part.gcode")
	require.NoError(t, err)
	require.Equal(t, 2, calls)
}
