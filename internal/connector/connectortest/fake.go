// Package connectortest provides a scriptable connector.Connector for tests.
package connectortest

import (
	"context"
	"sync"

	"fablink/internal/connector"
	"fablink/internal/model"
)

// MoveCall records one Move invocation.
type MoveCall struct {
	From  string
	To    string
	Force bool
}

// DataSetCall records one SetPluginData invocation.
type DataSetCall struct {
	PluginID string
	Key      string
	Value    any
}

// Fake implements connector.Connector. Every method records its call and
// then delegates to the matching Fn field when set; unset methods succeed
// with zero values. The zero value is ready to use.
type Fake struct {
	mu sync.Mutex

	Host string

	SendCodeFn               func(ctx context.Context, code string) (string, error)
	UploadFn                 func(ctx context.Context, req connector.UploadRequest) error
	DownloadFn               func(ctx context.Context, req connector.DownloadRequest) ([]byte, error)
	DeleteFn                 func(ctx context.Context, filename string) error
	MoveFn                   func(ctx context.Context, from, to string, force bool) error
	MakeDirectoryFn          func(ctx context.Context, directory string) error
	GetFileListFn            func(ctx context.Context, directory string) ([]model.FileEntry, error)
	GetFileInfoFn            func(ctx context.Context, filename string) (*model.ParsedFileInfo, error)
	InstallPluginFn          func(ctx context.Context, req connector.PluginInstallRequest) error
	UninstallPluginFn        func(ctx context.Context, id string) error
	StartPluginFn            func(ctx context.Context, id string) error
	StopPluginFn             func(ctx context.Context, id string) error
	SetPluginDataFn          func(ctx context.Context, pluginID, key string, value any) error
	InstallSystemPackageFn   func(ctx context.Context, filename string, content []byte) error
	UninstallSystemPackageFn func(ctx context.Context, pkg string) error
	ReconnectFn              func(ctx context.Context) error
	DisconnectFn             func(ctx context.Context) error

	Codes             []string
	Uploads           []connector.UploadRequest
	Downloads         []connector.DownloadRequest
	Deletes           []string
	Moves             []MoveCall
	MadeDirs          []string
	FileInfoGets      []string
	PluginInstalls    []connector.PluginInstallRequest
	PluginUninstalls  []string
	PluginStarts      []string
	PluginStops       []string
	DataSets          []DataSetCall
	PackageInstalls   []string
	PackageUninstalls []string
	Reconnects        int
	Disconnects       int

	modelHandler func(model.Update)
}

var _ connector.Connector = (*Fake)(nil)

func (f *Fake) Hostname() string {
	if f.Host == "" {
		return "machine.local"
	}
	return f.Host
}

func (f *Fake) SendCode(ctx context.Context, code string) (string, error) {
	f.record(func() { f.Codes = append(f.Codes, code) })
	if f.SendCodeFn != nil {
		return f.SendCodeFn(ctx, code)
	}
	return "ok", nil
}

func (f *Fake) Upload(ctx context.Context, req connector.UploadRequest) error {
	f.record(func() { f.Uploads = append(f.Uploads, req) })
	if f.UploadFn != nil {
		return f.UploadFn(ctx, req)
	}
	return nil
}

func (f *Fake) Download(ctx context.Context, req connector.DownloadRequest) ([]byte, error) {
	f.record(func() { f.Downloads = append(f.Downloads, req) })
	if f.DownloadFn != nil {
		return f.DownloadFn(ctx, req)
	}
	return nil, nil
}

func (f *Fake) Delete(ctx context.Context, filename string) error {
	f.record(func() { f.Deletes = append(f.Deletes, filename) })
	if f.DeleteFn != nil {
		return f.DeleteFn(ctx, filename)
	}
	return nil
}

func (f *Fake) Move(ctx context.Context, from, to string, force bool) error {
	f.record(func() { f.Moves = append(f.Moves, MoveCall{From: from, To: to, Force: force}) })
	if f.MoveFn != nil {
		return f.MoveFn(ctx, from, to, force)
	}
	return nil
}

func (f *Fake) MakeDirectory(ctx context.Context, directory string) error {
	f.record(func() { f.MadeDirs = append(f.MadeDirs, directory) })
	if f.MakeDirectoryFn != nil {
		return f.MakeDirectoryFn(ctx, directory)
	}
	return nil
}

func (f *Fake) GetFileList(ctx context.Context, directory string) ([]model.FileEntry, error) {
	if f.GetFileListFn != nil {
		return f.GetFileListFn(ctx, directory)
	}
	return nil, nil
}

func (f *Fake) GetFileInfo(ctx context.Context, filename string) (*model.ParsedFileInfo, error) {
	f.record(func() { f.FileInfoGets = append(f.FileInfoGets, filename) })
	if f.GetFileInfoFn != nil {
		return f.GetFileInfoFn(ctx, filename)
	}
	return &model.ParsedFileInfo{FileName: filename}, nil
}

func (f *Fake) InstallPlugin(ctx context.Context, req connector.PluginInstallRequest) error {
	f.record(func() { f.PluginInstalls = append(f.PluginInstalls, req) })
	if f.InstallPluginFn != nil {
		return f.InstallPluginFn(ctx, req)
	}
	return nil
}

func (f *Fake) UninstallPlugin(ctx context.Context, id string) error {
	f.record(func() { f.PluginUninstalls = append(f.PluginUninstalls, id) })
	if f.UninstallPluginFn != nil {
		return f.UninstallPluginFn(ctx, id)
	}
	return nil
}

func (f *Fake) StartPlugin(ctx context.Context, id string) error {
	f.record(func() { f.PluginStarts = append(f.PluginStarts, id) })
	if f.StartPluginFn != nil {
		return f.StartPluginFn(ctx, id)
	}
	return nil
}

func (f *Fake) StopPlugin(ctx context.Context, id string) error {
	f.record(func() { f.PluginStops = append(f.PluginStops, id) })
	if f.StopPluginFn != nil {
		return f.StopPluginFn(ctx, id)
	}
	return nil
}

func (f *Fake) SetPluginData(ctx context.Context, pluginID, key string, value any) error {
	f.record(func() { f.DataSets = append(f.DataSets, DataSetCall{PluginID: pluginID, Key: key, Value: value}) })
	if f.SetPluginDataFn != nil {
		return f.SetPluginDataFn(ctx, pluginID, key, value)
	}
	return nil
}

func (f *Fake) InstallSystemPackage(ctx context.Context, filename string, content []byte) error {
	f.record(func() { f.PackageInstalls = append(f.PackageInstalls, filename) })
	if f.InstallSystemPackageFn != nil {
		return f.InstallSystemPackageFn(ctx, filename, content)
	}
	return nil
}

func (f *Fake) UninstallSystemPackage(ctx context.Context, pkg string) error {
	f.record(func() { f.PackageUninstalls = append(f.PackageUninstalls, pkg) })
	if f.UninstallSystemPackageFn != nil {
		return f.UninstallSystemPackageFn(ctx, pkg)
	}
	return nil
}

// OnModelUpdate stores the handler; tests trigger it with PushModel.
func (f *Fake) OnModelUpdate(fn func(model.Update)) {
	f.record(func() { f.modelHandler = fn })
}

// PushModel delivers an update to the registered model handler, emulating a
// machine-initiated push.
func (f *Fake) PushModel(u model.Update) {
	f.mu.Lock()
	fn := f.modelHandler
	f.mu.Unlock()
	if fn != nil {
		fn(u)
	}
}

func (f *Fake) Reconnect(ctx context.Context) error {
	f.record(func() { f.Reconnects++ })
	if f.ReconnectFn != nil {
		return f.ReconnectFn(ctx)
	}
	return nil
}

func (f *Fake) Disconnect(ctx context.Context) error {
	f.record(func() { f.Disconnects++ })
	if f.DisconnectFn != nil {
		return f.DisconnectFn(ctx)
	}
	return nil
}

func (f *Fake) record(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn()
}
