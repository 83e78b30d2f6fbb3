package connector

import (
	"context"

	"fablink/internal/model"
)

// ContentType selects how a downloaded response body is interpreted.
type ContentType string

const (
	TypeBlob ContentType = "blob"
	TypeText ContentType = "text"
	TypeJSON ContentType = "json"
)

// ProgressFunc receives transfer progress updates. loaded and total are byte
// counts (total may be -1 while still unknown), retry is the number of times
// the transport restarted the transfer so far. Implementations may invoke it
// from their own goroutines.
type ProgressFunc func(loaded, total int64, retry int)

// UploadRequest describes a single file upload.
type UploadRequest struct {
	Filename string
	Content  []byte
	Progress ProgressFunc
}

// DownloadRequest describes a single file download.
type DownloadRequest struct {
	Filename string
	Type     ContentType
	Progress ProgressFunc
}

// PluginInstallRequest carries a plugin bundle to install on the machine.
type PluginInstallRequest struct {
	ZipFilename string
	ZipContent  []byte
	Start       bool
}

// Connector is the transport-facing surface of a machine. Implementations
// own the wire protocol and transfer chunking/retries; callers own progress
// accounting, event emission and user feedback. All blocking operations honor
// context cancellation and report it as a cancellation-kind error.
type Connector interface {
	// Hostname returns the machine identity this connector talks to.
	Hostname() string

	// SendCode executes a G-code on the machine and returns its reply.
	SendCode(ctx context.Context, code string) (string, error)

	Upload(ctx context.Context, req UploadRequest) error
	Download(ctx context.Context, req DownloadRequest) ([]byte, error)

	Delete(ctx context.Context, filename string) error
	Move(ctx context.Context, from, to string, force bool) error
	MakeDirectory(ctx context.Context, directory string) error
	GetFileList(ctx context.Context, directory string) ([]model.FileEntry, error)
	GetFileInfo(ctx context.Context, filename string) (*model.ParsedFileInfo, error)

	InstallPlugin(ctx context.Context, req PluginInstallRequest) error
	UninstallPlugin(ctx context.Context, id string) error
	StartPlugin(ctx context.Context, id string) error
	StopPlugin(ctx context.Context, id string) error
	SetPluginData(ctx context.Context, pluginID, key string, value any) error

	InstallSystemPackage(ctx context.Context, filename string, content []byte) error
	UninstallSystemPackage(ctx context.Context, pkg string) error

	// OnModelUpdate registers the handler that receives object model
	// updates pushed by the machine. Connectors deliver a full snapshot
	// after every (re)connect and incremental merges afterwards.
	OnModelUpdate(fn func(model.Update))

	// Reconnect re-establishes a lost connection. It performs exactly one
	// attempt; retry pacing is the caller's concern.
	Reconnect(ctx context.Context) error

	// Disconnect closes the connection gracefully.
	Disconnect(ctx context.Context) error
}
