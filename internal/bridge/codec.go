package bridge

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"

	"fablink/internal/connector"
	"fablink/internal/model"
)

// decMode decodes untyped CBOR maps into map[string]any so plugin data
// values survive a round trip through encoding/json on the far side.
var decMode = func() cbor.DecMode {
	dm, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic(err)
	}
	return dm
}()

// Operation names carried by request frames.
const (
	opAuth             = "auth"
	opModel            = "model"
	opSendCode         = "sendCode"
	opUpload           = "upload"
	opDownload         = "download"
	opDelete           = "delete"
	opMove             = "move"
	opMakeDirectory    = "mkdir"
	opFileList         = "fileList"
	opFileInfo         = "fileInfo"
	opInstallPlugin    = "installPlugin"
	opUninstallPlugin  = "uninstallPlugin"
	opStartPlugin      = "startPlugin"
	opStopPlugin       = "stopPlugin"
	opSetPluginData    = "setPluginData"
	opInstallPackage   = "installPackage"
	opUninstallPackage = "uninstallPackage"
	opCancel           = "cancel"
)

type frameKind uint8

const (
	frameRequest frameKind = iota + 1
	frameResponse
	frameProgress
	frameEvent
)

// frame is the single envelope exchanged on the control channel. Requests
// and responses are correlated by ID; progress frames reference the request
// they report on. Event frames are pushed without correlation.
type frame struct {
	Kind    frameKind       `cbor:"k"`
	ID      string          `cbor:"id,omitempty"`
	Op      string          `cbor:"op,omitempty"`
	Body    cbor.RawMessage `cbor:"b,omitempty"`
	Error   string          `cbor:"e,omitempty"`
	ErrKind string          `cbor:"ek,omitempty"`
}

func encodeFrame(f *frame) ([]byte, error) {
	data, err := cbor.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s frame: %w", f.Op, err)
	}
	return data, nil
}

func decodeFrame(data []byte) (*frame, error) {
	var f frame
	if err := decMode.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}
	return &f, nil
}

func encodeBody(v any) (cbor.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	data, err := cbor.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode body: %w", err)
	}
	return data, nil
}

func decodeBody(raw cbor.RawMessage, v any) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: empty body", connector.ErrOperationFailed)
	}
	if err := decMode.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to decode body: %w", err)
	}
	return nil
}

// Request bodies. Field names are collapsed to single letters since upload
// frames dominate the channel.
type authBody struct {
	Password string `cbor:"p"`
	Client   string `cbor:"c"`
}

type codeBody struct {
	Code string `cbor:"c"`
}

type replyBody struct {
	Reply string `cbor:"r"`
}

type uploadBody struct {
	Filename string `cbor:"f"`
	Content  []byte `cbor:"c"`
}

type downloadBody struct {
	Filename string `cbor:"f"`
	Type     string `cbor:"t"`
}

type contentBody struct {
	Content []byte `cbor:"c"`
}

type filenameBody struct {
	Filename string `cbor:"f"`
}

type moveBody struct {
	From  string `cbor:"f"`
	To    string `cbor:"t"`
	Force bool   `cbor:"o"`
}

type installPluginBody struct {
	ZipFilename string `cbor:"f"`
	ZipContent  []byte `cbor:"c"`
	Start       bool   `cbor:"s"`
}

type pluginIDBody struct {
	ID string `cbor:"i"`
}

type pluginDataBody struct {
	PluginID string `cbor:"i"`
	Key      string `cbor:"k"`
	Value    any    `cbor:"v"`
}

type packageBody struct {
	Filename string `cbor:"f"`
	Content  []byte `cbor:"c,omitempty"`
}

type directoryBody struct {
	Directory string `cbor:"d"`
}

type entriesBody struct {
	Entries []model.FileEntry `cbor:"e"`
}

type fileInfoBody struct {
	Info *model.ParsedFileInfo `cbor:"i"`
}

type modelBody struct {
	Update model.Update `cbor:"u"`
}

type cancelBody struct {
	ID string `cbor:"i"`
}

type progressBody struct {
	Loaded int64 `cbor:"l"`
	Total  int64 `cbor:"t"`
	Retry  int   `cbor:"r"`
}

// Wire error kinds, mapped onto the connector sentinels on receive so
// errors classify identically on both sides of the bridge.
const (
	errKindDisconnected    = "disconnected"
	errKindCodeBuffer      = "codeBuffer"
	errKindInvalidPassword = "invalidPassword"
	errKindCancelled       = "cancelled"
	errKindOperationFailed = "operationFailed"
	errKindFileNotFound    = "fileNotFound"
)

func errKindOf(err error) string {
	switch {
	case connector.IsCancelled(err):
		return errKindCancelled
	case errors.Is(err, connector.ErrInvalidPassword):
		return errKindInvalidPassword
	case errors.Is(err, connector.ErrCodeBuffer):
		return errKindCodeBuffer
	case errors.Is(err, connector.ErrFileNotFound):
		return errKindFileNotFound
	case errors.Is(err, connector.ErrDisconnected):
		return errKindDisconnected
	default:
		return errKindOperationFailed
	}
}

func wireError(kind, message string) error {
	base := connector.ErrOperationFailed
	switch kind {
	case errKindDisconnected:
		base = connector.ErrDisconnected
	case errKindCodeBuffer:
		base = connector.ErrCodeBuffer
	case errKindInvalidPassword:
		base = connector.ErrInvalidPassword
	case errKindCancelled:
		base = connector.ErrCancelled
	case errKindFileNotFound:
		base = connector.ErrFileNotFound
	}
	return fmt.Errorf("%w: %s", base, message)
}
