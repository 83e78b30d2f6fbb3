package events

// Type defines the set of machine lifecycle events.
type Type string

const (
	FileUploading             Type = "fileUploading"
	MultipleFilesUploading    Type = "multipleFilesUploading"
	FileUploaded              Type = "fileUploaded"
	FileUploadError           Type = "fileUploadError"
	FileDownloading           Type = "fileDownloading"
	MultipleFilesDownloading  Type = "multipleFilesDownloading"
	FileDownloaded            Type = "fileDownloaded"
	FileDownloadError         Type = "fileDownloadError"
	FileOrDirectoryDeleted    Type = "fileOrDirectoryDeleted"
	FileOrDirectoryMoved      Type = "fileOrDirectoryMoved"
	DirectoryCreated          Type = "directoryCreated"
	FilesOrDirectoriesChanged Type = "filesOrDirectoriesChanged"
	MachineModelUpdated       Type = "machineModelUpdated"
	CodeExecuted              Type = "codeExecuted"
)

// Event is one machine lifecycle notification. Payload holds the typed
// payload struct documented next to each Type constant's consumer; events
// without extra data carry a nil payload.
type Event struct {
	Type    Type
	Payload any
}

// TransferPayload accompanies FileUploading and FileDownloading.
type TransferPayload struct {
	Filename string
}

// BatchPayload accompanies MultipleFilesUploading and
// MultipleFilesDownloading.
type BatchPayload struct {
	Filenames []string
}

// TransferredPayload accompanies FileUploaded and FileDownloaded. Index is
// the item's zero-based position inside its batch.
type TransferredPayload struct {
	Filename string
	Index    int
	Count    int
}

// TransferErrorPayload accompanies FileUploadError and FileDownloadError.
type TransferErrorPayload struct {
	Filename string
	Err      error
}

// DeletedPayload accompanies FileOrDirectoryDeleted.
type DeletedPayload struct {
	Path string
}

// MovedPayload accompanies FileOrDirectoryMoved.
type MovedPayload struct {
	From  string
	To    string
	Force bool
}

// DirectoryPayload accompanies DirectoryCreated.
type DirectoryPayload struct {
	Path string
}

// ChangedPayload accompanies FilesOrDirectoriesChanged.
type ChangedPayload struct {
	Files []string
}

// CodePayload accompanies CodeExecuted.
type CodePayload struct {
	Code  string
	Reply string
}
