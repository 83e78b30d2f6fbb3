package connector

import (
	"context"
	"errors"
)

// Error kinds shared by every connector implementation. Callers classify
// failures with errors.Is instead of matching concrete types, so wrapped
// errors keep their kind across package boundaries.
var (
	// ErrDisconnected reports that the machine is not connected.
	ErrDisconnected = errors.New("machine is disconnected")

	// ErrCodeBuffer reports that the controller rejected a code because its
	// input buffer is full. Surfaced to users as a warning, not an error.
	ErrCodeBuffer = errors.New("code buffer is full")

	// ErrInvalidPassword reports that the machine rejected the configured
	// password. Never retried.
	ErrInvalidPassword = errors.New("invalid password")

	// ErrCancelled reports that the operation was cancelled before completion.
	ErrCancelled = errors.New("operation cancelled")

	// ErrOperationFailed reports a violated precondition or a remote failure.
	ErrOperationFailed = errors.New("operation failed")

	// ErrFileNotFound reports that the referenced file does not exist on the
	// machine.
	ErrFileNotFound = errors.New("file not found")
)

// IsCancelled reports whether err represents a cancelled operation, either
// via ErrCancelled or context cancellation.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)
}
