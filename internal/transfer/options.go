package transfer

// Options control the user feedback of a transfer. A nil *Options means
// DefaultOptions.
type Options struct {
	// ShowProgress opens a progress display for the batch.
	ShowProgress bool

	// ShowSuccess logs a success message for single-file transfers.
	ShowSuccess bool

	// ShowError logs failures. Cancellations are never logged.
	ShowError bool

	// CloseProgressOnSuccess closes the progress display as soon as the
	// batch succeeds instead of leaving the final state visible.
	CloseProgressOnSuccess bool
}

// DefaultOptions enables all feedback except eager progress closing.
func DefaultOptions() *Options {
	return &Options{
		ShowProgress: true,
		ShowSuccess:  true,
		ShowError:    true,
	}
}
