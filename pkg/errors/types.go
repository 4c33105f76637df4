package errors

import (
	"fmt"
)

// ErrSourceChanged is returned when a source file changed while it was being
// copied, so the copy can't be trusted.
var ErrSourceChanged = New("source file changed during copy")

// MissingFieldError represents a missing required field.
type MissingFieldError struct {
	Field string
}

func (err MissingFieldError) Error() string {
	return fmt.Sprintf("missing required field: %s", err.Field)
}

// FileNotFound represents when we were unable to access a file
// because the path didn't exist.
type FileNotFound struct {
	Path string
}

func (err FileNotFound) Error() string {
	return fmt.Sprintf("%q does not exist", err.Path)
}

// InvalidSourceError is returned when a job is configured with a source
// path that can't be synced from.
type InvalidSourceError struct {
	Job    string
	Path   string
	Reason string
}

func (err InvalidSourceError) Error() string {
	return fmt.Sprintf("job %q: invalid source directory %q: %s", err.Job, err.Path, err.Reason)
}

// FriendlyMessage implements the interface used by GetPrintableMessage.
func (err InvalidSourceError) FriendlyMessage() string {
	return fmt.Sprintf("The source directory %q of job %q can't be used: %s.\n"+
		"Please fix the path in the configuration file and restart treesync.",
		err.Path, err.Job, err.Reason)
}
