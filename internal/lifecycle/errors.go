package lifecycle

import (
	"errors"
	"fmt"

	"khmerscribe/internal/stt"
)

var (
	// ErrNoTransaction is returned when progress is requested for a request that was never accepted remotely
	ErrNoTransaction = errors.New("request has no remote transaction yet")

	// ErrNotWhitelisted is returned for users outside the configured whitelist
	ErrNotWhitelisted = errors.New("user is not whitelisted")
)

// ValidationError is a local rejection of the request, e.g. an unsupported file type
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// QuotaExceededError is returned when the file is larger than the user's quota
type QuotaExceededError struct {
	SizeMB  float64
	LimitMB float64
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("file size %.2fMB exceeds the limit of %.2fMB", e.SizeMB, e.LimitMB)
}

// RemoteSubmissionError is the final error of a submission loop
type RemoteSubmissionError struct {
	Kind     stt.ErrorKind
	Attempts int
	Err      error
}

func (e *RemoteSubmissionError) Error() string {
	return fmt.Sprintf("long-running recognize failed after %d attempt(s) (%s): %v", e.Attempts, e.Kind, e.Err)
}

func (e *RemoteSubmissionError) Unwrap() error {
	return e.Err
}

// RemoteProgressError is a failure reported while polling a remote operation
type RemoteProgressError struct {
	TransactionID string
	Err           error
}

func (e *RemoteProgressError) Error() string {
	return fmt.Sprintf("operation %s failed: %v", e.TransactionID, e.Err)
}

func (e *RemoteProgressError) Unwrap() error {
	return e.Err
}

// StorageCleanupError is a failure to delete consumed audio. It never fails the request.
type StorageCleanupError struct {
	Path string
	Err  error
}

func (e *StorageCleanupError) Error() string {
	return fmt.Sprintf("failed to clean up %s: %v", e.Path, e.Err)
}

func (e *StorageCleanupError) Unwrap() error {
	return e.Err
}

// handled reports whether err already wrote its own status and event
func handled(err error) bool {
	var (
		validationErr *ValidationError
		quotaErr      *QuotaExceededError
		submitErr     *RemoteSubmissionError
		progressErr   *RemoteProgressError
	)
	return errors.As(err, &validationErr) ||
		errors.As(err, &quotaErr) ||
		errors.As(err, &submitErr) ||
		errors.As(err, &progressErr)
}
