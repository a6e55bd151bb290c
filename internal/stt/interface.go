package stt

import "context"

//go:generate go tool mockgen -source=interface.go -destination=mock_recognizer.go -package=stt

// Recognizer submits long-running recognition jobs and reports on them
type Recognizer interface {
	// Submit starts a long-running recognition job and returns the operation name.
	// It returns as soon as the service has accepted the job.
	Submit(ctx context.Context, params Params) (string, error)

	// GetOperation fetches the current state of a submitted job
	GetOperation(ctx context.Context, name string) (*Operation, error)

	// Name returns the name of the provider (e.g., "google", "whisper")
	Name() string
}
