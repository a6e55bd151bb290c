package repository

import (
	"context"
	"errors"

	"khmerscribe/internal/model"
)

var (
	// ErrNotFound is returned when a document does not exist
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a write lost a compare-and-swap race on the request revision
	ErrConflict = errors.New("request was modified concurrently")
)

// Store defines durable storage for transcribe requests, their event logs and finished transcripts.
//
// Requests live under users/{user_id}/transcribeRequests/{id} with event logs in the
// eventLogs sub-collection; transcripts under users/{user_id}/transcripts/{name}.
type Store interface {
	// GetRequest loads a request together with its event logs
	GetRequest(ctx context.Context, userID, id string) (*model.Request, error)

	// SaveRequest merges the non-empty fields of req into the stored record.
	// The write only succeeds if req.Revision matches the stored revision (0 creates);
	// on success req.Revision is advanced.
	SaveRequest(ctx context.Context, req *model.Request) error

	// UpdateStatus writes the lifecycle fields of req (status, updated_at, error,
	// transaction_id, request options) and appends event in one atomic write,
	// with the same revision check as SaveRequest.
	UpdateStatus(ctx context.Context, req *model.Request, event model.EventLog) error

	// ListEvents returns the event log of a request in insertion order
	ListEvents(ctx context.Context, userID, id string) ([]model.EventLog, error)

	// DeleteRequest removes a request and its event logs
	DeleteRequest(ctx context.Context, userID, id string) error

	// PutTranscript writes a finished transcript document, replacing any previous version
	PutTranscript(ctx context.Context, userID string, doc *model.TranscriptDocument) error

	// FindTranscript returns the transcript produced by the given request
	FindTranscript(ctx context.Context, userID, requestID string) (*model.TranscriptDocument, error)

	// GetUserEmail resolves users/{user_id}.email
	GetUserEmail(ctx context.Context, userID string) (string, error)

	// GetCustomQuota returns customQuotas/{email}, or nil when the user has no overrides
	GetCustomQuota(ctx context.Context, email string) (*model.CustomQuota, error)
}
