package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"khmerscribe/internal/model"
	"khmerscribe/internal/repository"
)

// Manager is the entry point for inbound calls. It loads records, creates a controller
// per call and collapses concurrent calls for one record: transcribe and resume share
// one in-flight call per record, status checks another.
type Manager struct {
	deps      Deps
	settings  Settings
	whitelist *Whitelist
	group     singleflight.Group
}

// NewManager creates a manager. A nil whitelist allows every user.
func NewManager(deps Deps, settings Settings, whitelist *Whitelist) *Manager {
	return &Manager{
		deps:      deps,
		settings:  settings,
		whitelist: whitelist,
	}
}

// NewController creates a controller for a stored request
func (m *Manager) NewController(req *model.Request) *Controller {
	return NewController(m.deps, m.settings, req)
}

// TranscribeResult is the outcome of a transcribe call
type TranscribeResult struct {
	Request *model.Request `json:"request"`
	Submit  *SubmitResult  `json:"submit,omitempty"`
}

// StatusResult is the outcome of a status check
type StatusResult struct {
	Message  string         `json:"message"`
	Request  *model.Request `json:"request,omitempty"`
	Progress *Progress      `json:"progress,omitempty"`
}

func (m *Manager) checkWhitelist(ctx context.Context, userID string) error {
	if !m.whitelist.Enabled() {
		return nil
	}
	email, err := m.deps.Store.GetUserEmail(ctx, userID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("failed to look up user email: %w", err)
	}
	if !m.whitelist.Allows(email) {
		log.Printf("[Lifecycle] User %s (%q) is not whitelisted", userID, email)
		return ErrNotWhitelisted
	}
	return nil
}

func (m *Manager) now() time.Time {
	if m.deps.Now != nil {
		return m.deps.Now()
	}
	return time.Now()
}

func submitKey(userID, id string) string {
	return "submit:" + userID + "/" + id
}

// Transcribe records the client's request and submits it for transcription.
// A request that already has a transaction id, or whose submission is still
// running, is returned as stored.
func (m *Manager) Transcribe(ctx context.Context, in *model.Request) (*TranscribeResult, error) {
	if in.UserID == "" {
		return nil, &ValidationError{Reason: "user_id is required"}
	}
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	if err := m.checkWhitelist(ctx, in.UserID); err != nil {
		return nil, err
	}

	ctx = context.WithoutCancel(ctx)
	v, err, _ := m.group.Do(submitKey(in.UserID, in.ID), func() (any, error) {
		res, err := m.transcribe(ctx, in)
		if err != nil {
			return nil, err
		}
		return res, nil
	})
	if err != nil {
		return nil, err
	}

	switch res := v.(type) {
	case *TranscribeResult:
		return res, nil
	case *ResumeResult:
		log.Printf("[Lifecycle] Transcribe of %s/%s joined a running resume", in.UserID, in.ID)
		return &TranscribeResult{Request: res.Request, Submit: res.Submit}, nil
	}
	return nil, fmt.Errorf("unexpected result %T for %s/%s", v, in.UserID, in.ID)
}

func (m *Manager) transcribe(ctx context.Context, in *model.Request) (*TranscribeResult, error) {
	existing, err := m.deps.Store.GetRequest(ctx, in.UserID, in.ID)
	switch {
	case err == nil && existing.TransactionID != "":
		log.Printf("[Lifecycle] %s already has transaction %s, not submitting again", existing.Key(), existing.TransactionID)
		return &TranscribeResult{Request: existing}, nil
	case err == nil && existing.Status == model.StatusProcessingFile && !LastRequestHasStopped(existing, m.now()):
		log.Printf("[Lifecycle] %s is being submitted elsewhere, not submitting again", existing.Key())
		return &TranscribeResult{Request: existing}, nil
	case err == nil:
		if err := m.deps.Store.SaveRequest(ctx, clientPatch(in, existing)); err != nil {
			return nil, err
		}
	case errors.Is(err, repository.ErrNotFound):
		if err := m.deps.Store.SaveRequest(ctx, clientPatch(in, nil)); err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	req, err := m.deps.Store.GetRequest(ctx, in.UserID, in.ID)
	if err != nil {
		return nil, err
	}
	c := m.NewController(req)

	if err := c.MarkAsReceived(ctx); err != nil {
		return nil, m.fail(ctx, c, err)
	}
	if err := c.ValidateRequest(ctx); err != nil {
		return nil, m.fail(ctx, c, err)
	}
	if _, err := c.SetupRequest(ctx); err != nil {
		return nil, m.fail(ctx, c, err)
	}

	submit := c.RequestLongRunningRecognize(ctx)
	if err := submitError(submit); err != nil {
		return nil, m.fail(ctx, c, err)
	}
	return &TranscribeResult{Request: c.Request(), Submit: &submit}, nil
}

// clientPatch keeps the fields a client may write. Only the client-side statuses are
// accepted from the client, everything else is owned by the server.
func clientPatch(in, existing *model.Request) *model.Request {
	patch := in.Clone()
	patch.Normalize()
	patch.TransactionID = ""
	patch.UpdatedAt = ""
	patch.Error = ""
	patch.EventLogs = nil
	patch.Utterances = nil
	patch.TranscriptMetadata = nil

	if patch.Status != model.StatusUploading && patch.Status != model.StatusUploaded {
		patch.Status = ""
	}

	if existing == nil {
		patch.Revision = 0
		if patch.Status == "" {
			patch.Status = model.StatusUploaded
		}
		return patch
	}

	patch.Revision = existing.Revision
	patch.RequestOptions = existing.RequestOptions
	return patch
}

// Resume continues a request whose client lost track of it
func (m *Manager) Resume(ctx context.Context, userID, id string) (*ResumeResult, error) {
	if err := m.checkWhitelist(ctx, userID); err != nil {
		return nil, err
	}

	ctx = context.WithoutCancel(ctx)
	v, err, shared := m.group.Do(submitKey(userID, id), func() (any, error) {
		req, err := m.deps.Store.GetRequest(ctx, userID, id)
		if errors.Is(err, repository.ErrNotFound) {
			doc, findErr := m.deps.Store.FindTranscript(ctx, userID, id)
			if findErr != nil {
				return nil, err
			}
			return &ResumeResult{
				Decision: DecisionAcknowledged,
				Message:  "Transcript was already processed",
				Request:  &doc.Request,
			}, nil
		}
		if err != nil {
			return nil, err
		}

		c := m.NewController(req)
		res, err := c.Resume(ctx)
		if err != nil {
			return nil, m.fail(ctx, c, err)
		}
		return res, nil
	})
	if shared {
		log.Printf("[Lifecycle] Shared resume result for %s/%s", userID, id)
	}
	if err != nil {
		return nil, err
	}

	switch res := v.(type) {
	case *TranscribeResult:
		joined := &ResumeResult{
			Decision: DecisionWait,
			Message:  "Request is being submitted right now",
			Request:  res.Request,
			Submit:   res.Submit,
		}
		if res.Submit != nil {
			joined.Decision = DecisionResubmitted
			joined.Message = "Started transcription again"
		}
		return joined, nil
	case *ResumeResult:
		return res, nil
	}
	return nil, fmt.Errorf("unexpected result %T for %s/%s", v, userID, id)
}

// CheckStatus polls the remote operation of a submitted request
func (m *Manager) CheckStatus(ctx context.Context, userID, id string) (*StatusResult, error) {
	if err := m.checkWhitelist(ctx, userID); err != nil {
		return nil, err
	}

	ctx = context.WithoutCancel(ctx)
	v, err, _ := m.group.Do("check:"+userID+"/"+id, func() (any, error) {
		req, err := m.deps.Store.GetRequest(ctx, userID, id)
		if errors.Is(err, repository.ErrNotFound) {
			doc, findErr := m.deps.Store.FindTranscript(ctx, userID, id)
			if findErr != nil {
				return nil, err
			}
			return &StatusResult{
				Message:  "Transcript was already processed",
				Request:  &doc.Request,
				Progress: &Progress{Done: true, ProgressPercent: 100, Finalized: true},
			}, nil
		}
		if err != nil {
			return nil, err
		}
		if req.TransactionID == "" {
			return nil, fmt.Errorf("request %s: %w", req.Key(), ErrNoTransaction)
		}

		c := m.NewController(req)
		progress, err := c.CheckTranscriptionProgress(ctx)
		if err != nil {
			return nil, m.fail(ctx, c, err)
		}
		return &StatusResult{
			Message:  "Finished checking status",
			Request:  c.Request(),
			Progress: progress,
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*StatusResult), nil
}

// fail marks the request server-error for errors that did not record themselves
func (m *Manager) fail(ctx context.Context, c *Controller, err error) error {
	switch {
	case handled(err),
		errors.Is(err, repository.ErrConflict),
		errors.Is(err, model.ErrInvalidTransition),
		errors.Is(err, ErrNoTransaction),
		c.Request().Status.IsError():
		return err
	}

	log.Printf("[Lifecycle] Unhandled error for %s: %v", c.Request().Key(), err)
	if markErr := c.MarkAsServerError(ctx, err); markErr != nil {
		log.Printf("[Lifecycle] Failed to mark %s as server-error: %v", c.Request().Key(), markErr)
	}
	return err
}
