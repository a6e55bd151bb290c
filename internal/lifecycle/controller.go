package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"khmerscribe/internal/metrics"
	"khmerscribe/internal/model"
	"khmerscribe/internal/repository"
	"khmerscribe/internal/storage"
	"khmerscribe/internal/stt"
)

const (
	// maxFailedAttempts bounds the counted resubmissions of one submit call
	maxFailedAttempts = 2
	// maxConnectionResets bounds the uncounted resubmissions after a dropped connection
	maxConnectionResets = 3

	defaultCleanupRetryDelay = 500 * time.Millisecond
)

// Deps are the collaborators shared by every controller
type Deps struct {
	Store      repository.Store
	Recognizer stt.Recognizer
	Objects    storage.ObjectStore
	Metrics    *metrics.Metrics
	Now        func() time.Time
}

// Settings are the service-wide recognition and quota settings
type Settings struct {
	LanguageCode      string
	AudioURIPrefix    string
	Phrases           []string
	PhraseBoost       float64
	DefaultQuotaMB    float64
	CleanupRetryDelay time.Duration
}

// SubmitResult is the final outcome of RequestLongRunningRecognize
type SubmitResult struct {
	Outcome       model.Status `json:"outcome"`
	TransactionID string       `json:"transaction_id,omitempty"`
	Attempts      int          `json:"attempts"`
	Err           error        `json:"-"`
}

// Progress is the state of the remote operation after a poll
type Progress struct {
	Done            bool `json:"done"`
	ProgressPercent int  `json:"progress_percent"`
	// Finalized is set once the transcript was written and the live record deleted
	Finalized bool `json:"finalized"`
}

// Controller drives one request through its lifecycle. It is not safe for concurrent use;
// concurrent controllers for the same record are serialized by the store's revision check.
type Controller struct {
	req      *model.Request
	deps     Deps
	settings Settings
	quota    *QuotaGuard
	params   *stt.Params
}

// NewController creates a controller for req, which must be the stored version of the record
func NewController(deps Deps, settings Settings, req *model.Request) *Controller {
	req.Normalize()
	return &Controller{
		req:      req,
		deps:     deps,
		settings: settings,
		quota:    NewQuotaGuard(deps.Store, req.UserID, settings.DefaultQuotaMB),
	}
}

// Request returns the controller's current view of the record
func (c *Controller) Request() *model.Request {
	return c.req
}

func (c *Controller) now() time.Time {
	if c.deps.Now != nil {
		return c.deps.Now()
	}
	return time.Now()
}

// updateStatus moves the request to status and appends one event in a single store write.
// mutate may change other lifecycle fields on the copy that is written.
func (c *Controller) updateStatus(ctx context.Context, status model.Status, cause error, mutate func(r *model.Request)) error {
	if err := model.CheckTransition(c.req.Status, status); err != nil {
		return fmt.Errorf("request %s: %w", c.req.Key(), err)
	}

	next := c.req.Clone()
	if mutate != nil {
		mutate(next)
	}

	ts := model.Timestamp(c.now())
	next.Status = status
	next.UpdatedAt = ts
	next.Error = ""
	event := model.EventLog{Event: status, Time: ts}
	if cause != nil {
		next.Error = cause.Error()
		event.Error = next.Error
	}

	if err := c.deps.Store.UpdateStatus(ctx, next, event); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			c.deps.Metrics.RecordConflict()
		}
		return fmt.Errorf("failed to mark %s as %s: %w", c.req.Key(), status, err)
	}

	next.EventLogs = append(next.EventLogs, event)
	c.req = next
	c.deps.Metrics.RecordStatus(string(status))

	if cause != nil {
		log.Printf("[Lifecycle] %s -> %s: %v", c.req.Key(), status, cause)
	} else {
		log.Printf("[Lifecycle] %s -> %s", c.req.Key(), status)
	}
	return nil
}

// MarkAsReceived records that the server picked up the file. Calling it again appends another event.
func (c *Controller) MarkAsReceived(ctx context.Context) error {
	return c.updateStatus(ctx, model.StatusProcessingFile, nil, nil)
}

func (c *Controller) markAsTranscribing(ctx context.Context, transactionID string) error {
	return c.updateStatus(ctx, model.StatusTranscribing, nil, func(r *model.Request) {
		r.TransactionID = transactionID
	})
}

func (c *Controller) markAsTranscribed(ctx context.Context) error {
	return c.updateStatus(ctx, model.StatusProcessingTranscription, nil, nil)
}

// MarkAsServerError records a failure on our side
func (c *Controller) MarkAsServerError(ctx context.Context, cause error) error {
	return c.updateStatus(ctx, model.StatusServerError, cause, nil)
}

// MarkAsTranscribingError records a failure reported by the recognizer
func (c *Controller) MarkAsTranscribingError(ctx context.Context, cause error) error {
	return c.updateStatus(ctx, model.StatusTranscribingError, cause, nil)
}

// MarkAsProcessed writes the transcript document, marks the request processed and
// removes the live record. A failed delete is logged, the transcript is already safe.
func (c *Controller) MarkAsProcessed(ctx context.Context) error {
	if err := model.CheckTransition(c.req.Status, model.StatusTranscriptionProcessed); err != nil {
		return fmt.Errorf("request %s: %w", c.req.Key(), err)
	}

	ts := model.Timestamp(c.now())
	next := c.req.Clone()
	next.Status = model.StatusTranscriptionProcessed
	next.UpdatedAt = ts
	next.Error = ""
	event := model.EventLog{Event: model.StatusTranscriptionProcessed, Time: ts}
	next.EventLogs = append(next.EventLogs, event)

	doc := model.NewTranscriptDocument(next)
	if err := c.deps.Store.PutTranscript(ctx, next.UserID, doc); err != nil {
		return fmt.Errorf("failed to save transcript %s: %w", doc.Name, err)
	}
	c.deps.Metrics.RecordTranscriptSaved()
	log.Printf("[Lifecycle] Saved transcript %s for user %s", doc.Name, next.UserID)

	if err := c.deps.Store.UpdateStatus(ctx, next, event); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			c.deps.Metrics.RecordConflict()
		}
		return fmt.Errorf("failed to mark %s as processed: %w", next.Key(), err)
	}
	c.req = next
	c.deps.Metrics.RecordStatus(string(model.StatusTranscriptionProcessed))

	if err := c.deps.Store.DeleteRequest(ctx, next.UserID, next.ID); err != nil {
		log.Printf("[Lifecycle] Failed to delete finished request %s: %v", next.Key(), err)
	}
	return nil
}

// ValidateRequest checks the file against the user's quota, marking the request
// server-error when it is too large or the quota cannot be read
func (c *Controller) ValidateRequest(ctx context.Context) error {
	err := c.quota.ValidateRequest(ctx, c.req)
	if err == nil {
		return nil
	}

	var quotaErr *QuotaExceededError
	if errors.As(err, &quotaErr) {
		c.deps.Metrics.RecordQuotaRejection()
	}
	if markErr := c.MarkAsServerError(ctx, err); markErr != nil {
		log.Printf("[Lifecycle] Failed to record quota failure for %s: %v", c.req.Key(), markErr)
	}
	return err
}

// SetupRequest builds the recognizer parameters for the current options
func (c *Controller) SetupRequest(ctx context.Context) (*stt.Params, error) {
	ext := c.req.FileExtension

	var verr *ValidationError
	switch {
	case !stt.SupportedExtension(ext):
		verr = &ValidationError{Reason: fmt.Sprintf("file type %q is not supported, supported types are %s",
			ext, stt.SupportedExtensionsSentence())}
	case c.req.FilePath == "" && c.req.Base64 == "":
		verr = &ValidationError{Reason: "request has neither a file_path nor base64 content"}
	}
	if verr != nil {
		if err := c.MarkAsServerError(ctx, verr); err != nil {
			log.Printf("[Lifecycle] Failed to record validation failure for %s: %v", c.req.Key(), err)
		}
		return nil, verr
	}

	params := &stt.Params{
		Config: stt.BuildConfig(stt.ProfileFor(ext), stt.Options{
			LanguageCode:     c.settings.LanguageCode,
			MultipleChannels: c.req.RequestOptions.MultipleChannels,
			Phrases:          c.settings.Phrases,
			PhraseBoost:      c.settings.PhraseBoost,
		}),
	}
	if c.req.FilePath != "" {
		params.Audio.URI = c.settings.AudioURIPrefix + c.req.FilePath
	} else {
		params.Audio.Content = c.req.Base64
	}

	c.params = params
	return params, nil
}

// RequestLongRunningRecognize submits the audio, resubmitting on recoverable failures.
// Channel-count and internal errors are counted against failed_attempts, connection
// resets are not. Every outcome is written to the record before returning.
func (c *Controller) RequestLongRunningRecognize(ctx context.Context) SubmitResult {
	start := c.now()
	finish := func(res SubmitResult) SubmitResult {
		c.deps.Metrics.RecordSubmission(string(res.Outcome), c.now().Sub(start).Seconds())
		return res
	}

	c.req.RequestOptions.FailedAttempts = 0
	if c.params == nil {
		if _, err := c.SetupRequest(ctx); err != nil {
			return finish(SubmitResult{Outcome: model.StatusServerError, Err: err})
		}
	}

	if err := c.claim(ctx); err != nil {
		return finish(SubmitResult{Outcome: c.req.Status, Err: err})
	}

	resets := 0
	for attempts := 1; ; attempts++ {
		log.Printf("[Lifecycle] Submitting %s to %s (attempt %d)", c.req.Key(), c.deps.Recognizer.Name(), attempts)
		name, err := c.deps.Recognizer.Submit(ctx, *c.params)
		if err == nil {
			res := SubmitResult{Outcome: model.StatusTranscribing, TransactionID: name, Attempts: attempts}
			if markErr := c.markAsTranscribing(ctx, name); markErr != nil {
				log.Printf("[Lifecycle] Operation %s for %s was not recorded: %v", name, c.req.Key(), markErr)
				res.Err = markErr
			}
			return finish(res)
		}

		kind := stt.Classify(err)
		log.Printf("[Lifecycle] Submit attempt %d for %s failed (%s): %v", attempts, c.req.Key(), kind, err)

		switch {
		case kind == stt.KindConnectionReset && resets < maxConnectionResets:
			resets++
			c.deps.Metrics.RecordSubmitRetry(kind.String())
			continue
		case (kind == stt.KindChannelCount || kind == stt.KindInternal) &&
			c.req.RequestOptions.FailedAttempts < maxFailedAttempts:
			c.req.RequestOptions.FailedAttempts++
			c.deps.Metrics.RecordSubmitRetry(kind.String())
			if kind == stt.KindChannelCount {
				c.req.RequestOptions.MultipleChannels = true
				if _, setupErr := c.SetupRequest(ctx); setupErr != nil {
					return finish(SubmitResult{Outcome: model.StatusServerError, Attempts: attempts, Err: setupErr})
				}
			}
			continue
		}

		subErr := &RemoteSubmissionError{Kind: kind, Attempts: attempts, Err: err}
		if markErr := c.MarkAsTranscribingError(ctx, subErr); markErr != nil {
			log.Printf("[Lifecycle] Failed to record submission failure for %s: %v", c.req.Key(), markErr)
		}
		return finish(SubmitResult{Outcome: model.StatusTranscribingError, Attempts: attempts, Err: subErr})
	}
}

// claim takes the request for one submission before anything is paid for. The write
// bumps the revision, so another controller holding an older copy fails with
// repository.ErrConflict, and the fresh updated_at keeps resume from treating the
// request as stopped while the submission runs.
func (c *Controller) claim(ctx context.Context) error {
	if c.req.Status != model.StatusProcessingFile {
		return c.MarkAsReceived(ctx)
	}

	next := c.req.Clone()
	next.UpdatedAt = model.Timestamp(c.now())
	if err := c.deps.Store.SaveRequest(ctx, next); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			c.deps.Metrics.RecordConflict()
		}
		return fmt.Errorf("failed to claim %s for submission: %w", c.req.Key(), err)
	}
	c.req = next
	return nil
}

// CheckTranscriptionProgress polls the remote operation and, once it is done,
// maps the results and finalizes the request
func (c *Controller) CheckTranscriptionProgress(ctx context.Context) (*Progress, error) {
	txn := c.req.TransactionID
	if txn == "" {
		return nil, fmt.Errorf("request %s: %w", c.req.Key(), ErrNoTransaction)
	}

	c.deps.Metrics.RecordProgressPoll()
	op, err := c.deps.Recognizer.GetOperation(ctx, txn)
	if err != nil {
		return nil, c.failProgress(ctx, txn, err)
	}

	c.req.TranscriptMetadata = &model.TranscriptMetadata{
		ProgressPercent: op.Metadata.ProgressPercent,
		StartTime:       model.TimestampFromRFC3339(op.Metadata.StartTime),
		LastUpdatedAt:   model.TimestampFromRFC3339(op.Metadata.LastUpdateTime),
	}
	if op.Error != nil {
		if err := c.saveProgress(ctx); err != nil {
			log.Printf("[Lifecycle] %v", err)
		}
		return nil, c.failProgress(ctx, txn, op.Error)
	}

	progress := &Progress{Done: op.Done, ProgressPercent: op.Metadata.ProgressPercent}
	log.Printf("[Lifecycle] Operation %s for %s is %d%% done", txn, c.req.Key(), progress.ProgressPercent)

	if !op.Done {
		// a resumed request may still be marked as received or errored
		if c.req.Status != model.StatusTranscribing && model.CanTransition(c.req.Status, model.StatusTranscribing) {
			if err := c.markAsTranscribing(ctx, txn); err != nil {
				return nil, err
			}
		}
	} else {
		if err := c.enterProcessingTranscription(ctx, txn); err != nil {
			return nil, err
		}
		if err := c.HandleTranscriptResults(ctx, op); err != nil {
			return nil, err
		}
		progress.Finalized = c.req.Status == model.StatusTranscriptionProcessed
	}

	if !progress.Finalized {
		if err := c.saveProgress(ctx); err != nil {
			return nil, err
		}
	}
	return progress, nil
}

// saveProgress writes the transcript metadata without touching the status
func (c *Controller) saveProgress(ctx context.Context) error {
	if err := c.deps.Store.SaveRequest(ctx, c.req); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			c.deps.Metrics.RecordConflict()
		}
		return fmt.Errorf("failed to save progress of %s: %w", c.req.Key(), err)
	}
	return nil
}

func (c *Controller) enterProcessingTranscription(ctx context.Context, txn string) error {
	if c.req.Status == model.StatusProcessingTranscription {
		return nil
	}
	if !model.CanTransition(c.req.Status, model.StatusProcessingTranscription) &&
		model.CanTransition(c.req.Status, model.StatusTranscribing) {
		if err := c.markAsTranscribing(ctx, txn); err != nil {
			return err
		}
	}
	return c.markAsTranscribed(ctx)
}

// failProgress records a failed poll. When the service no longer knows the operation
// the transaction id is dropped, so a later resume submits the audio again instead
// of polling a missing operation forever.
func (c *Controller) failProgress(ctx context.Context, txn string, err error) error {
	perr := &RemoteProgressError{TransactionID: txn, Err: err}

	var forget func(r *model.Request)
	if stt.IsOperationNotFound(err) {
		log.Printf("[Lifecycle] Operation %s for %s is gone, it will be submitted again on resume", txn, c.req.Key())
		forget = func(r *model.Request) {
			r.TransactionID = ""
		}
	}
	if markErr := c.updateStatus(ctx, model.StatusTranscribingError, perr, forget); markErr != nil {
		log.Printf("[Lifecycle] Failed to record progress failure for %s: %v", c.req.Key(), markErr)
	}
	return perr
}
