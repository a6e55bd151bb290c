package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"khmerscribe/internal/model"
)

// Decision is what a resume call did with a request
type Decision string

const (
	DecisionWait         Decision = "wait"
	DecisionReupload     Decision = "reupload"
	DecisionResubmitted  Decision = "resubmitted"
	DecisionFinishingUp  Decision = "finishing-up"
	DecisionPolled       Decision = "polled"
	DecisionAcknowledged Decision = "acknowledged"
)

// ResumeResult is the outcome of a resume call
type ResumeResult struct {
	Decision Decision       `json:"decision"`
	Message  string         `json:"message"`
	Request  *model.Request `json:"request,omitempty"`
	Submit   *SubmitResult  `json:"submit,omitempty"`
	Progress *Progress      `json:"progress,omitempty"`
}

// errUploadInterrupted is recorded when the client stopped uploading
var errUploadInterrupted = errors.New("upload was interrupted before the server received the file")

// StalenessBudget returns how long a request may stay in its status before the work
// behind it is considered stopped. ok is false for statuses that are always stopped.
func StalenessBudget(req *model.Request) (budget time.Duration, ok bool) {
	mb := req.SizeInMB()
	var seconds float64

	switch req.Status {
	case model.StatusUploading:
		// assumes at least 0.2 MB/s upload
		seconds = mb * 5
	case model.StatusUploaded:
		seconds = 200
	case model.StatusProcessingFile:
		seconds = 100 + 10*mb
		if req.FileExtension != "flac" {
			seconds *= 2
		}
	case model.StatusTranscribing:
		seconds = 100 + 50*mb
	case model.StatusProcessingTranscription:
		seconds = 100 + mb
	default:
		return 0, false
	}
	return time.Duration(seconds * float64(time.Second)), true
}

// LastRequestHasStopped reports whether the work on req can no longer be running at now.
// A request without a readable updated_at is treated as stopped.
func LastRequestHasStopped(req *model.Request, now time.Time) bool {
	budget, ok := StalenessBudget(req)
	if !ok {
		return true
	}
	if req.UpdatedAt == "" {
		return true
	}
	updatedAt, err := model.ParseTimestamp(req.UpdatedAt)
	if err != nil {
		log.Printf("[Resume] %s: %v", req.Key(), err)
		return true
	}
	return now.Sub(updatedAt) > budget
}

// Resume picks up a request whose client lost track of it. A request that already
// has a transaction id is only ever polled, never submitted again.
func (c *Controller) Resume(ctx context.Context) (*ResumeResult, error) {
	res, err := c.resume(ctx)
	if res != nil {
		res.Request = c.req
		c.deps.Metrics.RecordResumeDecision(string(res.Decision))
		log.Printf("[Resume] %s: %s", c.req.Key(), res.Decision)
	}
	return res, err
}

func (c *Controller) resume(ctx context.Context) (*ResumeResult, error) {
	now := c.now()
	if !LastRequestHasStopped(c.req, now) {
		elapsed := "no time"
		if updatedAt, err := model.ParseTimestamp(c.req.UpdatedAt); err == nil {
			elapsed = now.Sub(updatedAt).Round(time.Second).String()
		}
		return &ResumeResult{
			Decision: DecisionWait,
			Message:  fmt.Sprintf("Please wait a little longer before requesting, it's only been %s so far", elapsed),
		}, nil
	}

	switch c.req.Status {
	case model.StatusUploading:
		if err := c.MarkAsServerError(ctx, errUploadInterrupted); err != nil {
			return nil, err
		}
		return &ResumeResult{
			Decision: DecisionReupload,
			Message:  "Upload never finished, they should try uploading again",
		}, nil

	case model.StatusUploaded, model.StatusProcessingFile,
		model.StatusServerError, model.StatusTranscribingError:
		if !c.req.ServerHasReceived() {
			if err := c.MarkAsReceived(ctx); err != nil {
				return nil, err
			}
		}

		switch {
		case c.req.TransactionID == "":
			return c.resubmit(ctx)
		case c.req.TransactionComplete():
			return &ResumeResult{
				Decision: DecisionFinishingUp,
				Message:  "Transcript seems like it's on the way to being returned, so just hold tight",
			}, nil
		default:
			return c.poll(ctx)
		}

	case model.StatusTranscribing:
		return c.poll(ctx)

	default:
		// processing-transcription and transcription-processed finish on their own
		return &ResumeResult{
			Decision: DecisionAcknowledged,
			Message:  fmt.Sprintf("Request is %s, nothing to resume", c.req.Status),
		}, nil
	}
}

func (c *Controller) resubmit(ctx context.Context) (*ResumeResult, error) {
	log.Printf("[Resume] Starting to ask %s for transcription of %s again", c.deps.Recognizer.Name(), c.req.Key())
	c.req.RequestType = model.RequestTypeContinue

	if err := c.ValidateRequest(ctx); err != nil {
		return nil, err
	}
	if _, err := c.SetupRequest(ctx); err != nil {
		return nil, err
	}

	submit := c.RequestLongRunningRecognize(ctx)
	if err := submitError(submit); err != nil {
		return nil, err
	}
	return &ResumeResult{
		Decision: DecisionResubmitted,
		Message:  "Started transcription again",
		Submit:   &submit,
	}, nil
}

func (c *Controller) poll(ctx context.Context) (*ResumeResult, error) {
	progress, err := c.CheckTranscriptionProgress(ctx)
	if err != nil {
		return nil, err
	}
	return &ResumeResult{
		Decision: DecisionPolled,
		Message:  "Checked status of already ongoing transcription operation",
		Progress: progress,
	}, nil
}

// submitError returns the error a caller should see for a submission. A recognizer
// rejection is already on the record and is reported through the result instead.
func submitError(res SubmitResult) error {
	if res.Outcome == model.StatusTranscribingError {
		return nil
	}
	return res.Err
}
