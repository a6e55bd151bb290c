package model

import (
	"fmt"
	"strings"
)

// Request types
const (
	RequestTypeInitial  = "initial-request"
	RequestTypeContinue = "continue-transcribing-request"
)

// APIV1p1Beta is the recognizer API version requests are sent to by default
const APIV1p1Beta = "v1p1beta"

// bytesPerMB converts file_size to megabytes
const bytesPerMB = 1048576

// RequestOptions are the mutable remote-call options of a request
type RequestOptions struct {
	MultipleChannels bool   `json:"multiple_channels"`
	API              string `json:"api,omitempty"`
	FailedAttempts   int    `json:"failed_attempts"`
}

// DefaultRequestOptions returns a fresh options value
func DefaultRequestOptions() RequestOptions {
	return RequestOptions{API: APIV1p1Beta}
}

// EventLog is one entry of a request's append-only audit trail
type EventLog struct {
	Event Status `json:"event"`
	Time  string `json:"time"`
	Error string `json:"error,omitempty"`
}

// TranscriptMetadata is the progress reported by the remote operation
type TranscriptMetadata struct {
	ProgressPercent int    `json:"progress_percent"`
	StartTime       string `json:"start_time,omitempty"`
	LastUpdatedAt   string `json:"last_updated_at,omitempty"`
}

// Alternative is one candidate transcript for an utterance
type Alternative struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
}

// Utterance is one normalized recognition result
type Utterance struct {
	ChannelTag   int           `json:"channel_tag"`
	LanguageCode string        `json:"language_code"`
	Alternatives []Alternative `json:"alternatives"`
}

// Request is the persisted state of one transcription attempt
type Request struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`

	Filename         string `json:"filename"`
	FileLastModified int64  `json:"file_last_modified"`
	FilePath         string `json:"file_path,omitempty"`
	Base64           string `json:"base64,omitempty"`
	FileType         string `json:"file_type,omitempty"`
	FileExtension    string `json:"file_extension,omitempty"`
	FileSize         int64  `json:"file_size"`
	OriginalFilePath string `json:"original_file_path,omitempty"`

	RequestType    string         `json:"request_type,omitempty"`
	RequestOptions RequestOptions `json:"request_options"`
	TransactionID  string         `json:"transaction_id,omitempty"`

	Status    Status     `json:"status"`
	UpdatedAt string     `json:"updated_at,omitempty"`
	Error     string     `json:"error"`
	EventLogs []EventLog `json:"event_logs,omitempty"`

	Utterances         []Utterance         `json:"utterances,omitempty"`
	TranscriptMetadata *TranscriptMetadata `json:"transcript_metadata,omitempty"`

	// Revision is bumped by the store on every write and used for compare-and-swap
	Revision int64 `json:"revision"`
}

// Normalize fills derived and defaulted fields
func (r *Request) Normalize() {
	if r.FileExtension == "" {
		r.FileExtension = ExtensionFromFileType(r.FileType)
	}
	if r.RequestType == "" {
		r.RequestType = RequestTypeInitial
	}
	if r.RequestOptions.API == "" {
		r.RequestOptions.API = APIV1p1Beta
	}
}

// ExtensionFromFileType strips the media-type prefix, "audio/mpeg" -> "mpeg"
func ExtensionFromFileType(fileType string) string {
	ext := fileType
	if i := strings.LastIndex(ext, "/"); i >= 0 {
		ext = ext[i+1:]
	}
	return strings.ToLower(strings.TrimSpace(ext))
}

// SizeInMB returns the file size in megabytes
func (r *Request) SizeInMB() float64 {
	return float64(r.FileSize) / bytesPerMB
}

// ServerHasReceived reports whether a processing-file event was ever logged
func (r *Request) ServerHasReceived() bool {
	for _, e := range r.EventLogs {
		if e.Event == StatusProcessingFile {
			return true
		}
	}
	return false
}

// TransactionComplete reports whether the transcript was already persisted
func (r *Request) TransactionComplete() bool {
	return r.Status == StatusTranscriptionProcessed
}

// TranscriptDocumentName names the transcript written when this request completes
func (r *Request) TranscriptDocumentName() string {
	return fmt.Sprintf("%s-at-%s", r.Filename, r.TransactionID)
}

// Key identifies the request across the store
func (r *Request) Key() string {
	return r.UserID + "/" + r.ID
}

// Clone returns a deep copy
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	c := *r
	if r.EventLogs != nil {
		c.EventLogs = append([]EventLog(nil), r.EventLogs...)
	}
	if r.Utterances != nil {
		c.Utterances = make([]Utterance, len(r.Utterances))
		for i, u := range r.Utterances {
			u.Alternatives = append([]Alternative(nil), u.Alternatives...)
			c.Utterances[i] = u
		}
	}
	if r.TranscriptMetadata != nil {
		md := *r.TranscriptMetadata
		c.TranscriptMetadata = &md
	}
	return &c
}

// Merge copies every non-empty field of other onto r, leaving the rest untouched.
// Event logs and revision are owned by the store and are not merged.
func (r *Request) Merge(other *Request) {
	if other.ID != "" {
		r.ID = other.ID
	}
	if other.UserID != "" {
		r.UserID = other.UserID
	}
	if other.Filename != "" {
		r.Filename = other.Filename
	}
	if other.FileLastModified != 0 {
		r.FileLastModified = other.FileLastModified
	}
	if other.FilePath != "" {
		r.FilePath = other.FilePath
	}
	if other.Base64 != "" {
		r.Base64 = other.Base64
	}
	if other.FileType != "" {
		r.FileType = other.FileType
	}
	if other.FileExtension != "" {
		r.FileExtension = other.FileExtension
	}
	if other.FileSize != 0 {
		r.FileSize = other.FileSize
	}
	if other.OriginalFilePath != "" {
		r.OriginalFilePath = other.OriginalFilePath
	}
	if other.RequestType != "" {
		r.RequestType = other.RequestType
	}
	if other.RequestOptions != (RequestOptions{}) {
		r.RequestOptions = other.RequestOptions
	}
	if other.TransactionID != "" {
		r.TransactionID = other.TransactionID
	}
	if other.Status != "" {
		r.Status = other.Status
	}
	if other.UpdatedAt != "" {
		r.UpdatedAt = other.UpdatedAt
	}
	if other.Error != "" {
		r.Error = other.Error
	}
	if other.Utterances != nil {
		r.Utterances = other.Clone().Utterances
	}
	if other.TranscriptMetadata != nil {
		md := *other.TranscriptMetadata
		r.TranscriptMetadata = &md
	}
}

// TranscriptDocument is the finalized snapshot of a completed request
type TranscriptDocument struct {
	Name string `json:"name"`
	Request
}

// NewTranscriptDocument snapshots r under its transcript document name
func NewTranscriptDocument(r *Request) *TranscriptDocument {
	snap := r.Clone()
	// inline audio is never kept with the transcript
	snap.Base64 = ""
	return &TranscriptDocument{
		Name:    r.TranscriptDocumentName(),
		Request: *snap,
	}
}

// CustomQuota overrides default limits for one user, keyed by email
type CustomQuota struct {
	Email           string   `json:"email"`
	AudioFileSizeMB *float64 `json:"audioFileSizeMB,omitempty"`
}
