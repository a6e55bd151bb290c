package model

import (
	"errors"
	"fmt"
)

// Status is the lifecycle state of a transcribe request
type Status string

const (
	StatusUploading               Status = "uploading"
	StatusUploaded                Status = "uploaded"
	StatusProcessingFile          Status = "processing-file"
	StatusTranscribing            Status = "transcribing"
	StatusProcessingTranscription Status = "processing-transcription"
	StatusTranscriptionProcessed  Status = "transcription-processed"
	StatusServerError             Status = "server-error"
	StatusTranscribingError       Status = "transcribing-error"
)

// ErrInvalidTransition is returned when a status change is not allowed by the transition table
var ErrInvalidTransition = errors.New("invalid status transition")

// transitions lists the allowed targets for every source status.
// Error statuses can be entered from any live status; only the resume path leaves them.
var transitions = map[Status][]Status{
	StatusUploading: {
		StatusUploaded, StatusProcessingFile,
		StatusServerError, StatusTranscribingError,
	},
	StatusUploaded: {
		StatusProcessingFile,
		StatusServerError, StatusTranscribingError,
	},
	StatusProcessingFile: {
		StatusProcessingFile, StatusTranscribing,
		StatusServerError, StatusTranscribingError,
	},
	StatusTranscribing: {
		StatusProcessingTranscription,
		StatusServerError, StatusTranscribingError,
	},
	StatusProcessingTranscription: {
		StatusTranscriptionProcessed,
		StatusServerError, StatusTranscribingError,
	},
	StatusTranscriptionProcessed: {},
	StatusServerError: {
		StatusProcessingFile, StatusTranscribing, StatusProcessingTranscription,
		StatusServerError, StatusTranscribingError,
	},
	StatusTranscribingError: {
		StatusProcessingFile, StatusTranscribing, StatusProcessingTranscription,
		StatusServerError, StatusTranscribingError,
	},
}

// Valid reports whether s is one of the known statuses
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// IsError reports whether s is one of the error statuses
func (s Status) IsError() bool {
	return s == StatusServerError || s == StatusTranscribingError
}

// CanTransition reports whether a request may move from one status to another.
// An empty source is treated as a fresh record and may enter any status.
func CanTransition(from, to Status) bool {
	if !to.Valid() {
		return false
	}
	if from == "" {
		return true
	}
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// CheckTransition returns ErrInvalidTransition wrapped with both statuses when the move is not allowed
func CheckTransition(from, to Status) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %q -> %q", ErrInvalidTransition, from, to)
	}
	return nil
}
