package stt

import (
	"errors"
	"fmt"
	"strings"
	"syscall"
)

// ErrorKind groups recognizer failures by how a caller should react to them
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	// KindChannelCount means the audio has more channels than the config declared
	KindChannelCount
	// KindConnectionReset is a dropped connection before the service answered
	KindConnectionReset
	// KindInternal is a transient failure inside the service (code 13, INTERNAL)
	KindInternal
	KindUnsupportedFormat
	KindBadSampleRate
)

func (k ErrorKind) String() string {
	switch k {
	case KindChannelCount:
		return "channel-count"
	case KindConnectionReset:
		return "connection-reset"
	case KindInternal:
		return "internal"
	case KindUnsupportedFormat:
		return "unsupported-format"
	case KindBadSampleRate:
		return "bad-sample-rate"
	default:
		return "unknown"
	}
}

// grpcInternal is the numeric status code the service uses for internal errors
const grpcInternal = 13

// APIError is an error status returned by the recognition service
type APIError struct {
	Code    int    // HTTP status code
	Status  string // canonical status name, e.g. INVALID_ARGUMENT
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%d %s", e.Code, e.Message)
}

var channelCountMessages = []string{
	"Must use single channel (mono) audio",
	"Invalid audio channel count",
	"must either be unspecified or match the value in the FLAC header",
}

// Classify maps a recognizer error onto an ErrorKind
func Classify(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}

	msg := err.Error()
	for _, m := range channelCountMessages {
		if strings.Contains(msg, m) {
			return KindChannelCount
		}
	}

	switch {
	case strings.Contains(msg, "WAV header indicates an unsupported format"):
		return KindUnsupportedFormat
	case strings.Contains(msg, "bad sample rate hertz"):
		return KindBadSampleRate
	case errors.Is(err, syscall.ECONNRESET),
		strings.Contains(strings.ToLower(msg), "connection reset by peer"):
		return KindConnectionReset
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == "INTERNAL" {
		return KindInternal
	}
	var opErr *OperationError
	if errors.As(err, &opErr) && opErr.Code == grpcInternal {
		return KindInternal
	}
	if strings.Contains(msg, "13 INTERNAL") {
		return KindInternal
	}

	return KindUnknown
}

// IsOperationNotFound reports whether the service no longer knows the operation.
// Expired operations and Whisper results lost with a restart both end up here.
func IsOperationNotFound(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == 404 || apiErr.Status == "NOT_FOUND"
}
