package stt

import (
	"errors"
	"fmt"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, KindUnknown},
		{"wav mono", errors.New("Must use single channel (mono) audio, but WAV header indicates 2 channels."), KindChannelCount},
		{"wav mono api", &APIError{Code: 400, Status: "INVALID_ARGUMENT", Message: "Must use single channel (mono) audio, but WAV header indicates 2 channels."}, KindChannelCount},
		{"channel count", &APIError{Code: 400, Message: "Invalid audio channel count"}, KindChannelCount},
		{"flac header", errors.New("400 audio_channel_count `1` in RecognitionConfig must either be unspecified or match the value in the FLAC header `2`."), KindChannelCount},
		{"reset errno", fmt.Errorf("failed to send request: %w", syscall.ECONNRESET), KindConnectionReset},
		{"reset text", errors.New("('Connection aborted.', ConnectionResetError(104, 'Connection reset by peer'))"), KindConnectionReset},
		{"internal api", &APIError{Code: 500, Status: "INTERNAL", Message: "Internal error encountered."}, KindInternal},
		{"internal text", errors.New("Error: 13 INTERNAL"), KindInternal},
		{"internal operation", &OperationError{Code: 13, Message: "Internal error"}, KindInternal},
		{"unsupported wav", errors.New("WAV header indicates an unsupported format."), KindUnsupportedFormat},
		{"bad sample rate", &APIError{Code: 400, Message: "Invalid recognition 'config': bad sample rate hertz."}, KindBadSampleRate},
		{"other", &APIError{Code: 403, Status: "PERMISSION_DENIED", Message: "denied"}, KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err), "got %s", Classify(tt.err))
		})
	}
}

func TestAPIErrorMessage(t *testing.T) {
	err := &APIError{Code: 400, Message: "Invalid audio channel count"}
	assert.Equal(t, "400 Invalid audio channel count", err.Error())
}

func TestIsOperationNotFound(t *testing.T) {
	assert.True(t, IsOperationNotFound(&APIError{Code: 404, Status: "NOT_FOUND", Message: "operation op-1 not found"}))
	assert.True(t, IsOperationNotFound(fmt.Errorf("poll: %w", &APIError{Code: 404, Message: "gone"})))
	assert.False(t, IsOperationNotFound(&APIError{Code: 500, Status: "INTERNAL"}))
	assert.False(t, IsOperationNotFound(errors.New("404 page not found")))
	assert.False(t, IsOperationNotFound(nil))
}
