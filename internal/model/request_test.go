package model

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtensionFromFileType(t *testing.T) {
	tests := []struct {
		fileType string
		want     string
	}{
		{"audio/flac", "flac"},
		{"audio/mpeg", "mpeg"},
		{"audio/WAV", "wav"},
		{"mp3", "mp3"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.fileType, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtensionFromFileType(tt.fileType))
		})
	}
}

func TestNormalize(t *testing.T) {
	r := &Request{FileType: "audio/flac"}
	r.Normalize()

	assert.Equal(t, "flac", r.FileExtension)
	assert.Equal(t, RequestTypeInitial, r.RequestType)
	assert.Equal(t, APIV1p1Beta, r.RequestOptions.API)
}

func TestSizeInMB(t *testing.T) {
	r := &Request{FileSize: 25 * 1048576}
	assert.InDelta(t, 25.0, r.SizeInMB(), 1e-9)
}

func TestServerHasReceived(t *testing.T) {
	r := &Request{EventLogs: []EventLog{{Event: StatusUploaded}}}
	assert.False(t, r.ServerHasReceived())

	r.EventLogs = append(r.EventLogs, EventLog{Event: StatusProcessingFile})
	assert.True(t, r.ServerHasReceived())
}

func TestTranscriptDocument(t *testing.T) {
	r := &Request{
		ID:            "req-1",
		Filename:      "sermon.flac",
		TransactionID: "12345",
		Base64:        "AAAA",
		EventLogs:     []EventLog{{Event: StatusTranscribing}},
	}

	doc := NewTranscriptDocument(r)
	assert.Equal(t, "sermon.flac-at-12345", doc.Name)
	assert.Empty(t, doc.Base64)
	assert.Equal(t, "AAAA", r.Base64)

	doc.EventLogs[0].Error = "changed"
	assert.Empty(t, r.EventLogs[0].Error, "snapshot must not alias the live record")
}

func TestTransitions(t *testing.T) {
	allowed := []struct{ from, to Status }{
		{"", StatusUploaded},
		{StatusUploaded, StatusProcessingFile},
		{StatusProcessingFile, StatusProcessingFile},
		{StatusProcessingFile, StatusTranscribing},
		{StatusTranscribing, StatusProcessingTranscription},
		{StatusProcessingTranscription, StatusTranscriptionProcessed},
		{StatusServerError, StatusProcessingFile},
		{StatusTranscribingError, StatusTranscribing},
		{StatusUploading, StatusServerError},
	}
	for _, tt := range allowed {
		assert.NoError(t, CheckTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}

	rejected := []struct{ from, to Status }{
		{StatusTranscriptionProcessed, StatusTranscribing},
		{StatusTranscriptionProcessed, StatusServerError},
		{StatusTranscribing, StatusProcessingFile},
		{StatusUploaded, StatusTranscriptionProcessed},
		{StatusUploaded, Status("bogus")},
	}
	for _, tt := range rejected {
		err := CheckTransition(tt.from, tt.to)
		require.Error(t, err, "%s -> %s", tt.from, tt.to)
		assert.True(t, errors.Is(err, ErrInvalidTransition))
	}
}

func TestStatusValid(t *testing.T) {
	assert.True(t, StatusProcessingFile.Valid())
	assert.True(t, StatusTranscribingError.Valid())
	assert.False(t, Status("nope").Valid())
	assert.True(t, StatusServerError.IsError())
	assert.False(t, StatusTranscribing.IsError())
}

func TestTimestamp(t *testing.T) {
	ts := time.Date(2020, 4, 19, 1, 2, 8, 0, time.UTC)
	s := Timestamp(ts)
	assert.Equal(t, "20200419T010208Z", s)

	parsed, err := ParseTimestamp(s)
	require.NoError(t, err)
	assert.True(t, parsed.Equal(ts))

	_, err = ParseTimestamp("yesterday")
	assert.Error(t, err)

	assert.Equal(t, "20200425T212207Z", TimestampFromRFC3339("2020-04-25T21:22:07.436054Z"))
	assert.Empty(t, TimestampFromRFC3339(""))
}
