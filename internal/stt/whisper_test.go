package stt

import (
	"context"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAudio map[string]string

func (f fakeAudio) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	data, ok := f[path]
	if !ok {
		return nil, errors.New("object not found")
	}
	return io.NopCloser(strings.NewReader(data)), nil
}

func newTestWhisper(t *testing.T, audio AudioSource, handler http.HandlerFunc) *WhisperRecognizer {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := openai.DefaultConfig("sk-test")
	cfg.BaseURL = srv.URL + "/v1"
	return newWhisperRecognizer(openai.NewClientWithConfig(cfg), audio, "gs://bucket/")
}

func TestWhisperSubmitAndPoll(t *testing.T) {
	audio := fakeAudio{"audio/u1/talk.mp3": "ID3audio"}
	w := newTestWhisper(t, audio, func(rw http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/audio/transcriptions", r.URL.Path)
		assert.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "whisper-1", r.FormValue("model"))
		assert.Equal(t, "km", r.FormValue("language"))
		assert.Equal(t, "verbose_json", r.FormValue("response_format"))
		assert.Equal(t, "ព្រះពុទ្ធ, ធម៌", r.FormValue("prompt"))

		rw.Header().Set("Content-Type", "application/json")
		rw.Write([]byte(`{
			"task": "transcribe",
			"language": "khmer",
			"text": "សួស្តី ពិភពលោក",
			"segments": [
				{"id": 0, "text": " សួស្តី", "avg_logprob": 0},
				{"id": 1, "text": " ពិភពលោក", "avg_logprob": -0.5}
			]
		}`))
	})

	params := Params{
		Config: BuildConfig(ProfileMP3, Options{Phrases: []string{"ព្រះពុទ្ធ", "ធម៌"}}),
		Audio:  RecognitionAudio{URI: "gs://bucket/audio/u1/talk.mp3"},
	}
	name, err := w.Submit(context.Background(), params)
	require.NoError(t, err)
	require.NotEmpty(t, name)

	op, err := w.GetOperation(context.Background(), name)
	require.NoError(t, err)
	assert.True(t, op.Done)
	assert.Equal(t, 100, op.Metadata.ProgressPercent)
	require.Len(t, op.TypedResults, 2)
	assert.Equal(t, "សួស្តី", op.TypedResults[0].Alternatives[0].Transcript)
	assert.Equal(t, 1.0, op.TypedResults[0].Alternatives[0].Confidence)
	assert.InDelta(t, math.Exp(-0.5), op.TypedResults[1].Alternatives[0].Confidence, 1e-9)
	assert.Equal(t, "km-KH", op.TypedResults[1].LanguageCode)

	// results are handed out once
	_, err = w.GetOperation(context.Background(), name)
	assert.True(t, IsOperationNotFound(err))
	assert.Empty(t, w.ops)
}

func TestWhisperSubmitMissingAudio(t *testing.T) {
	w := newTestWhisper(t, fakeAudio{}, func(rw http.ResponseWriter, r *http.Request) {
		t.Error("the API must not be called without audio")
	})

	_, err := w.Submit(context.Background(), Params{Audio: RecognitionAudio{URI: "gs://bucket/missing.mp3"}})
	assert.Error(t, err)
}

func TestWhisperGetUnknownOperation(t *testing.T) {
	w := newTestWhisper(t, fakeAudio{}, func(rw http.ResponseWriter, r *http.Request) {})

	_, err := w.GetOperation(context.Background(), "nope")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "NOT_FOUND", apiErr.Status)
}

func TestWhisperLanguage(t *testing.T) {
	assert.Equal(t, "km", whisperLanguage("km-KH"))
	assert.Equal(t, "en", whisperLanguage("en"))
}
