package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"khmerscribe/internal/model"
	"khmerscribe/internal/repository"
	"khmerscribe/internal/storage"
	"khmerscribe/internal/stt"
)

const camelResults = `[
	{"alternatives": [{"transcript": "សួស្តី", "confidence": 0.92}, {"transcript": "សួស្ដី", "confidence": 0.5}], "channelTag": 1, "languageCode": "km-kh"},
	{"alternatives": [{"transcript": "ពិភពលោក", "confidence": 0.81}], "channelTag": 2, "languageCode": "km-kh"}
]`

const snakeResults = `[
	{"alternatives": [{"transcript": "សួស្តី", "confidence": 0.92}, {"transcript": "សួស្ដី", "confidence": 0.5}], "channel_tag": 1, "language_code": "km-kh"},
	{"alternatives": [{"transcript": "ពិភពលោក", "confidence": 0.81}], "channel_tag": 2, "language_code": "km-kh"}
]`

var typedResults = []stt.RecognitionResult{
	{
		ChannelTag:   1,
		LanguageCode: "km-kh",
		Alternatives: []stt.Alternative{{Transcript: "សួស្តី", Confidence: 0.92}, {Transcript: "សួស្ដី", Confidence: 0.5}},
	},
	{
		ChannelTag:   2,
		LanguageCode: "km-kh",
		Alternatives: []stt.Alternative{{Transcript: "ពិភពលោក", Confidence: 0.81}},
	},
}

func decodeRaw(t *testing.T, data string) RawResults {
	t.Helper()
	var raw []map[string]any
	require.NoError(t, json.Unmarshal([]byte(data), &raw))
	return raw
}

func mappedJSON(t *testing.T, src ResultSource) string {
	t.Helper()
	utterances, err := src.Utterances()
	require.NoError(t, err)
	data, err := json.Marshal(utterances)
	require.NoError(t, err)
	return string(data)
}

func TestResultShapesMapIdentically(t *testing.T) {
	typed := mappedJSON(t, TypedResults(typedResults))

	assert.Equal(t, typed, mappedJSON(t, decodeRaw(t, camelResults)))
	assert.Equal(t, typed, mappedJSON(t, decodeRaw(t, snakeResults)))

	dec := json.NewDecoder(strings.NewReader(camelResults))
	dec.UseNumber()
	var withNumbers []map[string]any
	require.NoError(t, dec.Decode(&withNumbers))
	assert.Equal(t, typed, mappedJSON(t, RawResults(withNumbers)))
}

func TestResultWithoutAlternatives(t *testing.T) {
	typed := mappedJSON(t, TypedResults{{LanguageCode: "km-kh"}})
	raw := mappedJSON(t, decodeRaw(t, `[{"languageCode": "km-kh"}]`))

	assert.Equal(t, typed, raw)
	assert.Contains(t, raw, `"alternatives":[]`)
}

func TestMalformedRawResults(t *testing.T) {
	tests := []string{
		`[{"alternatives": "nope"}]`,
		`[{"alternatives": [42]}]`,
		`[{"alternatives": [{"transcript": 1}]}]`,
		`[{"alternatives": [{"confidence": "high"}]}]`,
		`[{"channelTag": "one"}]`,
	}
	for _, data := range tests {
		_, err := decodeRaw(t, data).Utterances()
		assert.Error(t, err, data)
	}
}

func processingRequest(t *testing.T, env *testEnv) *Controller {
	t.Helper()
	req := transcribingRequest()
	req.Status = model.StatusProcessingTranscription
	req.OriginalFilePath = "audio/user-1/talk-original.wav"
	ctx := context.Background()
	require.NoError(t, env.objects.Put(ctx, req.FilePath, strings.NewReader("fLaC")))
	require.NoError(t, env.objects.Put(ctx, req.OriginalFilePath, strings.NewReader("RIFF")))
	return env.seed(t, req)
}

func TestHandleTranscriptResultsFinalizes(t *testing.T) {
	env := newTestEnv(t)
	c := processingRequest(t, env)
	ctx := context.Background()

	err := c.HandleTranscriptResults(ctx, &stt.Operation{Name: "op-1", Done: true, RawResults: decodeRaw(t, camelResults)})
	require.NoError(t, err)

	for _, p := range []string{"audio/user-1/talk.flac", "audio/user-1/talk-original.wav"} {
		ok, err := env.objects.Exists(ctx, p)
		require.NoError(t, err)
		assert.False(t, ok, p)
	}

	_, err = env.store.GetRequest(ctx, "user-1", "req-1")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	doc, err := env.store.FindTranscript(ctx, "user-1", "req-1")
	require.NoError(t, err)
	assert.Equal(t, "talk.flac-at-op-1", doc.Name)
	assert.Equal(t, model.StatusTranscriptionProcessed, doc.Status)
	require.Len(t, doc.Utterances, 2)
	assert.Equal(t, "ពិភពលោក", doc.Utterances[1].Alternatives[0].Transcript)
	require.NotEmpty(t, doc.EventLogs)
	assert.Equal(t, model.StatusTranscriptionProcessed, doc.EventLogs[len(doc.EventLogs)-1].Event)
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.TranscriptsSaved))
}

func TestHandleTranscriptResultsMalformed(t *testing.T) {
	env := newTestEnv(t)
	c := processingRequest(t, env)
	ctx := context.Background()

	err := c.HandleTranscriptResults(ctx, &stt.Operation{Done: true, RawResults: decodeRaw(t, `[{"alternatives": 7}]`)})
	var perr *RemoteProgressError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, model.StatusTranscribingError, env.stored(t).Status)

	ok, err := env.objects.Exists(ctx, "audio/user-1/talk.flac")
	require.NoError(t, err)
	assert.True(t, ok, "audio is kept when the results cannot be read")
}

// flakyObjects fails deletes with the queued errors before delegating
type flakyObjects struct {
	storage.ObjectStore
	mu    sync.Mutex
	errs  []error
	calls int
}

func (f *flakyObjects) Delete(ctx context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return err
	}
	return f.ObjectStore.Delete(ctx, path)
}

func TestCleanupRetriesConnectionReset(t *testing.T) {
	env := newTestEnv(t)
	flaky := &flakyObjects{ObjectStore: env.objects, errs: []error{errors.New("connection reset by peer")}}
	env.deps.Objects = flaky
	c := processingRequest(t, env)
	c.req.OriginalFilePath = ""

	require.NoError(t, c.HandleTranscriptResults(context.Background(), &stt.Operation{Done: true, TypedResults: typedResults}))
	assert.Equal(t, 2, flaky.calls)
	assert.Equal(t, 0.0, testutil.ToFloat64(env.metrics.CleanupFailures))

	ok, err := env.objects.Exists(context.Background(), "audio/user-1/talk.flac")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCleanupFailureDoesNotFailRequest(t *testing.T) {
	env := newTestEnv(t)
	flaky := &flakyObjects{ObjectStore: env.objects, errs: []error{errors.New("permission denied"), errors.New("permission denied")}}
	env.deps.Objects = flaky
	c := processingRequest(t, env)

	require.NoError(t, c.HandleTranscriptResults(context.Background(), &stt.Operation{Done: true, TypedResults: typedResults}))
	assert.Equal(t, 2, flaky.calls)
	assert.Equal(t, 2.0, testutil.ToFloat64(env.metrics.CleanupFailures))
	assert.Equal(t, model.StatusTranscriptionProcessed, c.Request().Status)
}

func TestCleanupToleratesMissingAudio(t *testing.T) {
	env := newTestEnv(t)
	c := env.seed(t, func() *model.Request {
		req := transcribingRequest()
		req.Status = model.StatusProcessingTranscription
		return req
	}())

	require.NoError(t, c.HandleTranscriptResults(context.Background(), &stt.Operation{Done: true, TypedResults: typedResults}))
	assert.Equal(t, 0.0, testutil.ToFloat64(env.metrics.CleanupFailures))
}

func TestCheckTranscriptionProgressDone(t *testing.T) {
	env := newTestEnv(t)
	c := env.seed(t, transcribingRequest())

	env.rec.EXPECT().GetOperation(gomock.Any(), "op-1").Return(&stt.Operation{
		Name:         "op-1",
		Done:         true,
		Metadata:     stt.OperationMetadata{ProgressPercent: 100},
		TypedResults: typedResults,
	}, nil)

	progress, err := c.CheckTranscriptionProgress(context.Background())
	require.NoError(t, err)
	assert.True(t, progress.Done)
	assert.True(t, progress.Finalized)

	docs := env.store.ListTranscripts("user-1")
	require.Len(t, docs, 1)
	events := docs[0].EventLogs
	require.Len(t, events, 2)
	assert.Equal(t, model.StatusProcessingTranscription, events[0].Event)
	assert.Equal(t, model.StatusTranscriptionProcessed, events[1].Event)
	require.NotNil(t, docs[0].TranscriptMetadata)
	assert.Equal(t, 100, docs[0].TranscriptMetadata.ProgressPercent)
}
