package stt

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log"
	"math"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sashabaranov/go-openai"
)

// AudioSource opens uploaded audio by object path
type AudioSource interface {
	Open(ctx context.Context, path string) (io.ReadCloser, error)
}

// WhisperRecognizer adapts the OpenAI transcription API to the long-running job model.
// Transcription runs during Submit and the finished operation is kept in memory until it
// is polled once. Operations are lost on restart and then reported as NOT_FOUND.
type WhisperRecognizer struct {
	client    *openai.Client
	audio     AudioSource
	uriPrefix string

	mu  sync.Mutex
	ops map[string]*Operation
}

// NewWhisperRecognizer creates a recognizer for apiKey. Audio URIs are mapped back to
// object paths by stripping uriPrefix.
func NewWhisperRecognizer(apiKey string, audio AudioSource, uriPrefix string) *WhisperRecognizer {
	return newWhisperRecognizer(openai.NewClient(apiKey), audio, uriPrefix)
}

func newWhisperRecognizer(client *openai.Client, audio AudioSource, uriPrefix string) *WhisperRecognizer {
	return &WhisperRecognizer{
		client:    client,
		audio:     audio,
		uriPrefix: uriPrefix,
		ops:       make(map[string]*Operation),
	}
}

// Name returns the provider name
func (w *WhisperRecognizer) Name() string {
	return "whisper"
}

// whisperLanguage turns a BCP-47 code such as km-KH into the ISO-639-1 code Whisper expects
func whisperLanguage(code string) string {
	lang, _, _ := strings.Cut(code, "-")
	return strings.ToLower(lang)
}

func (w *WhisperRecognizer) openAudio(ctx context.Context, audio RecognitionAudio) (io.ReadCloser, string, error) {
	if audio.URI != "" {
		objectPath := strings.TrimPrefix(audio.URI, w.uriPrefix)
		rc, err := w.audio.Open(ctx, objectPath)
		if err != nil {
			return nil, "", fmt.Errorf("failed to open audio %s: %w", objectPath, err)
		}
		return rc, path.Base(objectPath), nil
	}

	data, err := base64.StdEncoding.DecodeString(audio.Content)
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode inline audio: %w", err)
	}
	return io.NopCloser(bytes.NewReader(data)), "audio", nil
}

// Submit transcribes the audio and records a finished operation
func (w *WhisperRecognizer) Submit(ctx context.Context, params Params) (string, error) {
	startTime := time.Now()

	rc, filename, err := w.openAudio(ctx, params.Audio)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	var prompt string
	if len(params.Config.SpeechContexts) > 0 {
		prompt = strings.Join(params.Config.SpeechContexts[0].Phrases, ", ")
	}

	log.Printf("[Whisper STT] Transcribing %s", filename)
	resp, err := w.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    openai.Whisper1,
		FilePath: filename,
		Reader:   rc,
		Prompt:   prompt,
		Language: whisperLanguage(params.Config.LanguageCode),
		Format:   openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		log.Printf("[Whisper STT] API error: %v", err)
		return "", fmt.Errorf("whisper transcription failed: %w", err)
	}

	results := make([]RecognitionResult, 0, len(resp.Segments))
	for _, seg := range resp.Segments {
		results = append(results, RecognitionResult{
			LanguageCode: params.Config.LanguageCode,
			Alternatives: []Alternative{{
				Transcript: strings.TrimSpace(seg.Text),
				Confidence: math.Exp(seg.AvgLogprob),
			}},
		})
	}
	if len(results) == 0 && resp.Text != "" {
		results = append(results, RecognitionResult{
			LanguageCode: params.Config.LanguageCode,
			Alternatives: []Alternative{{Transcript: strings.TrimSpace(resp.Text)}},
		})
	}

	now := time.Now().UTC().Format(time.RFC3339)
	op := &Operation{
		Name: uuid.NewString(),
		Metadata: OperationMetadata{
			ProgressPercent: 100,
			StartTime:       startTime.UTC().Format(time.RFC3339),
			LastUpdateTime:  now,
		},
		Done:         true,
		TypedResults: results,
	}

	w.mu.Lock()
	w.ops[op.Name] = op
	w.mu.Unlock()

	log.Printf("[Whisper STT] Transcription successful: segments=%d, duration=%v", len(results), time.Since(startTime))
	return op.Name, nil
}

// GetOperation hands out a finished operation recorded by Submit and forgets it
func (w *WhisperRecognizer) GetOperation(ctx context.Context, name string) (*Operation, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	op, ok := w.ops[name]
	if !ok {
		return nil, &APIError{Code: 404, Status: "NOT_FOUND", Message: fmt.Sprintf("operation %s not found", name)}
	}
	delete(w.ops, name)
	return op, nil
}
