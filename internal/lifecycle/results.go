package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/sethvargo/go-retry"

	"khmerscribe/internal/model"
	"khmerscribe/internal/storage"
	"khmerscribe/internal/stt"
)

// ResultSource is a finished operation's results in one of the shapes recognizers return
type ResultSource interface {
	Utterances() ([]model.Utterance, error)
}

// TypedResults are results already decoded by the recognizer
type TypedResults []stt.RecognitionResult

// Utterances maps typed results to utterances
func (r TypedResults) Utterances() ([]model.Utterance, error) {
	out := make([]model.Utterance, 0, len(r))
	for _, res := range r {
		u := model.Utterance{
			ChannelTag:   res.ChannelTag,
			LanguageCode: res.LanguageCode,
			Alternatives: make([]model.Alternative, 0, len(res.Alternatives)),
		}
		for _, alt := range res.Alternatives {
			u.Alternatives = append(u.Alternatives, model.Alternative{
				Transcript: alt.Transcript,
				Confidence: alt.Confidence,
			})
		}
		out = append(out, u)
	}
	return out, nil
}

// RawResults are results decoded from JSON into maps.
// Keys may be camelCase or snake_case.
type RawResults []map[string]any

// Utterances maps raw results to utterances
func (r RawResults) Utterances() ([]model.Utterance, error) {
	out := make([]model.Utterance, 0, len(r))
	for i, raw := range r {
		u, err := rawUtterance(raw)
		if err != nil {
			return nil, fmt.Errorf("result %d: %w", i, err)
		}
		out = append(out, u)
	}
	return out, nil
}

func rawUtterance(raw map[string]any) (model.Utterance, error) {
	u := model.Utterance{Alternatives: []model.Alternative{}}

	tag, err := numberField(raw, "channelTag", "channel_tag")
	if err != nil {
		return u, err
	}
	u.ChannelTag = int(tag)

	if u.LanguageCode, err = stringField(raw, "languageCode", "language_code"); err != nil {
		return u, err
	}

	v, ok := lookup(raw, "alternatives")
	if !ok || v == nil {
		return u, nil
	}
	alts, ok := v.([]any)
	if !ok {
		return u, fmt.Errorf("alternatives is %T, not a list", v)
	}
	for j, a := range alts {
		m, ok := a.(map[string]any)
		if !ok {
			return u, fmt.Errorf("alternative %d is %T, not an object", j, a)
		}
		transcript, err := stringField(m, "transcript")
		if err != nil {
			return u, err
		}
		confidence, err := numberField(m, "confidence")
		if err != nil {
			return u, err
		}
		u.Alternatives = append(u.Alternatives, model.Alternative{Transcript: transcript, Confidence: confidence})
	}
	return u, nil
}

func lookup(m map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			return v, true
		}
	}
	return nil, false
}

func stringField(m map[string]any, keys ...string) (string, error) {
	v, ok := lookup(m, keys...)
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s is %T, not a string", keys[0], v)
	}
	return s, nil
}

func numberField(m map[string]any, keys ...string) (float64, error) {
	v, ok := lookup(m, keys...)
	if !ok || v == nil {
		return 0, nil
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, fmt.Errorf("%s: %w", keys[0], err)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("%s is %T, not a number", keys[0], v)
	}
}

// resultSource picks the shape the recognizer filled in
func resultSource(op *stt.Operation) ResultSource {
	if op.TypedResults != nil {
		return TypedResults(op.TypedResults)
	}
	return RawResults(op.RawResults)
}

// HandleTranscriptResults stores the utterances of a finished operation, removes the
// uploaded audio and finalizes the request
func (c *Controller) HandleTranscriptResults(ctx context.Context, op *stt.Operation) error {
	utterances, err := resultSource(op).Utterances()
	if err != nil {
		return c.failProgress(ctx, c.req.TransactionID, fmt.Errorf("malformed results: %w", err))
	}
	c.req.Utterances = utterances
	log.Printf("[Lifecycle] Mapped %d utterance(s) for %s", len(utterances), c.req.Key())

	c.cleanupAudio(ctx)
	return c.MarkAsProcessed(ctx)
}

// cleanupAudio deletes the uploaded audio. Failures never fail the request.
func (c *Controller) cleanupAudio(ctx context.Context) {
	if c.deps.Objects == nil {
		return
	}

	seen := make(map[string]bool)
	for _, p := range []string{c.req.FilePath, c.req.OriginalFilePath} {
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true

		if err := c.deleteObject(ctx, p); err != nil {
			cleanupErr := &StorageCleanupError{Path: p, Err: err}
			log.Printf("[Lifecycle] %v", cleanupErr)
			c.deps.Metrics.RecordCleanupFailure()
		}
	}
}

// deleteObject removes one object, tolerating a missing object and retrying a reset connection once
func (c *Controller) deleteObject(ctx context.Context, path string) error {
	delay := c.settings.CleanupRetryDelay
	if delay <= 0 {
		delay = defaultCleanupRetryDelay
	}
	backoff := retry.WithMaxRetries(1, retry.NewConstant(delay))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := c.deps.Objects.Delete(ctx, path)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, storage.ErrObjectNotFound):
			log.Printf("[Lifecycle] %s was already deleted", path)
			return nil
		case stt.Classify(err) == stt.KindConnectionReset:
			return retry.RetryableError(err)
		default:
			return err
		}
	})
}
