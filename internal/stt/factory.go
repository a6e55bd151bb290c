package stt

import (
	"context"
	"fmt"
	"log"

	"khmerscribe/internal/config"
)

// CreateRecognizer creates the recognizer selected by cfg.STTProvider.
// audio is used by providers that read the uploaded file themselves.
func CreateRecognizer(ctx context.Context, cfg *config.Config, audio AudioSource) (Recognizer, error) {
	switch cfg.STTProvider {
	case "", "google":
		if isGoogleAPIKey(cfg.GoogleKeyFile) {
			log.Printf("[STT Factory] Creating Google recognizer with API key")
		} else {
			log.Printf("[STT Factory] Creating Google recognizer with service account credentials")
		}
		return NewGoogleRecognizer(ctx, cfg.GoogleKeyFile)
	case "whisper":
		if cfg.OpenAIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY environment variable is not set")
		}
		if audio == nil {
			return nil, fmt.Errorf("whisper recognizer needs an audio source")
		}
		log.Printf("[STT Factory] Creating Whisper recognizer")
		return NewWhisperRecognizer(cfg.OpenAIKey, audio, cfg.AudioURIPrefix), nil
	default:
		return nil, fmt.Errorf("unsupported STT provider: %s. Supported: google, whisper", cfg.STTProvider)
	}
}
