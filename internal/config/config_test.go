package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var configKeys = []string{
	"CONFIG_FILE", "PORT", "DATABASE_URL", "STT_PROVIDER", "GOOGLE_STT_KEY_FILE", "OPENAI_API_KEY",
	"AUDIO_URI_PREFIX", "LANGUAGE_CODE", "SPEECH_CONTEXT_PHRASES", "SPEECH_CONTEXT_BOOST",
	"DEFAULT_QUOTA_MB", "WHITELISTED_USERS", "WHITELIST_PATTERN", "OBJECT_STORE", "UPLOADS_DIR",
	"AZURE_STORAGE_ACCOUNT_URL", "AZURE_STORAGE_CONTAINER", "CLEANUP_RETRY_DELAY",
}

// clearEnv unsets every config variable for the duration of the test
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range configKeys {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "google", cfg.STTProvider)
	assert.Equal(t, "local", cfg.ObjectStore)
	assert.Equal(t, "km-KH", cfg.LanguageCode)
	assert.Equal(t, 50.0, cfg.DefaultQuotaMB)
	assert.Equal(t, "gs://khmer-speech-to-text.appspot.com/", cfg.AudioURIPrefix)
	assert.Equal(t, 500*time.Millisecond, cfg.CleanupRetryDelay)
}

func TestLoadFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("STT_PROVIDER", "Whisper")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("WHITELISTED_USERS", "a@example.com, b@example.com,")
	t.Setenv("WHITELIST_PATTERN", `rlquey2\+.*@gmail.com`)
	t.Setenv("DEFAULT_QUOTA_MB", "75")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "whisper", cfg.STTProvider)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, cfg.WhitelistedUsers)
	assert.Equal(t, 75.0, cfg.DefaultQuotaMB)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown provider", map[string]string{"STT_PROVIDER": "fpt"}},
		{"whisper without key", map[string]string{"STT_PROVIDER": "whisper"}},
		{"azblob without container", map[string]string{"OBJECT_STORE": "azblob", "AZURE_STORAGE_ACCOUNT_URL": "https://x.blob.core.windows.net/"}},
		{"bad pattern", map[string]string{"WHITELIST_PATTERN": "("}},
		{"zero quota", map[string]string{"DEFAULT_QUOTA_MB": "0"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
port: "9090"
language_code: en-US
whitelisted_users:
  - a@example.com
speech_context_phrases:
  - ព្រះពុទ្ធ
  - ធម៌
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	clearEnv(t)
	t.Setenv("CONFIG_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "en-US", cfg.LanguageCode)
	assert.Equal(t, []string{"a@example.com"}, cfg.WhitelistedUsers)
	assert.Len(t, cfg.SpeechContextPhrases, 2)
}
