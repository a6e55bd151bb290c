package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Port        string `yaml:"port" env:"PORT" env-default:"8080"`
	DatabaseURL string `yaml:"database_url" env:"DATABASE_URL"`

	// STT provider: google (long-running REST API) or whisper (OpenAI)
	STTProvider   string `yaml:"stt_provider" env:"STT_PROVIDER" env-default:"google"`
	GoogleKeyFile string `yaml:"google_stt_key_file" env:"GOOGLE_STT_KEY_FILE"`
	OpenAIKey     string `yaml:"openai_api_key" env:"OPENAI_API_KEY"`

	AudioURIPrefix       string   `yaml:"audio_uri_prefix" env:"AUDIO_URI_PREFIX" env-default:"gs://khmer-speech-to-text.appspot.com/"`
	LanguageCode         string   `yaml:"language_code" env:"LANGUAGE_CODE" env-default:"km-KH"`
	SpeechContextPhrases []string `yaml:"speech_context_phrases" env:"SPEECH_CONTEXT_PHRASES" env-separator:","`
	SpeechContextBoost   float64  `yaml:"speech_context_boost" env:"SPEECH_CONTEXT_BOOST"`

	DefaultQuotaMB   float64  `yaml:"default_quota_mb" env:"DEFAULT_QUOTA_MB" env-default:"50"`
	WhitelistedUsers []string `yaml:"whitelisted_users" env:"WHITELISTED_USERS" env-separator:","`
	WhitelistPattern string   `yaml:"whitelist_pattern" env:"WHITELIST_PATTERN"`

	// Object store: local (UPLOADS_DIR) or azblob
	ObjectStore     string `yaml:"object_store" env:"OBJECT_STORE" env-default:"local"`
	UploadsDir      string `yaml:"uploads_dir" env:"UPLOADS_DIR" env-default:"uploads"`
	AzureAccountURL string `yaml:"azure_storage_account_url" env:"AZURE_STORAGE_ACCOUNT_URL"`
	AzureContainer  string `yaml:"azure_storage_container" env:"AZURE_STORAGE_CONTAINER"`

	CleanupRetryDelay time.Duration `yaml:"cleanup_retry_delay" env:"CLEANUP_RETRY_DELAY" env-default:"500ms"`
}

// Load reads configuration from environment variables, on top of the YAML file
// named by CONFIG_FILE when it is set
func Load() (*Config, error) {
	var cfg Config

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment variables: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	c.STTProvider = strings.ToLower(strings.TrimSpace(c.STTProvider))
	switch c.STTProvider {
	case "google":
	case "whisper":
		if c.OpenAIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required when STT_PROVIDER=whisper")
		}
	default:
		return fmt.Errorf("unsupported STT_PROVIDER: %s. Supported: google, whisper", c.STTProvider)
	}

	c.ObjectStore = strings.ToLower(strings.TrimSpace(c.ObjectStore))
	switch c.ObjectStore {
	case "local":
	case "azblob":
		if c.AzureAccountURL == "" || c.AzureContainer == "" {
			return fmt.Errorf("AZURE_STORAGE_ACCOUNT_URL and AZURE_STORAGE_CONTAINER are required when OBJECT_STORE=azblob")
		}
	default:
		return fmt.Errorf("unsupported OBJECT_STORE: %s. Supported: local, azblob", c.ObjectStore)
	}

	if c.DefaultQuotaMB <= 0 {
		return fmt.Errorf("DEFAULT_QUOTA_MB must be positive, got %v", c.DefaultQuotaMB)
	}
	if c.CleanupRetryDelay <= 0 {
		return fmt.Errorf("CLEANUP_RETRY_DELAY must be positive, got %v", c.CleanupRetryDelay)
	}
	if c.WhitelistPattern != "" {
		if _, err := regexp.Compile(c.WhitelistPattern); err != nil {
			return fmt.Errorf("invalid WHITELIST_PATTERN: %w", err)
		}
	}

	users := c.WhitelistedUsers[:0]
	for _, u := range c.WhitelistedUsers {
		if u = strings.TrimSpace(u); u != "" {
			users = append(users, u)
		}
	}
	c.WhitelistedUsers = users

	return nil
}
