package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config contains all runtime settings for the tutoring service.
type Config struct {
	BindAddr                 string        `env:"APP_BIND_ADDR" envDefault:":5000"`
	ShutdownTimeout          time.Duration `env:"APP_SHUTDOWN_TIMEOUT" envDefault:"15s"`
	SessionInactivityTimeout time.Duration `env:"APP_SESSION_INACTIVITY_TIMEOUT" envDefault:"10m"`
	MetricsNamespace         string        `env:"APP_METRICS_NAMESPACE" envDefault:"lingotalk"`
	LogLevel                 string        `env:"APP_LOG_LEVEL" envDefault:"info"`
	LogFormat                string        `env:"APP_LOG_FORMAT" envDefault:"console"`
	MaxUploadBytes           int64         `env:"APP_MAX_UPLOAD_BYTES" envDefault:"26214400"`
	AllowAnyOrigin           bool          `env:"APP_ALLOW_ANY_ORIGIN" envDefault:"false"`

	TempDir           string        `env:"TEMP_DIR" envDefault:"temp"`
	TempFilesLifetime time.Duration `env:"TEMP_FILES_LIFETIME" envDefault:"3600s"`
	// "off" disables the background sweep; POST /cleanup/temp keeps working.
	TempSweepSchedule string `env:"TEMP_SWEEP_SCHEDULE" envDefault:"@every 10m"`

	LLMProvider            string  `env:"LLM_PROVIDER" envDefault:"auto"`
	LLMFallback            string  `env:"LLM_FALLBACK"`
	OpenAIAPIKey           string  `env:"OPENAI_API_KEY"`
	OpenAIBaseURL          string  `env:"OPENAI_BASE_URL"`
	OpenAIModel            string  `env:"OPENAI_MODEL" envDefault:"gpt-3.5-turbo"`
	OpenAIMaxRetries       int     `env:"OPENAI_MAX_RETRIES" envDefault:"2"`
	ChatMaxTokens          int     `env:"CHAT_MAX_TOKENS" envDefault:"1000"`
	ChatTemperature        float64 `env:"CHAT_TEMPERATURE" envDefault:"0.7"`
	ChatHistoryTokenBudget int     `env:"CHAT_HISTORY_TOKEN_BUDGET" envDefault:"3000"`

	VoiceProvider    string `env:"VOICE_PROVIDER" envDefault:"auto"`
	OpenAISTTModel   string `env:"OPENAI_STT_MODEL" envDefault:"whisper-1"`
	OpenAITTSModel   string `env:"OPENAI_TTS_MODEL" envDefault:"tts-1"`
	OpenAITTSVoiceEN string `env:"OPENAI_TTS_VOICE_EN" envDefault:"alloy"`
	OpenAITTSVoiceJA string `env:"OPENAI_TTS_VOICE_JA" envDefault:"nova"`

	LocalWhisperCLI          string `env:"LOCAL_WHISPER_CLI" envDefault:"whisper-cli"`
	LocalWhisperModelPath    string `env:"LOCAL_WHISPER_MODEL_PATH" envDefault:".models/whisper/ggml-base.bin"`
	LocalWhisperThreads      int    `env:"LOCAL_WHISPER_THREADS" envDefault:"0"`
	LocalWhisperAutoDownload bool   `env:"LOCAL_WHISPER_AUTO_DOWNLOAD" envDefault:"true"`

	DatabaseURL        string `env:"DATABASE_URL"`
	RedisURL           string `env:"REDIS_URL"`
	MemoryHistoryLimit int    `env:"MEMORY_HISTORY_LIMIT" envDefault:"20"`
}

// Load reads .env (when present) and the process environment, then validates.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return parse(env.Options{})
}

func parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.LLMProvider = strings.ToLower(strings.TrimSpace(c.LLMProvider))
	c.LLMFallback = strings.ToLower(strings.TrimSpace(c.LLMFallback))
	if c.LLMFallback == "off" || c.LLMFallback == "none" {
		c.LLMFallback = ""
	}
	c.VoiceProvider = strings.ToLower(strings.TrimSpace(c.VoiceProvider))
	c.OpenAIAPIKey = strings.TrimSpace(c.OpenAIAPIKey)
	c.DatabaseURL = strings.TrimSpace(c.DatabaseURL)
	c.RedisURL = strings.TrimSpace(c.RedisURL)
	c.TempSweepSchedule = strings.TrimSpace(c.TempSweepSchedule)
	if strings.EqualFold(c.TempSweepSchedule, "off") {
		c.TempSweepSchedule = ""
	}
}

func (c Config) validate() error {
	if strings.TrimSpace(c.TempDir) == "" {
		return fmt.Errorf("TEMP_DIR must not be empty")
	}
	if c.TempFilesLifetime <= 0 {
		return fmt.Errorf("TEMP_FILES_LIFETIME must be positive")
	}
	if c.SessionInactivityTimeout < 5*time.Second {
		return fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("APP_MAX_UPLOAD_BYTES must be positive")
	}
	if c.ChatMaxTokens <= 0 {
		return fmt.Errorf("CHAT_MAX_TOKENS must be positive")
	}
	if c.ChatTemperature < 0 || c.ChatTemperature > 2 {
		return fmt.Errorf("CHAT_TEMPERATURE must be within [0, 2]")
	}
	if c.ChatHistoryTokenBudget < 0 {
		return fmt.Errorf("CHAT_HISTORY_TOKEN_BUDGET must be >= 0")
	}
	if c.OpenAIMaxRetries < 0 {
		return fmt.Errorf("OPENAI_MAX_RETRIES must be >= 0")
	}
	if c.LocalWhisperThreads < 0 {
		return fmt.Errorf("LOCAL_WHISPER_THREADS must be >= 0")
	}
	if c.MemoryHistoryLimit <= 0 {
		return fmt.Errorf("MEMORY_HISTORY_LIMIT must be positive")
	}
	switch c.LLMProvider {
	case "auto", "openai", "mock":
	default:
		return fmt.Errorf("invalid LLM_PROVIDER %q (expected auto|openai|mock)", c.LLMProvider)
	}
	switch c.LLMFallback {
	case "", "mock":
	default:
		return fmt.Errorf("invalid LLM_FALLBACK %q (expected mock or empty)", c.LLMFallback)
	}
	switch c.VoiceProvider {
	case "auto", "openai", "local", "mock":
	default:
		return fmt.Errorf("invalid VOICE_PROVIDER %q (expected auto|openai|local|mock)", c.VoiceProvider)
	}
	if c.DatabaseURL != "" && c.RedisURL != "" {
		return fmt.Errorf("DATABASE_URL and REDIS_URL are mutually exclusive")
	}
	return nil
}
