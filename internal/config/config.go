package config

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	HTTP          HTTPConfig          `yaml:"http"`
	Audio         AudioConfig         `yaml:"audio"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Pipeline      PipelineConfig      `yaml:"pipeline"`
	Billing       BillingConfig       `yaml:"billing"`
	Database      DatabaseConfig      `yaml:"database"`
	Auth          AuthConfig          `yaml:"auth"`
	Session       SessionConfig       `yaml:"session"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port           int      `yaml:"port" env:"HTTP_PORT" env-description:"HTTP listen port"`
	Address        string   `yaml:"address" env:"HTTP_ADDRESS" env-description:"HTTP listen address"`
	ReadTimeout    int      `yaml:"read_timeout"`  // seconds
	WriteTimeout   int      `yaml:"write_timeout"` // seconds
	AllowedOrigins []string `yaml:"allowed_origins" env:"CORS_ALLOWED_ORIGINS" env-description:"Comma separated CORS origins"`
}

// AudioConfig contains chunking and upload parameters
type AudioConfig struct {
	SampleRate     int     `yaml:"sample_rate" env:"TARGET_SAMPLE_RATE" env-description:"Sample rate of transcribed chunks"`
	ChunkDuration  float64 `yaml:"chunk_duration" env:"CHUNK_DURATION_SECONDS" env-description:"Chunk length in seconds"`
	MaxAudioSizeMB int     `yaml:"max_audio_size_mb" env:"MAX_AUDIO_SIZE_MB" env-description:"Largest accepted upload in megabytes"`
	FFmpegPath     string  `yaml:"ffmpeg_path" env:"FFMPEG_PATH"`
	FFprobePath    string  `yaml:"ffprobe_path" env:"FFPROBE_PATH"`
}

// TranscriptionConfig contains speech provider configuration
type TranscriptionConfig struct {
	Provider      string `yaml:"provider" env:"TRANSCRIPTION_PROVIDER" env-description:"gemini, speech-to-text or whisper"`
	APIKey        string `yaml:"api_key" env:"GOOGLE_CLOUD_API_KEY" env-description:"Google Cloud API key"`
	OpenAIAPIKey  string `yaml:"openai_api_key" env:"OPENAI_API_KEY" env-description:"OpenAI API key for whisper"`
	Model         string `yaml:"model" env:"TRANSCRIPTION_MODEL,GEMINI_MODEL" env-description:"Provider model override"`
	BaseURL       string `yaml:"base_url" env:"TRANSCRIPTION_BASE_URL"`
	Timeout       int    `yaml:"timeout" env:"TRANSCRIPTION_TIMEOUT" env-description:"Per-call timeout in seconds, 0 scales with chunk length"`
	MaxConcurrent int    `yaml:"max_concurrent"`
}

// PipelineConfig contains per-chunk retry settings
type PipelineConfig struct {
	MaxRetries   int `yaml:"max_retries" env:"MAX_RETRIES" env-description:"Retries per chunk"`
	RetryDelayMS int `yaml:"retry_delay_ms" env:"RETRY_DELAY_MS" env-description:"Base retry delay in milliseconds"`
}

// BillingConfig contains credit pricing
type BillingConfig struct {
	CreditsPerMinute float64 `yaml:"credits_per_minute"`
}

// DatabaseConfig selects and configures storage
type DatabaseConfig struct {
	Driver          string `yaml:"driver" env:"DATABASE_DRIVER" env-description:"memory or postgres"`
	URL             string `yaml:"url" env:"DATABASE_URL" env-description:"PostgreSQL connection string"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime"` // seconds
}

// AuthConfig contains bearer token settings
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET" env-description:"HS256 signing secret"`
	TokenTTL  int    `yaml:"token_ttl"` // hours, 0 means no expiry
}

// SessionConfig contains server-side run settings
type SessionConfig struct {
	Timeout int `yaml:"timeout"` // seconds
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL" env-description:"debug, info, warn or error"`
	Format string `yaml:"format" env:"LOG_FORMAT" env-description:"json or text"`
	Output string `yaml:"output" env:"LOG_OUTPUT"`
}

// Default returns a configuration usable without a file
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.Pipeline.MaxRetries = 2
	return cfg
}

// LoadDotEnv loads variables from .env files that exist. Variables already
// set in the environment win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads and parses the configuration file, then applies environment overrides
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	// keys missing from the file keep their defaults
	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.ApplyEnv(); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// ApplyEnv overrides fields from environment variables
func (c *Config) ApplyEnv() error {
	if err := cleanenv.ReadEnv(c); err != nil {
		return fmt.Errorf("failed to read environment: %w", err)
	}
	return nil
}

// Usage returns a description of the environment variables
func Usage() string {
	var cfg Config
	usage, err := cleanenv.GetDescription(&cfg, nil)
	if err != nil {
		return ""
	}
	return usage
}

func (c *Config) applyDefaults() {
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8080
	}
	if c.HTTP.Address == "" {
		c.HTTP.Address = "0.0.0.0"
	}
	if c.HTTP.ReadTimeout == 0 {
		c.HTTP.ReadTimeout = 60
	}
	if c.HTTP.WriteTimeout == 0 {
		c.HTTP.WriteTimeout = 180
	}
	if c.Audio.SampleRate == 0 {
		c.Audio.SampleRate = 16000
	}
	if c.Audio.ChunkDuration == 0 {
		c.Audio.ChunkDuration = 120
	}
	if c.Audio.MaxAudioSizeMB == 0 {
		c.Audio.MaxAudioSizeMB = 25
	}
	if c.Transcription.Provider == "" {
		c.Transcription.Provider = "gemini"
	}
	if c.Transcription.MaxConcurrent == 0 {
		c.Transcription.MaxConcurrent = 10
	}
	if c.Pipeline.RetryDelayMS == 0 {
		c.Pipeline.RetryDelayMS = 1000
	}
	if c.Billing.CreditsPerMinute == 0 {
		c.Billing.CreditsPerMinute = 1
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "memory"
	}
	if c.Session.Timeout == 0 {
		c.Session.Timeout = 1800
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Transcription.Validate(); err != nil {
		return fmt.Errorf("transcription config: %w", err)
	}

	if err := c.Pipeline.Validate(); err != nil {
		return fmt.Errorf("pipeline config: %w", err)
	}

	if c.Billing.CreditsPerMinute <= 0 || math.IsNaN(c.Billing.CreditsPerMinute) {
		return fmt.Errorf("billing config: credits_per_minute must be positive, got %f", c.Billing.CreditsPerMinute)
	}

	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database config: %w", err)
	}

	if c.Session.Timeout < 1 {
		return fmt.Errorf("session config: timeout must be at least 1 second, got %d", c.Session.Timeout)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Port < 1 || h.Port > 65535 {
		return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
	}

	if h.Address == "" {
		return fmt.Errorf("http address cannot be empty")
	}

	if h.ReadTimeout < 1 || h.WriteTimeout < 1 {
		return fmt.Errorf("read_timeout and write_timeout must be at least 1 second")
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.SampleRate < 8000 || a.SampleRate > 48000 {
		return fmt.Errorf("sample_rate must be between 8000 and 48000 Hz, got %d", a.SampleRate)
	}

	if a.ChunkDuration < 1 || a.ChunkDuration > 600 {
		return fmt.Errorf("chunk_duration must be between 1 and 600 seconds, got %f", a.ChunkDuration)
	}

	if a.MaxAudioSizeMB < 1 {
		return fmt.Errorf("max_audio_size_mb must be at least 1, got %d", a.MaxAudioSizeMB)
	}

	return nil
}

// Validate validates transcription configuration
func (t *TranscriptionConfig) Validate() error {
	switch t.Provider {
	case "gemini", "speech-to-text", "whisper":
	default:
		return fmt.Errorf("provider must be one of [gemini, speech-to-text, whisper], got '%s'", t.Provider)
	}

	if t.ProviderAPIKey() == "" {
		return fmt.Errorf("api key for provider '%s' cannot be empty", t.Provider)
	}

	if t.Timeout < 0 {
		return fmt.Errorf("timeout cannot be negative, got %d", t.Timeout)
	}

	if t.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", t.MaxConcurrent)
	}

	return nil
}

// ProviderAPIKey returns the key used by the selected provider
func (t *TranscriptionConfig) ProviderAPIKey() string {
	if t.Provider == "whisper" {
		return t.OpenAIAPIKey
	}
	return t.APIKey
}

// Validate validates pipeline configuration
func (p *PipelineConfig) Validate() error {
	if p.MaxRetries < 0 || p.MaxRetries > 10 {
		return fmt.Errorf("max_retries must be between 0 and 10, got %d", p.MaxRetries)
	}

	if p.RetryDelayMS < 0 {
		return fmt.Errorf("retry_delay_ms cannot be negative, got %d", p.RetryDelayMS)
	}

	return nil
}

// Validate validates database configuration
func (d *DatabaseConfig) Validate() error {
	switch d.Driver {
	case "memory":
	case "postgres":
		if d.URL == "" {
			return fmt.Errorf("url cannot be empty for the postgres driver")
		}
	default:
		return fmt.Errorf("driver must be 'memory' or 'postgres', got '%s'", d.Driver)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// GetReadTimeout returns the HTTP read timeout as a time.Duration
func (h *HTTPConfig) GetReadTimeout() time.Duration {
	return time.Duration(h.ReadTimeout) * time.Second
}

// GetWriteTimeout returns the HTTP write timeout as a time.Duration
func (h *HTTPConfig) GetWriteTimeout() time.Duration {
	return time.Duration(h.WriteTimeout) * time.Second
}

// GetChunkDuration returns the chunk length as a time.Duration
func (a *AudioConfig) GetChunkDuration() time.Duration {
	return time.Duration(a.ChunkDuration * float64(time.Second))
}

// GetMaxAudioBytes returns the upload limit in bytes
func (a *AudioConfig) GetMaxAudioBytes() int64 {
	return int64(a.MaxAudioSizeMB) * 1024 * 1024
}

// GetTimeoutDuration returns the per-call timeout, zero when it should scale with chunk length
func (t *TranscriptionConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(t.Timeout) * time.Second
}

// GetRetryDelay returns the base retry delay as a time.Duration
func (p *PipelineConfig) GetRetryDelay() time.Duration {
	return time.Duration(p.RetryDelayMS) * time.Millisecond
}

// GetConnMaxLifetime returns the connection lifetime as a time.Duration
func (d *DatabaseConfig) GetConnMaxLifetime() time.Duration {
	return time.Duration(d.ConnMaxLifetime) * time.Second
}

// GetTokenTTL returns the token lifetime as a time.Duration
func (a *AuthConfig) GetTokenTTL() time.Duration {
	return time.Duration(a.TokenTTL) * time.Hour
}

// GetTimeoutDuration returns the session retention as a time.Duration
func (s *SessionConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(s.Timeout) * time.Second
}
