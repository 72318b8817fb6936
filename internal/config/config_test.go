package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validConfig() Config {
	cfg := Default()
	cfg.Transcription.APIKey = "test-key"
	return *cfg
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(c *Config)
		expectError bool
		errorMsg    string
	}{
		{
			name:   "valid configuration",
			mutate: func(c *Config) {},
		},
		{
			name:        "invalid http port",
			mutate:      func(c *Config) { c.HTTP.Port = 70000 },
			expectError: true,
			errorMsg:    "http port must be between 1 and 65535",
		},
		{
			name:        "sample rate out of range",
			mutate:      func(c *Config) { c.Audio.SampleRate = 4000 },
			expectError: true,
			errorMsg:    "sample_rate must be between",
		},
		{
			name:        "zero chunk duration",
			mutate:      func(c *Config) { c.Audio.ChunkDuration = 0 },
			expectError: true,
			errorMsg:    "chunk_duration",
		},
		{
			name:        "unknown provider",
			mutate:      func(c *Config) { c.Transcription.Provider = "azure" },
			expectError: true,
			errorMsg:    "provider must be one of",
		},
		{
			name:        "whisper without openai key",
			mutate:      func(c *Config) { c.Transcription.Provider = "whisper" },
			expectError: true,
			errorMsg:    "api key for provider 'whisper'",
		},
		{
			name: "whisper with openai key",
			mutate: func(c *Config) {
				c.Transcription.Provider = "whisper"
				c.Transcription.OpenAIAPIKey = "sk-test"
			},
		},
		{
			name:        "negative retries",
			mutate:      func(c *Config) { c.Pipeline.MaxRetries = -1 },
			expectError: true,
			errorMsg:    "max_retries",
		},
		{
			name:   "zero retries allowed",
			mutate: func(c *Config) { c.Pipeline.MaxRetries = 0 },
		},
		{
			name:        "postgres without url",
			mutate:      func(c *Config) { c.Database.Driver = "postgres" },
			expectError: true,
			errorMsg:    "url cannot be empty",
		},
		{
			name:        "unknown driver",
			mutate:      func(c *Config) { c.Database.Driver = "sqlite" },
			expectError: true,
			errorMsg:    "driver must be",
		},
		{
			name:        "invalid log level",
			mutate:      func(c *Config) { c.Logging.Level = "verbose" },
			expectError: true,
			errorMsg:    "level must be one of",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if tt.errorMsg != "" && !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
			} else if err != nil {
				t.Errorf("Expected no error but got: %v", err)
			}
		})
	}
}

func TestConfigLoad(t *testing.T) {
	tempDir := t.TempDir()

	tests := []struct {
		name        string
		configYAML  string
		expectError bool
		errorMsg    string
	}{
		{
			name: "valid config file",
			configYAML: `
http:
  port: 9090
  address: "127.0.0.1"
audio:
  sample_rate: 16000
  chunk_duration: 120
  max_audio_size_mb: 25
transcription:
  provider: "speech-to-text"
  api_key: "test-key"
pipeline:
  max_retries: 2
  retry_delay_ms: 1000
logging:
  level: "debug"
  format: "text"
`,
		},
		{
			name: "missing sections keep defaults",
			configYAML: `
transcription:
  api_key: "test-key"
`,
		},
		{
			name: "invalid YAML syntax",
			configYAML: `
http:
  port: invalid_number
`,
			expectError: true,
			errorMsg:    "failed to parse",
		},
		{
			name: "missing api key",
			configYAML: `
transcription:
  provider: "gemini"
`,
			expectError: true,
			errorMsg:    "api key for provider 'gemini' cannot be empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := filepath.Join(tempDir, "config.yaml")
			if err := os.WriteFile(configPath, []byte(tt.configYAML), 0644); err != nil {
				t.Fatalf("Failed to create test config file: %v", err)
			}

			config, err := Load(configPath)

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if tt.errorMsg != "" && !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
			} else {
				if err != nil {
					t.Errorf("Expected no error but got: %v", err)
				} else if config == nil {
					t.Errorf("Expected config to be loaded but got nil")
				}
			}
		})
	}
}

func TestLoadDefaults(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	os.WriteFile(configPath, []byte("transcription:\n  api_key: k\n"), 0644)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Audio.SampleRate != 16000 {
		t.Errorf("Expected sample rate 16000, got %d", cfg.Audio.SampleRate)
	}
	if cfg.Audio.GetChunkDuration() != 120*time.Second {
		t.Errorf("Expected 120s chunks, got %v", cfg.Audio.GetChunkDuration())
	}
	if cfg.Pipeline.MaxRetries != 2 {
		t.Errorf("Expected 2 retries, got %d", cfg.Pipeline.MaxRetries)
	}
	if cfg.Pipeline.GetRetryDelay() != time.Second {
		t.Errorf("Expected 1s retry delay, got %v", cfg.Pipeline.GetRetryDelay())
	}
	if cfg.Audio.GetMaxAudioBytes() != 25*1024*1024 {
		t.Errorf("Expected 25MB limit, got %d", cfg.Audio.GetMaxAudioBytes())
	}
	if cfg.Transcription.Provider != "gemini" {
		t.Errorf("Expected gemini provider, got %s", cfg.Transcription.Provider)
	}
	if cfg.Database.Driver != "memory" {
		t.Errorf("Expected memory driver, got %s", cfg.Database.Driver)
	}
}

func TestEnvOverrides(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	os.WriteFile(configPath, []byte(`
transcription:
  provider: "gemini"
  api_key: "from-file"
pipeline:
  max_retries: 2
`), 0644)

	t.Setenv("TRANSCRIPTION_PROVIDER", "speech-to-text")
	t.Setenv("GOOGLE_CLOUD_API_KEY", "from-env")
	t.Setenv("MAX_RETRIES", "4")
	t.Setenv("CHUNK_DURATION_SECONDS", "30")
	t.Setenv("GEMINI_MODEL", "gemini-test")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Transcription.Provider != "speech-to-text" {
		t.Errorf("Expected provider from env, got %s", cfg.Transcription.Provider)
	}
	if cfg.Transcription.APIKey != "from-env" {
		t.Errorf("Expected api key from env, got %s", cfg.Transcription.APIKey)
	}
	if cfg.Pipeline.MaxRetries != 4 {
		t.Errorf("Expected 4 retries, got %d", cfg.Pipeline.MaxRetries)
	}
	if cfg.Audio.ChunkDuration != 30 {
		t.Errorf("Expected 30s chunks, got %f", cfg.Audio.ChunkDuration)
	}
	if cfg.Transcription.Model != "gemini-test" {
		t.Errorf("Expected model from GEMINI_MODEL, got %s", cfg.Transcription.Model)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	os.WriteFile(envPath, []byte("SINHALA_DOTENV_TEST=loaded\n"), 0644)
	t.Cleanup(func() { os.Unsetenv("SINHALA_DOTENV_TEST") })

	if err := LoadDotEnv(filepath.Join(dir, "missing.env"), envPath); err != nil {
		t.Fatalf("LoadDotEnv failed: %v", err)
	}
	if os.Getenv("SINHALA_DOTENV_TEST") != "loaded" {
		t.Errorf("Expected variable from .env, got %q", os.Getenv("SINHALA_DOTENV_TEST"))
	}
}

func TestConfigLoadNonexistentFile(t *testing.T) {
	_, err := Load("nonexistent.yaml")
	if err == nil {
		t.Fatalf("Expected error for nonexistent file but got none")
	}
	if !strings.Contains(err.Error(), "failed to read config file") {
		t.Errorf("Expected error about reading file, got: %v", err)
	}
}

func TestDurationHelpers(t *testing.T) {
	audio := AudioConfig{ChunkDuration: 1.5}
	if audio.GetChunkDuration() != 1500*time.Millisecond {
		t.Errorf("Expected 1.5 seconds, got %v", audio.GetChunkDuration())
	}

	transcription := TranscriptionConfig{Timeout: 30}
	if transcription.GetTimeoutDuration() != 30*time.Second {
		t.Errorf("Expected 30 seconds, got %v", transcription.GetTimeoutDuration())
	}

	session := SessionConfig{Timeout: 60}
	if session.GetTimeoutDuration() != time.Minute {
		t.Errorf("Expected 1 minute, got %v", session.GetTimeoutDuration())
	}

	auth := AuthConfig{TokenTTL: 24}
	if auth.GetTokenTTL() != 24*time.Hour {
		t.Errorf("Expected 24 hours, got %v", auth.GetTokenTTL())
	}
}

func TestUsageListsEnvironment(t *testing.T) {
	usage := Usage()
	for _, name := range []string{"TRANSCRIPTION_PROVIDER", "GOOGLE_CLOUD_API_KEY", "DATABASE_URL"} {
		if !strings.Contains(usage, name) {
			t.Errorf("Expected usage to mention %s", name)
		}
	}
}
