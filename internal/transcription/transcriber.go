package transcription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/chamarasanjeewadev/sinhala-translator/internal/metrics"
)

// Provider names accepted by New
const (
	ProviderGemini  = "gemini"
	ProviderSpeech  = "speech-to-text"
	ProviderWhisper = "whisper"
)

const referenceChunkDuration = 120 * time.Second

// Request is one segment to transcribe
type Request struct {
	AudioBase64 string
	MimeType    string
	SampleRate  int
}

// Transcriber turns one base64 audio segment into best-effort text.
// An empty string with a nil error means the provider heard nothing.
type Transcriber interface {
	Name() string
	Transcribe(ctx context.Context, req Request) (string, error)
}

// TimeoutError is returned when a call exceeds its per-call deadline
type TimeoutError struct {
	Provider string
	Timeout  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s transcription timed out after %s", e.Provider, e.Timeout)
}

// ProviderError is returned for non-2xx responses and transport failures.
// StatusCode is zero for transport failures.
type ProviderError struct {
	Provider   string
	StatusCode int
	Detail     string
	Err        error
}

func (e *ProviderError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Detail != "":
		return fmt.Sprintf("%s HTTP error %d: %s", e.Provider, e.StatusCode, e.Detail)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s HTTP error %d", e.Provider, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("%s request failed: %v", e.Provider, e.Err)
	default:
		return fmt.Sprintf("%s request failed: %s", e.Provider, e.Detail)
	}
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is a per-chunk condition worth another attempt
func IsRetryable(err error) bool {
	var te *TimeoutError
	var pe *ProviderError
	return errors.As(err, &te) || errors.As(err, &pe)
}

// Config contains transcription client configuration
type Config struct {
	Provider      string
	APIKey        string
	Model         string
	BaseURL       string
	Timeout       time.Duration // overrides the provider default when > 0
	ChunkDuration time.Duration // scales the provider default
	MaxConcurrent int
}

// DefaultTimeout returns the per-call timeout for provider scaled to chunkDuration
func DefaultTimeout(provider string, chunkDuration time.Duration) time.Duration {
	base := 90 * time.Second
	if provider == ProviderGemini {
		base = 60 * time.Second
	}
	if chunkDuration <= 0 || chunkDuration == referenceChunkDuration {
		return base
	}
	scaled := time.Duration(float64(base) * float64(chunkDuration) / float64(referenceChunkDuration))
	if scaled < 10*time.Second {
		scaled = 10 * time.Second
	}
	return scaled
}

// Client wraps a backend with a per-call deadline, a concurrency limit and statistics
type Client struct {
	backend   Transcriber
	timeout   time.Duration
	semaphore chan struct{}
	logger    *slog.Logger
	metrics   *metrics.Metrics

	// Statistics
	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	timeouts        uint64
	avgResponseTime time.Duration

	mu sync.RWMutex
}

// ClientStats represents client statistics
type ClientStats struct {
	Provider        string        `json:"provider"`
	TotalRequests   uint64        `json:"total_requests"`
	SuccessRequests uint64        `json:"success_requests"`
	FailedRequests  uint64        `json:"failed_requests"`
	Timeouts        uint64        `json:"timeouts"`
	SuccessRate     float64       `json:"success_rate"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	ActiveRequests  int           `json:"active_requests"`
}

// New selects the backend named by config.Provider and wraps it in a Client
func New(config Config, logger *slog.Logger, m *metrics.Metrics) (*Client, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("API key cannot be empty")
	}

	httpClient := newHTTPClient()

	var backend Transcriber
	switch config.Provider {
	case ProviderGemini, "":
		config.Provider = ProviderGemini
		backend = NewGemini(config.APIKey, config.Model, config.BaseURL, httpClient)
	case ProviderSpeech:
		backend = NewSpeech(config.APIKey, config.BaseURL, httpClient)
	case ProviderWhisper:
		backend = NewWhisper(config.APIKey, config.Model, config.BaseURL, httpClient)
	default:
		return nil, fmt.Errorf("unknown transcription provider %q", config.Provider)
	}

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout(config.Provider, config.ChunkDuration)
	}

	return NewClient(backend, timeout, config.MaxConcurrent, logger, m), nil
}

// NewClient wraps an existing backend
func NewClient(backend Transcriber, timeout time.Duration, maxConcurrent int, logger *slog.Logger, m *metrics.Metrics) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout(backend.Name(), 0)
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 10
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		backend:   backend,
		timeout:   timeout,
		semaphore: make(chan struct{}, maxConcurrent),
		logger:    logger.With(slog.String("provider", backend.Name())),
		metrics:   m,
	}
}

// Name returns the active provider
func (c *Client) Name() string {
	return c.backend.Name()
}

// Timeout returns the per-call deadline
func (c *Client) Timeout() time.Duration {
	return c.timeout
}

// Transcribe runs one backend call under the per-call deadline. The deadline
// cancels the in-flight request; expiry is reported as *TimeoutError while
// cancellation of ctx itself is returned as ctx.Err().
func (c *Client) Transcribe(ctx context.Context, req Request) (string, error) {
	select {
	case c.semaphore <- struct{}{}:
		defer func() { <-c.semaphore }()
	case <-ctx.Done():
		return "", ctx.Err()
	}

	provider := c.backend.Name()
	startTime := time.Now()
	c.incrementTotalRequests()
	c.metrics.RecordTranscriptionRequest(provider)

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	text, err := c.backend.Transcribe(callCtx, req)
	elapsed := time.Since(startTime)

	if err != nil {
		switch {
		case ctx.Err() != nil:
			err = ctx.Err()
		case errors.Is(callCtx.Err(), context.DeadlineExceeded):
			err = &TimeoutError{Provider: provider, Timeout: c.timeout}
		default:
			var pe *ProviderError
			if !errors.As(err, &pe) {
				err = &ProviderError{Provider: provider, Err: err}
			}
		}

		c.recordFailure(err)
		c.metrics.RecordTranscriptionFailure(provider, errorType(err), elapsed.Seconds())
		c.logger.Warn("Transcription request failed",
			slog.Duration("elapsed", elapsed),
			slog.String("error", err.Error()))
		return "", err
	}

	c.incrementSuccessRequests()
	c.updateAvgResponseTime(elapsed)
	c.metrics.RecordTranscriptionSuccess(provider, elapsed.Seconds())
	c.logger.Debug("Transcription request completed",
		slog.Duration("elapsed", elapsed),
		slog.Int("text_length", len(text)))
	return text, nil
}

func errorType(err error) string {
	var te *TimeoutError
	var pe *ProviderError
	switch {
	case errors.As(err, &te):
		return "timeout"
	case errors.As(err, &pe) && pe.StatusCode != 0:
		return fmt.Sprintf("http_%d", pe.StatusCode)
	case errors.As(err, &pe):
		return "transport"
	default:
		return "cancelled"
	}
}

func newHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// Statistics methods
func (c *Client) incrementTotalRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRequests++
}

func (c *Client) incrementSuccessRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.successRequests++
}

func (c *Client) recordFailure(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failedRequests++
	var te *TimeoutError
	if errors.As(err, &te) {
		c.timeouts++
	}
}

func (c *Client) updateAvgResponseTime(responseTime time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Simple moving average
	if c.avgResponseTime == 0 {
		c.avgResponseTime = responseTime
	} else {
		c.avgResponseTime = (c.avgResponseTime + responseTime) / 2
	}
}

// GetStats returns current client statistics
func (c *Client) GetStats() ClientStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	successRate := float64(0)
	if c.totalRequests > 0 {
		successRate = float64(c.successRequests) / float64(c.totalRequests) * 100
	}

	return ClientStats{
		Provider:        c.backend.Name(),
		TotalRequests:   c.totalRequests,
		SuccessRequests: c.successRequests,
		FailedRequests:  c.failedRequests,
		Timeouts:        c.timeouts,
		SuccessRate:     successRate,
		AvgResponseTime: c.avgResponseTime,
		ActiveRequests:  len(c.semaphore),
	}
}

// Close waits for all active requests to complete
func (c *Client) Close() error {
	for i := 0; i < cap(c.semaphore); i++ {
		c.semaphore <- struct{}{}
	}
	return nil
}
