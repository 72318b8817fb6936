// Package apiclient talks to a running transcription server over its JSON
// API. A Client satisfies pipeline.Remote, so a local pipeline can split
// audio on the caller's machine and bill each chunk against the server.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/chamarasanjeewadev/sinhala-translator/internal/billing"
	"github.com/chamarasanjeewadev/sinhala-translator/internal/pipeline"
	"github.com/chamarasanjeewadev/sinhala-translator/internal/storage"
)

// ErrUnauthorized is returned when the server rejects the token
var ErrUnauthorized = errors.New("unauthorized")

// APIError is a non-2xx answer the client has no special meaning for
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// Config configures the API client
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Client is a pipeline.Remote backed by the HTTP API
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

var _ pipeline.Remote = (*Client)(nil)

// New creates a new API client
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Minute
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		http:    &http.Client{Timeout: cfg.Timeout},
	}
}

// Estimate calls POST /api/transcribe/analyze
func (c *Client) Estimate(ctx context.Context, durationSeconds float64) (*pipeline.Estimate, error) {
	var est pipeline.Estimate
	body := map[string]float64{"durationSeconds": durationSeconds}
	if err := c.do(ctx, http.MethodPost, "/api/transcribe/analyze", body, &est); err != nil {
		return nil, err
	}
	return &est, nil
}

// TranscribeSegment calls POST /api/transcribe/chunk
func (c *Client) TranscribeSegment(ctx context.Context, audioBase64 string, chunkIndex, totalChunks int) (*pipeline.ChunkResult, error) {
	var res pipeline.ChunkResult
	body := map[string]interface{}{
		"audio":       audioBase64,
		"chunkIndex":  chunkIndex,
		"totalChunks": totalChunks,
	}
	if err := c.do(ctx, http.MethodPost, "/api/transcribe/chunk", body, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// PersistTranscript calls POST /api/transcribe/save
func (c *Client) PersistTranscript(ctx context.Context, req pipeline.SaveRequest) (string, error) {
	var res struct {
		TranscriptionID string `json:"transcriptionId"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/transcribe/save", req, &res); err != nil {
		return "", err
	}
	return res.TranscriptionID, nil
}

// FetchCreditBalance calls GET /api/credits
func (c *Client) FetchCreditBalance(ctx context.Context) (int, error) {
	var res struct {
		Credits int `json:"credits"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/credits", nil, &res); err != nil {
		return 0, err
	}
	return res.Credits, nil
}

// Transcripts calls GET /api/transcriptions
func (c *Client) Transcripts(ctx context.Context) ([]storage.Transcript, error) {
	var res struct {
		Transcriptions []storage.Transcript `json:"transcriptions"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/transcriptions", nil, &res); err != nil {
		return nil, err
	}
	return res.Transcriptions, nil
}

// Packages calls GET /api/credits/packages
func (c *Client) Packages(ctx context.Context) ([]billing.CreditPackage, error) {
	var res struct {
		Packages []billing.CreditPackage `json:"packages"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/credits/packages", nil, &res); err != nil {
		return nil, err
	}
	return res.Packages, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return pipeline.Permanent(fmt.Errorf("encode request: %w", err))
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return pipeline.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(resp.StatusCode, data)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// statusError maps an error response to the pipeline's error vocabulary
func statusError(status int, body []byte) error {
	var payload struct {
		Error string `json:"error"`
	}
	message := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
		message = payload.Error
	}
	if len(message) > 200 {
		message = message[:200]
	}

	apiErr := &APIError{StatusCode: status, Message: message}

	switch {
	case status == http.StatusPaymentRequired:
		return fmt.Errorf("%w: %s", pipeline.ErrInsufficientCredit, message)
	case status == http.StatusUnauthorized:
		return pipeline.Permanent(fmt.Errorf("%w: %s", ErrUnauthorized, message))
	case status >= 500 || status == http.StatusTooManyRequests || status == http.StatusRequestTimeout:
		return apiErr
	default:
		return pipeline.Permanent(apiErr)
	}
}
