package transcription

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// DefaultWhisperModel is used when no model override is configured
const DefaultWhisperModel = openai.Whisper1

// Whisper transcribes through an OpenAI-compatible audio transcription endpoint
type Whisper struct {
	client *openai.Client
	model  string
}

// NewWhisper creates a Whisper backend. baseURL may point at any
// OpenAI-compatible server and must include the /v1 prefix.
func NewWhisper(apiKey, model, baseURL string, httpClient *http.Client) *Whisper {
	if model == "" {
		model = DefaultWhisperModel
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	if httpClient != nil {
		cfg.HTTPClient = httpClient
	}

	return &Whisper{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

// Name returns the provider name
func (w *Whisper) Name() string { return ProviderWhisper }

// Transcribe uploads the decoded segment with the language pinned to Sinhala
func (w *Whisper) Transcribe(ctx context.Context, req Request) (string, error) {
	audio, err := base64.StdEncoding.DecodeString(req.AudioBase64)
	if err != nil {
		return "", fmt.Errorf("invalid base64 audio: %w", err)
	}

	resp, err := w.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:       w.model,
		FilePath:    "chunk.wav",
		Reader:      bytes.NewReader(audio),
		Language:    "si",
		Temperature: 0.1,
		Format:      openai.AudioResponseFormatJSON,
	})
	if err != nil {
		return "", whisperError(err)
	}

	return strings.TrimSpace(resp.Text), nil
}

func whisperError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &ProviderError{Provider: ProviderWhisper, StatusCode: apiErr.HTTPStatusCode, Detail: apiErr.Message, Err: err}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &ProviderError{Provider: ProviderWhisper, StatusCode: reqErr.HTTPStatusCode, Detail: errorDetail([]byte(reqErr.Error())), Err: err}
	}

	return &ProviderError{Provider: ProviderWhisper, Err: err}
}
