package transcription

import (
	"context"
	"net/http"
	"net/url"
	"strings"
)

const (
	// DefaultGeminiModel is used when no model override is configured
	DefaultGeminiModel = "gemini-2.0-flash-exp"

	defaultGeminiBaseURL = "https://generativelanguage.googleapis.com"

	geminiPrompt = "Please transcribe the following audio recording into Sinhala text accurately. " +
		"Do not add any interpretations or summaries, just provide the exact transcription of the spoken Sinhala words."
)

// Gemini transcribes through a multimodal generateContent call with a fixed
// verbatim-transcription prompt and low-temperature decoding.
type Gemini struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

type geminiInlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiPart struct {
	InlineData *geminiInlineData `json:"inline_data,omitempty"`
	Text       string            `json:"text,omitempty"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"topP"`
	TopK        int     `json:"topK"`
}

type geminiRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

// NewGemini creates a Gemini backend. Empty model and baseURL use the defaults.
func NewGemini(apiKey, model, baseURL string, httpClient *http.Client) *Gemini {
	if model == "" {
		model = DefaultGeminiModel
	}
	if baseURL == "" {
		baseURL = defaultGeminiBaseURL
	}
	if httpClient == nil {
		httpClient = newHTTPClient()
	}
	return &Gemini{
		apiKey:     apiKey,
		model:      model,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// Name returns the provider name
func (g *Gemini) Name() string { return ProviderGemini }

// Transcribe sends the audio inline with the transcription prompt
func (g *Gemini) Transcribe(ctx context.Context, req Request) (string, error) {
	mimeType := req.MimeType
	if mimeType == "" {
		mimeType = "audio/wav"
	}

	body := geminiRequest{
		Contents: []geminiContent{{
			Parts: []geminiPart{
				{InlineData: &geminiInlineData{MimeType: mimeType, Data: req.AudioBase64}},
				{Text: geminiPrompt},
			},
		}},
		GenerationConfig: geminiGenerationConfig{
			Temperature: 0.1,
			TopP:        0.8,
			TopK:        40,
		},
	}

	endpoint := g.baseURL + "/v1beta/models/" + url.PathEscape(g.model) + ":generateContent?key=" + url.QueryEscape(g.apiKey)

	var resp geminiResponse
	if err := postJSON(ctx, g.httpClient, ProviderGemini, endpoint, body, &resp); err != nil {
		return "", err
	}

	if len(resp.Candidates) == 0 {
		return "", nil
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}
	return strings.TrimSpace(text.String()), nil
}
