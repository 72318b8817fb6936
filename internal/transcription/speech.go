package transcription

import (
	"context"
	"net/http"
	"net/url"
	"strings"
)

const defaultSpeechBaseURL = "https://speech.googleapis.com"

// Speech transcribes through the dedicated speech recognition API
type Speech struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

type speechConfig struct {
	Encoding                   string `json:"encoding"`
	SampleRateHertz            int    `json:"sampleRateHertz"`
	LanguageCode               string `json:"languageCode"`
	EnableAutomaticPunctuation bool   `json:"enableAutomaticPunctuation"`
}

type speechAudio struct {
	Content string `json:"content"`
}

type speechRequest struct {
	Config speechConfig `json:"config"`
	Audio  speechAudio  `json:"audio"`
}

type speechResponse struct {
	Results []struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"results"`
}

// NewSpeech creates a speech recognition backend. Empty baseURL uses the default.
func NewSpeech(apiKey, baseURL string, httpClient *http.Client) *Speech {
	if baseURL == "" {
		baseURL = defaultSpeechBaseURL
	}
	if httpClient == nil {
		httpClient = newHTTPClient()
	}
	return &Speech{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// Name returns the provider name
func (s *Speech) Name() string { return ProviderSpeech }

// Transcribe sends LINEAR16 audio tagged si-LK and joins the top alternative
// of every result with a single space.
func (s *Speech) Transcribe(ctx context.Context, req Request) (string, error) {
	sampleRate := req.SampleRate
	if sampleRate <= 0 {
		sampleRate = 16000
	}

	body := speechRequest{
		Config: speechConfig{
			Encoding:                   "LINEAR16",
			SampleRateHertz:            sampleRate,
			LanguageCode:               "si-LK",
			EnableAutomaticPunctuation: true,
		},
		Audio: speechAudio{Content: req.AudioBase64},
	}

	endpoint := s.baseURL + "/v1/speech:recognize?key=" + url.QueryEscape(s.apiKey)

	var resp speechResponse
	if err := postJSON(ctx, s.httpClient, ProviderSpeech, endpoint, body, &resp); err != nil {
		return "", err
	}

	if len(resp.Results) == 0 {
		return "", nil
	}

	parts := make([]string, 0, len(resp.Results))
	for _, result := range resp.Results {
		transcript := ""
		if len(result.Alternatives) > 0 {
			transcript = result.Alternatives[0].Transcript
		}
		parts = append(parts, transcript)
	}
	return strings.Join(parts, " "), nil
}
