package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const elevenLabsBaseURL = "https://api.elevenlabs.io"

// ElevenLabsProvider implements the TTS Provider interface using the
// ElevenLabs API.
type ElevenLabsProvider struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewElevenLabs creates a new ElevenLabs TTS provider.
func NewElevenLabs(apiKey string) *ElevenLabsProvider {
	return &ElevenLabsProvider{
		apiKey:     strings.TrimSpace(apiKey),
		baseURL:    elevenLabsBaseURL,
		httpClient: &http.Client{},
	}
}

// NewElevenLabsWithClient creates an ElevenLabs TTS provider with a
// custom HTTP client and base URL; an empty baseURL keeps the default.
func NewElevenLabsWithClient(apiKey, baseURL string, client *http.Client) *ElevenLabsProvider {
	if client == nil {
		client = &http.Client{}
	}
	if baseURL == "" {
		baseURL = elevenLabsBaseURL
	}
	return &ElevenLabsProvider{
		apiKey:     strings.TrimSpace(apiKey),
		baseURL:    baseURL,
		httpClient: client,
	}
}

// Name returns the provider identifier.
func (e *ElevenLabsProvider) Name() string {
	return "elevenlabs"
}

type elevenLabsTTSRequest struct {
	Text          string                   `json:"text"`
	ModelID       string                   `json:"model_id,omitempty"`
	LanguageCode  string                   `json:"language_code,omitempty"`
	VoiceSettings *elevenLabsVoiceSettings `json:"voice_settings,omitempty"`
}

type elevenLabsVoiceSettings struct {
	Speed float64 `json:"speed,omitempty"`
}

// Synthesize converts text to audio with the ElevenLabs HTTP endpoint.
func (e *ElevenLabsProvider) Synthesize(ctx context.Context, text string, opts SynthesizeOptions) (*Synthesis, error) {
	if opts.Voice == "" {
		return nil, fmt.Errorf("elevenlabs: voice id required")
	}

	reqBody := elevenLabsTTSRequest{
		Text:         text,
		ModelID:      "eleven_turbo_v2_5",
		LanguageCode: opts.Language,
	}
	if opts.Speed != 0 {
		reqBody.VoiceSettings = &elevenLabsVoiceSettings{Speed: opts.Speed}
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1/text-to-speech/%s", e.baseURL, url.PathEscape(opts.Voice))
	if f := elevenLabsOutputFormat(opts); f != "" {
		endpoint += "?output_format=" + f
	}

	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("xi-api-key", e.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("elevenlabs error %d: %s", resp.StatusCode, string(errBody))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}

	return &Synthesis{
		Audio:  audio,
		Format: getFormat(opts.Format),
	}, nil
}

func elevenLabsOutputFormat(opts SynthesizeOptions) string {
	rate := opts.SampleRate
	if rate == 0 {
		rate = 24000
	}
	switch opts.Format {
	case "mp3":
		return fmt.Sprintf("mp3_%d_128", rate)
	case "wav", "pcm", "":
		return fmt.Sprintf("pcm_%d", rate)
	}
	return ""
}
