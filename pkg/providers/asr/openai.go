// Package asr contains vendor adapters implementing providers.ASR.
package asr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/lokutor-ai/voicebridge/pkg/audio"
	"github.com/lokutor-ai/voicebridge/pkg/providers"
)

// timeout is the transport budget for a single recognition call (spec §5: ASR ~10s).
const timeout = 10 * time.Second

// OpenAI talks to Whisper-compatible transcription endpoints
// (POST multipart WAV, Bearer auth). The same adapter also serves Groq's
// and any other Whisper-compatible endpoint via BaseURL.
type OpenAI struct {
	apiKey     string
	baseURL    string
	model      string
	sampleRate int
	client     *http.Client
}

// NewOpenAI builds an adapter targeting the real OpenAI transcription
// endpoint. Call SetBaseURL to point at a compatible vendor instead.
func NewOpenAI(apiKey, model string) *OpenAI {
	if model == "" {
		model = "whisper-1"
	}
	return &OpenAI{
		apiKey:     apiKey,
		baseURL:    "https://api.openai.com/v1/audio/transcriptions",
		model:      model,
		sampleRate: 8000,
		client:     &http.Client{Timeout: timeout},
	}
}

// SetBaseURL overrides the transcription endpoint (e.g. for Groq or a
// self-hosted Whisper-compatible server).
func (a *OpenAI) SetBaseURL(url string) { a.baseURL = url }

func (a *OpenAI) Name() string { return "openai_asr" }

func (a *OpenAI) Close() error { return nil }

func (a *OpenAI) Recognize(ctx context.Context, pcm []byte, sampleRate int) (providers.ASRResult, error) {
	if sampleRate == 0 {
		sampleRate = a.sampleRate
	}
	wavData := audio.NewWavBuffer(pcm, sampleRate)

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if err := writer.WriteField("model", a.model); err != nil {
		return providers.ASRResult{}, providers.Wrap(a.Name(), err)
	}
	part, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return providers.ASRResult{}, providers.Wrap(a.Name(), err)
	}
	if _, err := part.Write(wavData); err != nil {
		return providers.ASRResult{}, providers.Wrap(a.Name(), err)
	}
	writer.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL, body)
	if err != nil {
		return providers.ASRResult{}, providers.Wrap(a.Name(), err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return providers.ASRResult{}, fmt.Errorf("%w: %v", providers.ErrProviderTransport, providers.Wrap(a.Name(), err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return providers.ASRResult{}, fmt.Errorf("%w: %s (status %d)", providers.ErrProviderTransport, string(respBody), resp.StatusCode)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return providers.ASRResult{}, fmt.Errorf("%w: %v", providers.ErrProviderSemantic, err)
	}

	return providers.ASRResult{Text: result.Text, Confidence: 1, Language: ""}, nil
}
