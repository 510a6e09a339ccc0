package asr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/lokutor-ai/voicebridge/pkg/providers"
)

// Deepgram posts raw PCM directly (no WAV wrapping) with a rate-tagged
// content type.
type Deepgram struct {
	apiKey string
	url    string
	client *http.Client
}

func NewDeepgram(apiKey string) *Deepgram {
	return &Deepgram{
		apiKey: apiKey,
		url:    "https://api.deepgram.com/v1/listen",
		client: &http.Client{Timeout: timeout},
	}
}

func (d *Deepgram) Name() string { return "deepgram_asr" }

func (d *Deepgram) Close() error { return nil }

func (d *Deepgram) Recognize(ctx context.Context, pcm []byte, sampleRate int) (providers.ASRResult, error) {
	u, err := url.Parse(d.url)
	if err != nil {
		return providers.ASRResult{}, providers.Wrap(d.Name(), err)
	}
	if sampleRate == 0 {
		sampleRate = 8000
	}

	q := u.Query()
	q.Set("model", "nova-2")
	q.Set("smart_format", "true")
	q.Set("sample_rate", fmt.Sprintf("%d", sampleRate))
	q.Set("encoding", "linear16")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(pcm))
	if err != nil {
		return providers.ASRResult{}, providers.Wrap(d.Name(), err)
	}
	req.Header.Set("Authorization", "Token "+d.apiKey)
	req.Header.Set("Content-Type", fmt.Sprintf("audio/l16; rate=%d; channels=1", sampleRate))

	resp, err := d.client.Do(req)
	if err != nil {
		return providers.ASRResult{}, fmt.Errorf("%w: %v", providers.ErrProviderTransport, providers.Wrap(d.Name(), err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return providers.ASRResult{}, fmt.Errorf("%w: deepgram status %d: %s", providers.ErrProviderTransport, resp.StatusCode, string(respBody))
	}

	var result struct {
		Results struct {
			Channels []struct {
				Alternatives []struct {
					Transcript string  `json:"transcript"`
					Confidence float64 `json:"confidence"`
				} `json:"alternatives"`
			} `json:"channels"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return providers.ASRResult{}, fmt.Errorf("%w: %v", providers.ErrProviderSemantic, err)
	}

	if len(result.Results.Channels) == 0 || len(result.Results.Channels[0].Alternatives) == 0 {
		return providers.ASRResult{}, nil
	}

	alt := result.Results.Channels[0].Alternatives[0]
	return providers.ASRResult{Text: alt.Transcript, Confidence: alt.Confidence}, nil
}
