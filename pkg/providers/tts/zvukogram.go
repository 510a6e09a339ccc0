package tts

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/lokutor-ai/voicebridge/pkg/audio"
	"github.com/lokutor-ai/voicebridge/pkg/providers"
)

// Zvukogram returns a WAV file URL rather than raw PCM: synthesize posts a
// form request, gets back a JSON pointer to a hosted WAV, downloads it and
// unwraps the PCM. Long text is split into <=900-character chunks at
// sentence boundaries before synthesis and the resulting PCM is
// concatenated, since the vendor rejects longer single requests.
type Zvukogram struct {
	token      string
	email      string
	voice      string
	speed      float64
	pitch      int
	sampleRate int
	apiURL     string
	client     *http.Client
}

func NewZvukogram(token, email, voice string) *Zvukogram {
	if voice == "" {
		voice = "Ada AM"
	}
	return &Zvukogram{
		token:      token,
		email:      email,
		voice:      voice,
		speed:      1.0,
		sampleRate: 8000,
		apiURL:     zvukogramURL,
		client:     &http.Client{Timeout: synthesizeTimeout},
	}
}

const zvukogramURL = "https://zvukogram.com/index.php?r=api/text"

func (z *Zvukogram) Name() string { return "zvukogram" }

func (z *Zvukogram) Close() error { return nil }

func (z *Zvukogram) Synthesize(ctx context.Context, text string) (providers.TTSResult, error) {
	if strings.TrimSpace(text) == "" {
		return providers.TTSResult{SampleRate: z.sampleRate}, nil
	}

	chunks := providers.SplitLongText(text, 900)
	var all []byte
	for _, chunk := range chunks {
		pcm, err := z.synthesizeChunk(ctx, chunk)
		if err != nil {
			return providers.TTSResult{}, err
		}
		all = append(all, pcm...)
	}
	if len(all) == 0 {
		return providers.TTSResult{}, fmt.Errorf("%w: zvukogram returned no audio", providers.ErrProviderSemantic)
	}

	return providers.TTSResult{Audio: all, SampleRate: z.sampleRate}, nil
}

func (z *Zvukogram) synthesizeChunk(ctx context.Context, text string) ([]byte, error) {
	form := url.Values{
		"token":       {z.token},
		"email":       {z.email},
		"voice":       {z.voice},
		"text":        {text},
		"format":      {"wav"},
		"speed":       {strconv.FormatFloat(z.speed, 'f', -1, 64)},
		"pitch":       {strconv.Itoa(z.pitch)},
		"sample_rate": {strconv.Itoa(z.sampleRate)},
		"channels":    {"1"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, z.apiURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, providers.Wrap(z.Name(), err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := z.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", providers.ErrProviderTransport, providers.Wrap(z.Name(), err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: zvukogram status %d: %s", providers.ErrProviderTransport, resp.StatusCode, string(body))
	}

	var result struct {
		Status  int    `json:"status"`
		Error   string `json:"error"`
		File    string `json:"file"`
		Cost    int    `json:"cost"`
		Balance any    `json:"balans"`
		Duration any   `json:"duration"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: %v", providers.ErrProviderSemantic, err)
	}
	if result.Status != 1 {
		return nil, fmt.Errorf("%w: zvukogram api error: %s", providers.ErrProviderSemantic, result.Error)
	}
	if result.File == "" {
		return nil, fmt.Errorf("%w: zvukogram: no file url in response", providers.ErrProviderSemantic)
	}

	audioReq, err := http.NewRequestWithContext(ctx, http.MethodGet, result.File, nil)
	if err != nil {
		return nil, providers.Wrap(z.Name(), err)
	}
	audioResp, err := z.client.Do(audioReq)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to download audio: %v", providers.ErrProviderTransport, err)
	}
	defer audioResp.Body.Close()
	if audioResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: zvukogram audio download status %d", providers.ErrProviderTransport, audioResp.StatusCode)
	}

	pcm, _, err := audio.ReadWav(audioResp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: wav parse error: %v", providers.ErrProviderSemantic, err)
	}
	return pcm, nil
}

// StreamSynthesize has no incremental endpoint; it synthesizes the whole
// chunk sequence and delivers the joined audio in a single callback
// invocation.
func (z *Zvukogram) StreamSynthesize(ctx context.Context, text string, onChunk providers.ChunkFunc) error {
	result, err := z.Synthesize(ctx, text)
	if err != nil {
		return err
	}
	if len(result.Audio) == 0 {
		return nil
	}
	return onChunk(result.Audio)
}
