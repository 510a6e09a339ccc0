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
	"time"

	"golang.org/x/net/proxy"

	"github.com/lokutor-ai/voicebridge/pkg/providers"
)

// synthesizeTimeout / streamTimeout are the transport budgets from spec §5
// (TTS ~15s, ~30s for streaming).
const synthesizeTimeout = 15 * time.Second
const streamTimeout = 30 * time.Second

// ElevenLabs returns raw PCM directly at 16kHz, avoiding a WAV round trip.
// It optionally dials through a SOCKS5 proxy (tts.proxy config key).
type ElevenLabs struct {
	apiKey     string
	baseURL    string
	voiceID    string
	modelID    string
	stability  float64
	similarity float64

	client *http.Client
}

func NewElevenLabs(apiKey, voiceID, modelID, proxyURL string) (*ElevenLabs, error) {
	if voiceID == "" {
		voiceID = "jAAHNNqlbAX9iWjJPEtE"
	}
	if modelID == "" {
		modelID = "eleven_multilingual_v2"
	}

	client := &http.Client{Timeout: synthesizeTimeout}
	if proxyURL != "" {
		transport, err := socks5Transport(proxyURL)
		if err != nil {
			return nil, fmt.Errorf("elevenlabs: %w", err)
		}
		client.Transport = transport
	}

	return &ElevenLabs{
		apiKey:     apiKey,
		baseURL:    elevenLabsBaseURL,
		voiceID:    voiceID,
		modelID:    modelID,
		stability:  0.5,
		similarity: 0.75,
		client:     client,
	}, nil
}

func socks5Transport(proxyURL string) (*http.Transport, error) {
	u, err := url.Parse(proxyURL)
	if err != nil {
		return nil, err
	}
	dialer, err := proxy.FromURL(u, proxy.Direct)
	if err != nil {
		return nil, err
	}
	return &http.Transport{Dial: dialer.Dial}, nil
}

func (e *ElevenLabs) Name() string { return "elevenlabs" }

func (e *ElevenLabs) Close() error { return nil }

const elevenLabsBaseURL = "https://api.elevenlabs.io/v1/text-to-speech"
const elevenLabsPCMRate = 16000

func (e *ElevenLabs) Synthesize(ctx context.Context, text string) (providers.TTSResult, error) {
	if strings.TrimSpace(text) == "" {
		return providers.TTSResult{SampleRate: elevenLabsPCMRate}, nil
	}

	payload := map[string]interface{}{
		"text":     text,
		"model_id": e.modelID,
		"voice_settings": map[string]interface{}{
			"stability":        e.stability,
			"similarity_boost": e.similarity,
			"use_speaker_boost": true,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return providers.TTSResult{}, providers.Wrap(e.Name(), err)
	}

	reqURL := fmt.Sprintf("%s/%s?output_format=pcm_16000&optimize_streaming_latency=3", e.baseURL, e.voiceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return providers.TTSResult{}, providers.Wrap(e.Name(), err)
	}
	req.Header.Set("xi-api-key", e.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/pcm")

	resp, err := e.client.Do(req)
	if err != nil {
		return providers.TTSResult{}, fmt.Errorf("%w: %v", providers.ErrProviderTransport, providers.Wrap(e.Name(), err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(resp.Body)
		return providers.TTSResult{}, fmt.Errorf("%w: elevenlabs status %d: %s", providers.ErrProviderTransport, resp.StatusCode, string(errBody))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return providers.TTSResult{}, fmt.Errorf("%w: %v", providers.ErrProviderTransport, err)
	}

	return providers.TTSResult{Audio: audio, SampleRate: elevenLabsPCMRate}, nil
}

func (e *ElevenLabs) StreamSynthesize(ctx context.Context, text string, onChunk providers.ChunkFunc) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	payload := map[string]interface{}{
		"text":     text,
		"model_id": e.modelID,
		"voice_settings": map[string]interface{}{
			"stability":        e.stability,
			"similarity_boost": e.similarity,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return providers.Wrap(e.Name(), err)
	}

	streamCtx, cancel := context.WithTimeout(ctx, streamTimeout)
	defer cancel()

	reqURL := fmt.Sprintf("%s/%s/stream?output_format=pcm_16000&optimize_streaming_latency=3", e.baseURL, e.voiceID)
	req, err := http.NewRequestWithContext(streamCtx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return providers.Wrap(e.Name(), err)
	}
	req.Header.Set("xi-api-key", e.apiKey)
	req.Header.Set("Content-Type", "application/json")

	streamClient := *e.client
	streamClient.Timeout = streamTimeout
	resp, err := streamClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", providers.ErrProviderTransport, providers.Wrap(e.Name(), err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%w: elevenlabs stream status %d: %s", providers.ErrProviderTransport, resp.StatusCode, string(errBody))
	}

	buf := make([]byte, 4096)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if cbErr := onChunk(append([]byte(nil), buf[:n]...)); cbErr != nil {
				return cbErr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %v", providers.ErrProviderTransport, err)
		}
	}
}
