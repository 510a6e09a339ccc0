// Package tts contains vendor adapters implementing providers.TTS.
package tts

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/lokutor-ai/voicebridge/pkg/providers"
)

// Lokutor streams synthesis over a persistent WebSocket connection,
// dialed lazily and cached across calls.
type Lokutor struct {
	apiKey string
	host   string
	scheme string
	voice  string
	lang   string
	speed  float64

	mu   sync.Mutex
	conn *websocket.Conn
}

func NewLokutor(apiKey, voice, lang string) *Lokutor {
	return &Lokutor{
		apiKey: apiKey,
		host:   "api.lokutor.com",
		scheme: "wss",
		voice:  voice,
		lang:   lang,
		speed:  1.05,
	}
}

func (t *Lokutor) Name() string { return "lokutor" }

func (t *Lokutor) getConn(ctx context.Context) (*websocket.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil {
		return t.conn, nil
	}

	u := url.URL{Scheme: t.scheme, Host: t.host, Path: "/ws", RawQuery: "api_key=" + t.apiKey}
	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to lokutor: %w", err)
	}

	t.conn = conn
	return conn, nil
}

func (t *Lokutor) Synthesize(ctx context.Context, text string) (providers.TTSResult, error) {
	if text == "" {
		return providers.TTSResult{SampleRate: 48000}, nil
	}

	var audio []byte
	err := t.StreamSynthesize(ctx, text, func(chunk []byte) error {
		audio = append(audio, chunk...)
		return nil
	})
	if err != nil {
		return providers.TTSResult{}, err
	}
	return providers.TTSResult{Audio: audio, SampleRate: 48000}, nil
}

func (t *Lokutor) StreamSynthesize(ctx context.Context, text string, onChunk providers.ChunkFunc) error {
	if text == "" {
		return nil
	}

	conn, err := t.getConn(ctx)
	if err != nil {
		return providers.Wrap(t.Name(), err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	req := map[string]interface{}{
		"text":    text,
		"voice":   t.voice,
		"lang":    t.lang,
		"speed":   t.speed,
		"steps":   5,
		"version": "versa-1.0",
	}

	if err := wsjson.Write(ctx, conn, req); err != nil {
		t.conn = nil
		conn.Close(websocket.StatusAbnormalClosure, "failed to write json")
		return fmt.Errorf("%w: failed to send synthesis request: %v", providers.ErrProviderTransport, err)
	}

	for {
		messageType, payload, err := conn.Read(ctx)
		if err != nil {
			t.conn = nil
			conn.Close(websocket.StatusAbnormalClosure, "failed to read")
			return fmt.Errorf("%w: failed to read from lokutor: %v", providers.ErrProviderTransport, err)
		}

		switch messageType {
		case websocket.MessageBinary:
			if err := onChunk(payload); err != nil {
				return err
			}
		case websocket.MessageText:
			msg := string(payload)
			if msg == "EOS" {
				return nil
			}
			if len(msg) >= 4 && msg[:4] == "ERR:" {
				return fmt.Errorf("%w: lokutor error: %s", providers.ErrProviderSemantic, msg)
			}
		}
	}
}

func (t *Lokutor) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		err := t.conn.Close(websocket.StatusNormalClosure, "")
		t.conn = nil
		return err
	}
	return nil
}
