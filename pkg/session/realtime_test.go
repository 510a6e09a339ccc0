package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/lokutor-ai/voicebridge/internal/config"
	"github.com/lokutor-ai/voicebridge/internal/logging"
	"github.com/lokutor-ai/voicebridge/pkg/playback"
	"github.com/lokutor-ai/voicebridge/pkg/telemetry"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func startRealtimeServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("readJSON: %v", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("readJSON unmarshal: %v", err)
	}
}

func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, _ := json.Marshal(v)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Logf("writeJSON: %v (may be expected on close)", err)
	}
}

func newTestRealtime(t *testing.T, url string) *Realtime {
	t.Helper()
	cfg := &config.Config{
		FSSampleRate: 8000,
		SystemPrompt: "You are a helpful voice assistant.",
		Telegram:     config.TelegramConfig{Enabled: false},
		Realtime: config.RealtimeConfig{
			URL:               url,
			Voice:             "jane",
			VADThreshold:      0.5,
			PrefixPaddingMs:   300,
			SilenceDurationMs: 500,
		},
	}
	player := playback.New("", "call-1", logging.NoOp{})
	recorder := telemetry.NewRecorder(nil, nil, nil, logging.NoOp{})
	base := NewBase("call-1", "ext-uuid", "realtime", cfg, logging.NoOp{}, player, recorder, nil)
	return NewRealtime(base)
}

func TestRealtimeStartSendsSessionUpdateAndGreets(t *testing.T) {
	type sessionMsg struct {
		Type    string `json:"type"`
		Session struct {
			Modalities        []string `json:"modalities"`
			Instructions      string   `json:"instructions"`
			InputAudioFormat  string   `json:"input_audio_format"`
			OutputAudioFormat string   `json:"output_audio_format"`
			TurnDetection     struct {
				Type              string  `json:"type"`
				Threshold         float64 `json:"threshold"`
				SilenceDurationMs int     `json:"silence_duration_ms"`
			} `json:"turn_detection"`
		} `json:"session"`
	}

	sessionUpdate := make(chan sessionMsg, 1)
	responseCreate := make(chan map[string]any, 1)

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var msg sessionMsg
		readJSON(t, conn, &msg)
		sessionUpdate <- msg

		var create map[string]any
		readJSON(t, conn, &create)
		responseCreate <- create

		<-conn.CloseRead(context.Background()).Done()
	})

	r := newTestRealtime(t, wsURL(srv))
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer r.conn.Close(websocket.StatusNormalClosure, "test done")

	select {
	case msg := <-sessionUpdate:
		if msg.Type != "session.update" {
			t.Errorf("type = %q, want session.update", msg.Type)
		}
		if msg.Session.Instructions != "You are a helpful voice assistant." {
			t.Errorf("instructions = %q", msg.Session.Instructions)
		}
		if msg.Session.InputAudioFormat != "pcm16" || msg.Session.OutputAudioFormat != "pcm16" {
			t.Errorf("audio formats = %q/%q, want pcm16/pcm16", msg.Session.InputAudioFormat, msg.Session.OutputAudioFormat)
		}
		if msg.Session.TurnDetection.Type != "server_vad" {
			t.Errorf("turn_detection.type = %q, want server_vad", msg.Session.TurnDetection.Type)
		}
		if msg.Session.TurnDetection.SilenceDurationMs != 500 {
			t.Errorf("silence_duration_ms = %d, want 500", msg.Session.TurnDetection.SilenceDurationMs)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for session.update")
	}

	select {
	case create := <-responseCreate:
		if create["type"] != "response.create" {
			t.Errorf("type = %v, want response.create", create["type"])
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for response.create")
	}

	if !r.GreetingDone() {
		t.Error("expected greetingDone to be set after Start")
	}
}

func TestRealtimeStartNoURLFails(t *testing.T) {
	r := newTestRealtime(t, "")
	if err := r.Start(context.Background()); err == nil {
		t.Fatal("expected error when no realtime url is configured")
	}
}

func TestRealtimeHandleFrameSendsAudioAppend(t *testing.T) {
	appendMsg := make(chan map[string]any, 1)

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw) // session.update
		readJSON(t, conn, &raw) // response.create

		var msg map[string]any
		readJSON(t, conn, &msg)
		appendMsg <- msg

		<-conn.CloseRead(context.Background()).Done()
	})

	r := newTestRealtime(t, wsURL(srv))
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer r.conn.Close(websocket.StatusNormalClosure, "test done")

	frame := []byte{0x01, 0x02, 0x03, 0x04}
	if err := r.HandleFrame(context.Background(), frame); err != nil {
		t.Fatalf("HandleFrame: %v", err)
	}

	select {
	case msg := <-appendMsg:
		if msg["type"] != "input_audio_buffer.append" {
			t.Errorf("type = %v, want input_audio_buffer.append", msg["type"])
		}
		decoded, err := base64.StdEncoding.DecodeString(msg["audio"].(string))
		if err != nil {
			t.Fatalf("base64 decode: %v", err)
		}
		if string(decoded) != string(frame) {
			t.Errorf("decoded audio = %v, want %v", decoded, frame)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for input_audio_buffer.append")
	}
}

func TestRealtimeHandleFrameDroppedWhilePlaying(t *testing.T) {
	r := newTestRealtime(t, "ws://unused")
	r.ready = make(chan struct{})
	close(r.ready)
	r.isPlaying.Store(true)

	if err := r.HandleFrame(context.Background(), []byte{1, 2, 3}); err != nil {
		t.Fatalf("HandleFrame: %v", err)
	}
	// No conn was dialed, so reaching writeJSON would panic on a nil conn;
	// since isPlaying short-circuits first, nothing should have happened.
}

func TestRealtimeSpeechStartedClearsBufferAndTriggersBargeIn(t *testing.T) {
	r := newTestRealtime(t, "ws://unused")
	r.responseAudio = []byte{1, 2, 3, 4}

	r.handleEvent(context.Background(), &realtimeEvent{Type: "input_audio_buffer.speech_started"})

	r.mu.Lock()
	bufLen := len(r.responseAudio)
	r.mu.Unlock()
	if bufLen != 0 {
		t.Errorf("expected response buffer cleared, got %d bytes", bufLen)
	}
	if !r.BargeInTriggered() {
		t.Error("expected barge-in to be triggered")
	}
	if r.isPlaying.Load() {
		t.Error("expected isPlaying to be cleared")
	}
}

func TestRealtimeOutputTextDeltaAccumulates(t *testing.T) {
	r := newTestRealtime(t, "ws://unused")

	r.handleEvent(context.Background(), &realtimeEvent{Type: "response.output_text.delta", Delta: "Hello "})
	r.handleEvent(context.Background(), &realtimeEvent{Type: "response.output_text.delta", Delta: "there"})

	r.mu.Lock()
	got := r.responseText
	r.mu.Unlock()
	if got != "Hello there" {
		t.Errorf("responseText = %q, want %q", got, "Hello there")
	}
}

func TestRealtimeResponseDoneRecordsTurnAndPlaysAudio(t *testing.T) {
	r := newTestRealtime(t, "ws://unused")
	r.responseAudio = []byte{1, 2, 3, 4}
	r.responseText = "Hello there"

	r.handleEvent(context.Background(), &realtimeEvent{Type: "response.done"})

	r.mu.Lock()
	bufLen := len(r.responseAudio)
	text := r.responseText
	r.mu.Unlock()
	if bufLen != 0 {
		t.Errorf("expected response buffer cleared, got %d bytes", bufLen)
	}
	if text != "" {
		t.Errorf("expected response text cleared, got %q", text)
	}

	r.Base.mu.Lock()
	turns := r.Base.turns
	transcript := append([]Turn(nil), r.Base.transcript...)
	r.Base.mu.Unlock()
	if turns != 0 {
		// turns only increments on recorded user turns, not assistant replies
		t.Errorf("turns = %d, want 0 (assistant replies don't bump the user-turn counter)", turns)
	}
	if len(transcript) != 1 || transcript[0].Role != "assistant" || transcript[0].Text != "Hello there" {
		t.Errorf("transcript = %+v, want one assistant turn", transcript)
	}
}

func TestRealtimeOutputAudioDeltaAppendsDecodedBytes(t *testing.T) {
	r := newTestRealtime(t, "ws://unused")

	chunk := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	encoded := base64.StdEncoding.EncodeToString(chunk)

	r.handleEvent(context.Background(), &realtimeEvent{Type: "response.output_audio.delta", Delta: encoded})

	r.mu.Lock()
	got := r.responseAudio
	r.mu.Unlock()
	if string(got) != string(chunk) {
		t.Errorf("responseAudio = %v, want %v", got, chunk)
	}
}
