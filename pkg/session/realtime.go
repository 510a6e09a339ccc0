package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"

	"github.com/lokutor-ai/voicebridge/pkg/audio"
	"github.com/lokutor-ai/voicebridge/pkg/telemetry"
)

// Realtime runs the full-duplex variant: no local ASR/LLM/TTS, everything
// is delegated to a remote realtime endpoint with server-side VAD. FS audio
// goes out as input_audio_buffer.append events; the remote's response
// audio comes back as response.output_audio.delta events.
type Realtime struct {
	*Base

	url    string
	apiKey string

	conn  *websocket.Conn
	ready chan struct{}

	mu            sync.Mutex
	responseAudio []byte
	responseText  string
	isPlaying     atomic.Bool
}

// realtimeSessionUpdate is the session.update event sent immediately after
// connecting, configuring modalities, instructions, audio formats, and
// server-side VAD.
type realtimeSessionUpdate struct {
	Type    string             `json:"type"`
	Session realtimeSessionCfg `json:"session"`
}

type realtimeSessionCfg struct {
	Modalities              []string              `json:"modalities"`
	Instructions            string                `json:"instructions"`
	Voice                   string                `json:"voice"`
	InputAudioFormat        string                `json:"input_audio_format"`
	OutputAudioFormat       string                `json:"output_audio_format"`
	InputAudioTranscription realtimeTranscription `json:"input_audio_transcription"`
	TurnDetection           realtimeTurnDetection `json:"turn_detection"`
}

type realtimeTranscription struct {
	Model string `json:"model"`
}

type realtimeTurnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms"`
	SilenceDurationMs int     `json:"silence_duration_ms"`
}

type realtimeAppendAudio struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

// realtimeEvent covers every server event field this variant reacts to;
// unused fields are simply left zero for event types that don't set them.
type realtimeEvent struct {
	Type       string `json:"type"`
	Delta      string `json:"delta"`
	Transcript string `json:"transcript"`
	Error      any    `json:"error"`
}

// NewRealtime builds a full-duplex session. The remote endpoint URL falls
// back to the YANDEX_REALTIME_URL secret when realtime.url is unset in
// config.json.
func NewRealtime(base *Base) *Realtime {
	url := base.Cfg.Realtime.URL
	if url == "" {
		url = base.Cfg.Secrets.YandexRealtimeURL
	}
	return &Realtime{
		Base:   base,
		url:    url,
		apiKey: base.Cfg.Secrets.YandexAPIKey,
		ready:  make(chan struct{}),
	}
}

func (r *Realtime) Start(ctx context.Context) error {
	if r.url == "" {
		r.Log.Error("no realtime url configured", "call", r.CallID)
		return fmt.Errorf("session: realtime: no endpoint configured")
	}

	conn, _, err := websocket.Dial(ctx, r.url, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"api-key " + r.apiKey},
		},
	})
	if err != nil {
		r.Log.Error("realtime connect failed", "call", r.CallID, "error", err)
		return fmt.Errorf("session: realtime: dial: %w", err)
	}
	r.conn = conn
	r.Log.Info("connected to realtime endpoint", "call", r.CallID)

	update := realtimeSessionUpdate{
		Type: "session.update",
		Session: realtimeSessionCfg{
			Modalities:        []string{"text", "audio"},
			Instructions:      r.Cfg.SystemPrompt,
			Voice:             r.Cfg.Realtime.Voice,
			InputAudioFormat:  "pcm16",
			OutputAudioFormat: "pcm16",
			InputAudioTranscription: realtimeTranscription{
				Model: "general",
			},
			TurnDetection: realtimeTurnDetection{
				Type:              "server_vad",
				Threshold:         r.Cfg.Realtime.VADThreshold,
				PrefixPaddingMs:   r.Cfg.Realtime.PrefixPaddingMs,
				SilenceDurationMs: r.Cfg.Realtime.SilenceDurationMs,
			},
		},
	}
	if err := r.writeJSON(ctx, update); err != nil {
		r.Log.Error("realtime session.update failed", "call", r.CallID, "error", err)
		return err
	}
	close(r.ready)

	r.Caller = r.Player.CallerNumber(ctx)
	r.Recorder.CallStarted(ctx, telemetry.CallRecord{
		CallID:   r.CallID,
		UUID:     r.ExternalUUID,
		Caller:   r.Caller,
		Mode:     r.Mode,
		Language: r.Cfg.ASR.Language,
	})

	// The bot greets first.
	if err := r.writeJSON(ctx, map[string]string{"type": "response.create"}); err != nil {
		r.Log.Error("realtime response.create failed", "call", r.CallID, "error", err)
		return err
	}

	r.greetingDone.Store(true)
	r.emit("ready")
	r.emit("listening")
	go r.receiveLoop(context.Background())
	return nil
}

func (r *Realtime) writeJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("session: realtime: marshal: %w", err)
	}
	return r.conn.Write(ctx, websocket.MessageText, data)
}

// HandleFrame forwards one inbound PBX frame to the remote endpoint, unless
// we're currently playing back a response (echo suppression — the remote's
// own VAD would otherwise hear its own reply).
func (r *Realtime) HandleFrame(ctx context.Context, frame []byte) error {
	select {
	case <-r.ready:
	default:
		return nil
	}
	if r.isPlaying.Load() {
		return nil
	}
	return r.writeJSON(ctx, realtimeAppendAudio{
		Type:  "input_audio_buffer.append",
		Audio: base64.StdEncoding.EncodeToString(frame),
	})
}

// receiveLoop reads events from the remote endpoint until the connection
// closes or the call ends.
func (r *Realtime) receiveLoop(ctx context.Context) {
	for {
		if !r.IsActive() {
			return
		}
		_, data, err := r.conn.Read(ctx)
		if err != nil {
			r.Log.Info("realtime connection closed", "call", r.CallID, "error", err)
			return
		}

		var evt realtimeEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			continue
		}
		r.handleEvent(ctx, &evt)
	}
}

func (r *Realtime) handleEvent(ctx context.Context, evt *realtimeEvent) {
	switch evt.Type {
	case "response.output_audio.delta":
		if evt.Delta == "" {
			return
		}
		decoded, err := base64.StdEncoding.DecodeString(evt.Delta)
		if err != nil {
			return
		}
		r.mu.Lock()
		r.responseAudio = append(r.responseAudio, decoded...)
		r.mu.Unlock()

	case "response.output_text.delta":
		if evt.Delta == "" {
			return
		}
		r.mu.Lock()
		r.responseText += evt.Delta
		r.mu.Unlock()

	case "response.done":
		r.mu.Lock()
		buf := r.responseAudio
		r.responseAudio = nil
		text := r.responseText
		r.responseText = ""
		r.mu.Unlock()

		if len(buf) > 0 {
			r.playResponse(ctx, buf)
		}
		if text != "" {
			r.recordTurn("assistant", text)
			r.Recorder.TurnRecorded(ctx, r.CallID, telemetry.Segment{
				Role:        "assistant",
				Text:        text,
				LLMProvider: "realtime",
			})
		}
		r.emit("response_end")

	case "conversation.item.input_audio_transcription.completed":
		if evt.Transcript == "" {
			return
		}
		r.emit("processing")
		r.recordTurn("user", evt.Transcript)
		r.Recorder.TurnRecorded(ctx, r.CallID, telemetry.Segment{
			Role:        "user",
			Text:        evt.Transcript,
			ASRProvider: "realtime",
		})

	case "input_audio_buffer.speech_started":
		r.emit("speech_start")
		r.mu.Lock()
		r.responseAudio = nil
		r.mu.Unlock()
		r.OnBargeIn(ctx)
		r.Player.Stop(ctx)
		r.isPlaying.Store(false)

	case "input_audio_buffer.speech_stopped":
		r.Log.Debug("remote vad: silence", "call", r.CallID)

	case "error":
		r.Log.Error("realtime endpoint error", "call", r.CallID, "error", evt.Error)
	}
}

// playResponse downsamples the remote's audio to the FS leg's sample rate
// and plays it out, tracking isPlaying so HandleFrame can suppress echo
// while it runs.
func (r *Realtime) playResponse(ctx context.Context, pcm []byte) {
	if !r.IsActive() {
		return
	}
	downsampled := audio.Downsample(pcm, 48000, r.Cfg.FSSampleRate)

	r.isPlaying.Store(true)
	defer r.isPlaying.Store(false)

	if _, err := r.Player.PlayPCM(ctx, downsampled, r.Cfg.FSSampleRate); err != nil {
		r.Log.Error("realtime playback failed", "call", r.CallID, "error", err)
	}
	r.emitAudio(r.Cfg.FSSampleRate, downsampled)
}

func (r *Realtime) Stop(ctx context.Context) {
	r.Terminate(ctx)
	if r.conn != nil {
		r.conn.Close(websocket.StatusNormalClosure, "call ended")
	}
}
