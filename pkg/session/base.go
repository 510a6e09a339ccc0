// Package session implements the three dialog-loop variants a call can run:
// pipeline (local ASR→LLM→TTS), script (ASR→LLM picks a pre-recorded
// track), and realtime (full-duplex, delegated to a remote endpoint). All
// three share call bookkeeping, playback, and telemetry/notification
// plumbing through Base.
package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lokutor-ai/voicebridge/internal/calllog"
	"github.com/lokutor-ai/voicebridge/internal/config"
	"github.com/lokutor-ai/voicebridge/internal/logging"
	"github.com/lokutor-ai/voicebridge/internal/notify"
	"github.com/lokutor-ai/voicebridge/pkg/playback"
	"github.com/lokutor-ai/voicebridge/pkg/telemetry"
)

// Variant is the behavior every session mode must provide. Start launches
// provider setup and the greeting once the external uuid is known.
// HandleFrame is called once per inbound PBX audio frame. Stop runs the
// terminator exactly once.
type Variant interface {
	Start(ctx context.Context) error
	HandleFrame(ctx context.Context, frame []byte) error
	Stop(ctx context.Context)
}

// DemoNotifier pushes the optional browser-demo-channel events (ready,
// listening, speech_start, processing, audio, transcript, response_end) for
// one call. Implementations live in pkg/server; Base only ever sees the nil
// case when no demo channel is attached to a call.
type DemoNotifier interface {
	Emit(event string)
	EmitAudio(sampleRate int, pcm []byte)
	EmitTranscript(role, text string)
}

// Turn records one completed user/assistant exchange for the call log and
// telemetry.
type Turn struct {
	Role string
	Text string
}

// Base holds everything common to all three variants: identity, playback,
// telemetry, the dialog transcript, and the terminator.
type Base struct {
	CallID       string
	ExternalUUID string
	Caller       string
	Mode         string
	Cfg          *config.Config
	Log          logging.Logger
	Player       *playback.Player
	Recorder     *telemetry.Recorder
	Notifier     *notify.Telegram
	Demo         DemoNotifier

	StartedAt time.Time

	mu         sync.Mutex
	transcript []Turn
	turns      int
	bargeIns   int
	asrDetails []calllog.TurnMetric

	greetingDone     atomic.Bool
	isActive         atomic.Bool
	bargeInTriggered atomic.Bool

	stopOnce sync.Once
}

// NewBase constructs the shared call state. Callers (the per-mode
// constructors) still need to wire in provider adapters themselves.
func NewBase(callID, externalUUID, mode string, cfg *config.Config, log logging.Logger, player *playback.Player, recorder *telemetry.Recorder, notifier *notify.Telegram) *Base {
	b := &Base{
		CallID:       callID,
		ExternalUUID: externalUUID,
		Mode:         mode,
		Cfg:          cfg,
		Log:          log,
		Player:       player,
		Recorder:     recorder,
		Notifier:     notifier,
		StartedAt:    time.Now(),
	}
	b.isActive.Store(true)
	return b
}

// Boot resolves the caller number, tells telemetry a call has started, and
// plays the greeting — either a pre-recorded WAV or a synthesized
// greeting_text. It is shared across variants since none of them change
// this sequence.
func (b *Base) Boot(ctx context.Context, greetingWav []byte, greetingRate int, synthesizeGreeting func(ctx context.Context) ([]byte, int, error)) {
	b.Caller = b.Player.CallerNumber(ctx)

	b.Recorder.CallStarted(ctx, telemetry.CallRecord{
		CallID:   b.CallID,
		UUID:     b.ExternalUUID,
		Caller:   b.Caller,
		Mode:     b.Mode,
		RobotName: "",
		Language: b.Cfg.ASR.Language,
	})

	var audio []byte
	rate := greetingRate

	switch {
	case len(greetingWav) > 0:
		audio = greetingWav
	case b.Cfg.GreetingText != "" && synthesizeGreeting != nil:
		var err error
		audio, rate, err = synthesizeGreeting(ctx)
		if err != nil {
			b.Log.Error("greeting synthesis failed", "call", b.CallID, "error", err)
		}
	}

	if len(audio) > 0 {
		if _, err := b.Player.PlayPCM(ctx, audio, rate); err != nil {
			b.Log.Error("greeting playback failed", "call", b.CallID, "error", err)
		}
		b.emitAudio(rate, audio)
		if b.Cfg.GreetingText != "" {
			b.recordTurn("assistant", b.Cfg.GreetingText)
		}
	}

	b.greetingDone.Store(true)
	b.emit("ready")
	b.emit("listening")
}

// emit and its siblings forward to the optional demo-channel notifier; they
// are no-ops when no demo channel is attached to this call.
func (b *Base) emit(event string) {
	if b.Demo != nil {
		b.Demo.Emit(event)
	}
}

func (b *Base) emitAudio(sampleRate int, pcm []byte) {
	if b.Demo != nil {
		b.Demo.EmitAudio(sampleRate, pcm)
	}
}

// GreetingDone reports whether the greeting has finished playing (frames
// are dropped until this is true).
func (b *Base) GreetingDone() bool { return b.greetingDone.Load() }

// IsActive reports whether the call is still live.
func (b *Base) IsActive() bool { return b.isActive.Load() }

// BargeInTriggered reports whether a barge-in is currently suppressing the
// reply loop; cleared at the start of the next user turn.
func (b *Base) BargeInTriggered() bool { return b.bargeInTriggered.Load() }

func (b *Base) setBargeInTriggered(v bool) { b.bargeInTriggered.Store(v) }

// OnBargeIn records a barge-in event against the call and notifies
// telemetry asynchronously (never on the hot frame-handling path).
func (b *Base) OnBargeIn(ctx context.Context) {
	b.mu.Lock()
	b.bargeIns++
	b.mu.Unlock()
	b.setBargeInTriggered(true)

	go b.Recorder.BargeIn(context.Background(), b.CallID)
}

func (b *Base) recordTurn(role, text string) {
	b.mu.Lock()
	b.transcript = append(b.transcript, Turn{Role: role, Text: text})
	if role == "user" {
		b.turns++
	}
	b.mu.Unlock()

	if b.Demo != nil {
		demoRole := "bot"
		if role == "user" {
			demoRole = "user"
		}
		b.Demo.EmitTranscript(demoRole, text)
	}
}

// RecordUserTurn appends a user utterance to the transcript and notifies
// telemetry.
func (b *Base) RecordUserTurn(ctx context.Context, text, asrProvider string, asrLatencyMs int64, confidence float64) {
	b.recordTurn("user", text)
	b.mu.Lock()
	b.asrDetails = append(b.asrDetails, calllog.TurnMetric{
		TurnNumber: b.turns,
		ASRLatency: float64(asrLatencyMs),
		Provider:   asrProvider,
	})
	b.mu.Unlock()
	b.Recorder.TurnRecorded(ctx, b.CallID, telemetry.Segment{
		Role:         "user",
		Text:         text,
		Confidence:   confidence,
		ASRProvider:  asrProvider,
		ASRLatencyMs: asrLatencyMs,
	})
}

// RecordAssistantTurn appends a bot reply to the transcript and notifies
// telemetry.
func (b *Base) RecordAssistantTurn(ctx context.Context, text, llmProvider string, llmLatencyMs int64, ttsProvider string, ttsLatencyMs int64) {
	b.recordTurn("assistant", text)
	b.Recorder.TurnRecorded(ctx, b.CallID, telemetry.Segment{
		Role:         "assistant",
		Text:         text,
		LLMProvider:  llmProvider,
		LLMLatencyMs: llmLatencyMs,
		TTSProvider:  ttsProvider,
		TTSLatencyMs: ttsLatencyMs,
	})
}

// ResetBargeIn clears the barge-in suppression flag at the start of a new
// user turn.
func (b *Base) ResetBargeIn() { b.setBargeInTriggered(false) }

func (b *Base) avgASRLatency() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.asrDetails) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range b.asrDetails {
		sum += v.ASRLatency
	}
	return int(sum / float64(len(b.asrDetails)))
}

// closeAdapter is a narrow interface satisfied by every provider adapter,
// used so Terminate can close whichever ones a variant actually holds.
type closeAdapter interface{ Close() error }

// Terminate runs the shared end-of-call sequence exactly once: mark
// inactive, compute duration, send the call report, persist the JSON log,
// tell telemetry, and close whatever adapters are passed in.
func (b *Base) Terminate(ctx context.Context, adapters ...closeAdapter) {
	b.stopOnce.Do(func() {
		b.isActive.Store(false)
		duration := time.Since(b.StartedAt)

		b.mu.Lock()
		transcriptLines := make([]string, len(b.transcript))
		for i, t := range b.transcript {
			transcriptLines[i] = fmt.Sprintf("%s: %s", t.Role, t.Text)
		}
		turns := b.turns
		bargeIns := b.bargeIns
		asrDetails := append([]calllog.TurnMetric(nil), b.asrDetails...)
		b.mu.Unlock()

		avgASR := b.avgASRLatency()

		if b.Notifier != nil && len(transcriptLines) > 0 && b.Cfg.Telegram.Enabled {
			report := notify.FormatCallReport(notify.CallReport{
				Caller:     b.Caller,
				UUID:       b.ExternalUUID,
				CallTime:   b.StartedAt.Format("2006-01-02 15:04:05"),
				Duration:   duration,
				Turns:      turns,
				BargeIns:   bargeIns,
				ASRAvgMs:   avgASR,
				Transcript: transcriptLines,
			})
			b.Notifier.Send(ctx, report)
		}

		calllog.Save(b.Cfg.RobotDir, calllog.Entry{
			UUID:        b.ExternalUUID,
			Caller:      b.Caller,
			CallTime:    b.StartedAt.Format("2006-01-02 15:04:05"),
			DurationSec: duration.Seconds(),
			Turns:       turns,
			BargeIns:    bargeIns,
			ASRDetails:  asrDetails,
			Transcript:  transcriptLines,
		}, b.Log)

		b.Recorder.CallFinished(ctx, b.CallID, duration, turns, bargeIns, "completed")

		for _, a := range adapters {
			if a == nil {
				continue
			}
			if err := a.Close(); err != nil {
				b.Log.Error("adapter close failed", "call", b.CallID, "error", err)
			}
		}
		b.Player.Close()
	})
}
