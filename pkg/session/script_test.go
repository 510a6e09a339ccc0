package session

import (
	"context"
	"testing"

	"github.com/lokutor-ai/voicebridge/pkg/vad"
)

func TestScriptProcessSpeechPlaysMatchedTrack(t *testing.T) {
	base := newTestBase(t)
	asr := &mockASR{text: "what's the weather"}
	llm := &mockLLM{reply: `"weather.wav"`}
	catalog := map[string]track{
		"weather.wav": {pcm: []byte{1, 2, 3, 4}, sampleRate: 8000},
	}
	s := NewScript(base, asr, llm, vad.New(vad.DefaultConfig()), "system prompt", catalog, nil, 0)
	s.greetingDone.Store(true)

	s.processSpeech(context.Background(), make([]byte, 320))

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.turns != 1 {
		t.Errorf("turns = %d, want 1", s.turns)
	}
	if len(s.transcript) != 2 {
		t.Fatalf("transcript len = %d, want 2", len(s.transcript))
	}
	if s.transcript[1].Text != "weather.wav" {
		t.Errorf("transcript[1].Text = %q, want weather.wav", s.transcript[1].Text)
	}
}

func TestScriptProcessSpeechUnknownTrackRecordsPlaceholder(t *testing.T) {
	base := newTestBase(t)
	asr := &mockASR{text: "hello"}
	llm := &mockLLM{reply: "nonexistent.wav"}
	s := NewScript(base, asr, llm, vad.New(vad.DefaultConfig()), "", map[string]track{}, nil, 0)
	s.greetingDone.Store(true)

	s.processSpeech(context.Background(), make([]byte, 320))

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.transcript) != 2 {
		t.Fatalf("transcript len = %d, want 2", len(s.transcript))
	}
	if s.transcript[1].Text != "[unknown: nonexistent.wav]" {
		t.Errorf("transcript[1].Text = %q", s.transcript[1].Text)
	}
}

func TestScriptProcessSpeechStripsQuotesFromReply(t *testing.T) {
	base := newTestBase(t)
	asr := &mockASR{text: "hi"}
	llm := &mockLLM{reply: "  'greeting.wav'  "}
	catalog := map[string]track{"greeting.wav": {pcm: []byte{9}, sampleRate: 8000}}
	s := NewScript(base, asr, llm, vad.New(vad.DefaultConfig()), "", catalog, nil, 0)
	s.greetingDone.Store(true)

	s.processSpeech(context.Background(), make([]byte, 320))

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transcript[1].Text != "greeting.wav" {
		t.Errorf("transcript[1].Text = %q, want greeting.wav", s.transcript[1].Text)
	}
}

func TestScriptHandleFrameDropsBeforeGreetingDone(t *testing.T) {
	base := newTestBase(t)
	s := NewScript(base, &mockASR{}, &mockLLM{}, vad.New(vad.Config{
		EnergyThreshold: 10, MinSpeechFrames: 1, SilenceFrames: 2, Enabled: true,
	}), "", map[string]track{}, nil, 0)

	loudFrame := make([]byte, 320)
	for i := range loudFrame {
		loudFrame[i] = 0x7F
	}
	if err := s.HandleFrame(context.Background(), loudFrame); err != nil {
		t.Fatalf("HandleFrame: %v", err)
	}
	if s.VAD.IsSpeaking() {
		t.Error("frame before greeting done reached the VAD")
	}
}

func TestScriptStopTerminatesOnce(t *testing.T) {
	base := newTestBase(t)
	s := NewScript(base, &mockASR{}, &mockLLM{}, vad.New(vad.DefaultConfig()), "", map[string]track{}, nil, 0)
	s.isActive.Store(true)

	s.Stop(context.Background())
	s.Stop(context.Background())

	if s.IsActive() {
		t.Error("expected session to be inactive after Stop")
	}
}
