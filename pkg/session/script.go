package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lokutor-ai/voicebridge/pkg/audio"
	"github.com/lokutor-ai/voicebridge/pkg/providers"
	"github.com/lokutor-ai/voicebridge/pkg/vad"
)

// track is one pre-recorded catalog entry (script mode).
type track struct {
	pcm        []byte
	sampleRate int
}

// Script runs ASR → LLM where the LLM's reply names a pre-recorded track
// to play back, instead of freeform TTS.
type Script struct {
	*Base

	ASR providers.ASR
	LLM providers.LLM
	VAD *vad.EnergyVAD

	messages []providers.Message
	catalog  map[string]track

	greetingWav  []byte
	greetingRate int
}

// LoadCatalog reads every .wav file in dir (except greeting.wav) into the
// track catalog, keyed by file name.
func LoadCatalog(dir string) (map[string]track, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("session: read catalog dir: %w", err)
	}
	catalog := make(map[string]track)
	for _, e := range entries {
		if e.IsDir() || e.Name() == "greeting.wav" || !strings.HasSuffix(e.Name(), ".wav") {
			continue
		}
		f, err := os.Open(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("session: open track %s: %w", e.Name(), err)
		}
		pcm, rate, err := audio.ReadWav(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("session: decode track %s: %w", e.Name(), err)
		}
		catalog[e.Name()] = track{pcm: pcm, sampleRate: rate}
	}
	return catalog, nil
}

// NewScript builds a script-mode session from an already loaded catalog.
func NewScript(base *Base, asr providers.ASR, llm providers.LLM, v *vad.EnergyVAD, systemPrompt string, catalog map[string]track, greetingWav []byte, greetingRate int) *Script {
	s := &Script{
		Base:         base,
		ASR:          asr,
		LLM:          llm,
		VAD:          v,
		catalog:      catalog,
		greetingWav:  greetingWav,
		greetingRate: greetingRate,
	}
	if systemPrompt != "" {
		s.messages = append(s.messages, providers.Message{Role: "system", Content: systemPrompt})
	}
	return s
}

func (s *Script) Start(ctx context.Context) error {
	s.Boot(ctx, s.greetingWav, s.greetingRate, nil)
	return nil
}

func (s *Script) HandleFrame(ctx context.Context, frame []byte) error {
	if !s.GreetingDone() {
		return nil
	}

	if s.Player.IsPlaying() {
		if s.VAD.CheckBargeIn(frame) {
			s.OnBargeIn(ctx)
			s.Player.Stop(ctx)
			s.VAD.StartListeningAfterBargeIn(frame)
		}
		return nil
	}

	event := s.VAD.Feed(frame)
	switch event.Type {
	case vad.SpeechStart:
		s.emit("speech_start")
	case vad.SpeechEnd:
		go s.processSpeech(context.Background(), event.Audio)
	}
	return nil
}

func (s *Script) processSpeech(ctx context.Context, utterance []byte) {
	s.emit("processing")
	asrStart := time.Now()
	result, err := s.ASR.Recognize(ctx, utterance, s.Cfg.FSSampleRate)
	asrMs := time.Since(asrStart).Milliseconds()
	if err != nil {
		s.Log.Error("asr failed", "call", s.CallID, "error", err)
		return
	}
	if result.Text == "" {
		return
	}
	defer s.emit("response_end")

	s.ResetBargeIn()
	s.RecordUserTurn(ctx, result.Text, s.ASR.Name(), asrMs, result.Confidence)
	s.messages = append(s.messages, providers.Message{Role: "user", Content: result.Text})

	llmStart := time.Now()
	reply, err := s.LLM.Chat(ctx, s.messages)
	llmMs := time.Since(llmStart).Milliseconds()
	if err != nil {
		s.Log.Error("llm failed", "call", s.CallID, "error", err)
		return
	}

	chosen := strings.Trim(strings.TrimSpace(reply), `"'`)
	s.messages = append(s.messages, providers.Message{Role: "assistant", Content: chosen})

	t, ok := s.catalog[chosen]
	var transcriptText string
	if ok {
		if _, err := s.Player.PlayPCM(ctx, t.pcm, t.sampleRate); err != nil {
			s.Log.Error("playback failed", "call", s.CallID, "error", err)
		}
		s.emitAudio(t.sampleRate, t.pcm)
		transcriptText = chosen
	} else {
		s.Log.Warn("llm named an unknown track", "call", s.CallID, "track", chosen)
		transcriptText = fmt.Sprintf("[unknown: %s]", chosen)
	}

	s.RecordAssistantTurn(ctx, transcriptText, s.LLM.Name(), llmMs, "", 0)
}

func (s *Script) Stop(ctx context.Context) {
	s.Terminate(ctx, s.ASR, s.LLM)
}
