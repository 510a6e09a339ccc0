package session

import (
	"context"
	"strings"
	"time"

	"github.com/lokutor-ai/voicebridge/pkg/providers"
	"github.com/lokutor-ai/voicebridge/pkg/vad"
)

// Pipeline runs the classic ASR → LLM (streamed sentences) → TTS loop.
type Pipeline struct {
	*Base

	ASR providers.ASR
	LLM providers.LLM
	TTS providers.TTS
	VAD *vad.EnergyVAD

	messages []providers.Message

	greetingWav  []byte
	greetingRate int
}

// NewPipeline builds a pipeline-mode session. greetingWav may be nil.
func NewPipeline(base *Base, asr providers.ASR, llm providers.LLM, tts providers.TTS, v *vad.EnergyVAD, systemPrompt string, greetingWav []byte, greetingRate int) *Pipeline {
	p := &Pipeline{
		Base:         base,
		ASR:          asr,
		LLM:          llm,
		TTS:          tts,
		VAD:          v,
		greetingWav:  greetingWav,
		greetingRate: greetingRate,
	}
	if systemPrompt != "" {
		p.messages = append(p.messages, providers.Message{Role: "system", Content: systemPrompt})
	}
	return p
}

func (p *Pipeline) Start(ctx context.Context) error {
	p.Boot(ctx, p.greetingWav, p.greetingRate, func(ctx context.Context) ([]byte, int, error) {
		result, err := p.TTS.Synthesize(ctx, p.Cfg.GreetingText)
		if err != nil {
			return nil, 0, err
		}
		return result.Audio, result.SampleRate, nil
	})
	return nil
}

func (p *Pipeline) HandleFrame(ctx context.Context, frame []byte) error {
	if !p.GreetingDone() {
		return nil
	}

	if p.Player.IsPlaying() {
		if p.VAD.CheckBargeIn(frame) {
			p.OnBargeIn(ctx)
			p.Player.Stop(ctx)
			p.VAD.StartListeningAfterBargeIn(frame)
		}
		return nil
	}

	event := p.VAD.Feed(frame)
	switch event.Type {
	case vad.SpeechStart:
		p.emit("speech_start")
	case vad.SpeechEnd:
		go p.processSpeech(context.Background(), event.Audio)
	}
	return nil
}

func (p *Pipeline) processSpeech(ctx context.Context, utterance []byte) {
	p.emit("processing")
	asrStart := time.Now()
	result, err := p.ASR.Recognize(ctx, utterance, p.Cfg.FSSampleRate)
	asrMs := time.Since(asrStart).Milliseconds()
	if err != nil {
		p.Log.Error("asr failed", "call", p.CallID, "error", err)
		return
	}
	if result.Text == "" {
		p.Log.Debug("empty transcription, skipping turn", "call", p.CallID)
		return
	}
	defer p.emit("response_end")

	p.ResetBargeIn()
	p.RecordUserTurn(ctx, result.Text, p.ASR.Name(), asrMs, result.Confidence)
	p.messages = append(p.messages, providers.Message{Role: "user", Content: result.Text})

	var sentences []string
	llmStart := time.Now()
	firstAudioSet := false
	var firstAudioMs int64

	err = p.LLM.ChatStreamSentences(ctx, p.messages, func(sentence string) error {
		if !p.IsActive() || p.BargeInTriggered() {
			return errBreakStream
		}
		sentences = append(sentences, sentence)
		llmMs := time.Since(llmStart).Milliseconds()
		p.Log.Info("sentence streamed", "call", p.CallID, "llm_ms", llmMs)

		ttsStart := time.Now()
		result, err := p.TTS.Synthesize(ctx, sentence)
		ttsMs := time.Since(ttsStart).Milliseconds()
		if err != nil {
			p.Log.Error("tts failed", "call", p.CallID, "sentence", sentence, "error", err)
			return nil
		}
		p.Log.Debug("sentence synthesized", "call", p.CallID, "tts_ms", ttsMs)
		if len(result.Audio) > 0 && p.IsActive() && !p.BargeInTriggered() {
			if !firstAudioSet {
				firstAudioMs = time.Since(asrStart).Milliseconds()
				firstAudioSet = true
			}
			if _, err := p.Player.PlayPCM(ctx, result.Audio, result.SampleRate); err != nil {
				p.Log.Error("playback failed", "call", p.CallID, "error", err)
			}
			p.emitAudio(result.SampleRate, result.Audio)
		}
		return nil
	})
	if err != nil && err != errBreakStream {
		p.Log.Error("llm stream failed", "call", p.CallID, "error", err)
	}

	if len(sentences) == 0 {
		return
	}

	reply := strings.Join(sentences, " ")
	llmMs := time.Since(llmStart).Milliseconds()
	p.messages = append(p.messages, providers.Message{Role: "assistant", Content: reply})
	p.RecordAssistantTurn(ctx, reply, p.LLM.Name(), llmMs, p.TTS.Name(), firstAudioMs)
}

func (p *Pipeline) Stop(ctx context.Context) {
	p.Terminate(ctx, p.ASR, p.LLM, p.TTS)
}

var errBreakStream = breakStreamErr{}

type breakStreamErr struct{}

func (breakStreamErr) Error() string { return "stream broken by barge-in or session end" }
