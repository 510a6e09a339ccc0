package main

import (
	"fmt"
	"os"

	"github.com/lokutor-ai/voicebridge/internal/config"
	"github.com/lokutor-ai/voicebridge/internal/logging"
	"github.com/lokutor-ai/voicebridge/internal/notify"
	"github.com/lokutor-ai/voicebridge/pkg/audio"
	"github.com/lokutor-ai/voicebridge/pkg/playback"
	"github.com/lokutor-ai/voicebridge/pkg/providers"
	"github.com/lokutor-ai/voicebridge/pkg/providers/asr"
	"github.com/lokutor-ai/voicebridge/pkg/providers/llm"
	"github.com/lokutor-ai/voicebridge/pkg/providers/tts"
	"github.com/lokutor-ai/voicebridge/pkg/server"
	"github.com/lokutor-ai/voicebridge/pkg/session"
	"github.com/lokutor-ai/voicebridge/pkg/telemetry"
	"github.com/lokutor-ai/voicebridge/pkg/vad"
)

// yandexASRBaseURL and yandexLLMBaseURL point the OpenAI-compatible
// adapters at Yandex's OpenAI-compatible surface; per SPEC_FULL.md this
// single adapter also grounds Groq/OpenAI/any compatible endpoint purely
// via base URL configuration.
const (
	yandexASRBaseURL = "https://stt.api.cloud.yandex.net/stt/v3/recognizeFile"
	yandexLLMBaseURL = "https://llm.api.cloud.yandex.net/v1/chat/completions"
)

// buildASR instantiates the configured ASR adapter from secrets/config.
func buildASR(cfg *config.Config) (providers.ASR, error) {
	switch cfg.ASR.Provider {
	case "deepgram":
		return asr.NewDeepgram(cfg.Secrets.TTSAPIKey), nil
	case "openai":
		return asr.NewOpenAI(cfg.Secrets.TTSAPIKey, cfg.ASR.ModelName), nil
	case "yandex", "":
		a := asr.NewOpenAI(cfg.Secrets.YandexAPIKey, cfg.ASR.ModelName)
		if cfg.ASR.ServerURL != "" {
			a.SetBaseURL(cfg.ASR.ServerURL)
		} else {
			a.SetBaseURL(yandexASRBaseURL)
		}
		return a, nil
	default:
		return nil, fmt.Errorf("voicebridge: unknown asr provider %q", cfg.ASR.Provider)
	}
}

// buildLLM instantiates the configured LLM adapter from secrets/config.
func buildLLM(cfg *config.Config) (providers.LLM, error) {
	switch cfg.LLM.Provider {
	case "anthropic":
		return llm.NewAnthropic(cfg.Secrets.TTSAPIKey, cfg.LLM.Model), nil
	case "google":
		return llm.NewGoogle(cfg.Secrets.TTSAPIKey, cfg.LLM.Model), nil
	case "openai":
		return llm.NewOpenAI(cfg.Secrets.TTSAPIKey, cfg.LLM.Model), nil
	case "yandex", "":
		l := llm.NewOpenAI(cfg.Secrets.YandexAPIKey, cfg.LLM.Model)
		l.SetBaseURL(yandexLLMBaseURL)
		return l, nil
	default:
		return nil, fmt.Errorf("voicebridge: unknown llm provider %q", cfg.LLM.Provider)
	}
}

// buildTTS instantiates the configured TTS adapter from secrets/config. No
// dedicated Yandex TTS vendor adapter exists in this implementation (see
// DESIGN.md); the "yandex" provider value, inherited as the platform
// default, falls back to Lokutor — the teacher's native TTS vendor.
func buildTTS(cfg *config.Config) (providers.TTS, error) {
	switch cfg.TTS.Provider {
	case "elevenlabs":
		return tts.NewElevenLabs(cfg.Secrets.TTSAPIKey, cfg.TTS.VoiceID, cfg.TTS.ModelID, cfg.TTS.Proxy)
	case "zvukogram":
		return tts.NewZvukogram(cfg.Secrets.TTSToken, cfg.Secrets.TTSEmail, cfg.TTS.Voice), nil
	case "lokutor", "yandex", "":
		return tts.NewLokutor(cfg.Secrets.TTSAPIKey, cfg.TTS.Voice, cfg.TTS.Language), nil
	default:
		return nil, fmt.Errorf("voicebridge: unknown tts provider %q", cfg.TTS.Provider)
	}
}

// buildVAD constructs the frame-counted energy detector from the robot's
// vad config section.
func buildVAD(cfg *config.Config) *vad.EnergyVAD {
	return vad.New(vad.Config{
		Enabled:         cfg.VAD.Enabled,
		EnergyThreshold: float64(cfg.VAD.EnergyThreshold),
		MinSpeechFrames: cfg.VAD.MinSpeechFrames,
		SilenceFrames:   cfg.VAD.SilenceFrames,
	})
}

// loadGreeting reads the robot's pre-recorded greeting.wav, if any.
func loadGreeting(cfg *config.Config) ([]byte, int, error) {
	if cfg.GreetingWav == "" {
		return nil, 0, nil
	}
	f, err := os.Open(cfg.GreetingWav)
	if err != nil {
		return nil, 0, fmt.Errorf("voicebridge: open greeting.wav: %w", err)
	}
	defer f.Close()
	pcm, rate, err := audio.ReadWav(f)
	if err != nil {
		return nil, 0, fmt.Errorf("voicebridge: decode greeting.wav: %w", err)
	}
	return pcm, rate, nil
}

// sessionFactory builds the server.SessionFactory for one robot
// configuration: every call gets its own ASR/LLM/TTS adapters, playback
// controller, and VAD instance, all sharing the process-wide telemetry
// recorder and notifier. Script mode's track catalog is reloaded per call
// so a robot's recordings can change without a restart.
func sessionFactory(cfg *config.Config, recorder *telemetry.Recorder, notifier *notify.Telegram) (server.SessionFactory, error) {
	greetingWav, greetingRate, err := loadGreeting(cfg)
	if err != nil {
		return nil, err
	}

	return func(callID, externalUUID string, demo session.DemoNotifier) (session.Variant, error) {
		callLog := logging.New(externalUUID)
		player := playback.New(externalUUID, callID, callLog)
		base := session.NewBase(callID, externalUUID, cfg.Mode, cfg, callLog, player, recorder, notifier)
		base.Demo = demo

		switch cfg.Mode {
		case "realtime":
			return session.NewRealtime(base), nil

		case "script":
			catalog, err := session.LoadCatalog(cfg.RobotDir)
			if err != nil {
				return nil, fmt.Errorf("voicebridge: load track catalog: %w", err)
			}
			a, err := buildASR(cfg)
			if err != nil {
				return nil, err
			}
			l, err := buildLLM(cfg)
			if err != nil {
				return nil, err
			}
			return session.NewScript(base, a, l, buildVAD(cfg), cfg.SystemPrompt, catalog, greetingWav, greetingRate), nil

		default: // "pipeline"
			a, err := buildASR(cfg)
			if err != nil {
				return nil, err
			}
			l, err := buildLLM(cfg)
			if err != nil {
				return nil, err
			}
			t, err := buildTTS(cfg)
			if err != nil {
				return nil, err
			}
			return session.NewPipeline(base, a, l, t, buildVAD(cfg), cfg.SystemPrompt, greetingWav, greetingRate), nil
		}
	}, nil
}
