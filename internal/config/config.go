// Package config loads a per-robot voicebridge configuration, layering
// built-in defaults, a robot config.json, and .env secrets — the same
// precedence order as the platform this was distilled from: config.json
// overrides defaults, and env-derived secrets are never stored in
// config.json at all.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

type ASRConfig struct {
	Provider  string `json:"provider"`
	Language  string `json:"language"`
	ServerURL string `json:"server_url"`
	ModelName string `json:"model_name"`
}

type LLMConfig struct {
	Provider    string  `json:"provider"`
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

type TTSConfig struct {
	Provider        string  `json:"provider"`
	Voice           string  `json:"voice"`
	Language        string  `json:"language"`
	Speed           float64 `json:"speed"`
	Pitch           int     `json:"pitch"`
	SampleRate      int     `json:"sample_rate"`
	VoiceID         string  `json:"voice_id"`
	ModelID         string  `json:"model_id"`
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Proxy           string  `json:"proxy"`
}

type VADConfig struct {
	Enabled         bool `json:"enabled"`
	EnergyThreshold int  `json:"energy_threshold"`
	SilenceFrames   int  `json:"silence_frames"`
	MinSpeechFrames int  `json:"min_speech_frames"`
}

type TelegramConfig struct {
	Enabled bool `json:"enabled"`
}

// RealtimeConfig configures the full-duplex variant, which delegates
// ASR/LLM/TTS entirely to a remote realtime endpoint with server-side VAD.
type RealtimeConfig struct {
	URL               string  `json:"url"`
	Voice             string  `json:"voice"`
	VADThreshold      float64 `json:"vad_threshold"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms"`
	SilenceDurationMs int     `json:"silence_duration_ms"`
}

// Secrets holds values that only ever come from the environment, never
// from config.json, so they don't end up committed alongside a robot's
// scenario files.
type Secrets struct {
	YandexAPIKey      string
	YandexFolderID    string
	TTSAPIKey         string
	TTSToken          string
	TTSEmail          string
	TelegramToken     string
	TelegramChatID    string
	YandexRealtimeURL string
}

// Config is the fully resolved, per-robot configuration.
type Config struct {
	WSHost       string `json:"ws_host"`
	WSPort       int    `json:"ws_port"`
	FSSampleRate int    `json:"fs_sample_rate"`
	Mode         string `json:"mode"`

	ASR      ASRConfig      `json:"asr"`
	LLM      LLMConfig      `json:"llm"`
	TTS      TTSConfig      `json:"tts"`
	VAD      VADConfig      `json:"vad"`
	Telegram TelegramConfig `json:"telegram"`
	Realtime RealtimeConfig `json:"realtime"`

	GreetingText string `json:"greeting_text"`

	Secrets      Secrets `json:"-"`
	SystemPrompt string  `json:"-"`
	GreetingWav  string  `json:"-"`
	RobotDir     string  `json:"-"`
	PlatformRoot string  `json:"-"`
}

func defaultsJSON() map[string]interface{} {
	return map[string]interface{}{
		"ws_host":        "0.0.0.0",
		"ws_port":        5200,
		"fs_sample_rate": 8000,
		"mode":           "pipeline",
		"asr": map[string]interface{}{
			"provider":   "yandex",
			"language":   "ru-RU",
			"server_url": "",
			"model_name": "streaming_asr",
		},
		"llm": map[string]interface{}{
			"provider":    "yandex",
			"temperature": 0.5,
			"max_tokens":  80,
		},
		"tts": map[string]interface{}{
			"provider":          "yandex",
			"voice":             "alena",
			"language":          "ru-RU",
			"speed":             1.0,
			"pitch":             0,
			"sample_rate":       48000,
			"voice_id":          "",
			"model_id":          "eleven_multilingual_v2",
			"stability":         0.5,
			"similarity_boost":  0.75,
			"proxy":             "",
		},
		"vad": map[string]interface{}{
			"enabled":           true,
			"energy_threshold":  200,
			"silence_frames":    25,
			"min_speech_frames": 5,
		},
		"telegram": map[string]interface{}{
			"enabled": true,
		},
		"realtime": map[string]interface{}{
			"url":                 "",
			"voice":               "jane",
			"vad_threshold":       0.5,
			"prefix_padding_ms":   300,
			"silence_duration_ms": 500,
		},
		"greeting_text": "",
	}
}

// deepMerge recursively merges override into base, returning a new map.
// Scalar and slice values in override replace base outright; nested objects
// merge key by key.
func deepMerge(base, override map[string]interface{}) map[string]interface{} {
	result := make(map[string]interface{}, len(base))
	for k, v := range base {
		result[k] = v
	}
	for k, v := range override {
		if baseVal, ok := result[k]; ok {
			baseMap, baseIsMap := baseVal.(map[string]interface{})
			overrideMap, overrideIsMap := v.(map[string]interface{})
			if baseIsMap && overrideIsMap {
				result[k] = deepMerge(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}
	return result
}

// Load resolves the full configuration for the robot directory at dir.
func Load(dir string) (*Config, error) {
	robotDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("config: resolve robot dir: %w", err)
	}

	platformRoot := findPlatformRoot(robotDir)

	robotEnv := filepath.Join(robotDir, ".env")
	rootEnv := filepath.Join(platformRoot, ".env")
	if fileExists(robotEnv) {
		_ = godotenv.Overload(robotEnv)
	}
	if fileExists(rootEnv) {
		_ = godotenv.Load(rootEnv)
	}

	fileConfig := map[string]interface{}{}
	configPath := filepath.Join(robotDir, "config.json")
	if fileExists(configPath) {
		raw, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("config: read config.json: %w", err)
		}
		if err := json.Unmarshal(raw, &fileConfig); err != nil {
			return nil, fmt.Errorf("config: parse config.json: %w", err)
		}
	}

	// Backward compatibility: interruption/config.json -> vad, when the
	// robot predates the unified vad config key.
	if _, hasVAD := fileConfig["vad"]; !hasVAD {
		interruptionPath := filepath.Join(robotDir, "interruption", "config.json")
		if fileExists(interruptionPath) {
			raw, err := os.ReadFile(interruptionPath)
			if err == nil {
				var intr map[string]interface{}
				if err := json.Unmarshal(raw, &intr); err == nil {
					fileConfig["vad"] = map[string]interface{}{
						"enabled":           boolOr(intr["enabled"], true),
						"energy_threshold":  numberOr(intr["vad_energy_threshold"], 200),
						"silence_frames":    numberOr(intr["vad_silence_frames"], 25),
						"min_speech_frames": numberOr(intr["vad_min_speech_frames"], 5),
					}
				}
			}
		}
	}

	merged := deepMerge(defaultsJSON(), fileConfig)

	mergedJSON, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("config: marshal merged config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(mergedJSON, &cfg); err != nil {
		return nil, fmt.Errorf("config: decode merged config: %w", err)
	}

	// config.json's mode key uses the platform's historical "llm_script"
	// spelling; the internal data model (and every session.Variant switch)
	// uses the shorter "script" tag.
	if cfg.Mode == "llm_script" {
		cfg.Mode = "script"
	}

	cfg.Secrets = Secrets{
		YandexAPIKey:      os.Getenv("YANDEX_API_KEY"),
		YandexFolderID:    os.Getenv("YANDEX_FOLDER_ID"),
		TTSAPIKey:         envOr("TTS_API_KEY", os.Getenv("YANDEX_API_KEY")),
		TTSToken:          os.Getenv("TTS_TOKEN"),
		TTSEmail:          os.Getenv("TTS_EMAIL"),
		TelegramToken:     os.Getenv("TG_TOKEN"),
		TelegramChatID:    os.Getenv("TG_CHAT_ID"),
		YandexRealtimeURL: os.Getenv("YANDEX_REALTIME_URL"),
	}

	if cfg.LLM.Model == "" {
		cfg.LLM.Model = fmt.Sprintf("gpt://%s/yandexgpt/rc", cfg.Secrets.YandexFolderID)
	}

	promptPath := filepath.Join(robotDir, "prompt.txt")
	if fileExists(promptPath) {
		raw, err := os.ReadFile(promptPath)
		if err != nil {
			return nil, fmt.Errorf("config: read prompt.txt: %w", err)
		}
		cfg.SystemPrompt = strings.TrimSpace(string(raw))
	} else {
		cfg.SystemPrompt = "You are a helpful voice assistant."
	}

	greetingPath := filepath.Join(robotDir, "greeting.wav")
	if fileExists(greetingPath) {
		cfg.GreetingWav = greetingPath
	}

	cfg.RobotDir = robotDir
	cfg.PlatformRoot = platformRoot

	return &cfg, nil
}

// findPlatformRoot checks robotDir and then up to 4 of its parent
// directories for a "core" subdirectory, matching the original bootstrap's robot-directory-relative
// discovery of the platform root.
func findPlatformRoot(robotDir string) string {
	root := robotDir
	for i := 0; i < 5; i++ {
		if dirExists(filepath.Join(root, "core")) {
			return root
		}
		parent := filepath.Dir(root)
		if parent == root {
			break
		}
		root = parent
	}
	return robotDir
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func boolOr(v interface{}, fallback bool) bool {
	if b, ok := v.(bool); ok {
		return b
	}
	return fallback
}

func numberOr(v interface{}, fallback int) int {
	if f, ok := v.(float64); ok {
		return int(f)
	}
	return fallback
}
