// Package vad implements the energy-threshold voice-activity detector:
// a frame-counted speech/silence state machine plus a separate barge-in
// detector used while the bot is speaking.
package vad

import "github.com/lokutor-ai/voicebridge/pkg/audio"

// EventType enumerates the outcomes of feeding one frame to the detector.
type EventType int

const (
	// Silence: a frame while idle that does not confirm speech (below
	// threshold, or above it before min_speech_frames is reached).
	Silence EventType = iota
	// SpeechStart: speech just confirmed after min_speech_frames above threshold.
	SpeechStart
	// Speaking: another frame while already speaking, before trailing
	// silence is confirmed.
	Speaking
	// SpeechEnd: trailing silence confirmed; Audio carries the full utterance.
	SpeechEnd
)

// Event is the result of Feed for one inbound frame.
type Event struct {
	Type  EventType
	Audio []byte // only set on SpeechEnd
}

// Config tunes the detector; zero values are invalid, use DefaultConfig.
type Config struct {
	EnergyThreshold float64
	MinSpeechFrames int
	SilenceFrames   int
	Enabled         bool
}

// DefaultConfig mirrors the platform defaults (energy_threshold=200,
// silence_frames=25, min_speech_frames=5, enabled=true).
func DefaultConfig() Config {
	return Config{
		EnergyThreshold: 200,
		MinSpeechFrames: 5,
		SilenceFrames:   25,
		Enabled:         true,
	}
}

// EnergyVAD is the spec's frame-counted energy detector. It is not
// safe for concurrent use from more than one goroutine; one instance
// belongs to one call.
type EnergyVAD struct {
	cfg Config

	isSpeaking   bool
	speechCount  int
	silenceCount int
	buffer       []byte

	// barge-in confirmation counter, independent of the main state machine
	bargeInCount int
}

// New creates a detector with the given configuration.
func New(cfg Config) *EnergyVAD {
	return &EnergyVAD{cfg: cfg}
}

// Feed advances the state machine by one frame. Raw PCM16LE mono bytes in,
// one of {Silence, SpeechStart, Speaking, SpeechEnd} out.
func (v *EnergyVAD) Feed(frame []byte) Event {
	energy := audio.RMS(frame) // raw-sample-scale RMS, matches energy_threshold's units
	above := energy > v.cfg.EnergyThreshold

	if !v.isSpeaking {
		if above {
			v.speechCount++
			v.silenceCount = 0
			if v.speechCount >= v.cfg.MinSpeechFrames {
				v.isSpeaking = true
				v.buffer = append(v.buffer[:0], frame...)
				return Event{Type: SpeechStart}
			}
			return Event{Type: Silence}
		}
		v.speechCount = 0
		return Event{Type: Silence}
	}

	// currently speaking
	v.buffer = append(v.buffer, frame...)
	if above {
		v.silenceCount = 0
		return Event{Type: Speaking}
	}

	v.silenceCount++
	if v.silenceCount >= v.cfg.SilenceFrames {
		snapshot := v.buffer
		v.reset()
		return Event{Type: SpeechEnd, Audio: snapshot}
	}
	return Event{Type: Speaking}
}

// CheckBargeIn counts consecutive energetic frames while playback is
// active and reports true once MinSpeechFrames consecutive frames exceed
// the threshold. Non-energetic frames reset the counter. Always false
// when the detector is disabled.
func (v *EnergyVAD) CheckBargeIn(frame []byte) bool {
	if !v.cfg.Enabled {
		return false
	}
	energy := audio.RMS(frame)
	if energy > v.cfg.EnergyThreshold {
		v.bargeInCount++
		if v.bargeInCount >= v.cfg.MinSpeechFrames {
			v.bargeInCount = 0
			return true
		}
		return false
	}
	v.bargeInCount = 0
	return false
}

// StartListeningAfterBargeIn forces the state machine directly into
// SPEAKING with frame as the first buffered sample, so the word that
// triggered the barge-in is not lost.
func (v *EnergyVAD) StartListeningAfterBargeIn(frame []byte) {
	v.isSpeaking = true
	v.speechCount = 0
	v.silenceCount = 0
	v.buffer = append(v.buffer[:0], frame...)
}

// Reset returns the detector to IDLE, discarding any buffered audio.
func (v *EnergyVAD) Reset() {
	v.reset()
}

func (v *EnergyVAD) reset() {
	v.isSpeaking = false
	v.speechCount = 0
	v.silenceCount = 0
	v.bargeInCount = 0
	v.buffer = nil
}

// IsSpeaking reports whether the detector currently believes the caller is
// mid-utterance.
func (v *EnergyVAD) IsSpeaking() bool {
	return v.isSpeaking
}

// Clone returns an independent detector seeded with the same configuration,
// without sharing buffered state.
func (v *EnergyVAD) Clone() *EnergyVAD {
	return New(v.cfg)
}

// Name identifies the detector implementation for logging/telemetry.
func (v *EnergyVAD) Name() string {
	return "energy_vad"
}
