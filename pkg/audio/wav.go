// Package audio provides pure PCM16 helpers shared by the VAD, playback
// controller and provider adapters: RMS energy, integer decimation, and
// RIFF/WAVE read/write. All functions operate on signed 16-bit
// little-endian mono samples.
package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// ErrNotWav is returned by ReadWav when the input has no RIFF/WAVE header,
// a short fmt chunk, or no fmt or data chunk. A non-PCM format tag is
// reported by a separate error.
var ErrNotWav = errors.New("audio: not a RIFF/WAVE PCM stream")

// NewWavBuffer wraps raw PCM16 mono bytes in a minimal 44-byte RIFF/WAVE
// header. Sample width is fixed at 2 bytes (16-bit).
func NewWavBuffer(pcm []byte, sampleRate int) []byte {
	buf := new(bytes.Buffer)

	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1))
	binary.Write(buf, binary.LittleEndian, uint16(1))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate*2))
	binary.Write(buf, binary.LittleEndian, uint16(2))
	binary.Write(buf, binary.LittleEndian, uint16(16))

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}

// WriteWav writes pcm as a RIFF/WAVE PCM16 mono file to w.
func WriteWav(w io.Writer, pcm []byte, sampleRate int) error {
	_, err := w.Write(NewWavBuffer(pcm, sampleRate))
	return err
}

// ReadWav parses a RIFF/WAVE PCM16 mono stream and returns the raw sample
// bytes and sample rate. It walks chunks rather than assuming the fixed
// 44-byte layout NewWavBuffer produces, so it can also read files written
// by other tools (e.g. a downloaded TTS vendor WAV with extra chunks).
func ReadWav(r io.Reader) (pcm []byte, sampleRate int, err error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, 0, err
	}
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, ErrNotWav
	}

	pos := 12
	var fmtSeen, dataSeen bool
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		if body+size > len(data) {
			size = len(data) - body
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, 0, ErrNotWav
			}
			audioFormat := binary.LittleEndian.Uint16(data[body : body+2])
			if audioFormat != 1 {
				return nil, 0, fmt.Errorf("audio: unsupported WAVE format tag %d", audioFormat)
			}
			sampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			fmtSeen = true
		case "data":
			pcm = append([]byte(nil), data[body:body+size]...)
			dataSeen = true
		}

		pos = body + size
		if size%2 == 1 {
			pos++ // chunks are word-aligned
		}
	}

	if !fmtSeen || !dataSeen {
		return nil, 0, ErrNotWav
	}
	return pcm, sampleRate, nil
}

// RMS computes the root-mean-square energy of a PCM16LE mono frame, in
// raw sample units (0…32767) — the same units as energy_threshold in
// vad.Config. Inputs shorter than one sample yield 0.
func RMS(frame []byte) float64 {
	if len(frame) < 2 {
		return 0
	}

	var sum float64
	n := len(frame) / 2
	for i := 0; i < n; i++ {
		sample := int16(uint16(frame[2*i]) | uint16(frame[2*i+1])<<8)
		f := float64(sample)
		sum += f * f
	}
	return math.Sqrt(sum / float64(n))
}

// Downsample decimates PCM16LE mono audio from one sample rate to a lower
// one by integer-ratio averaging. It is a cheap decimator suitable for
// telephony playback, not an audio-grade resampler: when from==to it
// returns src unchanged, and when the ratio is less than 1 (upsampling
// requested) it also returns src unchanged.
func Downsample(src []byte, from, to int) []byte {
	if from == to || from <= 0 || to <= 0 {
		return src
	}
	ratio := from / to
	if ratio < 1 {
		return src
	}

	nSamples := len(src) / 2
	out := make([]byte, 0, (nSamples/ratio+1)*2)

	for i := 0; i < nSamples; i += ratio {
		end := i + ratio
		if end > nSamples {
			end = nSamples
		}
		if end == i {
			break
		}

		var sum int64
		for j := i; j < end; j++ {
			sample := int16(uint16(src[2*j]) | uint16(src[2*j+1])<<8)
			sum += int64(sample)
		}
		mean := sum / int64(end-i)
		if mean > 32767 {
			mean = 32767
		} else if mean < -32768 {
			mean = -32768
		}

		var sampleBytes [2]byte
		binary.LittleEndian.PutUint16(sampleBytes[:], uint16(int16(mean)))
		out = append(out, sampleBytes[0], sampleBytes[1])
	}

	return out
}
