// Package playback drives audio playback on a FreeSWITCH channel through
// fs_cli, the same side-channel control surface the teacher's telephony
// stack uses for call signaling.
package playback

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lokutor-ai/voicebridge/internal/logging"
	"github.com/lokutor-ai/voicebridge/pkg/audio"
)

// Exec is the subset of os/exec used to run fs_cli, swappable in tests.
type Exec func(ctx context.Context, name string, args ...string) ([]byte, error)

func defaultExec(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	return cmd.CombinedOutput()
}

// scratchDir holds the WAV files handed to uuid_broadcast. FreeSWITCH reads
// files by path, so synthesized PCM must round-trip through disk.
const scratchDir = "/tmp/voicebridge"

func init() {
	_ = os.MkdirAll(scratchDir, 0o755)
}

// Player controls playback on one FreeSWITCH channel (one call leg).
type Player struct {
	uuid   string
	callID string
	log    logging.Logger
	exec   Exec

	isPlaying atomic.Bool
	isActive  atomic.Bool
	counter   atomic.Int64

	mu sync.Mutex
}

// New returns a Player bound to the given FreeSWITCH channel uuid.
func New(uuid, callID string, log logging.Logger) *Player {
	p := &Player{uuid: uuid, callID: callID, log: log, exec: defaultExec}
	p.isActive.Store(true)
	return p
}

// PlayPCM downsamples pcm to 8kHz if needed, writes it to a scratch WAV file
// and broadcasts it into the channel via uuid_broadcast. It blocks until
// playback would naturally finish, or returns early (false) if Stop was
// called (barge-in) or the player was closed.
func (p *Player) PlayPCM(ctx context.Context, pcm []byte, sampleRate int) (bool, error) {
	if len(pcm) == 0 || p.uuid == "" || !p.isActive.Load() {
		return false, nil
	}
	if sampleRate != 8000 {
		pcm = audio.Downsample(pcm, sampleRate, 8000)
	}

	idx := p.counter.Add(1)
	path := fmt.Sprintf("%s/%s_%d.wav", scratchDir, p.callID, idx)

	f, err := os.Create(path)
	if err != nil {
		return false, fmt.Errorf("playback: create scratch wav: %w", err)
	}
	if err := audio.WriteWav(f, pcm, 8000); err != nil {
		f.Close()
		return false, fmt.Errorf("playback: write scratch wav: %w", err)
	}
	f.Close()
	defer os.Remove(path)

	durationMs := len(pcm) / 16 // PCM16 mono @ 8kHz: 16 bytes per ms

	p.isPlaying.Store(true)
	defer p.isPlaying.Store(false)

	out, err := p.exec(ctx, "fs_cli", "-x", fmt.Sprintf("uuid_broadcast %s %s aleg", p.uuid, path))
	if err != nil {
		p.log.Error("fs_cli broadcast failed", "call", p.callID, "error", err)
		return false, fmt.Errorf("playback: %w", err)
	}
	if !strings.Contains(string(out), "+OK") {
		p.log.Warn("fs_cli broadcast rejected", "call", p.callID, "output", string(out))
		p.isPlaying.Store(false)
		return false, nil
	}

	elapsed := time.Duration(0)
	tick := 50 * time.Millisecond
	for elapsed < time.Duration(durationMs)*time.Millisecond && p.isPlaying.Load() && p.isActive.Load() {
		select {
		case <-ctx.Done():
			return p.isPlaying.Load(), ctx.Err()
		case <-time.After(tick):
		}
		elapsed += tick
	}

	return p.isPlaying.Load() && p.isActive.Load(), nil
}

// Stop interrupts playback in progress (barge-in).
func (p *Player) Stop(ctx context.Context) {
	if p.uuid == "" || !p.isPlaying.Load() {
		return
	}
	_, err := p.exec(ctx, "fs_cli", "-x", fmt.Sprintf("uuid_break %s all", p.uuid))
	p.isPlaying.Store(false)
	if err != nil {
		p.log.Error("fs_cli break failed", "call", p.callID, "error", err)
		return
	}
	p.log.Info("playback stopped by barge-in", "call", p.callID)
}

// CallerNumber looks up the calling party's number via uuid_getvar.
func (p *Player) CallerNumber(ctx context.Context) string {
	out, err := p.exec(ctx, "fs_cli", "-x", fmt.Sprintf("uuid_getvar %s caller_id_number", p.uuid))
	if err != nil {
		return "unknown"
	}
	num := strings.TrimSpace(string(out))
	if num == "" || strings.Contains(num, "-ERR") {
		return "unknown"
	}
	return num
}

// IsPlaying reports whether playback is currently in progress.
func (p *Player) IsPlaying() bool { return p.isPlaying.Load() }

// Close marks the player inactive, causing any in-flight PlayPCM call to
// return early.
func (p *Player) Close() {
	p.isActive.Store(false)
}
