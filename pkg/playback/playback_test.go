package playback

import (
	"context"
	"strings"
	"testing"

	"github.com/lokutor-ai/voicebridge/internal/logging"
)

func fakeExec(response string, err error) Exec {
	return func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return []byte(response), err
	}
}

func TestPlayPCMSuccess(t *testing.T) {
	p := New("abc-uuid", "call1", logging.NoOp{})
	p.exec = fakeExec("+OK\n", nil)

	// 160 bytes @ 8kHz mono 16-bit = 10ms of audio, finishes almost instantly.
	pcm := make([]byte, 160)
	ok, err := p.PlayPCM(context.Background(), pcm, 8000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Error("expected playback to report completion")
	}
}

func TestPlayPCMRejected(t *testing.T) {
	p := New("abc-uuid", "call1", logging.NoOp{})
	p.exec = fakeExec("-ERR no such channel\n", nil)

	pcm := make([]byte, 160)
	ok, err := p.PlayPCM(context.Background(), pcm, 8000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected playback to report failure for -ERR response")
	}
}

func TestPlayPCMEmptyIsNoop(t *testing.T) {
	p := New("abc-uuid", "call1", logging.NoOp{})
	p.exec = fakeExec("", nil)
	ok, err := p.PlayPCM(context.Background(), nil, 8000)
	if err != nil || ok {
		t.Fatalf("expected (false, nil) for empty pcm, got (%v, %v)", ok, err)
	}
}

func TestStopOnlyBreaksWhenPlaying(t *testing.T) {
	var called bool
	p := New("abc-uuid", "call1", logging.NoOp{})
	p.exec = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		called = true
		return []byte("+OK\n"), nil
	}
	p.Stop(context.Background())
	if called {
		t.Error("Stop should be a no-op when nothing is playing")
	}
}

func TestCallerNumber(t *testing.T) {
	p := New("abc-uuid", "call1", logging.NoOp{})
	p.exec = fakeExec("+79161234567\n", nil)
	if got := p.CallerNumber(context.Background()); got != "+79161234567" {
		t.Errorf("got %q", got)
	}

	p.exec = fakeExec("-ERR\n", nil)
	if got := p.CallerNumber(context.Background()); got != "unknown" {
		t.Errorf("got %q, want unknown", got)
	}
}

func TestCallerNumberTrimsWhitespace(t *testing.T) {
	p := New("abc-uuid", "call1", logging.NoOp{})
	p.exec = fakeExec("  123  \n", nil)
	if got := p.CallerNumber(context.Background()); strings.TrimSpace(got) != "123" {
		t.Errorf("got %q", got)
	}
}
