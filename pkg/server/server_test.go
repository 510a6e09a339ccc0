package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/lokutor-ai/voicebridge/internal/logging"
	"github.com/lokutor-ai/voicebridge/pkg/session"
)

type fakeSession struct {
	mu        sync.Mutex
	started   bool
	startErr  error
	frames    [][]byte
	stopCount int
	uuid      string
}

func (f *fakeSession) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
	return f.startErr
}

func (f *fakeSession) HandleFrame(ctx context.Context, frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, append([]byte(nil), frame...))
	return nil
}

func (f *fakeSession) Stop(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCount++
}

func wsDial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.Dial(context.Background(), url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func TestServerRecognizesBinaryUUIDFrameAndRoutesAudio(t *testing.T) {
	callUUID := uuid.New().String()
	var built *fakeSession
	var builtUUID string
	var mu sync.Mutex

	s := New(logging.NoOp{}, func(callID, externalUUID string, demo session.DemoNotifier) (session.Variant, error) {
		mu.Lock()
		defer mu.Unlock()
		built = &fakeSession{uuid: externalUUID}
		builtUUID = externalUUID
		return built, nil
	})

	srv := httptest.NewServer(http.HandlerFunc(s.ServeHTTP))
	defer srv.Close()

	conn := wsDial(t, srv)
	defer conn.Close(websocket.StatusNormalClosure, "done")

	idFrame := []byte(callUUID)
	if err := conn.Write(context.Background(), websocket.MessageBinary, idFrame); err != nil {
		t.Fatalf("write id frame: %v", err)
	}

	audioFrame := bytes.Repeat([]byte{0x11, 0x22}, 160)
	// give the server a moment to construct the session before sending audio
	time.Sleep(50 * time.Millisecond)
	if err := conn.Write(context.Background(), websocket.MessageBinary, audioFrame); err != nil {
		t.Fatalf("write audio frame: %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if built == nil {
		t.Fatal("expected a session to be constructed")
	}
	if builtUUID != callUUID {
		t.Errorf("externalUUID = %q, want %q", builtUUID, callUUID)
	}

	built.mu.Lock()
	defer built.mu.Unlock()
	if !built.started {
		t.Error("expected Start to be called")
	}
	if len(built.frames) != 1 || !bytes.Equal(built.frames[0], audioFrame) {
		t.Errorf("frames = %v, want one matching audioFrame", built.frames)
	}
}

func TestServerRecognizesJSONUUIDTextFrame(t *testing.T) {
	callUUID := uuid.New().String()
	var built *fakeSession
	var mu sync.Mutex

	s := New(logging.NoOp{}, func(callID, externalUUID string, demo session.DemoNotifier) (session.Variant, error) {
		mu.Lock()
		defer mu.Unlock()
		built = &fakeSession{uuid: externalUUID}
		return built, nil
	})

	srv := httptest.NewServer(http.HandlerFunc(s.ServeHTTP))
	defer srv.Close()

	conn := wsDial(t, srv)
	defer conn.Close(websocket.StatusNormalClosure, "done")

	payload, _ := json.Marshal(map[string]string{"uuid": callUUID})
	if err := conn.Write(context.Background(), websocket.MessageText, payload); err != nil {
		t.Fatalf("write json frame: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if built == nil {
		t.Fatal("expected a session to be constructed from a JSON uuid frame")
	}
	if built.uuid != callUUID {
		t.Errorf("uuid = %q, want %q", built.uuid, callUUID)
	}
}

func TestServerDropsFramesBeforeUUIDRecognized(t *testing.T) {
	constructed := make(chan struct{}, 1)

	s := New(logging.NoOp{}, func(callID, externalUUID string, demo session.DemoNotifier) (session.Variant, error) {
		constructed <- struct{}{}
		return &fakeSession{uuid: externalUUID}, nil
	})

	srv := httptest.NewServer(http.HandlerFunc(s.ServeHTTP))
	defer srv.Close()

	conn := wsDial(t, srv)
	defer conn.Close(websocket.StatusNormalClosure, "done")

	// too short to be a 36-byte UUID, and no dash, so it can't be mistaken
	// for a plain-token text frame either.
	if err := conn.Write(context.Background(), websocket.MessageBinary, []byte{1, 2, 3}); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case <-constructed:
		t.Fatal("session should not have been constructed from a non-uuid frame")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestServerAllocatesSequentialCallIDs(t *testing.T) {
	var mu sync.Mutex
	var ids []string

	s := New(logging.NoOp{}, func(callID, externalUUID string, demo session.DemoNotifier) (session.Variant, error) {
		mu.Lock()
		ids = append(ids, callID)
		mu.Unlock()
		return &fakeSession{}, nil
	})

	srv := httptest.NewServer(http.HandlerFunc(s.ServeHTTP))
	defer srv.Close()

	for i := 0; i < 3; i++ {
		conn := wsDial(t, srv)
		if err := conn.Write(context.Background(), websocket.MessageBinary, []byte(uuid.New().String())); err != nil {
			t.Fatalf("write: %v", err)
		}
		time.Sleep(30 * time.Millisecond)
		conn.Close(websocket.StatusNormalClosure, "done")
	}

	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if len(ids) != 3 {
		t.Fatalf("ids = %v, want 3 calls", ids)
	}
	if ids[0] != "call-0001" || ids[1] != "call-0002" || ids[2] != "call-0003" {
		t.Errorf("ids = %v, want sequential call-NNNN", ids)
	}
}

func TestServerRunsTerminatorOnDisconnect(t *testing.T) {
	var built *fakeSession
	var mu sync.Mutex
	done := make(chan struct{})

	s := New(logging.NoOp{}, func(callID, externalUUID string, demo session.DemoNotifier) (session.Variant, error) {
		mu.Lock()
		built = &fakeSession{}
		mu.Unlock()
		return built, nil
	})

	srv := httptest.NewServer(http.HandlerFunc(s.ServeHTTP))
	defer srv.Close()

	conn := wsDial(t, srv)
	if err := conn.Write(context.Background(), websocket.MessageBinary, []byte(uuid.New().String())); err != nil {
		t.Fatalf("write: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	conn.Close(websocket.StatusNormalClosure, "bye")

	go func() {
		for {
			mu.Lock()
			b := built
			mu.Unlock()
			if b != nil {
				b.mu.Lock()
				stopped := b.stopCount > 0
				b.mu.Unlock()
				if stopped {
					close(done)
					return
				}
			}
			time.Sleep(10 * time.Millisecond)
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for session terminator to run")
	}
}

func TestExtractUUIDShapes(t *testing.T) {
	valid := uuid.New().String()

	if got, ok := extractUUID([]byte(valid), false); !ok || got != valid {
		t.Errorf("binary 36-byte uuid: got %q, ok=%v", got, ok)
	}
	if _, ok := extractUUID([]byte("short"), false); ok {
		t.Error("binary frame shorter than 36 bytes should not match")
	}
	payload, _ := json.Marshal(map[string]string{"uuid": valid})
	if got, ok := extractUUID(payload, true); !ok || got != valid {
		t.Errorf("json text frame: got %q, ok=%v", got, ok)
	}
	if got, ok := extractUUID([]byte("abc-123"), true); !ok || got != "abc-123" {
		t.Errorf("plain token: got %q, ok=%v", got, ok)
	}
	if _, ok := extractUUID([]byte("noDashHere"), true); ok {
		t.Error("plain token without a dash should not match")
	}
}
