package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// demoChannel is one call's outbound browser-demo connection. It implements
// session.DemoNotifier; every write is best-effort and silently dropped
// when no browser has attached yet, so the dialog loop never blocks on it.
type demoChannel struct {
	callID string

	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *demoChannel) attach(conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn = conn
}

func (c *demoChannel) close() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "call ended")
	}
}

func (c *demoChannel) writeJSON(v any) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = conn.Write(ctx, websocket.MessageText, data)
}

// Emit sends a bare event notification: ready, listening, speech_start,
// processing, response_end.
func (c *demoChannel) Emit(event string) {
	c.writeJSON(map[string]string{"type": event})
}

// EmitTranscript sends one transcript line, role "user" or "bot".
func (c *demoChannel) EmitTranscript(role, text string) {
	c.writeJSON(map[string]string{"type": "transcript", "role": role, "text": text})
}

// EmitAudio sends the "audio" event carrying sample_rate, immediately
// followed by a binary frame of PCM16 samples, per spec §6.
func (c *demoChannel) EmitAudio(sampleRate int, pcm []byte) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}
	c.writeJSON(map[string]any{"type": "audio", "sample_rate": sampleRate})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = conn.Write(ctx, websocket.MessageBinary, pcm)
}

// DemoHub tracks one optional demo channel per live call and the optional
// browser-facing HTTP endpoint that attaches a socket to it. A call whose
// browser never connects simply drops every demo event.
type DemoHub struct {
	mu    sync.Mutex
	chans map[string]*demoChannel
}

// NewDemoHub builds an empty hub.
func NewDemoHub() *DemoHub {
	return &DemoHub{chans: make(map[string]*demoChannel)}
}

// Register creates (or replaces) the demo channel for a call and returns
// it as a session.DemoNotifier, ready to hand to the session factory.
func (h *DemoHub) Register(callID string) *demoChannel {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := &demoChannel{callID: callID}
	h.chans[callID] = ch
	return ch
}

// Unregister closes and forgets a call's demo channel; called from the
// PBX connection's terminator so a browser socket never outlives its call.
func (h *DemoHub) Unregister(callID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.chans[callID]; ok {
		ch.close()
		delete(h.chans, callID)
	}
}

// attach wires a connected browser socket to an already-registered call.
func (h *DemoHub) attach(callID string, conn *websocket.Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch, ok := h.chans[callID]
	if !ok {
		return false
	}
	ch.attach(conn)
	return true
}

// ServeHTTP accepts a browser demo connection for ?call_id=call-NNNN and
// attaches it to that call's channel. The socket is read-drained only to
// notice the browser disconnecting; voicebridge never expects inbound
// frames on this channel.
func (h *DemoHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	callID := r.URL.Query().Get("call_id")
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		return
	}
	if callID == "" || !h.attach(callID, conn) {
		conn.Close(websocket.StatusPolicyViolation, "unknown call_id")
		return
	}
	for {
		if _, _, err := conn.Read(r.Context()); err != nil {
			return
		}
	}
}
