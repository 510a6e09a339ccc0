// Package server is the WebSocket front door: it accepts connections from
// the telephony audio bridge, allocates sequential call IDs, recognizes the
// external UUID carried by the first frame, and routes every frame after
// that to a session of the configured variant.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/lokutor-ai/voicebridge/internal/logging"
	"github.com/lokutor-ai/voicebridge/pkg/session"
)

// SessionFactory builds a ready-to-start session for one call once its
// external UUID is known. The concrete wiring — provider adapters,
// playback, telemetry, track catalogs — lives in cmd/voicebridge; Server
// only needs the Variant it produces.
type SessionFactory func(callID, externalUUID string, demo session.DemoNotifier) (session.Variant, error)

// Server accepts inbound PBX bridge connections and drives each one through
// a session for the lifetime of the call.
type Server struct {
	Log        logging.Logger
	NewSession SessionFactory
	Demo       *DemoHub

	nextCallID atomic.Uint64
}

// New builds a Server. factory is invoked once per call, after the first
// frame's external UUID has been recognized.
func New(log logging.Logger, factory SessionFactory) *Server {
	return &Server{
		Log:        log,
		NewSession: factory,
		Demo:       NewDemoHub(),
	}
}

func (s *Server) allocateCallID() string {
	n := s.nextCallID.Add(1)
	return fmt.Sprintf("call-%04d", n)
}

// ServeHTTP accepts one PBX bridge connection and runs it to completion.
// Register this as the handler for the PBX ingress path.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		s.Log.Error("websocket accept failed", "error", err)
		return
	}

	callID := s.allocateCallID()
	s.Log.Info("call accepted", "call", callID)
	s.handleConn(r.Context(), callID, conn)
}

// handleConn consumes frames until the connection closes or errors,
// guaranteeing the session terminator runs exactly once if a session was
// ever constructed.
func (s *Server) handleConn(ctx context.Context, callID string, conn *websocket.Conn) {
	defer conn.Close(websocket.StatusNormalClosure, "call ended")

	var sess session.Variant
	defer func() {
		if sess != nil {
			sess.Stop(ctx)
		}
		s.Demo.Unregister(callID)
	}()

	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			s.Log.Info("call connection closed", "call", callID, "error", err)
			return
		}

		if sess == nil {
			externalUUID, ok := extractUUID(data, msgType == websocket.MessageText)
			if !ok {
				s.Log.Warn("dropping frame before external uuid recognized", "call", callID)
				continue
			}

			demo := s.Demo.Register(callID)
			built, err := s.NewSession(callID, externalUUID, demo)
			if err != nil {
				s.Log.Error("session construction failed", "call", callID, "uuid", externalUUID, "error", err)
				return
			}
			sess = built

			go func() {
				if err := sess.Start(ctx); err != nil {
					s.Log.Error("session start failed", "call", callID, "error", err)
				}
			}()
			continue
		}

		if msgType != websocket.MessageBinary {
			continue
		}
		if err := sess.HandleFrame(ctx, data); err != nil {
			s.Log.Error("handle frame failed", "call", callID, "error", err)
		}
	}
}

// extractUUID recognizes the three shapes spec §4.G/§6 allow for the
// identifying frame: a binary frame whose first 36 bytes parse as a UUID, a
// text frame carrying JSON {"uuid": "..."}, or a short plain token
// containing a dash.
func extractUUID(data []byte, isText bool) (string, bool) {
	if !isText {
		if len(data) < 36 {
			return "", false
		}
		candidate := string(data[:36])
		if _, err := uuid.Parse(candidate); err != nil {
			return "", false
		}
		return candidate, true
	}

	var payload struct {
		UUID string `json:"uuid"`
	}
	if err := json.Unmarshal(data, &payload); err == nil && payload.UUID != "" {
		return payload.UUID, true
	}

	token := strings.TrimSpace(string(data))
	if strings.Contains(token, "-") {
		return token, true
	}
	return "", false
}
