package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/lokutor-ai/voicebridge/pkg/providers"
)

func TestGoogleChat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.RawQuery, "key=test-key") {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{
				{"content": map[string]any{"parts": []map[string]any{{"text": "hello from google"}}}},
			},
		})
	}))
	defer server.Close()

	l := NewGoogle("test-key", "gemini")
	l.url = server.URL + "/v1beta/models/gemini:generateContent"

	resp, err := l.Chat(context.Background(), []providers.Message{{Role: "user", Content: "hi"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp != "hello from google" {
		t.Errorf("expected 'hello from google', got '%s'", resp)
	}
}
