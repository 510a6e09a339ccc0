package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lokutor-ai/voicebridge/pkg/providers"
)

// Groq speaks the same chat-completions wire format as OpenAI, so it is
// served by the same adapter pointed at a different BaseURL.
func TestOpenAIAdapterAgainstGroqEndpoint(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "hello from groq"}},
			},
		})
	}))
	defer server.Close()

	l := NewOpenAI("test-key", "llama3-70b")
	l.SetBaseURL(server.URL)

	resp, err := l.Chat(context.Background(), []providers.Message{{Role: "user", Content: "hi"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp != "hello from groq" {
		t.Errorf("expected 'hello from groq', got '%s'", resp)
	}
}
