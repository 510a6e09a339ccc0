package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/lokutor-ai/voicebridge/pkg/providers"
)

func TestOpenAIChat(t *testing.T) {
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

	l := NewOpenAI("test-key", "")
	l.SetBaseURL(server.URL)

	got, err := l.Chat(context.Background(), []providers.Message{{Role: "user", Content: "hi"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "hello from groq" {
		t.Errorf("got %q", got)
	}
}

// TestOpenAIChatStreamSentences exercises the SSE sentence splitter
// against a server emitting deltas that split a two-sentence reply
// across several frames, as a real chat-completions stream would.
func TestOpenAIChatStreamSentences(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher, _ := w.(http.Flusher)
		w.Header().Set("Content-Type", "text/event-stream")
		deltas := []string{"Hi there", ".", " How are", " you", " today?"}
		for _, d := range deltas {
			fmt.Fprintf(w, "data: %s\n\n", mustJSON(t, map[string]any{
				"choices": []map[string]any{
					{"delta": map[string]any{"content": d}},
				},
			}))
			if flusher != nil {
				flusher.Flush()
			}
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	l := NewOpenAI("test-key", "")
	l.SetBaseURL(server.URL)

	var sentences []string
	err := l.ChatStreamSentences(context.Background(), []providers.Message{{Role: "user", Content: "hi"}}, func(s string) error {
		sentences = append(sentences, s)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sentences) == 0 {
		t.Fatal("expected at least one sentence")
	}
	joined := strings.Join(sentences, " ")
	if !strings.Contains(joined, "Hi there.") {
		t.Errorf("missing first sentence in %v", sentences)
	}
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}
