package asr

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDeepgramRecognize(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Token test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"results": map[string]any{
				"channels": []map[string]any{
					{
						"alternatives": []map[string]any{
							{"transcript": "hello deepgram", "confidence": 0.9},
						},
					},
				},
			},
		})
	}))
	defer server.Close()

	d := NewDeepgram("test-key")
	d.url = server.URL

	result, err := d.Recognize(context.Background(), []byte{0, 0, 0, 0}, 8000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Text != "hello deepgram" {
		t.Errorf("text = %q", result.Text)
	}
}

func TestDeepgramRecognizeEmptyAlternatives(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"results": map[string]any{"channels": []map[string]any{}}})
	}))
	defer server.Close()

	d := NewDeepgram("test-key")
	d.url = server.URL

	result, err := d.Recognize(context.Background(), []byte{0, 0}, 8000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Text != "" {
		t.Errorf("expected empty text, got %q", result.Text)
	}
}
