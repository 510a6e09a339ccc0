package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/lokutor-ai/voicebridge/pkg/providers"
)

// Google talks to the Gemini generateContent API. System role is remapped
// to "user" (Gemini does not accept it uniformly across models) and
// assistant to "model".
type Google struct {
	apiKey string
	url    string
	model  string
	client *http.Client
}

func NewGoogle(apiKey, model string) *Google {
	if model == "" {
		model = "gemini-1.5-flash"
	}
	return &Google{
		apiKey: apiKey,
		url:    "https://generativelanguage.googleapis.com/v1beta/models/" + model + ":generateContent",
		model:  model,
		client: &http.Client{Timeout: timeout},
	}
}

func (l *Google) Name() string { return "google_llm" }

func (l *Google) Close() error { return nil }

func (l *Google) Chat(ctx context.Context, messages []providers.Message) (string, error) {
	type part struct {
		Text string `json:"text"`
	}
	type googleMessage struct {
		Role  string `json:"role"`
		Parts []part `json:"parts"`
	}

	var contents []googleMessage
	for _, m := range messages {
		role := m.Role
		if role == "system" {
			role = "user"
		}
		if role == "assistant" {
			role = "model"
		}
		contents = append(contents, googleMessage{Role: role, Parts: []part{{Text: m.Content}}})
	}

	body, err := json.Marshal(map[string]interface{}{"contents": contents})
	if err != nil {
		return "", providers.Wrap(l.Name(), err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.url+"?key="+l.apiKey, bytes.NewReader(body))
	if err != nil {
		return "", providers.Wrap(l.Name(), err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", providers.ErrProviderTransport, providers.Wrap(l.Name(), err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp interface{}
		json.NewDecoder(resp.Body).Decode(&errResp)
		return "", fmt.Errorf("%w: google status %d: %v", providers.ErrProviderTransport, resp.StatusCode, errResp)
	}

	var result struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("%w: %v", providers.ErrProviderSemantic, err)
	}
	if len(result.Candidates) == 0 || len(result.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("%w: no response from google llm", providers.ErrProviderSemantic)
	}

	return result.Candidates[0].Content.Parts[0].Text, nil
}

// ChatStreamSentences has no native Gemini streaming wired here; falls
// back to a single full Chat call, same default as Anthropic's adapter.
func (l *Google) ChatStreamSentences(ctx context.Context, messages []providers.Message, onSentence providers.SentenceFunc) error {
	text, err := l.Chat(ctx, messages)
	if err != nil {
		return err
	}
	if text == "" {
		return nil
	}
	return onSentence(text)
}
