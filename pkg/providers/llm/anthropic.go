// Package llm contains vendor adapters implementing providers.LLM.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/lokutor-ai/voicebridge/pkg/providers"
)

// timeout is the transport budget for a non-streaming chat call (spec §5: LLM ~30s).
const timeout = 30 * time.Second

// Anthropic talks to the Messages API. It extracts the system message
// into the payload's top-level `system` field since Anthropic does not
// accept a system role inside `messages`.
type Anthropic struct {
	apiKey string
	url    string
	model  string
	client *http.Client
}

func NewAnthropic(apiKey, model string) *Anthropic {
	if model == "" {
		model = "claude-3-5-sonnet-20240620"
	}
	return &Anthropic{
		apiKey: apiKey,
		url:    "https://api.anthropic.com/v1/messages",
		model:  model,
		client: &http.Client{Timeout: timeout},
	}
}

func (l *Anthropic) Name() string { return "anthropic_llm" }

func (l *Anthropic) Close() error { return nil }

func (l *Anthropic) Chat(ctx context.Context, messages []providers.Message) (string, error) {
	var system string
	var anthropicMessages []map[string]string

	for _, msg := range messages {
		if msg.Role == "system" {
			system = msg.Content
			continue
		}
		anthropicMessages = append(anthropicMessages, map[string]string{
			"role":    msg.Role,
			"content": msg.Content,
		})
	}

	payload := map[string]interface{}{
		"model":      l.model,
		"messages":   anthropicMessages,
		"max_tokens": 1024,
	}
	if system != "" {
		payload["system"] = system
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", providers.Wrap(l.Name(), err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.url, bytes.NewReader(body))
	if err != nil {
		return "", providers.Wrap(l.Name(), err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", l.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := l.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", providers.ErrProviderTransport, providers.Wrap(l.Name(), err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp interface{}
		json.NewDecoder(resp.Body).Decode(&errResp)
		return "", fmt.Errorf("%w: anthropic status %d: %v", providers.ErrProviderTransport, resp.StatusCode, errResp)
	}

	var result struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("%w: %v", providers.ErrProviderSemantic, err)
	}
	if len(result.Content) == 0 {
		return "", fmt.Errorf("%w: no content returned from anthropic", providers.ErrProviderSemantic)
	}

	return result.Content[0].Text, nil
}

// ChatStreamSentences has no native streaming wired for Anthropic here;
// it falls back to one full Chat call emitted as a single sentence,
// exactly the default BaseLLM.chat_stream_sentences behavior in
// original_source/llm/base.py.
func (l *Anthropic) ChatStreamSentences(ctx context.Context, messages []providers.Message, onSentence providers.SentenceFunc) error {
	text, err := l.Chat(ctx, messages)
	if err != nil {
		return err
	}
	if text == "" {
		return nil
	}
	return onSentence(text)
}
