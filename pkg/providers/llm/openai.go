package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/lokutor-ai/voicebridge/pkg/providers"
)

// streamTimeout is the transport budget for a streaming chat call (spec §5:
// LLM ~30s applies to streaming too).
const streamTimeout = 30 * time.Second

// OpenAI talks to the chat-completions API, non-streaming and streaming
// (SSE). Because Groq, Yandex's OpenAI-compatible endpoint and most other
// vendors speak the same wire format, this single adapter serves all of
// them by overriding BaseURL.
type OpenAI struct {
	apiKey string
	url    string
	model  string
	client *http.Client
}

func NewOpenAI(apiKey, model string) *OpenAI {
	if model == "" {
		model = "gpt-4o"
	}
	return &OpenAI{
		apiKey: apiKey,
		url:    "https://api.openai.com/v1/chat/completions",
		model:  model,
		client: &http.Client{Timeout: timeout},
	}
}

// SetBaseURL overrides the chat-completions endpoint (Groq, Yandex
// OpenAI-compat, a self-hosted gateway, ...).
func (l *OpenAI) SetBaseURL(url string) { l.url = url }

func (l *OpenAI) Name() string { return "openai_llm" }

func (l *OpenAI) Close() error { return nil }

func (l *OpenAI) Chat(ctx context.Context, messages []providers.Message) (string, error) {
	payload := map[string]interface{}{
		"model":    l.model,
		"messages": messages,
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
	req.Header.Set("Authorization", "Bearer "+l.apiKey)

	resp, err := l.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", providers.ErrProviderTransport, providers.Wrap(l.Name(), err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp interface{}
		json.NewDecoder(resp.Body).Decode(&errResp)
		return "", fmt.Errorf("%w: openai status %d: %v", providers.ErrProviderTransport, resp.StatusCode, errResp)
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("%w: %v", providers.ErrProviderSemantic, err)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices returned from openai", providers.ErrProviderSemantic)
	}

	return result.Choices[0].Message.Content, nil
}

// ChatStreamSentences opens a streaming chat-completions request and
// splits the SSE token deltas into speakable sentences as they arrive.
func (l *OpenAI) ChatStreamSentences(ctx context.Context, messages []providers.Message, onSentence providers.SentenceFunc) error {
	payload := map[string]interface{}{
		"model":    l.model,
		"messages": messages,
		"stream":   true,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return providers.Wrap(l.Name(), err)
	}

	streamCtx, cancel := context.WithTimeout(ctx, streamTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(streamCtx, http.MethodPost, l.url, bytes.NewReader(body))
	if err != nil {
		return providers.Wrap(l.Name(), err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+l.apiKey)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := l.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", providers.ErrProviderTransport, providers.Wrap(l.Name(), err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := jsonErrorBody(resp)
		return fmt.Errorf("%w: openai stream status %d: %s", providers.ErrProviderTransport, resp.StatusCode, respBody)
	}

	var splitter providers.SentenceSplitter
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var chunk struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
			} `json:"choices"`
		}
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue // ignore malformed keep-alive/comment lines
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		if err := splitter.Feed(delta, onSentence); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("%w: %v", providers.ErrProviderTransport, err)
	}

	return splitter.Flush(onSentence)
}

func jsonErrorBody(resp *http.Response) (string, error) {
	var buf bytes.Buffer
	_, err := buf.ReadFrom(resp.Body)
	return buf.String(), err
}
