// Package notify delivers call-completion reports to Telegram, mirroring
// the original platform's fire-and-forget notification hook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/lokutor-ai/voicebridge/internal/logging"
)

const sendTimeout = 5 * time.Second

// Telegram posts sendMessage calls against the Bot API. A zero-value
// Telegram (empty token/chatID) silently no-ops, matching the original's
// behavior of skipping notification entirely when unconfigured.
type Telegram struct {
	token  string
	chatID string
	client *http.Client
	log    logging.Logger
}

func New(token, chatID string, log logging.Logger) *Telegram {
	if log == nil {
		log = logging.NoOp{}
	}
	return &Telegram{
		token:  token,
		chatID: chatID,
		client: &http.Client{Timeout: sendTimeout},
		log:    log,
	}
}

// Send posts text to the configured chat. Failures are logged as warnings,
// never returned as errors — a notification delivery failure must never
// disrupt the call that triggered it.
func (t *Telegram) Send(ctx context.Context, text string) {
	if t.token == "" || t.chatID == "" {
		return
	}

	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.token)
	payload, err := json.Marshal(map[string]string{
		"chat_id":    t.chatID,
		"text":       text,
		"parse_mode": "HTML",
	})
	if err != nil {
		t.log.Warn("telegram: marshal payload failed", "error", err)
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(sendCtx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		t.log.Warn("telegram: build request failed", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		t.log.Warn("telegram: send error", "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.log.Warn("telegram: send failed", "status", resp.StatusCode)
	}
}

// CallReport describes the fields summarized in a call's completion report.
type CallReport struct {
	Caller     string
	UUID       string
	CallTime   string
	Duration   time.Duration
	Turns      int
	BargeIns   int
	ASRAvgMs   int
	Transcript []string
}

// FormatCallReport renders a CallReport as the HTML message body Telegram
// expects, matching the original's emoji-headed summary-then-transcript
// layout.
func FormatCallReport(r CallReport) string {
	header := fmt.Sprintf(
		"\U0001F4DE <b>Call Report</b>\n"+
			"Tel: %s\n"+
			"Call time: %s\n"+
			"Call uuid: %s\n"+
			"Duration: %.0fs | Turns: %d | Barge-ins: %d | ASR avg: %dms\n\n"+
			"✍️ <b>Transcript:</b>\n",
		r.Caller, r.CallTime, r.UUID, r.Duration.Seconds(), r.Turns, r.BargeIns, r.ASRAvgMs,
	)
	return header + strings.Join(r.Transcript, "\n")
}
