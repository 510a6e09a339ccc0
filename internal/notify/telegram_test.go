package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/lokutor-ai/voicebridge/internal/logging"
)

func TestSendSkipsWhenUnconfigured(t *testing.T) {
	var called bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer server.Close()

	tg := New("", "", logging.NoOp{})
	tg.client = server.Client()
	tg.Send(context.Background(), "hello")
	if called {
		t.Error("expected no request for unconfigured telegram")
	}
}

func TestFormatCallReport(t *testing.T) {
	report := FormatCallReport(CallReport{
		Caller:     "+70001112233",
		UUID:       "abc-123",
		CallTime:   "2026-07-31 10:00:00",
		Duration:   42 * time.Second,
		Turns:      3,
		BargeIns:   1,
		ASRAvgMs:   250,
		Transcript: []string{"user: hi", "assistant: hello"},
	})
	if !strings.Contains(report, "Tel: +70001112233") {
		t.Errorf("report missing caller: %s", report)
	}
	if !strings.Contains(report, "Duration: 42s | Turns: 3 | Barge-ins: 1 | ASR avg: 250ms") {
		t.Errorf("report missing summary line: %s", report)
	}
	if !strings.Contains(report, "user: hi\nassistant: hello") {
		t.Errorf("report missing transcript body: %s", report)
	}
	if !strings.HasPrefix(report, "\U0001F4DE <b>Call Report</b>") {
		t.Errorf("report missing header: %s", report)
	}
}
