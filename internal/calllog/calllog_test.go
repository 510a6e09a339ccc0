package calllog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/lokutor-ai/voicebridge/internal/logging"
)

func TestSaveWritesExpectedFile(t *testing.T) {
	dir := t.TempDir()

	entry := Entry{
		UUID:        "abcdef1234567890",
		Caller:      "+70001112233",
		CallTime:    "2026-07-31 10:00:00",
		DurationSec: 12.345,
		Turns:       2,
		BargeIns:    0,
		ASRDetails:  []TurnMetric{{TurnNumber: 1, ASRLatency: 280, Provider: "yandex"}},
		Transcript:  []string{"user: hi", "assistant: hello"},
	}
	Save(dir, entry, logging.NoOp{})

	wantName := "20260731_100000_+70001112233_abcdef12.json"
	path := filepath.Join(dir, "logs", wantName)
	body, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected file %s: %v", path, err)
	}

	var got Entry
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("unmarshal written log: %v", err)
	}
	if got.DurationSec != 12.3 {
		t.Errorf("duration_sec = %v, want rounded 12.3", got.DurationSec)
	}
	if len(got.Transcript) != 2 {
		t.Errorf("expected 2 transcript lines, got %d", len(got.Transcript))
	}
}

func TestFileNameShortUUIDFallback(t *testing.T) {
	name := fileName("2026-07-31 10:00:00", "unknown", "")
	if name != "20260731_100000_unknown_x.json" {
		t.Errorf("got %q", name)
	}
}
