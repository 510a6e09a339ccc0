package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/lokutor-ai/voicebridge/internal/logging"
)

// With every sink nil, Recorder must be a safe no-op: telemetry failures or
// absent backends should never be load-bearing for the call itself.
func TestRecorderNilSinksDoNotPanic(t *testing.T) {
	rec := NewRecorder(nil, nil, nil, logging.NoOp{})
	ctx := context.Background()

	rec.CallStarted(ctx, CallRecord{CallID: "c1", Caller: "+70000000000", Mode: "pipeline", Language: "ru"})
	rec.TurnRecorded(ctx, "c1", Segment{Role: "user", Text: "hello"})
	rec.PipelineStepRecorded(ctx, "c1", PipelineStep{Step: "asr", DurationMs: 100})
	rec.BargeIn(ctx, "c1")
	rec.CallFinished(ctx, "c1", 5*time.Second, 2, 1, "completed")
}

func TestParseIntField(t *testing.T) {
	if parseIntField("42") != 42 {
		t.Error("expected 42")
	}
	if parseIntField("") != 0 {
		t.Error("expected 0 for empty field")
	}
	if parseIntField("not-a-number") != 0 {
		t.Error("expected 0 for malformed field")
	}
}
