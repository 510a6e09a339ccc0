package telemetry

import (
	"context"
	"time"

	"github.com/lokutor-ai/voicebridge/internal/logging"
)

// Recorder fans call telemetry out to whichever sinks are configured. Each
// sink is optional and independent: a write failure on one (e.g. Mongo is
// down) is logged and swallowed rather than aborting the others or the call
// itself. Telemetry is an observability concern, never load-bearing for the
// dialog loop.
type Recorder struct {
	pg    *Postgres
	mongo *Mongo
	redis *Redis
	log   logging.Logger
}

// NewRecorder builds a Recorder from whichever sinks were successfully
// connected; any of them may be nil.
func NewRecorder(pg *Postgres, mongo *Mongo, redis *Redis, log logging.Logger) *Recorder {
	if log == nil {
		log = logging.NoOp{}
	}
	return &Recorder{pg: pg, mongo: mongo, redis: redis, log: log}
}

// CallStarted records the start of a call across every configured sink.
func (rec *Recorder) CallStarted(ctx context.Context, r CallRecord) {
	if rec.pg != nil {
		if _, err := rec.pg.InsertCall(ctx, r); err != nil {
			rec.log.Error("telemetry: postgres insert_call failed", "call", r.CallID, "error", err)
		}
	}
	if rec.mongo != nil {
		if err := rec.mongo.CreateTranscription(ctx, r.CallID, r.Language); err != nil {
			rec.log.Error("telemetry: mongo create_transcription failed", "call", r.CallID, "error", err)
		}
	}
	if rec.redis != nil {
		if err := rec.redis.CreateSession(ctx, r.CallID, r.Mode, r.RobotName, r.Language, r.ScenarioID, r.Caller); err != nil {
			rec.log.Error("telemetry: redis create_session failed", "call", r.CallID, "error", err)
		}
		if err := rec.redis.PublishEvent(ctx, "call_started", map[string]interface{}{"call_id": r.CallID, "caller": r.Caller}); err != nil {
			rec.log.Error("telemetry: redis publish_event failed", "call", r.CallID, "error", err)
		}
	}
}

// TurnRecorded appends one dialog segment (user or assistant turn).
func (rec *Recorder) TurnRecorded(ctx context.Context, callID string, seg Segment) {
	if rec.mongo != nil {
		if err := rec.mongo.AddSegment(ctx, callID, seg); err != nil {
			rec.log.Error("telemetry: mongo add_segment failed", "call", callID, "error", err)
		}
	}
	if rec.redis != nil {
		msg := map[string]interface{}{"role": seg.Role, "text": seg.Text}
		if err := rec.redis.PushMessage(ctx, callID, msg); err != nil {
			rec.log.Error("telemetry: redis push_message failed", "call", callID, "error", err)
		}
	}
}

// PipelineStepRecorded appends one stage-timing record (ASR/LLM/TTS).
func (rec *Recorder) PipelineStepRecorded(ctx context.Context, callID string, step PipelineStep) {
	if rec.mongo != nil {
		if err := rec.mongo.AddPipelineStep(ctx, callID, step); err != nil {
			rec.log.Error("telemetry: mongo add_pipeline_step failed", "call", callID, "error", err)
		}
	}
}

// BargeIn notifies sinks that a barge-in occurred, for live dashboards.
func (rec *Recorder) BargeIn(ctx context.Context, callID string) {
	if rec.redis != nil {
		if err := rec.redis.PublishEvent(ctx, "barge_in", map[string]interface{}{"call_id": callID}); err != nil {
			rec.log.Error("telemetry: redis publish_event failed", "call", callID, "error", err)
		}
	}
}

// CallFinished records the end of a call across every configured sink.
func (rec *Recorder) CallFinished(ctx context.Context, callID string, duration time.Duration, turns, bargeIns int, status string) {
	if rec.pg != nil {
		if err := rec.pg.FinishCall(ctx, callID, duration, turns, bargeIns, status); err != nil {
			rec.log.Error("telemetry: postgres finish_call failed", "call", callID, "error", err)
		}
	}
	if rec.mongo != nil {
		if err := rec.mongo.FinishTranscription(ctx, callID, duration); err != nil {
			rec.log.Error("telemetry: mongo finish_transcription failed", "call", callID, "error", err)
		}
	}
	if rec.redis != nil {
		if err := rec.redis.EndSession(ctx, callID); err != nil {
			rec.log.Error("telemetry: redis end_session failed", "call", callID, "error", err)
		}
		if err := rec.redis.PublishEvent(ctx, "call_ended", map[string]interface{}{"call_id": callID, "status": status}); err != nil {
			rec.log.Error("telemetry: redis publish_event failed", "call", callID, "error", err)
		}
	}
}
