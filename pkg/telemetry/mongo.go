package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const transcriptionsCollection = "transcriptions"

// Mongo stores per-call transcription documents: one document per call_id,
// with an append-only array of dialog segments and pipeline timing steps.
type Mongo struct {
	client *mongo.Client
	col    *mongo.Collection
}

// ConnectMongo dials uri, selects database, and ensures the indexes the
// original platform relied on for lookups by call and by language.
func ConnectMongo(ctx context.Context, uri, database string) (*Mongo, error) {
	if database == "" {
		database = "voice_platform"
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("telemetry: connect mongo: %w", err)
	}
	col := client.Database(database).Collection(transcriptionsCollection)

	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "call_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "started_at", Value: 1}}},
		{Keys: bson.D{{Key: "metadata.language", Value: 1}}},
	}
	if _, err := col.Indexes().CreateMany(ctx, indexes); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("telemetry: ensure mongo indexes: %w", err)
	}

	return &Mongo{client: client, col: col}, nil
}

func (m *Mongo) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

// Segment is one turn of dialog (user or assistant) recorded into a call's
// transcription document.
type Segment struct {
	Role         string    `bson:"role"`
	Text         string    `bson:"text"`
	Confidence   float64   `bson:"confidence,omitempty"`
	ASRProvider  string    `bson:"asr_provider,omitempty"`
	ASRLatencyMs int64     `bson:"asr_latency_ms,omitempty"`
	LLMProvider  string    `bson:"llm_provider,omitempty"`
	LLMLatencyMs int64     `bson:"llm_latency_ms,omitempty"`
	TTSProvider  string    `bson:"tts_provider,omitempty"`
	TTSLatencyMs int64     `bson:"tts_latency_ms,omitempty"`
	Timestamp    time.Time `bson:"timestamp"`
}

// PipelineStep is one stage timing recorded for observability/debugging.
type PipelineStep struct {
	Step       string `bson:"step"`
	DurationMs int64  `bson:"duration_ms"`
	Provider   string `bson:"provider"`
	Result     string `bson:"result"`
	Turn       int    `bson:"turn"`
}

// CreateTranscription inserts the shell document for a new call.
func (m *Mongo) CreateTranscription(ctx context.Context, callID, language string) error {
	now := time.Now()
	doc := bson.M{
		"call_id":      callID,
		"segments":     bson.A{},
		"pipeline_log": bson.A{},
		"metadata": bson.M{
			"language":          language,
			"total_duration_ms": 0,
			"turns_count":       0,
		},
		"started_at": now,
		"updated_at": now,
	}
	_, err := m.col.InsertOne(ctx, doc)
	if err != nil {
		return fmt.Errorf("telemetry: create transcription: %w", err)
	}
	return nil
}

// AddSegment appends a dialog turn and bumps the turn counter.
func (m *Mongo) AddSegment(ctx context.Context, callID string, seg Segment) error {
	if seg.Timestamp.IsZero() {
		seg.Timestamp = time.Now()
	}
	_, err := m.col.UpdateOne(ctx,
		bson.M{"call_id": callID},
		bson.M{
			"$push": bson.M{"segments": seg},
			"$inc":  bson.M{"metadata.turns_count": 1},
			"$set":  bson.M{"updated_at": time.Now()},
		},
	)
	if err != nil {
		return fmt.Errorf("telemetry: add segment: %w", err)
	}
	return nil
}

// AddPipelineStep appends a stage-timing record.
func (m *Mongo) AddPipelineStep(ctx context.Context, callID string, step PipelineStep) error {
	_, err := m.col.UpdateOne(ctx,
		bson.M{"call_id": callID},
		bson.M{
			"$push": bson.M{"pipeline_log": step},
			"$set":  bson.M{"updated_at": time.Now()},
		},
	)
	if err != nil {
		return fmt.Errorf("telemetry: add pipeline step: %w", err)
	}
	return nil
}

// FinishTranscription records the final call duration.
func (m *Mongo) FinishTranscription(ctx context.Context, callID string, totalDuration time.Duration) error {
	_, err := m.col.UpdateOne(ctx,
		bson.M{"call_id": callID},
		bson.M{"$set": bson.M{
			"metadata.total_duration_ms": totalDuration.Milliseconds(),
			"updated_at":                 time.Now(),
		}},
	)
	if err != nil {
		return fmt.Errorf("telemetry: finish transcription: %w", err)
	}
	return nil
}

// GetTranscription fetches the full document for a call.
func (m *Mongo) GetTranscription(ctx context.Context, callID string) (bson.M, error) {
	var doc bson.M
	err := m.col.FindOne(ctx, bson.M{"call_id": callID}, options.FindOne().SetProjection(bson.M{"_id": 0})).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("telemetry: get transcription: %w", err)
	}
	return doc, nil
}

// ListTranscriptions returns transcription summaries (without segments),
// newest first.
func (m *Mongo) ListTranscriptions(ctx context.Context, limit, offset int64) ([]bson.M, error) {
	opts := options.Find().
		SetProjection(bson.M{"_id": 0, "call_id": 1, "metadata": 1, "started_at": 1, "updated_at": 1}).
		SetSort(bson.D{{Key: "started_at", Value: -1}}).
		SetSkip(offset).
		SetLimit(limit)

	cur, err := m.col.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("telemetry: list transcriptions: %w", err)
	}
	defer cur.Close(ctx)

	var out []bson.M
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("telemetry: decode transcriptions: %w", err)
	}
	return out, nil
}

// SearchSegments does a case-insensitive regex search over segment text.
func (m *Mongo) SearchSegments(ctx context.Context, query string, limit int64) ([]bson.M, error) {
	filter := bson.M{"segments.text": bson.M{"$regex": query, "$options": "i"}}
	opts := options.Find().
		SetProjection(bson.M{"_id": 0, "call_id": 1, "segments": 1, "metadata": 1}).
		SetLimit(limit)

	cur, err := m.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("telemetry: search segments: %w", err)
	}
	defer cur.Close(ctx)

	var out []bson.M
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("telemetry: decode search results: %w", err)
	}
	return out, nil
}
