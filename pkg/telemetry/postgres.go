// Package telemetry persists call metadata and transcripts to the three
// storage backends the original platform used: Postgres for structured call
// records, MongoDB for per-segment transcription documents, and Redis for
// live session state and pub/sub call events.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS calls (
    id            SERIAL PRIMARY KEY,
    call_id       VARCHAR(64)  NOT NULL UNIQUE,
    uuid          VARCHAR(64),
    caller        VARCHAR(64)  NOT NULL DEFAULT 'unknown',
    scenario_id   VARCHAR(128),
    mode          VARCHAR(32)  NOT NULL DEFAULT 'pipeline',
    robot_name    VARCHAR(128) NOT NULL DEFAULT '',
    language      VARCHAR(16)  NOT NULL DEFAULT 'ru',
    status        VARCHAR(32)  NOT NULL DEFAULT 'active',
    started_at    TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
    ended_at      TIMESTAMPTZ,
    duration_sec  REAL,
    turns         INTEGER      DEFAULT 0,
    barge_ins     INTEGER      DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_calls_started ON calls (started_at DESC);
CREATE INDEX IF NOT EXISTS idx_calls_caller  ON calls (caller);
CREATE INDEX IF NOT EXISTS idx_calls_status  ON calls (status);
`

// Postgres is a thin wrapper over a pgx connection pool exposing the call
// lifecycle operations voicebridge needs.
type Postgres struct {
	pool *pgxpool.Pool
}

// ConnectPostgres opens a pool against dsn and applies the calls-table
// migration. Callers should defer Close.
func ConnectPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("telemetry: parse postgres dsn: %w", err)
	}
	cfg.MinConns = 2
	cfg.MaxConns = 10

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("telemetry: connect postgres: %w", err)
	}

	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("telemetry: apply schema: %w", err)
	}

	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Close() {
	p.pool.Close()
}

// CallRecord describes the fields recorded at call start.
type CallRecord struct {
	CallID     string
	UUID       string
	Caller     string
	ScenarioID string
	Mode       string
	RobotName  string
	Language   string
}

// InsertCall records the start of a call, returning its row id.
func (p *Postgres) InsertCall(ctx context.Context, r CallRecord) (int64, error) {
	var id int64
	err := p.pool.QueryRow(ctx, `
		INSERT INTO calls (call_id, uuid, caller, scenario_id, mode, robot_name, language)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		r.CallID, r.UUID, r.Caller, nullableString(r.ScenarioID), r.Mode, r.RobotName, r.Language,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("telemetry: insert call: %w", err)
	}
	return id, nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// FinishCall marks a call complete with its final stats.
func (p *Postgres) FinishCall(ctx context.Context, callID string, duration time.Duration, turns, bargeIns int, status string) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE calls
		SET ended_at = NOW(), duration_sec = $2, turns = $3, barge_ins = $4, status = $5
		WHERE call_id = $1`,
		callID, duration.Seconds(), turns, bargeIns, status,
	)
	if err != nil {
		return fmt.Errorf("telemetry: finish call: %w", err)
	}
	return nil
}

// GetCall fetches a call row as a generic map, matching asyncpg's dict-row
// convenience in the original implementation.
func (p *Postgres) GetCall(ctx context.Context, callID string) (map[string]any, error) {
	rows, err := p.pool.Query(ctx, "SELECT * FROM calls WHERE call_id = $1", callID)
	if err != nil {
		return nil, fmt.Errorf("telemetry: get call: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	return rowToMap(rows)
}

// ListCalls returns recent calls, newest first.
func (p *Postgres) ListCalls(ctx context.Context, limit, offset int) ([]map[string]any, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT * FROM calls ORDER BY started_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("telemetry: list calls: %w", err)
	}
	defer rows.Close()

	var out []map[string]any
	for rows.Next() {
		m, err := rowToMap(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// rowToMap converts the current row to a column-name-keyed map, mirroring
// asyncpg's dict(row) convenience used throughout the original client.
func rowToMap(rows pgx.Rows) (map[string]any, error) {
	values, err := rows.Values()
	if err != nil {
		return nil, fmt.Errorf("telemetry: scan row: %w", err)
	}
	fields := rows.FieldDescriptions()
	m := make(map[string]any, len(fields))
	for i, f := range fields {
		m[string(f.Name)] = values[i]
	}
	return m, nil
}
