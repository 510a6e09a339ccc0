package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	sessionTTL        = 30 * time.Minute
	scenarioCacheTTL  = 5 * time.Minute
	endedSessionGrace = 60 * time.Second
)

// Redis holds active-call session state, dialog history for LLM context, a
// scenario cache, and the call_events pub/sub channel.
type Redis struct {
	rdb *redis.Client
}

// ConnectRedis dials url (e.g. "redis://localhost:6379/0") and pings it.
func ConnectRedis(ctx context.Context, url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("telemetry: parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("telemetry: ping redis: %w", err)
	}
	return &Redis{rdb: rdb}, nil
}

func (r *Redis) Close() error { return r.rdb.Close() }

func sessionKey(callID string) string { return "call:" + callID }
func historyKey(callID string) string { return "call:" + callID + ":history" }
func scenarioKey(name string) string  { return "scenario:" + name }

// CreateSession seeds the hash backing an active call.
func (r *Redis) CreateSession(ctx context.Context, callID string, mode, robotName, language, scenarioID, caller string) error {
	key := sessionKey(callID)
	fields := map[string]interface{}{
		"state":       "active",
		"mode":        mode,
		"robot_name":  robotName,
		"language":    language,
		"scenario_id": scenarioID,
		"caller":      caller,
		"turns":       "0",
		"barge_ins":   "0",
	}
	if err := r.rdb.HSet(ctx, key, fields).Err(); err != nil {
		return fmt.Errorf("telemetry: create session: %w", err)
	}
	return r.rdb.Expire(ctx, key, sessionTTL).Err()
}

// UpdateSession merges arbitrary fields into the session hash.
func (r *Redis) UpdateSession(ctx context.Context, callID string, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return nil
	}
	str := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		str[k] = fmt.Sprintf("%v", v)
	}
	return r.rdb.HSet(ctx, sessionKey(callID), str).Err()
}

// GetSession returns the session hash, or nil if it doesn't exist.
func (r *Redis) GetSession(ctx context.Context, callID string) (map[string]string, error) {
	data, err := r.rdb.HGetAll(ctx, sessionKey(callID)).Result()
	if err != nil {
		return nil, fmt.Errorf("telemetry: get session: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	return data, nil
}

// EndSession marks the session ended and gives it a short grace TTL so
// readers can still observe the final state briefly before cleanup.
func (r *Redis) EndSession(ctx context.Context, callID string) error {
	key := sessionKey(callID)
	if err := r.rdb.HSet(ctx, key, "state", "ended").Err(); err != nil {
		return fmt.Errorf("telemetry: end session: %w", err)
	}
	return r.rdb.Expire(ctx, key, endedSessionGrace).Err()
}

// PushMessage appends a dialog turn to the call's history list.
func (r *Redis) PushMessage(ctx context.Context, callID string, message map[string]interface{}) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("telemetry: marshal message: %w", err)
	}
	key := historyKey(callID)
	if err := r.rdb.RPush(ctx, key, payload).Err(); err != nil {
		return fmt.Errorf("telemetry: push message: %w", err)
	}
	return r.rdb.Expire(ctx, key, sessionTTL).Err()
}

// GetHistory returns the full dialog history for a call.
func (r *Redis) GetHistory(ctx context.Context, callID string) ([]map[string]interface{}, error) {
	return r.rangeHistory(ctx, callID, 0, -1)
}

// GetRecentHistory returns the last count messages.
func (r *Redis) GetRecentHistory(ctx context.Context, callID string, count int64) ([]map[string]interface{}, error) {
	return r.rangeHistory(ctx, callID, -count, -1)
}

func (r *Redis) rangeHistory(ctx context.Context, callID string, start, stop int64) ([]map[string]interface{}, error) {
	items, err := r.rdb.LRange(ctx, historyKey(callID), start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("telemetry: range history: %w", err)
	}
	out := make([]map[string]interface{}, 0, len(items))
	for _, item := range items {
		var m map[string]interface{}
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			return nil, fmt.Errorf("telemetry: decode history item: %w", err)
		}
		out = append(out, m)
	}
	return out, nil
}

// CacheScenario stores a scenario's config JSON for a short TTL.
func (r *Redis) CacheScenario(ctx context.Context, name string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("telemetry: marshal scenario: %w", err)
	}
	return r.rdb.Set(ctx, scenarioKey(name), payload, scenarioCacheTTL).Err()
}

// GetCachedScenario returns the cached scenario, or nil if absent/expired.
func (r *Redis) GetCachedScenario(ctx context.Context, name string) (map[string]interface{}, error) {
	raw, err := r.rdb.Get(ctx, scenarioKey(name)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("telemetry: get cached scenario: %w", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("telemetry: decode cached scenario: %w", err)
	}
	return m, nil
}

// PublishEvent publishes {"type": eventType, ...data} on the call_events
// channel for live dashboards to subscribe to.
func (r *Redis) PublishEvent(ctx context.Context, eventType string, data map[string]interface{}) error {
	payload := map[string]interface{}{"type": eventType}
	for k, v := range data {
		payload[k] = v
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("telemetry: marshal event: %w", err)
	}
	return r.rdb.Publish(ctx, "call_events", body).Err()
}

// SubscribeEvents returns a live subscription to the call_events channel.
func (r *Redis) SubscribeEvents(ctx context.Context) *redis.PubSub {
	return r.rdb.Subscribe(ctx, "call_events")
}

// ActiveCallsCount scans session keys and counts ones still marked active.
func (r *Redis) ActiveCallsCount(ctx context.Context) (int, error) {
	count := 0
	iter := r.rdb.Scan(ctx, 0, "call:*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		if strings.Contains(key, ":history") {
			continue
		}
		state, err := r.rdb.HGet(ctx, key, "state").Result()
		if err != nil && err != redis.Nil {
			return 0, fmt.Errorf("telemetry: scan active calls: %w", err)
		}
		if state == "active" {
			count++
		}
	}
	return count, iter.Err()
}

// parseIntField is a small helper for callers reading numeric fields back
// out of a session hash (all hash values are strings).
func parseIntField(v string) int {
	n, _ := strconv.Atoi(v)
	return n
}
