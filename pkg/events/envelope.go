// Package events carries appraisal run events to downstream consumers. Every
// event is wrapped in an Envelope with routing and idempotency metadata and
// appended to an EventSink on a best-effort basis.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// SchemaVersion is stamped on every envelope.
const SchemaVersion = "1.0.0"

// Envelope wraps an event payload with consistent metadata.
type Envelope struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Source  string `json:"source"`
	Version string `json:"version"`

	Timestamp time.Time `json:"timestamp"`

	// IdempotencyKey is stable across activity retries so consumers can drop duplicates.
	IdempotencyKey string `json:"idempotency_key"`

	WorkflowID string `json:"workflow_id,omitempty"`
	RunID      string `json:"run_id"`

	Payload json.RawMessage `json:"payload"`
}

// New marshals payload into an envelope with a fresh ID and timestamp.
func New(typ, source, idempotencyKey, workflowID, runID string, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	return Envelope{
		ID:             uuid.NewString(),
		Type:           typ,
		Source:         source,
		Version:        SchemaVersion,
		Timestamp:      time.Now().UTC(),
		IdempotencyKey: idempotencyKey,
		WorkflowID:     workflowID,
		RunID:          runID,
		Payload:        data,
	}, nil
}

// EventSink receives envelopes. Append should return quickly; callers never
// fail their primary operation because of a sink error.
type EventSink interface {
	Append(ctx context.Context, envelope Envelope) error
}

// NoOpEventSink drops every event.
type NoOpEventSink struct{}

// Append implements EventSink.
func (n *NoOpEventSink) Append(_ context.Context, _ Envelope) error { return nil }

// NewNoOpEventSink creates a sink that drops events.
func NewNoOpEventSink() EventSink { return &NoOpEventSink{} }

// LogSink writes events to a structured logger.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a sink that logs each event at info level.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger.With("component", "events")}
}

// Append implements EventSink.
func (s *LogSink) Append(ctx context.Context, e Envelope) error {
	s.logger.InfoContext(ctx, "event",
		"type", e.Type,
		"run_id", e.RunID,
		"idempotency_key", e.IdempotencyKey,
		"payload", string(e.Payload),
	)
	return nil
}

// DefaultStreamMaxLen bounds the Redis stream when no limit is configured.
const DefaultStreamMaxLen = 10000

// RedisStreamSink appends envelopes to a Redis stream with XADD.
type RedisStreamSink struct {
	client redis.UniversalClient
	stream string
	maxLen int64
}

// NewRedisStreamSink creates a sink writing to stream, trimmed approximately to maxLen entries.
func NewRedisStreamSink(client redis.UniversalClient, stream string, maxLen int64) *RedisStreamSink {
	if maxLen <= 0 {
		maxLen = DefaultStreamMaxLen
	}
	return &RedisStreamSink{client: client, stream: stream, maxLen: maxLen}
}

// Append implements EventSink.
func (s *RedisStreamSink) Append(ctx context.Context, e Envelope) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	err = s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]any{
			"type":            e.Type,
			"idempotency_key": e.IdempotencyKey,
			"envelope":        string(data),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", s.stream, err)
	}
	return nil
}
