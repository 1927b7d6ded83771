// Package activity provides the shared plumbing of Temporal activities:
// workflow context extraction, best-effort event emission, heartbeats and
// logging that also work when an activity method is called outside Temporal.
package activity

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/activity"

	"github.com/ahrav/go-appraise/pkg/events"
)

// Event emission retry settings.
const (
	emitAttempts   = 2
	emitRetryDelay = 200 * time.Millisecond
)

// WorkflowContext identifies the workflow execution running an activity.
type WorkflowContext struct {
	WorkflowID string
	RunID      string
	ActivityID string
	Attempt    int32
}

// BaseActivities is embedded by activity structs.
type BaseActivities struct {
	eventSink events.EventSink
}

// NewBaseActivities creates BaseActivities. A nil sink disables events.
func NewBaseActivities(sink events.EventSink) BaseActivities {
	return BaseActivities{eventSink: sink}
}

// GetWorkflowContext returns the execution details of ctx. Outside an
// activity context it returns generated local identifiers.
func (b *BaseActivities) GetWorkflowContext(ctx context.Context) WorkflowContext {
	if !isActivity(ctx) {
		return WorkflowContext{
			WorkflowID: "local",
			RunID:      "local-" + uuid.NewString()[:8],
			ActivityID: "local",
			Attempt:    1,
		}
	}
	info := activity.GetInfo(ctx)
	return WorkflowContext{
		WorkflowID: info.WorkflowExecution.ID,
		RunID:      info.WorkflowExecution.RunID,
		ActivityID: info.ActivityID,
		Attempt:    info.Attempt,
	}
}

// EmitEventSafe appends envelope to the sink, retrying once after a short
// delay. Failures are logged and never returned.
func (b *BaseActivities) EmitEventSafe(ctx context.Context, envelope events.Envelope, description string) {
	if b.eventSink == nil {
		return
	}

	var lastErr error
	for attempt := range emitAttempts {
		if attempt > 0 {
			select {
			case <-time.After(emitRetryDelay):
			case <-ctx.Done():
				SafeLogError(ctx, "event emission cancelled: "+description, "event_type", envelope.Type)
				return
			}
		}
		if lastErr = b.eventSink.Append(ctx, envelope); lastErr == nil {
			SafeLog(ctx, "event emitted: "+description,
				"event_type", envelope.Type,
				"idempotency_key", envelope.IdempotencyKey)
			return
		}
	}
	SafeLogError(ctx, fmt.Sprintf("failed to emit %s after %d attempts", description, emitAttempts),
		"event_type", envelope.Type,
		"error", lastErr)
}

// RecordHeartbeat records a heartbeat when ctx is an activity context.
func (b *BaseActivities) RecordHeartbeat(ctx context.Context, details ...any) {
	RecordHeartbeat(ctx, details...)
}

// SafeLog logs through the activity logger; it is a no-op outside activities.
func SafeLog(ctx context.Context, msg string, keyvals ...any) {
	if isActivity(ctx) {
		activity.GetLogger(ctx).Info(msg, keyvals...)
	}
}

// SafeLogError is SafeLog at error level.
func SafeLogError(ctx context.Context, msg string, keyvals ...any) {
	if isActivity(ctx) {
		activity.GetLogger(ctx).Error(msg, keyvals...)
	}
}

// RecordHeartbeat is a no-op outside activities.
func RecordHeartbeat(ctx context.Context, details ...any) {
	if isActivity(ctx) {
		activity.RecordHeartbeat(ctx, details...)
	}
}

// isActivity reports whether ctx carries Temporal activity state; the SDK
// panics when activity APIs are used on a plain context.
func isActivity(ctx context.Context) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	_ = activity.GetInfo(ctx)
	return true
}
