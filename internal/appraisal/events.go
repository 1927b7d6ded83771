package appraisal

import (
	"context"
	"fmt"

	"github.com/ahrav/go-appraise/internal/challenge"
	"github.com/ahrav/go-appraise/internal/consensus"
	"github.com/ahrav/go-appraise/internal/domain"
	"github.com/ahrav/go-appraise/internal/nft"
	"github.com/ahrav/go-appraise/pkg/activity"
	"github.com/ahrav/go-appraise/pkg/events"
)

// Event types.
const (
	EventRoundRecorded = "appraisal.round_recorded"
	EventCompleted     = "appraisal.consensus_completed"

	eventSource = "appraisal-activity"
)

type roundRecordedEvent struct {
	AppraiserID string           `json:"appraiser_id"`
	Round       int              `json:"round"`
	Price       *float64         `json:"price"`
	Kind        domain.ReplyKind `json:"kind"`
}

type completedEvent struct {
	Price                float64            `json:"price"`
	StandardDeviation    float64            `json:"standard_deviation"`
	Weights              domain.WeightTable `json:"weights"`
	OutliersRemoved      int                `json:"outliers_removed"`
	DispersionConfidence float64            `json:"dispersion_confidence"`
	AggregatorUsed       bool               `json:"aggregator_used"`
	FailedAppraisers     []string           `json:"failed_appraisers,omitempty"`
	Accuracy             *nft.Accuracy      `json:"accuracy,omitempty"`
	DurationMillis       int64              `json:"duration_millis"`
}

// EventEmitter builds and emits appraisal events through the base sink.
type EventEmitter struct {
	base activity.BaseActivities
}

// NewEventEmitter creates an EventEmitter.
func NewEventEmitter(base activity.BaseActivities) *EventEmitter {
	return &EventEmitter{base: base}
}

// EmitRoundRecorded emits one event per recorded challenge round. The
// idempotency key is stable across activity retries of the same run.
func (e *EventEmitter) EmitRoundRecorded(ctx context.Context, runID string, wf activity.WorkflowContext, ev challenge.RoundEvent) {
	env, err := events.New(EventRoundRecorded, eventSource,
		fmt.Sprintf("%s/%s/round-%d", runID, ev.AppraiserID, ev.Round),
		wf.WorkflowID, runID,
		roundRecordedEvent{
			AppraiserID: ev.AppraiserID,
			Round:       ev.Round,
			Price:       ev.Appraisal.Price,
			Kind:        ev.Appraisal.Kind,
		})
	if err != nil {
		activity.SafeLogError(ctx, "failed to build round event", "error", err)
		return
	}
	e.base.EmitEventSafe(ctx, env, fmt.Sprintf("RoundRecorded[%s/%d]", ev.AppraiserID, ev.Round))
}

// EmitCompleted emits the summary of a finished run.
func (e *EventEmitter) EmitCompleted(ctx context.Context, wf activity.WorkflowContext, r *consensus.Report) {
	env, err := events.New(EventCompleted, eventSource, r.RunID+"/completed", wf.WorkflowID, r.RunID,
		completedEvent{
			Price:                r.Result.Price,
			StandardDeviation:    r.Result.StandardDeviation,
			Weights:              r.Weights,
			OutliersRemoved:      r.Stats.OutliersRemoved,
			DispersionConfidence: r.DispersionConfidence,
			AggregatorUsed:       r.AggregatorUsed,
			FailedAppraisers:     r.FailedAppraisers,
			Accuracy:             r.Accuracy,
			DurationMillis:       r.Duration.Milliseconds(),
		})
	if err != nil {
		activity.SafeLogError(ctx, "failed to build completion event", "error", err)
		return
	}
	e.base.EmitEventSafe(ctx, env, "ConsensusCompleted["+r.RunID+"]")
}
