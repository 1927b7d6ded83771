package appraisal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"

	"github.com/ahrav/go-appraise/internal/challenge"
	"github.com/ahrav/go-appraise/internal/consensus"
	"github.com/ahrav/go-appraise/internal/domain"
	"github.com/ahrav/go-appraise/pkg/activity"
)

// ActivityRunConsensus is the registered name of Activities.RunConsensus.
const ActivityRunConsensus = "RunConsensus"

// Application error types attached to activity failures.
const (
	ErrTypeValidation    = "Validation"
	ErrTypeConfiguration = "Configuration"
	ErrTypeRun           = "ConsensusRun"
)

// Activities hosts the appraisal activity on a Temporal worker.
type Activities struct {
	activity.BaseActivities
	service *Service
	events  *EventEmitter
}

// NewActivities creates the activity set around service.
func NewActivities(base activity.BaseActivities, service *Service) *Activities {
	return &Activities{
		BaseActivities: base,
		service:        service,
		events:         NewEventEmitter(base),
	}
}

// RunConsensus runs one appraisal. Every recorded round heartbeats and emits
// a round event; the finished run emits a completion event. Invalid requests
// and configuration problems fail without retry.
func (a *Activities) RunConsensus(ctx context.Context, req Request) (*consensus.Report, error) {
	if err := req.Validate(); err != nil {
		return nil, nonRetryable(ErrTypeValidation, err, "invalid appraisal request")
	}

	wf := a.GetWorkflowContext(ctx)
	if req.RunID == "" {
		req.RunID = wf.RunID
	}
	activity.SafeLog(ctx, "starting consensus run",
		"workflow_id", wf.WorkflowID,
		"run_id", req.RunID,
		"attempt", wf.Attempt)

	start := time.Now()
	report, err := a.service.Appraise(ctx, req, consensus.OnRound(func(e challenge.RoundEvent) {
		a.RecordHeartbeat(ctx, fmt.Sprintf("%s round %d", e.AppraiserID, e.Round))
		a.events.EmitRoundRecorded(ctx, req.RunID, wf, e)
	}))
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidRequest):
			return nil, nonRetryable(ErrTypeValidation, err, "invalid appraisal request")
		case errors.Is(err, domain.ErrConfiguration):
			return nil, nonRetryable(ErrTypeConfiguration, err, "invalid consensus configuration")
		case ctx.Err() != nil:
			return nil, err
		default:
			return nil, retryable(ErrTypeRun, err, "consensus run failed")
		}
	}

	a.events.EmitCompleted(ctx, wf, report)
	activity.SafeLog(ctx, "consensus run completed",
		"run_id", report.RunID,
		"price", report.Result.Price,
		"aggregator_used", report.AggregatorUsed,
		"latency_ms", time.Since(start).Milliseconds())
	return report, nil
}

func nonRetryable(tag string, cause error, msg string) error {
	return temporal.NewNonRetryableApplicationError(msg, tag, cause)
}

func retryable(tag string, cause error, msg string) error {
	return temporal.NewApplicationError(msg, tag, cause)
}
