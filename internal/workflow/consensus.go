package workflow

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/ahrav/go-appraise/internal/appraisal"
	"github.com/ahrav/go-appraise/internal/consensus"
)

// Activity settings of ConsensusWorkflow. A run makes (rounds+1) calls per
// appraiser plus one aggregator call, so the timeout is generous while the
// heartbeat catches a stuck round.
const (
	consensusStartToClose = 15 * time.Minute
	consensusHeartbeat    = 2 * time.Minute
	consensusMaxAttempts  = 3
)

// ConsensusWorkflow runs one appraisal through the RunConsensus activity.
// The workflow run ID becomes the consensus run ID unless the request names one.
func ConsensusWorkflow(ctx workflow.Context, req appraisal.Request) (*consensus.Report, error) {
	const currentVersion = 1
	_ = workflow.GetVersion(ctx, "consensus.v", workflow.DefaultVersion, currentVersion)

	if err := req.Validate(); err != nil {
		return nil, temporal.NewNonRetryableApplicationError(
			"invalid appraisal request",
			appraisal.ErrTypeValidation,
			err,
		)
	}
	if req.RunID == "" {
		req.RunID = workflow.GetInfo(ctx).WorkflowExecution.RunID
	}

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: consensusStartToClose,
		HeartbeatTimeout:    consensusHeartbeat,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    time.Minute,
			MaximumAttempts:    consensusMaxAttempts,
			NonRetryableErrorTypes: []string{
				appraisal.ErrTypeValidation,
				appraisal.ErrTypeConfiguration,
			},
		},
	})

	logger := workflow.GetLogger(ctx)
	logger.Info("starting consensus", "run_id", req.RunID, "holdout", req.Holdout)

	var report consensus.Report
	if err := workflow.ExecuteActivity(ctx, appraisal.ActivityRunConsensus, req).Get(ctx, &report); err != nil {
		logger.Error("consensus activity failed", "run_id", req.RunID, "error", err)
		return nil, err
	}

	logger.Info("consensus completed",
		"run_id", report.RunID,
		"price", report.Result.Price,
		"aggregator_used", report.AggregatorUsed)
	return &report, nil
}
