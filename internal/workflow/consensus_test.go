package workflow

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"

	"github.com/ahrav/go-appraise/internal/appraisal"
	"github.com/ahrav/go-appraise/internal/consensus"
	"github.com/ahrav/go-appraise/internal/domain"
	"github.com/ahrav/go-appraise/internal/nft"
)

func validRequest() appraisal.Request {
	return appraisal.Request{Item: nft.Item{
		Name:         "Art Blocks",
		TokenID:      "78000956",
		TokenAddress: "0xa7d8d9ef8d8ce8992df33d8b8cf4aebabd5bd270",
		SalesHistory: []nft.Sale{{PriceEthereum: 24.61, PriceUSD: 61914.7812, Date: "2025-03-03 17:49:35"}},
	}}
}

type runConsensusFunc func(context.Context, appraisal.Request) (*consensus.Report, error)

func register(env *testsuite.TestWorkflowEnvironment, fn runConsensusFunc) {
	env.RegisterActivityWithOptions(fn, activity.RegisterOptions{Name: appraisal.ActivityRunConsensus})
}

func TestConsensusWorkflow(t *testing.T) {
	var suite testsuite.WorkflowTestSuite

	t.Run("returns the activity report", func(t *testing.T) {
		env := suite.NewTestWorkflowEnvironment()
		var seen appraisal.Request
		register(env, func(_ context.Context, req appraisal.Request) (*consensus.Report, error) {
			seen = req
			return &consensus.Report{
				RunID:          req.RunID,
				Result:         domain.ConsensusResult{Price: 62000, Explanation: "ok", Models: map[string]domain.ModelDetail{}},
				AggregatorUsed: true,
			}, nil
		})

		env.ExecuteWorkflow(ConsensusWorkflow, validRequest())
		require.True(t, env.IsWorkflowCompleted())
		require.NoError(t, env.GetWorkflowError())

		var report consensus.Report
		require.NoError(t, env.GetWorkflowResult(&report))
		assert.InDelta(t, 62000, report.Result.Price, 1e-9)
		assert.NotEmpty(t, seen.RunID, "workflow run id is used as the consensus run id")
		assert.Equal(t, seen.RunID, report.RunID)
	})

	t.Run("keeps a caller supplied run id", func(t *testing.T) {
		env := suite.NewTestWorkflowEnvironment()
		register(env, func(_ context.Context, req appraisal.Request) (*consensus.Report, error) {
			return &consensus.Report{RunID: req.RunID}, nil
		})
		req := validRequest()
		req.RunID = "caller-run"
		env.ExecuteWorkflow(ConsensusWorkflow, req)

		var report consensus.Report
		require.NoError(t, env.GetWorkflowResult(&report))
		assert.Equal(t, "caller-run", report.RunID)
	})

	t.Run("invalid request fails validation", func(t *testing.T) {
		env := suite.NewTestWorkflowEnvironment()
		var ran atomic.Bool
		register(env, func(context.Context, appraisal.Request) (*consensus.Report, error) {
			ran.Store(true)
			return nil, nil
		})
		env.ExecuteWorkflow(ConsensusWorkflow, appraisal.Request{})
		require.True(t, env.IsWorkflowCompleted())
		assert.False(t, ran.Load())

		var appErr *temporal.ApplicationError
		require.ErrorAs(t, env.GetWorkflowError(), &appErr)
		assert.Equal(t, appraisal.ErrTypeValidation, appErr.Type())
		assert.True(t, appErr.NonRetryable())
	})

	t.Run("configuration errors are not retried", func(t *testing.T) {
		env := suite.NewTestWorkflowEnvironment()
		var attempts atomic.Int32
		register(env, func(context.Context, appraisal.Request) (*consensus.Report, error) {
			attempts.Add(1)
			return nil, temporal.NewNonRetryableApplicationError("bad config", appraisal.ErrTypeConfiguration, domain.ErrConfiguration)
		})
		env.ExecuteWorkflow(ConsensusWorkflow, validRequest())

		var appErr *temporal.ApplicationError
		require.ErrorAs(t, env.GetWorkflowError(), &appErr)
		assert.Equal(t, appraisal.ErrTypeConfiguration, appErr.Type())
		assert.Equal(t, int32(1), attempts.Load())
	})

	t.Run("transient failures are retried", func(t *testing.T) {
		env := suite.NewTestWorkflowEnvironment()
		var attempts atomic.Int32
		register(env, func(_ context.Context, req appraisal.Request) (*consensus.Report, error) {
			if attempts.Add(1) < consensusMaxAttempts {
				return nil, temporal.NewApplicationError("redis down", appraisal.ErrTypeRun, errors.New("redis down"))
			}
			return &consensus.Report{RunID: req.RunID}, nil
		})
		env.ExecuteWorkflow(ConsensusWorkflow, validRequest())

		require.NoError(t, env.GetWorkflowError())
		assert.Equal(t, int32(consensusMaxAttempts), attempts.Load())
	})
}
