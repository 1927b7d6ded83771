// Package worker hosts the appraisal workflow and activity on a Temporal worker.
package worker

import (
	"go.temporal.io/sdk/activity"
	sdkworker "go.temporal.io/sdk/worker"

	"github.com/ahrav/go-appraise/internal/appraisal"
	"github.com/ahrav/go-appraise/internal/workflow"
)

// Registrar is the registration surface of a Temporal worker.
type Registrar interface {
	RegisterWorkflow(w any)
	RegisterActivityWithOptions(a any, options activity.RegisterOptions)
}

var _ Registrar = sdkworker.Worker(nil)

// RegisterAll registers ConsensusWorkflow and the RunConsensus activity.
// Call it once before starting the worker.
func RegisterAll(w Registrar, acts *appraisal.Activities) {
	w.RegisterWorkflow(workflow.ConsensusWorkflow)
	w.RegisterActivityWithOptions(acts.RunConsensus, activity.RegisterOptions{Name: appraisal.ActivityRunConsensus})
}
