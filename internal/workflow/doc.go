// Package workflow holds the Temporal workflow definitions of the appraisal
// service.
//
// Workflows only orchestrate. Model calls, randomness and wall-clock reads
// happen inside activities so that workflow code stays deterministic under
// replay.
package workflow
