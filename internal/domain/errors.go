package domain

import "errors"

// Failure taxonomy for a consensus run. Only ErrConfiguration aborts a run;
// the others are recorded against a single appraiser or the aggregator and
// the run continues with whatever data remains usable.
var (
	// ErrExtraction indicates that no price could be extracted from a model reply.
	ErrExtraction = errors.New("price extraction failed")

	// ErrProviderCall indicates that a completion call to an appraiser failed.
	ErrProviderCall = errors.New("provider call failed")

	// ErrAggregatorParse indicates that the aggregator reply was not a usable JSON artifact.
	ErrAggregatorParse = errors.New("aggregator reply could not be parsed")

	// ErrConfiguration indicates that the consensus configuration cannot start a run.
	ErrConfiguration = errors.New("invalid consensus configuration")
)

// ErrInvalidRequest indicates that an appraisal request contains invalid data.
var ErrInvalidRequest = errors.New("invalid appraisal request")
