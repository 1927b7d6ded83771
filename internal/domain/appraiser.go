// Package domain defines the value types shared by every stage of a consensus
// run: appraiser configuration, extracted appraisals, per-run response history,
// confidence records, weight tables, aggregation statistics and the final
// consensus artifact.
//
// All entities live for the duration of one run. Nothing in this package holds
// global mutable state; the only package-level value is the struct validator.
package domain

import (
	"fmt"
)

// Role identifies the author of a conversation message.
type Role string

// Conversation roles understood by chat-completion providers.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single chat turn sent to a model.
type Message struct {
	Role    Role   `json:"role"    mapstructure:"role"    validate:"required,oneof=system user assistant"`
	Content string `json:"content" mapstructure:"content" validate:"required"`
}

// Appraiser identifies one configured model and its generation parameters.
// Appraisers are immutable once loaded from configuration.
type Appraiser struct {
	ModelID     string  `json:"id"          mapstructure:"id"          validate:"required"`
	MaxTokens   int     `json:"max_tokens"  mapstructure:"max_tokens"  validate:"gt=0"`
	Temperature float64 `json:"temperature" mapstructure:"temperature" validate:"min=0,max=2"`
}

// AggregatorConfig describes the appraiser that synthesizes the final
// explanation together with its context and prompt templates.
type AggregatorConfig struct {
	Model   Appraiser `json:"model"             mapstructure:"model"             validate:"required"`
	Context []Message `json:"aggregator_context" mapstructure:"aggregator_context" validate:"dive"`
	Prompt  []Message `json:"aggregator_prompt"  mapstructure:"aggregator_prompt"  validate:"dive"`
}

// SelectionPolicy controls how challenge prompts are drawn from the pool.
type SelectionPolicy string

const (
	// SelectionRandom draws prompts uniformly at random.
	SelectionRandom SelectionPolicy = "random"

	// SelectionRoundRobin walks the pool in order, offset per appraiser.
	SelectionRoundRobin SelectionPolicy = "round_robin"
)

// Confidence scoring defaults. The values are empirical and kept configurable.
const (
	DefaultChangeCap        = 0.8
	DefaultSimilarityWeight = 0.3
	DefaultStabilityWeight  = 0.7
	DefaultChallengeRounds  = 1
)

// ConfidenceParams holds the constants of the confidence formula.
type ConfidenceParams struct {
	// ChangeCap bounds price_change so no appraiser is driven to zero weight.
	ChangeCap float64 `json:"change_cap" mapstructure:"change_cap" validate:"gt=0,lte=1"`

	// SimilarityWeight and StabilityWeight blend explanation similarity and
	// price stability into the confidence score.
	SimilarityWeight float64 `json:"similarity_weight" mapstructure:"similarity_weight" validate:"min=0,max=1"`
	StabilityWeight  float64 `json:"stability_weight"  mapstructure:"stability_weight"  validate:"min=0,max=1"`

	// UseSqrt compresses large relative swings with a square root.
	UseSqrt bool `json:"use_sqrt" mapstructure:"use_sqrt"`
}

// DefaultConfidenceParams returns the 0.8 cap, sqrt transform and 0.3/0.7 blend.
func DefaultConfidenceParams() ConfidenceParams {
	return ConfidenceParams{
		ChangeCap:        DefaultChangeCap,
		SimilarityWeight: DefaultSimilarityWeight,
		StabilityWeight:  DefaultStabilityWeight,
		UseSqrt:          true,
	}
}

// ConsensusConfig is everything a run needs from the configuration collaborator.
type ConsensusConfig struct {
	Models           []Appraiser      `json:"models"              validate:"required,min=1,dive"`
	Aggregator       AggregatorConfig `json:"aggregator"          validate:"required"`
	ChallengePrompts []string         `json:"challenge_prompts"   validate:"required,min=1,dive,required"`
	ChallengeRounds  int              `json:"challenge_rounds"    validate:"min=1,max=10"`
	Selection        SelectionPolicy  `json:"challenge_selection" validate:"omitempty,oneof=random round_robin"`

	// MaxParallel bounds how many appraisers run at once; zero means no bound.
	MaxParallel int `json:"max_parallel" validate:"min=0"`
	Confidence       ConfidenceParams `json:"confidence"`
}

// Validate checks that a run can start. Any violation is reported as
// ErrConfiguration so callers can distinguish fatal setup problems from
// per-appraiser failures.
func (c *ConsensusConfig) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: config is nil", ErrConfiguration)
	}
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	seen := make(map[string]struct{}, len(c.Models))
	for _, m := range c.Models {
		if _, dup := seen[m.ModelID]; dup {
			return fmt.Errorf("%w: duplicate appraiser %q", ErrConfiguration, m.ModelID)
		}
		seen[m.ModelID] = struct{}{}
	}
	return nil
}

// AppraiserIDs returns the configured model identifiers in configuration order.
func (c *ConsensusConfig) AppraiserIDs() []string {
	ids := make([]string, len(c.Models))
	for i, m := range c.Models {
		ids[i] = m.ModelID
	}
	return ids
}
