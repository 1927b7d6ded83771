package consensus

import (
	"time"

	"github.com/ahrav/go-appraise/internal/aggregation"
	"github.com/ahrav/go-appraise/internal/domain"
	"github.com/ahrav/go-appraise/internal/nft"
)

// Dispersion confidence bounds.
const (
	MinDispersionConfidence     = 0.1
	MaxDispersionConfidence     = 0.9
	DefaultDispersionConfidence = 0.5
)

// RoundSummary is one recorded round of an appraiser.
type RoundSummary struct {
	Round int              `json:"round"`
	Price *float64         `json:"price"`
	Kind  domain.ReplyKind `json:"kind"`
}

// Report carries the artifact plus everything computed on the way to it.
type Report struct {
	RunID                string                             `json:"run_id"`
	Result               domain.ConsensusResult             `json:"result"`
	Stats                domain.AggregationStats            `json:"stats"`
	Weights              domain.WeightTable                 `json:"weights"`
	Records              map[string]domain.ConfidenceRecord `json:"records"`
	History              map[string][]RoundSummary          `json:"history"`
	DispersionConfidence float64                            `json:"dispersion_confidence"`
	AggregatorUsed       bool                               `json:"aggregator_used"`
	FailedAppraisers     []string                           `json:"failed_appraisers,omitempty"`
	Duration             time.Duration                      `json:"duration"`

	// Accuracy is set by callers that held out a known sale.
	Accuracy *nft.Accuracy `json:"accuracy,omitempty"`
}

// ScoreAgainst records the accuracy of the consensus price against a held-out sale.
func (r *Report) ScoreAgainst(h nft.Holdout) error {
	acc, err := nft.Score(h.Sale.PriceUSD, r.Result.Price)
	if err != nil {
		return err
	}
	r.Accuracy = &acc
	return nil
}

// DispersionConfidence maps the coefficient of variation of prices to a
// score in [0.1, 0.9]; fewer than two prices or a zero mean give 0.5.
func DispersionConfidence(stdDev float64, prices []float64) float64 {
	if len(prices) < 2 {
		return DefaultDispersionConfidence
	}
	mean := aggregation.Mean(prices)
	if mean == 0 {
		return DefaultDispersionConfidence
	}
	cv := stdDev / mean
	return max(MinDispersionConfidence, min(MaxDispersionConfidence, 1-min(cv, 1)))
}

func summarize(history *domain.ResponseHistory, configured []string) map[string][]RoundSummary {
	out := make(map[string][]RoundSummary, len(configured))
	for _, id := range configured {
		rounds := history.All(id)
		summary := make([]RoundSummary, len(rounds))
		for k, a := range rounds {
			summary[k] = RoundSummary{Round: k, Price: a.Price, Kind: a.Kind}
		}
		out[id] = summary
	}
	return out
}
