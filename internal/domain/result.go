package domain

import (
	"math"
)

// ModelDetail is the per-appraiser entry of the consensus artifact.
type ModelDetail struct {
	TextSimilarity float64 `json:"text_similarity"`
	PriceChange    float64 `json:"price_change"`
	Weight         float64 `json:"weight"`
}

// ConsensusResult is the artifact handed to persistence. Its JSON shape is
// fixed: price, explanation, standard_deviation and models.
type ConsensusResult struct {
	Price             float64                `json:"price"`
	Explanation       string                 `json:"explanation"`
	StandardDeviation float64                `json:"standard_deviation"`
	Models            map[string]ModelDetail `json:"models"`
}

// Sanitize replaces NaN and infinite values with zero and guarantees a
// non-nil models map so the artifact always serializes as valid JSON.
func (r *ConsensusResult) Sanitize() {
	r.Price = finite(r.Price)
	r.StandardDeviation = finite(r.StandardDeviation)
	if r.Models == nil {
		r.Models = map[string]ModelDetail{}
	}
	for id, d := range r.Models {
		r.Models[id] = ModelDetail{
			TextSimilarity: finite(d.TextSimilarity),
			PriceChange:    finite(d.PriceChange),
			Weight:         finite(d.Weight),
		}
	}
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
