package domain

import (
	"fmt"
	"math"
	"slices"
)

// WeightTolerance is the allowed drift of a weight table's sum from 1.0.
const WeightTolerance = 1e-6

// ConfidenceRecord captures how stable one appraiser stayed under challenge.
// It is derived once per run and read-only afterwards.
type ConfidenceRecord struct {
	InitialPrice    float64 `json:"initial_price"`
	FinalPrice      float64 `json:"final_price"`
	PriceChange     float64 `json:"price_change"     validate:"min=0,max=1"`
	PriceStability  float64 `json:"price_stability"  validate:"min=0,max=1"`
	TextSimilarity  float64 `json:"text_similarity"  validate:"min=0,max=1"`
	ConfidenceScore float64 `json:"confidence_score" validate:"min=0,max=1"`
}

// Validate checks the record's range invariants.
func (r *ConfidenceRecord) Validate() error { return validate.Struct(r) }

// WeightTable maps appraiser IDs to normalized weights.
type WeightTable map[string]float64

// Sum returns the total weight.
func (w WeightTable) Sum() float64 {
	var s float64
	for _, v := range w {
		s += v
	}
	return s
}

// Validate checks that every weight is non-negative and the total is 1.0
// within WeightTolerance. An empty table is valid.
func (w WeightTable) Validate() error {
	if len(w) == 0 {
		return nil
	}
	for id, v := range w {
		if v < 0 || math.IsNaN(v) {
			return fmt.Errorf("weight for %s is %v", id, v)
		}
	}
	if s := w.Sum(); math.Abs(s-1) >= WeightTolerance {
		return fmt.Errorf("weights sum to %v", s)
	}
	return nil
}

// IDs returns the appraiser IDs in sorted order.
func (w WeightTable) IDs() []string {
	ids := make([]string, 0, len(w))
	for id := range w {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// AggregationStats summarizes the final-round prices of a run.
type AggregationStats struct {
	WeightedPrice   float64 `json:"weighted_price"`
	MeanPrice       float64 `json:"mean_price"`
	MedianPrice     float64 `json:"median_price"`
	StdDev          float64 `json:"std_dev"`
	OutliersRemoved int     `json:"outliers_removed"`
}
