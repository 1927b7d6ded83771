// Package confidence measures how stable each appraiser stayed when its
// initial price was challenged.
//
// The confidence score blends two signals: how little the price moved
// (stability) and how much the explanation kept its substance (similarity).
package confidence

import (
	"context"
	"log/slog"
	"math"

	"github.com/ahrav/go-appraise/internal/domain"
	"github.com/ahrav/go-appraise/internal/similarity"
)

// Evaluator derives confidence records from initial and final appraisals.
type Evaluator struct {
	params domain.ConfidenceParams
	scorer similarity.Scorer
	logger *slog.Logger
}

// NewEvaluator creates an evaluator. A nil scorer selects the lexical scorer
// and zero-valued params select the defaults.
func NewEvaluator(params domain.ConfidenceParams, scorer similarity.Scorer, logger *slog.Logger) *Evaluator {
	if params == (domain.ConfidenceParams{}) {
		params = domain.DefaultConfidenceParams()
	}
	if scorer == nil {
		scorer = similarity.NewLexical(similarity.DefaultMaxRunes)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{
		params: params,
		scorer: scorer,
		logger: logger.With("component", "confidence"),
	}
}

// PriceChange returns the bounded relative price change between two prices.
//
// Both zero is no change. A move away from a zero initial price is the
// maximum change. Otherwise the relative change against max(initial, 1) is
// capped at 1, optionally square-rooted, then capped at the change cap.
func PriceChange(initial, final float64, p domain.ConfidenceParams) float64 {
	switch {
	case initial == 0 && final == 0:
		return 0
	case initial == 0:
		return p.ChangeCap
	}

	rel := math.Min(1, math.Abs(final-initial)/math.Max(initial, 1))
	if p.UseSqrt {
		rel = math.Sqrt(rel)
	}
	return math.Min(p.ChangeCap, rel)
}

// Evaluate scores one appraiser. ok is false when either appraisal has no
// price; such appraisers are excluded rather than scored as zero.
func (e *Evaluator) Evaluate(ctx context.Context, initial, final domain.Appraisal) (domain.ConfidenceRecord, bool) {
	if !initial.Usable() || !final.Usable() {
		return domain.ConfidenceRecord{}, false
	}

	ip, fp := *initial.Price, *final.Price
	change := PriceChange(ip, fp, e.params)
	stability := 1 - change
	sim := e.scorer.Similarity(ctx, initial.Explanation, final.Explanation)
	score := e.params.SimilarityWeight*sim + e.params.StabilityWeight*stability

	return domain.ConfidenceRecord{
		InitialPrice:    ip,
		FinalPrice:      fp,
		PriceChange:     change,
		PriceStability:  stability,
		TextSimilarity:  sim,
		ConfidenceScore: clamp(score, 0, 1),
	}, true
}

// EvaluateHistory scores every appraiser in the history, comparing round 0
// with the latest usable challenge round. Appraisers whose initial round or
// every challenge round is unusable are left out of the result.
func (e *Evaluator) EvaluateHistory(ctx context.Context, history *domain.ResponseHistory) map[string]domain.ConfidenceRecord {
	records := make(map[string]domain.ConfidenceRecord)
	for _, id := range history.Appraisers() {
		initial, ok := history.Initial(id)
		if !ok || !initial.Usable() {
			e.logger.WarnContext(ctx, "appraiser excluded: no usable initial price", "appraiser", id)
			continue
		}
		final, round, ok := history.Final(id)
		if !ok {
			e.logger.WarnContext(ctx, "appraiser excluded: no usable challenged price", "appraiser", id)
			continue
		}

		rec, ok := e.Evaluate(ctx, initial, final)
		if !ok {
			continue
		}
		records[id] = rec
		e.logger.DebugContext(ctx, "confidence evaluated",
			"appraiser", id,
			"final_round", round,
			"initial_price", rec.InitialPrice,
			"final_price", rec.FinalPrice,
			"price_change", rec.PriceChange,
			"text_similarity", rec.TextSimilarity,
			"confidence", rec.ConfidenceScore,
		)
	}
	return records
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
