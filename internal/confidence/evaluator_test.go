package confidence

import (
	"context"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-appraise/internal/domain"
)

type constScorer float64

func (c constScorer) Similarity(context.Context, string, string) float64 { return float64(c) }

func appraisal(price float64, explanation string) domain.Appraisal {
	return domain.Appraisal{Price: &price, Explanation: explanation, Kind: domain.ReplyJSON}
}

func TestPriceChange(t *testing.T) {
	p := domain.DefaultConfidenceParams()
	tests := []struct {
		name           string
		initial, final float64
		want           float64
	}{
		{name: "both zero", initial: 0, final: 0, want: 0},
		{name: "from zero", initial: 0, final: 500, want: 0.8},
		{name: "unchanged", initial: 100, final: 100, want: 0},
		{name: "five percent", initial: 100, final: 105, want: math.Sqrt(0.05)},
		{name: "five percent down", initial: 200, final: 190, want: math.Sqrt(0.05)},
		{name: "doubled is capped", initial: 100, final: 200, want: 0.8},
		{name: "tiny initial uses floor of one", initial: 0.5, final: 0.6, want: math.Sqrt(0.1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, PriceChange(tt.initial, tt.final, p), 1e-9)
		})
	}
}

func TestPriceChange_WithoutSqrt(t *testing.T) {
	p := domain.DefaultConfidenceParams()
	p.UseSqrt = false
	assert.InDelta(t, 0.05, PriceChange(100, 105, p), 1e-9)
}

func TestEvaluate_TwoAppraiserScenario(t *testing.T) {
	e := NewEvaluator(domain.ConfidenceParams{}, constScorer(1), nil)
	ctx := context.Background()

	a, ok := e.Evaluate(ctx, appraisal(100, "x"), appraisal(105, "x"))
	require.True(t, ok)
	b, ok := e.Evaluate(ctx, appraisal(200, "y"), appraisal(190, "y"))
	require.True(t, ok)

	assert.InDelta(t, 0.2236, a.PriceChange, 1e-4)
	assert.InDelta(t, 0.2236, b.PriceChange, 1e-4)
	assert.InDelta(t, 1-math.Sqrt(0.05), a.PriceStability, 1e-9)
	assert.InDelta(t, 0.3+0.7*(1-math.Sqrt(0.05)), a.ConfidenceScore, 1e-9)
	assert.InDelta(t, a.ConfidenceScore, b.ConfidenceScore, 1e-12)
	assert.InDelta(t, 105.0, a.FinalPrice, 1e-9)
}

func TestEvaluate_UnusableExcluded(t *testing.T) {
	e := NewEvaluator(domain.DefaultConfidenceParams(), constScorer(1), nil)
	_, ok := e.Evaluate(context.Background(), domain.Appraisal{Kind: domain.ReplyError}, appraisal(10, ""))
	assert.False(t, ok)
	_, ok = e.Evaluate(context.Background(), appraisal(10, ""), domain.Appraisal{Kind: domain.ReplyText})
	assert.False(t, ok)
}

func TestEvaluate_RangesHold(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	e := NewEvaluator(domain.DefaultConfidenceParams(), nil, nil)
	explanations := []string{"", "floor rising", "floor falling fast", "rare trait premium"}

	for range 500 {
		var ip, fp float64
		if rng.IntN(5) > 0 {
			ip = rng.Float64() * 10000
		}
		if rng.IntN(5) > 0 {
			fp = rng.Float64() * 10000
		}
		rec, ok := e.Evaluate(context.Background(),
			appraisal(ip, explanations[rng.IntN(len(explanations))]),
			appraisal(fp, explanations[rng.IntN(len(explanations))]))
		require.True(t, ok)
		require.NoError(t, rec.Validate(), "initial=%v final=%v", ip, fp)
		assert.LessOrEqual(t, rec.PriceChange, 0.8)
	}
}

func TestEvaluateHistory(t *testing.T) {
	h := domain.NewResponseHistory()
	h.Record("steady", appraisal(100, "same"))
	h.Record("steady", appraisal(100, "same"))

	h.Record("late-failure", appraisal(100, "a"))
	h.Record("late-failure", appraisal(120, "a"))
	h.Record("late-failure", domain.Appraisal{Kind: domain.ReplyError})

	h.Record("no-initial", domain.Appraisal{Kind: domain.ReplyText})
	h.Record("no-initial", appraisal(50, "b"))

	h.Record("never-challenged", appraisal(70, "c"))

	h.Record("all-challenges-failed", appraisal(70, "c"))
	h.Record("all-challenges-failed", domain.Appraisal{Kind: domain.ReplyError})

	e := NewEvaluator(domain.DefaultConfidenceParams(), constScorer(0.5), nil)
	records := e.EvaluateHistory(context.Background(), h)

	require.Len(t, records, 2)
	assert.InDelta(t, 0.3*0.5+0.7, records["steady"].ConfidenceScore, 1e-9)
	assert.InDelta(t, 120.0, records["late-failure"].FinalPrice, 1e-9)
	assert.InDelta(t, math.Sqrt(0.2), records["late-failure"].PriceChange, 1e-9)
}
