package consensus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/ahrav/go-appraise/internal/challenge"
	"github.com/ahrav/go-appraise/internal/domain"
	"github.com/ahrav/go-appraise/internal/llm"
	"github.com/ahrav/go-appraise/internal/nft"
)

const aggregatorID = "agg/model"

type scripted struct {
	mu       sync.Mutex
	calls    map[string]int
	replies  map[string][]string
	failAt   map[string]int
	aggReply string
	aggErr   error
}

func (s *scripted) Complete(_ context.Context, req *llm.Request) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if req.Model == aggregatorID {
		return s.aggReply, s.aggErr
	}
	call := s.calls[req.Model]
	s.calls[req.Model] = call + 1
	if at, ok := s.failAt[req.Model]; ok && at == call {
		return "", errors.New("upstream 503")
	}
	replies := s.replies[req.Model]
	return replies[min(call, len(replies)-1)], nil
}

func reply(price float64, explanation string) string {
	return fmt.Sprintf(`{"price": %g, "explanation": %q}`, price, explanation)
}

func config(ids ...string) domain.ConsensusConfig {
	models := make([]domain.Appraiser, len(ids))
	for i, id := range ids {
		models[i] = domain.Appraiser{ModelID: id, MaxTokens: 200, Temperature: 0.7}
	}
	return domain.ConsensusConfig{
		Models:           models,
		Aggregator:       domain.AggregatorConfig{Model: domain.Appraiser{ModelID: aggregatorID, MaxTokens: 400, Temperature: 0.2}},
		ChallengePrompts: []string{"Please reconsider.", "Refine your estimate."},
		ChallengeRounds:  1,
		Selection:        domain.SelectionRoundRobin,
		Confidence:       domain.DefaultConfidenceParams(),
	}
}

var conversation = []domain.Message{
	{Role: domain.RoleSystem, Content: "You appraise NFTs."},
	{Role: domain.RoleUser, Content: "Appraise this."},
}

func twoAppraisers() *scripted {
	return &scripted{
		calls: map[string]int{},
		replies: map[string][]string{
			"a": {reply(100, "recent sales near one hundred"), reply(105, "recent sales near one hundred")},
			"b": {reply(200, "rarity supports a premium"), reply(190, "rarity supports a premium")},
		},
		failAt:   map[string]int{},
		aggReply: `{"price": 1, "explanation": "Weighted toward the steadier appraiser."}`,
	}
}

func TestNewEngine_ConfigurationErrors(t *testing.T) {
	_, err := NewEngine(domain.ConsensusConfig{}, twoAppraisers())
	assert.ErrorIs(t, err, domain.ErrConfiguration)

	_, err = NewEngine(config("a"), nil)
	assert.ErrorIs(t, err, domain.ErrConfiguration)

	dup := config("a", "a")
	_, err = NewEngine(dup, twoAppraisers())
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestEngine_TwoAppraisers(t *testing.T) {
	fake := twoAppraisers()
	engine, err := NewEngine(config("a", "b"), fake)
	require.NoError(t, err)

	var events []challenge.RoundEvent
	var mu sync.Mutex
	report, err := engine.Run(context.Background(), conversation, WithRunID("run-1"), OnRound(func(e challenge.RoundEvent) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	}))
	require.NoError(t, err)
	assert.Len(t, events, 4)

	assert.Equal(t, "run-1", report.RunID)
	assert.True(t, report.AggregatorUsed)
	assert.Empty(t, report.FailedAppraisers)
	assert.Equal(t, "Weighted toward the steadier appraiser.", report.Result.Explanation)

	require.Len(t, report.Records, 2)
	assert.InDelta(t, 0.2236, report.Records["a"].PriceChange, 1e-4)
	assert.InDelta(t, 0.2236, report.Records["b"].PriceChange, 1e-4)

	assert.InDelta(t, 1.0, report.Weights.Sum(), 1e-9)
	assert.NoError(t, report.Weights.Validate())

	price := report.Result.Price
	assert.InDelta(t, report.Stats.WeightedPrice, price, 1e-9)
	assert.Greater(t, price, 105.0)
	assert.Less(t, price, 190.0)

	require.Len(t, report.Result.Models, 2)
	assert.InDelta(t, report.Weights["a"], report.Result.Models["a"].Weight, 1e-12)
	assert.Len(t, report.History["a"], 2)
	assert.Equal(t, domain.ReplyJSON, report.History["b"][1].Kind)
	assert.GreaterOrEqual(t, report.DispersionConfidence, MinDispersionConfidence)
	assert.LessOrEqual(t, report.DispersionConfidence, MaxDispersionConfidence)
}

func TestEngine_ProviderFailureIsolated(t *testing.T) {
	fake := twoAppraisers()
	fake.failAt["b"] = 1

	engine, err := NewEngine(config("a", "b"), fake)
	require.NoError(t, err)

	report, err := engine.Run(context.Background(), conversation)
	require.NoError(t, err)

	assert.Equal(t, []string{"b"}, report.FailedAppraisers)
	require.Len(t, report.Records, 1)
	assert.InDelta(t, 1.0, report.Weights["a"], 1e-12)
	assert.InDelta(t, 105, report.Result.Price, 1e-9)
	assert.True(t, report.History["b"][1].Kind == domain.ReplyError)
}

func TestEngine_InvalidAggregatorJSON(t *testing.T) {
	for name, mutate := range map[string]func(*scripted){
		"invalid json":     func(s *scripted) { s.aggReply = "I think it is worth a lot." },
		"aggregator error": func(s *scripted) { s.aggErr = errors.New("timeout") },
	} {
		t.Run(name, func(t *testing.T) {
			fake := twoAppraisers()
			mutate(fake)
			engine, err := NewEngine(config("a", "b"), fake)
			require.NoError(t, err)

			report, err := engine.Run(context.Background(), conversation)
			require.NoError(t, err)
			assert.False(t, report.AggregatorUsed)
			assert.InDelta(t, report.Stats.WeightedPrice, report.Result.Price, 1e-9)
			assert.Contains(t, report.Result.Explanation, "Final price estimate of "+domain.USD(report.Stats.WeightedPrice))

			data, err := json.Marshal(report.Result)
			require.NoError(t, err)
			assert.True(t, json.Valid(data))
		})
	}
}

func TestEngine_AllAppraisersFail(t *testing.T) {
	fake := twoAppraisers()
	fake.failAt["a"] = 0
	fake.failAt["b"] = 0

	engine, err := NewEngine(config("a", "b"), fake)
	require.NoError(t, err)
	report, err := engine.Run(context.Background(), conversation)
	require.NoError(t, err)
	assert.Zero(t, report.Result.Price)
	assert.ElementsMatch(t, []string{"a", "b"}, report.FailedAppraisers)
	assert.False(t, report.AggregatorUsed)
	assert.NotNil(t, report.Result.Models)
}

func TestEngine_CanceledRun(t *testing.T) {
	engine, err := NewEngine(config("a", "b"), twoAppraisers())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := engine.Run(ctx, conversation)
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)
	assert.False(t, report.AggregatorUsed)
	assert.Zero(t, report.Result.Price)
}

func TestEngine_EmptyConversation(t *testing.T) {
	engine, err := NewEngine(config("a"), twoAppraisers())
	require.NoError(t, err)
	_, err = engine.Run(context.Background(), nil)
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestEngine_Spans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	engine, err := NewEngine(config("a", "b"), twoAppraisers(), WithTracer(tp.Tracer("test")))
	require.NoError(t, err)
	_, err = engine.Run(context.Background(), conversation)
	require.NoError(t, err)

	var names []string
	for _, s := range recorder.Ended() {
		names = append(names, s.Name())
	}
	assert.ElementsMatch(t, []string{"consensus.challenge", "consensus.synthesize", "consensus.run"}, names)
}

func TestDispersionConfidence(t *testing.T) {
	tests := []struct {
		name   string
		std    float64
		prices []float64
		want   float64
	}{
		{name: "single price", std: 0, prices: []float64{100}, want: 0.5},
		{name: "zero mean", std: 0, prices: []float64{0, 0}, want: 0.5},
		{name: "identical", std: 0, prices: []float64{100, 100}, want: 0.9},
		{name: "moderate spread", std: 25, prices: []float64{75, 125}, want: 0.75},
		{name: "huge spread", std: 500, prices: []float64{10, 990}, want: 0.1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, DispersionConfidence(tt.std, tt.prices), 1e-9)
		})
	}
}

func TestReport_ScoreAgainst(t *testing.T) {
	r := &Report{Result: domain.ConsensusResult{Price: 90}}
	require.NoError(t, r.ScoreAgainst(nft.Holdout{Sale: nft.Sale{PriceUSD: 100}, TargetDate: "March, 2025"}))
	require.NotNil(t, r.Accuracy)
	assert.InDelta(t, 0.9, r.Accuracy.Score, 1e-9)

	assert.Error(t, (&Report{}).ScoreAgainst(nft.Holdout{}))
}

type gauged struct {
	inner llm.Completer
	cur   atomic.Int32
	peak  atomic.Int32
}

func (g *gauged) Complete(ctx context.Context, req *llm.Request) (string, error) {
	n := g.cur.Add(1)
	defer g.cur.Add(-1)
	for {
		p := g.peak.Load()
		if n <= p || g.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	return g.inner.Complete(ctx, req)
}

func TestEngine_MaxParallel(t *testing.T) {
	cfg := config("a", "b")
	cfg.MaxParallel = 1
	fake := &gauged{inner: twoAppraisers()}
	engine, err := NewEngine(cfg, fake)
	require.NoError(t, err)

	report, err := engine.Run(context.Background(), conversation)
	require.NoError(t, err)
	assert.Len(t, report.Records, 2)
	assert.Equal(t, int32(1), fake.peak.Load())
}
