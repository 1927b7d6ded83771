// Package consensus orchestrates a full appraisal run: the challenge phase,
// confidence scoring, robust aggregation and synthesis of the final artifact.
package consensus

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/go-appraise/internal/aggregation"
	"github.com/ahrav/go-appraise/internal/challenge"
	"github.com/ahrav/go-appraise/internal/confidence"
	"github.com/ahrav/go-appraise/internal/domain"
	"github.com/ahrav/go-appraise/internal/llm"
	"github.com/ahrav/go-appraise/internal/similarity"
	"github.com/ahrav/go-appraise/internal/synthesis"
)

const tracerName = "github.com/ahrav/go-appraise/internal/consensus"

// Engine runs consensus rounds for one configuration.
type Engine struct {
	cfg       domain.ConsensusConfig
	completer llm.Completer
	evaluator *confidence.Evaluator
	builder   *synthesis.Builder
	rng       *rand.Rand
	tracer    trace.Tracer
	logger    *slog.Logger
}

type engineOptions struct {
	scorer similarity.Scorer
	logger *slog.Logger
	tracer trace.Tracer
	rng    *rand.Rand
}

// Option configures an Engine.
type Option func(*engineOptions)

// WithScorer sets the explanation similarity scorer; the lexical scorer is the default.
func WithScorer(s similarity.Scorer) Option { return func(o *engineOptions) { o.scorer = s } }

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option { return func(o *engineOptions) { o.logger = l } }

// WithTracer sets the tracer used for run and phase spans.
func WithTracer(t trace.Tracer) Option { return func(o *engineOptions) { o.tracer = t } }

// WithRand seeds random challenge prompt selection.
func WithRand(r *rand.Rand) Option { return func(o *engineOptions) { o.rng = r } }

// NewEngine validates cfg and prepares an Engine. Configuration problems are
// reported as domain.ErrConfiguration.
func NewEngine(cfg domain.ConsensusConfig, completer llm.Completer, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if completer == nil {
		return nil, fmt.Errorf("%w: completer is nil", domain.ErrConfiguration)
	}

	o := engineOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer(tracerName)
	}

	builder, err := synthesis.NewBuilder(cfg.Aggregator, o.logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrConfiguration, err)
	}

	return &Engine{
		cfg:       cfg,
		completer: completer,
		evaluator: confidence.NewEvaluator(cfg.Confidence, o.scorer, o.logger),
		builder:   builder,
		rng:       o.rng,
		tracer:    o.tracer,
		logger:    o.logger.With("component", "consensus"),
	}, nil
}

type runOptions struct {
	runID   string
	onRound func(challenge.RoundEvent)
}

// RunOption configures a single Run.
type RunOption func(*runOptions)

// WithRunID sets the run identifier; a UUID is generated otherwise.
func WithRunID(id string) RunOption { return func(o *runOptions) { o.runID = id } }

// OnRound observes every recorded challenge round.
func OnRound(fn func(challenge.RoundEvent)) RunOption {
	return func(o *runOptions) { o.onRound = fn }
}

// Run executes one consensus run over the initial conversation. Appraiser and
// aggregator failures never fail the run. If ctx is canceled during the
// challenge phase the partial history is still aggregated and the report is
// returned together with ctx.Err().
func (e *Engine) Run(ctx context.Context, conversation []domain.Message, opts ...RunOption) (*Report, error) {
	ro := runOptions{}
	for _, opt := range opts {
		opt(&ro)
	}
	if ro.runID == "" {
		ro.runID = uuid.NewString()
	}
	if len(conversation) == 0 {
		return nil, fmt.Errorf("%w: empty conversation", domain.ErrInvalidRequest)
	}

	logger := e.logger.With("run_id", ro.runID)
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "consensus.run", trace.WithAttributes(
		attribute.String("run.id", ro.runID),
		attribute.Int("appraisers", len(e.cfg.Models)),
		attribute.Int("challenge_rounds", e.cfg.ChallengeRounds),
	))
	defer span.End()

	history, runErr := e.challenge(ctx, conversation, ro.onRound)
	if runErr != nil {
		logger.Warn("challenge phase interrupted, aggregating partial history", "error", runErr)
	}

	records := e.evaluator.EvaluateHistory(ctx, history)
	prices := make(map[string]float64, len(records))
	scores := make(map[string]float64, len(records))
	for id, rec := range records {
		prices[id] = rec.FinalPrice
		scores[id] = rec.ConfidenceScore
	}

	weights, stats := aggregation.Aggregate(prices, scores)
	span.AddEvent("aggregated", trace.WithAttributes(
		attribute.Float64("weighted_price", stats.WeightedPrice),
		attribute.Int("outliers_removed", stats.OutliersRemoved),
	))
	logger.Info("aggregated appraisals",
		"scored", len(records),
		"weighted_price", domain.USD(stats.WeightedPrice),
		"median_price", domain.USD(stats.MedianPrice),
		"outliers_removed", stats.OutliersRemoved,
	)

	result, used := e.synthesize(ctx, logger, history, stats, weights, records)

	report := &Report{
		RunID:                ro.runID,
		Result:               result,
		Stats:                stats,
		Weights:              weights,
		Records:              records,
		History:              summarize(history, e.cfg.AppraiserIDs()),
		DispersionConfidence: DispersionConfidence(stats.StdDev, positive(prices)),
		AggregatorUsed:       used,
		FailedAppraisers:     failed(e.cfg.AppraiserIDs(), records),
		Duration:             time.Since(start),
	}
	if runErr != nil {
		span.SetStatus(codes.Error, runErr.Error())
	}
	return report, runErr
}

func (e *Engine) challenge(ctx context.Context, conversation []domain.Message, onRound func(challenge.RoundEvent)) (*domain.ResponseHistory, error) {
	ctx, span := e.tracer.Start(ctx, "consensus.challenge")
	defer span.End()

	protocol, err := challenge.New(e.completer, challenge.Config{
		Appraisers:      e.cfg.Models,
		Prompts:         e.cfg.ChallengePrompts,
		Rounds:          e.cfg.ChallengeRounds,
		Selection:       e.cfg.Selection,
		MaxParallel:     e.cfg.MaxParallel,
		Rand:            e.rng,
		OnRoundComplete: onRound,
	}, e.logger)
	if err != nil {
		// Config was validated in NewEngine.
		return domain.NewResponseHistory(), err
	}
	history, err := protocol.Run(ctx, conversation)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return history, err
}

func (e *Engine) synthesize(
	ctx context.Context,
	logger *slog.Logger,
	history *domain.ResponseHistory,
	stats domain.AggregationStats,
	weights domain.WeightTable,
	records map[string]domain.ConfidenceRecord,
) (domain.ConsensusResult, bool) {
	ctx, span := e.tracer.Start(ctx, "consensus.synthesize")
	defer span.End()

	if len(records) == 0 {
		logger.Warn("no appraiser produced a usable initial and challenged price")
		return synthesis.Fallback(stats, weights, records), false
	}
	if ctx.Err() != nil {
		return synthesis.Fallback(stats, weights, records), false
	}

	replies := make(map[string]string, len(records))
	for id := range records {
		if final, _, ok := history.Final(id); ok {
			replies[id] = final.Raw
		}
	}

	req := e.builder.BuildRequest(stats, weights, records, replies)
	reply, err := e.completer.Complete(ctx, req)
	if err != nil {
		logger.Warn("aggregator call failed, using fallback", "model", req.Model, "error", err)
		span.SetStatus(codes.Error, err.Error())
		return synthesis.Fallback(stats, weights, records), false
	}
	result, used := e.builder.Reconcile(reply, stats, weights, records)
	span.SetAttributes(attribute.Bool("aggregator_used", used))
	return result, used
}

func positive(prices map[string]float64) []float64 {
	out := make([]float64, 0, len(prices))
	for _, p := range prices {
		if p > 0 {
			out = append(out, p)
		}
	}
	slices.Sort(out)
	return out
}

func failed(ids []string, records map[string]domain.ConfidenceRecord) []string {
	var out []string
	for _, id := range ids {
		if _, ok := records[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}
