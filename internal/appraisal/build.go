package appraisal

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/go-appraise/internal/config"
	"github.com/ahrav/go-appraise/internal/consensus"
	"github.com/ahrav/go-appraise/internal/domain"
	"github.com/ahrav/go-appraise/internal/llm"
	"github.com/ahrav/go-appraise/internal/similarity"
)

// BuildOptions carries the process-level collaborators of Build.
type BuildOptions struct {
	Logger *slog.Logger

	// Registerer receives the LLM metrics; nil uses the default registry.
	Registerer prometheus.Registerer

	Tracer trace.Tracer

	// LLMOptions are appended to the client options, e.g. a test HTTP client.
	LLMOptions []llm.Option
}

// Build wires the LLM client, the similarity scorer and the consensus engine
// described by cfg.
func Build(ctx context.Context, cfg *config.Config, opts BuildOptions) (*Service, *llm.Client, error) {
	if err := cfg.RequireAPIKey(); err != nil {
		return nil, nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	llmOpts := append([]llm.Option{
		llm.WithLogger(logger),
		llm.WithMetrics(llm.NewPrometheusMetrics(opts.Registerer)),
	}, opts.LLMOptions...)
	client, err := llm.NewClient(ctx, &cfg.LLM, llmOpts...)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", domain.ErrConfiguration, err)
	}

	scorer, err := similarity.New(cfg.Similarity, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", domain.ErrConfiguration, err)
	}

	engineOpts := []consensus.Option{consensus.WithScorer(scorer)}
	if opts.Tracer != nil {
		engineOpts = append(engineOpts, consensus.WithTracer(opts.Tracer))
	}
	svc, err := NewService(cfg.Consensus, client, logger, engineOpts...)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("appraisal service ready",
		"appraisers", len(cfg.Consensus.Models),
		"aggregator", cfg.Consensus.Aggregator.Model.ModelID,
		"challenge_rounds", cfg.Consensus.ChallengeRounds,
		"similarity", cfg.Similarity.Kind,
	)
	return svc, client, nil
}
