// Package appraisal turns an NFT appraisal request into a consensus run. It is
// the entry point shared by the CLI, the HTTP API and the Temporal activity.
package appraisal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ahrav/go-appraise/internal/consensus"
	"github.com/ahrav/go-appraise/internal/domain"
	"github.com/ahrav/go-appraise/internal/llm"
	"github.com/ahrav/go-appraise/internal/nft"
)

// MaxChallenges bounds a per-request challenge round override.
const MaxChallenges = 10

// Request asks for one appraisal.
type Request struct {
	Item nft.Item `json:"item"`

	// Challenges overrides the configured number of challenge rounds.
	Challenges *int `json:"challenges,omitempty"`

	// Holdout removes the latest sale, targets its month and scores the
	// consensus price against it.
	Holdout bool `json:"holdout,omitempty"`

	// TargetDate is the "Month, YYYY" the price should refer to. It defaults
	// to the current month and is ignored with Holdout.
	TargetDate string `json:"target_date,omitempty"`

	RunID string `json:"run_id,omitempty"`
}

// Validate checks the item and the override bounds.
func (r *Request) Validate() error {
	if err := r.Item.Validate(); err != nil {
		return err
	}
	if r.Challenges != nil && (*r.Challenges < 1 || *r.Challenges > MaxChallenges) {
		return fmt.Errorf("%w: challenges must be within [1, %d], got %d", domain.ErrInvalidRequest, MaxChallenges, *r.Challenges)
	}
	if r.Holdout && len(r.Item.SalesHistory) == 0 {
		return fmt.Errorf("%w: holdout requires at least one sale", domain.ErrInvalidRequest)
	}
	return nil
}

// Service runs appraisals against one consensus configuration.
type Service struct {
	cfg        domain.ConsensusConfig
	completer  llm.Completer
	engineOpts []consensus.Option
	engine     *consensus.Engine
	now        func() time.Time
	logger     *slog.Logger
}

// NewService validates cfg and prepares the default engine.
func NewService(cfg domain.ConsensusConfig, completer llm.Completer, logger *slog.Logger, opts ...consensus.Option) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts = append([]consensus.Option{consensus.WithLogger(logger)}, opts...)
	engine, err := consensus.NewEngine(cfg, completer, opts...)
	if err != nil {
		return nil, err
	}
	return &Service{
		cfg:        cfg,
		completer:  completer,
		engineOpts: opts,
		engine:     engine,
		now:        time.Now,
		logger:     logger.With("component", "appraisal"),
	}, nil
}

// Config returns the consensus configuration the service was built with.
func (s *Service) Config() domain.ConsensusConfig { return s.cfg }

// Appraise runs consensus over req. The report of an interrupted run is
// returned together with the context error.
func (s *Service) Appraise(ctx context.Context, req Request, opts ...consensus.RunOption) (*consensus.Report, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	engine, err := s.engineFor(req.Challenges)
	if err != nil {
		return nil, err
	}

	item, target := req.Item, req.TargetDate
	var holdout *nft.Holdout
	if req.Holdout {
		rest, h, err := nft.HoldOutLatestSale(item)
		if err != nil {
			return nil, err
		}
		item, target, holdout = rest, h.TargetDate, &h
		s.logger.Info("holding out latest sale",
			"price", domain.USD(h.Sale.PriceUSD),
			"target_date", h.TargetDate,
		)
	}
	if target == "" {
		target = s.now().Format(nft.TargetDateLayout)
	}

	conversation, err := nft.BuildConversation(item, target)
	if err != nil {
		return nil, err
	}
	if req.RunID != "" {
		opts = append(opts, consensus.WithRunID(req.RunID))
	}

	report, runErr := engine.Run(ctx, conversation, opts...)
	if report != nil && holdout != nil {
		if err := report.ScoreAgainst(*holdout); err != nil {
			s.logger.Warn("could not score holdout", "run_id", report.RunID, "error", err)
		} else {
			s.logger.Info("scored against holdout",
				"run_id", report.RunID,
				"actual", domain.USD(report.Accuracy.Actual),
				"predicted", domain.USD(report.Accuracy.Predicted),
				"accuracy", report.Accuracy.Score,
			)
		}
	}
	return report, runErr
}

func (s *Service) engineFor(challenges *int) (*consensus.Engine, error) {
	if challenges == nil || *challenges == s.cfg.ChallengeRounds {
		return s.engine, nil
	}
	cfg := s.cfg
	cfg.ChallengeRounds = *challenges
	return consensus.NewEngine(cfg, s.completer, s.engineOpts...)
}
