// Package challenge runs the multi-round challenge protocol: every appraiser
// answers the initial conversation, then is asked to reconsider its own
// previous price a configured number of times. Appraisers run concurrently
// and never see each other's answers.
package challenge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/ahrav/go-appraise/internal/domain"
	"github.com/ahrav/go-appraise/internal/extract"
	"github.com/ahrav/go-appraise/internal/llm"
)

// FormatReminder closes every challenge message.
const FormatReminder = "Remember to maintain the same JSON format with 'price' and 'explanation' fields."

// Message builds the challenge turn for an appraiser whose previous price is prev.
func Message(prev domain.Appraisal, prompt string) string {
	return fmt.Sprintf("Your previous price estimate was %s.\n\n%s\n\n%s", prev.USDOrUnknown(), prompt, FormatReminder)
}

// RoundEvent is delivered to the OnRoundComplete hook after each recorded round.
type RoundEvent struct {
	AppraiserID string
	Round       int
	Prompt      string
	Appraisal   domain.Appraisal
}

// Config configures a Protocol.
type Config struct {
	Appraisers []domain.Appraiser
	Prompts    []string
	Rounds     int
	Selection  domain.SelectionPolicy

	// Rand drives random prompt selection; nil uses the global source.
	Rand *rand.Rand

	// MaxParallel bounds concurrent appraisers; zero means no bound.
	MaxParallel int

	// OnRoundComplete is called from appraiser goroutines and must be safe
	// for concurrent use.
	OnRoundComplete func(RoundEvent)
}

// Protocol drives one consensus run's challenge phase.
type Protocol struct {
	completer llm.Completer
	cfg       Config
	selector  *selector
	logger    *slog.Logger
}

// New validates cfg and returns a Protocol.
func New(completer llm.Completer, cfg Config, logger *slog.Logger) (*Protocol, error) {
	if completer == nil {
		return nil, fmt.Errorf("%w: completer is nil", domain.ErrConfiguration)
	}
	if len(cfg.Appraisers) == 0 {
		return nil, fmt.Errorf("%w: no appraisers", domain.ErrConfiguration)
	}
	if cfg.Rounds < 0 {
		return nil, fmt.Errorf("%w: negative challenge rounds", domain.ErrConfiguration)
	}
	sel := newSelector(cfg.Prompts, cfg.Selection, cfg.Rand)
	if cfg.Rounds > 0 && len(sel.prompts) == 0 {
		return nil, fmt.Errorf("%w: challenge rounds require at least one prompt", domain.ErrConfiguration)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Protocol{
		completer: completer,
		cfg:       cfg,
		selector:  sel,
		logger:    logger.With("component", "challenge"),
	}, nil
}

// Run executes round 0 and every challenge round for all appraisers. When
// ctx is canceled each appraiser stops after its current round; the history
// recorded so far is returned together with ctx.Err().
func (p *Protocol) Run(ctx context.Context, conversation []domain.Message) (*domain.ResponseHistory, error) {
	history := domain.NewResponseHistory()

	var g errgroup.Group
	if p.cfg.MaxParallel > 0 {
		g.SetLimit(p.cfg.MaxParallel)
	}
	for i, appraiser := range p.cfg.Appraisers {
		g.Go(func() error {
			p.runAppraiser(ctx, i, appraiser, conversation, history)
			return nil
		})
	}
	_ = g.Wait()

	return history, ctx.Err()
}

func (p *Protocol) runAppraiser(ctx context.Context, offset int, a domain.Appraiser, initial []domain.Message, history *domain.ResponseHistory) {
	logger := p.logger.With("appraiser", a.ModelID)
	conv := slices.Clone(initial)
	prompt := ""

	for round := 0; round <= p.cfg.Rounds; round++ {
		if ctx.Err() != nil {
			logger.Info("challenge protocol stopped", "completed_rounds", round)
			return
		}

		msgs := conv
		if round > 0 {
			prev, _ := history.Latest(a.ModelID)
			prompt = p.selector.next(offset, round, prompt)
			msgs = append(slices.Clone(conv), domain.Message{Role: domain.RoleUser, Content: Message(prev, prompt)})
		}

		reply, err := p.completer.Complete(ctx, &llm.Request{
			Model:       a.ModelID,
			Messages:    msgs,
			MaxTokens:   a.MaxTokens,
			Temperature: a.Temperature,
		})

		var appraisal domain.Appraisal
		switch {
		case err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()):
			// Interrupted mid-round; nothing completed to record.
			return
		case err != nil:
			logger.Warn("appraiser call failed, recording sentinel", "round", round, "error", err)
			appraisal = extract.FromError(fmt.Errorf("%w: %w", domain.ErrProviderCall, err))
		default:
			appraisal = extract.Extract(reply)
			if !appraisal.Usable() {
				logger.Warn("no price in reply", "round", round, "error", domain.ErrExtraction)
			}
			conv = append(slices.Clone(msgs), domain.Message{Role: domain.RoleAssistant, Content: reply})
		}

		history.Record(a.ModelID, appraisal)
		logger.Debug("round recorded", "round", round, "price", appraisal.USDOrUnknown(), "kind", appraisal.Kind)
		if p.cfg.OnRoundComplete != nil {
			p.cfg.OnRoundComplete(RoundEvent{AppraiserID: a.ModelID, Round: round, Prompt: prompt, Appraisal: appraisal})
		}
	}
}
