// Package similarity scores how alike two appraisal explanations are.
//
// Scores are in [0, 1], symmetric, 1 for identical non-empty texts and 0 when
// either text is empty. Inputs are truncated to a fixed rune budget before
// scoring so long explanations cost a bounded amount of work.
package similarity

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"unicode/utf8"
)

// DefaultMaxRunes is the truncation budget applied to each input.
const DefaultMaxRunes = 8000

// Kind names a scorer implementation in configuration.
type Kind string

const (
	KindLexical   Kind = "lexical"
	KindEmbedding Kind = "embedding"
)

// Scorer compares two explanations.
type Scorer interface {
	Similarity(ctx context.Context, a, b string) float64
}

// Config selects and parameterizes a scorer.
type Config struct {
	Kind     Kind `mapstructure:"kind"`
	MaxRunes int  `mapstructure:"max_runes"`

	// Embedding settings, ignored by the lexical scorer.
	EmbeddingModel string `mapstructure:"embedding_model"`
	CacheSize      int    `mapstructure:"cache_size"`
	BaseURL        string `mapstructure:"-"`
	APIKey         string `mapstructure:"-"`
}

// New builds the scorer named by cfg.Kind. An empty kind selects the lexical scorer.
func New(cfg Config, logger *slog.Logger) (Scorer, error) {
	lexical := NewLexical(cfg.MaxRunes)
	switch cfg.Kind {
	case "", KindLexical:
		return lexical, nil
	case KindEmbedding:
		embedder, err := NewOpenAIEmbedder(EmbedderConfig{
			Model:     cfg.EmbeddingModel,
			BaseURL:   cfg.BaseURL,
			APIKey:    cfg.APIKey,
			CacheSize: cfg.CacheSize,
		})
		if err != nil {
			return nil, err
		}
		return NewEmbedding(embedder, lexical, cfg.MaxRunes, logger), nil
	default:
		return nil, fmt.Errorf("unknown similarity kind %q", cfg.Kind)
	}
}

// truncate keeps at most n runes of s.
func truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

func budget(n int) int {
	if n <= 0 {
		return DefaultMaxRunes
	}
	return n
}
