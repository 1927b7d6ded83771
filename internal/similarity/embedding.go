package similarity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Embedding defaults.
const (
	DefaultEmbeddingModel = "text-embedding-3-small"
	DefaultCacheSize      = 1024
)

// EmbedderConfig configures an OpenAI-compatible embeddings client.
type EmbedderConfig struct {
	Model     string
	BaseURL   string
	APIKey    string
	CacheSize int
	Timeout   time.Duration
}

// OpenAIEmbedder calls an OpenAI-compatible /embeddings endpoint and caches
// vectors by input text.
type OpenAIEmbedder struct {
	config     EmbedderConfig
	httpClient *http.Client
	cache      *lru.Cache[string, []float32]
}

// NewOpenAIEmbedder creates an embedder with defaults for unset fields.
func NewOpenAIEmbedder(config EmbedderConfig) (*OpenAIEmbedder, error) {
	if config.Model == "" {
		config.Model = DefaultEmbeddingModel
	}
	if config.BaseURL == "" {
		config.BaseURL = "https://openrouter.ai/api/v1"
	}
	if config.CacheSize <= 0 {
		config.CacheSize = DefaultCacheSize
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	cache, err := lru.New[string, []float32](config.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}

	return &OpenAIEmbedder{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		cache:      cache,
	}, nil
}

// Embed returns the embedding of text, consulting the cache first.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if cached, ok := e.cache.Get(text); ok {
		return cached, nil
	}

	vec, err := e.callAPI(ctx, text)
	if err != nil {
		return nil, err
	}
	e.cache.Add(text, vec)
	return vec, nil
}

func (e *OpenAIEmbedder) callAPI(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(map[string]any{
		"model": e.config.Model,
		"input": []string{text},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}

	url := strings.TrimRight(e.config.BaseURL, "/") + "/embeddings"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if e.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.config.APIKey)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("embedding API error %d: %s", resp.StatusCode, string(msg))
	}

	var apiResp struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}
	if len(apiResp.Data) == 0 || len(apiResp.Data[0].Embedding) == 0 {
		return nil, errors.New("embedding response has no vectors")
	}
	return apiResp.Data[0].Embedding, nil
}

// Embedding scores texts by the cosine similarity of their embeddings,
// clamped to [0, 1]. Any embedding failure degrades to the fallback scorer.
type Embedding struct {
	embedder Embedder
	fallback Scorer
	maxRunes int
	logger   *slog.Logger
}

// NewEmbedding creates an embedding scorer.
func NewEmbedding(embedder Embedder, fallback Scorer, maxRunes int, logger *slog.Logger) *Embedding {
	if logger == nil {
		logger = slog.Default()
	}
	if fallback == nil {
		fallback = NewLexical(maxRunes)
	}
	return &Embedding{
		embedder: embedder,
		fallback: fallback,
		maxRunes: budget(maxRunes),
		logger:   logger.With("component", "similarity"),
	}
}

// Similarity implements Scorer.
func (s *Embedding) Similarity(ctx context.Context, a, b string) float64 {
	a, b = truncate(a, s.maxRunes), truncate(b, s.maxRunes)
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}

	va, err := s.embedder.Embed(ctx, a)
	if err != nil {
		return s.degrade(ctx, a, b, err)
	}
	vb, err := s.embedder.Embed(ctx, b)
	if err != nil {
		return s.degrade(ctx, a, b, err)
	}
	cos, err := cosine(va, vb)
	if err != nil {
		return s.degrade(ctx, a, b, err)
	}
	return clamp01(cos)
}

func (s *Embedding) degrade(ctx context.Context, a, b string, err error) float64 {
	s.logger.WarnContext(ctx, "embedding similarity unavailable, using fallback", "error", err)
	return s.fallback.Similarity(ctx, a, b)
}

func cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("embedding dimensions differ: %d vs %d", len(a), len(b))
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0, errors.New("zero-length embedding vector")
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), nil
}
