// Package llm is the network layer used to talk to appraiser and aggregator
// models. A Client composes logging, rate limiting and caching middleware
// around an HTTP handler that speaks the OpenAI-compatible chat API.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/ahrav/go-appraise/internal/llm/cache"
	"github.com/ahrav/go-appraise/internal/llm/configuration"
	llmerrors "github.com/ahrav/go-appraise/internal/llm/errors"
	"github.com/ahrav/go-appraise/internal/llm/providers"
	"github.com/ahrav/go-appraise/internal/llm/ratelimit"
	"github.com/ahrav/go-appraise/internal/llm/transport"
)

// Aliases so callers only import this package.
type (
	Request  = transport.Request
	Response = transport.Response
	Usage    = transport.Usage
)

// Completer returns the text completion for a request.
type Completer interface {
	Complete(ctx context.Context, req *Request) (string, error)
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, req *Request) (string, error)

// Complete implements Completer.
func (f CompleterFunc) Complete(ctx context.Context, req *Request) (string, error) { return f(ctx, req) }

// Client sends completion requests through the middleware chain.
type Client struct {
	handler transport.Handler
	limiter *ratelimit.Limiter
	cache   *cache.Cache
}

type options struct {
	httpClient  *http.Client
	adapter     transport.ProviderAdapter
	logger      *slog.Logger
	metrics     Metrics
	redis       redis.UniversalClient
	middlewares []transport.Middleware
}

// Option configures NewClient.
type Option func(*options)

// WithHTTPClient sets the HTTP client used for provider calls.
func WithHTTPClient(c *http.Client) Option { return func(o *options) { o.httpClient = c } }

// WithAdapter replaces the OpenRouter adapter.
func WithAdapter(a transport.ProviderAdapter) Option { return func(o *options) { o.adapter = a } }

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option { return func(o *options) { o.metrics = m } }

// WithRedis shares one Redis client between the cache and the global limiter.
func WithRedis(c redis.UniversalClient) Option { return func(o *options) { o.redis = c } }

// WithMiddleware appends middleware inside the cache, next to the HTTP call.
func WithMiddleware(m ...transport.Middleware) Option {
	return func(o *options) { o.middlewares = append(o.middlewares, m...) }
}

// NewClient builds a Client from cfg. The chain is logging, rate limit,
// cache, then any extra middleware, then HTTP.
func NewClient(ctx context.Context, cfg *configuration.Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		cfg = configuration.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid llm configuration: %w", err)
	}

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.httpClient == nil {
		o.httpClient = &http.Client{Timeout: cfg.HTTPTimeout}
	}
	if o.adapter == nil {
		o.adapter = providers.NewOpenRouterAdapter(cfg.Provider)
	}
	if o.metrics == nil || !cfg.Observability.MetricsEnabled {
		o.metrics = NewNoOpMetrics()
	}

	limiter, err := ratelimit.New(cfg.RateLimit, o.redis)
	if err != nil {
		return nil, err
	}
	completionCache := cache.New(ctx, cfg.Cache, o.redis)

	middlewares := []transport.Middleware{
		NewLoggingMiddleware(cfg.Observability, o.adapter.Name(), o.logger, o.metrics),
		limiter.Middleware(),
		completionCache.Middleware(),
	}
	middlewares = append(middlewares, o.middlewares...)

	return &Client{
		handler: transport.Chain(transport.NewHTTPHandler(o.httpClient, o.adapter), middlewares...),
		limiter: limiter,
		cache:   completionCache,
	}, nil
}

// Do sends req and returns the full response.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	resp, err := c.handler.Handle(ctx, req)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(resp.Content) == "" {
		return nil, fmt.Errorf("%s: %w", req.Model, llmerrors.ErrEmptyCompletion)
	}
	return resp, nil
}

// Complete implements Completer.
func (c *Client) Complete(ctx context.Context, req *Request) (string, error) {
	resp, err := c.Do(ctx, req)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// CacheStats returns the completion cache counters.
func (c *Client) CacheStats() cache.Stats { return c.cache.Stats() }

// RateLimitDegraded reports whether the global limiter fell back to local-only.
func (c *Client) RateLimitDegraded() bool { return c.limiter.Degraded() }
