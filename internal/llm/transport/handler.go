// Package transport defines the request pipeline shared by every network
// middleware: the normalized request and response types, the Handler
// abstraction and middleware composition, and the core HTTP handler that
// delegates wire formatting to a provider adapter.
package transport

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ahrav/go-appraise/internal/domain"
)

// Request is a normalized chat-completion request.
type Request struct {
	// Model is the provider model identifier, e.g. "qwen/qwen-vl-plus:free".
	Model string `json:"model"`

	Messages    []domain.Message `json:"messages"`
	MaxTokens   int              `json:"max_tokens"`
	Temperature float64          `json:"temperature"`

	// Control fields; not part of the wire payload or cache identity.
	Timeout   time.Duration `json:"-"`
	RequestID string        `json:"-"`
}

// Response is the normalized completion returned by any provider.
type Response struct {
	Content           string `json:"content"`
	Model             string `json:"model"`
	FinishReason      string `json:"finish_reason"`
	ProviderRequestID string `json:"provider_request_id,omitempty"`
	Usage             Usage  `json:"usage"`

	// Cached is set when the response was served from the completion cache.
	Cached bool `json:"-"`
}

// Usage reports token consumption and wall-clock latency.
type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
	LatencyMs        int64 `json:"latency_ms"`
}

// ProviderAdapter translates normalized requests to and from a provider's HTTP API.
type ProviderAdapter interface {
	Build(ctx context.Context, req *Request) (*http.Request, error)
	Parse(httpResp *http.Response) (*Response, error)
	Name() string
}

// Handler processes requests through a composable middleware pipeline.
type Handler interface {
	Handle(ctx context.Context, req *Request) (*Response, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(context.Context, *Request) (*Response, error)

// Handle implements the Handler interface.
func (f HandlerFunc) Handle(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// Middleware wraps a Handler with extra behavior before and after the call.
type Middleware func(Handler) Handler

// Chain builds a middleware pipeline around a core handler. The first
// middleware is outermost.
func Chain(h Handler, middlewares ...Middleware) Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// NewHTTPHandler creates the core handler that performs the HTTP round trip.
func NewHTTPHandler(client *http.Client, adapter ProviderAdapter) Handler {
	if client == nil {
		client = http.DefaultClient
	}
	return &httpHandler{client: client, adapter: adapter}
}

type httpHandler struct {
	client  *http.Client
	adapter ProviderAdapter
}

// Handle implements Handler.
func (h *httpHandler) Handle(ctx context.Context, req *Request) (*Response, error) {
	reqCtx := ctx
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	httpReq, err := h.adapter.Build(reqCtx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	start := time.Now()
	httpResp, err := h.client.Do(httpReq)
	latency := time.Since(start)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	resp, err := h.adapter.Parse(httpResp)
	if err != nil {
		return nil, err
	}
	resp.Usage.LatencyMs = latency.Milliseconds()
	return resp, nil
}
