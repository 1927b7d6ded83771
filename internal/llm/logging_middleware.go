package llm

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/ahrav/go-appraise/internal/llm/configuration"
	llmerrors "github.com/ahrav/go-appraise/internal/llm/errors"
	"github.com/ahrav/go-appraise/internal/llm/transport"
)

const previewRunes = 120

// LoggingMiddleware logs each call and records request metrics.
type LoggingMiddleware struct {
	logger   *slog.Logger
	metrics  Metrics
	provider string
	redact   bool
}

// NewLoggingMiddleware creates the outermost middleware of the client chain.
func NewLoggingMiddleware(cfg configuration.ObservabilityConfig, provider string, logger *slog.Logger, metrics Metrics) transport.Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = NewNoOpMetrics()
	}
	lm := &LoggingMiddleware{
		logger:   logger.With("component", "llm"),
		metrics:  metrics,
		provider: provider,
		redact:   cfg.RedactPrompts,
	}
	return lm.Middleware
}

// Middleware implements transport.Middleware.
func (m *LoggingMiddleware) Middleware(next transport.Handler) transport.Handler {
	return transport.HandlerFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
		if req.RequestID == "" {
			req.RequestID = uuid.New().String()
		}
		tags := map[string]string{"provider": m.provider, "model": req.Model}

		m.logger.DebugContext(ctx, "llm request",
			"request_id", req.RequestID,
			"model", req.Model,
			"messages", len(req.Messages),
			"prompt", m.preview(lastContent(req)),
		)
		m.metrics.SetGauge(MetricInFlight, tags, 1)
		defer m.metrics.SetGauge(MetricInFlight, tags, 0)

		start := time.Now()
		resp, err := next.Handle(ctx, req)
		elapsed := time.Since(start)

		if err != nil {
			classified := llmerrors.ClassifyLLMError(err)
			m.metrics.IncrementCounter(MetricErrors, map[string]string{
				"provider":   m.provider,
				"model":      req.Model,
				"error_type": string(classified.Type),
			}, 1)
			m.logger.WarnContext(ctx, "llm request failed",
				"request_id", req.RequestID,
				"model", req.Model,
				"error_type", classified.Type,
				"retryable", classified.Retryable,
				"duration_ms", elapsed.Milliseconds(),
				"error", err,
			)
			return nil, err
		}

		status := map[string]string{"provider": m.provider, "model": req.Model, "cached": strconv.FormatBool(resp.Cached)}
		m.metrics.IncrementCounter(MetricRequests, status, 1)
		m.metrics.RecordHistogram(MetricLatencyMs, tags, float64(elapsed.Milliseconds()))
		if resp.Cached {
			m.metrics.IncrementCounter(MetricCacheHits, tags, 1)
		} else if resp.Usage.TotalTokens > 0 {
			m.metrics.IncrementCounter(MetricTokens, tags, float64(resp.Usage.TotalTokens))
		}

		m.logger.InfoContext(ctx, "llm request completed",
			"request_id", req.RequestID,
			"model", req.Model,
			"cached", resp.Cached,
			"tokens", resp.Usage.TotalTokens,
			"duration_ms", elapsed.Milliseconds(),
			"response", m.preview(resp.Content),
		)
		return resp, nil
	})
}

func lastContent(req *transport.Request) string {
	if len(req.Messages) == 0 {
		return ""
	}
	return req.Messages[len(req.Messages)-1].Content
}

func (m *LoggingMiddleware) preview(s string) string {
	if m.redact {
		return "[REDACTED]"
	}
	r := []rune(s)
	if len(r) <= previewRunes {
		return s
	}
	return string(r[:previewRunes]) + "..."
}
