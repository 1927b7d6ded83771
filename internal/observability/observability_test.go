package observability

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-appraise/internal/config"
	"github.com/ahrav/go-appraise/internal/llm/configuration"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{in: "debug", want: slog.LevelDebug},
		{in: "", want: slog.LevelInfo},
		{in: "INFO", want: slog.LevelInfo},
		{in: "warning", want: slog.LevelWarn},
		{in: "error", want: slog.LevelError},
		{in: "loud", want: slog.LevelInfo, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantErr, err != nil)
		})
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(configuration.ObservabilityConfig{LogLevel: "warn", LogFormat: "json"}, &buf)
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("shown", "k", "v")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)

	_, err = NewLogger(configuration.ObservabilityConfig{LogFormat: "xml"}, &buf)
	assert.Error(t, err)
}

func TestNewTracerProvider(t *testing.T) {
	ctx := context.Background()

	tp, err := NewTracerProvider(ctx, config.TracingConfig{})
	require.NoError(t, err)
	_, span := tp.Tracer().Start(ctx, "noop")
	assert.False(t, span.SpanContext().IsSampled())
	span.End()
	assert.NoError(t, tp.Shutdown(ctx))

	tp, err = NewTracerProvider(ctx, config.TracingConfig{Enabled: true, OTLPEndpoint: "127.0.0.1:1", SampleRate: 1})
	require.NoError(t, err)
	t.Cleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = tp.Shutdown(shutdownCtx)
	})
	_, span = tp.Tracer().Start(ctx, "sampled")
	assert.True(t, span.SpanContext().IsSampled())
	span.End()
}
