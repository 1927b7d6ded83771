package ratelimit

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-appraise/internal/llm/configuration"
	llmerrors "github.com/ahrav/go-appraise/internal/llm/errors"
	"github.com/ahrav/go-appraise/internal/llm/transport"
)

func okHandler(calls *atomic.Int32) transport.Handler {
	return transport.HandlerFunc(func(context.Context, *transport.Request) (*transport.Response, error) {
		calls.Add(1)
		return &transport.Response{Content: "ok"}, nil
	})
}

func TestNew_InvalidConfig(t *testing.T) {
	_, err := New(configuration.RateLimitConfig{
		Local: configuration.LocalRateLimitConfig{Enabled: true, TokensPerSecond: 0, BurstSize: 1},
	}, nil)
	assert.Error(t, err)

	_, err = New(configuration.RateLimitConfig{
		Global: configuration.GlobalRateLimitConfig{RequestsPerSecond: -1},
	}, nil)
	assert.Error(t, err)
}

func TestLimiter_LocalReject(t *testing.T) {
	l, err := New(configuration.RateLimitConfig{
		Local: configuration.LocalRateLimitConfig{Enabled: true, TokensPerSecond: 0.1, BurstSize: 2},
	}, nil)
	require.NoError(t, err)

	var calls atomic.Int32
	h := transport.Chain(okHandler(&calls), l.Middleware())
	ctx := context.Background()

	for range 2 {
		_, err := h.Handle(ctx, &transport.Request{Model: "a"})
		require.NoError(t, err)
	}

	_, err = h.Handle(ctx, &transport.Request{Model: "a"})
	var rle *llmerrors.RateLimitError
	require.ErrorAs(t, err, &rle)
	assert.Equal(t, "local", rle.Scope)
	assert.Equal(t, "a", rle.Key)
	assert.GreaterOrEqual(t, rle.RetryAfter, MinRetryAfterSeconds)
	assert.ErrorIs(t, err, llmerrors.ErrRateLimitExceeded)

	// Buckets are per model.
	_, err = h.Handle(ctx, &transport.Request{Model: "b"})
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestLimiter_LocalWaitHonorsContext(t *testing.T) {
	l, err := New(configuration.RateLimitConfig{
		Local: configuration.LocalRateLimitConfig{Enabled: true, TokensPerSecond: 0.01, BurstSize: 1, Wait: true},
	}, nil)
	require.NoError(t, err)

	require.NoError(t, l.Acquire(context.Background(), "m"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = l.Acquire(ctx, "m")
	require.Error(t, err)
	// rate.Limiter.Wait fails fast when the deadline is shorter than the delay.
	var rle *llmerrors.RateLimitError
	if !errors.As(err, &rle) {
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	}
}

func TestLimiter_GlobalWindow(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	l, err := New(configuration.RateLimitConfig{
		Global: configuration.GlobalRateLimitConfig{Enabled: true, RequestsPerSecond: 2},
	}, client)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, l.Acquire(ctx, "m"))
	require.NoError(t, l.Acquire(ctx, "m"))

	err = l.Acquire(ctx, "m")
	var rle *llmerrors.RateLimitError
	require.ErrorAs(t, err, &rle)
	assert.Equal(t, "global", rle.Scope)
	assert.Equal(t, 2, rle.Limit)
	assert.Equal(t, 1, rle.RetryAfter)
	assert.True(t, mr.Exists("rl:global:m"))

	mr.FastForward(2 * time.Second)
	assert.NoError(t, l.Acquire(ctx, "m"))
	assert.False(t, l.Degraded())
}

func TestLimiter_GlobalDegradesOnRedisFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })

	l, err := New(configuration.RateLimitConfig{
		Global: configuration.GlobalRateLimitConfig{Enabled: true, RequestsPerSecond: 1},
	}, client)
	require.NoError(t, err)

	mr.Close()

	var calls atomic.Int32
	h := transport.Chain(okHandler(&calls), l.Middleware())
	_, err = h.Handle(context.Background(), &transport.Request{Model: "m"})
	require.NoError(t, err)
	assert.True(t, l.Degraded())

	// Degraded mode skips Redis entirely.
	_, err = h.Handle(context.Background(), &transport.Request{Model: "m"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestLimiter_GlobalZeroRateDisabled(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	l, err := New(configuration.RateLimitConfig{
		Global: configuration.GlobalRateLimitConfig{Enabled: true, RequestsPerSecond: 0},
	}, client)
	require.NoError(t, err)
	for range 5 {
		require.NoError(t, l.Acquire(context.Background(), "m"))
	}
	assert.False(t, mr.Exists("rl:global:m"))
}
