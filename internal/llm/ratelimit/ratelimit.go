// Package ratelimit throttles provider calls with a per-model token bucket
// and an optional Redis fixed-window limiter shared across processes. When
// Redis misbehaves the middleware degrades to local-only limiting.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/ahrav/go-appraise/internal/llm/configuration"
	llmerrors "github.com/ahrav/go-appraise/internal/llm/errors"
	"github.com/ahrav/go-appraise/internal/llm/transport"
)

// Redis and retry constants.
const (
	RedisReadTimeout  = 5 * time.Second
	RedisWriteTimeout = 5 * time.Second
	RedisPoolSize     = 10

	windowMs             = 1000
	MinRetryAfterSeconds = 1
	MaxRetryAfterSeconds = 3600
)

// fixedWindow counts requests per key in a 1s window. Returns {1, remaining}
// when allowed and {0, ttl_ms} when denied.
var fixedWindow = redis.NewScript(`
	local key = KEYS[1]
	local window = tonumber(ARGV[1])
	local limit = tonumber(ARGV[2])

	local current = redis.call('GET', key)
	if current == false then
		redis.call('SET', key, 1, 'PX', window)
		return {1, limit - 1}
	end

	local count = tonumber(current)
	if count < limit then
		local newCount = redis.call('INCR', key)
		if redis.call('PTTL', key) == -1 then
			redis.call('PEXPIRE', key, window)
		end
		return {1, limit - newCount}
	end
	return {0, redis.call('PTTL', key)}
`)

// Limiter holds the per-model buckets and the optional Redis client.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	local    configuration.LocalRateLimitConfig

	client   redis.UniversalClient
	global   configuration.GlobalRateLimitConfig
	degraded atomic.Bool

	logger *slog.Logger
}

// New creates a Limiter. When global limiting is enabled and client is nil, a
// client is dialed from the configuration; a failed ping starts the limiter in
// degraded mode rather than failing construction.
func New(cfg configuration.RateLimitConfig, client redis.UniversalClient) (*Limiter, error) {
	if cfg.Local.Enabled && (cfg.Local.TokensPerSecond <= 0 || cfg.Local.BurstSize <= 0) {
		return nil, fmt.Errorf("invalid local rate limit: %.2f tokens/s, burst %d",
			cfg.Local.TokensPerSecond, cfg.Local.BurstSize)
	}
	if cfg.Global.RequestsPerSecond < 0 {
		return nil, fmt.Errorf("invalid global rate limit: %d requests/s", cfg.Global.RequestsPerSecond)
	}

	l := &Limiter{
		limiters: make(map[string]*rate.Limiter),
		local:    cfg.Local,
		global:   cfg.Global,
		logger:   slog.Default().With("component", "ratelimit"),
	}

	if cfg.Global.Enabled {
		if client == nil {
			rc := redis.NewClient(&redis.Options{
				Addr:         cfg.Global.RedisAddr,
				Password:     cfg.Global.RedisPassword,
				DB:           cfg.Global.RedisDB,
				DialTimeout:  cfg.Global.ConnectTimeout,
				ReadTimeout:  RedisReadTimeout,
				WriteTimeout: RedisWriteTimeout,
				PoolSize:     RedisPoolSize,
			})
			timeout := cfg.Global.ConnectTimeout
			if timeout <= 0 {
				timeout = configuration.DefaultConnectTimeout
			}
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			if err := rc.Ping(ctx).Err(); err != nil {
				l.logger.Warn("redis unreachable, using local-only rate limiting", "error", err)
				l.degraded.Store(true)
			}
			client = rc
		}
		l.client = client
	}
	return l, nil
}

// Degraded reports whether the global limiter has been bypassed after a Redis failure.
func (l *Limiter) Degraded() bool { return l.degraded.Load() }

// Middleware returns the rate limiting transport.Middleware.
func (l *Limiter) Middleware() transport.Middleware {
	return func(next transport.Handler) transport.Handler {
		return transport.HandlerFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
			if err := l.Acquire(ctx, req.Model); err != nil {
				return nil, err
			}
			return next.Handle(ctx, req)
		})
	}
}

// Acquire takes one permit for key from the local bucket and, if enabled,
// the global window.
func (l *Limiter) Acquire(ctx context.Context, key string) error {
	if l.local.Enabled {
		if err := l.acquireLocal(ctx, key); err != nil {
			return err
		}
	}
	if l.global.Enabled && l.client != nil && !l.degraded.Load() {
		return l.acquireGlobal(ctx, key)
	}
	return nil
}

func (l *Limiter) bucket(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(l.local.TokensPerSecond), l.local.BurstSize)
		l.limiters[key] = lim
	}
	return lim
}

func (l *Limiter) acquireLocal(ctx context.Context, key string) error {
	lim := l.bucket(key)
	if l.local.Wait {
		if err := lim.Wait(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return &llmerrors.RateLimitError{Scope: "local", Key: key, Limit: int(l.local.TokensPerSecond)}
		}
		return nil
	}

	if lim.Allow() {
		return nil
	}
	// Reserve then cancel so the rejected call does not consume a token.
	res := lim.Reserve()
	delay := res.Delay()
	res.Cancel()
	return &llmerrors.RateLimitError{
		Scope:      "local",
		Key:        key,
		Limit:      int(l.local.TokensPerSecond),
		RetryAfter: max(MinRetryAfterSeconds, int(math.Ceil(delay.Seconds()))),
	}
}

func (l *Limiter) acquireGlobal(ctx context.Context, key string) error {
	limit := int64(l.global.RequestsPerSecond)
	if limit == 0 {
		return nil
	}

	result, err := fixedWindow.Run(ctx, l.client, []string{"rl:global:" + key}, windowMs, limit).Result()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		l.logger.Warn("global rate limit check failed, switching to degraded mode", "error", err)
		l.degraded.Store(true)
		return nil
	}

	res, ok := result.([]any)
	if !ok || len(res) < 2 {
		l.logger.Warn("invalid redis response, switching to degraded mode", "response", result)
		l.degraded.Store(true)
		return nil
	}
	allowed, _ := res[0].(int64)
	if allowed == 1 {
		return nil
	}

	ttlMs, ok := res[1].(int64)
	if !ok || ttlMs <= 0 {
		ttlMs = windowMs
	}
	retry := int(math.Ceil(float64(ttlMs) / windowMs))
	retry = min(max(retry, MinRetryAfterSeconds), MaxRetryAfterSeconds)
	return &llmerrors.RateLimitError{Scope: "global", Key: key, Limit: int(limit), RetryAfter: retry}
}
