// Package cache stores successful completions in Redis keyed by the request
// identity (model, messages, max_tokens, temperature). A short SETNX lease
// keeps concurrent identical requests from all hitting the provider. Redis
// failures bypass the cache instead of failing the call.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ahrav/go-appraise/internal/llm/configuration"
	"github.com/ahrav/go-appraise/internal/llm/transport"
)

const (
	keyPrefix = "llm:completion:"

	defaultPoolSize    = 10
	connectionTimeout  = 5 * time.Second
	leaseTimeout       = 30 * time.Second
	retryCheckInterval = 100 * time.Millisecond
	cleanupTimeout     = 5 * time.Second
)

// Stats is a snapshot of cache counters.
type Stats struct {
	Hits   int64
	Misses int64
	Errors int64
}

// Cache is the completion cache middleware.
type Cache struct {
	client  redis.UniversalClient
	ttl     time.Duration
	enabled bool
	logger  *slog.Logger

	hits   atomic.Int64
	misses atomic.Int64
	errors atomic.Int64
}

// New creates a Cache. With a nil client and caching enabled a client is
// dialed from cfg; if Redis does not answer, caching is disabled.
func New(ctx context.Context, cfg configuration.CacheConfig, client redis.UniversalClient) *Cache {
	logger := slog.Default().With("component", "cache")
	enabled := cfg.Enabled
	if client == nil && enabled {
		rc := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			PoolSize: defaultPoolSize,
		})
		pingCtx, cancel := context.WithTimeout(ctx, connectionTimeout)
		defer cancel()
		if err := rc.Ping(pingCtx).Err(); err != nil {
			logger.Warn("redis connection failed, cache disabled", "error", err)
			enabled = false
		}
		client = rc
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = configuration.DefaultCacheTTL
	}
	return &Cache{client: client, ttl: ttl, enabled: enabled && client != nil, logger: logger}
}

// Stats returns the current counters.
func (c *Cache) Stats() Stats {
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load(), Errors: c.errors.Load()}
}

// Key returns the cache key for req.
func Key(req *transport.Request) (string, error) {
	identity, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("cache key: %w", err)
	}
	sum := sha256.Sum256(identity)
	return keyPrefix + hex.EncodeToString(sum[:]), nil
}

// Middleware returns the caching transport.Middleware.
func (c *Cache) Middleware() transport.Middleware {
	return func(next transport.Handler) transport.Handler {
		return transport.HandlerFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
			if !c.enabled {
				return next.Handle(ctx, req)
			}
			key, err := Key(req)
			if err != nil {
				c.logger.Warn("cache key failed", "error", err)
				return next.Handle(ctx, req)
			}

			cached, err := c.get(ctx, key)
			switch {
			case err != nil:
				c.errors.Add(1)
				c.logger.Warn("cache lookup failed, bypassing cache", "error", err, "model", req.Model)
				return next.Handle(ctx, req)
			case cached != nil:
				c.hits.Add(1)
				c.logger.Debug("cache hit", "key", key, "model", req.Model)
				return cached, nil
			}
			c.misses.Add(1)

			leaseKey := key + ":lease"
			leased, err := c.client.SetNX(ctx, leaseKey, "1", leaseTimeout).Result()
			if err != nil {
				c.errors.Add(1)
				c.logger.Warn("cache lease failed", "error", err, "key", key)
			}
			if err == nil && !leased {
				// Someone else is computing the same completion; give them a moment.
				select {
				case <-time.After(retryCheckInterval):
					if resp, getErr := c.get(ctx, key); getErr == nil && resp != nil {
						c.hits.Add(1)
						c.logger.Debug("cache hit after lease wait", "key", key)
						return resp, nil
					}
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}
			if leased {
				defer func() {
					cleanupCtx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
					defer cancel()
					if delErr := c.client.Del(cleanupCtx, leaseKey).Err(); delErr != nil {
						c.logger.Warn("cache lease cleanup failed", "error", delErr, "key", leaseKey)
					}
				}()
			}

			resp, err := next.Handle(ctx, req)
			if err != nil || resp == nil || resp.Content == "" {
				return resp, err
			}
			c.set(ctx, key, resp)
			return resp, nil
		})
	}
}

func (c *Cache) get(ctx context.Context, key string) (*transport.Response, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var resp transport.Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("corrupt cache entry: %w", err)
	}
	resp.Cached = true
	return &resp, nil
}

func (c *Cache) set(ctx context.Context, key string, resp *transport.Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		c.errors.Add(1)
		return
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.errors.Add(1)
		c.logger.Warn("cache store failed", "error", err, "key", key)
	}
}
