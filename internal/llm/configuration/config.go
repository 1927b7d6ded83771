// Package configuration holds the settings of the network layer: provider
// endpoint and credentials, rate limiting, completion caching and
// observability.
package configuration

import (
	"errors"
	"fmt"
	"time"
)

// Config configures the LLM client and its middleware chain.
type Config struct {
	HTTPTimeout   time.Duration       `mapstructure:"http_timeout"`
	Provider      ProviderConfig      `mapstructure:"provider"`
	RateLimit     RateLimitConfig     `mapstructure:"rate_limit"`
	Cache         CacheConfig         `mapstructure:"cache"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// ProviderConfig describes the OpenAI-compatible endpoint.
type ProviderConfig struct {
	Endpoint string            `mapstructure:"base_url"`
	APIKey   string            `mapstructure:"-"`
	Timeout  time.Duration     `mapstructure:"timeout"`
	Headers  map[string]string `mapstructure:"headers"`
}

// RateLimitConfig controls the local token buckets and the optional Redis
// fixed-window limiter shared across processes.
type RateLimitConfig struct {
	Local  LocalRateLimitConfig  `mapstructure:"local"`
	Global GlobalRateLimitConfig `mapstructure:"global"`
}

// LocalRateLimitConfig configures per-model token buckets.
type LocalRateLimitConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	TokensPerSecond float64 `mapstructure:"tokens_per_second"`
	BurstSize       int     `mapstructure:"burst_size"`

	// Wait blocks until a token is available instead of failing fast.
	Wait bool `mapstructure:"wait"`
}

// GlobalRateLimitConfig configures the Redis fixed-window limiter.
type GlobalRateLimitConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	RequestsPerSecond int           `mapstructure:"requests_per_second"`
	RedisAddr         string        `mapstructure:"redis_addr"`
	RedisPassword     string        `mapstructure:"-"`
	RedisDB           int           `mapstructure:"redis_db"`
	ConnectTimeout    time.Duration `mapstructure:"connect_timeout"`
}

// CacheConfig controls the Redis completion cache.
type CacheConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	TTL           time.Duration `mapstructure:"ttl"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"-"`
	RedisDB       int           `mapstructure:"redis_db"`
}

// ObservabilityConfig controls request logging and metrics.
type ObservabilityConfig struct {
	LogLevel       string `mapstructure:"log_level"`
	LogFormat      string `mapstructure:"log_format"`
	MetricsEnabled bool   `mapstructure:"metrics_enabled"`
	RedactPrompts  bool   `mapstructure:"redact_prompts"`
}

var (
	errNegativeRate  = errors.New("rate limit tokens_per_second must be positive")
	errNegativeBurst = errors.New("rate limit burst_size must be positive")
	errMissingRedis  = errors.New("redis_addr is required")
)

// Validate checks that enabled features carry the settings they need.
func (c *Config) Validate() error {
	if c.RateLimit.Local.Enabled {
		if c.RateLimit.Local.TokensPerSecond <= 0 {
			return errNegativeRate
		}
		if c.RateLimit.Local.BurstSize <= 0 {
			return errNegativeBurst
		}
	}
	if c.RateLimit.Global.Enabled {
		if c.RateLimit.Global.RequestsPerSecond < 0 {
			return fmt.Errorf("global rate limit: %w", errNegativeRate)
		}
		if c.RateLimit.Global.RedisAddr == "" {
			return fmt.Errorf("global rate limit: %w", errMissingRedis)
		}
	}
	if c.Cache.Enabled && c.Cache.RedisAddr == "" {
		return fmt.Errorf("cache: %w", errMissingRedis)
	}
	return nil
}
