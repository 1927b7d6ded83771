package configuration

import "time"

// Provider defaults.
const (
	DefaultEndpoint           = "https://openrouter.ai/api/v1"
	DefaultHTTPTimeoutSeconds = 60
)

// Rate limiting defaults.
const (
	DefaultTokensPerSecond = 2
	DefaultBurstSize       = 5
	DefaultConnectTimeout  = 5 * time.Second
)

// Cache defaults.
const (
	DefaultCacheTTL = 24 * time.Hour
)

// DefaultConfig returns the settings used when nothing is configured: the
// OpenRouter endpoint, waiting local rate limits, no cache and text logs.
func DefaultConfig() *Config {
	return &Config{
		HTTPTimeout: DefaultHTTPTimeoutSeconds * time.Second,
		Provider: ProviderConfig{
			Endpoint: DefaultEndpoint,
			Timeout:  DefaultHTTPTimeoutSeconds * time.Second,
		},
		RateLimit: RateLimitConfig{
			Local: LocalRateLimitConfig{
				Enabled:         true,
				TokensPerSecond: DefaultTokensPerSecond,
				BurstSize:       DefaultBurstSize,
				Wait:            true,
			},
			Global: GlobalRateLimitConfig{
				ConnectTimeout: DefaultConnectTimeout,
			},
		},
		Cache: CacheConfig{
			TTL: DefaultCacheTTL,
		},
		Observability: ObservabilityConfig{
			LogLevel:       "info",
			LogFormat:      "text",
			MetricsEnabled: true,
		},
	}
}
