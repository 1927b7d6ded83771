package config

import (
	"github.com/spf13/viper"

	"github.com/ahrav/go-appraise/internal/domain"
	"github.com/ahrav/go-appraise/internal/llm/configuration"
	"github.com/ahrav/go-appraise/internal/similarity"
)

// Outer surface defaults.
const (
	DefaultTemporalHostPort  = "localhost:7233"
	DefaultTemporalNamespace = "default"
	DefaultTaskQueue         = "appraisal-consensus"
	DefaultServerAddr        = ":8080"
	DefaultEventStream       = "appraisal-events"
	DefaultOTLPEndpoint      = "localhost:4318"
	DefaultServiceName       = "go-appraise"
)

var defaultChallengePrompts = []string{
	"Based on your analysis, could you refine your price estimate? Please consider both bullish and bearish market scenarios, focusing on the most recent sales data.",
	"Could you revisit your price estimate, taking into account the NFT's rarity rank and recent sales patterns? A slightly more detailed analysis would be helpful.",
	"Your price estimate seems reasonable, but could you provide a more nuanced analysis that considers potential market fluctuations? Please maintain a focus on recent transaction data.",
	"What factors might cause your price estimate to change in either direction? Please reconsider your valuation with these factors in mind.",
	"Recent market trends suggest some volatility in NFT valuations. Could you refine your estimate considering both optimistic and conservative scenarios?",
}

// DefaultChallengePrompts returns a copy of the refinement prompt pool used
// when the file configures none.
func DefaultChallengePrompts() []string {
	return append([]string(nil), defaultChallengePrompts...)
}

// registerDefaults sets every scalar key so that APPRAISE_* overrides resolve
// even when the file omits the key.
func registerDefaults(v *viper.Viper) {
	llm := configuration.DefaultConfig()
	conf := domain.DefaultConfidenceParams()

	v.SetDefault("challenge_rounds", domain.DefaultChallengeRounds)
	v.SetDefault("challenge_selection", string(domain.SelectionRandom))
	v.SetDefault("max_parallel", 0)

	v.SetDefault("confidence.change_cap", conf.ChangeCap)
	v.SetDefault("confidence.similarity_weight", conf.SimilarityWeight)
	v.SetDefault("confidence.stability_weight", conf.StabilityWeight)
	v.SetDefault("confidence.use_sqrt", conf.UseSqrt)

	v.SetDefault("similarity.kind", string(similarity.KindLexical))
	v.SetDefault("similarity.max_runes", similarity.DefaultMaxRunes)
	v.SetDefault("similarity.embedding_model", similarity.DefaultEmbeddingModel)
	v.SetDefault("similarity.cache_size", similarity.DefaultCacheSize)

	v.SetDefault("http_timeout", llm.HTTPTimeout)
	v.SetDefault("provider.base_url", llm.Provider.Endpoint)
	v.SetDefault("provider.timeout", llm.Provider.Timeout)

	v.SetDefault("rate_limit.local.enabled", llm.RateLimit.Local.Enabled)
	v.SetDefault("rate_limit.local.tokens_per_second", llm.RateLimit.Local.TokensPerSecond)
	v.SetDefault("rate_limit.local.burst_size", llm.RateLimit.Local.BurstSize)
	v.SetDefault("rate_limit.local.wait", llm.RateLimit.Local.Wait)
	v.SetDefault("rate_limit.global.enabled", llm.RateLimit.Global.Enabled)
	v.SetDefault("rate_limit.global.requests_per_second", llm.RateLimit.Global.RequestsPerSecond)
	v.SetDefault("rate_limit.global.redis_addr", "")
	v.SetDefault("rate_limit.global.redis_db", 0)
	v.SetDefault("rate_limit.global.connect_timeout", llm.RateLimit.Global.ConnectTimeout)

	v.SetDefault("cache.enabled", llm.Cache.Enabled)
	v.SetDefault("cache.ttl", llm.Cache.TTL)
	v.SetDefault("cache.redis_addr", "")
	v.SetDefault("cache.redis_db", 0)

	v.SetDefault("observability.log_level", llm.Observability.LogLevel)
	v.SetDefault("observability.log_format", llm.Observability.LogFormat)
	v.SetDefault("observability.metrics_enabled", llm.Observability.MetricsEnabled)
	v.SetDefault("observability.redact_prompts", llm.Observability.RedactPrompts)

	v.SetDefault("temporal.host_port", DefaultTemporalHostPort)
	v.SetDefault("temporal.namespace", DefaultTemporalNamespace)
	v.SetDefault("temporal.task_queue", DefaultTaskQueue)

	v.SetDefault("server.addr", DefaultServerAddr)

	v.SetDefault("events.sink", SinkLog)
	v.SetDefault("events.stream", DefaultEventStream)
	v.SetDefault("events.max_len", 0)
	v.SetDefault("events.redis_addr", "")
	v.SetDefault("events.redis_db", 0)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.otlp_endpoint", DefaultOTLPEndpoint)
	v.SetDefault("tracing.sample_rate", 1.0)
	v.SetDefault("tracing.service_name", DefaultServiceName)
}
