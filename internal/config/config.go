// Package config loads the consensus configuration from a JSON or YAML file,
// an optional .env file and APPRAISE_* environment overrides.
//
// The file layout follows consensus_config.json:
//
//	{
//	  "models": [{"id": "...", "max_tokens": 200, "temperature": 0.7}],
//	  "aggregator": [{"model": {...}, "aggregator_context": [...], "aggregator_prompt": [...]}],
//	  "challenge_prompts": ["..."],
//	  "challenge_rounds": 1
//	}
//
// Secrets never come from the file: the provider key is read from
// OPEN_ROUTER_API_KEY and the Redis password from REDIS_PASSWORD.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/ahrav/go-appraise/internal/domain"
	"github.com/ahrav/go-appraise/internal/llm/configuration"
	"github.com/ahrav/go-appraise/internal/similarity"
)

// Environment variables read outside the APPRAISE_ prefix.
const (
	EnvAPIKey        = "OPEN_ROUTER_API_KEY"
	EnvRedisPassword = "REDIS_PASSWORD"
	EnvPrefix        = "APPRAISE"
)

// DefaultConfigName is the base name searched for in ./config and the working directory.
const DefaultConfigName = "consensus_config"

// TemporalConfig addresses the Temporal frontend used by the worker command.
type TemporalConfig struct {
	HostPort  string `mapstructure:"host_port"`
	Namespace string `mapstructure:"namespace"`
	TaskQueue string `mapstructure:"task_queue"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// Event sink kinds.
const (
	SinkNone  = "none"
	SinkLog   = "log"
	SinkRedis = "redis"
)

// EventsConfig selects where activity events go.
type EventsConfig struct {
	Sink          string `mapstructure:"sink"`
	Stream        string `mapstructure:"stream"`
	MaxLen        int64  `mapstructure:"max_len"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"-"`
	RedisDB       int    `mapstructure:"redis_db"`
}

// TracingConfig controls span export.
type TracingConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	SampleRate   float64 `mapstructure:"sample_rate"`
	ServiceName  string  `mapstructure:"service_name"`
}

// file mirrors the on-disk layout. The network settings sit at the top level.
type file struct {
	configuration.Config `mapstructure:",squash"`

	Models             []domain.Appraiser        `mapstructure:"models"`
	Aggregator         []domain.AggregatorConfig `mapstructure:"aggregator"`
	ChallengePrompts   []string                  `mapstructure:"challenge_prompts"`
	ChallengeRounds    int                       `mapstructure:"challenge_rounds"`
	ChallengeSelection domain.SelectionPolicy    `mapstructure:"challenge_selection"`
	MaxParallel        int                       `mapstructure:"max_parallel"`
	Confidence         domain.ConfidenceParams   `mapstructure:"confidence"`
	Similarity         similarity.Config         `mapstructure:"similarity"`
	Temporal           TemporalConfig            `mapstructure:"temporal"`
	Server             ServerConfig              `mapstructure:"server"`
	Events             EventsConfig              `mapstructure:"events"`
	Tracing            TracingConfig             `mapstructure:"tracing"`
}

// Config is the validated result of Load.
type Config struct {
	Consensus  domain.ConsensusConfig
	LLM        configuration.Config
	Similarity similarity.Config
	Temporal   TemporalConfig
	Server     ServerConfig
	Events     EventsConfig
	Tracing    TracingConfig

	// Source is the config file that was read, empty when none was found.
	Source string
}

// Load reads configuration. An explicit path must exist; with an empty path the
// loader searches ./config and the working directory for consensus_config.{json,yaml,yml}.
func Load(path string) (*Config, error) {
	loadEnvFile()

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(DefaultConfigName)
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	registerDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("%w: reading config: %w", domain.ErrConfiguration, err)
		}
	}

	var raw file
	if err := v.Unmarshal(&raw, func(dc *mapstructure.DecoderConfig) {
		dc.WeaklyTypedInput = true
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc("|"),
		)
	}); err != nil {
		return nil, fmt.Errorf("%w: parsing config: %w", domain.ErrConfiguration, err)
	}

	cfg, err := build(raw)
	if err != nil {
		return nil, err
	}
	cfg.Source = v.ConfigFileUsed()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// build applies defaults, reads secrets and splits the raw layout into the
// per-component configurations.
func build(raw file) (*Config, error) {
	if len(raw.Aggregator) > 1 {
		return nil, fmt.Errorf("%w: exactly one aggregator is supported, got %d", domain.ErrConfiguration, len(raw.Aggregator))
	}
	var agg domain.AggregatorConfig
	if len(raw.Aggregator) == 1 {
		agg = raw.Aggregator[0]
	}
	if len(raw.ChallengePrompts) == 0 {
		raw.ChallengePrompts = DefaultChallengePrompts()
	}

	llmCfg := raw.Config
	llmCfg.Provider.APIKey = os.Getenv(EnvAPIKey)
	password := os.Getenv(EnvRedisPassword)
	llmCfg.Cache.RedisPassword = password
	llmCfg.RateLimit.Global.RedisPassword = password
	raw.Events.RedisPassword = password

	sim := raw.Similarity
	sim.BaseURL = llmCfg.Provider.Endpoint
	sim.APIKey = llmCfg.Provider.APIKey

	return &Config{
		Consensus: domain.ConsensusConfig{
			Models:           raw.Models,
			Aggregator:       agg,
			ChallengePrompts: raw.ChallengePrompts,
			ChallengeRounds:  raw.ChallengeRounds,
			Selection:        raw.ChallengeSelection,
			MaxParallel:      raw.MaxParallel,
			Confidence:       raw.Confidence,
		},
		LLM:        llmCfg,
		Similarity: sim,
		Temporal:   raw.Temporal,
		Server:     raw.Server,
		Events:     raw.Events,
		Tracing:    raw.Tracing,
	}, nil
}

// Validate checks every section and reports violations as ErrConfiguration.
func (c *Config) Validate() error {
	if err := c.Consensus.Validate(); err != nil {
		return err
	}
	if err := c.LLM.Validate(); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrConfiguration, err)
	}
	switch c.Similarity.Kind {
	case "", similarity.KindLexical, similarity.KindEmbedding:
	default:
		return fmt.Errorf("%w: unknown similarity kind %q", domain.ErrConfiguration, c.Similarity.Kind)
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return fmt.Errorf("%w: tracing.sample_rate must be within [0, 1]", domain.ErrConfiguration)
	}
	switch c.Events.Sink {
	case "", SinkNone, SinkLog:
	case SinkRedis:
		if c.Events.RedisAddr == "" {
			return fmt.Errorf("%w: redis event sink requires events.redis_addr", domain.ErrConfiguration)
		}
	default:
		return fmt.Errorf("%w: unknown event sink %q", domain.ErrConfiguration, c.Events.Sink)
	}
	return nil
}

// RequireAPIKey fails when no provider key is set. Commands that call the
// provider check this; tests with fake completers do not.
func (c *Config) RequireAPIKey() error {
	if c.LLM.Provider.APIKey == "" {
		return fmt.Errorf("%w: %s is not set", domain.ErrConfiguration, EnvAPIKey)
	}
	return nil
}

// loadEnvFile loads the first .env found near the working directory or at the module root.
func loadEnvFile() {
	candidates := []string{".env", "../.env", "../../.env"}
	if root := findProjectRoot(); root != "" {
		candidates = append(candidates, filepath.Join(root, ".env"))
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err == nil {
			slog.Debug("loaded env file", "path", p)
			return
		}
	}
}

func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
