// Package config loads application configuration from file and environment.
// The resulting Config is built once at process start and passed by reference
// into every component that performs external calls.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Concepts ConceptsConfig `yaml:"concepts" mapstructure:"concepts"`
	Source   SourceConfig   `yaml:"source" mapstructure:"source"`
	Sink     SinkConfig     `yaml:"sink" mapstructure:"sink"`
	Claude   ClaudeConfig   `yaml:"claude" mapstructure:"claude"`
	Reddit   RedditConfig   `yaml:"reddit" mapstructure:"reddit"`
	Pipeline PipelineConfig `yaml:"pipeline" mapstructure:"pipeline"`
	Retry    RetryConfig    `yaml:"retry" mapstructure:"retry"`
	Pricing  PricingConfig  `yaml:"pricing" mapstructure:"pricing"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// ConceptsConfig configures the concept metadata store.
type ConceptsConfig struct {
	// Driver selects the backend: "postgres", "sqlite", or "memory".
	// The memory backend is an explicit null-object choice for dry runs
	// and tests, never a silent fallback.
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
}

// SourceConfig configures where submissions are fetched from.
type SourceConfig struct {
	// Kind selects the fetcher: "postgres", "reddit", or "csv".
	Kind        string `yaml:"kind" mapstructure:"kind"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	Table       string `yaml:"table" mapstructure:"table"`
	PageSize    int    `yaml:"page_size" mapstructure:"page_size"`
	// Path is the CSV export file read by the csv source.
	Path string `yaml:"path" mapstructure:"path"`
}

// SinkConfig configures the enriched-batch storage sink.
type SinkConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	Table       string `yaml:"table" mapstructure:"table"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ClaudeConfig holds Anthropic API settings for the enrichment stages.
type ClaudeConfig struct {
	Key         string `yaml:"key" mapstructure:"key"`
	Model       string `yaml:"model" mapstructure:"model"`
	MaxTokens   int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	// MaxPromptChars bounds the submission body included in a prompt.
	// Later retry attempts reduce this bound to avoid compounding rate
	// limits.
	MaxPromptChars int `yaml:"max_prompt_chars" mapstructure:"max_prompt_chars"`
}

// RedditConfig holds the live submission source settings.
type RedditConfig struct {
	BaseURL           string   `yaml:"base_url" mapstructure:"base_url"`
	UserAgent         string   `yaml:"user_agent" mapstructure:"user_agent"`
	Subreddits        []string `yaml:"subreddits" mapstructure:"subreddits"`
	Keywords          []string `yaml:"keywords" mapstructure:"keywords"`
	Sort              string   `yaml:"sort" mapstructure:"sort"`
	RequestsPerMinute int      `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
	TimeoutSecs       int      `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// PipelineConfig configures batch processing.
type PipelineConfig struct {
	Stages         []string `yaml:"stages" mapstructure:"stages"`
	MaxConcurrency int      `yaml:"max_concurrency" mapstructure:"max_concurrency"`
	MinScore       int      `yaml:"min_score" mapstructure:"min_score"`
	MinComments    int      `yaml:"min_comments" mapstructure:"min_comments"`
	MinTextLength  int      `yaml:"min_text_length" mapstructure:"min_text_length"`
}

// RetryConfig configures external-call retry behavior.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
}

// PricingConfig holds per-stage unit costs (USD per fresh inference run).
type PricingConfig struct {
	StageUnitCost map[string]float64 `yaml:"stage_unit_cost" mapstructure:"stage_unit_cost"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("IDEA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("concepts.driver", "postgres")
	v.SetDefault("concepts.sqlite_path", "concepts.db")
	v.SetDefault("source.kind", "postgres")
	v.SetDefault("source.table", "submissions")
	v.SetDefault("source.page_size", 500)
	v.SetDefault("sink.table", "enriched_submissions")
	v.SetDefault("sink.max_conns", 10)
	v.SetDefault("sink.min_conns", 2)
	v.SetDefault("claude.model", "claude-haiku-4-5-20251001")
	v.SetDefault("claude.max_tokens", 2048)
	v.SetDefault("claude.timeout_secs", 60)
	v.SetDefault("claude.max_prompt_chars", 6000)
	v.SetDefault("reddit.base_url", "https://www.reddit.com")
	v.SetDefault("reddit.user_agent", "ideaharbor/1.0")
	v.SetDefault("reddit.sort", "new")
	v.SetDefault("reddit.requests_per_minute", 60)
	v.SetDefault("reddit.timeout_secs", 30)
	v.SetDefault("pipeline.stages", []string{"monetization", "profiling", "opportunity", "trust", "market"})
	v.SetDefault("pipeline.max_concurrency", 4)
	v.SetDefault("pipeline.min_text_length", 0)
	v.SetDefault("retry.max_attempts", 4)
	v.SetDefault("retry.initial_backoff_ms", 1000)
	v.SetDefault("retry.max_backoff_ms", 30000)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
