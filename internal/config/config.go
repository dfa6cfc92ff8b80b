package config

import (
	"errors"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config is the root of the configuration tree, one field per YAML
// section.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Brightdata BrightdataConfig `yaml:"brightdata" mapstructure:"brightdata"`
	Serper     SerperConfig     `yaml:"serper" mapstructure:"serper"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Salesforce SalesforceConfig `yaml:"salesforce" mapstructure:"salesforce"`
	Notion     NotionConfig     `yaml:"notion" mapstructure:"notion"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Persona    PersonaConfig    `yaml:"persona" mapstructure:"persona"`
	Batch      BatchConfig      `yaml:"batch" mapstructure:"batch"`
	Temporal   TemporalConfig   `yaml:"temporal" mapstructure:"temporal"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Retry      RetryConfig      `yaml:"retry" mapstructure:"retry"`
	Pricing    PricingConfig    `yaml:"pricing" mapstructure:"pricing"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the run store backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
}

// BrightdataConfig holds Bright Data dataset and scraper settings.
type BrightdataConfig struct {
	Key              string `yaml:"key" mapstructure:"key"`
	BaseURL          string `yaml:"base_url" mapstructure:"base_url"`
	DatasetID        string `yaml:"dataset_id" mapstructure:"dataset_id"`
	ResultCap        int    `yaml:"result_cap" mapstructure:"result_cap"`
	PollTimeoutSecs  int    `yaml:"poll_timeout_secs" mapstructure:"poll_timeout_secs"`
	PollIntervalSecs int    `yaml:"poll_interval_secs" mapstructure:"poll_interval_secs"`
}

// SerperConfig holds the web-search API settings.
type SerperConfig struct {
	Key            string `yaml:"key" mapstructure:"key"`
	BaseURL        string `yaml:"base_url" mapstructure:"base_url"`
	ProfileHost    string `yaml:"profile_host" mapstructure:"profile_host"`
	ResultsPerPage int    `yaml:"results_per_page" mapstructure:"results_per_page"`
	MaxQueries     int    `yaml:"max_queries" mapstructure:"max_queries"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key         string `yaml:"key" mapstructure:"key"`
	HaikuModel  string `yaml:"haiku_model" mapstructure:"haiku_model"`
	SonnetModel string `yaml:"sonnet_model" mapstructure:"sonnet_model"`
	MaxTokens   int    `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// SalesforceConfig holds Salesforce JWT auth settings and the API pacing
// used by the write-back drain.
type SalesforceConfig struct {
	ClientID string  `yaml:"client_id" mapstructure:"client_id"`
	Username string  `yaml:"username" mapstructure:"username"`
	KeyPath  string  `yaml:"key_path" mapstructure:"key_path"`
	LoginURL string  `yaml:"login_url" mapstructure:"login_url"`
	RPS      float64 `yaml:"rps" mapstructure:"rps"`
}

// NotionConfig holds Notion API credentials and the pending-updates database.
type NotionConfig struct {
	Token     string `yaml:"token" mapstructure:"token"`
	PendingDB string `yaml:"pending_db" mapstructure:"pending_db"`
}

// PipelineConfig holds the per-run defaults. CLI flags and API parameters
// override these per invocation.
type PipelineConfig struct {
	Mode                 string  `yaml:"mode" mapstructure:"mode"`
	MinScore             int     `yaml:"min_score" mapstructure:"min_score"`
	MaxProspects         int     `yaml:"max_prospects" mapstructure:"max_prospects"`
	CostCeiling          float64 `yaml:"cost_ceiling" mapstructure:"cost_ceiling"`
	MinConnections       int     `yaml:"min_connections" mapstructure:"min_connections"`
	UseLocationFilter    bool    `yaml:"use_location_filter" mapstructure:"use_location_filter"`
	MaxScrapeConcurrency int     `yaml:"max_scrape_concurrency" mapstructure:"max_scrape_concurrency"`
	AcquireTimeoutSecs   int     `yaml:"acquire_timeout_secs" mapstructure:"acquire_timeout_secs"`
	ValidateTimeoutSecs  int     `yaml:"validate_timeout_secs" mapstructure:"validate_timeout_secs"`
	RankTimeoutSecs      int     `yaml:"rank_timeout_secs" mapstructure:"rank_timeout_secs"`
	EnqueueTimeoutSecs   int     `yaml:"enqueue_timeout_secs" mapstructure:"enqueue_timeout_secs"`
	NameSetUseGenerative bool    `yaml:"name_set_use_generative" mapstructure:"name_set_use_generative"`
}

// PersonaConfig points at an optional YAML override for title sets and the
// ranking rubric.
type PersonaConfig struct {
	File string `yaml:"file" mapstructure:"file"`
}

// BatchConfig configures batch processing.
type BatchConfig struct {
	MaxConcurrentAccounts int    `yaml:"max_concurrent_accounts" mapstructure:"max_concurrent_accounts"`
	DLQPath               string `yaml:"dlq_path" mapstructure:"dlq_path"`
	MaxRetries            int    `yaml:"max_retries" mapstructure:"max_retries"`
}

// TemporalConfig configures the durable batch worker.
type TemporalConfig struct {
	HostPort  string `yaml:"host_port" mapstructure:"host_port"`
	Namespace string `yaml:"namespace" mapstructure:"namespace"`
	TaskQueue string `yaml:"task_queue" mapstructure:"task_queue"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// RetryConfig holds the adapter retry policy knobs plus the circuit
// breaker tuning shared by the outbound integrations.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMS int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMS     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
	BreakerThreshold int     `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerResetSecs int     `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
}

// PricingConfig holds per-provider pricing rates.
type PricingConfig struct {
	Anthropic  map[string]ModelPricing `yaml:"anthropic" mapstructure:"anthropic"`
	Dataset    DatasetPricing          `yaml:"dataset" mapstructure:"dataset"`
	Scraper    ScraperPricing          `yaml:"scraper" mapstructure:"scraper"`
	Search     SearchPricing           `yaml:"search" mapstructure:"search"`
	Salesforce SalesforcePricing       `yaml:"salesforce" mapstructure:"salesforce"`
}

// ModelPricing holds per-model token pricing (USD per million tokens).
type ModelPricing struct {
	Input         float64 `yaml:"input" mapstructure:"input"`
	Output        float64 `yaml:"output" mapstructure:"output"`
	CacheWriteMul float64 `yaml:"cache_write_mul" mapstructure:"cache_write_mul"`
	CacheReadMul  float64 `yaml:"cache_read_mul" mapstructure:"cache_read_mul"`
}

// DatasetPricing holds dataset-filter pricing.
type DatasetPricing struct {
	PerSnapshot float64 `yaml:"per_snapshot" mapstructure:"per_snapshot"`
	PerRecord   float64 `yaml:"per_record" mapstructure:"per_record"`
}

// ScraperPricing holds profile-scraper pricing.
type ScraperPricing struct {
	PerURL float64 `yaml:"per_url" mapstructure:"per_url"`
}

// SearchPricing holds web-search pricing.
type SearchPricing struct {
	PerQuery float64 `yaml:"per_query" mapstructure:"per_query"`
}

// SalesforcePricing holds CRM call pricing.
type SalesforcePricing struct {
	PerCall float64 `yaml:"per_call" mapstructure:"per_call"`
}

// LogConfig selects the log level and output encoder.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load assembles the configuration from defaults, an optional
// config.yaml, and PROSPECTOR_* environment variables, in rising
// precedence.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("PROSPECTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "prospector.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("brightdata.base_url", "https://api.brightdata.com")
	v.SetDefault("brightdata.result_cap", 75)
	v.SetDefault("brightdata.poll_timeout_secs", 300)
	v.SetDefault("brightdata.poll_interval_secs", 2)
	v.SetDefault("serper.base_url", "https://google.serper.dev")
	v.SetDefault("serper.profile_host", "linkedin.com/in")
	v.SetDefault("serper.results_per_page", 10)
	v.SetDefault("serper.max_queries", 60)
	v.SetDefault("anthropic.haiku_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.sonnet_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("salesforce.login_url", "https://login.salesforce.com")
	v.SetDefault("salesforce.rps", 5.0)
	v.SetDefault("pipeline.mode", "dataset")
	v.SetDefault("pipeline.min_score", 65)
	v.SetDefault("pipeline.max_prospects", 10)
	v.SetDefault("pipeline.cost_ceiling", 5.0)
	v.SetDefault("pipeline.min_connections", 50)
	v.SetDefault("pipeline.use_location_filter", false)
	v.SetDefault("pipeline.max_scrape_concurrency", 5)
	v.SetDefault("pipeline.acquire_timeout_secs", 600)
	v.SetDefault("pipeline.validate_timeout_secs", 600)
	v.SetDefault("pipeline.rank_timeout_secs", 120)
	v.SetDefault("pipeline.enqueue_timeout_secs", 60)
	v.SetDefault("pipeline.name_set_use_generative", true)
	v.SetDefault("batch.max_concurrent_accounts", 5)
	v.SetDefault("batch.max_retries", 3)
	v.SetDefault("batch.dlq_path", "dlq.json")
	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "prospector-batch")
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 500)
	v.SetDefault("retry.max_backoff_ms", 30000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter_fraction", 0.25)
	v.SetDefault("retry.breaker_threshold", 5)
	v.SetDefault("retry.breaker_reset_secs", 30)
	v.SetDefault("pricing.dataset.per_snapshot", 0.05)
	v.SetDefault("pricing.dataset.per_record", 0.01)
	v.SetDefault("pricing.scraper.per_url", 0.015)
	v.SetDefault("pricing.search.per_query", 0.003)
	v.SetDefault("pricing.salesforce.per_call", 0)

	// A missing config.yaml is fine, the defaults and environment carry
	// a full configuration on their own.
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger installs the process-wide zap logger described by the log
// section. Format "console" picks the human-readable development
// encoder, anything else emits production JSON.
func InitLogger(cfg LogConfig) error {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrapf(err, "config: log level %q", cfg.Level)
	}

	zc := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	logger, err := zc.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)
	return nil
}

// Validate checks that the configuration is usable for the given command
// mode. Modes: "discover", "batch", "serve", "worker", "writeback".
func (c *Config) Validate(mode string) error {
	var problems []string

	checkCommon := func() {
		if c.Batch.MaxConcurrentAccounts < 1 || c.Batch.MaxConcurrentAccounts > 50 {
			problems = append(problems, "batch.max_concurrent_accounts must be between 1 and 50")
		}
		if c.Pipeline.MinScore < 0 || c.Pipeline.MinScore > 100 {
			problems = append(problems, "pipeline.min_score must be between 0 and 100")
		}
		if c.Pipeline.MaxProspects < 1 {
			problems = append(problems, "pipeline.max_prospects must be >= 1")
		}
		if c.Pipeline.CostCeiling < 0 {
			problems = append(problems, "pipeline.cost_ceiling must be >= 0")
		}
		switch c.Pipeline.Mode {
		case "dataset", "search", "combined":
		default:
			problems = append(problems, "pipeline.mode must be dataset, search, or combined")
		}
	}

	checkAdapters := func() {
		if c.Anthropic.Key == "" {
			problems = append(problems, "anthropic.key is required")
		}
		if c.Salesforce.ClientID == "" || c.Salesforce.Username == "" || c.Salesforce.KeyPath == "" {
			problems = append(problems, "salesforce.client_id, salesforce.username, and salesforce.key_path are required")
		}
		if c.Pipeline.Mode != "search" && c.Brightdata.Key == "" {
			problems = append(problems, "brightdata.key is required for dataset mode")
		}
		if c.Pipeline.Mode != "dataset" && c.Serper.Key == "" {
			problems = append(problems, "serper.key is required for search mode")
		}
	}

	switch mode {
	case "discover", "batch":
		checkCommon()
		checkAdapters()
	case "serve":
		checkCommon()
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
	case "worker":
		checkCommon()
		checkAdapters()
		if c.Temporal.HostPort == "" {
			problems = append(problems, "temporal.host_port is required")
		}
	case "writeback":
		if c.Salesforce.ClientID == "" || c.Salesforce.Username == "" || c.Salesforce.KeyPath == "" {
			problems = append(problems, "salesforce.client_id, salesforce.username, and salesforce.key_path are required")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}
