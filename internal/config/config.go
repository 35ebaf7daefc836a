// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/campus-crawler/internal/crawler"
)

// Render backends accepted by render.backend.
const (
	BackendHeadless = "headless"
	BackendStatic   = "static"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Keywords  KeywordsConfig  `mapstructure:"keywords"`
	Exclusion ExclusionConfig `mapstructure:"exclusion"`
	Render    RenderConfig    `mapstructure:"render"`
	Delivery  DeliveryConfig  `mapstructure:"delivery"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	GCS       GCSConfig       `mapstructure:"gcs"`
	DB        DBConfig        `mapstructure:"db"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior and run admission.
type ServerConfig struct {
	Port              int           `mapstructure:"port"`
	MaxConcurrentRuns int           `mapstructure:"max_concurrent_runs"`
	QueueDepth        int           `mapstructure:"queue_depth"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// CrawlerConfig governs one domain run.
type CrawlerConfig struct {
	MaxDepth          int           `mapstructure:"max_depth"`
	MaxPagesPerDomain int           `mapstructure:"max_pages_per_domain"`
	ConcurrentPages   int           `mapstructure:"concurrent_pages"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	MaxRetryTimeout   time.Duration `mapstructure:"max_retry_timeout"`
	RetryAttempts     int           `mapstructure:"retry_attempts"`
	RetryDelay        time.Duration `mapstructure:"retry_delay"`
	MaxRetryDelay     time.Duration `mapstructure:"max_retry_delay"`
	RequestDelay      time.Duration `mapstructure:"request_delay"`
	MinScoreToEnqueue float64       `mapstructure:"min_score_to_enqueue"`
	SeedScore         float64       `mapstructure:"seed_score"`
	MinContentChars   int           `mapstructure:"min_content_chars"`
	MaxContentChars   int           `mapstructure:"max_content_chars"`
	MaxLinksPerPage   int           `mapstructure:"max_links_per_page"`
	UserAgent         string        `mapstructure:"user_agent"`
	BlockedDomains    []string      `mapstructure:"blocked_domains"`
	ExtractionTiers   [][]string    `mapstructure:"extraction_tiers"`
}

// KeywordsConfig holds the relevance vocabularies.
type KeywordsConfig struct {
	Relevant     []string `mapstructure:"relevant"`
	HighPriority []string `mapstructure:"high_priority"`
}

// ExclusionConfig tunes the path exclusion filter.
type ExclusionConfig struct {
	Extensions      []string `mapstructure:"extensions"`
	Patterns        []string `mapstructure:"patterns"`
	Aggressive      bool     `mapstructure:"aggressive"`
	AggressivePaths []string `mapstructure:"aggressive_paths"`
}

// RenderConfig selects and tunes the render primitive.
type RenderConfig struct {
	Backend              string   `mapstructure:"backend"`
	BlockedResourceTypes []string `mapstructure:"blocked_resource_types"`
	ChromePath           string   `mapstructure:"chrome_path"`
	NoSandbox            bool     `mapstructure:"no_sandbox"`
}

// DeliveryConfig controls result sinks.
type DeliveryConfig struct {
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
	LocalDir   string        `mapstructure:"local_dir"`
}

// PubSubConfig enables the pubsub:// sink when ProjectID is set.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
}

// GCSConfig enables the gs:// sink using application default credentials.
type GCSConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// DBConfig enables the db:// sink when DSN is set.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("server.port", "CRAWLER_SERVER_PORT", "PORT"); err != nil {
		return Config{}, fmt.Errorf("bind port env: %w", err)
	}

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := crawler.DefaultSettings()
	v.SetDefault("server.port", 10000)
	v.SetDefault("server.max_concurrent_runs", 2)
	v.SetDefault("server.queue_depth", 32)
	v.SetDefault("server.request_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("crawler.max_depth", d.MaxDepth)
	v.SetDefault("crawler.max_pages_per_domain", d.MaxPagesPerDomain)
	v.SetDefault("crawler.concurrent_pages", d.ConcurrentPages)
	v.SetDefault("crawler.request_timeout", d.RequestTimeout)
	v.SetDefault("crawler.max_retry_timeout", d.MaxRetryTimeout)
	v.SetDefault("crawler.retry_attempts", d.RetryAttempts)
	v.SetDefault("crawler.retry_delay", d.RetryDelay)
	v.SetDefault("crawler.max_retry_delay", d.MaxRetryDelay)
	v.SetDefault("crawler.request_delay", d.RequestDelay)
	v.SetDefault("crawler.min_score_to_enqueue", d.MinScoreToEnqueue)
	v.SetDefault("crawler.seed_score", d.SeedScore)
	v.SetDefault("crawler.min_content_chars", d.MinContentChars)
	v.SetDefault("crawler.max_content_chars", d.MaxContentChars)
	v.SetDefault("crawler.max_links_per_page", d.MaxLinksPerPage)
	v.SetDefault("crawler.user_agent", d.UserAgent)
	v.SetDefault("crawler.blocked_domains", d.BlockedDomains)
	v.SetDefault("crawler.extraction_tiers", d.ExtractionTiers)
	v.SetDefault("keywords.relevant", d.Keywords.Relevant)
	v.SetDefault("keywords.high_priority", d.Keywords.HighPriority)
	v.SetDefault("exclusion.extensions", d.Exclusion.Extensions)
	v.SetDefault("exclusion.patterns", d.Exclusion.Patterns)
	v.SetDefault("exclusion.aggressive", d.Exclusion.Aggressive)
	v.SetDefault("exclusion.aggressive_paths", d.Exclusion.AggressivePaths)
	v.SetDefault("render.backend", BackendHeadless)
	v.SetDefault("render.blocked_resource_types", d.BlockedResources)
	v.SetDefault("render.no_sandbox", false)
	v.SetDefault("delivery.timeout", 30*time.Second)
	v.SetDefault("delivery.max_retries", 3)
	v.SetDefault("delivery.local_dir", "results")
	v.SetDefault("db.table", "page_records")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("gcs.enabled", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.MaxConcurrentRuns <= 0 {
		return fmt.Errorf("server.max_concurrent_runs must be > 0")
	}
	if c.Server.QueueDepth < 0 {
		return fmt.Errorf("server.queue_depth must be >= 0")
	}
	switch c.Render.Backend {
	case BackendHeadless, BackendStatic:
	default:
		return fmt.Errorf("render.backend must be %q or %q", BackendHeadless, BackendStatic)
	}
	if c.Delivery.MaxRetries < 0 {
		return fmt.Errorf("delivery.max_retries must be >= 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if err := c.Settings().Validate(); err != nil {
		return fmt.Errorf("invalid crawler settings: %w", err)
	}
	return nil
}

// Settings converts the crawl sections into engine settings.
func (c Config) Settings() crawler.Settings {
	return crawler.Settings{
		MaxDepth:          c.Crawler.MaxDepth,
		MaxPagesPerDomain: c.Crawler.MaxPagesPerDomain,
		ConcurrentPages:   c.Crawler.ConcurrentPages,
		RequestTimeout:    c.Crawler.RequestTimeout,
		MaxRetryTimeout:   c.Crawler.MaxRetryTimeout,
		RetryAttempts:     c.Crawler.RetryAttempts,
		RetryDelay:        c.Crawler.RetryDelay,
		MaxRetryDelay:     c.Crawler.MaxRetryDelay,
		RequestDelay:      c.Crawler.RequestDelay,
		MinScoreToEnqueue: c.Crawler.MinScoreToEnqueue,
		SeedScore:         c.Crawler.SeedScore,
		MinContentChars:   c.Crawler.MinContentChars,
		MaxContentChars:   c.Crawler.MaxContentChars,
		MaxLinksPerPage:   c.Crawler.MaxLinksPerPage,
		UserAgent:         c.Crawler.UserAgent,
		BlockedDomains:    c.Crawler.BlockedDomains,
		ExtractionTiers:   c.Crawler.ExtractionTiers,
		BlockedResources:  c.Render.BlockedResourceTypes,
		Keywords: crawler.Keywords{
			Relevant:     c.Keywords.Relevant,
			HighPriority: c.Keywords.HighPriority,
		},
		Exclusion: crawler.ExclusionConfig{
			Extensions:      c.Exclusion.Extensions,
			Patterns:        c.Exclusion.Patterns,
			Aggressive:      c.Exclusion.Aggressive,
			AggressivePaths: c.Exclusion.AggressivePaths,
		},
	}
}
