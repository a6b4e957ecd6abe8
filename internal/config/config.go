// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata" // crawl.timezone must resolve on minimal images

	"github.com/spf13/viper"

	"github.com/JakeFAU/disclosure-monitor/internal/checkpoint"
	"github.com/JakeFAU/disclosure-monitor/internal/crawler"
	"github.com/JakeFAU/disclosure-monitor/internal/feed"
	"github.com/JakeFAU/disclosure-monitor/internal/logging"
	"github.com/JakeFAU/disclosure-monitor/internal/storage"
)

// EnvPrefix prefixes every environment override, e.g. DISCLOSURE_DB_DSN.
const EnvPrefix = "DISCLOSURE"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Logging    logging.Config   `mapstructure:"logging"`
	DB         DBConfig         `mapstructure:"db"`
	Archive    ArchiveConfig    `mapstructure:"archive"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Crawl      CrawlConfig      `mapstructure:"crawl"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	Keywords   KeywordsConfig   `mapstructure:"keywords"`
	Feed       FeedConfig       `mapstructure:"feed"`
	Rescan     RescanConfig     `mapstructure:"rescan"`
	Quarantine storage.Config   `mapstructure:"quarantine"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
}

// DBConfig controls access to Postgres.
type DBConfig struct {
	DSN                    string `mapstructure:"dsn"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeMinutes int    `mapstructure:"max_conn_lifetime_minutes"`
}

// ArchiveConfig points the fetch client at the filing archive.
type ArchiveConfig struct {
	ListURL     string `mapstructure:"list_url"`
	DetailURL   string `mapstructure:"detail_url"`
	Referer     string `mapstructure:"referer"`
	UserAgent   string `mapstructure:"user_agent"`
	BlockMarker string `mapstructure:"block_marker"`
	PageSize    int    `mapstructure:"page_size"`
}

// HTTPConfig configures request timeout, retry and pacing.
type HTTPConfig struct {
	TimeoutSeconds    int     `mapstructure:"timeout_seconds"`
	MaxAttempts       int     `mapstructure:"max_attempts"`
	BackoffInitialMs  int     `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs      int     `mapstructure:"backoff_max_ms"`
	ListJitterMinMs   int     `mapstructure:"list_jitter_min_ms"`
	ListJitterMaxMs   int     `mapstructure:"list_jitter_max_ms"`
	DetailJitterMinMs int     `mapstructure:"detail_jitter_min_ms"`
	DetailJitterMaxMs int     `mapstructure:"detail_jitter_max_ms"`
	RateLimitRPS      float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst    int     `mapstructure:"rate_limit_burst"`
}

// CrawlConfig governs the archive traversal.
type CrawlConfig struct {
	Markets              []crawler.Market `mapstructure:"markets"`
	FloorYear            int              `mapstructure:"floor_year"`
	Workers              int              `mapstructure:"workers"`
	AdvancePolicy        string           `mapstructure:"advance_policy"`
	SuccessThreshold     float64          `mapstructure:"success_threshold"`
	PageCooldownSeconds  int              `mapstructure:"page_cooldown_seconds"`
	MonthCooldownSeconds int              `mapstructure:"month_cooldown_seconds"`
	Timezone             string           `mapstructure:"timezone"`
	// Background starts a crawl alongside the ops server.
	Background bool `mapstructure:"background"`
}

// CheckpointConfig selects where the cursor lives and where a fresh crawl starts.
type CheckpointConfig struct {
	Backend     string `mapstructure:"backend"`
	Path        string `mapstructure:"path"`
	StartYear   int    `mapstructure:"start_year"`
	StartMonth  int    `mapstructure:"start_month"`
	StartMarket int    `mapstructure:"start_market_index"`
	StartPage   int    `mapstructure:"start_page"`
}

// KeywordsConfig locates the watched keyword list.
type KeywordsConfig struct {
	Path string `mapstructure:"path"`
}

// FeedConfig controls the official daily feed.
type FeedConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Schedule  string        `mapstructure:"schedule"`
	Sources   []feed.Source `mapstructure:"sources"`
	Conflict  string        `mapstructure:"conflict"`
	AlertMode string        `mapstructure:"alert_mode"`
}

// RescanConfig controls the alert backfill.
type RescanConfig struct {
	BatchSize int `mapstructure:"batch_size"`
}

// PubSubConfig holds the alert notification target. An empty topic disables it.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ServerConfig controls the ops HTTP server.
type ServerConfig struct {
	Port                   int `mapstructure:"port"`
	RequestTimeoutSeconds  int `mapstructure:"request_timeout_seconds"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindLegacyEnv(v); err != nil {
		return Config{}, err
	}

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

// bindLegacyEnv honors the variable names deployments already set.
func bindLegacyEnv(v *viper.Viper) error {
	bindings := map[string][]string{
		"db.dsn":          {EnvPrefix + "_DB_DSN", "DATABASE_URL"},
		"crawl.floor_year": {EnvPrefix + "_CRAWL_FLOOR_YEAR", "BACKFILL_TARGET_YEAR"},
	}
	for key, envs := range bindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.max_conn_lifetime_minutes", 30)
	v.SetDefault("archive.list_url", "https://mopsov.twse.com.tw/mops/web/ajax_t51sb10")
	v.SetDefault("archive.detail_url", "https://mopsov.twse.com.tw/mops/web/ajax_t05st01")
	v.SetDefault("archive.referer", "https://mopsov.twse.com.tw/mops/web/t51sb10_q1")
	v.SetDefault("archive.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")
	v.SetDefault("archive.block_marker", "FOR SECURITY REASONS")
	v.SetDefault("archive.page_size", 15)
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.max_attempts", 5)
	v.SetDefault("http.backoff_initial_ms", 1000)
	v.SetDefault("http.backoff_max_ms", 30000)
	v.SetDefault("http.list_jitter_min_ms", 4000)
	v.SetDefault("http.list_jitter_max_ms", 7000)
	v.SetDefault("http.detail_jitter_min_ms", 6000)
	v.SetDefault("http.detail_jitter_max_ms", 10000)
	v.SetDefault("http.rate_limit_rps", 0)
	v.SetDefault("http.rate_limit_burst", 1)
	v.SetDefault("crawl.markets", []map[string]any{
		{"kind": "L", "name": "上市"},
		{"kind": "O", "name": "上櫃"},
	})
	v.SetDefault("crawl.floor_year", 114)
	v.SetDefault("crawl.workers", 3)
	v.SetDefault("crawl.advance_policy", "threshold")
	v.SetDefault("crawl.success_threshold", crawler.DefaultSuccessThreshold)
	v.SetDefault("crawl.page_cooldown_seconds", 20)
	v.SetDefault("crawl.month_cooldown_seconds", 20)
	v.SetDefault("crawl.timezone", "Asia/Taipei")
	v.SetDefault("crawl.background", false)
	v.SetDefault("checkpoint.backend", "file")
	v.SetDefault("checkpoint.path", "data/checkpoint.json")
	v.SetDefault("checkpoint.start_year", 115)
	v.SetDefault("checkpoint.start_month", 1)
	v.SetDefault("checkpoint.start_market_index", 0)
	v.SetDefault("checkpoint.start_page", 1)
	v.SetDefault("keywords.path", "keywords.txt")
	v.SetDefault("feed.enabled", true)
	v.SetDefault("feed.schedule", feed.DefaultSchedule)
	v.SetDefault("feed.sources", []map[string]any{
		{"market": "TWSE", "url": feed.DefaultTWSEURL},
		{"market": "TPEx", "url": feed.DefaultTPExURL},
	})
	v.SetDefault("feed.conflict", string(crawler.ConflictUpdateName))
	v.SetDefault("feed.alert_mode", string(crawler.AlertsOnUpsert))
	v.SetDefault("rescan.batch_size", 500)
	v.SetDefault("quarantine.backend", storage.BackendLocal)
	v.SetDefault("quarantine.local.base_dir", "data")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 30)
	v.SetDefault("server.shutdown_timeout_seconds", 15)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxAttempts <= 0 {
		return fmt.Errorf("http.max_attempts must be > 0")
	}
	if c.HTTP.ListJitterMaxMs < c.HTTP.ListJitterMinMs {
		return fmt.Errorf("http.list_jitter_max_ms must be >= http.list_jitter_min_ms")
	}
	if c.HTTP.DetailJitterMaxMs < c.HTTP.DetailJitterMinMs {
		return fmt.Errorf("http.detail_jitter_max_ms must be >= http.detail_jitter_min_ms")
	}
	if err := c.EngineConfig().Validate(); err != nil {
		return err
	}
	if _, err := crawler.NewAdvancePolicy(c.Crawl.AdvancePolicy, c.Crawl.SuccessThreshold); err != nil {
		return fmt.Errorf("crawl.advance_policy: %w", err)
	}
	if _, err := time.LoadLocation(c.Crawl.Timezone); err != nil {
		return fmt.Errorf("crawl.timezone: %w", err)
	}
	switch c.Checkpoint.Backend {
	case "file":
		if c.Checkpoint.Path == "" {
			return fmt.Errorf("checkpoint.path must be set for the file backend")
		}
	case "postgres":
	default:
		return fmt.Errorf("checkpoint.backend must be file or postgres, got %q", c.Checkpoint.Backend)
	}
	start := c.StartCursor()
	if start.Month < 1 || start.Month > 12 || start.Page < 1 || start.MarketIndex < 0 {
		return fmt.Errorf("checkpoint start cursor %s is invalid", start)
	}
	switch crawler.ConflictPolicy(c.Feed.Conflict) {
	case crawler.ConflictIgnore, crawler.ConflictUpdateName:
	default:
		return fmt.Errorf("feed.conflict must be ignore or update_name, got %q", c.Feed.Conflict)
	}
	switch crawler.AlertMode(c.Feed.AlertMode) {
	case crawler.AlertsOnInsert, crawler.AlertsOnUpsert:
	default:
		return fmt.Errorf("feed.alert_mode must be on_insert or on_upsert, got %q", c.Feed.AlertMode)
	}
	if c.Rescan.BatchSize <= 0 {
		return fmt.Errorf("rescan.batch_size must be > 0")
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// EngineConfig converts the crawl section for the engine.
func (c Config) EngineConfig() crawler.EngineConfig {
	return crawler.EngineConfig{
		Markets:       c.Crawl.Markets,
		FloorYear:     c.Crawl.FloorYear,
		Workers:       c.Crawl.Workers,
		PageCooldown:  time.Duration(c.Crawl.PageCooldownSeconds) * time.Second,
		MonthCooldown: time.Duration(c.Crawl.MonthCooldownSeconds) * time.Second,
	}
}

// RetryPolicy converts the http section into the fetch client's policy.
func (c Config) RetryPolicy() crawler.RetryPolicy {
	ms := func(n int) time.Duration { return time.Duration(n) * time.Millisecond }
	return crawler.RetryPolicy{
		MaxAttempts:  c.HTTP.MaxAttempts,
		BaseDelay:    ms(c.HTTP.BackoffInitialMs),
		MaxDelay:     ms(c.HTTP.BackoffMaxMs),
		ListJitter:   crawler.JitterWindow{Min: ms(c.HTTP.ListJitterMinMs), Max: ms(c.HTTP.ListJitterMaxMs)},
		DetailJitter: crawler.JitterWindow{Min: ms(c.HTTP.DetailJitterMinMs), Max: ms(c.HTTP.DetailJitterMaxMs)},
	}
}

// RequestTimeout bounds a single fetch.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// StartCursor is the position used when no checkpoint exists.
func (c Config) StartCursor() checkpoint.Cursor {
	return checkpoint.Cursor{
		Year:        c.Checkpoint.StartYear,
		Month:       c.Checkpoint.StartMonth,
		MarketIndex: c.Checkpoint.StartMarket,
		Page:        c.Checkpoint.StartPage,
	}
}

// Location returns the configured calendar time zone.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Crawl.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
