// Package config loads and validates follower audit configuration via Viper.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"

	"github.com/JakeFAU/follower-audit/internal/audit"
	"github.com/JakeFAU/follower-audit/internal/storage"
)

// AppName names the data directory under the XDG data home.
const AppName = "followeraudit"

// Notification backends.
const (
	NotifyNone   = "none"
	NotifyMemory = "memory"
	NotifyPubSub = "pubsub"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Platform   PlatformConfig   `mapstructure:"platform"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Crawler    CrawlerConfig    `mapstructure:"crawler"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Storage    storage.Config   `mapstructure:"storage"`
	Notify     NotifyConfig     `mapstructure:"notify"`
	Progress   ProgressConfig   `mapstructure:"progress"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig controls the HTTP command surface.
type ServerConfig struct {
	Port int `mapstructure:"port"`
	// APIKey, when set, is required in the X-API-Key header of /v1 routes.
	APIKey          string        `mapstructure:"api_key"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// PlatformConfig describes the remote endpoints.
type PlatformConfig struct {
	BaseURL   string            `mapstructure:"base_url"`
	AppID     string            `mapstructure:"app_id"`
	Edge      string            `mapstructure:"edge"`
	QueryHash string            `mapstructure:"query_hash"`
	Headers   map[string]string `mapstructure:"headers"`
}

// HTTPConfig configures the fetch transport and retry policy.
type HTTPConfig struct {
	UserAgent     string        `mapstructure:"user_agent"`
	Timeout       time.Duration `mapstructure:"timeout"`
	MaxAttempts   int           `mapstructure:"max_attempts"`
	RateLimitStep time.Duration `mapstructure:"rate_limit_step"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
	// RPS caps requests per second per host. Zero disables the limiter.
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// CrawlerConfig governs pagination and per-item pacing.
type CrawlerConfig struct {
	PageSize     int           `mapstructure:"page_size"`
	PageDelay    time.Duration `mapstructure:"page_delay"`
	ItemCooldown time.Duration `mapstructure:"item_cooldown"`
	MaxPages     int           `mapstructure:"max_pages"`
}

// ClassifierConfig selects the policy and its thresholds.
type ClassifierConfig struct {
	Policy     string                   `mapstructure:"policy"`
	FiveSignal audit.FiveSignalSettings `mapstructure:"five_signal"`
	TwoSignal  audit.TwoSignalSettings  `mapstructure:"two_signal"`
}

// NotifyConfig controls where session summaries are published.
type NotifyConfig struct {
	Backend   string `mapstructure:"backend"`
	Topic     string `mapstructure:"topic"`
	ProjectID string `mapstructure:"project_id"`
}

// ProgressConfig tunes the progress hub.
type ProgressConfig struct {
	BufferSize     int           `mapstructure:"buffer_size"`
	MaxBatchEvents int           `mapstructure:"max_batch_events"`
	MaxBatchWait   time.Duration `mapstructure:"max_batch_wait"`
	SinkTimeout    time.Duration `mapstructure:"sink_timeout"`
	Prometheus     bool          `mapstructure:"prometheus"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FOLLOWERAUDIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

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

// DataDir is the default home of the file-based backends.
func DataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

func setDefaults(v *viper.Viper) {
	data := DataDir()

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.api_key", "")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("platform.base_url", "https://www.instagram.com")
	v.SetDefault("platform.app_id", "936619743392459")
	v.SetDefault("platform.edge", "followers")
	v.SetDefault("platform.query_hash", "")
	v.SetDefault("http.user_agent", "Mozilla/5.0 (compatible; followeraudit/0.1)")
	v.SetDefault("http.timeout", "15s")
	v.SetDefault("http.max_attempts", 3)
	v.SetDefault("http.rate_limit_step", "5s")
	v.SetDefault("http.retry_delay", "2s")
	v.SetDefault("http.rps", 0)
	v.SetDefault("http.burst", 1)
	v.SetDefault("crawler.page_size", 50)
	v.SetDefault("crawler.page_delay", "1s")
	v.SetDefault("crawler.item_cooldown", "2s")
	v.SetDefault("crawler.max_pages", 0)
	v.SetDefault("classifier.policy", string(audit.PolicyFiveSignalOr))
	v.SetDefault("classifier.five_signal.followers_following_ratio", 2.0)
	v.SetDefault("classifier.five_signal.min_posts_per_month", 2.0)
	v.SetDefault("classifier.five_signal.min_engagement_rate", 0.01)
	v.SetDefault("classifier.five_signal.min_account_age_days", 30)
	v.SetDefault("classifier.five_signal.require_profile_pic", true)
	v.SetDefault("classifier.five_signal.require_bio", true)
	v.SetDefault("classifier.two_signal.max_posts", 0)
	v.SetDefault("classifier.two_signal.min_followers", 10)
	v.SetDefault("storage.backend", storage.BackendBolt)
	v.SetDefault("storage.namespace", "follower_audit")
	v.SetDefault("storage.local.base_dir", filepath.Join(data, "progress"))
	v.SetDefault("storage.bolt.path", data)
	v.SetDefault("storage.bolt.bucket", "progress")
	v.SetDefault("storage.bolt.timeout", "1s")
	v.SetDefault("storage.sqlite.dir", data)
	v.SetDefault("storage.sqlite.enable_wal", true)
	v.SetDefault("storage.postgres.dsn", "")
	v.SetDefault("storage.postgres.table", "follower_audit_kv")
	v.SetDefault("storage.postgres.max_conns", 4)
	v.SetDefault("storage.postgres.min_conns", 0)
	v.SetDefault("storage.postgres.max_conn_lifetime", "30m")
	v.SetDefault("storage.postgres.migrate", true)
	v.SetDefault("storage.gcs.bucket", "")
	v.SetDefault("storage.gcs.prefix", "audits/")
	v.SetDefault("notify.backend", NotifyNone)
	v.SetDefault("notify.topic", "follower-audit-sessions")
	v.SetDefault("notify.project_id", "")
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.max_batch_events", 64)
	v.SetDefault("progress.max_batch_wait", "250ms")
	v.SetDefault("progress.sink_timeout", "5s")
	v.SetDefault("progress.prometheus", true)
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Platform.BaseURL == "" {
		return fmt.Errorf("platform.base_url is required")
	}
	if c.HTTP.Timeout <= 0 {
		return fmt.Errorf("http.timeout must be > 0")
	}
	if c.HTTP.MaxAttempts <= 0 {
		return fmt.Errorf("http.max_attempts must be > 0")
	}
	if c.HTTP.RPS < 0 {
		return fmt.Errorf("http.rps must be >= 0")
	}
	if c.Crawler.PageSize <= 0 {
		return fmt.Errorf("crawler.page_size must be > 0")
	}
	if c.Crawler.PageDelay < 0 || c.Crawler.ItemCooldown < 0 {
		return fmt.Errorf("crawler delays must be >= 0")
	}
	switch audit.PolicyName(c.Classifier.Policy) {
	case audit.PolicyFiveSignalOr, audit.PolicyTwoSignalAnd:
	default:
		return fmt.Errorf("classifier.policy %q is not supported", c.Classifier.Policy)
	}
	switch strings.ToLower(c.Storage.Backend) {
	case storage.BackendPostgres:
		if c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn must be set when backend is postgres")
		}
	case storage.BackendGCS:
		if c.Storage.GCS.Bucket == "" {
			return fmt.Errorf("storage.gcs.bucket must be set when backend is gcs")
		}
	}
	switch c.Notify.Backend {
	case NotifyNone, NotifyMemory:
	case NotifyPubSub:
		if c.Notify.ProjectID == "" || c.Notify.Topic == "" {
			return fmt.Errorf("notify.project_id and notify.topic must be set when backend is pubsub")
		}
	default:
		return fmt.Errorf("notify.backend %q is not supported", c.Notify.Backend)
	}
	return nil
}

// Settings derives the snapshot a session runs with.
func (c Config) Settings() audit.Settings {
	return audit.Settings{
		Policy:       audit.PolicyName(c.Classifier.Policy),
		FiveSignal:   c.Classifier.FiveSignal,
		TwoSignal:    c.Classifier.TwoSignal,
		PageSize:     c.Crawler.PageSize,
		ItemCooldown: c.Crawler.ItemCooldown,
		PageDelay:    c.Crawler.PageDelay,
	}
}
