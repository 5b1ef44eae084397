// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/follower-audit/internal/crawler"
)

// EnvPrefix is prepended to every environment override, e.g. AUDIT_SERVER_PORT.
const EnvPrefix = "AUDIT"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Provider  ProviderConfig  `mapstructure:"provider"`
	Store     StoreConfig     `mapstructure:"store"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AuthConfig guards the write endpoints of the HTTP API.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// SchedulerConfig governs admission.
type SchedulerConfig struct {
	MaxConcurrentCrawls int           `mapstructure:"max_concurrent_crawls"`
	PollInterval        time.Duration `mapstructure:"poll_interval"`
	CrawlTimeout        time.Duration `mapstructure:"crawl_timeout"`
	PageSize            int           `mapstructure:"page_size"`
	DeliveryTimeout     time.Duration `mapstructure:"delivery_timeout"`
}

// RetryConfig tunes provider call retries.
type RetryConfig struct {
	BaseDelay            time.Duration `mapstructure:"base_delay"`
	RateLimitDelay       time.Duration `mapstructure:"rate_limit_delay"`
	MaxTransientAttempts int           `mapstructure:"max_transient_attempts"`
}

// ProviderConfig holds the application keys and account credentials used
// against the provider API.
type ProviderConfig struct {
	BaseURL           string               `mapstructure:"base_url"`
	ConsumerKey       string               `mapstructure:"consumer_key"`
	ConsumerSecret    string               `mapstructure:"consumer_secret"`
	Timeout           time.Duration        `mapstructure:"timeout"`
	RequestsPerMinute float64              `mapstructure:"requests_per_minute"`
	Burst             int                  `mapstructure:"burst"`
	Credentials       []crawler.Credential `mapstructure:"credentials"`
}

// StoreConfig selects the task source and result sink.
type StoreConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	EnsureSchema    bool          `mapstructure:"ensure_schema"`
}

// NotifyConfig selects where outcome notices go. Drivers is a list so a
// deployment can log and queue at the same time.
type NotifyConfig struct {
	Drivers       []string `mapstructure:"drivers"`
	RedisAddr     string   `mapstructure:"redis_addr"`
	RedisPassword string   `mapstructure:"redis_password"`
	RedisDB       int      `mapstructure:"redis_db"`
	RedisKey      string   `mapstructure:"redis_key"`
	PubSubProject string   `mapstructure:"pubsub_project"`
	PubSubTopic   string   `mapstructure:"pubsub_topic"`
}

// ArchiveConfig selects where completed crawl reports are written.
type ArchiveConfig struct {
	Driver      string `mapstructure:"driver"`
	BaseDir     string `mapstructure:"base_dir"`
	Bucket      string `mapstructure:"bucket"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// TelemetryConfig names the service in traces and picks the span exporter.
type TelemetryConfig struct {
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
	Exporter    string  `mapstructure:"exporter"`
	ProjectID   string  `mapstructure:"project_id"`
}

// Store drivers.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Notify drivers.
const (
	NotifyLog    = "log"
	NotifyRedis  = "redis"
	NotifyPubSub = "pubsub"
)

// Archive drivers.
const (
	ArchiveNone  = "none"
	ArchiveLocal = "local"
	ArchiveGCS   = "gcs"
)

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
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

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("scheduler.max_concurrent_crawls", 25)
	v.SetDefault("scheduler.poll_interval", "30s")
	v.SetDefault("scheduler.crawl_timeout", "6h")
	v.SetDefault("scheduler.page_size", crawler.MaxLookupBatch)
	v.SetDefault("scheduler.delivery_timeout", "30s")
	v.SetDefault("retry.base_delay", "1s")
	v.SetDefault("retry.rate_limit_delay", "60s")
	v.SetDefault("retry.max_transient_attempts", 5)
	v.SetDefault("provider.base_url", "https://api.twitter.com/1.1")
	v.SetDefault("provider.consumer_key", "")
	v.SetDefault("provider.consumer_secret", "")
	v.SetDefault("provider.timeout", "30s")
	v.SetDefault("provider.requests_per_minute", 0)
	v.SetDefault("provider.burst", 1)
	v.SetDefault("store.driver", StoreMemory)
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 0)
	v.SetDefault("store.max_conn_lifetime", "30m")
	v.SetDefault("store.ensure_schema", false)
	v.SetDefault("notify.drivers", []string{NotifyLog})
	v.SetDefault("notify.redis_addr", "")
	v.SetDefault("notify.redis_password", "")
	v.SetDefault("notify.redis_db", 0)
	v.SetDefault("notify.redis_key", "audit:replies")
	v.SetDefault("notify.pubsub_project", "")
	v.SetDefault("notify.pubsub_topic", "")
	v.SetDefault("archive.driver", ArchiveNone)
	v.SetDefault("archive.base_dir", "data/reports")
	v.SetDefault("archive.bucket", "")
	v.SetDefault("archive.prefix", "reports")
	v.SetDefault("archive.content_type", "application/json")
	v.SetDefault("telemetry.service_name", "follower-audit")
	v.SetDefault("telemetry.sample_ratio", 1.0)
	v.SetDefault("telemetry.exporter", "none")
	v.SetDefault("telemetry.project_id", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Scheduler.MaxConcurrentCrawls <= 0 {
		return fmt.Errorf("scheduler.max_concurrent_crawls must be > 0")
	}
	if c.Scheduler.PollInterval <= 0 {
		return fmt.Errorf("scheduler.poll_interval must be > 0")
	}
	if c.Scheduler.CrawlTimeout < 0 {
		return fmt.Errorf("scheduler.crawl_timeout must be >= 0")
	}
	if c.Scheduler.PageSize <= 0 || c.Scheduler.PageSize > crawler.MaxLookupBatch {
		return fmt.Errorf("scheduler.page_size must be between 1 and %d", crawler.MaxLookupBatch)
	}
	if c.Retry.MaxTransientAttempts <= 0 {
		return fmt.Errorf("retry.max_transient_attempts must be > 0")
	}
	if c.Provider.BaseURL == "" {
		return fmt.Errorf("provider.base_url is required")
	}
	if c.Provider.RequestsPerMinute < 0 {
		return fmt.Errorf("provider.requests_per_minute must be >= 0")
	}
	switch c.Store.Driver {
	case StoreMemory:
	case StorePostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("store.driver %q is not supported", c.Store.Driver)
	}
	for _, d := range c.Notify.Drivers {
		switch d {
		case NotifyLog:
		case NotifyRedis:
			if c.Notify.RedisAddr == "" {
				return fmt.Errorf("notify.redis_addr is required for the redis driver")
			}
		case NotifyPubSub:
			if c.Notify.PubSubProject == "" || c.Notify.PubSubTopic == "" {
				return fmt.Errorf("notify.pubsub_project and notify.pubsub_topic are required for the pubsub driver")
			}
		default:
			return fmt.Errorf("notify driver %q is not supported", d)
		}
	}
	switch c.Archive.Driver {
	case ArchiveNone, "":
	case ArchiveLocal:
		if c.Archive.BaseDir == "" {
			return fmt.Errorf("archive.base_dir is required for the local driver")
		}
	case ArchiveGCS:
		if c.Archive.Bucket == "" {
			return fmt.Errorf("archive.bucket is required for the gcs driver")
		}
	default:
		return fmt.Errorf("archive.driver %q is not supported", c.Archive.Driver)
	}
	if c.Telemetry.Exporter == "gcp" && c.Telemetry.ProjectID == "" {
		return fmt.Errorf("telemetry.project_id is required for the gcp exporter")
	}
	return nil
}

// RequireProviderKeys reports whether the application keys needed to sign
// provider calls are present. Commands that crawl call it; the HTTP API alone
// does not need them.
func (c Config) RequireProviderKeys() error {
	if c.Provider.ConsumerKey == "" || c.Provider.ConsumerSecret == "" {
		return fmt.Errorf("provider.consumer_key and provider.consumer_secret are required")
	}
	return nil
}
