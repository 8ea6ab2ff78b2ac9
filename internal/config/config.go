// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Upstream  UpstreamConfig  `mapstructure:"upstream"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	DB        DBConfig        `mapstructure:"db"`
	Storage   StorageConfig   `mapstructure:"storage"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// UpstreamConfig describes the content site and session handling.
type UpstreamConfig struct {
	BaseURL        string   `mapstructure:"base_url"`
	DefaultCookie  string   `mapstructure:"default_cookie"`
	UserAgents     []string `mapstructure:"user_agents"`
	CookieMode     string   `mapstructure:"cookie_mode"`
	TimeoutSeconds int      `mapstructure:"timeout_seconds"`
	JitterMinMs    int      `mapstructure:"jitter_min_ms"`
	JitterMaxMs    int      `mapstructure:"jitter_max_ms"`
}

// CrawlerConfig governs direct-save behavior.
type CrawlerConfig struct {
	MaxRetries int `mapstructure:"max_retries"`
}

// SchedulerConfig governs the in-memory job scheduler.
type SchedulerConfig struct {
	Concurrency    int `mapstructure:"concurrency"`
	PollIntervalMs int `mapstructure:"poll_interval_ms"`
	BaseDelayMs    int `mapstructure:"base_delay_ms"`
	MaxDelayMs     int `mapstructure:"max_delay_ms"`
	MaxAttempts    int `mapstructure:"max_attempts"`
	BootstrapLimit int `mapstructure:"bootstrap_limit"`
	RetentionHours int `mapstructure:"retention_hours"`
}

// DBConfig controls access to the relational database. An empty DSN
// selects the in-memory stores.
type DBConfig struct {
	DSN             string `mapstructure:"dsn"`
	MaxConns        int32  `mapstructure:"max_conns"`
	MinConns        int32  `mapstructure:"min_conns"`
	ConnLifetimeMin int    `mapstructure:"conn_lifetime_minutes"`
}

// StorageConfig selects and configures the snapshot archive backend.
type StorageConfig struct {
	Backend string `mapstructure:"backend"` // gcs, local, memory, none
	Bucket  string `mapstructure:"bucket"`
	BaseDir string `mapstructure:"base_dir"`
	Prefix  string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for publish-subscribe notifications. An
// empty project id disables the bridge.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVESTER")
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
	v.SetDefault("upstream.cookie_mode", "legacy")
	v.SetDefault("upstream.timeout_seconds", 15)
	v.SetDefault("upstream.jitter_min_ms", 500)
	v.SetDefault("upstream.jitter_max_ms", 2000)
	v.SetDefault("crawler.max_retries", 3)
	v.SetDefault("scheduler.concurrency", 3)
	v.SetDefault("scheduler.poll_interval_ms", 250)
	v.SetDefault("scheduler.base_delay_ms", 1000)
	v.SetDefault("scheduler.max_delay_ms", 300000)
	v.SetDefault("scheduler.max_attempts", 3)
	v.SetDefault("scheduler.bootstrap_limit", 100)
	v.SetDefault("scheduler.retention_hours", 168)
	v.SetDefault("storage.backend", "none")
	v.SetDefault("storage.prefix", "snapshots")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Upstream.BaseURL == "" {
		return fmt.Errorf("upstream.base_url is required")
	}
	if mode := c.Upstream.CookieMode; mode != "legacy" && mode != "new" {
		return fmt.Errorf("upstream.cookie_mode must be legacy or new")
	}
	if c.Upstream.TimeoutSeconds <= 0 {
		return fmt.Errorf("upstream.timeout_seconds must be > 0")
	}
	if c.Upstream.JitterMinMs < 0 || c.Upstream.JitterMaxMs < c.Upstream.JitterMinMs {
		return fmt.Errorf("upstream jitter range is invalid")
	}
	if c.Scheduler.Concurrency <= 0 {
		return fmt.Errorf("scheduler.concurrency must be > 0")
	}
	if c.Scheduler.MaxAttempts <= 0 {
		return fmt.Errorf("scheduler.max_attempts must be > 0")
	}
	switch c.Storage.Backend {
	case "gcs":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket is required for the gcs backend")
		}
	case "local":
		if c.Storage.BaseDir == "" {
			return fmt.Errorf("storage.base_dir is required for the local backend")
		}
	case "memory", "none":
	default:
		return fmt.Errorf("storage.backend must be gcs, local, memory or none")
	}
	if c.PubSub.ProjectID != "" && c.PubSub.TopicName == "" {
		return fmt.Errorf("pubsub.topic_name is required when pubsub.project_id is set")
	}
	return nil
}

// FetchTimeout converts the upstream timeout into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Upstream.TimeoutSeconds) * time.Second
}

// JitterRange converts the configured jitter window into durations.
func (c Config) JitterRange() (time.Duration, time.Duration) {
	return time.Duration(c.Upstream.JitterMinMs) * time.Millisecond,
		time.Duration(c.Upstream.JitterMaxMs) * time.Millisecond
}

// Retention converts the terminal job retention window into a duration.
func (c Config) Retention() time.Duration {
	return time.Duration(c.Scheduler.RetentionHours) * time.Hour
}
