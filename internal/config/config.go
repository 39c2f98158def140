// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Worker  WorkerConfig  `mapstructure:"worker"`
	LLM     LLMConfig     `mapstructure:"llm"`
	Logos   LogosConfig   `mapstructure:"logos"`
	Render  RenderConfig  `mapstructure:"render"`
	Storage StorageConfig `mapstructure:"storage"`
	DB      DBConfig      `mapstructure:"db"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// WorkerConfig governs dispatcher and processing pipeline behavior.
type WorkerConfig struct {
	Concurrency int `mapstructure:"concurrency"`
	QueueDepth  int `mapstructure:"queue_depth"`
	MaxRetries  int `mapstructure:"max_retries"`
}

// LLMConfig configures the language model client.
type LLMConfig struct {
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
	BaseURL        string `mapstructure:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxRetries     int    `mapstructure:"max_retries"`
}

// LogosConfig configures company logo scraping.
type LogosConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	UserAgent      string  `mapstructure:"user_agent"`
	RatePerSecond  float64 `mapstructure:"rate_per_second"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
}

// RenderConfig configures document rendering.
type RenderConfig struct {
	HeadlessPDF   bool `mapstructure:"headless_pdf"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
	MaxParallel   int  `mapstructure:"max_parallel"`
}

// StorageConfig selects and parameterizes blob persistence.
type StorageConfig struct {
	Provider  string `mapstructure:"provider"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
}

// DBConfig controls access to the relational database. An empty DSN selects
// the in-memory store.
type DBConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
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
	v.SetEnvPrefix("LETTERFORGE")
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
	v.SetDefault("worker.concurrency", 2)
	v.SetDefault("worker.queue_depth", 64)
	v.SetDefault("worker.max_retries", 1)
	v.SetDefault("llm.model", "gpt-4o")
	v.SetDefault("llm.timeout_seconds", 120)
	v.SetDefault("llm.max_retries", 2)
	v.SetDefault("logos.enabled", true)
	v.SetDefault("logos.user_agent", "letterforge-bot/0.1")
	v.SetDefault("logos.rate_per_second", 1)
	v.SetDefault("logos.timeout_seconds", 10)
	v.SetDefault("render.headless_pdf", true)
	v.SetDefault("render.nav_timeout_seconds", 25)
	v.SetDefault("render.max_parallel", 1)
	v.SetDefault("storage.provider", "memory")
	v.SetDefault("storage.local_dir", "data")
	v.SetDefault("storage.prefix", "submissions")
	v.SetDefault("db.max_open_conns", 8)
	v.SetDefault("db.max_idle_conns", 2)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be > 0")
	}
	if c.Worker.QueueDepth <= 0 {
		return fmt.Errorf("worker.queue_depth must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key required when auth.enabled")
	}
	switch c.Storage.Provider {
	case "memory", "local", "gcs":
	default:
		return fmt.Errorf("storage.provider must be one of memory, local, gcs")
	}
	if c.Storage.Provider == "gcs" && c.Storage.GCSBucket == "" {
		return fmt.Errorf("storage.gcs_bucket required for gcs storage")
	}
	if c.Storage.Provider == "local" && c.Storage.LocalDir == "" {
		return fmt.Errorf("storage.local_dir required for local storage")
	}
	if c.LLM.TimeoutSeconds <= 0 {
		return fmt.Errorf("llm.timeout_seconds must be > 0")
	}
	if c.Logos.Enabled && c.Logos.RatePerSecond <= 0 {
		return fmt.Errorf("logos.rate_per_second must be > 0")
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id required when pubsub.topic_name set")
	}
	return nil
}
