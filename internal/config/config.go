// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Ingest   IngestConfig   `mapstructure:"ingest"`
	Index    IndexConfig    `mapstructure:"index"`
	History  HistoryConfig  `mapstructure:"history"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Shutdown ShutdownConfig `mapstructure:"shutdown"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// IngestConfig governs shared connector behavior.
type IngestConfig struct {
	UserAgent          string `mapstructure:"user_agent"`
	HTTPTimeoutSeconds int    `mapstructure:"http_timeout_seconds"`
}

// IndexConfig configures the embedding side of the in-process index.
type IndexConfig struct {
	EmbeddingDimensions int `mapstructure:"embedding_dimensions"`
}

// HistoryConfig selects where finished run records are persisted.
type HistoryConfig struct {
	Provider string `mapstructure:"provider"` // memory | postgres
	DSN      string `mapstructure:"dsn"`
}

// NotifyConfig selects the run notification sinks.
type NotifyConfig struct {
	Provider string       `mapstructure:"provider"` // log | pubsub
	Buffer   int          `mapstructure:"buffer"`
	PubSub   PubSubConfig `mapstructure:"pubsub"`
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

// ShutdownConfig bounds the graceful shutdown.
type ShutdownConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FINCH")
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
	v.SetDefault("ingest.user_agent", "FinchBot/1.0 (+https://github.com/finchsearch/finch)")
	v.SetDefault("ingest.http_timeout_seconds", 15)
	v.SetDefault("index.embedding_dimensions", 256)
	v.SetDefault("history.provider", "memory")
	v.SetDefault("history.dsn", "")
	v.SetDefault("notify.provider", "log")
	v.SetDefault("notify.buffer", 256)
	v.SetDefault("notify.pubsub.project_id", "")
	v.SetDefault("notify.pubsub.topic_name", "")
	v.SetDefault("logging.development", false)
	v.SetDefault("shutdown.timeout_seconds", 30)
}

// Validate rejects configurations the service cannot start with.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in (0,65535], got %d", c.Server.Port)
	}
	if strings.TrimSpace(c.Ingest.UserAgent) == "" {
		return fmt.Errorf("ingest.user_agent must not be empty")
	}
	if c.Ingest.HTTPTimeoutSeconds <= 0 {
		return fmt.Errorf("ingest.http_timeout_seconds must be positive, got %d", c.Ingest.HTTPTimeoutSeconds)
	}
	if c.Index.EmbeddingDimensions <= 0 {
		return fmt.Errorf("index.embedding_dimensions must be positive, got %d", c.Index.EmbeddingDimensions)
	}
	switch c.History.Provider {
	case "memory":
	case "postgres":
		if strings.TrimSpace(c.History.DSN) == "" {
			return fmt.Errorf("history.dsn is required for the postgres provider")
		}
	default:
		return fmt.Errorf("history.provider must be memory or postgres, got %q", c.History.Provider)
	}
	switch c.Notify.Provider {
	case "log":
	case "pubsub":
		if c.Notify.PubSub.ProjectID == "" || c.Notify.PubSub.TopicName == "" {
			return fmt.Errorf("notify.pubsub.project_id and topic_name are required for the pubsub provider")
		}
	default:
		return fmt.Errorf("notify.provider must be log or pubsub, got %q", c.Notify.Provider)
	}
	if c.Notify.Buffer <= 0 {
		return fmt.Errorf("notify.buffer must be positive, got %d", c.Notify.Buffer)
	}
	if c.Shutdown.TimeoutSeconds <= 0 {
		return fmt.Errorf("shutdown.timeout_seconds must be positive, got %d", c.Shutdown.TimeoutSeconds)
	}
	return nil
}

// HTTPTimeout returns the connector HTTP timeout as a duration.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.Ingest.HTTPTimeoutSeconds) * time.Second
}

// ShutdownTimeout returns the graceful shutdown bound as a duration.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Shutdown.TimeoutSeconds) * time.Second
}
