// Package config loads the gateway configuration from a JSON5 file and
// watches it for changes. Only the auto-reply block is hot-reloadable;
// everything else requires a restart.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/titanous/json5"
)

// StoreConfig selects the pending-message store backend.
type StoreConfig struct {
	// Driver is "sqlite" (default) or "postgres".
	Driver string `json:"driver"`
	// Path is the sqlite database file.
	Path string `json:"path"`
	// PostgresDSN is used when Driver is "postgres".
	PostgresDSN string `json:"postgresDsn"`
}

// AutoReplyConfig configures the keyword auto-responder.
type AutoReplyConfig struct {
	Enabled  bool     `json:"enabled"`
	Message  string   `json:"message"`
	Keywords []string `json:"keywords"`
}

// RetentionConfig configures the stale pending-message sweeper.
type RetentionConfig struct {
	// Schedule is a 5-field cron expression.
	Schedule string `json:"schedule"`
	// MaxAgeHours is the queue age after which a message is evicted.
	MaxAgeHours int `json:"maxAgeHours"`
}

// TelemetryConfig configures OTLP trace export. Disabled when Endpoint is
// empty.
type TelemetryConfig struct {
	Endpoint string `json:"endpoint"`
	// Protocol is "grpc" (default) or "http".
	Protocol string `json:"protocol"`
	Insecure bool   `json:"insecure"`
}

// Config is the gateway configuration.
type Config struct {
	// Listen is the HTTP bind address.
	Listen string `json:"listen"`
	// Token guards the HTTP API. Empty disables auth (local use only).
	Token string `json:"token"`
	// SessionsDir holds per-instance auth databases.
	SessionsDir string `json:"sessionsDir"`

	Store           StoreConfig     `json:"store"`
	AlertWebhookURL string          `json:"alertWebhookUrl"`
	AutoReply       AutoReplyConfig `json:"autoReply"`
	Retention       RetentionConfig `json:"retention"`
	Telemetry       TelemetryConfig `json:"telemetry"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Listen:      ":8080",
		SessionsDir: "sessions",
		Store: StoreConfig{
			Driver: "sqlite",
			Path:   "pending.db",
		},
		Retention: RetentionConfig{
			Schedule:    "0 3 * * *",
			MaxAgeHours: 24 * 14,
		},
	}
}

// Load reads and validates a JSON5 config file. A missing file yields the
// defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Store.Driver {
	case "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for the sqlite driver")
		}
	case "postgres":
		if c.Store.PostgresDSN == "" {
			return fmt.Errorf("store.postgresDsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Listen == "" {
		return fmt.Errorf("listen address is empty")
	}
	if c.Retention.MaxAgeHours <= 0 {
		return fmt.Errorf("retention.maxAgeHours must be positive")
	}
	return nil
}

// RetentionMaxAge returns the retention age as a duration.
func (c *Config) RetentionMaxAge() time.Duration {
	return time.Duration(c.Retention.MaxAgeHours) * time.Hour
}
