// Package config holds the runtime configuration of the appview service.
package config

import (
	"fmt"
	"time"
)

// HTTPConfig configures the public HTTP listener.
type HTTPConfig struct {
	Addr              string        `mapstructure:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read-header-timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown-timeout"`
}

// DatastoreConfig configures the storage backend.
type DatastoreConfig struct {
	Engine          string        `mapstructure:"engine"`
	URI             string        `mapstructure:"uri"`
	MaxOpenConns    int           `mapstructure:"max-open-conns"`
	MaxIdleConns    int           `mapstructure:"max-idle-conns"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn-max-idle-time"`
	ConnMaxLifetime time.Duration `mapstructure:"conn-max-lifetime"`
	MigrateTimeout  time.Duration `mapstructure:"migrate-timeout"`
}

// LogConfig configures logging.
type LogConfig struct {
	Format string `mapstructure:"format"`
	Level  string `mapstructure:"level"`
}

// MetricsConfig configures metrics export.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// SearchConfig configures the optional external search backend.
type SearchConfig struct {
	URL string `mapstructure:"url"`
}

// FirehoseConfig configures the repo event stream subscription.
type FirehoseConfig struct {
	URL     string `mapstructure:"url"`
	Enabled bool   `mapstructure:"enabled"`
}

// IdentityConfig configures the service identity document.
type IdentityConfig struct {
	DIDDocumentPath string `mapstructure:"did-document-path"`
}

// Config is the root configuration.
type Config struct {
	HTTP      HTTPConfig      `mapstructure:"http"`
	Datastore DatastoreConfig `mapstructure:"datastore"`
	Log       LogConfig       `mapstructure:"log"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Search    SearchConfig    `mapstructure:"search"`
	Firehose  FirehoseConfig  `mapstructure:"firehose"`
	Identity  IdentityConfig  `mapstructure:"identity"`
}

// DefaultConfig returns the config all deployments start from.
func DefaultConfig() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Addr:              "0.0.0.0:8080",
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   10 * time.Second,
		},
		Datastore: DatastoreConfig{
			Engine:          "sqlite",
			URI:             "file:appview.db",
			MaxOpenConns:    30,
			MaxIdleConns:    10,
			ConnMaxIdleTime: 5 * time.Minute,
			ConnMaxLifetime: time.Hour,
			MigrateTimeout:  time.Minute,
		},
		Log: LogConfig{
			Format: "json",
			Level:  "info",
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Firehose: FirehoseConfig{
			Enabled: true,
		},
	}
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	switch c.Datastore.Engine {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported datastore engine %q", c.Datastore.Engine)
	}
	if c.Datastore.URI == "" {
		return fmt.Errorf("datastore uri must be set")
	}
	if c.Firehose.Enabled && c.Firehose.URL == "" {
		return fmt.Errorf("firehose url must be set when the firehose is enabled")
	}
	return nil
}
