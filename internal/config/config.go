// Package config provides centralized configuration for the application.
// Settings load from environment variables (optionally a .env file) with
// defaults, and are validated on startup to fail fast on misconfiguration.
package config

import (
	"fmt"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Import   ImportConfig
	OCR      CapabilityConfig
	SQLGen   CapabilityConfig
	Logging  LoggingConfig
	Metrics  MetricsConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to.
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on.
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading the request body.
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"30s"`

	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"120s"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
}

// DatabaseConfig holds relational store settings.
type DatabaseConfig struct {
	// Kind selects the store backend: "postgres", "sqlite", or "mssql".
	Kind string `env:"DB_KIND" default:"postgres"`

	// DSN is the backend connection string (required). For postgres this is
	// a pgx URL/DSN; for sqlite a file path or ":memory:".
	DSN string `env:"DB_DSN" envAlt:"DATABASE_URL" required:"true"`

	// PoolSize is the number of connections in the shared pool.
	PoolSize int `env:"DB_POOL_SIZE" default:"5"`

	// CheckoutTimeout is how long a session waits for a pooled connection.
	CheckoutTimeout time.Duration `env:"DB_CHECKOUT_TIMEOUT" default:"10s"`

	// StatementTimeout bounds a single query execution.
	StatementTimeout time.Duration `env:"DB_STATEMENT_TIMEOUT" default:"60s"`
}

// ImportConfig holds ingestion settings.
type ImportConfig struct {
	// BatchSize is the number of rows inserted per transaction.
	BatchSize int `env:"IMPORT_BATCH_SIZE" default:"500"`

	// MaxFileSize is the largest accepted upload in bytes.
	MaxFileSize int64 `env:"IMPORT_MAX_FILE_SIZE" default:"104857600"`

	// SessionMaxAge is how long an idle session survives before the sweep
	// tears it down and releases its connection lease.
	SessionMaxAge time.Duration `env:"SESSION_MAX_AGE" default:"1h"`
}

// CapabilityConfig describes one OpenAI-compatible remote capability
// (the VL/OCR model or the text-to-SQL model).
type CapabilityConfig struct {
	BaseURL string        `env:"-"`
	APIKey  string        `env:"-"`
	Model   string        `env:"-"`
	Timeout time.Duration `env:"-"`
}

// LoggingConfig holds log settings.
type LoggingConfig struct {
	Level  string `env:"LOG_LEVEL" default:"info"`
	Format string `env:"LOG_FORMAT" default:"text"`
}

// MetricsConfig holds the optional Datadog backend settings.
type MetricsConfig struct {
	// Backend selects the metrics backend: "datadog" or "none".
	Backend string `env:"METRICS_BACKEND" default:"none"`

	// DatadogSite is the Datadog intake site (e.g. "datadoghq.com").
	DatadogSite string `env:"DD_SITE" default:"datadoghq.com"`

	// DatadogAPIKey authenticates metric submission.
	DatadogAPIKey string `env:"DD_API_KEY"`

	// Service tags every submitted series.
	Service string `env:"DD_SERVICE" default:"xiyan-web"`
}

// Validate checks cross-field constraints the tag-driven loader cannot.
func (c *Config) Validate() error {
	switch c.Database.Kind {
	case "postgres", "sqlite", "mssql":
	default:
		return fmt.Errorf("unsupported DB_KIND %q", c.Database.Kind)
	}
	if c.Database.PoolSize < 1 {
		return fmt.Errorf("DB_POOL_SIZE must be >= 1, got %d", c.Database.PoolSize)
	}
	if c.Import.BatchSize < 1 {
		return fmt.Errorf("IMPORT_BATCH_SIZE must be >= 1, got %d", c.Import.BatchSize)
	}
	if c.Metrics.Backend == "datadog" && c.Metrics.DatadogAPIKey == "" {
		return fmt.Errorf("METRICS_BACKEND=datadog requires DD_API_KEY")
	}
	return nil
}
