// Package config reads process configuration from the environment.
package config

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/caarlos0/env/v11"
)

const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendNATS     = "nats"
)

var backends = []string{BackendMemory, BackendSQLite, BackendPostgres, BackendNATS}

type Config struct {
	Backend     string     `env:"TODO_BACKEND" envDefault:"memory"`
	SQLitePath  string     `env:"TODO_SQLITE_PATH" envDefault:"todo.db"`
	DatabaseURL string     `env:"DATABASE_URL"`
	NATSURL     string     `env:"NATS_URL" envDefault:"nats://127.0.0.1:4222"`
	LogLevel    slog.Level `env:"TODO_LOG_LEVEL" envDefault:"info"`
	// MetricsAddr enables the metrics listener when set, e.g. ":9090".
	MetricsAddr string `env:"TODO_METRICS_ADDR"`
	CacheSize   int    `env:"TODO_CACHE_SIZE" envDefault:"1024"`
	MaxAttempts int    `env:"TODO_MAX_ATTEMPTS" envDefault:"3"`
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if !slices.Contains(backends, c.Backend) {
		return fmt.Errorf("TODO_BACKEND: unknown backend %q, want one of %v", c.Backend, backends)
	}
	if c.Backend == BackendPostgres && c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required for backend %s", BackendPostgres)
	}
	if c.Backend == BackendSQLite && c.SQLitePath == "" {
		return fmt.Errorf("TODO_SQLITE_PATH is required for backend %s", BackendSQLite)
	}
	if c.CacheSize < 0 {
		return fmt.Errorf("TODO_CACHE_SIZE must not be negative")
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("TODO_MAX_ATTEMPTS must be at least 1")
	}
	return nil
}
