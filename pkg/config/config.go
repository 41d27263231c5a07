// Package config reads process configuration from the environment.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds engine and CLI configuration.
type Config struct {
	LogLevel     string
	DatabaseURL  string // Postgres DSN; empty selects SQLite lite mode
	DataDir      string
	CatalogPath  string
	StatsFile    string // YAML stats fixture; empty reads stats from the database
	StatsTimeout time.Duration
	StatsRPS     float64 // 0 disables rate limiting
	StatsBurst   int
	RedisAddr    string // enables the distributed customer lock
	OTLPEndpoint string
	Telemetry    bool
	Environment  string
	ArchiveURL   string
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		LogLevel:     getenv("LOG_LEVEL", "INFO"),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		DataDir:      getenv("SVT_DATA_DIR", "data"),
		CatalogPath:  getenv("SVT_CATALOG", "configs/catalog.yaml"),
		StatsFile:    os.Getenv("SVT_STATS_FILE"),
		RedisAddr:    os.Getenv("REDIS_ADDR"),
		OTLPEndpoint: getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		Telemetry:    os.Getenv("SVT_TELEMETRY") == "true",
		Environment:  getenv("SVT_ENV", "development"),
		ArchiveURL:   os.Getenv("SVT_ARCHIVE_URL"),
	}

	var err error
	if cfg.StatsTimeout, err = time.ParseDuration(getenv("SVT_STATS_TIMEOUT", "2s")); err != nil {
		return nil, fmt.Errorf("SVT_STATS_TIMEOUT: %w", err)
	}
	if cfg.StatsRPS, err = strconv.ParseFloat(getenv("SVT_STATS_RPS", "0"), 64); err != nil {
		return nil, fmt.Errorf("SVT_STATS_RPS: %w", err)
	}
	if cfg.StatsRPS < 0 {
		return nil, fmt.Errorf("SVT_STATS_RPS: must not be negative")
	}
	if cfg.StatsBurst, err = strconv.Atoi(getenv("SVT_STATS_BURST", "10")); err != nil {
		return nil, fmt.Errorf("SVT_STATS_BURST: %w", err)
	}
	return cfg, nil
}

// SlogLevel maps LogLevel to a slog level. Unknown names mean INFO.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LiteMode reports whether the embedded SQLite database is used.
func (c *Config) LiteMode() bool { return c.DatabaseURL == "" }

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
