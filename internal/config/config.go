package config

import (
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultListenAddr      = ":8080"
	defaultDBPath          = "foundry.db"
	defaultMaxWorkers      = 10
	defaultCleanupInterval = time.Minute
	defaultCleanupMaxAge   = time.Hour

	envListenAddr      = "FOUNDRY_LISTEN_ADDR"
	envDBPath          = "FOUNDRY_DB_PATH"
	envLogLevel        = "FOUNDRY_LOG_LEVEL"
	envPolicyPath      = "FOUNDRY_POLICY_PATH"
	envMaxWorkers      = "FOUNDRY_MAX_WORKERS"
	envCleanupInterval = "FOUNDRY_CLEANUP_INTERVAL"
	envCleanupMaxAge   = "FOUNDRY_CLEANUP_MAX_AGE"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	ListenAddr      string
	DBPath          string
	LogLevel        slog.Level
	PolicyPath      string
	MaxWorkers      int
	CleanupInterval time.Duration
	CleanupMaxAge   time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	cfg := Config{
		ListenAddr:      defaultListenAddr,
		DBPath:          defaultDBPath,
		LogLevel:        slog.LevelInfo,
		MaxWorkers:      defaultMaxWorkers,
		CleanupInterval: defaultCleanupInterval,
		CleanupMaxAge:   defaultCleanupMaxAge,
	}

	if v := os.Getenv(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(envDBPath); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}
	if v := os.Getenv(envPolicyPath); v != "" {
		cfg.PolicyPath = v
	}
	if v := os.Getenv(envMaxWorkers); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxWorkers = n
		}
	}
	if v := os.Getenv(envCleanupInterval); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.CleanupInterval = d
		}
	}
	if v := os.Getenv(envCleanupMaxAge); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.CleanupMaxAge = d
		}
	}

	return cfg
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
