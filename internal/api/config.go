package api

import (
	"os"
	"strconv"
	"time"
)

// Config holds the server configuration, loaded from environment variables.
type Config struct {
	ListenAddr      string
	DBPath          string
	ShutdownTimeout time.Duration
	LogFormat       string // "json" (default) or "text"
	LogLevel        string // "debug", "info" (default), "warn", "error"
	LogFile         string // rotated log file; empty = stderr only

	MaxPushBatch int
	MaxPullLimit int
	MaxBodyBytes int64
}

// LoadConfig reads configuration from environment variables with defaults.
func LoadConfig() Config {
	cfg := Config{
		ListenAddr:      ":8080",
		DBPath:          "./data/classcomm.db",
		ShutdownTimeout: 30 * time.Second,
		LogFormat:       "json",
		LogLevel:        "info",

		MaxPushBatch: 1000,
		MaxPullLimit: 5000,
		MaxBodyBytes: 10 << 20,
	}

	if v := os.Getenv("CLASSCOMM_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("CLASSCOMM_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("CLASSCOMM_SHUTDOWN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ShutdownTimeout = d
		}
	}
	if v := os.Getenv("CLASSCOMM_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("CLASSCOMM_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("CLASSCOMM_LOG_FILE"); v != "" {
		cfg.LogFile = v
	}
	if v := os.Getenv("CLASSCOMM_MAX_PUSH_BATCH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxPushBatch = n
		}
	}
	if v := os.Getenv("CLASSCOMM_MAX_PULL_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxPullLimit = n
		}
	}

	return cfg
}
