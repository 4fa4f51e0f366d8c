package devserver

import (
	"os"
	"strings"
	"time"
)

// Config holds the dev server configuration, loaded from environment variables.
type Config struct {
	ListenAddr      string
	DBPath          string
	APIKey          string // empty disables auth
	Tables          []string
	Validate        bool // check payloads against the table definitions
	ShutdownTimeout time.Duration
	MaxListLimit    int
	LogFormat       string // "json" (default) or "text"
	LogLevel        string // "debug", "info" (default), "warn", "error"
}

// LoadConfig reads configuration from environment variables with sensible
// defaults. defaultTables is used when DEVSERVER_TABLES is unset.
func LoadConfig(defaultTables []string) Config {
	cfg := Config{
		ListenAddr:      ":8787",
		DBPath:          "./data/devserver.db",
		Tables:          defaultTables,
		ShutdownTimeout: 10 * time.Second,
		MaxListLimit:    1000,
		LogFormat:       "json",
		LogLevel:        "info",
	}

	if v := os.Getenv("DEVSERVER_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("DEVSERVER_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("DEVSERVER_API_KEY"); v != "" {
		cfg.APIKey = v
	}
	if v := os.Getenv("DEVSERVER_TABLES"); v != "" {
		var tables []string
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				tables = append(tables, t)
			}
		}
		cfg.Tables = tables
	}
	if v := os.Getenv("DEVSERVER_VALIDATE"); v == "1" || v == "true" {
		cfg.Validate = true
	}
	if v := os.Getenv("DEVSERVER_SHUTDOWN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ShutdownTimeout = d
		}
	}
	if v := os.Getenv("DEVSERVER_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("DEVSERVER_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	return cfg
}
