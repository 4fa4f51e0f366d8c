// Package syncconfig loads and saves the user's labsync settings from
// ~/.config/labsync/config.yaml, with environment overrides.
package syncconfig

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// RetryConfig holds drain retry settings.
type RetryConfig struct {
	MaxAttempts    int    `yaml:"max_attempts,omitempty"`
	InitialBackoff string `yaml:"initial_backoff,omitempty"` // duration string, default "2s"
	MaxBackoff     string `yaml:"max_backoff,omitempty"`     // duration string, default "1m"
}

// AutoSyncConfig holds auto-sync settings.
type AutoSyncConfig struct {
	Enabled  *bool  `yaml:"enabled,omitempty"`  // nil = default true
	Interval string `yaml:"interval,omitempty"` // cron spec, default "@every 5m"
}

// SyncConfig holds sync-related settings.
type SyncConfig struct {
	URL    string         `yaml:"url,omitempty"`
	APIKey string         `yaml:"api_key,omitempty"`
	Limit  int            `yaml:"limit,omitempty"`
	Retry  RetryConfig    `yaml:"retry,omitempty"`
	Auto   AutoSyncConfig `yaml:"auto,omitempty"`
}

// LogConfig holds CLI logging settings.
type LogConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
}

// Config is the user config stored at ~/.config/labsync/config.yaml.
type Config struct {
	Sync   SyncConfig `yaml:"sync,omitempty"`
	Log    LogConfig  `yaml:"log,omitempty"`
	Tables []string   `yaml:"tables,omitempty"`
}

// ErrUnknownKey is returned by Get and Set for keys outside Keys().
var ErrUnknownKey = errors.New("unknown config key")

const (
	configFile = "config.yaml"

	defaultServerURL      = "http://localhost:8787"
	defaultListLimit      = 200
	defaultMaxAttempts    = 3
	defaultInitialBackoff = 2 * time.Second
	defaultMaxBackoff     = time.Minute
	defaultInterval       = "@every 5m"
	defaultLogLevel       = "info"
	defaultLogFormat      = "text"
)

// ConfigDir returns the config directory, creating it if necessary.
// LABSYNC_CONFIG_DIR overrides ~/.config/labsync.
func ConfigDir() (string, error) {
	dir := os.Getenv("LABSYNC_CONFIG_DIR")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("get home dir: %w", err)
		}
		dir = filepath.Join(home, ".config", "labsync")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create config dir: %w", err)
	}
	return dir, nil
}

// LoadConfig reads the config file. A missing file yields an empty config.
func LoadConfig() (*Config, error) {
	dir, err := ConfigDir()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, configFile))
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", configFile, err)
	}
	return &cfg, nil
}

// SaveConfig writes cfg atomically. The file holds the API key, so it is
// created owner-only.
func SaveConfig(cfg *Config) error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	path := filepath.Join(dir, configFile)
	tmp, err := os.CreateTemp(dir, configFile+".*")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write config: %w", err)
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// load returns the config or an empty one when the file is unreadable, so
// the getters always fall back to defaults.
func load() *Config {
	cfg, err := LoadConfig()
	if err != nil {
		return &Config{}
	}
	return cfg
}

// GetServerURL returns the remote store URL.
// Priority: LABSYNC_URL env > config.yaml > default.
func GetServerURL() string {
	if v := os.Getenv("LABSYNC_URL"); v != "" {
		return v
	}
	if cfg := load(); cfg.Sync.URL != "" {
		return cfg.Sync.URL
	}
	return defaultServerURL
}

// GetAPIKey returns the remote API key.
// Priority: LABSYNC_API_KEY env > config.yaml.
func GetAPIKey() string {
	if v := os.Getenv("LABSYNC_API_KEY"); v != "" {
		return v
	}
	return load().Sync.APIKey
}

// GetListLimit returns the reconcile listing size (default 200).
func GetListLimit() int {
	if cfg := load(); cfg.Sync.Limit > 0 {
		return cfg.Sync.Limit
	}
	return defaultListLimit
}

// GetRetry returns the retry bound and backoff range for update/delete
// requests. Unparseable durations fall back to the defaults.
func GetRetry() (maxAttempts int, initial, max time.Duration) {
	cfg := load()
	maxAttempts, initial, max = defaultMaxAttempts, defaultInitialBackoff, defaultMaxBackoff
	if cfg.Sync.Retry.MaxAttempts > 0 {
		maxAttempts = cfg.Sync.Retry.MaxAttempts
	}
	if d, err := time.ParseDuration(cfg.Sync.Retry.InitialBackoff); err == nil && d >= 0 {
		initial = d
	}
	if d, err := time.ParseDuration(cfg.Sync.Retry.MaxBackoff); err == nil && d > 0 {
		max = d
	}
	return maxAttempts, initial, max
}

// parseBoolEnv returns nil if env not set, pointer to bool if set.
func parseBoolEnv(envKey string) *bool {
	v := strings.ToLower(os.Getenv(envKey))
	switch v {
	case "1", "true":
		b := true
		return &b
	case "0", "false":
		b := false
		return &b
	}
	return nil
}

// GetAutoSyncEnabled reports whether mutating commands drain afterwards.
// Priority: LABSYNC_AUTO_SYNC env > config.yaml sync.auto.enabled > true
func GetAutoSyncEnabled() bool {
	if v := parseBoolEnv("LABSYNC_AUTO_SYNC"); v != nil {
		return *v
	}
	if cfg := load(); cfg.Sync.Auto.Enabled != nil {
		return *cfg.Sync.Auto.Enabled
	}
	return true
}

// GetAutoSyncInterval returns the cron spec used by `labsync watch`.
func GetAutoSyncInterval() string {
	if cfg := load(); cfg.Sync.Auto.Interval != "" {
		return cfg.Sync.Auto.Interval
	}
	return defaultInterval
}

// GetLogLevel returns the CLI log level name.
// Priority: LABSYNC_LOG_LEVEL env > config.yaml > "info".
func GetLogLevel() string {
	if v := os.Getenv("LABSYNC_LOG_LEVEL"); v != "" {
		return v
	}
	if cfg := load(); cfg.Log.Level != "" {
		return cfg.Log.Level
	}
	return defaultLogLevel
}

// GetLogFormat returns "text" or "json".
// Priority: LABSYNC_LOG_FORMAT env > config.yaml > "text".
func GetLogFormat() string {
	if v := os.Getenv("LABSYNC_LOG_FORMAT"); v != "" {
		return v
	}
	if cfg := load(); cfg.Log.Format != "" {
		return cfg.Log.Format
	}
	return defaultLogFormat
}

// GetTables returns the configured table list, or defaults when none is set.
func GetTables(defaults []string) []string {
	if cfg := load(); len(cfg.Tables) > 0 {
		return cfg.Tables
	}
	return defaults
}

// field binds a dotted key to its accessor pair on Config.
type field struct {
	get func(*Config) string
	set func(*Config, string) error
}

var fields = map[string]field{
	"sync.url": {
		get: func(c *Config) string { return c.Sync.URL },
		set: func(c *Config, v string) error { c.Sync.URL = v; return nil },
	},
	"sync.api_key": {
		get: func(c *Config) string { return c.Sync.APIKey },
		set: func(c *Config, v string) error { c.Sync.APIKey = v; return nil },
	},
	"sync.limit": {
		get: func(c *Config) string { return intString(c.Sync.Limit) },
		set: func(c *Config, v string) error { return setPositive(&c.Sync.Limit, v) },
	},
	"sync.retry.max_attempts": {
		get: func(c *Config) string { return intString(c.Sync.Retry.MaxAttempts) },
		set: func(c *Config, v string) error { return setPositive(&c.Sync.Retry.MaxAttempts, v) },
	},
	"sync.retry.initial_backoff": {
		get: func(c *Config) string { return c.Sync.Retry.InitialBackoff },
		set: func(c *Config, v string) error { return setDuration(&c.Sync.Retry.InitialBackoff, v) },
	},
	"sync.retry.max_backoff": {
		get: func(c *Config) string { return c.Sync.Retry.MaxBackoff },
		set: func(c *Config, v string) error { return setDuration(&c.Sync.Retry.MaxBackoff, v) },
	},
	"sync.auto.enabled": {
		get: func(c *Config) string {
			if c.Sync.Auto.Enabled == nil {
				return ""
			}
			return strconv.FormatBool(*c.Sync.Auto.Enabled)
		},
		set: func(c *Config, v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("expected true or false, got %q", v)
			}
			c.Sync.Auto.Enabled = &b
			return nil
		},
	},
	"sync.auto.interval": {
		get: func(c *Config) string { return c.Sync.Auto.Interval },
		set: func(c *Config, v string) error { c.Sync.Auto.Interval = v; return nil },
	},
	"log.level": {
		get: func(c *Config) string { return c.Log.Level },
		set: func(c *Config, v string) error { c.Log.Level = v; return nil },
	},
	"log.format": {
		get: func(c *Config) string { return c.Log.Format },
		set: func(c *Config, v string) error {
			if v != "text" && v != "json" {
				return fmt.Errorf("expected text or json, got %q", v)
			}
			c.Log.Format = v
			return nil
		},
	},
	"tables": {
		get: func(c *Config) string { return strings.Join(c.Tables, ",") },
		set: func(c *Config, v string) error {
			c.Tables = nil
			for _, t := range strings.Split(v, ",") {
				if t = strings.TrimSpace(t); t != "" {
					c.Tables = append(c.Tables, t)
				}
			}
			return nil
		},
	},
}

// Keys returns every settable key in sorted order.
func Keys() []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Get returns the raw value of key in cfg ("" when unset).
func Get(cfg *Config, key string) (string, error) {
	f, ok := fields[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	return f.get(cfg), nil
}

// Set parses value and stores it under key in cfg.
func Set(cfg *Config, key, value string) error {
	f, ok := fields[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	if err := f.set(cfg, value); err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	return nil
}

func intString(n int) string {
	if n == 0 {
		return ""
	}
	return strconv.Itoa(n)
}

func setPositive(dst *int, v string) error {
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fmt.Errorf("expected a positive integer, got %q", v)
	}
	*dst = n
	return nil
}

func setDuration(dst *string, v string) error {
	if _, err := time.ParseDuration(v); err != nil {
		return fmt.Errorf("expected a duration like 2s, got %q", v)
	}
	*dst = v
	return nil
}
