// ABOUTME: Client configuration loading from XDG path with env expansion
// ABOUTME: TOML is the native format; YAML accepted for gateway-config parity

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config is the complete client configuration.
type Config struct {
	Gateway GatewayConfig `toml:"gateway" yaml:"gateway"`
	Sync    SyncConfig    `toml:"sync" yaml:"sync"`
	Logging LoggingConfig `toml:"logging" yaml:"logging"`
}

// GatewayConfig locates and authenticates against the gateway.
type GatewayConfig struct {
	URL   string `toml:"url" yaml:"url"`
	WSURL string `toml:"ws_url" yaml:"ws_url"`
	Token string `toml:"token" yaml:"token"`
}

// SyncConfig tunes the engine.
type SyncConfig struct {
	PageLimit int `toml:"page_limit" yaml:"page_limit"`

	DedupeWindow  time.Duration `toml:"-" yaml:"-"`
	ReconnectWait time.Duration `toml:"-" yaml:"-"`

	// Raw string values for decoding
	DedupeWindowRaw  string `toml:"dedupe_window" yaml:"dedupe_window"`
	ReconnectWaitRaw string `toml:"reconnect_wait" yaml:"reconnect_wait"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"`
}

// DefaultPath returns the XDG location of the client config file.
func DefaultPath() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "tasksync", "config.toml")
}

// Load reads a configuration file, expanding ${VAR} environment variables
// and parsing duration strings. The format is chosen by extension: .yaml
// and .yml decode as YAML (the gateway's own config format), everything
// else as TOML.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	default:
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

// expandEnvVars replaces ${VAR} with environment variable values. Unset
// variables expand to the empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		return os.Getenv(varName)
	})
}

// Validate checks required fields and normalizes derived ones.
func (c *Config) Validate() error {
	if c.Gateway.URL == "" {
		return fmt.Errorf("gateway.url is required")
	}
	if c.Gateway.WSURL == "" {
		c.Gateway.WSURL = deriveWSURL(c.Gateway.URL)
	}
	if c.Sync.PageLimit < 0 {
		return fmt.Errorf("sync.page_limit must not be negative")
	}
	return nil
}

// deriveWSURL maps an http(s) gateway URL to its websocket counterpart.
func deriveWSURL(url string) string {
	switch {
	case strings.HasPrefix(url, "https://"):
		return "wss://" + strings.TrimPrefix(url, "https://")
	case strings.HasPrefix(url, "http://"):
		return "ws://" + strings.TrimPrefix(url, "http://")
	}
	return url
}

// parseDurations converts the raw duration strings into time.Duration values.
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Sync.DedupeWindowRaw != "" {
		cfg.Sync.DedupeWindow, err = time.ParseDuration(cfg.Sync.DedupeWindowRaw)
		if err != nil {
			return fmt.Errorf("parsing dedupe_window %q: %w", cfg.Sync.DedupeWindowRaw, err)
		}
	}

	if cfg.Sync.ReconnectWaitRaw != "" {
		cfg.Sync.ReconnectWait, err = time.ParseDuration(cfg.Sync.ReconnectWaitRaw)
		if err != nil {
			return fmt.Errorf("parsing reconnect_wait %q: %w", cfg.Sync.ReconnectWaitRaw, err)
		}
	}

	return nil
}
