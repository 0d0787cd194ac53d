package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Mount    MountConfig    `yaml:"mount"`
	Behavior BehaviorConfig `yaml:"behavior"`
	Redis    RedisConfig    `yaml:"redis"`
	LogLevel string         `yaml:"log_level"`
}

// MountConfig identifies the device and how to authenticate against it.
type MountConfig struct {
	Address       string `yaml:"address"`        // BLE MAC (Linux) or peripheral UUID (macOS)
	Variant       string `yaml:"variant"`        // "legacy" or "next"
	PIN           int    `yaml:"pin"`            // 0 = none configured
	SupervisorPIN bool   `yaml:"supervisor_pin"` // present the PIN as supervisor
}

// BehaviorConfig tunes the refresh and connection lifecycle. Intervals are
// whole seconds; 0 keeps the feature disabled where that is meaningful.
type BehaviorConfig struct {
	AutoReconnect      bool `yaml:"auto_reconnect"`
	RefreshIntervalSec int  `yaml:"refresh_interval_sec"`
	IdleTimeoutSec     int  `yaml:"idle_timeout_sec"` // 0 disables idle disconnect
	KeepAliveSec       int  `yaml:"keepalive_sec"`    // 0 disables the keep-alive read
}

// RefreshInterval returns the refresh period as a duration.
func (b BehaviorConfig) RefreshInterval() time.Duration {
	return time.Duration(b.RefreshIntervalSec) * time.Second
}

// IdleTimeout returns the idle-disconnect timeout as a duration.
func (b BehaviorConfig) IdleTimeout() time.Duration {
	return time.Duration(b.IdleTimeoutSec) * time.Second
}

// KeepAlive returns the keep-alive read interval as a duration.
func (b BehaviorConfig) KeepAlive() time.Duration {
	return time.Duration(b.KeepAliveSec) * time.Second
}

// RedisConfig configures the optional state bridge. An empty Addr disables
// the bridge entirely.
type RedisConfig struct {
	Addr   string `yaml:"addr"`
	Prefix string `yaml:"prefix"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "mountctl")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Mount: MountConfig{
			Variant: "next",
		},
		Behavior: BehaviorConfig{
			AutoReconnect:      false,
			RefreshIntervalSec: 300,
			IdleTimeoutSec:     180,
		},
		Redis: RedisConfig{
			Prefix: "motionmount",
		},
		LogLevel: "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.Mount.Address == "" {
		return fmt.Errorf("mount.address must not be empty")
	}

	switch c.Mount.Variant {
	case "legacy", "next":
	default:
		return fmt.Errorf("mount.variant must be \"legacy\" or \"next\", got %q", c.Mount.Variant)
	}

	if c.Mount.PIN < 0 || c.Mount.PIN > 9999 {
		return fmt.Errorf("mount.pin must be a 4-digit number, got %d", c.Mount.PIN)
	}

	if c.Behavior.RefreshIntervalSec <= 0 {
		return fmt.Errorf("behavior.refresh_interval_sec must be > 0")
	}

	if c.Behavior.IdleTimeoutSec < 0 {
		return fmt.Errorf("behavior.idle_timeout_sec must be >= 0")
	}

	if c.Behavior.KeepAliveSec < 0 {
		return fmt.Errorf("behavior.keepalive_sec must be >= 0")
	}

	if c.Redis.Addr != "" && c.Redis.Prefix == "" {
		return fmt.Errorf("redis.prefix must not be empty when redis.addr is set")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

// ParseLogLevel maps a config log level string to a slog.Level. Unknown
// values default to info.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WriteDefault writes a commented default config to the default path if no
// config exists yet. Returns the written path, or "" if a config was
// already present.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	}

	if err := os.MkdirAll(DefaultConfigDir(), 0755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("marshaling default config: %w", err)
	}

	header := "# mountctl configuration\n# Set mount.address to your MotionMount's BLE address before use.\n\n"
	if err := os.WriteFile(path, append([]byte(header), data...), 0644); err != nil {
		return "", fmt.Errorf("writing default config: %w", err)
	}
	return path, nil
}
