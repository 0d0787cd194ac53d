package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Mount.Variant != "next" {
		t.Errorf("Mount.Variant = %q, want %q", cfg.Mount.Variant, "next")
	}
	if cfg.Behavior.AutoReconnect {
		t.Error("Behavior.AutoReconnect should default to false")
	}
	if cfg.Behavior.RefreshInterval() != 5*time.Minute {
		t.Errorf("Behavior.RefreshInterval() = %v, want 5m", cfg.Behavior.RefreshInterval())
	}
	if cfg.Behavior.IdleTimeout() != 3*time.Minute {
		t.Errorf("Behavior.IdleTimeout() = %v, want 3m", cfg.Behavior.IdleTimeout())
	}
	if cfg.Redis.Prefix != "motionmount" {
		t.Errorf("Redis.Prefix = %q, want %q", cfg.Redis.Prefix, "motionmount")
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
}

func TestLoad(t *testing.T) {
	yamlContent := `
mount:
  address: "AA:BB:CC:DD:EE:FF"
  variant: legacy
  pin: 4321
  supervisor_pin: true
behavior:
  auto_reconnect: true
  refresh_interval_sec: 60
  idle_timeout_sec: 30
  keepalive_sec: 10
redis:
  addr: "localhost:6379"
  prefix: livingroom
log_level: debug
`
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Mount.Address != "AA:BB:CC:DD:EE:FF" {
		t.Errorf("Mount.Address = %q, want %q", cfg.Mount.Address, "AA:BB:CC:DD:EE:FF")
	}
	if cfg.Mount.Variant != "legacy" {
		t.Errorf("Mount.Variant = %q, want %q", cfg.Mount.Variant, "legacy")
	}
	if cfg.Mount.PIN != 4321 {
		t.Errorf("Mount.PIN = %d, want 4321", cfg.Mount.PIN)
	}
	if !cfg.Mount.SupervisorPIN {
		t.Error("Mount.SupervisorPIN = false, want true")
	}
	if !cfg.Behavior.AutoReconnect {
		t.Error("Behavior.AutoReconnect = false, want true")
	}
	if cfg.Behavior.RefreshInterval() != time.Minute {
		t.Errorf("Behavior.RefreshInterval() = %v, want 1m", cfg.Behavior.RefreshInterval())
	}
	if cfg.Behavior.IdleTimeout() != 30*time.Second {
		t.Errorf("Behavior.IdleTimeout() = %v, want 30s", cfg.Behavior.IdleTimeout())
	}
	if cfg.Behavior.KeepAlive() != 10*time.Second {
		t.Errorf("Behavior.KeepAlive() = %v, want 10s", cfg.Behavior.KeepAlive())
	}
	if cfg.Redis.Addr != "localhost:6379" {
		t.Errorf("Redis.Addr = %q, want %q", cfg.Redis.Addr, "localhost:6379")
	}
	if cfg.Redis.Prefix != "livingroom" {
		t.Errorf("Redis.Prefix = %q, want %q", cfg.Redis.Prefix, "livingroom")
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}
}

func TestLoadKeepsDefaultsForMissingFields(t *testing.T) {
	yamlContent := `
mount:
  address: "AA:BB:CC:DD:EE:FF"
`
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Mount.Variant != "next" {
		t.Errorf("Mount.Variant = %q, want default %q", cfg.Mount.Variant, "next")
	}
	if cfg.Behavior.RefreshInterval() != 5*time.Minute {
		t.Errorf("Behavior.RefreshInterval() = %v, want default 5m", cfg.Behavior.RefreshInterval())
	}
	if cfg.Redis.Addr != "" {
		t.Errorf("Redis.Addr = %q, want empty (bridge disabled)", cfg.Redis.Addr)
	}
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("Load() should return error for nonexistent file")
	}
}

func TestValidate(t *testing.T) {
	valid := func(c *Config) { c.Mount.Address = "AA:BB:CC:DD:EE:FF" }

	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "empty address",
			modify:  func(c *Config) { c.Mount.Address = "" },
			wantErr: true,
		},
		{
			name:    "invalid variant",
			modify:  func(c *Config) { c.Mount.Variant = "invalid" },
			wantErr: true,
		},
		{
			name:    "negative pin",
			modify:  func(c *Config) { c.Mount.PIN = -1 },
			wantErr: true,
		},
		{
			name:    "five digit pin",
			modify:  func(c *Config) { c.Mount.PIN = 12345 },
			wantErr: true,
		},
		{
			name:    "zero refresh interval",
			modify:  func(c *Config) { c.Behavior.RefreshIntervalSec = 0 },
			wantErr: true,
		},
		{
			name:    "negative idle timeout",
			modify:  func(c *Config) { c.Behavior.IdleTimeoutSec = -1 },
			wantErr: true,
		},
		{
			name:    "redis addr without prefix",
			modify:  func(c *Config) { c.Redis.Addr = "localhost:6379"; c.Redis.Prefix = "" },
			wantErr: true,
		},
		{
			name:    "invalid log level",
			modify:  func(c *Config) { c.LogLevel = "invalid" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			valid(cfg)
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestWriteDefault_CreatesFile(t *testing.T) {
	// Use a temp dir as fake home to avoid touching real config
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	path, err := WriteDefault()
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}

	expectedPath := filepath.Join(tmpHome, ".config", "mountctl", "config.yaml")
	if path != expectedPath {
		t.Errorf("WriteDefault() path = %q, want %q", path, expectedPath)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read written config: %v", err)
	}

	if !strings.HasPrefix(string(data), "# mountctl") {
		t.Error("written config should start with header comment")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("written config is not valid YAML: %v", err)
	}
	if cfg.Mount.Variant != "next" {
		t.Errorf("written config Mount.Variant = %q, want %q", cfg.Mount.Variant, "next")
	}
}

func TestWriteDefault_NoOpIfExists(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	configDir := filepath.Join(tmpHome, ".config", "mountctl")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}
	existingContent := []byte("mount:\n  address: \"11:22:33:44:55:66\"\n")
	configPath := filepath.Join(configDir, "config.yaml")
	if err := os.WriteFile(configPath, existingContent, 0644); err != nil {
		t.Fatalf("failed to write existing config: %v", err)
	}

	path, err := WriteDefault()
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}
	if path != "" {
		t.Errorf("WriteDefault() path = %q, want empty string for existing file", path)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("failed to read config: %v", err)
	}
	if string(data) != string(existingContent) {
		t.Error("WriteDefault() should not overwrite existing config file")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo}, // defaults to info
		{"", slog.LevelInfo},        // defaults to info
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := ParseLogLevel(tt.input)
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}
