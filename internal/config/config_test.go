// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML loading, env var expansion, defaults, and duration parsing

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, "registry.yaml", `
server:
  http_addr: "0.0.0.0:8080"
  grpc_addr: "0.0.0.0:50051"

database:
  path: "./audit.db"

cleanup:
  enabled: true
  orphan_timeout: "45m"
  sweep_interval: "30s"
  hook_timeout: "5s"
  terminator:
    command: ["pkill", "-f", "agent-{id}"]
    webhook_url: "https://hooks.example.com/orphans"

logging:
  level: "debug"
  format: "json"

metrics:
  enabled: true
  path: "/metrics"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:8080" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "0.0.0.0:8080")
	}
	if cfg.Server.GRPCAddr != "0.0.0.0:50051" {
		t.Errorf("Server.GRPCAddr = %q, want %q", cfg.Server.GRPCAddr, "0.0.0.0:50051")
	}
	if cfg.Database.Path != "./audit.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "./audit.db")
	}
	if cfg.Cleanup.OrphanTimeout != 45*time.Minute {
		t.Errorf("Cleanup.OrphanTimeout = %v, want %v", cfg.Cleanup.OrphanTimeout, 45*time.Minute)
	}
	if cfg.Cleanup.SweepInterval != 30*time.Second {
		t.Errorf("Cleanup.SweepInterval = %v, want %v", cfg.Cleanup.SweepInterval, 30*time.Second)
	}
	if cfg.Cleanup.HookTimeout != 5*time.Second {
		t.Errorf("Cleanup.HookTimeout = %v, want %v", cfg.Cleanup.HookTimeout, 5*time.Second)
	}
	if got := strings.Join(cfg.Cleanup.Terminator.Command, " "); got != "pkill -f agent-{id}" {
		t.Errorf("Cleanup.Terminator.Command = %q, want %q", got, "pkill -f agent-{id}")
	}
	if cfg.Cleanup.Terminator.WebhookURL != "https://hooks.example.com/orphans" {
		t.Errorf("Cleanup.Terminator.WebhookURL = %q", cfg.Cleanup.Terminator.WebhookURL)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v, want debug/json", cfg.Logging)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics = %+v, want enabled at /metrics", cfg.Metrics)
	}
}

func TestLoad_TOML(t *testing.T) {
	configPath := writeConfig(t, "registry.toml", `
[server]
http_addr = "127.0.0.1:9000"

[cleanup]
orphan_timeout = "2h"

[cleanup.terminator]
command = ["kill-agent", "{id}"]

[logging]
level = "warn"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "127.0.0.1:9000" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "127.0.0.1:9000")
	}
	if cfg.Cleanup.OrphanTimeout != 2*time.Hour {
		t.Errorf("Cleanup.OrphanTimeout = %v, want 2h", cfg.Cleanup.OrphanTimeout)
	}
	if len(cfg.Cleanup.Terminator.Command) != 2 {
		t.Errorf("Cleanup.Terminator.Command = %v, want 2 args", cfg.Cleanup.Terminator.Command)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Logging.Level = %q, want warn", cfg.Logging.Level)
	}
	// Untouched sections keep their defaults.
	if cfg.Cleanup.SweepInterval != time.Minute {
		t.Errorf("Cleanup.SweepInterval = %v, want default 1m", cfg.Cleanup.SweepInterval)
	}
	if cfg.Server.GRPCAddr != Default().Server.GRPCAddr {
		t.Errorf("Server.GRPCAddr = %q, want default", cfg.Server.GRPCAddr)
	}
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	configPath := writeConfig(t, "registry.yaml", `
database:
  path: "/var/lib/coven/registry.db"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	def := Default()
	if cfg.Server != def.Server {
		t.Errorf("Server = %+v, want %+v", cfg.Server, def.Server)
	}
	if !cfg.Cleanup.Enabled {
		t.Error("Cleanup.Enabled = false, want default true")
	}
	if cfg.Cleanup.OrphanTimeout != 30*time.Minute {
		t.Errorf("Cleanup.OrphanTimeout = %v, want 30m", cfg.Cleanup.OrphanTimeout)
	}
	if cfg.Database.Path != "/var/lib/coven/registry.db" {
		t.Errorf("Database.Path = %q", cfg.Database.Path)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_REGISTRY_ADDR", "10.0.0.5:7420")
	t.Setenv("TEST_HOOK_URL", "http://hooks.internal/orphan")

	configPath := writeConfig(t, "registry.yaml", `
server:
  http_addr: "${TEST_REGISTRY_ADDR}"
cleanup:
  terminator:
    webhook_url: "${TEST_HOOK_URL}"
database:
  path: "${TEST_UNSET_REGISTRY_DB}"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "10.0.0.5:7420" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "10.0.0.5:7420")
	}
	if cfg.Cleanup.Terminator.WebhookURL != "http://hooks.internal/orphan" {
		t.Errorf("WebhookURL = %q", cfg.Cleanup.Terminator.WebhookURL)
	}
	if cfg.Database.Path != "" {
		t.Errorf("Database.Path = %q, want empty for unset var", cfg.Database.Path)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/registry.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, "registry.yaml", "server:\n  http_addr: [unterminated\n")

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() expected error for invalid YAML, got nil")
	}
	if !strings.Contains(err.Error(), "parsing config file") {
		t.Errorf("Load() error = %q, want parsing error", err.Error())
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	configPath := writeConfig(t, "registry.yaml", `
cleanup:
  orphan_timeout: "half an hour"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() expected error for invalid duration, got nil")
	}
	if !strings.Contains(err.Error(), "orphan_timeout") {
		t.Errorf("Load() error = %q, want mention of orphan_timeout", err.Error())
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name          string
		configContent string
		wantErrSubstr string
	}{
		{
			name:          "missing http_addr",
			configContent: "server:\n  http_addr: \"\"\n",
			wantErrSubstr: "server.http_addr is required",
		},
		{
			name:          "zero orphan timeout",
			configContent: "cleanup:\n  orphan_timeout: \"0s\"\n",
			wantErrSubstr: "cleanup.orphan_timeout must be positive",
		},
		{
			name:          "negative sweep interval",
			configContent: "cleanup:\n  sweep_interval: \"-1m\"\n",
			wantErrSubstr: "cleanup.sweep_interval must be positive",
		},
		{
			name:          "bad webhook url",
			configContent: "cleanup:\n  terminator:\n    webhook_url: \"ftp://example.com\"\n",
			wantErrSubstr: "webhook_url",
		},
		{
			name:          "bad log level",
			configContent: "logging:\n  level: \"loud\"\n",
			wantErrSubstr: "logging.level",
		},
		{
			name:          "bad log format",
			configContent: "logging:\n  format: \"xml\"\n",
			wantErrSubstr: "logging.format",
		},
		{
			name:          "relative metrics path",
			configContent: "metrics:\n  path: \"metrics\"\n",
			wantErrSubstr: "metrics.path",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, "registry.yaml", tt.configContent))
			if err == nil {
				t.Errorf("Load() expected error containing %q, got nil", tt.wantErrSubstr)
				return
			}
			if !strings.Contains(err.Error(), tt.wantErrSubstr) {
				t.Errorf("Load() error = %q, want error containing %q", err.Error(), tt.wantErrSubstr)
			}
		})
	}
}

func TestValidate_DisabledCleanupSkipsDurations(t *testing.T) {
	cfg := Default()
	cfg.Cleanup.Enabled = false
	cfg.Cleanup.OrphanTimeout = 0

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v, want nil when cleanup is disabled", err)
	}
}

func TestDefault_IsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("Default().Validate() error = %v", err)
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("TEST_VAR1", "value1")
	t.Setenv("TEST_VAR2", "value2")

	tests := []struct {
		input string
		want  string
	}{
		{"no vars here", "no vars here"},
		{"${TEST_VAR1}", "value1"},
		{"prefix-${TEST_VAR1}-suffix", "prefix-value1-suffix"},
		{"${TEST_VAR1} and ${TEST_VAR2}", "value1 and value2"},
		{"${TEST_UNSET_VAR}", ""},
		{"$TEST_VAR1", "$TEST_VAR1"},
	}

	for _, tt := range tests {
		if got := expandEnvVars(tt.input); got != tt.want {
			t.Errorf("expandEnvVars(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestDefaultPath(t *testing.T) {
	t.Run("env override", func(t *testing.T) {
		t.Setenv(EnvConfigPath, "/etc/coven/registry.toml")
		if got := DefaultPath(); got != "/etc/coven/registry.toml" {
			t.Errorf("DefaultPath() = %q", got)
		}
	})

	t.Run("xdg", func(t *testing.T) {
		t.Setenv(EnvConfigPath, "")
		t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
		if got := DefaultPath(); got != filepath.Join("/tmp/xdg", "coven", "registry.yaml") {
			t.Errorf("DefaultPath() = %q", got)
		}
	})
}

func TestLoadDefault_MissingFileFallsBack(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, path, err := LoadDefault()
	if err != nil {
		t.Fatalf("LoadDefault() error = %v", err)
	}
	if path != "" {
		t.Errorf("LoadDefault() path = %q, want empty for defaults", path)
	}
	if cfg.Server != Default().Server {
		t.Errorf("LoadDefault() Server = %+v, want defaults", cfg.Server)
	}
}

func TestLoadDefault_ExplicitMissingFileFails(t *testing.T) {
	t.Setenv(EnvConfigPath, filepath.Join(t.TempDir(), "missing.yaml"))

	if _, _, err := LoadDefault(); err == nil {
		t.Error("LoadDefault() expected error for missing explicit config, got nil")
	}
}

func TestLoadDefault_ReadsXDGFile(t *testing.T) {
	xdg := t.TempDir()
	t.Setenv(EnvConfigPath, "")
	t.Setenv("XDG_CONFIG_HOME", xdg)

	dir := filepath.Join(xdg, "coven")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "registry.yaml"), []byte("cleanup:\n  enabled: false\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, path, err := LoadDefault()
	if err != nil {
		t.Fatalf("LoadDefault() error = %v", err)
	}
	if path != filepath.Join(dir, "registry.yaml") {
		t.Errorf("LoadDefault() path = %q", path)
	}
	if cfg.Cleanup.Enabled {
		t.Error("Cleanup.Enabled = true, want false from file")
	}
}
