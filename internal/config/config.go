// ABOUTME: Configuration loading and parsing for coven-registry
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath overrides the default config location.
const EnvConfigPath = "COVEN_REGISTRY_CONFIG"

// Config represents the complete coven-registry configuration
type Config struct {
	Server   ServerConfig   `yaml:"server" toml:"server"`
	Database DatabaseConfig `yaml:"database" toml:"database"`
	Cleanup  CleanupConfig  `yaml:"cleanup" toml:"cleanup"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics" toml:"metrics"`
}

// ServerConfig holds listen addresses. An empty grpc_addr disables the health service.
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr" toml:"grpc_addr"`
}

// DatabaseConfig holds the audit log location. An empty path disables auditing.
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// CleanupConfig holds the orphan sweep policy
type CleanupConfig struct {
	Enabled    bool             `yaml:"enabled" toml:"enabled"`
	Terminator TerminatorConfig `yaml:"terminator" toml:"terminator"`

	OrphanTimeout time.Duration `yaml:"-" toml:"-"`
	SweepInterval time.Duration `yaml:"-" toml:"-"`
	HookTimeout   time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	OrphanTimeoutRaw string `yaml:"orphan_timeout" toml:"orphan_timeout"`
	SweepIntervalRaw string `yaml:"sweep_interval" toml:"sweep_interval"`
	HookTimeoutRaw   string `yaml:"hook_timeout" toml:"hook_timeout"`
}

// TerminatorConfig selects the hooks run for each orphan. Both may be set.
type TerminatorConfig struct {
	Command    []string `yaml:"command" toml:"command"`
	WebhookURL string   `yaml:"webhook_url" toml:"webhook_url"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPAddr: "127.0.0.1:7420",
			GRPCAddr: "127.0.0.1:7421",
		},
		Cleanup: CleanupConfig{
			Enabled:          true,
			OrphanTimeout:    30 * time.Minute,
			SweepInterval:    time.Minute,
			HookTimeout:      10 * time.Second,
			OrphanTimeoutRaw: "30m",
			SweepIntervalRaw: "1m",
			HookTimeoutRaw:   "10s",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, anything else as YAML. Fields the
// file leaves out keep their Default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw content
	expanded := expandEnvVars(string(data))

	cfg := Default()
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// LoadDefault loads the file at DefaultPath. A missing file yields Default()
// unless the location was set explicitly through EnvConfigPath.
func LoadDefault() (*Config, string, error) {
	path := DefaultPath()
	cfg, err := Load(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && os.Getenv(EnvConfigPath) == "" {
			return Default(), "", nil
		}
		return nil, path, err
	}
	return cfg, path, nil
}

// DefaultPath returns the path to the registry config file.
// Priority: COVEN_REGISTRY_CONFIG env var > XDG_CONFIG_HOME/coven/registry.yaml > ~/.config/coven/registry.yaml
func DefaultPath() string {
	if envPath := os.Getenv(EnvConfigPath); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "registry.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "coven", "registry.yaml")
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.Cleanup.Enabled {
		if c.Cleanup.OrphanTimeout <= 0 {
			return fmt.Errorf("cleanup.orphan_timeout must be positive")
		}
		if c.Cleanup.SweepInterval <= 0 {
			return fmt.Errorf("cleanup.sweep_interval must be positive")
		}
		if c.Cleanup.HookTimeout <= 0 {
			return fmt.Errorf("cleanup.hook_timeout must be positive")
		}
	}

	if raw := c.Cleanup.Terminator.WebhookURL; raw != "" {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("cleanup.terminator.webhook_url must be an http(s) URL, got %q", raw)
		}
	}

	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}

	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not text or json", c.Logging.Format)
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /, got %q", c.Metrics.Path)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"orphan_timeout", cfg.Cleanup.OrphanTimeoutRaw, &cfg.Cleanup.OrphanTimeout},
		{"sweep_interval", cfg.Cleanup.SweepIntervalRaw, &cfg.Cleanup.SweepInterval},
		{"hook_timeout", cfg.Cleanup.HookTimeoutRaw, &cfg.Cleanup.HookTimeout},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
