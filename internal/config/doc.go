// Package config handles configuration loading for coven-registry.
//
// # Overview
//
// Configuration is loaded from YAML or TOML files with environment variable
// expansion. Fields a file leaves out keep the values from Default, so a
// file only needs the settings it changes.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from COVEN_REGISTRY_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/coven/registry.yaml
//  3. ~/.config/coven/registry.yaml
//
// When no file exists at the default location the built-in defaults are used.
// A path named by COVEN_REGISTRY_CONFIG must exist.
//
// Files ending in .toml are decoded as TOML; everything else is YAML.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	cleanup:
//	  terminator:
//	    webhook_url: "${COVEN_ORPHAN_WEBHOOK}"
//
// Syntax: ${VAR_NAME}. Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	cleanup:
//	  orphan_timeout: "30m"
//	  sweep_interval: "1m"
//	  hook_timeout: "10s"
//
// # Configuration Sections
//
// Server settings. An empty grpc_addr disables the gRPC health service:
//
//	server:
//	  http_addr: "127.0.0.1:7420"
//	  grpc_addr: "127.0.0.1:7421"
//
// Audit database. An empty path disables the audit log:
//
//	database:
//	  path: "/var/lib/coven/registry.db"
//
// Orphan cleanup. The terminator command has {id} replaced with the agent id:
//
//	cleanup:
//	  enabled: true
//	  terminator:
//	    command: ["pkill", "-f", "coven-agent --id {id}"]
//	    webhook_url: ""
//
// Logging (level: debug, info, warn, error; format: text, json):
//
//	logging:
//	  level: "info"
//	  format: "text"
//
// Prometheus metrics:
//
//	metrics:
//	  enabled: true
//	  path: "/metrics"
package config
