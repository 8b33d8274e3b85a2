// ABOUTME: Cobra command tree and the shared --config and --addr flags
// ABOUTME: Client commands resolve the server address from flags, then config

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/2389/coven-registry/internal/client"
	"github.com/2389/coven-registry/internal/config"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	addr       string
	timeout    time.Duration
}

func newRootCommand() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:           "coven-registry",
		Short:         "Track coven agents and clean up the ones that went silent",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true

	pf := root.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "", "config file (default $"+config.EnvConfigPath+" or ~/.config/coven/registry.yaml)")
	pf.StringVar(&flags.addr, "addr", "", "registry HTTP address (default server.http_addr from config)")
	pf.DurationVar(&flags.timeout, "timeout", client.DefaultTimeout, "request timeout for client commands")

	root.AddCommand(
		newServeCommand(flags),
		newAgentsCommand(flags),
		newRegisterCommand(flags),
		newHeartbeatCommand(flags),
		newCompleteCommand(flags),
		newFailCommand(flags),
		newRemoveCommand(flags),
		newSweepCommand(flags),
		newCleanupCommand(flags),
		newStatusCommand(flags),
		newAuditCommand(flags),
		newHealthCommand(flags),
	)
	return root
}

// loadConfig reads --config, or the default location with a fallback to
// built-in defaults when no file exists there.
func (f *globalFlags) loadConfig() (*config.Config, string, error) {
	if f.configPath != "" {
		cfg, err := config.Load(f.configPath)
		if err != nil {
			return nil, "", fmt.Errorf("loading config: %w", err)
		}
		return cfg, f.configPath, nil
	}
	cfg, path, err := config.LoadDefault()
	if err != nil {
		return nil, "", fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}

// client builds an API client for --addr, falling back to the configured address.
func (f *globalFlags) client() (*client.Client, error) {
	addr := f.addr
	if addr == "" {
		cfg, _, err := f.loadConfig()
		if err != nil {
			return nil, err
		}
		addr = cfg.Server.HTTPAddr
	}
	return client.New(addr, client.WithHTTPClient(&http.Client{Timeout: f.timeout})), nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
