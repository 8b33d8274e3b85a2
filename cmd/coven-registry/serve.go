// ABOUTME: serve command: loads config, prints the startup banner, runs the server
// ABOUTME: Blocks until SIGINT or SIGTERM, then shuts down gracefully

package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/coven-registry/internal/server"
)

func newServeCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the registry server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, configPath, err := flags.loadConfig()
			if err != nil {
				return err
			}
			if flags.addr != "" {
				cfg.Server.HTTPAddr = flags.addr
			}

			out := cmd.OutOrStdout()
			cyan := color.New(color.FgCyan)
			gray := color.New(color.FgHiBlack)
			green := color.New(color.FgGreen)
			yellow := color.New(color.FgYellow)

			cyan.Fprint(out, banner)
			gray.Fprintf(out, "    version: %s\n\n", version)

			if configPath == "" {
				configPath = "(built-in defaults)"
			}
			line := func(label, value string) {
				green.Fprint(out, "    ▶ ")
				fmt.Fprintf(out, "%-10s %s\n", label+":", value)
			}
			line("Config", configPath)
			line("HTTP", cfg.Server.HTTPAddr)
			if cfg.Server.GRPCAddr != "" {
				line("gRPC", cfg.Server.GRPCAddr)
			}
			if cfg.Database.Path != "" {
				line("Audit", cfg.Database.Path)
			}
			green.Fprint(out, "    ▶ ")
			fmt.Fprintf(out, "%-10s ", "Cleanup:")
			if cfg.Cleanup.Enabled {
				fmt.Fprintf(out, "every %s, orphan after %s", cfg.Cleanup.SweepInterval, cfg.Cleanup.OrphanTimeout)
			} else {
				yellow.Fprint(out, "disabled")
			}
			fmt.Fprintln(out)
			fmt.Fprintln(out)

			logger := setupLogger(cfg.Logging, os.Stdout)
			logger.Info("starting coven-registry",
				"config", configPath,
				"http_addr", cfg.Server.HTTPAddr,
				"grpc_addr", cfg.Server.GRPCAddr,
			)

			srv, err := server.New(cfg, logger)
			if err != nil {
				return fmt.Errorf("creating server: %w", err)
			}
			return srv.Run(cmd.Context())
		},
	}
}
