// ABOUTME: Agent commands: agents (list), register, heartbeat, complete, fail, remove
// ABOUTME: Each command is a thin wrapper over the registry HTTP client

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/2389/coven-registry/internal/agent"
	"github.com/2389/coven-registry/internal/api"
	"github.com/2389/coven-registry/internal/client"
	"github.com/2389/coven-registry/internal/listing"
)

func newAgentsCommand(flags *globalFlags) *cobra.Command {
	var (
		opts   client.ListOptions
		format string
	)

	cmd := &cobra.Command{
		Use:     "agents",
		Aliases: []string{"ls", "list"},
		Short:   "List agents",
		Example: `  coven-registry agents --status running --model claude
  coven-registry agents --status orphaned --since 1d --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Reject bad filters before touching the network.
			if _, err := listing.ParseFilter(opts.Status, opts.Model, opts.Since); err != nil {
				return err
			}
			f, err := listing.ParseFormat(format)
			if err != nil {
				return err
			}

			c, err := flags.client()
			if err != nil {
				return err
			}
			records, err := c.List(cmd.Context(), opts)
			if err != nil {
				return err
			}
			return listing.Render(cmd.OutOrStdout(), f, records, time.Now())
		},
	}

	cmd.Flags().StringVar(&opts.Status, "status", "", "filter by status: running, completed, failed, orphaned")
	cmd.Flags().StringVar(&opts.Model, "model", "", "filter by model (case-insensitive substring)")
	cmd.Flags().StringVar(&opts.Since, "since", "", "only agents active within this window, e.g. 30m, 2h, 7d")
	cmd.Flags().StringVarP(&format, "format", "o", "table", "output format: table or json")
	return cmd
}

func newRegisterCommand(flags *globalFlags) *cobra.Command {
	var (
		req     api.RegisterRequest
		asJSON  bool
		started string
	)

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a new agent and print its id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if started != "" {
				ago, err := listing.ParseSince(started)
				if err != nil {
					return fmt.Errorf("--started: %w", err)
				}
				t := time.Now().Add(-ago)
				req.StartTime = &t
				req.LastActivity = &t
			}

			c, err := flags.client()
			if err != nil {
				return err
			}
			rec, err := c.Register(cmd.Context(), req)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), rec)
			}
			fmt.Fprintln(cmd.OutOrStdout(), rec.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&req.Name, "name", "", "agent name (required)")
	cmd.Flags().StringVar(&req.Model, "model", "", "model identifier (required)")
	cmd.Flags().StringVar(&req.Type, "type", "", "agent type (default general)")
	cmd.Flags().Float64Var(&req.Cost, "cost", 0, "cost accrued so far")
	cmd.Flags().StringToStringVar(&req.Metadata, "meta", nil, "metadata as key=value, repeatable")
	cmd.Flags().StringVar(&started, "started", "", "backdate start and last activity by this duration")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full record as JSON")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("model")
	return cmd
}

func newHeartbeatCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "heartbeat ID",
		Short: "Record activity for an agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.client()
			if err != nil {
				return err
			}
			rec, err := c.Heartbeat(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s last active %s\n", rec.ID, rec.LastActivity.Format(time.RFC3339))
			return nil
		},
	}
}

func newCompleteCommand(flags *globalFlags) *cobra.Command {
	var cost float64

	cmd := &cobra.Command{
		Use:   "complete ID",
		Short: "Mark an agent completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.client()
			if err != nil {
				return err
			}
			status := string(agent.StatusCompleted)
			req := api.PatchRequest{Status: &status}
			if cmd.Flags().Changed("cost") {
				req.Cost = &cost
			}
			rec, err := c.Update(cmd.Context(), args[0], req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", rec.ID, rec.DisplayStatus())
			return nil
		},
	}
	cmd.Flags().Float64Var(&cost, "cost", 0, "final cost")
	return cmd
}

func newFailCommand(flags *globalFlags) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "fail ID",
		Short: "Mark an agent failed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.client()
			if err != nil {
				return err
			}
			rec, err := c.Fail(cmd.Context(), args[0], reason)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", rec.ID, rec.DisplayStatus())
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why the agent failed")
	return cmd
}

func newRemoveCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "remove ID",
		Aliases: []string{"rm"},
		Short:   "Delete an agent record",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.client()
			if err != nil {
				return err
			}
			if err := c.Remove(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
			return nil
		},
	}
}
