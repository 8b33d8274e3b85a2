// ABOUTME: Cleanup and reporting commands: sweep, cleanup, status, audit, health
// ABOUTME: Renders sweeper state and audit entries for terminals

package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/2389/coven-registry/internal/api"
	"github.com/2389/coven-registry/internal/client"
	"github.com/2389/coven-registry/internal/listing"
	"github.com/2389/coven-registry/internal/orphan"
	"github.com/2389/coven-registry/internal/store"
)

func newSweepCommand(flags *globalFlags) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one orphan cleanup sweep now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := flags.client()
			if err != nil {
				return err
			}
			res, err := c.Sweep(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), res)
			}
			printSweep(cmd.OutOrStdout(), res)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the sweep result as JSON")
	return cmd
}

func printSweep(w io.Writer, res orphan.SweepResult) {
	fmt.Fprintf(w, "scanned %d running, orphaned %d, skipped %d (%s)\n",
		res.Scanned, len(res.Orphaned), len(res.Skipped), res.Duration.Round(time.Millisecond))
	for _, id := range res.Orphaned {
		color.New(color.FgYellow).Fprint(w, "  orphaned ")
		fmt.Fprintln(w, id)
	}
	for _, he := range res.HookErrors {
		color.New(color.FgRed).Fprint(w, "  hook failed ")
		fmt.Fprintf(w, "%s: %s\n", he.AgentID, he.Message)
	}
	if res.Aborted {
		color.New(color.FgRed).Fprintln(w, "  sweep aborted before finishing")
	}
}

func newCleanupCommand(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Show or control the periodic cleanup sweeper",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCleanupCall(cmd, flags, (*client.Client).Cleanup)
		},
	}

	control := []struct {
		use, short string
		call       func(*client.Client, context.Context) (api.CleanupState, error)
	}{
		{"start", "Start the periodic sweeper", (*client.Client).StartCleanup},
		{"stop", "Stop the periodic sweeper", (*client.Client).StopCleanup},
		{"reset", "Stop the sweeper and clear its history", (*client.Client).ResetCleanup},
	}
	for _, ctl := range control {
		cmd.AddCommand(&cobra.Command{
			Use:   ctl.use,
			Short: ctl.short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runCleanupCall(cmd, flags, ctl.call)
			},
		})
	}
	return cmd
}

func runCleanupCall(cmd *cobra.Command, flags *globalFlags, call func(*client.Client, context.Context) (api.CleanupState, error)) error {
	c, err := flags.client()
	if err != nil {
		return err
	}
	state, err := call(c, cmd.Context())
	if err != nil {
		return err
	}
	printCleanup(cmd.OutOrStdout(), state, time.Now())
	return nil
}

func printCleanup(w io.Writer, state api.CleanupState, now time.Time) {
	fmt.Fprint(w, "cleanup: ")
	switch {
	case !state.Enabled && !state.Running:
		color.New(color.FgYellow).Fprint(w, "disabled")
	case state.Running:
		color.New(color.FgGreen).Fprint(w, "running")
	default:
		color.New(color.FgRed).Fprint(w, "stopped")
	}
	fmt.Fprintf(w, " (interval %s, orphan timeout %s, hook timeout %s)\n",
		state.Interval, state.Timeout, state.HookTimeout)

	st := state.Stats
	fmt.Fprintf(w, "sweeps: %d, orphaned: %d, skipped: %d, hook failures: %d\n",
		st.Sweeps, st.Orphaned, st.Skipped, st.HookFailures)
	if !st.LastSweep.IsZero() {
		fmt.Fprintf(w, "last sweep: %s\n", humanize.RelTime(st.LastSweep, now, "ago", "from now"))
	}
}

func newStatusCommand(flags *globalFlags) *cobra.Command {
	var (
		opts   client.ListOptions
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Summarize agents by status and show the sweeper state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := flags.client()
			if err != nil {
				return err
			}
			sum, err := c.Summary(cmd.Context(), opts)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), sum)
			}
			state, err := c.Cleanup(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			printSummary(out, sum)
			printCleanup(out, state, time.Now())
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.Status, "status", "", "filter by status")
	cmd.Flags().StringVar(&opts.Model, "model", "", "filter by model")
	cmd.Flags().StringVar(&opts.Since, "since", "", "only agents active within this window")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the summary as JSON")
	return cmd
}

func printSummary(w io.Writer, sum listing.Summary) {
	fmt.Fprintf(w, "agents: %d total, ", sum.Total)
	color.New(color.FgGreen).Fprintf(w, "%d running", sum.Running)
	fmt.Fprintf(w, ", %d completed, ", sum.Completed)
	color.New(color.FgRed).Fprintf(w, "%d failed", sum.Failed)
	fmt.Fprint(w, ", ")
	color.New(color.FgYellow).Fprintf(w, "%d orphaned", sum.Orphaned)
	fmt.Fprintf(w, "\ncost: $%.2f\n", sum.TotalCost)
}

func newAuditCommand(flags *globalFlags) *cobra.Command {
	var (
		opts   client.AuditOptions
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "audit [ID]",
		Short: "Show audit log entries, newest first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				opts.AgentID = args[0]
			}
			c, err := flags.client()
			if err != nil {
				return err
			}
			entries, err := c.Audit(cmd.Context(), opts)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), entries)
			}
			printAudit(cmd.OutOrStdout(), entries)
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.Action, "action", "", "filter by action: registered, transitioned, removed, reset, sweep")
	cmd.Flags().StringVar(&opts.Since, "since", "", "only entries within this window, e.g. 1h, 7d")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum entries (server default 100)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print entries as JSON")
	return cmd
}

func printAudit(w io.Writer, entries []store.AuditEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "(no audit entries)")
		return
	}
	for _, e := range entries {
		change := ""
		if e.FromStatus != "" || e.ToStatus != "" {
			change = e.FromStatus + " -> " + e.ToStatus
		}
		line := strings.Join([]string{
			e.Timestamp.Local().Format(time.DateTime),
			runewidth.FillRight(string(e.Action), 12),
			runewidth.FillRight(e.AgentID, 36),
			runewidth.FillRight(change, 22),
			e.Reason,
		}, "  ")
		fmt.Fprintln(w, strings.TrimRight(runewidth.Truncate(line, listing.MaxLineWidth, "..."), " "))
	}
}

func newHealthCommand(flags *globalFlags) *cobra.Command {
	var ready bool

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check that the registry server is up",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := flags.client()
			if err != nil {
				return err
			}
			check := c.Health
			if ready {
				check = c.Ready
			}
			if err := check(cmd.Context()); err != nil {
				return fmt.Errorf("unhealthy: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "healthy")
			return nil
		},
	}
	cmd.Flags().BoolVar(&ready, "ready", false, "check readiness instead of liveness")
	return cmd
}
