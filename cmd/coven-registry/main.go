// ABOUTME: Entry point for coven-registry, the agent registry and orphan sweeper
// ABOUTME: Serves the registry API and talks to a running server from the CLI

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
  ___ _____   _____ _ __        _ __ ___  __ _(_)___| |_ _ __ _   _
 / __/ _ \ \ / / _ \ '_ \ _____| '__/ _ \/ _' | / __| __| '__| | | |
| (_| (_) \ V /  __/ | | |_____| | |  __/ (_| | \__ \ |_| |  | |_| |
 \___\___/ \_/ \___|_| |_|     |_|  \___|\__, |_|___/\__|_|   \__, |
                                         |___/                |___/
`

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		color.New(color.FgRed).Fprint(os.Stderr, "Error: ")
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
