// ABOUTME: Fake agent for E2E testing: registers over HTTP, heartbeats, then finishes.
// ABOUTME: Usage: fake-agent [-addr 127.0.0.1:7420] [-name fake] [-run 10s] [-outcome complete|fail|hang]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"math/rand/v2"
	"os"
	"os/signal"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-registry/internal/agent"
	"github.com/2389/coven-registry/internal/api"
	"github.com/2389/coven-registry/internal/client"
)

const registerAttempts = 5

type options struct {
	addr      string
	name      string
	model     string
	runFor    time.Duration
	heartbeat time.Duration
	outcome   string
	costRate  float64
}

func main() {
	var o options
	flag.StringVar(&o.addr, "addr", "127.0.0.1:7420", "registry HTTP address")
	flag.StringVar(&o.name, "name", "fake-agent", "agent name")
	flag.StringVar(&o.model, "model", "fake-model", "model identifier")
	flag.DurationVar(&o.runFor, "run", 10*time.Second, "how long to work before finishing")
	flag.DurationVar(&o.heartbeat, "heartbeat", 2*time.Second, "heartbeat interval")
	flag.StringVar(&o.outcome, "outcome", "complete", "how to finish: complete, fail, or hang (stop heartbeating)")
	flag.Float64Var(&o.costRate, "cost", 0.01, "cost accrued per heartbeat")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, client.New(o.addr), o); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, c *client.Client, o options) error {
	switch o.outcome {
	case "complete", "fail", "hang":
	default:
		return fmt.Errorf("unknown outcome %q", o.outcome)
	}

	host, _ := os.Hostname()
	req := api.RegisterRequest{
		Name:     o.name,
		Model:    o.model,
		Type:     "fake",
		Metadata: map[string]string{"hostname": host, "pid": fmt.Sprint(os.Getpid())},
	}

	// Retries reuse one key so a lost response can't register twice.
	key := uuid.NewString()
	var rec agent.Record
	var err error
	for attempt := 1; ; attempt++ {
		rec, err = c.RegisterWithKey(ctx, key, req)
		var apiErr *client.APIError
		if err == nil || errors.As(err, &apiErr) || attempt == registerAttempts {
			break
		}
		log.Printf("register attempt %d failed: %v", attempt, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
		}
	}
	if err != nil {
		return fmt.Errorf("failed to register: %w", err)
	}
	fmt.Fprintf(os.Stderr, "registered as %s\n", rec.ID)

	deadline := time.NewTimer(o.runFor)
	defer deadline.Stop()
	ticker := time.NewTicker(o.heartbeat)
	defer ticker.Stop()

	cost := rec.Cost
	for {
		select {
		case <-ctx.Done():
			// Interrupted: report the failure so the sweeper has nothing to do.
			_, err := c.Fail(context.Background(), rec.ID, "interrupted")
			return err
		case <-ticker.C:
			// Jitter so many fake agents don't report in lockstep.
			cost += o.costRate * (0.5 + rand.Float64())
			if _, err := c.Update(ctx, rec.ID, api.PatchRequest{Cost: &cost}); err != nil {
				if ctx.Err() != nil {
					continue
				}
				return fmt.Errorf("heartbeat: %w", err)
			}
			if _, err := c.Heartbeat(ctx, rec.ID); err != nil && ctx.Err() == nil {
				return fmt.Errorf("heartbeat: %w", err)
			}
		case <-deadline.C:
			return finish(ctx, c, rec.ID, o.outcome)
		}
	}
}

func finish(ctx context.Context, c *client.Client, id, outcome string) error {
	switch outcome {
	case "complete":
		_, err := c.Complete(ctx, id)
		if err == nil {
			log.Printf("%s completed", id)
		}
		return err
	case "fail":
		_, err := c.Fail(ctx, id, "simulated failure")
		if err == nil {
			log.Printf("%s failed", id)
		}
		return err
	default:
		// Go silent and wait to be reaped by the cleanup sweep.
		log.Printf("%s hanging until interrupted", id)
		<-ctx.Done()
		return nil
	}
}
