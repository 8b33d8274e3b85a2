// ABOUTME: Terminator hooks invoked once per orphan after its transition commits.
// ABOUTME: Provides func, command, webhook, and fan-out implementations.

package orphan

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"strings"

	"github.com/2389/coven-registry/internal/agent"
)

// Terminator reclaims whatever an orphaned agent left behind. Implementations
// must honor ctx; the sweeper abandons calls that outlive their timeout.
type Terminator interface {
	Terminate(ctx context.Context, agentID string) error
}

// TerminatorFunc adapts a function to Terminator.
type TerminatorFunc func(ctx context.Context, agentID string) error

func (f TerminatorFunc) Terminate(ctx context.Context, agentID string) error {
	return f(ctx, agentID)
}

// NopTerminator does nothing.
type NopTerminator struct{}

func (NopTerminator) Terminate(context.Context, string) error { return nil }

// CommandTerminator runs an external command for each orphan. Any argument
// containing "{id}" has it replaced with the agent id, and COVEN_AGENT_ID is
// set in the environment.
type CommandTerminator struct {
	Command []string
}

func (c CommandTerminator) Terminate(ctx context.Context, agentID string) error {
	if len(c.Command) == 0 {
		return errors.New("terminator command is empty")
	}

	args := make([]string, len(c.Command))
	for i, a := range c.Command {
		args[i] = strings.ReplaceAll(a, "{id}", agentID)
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Env = append(os.Environ(), "COVEN_AGENT_ID="+agentID)
	out, err := cmd.CombinedOutput()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("running %s: %w", args[0], ctxErr)
		}
		return fmt.Errorf("running %s: %w: %s", args[0], err, strings.TrimSpace(string(out)))
	}
	return nil
}

// WebhookTerminator POSTs a JSON notification for each orphan.
type WebhookTerminator struct {
	URL    string
	Client *http.Client
}

// webhookPayload is the JSON body sent by WebhookTerminator.
type webhookPayload struct {
	AgentID string `json:"agent_id"`
	Reason  string `json:"reason"`
}

func (w WebhookTerminator) Terminate(ctx context.Context, agentID string) error {
	body, err := json.Marshal(webhookPayload{AgentID: agentID, Reason: agent.ReasonOrphaned})
	if err != nil {
		return fmt.Errorf("marshaling webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := w.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("calling webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// MultiTerminator runs every terminator in order and joins their errors.
type MultiTerminator []Terminator

func (m MultiTerminator) Terminate(ctx context.Context, agentID string) error {
	var errs []error
	for _, t := range m {
		if err := t.Terminate(ctx, agentID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
