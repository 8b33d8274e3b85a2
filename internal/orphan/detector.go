// ABOUTME: Pure orphan detection over a snapshot of agent records.
// ABOUTME: A running agent idle for longer than the timeout is an orphan.

package orphan

import (
	"time"

	"github.com/2389/coven-registry/internal/agent"
)

// DefaultTimeout is how long a running agent may go without activity.
const DefaultTimeout = 30 * time.Minute

// FindOrphaned returns the running records whose lastActivity is more than
// timeout before now, preserving input order. A non-positive timeout means
// DefaultTimeout. The input is not modified.
func FindOrphaned(records []agent.Record, now time.Time, timeout time.Duration) []agent.Record {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	var orphans []agent.Record
	for _, rec := range records {
		if rec.Status != agent.StatusRunning {
			continue
		}
		if now.Sub(rec.LastActivity) > timeout {
			orphans = append(orphans, rec)
		}
	}
	return orphans
}
