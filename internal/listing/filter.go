// ABOUTME: Parses status, model, and since flags into an agent.Filter.
// ABOUTME: Since accepts Go durations plus a "d" day suffix.

package listing

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/2389/coven-registry/internal/agent"
)

// ParseFilter builds a Filter from raw flag values. Empty strings match everything.
func ParseFilter(status, model, since string) (agent.Filter, error) {
	var f agent.Filter

	if status = strings.ToLower(strings.TrimSpace(status)); status != "" {
		if status != agent.DisplayOrphaned {
			if _, err := agent.ParseStatus(status); err != nil {
				return agent.Filter{}, err
			}
		}
		f.Status = status
	}

	f.Model = strings.TrimSpace(model)

	if since = strings.TrimSpace(since); since != "" {
		d, err := ParseSince(since)
		if err != nil {
			return agent.Filter{}, err
		}
		f.Since = d
	}
	return f, nil
}

// maxSinceDays keeps the day count inside time.Duration's range.
const maxSinceDays = float64(math.MaxInt64) / float64(24*time.Hour)

// ParseSince parses a positive relative window such as "30m", "2h", or "7d".
func ParseSince(s string) (time.Duration, error) {
	var d time.Duration
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.ParseFloat(days, 64)
		if err != nil || math.IsNaN(n) || math.Abs(n) >= maxSinceDays {
			return 0, fmt.Errorf("%w: invalid since %q", agent.ErrValidation, s)
		}
		d = time.Duration(n * float64(24*time.Hour))
	} else {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("%w: invalid since %q", agent.ErrValidation, s)
		}
		d = parsed
	}
	if d <= 0 {
		return 0, fmt.Errorf("%w: since must be positive, got %q", agent.ErrValidation, s)
	}
	return d, nil
}

// FilterAgents returns the records in rs that match f at now, preserving order.
func FilterAgents(rs []agent.Record, f agent.Filter, now time.Time) []agent.Record {
	out := make([]agent.Record, 0, len(rs))
	for _, r := range rs {
		if f.Matches(r, now) {
			out = append(out, r)
		}
	}
	return out
}
