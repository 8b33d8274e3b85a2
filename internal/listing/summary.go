// ABOUTME: Aggregate counts over a set of agent records.
// ABOUTME: Orphaned records are counted apart from other failures.

package listing

import "github.com/2389/coven-registry/internal/agent"

// Summary counts records by display status.
type Summary struct {
	Total     int     `json:"total"`
	Running   int     `json:"running"`
	Completed int     `json:"completed"`
	Failed    int     `json:"failed"`
	Orphaned  int     `json:"orphaned"`
	TotalCost float64 `json:"total_cost"`
}

// Summarize counts records by display status and totals their cost.
func Summarize(records []agent.Record) Summary {
	var s Summary
	for _, r := range records {
		s.Total++
		s.TotalCost += r.Cost
		switch {
		case r.Orphaned():
			s.Orphaned++
		case r.Status == agent.StatusRunning:
			s.Running++
		case r.Status == agent.StatusCompleted:
			s.Completed++
		case r.Status == agent.StatusFailed:
			s.Failed++
		}
	}
	return s
}
