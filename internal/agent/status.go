// ABOUTME: Agent lifecycle states and the table of legal transitions between them.
// ABOUTME: Terminal states have no outgoing edges; orphaning is failed with a reason.

package agent

import (
	"fmt"
	"strings"
)

// Status is the lifecycle state of a tracked agent.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// ReasonOrphaned marks a failed record that the cleanup sweep declared abandoned.
const ReasonOrphaned = "orphaned"

// DisplayOrphaned is the display status and filter value for orphaned records.
const DisplayOrphaned = "orphaned"

var transitions = map[Status]map[Status]bool{
	StatusRunning: {
		StatusCompleted: true,
		StatusFailed:    true,
	},
}

// CanTransition reports whether a record in from may move to to.
// running -> running is accepted as a no-op; terminal states accept nothing.
func CanTransition(from, to Status) bool {
	if from.Terminal() {
		return false
	}
	if from == to {
		return from.Valid()
	}
	return transitions[from][to]
}

// Terminal reports whether s has no outgoing transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is one of the known states.
func (s Status) Valid() bool {
	switch s {
	case StatusRunning, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

func (s Status) String() string {
	return string(s)
}

// ParseStatus converts user input into a Status.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("%w: unknown status %q", ErrValidation, s)
	}
	return st, nil
}
