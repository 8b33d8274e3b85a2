// ABOUTME: JSON request and response bodies shared by the HTTP server and client.
// ABOUTME: Converts wire shapes into registry inputs, validating status names.

package api

import (
	"errors"
	"time"

	"github.com/2389/coven-registry/internal/agent"
	"github.com/2389/coven-registry/internal/orphan"
)

// IdempotencyKeyHeader makes POST /api/agents safe to retry: a repeated key
// returns the agent the first request created.
const IdempotencyKeyHeader = "Idempotency-Key"

// RegisterRequest is the JSON request body for POST /api/agents.
type RegisterRequest struct {
	Name         string            `json:"name"`
	Model        string            `json:"model"`
	Type         string            `json:"type,omitempty"`
	Status       string            `json:"status,omitempty"`
	StartTime    *time.Time        `json:"start_time,omitempty"`
	LastActivity *time.Time        `json:"last_activity,omitempty"`
	Cost         float64           `json:"cost,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Registration converts the request. An unknown status is a validation error.
func (r RegisterRequest) Registration() (agent.Registration, error) {
	reg := agent.Registration{
		Name:     r.Name,
		Model:    r.Model,
		Type:     r.Type,
		Cost:     r.Cost,
		Metadata: r.Metadata,
	}
	if r.Status != "" {
		st, err := agent.ParseStatus(r.Status)
		if err != nil {
			return agent.Registration{}, err
		}
		reg.Status = st
	}
	if r.StartTime != nil {
		reg.StartTime = *r.StartTime
	}
	if r.LastActivity != nil {
		reg.LastActivity = *r.LastActivity
	}
	return reg, nil
}

// PatchRequest is the JSON request body for PATCH /api/agents/{id}.
// Omitted fields are left untouched.
type PatchRequest struct {
	Status             *string           `json:"status,omitempty"`
	Reason             string            `json:"reason,omitempty"`
	Name               *string           `json:"name,omitempty"`
	Model              *string           `json:"model,omitempty"`
	Type               *string           `json:"type,omitempty"`
	LastActivity       *time.Time        `json:"last_activity,omitempty"`
	Cost               *float64          `json:"cost,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
	ExpectLastActivity *time.Time        `json:"expect_last_activity,omitempty"`
}

// Patch converts the request. An unknown status is a validation error.
func (p PatchRequest) Patch() (agent.Patch, error) {
	out := agent.Patch{
		Reason:             p.Reason,
		Name:               p.Name,
		Model:              p.Model,
		Type:               p.Type,
		LastActivity:       p.LastActivity,
		Cost:               p.Cost,
		Metadata:           p.Metadata,
		ExpectLastActivity: p.ExpectLastActivity,
	}
	if p.Status != nil {
		st, err := agent.ParseStatus(*p.Status)
		if err != nil {
			return agent.Patch{}, err
		}
		out.Status = &st
	}
	return out, nil
}

// CleanupState is the JSON response for GET /api/cleanup.
type CleanupState struct {
	Enabled     bool                `json:"enabled"`
	Running     bool                `json:"running"`
	Timeout     string              `json:"orphan_timeout"`
	Interval    string              `json:"sweep_interval"`
	HookTimeout string              `json:"hook_timeout"`
	Stats       orphan.Stats        `json:"stats"`
	LastResult  *orphan.SweepResult `json:"last_result,omitempty"`
}

// Error codes carried in ErrorResponse.Code for registry errors.
const (
	CodeValidation        = "validation"
	CodeNotFound          = "not_found"
	CodeInvalidTransition = "invalid_transition"
	CodeStaleSnapshot     = "stale_snapshot"
)

// ErrorResponse is the JSON body of every non-2xx API response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// ErrorCode names the registry sentinel err wraps, or "" for other errors.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, agent.ErrValidation):
		return CodeValidation
	case errors.Is(err, agent.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, agent.ErrInvalidTransition):
		return CodeInvalidTransition
	case errors.Is(err, agent.ErrStaleSnapshot):
		return CodeStaleSnapshot
	default:
		return ""
	}
}

// SentinelForCode reverses ErrorCode. Returns nil for unknown codes.
func SentinelForCode(code string) error {
	switch code {
	case CodeValidation:
		return agent.ErrValidation
	case CodeNotFound:
		return agent.ErrNotFound
	case CodeInvalidTransition:
		return agent.ErrInvalidTransition
	case CodeStaleSnapshot:
		return agent.ErrStaleSnapshot
	default:
		return nil
	}
}
