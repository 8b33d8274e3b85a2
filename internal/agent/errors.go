// ABOUTME: Sentinel errors returned by the registry.
// ABOUTME: Callers match them with errors.Is; messages carry the offending id or field.

package agent

import "errors"

var (
	// ErrValidation indicates missing or malformed registration or patch fields.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound indicates the requested agent is not registered.
	ErrNotFound = errors.New("agent not found")

	// ErrInvalidTransition indicates a status change the state machine forbids,
	// or any mutation of a record already in a terminal state.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrStaleSnapshot indicates a patch precondition on lastActivity no longer holds.
	ErrStaleSnapshot = errors.New("agent changed since snapshot")
)
