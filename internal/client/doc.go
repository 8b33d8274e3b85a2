// Package client is the Go client for the registry's HTTP API.
//
// Errors from the server come back as *APIError, which unwraps to the
// registry sentinels:
//
//	rec, err := c.Get(ctx, id)
//	if errors.Is(err, agent.ErrNotFound) {
//		...
//	}
//
// A 409 unwraps to agent.ErrStaleSnapshot or agent.ErrInvalidTransition
// depending on the error code in the response body.
package client
