// Package agent tracks the lifecycle of coding agents.
//
// # Overview
//
// An agent is a long-running worker (build, test, review) that reports progress
// while it runs. The Registry keeps one Record per agent and is the only place
// those records are mutated:
//
//	reg := agent.NewRegistry(agent.WithLogger(logger))
//	id, err := reg.Register(agent.Registration{Name: "reviewer", Model: "claude-sonnet"})
//
// Key operations:
//
//   - Register(reg): validate and store a new record, returning its id
//   - Get(id): copy of one record
//   - List(filter): copies of matching records in registration order
//   - Update(id, patch): atomic, validated partial update
//   - MarkOrphaned(id, lastSeen): the cleanup sweep's conditional failure
//   - Heartbeat(id): advance lastActivity to now
//   - Remove(id), Reset(): drop one record or all of them
//
// # State Machine
//
//	running --> completed
//	running --> failed     (agent failure, or reason "orphaned" from cleanup)
//
// completed and failed are terminal. A terminal record is read-only: every
// Update or Heartbeat on it fails with ErrInvalidTransition.
//
// # Conditional Updates
//
// Patch.ExpectLastActivity turns an update into a compare-and-set on the
// record's lastActivity. The cleanup sweep evaluates a snapshot and commits with
// this precondition, so a heartbeat that lands in between makes the commit fail
// with ErrStaleSnapshot instead of killing a live agent.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Mutations are serialized by a single
// lock; readers never see a partially applied patch. Observers are notified
// while the lock is held, in commit order.
package agent
