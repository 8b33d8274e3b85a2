// Package store persists the registry's audit trail using SQLite.
//
// # Architecture
//
// The live agent table stays in memory inside agent.Registry. This package
// keeps a durable history next to it:
//
//   - AuditStore: append and query audit entries
//   - SQLiteStore: AuditStore backed by modernc.org/sqlite (pure Go, no cgo)
//   - MockStore: in-memory AuditStore for tests
//   - Recorder: agent.Observer and orphan.SweepObserver that queues entries
//     and writes them from one goroutine
//
// # Recorder
//
// Registry observers run with the registry lock held, so the Recorder never
// touches the database on the caller's goroutine. Entries go into a bounded
// buffer; when the buffer is full the entry is dropped and counted.
//
// Recorded actions:
//
//   - registered: a new agent, with name, model, and type as detail
//   - transitioned: running to completed or failed, with reason and cost
//   - removed, reset: explicit deletions
//   - sweep: a cleanup pass that orphaned agents or saw hook failures
//
// Heartbeats and other updates that leave the status alone are not recorded.
//
// # Ordering
//
// ListAuditLog returns newest entries first. Entries sharing a timestamp come
// back in reverse append order.
package store
