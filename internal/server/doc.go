// Package server runs the coven-registry process.
//
// # Overview
//
// A Server owns one agent.Registry and the components attached to it:
//
//   - orphan.Sweeper: periodic cleanup, also runnable over the API
//   - store.Recorder: audit trail in SQLite when database.path is set
//   - metrics.Metrics: Prometheus counters and live agent gauges
//   - gRPC health service: reports coven.registry.Cleanup as SERVING while the
//     sweeper loop runs
//
// # HTTP API
//
// Agents:
//
//	GET    /api/agents?status=&model=&since=&format=json|table
//	POST   /api/agents
//	GET    /api/agents/{id}
//	PATCH  /api/agents/{id}
//	DELETE /api/agents/{id}
//	POST   /api/agents/{id}/heartbeat
//
// Cleanup:
//
//	GET  /api/cleanup
//	POST /api/cleanup/sweep
//	POST /api/cleanup/start
//	POST /api/cleanup/stop
//	POST /api/cleanup/reset
//
// Reporting:
//
//	GET /api/summary
//	GET /api/audit?agent_id=&action=&since=&limit=
//
// Errors are JSON objects of the form {"error": "..."}. Validation failures
// return 400, unknown agents 404, and rejected transitions or stale
// conditional updates 409.
//
// # Lifecycle
//
// Run listens on server.http_addr and server.grpc_addr and blocks until the
// context is canceled or a listener fails. Shutdown stops the sweeper, drains
// both servers, flushes the audit recorder, and closes the store.
package server
