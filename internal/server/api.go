// ABOUTME: HTTP API handlers for registering, updating, listing, and sweeping agents
// ABOUTME: Registry errors map onto 400, 404, and 409 with a JSON error body

package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/2389/coven-registry/internal/agent"
	"github.com/2389/coven-registry/internal/api"
	"github.com/2389/coven-registry/internal/listing"
	"github.com/2389/coven-registry/internal/orphan"
	"github.com/2389/coven-registry/internal/store"
)

const maxBodyBytes = 1 << 20

// routes builds the HTTP mux.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	// Health endpoints
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /health/ready", s.handleReady)

	mux.HandleFunc("GET /api/agents", s.handleListAgents)
	mux.HandleFunc("POST /api/agents", s.handleRegisterAgent)
	mux.HandleFunc("GET /api/agents/{id}", s.handleGetAgent)
	mux.HandleFunc("PATCH /api/agents/{id}", s.handleUpdateAgent)
	mux.HandleFunc("DELETE /api/agents/{id}", s.handleRemoveAgent)
	mux.HandleFunc("POST /api/agents/{id}/heartbeat", s.handleHeartbeat)

	mux.HandleFunc("GET /api/cleanup", s.handleCleanupState)
	mux.HandleFunc("POST /api/cleanup/sweep", s.handleSweep)
	mux.HandleFunc("POST /api/cleanup/start", s.handleCleanupStart)
	mux.HandleFunc("POST /api/cleanup/stop", s.handleCleanupStop)
	mux.HandleFunc("POST /api/cleanup/reset", s.handleCleanupReset)

	mux.HandleFunc("GET /api/summary", s.handleSummary)
	mux.HandleFunc("GET /api/audit", s.handleAudit)

	if s.metrics != nil {
		mux.Handle("GET "+s.config.Metrics.Path, s.metrics.Handler())
	}

	return mux
}

// handleHealth returns 200 OK if the server is alive.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK once the sweeper is running, or always when
// cleanup is disabled.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.config.Cleanup.Enabled && !s.sweeper.Running() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("cleanup not running"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d agents)", s.registry.Len())
}

// handleListAgents handles GET /api/agents?status=&model=&since=&format=.
func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter, err := listing.ParseFilter(q.Get("status"), q.Get("model"), q.Get("since"))
	if err != nil {
		s.sendAgentError(w, err)
		return
	}
	format, err := listing.ParseFormat(q.Get("format"))
	if err != nil {
		s.sendAgentError(w, err)
		return
	}
	// The API defaults to JSON; table output is opt-in.
	if q.Get("format") == "" {
		format = listing.FormatJSON
	}

	records := s.registry.List(filter)

	if format == listing.FormatTable {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_ = listing.RenderTable(w, records, s.clock.Now())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = listing.RenderJSON(w, records)
}

// handleRegisterAgent handles POST /api/agents. A request carrying an
// Idempotency-Key that was already used returns the agent it created with 200.
func (s *Server) handleRegisterAgent(w http.ResponseWriter, r *http.Request) {
	var req api.RegisterRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	reg, err := req.Registration()
	if err != nil {
		s.sendAgentError(w, err)
		return
	}

	create := func() (string, error) { return s.registry.Register(reg) }

	var id string
	replayed := false
	if key := r.Header.Get(api.IdempotencyKeyHeader); key != "" {
		id, replayed, err = s.idem.Claim(key, create)
		if err == nil && replayed {
			if _, ok := s.registry.Get(id); !ok {
				// The first agent was removed since; register afresh.
				s.idem.Forget(key)
				id, replayed, err = s.idem.Claim(key, create)
			}
		}
	} else {
		id, err = create()
	}
	if err != nil {
		s.sendAgentError(w, err)
		return
	}

	rec, ok := s.registry.Get(id)
	if !ok {
		// Removed between Register and Get.
		s.sendAgentError(w, fmt.Errorf("%w: %s", agent.ErrNotFound, id))
		return
	}
	w.Header().Set("Location", "/api/agents/"+id)
	if replayed {
		s.sendJSON(w, http.StatusOK, rec)
		return
	}
	s.sendJSON(w, http.StatusCreated, rec)
}

// handleGetAgent handles GET /api/agents/{id}.
func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.registry.Get(r.PathValue("id"))
	if !ok {
		s.sendAgentError(w, fmt.Errorf("%w: %s", agent.ErrNotFound, r.PathValue("id")))
		return
	}
	s.sendJSON(w, http.StatusOK, rec)
}

// handleUpdateAgent handles PATCH /api/agents/{id}.
func (s *Server) handleUpdateAgent(w http.ResponseWriter, r *http.Request) {
	var req api.PatchRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	patch, err := req.Patch()
	if err != nil {
		s.sendAgentError(w, err)
		return
	}

	rec, err := s.registry.Update(r.PathValue("id"), patch)
	if err != nil {
		s.sendAgentError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, rec)
}

// handleHeartbeat handles POST /api/agents/{id}/heartbeat.
func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	rec, err := s.registry.Heartbeat(r.PathValue("id"))
	if err != nil {
		s.sendAgentError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, rec)
}

// handleRemoveAgent handles DELETE /api/agents/{id}.
func (s *Server) handleRemoveAgent(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.Remove(r.PathValue("id")); err != nil {
		s.sendAgentError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleCleanupState handles GET /api/cleanup.
func (s *Server) handleCleanupState(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, s.cleanupState())
}

func (s *Server) cleanupState() api.CleanupState {
	cfg := s.sweeper.Config()
	state := api.CleanupState{
		Enabled:     s.config.Cleanup.Enabled,
		Running:     s.sweeper.Running(),
		Timeout:     cfg.Timeout.String(),
		Interval:    cfg.Interval.String(),
		HookTimeout: cfg.HookTimeout.String(),
		Stats:       s.sweeper.Stats(),
	}
	if last, ok := s.sweeper.LastResult(); ok {
		state.LastResult = &last
	}
	return state
}

// handleSweep handles POST /api/cleanup/sweep. The sweep runs synchronously.
func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	res := s.sweeper.SweepOnce(r.Context())
	s.sendJSON(w, http.StatusOK, res)
}

// handleCleanupStart handles POST /api/cleanup/start.
func (s *Server) handleCleanupStart(w http.ResponseWriter, r *http.Request) {
	if err := s.startCleanup(); err != nil && !errors.Is(err, orphan.ErrSweeperRunning) {
		s.logger.Error("starting sweeper", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.sendJSON(w, http.StatusOK, s.cleanupState())
}

// handleCleanupStop handles POST /api/cleanup/stop.
func (s *Server) handleCleanupStop(w http.ResponseWriter, r *http.Request) {
	s.stopCleanup()
	s.sendJSON(w, http.StatusOK, s.cleanupState())
}

// handleCleanupReset handles POST /api/cleanup/reset: stops the loop and
// clears sweep history. Agents are untouched.
func (s *Server) handleCleanupReset(w http.ResponseWriter, r *http.Request) {
	s.stopCleanup()
	s.sweeper.Reset()
	s.sendJSON(w, http.StatusOK, s.cleanupState())
}

// handleSummary handles GET /api/summary with the same filters as listing.
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter, err := listing.ParseFilter(q.Get("status"), q.Get("model"), q.Get("since"))
	if err != nil {
		s.sendAgentError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, listing.Summarize(s.registry.List(filter)))
}

// handleAudit handles GET /api/audit?agent_id=&action=&since=&limit=.
func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		s.sendJSONError(w, http.StatusNotFound, "audit log not configured")
		return
	}

	q := r.URL.Query()
	var f store.AuditFilter

	if id := q.Get("agent_id"); id != "" {
		f.AgentID = &id
	}
	if raw := q.Get("action"); raw != "" {
		action := store.AuditAction(raw)
		if !action.Valid() {
			s.sendJSONError(w, http.StatusBadRequest, fmt.Sprintf("unknown audit action %q", raw))
			return
		}
		f.Action = &action
	}
	if raw := q.Get("since"); raw != "" {
		d, err := listing.ParseSince(raw)
		if err != nil {
			s.sendAgentError(w, err)
			return
		}
		since := s.clock.Now().Add(-d)
		f.Since = &since
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.sendJSONError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		f.Limit = n
	}

	entries, err := s.audit.ListAuditLog(r.Context(), f)
	if err != nil {
		s.logger.Error("failed to list audit log", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.sendJSON(w, http.StatusOK, entries)
}

// decodeJSON reads a bounded JSON body into v, rejecting unknown fields.
// It writes a 400 and returns false on failure.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		s.sendAgentError(w, fmt.Errorf("%w: invalid JSON body: %v", agent.ErrValidation, err))
		return false
	}
	return true
}

// statusForError maps registry errors onto HTTP statuses.
func statusForError(err error) int {
	switch api.ErrorCode(err) {
	case api.CodeValidation:
		return http.StatusBadRequest
	case api.CodeNotFound:
		return http.StatusNotFound
	case api.CodeInvalidTransition, api.CodeStaleSnapshot:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// sendAgentError writes the response for a registry error.
func (s *Server) sendAgentError(w http.ResponseWriter, err error) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("registry operation failed", "error", err)
		s.sendJSONError(w, status, "internal server error")
		return
	}
	s.sendJSON(w, status, api.ErrorResponse{Error: err.Error(), Code: api.ErrorCode(err)})
}

// sendJSON writes v as a JSON response.
func (s *Server) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("writing response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (s *Server) sendJSONError(w http.ResponseWriter, status int, message string) {
	s.sendJSON(w, status, api.ErrorResponse{Error: message})
}
