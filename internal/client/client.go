// ABOUTME: HTTP client for the registry API used by the CLI and fake-agent.
// ABOUTME: Maps error responses back onto the registry's sentinel errors.

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/2389/coven-registry/internal/agent"
	"github.com/2389/coven-registry/internal/api"
	"github.com/2389/coven-registry/internal/listing"
	"github.com/2389/coven-registry/internal/orphan"
	"github.com/2389/coven-registry/internal/store"
)

// DefaultTimeout bounds each request when no http.Client is supplied.
const DefaultTimeout = 15 * time.Second

// APIError is a non-2xx response from the registry.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("registry returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("registry returned status %d: %s", e.StatusCode, e.Message)
}

// Unwrap exposes the registry sentinel matching the response, so callers can
// use errors.Is(err, agent.ErrNotFound) and friends.
func (e *APIError) Unwrap() error {
	if sentinel := api.SentinelForCode(e.Code); sentinel != nil {
		return sentinel
	}
	switch e.StatusCode {
	case http.StatusBadRequest:
		return agent.ErrValidation
	case http.StatusNotFound:
		return agent.ErrNotFound
	case http.StatusConflict:
		return agent.ErrInvalidTransition
	default:
		return nil
	}
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// Client talks to one registry server.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a Client for baseURL. A bare host:port gets an http:// scheme.
func New(baseURL string, opts ...Option) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the normalized server URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ListOptions filters List and Summary. Empty fields match everything.
type ListOptions struct {
	Status string
	Model  string
	Since  string
}

func (o ListOptions) query() url.Values {
	q := url.Values{}
	if o.Status != "" {
		q.Set("status", o.Status)
	}
	if o.Model != "" {
		q.Set("model", o.Model)
	}
	if o.Since != "" {
		q.Set("since", o.Since)
	}
	return q
}

// AuditOptions filters Audit.
type AuditOptions struct {
	AgentID string
	Action  string
	Since   string
	Limit   int
}

// Register creates an agent and returns its record.
func (c *Client) Register(ctx context.Context, req api.RegisterRequest) (agent.Record, error) {
	return c.RegisterWithKey(ctx, "", req)
}

// RegisterWithKey registers with an idempotency key, so retrying after a lost
// response returns the agent the first attempt created.
func (c *Client) RegisterWithKey(ctx context.Context, key string, req api.RegisterRequest) (agent.Record, error) {
	var hdr http.Header
	if key != "" {
		hdr = http.Header{api.IdempotencyKeyHeader: []string{key}}
	}
	var rec agent.Record
	err := c.doJSONHeader(ctx, http.MethodPost, "/api/agents", nil, req, hdr, &rec)
	return rec, err
}

// Get fetches one agent.
func (c *Client) Get(ctx context.Context, id string) (agent.Record, error) {
	var rec agent.Record
	err := c.doJSON(ctx, http.MethodGet, agentPath(id), nil, nil, &rec)
	return rec, err
}

// List returns the agents matching opts.
func (c *Client) List(ctx context.Context, opts ListOptions) ([]agent.Record, error) {
	q := opts.query()
	q.Set("format", string(listing.FormatJSON))

	resp, err := c.do(ctx, http.MethodGet, "/api/agents", q, nil, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return listing.ParseJSON(resp.Body)
}

// ListTable returns the server-rendered table for the agents matching opts.
func (c *Client) ListTable(ctx context.Context, opts ListOptions) (string, error) {
	q := opts.query()
	q.Set("format", string(listing.FormatTable))

	resp, err := c.do(ctx, http.MethodGet, "/api/agents", q, nil, nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading table: %w", err)
	}
	return string(body), nil
}

// Update applies a partial update.
func (c *Client) Update(ctx context.Context, id string, req api.PatchRequest) (agent.Record, error) {
	var rec agent.Record
	err := c.doJSON(ctx, http.MethodPatch, agentPath(id), nil, req, &rec)
	return rec, err
}

// Complete marks the agent completed.
func (c *Client) Complete(ctx context.Context, id string) (agent.Record, error) {
	status := string(agent.StatusCompleted)
	return c.Update(ctx, id, api.PatchRequest{Status: &status})
}

// Fail marks the agent failed with reason.
func (c *Client) Fail(ctx context.Context, id, reason string) (agent.Record, error) {
	status := string(agent.StatusFailed)
	return c.Update(ctx, id, api.PatchRequest{Status: &status, Reason: reason})
}

// Heartbeat refreshes the agent's last activity.
func (c *Client) Heartbeat(ctx context.Context, id string) (agent.Record, error) {
	var rec agent.Record
	err := c.doJSON(ctx, http.MethodPost, agentPath(id)+"/heartbeat", nil, nil, &rec)
	return rec, err
}

// Remove deletes the agent.
func (c *Client) Remove(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, agentPath(id), nil, nil, nil)
}

// Sweep runs one cleanup sweep on the server and waits for it.
func (c *Client) Sweep(ctx context.Context) (orphan.SweepResult, error) {
	var res orphan.SweepResult
	err := c.doJSON(ctx, http.MethodPost, "/api/cleanup/sweep", nil, nil, &res)
	return res, err
}

// Cleanup returns the sweeper state.
func (c *Client) Cleanup(ctx context.Context) (api.CleanupState, error) {
	return c.cleanupCall(ctx, http.MethodGet, "/api/cleanup")
}

// StartCleanup starts the periodic sweep. Starting a running sweeper is not an error.
func (c *Client) StartCleanup(ctx context.Context) (api.CleanupState, error) {
	return c.cleanupCall(ctx, http.MethodPost, "/api/cleanup/start")
}

// StopCleanup stops the periodic sweep.
func (c *Client) StopCleanup(ctx context.Context) (api.CleanupState, error) {
	return c.cleanupCall(ctx, http.MethodPost, "/api/cleanup/stop")
}

// ResetCleanup stops the periodic sweep and clears its history.
func (c *Client) ResetCleanup(ctx context.Context) (api.CleanupState, error) {
	return c.cleanupCall(ctx, http.MethodPost, "/api/cleanup/reset")
}

func (c *Client) cleanupCall(ctx context.Context, method, path string) (api.CleanupState, error) {
	var state api.CleanupState
	err := c.doJSON(ctx, method, path, nil, nil, &state)
	return state, err
}

// Summary returns aggregate counts for the agents matching opts.
func (c *Client) Summary(ctx context.Context, opts ListOptions) (listing.Summary, error) {
	var sum listing.Summary
	err := c.doJSON(ctx, http.MethodGet, "/api/summary", opts.query(), nil, &sum)
	return sum, err
}

// Audit returns audit entries, newest first.
func (c *Client) Audit(ctx context.Context, opts AuditOptions) ([]store.AuditEntry, error) {
	q := url.Values{}
	if opts.AgentID != "" {
		q.Set("agent_id", opts.AgentID)
	}
	if opts.Action != "" {
		q.Set("action", opts.Action)
	}
	if opts.Since != "" {
		q.Set("since", opts.Since)
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}

	var entries []store.AuditEntry
	err := c.doJSON(ctx, http.MethodGet, "/api/audit", q, nil, &entries)
	return entries, err
}

// Health returns nil if the server answers its liveness probe.
func (c *Client) Health(ctx context.Context) error {
	return c.probe(ctx, "/health")
}

// Ready returns nil if the server reports ready.
func (c *Client) Ready(ctx context.Context) error {
	return c.probe(ctx, "/health/ready")
}

func (c *Client) probe(ctx context.Context, path string) error {
	resp, err := c.do(ctx, http.MethodGet, path, nil, nil, nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func agentPath(id string) string {
	return "/api/agents/" + url.PathEscape(id)
}

// doJSON sends body as JSON and decodes the response into out when out is non-nil.
func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, body, out any) error {
	return c.doJSONHeader(ctx, method, path, query, body, nil, out)
}

func (c *Client) doJSONHeader(ctx context.Context, method, path string, query url.Values, body any, hdr http.Header, out any) error {
	resp, err := c.do(ctx, method, path, query, body, hdr)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s %s response: %w", method, path, err)
	}
	return nil
}

// do sends the request and returns the response for 2xx statuses. Other
// statuses are returned as *APIError with the body consumed.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, hdr http.Header) (*http.Response, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	for k, vs := range hdr {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}

	defer resp.Body.Close()
	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return nil, decodeError(resp.StatusCode, payload)
}

func decodeError(status int, payload []byte) error {
	apiErr := &APIError{StatusCode: status}
	var body api.ErrorResponse
	if err := json.Unmarshal(payload, &body); err == nil && body.Error != "" {
		apiErr.Code = body.Code
		apiErr.Message = body.Error
		return apiErr
	}
	apiErr.Message = strings.TrimSpace(string(payload))
	return apiErr
}
