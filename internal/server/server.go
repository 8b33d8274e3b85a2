// ABOUTME: Registry server that wires the registry, sweeper, audit log, and metrics together
// ABOUTME: Runs the HTTP API and gRPC health service under one errgroup with graceful shutdown

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"k8s.io/utils/clock"

	"github.com/2389/coven-registry/internal/agent"
	"github.com/2389/coven-registry/internal/config"
	"github.com/2389/coven-registry/internal/dedupe"
	"github.com/2389/coven-registry/internal/metrics"
	"github.com/2389/coven-registry/internal/orphan"
	"github.com/2389/coven-registry/internal/store"
)

// CleanupService is the gRPC health service name that tracks the sweeper.
const CleanupService = "coven.registry.Cleanup"

const shutdownTimeout = 5 * time.Second

// Option configures a Server.
type Option func(*Server)

// WithClock sets the clock shared by the registry and sweeper.
func WithClock(c clock.WithTicker) Option {
	return func(s *Server) { s.clock = c }
}

// WithAuditStore uses st instead of opening database.path.
func WithAuditStore(st store.AuditStore) Option {
	return func(s *Server) { s.audit = st }
}

// WithTerminator replaces the hooks built from cleanup.terminator.
func WithTerminator(t orphan.Terminator) Option {
	return func(s *Server) { s.terminator = t }
}

// Server owns one registry and everything that serves or observes it.
type Server struct {
	config     *config.Config
	clock      clock.WithTicker
	registry   *agent.Registry
	sweeper    *orphan.Sweeper
	idem       *dedupe.Cache
	terminator orphan.Terminator
	audit      store.AuditStore
	recorder   *store.Recorder
	metrics    *metrics.Metrics
	health     *health.Server
	grpcServer *grpc.Server
	httpServer *http.Server
	logger     *slog.Logger

	mu      sync.Mutex
	baseCtx context.Context // parent for sweeper loops started over the API

	shutdownOnce sync.Once
	shutdownErr  error
}

// New creates a Server from configuration. Nothing listens until Run.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Server, error) {
	s := &Server{
		config:  cfg,
		clock:   clock.RealClock{},
		logger:  logger.With("component", "server"),
		baseCtx: context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.audit == nil && cfg.Database.Path != "" {
		sqlStore, err := store.NewSQLiteStore(cfg.Database.Path)
		if err != nil {
			return nil, fmt.Errorf("opening audit store: %w", err)
		}
		s.audit = sqlStore
	}

	var agentObservers []agent.Observer
	var sweepObservers []orphan.SweepObserver

	if s.audit != nil {
		s.recorder = store.NewRecorder(s.audit, store.WithRecorderLogger(logger))
		agentObservers = append(agentObservers, s.recorder)
		sweepObservers = append(sweepObservers, s.recorder)
	}
	if cfg.Metrics.Enabled {
		s.metrics = metrics.New()
		agentObservers = append(agentObservers, s.metrics)
		sweepObservers = append(sweepObservers, s.metrics)
	}

	regOpts := []agent.Option{agent.WithClock(s.clock), agent.WithLogger(logger)}
	for _, o := range agentObservers {
		regOpts = append(regOpts, agent.WithObserver(o))
	}
	s.registry = agent.NewRegistry(regOpts...)
	s.idem = dedupe.New(dedupe.DefaultTTL, dedupe.DefaultMaxSize, dedupe.WithClock(s.clock))

	if s.metrics != nil {
		if err := s.metrics.WatchAgents(s.registry); err != nil {
			return nil, fmt.Errorf("registering agent collector: %w", err)
		}
	}

	if s.terminator == nil {
		s.terminator = buildTerminator(cfg.Cleanup.Terminator)
	}
	sweepOpts := []orphan.SweeperOption{orphan.WithClock(s.clock), orphan.WithLogger(logger)}
	if s.terminator != nil {
		sweepOpts = append(sweepOpts, orphan.WithTerminator(s.terminator))
	}
	for _, o := range sweepObservers {
		sweepOpts = append(sweepOpts, orphan.WithObserver(o))
	}
	s.sweeper = orphan.NewSweeper(s.registry, orphan.SweeperConfig{
		Timeout:     cfg.Cleanup.OrphanTimeout,
		Interval:    cfg.Cleanup.SweepInterval,
		HookTimeout: cfg.Cleanup.HookTimeout,
	}, sweepOpts...)

	s.health = health.NewServer()
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(CleanupService, healthpb.HealthCheckResponse_NOT_SERVING)
	if cfg.Server.GRPCAddr != "" {
		s.grpcServer = grpc.NewServer()
		healthpb.RegisterHealthServer(s.grpcServer, s.health)
	}

	s.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s, nil
}

// buildTerminator turns cleanup.terminator into hooks. Returns nil when none are configured.
func buildTerminator(cfg config.TerminatorConfig) orphan.Terminator {
	var hooks orphan.MultiTerminator
	if len(cfg.Command) > 0 {
		hooks = append(hooks, orphan.CommandTerminator{Command: cfg.Command})
	}
	if cfg.WebhookURL != "" {
		hooks = append(hooks, orphan.WebhookTerminator{URL: cfg.WebhookURL})
	}
	switch len(hooks) {
	case 0:
		return nil
	case 1:
		return hooks[0]
	default:
		return hooks
	}
}

// Registry returns the server's agent registry.
func (s *Server) Registry() *agent.Registry { return s.registry }

// Sweeper returns the server's cleanup sweeper.
func (s *Server) Sweeper() *orphan.Sweeper { return s.sweeper }

// Handler returns the HTTP API handler.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// setupListeners creates TCP listeners for HTTP and, when configured, gRPC.
func (s *Server) setupListeners() (httpLn, grpcLn net.Listener, err error) {
	s.logger.Info("starting registry",
		"http_addr", s.config.Server.HTTPAddr,
		"grpc_addr", s.config.Server.GRPCAddr,
	)

	httpLn, err = net.Listen("tcp", s.config.Server.HTTPAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("listening on HTTP address: %w", err)
	}

	if s.grpcServer != nil {
		grpcLn, err = net.Listen("tcp", s.config.Server.GRPCAddr)
		if err != nil {
			_ = httpLn.Close()
			return nil, nil, fmt.Errorf("listening on gRPC address: %w", err)
		}
	}

	return httpLn, grpcLn, nil
}

// Run listens on the configured addresses and serves until ctx is canceled.
// Returns nil on graceful shutdown, or the first server error.
func (s *Server) Run(ctx context.Context) error {
	httpLn, grpcLn, err := s.setupListeners()
	if err != nil {
		return err
	}
	return s.Serve(ctx, httpLn, grpcLn)
}

// Serve runs on existing listeners. grpcLn may be nil.
func (s *Server) Serve(ctx context.Context, httpLn, grpcLn net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	s.mu.Lock()
	s.baseCtx = gctx
	s.mu.Unlock()

	if s.config.Cleanup.Enabled {
		if err := s.startCleanup(); err != nil {
			_ = httpLn.Close()
			if grpcLn != nil {
				_ = grpcLn.Close()
			}
			return err
		}
	}

	g.Go(func() error {
		s.logger.Info("HTTP server listening", "addr", httpLn.Addr().String())
		if err := s.httpServer.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})

	if grpcLn != nil && s.grpcServer != nil {
		g.Go(func() error {
			s.logger.Info("gRPC health server listening", "addr", grpcLn.Addr().String())
			if err := s.grpcServer.Serve(grpcLn); err != nil {
				return fmt.Errorf("gRPC server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		if ctx.Err() != nil {
			s.logger.Info("context canceled, initiating shutdown")
		}
		return s.gracefulShutdown()
	})

	return g.Wait()
}

// startCleanup starts the sweeper loop under the serving context.
func (s *Server) startCleanup() error {
	s.mu.Lock()
	ctx := s.baseCtx
	s.mu.Unlock()

	if err := s.sweeper.Start(ctx); err != nil {
		return err
	}
	s.health.SetServingStatus(CleanupService, healthpb.HealthCheckResponse_SERVING)
	return nil
}

// stopCleanup stops the sweeper loop.
func (s *Server) stopCleanup() {
	s.sweeper.Stop()
	s.health.SetServingStatus(CleanupService, healthpb.HealthCheckResponse_NOT_SERVING)
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() since the serving context is already canceled.
func (s *Server) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.Shutdown(ctx)
}

// shutdownGRPCServer gracefully stops the gRPC server or force-stops on context cancel.
func (s *Server) shutdownGRPCServer(ctx context.Context) {
	stopped := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		s.grpcServer.Stop()
	}
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops the sweeper and servers, flushes the audit recorder, and
// closes the audit store. Later calls return the first call's result.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		s.logger.Info("shutting down registry")

		s.stopCleanup()
		s.health.Shutdown()
		s.idem.Close()

		var errs []error
		errs = appendCloseError(errs, "HTTP shutdown", s.httpServer.Shutdown(ctx))

		if s.grpcServer != nil {
			s.shutdownGRPCServer(ctx)
		}

		if s.recorder != nil {
			errs = appendCloseError(errs, "audit recorder close", s.recorder.Close())
		}
		if s.audit != nil {
			errs = appendCloseError(errs, "audit store close", s.audit.Close())
		}

		s.shutdownErr = errors.Join(errs...)
	})
	return s.shutdownErr
}
