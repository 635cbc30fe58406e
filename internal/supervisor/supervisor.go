// ABOUTME: Supervisor wires configuration into the agent fleet, event store and status HTTP server
// ABOUTME: Owns the top-level lifecycle: start agents, wait for a signal or server error, shut down in order

package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/2389/coven-voyage/internal/agent"
	"github.com/2389/coven-voyage/internal/clock"
	"github.com/2389/coven-voyage/internal/config"
	"github.com/2389/coven-voyage/internal/dedupe"
	"github.com/2389/coven-voyage/internal/store"
)

// httpShutdownTimeout bounds the status server's graceful shutdown.
const httpShutdownTimeout = 5 * time.Second

// Supervisor orchestrates the coven-voyage components.
// It manages the agent fleet, the session ledger and the status HTTP server.
type Supervisor struct {
	cfg        *config.Config
	store      store.Store
	manager    *agent.Manager
	httpServer *http.Server
	logger     *slog.Logger

	addrMu sync.Mutex
	addr   net.Addr

	shutdownOnce sync.Once
	shutdownErr  error
}

// New creates a Supervisor from cfg. It loads the skill library and opens
// the event store; agents are not created until Run.
func New(cfg *config.Config, logger *slog.Logger) (*Supervisor, error) {
	if logger == nil {
		logger = slog.Default()
	}

	skills, err := agent.LoadSkills(cfg.Skills.Dir)
	if err != nil {
		return nil, fmt.Errorf("loading skills: %w", err)
	}
	logger.Info("skill library loaded", "dir", cfg.Skills.Dir, "skills", len(skills))

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	var repeat *dedupe.Window
	if cfg.Database.DedupeWindow > 0 {
		repeat = dedupe.New(clock.Real(), cfg.Database.DedupeWindow, dedupe.DefaultMaxKeys)
	}
	rec := newStoreRecorder(st, repeat, logger)
	factory := newAgentFactory(cfg, skills, rec, logger)
	return assemble(cfg, st, rec, factory, logger), nil
}

// assemble builds the manager and status server around an already opened store.
func assemble(cfg *config.Config, st store.Store, rec agent.Recorder, factory agent.Factory, logger *slog.Logger) *Supervisor {
	s := &Supervisor{
		cfg:    cfg,
		store:  st,
		logger: logger.With("component", "supervisor"),
	}

	s.manager = agent.NewManager(agent.ManagerConfig{
		Count:        cfg.Agents.Count,
		BasePort:     cfg.Agents.BasePort,
		IDPrefix:     cfg.Agents.IDPrefix,
		CreateDelay:  cfg.Agents.CreateDelay,
		LaunchDelay:  cfg.Agents.LaunchDelay,
		RetryBackoff: cfg.Agents.RetryBackoff,
		JoinTimeout:  cfg.Agents.JoinTimeout,
	}, factory, rec, logger)

	if cfg.Status.HTTPAddr != "" {
		s.httpServer = &http.Server{
			Addr:              cfg.Status.HTTPAddr,
			Handler:           s.routes(),
			ReadHeaderTimeout: 10 * time.Second,
		}
	}
	return s
}

// Manager returns the agent manager.
func (s *Supervisor) Manager() *agent.Manager { return s.manager }

// Addr returns the status server's bound address, or nil before Run has
// started listening or when the status server is disabled.
func (s *Supervisor) Addr() net.Addr {
	s.addrMu.Lock()
	defer s.addrMu.Unlock()
	return s.addr
}

// Run starts the status server and the agents, then blocks until ctx is
// cancelled or the status server fails. Agents are always stopped before
// Run returns.
func (s *Supervisor) Run(ctx context.Context) error {
	var errCh chan error
	if s.httpServer != nil {
		ln, err := net.Listen("tcp", s.httpServer.Addr)
		if err != nil {
			if shutdownErr := s.gracefulShutdown(); shutdownErr != nil {
				s.logger.Warn("shutdown after listen failure", "error", shutdownErr)
			}
			return fmt.Errorf("listening on %s: %w", s.httpServer.Addr, err)
		}
		s.addrMu.Lock()
		s.addr = ln.Addr()
		s.addrMu.Unlock()
		errCh = s.startServer(ln)
	}

	if err := s.manager.Start(ctx); err != nil {
		s.logger.Error("failed to start agents", "error", err)
		if shutdownErr := s.gracefulShutdown(); shutdownErr != nil {
			s.logger.Warn("shutdown after start failure", "error", shutdownErr)
		}
		return err
	}

	serverErr := s.waitForShutdownSignal(ctx, errCh)
	shutdownErr := s.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

func (s *Supervisor) startServer(ln net.Listener) chan error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("status server listening", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("status server: %w", err)
		}
	}()
	return errCh
}

// waitForShutdownSignal blocks until ctx is done or the server fails. A nil
// errCh never fires.
func (s *Supervisor) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		s.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		s.logger.Error("server error", "error", err)
		return err
	}
}

// gracefulShutdown stops the agents before the HTTP shutdown budget starts.
func (s *Supervisor) gracefulShutdown() error {
	s.stopAgents()
	ctx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
	defer cancel()
	return s.Shutdown(ctx)
}

// Shutdown stops the agents, then the status server, then closes the store.
// Only the first call does any work; later calls return its result.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		s.shutdownErr = s.shutdown(ctx)
	})
	return s.shutdownErr
}

func (s *Supervisor) shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")

	s.stopAgents()

	var errs []error
	if s.httpServer != nil {
		errs = appendCloseError(errs, "status server", s.httpServer.Shutdown(ctx))
	}
	errs = appendCloseError(errs, "store", s.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	s.logger.Info("shutdown complete")
	return nil
}

// stopAgents is safe to repeat; only the manager's first Stop does work.
func (s *Supervisor) stopAgents() {
	if stuck := s.manager.Stop(); stuck > 0 {
		s.logger.Warn("some agent contexts did not stop in time", "stuck", stuck)
	}
}

func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}
