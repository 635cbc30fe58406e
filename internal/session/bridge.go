// ABOUTME: Session bridge: drives one worker over HTTP and enforces the reset/step state machine.
// ABOUTME: Check-and-recover relaunches a dead worker and re-issues /start before control calls.

package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-voyage/internal/clock"
)

// Defaults applied by New when the corresponding Config field is zero.
const (
	DefaultHost            = "http://127.0.0.1"
	DefaultUsername        = "bot"
	DefaultRequestTimeout  = 10 * time.Minute
	DefaultMaxStartRetries = 3
	DefaultStartRetryDelay = time.Second
	DefaultExitWait        = 5 * time.Second
	DefaultPollInterval    = 50 * time.Millisecond
)

// Event kinds reported through Config.OnEvent.
const (
	EventKindWorkerStarted     = "worker_started"
	EventKindWorkerStartFailed = "worker_start_failed"
	EventKindWorkerRestarted   = "worker_restarted"
	EventKindStartRejected     = "start_rejected"
	EventKindReset             = "reset"
	EventKindStepFailed        = "step_failed"
)

// Config configures a Bridge.
type Config struct {
	// Host is the worker's scheme and host, without port.
	Host string

	// Port is the worker's HTTP port.
	Port int

	// Username identifies the bot in the game world.
	Username string

	// GamePort is a fixed game endpoint. Ignored when a GameServer is supplied.
	GamePort int

	RequestTimeout time.Duration

	// MaxStartRetries bounds worker relaunches: at most 1+MaxStartRetries attempts.
	MaxStartRetries int
	StartRetryDelay time.Duration

	// ExitWait bounds how long Reset polls for the old worker to exit.
	ExitWait time.Duration

	// ExitSettle is an optional fixed delay after the worker has exited.
	ExitSettle time.Duration

	PollInterval time.Duration

	HTTPClient *http.Client
	Clock      clock.Clock

	// OnEvent, when set, receives lifecycle events for the session ledger.
	OnEvent func(kind, detail string)
}

// Bridge is one agent's session with its worker. Methods are safe for
// concurrent use; in particular Close may run while a Step is in flight.
type Bridge struct {
	cfg     Config
	worker  Worker
	server  GameServer
	client  *http.Client
	clock   clock.Clock
	logger  *slog.Logger
	baseURL string

	// mu guards the flags below. It is never held across HTTP calls or
	// process waits.
	mu        sync.Mutex
	hasReset  bool
	connected bool
	paused    bool
	closed    bool
	options   ResetOptions
	runID     string
}

// New creates a Bridge for worker. server may be nil when cfg.GamePort is set.
func New(cfg Config, worker Worker, server GameServer, logger *slog.Logger) (*Bridge, error) {
	if worker == nil {
		return nil, fmt.Errorf("session: worker is required")
	}
	if cfg.Port <= 0 {
		return nil, fmt.Errorf("session: invalid worker port %d", cfg.Port)
	}
	if server == nil && cfg.GamePort <= 0 {
		return nil, ErrNoGameServer
	}

	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.Username == "" {
		cfg.Username = DefaultUsername
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.MaxStartRetries <= 0 {
		cfg.MaxStartRetries = DefaultMaxStartRetries
	}
	if cfg.StartRetryDelay < 0 {
		cfg.StartRetryDelay = 0
	}
	if cfg.ExitWait <= 0 {
		cfg.ExitWait = DefaultExitWait
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.RequestTimeout}
	}

	logger = logger.With("component", "session", "username", cfg.Username, "port", cfg.Port)
	if server != nil && cfg.GamePort > 0 {
		logger.Warn("both game port and game server configured, game port will be ignored", "game_port", cfg.GamePort)
	}

	return &Bridge{
		cfg:     cfg,
		worker:  worker,
		server:  server,
		client:  client,
		clock:   cfg.Clock,
		logger:  logger,
		baseURL: fmt.Sprintf("%s:%d", strings.TrimRight(cfg.Host, "/"), cfg.Port),
	}, nil
}

// Username returns the bot identifier.
func (b *Bridge) Username() string { return b.cfg.Username }

// HasReset reports whether a Reset has succeeded.
func (b *Bridge) HasReset() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.hasReset
}

// Connected reports whether the worker has an active /start session.
func (b *Bridge) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

// Paused reports the last known pause state.
func (b *Bridge) Paused() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.paused
}

// Options returns a copy of the stored reset options.
func (b *Bridge) Options() ResetOptions {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.options.clone()
}

// Reset restarts the worker and starts a fresh session with the given options.
func (b *Bridge) Reset(ctx context.Context, req ResetRequest) (Observation, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	gamePort := b.cfg.GamePort
	if b.server != nil {
		gamePort = b.server.Port()
	}
	opts := req.build(gamePort, b.cfg.Username, b.cfg.Port)

	b.mu.Lock()
	b.options = opts
	b.closed = false
	b.runID = uuid.New().String()
	runID := b.runID
	b.mu.Unlock()

	b.logger.Info("resetting session", "mode", opts.Reset, "run_id", runID)

	if err := b.worker.Stop(); err != nil {
		b.logger.Debug("stopping worker before reset", "error", err)
	}
	if err := b.waitForExit(ctx); err != nil {
		return nil, err
	}

	body, err := b.recover(ctx, true)
	if err != nil {
		return nil, err
	}
	obs, err := DecodeObservation(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrWorkerStartRejected, err)
	}

	b.mu.Lock()
	b.hasReset = true
	b.connected = true
	b.options.Reset = ResetSoft
	b.mu.Unlock()

	b.emit(EventKindReset, fmt.Sprintf("mode=%s run_id=%s", opts.Reset, runID))
	return obs, nil
}

// Step executes code on the worker. programs carries the skill sources the
// code may call.
func (b *Bridge) Step(ctx context.Context, code, programs string) (StepResult, error) {
	b.mu.Lock()
	hasReset, closed := b.hasReset, b.closed
	b.mu.Unlock()
	if !hasReset {
		return StepResult{}, ErrNotReset
	}
	if closed {
		return StepResult{}, ErrClosed
	}

	if _, err := b.recover(ctx, false); err != nil {
		return StepResult{}, err
	}

	status, body, err := b.post(ctx, "/step", StepRequest{Code: code, Programs: programs})
	if err != nil {
		b.emit(EventKindStepFailed, err.Error())
		return StepResult{}, fmt.Errorf("%w: %w", ErrWorkerRequestFailed, err)
	}
	if !isSuccess(status) {
		b.emit(EventKindStepFailed, fmt.Sprintf("status %d", status))
		return StepResult{}, fmt.Errorf("%w: /step returned %d for %s", ErrWorkerRequestFailed, status, b.cfg.Username)
	}

	res, err := DecodeStepResult(body)
	if err != nil {
		return StepResult{}, fmt.Errorf("%w: %w", ErrWorkerRequestFailed, err)
	}
	return res, nil
}

// Pause asks the worker to pause the world. Best-effort: returns the pause
// state after the attempt.
func (b *Bridge) Pause(ctx context.Context) bool {
	return b.togglePause(ctx, true)
}

// Unpause resumes a paused world. Best-effort: returns the pause state
// after the attempt.
func (b *Bridge) Unpause(ctx context.Context) bool {
	return b.togglePause(ctx, false)
}

func (b *Bridge) togglePause(ctx context.Context, want bool) bool {
	b.mu.Lock()
	current, hasReset := b.paused, b.hasReset
	b.mu.Unlock()

	if !hasReset || current == want || !b.worker.IsRunning() {
		return current
	}

	status, _, err := b.post(ctx, "/pause", nil)
	if err != nil {
		b.logger.Debug("pause toggle failed", "want_paused", want, "error", err)
		return current
	}
	if !isSuccess(status) {
		b.logger.Debug("pause toggle rejected", "want_paused", want, "status", status)
		return current
	}

	b.mu.Lock()
	b.paused = want
	b.mu.Unlock()
	return want
}

// Close ends the session and stops owned processes. It reports whether the
// session is fully disconnected. Safe to call repeatedly.
func (b *Bridge) Close(ctx context.Context) bool {
	b.Unpause(ctx)

	b.mu.Lock()
	b.closed = true
	connected := b.connected
	b.mu.Unlock()

	if connected {
		status, _, err := b.post(ctx, "/stop", nil)
		switch {
		case err != nil:
			b.logger.Debug("stop request failed", "error", err)
		case !isSuccess(status):
			b.logger.Debug("stop request rejected", "status", status)
		default:
			b.mu.Lock()
			b.connected = false
			b.mu.Unlock()
		}
	}

	if b.server != nil {
		if err := b.server.Stop(); err != nil {
			b.logger.Debug("stopping game server", "error", err)
		}
	}
	if err := b.worker.Stop(); err != nil {
		b.logger.Debug("stopping worker", "error", err)
	}

	b.mu.Lock()
	b.paused = false
	disconnected := !b.connected
	b.mu.Unlock()
	return disconnected
}

// recover makes sure the game server and worker are up. When the worker was
// relaunched, or force is set, the stored options are posted to /start and
// the raw reply is returned.
func (b *Bridge) recover(ctx context.Context, force bool) ([]byte, error) {
	if b.isClosed() {
		return nil, ErrClosed
	}

	if b.server != nil && !b.server.IsRunning() {
		b.logger.Info("starting game server")
		if err := b.server.Run(ctx); err != nil {
			return nil, fmt.Errorf("starting game server: %w", err)
		}
		port := b.server.Port()
		b.mu.Lock()
		b.options.Port = port
		b.mu.Unlock()
		b.logger.Info("game server started", "game_port", port)
	}

	restarted := false
	failures := 0
	var lastErr error
	for !b.worker.IsRunning() {
		if b.isClosed() {
			return nil, ErrClosed
		}

		b.logger.Info("worker not running, starting", "attempt", failures+1)
		err := b.worker.Run(ctx)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err == nil && b.worker.IsRunning() {
			restarted = true
			b.logger.Info("worker ready", "ready_line", b.worker.ReadyLine())
			break
		}

		if err == nil {
			err = fmt.Errorf("worker exited right after readiness")
		}
		lastErr = err
		failures++
		b.logger.Warn("worker failed to start", "attempt", failures, "error", err)
		if failures > b.cfg.MaxStartRetries {
			b.emit(EventKindWorkerStartFailed, err.Error())
			return nil, fmt.Errorf("%w: %s after %d attempts: %w", ErrWorkerStartFailed, b.cfg.Username, failures, lastErr)
		}
		if err := b.sleep(ctx, b.cfg.StartRetryDelay); err != nil {
			return nil, err
		}
	}

	if restarted {
		b.mu.Lock()
		b.paused = false
		b.mu.Unlock()
		if force {
			b.emit(EventKindWorkerStarted, b.worker.ReadyLine())
		} else {
			b.emit(EventKindWorkerRestarted, b.worker.ReadyLine())
		}
	}
	if !restarted && !force {
		return nil, nil
	}

	opts := b.Options()
	status, body, err := b.post(ctx, "/start", opts)
	if err != nil {
		b.stopWorker()
		b.emit(EventKindStartRejected, err.Error())
		return nil, fmt.Errorf("%w: %s: %w", ErrWorkerStartRejected, b.cfg.Username, err)
	}
	if !isSuccess(status) {
		b.stopWorker()
		b.emit(EventKindStartRejected, fmt.Sprintf("status %d", status))
		return nil, fmt.Errorf("%w: worker replied with code %d for %s", ErrWorkerStartRejected, status, b.cfg.Username)
	}
	return body, nil
}

// waitForExit polls the worker until it is gone, bounded by ExitWait, then
// applies the optional settle delay.
func (b *Bridge) waitForExit(ctx context.Context) error {
	deadline := b.clock.Now().Add(b.cfg.ExitWait)
	for b.worker.IsRunning() {
		if !b.clock.Now().Before(deadline) {
			b.logger.Warn("worker still running after exit wait", "exit_wait", b.cfg.ExitWait)
			break
		}
		if err := b.sleep(ctx, b.cfg.PollInterval); err != nil {
			return err
		}
	}
	if b.cfg.ExitSettle > 0 {
		return b.sleep(ctx, b.cfg.ExitSettle)
	}
	return nil
}

func (b *Bridge) stopWorker() {
	if err := b.worker.Stop(); err != nil {
		b.logger.Debug("stopping worker", "error", err)
	}
}

func (b *Bridge) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *Bridge) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-b.clock.After(d):
		return nil
	}
}

func (b *Bridge) emit(kind, detail string) {
	if b.cfg.OnEvent != nil {
		b.cfg.OnEvent(kind, detail)
	}
}

// post sends payload as JSON (or an empty body when nil) and returns the
// status code and full response body.
func (b *Bridge) post(ctx context.Context, path string, payload any) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("encoding %s payload: %w", path, err)
		}
		body = bytes.NewReader(data)
	}

	ctx, cancel := context.WithTimeout(ctx, b.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, body)
	if err != nil {
		return 0, nil, fmt.Errorf("building %s request: %w", path, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("reading %s response: %w", path, err)
	}
	return resp.StatusCode, respBody, nil
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}
