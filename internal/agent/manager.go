// ABOUTME: Manages the fleet of agents: staggered creation and launch, per-agent learn loops, shutdown.
// ABOUTME: Failures stay inside one agent's context; the only shared signal is the shutdown flag.

package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/2389/coven-voyage/internal/clock"
)

// ErrNoAgents indicates that Start could not create a single agent.
var ErrNoAgents = errors.New("no agents could be created")

// State is the phase of one agent's execution context.
type State string

const (
	StateIdle     State = "idle"
	StateLearning State = "learning"
	StateBackoff  State = "backoff"
	StateStopped  State = "stopped"
)

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	Count    int
	BasePort int
	IDPrefix string

	// CreateDelay separates agent creations; LaunchDelay separates launches.
	CreateDelay time.Duration
	LaunchDelay time.Duration

	// RetryBackoff is the pause between a failed Learn and the retry.
	RetryBackoff time.Duration

	// JoinTimeout bounds how long Stop waits for agent contexts.
	JoinTimeout time.Duration

	Clock clock.Clock
}

// Info is a point-in-time view of one agent.
type Info struct {
	Index      int    `json:"index"`
	ID         string `json:"id"`
	ServerPort int    `json:"server_port"`
	State      State  `json:"state"`
	Restarts   int    `json:"restarts"`
	LastError  string `json:"last_error,omitempty"`
}

// slot is one created agent.
type slot struct {
	spec     Spec
	runtime  Runtime
	done     chan struct{}
	launched bool // guarded by Manager.mu

	closeRecorded atomic.Bool

	mu       sync.Mutex
	state    State
	restarts int
	lastErr  string
}

// Manager coordinates all agents of this supervisor.
type Manager struct {
	cfg      ManagerConfig
	factory  Factory
	recorder Recorder
	logger   *slog.Logger
	clock    clock.Clock
	shutdown *Shutdown

	// runCtx is handed to Learn and cancelled by Stop.
	runCtx context.Context
	cancel context.CancelFunc

	slots []*slot
	mu    sync.RWMutex
}

// NewManager creates a new Manager instance.
func NewManager(cfg ManagerConfig, factory Factory, recorder Recorder, logger *slog.Logger) *Manager {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	runCtx, cancel := context.WithCancel(context.Background())

	return &Manager{
		cfg:      cfg,
		factory:  factory,
		recorder: recorder,
		logger:   logger.With("component", "manager"),
		clock:    cfg.Clock,
		shutdown: NewShutdown(),
		runCtx:   runCtx,
		cancel:   cancel,
	}
}

// Shutdown returns the manager's shutdown signal.
func (m *Manager) Shutdown() *Shutdown { return m.shutdown }

// Start creates every agent with CreateDelay between creations, then
// launches one context per created agent with LaunchDelay between launches.
// Agents that fail to build are skipped. Returns ErrNoAgents when none
// could be created.
func (m *Manager) Start(ctx context.Context) error {
	for i := 0; i < m.cfg.Count; i++ {
		if i > 0 && !m.wait(ctx, m.cfg.CreateDelay) {
			break
		}
		m.createAgent(ctx, i)
	}

	slots := m.snapshot()
	if len(slots) == 0 {
		if m.shutdown.IsSet() || ctx.Err() != nil {
			return nil
		}
		return ErrNoAgents
	}

	for j, s := range slots {
		if j > 0 && !m.wait(ctx, m.cfg.LaunchDelay) {
			break
		}
		m.launch(s)
	}

	m.logger.Info("agents started", "created", len(slots), "requested", m.cfg.Count)
	return nil
}

// createAgent builds agent index. Failures are logged, recorded and skipped.
func (m *Manager) createAgent(ctx context.Context, index int) {
	spec := specFor(m.cfg, index)
	logger := m.logger.With("agent_id", spec.ID, "port", spec.ServerPort)
	logger.Info("creating agent", "index", index)

	rt, err := m.factory(ctx, spec)
	if err == nil && rt == nil {
		err = fmt.Errorf("factory returned no runtime")
	}
	if err != nil {
		logger.Error("failed to create agent, skipping", "error", err)
		m.recorder.RecordEvent(spec.ID, EventAgentCreateFailed, err.Error())
		return
	}

	s := &slot{
		spec:    spec,
		runtime: rt,
		done:    make(chan struct{}),
		state:   StateIdle,
	}

	m.mu.Lock()
	if m.shutdown.IsSet() {
		m.mu.Unlock()
		logger.Info("shutdown requested during creation, closing agent")
		m.closeRuntime(s)
		return
	}
	m.slots = append(m.slots, s)
	m.mu.Unlock()

	logger.Info("=== AGENT CREATED ===", "total_agents", len(m.snapshot()))
	m.recorder.RecordEvent(spec.ID, EventAgentCreated, fmt.Sprintf("port=%d", spec.ServerPort))
	m.recorder.RecordState(s.info())
}

// launch starts the agent's context unless shutdown was requested.
func (m *Manager) launch(s *slot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shutdown.IsSet() || s.launched {
		return
	}
	s.launched = true
	m.logger.Info("launching agent", "agent_id", s.spec.ID)
	go m.run(s)
}

// run is the body of one agent context.
func (m *Manager) run(s *slot) {
	logger := m.logger.With("agent_id", s.spec.ID, "port", s.spec.ServerPort)
	defer close(s.done)
	defer func() {
		m.closeRuntime(s)
		m.setState(s, StateStopped, "")
		logger.Info("=== AGENT STOPPED ===")
	}()

	for {
		if m.shutdown.IsSet() {
			return
		}

		m.setState(s, StateLearning, "")
		err := m.learn(s)
		if err == nil {
			logger.Info("learning completed")
			m.recorder.RecordEvent(s.spec.ID, EventLearnCompleted, "")
			return
		}
		if m.shutdown.IsSet() {
			logger.Info("learning interrupted by shutdown", "error", err)
			return
		}

		logger.Error("learning failed, retrying", "error", err, "backoff", m.cfg.RetryBackoff)
		m.recorder.RecordEvent(s.spec.ID, EventLearnFailed, err.Error())

		s.mu.Lock()
		s.restarts++
		s.mu.Unlock()
		m.setState(s, StateBackoff, err.Error())

		if !m.wait(m.runCtx, m.cfg.RetryBackoff) {
			return
		}
	}
}

// learn runs one Learn call, converting a panic into an error so one
// agent can never take down the others.
func (m *Manager) learn(s *slot) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("learn panicked: %v", r)
		}
	}()
	return s.runtime.Learn(m.runCtx)
}

// Stop sets the shutdown flag, closes every agent and waits up to
// JoinTimeout for their contexts. It never fails; it returns how many
// contexts were still running when the timeout expired. Only the first
// call does any work.
func (m *Manager) Stop() int {
	if !m.shutdown.Set() {
		return 0
	}
	m.cancel()

	m.mu.RLock()
	slots := make([]*slot, len(m.slots))
	copy(slots, m.slots)
	launched := make([]bool, len(m.slots))
	for i, s := range m.slots {
		launched[i] = s.launched
	}
	m.mu.RUnlock()

	m.logger.Info("stopping agents", "count", len(slots), "join_timeout", m.cfg.JoinTimeout)

	var wg sync.WaitGroup
	for _, s := range slots {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.closeRuntime(s)
		}()
	}
	closersDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(closersDone)
	}()

	timeout := m.clock.After(m.cfg.JoinTimeout)
	expired := false
	stuck := 0
	for i, s := range slots {
		if !launched[i] {
			m.setState(s, StateStopped, "")
			continue
		}
		if !expired {
			select {
			case <-s.done:
				continue
			case <-timeout:
				expired = true
			}
		}
		if !isDone(s.done) {
			stuck++
			m.logger.Warn("agent context still running after join timeout",
				"agent_id", s.spec.ID,
				"join_timeout", m.cfg.JoinTimeout,
			)
		}
	}
	if !expired {
		select {
		case <-closersDone:
		case <-timeout:
			m.logger.Warn("agent close still running after join timeout", "join_timeout", m.cfg.JoinTimeout)
		}
	}

	m.logger.Info("agents stopped", "stuck", stuck)
	return stuck
}

// Agents returns a snapshot of every created agent ordered by index.
func (m *Manager) Agents() []Info {
	slots := m.snapshot()
	infos := make([]Info, 0, len(slots))
	for _, s := range slots {
		infos = append(infos, s.info())
	}
	return infos
}

// closeRuntime closes the agent's runtime and records it. Runtimes tolerate
// repeated calls, so both Stop and the agent's own exit path call it.
func (m *Manager) closeRuntime(s *slot) {
	detail := ""
	if err := s.runtime.Close(); err != nil {
		m.logger.Warn("closing agent", "agent_id", s.spec.ID, "error", err)
		detail = err.Error()
	}
	if s.closeRecorded.CompareAndSwap(false, true) {
		m.recorder.RecordEvent(s.spec.ID, EventAgentClosed, detail)
	}
}

func (m *Manager) setState(s *slot, state State, lastErr string) {
	s.mu.Lock()
	s.state = state
	if lastErr != "" {
		s.lastErr = lastErr
	}
	s.mu.Unlock()
	m.recorder.RecordState(s.info())
}

// wait sleeps for d unless ctx ends or shutdown is requested first.
// It reports whether the full delay elapsed.
func (m *Manager) wait(ctx context.Context, d time.Duration) bool {
	if m.shutdown.IsSet() || ctx.Err() != nil {
		return false
	}
	if d <= 0 {
		return true
	}
	select {
	case <-m.clock.After(d):
		return !m.shutdown.IsSet()
	case <-m.shutdown.Done():
		return false
	case <-ctx.Done():
		return false
	}
}

func (m *Manager) snapshot() []*slot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*slot, len(m.slots))
	copy(out, m.slots)
	return out
}

func (s *slot) info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		Index:      s.spec.Index,
		ID:         s.spec.ID,
		ServerPort: s.spec.ServerPort,
		State:      s.state,
		Restarts:   s.restarts,
		LastError:  s.lastErr,
	}
}

func isDone(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
