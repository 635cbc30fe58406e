// ABOUTME: Launches and watches one worker process: readiness by log-line match, exit detection, stop.
// ABOUTME: Combined output is persisted to a per-launch log file for postmortem diagnosis.

package monitor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sync"
	"time"
)

var (
	// ErrInvalidConfig indicates the command or readiness pattern is unusable.
	ErrInvalidConfig = errors.New("monitor: invalid config")

	// ErrStartupTimeout indicates the readiness pattern did not appear within ReadyTimeout.
	ErrStartupTimeout = errors.New("monitor: startup timeout")

	// ErrExitedBeforeReady indicates the process died before printing its readiness line.
	ErrExitedBeforeReady = errors.New("monitor: process exited before ready")
)

// DefaultStopGrace is how long Stop waits after SIGTERM before SIGKILL.
const DefaultStopGrace = 5 * time.Second

// outputDrainWait bounds how long Run waits for buffered output after an exit.
const outputDrainWait = time.Second

// State is the run state of a Process.
type State int

const (
	StateNotStarted State = iota
	StateStarting
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Config describes the process to supervise.
type Config struct {
	// Name is a human-readable label used in logs.
	Name string

	// Command is the executable followed by its arguments.
	Command []string

	// ReadyPattern is matched against every output line. Capture groups are
	// available through ReadyMatch.
	ReadyPattern string

	// LogDir receives one log file per launch. Empty discards output.
	LogDir string

	// ReadyTimeout bounds Run. Zero waits until ready, exit or ctx cancellation.
	ReadyTimeout time.Duration

	// StopGrace is the SIGTERM→SIGKILL grace period. Zero means DefaultStopGrace.
	StopGrace time.Duration

	// Dir is the working directory. Empty inherits the parent's.
	Dir string

	// Env is appended to the parent environment.
	Env []string
}

// Process owns at most one live OS process at a time.
type Process struct {
	cfg    Config
	ready  *regexp.Regexp
	logger *slog.Logger

	mu    sync.Mutex
	state State
	cur   *launch
}

// launch is one OS process started by Run.
type launch struct {
	cmd        *exec.Cmd
	logFile    *os.File
	ready      chan struct{}
	readyOnce  sync.Once
	done       chan struct{}
	outputDone chan struct{}

	// Guarded by Process.mu.
	readyLine  string
	readyMatch []string
	exitErr    error
}

// New validates cfg and returns an idle Process.
func New(cfg Config, logger *slog.Logger) (*Process, error) {
	if len(cfg.Command) == 0 || cfg.Command[0] == "" {
		return nil, fmt.Errorf("%w: command is required", ErrInvalidConfig)
	}
	if cfg.ReadyPattern == "" {
		return nil, fmt.Errorf("%w: ready pattern is required", ErrInvalidConfig)
	}
	re, err := regexp.Compile(cfg.ReadyPattern)
	if err != nil {
		return nil, fmt.Errorf("%w: ready pattern: %w", ErrInvalidConfig, err)
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = DefaultStopGrace
	}
	if cfg.Name == "" {
		cfg.Name = filepath.Base(cfg.Command[0])
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Process{
		cfg:    cfg,
		ready:  re,
		logger: logger.With("component", "monitor", "process", cfg.Name),
		state:  StateNotStarted,
	}, nil
}

// Name returns the configured process name.
func (p *Process) Name() string { return p.cfg.Name }

// Run launches the process and blocks until its readiness line appears.
// Run on a live process is a no-op. On any failure the process is stopped.
func (p *Process) Run(ctx context.Context) error {
	p.mu.Lock()
	if p.cur != nil && !isClosed(p.cur.done) {
		p.mu.Unlock()
		return nil
	}
	l, err := p.launchLocked()
	if err != nil {
		p.state = StateStopped
		p.mu.Unlock()
		return err
	}
	p.state = StateStarting
	p.mu.Unlock()

	p.logger.Info("process launched", "pid", l.cmd.Process.Pid, "command", p.cfg.Command)

	var timeout <-chan time.Time
	if p.cfg.ReadyTimeout > 0 {
		timer := time.NewTimer(p.cfg.ReadyTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-l.ready:
		return p.markReady(l)

	case <-l.done:
		// The ready line may still be in the pipe when Wait returns.
		select {
		case <-l.outputDone:
		case <-time.After(outputDrainWait):
		}
		if isClosed(l.ready) {
			return p.markReady(l)
		}
		p.mu.Lock()
		exitErr := l.exitErr
		p.mu.Unlock()
		return fmt.Errorf("%w: %s: %v", ErrExitedBeforeReady, p.cfg.Name, exitErr)

	case <-timeout:
		_ = p.Stop()
		return fmt.Errorf("%w: %s not ready after %s", ErrStartupTimeout, p.cfg.Name, p.cfg.ReadyTimeout)

	case <-ctx.Done():
		_ = p.Stop()
		return ctx.Err()
	}
}

// markReady transitions a launch that printed its readiness line to running.
func (p *Process) markReady(l *launch) error {
	p.mu.Lock()
	if p.cur == l && p.state == StateStarting && !isClosed(l.done) {
		p.state = StateRunning
	}
	line := l.readyLine
	p.mu.Unlock()

	p.logger.Info("process ready", "pid", l.cmd.Process.Pid, "ready_line", line)
	return nil
}

// launchLocked starts the OS process. Must be called with p.mu held.
func (p *Process) launchLocked() (*launch, error) {
	cmd := exec.Command(p.cfg.Command[0], p.cfg.Command[1:]...)
	cmd.Dir = p.cfg.Dir
	if len(p.cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), p.cfg.Env...)
	}
	setProcessGroup(cmd)

	// One pipe for both streams keeps stdout and stderr interleaved in order.
	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("creating output pipe: %w", err)
	}
	cmd.Stdout = pw
	cmd.Stderr = pw

	logFile, err := p.openLogFile()
	if err != nil {
		_ = pr.Close()
		_ = pw.Close()
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		_ = pr.Close()
		_ = pw.Close()
		if logFile != nil {
			_ = logFile.Close()
		}
		return nil, fmt.Errorf("starting %s: %w", p.cfg.Name, err)
	}
	// The child holds its own copy of the write end.
	_ = pw.Close()

	l := &launch{
		cmd:        cmd,
		logFile:    logFile,
		ready:      make(chan struct{}),
		done:       make(chan struct{}),
		outputDone: make(chan struct{}),
	}
	p.cur = l

	go p.readOutput(l, pr)
	go p.wait(l)
	return l, nil
}

// openLogFile opens the log sink for a new launch, or nil when LogDir is unset.
func (p *Process) openLogFile() (*os.File, error) {
	if p.cfg.LogDir == "" {
		return nil, nil
	}
	if err := os.MkdirAll(p.cfg.LogDir, 0755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}
	name := time.Now().Format("20060102_150405") + ".log"
	f, err := os.OpenFile(filepath.Join(p.cfg.LogDir, name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	return f, nil
}

// readOutput persists every line and watches for the readiness pattern.
func (p *Process) readOutput(l *launch, pr *os.File) {
	defer close(l.outputDone)
	defer pr.Close()
	if l.logFile != nil {
		defer l.logFile.Close()
	}

	var sink io.Writer = io.Discard
	if l.logFile != nil {
		sink = l.logFile
	}

	scanner := bufio.NewScanner(pr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		_, _ = fmt.Fprintln(sink, line)

		if isClosed(l.ready) {
			continue
		}
		if m := p.ready.FindStringSubmatch(line); m != nil {
			l.readyOnce.Do(func() {
				p.mu.Lock()
				l.readyLine = line
				l.readyMatch = m
				p.mu.Unlock()
				close(l.ready)
			})
		}
	}
	if err := scanner.Err(); err != nil {
		p.logger.Warn("output scanner stopped, draining raw", "error", err)
		// Keep draining so the child never blocks on a full pipe.
		_, _ = io.Copy(sink, pr)
	}
}

// wait reaps the OS process and records its exit.
func (p *Process) wait(l *launch) {
	err := l.cmd.Wait()

	p.mu.Lock()
	l.exitErr = err
	if p.cur == l {
		p.state = StateStopped
	}
	p.mu.Unlock()
	close(l.done)

	if err != nil {
		p.logger.Warn("process exited", "pid", l.cmd.Process.Pid, "error", err)
	} else {
		p.logger.Info("process exited", "pid", l.cmd.Process.Pid)
	}
}

// IsRunning reports whether the OS process is alive. It never blocks.
func (p *Process) IsRunning() bool {
	p.mu.Lock()
	l := p.cur
	p.mu.Unlock()
	return l != nil && !isClosed(l.done)
}

// State returns the current run state.
func (p *Process) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// PID returns the live process id, or 0 when nothing is running.
func (p *Process) PID() int {
	p.mu.Lock()
	l := p.cur
	p.mu.Unlock()
	if l == nil || isClosed(l.done) {
		return 0
	}
	return l.cmd.Process.Pid
}

// ReadyLine returns the readiness line of the most recent launch.
func (p *Process) ReadyLine() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cur == nil {
		return ""
	}
	return p.cur.readyLine
}

// ReadyMatch returns the readiness pattern's submatches from the most recent launch.
func (p *Process) ReadyMatch() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cur == nil || p.cur.readyMatch == nil {
		return nil
	}
	out := make([]string, len(p.cur.readyMatch))
	copy(out, p.cur.readyMatch)
	return out
}

// ExitErr returns the wait error of the most recent launch once it has exited.
func (p *Process) ExitErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cur == nil {
		return nil
	}
	return p.cur.exitErr
}

// Stop terminates the process group and waits for exit. Safe to call
// repeatedly and on a process that is not running.
func (p *Process) Stop() error {
	p.mu.Lock()
	l := p.cur
	p.state = StateStopped
	p.mu.Unlock()

	if l == nil || isClosed(l.done) {
		return nil
	}

	p.logger.Info("stopping process", "pid", l.cmd.Process.Pid)
	if err := terminate(l.cmd); err != nil {
		p.logger.Debug("terminate signal failed", "error", err)
	}

	select {
	case <-l.done:
		return nil
	case <-time.After(p.cfg.StopGrace):
	}

	p.logger.Warn("process ignored SIGTERM, killing", "pid", l.cmd.Process.Pid, "grace", p.cfg.StopGrace)
	if err := kill(l.cmd); err != nil {
		return fmt.Errorf("killing %s: %w", p.cfg.Name, err)
	}
	<-l.done
	return nil
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
