// ABOUTME: Worker and GameServer capability contracts, plus a GameServer backed by a monitored process.
// ABOUTME: The managed server's port comes from the first capture group of its readiness line.

package session

import (
	"context"
	"strconv"

	"github.com/2389/coven-voyage/internal/monitor"
)

// Worker is the process the bridge talks to over HTTP.
type Worker interface {
	Run(ctx context.Context) error
	IsRunning() bool
	Stop() error
	ReadyLine() string
}

// GameServer is an externally provisioned world the worker connects to.
type GameServer interface {
	Run(ctx context.Context) error
	IsRunning() bool
	Port() int
	Stop() error
}

var _ Worker = (*monitor.Process)(nil)

// ProcessServer runs a game server as a monitored local process.
type ProcessServer struct {
	proc *monitor.Process
}

// NewProcessServer wraps proc, whose readiness pattern must capture the port.
func NewProcessServer(proc *monitor.Process) *ProcessServer {
	return &ProcessServer{proc: proc}
}

func (s *ProcessServer) Run(ctx context.Context) error { return s.proc.Run(ctx) }
func (s *ProcessServer) IsRunning() bool              { return s.proc.IsRunning() }
func (s *ProcessServer) Stop() error                  { return s.proc.Stop() }

// Port returns the port announced on the readiness line, or 0 if none was captured.
func (s *ProcessServer) Port() int {
	m := s.proc.ReadyMatch()
	if len(m) < 2 {
		return 0
	}
	port, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return port
}
