// ABOUTME: Agent runtime contract, per-index agent identity and the factory the manager builds agents with.
// ABOUTME: Recorder is the manager's hook into the session ledger.

package agent

import (
	"context"
	"fmt"
)

// Runtime wraps decision logic over a session bridge.
type Runtime interface {
	// Learn blocks until the runtime finishes or hits an unrecoverable
	// bridge failure. It must observe ctx.
	Learn(ctx context.Context) error

	// Close releases the bridge and owned resources. It may be called more
	// than once, concurrently with Learn and after a failure.
	Close() error
}

// Spec is the deterministic identity of agent Index.
type Spec struct {
	Index      int
	ID         string
	ServerPort int
}

// Factory builds the runtime for one agent.
type Factory func(ctx context.Context, spec Spec) (Runtime, error)

// Recorder receives lifecycle events and state changes. Implementations
// must not block for long and must swallow their own errors.
type Recorder interface {
	RecordEvent(agentID, kind, detail string)
	RecordState(info Info)
}

// Event kinds recorded by the manager.
const (
	EventAgentCreated      = "agent_created"
	EventAgentCreateFailed = "agent_create_failed"
	EventLearnFailed       = "learn_failed"
	EventLearnCompleted    = "learn_completed"
	EventAgentClosed       = "agent_closed"
)

func specFor(cfg ManagerConfig, index int) Spec {
	return Spec{
		Index:      index,
		ID:         fmt.Sprintf("%s%d", cfg.IDPrefix, index+1),
		ServerPort: cfg.BasePort + index,
	}
}

type nopRecorder struct{}

func (nopRecorder) RecordEvent(string, string, string) {}
func (nopRecorder) RecordState(Info)                   {}
