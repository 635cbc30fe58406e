// ABOUTME: Store interface and data types for the session event ledger
// ABOUTME: Defines Event and AgentRecord plus the Store interface implemented by SQLite and the mock

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

const (
	// DefaultEventLimit is used when ListEvents is called with a non-positive limit.
	DefaultEventLimit = 50

	// MaxEventLimit caps a single ListEvents page.
	MaxEventLimit = 500
)

// Event is one entry in an agent's session ledger.
// Kind is free-form; the supervisor records agent_created, agent_create_failed,
// worker_started, worker_start_failed, worker_restarted, start_rejected,
// reset, step_failed, learn_failed, learn_completed and agent_closed.
type Event struct {
	ID        string
	AgentID   string
	Kind      string
	Detail    string
	CreatedAt time.Time
}

// AgentRecord is the last known state of an agent.
type AgentRecord struct {
	ID         string
	Index      int
	ServerPort int
	State      string
	Restarts   int
	UpdatedAt  time.Time
}

// Store persists the session ledger and agent states.
type Store interface {
	// RecordEvent appends an event. Empty ID and zero CreatedAt are filled in.
	RecordEvent(ctx context.Context, event *Event) error

	// ListEvents returns the newest events first. An empty agentID lists all agents.
	ListEvents(ctx context.Context, agentID string, limit int) ([]*Event, error)

	// UpsertAgent inserts or replaces the agent's record.
	UpsertAgent(ctx context.Context, record *AgentRecord) error

	// GetAgent returns ErrNotFound for unknown agents.
	GetAgent(ctx context.Context, id string) (*AgentRecord, error)

	// ListAgents returns all records ordered by index.
	ListAgents(ctx context.Context) ([]*AgentRecord, error)

	Close() error
}

// clampLimit applies the default and maximum page size.
func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultEventLimit
	}
	if limit > MaxEventLimit {
		return MaxEventLimit
	}
	return limit
}
