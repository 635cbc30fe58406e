// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu     sync.RWMutex
	events []*Event                // append order
	agents map[string]*AgentRecord // keyed by agent ID
	closed bool
}

var _ Store = (*MockStore)(nil)

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		agents: make(map[string]*AgentRecord),
	}
}

// RecordEvent stores a copy of the event.
func (m *MockStore) RecordEvent(ctx context.Context, event *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	e := *event
	m.events = append(m.events, &e)
	return nil
}

// ListEvents returns copies of the newest matching events first.
func (m *MockStore) ListEvents(ctx context.Context, agentID string, limit int) ([]*Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	limit = clampLimit(limit)
	var result []*Event
	for i := len(m.events) - 1; i >= 0 && len(result) < limit; i-- {
		e := m.events[i]
		if agentID != "" && e.AgentID != agentID {
			continue
		}
		c := *e
		result = append(result, &c)
	}
	return result, nil
}

// UpsertAgent stores a copy of the record.
func (m *MockStore) UpsertAgent(ctx context.Context, record *AgentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = time.Now().UTC()
	}
	r := *record
	m.agents[r.ID] = &r
	return nil
}

// GetAgent retrieves a copy of an agent record.
func (m *MockStore) GetAgent(ctx context.Context, id string) (*AgentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.agents[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *r
	return &result, nil
}

// ListAgents returns copies of all agent records ordered by index.
func (m *MockStore) ListAgents(ctx context.Context) ([]*AgentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*AgentRecord, 0, len(m.agents))
	for _, r := range m.agents {
		c := *r
		result = append(result, &c)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Index < result[j].Index
	})
	return result, nil
}

// Close marks the store closed.
func (m *MockStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Closed reports whether Close was called.
func (m *MockStore) Closed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

// EventKinds returns the kinds recorded for agentID in append order.
func (m *MockStore) EventKinds(agentID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var kinds []string
	for _, e := range m.events {
		if e.AgentID == agentID {
			kinds = append(kinds, e.Kind)
		}
	}
	return kinds
}
