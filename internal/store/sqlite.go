// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides session event and agent state persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// timeLayout is fixed-width so stored timestamps sort lexically
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode so the status API can read while agents write
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS session_events (
			id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			detail TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_session_events_agent_created
			ON session_events(agent_id, created_at);

		CREATE INDEX IF NOT EXISTS idx_session_events_created
			ON session_events(created_at);

		CREATE TABLE IF NOT EXISTS agents (
			id TEXT PRIMARY KEY,
			idx INTEGER NOT NULL,
			server_port INTEGER NOT NULL,
			state TEXT NOT NULL,
			restarts INTEGER NOT NULL DEFAULT 0,
			updated_at TEXT NOT NULL
		);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// RecordEvent persists a session event
func (s *SQLiteStore) RecordEvent(ctx context.Context, event *Event) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO session_events (id, agent_id, kind, detail, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		event.AgentID,
		event.Kind,
		event.Detail,
		event.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting event: %w", err)
	}

	s.logger.Debug("recorded session event",
		"event_id", event.ID,
		"agent_id", event.AgentID,
		"kind", event.Kind,
	)
	return nil
}

// ListEvents returns the newest events first, optionally filtered by agent
func (s *SQLiteStore) ListEvents(ctx context.Context, agentID string, limit int) ([]*Event, error) {
	limit = clampLimit(limit)

	query := `
		SELECT id, agent_id, kind, detail, created_at
		FROM session_events
	`
	args := []any{}
	if agentID != "" {
		query += ` WHERE agent_id = ?`
		args = append(args, agentID)
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		ev := &Event{}
		var createdAt string
		if err := rows.Scan(&ev.ID, &ev.AgentID, &ev.Kind, &ev.Detail, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		ev.CreatedAt, err = time.Parse(timeLayout, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing event created_at: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating events: %w", err)
	}
	return events, nil
}

// UpsertAgent inserts or replaces an agent record
func (s *SQLiteStore) UpsertAgent(ctx context.Context, record *AgentRecord) error {
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO agents (id, idx, server_port, state, restarts, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			idx = excluded.idx,
			server_port = excluded.server_port,
			state = excluded.state,
			restarts = excluded.restarts,
			updated_at = excluded.updated_at
	`
	_, err := s.db.ExecContext(ctx, query,
		record.ID,
		record.Index,
		record.ServerPort,
		record.State,
		record.Restarts,
		record.UpdatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("upserting agent: %w", err)
	}
	return nil
}

// GetAgent retrieves one agent record by ID
func (s *SQLiteStore) GetAgent(ctx context.Context, id string) (*AgentRecord, error) {
	query := `
		SELECT id, idx, server_port, state, restarts, updated_at
		FROM agents
		WHERE id = ?
	`
	record, err := scanAgent(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return record, nil
}

// ListAgents returns all agent records ordered by index
func (s *SQLiteStore) ListAgents(ctx context.Context) ([]*AgentRecord, error) {
	query := `
		SELECT id, idx, server_port, state, restarts, updated_at
		FROM agents
		ORDER BY idx ASC
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying agents: %w", err)
	}
	defer rows.Close()

	var records []*AgentRecord
	for rows.Next() {
		record, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating agents: %w", err)
	}
	return records, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgent(row rowScanner) (*AgentRecord, error) {
	record := &AgentRecord{}
	var updatedAt string
	if err := row.Scan(&record.ID, &record.Index, &record.ServerPort, &record.State, &record.Restarts, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning agent: %w", err)
	}
	var err error
	record.UpdatedAt, err = time.Parse(timeLayout, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing agent updated_at: %w", err)
	}
	return record, nil
}
