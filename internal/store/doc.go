// Package store persists the supervisor's session ledger using SQLite.
//
// # Architecture
//
// Store is the single interface; SQLiteStore implements it on
// modernc.org/sqlite (pure Go, WAL mode) and MockStore implements it in
// memory for tests.
//
// # Data Models
//
//   - Event: one ledger entry (agent created, worker restarted, step failed...)
//   - AgentRecord: the last known state of each agent
//
// # Usage
//
//	s, err := store.NewSQLiteStore("~/.local/share/coven/voyage.db")
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
//
//	_ = s.RecordEvent(ctx, &store.Event{AgentID: "bot1", Kind: "reset"})
//	events, _ := s.ListEvents(ctx, "bot1", 20)
//
// Recording is advisory: callers log store failures and carry on.
package store
