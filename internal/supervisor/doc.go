// Package supervisor assembles coven-voyage from its configuration and runs it.
//
// # Overview
//
// New loads the skill library, opens the SQLite session ledger and builds
// an agent.Manager whose factory produces, per agent:
//
//	<log_dir>/mineflayer_<id>/      worker output, one file per launch
//	<log_dir>/minecraft_<id>/       game server output (managed server only)
//	<checkpoint_dir>/<id>/          locked, seeded with chest_memory.json
//	worker monitor                  <worker.command...> <port>
//	session.Bridge → agent.Replayer
//
// # Lifecycle
//
// Run starts the status server (when status.http_addr is set), starts the
// agents and blocks until its context ends or the status server fails.
// Shutdown then runs in a fixed order:
//
//  1. manager Stop (bounded by agents.join_timeout)
//  2. status server Shutdown
//  3. store Close
//
// # Status HTTP
//
//	GET /health         200 "OK"
//	GET /health/ready   200 when at least one agent is learning, else 503
//	GET /api/agents     live agent states as JSON
//	GET /api/events     session ledger, newest first (?agent=<id>&limit=<n>)
package supervisor
