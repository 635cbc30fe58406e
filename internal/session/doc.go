// Package session is the HTTP+JSON client side of one agent's control
// relationship with its worker process.
//
// # Overview
//
// A Bridge owns a Worker (normally a *monitor.Process) and an optional
// GameServer, and exposes the control calls the worker understands:
//
//	Reset   → POST /start  (after restarting the worker)
//	Step    → POST /step
//	Pause   → POST /pause  (toggle)
//	Unpause → POST /pause  (toggle)
//	Close   → POST /stop, then stop owned processes
//
// # Session state
//
// Step is only valid after a successful Reset. The first Reset is "hard"
// unless the caller asks otherwise; afterwards the stored options are
// downgraded to "soft" so an implicit restart inside check-and-recover
// keeps the world intact.
//
// # Check-and-recover
//
// Before every Reset and Step the bridge makes sure the game server and
// the worker are alive, relaunching the worker up to MaxStartRetries times
// and re-issuing /start with the stored options whenever the worker was
// relaunched. A dead worker is therefore healed transparently on the next
// Step.
//
// # Wire format
//
// The worker answers /start and /step with a JSON string whose content is
// itself JSON: a list of [kind, payload] events. DecodeObservation handles
// both layers.
package session
