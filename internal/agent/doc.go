// Package agent runs the fleet of learning agents.
//
// # Overview
//
// The Manager creates one Runtime per configured agent and drives each in
// its own goroutine:
//
//	loop {
//	    Learn()
//	    error  → log, record, wait RetryBackoff (or shutdown), retry
//	    nil    → done
//	}
//	Close()   // on every exit path
//
// Agent i is identified as <prefix><i+1> and listens on BasePort+i.
//
// # Staggered Startup
//
// Start creates agents one after another with CreateDelay between them,
// giving each worker time to bind its port, then launches their contexts
// with LaunchDelay between launches. Agents whose factory fails are logged
// and skipped.
//
// # Shutdown
//
// The Manager owns a Shutdown (atomic flag plus broadcast channel) that
// every context observes between operations and during backoff. Stop sets
// it, cancels the runtime context, closes every runtime and joins the
// contexts up to JoinTimeout. A context stuck past the timeout is logged
// and left behind; Stop never fails.
//
// # Replayer
//
// Replayer is the bundled Runtime: it hard-resets the session and steps a
// skill library round-robin.
package agent
