// ABOUTME: Sentinel errors for the session bridge.
// ABOUTME: Callers match them with errors.Is; the agent loop treats start/request failures as retryable.

package session

import "errors"

var (
	// ErrInvalidOptions indicates reset options that violate the inventory/mode constraint.
	ErrInvalidOptions = errors.New("session: invalid reset options")

	// ErrNotReset indicates a control call before the first successful Reset.
	ErrNotReset = errors.New("session: not reset")

	// ErrWorkerStartFailed indicates the worker could not be brought to readiness within the retry bound.
	ErrWorkerStartFailed = errors.New("session: worker failed to start")

	// ErrWorkerStartRejected indicates the worker answered /start with a non-success status.
	ErrWorkerStartRejected = errors.New("session: worker rejected start")

	// ErrWorkerRequestFailed indicates a /step call that failed or returned a non-success status.
	ErrWorkerRequestFailed = errors.New("session: worker request failed")

	// ErrClosed indicates the bridge was closed and will not relaunch the worker until the next Reset.
	ErrClosed = errors.New("session: closed")

	// ErrNoGameServer indicates neither a fixed game port nor a managed game server was configured.
	ErrNoGameServer = errors.New("session: game port or game server required")
)
