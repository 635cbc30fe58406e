package agent

import "sync/atomic"

// Shutdown is a once-set flag with a broadcast channel. The manager owns it
// and hands it to every agent context.
type Shutdown struct {
	set atomic.Bool
	ch  chan struct{}
}

// NewShutdown returns an unset Shutdown.
func NewShutdown() *Shutdown {
	return &Shutdown{ch: make(chan struct{})}
}

// Set raises the flag. Only the first call returns true.
func (s *Shutdown) Set() bool {
	if !s.set.CompareAndSwap(false, true) {
		return false
	}
	close(s.ch)
	return true
}

// IsSet reports whether shutdown was requested.
func (s *Shutdown) IsSet() bool { return s.set.Load() }

// Done is closed once the flag is set.
func (s *Shutdown) Done() <-chan struct{} { return s.ch }
