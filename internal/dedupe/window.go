// ABOUTME: Size-bounded repeat suppressor keyed by string, with a fixed window per key.
// ABOUTME: Expiry is lazy; there is no background goroutine to stop.

package dedupe

import (
	"container/list"
	"sync"
	"time"

	"github.com/2389/coven-voyage/internal/clock"
)

// DefaultMaxKeys bounds memory when New is given a non-positive size.
const DefaultMaxKeys = 1024

type entry struct {
	key        string
	first      time.Time // start of this key's window
	suppressed int
}

// Window tracks keys seen within ttl. Safe for concurrent use.
type Window struct {
	mu      sync.Mutex
	clk     clock.Clock
	ttl     time.Duration
	maxKeys int
	seen    map[string]*list.Element
	order   *list.List // oldest window first
}

// New returns a Window. A nil clock uses the real one.
func New(clk clock.Clock, ttl time.Duration, maxKeys int) *Window {
	if clk == nil {
		clk = clock.Real()
	}
	if maxKeys <= 0 {
		maxKeys = DefaultMaxKeys
	}
	return &Window{
		clk:     clk,
		ttl:     ttl,
		maxKeys: maxKeys,
		seen:    make(map[string]*list.Element),
		order:   list.New(),
	}
}

// Observe records one occurrence of key. dup is true when key already
// opened a window that has not expired; the occurrence is then counted and
// should be dropped. Otherwise a new window opens and suppressed is the
// number of repeats the previous window swallowed.
func (w *Window) Observe(key string) (dup bool, suppressed int) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.clk.Now()
	w.expireLocked(now)

	if elem, ok := w.seen[key]; ok {
		e := elem.Value.(*entry)
		if now.Sub(e.first) < w.ttl {
			e.suppressed++
			return true, 0
		}
		suppressed = e.suppressed
		e.first = now
		e.suppressed = 0
		w.order.MoveToBack(elem)
		return false, suppressed
	}

	if len(w.seen) >= w.maxKeys {
		w.evictOldestLocked()
	}
	w.seen[key] = w.order.PushBack(&entry{key: key, first: now})
	return false, 0
}

// Len returns the number of tracked keys.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.seen)
}

// expireLocked drops expired windows that swallowed nothing. A window with
// suppressed repeats stays until its key shows up again, so the count is
// reported, or until size pressure evicts it.
func (w *Window) expireLocked(now time.Time) {
	for elem := w.order.Front(); elem != nil; {
		next := elem.Next()
		e := elem.Value.(*entry)
		if now.Sub(e.first) < w.ttl {
			return
		}
		if e.suppressed == 0 {
			w.order.Remove(elem)
			delete(w.seen, e.key)
		}
		elem = next
	}
}

func (w *Window) evictOldestLocked() {
	front := w.order.Front()
	if front == nil {
		return
	}
	w.order.Remove(front)
	delete(w.seen, front.Value.(*entry).key)
}
