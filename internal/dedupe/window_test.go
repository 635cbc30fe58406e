// ABOUTME: Tests for the repeat suppressor: window expiry, repeat counts, eviction and concurrency.
// ABOUTME: Time is driven by the fake clock.

package dedupe

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/2389/coven-voyage/internal/clock"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestWindow_FirstOccurrencePasses(t *testing.T) {
	w := New(clock.Fake(epoch), time.Minute, 10)

	dup, suppressed := w.Observe("bot1|step_failed|status 500")
	assert.False(t, dup)
	assert.Zero(t, suppressed)
}

func TestWindow_RepeatsInsideWindowAreSuppressed(t *testing.T) {
	clk := clock.Fake(epoch)
	w := New(clk, time.Minute, 10)

	w.Observe("k")
	for i := 0; i < 3; i++ {
		clk.Advance(10 * time.Second)
		dup, _ := w.Observe("k")
		assert.True(t, dup, "repeat %d", i)
	}
}

func TestWindow_ReportsSuppressedCountAfterExpiry(t *testing.T) {
	clk := clock.Fake(epoch)
	w := New(clk, time.Minute, 10)

	w.Observe("k")
	w.Observe("k")
	w.Observe("k")

	// The window is fixed from the first occurrence, not refreshed by repeats.
	clk.Advance(time.Minute)
	dup, suppressed := w.Observe("k")
	assert.False(t, dup)
	assert.Equal(t, 2, suppressed)

	dup, _ = w.Observe("k")
	assert.True(t, dup, "a new window opened")
}

func TestWindow_DistinctKeysAreIndependent(t *testing.T) {
	w := New(clock.Fake(epoch), time.Minute, 10)

	w.Observe("bot1|reset|")
	dup, _ := w.Observe("bot2|reset|")
	assert.False(t, dup)
	assert.Equal(t, 2, w.Len())
}

func TestWindow_ExpiredQuietKeysAreDropped(t *testing.T) {
	clk := clock.Fake(epoch)
	w := New(clk, time.Minute, 10)

	w.Observe("quiet")
	w.Observe("noisy")
	w.Observe("noisy")

	clk.Advance(2 * time.Minute)
	w.Observe("fresh")

	// quiet expired with nothing to report; noisy keeps its count.
	assert.Equal(t, 2, w.Len())
	_, suppressed := w.Observe("noisy")
	assert.Equal(t, 1, suppressed)
}

func TestWindow_EvictsOldestAtCapacity(t *testing.T) {
	clk := clock.Fake(epoch)
	w := New(clk, time.Hour, 3)

	for i := 0; i < 3; i++ {
		w.Observe(fmt.Sprintf("key-%d", i))
		clk.Advance(time.Second)
	}
	w.Observe("key-3")
	assert.Equal(t, 3, w.Len())

	dup, _ := w.Observe("key-0")
	assert.False(t, dup, "key-0 should have been evicted")
	dup, _ = w.Observe("key-3")
	assert.True(t, dup)
}

func TestWindow_Defaults(t *testing.T) {
	w := New(nil, time.Second, 0)
	assert.Equal(t, DefaultMaxKeys, w.maxKeys)
	assert.NotNil(t, w.clk)
}

func TestWindow_Concurrent(t *testing.T) {
	w := New(clock.Fake(epoch), time.Hour, 100)

	var wg sync.WaitGroup
	var mu sync.Mutex
	passed := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if dup, _ := w.Observe("shared"); !dup {
				mu.Lock()
				passed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, passed, "exactly one occurrence opens the window")
}
