//go:build !windows

// ABOUTME: Tests for the process monitor using /bin/sh scripts as real worker processes.
// ABOUTME: Covers readiness matching, exit detection, startup failures and log persistence.

package monitor

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const readyPattern = `Server started on port (\d+)`

func newShellProcess(t *testing.T, script string, mutate func(*Config)) *Process {
	t.Helper()
	cfg := Config{
		Name:         "test-worker",
		Command:      []string{"/bin/sh", "-c", script},
		ReadyPattern: readyPattern,
		ReadyTimeout: 5 * time.Second,
		StopGrace:    500 * time.Millisecond,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	p, err := New(cfg, slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Stop() })
	return p
}

func TestNewValidation(t *testing.T) {
	t.Run("requires command", func(t *testing.T) {
		_, err := New(Config{ReadyPattern: readyPattern}, nil)
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("requires ready pattern", func(t *testing.T) {
		_, err := New(Config{Command: []string{"true"}}, nil)
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("rejects bad regex", func(t *testing.T) {
		_, err := New(Config{Command: []string{"true"}, ReadyPattern: "("}, nil)
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("defaults stop grace and name", func(t *testing.T) {
		p, err := New(Config{Command: []string{"/usr/bin/node"}, ReadyPattern: readyPattern}, nil)
		require.NoError(t, err)
		assert.Equal(t, DefaultStopGrace, p.cfg.StopGrace)
		assert.Equal(t, "node", p.Name())
		assert.Equal(t, StateNotStarted, p.State())
	})
}

func TestRunReady(t *testing.T) {
	p := newShellProcess(t, `echo booting; echo "Server started on port 3000"; sleep 30`, nil)

	require.NoError(t, p.Run(context.Background()))

	assert.True(t, p.IsRunning())
	assert.Equal(t, StateRunning, p.State())
	assert.Equal(t, "Server started on port 3000", p.ReadyLine())
	assert.Equal(t, []string{"Server started on port 3000", "3000"}, p.ReadyMatch())
	assert.NotZero(t, p.PID())
}

func TestRunOnLiveProcessIsNoop(t *testing.T) {
	p := newShellProcess(t, `echo "Server started on port 3000"; sleep 30`, nil)
	require.NoError(t, p.Run(context.Background()))
	pid := p.PID()

	require.NoError(t, p.Run(context.Background()))
	assert.Equal(t, pid, p.PID())
}

func TestReadinessOnStderr(t *testing.T) {
	p := newShellProcess(t, `echo "Server started on port 3001" 1>&2; sleep 30`, nil)

	require.NoError(t, p.Run(context.Background()))
	assert.Equal(t, "3001", p.ReadyMatch()[1])
}

func TestIsRunningObservesExit(t *testing.T) {
	p := newShellProcess(t, `echo "Server started on port 3000"; sleep 0.2; exit 3`, nil)
	require.NoError(t, p.Run(context.Background()))

	require.Eventually(t, func() bool { return !p.IsRunning() }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, StateStopped, p.State())
	assert.Error(t, p.ExitErr())
	assert.Zero(t, p.PID())
}

func TestExitedBeforeReady(t *testing.T) {
	p := newShellProcess(t, `echo "Cannot find module"; exit 1`, nil)

	err := p.Run(context.Background())
	require.ErrorIs(t, err, ErrExitedBeforeReady)
	assert.False(t, p.IsRunning())
}

func TestReadyThenImmediateExit(t *testing.T) {
	p := newShellProcess(t, `echo "Server started on port 3000"`, nil)

	require.NoError(t, p.Run(context.Background()))
	require.Eventually(t, func() bool { return !p.IsRunning() }, 5*time.Second, 10*time.Millisecond)
}

func TestStartupTimeoutStopsProcess(t *testing.T) {
	p := newShellProcess(t, `echo still loading; sleep 30`, func(c *Config) {
		c.ReadyTimeout = 200 * time.Millisecond
	})

	err := p.Run(context.Background())
	require.ErrorIs(t, err, ErrStartupTimeout)
	assert.False(t, p.IsRunning())
	assert.Equal(t, StateStopped, p.State())
}

func TestRunCancelled(t *testing.T) {
	p := newShellProcess(t, `sleep 30`, func(c *Config) { c.ReadyTimeout = 0 })

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := p.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, p.IsRunning())
}

func TestMissingExecutable(t *testing.T) {
	p, err := New(Config{
		Command:      []string{filepath.Join(t.TempDir(), "does-not-exist")},
		ReadyPattern: readyPattern,
	}, nil)
	require.NoError(t, err)

	err = p.Run(context.Background())
	require.Error(t, err)
	assert.False(t, p.IsRunning())
}

func TestStop(t *testing.T) {
	t.Run("terminates a running process", func(t *testing.T) {
		p := newShellProcess(t, `echo "Server started on port 3000"; sleep 30`, nil)
		require.NoError(t, p.Run(context.Background()))

		require.NoError(t, p.Stop())
		assert.False(t, p.IsRunning())
		assert.Equal(t, StateStopped, p.State())
	})

	t.Run("kills a process ignoring SIGTERM", func(t *testing.T) {
		p := newShellProcess(t, `trap '' TERM; echo "Server started on port 3000"; while true; do sleep 0.05; done`, func(c *Config) {
			c.StopGrace = 200 * time.Millisecond
		})
		require.NoError(t, p.Run(context.Background()))

		start := time.Now()
		require.NoError(t, p.Stop())
		assert.False(t, p.IsRunning())
		assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)
	})

	t.Run("is idempotent", func(t *testing.T) {
		p := newShellProcess(t, `echo "Server started on port 3000"; sleep 30`, nil)
		require.NoError(t, p.Run(context.Background()))

		require.NoError(t, p.Stop())
		require.NoError(t, p.Stop())
	})

	t.Run("never started", func(t *testing.T) {
		p := newShellProcess(t, `sleep 30`, nil)
		require.NoError(t, p.Stop())
		assert.Equal(t, StateStopped, p.State())
	})

	t.Run("can run again after stop", func(t *testing.T) {
		p := newShellProcess(t, `echo "Server started on port 3000"; sleep 30`, nil)
		require.NoError(t, p.Run(context.Background()))
		first := p.PID()
		require.NoError(t, p.Stop())

		require.NoError(t, p.Run(context.Background()))
		assert.True(t, p.IsRunning())
		assert.NotEqual(t, first, p.PID())
	})
}

func TestOutputPersistedToLogFile(t *testing.T) {
	logDir := filepath.Join(t.TempDir(), "mineflayer_bot1")
	p := newShellProcess(t, `echo "loading plugins"; echo "warn: slow" 1>&2; echo "Server started on port 3000"; sleep 30`, func(c *Config) {
		c.LogDir = logDir
	})
	require.NoError(t, p.Run(context.Background()))
	require.NoError(t, p.Stop())

	entries, err := os.ReadDir(logDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Regexp(t, `^\d{8}_\d{6}\.log$`, entries[0].Name())

	var data []byte
	require.Eventually(t, func() bool {
		data, err = os.ReadFile(filepath.Join(logDir, entries[0].Name()))
		return err == nil && len(data) > 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Contains(t, string(data), "loading plugins")
	assert.Contains(t, string(data), "warn: slow")
	assert.Contains(t, string(data), "Server started on port 3000")
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "unknown", State(99).String())
	assert.True(t, errors.Is(ErrStartupTimeout, ErrStartupTimeout))
}
