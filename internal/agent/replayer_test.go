// ABOUTME: Tests for skill library loading and the replayer runtime.
// ABOUTME: Uses a recording bridge to check reset options, step payloads and failure limits.

package agent

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-voyage/internal/session"
)

func writeSkill(t *testing.T, dir, name, code string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(code), 0644))
}

func TestLoadSkills(t *testing.T) {
	t.Run("reads code subdirectory sorted", func(t *testing.T) {
		root := t.TempDir()
		code := filepath.Join(root, "code")
		writeSkill(t, code, "mineOneLapisOre.js", "async function mineOneLapisOre(bot) {}")
		writeSkill(t, code, "craftIronSword.js", "async function craftIronSword(bot) {}")
		writeSkill(t, code, "notes.txt", "ignored")

		skills, err := LoadSkills(root)
		require.NoError(t, err)
		require.Len(t, skills, 2)
		assert.Equal(t, "craftIronSword", skills[0].Name)
		assert.Equal(t, "mineOneLapisOre", skills[1].Name)
		assert.Contains(t, skills[1].Code, "mineOneLapisOre(bot)")
	})

	t.Run("falls back to the directory itself", func(t *testing.T) {
		root := t.TempDir()
		writeSkill(t, root, "craftStonePickaxeV2.js", "async function craftStonePickaxeV2(bot) {}")

		skills, err := LoadSkills(root)
		require.NoError(t, err)
		require.Len(t, skills, 1)
		assert.Equal(t, "craftStonePickaxeV2", skills[0].Name)
	})

	t.Run("empty library", func(t *testing.T) {
		_, err := LoadSkills(t.TempDir())
		assert.Error(t, err)
	})

	t.Run("invalid function name", func(t *testing.T) {
		root := t.TempDir()
		writeSkill(t, root, "craft-iron-sword.js", "")
		_, err := LoadSkills(root)
		assert.Error(t, err)
	})
}

// recordingBridge captures every call the replayer makes.
type recordingBridge struct {
	mu       sync.Mutex
	resets   []session.ResetRequest
	codes    []string
	programs []string
	closes   int
	resetErr error
	stepErrs []error
	stepRes  session.StepResult
}

func (b *recordingBridge) Reset(_ context.Context, req session.ResetRequest) (session.Observation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resets = append(b.resets, req)
	return session.Observation{{Type: session.EventObserve}}, b.resetErr
}

func (b *recordingBridge) Step(_ context.Context, code, programs string) (session.StepResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.codes = append(b.codes, code)
	b.programs = append(b.programs, programs)
	if len(b.stepErrs) > 0 {
		err := b.stepErrs[0]
		b.stepErrs = b.stepErrs[1:]
		if err != nil {
			return session.StepResult{}, err
		}
	}
	return b.stepRes, nil
}

func (b *recordingBridge) Close(context.Context) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closes++
	return true
}

var testSkills = []Skill{
	{Name: "mineWoodLog", Code: "async function mineWoodLog(bot) {}"},
	{Name: "craftTable", Code: "async function craftTable(bot) {}"},
}

func TestReplayerLearn(t *testing.T) {
	bridge := &recordingBridge{}
	r, err := NewReplayer(ReplayerConfig{
		Skills:        testSkills,
		Inventory:     map[string]int{"wooden_pickaxe": 1},
		MaxIterations: 5,
	}, bridge, nil)
	require.NoError(t, err)

	require.NoError(t, r.Learn(context.Background()))

	require.Len(t, bridge.resets, 1)
	assert.Equal(t, session.ResetHard, bridge.resets[0].Mode)
	assert.Equal(t, map[string]int{"wooden_pickaxe": 1}, bridge.resets[0].Inventory)

	assert.Equal(t, []string{
		"await mineWoodLog(bot);",
		"await craftTable(bot);",
		"await mineWoodLog(bot);",
		"await craftTable(bot);",
		"await mineWoodLog(bot);",
	}, bridge.codes)
	assert.True(t, strings.Contains(bridge.programs[0], "function craftTable") &&
		strings.Contains(bridge.programs[0], "function mineWoodLog"))
}

func TestReplayerResetFailure(t *testing.T) {
	bridge := &recordingBridge{resetErr: session.ErrWorkerStartFailed}
	r, err := NewReplayer(ReplayerConfig{Skills: testSkills}, bridge, nil)
	require.NoError(t, err)

	err = r.Learn(context.Background())
	require.ErrorIs(t, err, session.ErrWorkerStartFailed)
	assert.Empty(t, bridge.codes)
}

func TestReplayerConsecutiveFailures(t *testing.T) {
	stepErr := session.ErrWorkerRequestFailed
	bridge := &recordingBridge{stepErrs: []error{stepErr, nil, stepErr, stepErr, stepErr}}
	r, err := NewReplayer(ReplayerConfig{Skills: testSkills, MaxConsecutiveFailures: 3}, bridge, nil)
	require.NoError(t, err)

	err = r.Learn(context.Background())
	require.ErrorIs(t, err, session.ErrWorkerRequestFailed)
	assert.Contains(t, err.Error(), "3 consecutive step failures")
	assert.Len(t, bridge.codes, 5, "a success resets the failure count")
}

func TestReplayerStopsOnClosedSession(t *testing.T) {
	bridge := &recordingBridge{stepErrs: []error{session.ErrClosed}}
	r, err := NewReplayer(ReplayerConfig{Skills: testSkills}, bridge, nil)
	require.NoError(t, err)

	require.ErrorIs(t, r.Learn(context.Background()), session.ErrClosed)
	assert.Len(t, bridge.codes, 1)
}

func TestReplayerEpisodeEnd(t *testing.T) {
	bridge := &recordingBridge{stepRes: session.StepResult{Terminated: true}}
	r, err := NewReplayer(ReplayerConfig{Skills: testSkills}, bridge, nil)
	require.NoError(t, err)

	require.NoError(t, r.Learn(context.Background()))
	assert.Len(t, bridge.codes, 1)
}

func TestReplayerObservesCancellation(t *testing.T) {
	bridge := &recordingBridge{}
	r, err := NewReplayer(ReplayerConfig{Skills: testSkills}, bridge, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, r.Learn(ctx), context.Canceled)
}

type countingCloser struct{ n int }

func (c *countingCloser) Close() error {
	c.n++
	if c.n > 1 {
		return errors.New("already unlocked")
	}
	return nil
}

func TestReplayerClose(t *testing.T) {
	bridge := &recordingBridge{}
	lock := &countingCloser{}
	r, err := NewReplayer(ReplayerConfig{Skills: testSkills, Checkpoint: lock}, bridge, nil)
	require.NoError(t, err)

	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
	assert.Equal(t, 2, bridge.closes, "bridge close is attempted every time")
	assert.Equal(t, 1, lock.n, "checkpoint lock is released once")
}

func TestNewReplayerRequiresSkills(t *testing.T) {
	_, err := NewReplayer(ReplayerConfig{}, &recordingBridge{}, nil)
	assert.Error(t, err)
}
