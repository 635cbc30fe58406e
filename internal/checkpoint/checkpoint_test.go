// ABOUTME: Tests for per-agent log directories and the locked checkpoint directory.
// ABOUTME: Verifies chest memory seeding, preservation and lock exclusivity.

package checkpoint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogDirs(t *testing.T) {
	root := t.TempDir()

	worker, server, err := LogDirs(root, "bot1")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(root, "mineflayer_bot1"), worker)
	assert.Equal(t, filepath.Join(root, "minecraft_bot1"), server)
	assert.DirExists(t, worker)
	assert.DirExists(t, server)
}

func TestOpenSeedsChestMemory(t *testing.T) {
	root := t.TempDir()

	dir, err := Open(root, "bot1")
	require.NoError(t, err)
	defer dir.Close()

	data, err := os.ReadFile(dir.ChestMemoryPath())
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(data))
	assert.Equal(t, filepath.Join(root, "bot1"), dir.Path())
}

func TestOpenPreservesExistingChestMemory(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "bot1"), 0755))
	existing := `{"(1, 64, 2)": {"oak_log": 3}}`
	require.NoError(t, os.WriteFile(filepath.Join(root, "bot1", "chest_memory.json"), []byte(existing), 0644))

	dir, err := Open(root, "bot1")
	require.NoError(t, err)
	defer dir.Close()

	data, err := os.ReadFile(dir.ChestMemoryPath())
	require.NoError(t, err)
	assert.Equal(t, existing, string(data))
}

func TestOpenIsExclusive(t *testing.T) {
	root := t.TempDir()

	first, err := Open(root, "bot1")
	require.NoError(t, err)

	_, err = Open(root, "bot1")
	require.ErrorIs(t, err, ErrLocked)

	other, err := Open(root, "bot2")
	require.NoError(t, err, "other agents are unaffected")
	require.NoError(t, other.Close())

	require.NoError(t, first.Close())
	require.NoError(t, first.Close(), "close is idempotent")

	again, err := Open(root, "bot1")
	require.NoError(t, err)
	require.NoError(t, again.Close())
}
