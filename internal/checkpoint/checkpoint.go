// ABOUTME: Per-agent filesystem layout: worker/game-server log directories and the checkpoint directory.
// ABOUTME: The checkpoint directory is guarded by an exclusive file lock so two supervisors never share it.

package checkpoint

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
)

// ErrLocked indicates another supervisor holds the agent's checkpoint directory.
var ErrLocked = errors.New("checkpoint: directory locked by another process")

const (
	chestMemoryFile = "chest_memory.json"
	lockFile        = ".lock"
)

// LogDirs creates the worker and game-server log directories for agent id
// under root and returns their paths.
func LogDirs(root, id string) (worker, server string, err error) {
	worker = filepath.Join(root, "mineflayer_"+id)
	server = filepath.Join(root, "minecraft_"+id)
	for _, dir := range []string{worker, server} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", "", fmt.Errorf("creating log directory: %w", err)
		}
	}
	return worker, server, nil
}

// Dir is an agent's locked checkpoint directory.
type Dir struct {
	path string
	lock *flock.Flock
	once sync.Once
}

// Open prepares <root>/<id>, seeds chest_memory.json with an empty object
// when absent and takes the directory lock.
func Open(root, id string) (*Dir, error) {
	path := filepath.Join(root, id)
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("creating checkpoint directory: %w", err)
	}

	lock := flock.New(filepath.Join(path, lockFile))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring checkpoint lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrLocked, path)
	}

	memory := filepath.Join(path, chestMemoryFile)
	if _, err := os.Stat(memory); errors.Is(err, os.ErrNotExist) {
		if err := os.WriteFile(memory, []byte("{}"), 0644); err != nil {
			_ = lock.Unlock()
			return nil, fmt.Errorf("writing %s: %w", chestMemoryFile, err)
		}
	} else if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("checking %s: %w", chestMemoryFile, err)
	}

	return &Dir{path: path, lock: lock}, nil
}

// Path returns the checkpoint directory.
func (d *Dir) Path() string { return d.path }

// ChestMemoryPath returns the path of the chest memory file.
func (d *Dir) ChestMemoryPath() string { return filepath.Join(d.path, chestMemoryFile) }

// Close releases the directory lock. Repeated calls are no-ops.
func (d *Dir) Close() error {
	var err error
	d.once.Do(func() {
		err = d.lock.Unlock()
	})
	return err
}
