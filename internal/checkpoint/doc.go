// Package checkpoint lays out the per-agent directories on disk.
//
// Log directories follow the mineflayer_<id> / minecraft_<id> naming the
// worker tooling expects. Checkpoint directories hold chest_memory.json and
// are locked with gofrs/flock while an agent is live.
package checkpoint
