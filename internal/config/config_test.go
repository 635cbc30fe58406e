// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML loading, env var expansion, defaults, duration parsing and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

const minimalYAML = `
worker:
  command: ["node", "index.js"]
game:
  port: 25565
skills:
  dir: "./skills"
database:
  path: "./voyage.db"
`

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, "voyage.yaml", `
agents:
  count: 2
  id_prefix: "miner"
  base_port: 4000
  create_delay: "2s"
  launch_delay: "3s"
  retry_backoff: "4s"
  join_timeout: "45s"

worker:
  command: ["node", "mineflayer/index.js"]
  host: "http://localhost"
  request_timeout: "2m"
  ready_timeout: "30s"
  stop_grace: "1s"
  exit_wait: "3s"
  exit_settle: "1s"
  start_retry_delay: "500ms"
  max_start_retries: 5

game:
  port: 25565

skills:
  dir: "./skill_library/trial1/skill"
  max_iterations: 10
  inventory:
    wooden_pickaxe: 1
    oak_log: 4

paths:
  log_dir: "/tmp/voyage-logs"

database:
  path: "./test.db"
  dedupe_window: "0s"

status:
  http_addr: "127.0.0.1:8089"

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Agents.Count != 2 {
		t.Errorf("Agents.Count = %d, want 2", cfg.Agents.Count)
	}
	if cfg.Agents.IDPrefix != "miner" {
		t.Errorf("Agents.IDPrefix = %q, want %q", cfg.Agents.IDPrefix, "miner")
	}
	if cfg.Agents.BasePort != 4000 {
		t.Errorf("Agents.BasePort = %d, want 4000", cfg.Agents.BasePort)
	}
	if cfg.Agents.CreateDelay != 2*time.Second {
		t.Errorf("Agents.CreateDelay = %v, want 2s", cfg.Agents.CreateDelay)
	}
	if cfg.Agents.LaunchDelay != 3*time.Second {
		t.Errorf("Agents.LaunchDelay = %v, want 3s", cfg.Agents.LaunchDelay)
	}
	if cfg.Agents.RetryBackoff != 4*time.Second {
		t.Errorf("Agents.RetryBackoff = %v, want 4s", cfg.Agents.RetryBackoff)
	}
	if cfg.Agents.JoinTimeout != 45*time.Second {
		t.Errorf("Agents.JoinTimeout = %v, want 45s", cfg.Agents.JoinTimeout)
	}

	if len(cfg.Worker.Command) != 2 || cfg.Worker.Command[1] != "mineflayer/index.js" {
		t.Errorf("Worker.Command = %v", cfg.Worker.Command)
	}
	if cfg.Worker.RequestTimeout != 2*time.Minute {
		t.Errorf("Worker.RequestTimeout = %v, want 2m", cfg.Worker.RequestTimeout)
	}
	if cfg.Worker.StartRetryDelay != 500*time.Millisecond {
		t.Errorf("Worker.StartRetryDelay = %v, want 500ms", cfg.Worker.StartRetryDelay)
	}
	if cfg.Worker.ExitSettle != time.Second {
		t.Errorf("Worker.ExitSettle = %v, want 1s", cfg.Worker.ExitSettle)
	}
	if cfg.Worker.MaxStartRetries != 5 {
		t.Errorf("Worker.MaxStartRetries = %d, want 5", cfg.Worker.MaxStartRetries)
	}
	if cfg.Worker.ReadyPattern != DefaultReadyPattern {
		t.Errorf("Worker.ReadyPattern = %q, want default", cfg.Worker.ReadyPattern)
	}

	if cfg.Skills.Inventory["oak_log"] != 4 {
		t.Errorf("Skills.Inventory[oak_log] = %d, want 4", cfg.Skills.Inventory["oak_log"])
	}
	if cfg.Skills.MaxIterations != 10 {
		t.Errorf("Skills.MaxIterations = %d, want 10", cfg.Skills.MaxIterations)
	}

	if cfg.Paths.LogDir != "/tmp/voyage-logs" {
		t.Errorf("Paths.LogDir = %q", cfg.Paths.LogDir)
	}
	if cfg.Paths.CheckpointDir != "./checkpoint" {
		t.Errorf("Paths.CheckpointDir = %q, want default", cfg.Paths.CheckpointDir)
	}
	if cfg.Database.DedupeWindow != 0 {
		t.Errorf("Database.DedupeWindow = %v, want 0 (disabled)", cfg.Database.DedupeWindow)
	}
	if cfg.Status.HTTPAddr != "127.0.0.1:8089" {
		t.Errorf("Status.HTTPAddr = %q", cfg.Status.HTTPAddr)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want json", cfg.Logging.Format)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "voyage.yaml", minimalYAML))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	want := Default()
	if cfg.Agents.Count != want.Agents.Count {
		t.Errorf("Agents.Count = %d, want %d", cfg.Agents.Count, want.Agents.Count)
	}
	if cfg.Agents.BasePort != 3000 {
		t.Errorf("Agents.BasePort = %d, want 3000", cfg.Agents.BasePort)
	}
	if cfg.Agents.CreateDelay != 5*time.Second {
		t.Errorf("Agents.CreateDelay = %v, want 5s", cfg.Agents.CreateDelay)
	}
	if cfg.Worker.MaxStartRetries != 3 {
		t.Errorf("Worker.MaxStartRetries = %d, want 3", cfg.Worker.MaxStartRetries)
	}
	if cfg.Worker.RequestTimeout != 10*time.Minute {
		t.Errorf("Worker.RequestTimeout = %v, want 10m", cfg.Worker.RequestTimeout)
	}
	if cfg.Game.Server.Enabled() {
		t.Error("Game.Server.Enabled() = true, want false")
	}
	if cfg.Database.DedupeWindow != 30*time.Second {
		t.Errorf("Database.DedupeWindow = %v, want 30s", cfg.Database.DedupeWindow)
	}
}

func TestLoad_TOML(t *testing.T) {
	configPath := writeConfig(t, "voyage.toml", `
[agents]
count = 3
create_delay = "1s"

[worker]
command = ["node", "index.js"]

[game.server]
command = ["./start-server.sh"]
ready_timeout = "2m"

[skills]
dir = "./skills"

[skills.inventory]
stone = 8

[database]
path = "./voyage.db"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Agents.Count != 3 {
		t.Errorf("Agents.Count = %d, want 3", cfg.Agents.Count)
	}
	if cfg.Agents.CreateDelay != time.Second {
		t.Errorf("Agents.CreateDelay = %v, want 1s", cfg.Agents.CreateDelay)
	}
	if !cfg.Game.Server.Enabled() {
		t.Error("Game.Server.Enabled() = false, want true")
	}
	if cfg.Game.Server.ReadyTimeout != 2*time.Minute {
		t.Errorf("Game.Server.ReadyTimeout = %v, want 2m", cfg.Game.Server.ReadyTimeout)
	}
	if cfg.Skills.Inventory["stone"] != 8 {
		t.Errorf("Skills.Inventory[stone] = %d, want 8", cfg.Skills.Inventory["stone"])
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("VOYAGE_TEST_DB", "/var/lib/voyage/test.db")

	content := strings.Replace(minimalYAML, `"./voyage.db"`, `"${VOYAGE_TEST_DB}"`, 1)
	cfg, err := Load(writeConfig(t, "voyage.yaml", content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Database.Path != "/var/lib/voyage/test.db" {
		t.Errorf("Database.Path = %q, want expanded value", cfg.Database.Path)
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("VOYAGE_SET", "value")

	tests := []struct {
		in   string
		want string
	}{
		{"${VOYAGE_SET}", "value"},
		{"prefix-${VOYAGE_SET}-suffix", "prefix-value-suffix"},
		{"${VOYAGE_UNSET_FOR_TEST}", ""},
		{"no vars", "no vars"},
	}
	for _, tt := range tests {
		if got := expandEnvVars(tt.in); got != tt.want {
			t.Errorf("expandEnvVars(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "invalid duration",
			content: minimalYAML + "agents:\n  create_delay: \"soon\"\n",
			wantErr: "agents.create_delay",
		},
		{
			name:    "negative duration",
			content: minimalYAML + "agents:\n  join_timeout: \"-1s\"\n",
			wantErr: "must not be negative",
		},
		{
			name:    "missing game endpoint",
			content: strings.Replace(minimalYAML, "port: 25565", "port: 0", 1),
			wantErr: "game.port or game.server.command",
		},
		{
			name:    "missing worker command",
			content: strings.Replace(minimalYAML, `command: ["node", "index.js"]`, `command: []`, 1),
			wantErr: "worker.command",
		},
		{
			name:    "ports overflow",
			content: minimalYAML + "agents:\n  count: 10\n  base_port: 65530\n",
			wantErr: "base_port",
		},
		{
			name:    "bad log format",
			content: minimalYAML + "logging:\n  format: \"xml\"\n",
			wantErr: "logging.format",
		},
		{
			name:    "game server pattern without capture",
			content: strings.Replace(minimalYAML, "game:\n  port: 25565", "game:\n  server:\n    command: [\"srv\"]\n    ready_pattern: \"ready\"", 1),
			wantErr: "capture the port",
		},
		{
			name:    "malformed yaml",
			content: "agents: [",
			wantErr: "parsing config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, "voyage.yaml", tt.content))
			if err == nil {
				t.Fatal("Load() error = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %v, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("Load() error = nil, want error")
	}
}

func TestSampleLoads(t *testing.T) {
	t.Setenv("HOME", "/home/tester")

	cfg, err := Load(writeConfig(t, "voyage.yaml", Sample))
	if err != nil {
		t.Fatalf("Load(Sample) error = %v", err)
	}
	if cfg.Agents.Count != 2 {
		t.Errorf("Agents.Count = %d, want 2", cfg.Agents.Count)
	}
	if cfg.Database.Path != "/home/tester/.local/share/coven/voyage.db" {
		t.Errorf("Database.Path = %q", cfg.Database.Path)
	}
}
