// ABOUTME: Configuration loading and parsing for coven-voyage
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// DefaultReadyPattern is the worker's readiness line.
const DefaultReadyPattern = `Server started on port (\d+)`

// Config represents the complete coven-voyage configuration
type Config struct {
	Agents   AgentsConfig   `yaml:"agents" toml:"agents"`
	Worker   WorkerConfig   `yaml:"worker" toml:"worker"`
	Game     GameConfig     `yaml:"game" toml:"game"`
	Skills   SkillsConfig   `yaml:"skills" toml:"skills"`
	Paths    PathsConfig    `yaml:"paths" toml:"paths"`
	Database DatabaseConfig `yaml:"database" toml:"database"`
	Status   StatusConfig   `yaml:"status" toml:"status"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`
}

// AgentsConfig holds fleet size, identity and manager timing
type AgentsConfig struct {
	Count    int    `yaml:"count" toml:"count"`
	IDPrefix string `yaml:"id_prefix" toml:"id_prefix"` // agent IDs are <prefix><index+1>
	BasePort int    `yaml:"base_port" toml:"base_port"` // agent i listens on base_port+i

	CreateDelay  time.Duration `yaml:"-" toml:"-"`
	LaunchDelay  time.Duration `yaml:"-" toml:"-"`
	RetryBackoff time.Duration `yaml:"-" toml:"-"`
	JoinTimeout  time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	CreateDelayRaw  string `yaml:"create_delay" toml:"create_delay"`
	LaunchDelayRaw  string `yaml:"launch_delay" toml:"launch_delay"`
	RetryBackoffRaw string `yaml:"retry_backoff" toml:"retry_backoff"`
	JoinTimeoutRaw  string `yaml:"join_timeout" toml:"join_timeout"`
}

// WorkerConfig describes the worker process and how the bridge talks to it
type WorkerConfig struct {
	// Command is the worker executable and arguments; the agent's port is appended.
	Command         []string `yaml:"command" toml:"command"`
	ReadyPattern    string   `yaml:"ready_pattern" toml:"ready_pattern"`
	Host            string   `yaml:"host" toml:"host"`
	MaxStartRetries int      `yaml:"max_start_retries" toml:"max_start_retries"`

	RequestTimeout  time.Duration `yaml:"-" toml:"-"`
	ReadyTimeout    time.Duration `yaml:"-" toml:"-"`
	StopGrace       time.Duration `yaml:"-" toml:"-"`
	ExitWait        time.Duration `yaml:"-" toml:"-"`
	ExitSettle      time.Duration `yaml:"-" toml:"-"`
	StartRetryDelay time.Duration `yaml:"-" toml:"-"`

	RequestTimeoutRaw  string `yaml:"request_timeout" toml:"request_timeout"`
	ReadyTimeoutRaw    string `yaml:"ready_timeout" toml:"ready_timeout"`
	StopGraceRaw       string `yaml:"stop_grace" toml:"stop_grace"`
	ExitWaitRaw        string `yaml:"exit_wait" toml:"exit_wait"`
	ExitSettleRaw      string `yaml:"exit_settle" toml:"exit_settle"`
	StartRetryDelayRaw string `yaml:"start_retry_delay" toml:"start_retry_delay"`
}

// GameConfig selects the game endpoint: a fixed port or a managed server
type GameConfig struct {
	Port   int              `yaml:"port" toml:"port"`
	Server GameServerConfig `yaml:"server" toml:"server"`
}

// GameServerConfig describes a game server launched per agent
type GameServerConfig struct {
	Command      []string      `yaml:"command" toml:"command"`
	ReadyPattern string        `yaml:"ready_pattern" toml:"ready_pattern"` // first capture group is the port
	ReadyTimeout time.Duration `yaml:"-" toml:"-"`

	ReadyTimeoutRaw string `yaml:"ready_timeout" toml:"ready_timeout"`
}

// Enabled reports whether a managed game server is configured
func (g GameServerConfig) Enabled() bool {
	return len(g.Command) > 0
}

// SkillsConfig configures the skill replayer runtime
type SkillsConfig struct {
	Dir                    string         `yaml:"dir" toml:"dir"`
	MaxIterations          int            `yaml:"max_iterations" toml:"max_iterations"` // 0 runs forever
	MaxConsecutiveFailures int            `yaml:"max_consecutive_failures" toml:"max_consecutive_failures"`
	Inventory              map[string]int `yaml:"inventory" toml:"inventory"` // granted on the initial hard reset
}

// PathsConfig holds on-disk locations
type PathsConfig struct {
	LogDir        string `yaml:"log_dir" toml:"log_dir"`
	CheckpointDir string `yaml:"checkpoint_dir" toml:"checkpoint_dir"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`

	// DedupeWindow collapses identical events from one agent; zero records every event
	DedupeWindow    time.Duration `yaml:"-" toml:"-"`
	DedupeWindowRaw string        `yaml:"dedupe_window" toml:"dedupe_window"`
}

// StatusConfig holds the status HTTP server configuration
type StatusConfig struct {
	// HTTPAddr is empty to disable the status server
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Default returns a Config with every optional field set.
func Default() *Config {
	return &Config{
		Agents: AgentsConfig{
			Count:        1,
			IDPrefix:     "bot",
			BasePort:     3000,
			CreateDelay:  5 * time.Second,
			LaunchDelay:  5 * time.Second,
			RetryBackoff: 5 * time.Second,
			JoinTimeout:  30 * time.Second,
		},
		Worker: WorkerConfig{
			ReadyPattern:    DefaultReadyPattern,
			Host:            "http://127.0.0.1",
			MaxStartRetries: 3,
			RequestTimeout:  10 * time.Minute,
			ReadyTimeout:    time.Minute,
			StopGrace:       5 * time.Second,
			ExitWait:        5 * time.Second,
			StartRetryDelay: time.Second,
		},
		Game: GameConfig{
			Server: GameServerConfig{
				ReadyPattern: DefaultReadyPattern,
				ReadyTimeout: 5 * time.Minute,
			},
		},
		Skills: SkillsConfig{
			MaxConsecutiveFailures: 10,
		},
		Paths: PathsConfig{
			LogDir:        "./logs",
			CheckpointDir: "./checkpoint",
		},
		Database: DatabaseConfig{
			DedupeWindow: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are parsed as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw content
	expandedData := expandEnvVars(string(data))

	cfg := Default()
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expandedData, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expandedData), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Agents.Count < 1 {
		return fmt.Errorf("agents.count must be at least 1")
	}
	if c.Agents.BasePort < 1 || c.Agents.BasePort+c.Agents.Count-1 > 65535 {
		return fmt.Errorf("agents.base_port %d leaves no room for %d agents", c.Agents.BasePort, c.Agents.Count)
	}
	if c.Agents.IDPrefix == "" {
		return fmt.Errorf("agents.id_prefix is required")
	}

	if len(c.Worker.Command) == 0 {
		return fmt.Errorf("worker.command is required")
	}
	if _, err := regexp.Compile(c.Worker.ReadyPattern); err != nil {
		return fmt.Errorf("worker.ready_pattern: %w", err)
	}
	if c.Worker.MaxStartRetries < 0 {
		return fmt.Errorf("worker.max_start_retries must not be negative")
	}

	// A game endpoint is mandatory
	if c.Game.Port == 0 && !c.Game.Server.Enabled() {
		return fmt.Errorf("either game.port or game.server.command must be specified")
	}
	if c.Game.Server.Enabled() {
		re, err := regexp.Compile(c.Game.Server.ReadyPattern)
		if err != nil {
			return fmt.Errorf("game.server.ready_pattern: %w", err)
		}
		if re.NumSubexp() < 1 {
			return fmt.Errorf("game.server.ready_pattern must capture the port")
		}
	}

	if c.Skills.Dir == "" {
		return fmt.Errorf("skills.dir is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"agents.create_delay", cfg.Agents.CreateDelayRaw, &cfg.Agents.CreateDelay},
		{"agents.launch_delay", cfg.Agents.LaunchDelayRaw, &cfg.Agents.LaunchDelay},
		{"agents.retry_backoff", cfg.Agents.RetryBackoffRaw, &cfg.Agents.RetryBackoff},
		{"agents.join_timeout", cfg.Agents.JoinTimeoutRaw, &cfg.Agents.JoinTimeout},
		{"worker.request_timeout", cfg.Worker.RequestTimeoutRaw, &cfg.Worker.RequestTimeout},
		{"worker.ready_timeout", cfg.Worker.ReadyTimeoutRaw, &cfg.Worker.ReadyTimeout},
		{"worker.stop_grace", cfg.Worker.StopGraceRaw, &cfg.Worker.StopGrace},
		{"worker.exit_wait", cfg.Worker.ExitWaitRaw, &cfg.Worker.ExitWait},
		{"worker.exit_settle", cfg.Worker.ExitSettleRaw, &cfg.Worker.ExitSettle},
		{"worker.start_retry_delay", cfg.Worker.StartRetryDelayRaw, &cfg.Worker.StartRetryDelay},
		{"game.server.ready_timeout", cfg.Game.Server.ReadyTimeoutRaw, &cfg.Game.Server.ReadyTimeout},
		{"database.dedupe_window", cfg.Database.DedupeWindowRaw, &cfg.Database.DedupeWindow},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must not be negative, got %q", f.name, f.raw)
		}
		*f.dst = d
	}

	return nil
}
