// ABOUTME: Skill replayer runtime: resets the session once per Learn and replays a skill library round-robin.
// ABOUTME: Stands in for decision logic, which lives outside this repository.

package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/2389/coven-voyage/internal/session"
)

// DefaultCloseTimeout bounds the bridge's best-effort /stop on Close.
const DefaultCloseTimeout = 10 * time.Second

// DefaultMaxConsecutiveFailures is used when ReplayerConfig leaves it unset.
const DefaultMaxConsecutiveFailures = 10

var skillName = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)

// Skill is one JavaScript function from a skill library. Name is the
// function the file defines.
type Skill struct {
	Name string
	Code string
}

// LoadSkills reads every .js file under dir/code, or dir itself when it has
// no code subdirectory, sorted by name.
func LoadSkills(dir string) ([]Skill, error) {
	codeDir := filepath.Join(dir, "code")
	if info, err := os.Stat(codeDir); err != nil || !info.IsDir() {
		codeDir = dir
	}

	paths, err := filepath.Glob(filepath.Join(codeDir, "*.js"))
	if err != nil {
		return nil, fmt.Errorf("listing skills: %w", err)
	}
	sort.Strings(paths)

	var skills []Skill
	for _, p := range paths {
		name := strings.TrimSuffix(filepath.Base(p), ".js")
		if !skillName.MatchString(name) {
			return nil, fmt.Errorf("skill file %s: %q is not a valid function name", p, name)
		}
		code, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("reading skill %s: %w", name, err)
		}
		skills = append(skills, Skill{Name: name, Code: string(code)})
	}
	if len(skills) == 0 {
		return nil, fmt.Errorf("no skills found in %s", codeDir)
	}
	return skills, nil
}

// Bridge is the part of *session.Bridge the replayer drives.
type Bridge interface {
	Reset(ctx context.Context, req session.ResetRequest) (session.Observation, error)
	Step(ctx context.Context, code, programs string) (session.StepResult, error)
	Close(ctx context.Context) bool
}

var _ Bridge = (*session.Bridge)(nil)

// ReplayerConfig configures a Replayer.
type ReplayerConfig struct {
	Skills []Skill

	// Inventory is granted on the hard reset at the start of each Learn.
	Inventory map[string]int

	// MaxIterations ends Learn after that many steps. Zero runs until ctx ends.
	MaxIterations int

	MaxConsecutiveFailures int
	CloseTimeout           time.Duration

	// Checkpoint is released on Close, typically a *checkpoint.Dir.
	Checkpoint io.Closer
}

// Replayer is a Runtime that replays skills over a session bridge.
type Replayer struct {
	cfg      ReplayerConfig
	bridge   Bridge
	programs string
	logger   *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

// NewReplayer creates a Replayer for bridge.
func NewReplayer(cfg ReplayerConfig, bridge Bridge, logger *slog.Logger) (*Replayer, error) {
	if len(cfg.Skills) == 0 {
		return nil, errors.New("replayer needs at least one skill")
	}
	if cfg.MaxConsecutiveFailures <= 0 {
		cfg.MaxConsecutiveFailures = DefaultMaxConsecutiveFailures
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = DefaultCloseTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	sources := make([]string, len(cfg.Skills))
	for i, s := range cfg.Skills {
		sources[i] = s.Code
	}

	return &Replayer{
		cfg:      cfg,
		bridge:   bridge,
		programs: strings.Join(sources, "\n\n"),
		logger:   logger.With("component", "replayer"),
	}, nil
}

// Learn hard-resets the session and steps through the skills in order.
func (r *Replayer) Learn(ctx context.Context) error {
	obs, err := r.bridge.Reset(ctx, session.ResetRequest{
		Mode:      session.ResetHard,
		Inventory: r.cfg.Inventory,
	})
	if err != nil {
		return fmt.Errorf("initial reset: %w", err)
	}
	r.logger.Info("session reset", "events", len(obs), "skills", len(r.cfg.Skills))

	failures := 0
	for i := 0; r.cfg.MaxIterations == 0 || i < r.cfg.MaxIterations; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		skill := r.cfg.Skills[i%len(r.cfg.Skills)]
		res, err := r.bridge.Step(ctx, fmt.Sprintf("await %s(bot);", skill.Name), r.programs)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, session.ErrClosed) {
				return err
			}
			failures++
			r.logger.Warn("skill step failed", "skill", skill.Name, "consecutive_failures", failures, "error", err)
			if failures >= r.cfg.MaxConsecutiveFailures {
				return fmt.Errorf("%d consecutive step failures: %w", failures, err)
			}
			continue
		}
		failures = 0

		if n := res.Observation.Count(session.EventError); n > 0 {
			r.logger.Info("skill reported errors", "skill", skill.Name, "errors", n)
		} else {
			r.logger.Debug("skill step done", "skill", skill.Name, "events", len(res.Observation))
		}
		if res.Terminated || res.Truncated {
			r.logger.Info("episode ended", "skill", skill.Name, "terminated", res.Terminated, "truncated", res.Truncated)
			return nil
		}
	}
	return nil
}

// Close ends the session and releases the checkpoint directory.
func (r *Replayer) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.CloseTimeout)
	defer cancel()

	if !r.bridge.Close(ctx) {
		r.logger.Warn("session did not disconnect cleanly")
	}

	r.closeOnce.Do(func() {
		if r.cfg.Checkpoint != nil {
			r.closeErr = r.cfg.Checkpoint.Close()
		}
	})
	return r.closeErr
}
