// ABOUTME: Reset options: the caller-facing ResetRequest and the ResetOptions wire record sent to /start.
// ABOUTME: Enforces that inventory can only be set on a hard reset.

package session

import (
	"fmt"
	"maps"
	"slices"
)

// ResetMode selects how much world state the worker discards on /start.
type ResetMode string

const (
	ResetHard ResetMode = "hard"
	ResetSoft ResetMode = "soft"
)

// DefaultWaitTicks is the number of game ticks the worker waits after a reset.
const DefaultWaitTicks = 5

// Position is a block coordinate in the game world.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// ResetRequest carries caller overrides for Reset. Zero values select defaults.
type ResetRequest struct {
	// Mode defaults to ResetHard.
	Mode ResetMode

	// Inventory is only allowed with ResetHard.
	Inventory map[string]int

	Equipment []string
	Spread    bool

	// WaitTicks values <= 0 use DefaultWaitTicks.
	WaitTicks int

	Position *Position
}

// ResetOptions is the record posted to /start. Field names are fixed by the worker.
type ResetOptions struct {
	Port       int            `json:"port"`
	Reset      ResetMode      `json:"reset"`
	Inventory  map[string]int `json:"inventory"`
	Equipment  []string       `json:"equipment"`
	Spread     bool           `json:"spread"`
	WaitTicks  int            `json:"waitTicks"`
	Position   *Position      `json:"position"`
	Username   string         `json:"username"`
	ServerPort int            `json:"server_port"`
}

// Validate checks the request without touching the network.
func (r ResetRequest) Validate() error {
	switch r.Mode {
	case "", ResetHard, ResetSoft:
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidOptions, r.Mode)
	}
	if len(r.Inventory) > 0 && r.mode() != ResetHard {
		return fmt.Errorf("%w: inventory can only be set when mode is hard", ErrInvalidOptions)
	}
	return nil
}

func (r ResetRequest) mode() ResetMode {
	if r.Mode == "" {
		return ResetHard
	}
	return r.Mode
}

// build derives the full wire record. Collections are never nil so the
// worker always sees {} and [] rather than null.
func (r ResetRequest) build(gamePort int, username string, serverPort int) ResetOptions {
	opts := ResetOptions{
		Port:       gamePort,
		Reset:      r.mode(),
		Inventory:  map[string]int{},
		Equipment:  []string{},
		Spread:     r.Spread,
		WaitTicks:  r.WaitTicks,
		Username:   username,
		ServerPort: serverPort,
	}
	if opts.WaitTicks <= 0 {
		opts.WaitTicks = DefaultWaitTicks
	}
	maps.Copy(opts.Inventory, r.Inventory)
	opts.Equipment = append(opts.Equipment, r.Equipment...)
	if r.Position != nil {
		p := *r.Position
		opts.Position = &p
	}
	return opts
}

// clone returns a deep copy safe to hand out to callers.
func (o ResetOptions) clone() ResetOptions {
	out := o
	out.Inventory = maps.Clone(o.Inventory)
	out.Equipment = slices.Clone(o.Equipment)
	if o.Position != nil {
		p := *o.Position
		out.Position = &p
	}
	return out
}
