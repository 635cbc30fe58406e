// Package config handles configuration loading for coven-voyage.
//
// # Overview
//
// Configuration is loaded from YAML (or TOML, by file extension) with
// environment variable expansion. Load starts from Default, overlays the
// file, parses durations and validates the result.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from COVEN_VOYAGE_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/coven/voyage.yaml
//  3. ~/.config/coven/voyage.yaml
//
// # Environment Variable Expansion
//
//	database:
//	  path: "${HOME}/.local/share/coven/voyage.db"
//
// Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	agents:
//	  create_delay: "5s"
//	  join_timeout: "30s"
//	worker:
//	  request_timeout: "10m"
//
// # Game Endpoint
//
// Either game.port (an existing server) or game.server.command (a server
// launched per agent, whose readiness line announces its port) must be set.
//
// See Sample for a complete annotated file.
package config
