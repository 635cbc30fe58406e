// ABOUTME: Builds one agent's runtime: log and checkpoint directories, worker and game-server monitors,
// ABOUTME: the session bridge and the skill replayer, releasing what was acquired when a later step fails.

package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/2389/coven-voyage/internal/agent"
	"github.com/2389/coven-voyage/internal/checkpoint"
	"github.com/2389/coven-voyage/internal/config"
	"github.com/2389/coven-voyage/internal/monitor"
	"github.com/2389/coven-voyage/internal/session"
)

func newAgentFactory(cfg *config.Config, skills []agent.Skill, rec agent.Recorder, logger *slog.Logger) agent.Factory {
	return func(ctx context.Context, spec agent.Spec) (agent.Runtime, error) {
		return buildAgent(cfg, skills, rec, logger.With("agent_id", spec.ID), spec)
	}
}

func buildAgent(cfg *config.Config, skills []agent.Skill, rec agent.Recorder, logger *slog.Logger, spec agent.Spec) (agent.Runtime, error) {
	workerLogs, serverLogs, err := checkpoint.LogDirs(cfg.Paths.LogDir, spec.ID)
	if err != nil {
		return nil, err
	}

	ckpt, err := checkpoint.Open(cfg.Paths.CheckpointDir, spec.ID)
	if err != nil {
		return nil, err
	}

	rt, err := buildRuntime(cfg, skills, rec, logger, spec, ckpt, workerLogs, serverLogs)
	if err != nil {
		if closeErr := ckpt.Close(); closeErr != nil {
			logger.Warn("releasing checkpoint", "error", closeErr)
		}
		return nil, err
	}
	return rt, nil
}

func buildRuntime(cfg *config.Config, skills []agent.Skill, rec agent.Recorder, logger *slog.Logger,
	spec agent.Spec, ckpt *checkpoint.Dir, workerLogs, serverLogs string) (agent.Runtime, error) {

	command := make([]string, 0, len(cfg.Worker.Command)+1)
	command = append(command, cfg.Worker.Command...)
	command = append(command, strconv.Itoa(spec.ServerPort))

	worker, err := monitor.New(monitor.Config{
		Name:         spec.ID + "-worker",
		Command:      command,
		ReadyPattern: cfg.Worker.ReadyPattern,
		LogDir:       workerLogs,
		ReadyTimeout: cfg.Worker.ReadyTimeout,
		StopGrace:    cfg.Worker.StopGrace,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("worker monitor: %w", err)
	}

	var server session.GameServer
	gamePort := cfg.Game.Port
	if cfg.Game.Server.Enabled() {
		proc, err := monitor.New(monitor.Config{
			Name:         spec.ID + "-game",
			Command:      cfg.Game.Server.Command,
			ReadyPattern: cfg.Game.Server.ReadyPattern,
			LogDir:       serverLogs,
			ReadyTimeout: cfg.Game.Server.ReadyTimeout,
			StopGrace:    cfg.Worker.StopGrace,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("game server monitor: %w", err)
		}
		server = session.NewProcessServer(proc)
		gamePort = 0
	}

	bridge, err := session.New(session.Config{
		Host:            cfg.Worker.Host,
		Port:            spec.ServerPort,
		Username:        spec.ID,
		GamePort:        gamePort,
		RequestTimeout:  cfg.Worker.RequestTimeout,
		MaxStartRetries: cfg.Worker.MaxStartRetries,
		StartRetryDelay: cfg.Worker.StartRetryDelay,
		ExitWait:        cfg.Worker.ExitWait,
		ExitSettle:      cfg.Worker.ExitSettle,
		OnEvent: func(kind, detail string) {
			rec.RecordEvent(spec.ID, kind, detail)
		},
	}, worker, server, logger)
	if err != nil {
		return nil, fmt.Errorf("session bridge: %w", err)
	}

	replayer, err := agent.NewReplayer(agent.ReplayerConfig{
		Skills:                 skills,
		Inventory:              cfg.Skills.Inventory,
		MaxIterations:          cfg.Skills.MaxIterations,
		MaxConsecutiveFailures: cfg.Skills.MaxConsecutiveFailures,
		Checkpoint:             ckpt,
	}, bridge, logger)
	if err != nil {
		return nil, fmt.Errorf("replayer: %w", err)
	}
	return replayer, nil
}
