// ABOUTME: Adapts the event store to the manager's Recorder hook
// ABOUTME: Repeated identical events are collapsed; store failures are logged and never reach the agents

package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/coven-voyage/internal/agent"
	"github.com/2389/coven-voyage/internal/dedupe"
	"github.com/2389/coven-voyage/internal/store"
)

const recordTimeout = 5 * time.Second

type storeRecorder struct {
	store  store.Store
	repeat *dedupe.Window // nil records every event
	logger *slog.Logger
}

var _ agent.Recorder = (*storeRecorder)(nil)

func newStoreRecorder(st store.Store, repeat *dedupe.Window, logger *slog.Logger) *storeRecorder {
	return &storeRecorder{store: st, repeat: repeat, logger: logger.With("component", "recorder")}
}

func (r *storeRecorder) RecordEvent(agentID, kind, detail string) {
	if r.repeat != nil {
		dup, suppressed := r.repeat.Observe(agentID + "\x00" + kind + "\x00" + detail)
		if dup {
			r.logger.Debug("suppressed repeated event", "agent_id", agentID, "kind", kind)
			return
		}
		if suppressed > 0 {
			detail = fmt.Sprintf("%s (repeated %d more times)", detail, suppressed)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	err := r.store.RecordEvent(ctx, &store.Event{
		AgentID: agentID,
		Kind:    kind,
		Detail:  detail,
	})
	if err != nil {
		r.logger.Warn("failed to record event", "agent_id", agentID, "kind", kind, "error", err)
	}
}

func (r *storeRecorder) RecordState(info agent.Info) {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	err := r.store.UpsertAgent(ctx, &store.AgentRecord{
		ID:         info.ID,
		Index:      info.Index,
		ServerPort: info.ServerPort,
		State:      string(info.State),
		Restarts:   info.Restarts,
	})
	if err != nil {
		r.logger.Warn("failed to record agent state", "agent_id", info.ID, "error", err)
	}
}
