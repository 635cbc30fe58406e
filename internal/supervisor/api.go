// ABOUTME: Status HTTP endpoints: liveness, readiness, the live agent list and the session ledger
// ABOUTME: All responses are read-only views; nothing here changes agent state

package supervisor

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/2389/coven-voyage/internal/agent"
)

// EventResponse is one session ledger entry as served by /api/events.
type EventResponse struct {
	ID        string `json:"id"`
	AgentID   string `json:"agent_id"`
	Kind      string `json:"kind"`
	Detail    string `json:"detail,omitempty"`
	CreatedAt string `json:"created_at"`
}

// AgentsResponse is the body of /api/agents.
type AgentsResponse struct {
	Agents   []agent.Info `json:"agents"`
	Shutdown bool         `json:"shutdown"`
}

func (s *Supervisor) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/health/ready", s.handleReady)
	mux.HandleFunc("/api/agents", s.handleListAgents)
	mux.HandleFunc("/api/events", s.handleListEvents)
	return mux
}

// handleHealth returns 200 OK as long as the process is serving.
func (s *Supervisor) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 once at least one agent is learning.
func (s *Supervisor) handleReady(w http.ResponseWriter, r *http.Request) {
	learning := 0
	for _, info := range s.manager.Agents() {
		if info.State == agent.StateLearning {
			learning++
		}
	}
	if learning == 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("no agents learning"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d agents learning)", learning)
}

func (s *Supervisor) handleListAgents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	response := AgentsResponse{
		Agents:   s.manager.Agents(),
		Shutdown: s.manager.Shutdown().IsSet(),
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}

// handleListEvents serves the newest ledger entries, optionally for one agent.
// Query parameters: agent (agent ID), limit (1..store.MaxEventLimit).
func (s *Supervisor) handleListEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	limit := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			s.sendJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	events, err := s.store.ListEvents(r.Context(), r.URL.Query().Get("agent"), limit)
	if err != nil {
		s.logger.Error("failed to list events", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	response := make([]EventResponse, len(events))
	for i, ev := range events {
		response[i] = EventResponse{
			ID:        ev.ID,
			AgentID:   ev.AgentID,
			Kind:      ev.Kind,
			Detail:    ev.Detail,
			CreatedAt: ev.CreatedAt.UTC().Format(time.RFC3339Nano),
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}

// sendJSONError writes a JSON error response.
func (s *Supervisor) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
