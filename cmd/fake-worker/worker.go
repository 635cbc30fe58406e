// ABOUTME: In-memory stand-in for the bot worker's HTTP control surface
// ABOUTME: Tracks spawn, pause and inventory state and answers with double-encoded observations

package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"sync"

	"github.com/2389/coven-voyage/internal/session"
)

var callPattern = regexp.MustCompile(`^\s*await\s+([A-Za-z_$][A-Za-z0-9_$]*)\(bot\);?\s*$`)

// status is the observe payload.
type status struct {
	Health    float64          `json:"health"`
	Food      float64          `json:"food"`
	Position  session.Position `json:"position"`
	Inventory map[string]int   `json:"inventory"`
	Equipment []string         `json:"equipment"`
	Paused    bool             `json:"paused"`
	Step      int              `json:"step"`
}

type workerOptions struct {
	// TerminateAfter makes the Nth step report a terminated episode. Zero never terminates.
	TerminateAfter int
}

type worker struct {
	opts   workerOptions
	logger *slog.Logger

	mu        sync.Mutex
	spawned   bool
	paused    bool
	username  string
	inventory map[string]int
	equipment []string
	position  session.Position
	steps     int
}

func newWorker(opts workerOptions, logger *slog.Logger) *worker {
	return &worker{opts: opts, logger: logger}
}

func (w *worker) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/start", w.handleStart)
	mux.HandleFunc("/step", w.handleStep)
	mux.HandleFunc("/stop", w.handleStop)
	mux.HandleFunc("/pause", w.handlePause)
	return mux
}

func (w *worker) handleStart(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var opts session.ResetOptions
	if err := json.NewDecoder(r.Body).Decode(&opts); err != nil {
		http.Error(rw, fmt.Sprintf("invalid start options: %v", err), http.StatusBadRequest)
		return
	}

	w.mu.Lock()
	hard := opts.Reset == session.ResetHard || !w.spawned
	w.spawned = true
	w.paused = false
	w.username = opts.Username
	if hard {
		w.inventory = make(map[string]int, len(opts.Inventory))
		for item, n := range opts.Inventory {
			w.inventory[item] = n
		}
		w.equipment = append([]string(nil), opts.Equipment...)
		w.steps = 0
	}
	if opts.Position != nil {
		w.position = *opts.Position
	}
	obs := session.Observation{w.observeLocked()}
	w.mu.Unlock()

	w.logger.Info("bot spawned",
		"username", opts.Username,
		"reset", opts.Reset,
		"game_port", opts.Port,
		"wait_ticks", opts.WaitTicks,
	)
	w.reply(rw, obs)
}

func (w *worker) handleStep(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req session.StepRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(rw, fmt.Sprintf("invalid step request: %v", err), http.StatusBadRequest)
		return
	}

	w.mu.Lock()
	if !w.spawned {
		w.mu.Unlock()
		http.Error(rw, "Bot not spawned", http.StatusBadRequest)
		return
	}
	w.steps++
	step := w.steps

	var obs session.Observation
	if name, err := resolveCall(req); err != nil {
		obs = append(obs, event(session.EventError, map[string]string{"message": err.Error()}))
	} else {
		w.inventory[name+"_result"]++
		obs = append(obs, event(session.EventChat, map[string]string{"message": "ran " + name}))
	}
	obs = append(obs, w.observeLocked())
	terminated := w.opts.TerminateAfter > 0 && step >= w.opts.TerminateAfter
	w.mu.Unlock()

	if !terminated {
		w.reply(rw, obs)
		return
	}

	w.logger.Info("episode terminated", "step", step)
	inner, err := json.Marshal([]any{obs, 1.0, true, false, map[string]int{"steps": step}})
	if err != nil {
		http.Error(rw, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSONString(rw, inner)
}

func (w *worker) handleStop(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	w.mu.Lock()
	w.spawned = false
	w.paused = false
	username := w.username
	w.mu.Unlock()

	w.logger.Info("bot disconnected", "username", username)
	rw.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(rw).Encode("Bot disconnected")
}

// handlePause toggles the paused flag; the worker has no separate unpause.
func (w *worker) handlePause(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	w.mu.Lock()
	if !w.spawned {
		w.mu.Unlock()
		http.Error(rw, "Bot not spawned", http.StatusBadRequest)
		return
	}
	w.paused = !w.paused
	paused := w.paused
	w.mu.Unlock()

	w.logger.Info("pause toggled", "paused", paused)
	rw.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(rw).Encode("Success")
}

func (w *worker) observeLocked() session.Event {
	inv := make(map[string]int, len(w.inventory))
	for k, v := range w.inventory {
		inv[k] = v
	}
	return event(session.EventObserve, status{
		Health:    20,
		Food:      20,
		Position:  w.position,
		Inventory: inv,
		Equipment: append([]string{}, w.equipment...),
		Paused:    w.paused,
		Step:      w.steps,
	})
}

func (w *worker) reply(rw http.ResponseWriter, obs session.Observation) {
	body, err := session.EncodeObservation(obs)
	if err != nil {
		http.Error(rw, err.Error(), http.StatusInternalServerError)
		return
	}
	rw.Header().Set("Content-Type", "application/json")
	_, _ = rw.Write(body)
}

// writeJSONString sends inner wrapped in one more JSON string layer.
func writeJSONString(rw http.ResponseWriter, inner []byte) {
	body, err := json.Marshal(string(inner))
	if err != nil {
		http.Error(rw, err.Error(), http.StatusInternalServerError)
		return
	}
	rw.Header().Set("Content-Type", "application/json")
	_, _ = rw.Write(body)
}

// resolveCall checks that code calls a function the programs define.
func resolveCall(req session.StepRequest) (string, error) {
	m := callPattern.FindStringSubmatch(req.Code)
	if m == nil {
		return "", fmt.Errorf("unsupported code: %q", strings.TrimSpace(req.Code))
	}
	if !strings.Contains(req.Programs, "function "+m[1]+"(") {
		return "", fmt.Errorf("%s is not defined", m[1])
	}
	return m[1], nil
}

func event(kind string, payload any) session.Event {
	data, err := json.Marshal(payload)
	if err != nil {
		data = []byte("null")
	}
	return session.Event{Type: kind, Data: data}
}
