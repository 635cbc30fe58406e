// ABOUTME: Worker wire protocol: observation events and step results, including the double JSON encoding.
// ABOUTME: Also defines the /step request body shared with the fake worker.

package session

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Event kinds the worker emits.
const (
	EventObserve = "observe"
	EventChat    = "onChat"
	EventError   = "onError"
)

// StepRequest is the body posted to /step.
type StepRequest struct {
	Code     string `json:"code"`
	Programs string `json:"programs"`
}

// Event is one [kind, payload] pair of an observation.
type Event struct {
	Type string
	Data json.RawMessage
}

// UnmarshalJSON decodes the two-element array form.
func (e *Event) UnmarshalJSON(b []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(b, &pair); err != nil {
		return fmt.Errorf("event: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("event: expected [kind, payload], got %d elements", len(pair))
	}
	if err := json.Unmarshal(pair[0], &e.Type); err != nil {
		return fmt.Errorf("event kind: %w", err)
	}
	e.Data = append(json.RawMessage(nil), pair[1]...)
	return nil
}

// MarshalJSON encodes the event as [kind, payload].
func (e Event) MarshalJSON() ([]byte, error) {
	data := e.Data
	if len(data) == 0 {
		data = json.RawMessage("null")
	}
	return json.Marshal([]any{e.Type, data})
}

// Observation is the ordered event list the worker reports after a control call.
type Observation []Event

// Last returns the payload of the most recent event of the given kind.
func (o Observation) Last(kind string) (json.RawMessage, bool) {
	for i := len(o) - 1; i >= 0; i-- {
		if o[i].Type == kind {
			return o[i].Data, true
		}
	}
	return nil, false
}

// Count returns how many events of the given kind the observation holds.
func (o Observation) Count(kind string) int {
	n := 0
	for _, ev := range o {
		if ev.Type == kind {
			n++
		}
	}
	return n
}

// StepResult is the outcome of a Step.
type StepResult struct {
	Observation Observation
	Reward      float64
	Terminated  bool
	Truncated   bool
	Info        json.RawMessage
}

// DecodeObservation decodes a worker reply body into an Observation.
func DecodeObservation(body []byte) (Observation, error) {
	inner, err := unwrap(body)
	if err != nil {
		return nil, err
	}
	var obs Observation
	if err := json.Unmarshal(inner, &obs); err != nil {
		return nil, fmt.Errorf("decoding observation: %w", err)
	}
	return obs, nil
}

// DecodeStepResult decodes a /step reply. Both the bare event list and the
// five-element [observation, reward, terminated, truncated, info] form are accepted.
func DecodeStepResult(body []byte) (StepResult, error) {
	inner, err := unwrap(body)
	if err != nil {
		return StepResult{}, err
	}

	var parts []json.RawMessage
	if err := json.Unmarshal(inner, &parts); err != nil {
		return StepResult{}, fmt.Errorf("decoding step result: %w", err)
	}

	if !isTuple(parts) {
		var obs Observation
		if err := json.Unmarshal(inner, &obs); err != nil {
			return StepResult{}, fmt.Errorf("decoding step observation: %w", err)
		}
		return StepResult{Observation: obs}, nil
	}

	var res StepResult
	if err := json.Unmarshal(parts[0], &res.Observation); err != nil {
		return StepResult{}, fmt.Errorf("decoding step observation: %w", err)
	}
	if err := json.Unmarshal(parts[1], &res.Reward); err != nil {
		return StepResult{}, fmt.Errorf("decoding step reward: %w", err)
	}
	if err := json.Unmarshal(parts[2], &res.Terminated); err != nil {
		return StepResult{}, fmt.Errorf("decoding step terminated: %w", err)
	}
	if err := json.Unmarshal(parts[3], &res.Truncated); err != nil {
		return StepResult{}, fmt.Errorf("decoding step truncated: %w", err)
	}
	res.Info = append(json.RawMessage(nil), parts[4]...)
	return res, nil
}

// EncodeObservation produces the double-encoded body a worker sends.
func EncodeObservation(obs Observation) ([]byte, error) {
	if obs == nil {
		obs = Observation{}
	}
	inner, err := json.Marshal(obs)
	if err != nil {
		return nil, err
	}
	return json.Marshal(string(inner))
}

// unwrap strips the outer JSON string layer when present.
func unwrap(body []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, errors.New("empty worker reply")
	}
	if trimmed[0] != '"' {
		return trimmed, nil
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err != nil {
		return nil, fmt.Errorf("decoding worker reply string: %w", err)
	}
	return []byte(s), nil
}

// isTuple tells the five-tuple form from a five-event list: a tuple's second
// element is the numeric reward, an event is always an array.
func isTuple(parts []json.RawMessage) bool {
	if len(parts) != 5 {
		return false
	}
	second := bytes.TrimSpace(parts[1])
	return len(second) > 0 && second[0] != '['
}
