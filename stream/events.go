package stream

import (
	"encoding/json"

	"github.com/zwldarren/ai-hedge-fund-sub000/errors"
)

// Event names recognized on the inbound run stream.
const (
	EventStart    = "start"
	EventProgress = "progress"
	EventComplete = "complete"
	EventError    = "error"
)

// StatusDone is the progress status string that marks an agent as finished.
// Any other status is treated as in-progress.
const StatusDone = "Done"

// Event is one decoded frame: its type plus the raw JSON payload.
type Event struct {
	Type string
	Data json.RawMessage
}

// StartEvent signals the beginning of a run. It carries no required fields;
// receivers reset the workflow's entity states.
type StartEvent struct {
	RunID string `json:"run_id,omitempty"`
}

// ProgressEvent reports one agent's progress for one ticker.
type ProgressEvent struct {
	Agent     string            `json:"agent"`
	Ticker    *string           `json:"ticker"`
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Analysis  map[string]string `json:"analysis,omitempty"`
}

// CompleteData is the final output artifact of a run.
type CompleteData struct {
	Decisions      map[string]any `json:"decisions"`
	AnalystSignals map[string]any `json:"analyst_signals"`
}

// CompleteEvent carries the run's final output.
type CompleteEvent struct {
	Data CompleteData `json:"data"`
}

// ErrorEvent reports a remote failure that terminates the run.
type ErrorEvent struct {
	Message string `json:"message"`
}

// DecodeProgress parses a progress payload.
func DecodeProgress(data json.RawMessage) (ProgressEvent, error) {
	var ev ProgressEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return ProgressEvent{}, errors.WrapInvalid(err, "stream", "DecodeProgress", "unmarshal payload")
	}
	if ev.Agent == "" {
		return ProgressEvent{}, errors.WrapInvalid(errors.ErrMalformedFrame, "stream", "DecodeProgress", "missing agent field")
	}
	return ev, nil
}

// DecodeComplete parses a complete payload.
func DecodeComplete(data json.RawMessage) (CompleteEvent, error) {
	var ev CompleteEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return CompleteEvent{}, errors.WrapInvalid(err, "stream", "DecodeComplete", "unmarshal payload")
	}
	return ev, nil
}

// DecodeError parses an error payload.
func DecodeError(data json.RawMessage) (ErrorEvent, error) {
	var ev ErrorEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return ErrorEvent{}, errors.WrapInvalid(err, "stream", "DecodeError", "unmarshal payload")
	}
	return ev, nil
}
