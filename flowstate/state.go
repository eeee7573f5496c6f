package flowstate

import (
	"encoding/json"
	"time"
)

// Status represents the run status of one entity (node) in a workflow
type Status string

// Entity status values
const (
	StatusIdle       Status = "IDLE"
	StatusInProgress Status = "IN_PROGRESS"
	StatusComplete   Status = "COMPLETE"
	StatusError      Status = "ERROR"
)

// Valid reports whether s is a known status value
func (s Status) Valid() bool {
	switch s {
	case StatusIdle, StatusInProgress, StatusComplete, StatusError:
		return true
	}
	return false
}

// Terminal reports whether the status is a terminal run outcome
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusError
}

// MessageItem is one entry in an entity's message history
type MessageItem struct {
	Timestamp     time.Time         `json:"timestamp"`
	Message       string            `json:"message"`
	Label         *string           `json:"label"`
	AnalysisByKey map[string]string `json:"analysisByKey,omitempty"`
}

// EntityState is the run state of one entity. History is append-only with
// non-decreasing timestamps; a new item is appended only when the message
// text differs from the entity's current message.
type EntityState struct {
	Status      Status         `json:"status"`
	Label       *string        `json:"label"`
	Message     string         `json:"message"`
	LastUpdated time.Time      `json:"lastUpdated"`
	History     []MessageItem  `json:"history"`
	Extra       map[string]any `json:"extra,omitempty"`
}

// NewEntityState returns a fresh idle state
func NewEntityState() EntityState {
	return EntityState{
		Status:  StatusIdle,
		History: []MessageItem{},
	}
}

// Clone returns a deep copy, so callers can hand states across goroutines
// without sharing the history slice or extra map.
func (s EntityState) Clone() EntityState {
	out := s
	out.History = make([]MessageItem, len(s.History))
	copy(out.History, s.History)
	if s.Extra != nil {
		out.Extra = make(map[string]any, len(s.Extra))
		for k, v := range s.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

// WithUpdate returns a copy with the given status and message applied.
// The history invariant is enforced here: items are appended only on a
// message text change, and timestamps never decrease.
func (s EntityState) WithUpdate(status Status, message string, label *string, ts time.Time, analysis map[string]string) EntityState {
	out := s.Clone()

	if message != "" && message != out.Message {
		if n := len(out.History); n > 0 && ts.Before(out.History[n-1].Timestamp) {
			ts = out.History[n-1].Timestamp
		}
		var analysisCopy map[string]string
		if len(analysis) > 0 {
			analysisCopy = make(map[string]string, len(analysis))
			for k, v := range analysis {
				analysisCopy[k] = v
			}
		}
		out.History = append(out.History, MessageItem{
			Timestamp:     ts,
			Message:       message,
			Label:         label,
			AnalysisByKey: analysisCopy,
		})
	}

	out.Status = status
	out.Message = message
	out.Label = label
	out.LastUpdated = ts
	return out
}

// WithStatus returns a copy with only the status changed. Messages and
// history are preserved, which is what recovery-on-load needs when it
// demotes a stale in-progress entity back to idle.
func (s EntityState) WithStatus(status Status) EntityState {
	out := s.Clone()
	out.Status = status
	return out
}

// DecodeEntityState coerces a value read back from persistence into a
// typed EntityState. Hydrated values arrive as generic JSON maps.
func DecodeEntityState(v any) (EntityState, bool) {
	switch val := v.(type) {
	case EntityState:
		return val.Clone(), true
	case map[string]any:
		raw, err := json.Marshal(val)
		if err != nil {
			return EntityState{}, false
		}
		var st EntityState
		if err := json.Unmarshal(raw, &st); err != nil {
			return EntityState{}, false
		}
		if !st.Status.Valid() {
			return EntityState{}, false
		}
		if st.History == nil {
			st.History = []MessageItem{}
		}
		return st, true
	}
	return EntityState{}, false
}
