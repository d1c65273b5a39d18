package model

import (
	"encoding/json"
	"time"
)

// HistoryRecord is one task as seen by this client, from the moment polling
// started until it reached a terminal state.
type HistoryRecord struct {
	TaskID     TaskID          `json:"task_id"`
	TargetURL  string          `json:"target_url"`
	Options    []string        `json:"options"`
	State      string          `json:"state"`
	Warning    string          `json:"warning,omitempty"`
	ErrorKind  string          `json:"error_kind,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	EndedAt    time.Time       `json:"ended_at,omitempty"`
	DurationMS int64           `json:"duration_ms"`
	Results    json.RawMessage `json:"results,omitempty"`
}
