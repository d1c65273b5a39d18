package scan

import (
	"time"

	"github.com/raysh454/scanflow/internal/classify"
	"github.com/raysh454/scanflow/internal/model"
)

type EventType string

const (
	EventState    EventType = "state"
	EventProgress EventType = "progress"
	EventResult   EventType = "result"
	EventPrompt   EventType = "prompt"
	EventRedirect EventType = "redirect"
	EventError    EventType = "error"
)

type Event struct {
	ViewID string    `json:"view_id"`
	Type   EventType `json:"type"`
	At     time.Time `json:"at"`

	State  State        `json:"state,omitempty"`
	TaskID model.TaskID `json:"task_id,omitempty"`

	// For progress
	Progress *model.Progress `json:"progress,omitempty"`

	// For results: wire names of every populated module
	Modules []string `json:"modules,omitempty"`

	Warning        string                   `json:"warning,omitempty"`
	Classification *classify.Classification `json:"classification,omitempty"`
	Prompt         *Prompt                  `json:"prompt,omitempty"`
}

type PromptKind string

const (
	PromptLogin   PromptKind = "login"
	PromptPricing PromptKind = "pricing"
)

// Prompt asks the user to act before a feature can be used.
type Prompt struct {
	Kind    PromptKind   `json:"kind"`
	Feature model.Module `json:"feature"`
	Message string       `json:"message"`
}
