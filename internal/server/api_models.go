package server

import (
	"github.com/raysh454/scanflow/internal/guard"
	"github.com/raysh454/scanflow/internal/model"
)

// CreateViewResponse carries the id of a newly opened view.
type CreateViewResponse struct {
	ID string `json:"id" example:"4f7c0d0e-8d8a-4b4e-9a57-0d3b9d1d6a11"`
}

// SubmitRequest starts a scan from a view.
type SubmitRequest struct {
	URL     string   `json:"url" example:"https://example.com"`
	Options []string `json:"options" example:"[\"website-info\",\"seo\"]"`
	Locale  string   `json:"locale,omitempty" example:"en"`
	AIMode  string   `json:"ai_mode,omitempty" example:"standard"`
}

// SubmitResponse reports what the submission guard did with a request.
type SubmitResponse struct {
	Outcome guard.Outcome `json:"outcome" example:"accepted"`
}

// LoadRequest points a view at an existing task.
type LoadRequest struct {
	TaskID model.TaskID `json:"task_id" example:"abc"`
}

// LoginRequest installs a bearer token in the shared session.
type LoginRequest struct {
	Token string `json:"token" example:"eyJhbGciOi..."`
}

// SessionResponse reports whether the session is authenticated.
type SessionResponse struct {
	Authenticated bool `json:"authenticated" example:"true"`
}

// ErrorResponse is a uniform error payload returned by the API.
type ErrorResponse struct {
	Error string `json:"error" example:"not found"`
}
