package webclient

import "time"

type Client string

const (
	ClientNetHTTP Client = "nethttp"
)

// Config selects and tunes the backend used to reach the audit API.
type Config struct {
	Client Client

	// Timeout bounds a single request. Zero means 30 seconds.
	Timeout time.Duration

	// UserAgent is sent on every request when non-empty.
	UserAgent string
}
