package webclient

import (
	"context"
)

// WebClient executes requests against the remote audit backend. Backends
// return a Response for every HTTP status; only transport failures are errors.
type WebClient interface {
	Do(ctx context.Context, req *Request) (*Response, error)

	Close() error
}
