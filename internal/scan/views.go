package scan

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/raysh454/scanflow/internal/access"
	"github.com/raysh454/scanflow/internal/logging"
)

// Views keeps the live controllers of a process, one per open view.
type Views struct {
	cfg      Config
	backend  Backend
	checker  access.Checker
	auth     Authenticator
	recorder Recorder
	logger   logging.Logger

	mu    sync.Mutex
	views map[string]*Controller
}

// NewViews shares one backend, resolver and recorder across every view it
// creates. cfg.ID is ignored; each view gets a fresh id.
func NewViews(cfg Config, backend Backend, checker access.Checker, auth Authenticator, recorder Recorder, logger logging.Logger) *Views {
	return &Views{
		cfg:      cfg,
		backend:  backend,
		checker:  checker,
		auth:     auth,
		recorder: recorder,
		logger:   logger,
		views:    make(map[string]*Controller),
	}
}

// Create opens a view whose lifetime is bound to ctx as well as Close.
func (v *Views) Create(ctx context.Context) *Controller {
	cfg := v.cfg
	cfg.ID = uuid.New().String()
	c := NewController(ctx, cfg, v.backend, v.checker, v.auth, v.recorder, v.logger)

	v.mu.Lock()
	v.views[cfg.ID] = c
	v.mu.Unlock()
	return c
}

func (v *Views) Get(id string) *Controller {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.views[id]
}

// Close tears down one view. It reports false when the id is unknown.
func (v *Views) Close(id string) bool {
	v.mu.Lock()
	c, ok := v.views[id]
	delete(v.views, id)
	v.mu.Unlock()
	if !ok {
		return false
	}
	c.Close()
	return true
}

// IDs returns the open view ids in sorted order.
func (v *Views) IDs() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]string, 0, len(v.views))
	for id := range v.views {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// CloseAll tears down every view.
func (v *Views) CloseAll() {
	v.mu.Lock()
	views := v.views
	v.views = make(map[string]*Controller)
	v.mu.Unlock()
	for _, c := range views {
		c.Close()
	}
}
