// Package poller drives a status fetch on a timer until the caller says stop.
package poller

import (
	"context"
	"sync"
	"time"

	"github.com/raysh454/scanflow/internal/model"
)

// DefaultInterval is used when Config.Interval is not set.
const DefaultInterval = 2 * time.Second

type Config struct {
	Interval time.Duration
}

// Directive is returned by callbacks to steer the loop.
type Directive struct {
	Interval time.Duration
	Done     bool
}

// Continue keeps polling. A zero interval keeps the current one.
func Continue(interval time.Duration) Directive { return Directive{Interval: interval} }

// Stop ends the loop after the current callback returns.
func Stop() Directive { return Directive{Done: true} }

type (
	FetchFunc  func(ctx context.Context, id model.TaskID) (*model.Task, error)
	StatusFunc func(task *model.Task) Directive
	ErrorFunc  func(err error) Directive
)

// Handle controls a running poll loop.
type Handle struct {
	cancel context.CancelFunc
	once   sync.Once
	cbMu   sync.Mutex
	done   chan struct{}
}

// Stop cancels the loop. It is idempotent, and once it returns no callback
// will start. Stop must not be called from inside a callback; return Stop()
// from the callback instead.
func (h *Handle) Stop() {
	h.once.Do(func() {
		h.cancel()
		// Wait out a callback that is already running.
		h.cbMu.Lock()
		h.cbMu.Unlock()
	})
}

// Done is closed when the loop goroutine exits.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Poll fetches immediately and then after each interval. onError may be nil,
// in which case errors keep the loop going at the current interval. There is
// no retry cap: the loop only ends through a Stop directive, Handle.Stop or
// ctx.
func Poll(ctx context.Context, id model.TaskID, cfg Config, fetch FetchFunc, onStatus StatusFunc, onError ErrorFunc) *Handle {
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{cancel: cancel, done: make(chan struct{})}

	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	go func() {
		defer close(h.done)
		defer cancel()

		timer := time.NewTimer(0)
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
			}

			task, err := fetch(ctx, id)

			h.cbMu.Lock()
			if ctx.Err() != nil {
				h.cbMu.Unlock()
				return
			}
			var d Directive
			switch {
			case err != nil && onError != nil:
				d = onError(err)
			case err != nil:
				d = Continue(0)
			default:
				d = onStatus(task)
			}
			h.cbMu.Unlock()

			if d.Done {
				return
			}
			if d.Interval > 0 {
				interval = d.Interval
			}
			timer.Reset(interval)
		}
	}()

	return h
}

// Backoff grows an interval by half, capped at ceiling.
func Backoff(current, base, ceiling time.Duration) time.Duration {
	if current < base {
		current = base
	}
	next := current + current/2
	if ceiling > 0 && next > ceiling {
		next = ceiling
	}
	return next
}
