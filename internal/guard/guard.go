// Package guard serialises task submissions: one in flight at a time, and a
// debounce window between accepted submissions.
package guard

import (
	"sync"
	"time"
)

type Outcome string

const (
	Accepted Outcome = "accepted"
	Deferred Outcome = "deferred"
	Rejected Outcome = "rejected"
)

// DefaultWindow is the minimum spacing between accepted submissions.
const DefaultWindow = 500 * time.Millisecond

// Guard is safe for concurrent use. The zero value is not usable; construct
// it with New.
type Guard struct {
	mu           sync.Mutex
	window       time.Duration
	inFlight     bool
	pending      *time.Timer
	lastAccepted time.Time
	now          func() time.Time
}

func New(window time.Duration) *Guard {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Guard{window: window, now: time.Now}
}

// Submit runs trigger at most once per call. A call inside the window after
// the previous acceptance is rescheduled once for the remaining time and then
// accepted unconditionally; the trigger then runs on the timer goroutine.
// An accepted trigger runs synchronously on the caller's goroutine after the
// guard's lock is released, so it may call Release.
func (g *Guard) Submit(trigger func()) Outcome {
	g.mu.Lock()
	if g.inFlight || g.pending != nil {
		g.mu.Unlock()
		return Rejected
	}

	now := g.now()
	if !g.lastAccepted.IsZero() {
		if wait := g.window - now.Sub(g.lastAccepted); wait > 0 {
			var t *time.Timer
			t = time.AfterFunc(wait, func() {
				g.mu.Lock()
				if g.pending != t {
					// Reset cancelled this run after the timer fired.
					g.mu.Unlock()
					return
				}
				g.pending = nil
				g.accept()
				g.mu.Unlock()
				trigger()
			})
			g.pending = t
			g.mu.Unlock()
			return Deferred
		}
	}

	g.accept()
	g.mu.Unlock()
	trigger()
	return Accepted
}

func (g *Guard) accept() {
	g.inFlight = true
	g.lastAccepted = g.now()
}

// Release clears the in-flight flag.
func (g *Guard) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.inFlight = false
}

// Reset cancels a pending deferred run and clears the in-flight flag.
func (g *Guard) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pending != nil {
		g.pending.Stop()
		g.pending = nil
	}
	g.inFlight = false
}

func (g *Guard) InFlight() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inFlight
}

// Pending reports whether a deferred run is scheduled.
func (g *Guard) Pending() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pending != nil
}

// LastAccepted is the start time of the most recent accepted submission,
// carrying a monotonic reading for duration measurement.
func (g *Guard) LastAccepted() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastAccepted
}
