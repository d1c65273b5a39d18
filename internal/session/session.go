// Package session holds the caller's bearer token and broadcasts the events
// that invalidate user-scoped caches.
package session

import "sync"

// Event is a change in who the user is or what they own.
type Event string

const (
	EventLogin    Event = "login"
	EventLogout   Event = "logout"
	EventPurchase Event = "purchase"
)

// Session is safe for concurrent use. Observers run synchronously on the
// goroutine that caused the event, after the token has been updated.
type Session struct {
	mu        sync.RWMutex
	token     string
	observers []func(Event)
}

// New returns a session, authenticated when token is non-empty.
func New(token string) *Session {
	return &Session{token: token}
}

func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

func (s *Session) Authenticated() bool {
	return s.Token() != ""
}

// Login replaces the token. An empty token is treated as Logout.
func (s *Session) Login(token string) {
	if token == "" {
		s.Logout()
		return
	}
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
	s.notify(EventLogin)
}

func (s *Session) Logout() {
	s.mu.Lock()
	s.token = ""
	s.mu.Unlock()
	s.notify(EventLogout)
}

// Purchased signals that the credit balance changed outside this process.
func (s *Session) Purchased() {
	s.notify(EventPurchase)
}

// Subscribe registers fn for every future event.
func (s *Session) Subscribe(fn func(Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

func (s *Session) notify(ev Event) {
	s.mu.RLock()
	obs := make([]func(Event), len(s.observers))
	copy(obs, s.observers)
	s.mu.RUnlock()
	for _, fn := range obs {
		fn(ev)
	}
}
