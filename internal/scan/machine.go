package scan

import (
	"errors"
	"fmt"
	"sync"
)

// State is the lifecycle of one scan view.
type State string

const (
	StateIdle       State = "idle"
	StateSubmitting State = "submitting"
	StatePolling    State = "polling"
	StateDone       State = "done"
	StateError      State = "error"
)

// Terminal reports whether the view has reached a final outcome.
func (s State) Terminal() bool {
	return s == StateDone || s == StateError
}

var ErrInvalidTransition = errors.New("invalid state transition")

// transitions lists the allowed targets for each state. Polling may restart
// itself when a different task is loaded into the view.
var transitions = map[State][]State{
	StateIdle:       {StateSubmitting, StatePolling},
	StateSubmitting: {StateIdle, StatePolling, StateError},
	StatePolling:    {StatePolling, StateSubmitting, StateDone, StateError, StateIdle},
	StateDone:       {StateIdle, StateSubmitting, StatePolling},
	StateError:      {StateIdle, StateSubmitting, StatePolling},
}

// Machine guards State changes. It is safe for concurrent use.
type Machine struct {
	mu    sync.Mutex
	state State
}

func NewMachine() *Machine {
	return &Machine{state: StateIdle}
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Transition moves to the target state or returns ErrInvalidTransition
// leaving the state unchanged.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !allowed(m.state, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.state, to)
	}
	m.state = to
	return nil
}

// Reset returns to idle from any state.
func (m *Machine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = StateIdle
}

func allowed(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
