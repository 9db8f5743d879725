// Package session drives one upload from negotiation to a terminal state
// and exposes that progress as a small state machine.
package session

import (
	"errors"
	"fmt"
	"sync"
)

// State is a step of the upload lifecycle.
type State int

const (
	StateIdle State = iota
	StatePreparing
	StateTransferring
	StateFinalizing
	StateCancelling
	StateDone
	StateCancelled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePreparing:
		return "preparing"
	case StateTransferring:
		return "transferring"
	case StateFinalizing:
		return "finalizing"
	case StateCancelling:
		return "cancelling"
	case StateDone:
		return "done"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal reports whether s ends a session.
func (s State) Terminal() bool {
	return s == StateDone || s == StateCancelled || s == StateFailed
}

// ErrInvalidTransition is returned for moves the lifecycle does not allow.
var ErrInvalidTransition = errors.New("invalid state transition")

var transitions = map[State][]State{
	StateIdle: {StatePreparing},
	// Cancelling while negotiating needs no rollback: nothing was issued yet.
	StatePreparing:    {StateTransferring, StateCancelled, StateFailed},
	StateTransferring: {StateFinalizing, StateCancelling, StateFailed},
	StateFinalizing:   {StateDone, StateFailed},
	StateCancelling:   {StateCancelled},
}

// Change is delivered to subscribers after every accepted transition.
type Change struct {
	From, To State
}

// Machine guards the lifecycle. It is safe for concurrent use; subscribers
// run synchronously on the goroutine that made the transition.
type Machine struct {
	mu    sync.Mutex
	state State
	subs  []func(Change)
}

func NewMachine() *Machine { return &Machine{} }

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Subscribe registers fn for future transitions.
func (m *Machine) Subscribe(fn func(Change)) {
	m.mu.Lock()
	m.subs = append(m.subs, fn)
	m.mu.Unlock()
}

// Transition moves to next if the table allows it.
func (m *Machine) Transition(next State) error {
	m.mu.Lock()
	from := m.state
	allowed := false
	for _, s := range transitions[from] {
		if s == next {
			allowed = true
			break
		}
	}
	if !allowed {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, next)
	}
	m.state = next
	subs := append([]func(Change){}, m.subs...)
	m.mu.Unlock()

	for _, fn := range subs {
		fn(Change{From: from, To: next})
	}
	return nil
}

// Reset starts a fresh session. It is only allowed from idle or a terminal
// state.
func (m *Machine) Reset() error {
	m.mu.Lock()
	from := m.state
	if from != StateIdle && !from.Terminal() {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, StateIdle)
	}
	m.state = StateIdle
	subs := append([]func(Change){}, m.subs...)
	m.mu.Unlock()

	if from != StateIdle {
		for _, fn := range subs {
			fn(Change{From: from, To: StateIdle})
		}
	}
	return nil
}
