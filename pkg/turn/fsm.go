package turn

import (
	"sync"
	"time"
)

// StateChange represents a state transition event.
type StateChange struct {
	FromState State
	ToState   State
	Timestamp time.Time
	Reason    string
}

// StateListener observes turn state changes.
type StateListener interface {
	OnStateChange(event StateChange)
}

// StateListenerFunc adapts a function to StateListener.
type StateListenerFunc func(event StateChange)

func (f StateListenerFunc) OnStateChange(event StateChange) { f(event) }

var validTransitions = map[State][]State{
	StateIdle:       {StateListening, StateEnding},
	StateListening:  {StateDebouncing, StateEnding},
	StateDebouncing: {StateListening, StateProcessing, StateEnding},
	StateProcessing: {StateIdle, StateListening, StateEnding},
}

// Machine is the per-session turn state machine. Every call session owns one.
type Machine struct {
	mu           sync.RWMutex
	currentState State
	enteredAt    time.Time
	listeners    []StateListener
}

// NewMachine creates a state machine in StateIdle.
func NewMachine() *Machine {
	return &Machine{currentState: StateIdle, enteredAt: time.Now()}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.currentState
}

// Since reports how long the machine has been in its current state.
func (m *Machine) Since() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return time.Since(m.enteredAt)
}

// CanTransition reports whether moving from the current state to `to` is allowed.
func (m *Machine) CanTransition(to State) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return transitionValid(m.currentState, to)
}

func transitionValid(from, to State) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition moves to a new state with validation.
func (m *Machine) Transition(state State, reason string) error {
	m.mu.Lock()
	if !transitionValid(m.currentState, state) {
		from := m.currentState
		m.mu.Unlock()
		return &InvalidTransitionError{From: from, To: state}
	}

	now := time.Now()
	event := StateChange{
		FromState: m.currentState,
		ToState:   state,
		Timestamp: now,
		Reason:    reason,
	}
	m.currentState = state
	m.enteredAt = now
	listeners := make([]StateListener, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	for _, listener := range listeners {
		listener.OnStateChange(event)
	}
	return nil
}

// AddListener registers a listener for state change events.
func (m *Machine) AddListener(listener StateListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, listener)
}

// InvalidTransitionError represents an invalid state transition attempt
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return "invalid state transition from " + e.From.String() + " to " + e.To.String()
}
