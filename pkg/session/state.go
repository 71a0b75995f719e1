package session

import "sync"

// State is the conversational state of a session.
type State int

const (
	StateIdle State = iota
	StateListening
	StateThinking
	StateSpeaking
)

// String returns the wire representation of a State.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateThinking:
		return "thinking"
	case StateSpeaking:
		return "speaking"
	default:
		return "unknown"
	}
}

// stateMachine validates and tracks session state transitions. Writers
// (the processing loop and the at-most-one turn executor it owns) are
// serialized by the cancellation-acknowledge discipline, so the lock
// only protects readers on other goroutines.
type stateMachine struct {
	mu       sync.RWMutex
	current  State
	onChange func(from, to State, reason string)
}

func newStateMachine(onChange func(from, to State, reason string)) *stateMachine {
	return &stateMachine{current: StateIdle, onChange: onChange}
}

// validTransitions encodes the per-turn progression. Interruption uses
// ForceIdle instead, which is legal from any state.
var validTransitions = map[State][]State{
	StateIdle:      {StateListening},
	StateListening: {StateThinking, StateIdle},
	StateThinking:  {StateSpeaking, StateIdle},
	StateSpeaking:  {StateIdle},
}

func (m *stateMachine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition moves to a new state with validation.
func (m *stateMachine) Transition(to State, reason string) error {
	m.mu.Lock()
	from := m.current
	if !transitionValid(from, to) {
		m.mu.Unlock()
		return &InvalidTransitionError{From: from, To: to}
	}
	m.current = to
	m.mu.Unlock()
	if m.onChange != nil {
		m.onChange(from, to, reason)
	}
	return nil
}

// ForceIdle resets to Idle from any state: barge-in and stop paths.
func (m *stateMachine) ForceIdle(reason string) {
	m.mu.Lock()
	from := m.current
	m.current = StateIdle
	m.mu.Unlock()
	if from != StateIdle && m.onChange != nil {
		m.onChange(from, StateIdle, reason)
	}
}

func transitionValid(from, to State) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// InvalidTransitionError represents an invalid state transition attempt.
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return "invalid state transition from " + e.From.String() + " to " + e.To.String()
}
