package session

import (
	"sync"
	"time"
)

// StateChange represents a state transition event.
type StateChange struct {
	StreamID  string
	FromState State
	ToState   State
	Timestamp time.Time
	Reason    string
}

// StateListener observes session state changes.
type StateListener interface {
	OnStateChange(event StateChange)
}

// StateListenerFunc adapts a function to StateListener.
type StateListenerFunc func(StateChange)

func (f StateListenerFunc) OnStateChange(event StateChange) { f(event) }

var validTransitions = map[State][]State{
	StateIdle:         {StateGreeting, StateClosed},
	StateGreeting:     {StateListening, StateClosed},
	StateListening:    {StateTranscribing, StateClosed},
	StateTranscribing: {StateGenerating, StateListening, StateClosed},
	StateGenerating:   {StateSpeaking, StateListening, StateClosed},
	StateSpeaking:     {StateGenerating, StateListening, StateClosed},
}

// stateMachine guards the current state. Reads may come from any goroutine;
// transitions come from the session worker only.
type stateMachine struct {
	streamID  string
	current   State
	since     time.Time
	mu        sync.RWMutex
	listeners []StateListener
}

func newStateMachine(streamID string) *stateMachine {
	return &stateMachine{streamID: streamID, current: StateIdle, since: time.Now()}
}

// State returns the current state.
func (sm *stateMachine) State() State {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.current
}

// Since returns when the current state was entered.
func (sm *stateMachine) Since() time.Time {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.since
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
func (sm *stateMachine) Transition(to State, reason string) error {
	sm.mu.Lock()
	from := sm.current
	if !transitionValid(from, to) {
		sm.mu.Unlock()
		return &InvalidTransitionError{From: from, To: to}
	}
	now := time.Now()
	sm.current = to
	sm.since = now
	listeners := make([]StateListener, len(sm.listeners))
	copy(listeners, sm.listeners)
	sm.mu.Unlock()

	event := StateChange{
		StreamID:  sm.streamID,
		FromState: from,
		ToState:   to,
		Timestamp: now,
		Reason:    reason,
	}
	for _, listener := range listeners {
		listener.OnStateChange(event)
	}
	return nil
}

// AddListener registers a listener for state change events.
func (sm *stateMachine) AddListener(listener StateListener) {
	if listener == nil {
		return
	}
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.listeners = append(sm.listeners, listener)
}

// InvalidTransitionError represents an invalid state transition attempt
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return "invalid state transition from " + e.From.String() + " to " + e.To.String()
}
