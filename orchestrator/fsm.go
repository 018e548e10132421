package orchestrator

import (
	"fmt"
	"sync"
)

type State int

const (
	StateSignedOut State = iota
	StateProfileConfirmed
	StateDiscovering
	StateChoose
	StatePinEntry
	StatePinConfirm
	StatePasswordEntry
	StateReconstructing
	StateComplete
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateSignedOut:
		return "SIGNED_OUT"
	case StateProfileConfirmed:
		return "PROFILE_CONFIRMED"
	case StateDiscovering:
		return "DISCOVERING"
	case StateChoose:
		return "CHOOSE"
	case StatePinEntry:
		return "PIN_ENTRY"
	case StatePinConfirm:
		return "PIN_CONFIRM"
	case StatePasswordEntry:
		return "PASSWORD_ENTRY"
	case StateReconstructing:
		return "RECONSTRUCTING"
	case StateComplete:
		return "COMPLETE"
	case StateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// transitions lists the states reachable from each state. Sign-out is allowed
// from everywhere except RECONSTRUCTING and is handled separately.
var transitions = map[State][]State{
	StateSignedOut:        {StateProfileConfirmed},
	StateProfileConfirmed: {StateDiscovering},
	StateDiscovering:      {StateChoose, StatePinEntry, StateFailed},
	StateChoose:           {StatePinEntry},
	StatePinEntry:         {StatePinConfirm, StatePasswordEntry},
	StatePinConfirm:       {StatePasswordEntry, StatePinEntry},
	StatePasswordEntry:    {StateReconstructing},
	StateReconstructing:   {StateComplete, StateFailed},
	StateComplete:         {},
	// Retry re-enters the failed step; a new PIN after WrongPin goes back
	// through PASSWORD_ENTRY with the password already set.
	StateFailed: {StateDiscovering, StateReconstructing, StatePasswordEntry},
}

// ErrInvalidTransition is returned for events that are not valid in the current state.
type ErrInvalidTransition struct {
	From, To State
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s", e.From, e.To)
}

// FSM guards the orchestrator state. All transitions go through To.
type FSM struct {
	mu    sync.RWMutex
	state State
}

func NewFSM() *FSM {
	return &FSM{state: StateSignedOut}
}

func (f *FSM) Current() State {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.state
}

// To moves to next if the transition table allows it.
func (f *FSM) To(next State) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !CanTransition(f.state, next) {
		return &ErrInvalidTransition{From: f.state, To: next}
	}
	f.state = next
	return nil
}

// Reset returns to SIGNED_OUT unless a run is in flight.
func (f *FSM) Reset() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state == StateReconstructing {
		return &ErrInvalidTransition{From: f.state, To: StateSignedOut}
	}
	f.state = StateSignedOut
	return nil
}

func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
