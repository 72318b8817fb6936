package pipeline

import "fmt"

// State is the lifecycle position of a Run
type State int

const (
	StateIdle State = iota
	StateAnalyzing
	StateReady
	StateProcessing
	StateDone
	StatePartial
	StateCancelled
)

var stateNames = map[State]string{
	StateIdle:       "idle",
	StateAnalyzing:  "analyzing",
	StateReady:      "ready",
	StateProcessing: "processing",
	StateDone:       "done",
	StatePartial:    "partial",
	StateCancelled:  "cancelled",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText encodes the state by name
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name
func (s *State) UnmarshalText(text []byte) error {
	for state, name := range stateNames {
		if name == string(text) {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", text)
}

// Terminal reports whether no further transition can leave s
func (s State) Terminal() bool {
	return s == StateDone || s == StatePartial || s == StateCancelled
}

// Active reports whether a run in s is still in flight
func (s State) Active() bool {
	return s == StateAnalyzing || s == StateReady || s == StateProcessing
}

// Processing falls back to Idle when a run fails before any text exists
var transitions = map[State][]State{
	StateIdle:       {StateAnalyzing},
	StateAnalyzing:  {StateReady, StateIdle, StateCancelled},
	StateReady:      {StateProcessing, StateIdle, StateCancelled},
	StateProcessing: {StateDone, StatePartial, StateIdle, StateCancelled},
}

// CanTransition reports whether from -> to is a legal move
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
