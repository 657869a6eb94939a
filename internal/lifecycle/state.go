package lifecycle

import (
	"fmt"
	"time"

	"github.com/nerrad567/linklight/internal/indicator"
)

// State is the connectivity lifecycle state. Exactly one is active.
type State uint32

const (
	StateIdle State = iota
	StateAssociating
	StateAssociated
	StateSessionConnecting
	StateSessionActive
	StateDegraded
	StateFaulted
)

var stateNames = [...]string{
	StateIdle:              "idle",
	StateAssociating:       "associating",
	StateAssociated:        "associated",
	StateSessionConnecting: "session_connecting",
	StateSessionActive:     "session_active",
	StateDegraded:          "degraded",
	StateFaulted:           "faulted",
}

// String returns the snake_case state name used in logs, telemetry and the journal.
func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", uint32(s))
}

// ParseState is the inverse of State.String.
func ParseState(name string) (State, error) {
	for i, n := range stateNames {
		if n == name {
			return State(i), nil
		}
	}
	return 0, fmt.Errorf("lifecycle: unknown state %q", name)
}

// MarshalText encodes the state by name, so JSON and YAML carry
// "session_active" rather than a number.
func (s State) MarshalText() ([]byte, error) {
	if int(s) >= len(stateNames) {
		return nil, fmt.Errorf("lifecycle: invalid state %d", uint32(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(text []byte) error {
	v, err := ParseState(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// States lists every state in declaration order.
func States() []State {
	out := make([]State, len(stateNames))
	for i := range stateNames {
		out[i] = State(i)
	}
	return out
}

// IndicatorFor returns the indicator color and power for s.
// The indicator is a pure function of the lifecycle state.
func IndicatorFor(s State) (indicator.Color, bool) {
	switch s {
	case StateAssociating, StateAssociated, StateSessionConnecting:
		return indicator.Blue, true
	case StateSessionActive:
		return indicator.Green, true
	case StateDegraded, StateFaulted:
		return indicator.Red, true
	default:
		return indicator.Off, false
	}
}

// Transition causes.
const (
	CauseStart        = "start"
	CauseStop         = "stop"
	CauseReset        = "reset"
	CauseAssociated   = "associated"
	CauseSessionStart = "session_start"
	CauseSessionUp    = "session_established"
	CauseRetry        = "retry"
	CauseExhausted    = "retry_exhausted"
	CauseLinkDrop     = "link_drop"
	CauseBrokerDrop   = "broker_drop"
	CauseRecover      = "recover"
	CauseShutdown     = "shutdown"
)

// Transition is one committed state change.
//
// Retries re-enter the same state and are published with From == To.
type Transition struct {
	From    State     `json:"from"`
	To      State     `json:"to"`
	Cause   string    `json:"cause"`
	Attempt int       `json:"attempt"`
	Err     string    `json:"error,omitempty"`
	At      time.Time `json:"at"`
}
