package session

import (
	"fmt"

	"github.com/desertthunder/evpn/internal/shared"
)

// State is the connection state of the orchestrator.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Disconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

var transitions = map[State][]State{
	Disconnected:  {Connecting},
	Connecting:    {Connected, Disconnected},
	Connected:     {Disconnecting},
	Disconnecting: {Disconnected},
}

func allowedTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func checkTransition(from, to State) error {
	if !allowedTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", shared.ErrInvalidState, from, to)
	}
	return nil
}
