package peermanager

import "fmt"

// State is a node in the peer lifecycle state machine (C8, spec §4.8):
// Known -> Connecting -> Handshaking -> Authenticated, with Banned
// reachable from any state and falling back to Known once the ban expires.
type State int

const (
	StateKnown State = iota
	StateConnecting
	StateHandshaking
	StateAuthenticated
	StateBanned
)

func (s State) String() string {
	switch s {
	case StateKnown:
		return "known"
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateAuthenticated:
		return "authenticated"
	case StateBanned:
		return "banned"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// validTransitions encodes the event-driven transition table (spec §4.8).
// Banned peers can only transition back to Known (ban expiry); Known is
// also reachable from Connecting/Handshaking on a failed attempt, modeled
// as the same "drop back to known" edge from every non-terminal state.
var validTransitions = map[State]map[State]bool{
	StateKnown:         {StateConnecting: true, StateBanned: true},
	StateConnecting:    {StateHandshaking: true, StateKnown: true, StateBanned: true},
	StateHandshaking:   {StateAuthenticated: true, StateKnown: true, StateBanned: true},
	StateAuthenticated: {StateKnown: true, StateBanned: true},
	StateBanned:        {StateKnown: true},
}

func canTransition(from, to State) bool {
	return validTransitions[from][to]
}
