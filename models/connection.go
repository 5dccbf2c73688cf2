package models

// ConnectionState describes the lifecycle of the engine connection. Exactly
// one state is active at a time and transitions are owned by the connection
// manager.
type ConnectionState int

const (
	// StateDisconnected is the initial state and the state after any
	// teardown, handshake failure or remote close.
	StateDisconnected ConnectionState = iota
	// StateConnecting is entered on an explicit connect request while the
	// transport is being established.
	StateConnecting
	// StateConnected means the handshake completed and frames are flowing.
	StateConnected
	// StateUnavailable means the engine artifact is not installed; the
	// operator has to download it before connecting again.
	StateUnavailable
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// legalEdges lists the permitted state transitions. Self transitions are not
// listed; setting the same state twice is treated as a no-op by callers.
var legalEdges = map[ConnectionState][]ConnectionState{
	StateDisconnected: {StateConnecting, StateUnavailable},
	StateConnecting:   {StateConnected, StateDisconnected, StateUnavailable},
	StateConnected:    {StateDisconnected},
	StateUnavailable:  {StateConnecting, StateDisconnected},
}

// LegalTransition reports whether moving from one connection state to another
// follows a permitted edge.
func LegalTransition(from, to ConnectionState) bool {
	if from == to {
		return true
	}
	for _, next := range legalEdges[from] {
		if next == to {
			return true
		}
	}
	return false
}
