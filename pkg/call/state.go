package call

// State is the lifecycle state of a call.
type State int32

const (
	// StateIdle holds no resources.
	StateIdle State = iota
	// StateNegotiating is creating a call on the service.
	StateNegotiating
	// StateConnecting is opening the audio connection.
	StateConnecting
	// StateActive streams audio both ways.
	StateActive
	// StateDisconnecting is releasing resources on the way back to Idle.
	StateDisconnecting
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateNegotiating:
		return "negotiating"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Busy reports whether the state is a transition in progress.
func (s State) Busy() bool {
	return s == StateNegotiating || s == StateConnecting || s == StateDisconnecting
}
