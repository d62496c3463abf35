package domain

// ConnState is the lifecycle state of one subscription channel.
type ConnState int32

const (
	StateIdle ConnState = iota
	StateConnecting
	StateSubscribed
	StateStreaming
	StateDisconnected
	StateFailed
)

// String returns the string representation of ConnState
func (s ConnState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	case StateStreaming:
		return "streaming"
	case StateDisconnected:
		return "disconnected"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Active reports whether a transport is open or being opened.
func (s ConnState) Active() bool {
	return s == StateConnecting || s == StateSubscribed || s == StateStreaming
}

// MarshalText lets ConnState render as its name in JSON.
func (s ConnState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
