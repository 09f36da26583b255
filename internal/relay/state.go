package relay

// State is the connection lifecycle state of a [Manager].
type State int32

const (
	// StateDisconnected means no connection exists. This is the initial state
	// and the state after every teardown.
	StateDisconnected State = iota

	// StateConnecting means a dial attempt is in flight.
	StateConnecting

	// StateConnected means the sender and receiver pipelines are running.
	StateConnected

	// StateClosing means Stop was requested and the connection is being shut
	// down.
	StateClosing
)

// String returns a lowercase label for logs.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}
