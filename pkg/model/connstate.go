package model

// ConnectionState tracks the node's link to the coordinator. Not persisted.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateOffline
	StateShuttingDown
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateOffline:
		return "offline"
	case StateShuttingDown:
		return "shutting_down"
	default:
		return "disconnected"
	}
}
