package client

// Status is the session connection state. Transitions follow a fixed graph;
// anything else is a bug in the session, not a recoverable condition.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
	StatusError        Status = "error"
)

var validTransitions = map[Status][]Status{
	StatusDisconnected: {StatusConnecting},
	StatusConnecting:   {StatusConnected, StatusDisconnected, StatusError},
	StatusConnected:    {StatusDisconnected, StatusReconnecting, StatusError},
	StatusReconnecting: {StatusConnected, StatusDisconnected, StatusError},
	StatusError:        {StatusConnecting, StatusDisconnected},
}

func canTransition(from, to Status) bool {
	if from == to {
		return false
	}
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
