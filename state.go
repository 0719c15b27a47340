package realtime

type ConnectionStatus int

const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusError
)

func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusError:
		return "error"
	}
	return "unknown"
}

// ConnectionState is owned by the Client; Message is only set for
// StatusError.
type ConnectionState struct {
	Status  ConnectionStatus
	Message string
}

func (s ConnectionState) String() string {
	if s.Status == StatusError && s.Message != "" {
		return "error: " + s.Message
	}
	return s.Status.String()
}

// CanConnect is true for Disconnected and Error; an errored session may
// always be reconnected.
func (s ConnectionState) CanConnect() bool {
	return s.Status == StatusDisconnected || s.Status == StatusError
}

func (s ConnectionState) IsConnected() bool {
	return s.Status == StatusConnected
}
