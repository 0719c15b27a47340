package realtime

import (
	"context"
	"time"
)

// AudioFrame is one encoded chunk of microphone audio.
type AudioFrame struct {
	Data     []byte
	Duration time.Duration
}

type Sender interface {
	// Send writes one JSON protocol event to the data channel.
	Send(data []byte) error
}

// Transport is an established connection to the Realtime API. Close must
// release every resource and must not trigger the handler's OnClose.
type Transport interface {
	Sender
	SendAudio(frame AudioFrame) error
	Close() error
}

// TransportHandler receives transport callbacks. OnMessage is called
// sequentially in receipt order. OnClose is called at most once, only when
// the remote side or the network ends the connection.
type TransportHandler struct {
	OnOpen    func(s Sender)
	OnMessage func(data []byte)
	OnClose   func(err error)
}

// Dialer negotiates a Transport using an ephemeral token. One Dialer exists
// per backend (WebRTC, WebSocket); the protocol logic above it is shared.
type Dialer interface {
	Dial(ctx context.Context, cfg RealtimeConfig, token string, h TransportHandler) (Transport, error)
}

// TokenSource exchanges the long-lived secret for a session scoped token.
type TokenSource interface {
	EphemeralToken(ctx context.Context, cfg RealtimeConfig, session map[string]any) (string, error)
}
