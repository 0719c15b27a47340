package shared

import "errors"

var (
	ErrUnauthorized          = errors.New("unauthorized")
	ErrForbidden             = errors.New("forbidden")
	ErrNoLogger              = errors.New("no logger provided")
	ErrNoConfig              = errors.New("no config provided")
	ErrNoAPIKey              = errors.New("no API key provided")
	ErrNoEndpoint            = errors.New("no endpoint provided")
	ErrNoTransport           = errors.New("no transport dialer provided")
	ErrNoTokenSource         = errors.New("no token source provided")
	ErrNotConnected          = errors.New("session not connected")
	ErrConnectAborted        = errors.New("connect aborted by disconnect")
	ErrEmptyToken            = errors.New("empty ephemeral token")
	ErrSessionAlreadyRunning = errors.New("session already running")
)
