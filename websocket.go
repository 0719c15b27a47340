package realtime

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/bt-bridge/voice-repo-agent/shared"
	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WebSocketDialer connects over a plain WebSocket. Audio frames are sent as
// base64 input_audio_buffer.append events and must be PCM16 at 24kHz.
type WebSocketDialer struct {
	Logger           shared.LoggerAdapter
	HandshakeTimeout time.Duration
	// Dialer overrides the default gorilla dialer, mainly for tests.
	Dialer *websocket.Dialer
}

var _ Dialer = (*WebSocketDialer)(nil)

func websocketURL(cfg RealtimeConfig) (string, error) {
	u, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return "", fmt.Errorf("parsing endpoint: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	q := u.Query()
	q.Set("model", cfg.Model)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (d *WebSocketDialer) Dial(ctx context.Context, cfg RealtimeConfig, token string, h TransportHandler) (Transport, error) {
	cfg = cfg.withDefaults()
	logger := d.Logger
	if logger == nil {
		logger = shared.NewNopLogger()
	}
	logger = logger.With(zap.String("transport", "websocket"))

	target, err := websocketURL(cfg)
	if err != nil {
		return nil, err
	}
	dialer := d.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: d.HandshakeTimeout}
	}
	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+token)

	conn, resp, err := dialer.DialContext(ctx, target, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dialing websocket: status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dialing websocket: %w", err)
	}

	t := &websocketTransport{
		logger:  logger,
		conn:    conn,
		handler: h,
		done:    make(chan struct{}),
	}
	logger.Info("websocket connected")
	if h.OnOpen != nil {
		h.OnOpen(t)
	}
	go t.readLoop()
	return t, nil
}

type websocketTransport struct {
	logger  shared.LoggerAdapter
	conn    *websocket.Conn
	handler TransportHandler

	writeMu sync.Mutex

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

func (t *websocketTransport) readLoop() {
	defer close(t.done)
	for {
		_, message, err := t.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				t.remoteClosed(nil)
			} else {
				t.remoteClosed(fmt.Errorf("reading websocket: %w", err))
			}
			return
		}
		if t.handler.OnMessage != nil {
			t.handler.OnMessage(message)
		}
	}
}

func (t *websocketTransport) Send(data []byte) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return shared.ErrNotConnected
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *websocketTransport) SendAudio(frame AudioFrame) error {
	data, err := sonic.Marshal(ClientEvent{
		Type:  ClientEventTypeInputAudioBufferAppend,
		Audio: base64.StdEncoding.EncodeToString(frame.Data),
	})
	if err != nil {
		return fmt.Errorf("encoding audio append: %w", err)
	}
	return t.Send(data)
}

func (t *websocketTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	t.writeMu.Lock()
	_ = t.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	t.writeMu.Unlock()
	err := t.conn.Close()
	select {
	case <-t.done:
	case <-time.After(2 * time.Second):
		t.logger.Warn("websocket read loop did not stop")
	}
	if err != nil {
		return fmt.Errorf("closing websocket: %w", err)
	}
	return nil
}

func (t *websocketTransport) remoteClosed(err error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.mu.Unlock()

	if err != nil {
		t.logger.Warn("websocket closed by remote", zap.Error(err))
	}
	if cerr := t.conn.Close(); cerr != nil {
		t.logger.Debug("closing websocket", zap.Error(cerr))
	}
	if t.handler.OnClose != nil {
		t.handler.OnClose(err)
	}
}
