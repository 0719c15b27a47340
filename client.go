package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bt-bridge/voice-repo-agent/shared"
	"github.com/bytedance/sonic"
	"go.uber.org/zap"
)

// Observer receives engine telemetry. The metrics package implements it.
type Observer interface {
	EventReceived(kind string)
	DecodeFailed()
	EventDropped()
	StateChanged(state string)
}

type nopObserver struct{}

func (nopObserver) EventReceived(string) {}
func (nopObserver) DecodeFailed()        {}
func (nopObserver) EventDropped()        {}
func (nopObserver) StateChanged(string)  {}

// Client is the session engine. It owns the connection state, drives session
// bring-up over a Dialer and republishes decoded server events to
// subscribers.
//
// Every connection attempt gets a generation number. Transport callbacks and
// in-flight connects from an older generation are ignored, so a Disconnect
// always wins over whatever was still running.
type Client struct {
	logger   shared.LoggerAdapter
	dialer   Dialer
	tokens   TokenSource
	codec    *Codec
	ids      shared.IDGenerator
	observer Observer
	events   *shared.Broadcaster[Event]

	mu         sync.Mutex
	state      ConnectionState
	transport  Transport
	generation uint64
	cancel     context.CancelCauseFunc
	settings   SessionSettings
	cfg        RealtimeConfig
}

type ClientOption func(*Client)

func WithSessionSettings(s SessionSettings) ClientOption {
	return func(c *Client) {
		c.settings = s
	}
}

func WithIDGenerator(gen shared.IDGenerator) ClientOption {
	return func(c *Client) {
		if gen != nil {
			c.ids = gen
		}
	}
}

func WithObserver(o Observer) ClientOption {
	return func(c *Client) {
		if o != nil {
			c.observer = o
		}
	}
}

func NewClient(logger shared.LoggerAdapter, dialer Dialer, tokens TokenSource, opts ...ClientOption) (*Client, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if dialer == nil {
		return nil, shared.ErrNoTransport
	}
	if tokens == nil {
		return nil, shared.ErrNoTokenSource
	}
	logger = logger.With(zap.String("component", "realtime"))
	c := &Client{
		logger:   logger,
		dialer:   dialer,
		tokens:   tokens,
		codec:    NewCodec(logger),
		ids:      shared.NewUUIDGenerator("evt_"),
		observer: nopObserver{},
		events:   shared.NewBroadcaster[Event](),
		settings: DefaultSessionSettings(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.events.OnDrop = func(Event) {
		c.observer.EventDropped()
	}
	return c, nil
}

// Subscribe returns a stream of events published after the call. Each
// subscriber has its own queue of the given size; events that do not fit are
// dropped for that subscriber.
func (c *Client) Subscribe(size int) (<-chan Event, func()) {
	return c.events.Subscribe(size)
}

func (c *Client) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SetSessionSettings replaces the settings used by the next Connect or
// DataSendSessionUpdate.
func (c *Client) SetSessionSettings(s SessionSettings) {
	c.mu.Lock()
	c.settings = s
	c.mu.Unlock()
}

func (c *Client) SessionSettings() SessionSettings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings
}

// Connect brings a session up: token exchange, transport negotiation, then
// session.update once the data channel opens. It returns nil without doing
// anything while a connection is in progress or established. Any failure
// leaves the client in StatusError and publishes an ErrorEvent.
func (c *Client) Connect(ctx context.Context, cfg RealtimeConfig) error {
	cfg = cfg.withDefaults()

	c.mu.Lock()
	if !c.state.CanConnect() {
		c.mu.Unlock()
		c.logger.Debug("connect ignored", zap.Stringer("state", c.State()))
		return nil
	}
	c.generation++
	gen := c.generation
	ctx, cancel := context.WithCancelCause(ctx)
	c.cancel = cancel
	c.cfg = cfg
	settings := c.settings
	c.setStateLocked(ConnectionState{Status: StatusConnecting})
	c.mu.Unlock()

	c.logger.Info("connecting", zap.Object("config", cfg))

	if err := cfg.Validate(); err != nil {
		return c.connectFailed(gen, fmt.Errorf("invalid config: %w", err))
	}
	payload, err := settings.Payload(cfg)
	if err != nil {
		return c.connectFailed(gen, err)
	}
	token, err := c.tokens.EphemeralToken(ctx, cfg, payload)
	if err != nil {
		return c.connectFailed(gen, fmt.Errorf("getting ephemeral token: %w", err))
	}
	if token == "" {
		return c.connectFailed(gen, shared.ErrEmptyToken)
	}

	t, err := c.dialer.Dial(ctx, cfg, token, TransportHandler{
		OnOpen:    func(s Sender) { c.onOpen(gen, s, payload) },
		OnMessage: func(data []byte) { c.onMessage(gen, data) },
		OnClose:   func(err error) { c.onClose(gen, err) },
	})
	if err != nil {
		return c.connectFailed(gen, fmt.Errorf("dialing transport: %w", err))
	}

	c.mu.Lock()
	if c.generation != gen {
		c.mu.Unlock()
		if cerr := t.Close(); cerr != nil {
			c.logger.Error("closing aborted transport", cerr)
		}
		return shared.ErrConnectAborted
	}
	c.transport = t
	c.setStateLocked(ConnectionState{Status: StatusConnected})
	c.mu.Unlock()

	c.logger.Info("transport established")
	return nil
}

func (c *Client) connectFailed(gen uint64, err error) error {
	c.mu.Lock()
	if c.generation != gen {
		c.mu.Unlock()
		c.logger.Debug("connect failure after disconnect", zap.Error(err))
		return errors.Join(shared.ErrConnectAborted, err)
	}
	c.cancelAttemptLocked(err)
	c.setStateLocked(ConnectionState{Status: StatusError, Message: err.Error()})
	c.mu.Unlock()

	c.logger.Error("connect failed", err)
	c.publish(ErrorEvent{Message: err.Error()})
	return err
}

// Disconnect releases the transport, whatever state the client is in, and
// always publishes exactly one DisconnectedEvent.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.generation++
	c.cancelAttemptLocked(shared.ErrConnectAborted)
	t := c.transport
	c.transport = nil
	c.setStateLocked(ConnectionState{Status: StatusDisconnected})
	c.mu.Unlock()

	if t != nil {
		if err := t.Close(); err != nil {
			c.logger.Error("closing transport", err)
		}
	}
	c.codec.Reset()
	c.logger.Info("disconnected")
	c.publish(DisconnectedEvent{})
}

// Close disconnects and ends every subscription.
func (c *Client) Close() error {
	c.Disconnect()
	c.events.Close()
	return nil
}

func (c *Client) setStateLocked(s ConnectionState) {
	if c.state == s {
		return
	}
	c.logger.Trace("state changed", zap.Stringer("prev", c.state), zap.Stringer("new", s))
	c.state = s
	c.observer.StateChanged(s.Status.String())
}

// cancelAttemptLocked stops the token exchange and negotiation of the
// current attempt, if any.
func (c *Client) cancelAttemptLocked(cause error) {
	if c.cancel != nil {
		c.cancel(cause)
		c.cancel = nil
	}
}

func (c *Client) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation == gen
}

func (c *Client) publish(ev Event) {
	c.events.Publish(ev)
}

func (c *Client) onOpen(gen uint64, s Sender, session map[string]any) {
	if !c.current(gen) {
		return
	}
	data, err := c.codec.Encode(ClientEvent{
		EventID: c.ids(),
		Type:    ClientEventTypeSessionUpdate,
		Session: session,
	})
	if err != nil {
		c.logger.Error("encoding session.update", err)
		return
	}
	if err := s.Send(data); err != nil {
		c.logger.Error("sending session.update", err)
		c.publish(ErrorEvent{Message: fmt.Sprintf("sending session.update: %v", err)})
		return
	}
	c.logger.Info("session.update sent")
}

func (c *Client) onMessage(gen uint64, data []byte) {
	if !c.current(gen) {
		return
	}
	ev, err := c.codec.Decode(data)
	if err != nil {
		c.observer.DecodeFailed()
		c.logger.Warn("dropping undecodable event", zap.Error(err))
		c.publish(ErrorEvent{Message: err.Error()})
		return
	}
	if ev == nil {
		return
	}
	c.observer.EventReceived(string(ev.Kind()))
	switch e := ev.(type) {
	case ConnectedEvent:
		c.logger.Info("session created", zap.String("session_id", e.SessionID))
	case ErrorEvent:
		c.logger.Warn("server error", zap.String("message", e.Message), zap.String("code", e.Code))
	case ToolCallEvent:
		c.logger.Info("tool call", zap.String("name", e.Name), zap.String("call_id", e.CallID))
	}
	c.publish(ev)
}

func (c *Client) onClose(gen uint64, err error) {
	c.mu.Lock()
	if c.generation != gen {
		c.mu.Unlock()
		return
	}
	c.generation++
	c.cancelAttemptLocked(shared.ErrConnectAborted)
	c.transport = nil
	if err != nil {
		c.setStateLocked(ConnectionState{Status: StatusError, Message: err.Error()})
	} else {
		c.setStateLocked(ConnectionState{Status: StatusDisconnected})
	}
	c.mu.Unlock()

	c.codec.Reset()
	if err != nil {
		c.logger.Error("transport closed", err)
		c.publish(ErrorEvent{Message: err.Error()})
		return
	}
	c.logger.Info("transport closed by remote")
	c.publish(DisconnectedEvent{})
}

func (c *Client) connectedTransport() Transport {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.state.IsConnected() {
		return nil
	}
	return c.transport
}

// SendAudioFrame forwards one frame. Frames are dropped, never queued, while
// the client is not connected.
func (c *Client) SendAudioFrame(frame AudioFrame) bool {
	t := c.connectedTransport()
	if t == nil {
		return false
	}
	if err := t.SendAudio(frame); err != nil {
		c.logger.Trace("sending audio frame failed", zap.Error(err))
		return false
	}
	return true
}

// DataSendJSON marshals v and sends it on the data channel. The result tells
// whether the channel accepted it.
func (c *Client) DataSendJSON(v any) bool {
	data, err := sonic.Marshal(v)
	if err != nil {
		c.logger.Error("marshaling outbound event", err)
		return false
	}
	return c.sendRaw(data)
}

func (c *Client) sendEvent(ev ClientEvent) bool {
	if ev.EventID == "" {
		ev.EventID = c.ids()
	}
	data, err := c.codec.Encode(ev)
	if err != nil {
		c.logger.Error("encoding outbound event", err)
		return false
	}
	return c.sendRaw(data)
}

func (c *Client) sendRaw(data []byte) bool {
	t := c.connectedTransport()
	if t == nil {
		c.logger.Debug("send dropped", zap.Error(shared.ErrNotConnected))
		return false
	}
	if err := t.Send(data); err != nil {
		c.logger.Warn("send failed", zap.Error(err))
		return false
	}
	return true
}

func (c *Client) DataSendInputAudioBufferClear() bool {
	return c.sendEvent(ClientEvent{Type: ClientEventTypeInputAudioBufferClear})
}

func (c *Client) DataSendInputAudioBufferCommit() bool {
	return c.sendEvent(ClientEvent{Type: ClientEventTypeInputAudioBufferCommit})
}

// DataSendResponseCreate asks the model to respond. opts may be nil.
func (c *Client) DataSendResponseCreate(opts *ResponseOptions) bool {
	return c.sendEvent(ClientEvent{Type: ClientEventTypeResponseCreate, Response: opts})
}

func (c *Client) DataSendItem(item Item) bool {
	if item == nil {
		return false
	}
	return c.sendEvent(ClientEvent{Type: ClientEventTypeConversationItemCreate, Item: item})
}

func (c *Client) DataSendFunctionCallOutput(callID, output string) bool {
	return c.DataSendItem(FunctionCallOutputItem{CallID: callID, Output: output})
}

// DataSendSessionUpdate re-sends the current session settings.
func (c *Client) DataSendSessionUpdate() bool {
	c.mu.Lock()
	settings, cfg := c.settings, c.cfg
	c.mu.Unlock()
	payload, err := settings.Payload(cfg)
	if err != nil {
		c.logger.Error("building session payload", err)
		return false
	}
	return c.sendEvent(ClientEvent{Type: ClientEventTypeSessionUpdate, Session: payload})
}
