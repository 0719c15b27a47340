package realtime

import (
	"errors"
	"fmt"
	"sync"

	"github.com/bt-bridge/voice-repo-agent/shared"
	"github.com/bytedance/sonic"
	"go.uber.org/zap"
)

// UserTranscriptPrefix marks transcripts of the user's own speech.
const UserTranscriptPrefix = "You: "

var errMissingType = errors.New("event has no type")

// DecodeError is returned for payloads that are not JSON objects or have no
// type discriminator. It is never fatal to a session.
type DecodeError struct {
	Raw string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding server event: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// ResponseOptions is the optional body of response.create.
type ResponseOptions struct {
	Instructions     string   `json:"instructions,omitempty"`
	OutputModalities []string `json:"output_modalities,omitempty"`
	MaxOutputTokens  int      `json:"max_output_tokens,omitempty"`
}

// ClientEvent is one outbound protocol event. Absent fields are omitted.
type ClientEvent struct {
	EventID  string           `json:"event_id,omitempty"`
	Type     ClientEventType  `json:"type"`
	Session  map[string]any   `json:"session,omitempty"`
	Item     Item             `json:"item,omitempty"`
	Response *ResponseOptions `json:"response,omitempty"`
	Audio    string           `json:"audio,omitempty"`
}

// Codec converts between wire JSON and the typed event model. It remembers
// function names by call id so a ToolCall can be completed when the
// arguments event omits the name.
type Codec struct {
	logger shared.LoggerAdapter

	mu    sync.Mutex
	names map[string]string
}

func NewCodec(logger shared.LoggerAdapter) *Codec {
	if logger == nil {
		logger = shared.NewNopLogger()
	}
	return &Codec{
		logger: logger,
		names:  make(map[string]string),
	}
}

// Decode maps one server event to at most one Event. Recognised events with
// nothing to publish and unknown types both return (nil, nil).
func (c *Codec) Decode(data []byte) (Event, error) {
	raw := map[string]any{}
	if err := sonic.Unmarshal(data, &raw); err != nil {
		return nil, &DecodeError{Raw: truncate(data), Err: err}
	}
	t := str(raw, "type")
	if t == "" {
		return nil, &DecodeError{Raw: truncate(data), Err: errMissingType}
	}

	switch ServerEventType(t) {
	case ServerEventTypeSessionCreated:
		return ConnectedEvent{SessionID: str(obj(raw, "session"), "id")}, nil

	case ServerEventTypeConversationItemCreated, ServerEventTypeConversationItemAdded:
		itemRaw := obj(raw, "item")
		if itemRaw == nil {
			c.logger.Warn("conversation item event without item", zap.String("type", t))
			return nil, nil
		}
		item, err := decodeItem(itemRaw)
		if err != nil {
			c.logger.Warn("dropping conversation item", zap.String("type", t), zap.Error(err))
			return nil, nil
		}
		c.remember(item)
		return ItemCreatedEvent{Item: item}, nil

	case ServerEventTypeConversationItemDone, ServerEventTypeResponseOutputItemAdded, ServerEventTypeResponseOutputItemDone:
		if itemRaw := obj(raw, "item"); itemRaw != nil {
			if item, err := decodeItem(itemRaw); err == nil {
				c.remember(item)
			}
		}
		return nil, nil

	case ServerEventTypeResponseAudioTranscriptDelta, ServerEventTypeResponseOutputAudioTranscriptDelta:
		return TranscriptEvent{Text: str(raw, "delta"), Speaker: RoleAssistant}, nil

	case ServerEventTypeResponseAudioTranscriptDone, ServerEventTypeResponseOutputAudioTranscriptDone:
		return TranscriptEvent{Text: str(raw, "transcript"), Final: true, Speaker: RoleAssistant}, nil

	case ServerEventTypeConversationItemInputAudioTranscriptionCompleted:
		return TranscriptEvent{Text: UserTranscriptPrefix + str(raw, "transcript"), Final: true, Speaker: RoleUser}, nil

	case ServerEventTypeResponseFunctionCallArgumentsDone:
		ev := ToolCallEvent{
			Name:      str(raw, "name"),
			Arguments: str(raw, "arguments"),
			CallID:    str(raw, "call_id"),
			ItemID:    str(raw, "item_id"),
		}
		if ev.Name == "" {
			ev.Name = c.lookup(ev.CallID)
		}
		if ev.Name == "" {
			c.logger.Warn("function call without a name", zap.String("call_id", ev.CallID))
		}
		return ev, nil

	case ServerEventTypeError:
		return decodeError(raw), nil
	}

	if _, ok := inertServerEvents[ServerEventType(t)]; ok {
		return nil, nil
	}
	c.logger.Debug("ignoring unknown server event", zap.String("type", t))
	return nil, nil
}

func decodeError(raw map[string]any) ErrorEvent {
	if e := obj(raw, "error"); e != nil {
		ev := ErrorEvent{Message: str(e, "message"), Code: str(e, "code")}
		if ev.Message == "" {
			ev.Message = str(e, "type")
		}
		if ev.Message != "" {
			return ev
		}
	}
	if msg := str(raw, "message"); msg != "" {
		return ErrorEvent{Message: msg, Code: str(raw, "code")}
	}
	return ErrorEvent{Message: "unknown error"}
}

func (c *Codec) remember(item Item) {
	fc, ok := item.(FunctionCallItem)
	if !ok || fc.CallID == "" || fc.Name == "" {
		return
	}
	c.mu.Lock()
	c.names[fc.CallID] = fc.Name
	c.mu.Unlock()
}

func (c *Codec) lookup(callID string) string {
	if callID == "" {
		return ""
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.names[callID]
}

// Reset forgets call ids from a previous session.
func (c *Codec) Reset() {
	c.mu.Lock()
	c.names = make(map[string]string)
	c.mu.Unlock()
}

func (c *Codec) Encode(ev ClientEvent) ([]byte, error) {
	if ev.Type == "" {
		return nil, errMissingType
	}
	data, err := sonic.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", ev.Type, err)
	}
	return data, nil
}

func str(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

func obj(m map[string]any, key string) map[string]any {
	if m == nil {
		return nil
	}
	o, _ := m[key].(map[string]any)
	return o
}

func truncate(data []byte) string {
	const limit = 256
	if len(data) > limit {
		return string(data[:limit]) + "..."
	}
	return string(data)
}
