package realtime

import (
	"github.com/goccy/go-yaml"
)

type EventType string

type ServerEventType EventType

type ClientEventType EventType

// Server event types. Beta names and their GA aliases decode identically.
const (
	ServerEventTypeError                                            ServerEventType = "error"
	ServerEventTypeSessionCreated                                   ServerEventType = "session.created"
	ServerEventTypeSessionUpdated                                   ServerEventType = "session.updated"
	ServerEventTypeConversationCreated                              ServerEventType = "conversation.created"
	ServerEventTypeConversationItemCreated                          ServerEventType = "conversation.item.created"
	ServerEventTypeConversationItemAdded                            ServerEventType = "conversation.item.added"
	ServerEventTypeConversationItemDone                             ServerEventType = "conversation.item.done"
	ServerEventTypeConversationItemRetrieved                        ServerEventType = "conversation.item.retrieved"
	ServerEventTypeConversationItemInputAudioTranscriptionCompleted ServerEventType = "conversation.item.input_audio_transcription.completed"
	ServerEventTypeConversationItemInputAudioTranscriptionDelta     ServerEventType = "conversation.item.input_audio_transcription.delta"
	ServerEventTypeConversationItemInputAudioTranscriptionSegment   ServerEventType = "conversation.item.input_audio_transcription.segment"
	ServerEventTypeConversationItemInputAudioTranscriptionFailed    ServerEventType = "conversation.item.input_audio_transcription.failed"
	ServerEventTypeConversationItemTruncated                        ServerEventType = "conversation.item.truncated"
	ServerEventTypeConversationItemDeleted                          ServerEventType = "conversation.item.deleted"
	ServerEventTypeInputAudioBufferCommitted                        ServerEventType = "input_audio_buffer.committed"
	ServerEventTypeInputAudioBufferCleared                          ServerEventType = "input_audio_buffer.cleared"
	ServerEventTypeInputAudioBufferSpeechStarted                    ServerEventType = "input_audio_buffer.speech_started"
	ServerEventTypeInputAudioBufferSpeechStopped                    ServerEventType = "input_audio_buffer.speech_stopped"
	ServerEventTypeInputAudioBufferTimeoutTriggered                 ServerEventType = "input_audio_buffer.timeout_triggered"
	ServerEventTypeOutputAudioBufferStarted                         ServerEventType = "output_audio_buffer.started"
	ServerEventTypeOutputAudioBufferStopped                         ServerEventType = "output_audio_buffer.stopped"
	ServerEventTypeOutputAudioBufferCleared                         ServerEventType = "output_audio_buffer.cleared"
	ServerEventTypeResponseCreated                                  ServerEventType = "response.created"
	ServerEventTypeResponseDone                                     ServerEventType = "response.done"
	ServerEventTypeResponseOutputItemAdded                          ServerEventType = "response.output_item.added"
	ServerEventTypeResponseOutputItemDone                           ServerEventType = "response.output_item.done"
	ServerEventTypeResponseContentPartAdded                         ServerEventType = "response.content_part.added"
	ServerEventTypeResponseContentPartDone                          ServerEventType = "response.content_part.done"
	ServerEventTypeResponseTextDelta                                ServerEventType = "response.text.delta"
	ServerEventTypeResponseTextDone                                 ServerEventType = "response.text.done"
	ServerEventTypeResponseOutputTextDelta                          ServerEventType = "response.output_text.delta"
	ServerEventTypeResponseOutputTextDone                           ServerEventType = "response.output_text.done"
	ServerEventTypeResponseAudioTranscriptDelta                     ServerEventType = "response.audio_transcript.delta"
	ServerEventTypeResponseAudioTranscriptDone                      ServerEventType = "response.audio_transcript.done"
	ServerEventTypeResponseOutputAudioTranscriptDelta               ServerEventType = "response.output_audio_transcript.delta"
	ServerEventTypeResponseOutputAudioTranscriptDone                ServerEventType = "response.output_audio_transcript.done"
	ServerEventTypeResponseAudioDelta                               ServerEventType = "response.audio.delta"
	ServerEventTypeResponseAudioDone                                ServerEventType = "response.audio.done"
	ServerEventTypeResponseOutputAudioDelta                         ServerEventType = "response.output_audio.delta"
	ServerEventTypeResponseOutputAudioDone                          ServerEventType = "response.output_audio.done"
	ServerEventTypeResponseFunctionCallArgumentsDelta               ServerEventType = "response.function_call_arguments.delta"
	ServerEventTypeResponseFunctionCallArgumentsDone                ServerEventType = "response.function_call_arguments.done"
	ServerEventTypeResponseMCPCallArgumentsDelta                    ServerEventType = "response.mcp_call_arguments.delta"
	ServerEventTypeResponseMCPCallArgumentsDone                     ServerEventType = "response.mcp_call_arguments.done"
	ServerEventTypeResponseMCPCallInProgress                        ServerEventType = "response.mcp_call.in_progress"
	ServerEventTypeResponseMCPCallCompleted                         ServerEventType = "response.mcp_call.completed"
	ServerEventTypeResponseMCPCallFailed                            ServerEventType = "response.mcp_call.failed"
	ServerEventTypeMCPListToolsInProgress                           ServerEventType = "mcp_list_tools.in_progress"
	ServerEventTypeMCPListToolsCompleted                            ServerEventType = "mcp_list_tools.completed"
	ServerEventTypeMCPListToolsFailed                               ServerEventType = "mcp_list_tools.failed"
	ServerEventTypeRatelimitsUpdated                                ServerEventType = "rate_limits.updated"
)

// Client event types
const (
	ClientEventTypeSessionUpdate            ClientEventType = "session.update"
	ClientEventTypeInputAudioBufferAppend   ClientEventType = "input_audio_buffer.append"
	ClientEventTypeInputAudioBufferCommit   ClientEventType = "input_audio_buffer.commit"
	ClientEventTypeInputAudioBufferClear    ClientEventType = "input_audio_buffer.clear"
	ClientEventTypeConversationItemCreate   ClientEventType = "conversation.item.create"
	ClientEventTypeConversationItemRetrieve ClientEventType = "conversation.item.retrieve"
	ClientEventTypeConversationItemTruncate ClientEventType = "conversation.item.truncate"
	ClientEventTypeConversationItemDelete   ClientEventType = "conversation.item.delete"
	ClientEventTypeResponseCreate           ClientEventType = "response.create"
	ClientEventTypeResponseCancel           ClientEventType = "response.cancel"
	ClientEventTypeOutputAudioBufferClear   ClientEventType = "output_audio_buffer.clear"
)

// inertServerEvents are recognised but carry nothing the engine republishes.
var inertServerEvents = map[ServerEventType]struct{}{
	ServerEventTypeSessionUpdated:                                 {},
	ServerEventTypeConversationCreated:                            {},
	ServerEventTypeConversationItemRetrieved:                      {},
	ServerEventTypeConversationItemInputAudioTranscriptionDelta:   {},
	ServerEventTypeConversationItemInputAudioTranscriptionSegment: {},
	ServerEventTypeConversationItemInputAudioTranscriptionFailed:  {},
	ServerEventTypeConversationItemTruncated:                      {},
	ServerEventTypeConversationItemDeleted:                        {},
	ServerEventTypeInputAudioBufferCommitted:                      {},
	ServerEventTypeInputAudioBufferCleared:                        {},
	ServerEventTypeInputAudioBufferSpeechStarted:                  {},
	ServerEventTypeInputAudioBufferSpeechStopped:                  {},
	ServerEventTypeInputAudioBufferTimeoutTriggered:               {},
	ServerEventTypeOutputAudioBufferStarted:                       {},
	ServerEventTypeOutputAudioBufferStopped:                       {},
	ServerEventTypeOutputAudioBufferCleared:                       {},
	ServerEventTypeResponseCreated:                                {},
	ServerEventTypeResponseDone:                                   {},
	ServerEventTypeResponseOutputItemAdded:                        {},
	ServerEventTypeResponseOutputItemDone:                         {},
	ServerEventTypeResponseContentPartAdded:                       {},
	ServerEventTypeResponseContentPartDone:                        {},
	ServerEventTypeResponseTextDelta:                              {},
	ServerEventTypeResponseTextDone:                               {},
	ServerEventTypeResponseOutputTextDelta:                        {},
	ServerEventTypeResponseOutputTextDone:                         {},
	ServerEventTypeResponseAudioDelta:                             {},
	ServerEventTypeResponseAudioDone:                              {},
	ServerEventTypeResponseOutputAudioDelta:                       {},
	ServerEventTypeResponseOutputAudioDone:                        {},
	ServerEventTypeResponseFunctionCallArgumentsDelta:             {},
	ServerEventTypeResponseMCPCallArgumentsDelta:                  {},
	ServerEventTypeResponseMCPCallArgumentsDone:                   {},
	ServerEventTypeResponseMCPCallInProgress:                      {},
	ServerEventTypeResponseMCPCallCompleted:                       {},
	ServerEventTypeResponseMCPCallFailed:                          {},
	ServerEventTypeMCPListToolsInProgress:                         {},
	ServerEventTypeMCPListToolsCompleted:                          {},
	ServerEventTypeMCPListToolsFailed:                             {},
	ServerEventTypeRatelimitsUpdated:                              {},
}

type EventKind string

const (
	EventKindTranscript   EventKind = "transcript"
	EventKindToolCall     EventKind = "tool_call"
	EventKindError        EventKind = "error"
	EventKindConnected    EventKind = "connected"
	EventKindDisconnected EventKind = "disconnected"
	EventKindItemCreated  EventKind = "item_created"
)

// Event is what the Client publishes to subscribers. The variants below are
// the closed set; a type switch with a default branch covers them.
type Event interface {
	Kind() EventKind
}

// TranscriptEvent carries assistant speech or, with Speaker set to RoleUser,
// the transcription of the user's own audio.
type TranscriptEvent struct {
	Text    string `yaml:"text"`
	Final   bool   `yaml:"final"`
	Speaker Role   `yaml:"speaker"`
}

func (TranscriptEvent) Kind() EventKind { return EventKindTranscript }

type ToolCallEvent struct {
	Name      string `yaml:"name"`
	Arguments string `yaml:"arguments"`
	CallID    string `yaml:"call_id,omitempty"`
	ItemID    string `yaml:"item_id,omitempty"`
}

func (ToolCallEvent) Kind() EventKind { return EventKindToolCall }

type ErrorEvent struct {
	Message string `yaml:"message"`
	Code    string `yaml:"code,omitempty"`
}

func (ErrorEvent) Kind() EventKind { return EventKindError }

type ConnectedEvent struct {
	SessionID string `yaml:"session_id,omitempty"`
}

func (ConnectedEvent) Kind() EventKind { return EventKindConnected }

type DisconnectedEvent struct{}

func (DisconnectedEvent) Kind() EventKind { return EventKindDisconnected }

type ItemCreatedEvent struct {
	Item Item `yaml:"item"`
}

func (ItemCreatedEvent) Kind() EventKind { return EventKindItemCreated }

// EventYAML renders an event with its kind for logs and dumps.
func EventYAML(e Event) ([]byte, error) {
	return yaml.Marshal(map[string]any{
		"kind":  e.Kind(),
		"event": e,
	})
}
