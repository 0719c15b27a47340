// Package realtime is a client for Realtime voice sessions that lets the model
// work on a GitHub repository through function calls.
//
// A Client owns one session at a time. Connect exchanges the configured secret
// for an ephemeral token, negotiates a transport through a Dialer (WebRTC or
// WebSocket) and declares the session, including its tool catalog, once the
// data channel opens. Server events are decoded by a Codec and republished to
// subscribers as TranscriptEvent, ToolCallEvent, ItemCreatedEvent, ErrorEvent,
// ConnectedEvent and DisconnectedEvent values. Delivery is at most once and
// late subscribers do not see earlier events.
//
// Tool execution lives in the mcp package and the glue between the two in the
// agents package.
package realtime
