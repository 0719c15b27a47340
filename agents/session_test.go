package agents

import (
	"context"
	"sync"
	"testing"
	"time"

	realtime "github.com/bt-bridge/voice-repo-agent"
	"github.com/bt-bridge/voice-repo-agent/shared"
	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pipeTransport struct {
	mu   sync.Mutex
	sent [][]byte
}

func (t *pipeTransport) Send(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, append([]byte(nil), data...))
	return nil
}

func (t *pipeTransport) SendAudio(realtime.AudioFrame) error { return nil }
func (t *pipeTransport) Close() error                        { return nil }

func (t *pipeTransport) types(tb testing.TB) []map[string]any {
	tb.Helper()
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]map[string]any, 0, len(t.sent))
	for _, data := range t.sent {
		m := map[string]any{}
		require.NoError(tb, sonic.Unmarshal(data, &m))
		out = append(out, m)
	}
	return out
}

type pipeDialer struct {
	transport *pipeTransport
	handler   realtime.TransportHandler
}

func (d *pipeDialer) Dial(_ context.Context, _ realtime.RealtimeConfig, _ string, h realtime.TransportHandler) (realtime.Transport, error) {
	d.handler = h
	d.transport = &pipeTransport{}
	h.OnOpen(d.transport)
	return d.transport, nil
}

type staticTokens struct{}

func (staticTokens) EphemeralToken(context.Context, realtime.RealtimeConfig, map[string]any) (string, error) {
	return "ek_test", nil
}

func TestCreateFileBeforeOpenRepoOverSession(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dialer := &pipeDialer{}
	client, err := realtime.NewClient(shared.NewNopLogger(), dialer, staticTokens{})
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	api := &countingAPI{}
	var mu sync.Mutex
	var kinds []realtime.EventKind
	c, err := NewCoordinator(shared.NewNopLogger(), client, newTestRegistry(t, api),
		WithEventHandler(func(ev realtime.Event) {
			mu.Lock()
			kinds = append(kinds, ev.Kind())
			mu.Unlock()
		}))
	require.NoError(t, err)
	c.Start(ctx)

	require.NoError(t, client.Connect(ctx, realtime.RealtimeConfig{Secret: "sk-test"}))
	assert.True(t, client.State().IsConnected())

	dialer.handler.OnMessage([]byte(`{"type":"session.created","session":{"id":"sess_1"}}`))
	dialer.handler.OnMessage([]byte(`{"type":"response.function_call_arguments.done","name":"create_file","call_id":"call_1","item_id":"item_1","arguments":"{\"path\":\"x.txt\",\"content\":\"hi\"}"}`))

	require.Eventually(t, func() bool {
		return len(dialer.transport.types(t)) == 3
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []realtime.EventKind{realtime.EventKindConnected, realtime.EventKindToolCall}, kinds)
	mu.Unlock()

	entries := c.EventLog().Entries()
	var tool Entry
	for _, e := range entries {
		if e.Kind == EntryToolCall {
			tool = e
		}
	}
	assert.Equal(t, "create_file", tool.Tool)
	assert.False(t, tool.Success)
	assert.Equal(t, "No repository opened. Use open_repo first.", tool.Message)
	assert.Zero(t, api.count())

	sent := dialer.transport.types(t)
	assert.Equal(t, "session.update", sent[0]["type"])
	assert.Equal(t, "conversation.item.create", sent[1]["type"])
	item, ok := sent[1]["item"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "function_call_output", item["type"])
	assert.Equal(t, "call_1", item["call_id"])
	assert.Equal(t, "response.create", sent[2]["type"])
}
