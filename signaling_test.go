package realtime

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/bt-bridge/voice-repo-agent/shared"
	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
)

type signalRequest struct {
	path        string
	query       string
	auth        string
	contentType string
	body        []byte
}

func newTestSignaling(t *testing.T, handle func(ctx *fasthttp.RequestCtx)) (*Signaling, *[]signalRequest) {
	t.Helper()
	var seen []signalRequest
	ln := fasthttputil.NewInmemoryListener()
	srv := &fasthttp.Server{Handler: func(ctx *fasthttp.RequestCtx) {
		seen = append(seen, signalRequest{
			path:        string(ctx.Path()),
			query:       string(ctx.QueryArgs().QueryString()),
			auth:        string(ctx.Request.Header.Peek("Authorization")),
			contentType: string(ctx.Request.Header.ContentType()),
			body:        append([]byte(nil), ctx.PostBody()...),
		})
		handle(ctx)
	}}
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = ln.Close() })

	hc := &fasthttp.Client{Dial: func(addr string) (net.Conn, error) { return ln.Dial() }}
	s, err := NewSignaling(shared.NewNopLogger(), WithSignalingHTTPClient(hc))
	require.NoError(t, err)
	return s, &seen
}

var testRealtimeConfig = RealtimeConfig{
	Endpoint: "http://realtime.test/v1/realtime",
	Secret:   "sk-long-lived",
	Model:    "gpt-realtime",
}

func TestEphemeralToken(t *testing.T) {
	s, seen := newTestSignaling(t, func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusOK)
		ctx.SetBodyString(`{"value":"ek_123","expires_at":1}`)
	})

	token, err := s.EphemeralToken(context.Background(), testRealtimeConfig, map[string]any{"type": "realtime"})
	require.NoError(t, err)
	assert.Equal(t, "ek_123", token)

	require.Len(t, *seen, 1)
	req := (*seen)[0]
	assert.Equal(t, "/v1/realtime/client_secrets", req.path)
	assert.Equal(t, "Bearer sk-long-lived", req.auth)
	assert.Equal(t, "application/json", req.contentType)

	var body map[string]any
	require.NoError(t, sonic.Unmarshal(req.body, &body))
	assert.Equal(t, map[string]any{"session": map[string]any{"type": "realtime"}}, body)
}

func TestEphemeralTokenNestedSecret(t *testing.T) {
	s, _ := newTestSignaling(t, func(ctx *fasthttp.RequestCtx) {
		ctx.SetBodyString(`{"client_secret":{"value":"ek_nested"}}`)
	})
	token, err := s.EphemeralToken(context.Background(), testRealtimeConfig, nil)
	require.NoError(t, err)
	assert.Equal(t, "ek_nested", token)
}

func TestEphemeralTokenFailures(t *testing.T) {
	s, _ := newTestSignaling(t, func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusUnauthorized)
		ctx.SetBodyString(`{"error":{"message":"bad key"}}`)
	})
	_, err := s.EphemeralToken(context.Background(), testRealtimeConfig, nil)
	assert.ErrorIs(t, err, shared.ErrUnauthorized)
	assert.NotContains(t, err.Error(), "sk-long-lived")

	empty, _ := newTestSignaling(t, func(ctx *fasthttp.RequestCtx) {
		ctx.SetBodyString(`{}`)
	})
	_, err = empty.EphemeralToken(context.Background(), testRealtimeConfig, nil)
	assert.ErrorIs(t, err, shared.ErrEmptyToken)

	_, err = empty.EphemeralToken(context.Background(), RealtimeConfig{Endpoint: testRealtimeConfig.Endpoint}, nil)
	assert.ErrorIs(t, err, shared.ErrNoAPIKey)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = empty.EphemeralToken(ctx, testRealtimeConfig, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAnswer(t *testing.T) {
	s, seen := newTestSignaling(t, func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusCreated)
		ctx.SetContentType("application/sdp")
		ctx.SetBodyString("v=0\r\nanswer")
	})

	answer, err := s.Answer(context.Background(), testRealtimeConfig, "ek_123", "v=0\r\noffer")
	require.NoError(t, err)
	assert.Equal(t, "v=0\r\nanswer", answer)

	require.Len(t, *seen, 1)
	req := (*seen)[0]
	assert.Equal(t, "/v1/realtime/calls", req.path)
	assert.Equal(t, "model=gpt-realtime", req.query)
	assert.Equal(t, "Bearer ek_123", req.auth)
	assert.Equal(t, "application/sdp", req.contentType)
	assert.Equal(t, "v=0\r\noffer", string(req.body))
}

func TestAnswerRejected(t *testing.T) {
	s, _ := newTestSignaling(t, func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusBadRequest)
		ctx.SetBodyString("bad sdp")
	})
	_, err := s.Answer(context.Background(), testRealtimeConfig, "ek", "offer")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

func TestCancelInterruptsSlowSignalingRequest(t *testing.T) {
	release := make(chan struct{})
	s, _ := newTestSignaling(t, func(ctx *fasthttp.RequestCtx) {
		<-release
		ctx.SetStatusCode(fasthttp.StatusOK)
		ctx.SetBodyString(`{"value":"ek_late"}`)
	})
	t.Cleanup(func() { close(release) })

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	start := time.Now()
	token, err := s.EphemeralToken(ctx, testRealtimeConfig, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, token)
	assert.Less(t, time.Since(start), time.Second)
}
