package realtime

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/bt-bridge/voice-repo-agent/shared"
	"github.com/bytedance/sonic"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

const DefaultSignalingTimeout = 15 * time.Second

// Signaling performs the two HTTP exchanges of session bring-up: trading the
// secret for an ephemeral token and posting the SDP offer.
type Signaling struct {
	logger  shared.LoggerAdapter
	http    *fasthttp.Client
	timeout time.Duration
}

var _ TokenSource = (*Signaling)(nil)

type SignalingOption func(*Signaling)

func WithSignalingHTTPClient(hc *fasthttp.Client) SignalingOption {
	return func(s *Signaling) {
		if hc != nil {
			s.http = hc
		}
	}
}

func WithSignalingTimeout(d time.Duration) SignalingOption {
	return func(s *Signaling) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func NewSignaling(logger shared.LoggerAdapter, opts ...SignalingOption) (*Signaling, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	s := &Signaling{
		logger:  logger.With(zap.String("component", "signaling")),
		http:    &fasthttp.Client{},
		timeout: DefaultSignalingTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

type clientSecretResponse struct {
	Value        string `json:"value"`
	ClientSecret struct {
		Value string `json:"value"`
	} `json:"client_secret"`
}

// EphemeralToken posts the session to {endpoint}/client_secrets and returns
// the short lived token from the response.
func (s *Signaling) EphemeralToken(ctx context.Context, cfg RealtimeConfig, session map[string]any) (string, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return "", err
	}
	body, err := sonic.Marshal(map[string]any{"session": session})
	if err != nil {
		return "", fmt.Errorf("marshaling session: %w", err)
	}
	u, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return "", fmt.Errorf("parsing endpoint: %w", err)
	}
	u = u.JoinPath("client_secrets")

	status, resp, err := s.post(ctx, u.String(), cfg.Secret, "application/json", body)
	if err != nil {
		return "", fmt.Errorf("requesting client secret: %w", err)
	}
	if err := statusError(status, resp, fasthttp.StatusOK); err != nil {
		return "", fmt.Errorf("requesting client secret: %w", err)
	}

	var out clientSecretResponse
	if err := sonic.Unmarshal(resp, &out); err != nil {
		return "", fmt.Errorf("decoding client secret: %w", err)
	}
	token := out.Value
	if token == "" {
		token = out.ClientSecret.Value
	}
	if token == "" {
		return "", shared.ErrEmptyToken
	}
	s.logger.Debug("ephemeral token issued", zap.String("model", cfg.Model))
	return token, nil
}

// Answer posts an SDP offer to {endpoint}/calls and returns the raw SDP
// answer.
func (s *Signaling) Answer(ctx context.Context, cfg RealtimeConfig, token, offer string) (string, error) {
	cfg = cfg.withDefaults()
	u, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return "", fmt.Errorf("parsing endpoint: %w", err)
	}
	u = u.JoinPath("calls")
	q := u.Query()
	q.Set("model", cfg.Model)
	u.RawQuery = q.Encode()

	status, resp, err := s.post(ctx, u.String(), token, "application/sdp", []byte(offer))
	if err != nil {
		return "", fmt.Errorf("posting offer: %w", err)
	}
	if err := statusError(status, resp, fasthttp.StatusOK, fasthttp.StatusCreated); err != nil {
		return "", fmt.Errorf("posting offer: %w", err)
	}
	if len(resp) == 0 {
		return "", fmt.Errorf("posting offer: empty answer")
	}
	return string(resp), nil
}

func (s *Signaling) post(ctx context.Context, uri, bearer, contentType string, body []byte) (int, []byte, error) {
	if err := ctx.Err(); err != nil {
		return 0, nil, err
	}
	req := fasthttp.AcquireRequest()
	req.SetRequestURI(uri)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.SetContentType(contentType)
	req.SetBody(body)

	deadline := time.Now().Add(s.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	// The request and response belong to the goroutine; an abandoned call
	// still releases them once DoDeadline returns.
	resC := make(chan httpResult, 1)
	go func() {
		resp := fasthttp.AcquireResponse()
		defer fasthttp.ReleaseRequest(req)
		defer fasthttp.ReleaseResponse(resp)
		if err := s.http.DoDeadline(req, resp, deadline); err != nil {
			resC <- httpResult{err: err}
			return
		}
		resC <- httpResult{status: resp.StatusCode(), body: append([]byte(nil), resp.Body()...)}
	}()

	select {
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	case r := <-resC:
		return r.status, r.body, r.err
	}
}

type httpResult struct {
	status int
	body   []byte
	err    error
}

func statusError(status int, body []byte, accepted ...int) error {
	for _, a := range accepted {
		if status == a {
			return nil
		}
	}
	msg := string(body)
	var e struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := sonic.Unmarshal(body, &e); err == nil && e.Error.Message != "" {
		msg = e.Error.Message
	}
	switch status {
	case fasthttp.StatusUnauthorized:
		return fmt.Errorf("%w: %s", shared.ErrUnauthorized, msg)
	case fasthttp.StatusForbidden:
		return fmt.Errorf("%w: %s", shared.ErrForbidden, msg)
	}
	return fmt.Errorf("unexpected status code: %d, body: %s", status, msg)
}
