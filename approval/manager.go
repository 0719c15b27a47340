// Package approval gates sensitive tool calls on an explicit user decision.
package approval

import (
	"context"
	"sync"
	"time"

	"github.com/bt-bridge/voice-repo-agent/shared"
	"go.uber.org/zap"
)

// AutoApprovedID is returned for calls that need no approval. Waiting on it
// always yields Approved and never touches the pending map.
const AutoApprovedID = "auto-approved"

const (
	DefaultTimeout      = 30 * time.Second
	DefaultPollInterval = 100 * time.Millisecond
)

type Status int

const (
	StatusPending Status = iota
	StatusApproved
	StatusDenied
	StatusTimeout
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusApproved:
		return "approved"
	case StatusDenied:
		return "denied"
	case StatusTimeout:
		return "timeout"
	}
	return "unknown"
}

// Outcome is the terminal result of a wait. Reason is set for denials.
type Outcome struct {
	Status Status
	Reason string
}

func (o Outcome) Approved() bool {
	return o.Status == StatusApproved
}

// Request is published to observers whenever a new approval is needed.
type Request struct {
	ID        string    `json:"id" yaml:"id"`
	ToolName  string    `json:"tool_name" yaml:"tool_name"`
	Arguments string    `json:"arguments" yaml:"arguments"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

type entry struct {
	req     Request
	outcome Outcome
}

// Manager tracks outstanding approvals. Every read-modify-write of the
// pending map happens under mu, so a response racing a timeout resolves the
// request exactly once.
type Manager struct {
	logger       shared.LoggerAdapter
	ids          shared.IDGenerator
	pollInterval time.Duration
	now          func() time.Time
	observe      func(tool string, o Outcome)

	mu      sync.Mutex
	pending map[string]*entry

	requests *shared.Broadcaster[Request]
}

type Option func(*Manager)

func WithIDGenerator(gen shared.IDGenerator) Option {
	return func(m *Manager) {
		if gen != nil {
			m.ids = gen
		}
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.pollInterval = d
		}
	}
}

// WithObserver registers a callback for every terminal outcome, used for
// metrics.
func WithObserver(fn func(tool string, o Outcome)) Option {
	return func(m *Manager) {
		m.observe = fn
	}
}

func NewManager(logger shared.LoggerAdapter, opts ...Option) *Manager {
	if logger == nil {
		logger = shared.NewNopLogger()
	}
	m := &Manager{
		logger:       logger.With(zap.String("component", "approval")),
		ids:          shared.NewUUIDGenerator("apr_"),
		pollInterval: DefaultPollInterval,
		now:          time.Now,
		pending:      make(map[string]*entry),
		requests:     shared.NewBroadcaster[Request](),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Requests subscribes to new approval requests. Only requests created after
// the subscription are seen.
func (m *Manager) Requests(size int) (<-chan Request, func()) {
	return m.requests.Subscribe(size)
}

// RequestApproval registers a pending request and announces it. When
// requiresApproval is false it returns AutoApprovedID and does nothing else.
func (m *Manager) RequestApproval(toolName, arguments string, requiresApproval bool) string {
	if !requiresApproval {
		return AutoApprovedID
	}
	req := Request{
		ID:        m.ids(),
		ToolName:  toolName,
		Arguments: arguments,
		CreatedAt: m.now(),
	}

	m.mu.Lock()
	m.pending[req.ID] = &entry{req: req, outcome: Outcome{Status: StatusPending}}
	m.mu.Unlock()

	m.logger.Info("approval requested", zap.String("request_id", req.ID), zap.String("tool", toolName))
	m.requests.Publish(req)
	return req.ID
}

// RespondToApproval resolves a pending request. Unknown or already resolved
// ids are ignored.
func (m *Manager) RespondToApproval(requestID string, approve bool, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.pending[requestID]
	if !ok || e.outcome.Status != StatusPending {
		m.logger.Debug("ignoring approval response", zap.String("request_id", requestID))
		return
	}
	if approve {
		e.outcome = Outcome{Status: StatusApproved}
	} else {
		if reason == "" {
			reason = "Denied by user"
		}
		e.outcome = Outcome{Status: StatusDenied, Reason: reason}
	}
}

// WaitForApproval polls until the request leaves Pending, the timeout
// elapses or ctx is done. The entry is removed in every case, so a late
// response becomes a no-op. A non-positive timeout means DefaultTimeout;
// cancellation is reported as a timeout.
func (m *Manager) WaitForApproval(ctx context.Context, requestID string, timeout time.Duration) Outcome {
	if requestID == AutoApprovedID {
		return Outcome{Status: StatusApproved}
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		if o, done := m.consume(requestID, false); done {
			return o
		}
		select {
		case <-ctx.Done():
			o, _ := m.consume(requestID, true)
			return o
		case <-timer.C:
			o, _ := m.consume(requestID, true)
			return o
		case <-ticker.C:
		}
	}
}

// consume removes the entry once it is resolved, or unconditionally when
// expire is set. Unknown ids resolve to a timeout.
func (m *Manager) consume(requestID string, expire bool) (Outcome, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.pending[requestID]
	if !ok {
		return Outcome{Status: StatusTimeout}, true
	}
	if e.outcome.Status == StatusPending && !expire {
		return Outcome{}, false
	}
	delete(m.pending, requestID)
	o := e.outcome
	if o.Status == StatusPending {
		o = Outcome{Status: StatusTimeout}
		m.logger.Warn("approval timed out", zap.String("request_id", requestID), zap.String("tool", e.req.ToolName))
	} else {
		m.logger.Info("approval resolved", zap.String("request_id", requestID), zap.Stringer("status", o.Status))
	}
	if m.observe != nil {
		m.observe(e.req.ToolName, o)
	}
	return o, true
}

// Pending returns a snapshot of unresolved requests.
func (m *Manager) Pending() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, 0, len(m.pending))
	for _, e := range m.pending {
		if e.outcome.Status == StatusPending {
			out = append(out, e.req)
		}
	}
	return out
}

// DenyPending denies every unresolved request with reason and reports how
// many it resolved. Waiters see the denial on their next poll.
func (m *Manager) DenyPending(reason string) int {
	reqs := m.Pending()
	for _, req := range reqs {
		m.RespondToApproval(req.ID, false, reason)
	}
	return len(reqs)
}

// Len is the number of entries in the pending map, resolved or not.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}
