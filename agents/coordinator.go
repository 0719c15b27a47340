// Package agents wires a realtime session to the tool registry and to the
// people using it.
package agents

import (
	"context"
	"sync"
	"time"

	realtime "github.com/bt-bridge/voice-repo-agent"
	"github.com/bt-bridge/voice-repo-agent/approval"
	"github.com/bt-bridge/voice-repo-agent/mcp"
	"github.com/bt-bridge/voice-repo-agent/shared"
	"go.uber.org/zap"
)

const DefaultEventBuffer = 64

// Session is the part of *realtime.Client the coordinator drives.
type Session interface {
	Subscribe(size int) (<-chan realtime.Event, func())
	State() realtime.ConnectionState
	SendAudioFrame(frame realtime.AudioFrame) bool
	DataSendFunctionCallOutput(callID, output string) bool
	DataSendResponseCreate(opts *realtime.ResponseOptions) bool
	DataSendItem(item realtime.Item) bool
}

var _ Session = (*realtime.Client)(nil)

// Coordinator routes tool calls from the session into the registry and the
// results back into the session.
type Coordinator struct {
	logger          shared.LoggerAdapter
	session         Session
	registry        *mcp.Registry
	tools           *mcp.ToolContext
	approvals       *approval.Manager
	approvalTimeout time.Duration
	log             *EventLog
	companion       Companion
	onEvent         func(realtime.Event)
	buffer          int

	wg sync.WaitGroup
}

type CoordinatorOption func(*Coordinator)

func WithToolContext(tc *mcp.ToolContext) CoordinatorOption {
	return func(c *Coordinator) {
		if tc != nil {
			c.tools = tc
		}
	}
}

// WithApprovals gates server-side MCP approval requests. Without it they are
// approved.
func WithApprovals(m *approval.Manager, timeout time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		c.approvals = m
		c.approvalTimeout = timeout
	}
}

func WithEventLog(l *EventLog) CoordinatorOption {
	return func(c *Coordinator) {
		if l != nil {
			c.log = l
		}
	}
}

func WithCompanion(comp Companion) CoordinatorOption {
	return func(c *Coordinator) {
		if comp != nil {
			c.companion = comp
		}
	}
}

// WithEventHandler sees every event after the coordinator has dispatched it.
// It runs on the event loop and must not block.
func WithEventHandler(fn func(realtime.Event)) CoordinatorOption {
	return func(c *Coordinator) {
		c.onEvent = fn
	}
}

func WithEventBuffer(n int) CoordinatorOption {
	return func(c *Coordinator) {
		if n > 0 {
			c.buffer = n
		}
	}
}

func NewCoordinator(logger shared.LoggerAdapter, session Session, registry *mcp.Registry, opts ...CoordinatorOption) (*Coordinator, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if session == nil || registry == nil {
		return nil, shared.ErrNoConfig
	}
	c := &Coordinator{
		logger:    logger.With(zap.String("component", "coordinator")),
		session:   session,
		registry:  registry,
		tools:     mcp.NewToolContext(nil),
		log:       NewEventLog(0),
		companion: nopCompanion{},
		buffer:    DefaultEventBuffer,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Coordinator) EventLog() *EventLog {
	return c.log
}

func (c *Coordinator) ToolContext() *mcp.ToolContext {
	return c.tools
}

// Run consumes session events until ctx is done or the session closes its
// stream, then waits for in-flight tool calls.
func (c *Coordinator) Run(ctx context.Context) {
	events, cancel := c.session.Subscribe(c.buffer)
	c.loop(ctx, events, cancel)
}

// Start subscribes before returning, so no event published afterwards is
// missed, and runs the loop in the background. The returned channel is
// closed when the loop has ended.
func (c *Coordinator) Start(ctx context.Context) <-chan struct{} {
	events, cancel := c.session.Subscribe(c.buffer)
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.loop(ctx, events, cancel)
	}()
	return done
}

func (c *Coordinator) loop(ctx context.Context, events <-chan realtime.Event, cancel func()) {
	defer cancel()
	defer c.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				c.logger.Debug("session event stream closed")
				return
			}
			c.dispatch(ctx, ev)
		}
	}
}

func (c *Coordinator) dispatch(ctx context.Context, ev realtime.Event) {
	switch e := ev.(type) {
	case realtime.ToolCallEvent:
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.runTool(ctx, e)
		}()
	case realtime.ItemCreatedEvent:
		if req, ok := e.Item.(realtime.MCPApprovalRequestItem); ok {
			c.wg.Add(1)
			go func() {
				defer c.wg.Done()
				c.answerMCPApproval(ctx, req)
			}()
		}
	case realtime.TranscriptEvent:
		if e.Final {
			c.log.Append(Entry{Kind: EntryTranscript, Success: true, Message: e.Text})
		}
	case realtime.ErrorEvent:
		c.log.Append(Entry{Kind: EntryError, Message: e.Message})
	case realtime.ConnectedEvent:
		c.log.Append(Entry{Kind: EntryConnection, Success: true, Message: "connected " + e.SessionID})
	case realtime.DisconnectedEvent:
		c.log.Append(Entry{Kind: EntryConnection, Success: true, Message: "disconnected"})
	}
	if c.onEvent != nil {
		c.onEvent(ev)
	}
}

func (c *Coordinator) runTool(ctx context.Context, call realtime.ToolCallEvent) {
	logger := c.logger.With(zap.String("tool", call.Name), zap.String("call_id", call.CallID))
	res := c.registry.Execute(ctx, call.Name, call.Arguments, c.tools)

	c.log.Append(Entry{
		Kind:      EntryToolCall,
		Tool:      call.Name,
		CallID:    call.CallID,
		Arguments: call.Arguments,
		Success:   res.Success,
		Message:   res.Message,
	})

	repo, hasRepo := c.tools.Snapshot()
	if err := c.companion.Notify(ctx, Command{
		Tool:    call.Name,
		CallID:  call.CallID,
		Result:  res,
		Repo:    repo,
		HasRepo: hasRepo,
	}); err != nil {
		logger.Error("notifying companion", err)
	}

	// Calls without an id are notifications; the model expects no output.
	if call.CallID == "" {
		return
	}
	if !c.session.DataSendFunctionCallOutput(call.CallID, res.Output()) {
		logger.Warn("function call output not sent")
		return
	}
	if !c.session.DataSendResponseCreate(nil) {
		logger.Warn("response.create not sent")
	}
}

func (c *Coordinator) answerMCPApproval(ctx context.Context, req realtime.MCPApprovalRequestItem) {
	resp := realtime.MCPApprovalResponseItem{ApprovalRequestID: req.ID, Approve: true}
	if c.approvals != nil {
		id := c.approvals.RequestApproval(req.Name, req.Arguments, approval.RequiresApproval(req.Name))
		o := c.approvals.WaitForApproval(ctx, id, c.approvalTimeout)
		resp.Approve = o.Approved()
		switch o.Status {
		case approval.StatusDenied:
			resp.Reason = o.Reason
		case approval.StatusTimeout:
			resp.Reason = "approval timed out"
		}
	}

	c.log.Append(Entry{
		Kind:      EntryMCPApproval,
		Tool:      req.Name,
		CallID:    req.ID,
		Arguments: req.Arguments,
		Success:   resp.Approve,
		Message:   resp.Reason,
	})
	if !c.session.DataSendItem(resp) {
		c.logger.Warn("mcp approval response not sent", zap.String("approval_request_id", req.ID))
	}
}

// HandleAudioFrame forwards captured audio while the session is connected
// and reports whether the frame was sent.
func (c *Coordinator) HandleAudioFrame(frame realtime.AudioFrame) bool {
	if !c.session.State().IsConnected() {
		return false
	}
	return c.session.SendAudioFrame(frame)
}
