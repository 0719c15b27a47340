package mcp

import (
	"context"
	"fmt"
	"sync"
	"time"

	realtime "github.com/bt-bridge/voice-repo-agent"
	"github.com/bt-bridge/voice-repo-agent/shared"
	"go.uber.org/zap"
)

// Registry maps tool names to handlers. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	order    []string
	logger   shared.LoggerAdapter
	observe  func(tool string, ok bool, d time.Duration)
}

type RegistryOption func(*Registry)

// WithExecutionObserver is called after every Execute, used for metrics.
func WithExecutionObserver(fn func(tool string, ok bool, d time.Duration)) RegistryOption {
	return func(r *Registry) {
		r.observe = fn
	}
}

func NewRegistry(logger shared.LoggerAdapter, opts ...RegistryOption) *Registry {
	if logger == nil {
		logger = shared.NewNopLogger()
	}
	r := &Registry{
		handlers: make(map[string]Handler),
		logger:   logger.With(zap.String("component", "mcp")),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewDefaultRegistry registers the GitHub tools.
func NewDefaultRegistry(env Env, opts ...RegistryOption) (*Registry, error) {
	if env.Logger == nil {
		env.Logger = shared.NewNopLogger()
	}
	r := NewRegistry(env.Logger, opts...)
	for _, mk := range []func(Env) (Handler, error){
		newOpenRepo,
		newCreateFile,
		newEditFile,
		newCreateBranch,
		newCreatePR,
	} {
		h, err := mk(env)
		if err != nil {
			return nil, err
		}
		if err := r.Register(h); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) Register(h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[h.Name()]; ok {
		return fmt.Errorf("tool %q already registered", h.Name())
	}
	r.handlers[h.Name()] = h
	r.order = append(r.order, h.Name())
	return nil
}

func (r *Registry) Get(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Names returns tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Definitions renders every tool as a session function declaration.
func (r *Registry) Definitions() ([]realtime.ToolDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]realtime.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		h := r.handlers[name]
		params, err := schemaMap(h.Schema())
		if err != nil {
			return nil, fmt.Errorf("rendering schema for %s: %w", name, err)
		}
		defs = append(defs, realtime.ToolDefinition{
			Type:        "function",
			Name:        name,
			Description: h.Description(),
			Parameters:  params,
		})
	}
	return defs, nil
}

// Execute runs a tool and always produces a Result. Unknown tools, handler
// errors and panics all come back as failures.
func (r *Registry) Execute(ctx context.Context, name, arguments string, tc *ToolContext) (res Result) {
	start := time.Now()
	logger := r.logger.With(zap.String("tool", name))
	defer func() {
		if p := recover(); p != nil {
			logger.Error("tool panicked", fmt.Errorf("%v", p))
			res = Failuref("Tool execution error: %v", p)
		}
		if r.observe != nil {
			r.observe(name, res.Success, time.Since(start))
		}
	}()

	h, ok := r.Get(name)
	if !ok {
		logger.Warn("unknown tool")
		return Failuref("Unknown tool: %s", name)
	}

	logger.Debug("executing tool")
	out, err := h.Execute(ctx, arguments, tc)
	if err != nil {
		logger.Error("tool failed", err)
		return Failuref("Tool execution error: %s", err.Error())
	}
	if out.Success {
		logger.Info("tool succeeded", zap.String("message", out.Message))
	} else {
		logger.Info("tool returned failure", zap.String("message", out.Message))
	}
	return out
}
