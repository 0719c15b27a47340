// Package metrics holds the Prometheus collectors for sessions and tools.
package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/bt-bridge/voice-repo-agent/shared"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.uber.org/zap"
)

const namespace = "voicerepo"

var connectionStates = []string{"disconnected", "connecting", "connected", "error"}

// Metrics bundles the collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	registry        *prometheus.Registry
	Events          *prometheus.CounterVec
	DecodeErrors    prometheus.Counter
	DroppedEvents   prometheus.Counter
	ConnectionState *prometheus.GaugeVec
	ToolExecutions  *prometheus.CounterVec
	ToolDuration    *prometheus.HistogramVec
	RetryAttempts   *prometheus.CounterVec
	Approvals       *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()

	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "session_events_total",
		Help:      "Decoded server events by kind",
	}, []string{"kind"})

	decodeErrs := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "session_decode_errors_total",
		Help:      "Server messages that could not be decoded",
	})

	dropped := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "session_dropped_events_total",
		Help:      "Events dropped on a full subscriber queue",
	})

	state := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "session_connection_state",
		Help:      "1 for the current connection state, 0 otherwise",
	}, []string{"state"})

	tools := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tool_executions_total",
		Help:      "Tool executions by tool and outcome",
	}, []string{"tool", "outcome"})

	toolDur := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "tool_duration_seconds",
		Help:      "Tool execution duration in seconds, approval wait included",
		Buckets:   prometheus.DefBuckets,
	}, []string{"tool"})

	retries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "github_retry_attempts_total",
		Help:      "Retried GitHub calls by tool",
	}, []string{"tool"})

	approvals := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "approvals_total",
		Help:      "Approval outcomes by tool",
	}, []string{"tool", "status"})

	reg.MustRegister(events, decodeErrs, dropped, state, tools, toolDur, retries, approvals)

	m := &Metrics{
		registry:        reg,
		Events:          events,
		DecodeErrors:    decodeErrs,
		DroppedEvents:   dropped,
		ConnectionState: state,
		ToolExecutions:  tools,
		ToolDuration:    toolDur,
		RetryAttempts:   retries,
		Approvals:       approvals,
	}
	m.StateChanged("disconnected")
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) EventReceived(kind string) {
	if m == nil {
		return
	}
	m.Events.WithLabelValues(kind).Inc()
}

func (m *Metrics) DecodeFailed() {
	if m == nil {
		return
	}
	m.DecodeErrors.Inc()
}

func (m *Metrics) EventDropped() {
	if m == nil {
		return
	}
	m.DroppedEvents.Inc()
}

// StateChanged sets the gauge of state to 1 and every other state to 0.
func (m *Metrics) StateChanged(state string) {
	if m == nil {
		return
	}
	for _, s := range connectionStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.ConnectionState.WithLabelValues(s).Set(v)
	}
}

func (m *Metrics) ToolExecuted(tool string, ok bool, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	m.ToolExecutions.WithLabelValues(tool, outcome).Inc()
	m.ToolDuration.WithLabelValues(tool).Observe(d.Seconds())
}

func (m *Metrics) RetryAttempted(tool string) {
	if m == nil {
		return
	}
	m.RetryAttempts.WithLabelValues(tool).Inc()
}

func (m *Metrics) ApprovalResolved(tool, status string) {
	if m == nil {
		return
	}
	m.Approvals.WithLabelValues(tool, status).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() fasthttp.RequestHandler {
	h := fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	return func(ctx *fasthttp.RequestCtx) {
		if string(ctx.Path()) != "/metrics" {
			ctx.Error("not found", fasthttp.StatusNotFound)
			return
		}
		h(ctx)
	}
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, logger shared.LoggerAdapter, addr string) error {
	if logger == nil {
		return shared.ErrNoLogger
	}
	srv := &fasthttp.Server{Handler: m.Handler(), Name: "voice-repo-agent"}
	errC := make(chan error, 1)
	go func() {
		errC <- srv.ListenAndServe(addr)
	}()
	logger.Info("serving metrics", zap.String("addr", addr))
	select {
	case <-ctx.Done():
		if err := srv.Shutdown(); err != nil {
			return err
		}
		return nil
	case err := <-errC:
		if err == nil {
			return errors.New("metrics server stopped")
		}
		return err
	}
}
