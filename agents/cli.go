package agents

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	realtime "github.com/bt-bridge/voice-repo-agent"
	"github.com/bt-bridge/voice-repo-agent/approval"
	"github.com/bt-bridge/voice-repo-agent/audio"
	"github.com/bt-bridge/voice-repo-agent/config"
	"github.com/bt-bridge/voice-repo-agent/github"
	"github.com/bt-bridge/voice-repo-agent/mcp"
	"github.com/bt-bridge/voice-repo-agent/metrics"
	"github.com/bt-bridge/voice-repo-agent/shared"
	"github.com/goccy/go-yaml"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

// CLIAgent runs one voice session in a terminal: transcripts and tool
// results go to the printer, approvals are answered on stdin.
type CLIAgent struct {
	logger      shared.LoggerAdapter
	printer     *shared.Printer
	cfg         *config.Config
	in          io.Reader
	metrics     *metrics.Metrics
	approvals   *approval.Manager
	registry    *mcp.Registry
	client      *realtime.Client
	coordinator *Coordinator
	mic         *audio.Microphone

	done <-chan struct{}
	mu   sync.Mutex
}

func NewCLIAgent(logger shared.LoggerAdapter, cfg *config.Config, printer *shared.Printer, in io.Reader) (*CLIAgent, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if cfg == nil {
		return nil, shared.ErrNoConfig
	}
	if printer == nil {
		return nil, errors.New("no printer provided")
	}
	return &CLIAgent{
		logger:  logger.With(zap.String("component", "cli")),
		printer: printer,
		cfg:     cfg,
		in:      in,
	}, nil
}

// NewToolRegistry builds the GitHub tool registry described by cfg.
func NewToolRegistry(logger shared.LoggerAdapter, cfg *config.Config, approvals *approval.Manager, m *metrics.Metrics) (*mcp.Registry, error) {
	gh, err := github.NewClient(logger, cfg.GitHub.Token,
		github.WithBaseURL(cfg.GitHub.BaseURL),
		github.WithTimeout(cfg.GitHub.Timeout),
	)
	if err != nil {
		return nil, err
	}
	return mcp.NewDefaultRegistry(mcp.Env{
		GitHub:          gh,
		Approvals:       approvals,
		ApprovalTimeout: cfg.Approval.Timeout,
		Retry:           cfg.RetryPolicy(),
		Logger:          logger,
		OnRetry:         m.RetryAttempted,
	}, mcp.WithExecutionObserver(m.ToolExecuted))
}

// Spawn connects the session and starts every background loop. The agent is
// done when the session event stream ends.
func (a *CLIAgent) Spawn(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client != nil {
		return shared.ErrSessionAlreadyRunning
	}
	a.logger.Info("spawning CLI agent")
	a.println("🤖 Spawning CLI agent...\n", 0)

	a.metrics = metrics.New()
	if a.cfg.Approval.Mode == config.ApprovalPrompt {
		a.approvals = approval.NewManager(a.logger, approval.WithObserver(func(tool string, o approval.Outcome) {
			a.metrics.ApprovalResolved(tool, o.Status.String())
		}))
	}

	var err error
	a.registry, err = NewToolRegistry(a.logger, a.cfg, a.approvals, a.metrics)
	if err != nil {
		a.logger.Error("building tool registry", err)
		return err
	}
	defs, err := a.registry.Definitions()
	if err != nil {
		return err
	}
	settings := a.cfg.SessionSettings(defs)
	rc := a.cfg.RealtimeConfig()

	a.println("📋 Session Config\n", 0)
	yamlBytes, err := yaml.MarshalWithOptions(settings.Param(rc), yaml.UseJSONMarshaler())
	if err != nil {
		a.logger.Error("marshaling session config to yaml", err)
		return err
	}
	a.println(string(yamlBytes), 1)

	signaling, err := realtime.NewSignaling(a.logger)
	if err != nil {
		return err
	}
	a.client, err = realtime.NewClient(a.logger, a.dialer(ctx, signaling), signaling,
		realtime.WithSessionSettings(settings),
		realtime.WithObserver(a.metrics),
	)
	if err != nil {
		a.logger.Error("creating client", err)
		return err
	}

	a.coordinator, err = NewCoordinator(a.logger, a.client, a.registry,
		WithApprovals(a.approvals, a.cfg.Approval.Timeout),
		WithCompanion(NewPrinterCompanion(a.printer)),
		WithEventBuffer(a.cfg.Realtime.EventBuffer),
		WithEventHandler(a.printEvent),
	)
	if err != nil {
		return err
	}
	a.done = a.coordinator.Start(ctx)

	if a.approvals != nil {
		go a.promptApprovals(ctx)
	}
	if a.cfg.Metrics.Enabled {
		go func() {
			if err := a.metrics.Serve(ctx, a.logger, a.cfg.Metrics.Addr); err != nil {
				a.logger.Error("metrics server", err)
			}
		}()
	}

	a.println("\n🔌 Connecting...", 0)
	cctx, cancel := context.WithTimeout(ctx, a.cfg.Realtime.ConnectTimeout)
	defer cancel()
	if err := a.client.Connect(cctx, rc); err != nil {
		a.logger.Error("connecting", err)
		a.println("❌ Unable to connect: "+err.Error(), 0)
		return err
	}

	if a.cfg.Realtime.Transport != config.TransportWebRTC {
		a.println("🎤 Microphone capture needs the webrtc transport; running without it.\n", 0)
		return nil
	}
	a.println("🎤 Accessing microphone...", 0)
	a.mic, err = audio.OpenMicrophone(a.logger)
	if err != nil {
		a.logger.Error("opening microphone", err)
		a.println("❌ Unable to access microphone. Please ensure that your microphone is connected and that you have granted permission to access it.\n", 0)
		return nil
	}
	a.println("✅ Microphone access granted.\n", 0)
	go func() {
		if err := a.mic.Stream(ctx, a.coordinator.HandleAudioFrame); err != nil {
			a.logger.Error("streaming microphone", err)
		}
	}()
	return nil
}

func (a *CLIAgent) dialer(ctx context.Context, signaling *realtime.Signaling) realtime.Dialer {
	if a.cfg.Realtime.Transport == config.TransportWebSocket {
		return &realtime.WebSocketDialer{Logger: a.logger}
	}
	return &realtime.WebRTCDialer{
		Logger:   a.logger,
		Answerer: signaling,
		OnRemoteTrack: func(track *webrtc.TrackRemote) {
			go audio.DrainRemote(ctx, a.logger, track, nil)
		},
	}
}

func (a *CLIAgent) printEvent(ev realtime.Event) {
	if data, err := realtime.EventYAML(ev); err == nil {
		a.logger.Debug("session event", zap.ByteString("event", data))
	}
	switch e := ev.(type) {
	case realtime.ConnectedEvent:
		a.println("✅ Connected. Start talking.\n", 0)
	case realtime.DisconnectedEvent:
		a.println("👋 Disconnected.", 0)
	case realtime.ErrorEvent:
		a.println("❌ "+e.Message, 0)
	case realtime.TranscriptEvent:
		if !e.Final {
			return
		}
		if e.Speaker == realtime.RoleUser {
			a.println(e.Text, 0)
		} else {
			a.println("🗣  "+e.Text, 0)
		}
	case realtime.ToolCallEvent:
		a.println("🛠  "+e.Name+" "+e.Arguments, 1)
	}
}

// promptApprovals asks on stdin for every approval request. Anything but
// y/yes denies.
func (a *CLIAgent) promptApprovals(ctx context.Context) {
	if a.in == nil {
		return
	}
	reqs, cancel := a.approvals.Requests(8)
	defer cancel()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(a.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case req, ok := <-reqs:
			if !ok {
				return
			}
			a.println("⚠️  Approve "+req.ToolName+"? [y/N]", 0)
			a.println(req.Arguments, 1)
			select {
			case <-ctx.Done():
				return
			case line, ok := <-lines:
				if !ok {
					a.approvals.RespondToApproval(req.ID, false, "no input")
					return
				}
				answer := strings.ToLower(strings.TrimSpace(line))
				a.approvals.RespondToApproval(req.ID, answer == "y" || answer == "yes", "Denied by user")
			}
		}
	}
}

func (a *CLIAgent) println(s string, ind int) {
	if err := a.printer.Writeln(s, ind); err != nil {
		a.logger.Error("printing", err)
	}
}

// Done is closed once the session event stream has ended. It is nil before
// a successful Spawn.
func (a *CLIAgent) Done() <-chan struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.done
}

// Close ends the session and dumps the event log at debug level.
func (a *CLIAgent) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	var errs []error
	if a.approvals != nil {
		if n := a.approvals.DenyPending("session closing"); n > 0 {
			a.logger.Info("denied pending approvals", zap.Int("count", n))
		}
	}
	if a.mic != nil {
		errs = append(errs, a.mic.Close())
	}
	if a.client != nil {
		errs = append(errs, a.client.Close())
	}
	if a.coordinator != nil {
		if dump, err := a.coordinator.EventLog().YAML(); err == nil {
			a.logger.Debug("session event log", zap.ByteString("entries", dump))
		}
	}
	return errors.Join(errs...)
}
