package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bt-bridge/voice-repo-agent/shared"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"go.uber.org/zap"
)

const dataChannelLabel = "oai-events"

type TrackRemoteHandler func(track *webrtc.TrackRemote)

// Answerer turns an SDP offer into the remote answer.
type Answerer interface {
	Answer(ctx context.Context, cfg RealtimeConfig, token, offer string) (string, error)
}

var _ Answerer = (*Signaling)(nil)

// WebRTCDialer negotiates a peer connection with one Opus send track and the
// JSON event data channel.
type WebRTCDialer struct {
	Logger        shared.LoggerAdapter
	Answerer      Answerer
	Configuration webrtc.Configuration
	// OnRemoteTrack receives the model's audio track. Playback is left to
	// the caller.
	OnRemoteTrack TrackRemoteHandler
}

var _ Dialer = (*WebRTCDialer)(nil)

func (d *WebRTCDialer) Dial(ctx context.Context, cfg RealtimeConfig, token string, h TransportHandler) (Transport, error) {
	if d.Answerer == nil {
		return nil, errors.New("webrtc dialer has no answerer")
	}
	logger := d.Logger
	if logger == nil {
		logger = shared.NewNopLogger()
	}
	logger = logger.With(zap.String("transport", "webrtc"))

	pc, err := webrtc.NewPeerConnection(d.Configuration)
	if err != nil {
		return nil, fmt.Errorf("creating peer connection: %w", err)
	}
	fail := func(format string, err error) (Transport, error) {
		if cerr := pc.Close(); cerr != nil {
			logger.Error("closing peer connection failed", cerr)
		}
		return nil, fmt.Errorf(format, err)
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeOpus,
			ClockRate:   48000,
			Channels:    2,
			SDPFmtpLine: "minptime=10;useinbandfec=1",
		},
		"audio",
		"mic",
	)
	if err != nil {
		return fail("creating local audio track: %w", err)
	}
	if _, err := pc.AddTrack(track); err != nil {
		return fail("adding audio track to peer connection: %w", err)
	}
	dc, err := pc.CreateDataChannel(dataChannelLabel, nil)
	if err != nil {
		return fail("creating data channel: %w", err)
	}

	t := &webrtcTransport{logger: logger, pc: pc, dc: dc, track: track, handler: h}

	dc.OnOpen(func() {
		logger.Info("data channel opened")
		if h.OnOpen != nil {
			h.OnOpen(t)
		}
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if !msg.IsString {
			logger.Warn("received non-string message on data channel")
			return
		}
		if h.OnMessage != nil {
			h.OnMessage(msg.Data)
		}
	})
	dc.OnClose(func() {
		t.remoteClosed(nil)
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		logger.Trace("peer connection state changed", zap.String("state", state.String()))
		switch state {
		case webrtc.PeerConnectionStateFailed:
			t.remoteClosed(errors.New("peer connection failed"))
		case webrtc.PeerConnectionStateClosed:
			t.remoteClosed(nil)
		case webrtc.PeerConnectionStateDisconnected:
			logger.Warn("peer connection disconnected, waiting for recovery")
		}
	})
	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if remote.Kind() != webrtc.RTPCodecTypeAudio || d.OnRemoteTrack == nil {
			return
		}
		logger.Info("received remote track", zap.String("codec", remote.Codec().MimeType))
		go d.OnRemoteTrack(remote)
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return fail("creating offer: %w", err)
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return fail("setting local description: %w", err)
	}
	select {
	case <-ctx.Done():
		return fail("gathering ICE candidates: %w", ctx.Err())
	case <-gathered:
	}

	answer, err := d.Answerer.Answer(ctx, cfg, token, pc.LocalDescription().SDP)
	if err != nil {
		return fail("negotiating session: %w", err)
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answer,
	}); err != nil {
		return fail("setting remote description: %w", err)
	}
	return t, nil
}

type webrtcTransport struct {
	logger  shared.LoggerAdapter
	pc      *webrtc.PeerConnection
	dc      *webrtc.DataChannel
	track   *webrtc.TrackLocalStaticSample
	handler TransportHandler

	mu     sync.Mutex
	closed bool
}

func (t *webrtcTransport) Send(data []byte) error {
	if t.dc.ReadyState() != webrtc.DataChannelStateOpen {
		return shared.ErrNotConnected
	}
	return t.dc.SendText(string(data))
}

func (t *webrtcTransport) SendAudio(frame AudioFrame) error {
	return t.track.WriteSample(media.Sample{
		Data:     frame.Data,
		Duration: frame.Duration,
	})
}

// Close tears the peer connection down. The resulting state changes are not
// reported to the handler.
func (t *webrtcTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()
	if err := t.pc.Close(); err != nil {
		return fmt.Errorf("closing peer connection: %w", err)
	}
	return nil
}

func (t *webrtcTransport) remoteClosed(err error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.mu.Unlock()

	if t.handler.OnClose != nil {
		t.handler.OnClose(err)
	}
	if cerr := t.pc.Close(); cerr != nil {
		t.logger.Error("closing peer connection failed", cerr)
	}
}
