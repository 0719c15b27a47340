package audio

import (
	"context"
	"errors"
	"io"

	"github.com/bt-bridge/voice-repo-agent/shared"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

// DrainRemote reads the model's audio track until it ends so the receiver
// never stalls. onPacket, when set, gets the payload size of every packet.
func DrainRemote(ctx context.Context, logger shared.LoggerAdapter, track *webrtc.TrackRemote, onPacket func(n int)) {
	codec := track.Codec()
	logger.Info("draining remote audio",
		zap.String("codec", codec.MimeType),
		zap.Uint32("sampleRate", codec.ClockRate),
		zap.Uint16("channels", codec.Channels),
	)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		pkt, _, err := track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Error("reading RTP packet", err)
			}
			return
		}
		if onPacket != nil {
			onPacket(len(pkt.Payload))
		}
	}
}
