// Package audio captures microphone input for the WebRTC transport.
package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	realtime "github.com/bt-bridge/voice-repo-agent"
	"github.com/bt-bridge/voice-repo-agent/shared"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

const (
	CaptureSampleRate = 48000
	CaptureChannels   = 1
)

// MaxReadErrors is how many consecutive device read failures Stream
// tolerates before giving up.
const MaxReadErrors = 10

var (
	ErrNoAudioTrack = errors.New("no audio track found in microphone stream")
	ErrDeviceFailed = errors.New("microphone keeps failing")
)

// encodedReader is the part of mediadevices.EncodedReader Stream uses.
type encodedReader interface {
	Read() (mediadevices.EncodedBuffer, func(), error)
	Close() error
}

// Microphone reads Opus encoded frames from the default input device.
type Microphone struct {
	logger     shared.LoggerAdapter
	track      mediadevices.Track
	frame      time.Duration
	retryDelay time.Duration
}

func OpenMicrophone(logger shared.LoggerAdapter) (*Microphone, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, err
	}
	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Audio: func(c *mediadevices.MediaTrackConstraints) {
			c.SampleRate = prop.Int(CaptureSampleRate)
			c.ChannelCount = prop.Int(CaptureChannels)
			c.SampleSize = prop.Int(16)
		},
		Codec: mediadevices.NewCodecSelector(
			mediadevices.WithAudioEncoders(&opusParams),
		),
	})
	if err != nil {
		return nil, err
	}
	tracks := stream.GetAudioTracks()
	if len(tracks) == 0 {
		return nil, ErrNoAudioTrack
	}
	m := &Microphone{
		logger:     logger.With(zap.String("component", "microphone")),
		track:      tracks[0],
		frame:      time.Duration(opusParams.Latency),
		retryDelay: 20 * time.Millisecond,
	}
	m.logger.Info(
		"microphone opened",
		zap.Duration("frame", m.frame),
		zap.Int("samples", FrameSamples(m.frame, CaptureSampleRate, CaptureChannels)),
	)
	return m, nil
}

// Stream pushes frames into sink until ctx is done or the device closes.
// A false return from sink means the frame was dropped. Read failures are
// retried with a growing delay; after MaxReadErrors in a row Stream returns
// ErrDeviceFailed.
func (m *Microphone) Stream(ctx context.Context, sink func(realtime.AudioFrame) bool) error {
	reader, err := m.track.NewEncodedReader(webrtc.MimeTypeOpus)
	if err != nil {
		return err
	}
	return m.pump(ctx, reader, sink)
}

func (m *Microphone) pump(ctx context.Context, reader encodedReader, sink func(realtime.AudioFrame) bool) error {
	defer func() { _ = reader.Close() }()

	var dropped, failures int
	for {
		select {
		case <-ctx.Done():
			if dropped > 0 {
				m.logger.Debug("frames dropped while disconnected", zap.Int("count", dropped))
			}
			return nil
		default:
		}
		buf, release, err := reader.Read()
		if err != nil {
			if release != nil {
				release()
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			failures++
			if failures >= MaxReadErrors {
				return fmt.Errorf("%w: %w", ErrDeviceFailed, err)
			}
			m.logger.Warn("reading from media track", zap.Error(err), zap.Int("failures", failures))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Duration(failures) * m.retryDelay):
			}
			continue
		}
		failures = 0
		if buf.Samples == 0 {
			release()
			continue
		}
		data := append([]byte(nil), buf.Data...)
		release()
		frame := realtime.AudioFrame{
			Data:     data,
			Duration: FrameDuration(int(buf.Samples), m.frame, CaptureSampleRate, CaptureChannels),
		}
		if !sink(frame) {
			dropped++
		}
	}
}

func (m *Microphone) Close() error {
	return m.track.Close()
}
