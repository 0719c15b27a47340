package audio

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	realtime "github.com/bt-bridge/voice-repo-agent"
	"github.com/bt-bridge/voice-repo-agent/shared"
	"github.com/pion/mediadevices"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type readResult struct {
	buf mediadevices.EncodedBuffer
	err error
}

// scriptedReader replays results, then reports EOF.
type scriptedReader struct {
	mu       sync.Mutex
	results  []readResult
	fallback error
	reads    int
	released int
	closed   bool
}

func (r *scriptedReader) Read() (mediadevices.EncodedBuffer, func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reads++
	release := func() {
		r.mu.Lock()
		r.released++
		r.mu.Unlock()
	}
	if len(r.results) == 0 {
		if r.fallback != nil {
			return mediadevices.EncodedBuffer{}, nil, r.fallback
		}
		return mediadevices.EncodedBuffer{}, nil, io.EOF
	}
	next := r.results[0]
	r.results = r.results[1:]
	if next.err != nil {
		return mediadevices.EncodedBuffer{}, nil, next.err
	}
	return next.buf, release, nil
}

func (r *scriptedReader) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

func newTestMicrophone() *Microphone {
	return &Microphone{
		logger:     shared.NewNopLogger(),
		frame:      20 * time.Millisecond,
		retryDelay: time.Millisecond,
	}
}

func TestPumpDeliversFramesUntilEOF(t *testing.T) {
	r := &scriptedReader{results: []readResult{
		{buf: mediadevices.EncodedBuffer{Data: []byte{1}, Samples: 960}},
		{buf: mediadevices.EncodedBuffer{Samples: 0}},
		{err: errors.New("glitch")},
		{buf: mediadevices.EncodedBuffer{Data: []byte{2}, Samples: 480}},
	}}
	var frames []realtime.AudioFrame
	err := newTestMicrophone().pump(context.Background(), r, func(f realtime.AudioFrame) bool {
		frames = append(frames, f)
		return true
	})
	require.NoError(t, err)
	assert.Equal(t, []realtime.AudioFrame{
		{Data: []byte{1}, Duration: 20 * time.Millisecond},
		{Data: []byte{2}, Duration: 10 * time.Millisecond},
	}, frames)
	assert.Equal(t, 3, r.released)
	assert.True(t, r.closed)
}

func TestPumpGivesUpOnFailingDevice(t *testing.T) {
	r := &scriptedReader{fallback: errors.New("device unplugged")}
	done := make(chan error, 1)
	go func() {
		done <- newTestMicrophone().pump(context.Background(), r, func(realtime.AudioFrame) bool { return true })
	}()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrDeviceFailed)
	case <-time.After(2 * time.Second):
		t.Fatal("pump kept spinning on a failing device")
	}
	assert.Equal(t, MaxReadErrors, r.reads)
	assert.True(t, r.closed)
}

func TestPumpStopsOnCancelWhileBackingOff(t *testing.T) {
	m := newTestMicrophone()
	m.retryDelay = time.Hour
	r := &scriptedReader{fallback: errors.New("busy")}
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	err := m.pump(ctx, r, func(realtime.AudioFrame) bool { return true })
	assert.NoError(t, err)
	assert.Equal(t, 1, r.reads)
}
