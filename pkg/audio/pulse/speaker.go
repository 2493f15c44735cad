package pulse

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/jfreymuth/pulse"

	"github.com/MrWong99/voxlink/pkg/audio"
	"github.com/MrWong99/voxlink/pkg/audio/playback"
)

// Speaker is a [playback.Sink] that opens one Pulse playback stream per
// segment on a shared connection.
type Speaker struct {
	client *pulse.Client
	sink   *pulse.Sink
	muted  atomic.Bool

	// mu serialises Play; the queue never overlaps segments but a stray
	// caller must not either.
	mu sync.Mutex
}

var (
	_ playback.Sink  = (*Speaker)(nil)
	_ playback.Muter = (*Speaker)(nil)
)

// NewSpeaker connects to the server. An empty sink name or "default" plays
// on the server's default sink.
func NewSpeaker(sinkName string) (*Speaker, error) {
	client, err := newClient()
	if err != nil {
		return nil, fmt.Errorf("pulse: new speaker: %w", err)
	}
	var sink *pulse.Sink
	if sinkName == "" || sinkName == "default" {
		sink, err = client.DefaultSink()
	} else {
		sink, err = client.SinkByID(sinkName)
	}
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("pulse: resolve sink %q: %w", sinkName, err)
	}
	return &Speaker{client: client, sink: sink}, nil
}

// Play implements [playback.Sink]. It returns once the server has drained
// the segment, or immediately after stopping the stream when ctx ends.
func (s *Speaker) Play(ctx context.Context, seg playback.Segment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rate := seg.SampleRate
	if rate <= 0 {
		rate = audio.SampleRate
	}
	channels := pulse.PlaybackMono
	if seg.Channels == 2 {
		channels = pulse.PlaybackStereo
	}

	cursor := 0
	reader := pulse.Int16Reader(func(buf []int16) (int, error) {
		if cursor >= len(seg.Samples) {
			return 0, pulse.EndOfData
		}
		n := copy(buf, seg.Samples[cursor:])
		if s.muted.Load() {
			clear(buf[:n])
		}
		cursor += n
		if cursor >= len(seg.Samples) {
			return n, pulse.EndOfData
		}
		return n, nil
	})

	stream, err := s.client.NewPlayback(
		reader,
		channels,
		pulse.PlaybackSink(s.sink),
		pulse.PlaybackSampleRate(rate),
		pulse.PlaybackLatency(0.02),
		pulse.PlaybackMediaName("voxlink speech"),
	)
	if err != nil {
		return fmt.Errorf("pulse: create playback stream: %w", err)
	}
	defer stream.Close()

	drained := make(chan struct{})
	stream.Start()
	go func() {
		stream.Drain()
		close(drained)
	}()

	select {
	case <-drained:
	case <-ctx.Done():
		// The pending drain request fails once the deferred Close deletes
		// the stream.
		stream.Stop()
		return ctx.Err()
	}
	if err := stream.Error(); err != nil {
		return fmt.Errorf("pulse: playback stream: %w", err)
	}
	return nil
}

// SetMuted implements [playback.Muter]. Muted segments keep their timing but
// play silence.
func (s *Speaker) SetMuted(muted bool) error {
	s.muted.Store(muted)
	return nil
}

// Close disconnects from the server.
func (s *Speaker) Close() error {
	s.client.Close()
	return nil
}
