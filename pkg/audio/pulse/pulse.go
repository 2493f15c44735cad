// Package pulse connects the capture engine and playback queue to a
// PulseAudio (or PipeWire-Pulse) server.
//
// [Acquirer] opens record streams at the wire format and pushes samples to
// the capture engine. [Speaker] plays decoded segments on a playback stream.
// The server does any resampling, so both sides always run at the rate they
// ask for.
package pulse

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/jfreymuth/pulse"
	pulseproto "github.com/jfreymuth/pulse/proto"

	"github.com/MrWong99/voxlink/pkg/audio"
	"github.com/MrWong99/voxlink/pkg/audio/capture"
)

const (
	appName = "voxlink"

	// fragmentBytes is 20 ms of mono PCM16 at the wire rate.
	fragmentBytes = audio.SampleRate / 50 * 2
)

func newClient() (*pulse.Client, error) {
	client, err := pulse.NewClient(
		pulse.ClientApplicationName(appName),
		pulse.ClientApplicationIconName("audio-input-microphone"),
	)
	if err != nil {
		return nil, fmt.Errorf("connect pulse server: %w", err)
	}
	return client, nil
}

// ── Capture ──────────────────────────────────────────────────────────────────

// Acquirer opens microphones on a Pulse server.
type Acquirer struct {
	// Source is the Pulse source name. Empty or "default" selects the
	// server's default source.
	Source string
}

var _ capture.Acquirer = (*Acquirer)(nil)

// Acquire connects to the server and resolves the source. Connection and
// lookup failures wrap [capture.ErrNoDevice].
func (a *Acquirer) Acquire(_ context.Context, want audio.Format) (capture.Microphone, error) {
	client, err := newClient()
	if err != nil {
		return nil, &capture.DeviceError{Op: "acquire", Err: fmt.Errorf("%w: %w", capture.ErrNoDevice, err)}
	}

	var source *pulse.Source
	if a.Source == "" || a.Source == "default" {
		source, err = client.DefaultSource()
	} else {
		source, err = client.SourceByID(a.Source)
	}
	if err != nil {
		client.Close()
		return nil, &capture.DeviceError{Op: "acquire", Err: fmt.Errorf("%w: resolve source %q: %w", capture.ErrNoDevice, a.Source, err)}
	}

	rate := want.SampleRate
	if rate <= 0 {
		rate = audio.SampleRate
	}
	slog.Debug("pulse: source resolved", "source", source.ID(), "sample_rate", rate)
	return &Microphone{client: client, source: source, rate: rate}, nil
}

// Microphone is one acquired Pulse source. It supports the push capture path
// only.
type Microphone struct {
	client *pulse.Client
	source *pulse.Source
	rate   int

	mu     sync.Mutex
	stream *pulse.RecordStream
	dec    pcmDecoder
	closed bool
}

var (
	_ capture.Microphone = (*Microphone)(nil)
	_ capture.Streamer   = (*Microphone)(nil)
)

// SampleRate implements [capture.Microphone].
func (m *Microphone) SampleRate() int { return m.rate }

// Stream starts a mono PCM16 record stream delivering to fn.
func (m *Microphone) Stream(fn func(samples []float32)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.New("pulse: microphone closed")
	}
	if m.stream != nil {
		return nil
	}

	m.dec = pcmDecoder{}
	writer := pulse.NewWriter(writerFunc(func(b []byte) (int, error) {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return 0, io.EOF
		}
		samples := m.dec.decode(b)
		m.mu.Unlock()
		if len(samples) > 0 {
			fn(samples)
		}
		return len(b), nil
	}), pulseproto.FormatInt16LE)

	stream, err := m.client.NewRecord(
		writer,
		pulse.RecordSource(m.source),
		pulse.RecordMono,
		pulse.RecordSampleRate(m.rate),
		pulse.RecordBufferFragmentSize(fragmentBytes),
		pulse.RecordMediaName("voxlink microphone"),
	)
	if err != nil {
		return fmt.Errorf("pulse: create record stream: %w", err)
	}
	m.stream = stream
	stream.Start()
	return nil
}

// Halt stops the record stream. The microphone stays acquired.
func (m *Microphone) Halt() error {
	m.mu.Lock()
	stream := m.stream
	m.stream = nil
	m.mu.Unlock()
	if stream == nil {
		return nil
	}
	stream.Stop()
	err := stream.Error()
	stream.Close()
	if err != nil {
		return fmt.Errorf("pulse: record stream: %w", err)
	}
	return nil
}

// Close halts any stream and disconnects from the server.
func (m *Microphone) Close() error {
	err := m.Halt()
	m.mu.Lock()
	already := m.closed
	m.closed = true
	m.mu.Unlock()
	if !already {
		m.client.Close()
	}
	return err
}

// pcmDecoder converts little-endian PCM16 bytes to floats, carrying an odd
// trailing byte into the next call.
type pcmDecoder struct {
	carry []byte
}

func (d *pcmDecoder) decode(b []byte) []float32 {
	if len(d.carry) > 0 {
		b = append(d.carry, b...)
		d.carry = nil
	}
	if len(b)%2 == 1 {
		d.carry = []byte{b[len(b)-1]}
		b = b[:len(b)-1]
	}
	return audio.DecodePCM16(audio.PCM16FromBytes(b))
}

// writerFunc adapts a function to io.Writer for pulse.NewWriter.
type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(b []byte) (int, error) { return f(b) }
