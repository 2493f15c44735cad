// Package mock provides in-memory implementations of the capture and
// playback device interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	mic := &mock.Microphone{Rate: 48000}
//	acq := &mock.Acquirer{Mic: mic}
//	eng := capture.New(capture.NewDevices(acq), out)
//	_ = eng.Initialize(ctx)
//	_ = eng.Start()
//	mic.Push(samples)
package mock

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/voxlink/pkg/audio"
	"github.com/MrWong99/voxlink/pkg/audio/capture"
	"github.com/MrWong99/voxlink/pkg/audio/playback"
)

// ─── Microphone ───────────────────────────────────────────────────────────────

// Microphone is a mock implementation of [capture.Microphone] that supports
// both the push ([capture.Streamer]) and the polling ([capture.Reader]) path.
type Microphone struct {
	mu sync.Mutex

	// Rate is returned by SampleRate. Defaults to [audio.SampleRate].
	Rate int

	// StreamError is returned by Stream. A non-nil value forces callers onto
	// the polling path.
	StreamError error

	// HaltError is returned by Halt.
	HaltError error

	// CloseError is returned by Close.
	CloseError error

	// CallCountStream records how many times Stream was called.
	CallCountStream int

	// CallCountHalt records how many times Halt was called.
	CallCountHalt int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	// CallCountRead records how many times Read was called.
	CallCountRead int

	fn      func([]float32)
	pending []float32
}

// SampleRate implements [capture.Microphone].
func (m *Microphone) SampleRate() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Rate == 0 {
		return audio.SampleRate
	}
	return m.Rate
}

// Close implements [capture.Microphone].
func (m *Microphone) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallCountClose++
	return m.CloseError
}

// Stream implements [capture.Streamer]. The callback is stored; use
// [Microphone.Push] to deliver samples through it.
func (m *Microphone) Stream(fn func([]float32)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallCountStream++
	if m.StreamError != nil {
		return m.StreamError
	}
	m.fn = fn
	return nil
}

// Halt implements [capture.Streamer].
func (m *Microphone) Halt() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallCountHalt++
	m.fn = nil
	return m.HaltError
}

// Read implements [capture.Reader]. Returns samples queued with
// [Microphone.Feed].
func (m *Microphone) Read(buf []float32) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallCountRead++
	n := copy(buf, m.pending)
	m.pending = m.pending[n:]
	return n, nil
}

// Push delivers samples through the stored stream callback. It reports
// whether a callback was registered.
func (m *Microphone) Push(samples []float32) bool {
	m.mu.Lock()
	fn := m.fn
	m.mu.Unlock()
	if fn == nil {
		return false
	}
	fn(samples)
	return true
}

// Feed queues samples for the polling path.
func (m *Microphone) Feed(samples []float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = append(m.pending, samples...)
}

var (
	_ capture.Microphone = (*Microphone)(nil)
	_ capture.Streamer   = (*Microphone)(nil)
	_ capture.Reader     = (*Microphone)(nil)
)

// ─── Acquirer ─────────────────────────────────────────────────────────────────

// Acquirer is a mock implementation of [capture.Acquirer].
type Acquirer struct {
	mu sync.Mutex

	// Mic is returned by Acquire.
	Mic capture.Microphone

	// Err is returned by Acquire.
	Err error

	// Formats records the format argument of every Acquire call.
	Formats []audio.Format
}

// Acquire implements [capture.Acquirer].
func (a *Acquirer) Acquire(_ context.Context, want audio.Format) (capture.Microphone, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Formats = append(a.Formats, want)
	if a.Err != nil {
		return nil, a.Err
	}
	return a.Mic, nil
}

// CallCount returns how many times Acquire was called.
func (a *Acquirer) CallCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.Formats)
}

var _ capture.Acquirer = (*Acquirer)(nil)

// ─── Sink ─────────────────────────────────────────────────────────────────────

// Sink is a mock implementation of [playback.Sink] and [playback.Muter].
// Each Play blocks for PlayDuration (or until the context is cancelled) and
// tracks how many plays overlap.
type Sink struct {
	mu sync.Mutex

	// PlayDuration is how long each Play blocks. Zero returns immediately.
	PlayDuration time.Duration

	// PlayError is returned by Play after it completes naturally.
	PlayError error

	// MuteError is returned by SetMuted.
	MuteError error

	// Played records every segment whose Play call returned naturally.
	Played []playback.Segment

	// Aborted counts Play calls that ended by cancellation.
	Aborted int

	// MaxConcurrent is the largest number of simultaneously running Play calls.
	MaxConcurrent int

	// MuteCalls records every SetMuted argument.
	MuteCalls []bool

	active int
	muted  bool
}

// Play implements [playback.Sink].
func (s *Sink) Play(ctx context.Context, seg playback.Segment) error {
	s.mu.Lock()
	s.active++
	if s.active > s.MaxConcurrent {
		s.MaxConcurrent = s.active
	}
	d := s.PlayDuration
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.active--
		s.mu.Unlock()
	}()

	if d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
			s.mu.Lock()
			s.Aborted++
			s.mu.Unlock()
			return ctx.Err()
		case <-t.C:
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.Played = append(s.Played, seg)
	return s.PlayError
}

// SetMuted implements [playback.Muter].
func (s *Sink) SetMuted(muted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.MuteCalls = append(s.MuteCalls, muted)
	s.muted = muted
	return s.MuteError
}

// Muted reports the last SetMuted value.
func (s *Sink) Muted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muted
}

// PlayedCount returns len(Played) under the lock.
func (s *Sink) PlayedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Played)
}

// Segments returns a copy of Played under the lock.
func (s *Sink) Segments() []playback.Segment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.Played)
}

// Concurrency returns MaxConcurrent under the lock.
func (s *Sink) Concurrency() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.MaxConcurrent
}

var (
	_ playback.Sink  = (*Sink)(nil)
	_ playback.Muter = (*Sink)(nil)
)
