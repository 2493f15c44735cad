// Package capture turns microphone input into wire-format PCM16 frames.
//
// An [Engine] acquires the device through a shared [Devices] slot, connects
// either the push path ([Streamer]) or, when that is unavailable, a polling
// path ([Reader]), and accumulates downsampled audio in a buffer. A flush
// ticker forwards the buffer once per interval, and only when it holds at
// least the minimum chunk size. An orthogonal enabled flag gates forwarding
// without releasing the device.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/voxlink/pkg/audio"
)

const (
	defaultFlushInterval   = 25 * time.Millisecond
	defaultMinFlushSamples = 600 // 25 ms at 24 kHz
	defaultEnergyThreshold = 0.01
	defaultPollInterval    = 20 * time.Millisecond
	defaultPollBufferSize  = 4096
)

// ErrNotInitialized is returned by [Engine.Start] before [Engine.Initialize].
var ErrNotInitialized = errors.New("capture: engine not initialized")

// Path identifies which capture path is connected.
type Path int

const (
	PathNone Path = iota
	PathPush
	PathPoll
)

func (p Path) String() string {
	switch p {
	case PathPush:
		return "push"
	case PathPoll:
		return "poll"
	default:
		return "none"
	}
}

// Option configures an [Engine].
type Option func(*Engine)

// WithFlushInterval sets how often buffered audio is considered for
// forwarding. Default 25 ms.
func WithFlushInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.flushInterval = d
		}
	}
}

// WithMinFlushSamples sets the minimum buffered sample count required before
// a flush. Default 600.
func WithMinFlushSamples(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.minSamples = n
		}
	}
}

// WithEnergyThreshold sets the RMS level above which a frame counts as voiced
// for diagnostics. Frames below it are still forwarded.
func WithEnergyThreshold(v float64) Option {
	return func(e *Engine) { e.threshold = v }
}

// WithPollInterval sets the read interval of the degraded polling path.
func WithPollInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.pollInterval = d
		}
	}
}

// WithBlocker makes [Engine.Initialize] consult b before acquiring.
func WithBlocker(b Blocker) Option {
	return func(e *Engine) { e.blocker = b }
}

// WithEnabled sets the initial forwarding flag. Default true.
func WithEnabled(enabled bool) Option {
	return func(e *Engine) { e.enabled = enabled }
}

// Engine owns one acquired microphone and forwards encoded frames to an
// output callback. All methods are safe for concurrent use. The output
// callback is invoked without any engine lock held, from a single goroutine
// at a time.
type Engine struct {
	devices *Devices
	output  func(audio.Frame)
	blocker Blocker

	flushInterval time.Duration
	minSamples    int
	threshold     float64
	pollInterval  time.Duration

	// flushMu serialises calls to output.
	flushMu sync.Mutex

	mu        sync.Mutex
	mic       Microphone
	path      Path
	active    bool
	enabled   bool
	buf       []float32
	forwarded int
	level     float64
	voiced    bool
	done      chan struct{}
	wg        sync.WaitGroup
}

// New creates an engine that acquires through devices and delivers frames to
// output.
func New(devices *Devices, output func(audio.Frame), opts ...Option) *Engine {
	e := &Engine{
		devices:       devices,
		output:        output,
		flushInterval: defaultFlushInterval,
		minSamples:    defaultMinFlushSamples,
		threshold:     defaultEnergyThreshold,
		pollInterval:  defaultPollInterval,
		enabled:       true,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Initialize acquires the microphone at the wire format. It fails with a
// [*DeviceError] when permission is denied, no device exists, or voice is
// globally blocked. Calling it again while a device is held is a no-op.
func (e *Engine) Initialize(ctx context.Context) error {
	if e.blocker != nil && e.blocker.Blocked() {
		return &DeviceError{Op: "initialize", Err: ErrVoiceDisabled}
	}

	e.mu.Lock()
	held := e.mic != nil
	e.mu.Unlock()
	if held {
		return nil
	}

	mic, err := e.devices.Acquire(ctx, audio.Wire)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.mic != nil {
		// Lost a race with a concurrent Initialize.
		_ = mic.Close()
		return nil
	}
	e.mic = mic
	slog.Debug("capture: microphone acquired", "sample_rate", mic.SampleRate())
	return nil
}

// Start connects the capture path and begins the flush loop. The push path
// is preferred; if the device lacks it or it fails to start, the engine
// falls back to polling instead of failing. Start on an active engine is a
// no-op.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active {
		return nil
	}
	if e.mic == nil {
		return ErrNotInitialized
	}

	path := PathNone
	if s, ok := e.mic.(Streamer); ok {
		if err := s.Stream(e.onSamples); err != nil {
			slog.Warn("capture: push path unavailable, falling back to polling", "err", err)
		} else {
			path = PathPush
		}
	}

	done := make(chan struct{})
	e.done = done
	if path == PathNone {
		r, ok := e.mic.(Reader)
		if !ok {
			return &DeviceError{Op: "start", Err: errors.New("device supports neither push nor poll capture")}
		}
		path = PathPoll
		e.wg.Go(func() { e.pollLoop(r, done) })
	}

	e.path = path
	e.active = true
	e.wg.Go(func() { e.flushLoop(done) })
	slog.Info("capture: started", "path", path.String())
	return nil
}

// SetEnabled toggles forwarding. Disabling synchronously drops any buffered
// audio so stale speech never leaks across a toggle; once it returns no
// further output is delivered until forwarding is re-enabled. It must not be
// called from the output callback.
func (e *Engine) SetEnabled(enabled bool) {
	e.flushMu.Lock()
	defer e.flushMu.Unlock()
	e.mu.Lock()
	defer e.mu.Unlock()
	e.enabled = enabled
	if !enabled {
		e.buf = e.buf[:0]
	}
}

// Enabled reports the forwarding flag.
func (e *Engine) Enabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enabled
}

// Active reports whether a capture path is connected.
func (e *Engine) Active() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// Path reports the connected capture path.
func (e *Engine) Path() Path {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.path
}

// Level returns the RMS of the most recent frame and whether it crossed the
// energy threshold.
func (e *Engine) Level() (rms float64, voiced bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.level, e.voiced
}

// Stop flushes remaining audio once and releases the device. Teardown is
// best-effort: every step runs even if an earlier one fails, and the
// failures are returned joined.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if e.mic == nil {
		e.mu.Unlock()
		return nil
	}
	mic, path, wasActive := e.mic, e.path, e.active
	if wasActive {
		close(e.done)
	}
	e.active = false
	e.mu.Unlock()

	e.wg.Wait()
	if wasActive {
		e.flush(true)
	}

	var errs []error
	if path == PathPush {
		if s, ok := mic.(Streamer); ok {
			if err := s.Halt(); err != nil {
				slog.Warn("capture: halt push path", "err", err)
				errs = append(errs, fmt.Errorf("capture: halt: %w", err))
			}
		}
	}
	if err := mic.Close(); err != nil {
		slog.Warn("capture: close microphone", "err", err)
		errs = append(errs, fmt.Errorf("capture: close: %w", err))
	}

	e.mu.Lock()
	e.mic = nil
	e.path = PathNone
	e.buf = e.buf[:0]
	e.mu.Unlock()
	slog.Info("capture: stopped")
	return errors.Join(errs...)
}

// onSamples is the device callback. It only takes the engine mutex for an
// append and never waits on I/O.
func (e *Engine) onSamples(samples []float32) {
	if len(samples) == 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.active || e.mic == nil {
		return
	}
	rate := e.mic.SampleRate()
	down := audio.Downsample(samples, rate)
	e.level = audio.RMS(down)
	e.voiced = e.level >= e.threshold
	if !e.enabled {
		return
	}
	e.buf = append(e.buf, down...)
}

func (e *Engine) flushLoop(done <-chan struct{}) {
	ticker := time.NewTicker(e.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			e.flush(false)
		}
	}
}

func (e *Engine) pollLoop(r Reader, done <-chan struct{}) {
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()
	buf := make([]float32, defaultPollBufferSize)
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			n, err := r.Read(buf)
			if n > 0 {
				e.onSamples(buf[:n])
			}
			if errors.Is(err, io.EOF) {
				slog.Info("capture: polling source ended")
				return
			}
			if err != nil {
				slog.Warn("capture: polling read failed", "err", err)
			}
		}
	}
}

// flush forwards the buffer when forwarding is enabled and the buffer holds
// at least the minimum sample count. final relaxes the size requirement.
func (e *Engine) flush(final bool) {
	e.flushMu.Lock()
	defer e.flushMu.Unlock()

	e.mu.Lock()
	if !e.enabled || len(e.buf) == 0 || (!final && len(e.buf) < e.minSamples) {
		e.mu.Unlock()
		return
	}
	pending := e.buf
	e.buf = make([]float32, 0, cap(pending))
	ts := audio.SamplesDuration(e.forwarded, audio.SampleRate, audio.Channels)
	e.forwarded += len(pending)
	e.mu.Unlock()

	if e.output == nil {
		return
	}
	e.output(audio.Frame{
		Samples:    audio.EncodePCM16(pending),
		SampleRate: audio.SampleRate,
		Channels:   audio.Channels,
		Timestamp:  ts,
	})
}
