package capture_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/voxlink/pkg/audio"
	"github.com/MrWong99/voxlink/pkg/audio/capture"
	"github.com/MrWong99/voxlink/pkg/audio/mock"
)

// frameSink collects engine output.
type frameSink struct {
	mu     sync.Mutex
	frames []audio.Frame
}

func (s *frameSink) add(f audio.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, f)
}

func (s *frameSink) snapshot() []audio.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audio.Frame(nil), s.frames...)
}

func (s *frameSink) waitFor(t *testing.T, n int) []audio.Frame {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got := s.snapshot(); len(got) >= n {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d frames, got %d", n, len(s.snapshot()))
	return nil
}

func constant(n int, v float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func startEngine(t *testing.T, mic *mock.Microphone, opts ...capture.Option) (*capture.Engine, *frameSink) {
	t.Helper()
	sink := &frameSink{}
	eng := capture.New(capture.NewDevices(&mock.Acquirer{Mic: mic}), sink.add, opts...)
	if err := eng.Initialize(t.Context()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := eng.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = eng.Stop() })
	return eng, sink
}

func TestEngine_PushPathFlushesDownsampledPCM(t *testing.T) {
	t.Parallel()

	mic := &mock.Microphone{Rate: 48000}
	eng, sink := startEngine(t, mic)
	if eng.Path() != capture.PathPush {
		t.Fatalf("Path = %v, want push", eng.Path())
	}

	if !mic.Push(constant(1200, 0.5)) {
		t.Fatal("stream callback not registered")
	}
	frames := sink.waitFor(t, 1)
	f := frames[0]
	if len(f.Samples) != 600 {
		t.Errorf("samples = %d, want 600", len(f.Samples))
	}
	if f.SampleRate != audio.SampleRate || f.Channels != 1 {
		t.Errorf("format = %d/%d, want 24000/1", f.SampleRate, f.Channels)
	}
	if f.Samples[0] != 16384 {
		t.Errorf("sample[0] = %d, want 16384", f.Samples[0])
	}
	if rms, voiced := eng.Level(); !voiced || rms < 0.49 {
		t.Errorf("Level = %v/%v, want ~0.5 voiced", rms, voiced)
	}
}

func TestEngine_BelowMinimumIsHeld(t *testing.T) {
	t.Parallel()

	mic := &mock.Microphone{}
	_, sink := startEngine(t, mic)

	mic.Push(constant(200, 0.1))
	time.Sleep(100 * time.Millisecond)
	if got := len(sink.snapshot()); got != 0 {
		t.Fatalf("got %d frames for a sub-minimum buffer, want 0", got)
	}

	mic.Push(constant(400, 0.1))
	frames := sink.waitFor(t, 1)
	if len(frames[0].Samples) != 600 {
		t.Errorf("samples = %d, want 600", len(frames[0].Samples))
	}
}

func TestEngine_QuietFramesStillForwarded(t *testing.T) {
	t.Parallel()

	mic := &mock.Microphone{}
	eng, sink := startEngine(t, mic, capture.WithEnergyThreshold(0.5))

	mic.Push(constant(600, 0.001))
	sink.waitFor(t, 1)
	if _, voiced := eng.Level(); voiced {
		t.Error("quiet frame reported as voiced")
	}
}

func TestEngine_DisabledNeverForwards(t *testing.T) {
	t.Parallel()

	mic := &mock.Microphone{}
	eng, sink := startEngine(t, mic)

	eng.SetEnabled(false)
	for range 5 {
		mic.Push(constant(2400, 0.3))
	}
	time.Sleep(150 * time.Millisecond)
	if err := eng.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := len(sink.snapshot()); got != 0 {
		t.Fatalf("got %d frames while disabled, want 0", got)
	}
}

func TestEngine_DisableDropsBufferedAudio(t *testing.T) {
	t.Parallel()

	mic := &mock.Microphone{}
	eng, sink := startEngine(t, mic)

	mic.Push(constant(300, 0.2))
	eng.SetEnabled(false)
	eng.SetEnabled(true)
	mic.Push(constant(100, 0.2))

	if err := eng.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	frames := sink.snapshot()
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want exactly the final flush", len(frames))
	}
	if len(frames[0].Samples) != 100 {
		t.Errorf("final flush carried %d samples, want 100 (stale audio leaked)", len(frames[0].Samples))
	}
}

func TestEngine_FallsBackToPolling(t *testing.T) {
	t.Parallel()

	mic := &mock.Microphone{StreamError: errors.New("worklet unsupported")}
	eng, sink := startEngine(t, mic, capture.WithPollInterval(5*time.Millisecond))
	if eng.Path() != capture.PathPoll {
		t.Fatalf("Path = %v, want poll", eng.Path())
	}

	mic.Feed(constant(900, 0.25))
	frames := sink.waitFor(t, 1)
	if len(frames[0].Samples) < 600 {
		t.Errorf("samples = %d, want >= 600", len(frames[0].Samples))
	}
}

func TestEngine_StopIsBestEffort(t *testing.T) {
	t.Parallel()

	mic := &mock.Microphone{
		HaltError:  errors.New("halt failed"),
		CloseError: errors.New("close failed"),
	}
	sink := &frameSink{}
	eng := capture.New(capture.NewDevices(&mock.Acquirer{Mic: mic}), sink.add)
	if err := eng.Initialize(t.Context()); err != nil {
		t.Fatal(err)
	}
	if err := eng.Start(); err != nil {
		t.Fatal(err)
	}

	err := eng.Stop()
	if err == nil {
		t.Fatal("expected joined teardown error")
	}
	if mic.CallCountHalt != 1 || mic.CallCountClose != 1 {
		t.Errorf("halt=%d close=%d, want 1/1", mic.CallCountHalt, mic.CallCountClose)
	}
	if eng.Active() {
		t.Error("engine still active after Stop")
	}
	if err := eng.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}

func TestEngine_InitializeErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		acq   capture.Acquirer
		opts  []capture.Option
		cause error
	}{
		{
			name:  "permission denied",
			acq:   &mock.Acquirer{Err: capture.ErrPermissionDenied},
			cause: capture.ErrPermissionDenied,
		},
		{
			name:  "no device",
			acq:   &mock.Acquirer{},
			cause: capture.ErrNoDevice,
		},
		{
			name:  "blocked acquirer",
			acq:   capture.BlockedAcquirer{},
			cause: capture.ErrVoiceDisabled,
		},
		{
			name:  "global block flag",
			acq:   &mock.Acquirer{Mic: &mock.Microphone{}},
			opts:  []capture.Option{capture.WithBlocker(blocked(true))},
			cause: capture.ErrVoiceDisabled,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := capture.New(capture.NewDevices(tt.acq), nil, tt.opts...)
			err := eng.Initialize(t.Context())
			var de *capture.DeviceError
			if !errors.As(err, &de) {
				t.Fatalf("err = %v, want *DeviceError", err)
			}
			if !errors.Is(err, tt.cause) {
				t.Errorf("err = %v, want cause %v", err, tt.cause)
			}
		})
	}
}

func TestEngine_StartBeforeInitialize(t *testing.T) {
	t.Parallel()

	eng := capture.New(capture.NewDevices(&mock.Acquirer{}), nil)
	if err := eng.Start(); !errors.Is(err, capture.ErrNotInitialized) {
		t.Fatalf("Start = %v, want ErrNotInitialized", err)
	}
}

func TestDevices_Swap(t *testing.T) {
	t.Parallel()

	orig := &mock.Acquirer{}
	d := capture.NewDevices(orig)
	prev := d.Swap(capture.BlockedAcquirer{})
	if prev != capture.Acquirer(orig) {
		t.Fatal("Swap did not return the original acquirer")
	}
	if _, err := d.Acquire(t.Context(), audio.Wire); !errors.Is(err, capture.ErrVoiceDisabled) {
		t.Errorf("Acquire = %v, want ErrVoiceDisabled", err)
	}
	d.Swap(prev)
	if d.Acquirer() != capture.Acquirer(orig) {
		t.Error("original acquirer not restored")
	}
}

type blocked bool

func (b blocked) Blocked() bool { return bool(b) }
