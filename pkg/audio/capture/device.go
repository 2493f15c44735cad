package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/voxlink/pkg/audio"
)

// Sentinel causes wrapped by [DeviceError].
var (
	ErrPermissionDenied = errors.New("microphone permission denied")
	ErrNoDevice         = errors.New("no microphone device")
	ErrVoiceDisabled    = errors.New("voice is disabled")
)

// DeviceError reports a failure to acquire or drive the microphone. It is
// surfaced to the caller immediately and never retried automatically.
type DeviceError struct {
	Op  string
	Err error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("capture: %s: %v", e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// Microphone is an acquired input device. Implementations must also satisfy
// [Streamer], [Reader] or both.
type Microphone interface {
	// SampleRate is the native rate of the samples the device delivers.
	SampleRate() int
	Close() error
}

// Streamer is the preferred capture path: the device pushes float samples to
// fn from its own audio thread. fn never blocks.
type Streamer interface {
	Stream(fn func(samples []float32)) error
	Halt() error
}

// Reader is the degraded capture path: the engine polls the device on an
// interval. Read must return promptly with whatever is buffered.
type Reader interface {
	Read(buf []float32) (int, error)
}

// Acquirer opens the microphone. The requested format is a hint; devices may
// deliver a different native rate which the engine downsamples.
type Acquirer interface {
	Acquire(ctx context.Context, want audio.Format) (Microphone, error)
}

// Blocker reports whether microphone acquisition is globally blocked.
type Blocker interface {
	Blocked() bool
}

// BlockedAcquirer always fails with [ErrVoiceDisabled]. It is swapped into a
// [Devices] slot while voice is disabled so late callers cannot re-acquire.
type BlockedAcquirer struct{}

// Acquire implements [Acquirer].
func (BlockedAcquirer) Acquire(context.Context, audio.Format) (Microphone, error) {
	return nil, &DeviceError{Op: "acquire", Err: ErrVoiceDisabled}
}

var _ Acquirer = BlockedAcquirer{}

// Devices is the process-wide microphone acquisition slot. The acquirer it
// holds can be swapped at runtime; every capture engine acquires through it.
type Devices struct {
	mu  sync.RWMutex
	acq Acquirer
}

// NewDevices returns a slot holding acq.
func NewDevices(acq Acquirer) *Devices {
	return &Devices{acq: acq}
}

// Acquirer returns the currently installed acquirer.
func (d *Devices) Acquirer() Acquirer {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.acq
}

// Swap installs acq and returns the previous acquirer.
func (d *Devices) Swap(acq Acquirer) Acquirer {
	d.mu.Lock()
	defer d.mu.Unlock()
	prev := d.acq
	d.acq = acq
	return prev
}

// Acquire opens the microphone through the installed acquirer. Errors that
// are not already a [*DeviceError] are wrapped in one.
func (d *Devices) Acquire(ctx context.Context, want audio.Format) (Microphone, error) {
	acq := d.Acquirer()
	if acq == nil {
		return nil, &DeviceError{Op: "acquire", Err: ErrNoDevice}
	}
	mic, err := acq.Acquire(ctx, want)
	if err != nil {
		var de *DeviceError
		if errors.As(err, &de) {
			return nil, err
		}
		return nil, &DeviceError{Op: "acquire", Err: err}
	}
	if mic == nil {
		return nil, &DeviceError{Op: "acquire", Err: ErrNoDevice}
	}
	return mic, nil
}
