// Package guard takes voice fully offline and brings it back.
//
// Disabling blocks microphone acquisition at the source, stops capture,
// asks the remote side to cancel and stop auto-responding, silences every
// playback surface and resets the state machine. Enabling undoes each of
// those steps in reverse. Both directions are idempotent, and
// [Guard.Blocked] is the single flag other components consult before
// touching the microphone.
package guard

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/voxlink/internal/fsm"
	"github.com/MrWong99/voxlink/pkg/audio/capture"
	"github.com/MrWong99/voxlink/pkg/realtime"
)

// Capture is the part of the capture engine the guard drives.
type Capture interface {
	SetEnabled(enabled bool)
	Stop() error
}

// Surface is a playback output that can be silenced and halted.
type Surface interface {
	SetMuted(muted bool) error
	Stop()
}

// Sender delivers control events to the remote session.
type Sender interface {
	Send(ev realtime.Event) bool
}

// Resetter returns the state machine to idle.
type Resetter interface {
	Fire(ev fsm.Event) (fsm.State, error)
}

// Option configures a [Guard].
type Option func(*Guard)

// WithCapture sets the capture engine stopped on disable.
func WithCapture(c Capture) Option {
	return func(g *Guard) { g.capture = c }
}

// WithSurfaces adds playback surfaces to mute and stop.
func WithSurfaces(s ...Surface) Option {
	return func(g *Guard) { g.surfaces = append(g.surfaces, s...) }
}

// WithSender sets where response.cancel and session.update are sent.
func WithSender(s Sender) Option {
	return func(g *Guard) { g.sender = s }
}

// WithMachine sets the state machine reset on disable.
func WithMachine(r Resetter) Option {
	return func(g *Guard) { g.machine = r }
}

// WithTurnDetection supplies the turn-detection settings sent with the
// auto-response toggle. The create_response flag is overwritten.
func WithTurnDetection(fn func() realtime.TurnDetection) Option {
	return func(g *Guard) { g.turnDetection = fn }
}

// WithContextFlusher sets the function that delivers context deferred while
// disabled. It is called once per deferred entry, in order, on enable.
func WithContextFlusher(fn func(text string) error) Option {
	return func(g *Guard) { g.flush = fn }
}

// Guard coordinates disabling and re-enabling voice. It is safe for
// concurrent use; Disable and Enable are serialised.
type Guard struct {
	devices       *capture.Devices
	capture       Capture
	surfaces      []Surface
	sender        Sender
	machine       Resetter
	turnDetection func() realtime.TurnDetection
	flush         func(text string) error

	blocked atomic.Bool

	mu       sync.Mutex
	saved    capture.Acquirer
	deferred []string
}

var _ capture.Blocker = (*Guard)(nil)

// New returns an enabled guard over devices.
func New(devices *capture.Devices, opts ...Option) *Guard {
	g := &Guard{
		devices:       devices,
		turnDetection: func() realtime.TurnDetection { return realtime.TurnDetection{Type: "server_vad"} },
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Blocked reports whether voice is disabled.
func (g *Guard) Blocked() bool {
	return g.blocked.Load()
}

// Disable takes voice offline. Remote control events are best-effort: send
// failures are logged and never fail the call. Local teardown failures are
// joined into the returned error after every step has run. Calling Disable
// while disabled only re-asserts the acquisition block.
func (g *Guard) Disable() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.blocked.Swap(true) {
		g.blockAcquisition()
		slog.Debug("guard: already disabled")
		return nil
	}
	g.blockAcquisition()

	var errs []error
	if g.capture != nil {
		g.capture.SetEnabled(false)
		if err := g.capture.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("guard: stop capture: %w", err))
		}
	}

	g.send(realtime.NewResponseCancel())
	g.send(g.autoResponse(false))

	for _, s := range g.surfaces {
		s.Stop()
		if err := s.SetMuted(true); err != nil {
			errs = append(errs, fmt.Errorf("guard: mute surface: %w", err))
		}
	}

	if g.machine != nil {
		_, _ = g.machine.Fire(fsm.EventReset)
	}

	slog.Info("guard: voice disabled")
	return errors.Join(errs...)
}

// Enable brings voice back in reverse order of Disable. Calling Enable while
// enabled is a no-op.
func (g *Guard) Enable() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.blocked.Load() {
		slog.Debug("guard: already enabled")
		return nil
	}
	g.blocked.Store(false)

	if g.saved != nil {
		g.devices.Swap(g.saved)
		g.saved = nil
	}

	var errs []error
	deferred := g.deferred
	g.deferred = nil
	for _, text := range deferred {
		if g.flush == nil {
			break
		}
		if err := g.flush(text); err != nil {
			errs = append(errs, fmt.Errorf("guard: flush deferred context: %w", err))
		}
	}

	g.send(g.autoResponse(true))

	for _, s := range g.surfaces {
		if err := s.SetMuted(false); err != nil {
			errs = append(errs, fmt.Errorf("guard: unmute surface: %w", err))
		}
	}

	if g.capture != nil {
		g.capture.SetEnabled(true)
	}

	slog.Info("guard: voice enabled", "flushed_context", len(deferred))
	return errors.Join(errs...)
}

// Defer holds text until the next Enable when voice is disabled. It reports
// whether the text was deferred; false means the caller should deliver it
// now.
func (g *Guard) Defer(text string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.blocked.Load() {
		return false
	}
	g.deferred = append(g.deferred, text)
	return true
}

// Deferred returns the number of context entries waiting for Enable.
func (g *Guard) Deferred() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.deferred)
}

// blockAcquisition installs the blocked acquirer, saving whatever real
// acquirer is currently installed. Caller holds g.mu.
func (g *Guard) blockAcquisition() {
	if g.devices == nil {
		return
	}
	prev := g.devices.Swap(capture.BlockedAcquirer{})
	if _, blocked := prev.(capture.BlockedAcquirer); !blocked && prev != nil {
		g.saved = prev
	}
}

func (g *Guard) autoResponse(on bool) realtime.SessionUpdate {
	td := g.turnDetection()
	td.CreateResponse = realtime.Bool(on)
	return realtime.NewSessionUpdate(realtime.SessionParams{TurnDetection: &td})
}

func (g *Guard) send(ev realtime.Event) {
	if g.sender == nil {
		return
	}
	if !g.sender.Send(ev) {
		slog.Warn("guard: control event not delivered", "type", ev.EventType())
	}
}
