// Package bridge is the single point through which the voice core sends
// protocol events to the remote session.
package bridge

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/voxlink/internal/session"
	"github.com/MrWong99/voxlink/pkg/realtime"
)

var (
	// ErrTransportNotReady means no session is registered or the registered
	// one is not open.
	ErrTransportNotReady = errors.New("bridge: transport not ready")

	// ErrSendRejected means the session was open but refused the event.
	ErrSendRejected = errors.New("bridge: send rejected")
)

// Bridge sends events to whichever session the registry currently holds.
type Bridge struct {
	reg *session.Registry
}

// New returns a bridge over reg.
func New(reg *session.Registry) *Bridge {
	return &Bridge{reg: reg}
}

// Send transmits ev and reports success. It never panics or blocks on a
// missing session.
func (b *Bridge) Send(ev realtime.Event) bool {
	return b.SendOrErr(ev) == nil
}

// SendOrErr is Send with the failure reason: [ErrTransportNotReady] or
// [ErrSendRejected].
func (b *Bridge) SendOrErr(ev realtime.Event) error {
	s := b.reg.Current()
	if s == nil || s.State() != realtime.StateOpen {
		slog.Debug("bridge: transport not ready", "type", ev.EventType())
		return ErrTransportNotReady
	}
	if !s.Send(ev) {
		return fmt.Errorf("%w: %s", ErrSendRejected, ev.EventType())
	}
	return nil
}

// Ready reports whether a session is registered and open.
func (b *Bridge) Ready() bool {
	s := b.reg.Current()
	return s != nil && s.State() == realtime.StateOpen
}

// Session returns the current session or nil.
func (b *Bridge) Session() realtime.Session {
	return b.reg.Current()
}

// Registry returns the registry the bridge sends through.
func (b *Bridge) Registry() *session.Registry {
	return b.reg
}
