// Package session holds the process-wide registry of the active realtime
// session.
//
// At most one session is active at a time. Every replacement or clear bumps
// a generation counter and closes the invalidation channel handed out with
// the previous generation, so waits tied to an old session resolve instead of
// hanging.
package session

import (
	"context"
	"io"
	"log/slog"
	"slices"
	"sync"

	"github.com/MrWong99/voxlink/pkg/realtime"
)

// Connector opens a new realtime session.
type Connector interface {
	Connect(ctx context.Context) (realtime.Session, error)
}

// ConnectorFunc adapts a function to [Connector].
type ConnectorFunc func(ctx context.Context) (realtime.Session, error)

// Connect implements [Connector].
func (f ConnectorFunc) Connect(ctx context.Context) (realtime.Session, error) { return f(ctx) }

// Snapshot is the registry state at one instant.
type Snapshot struct {
	Session    realtime.Session
	Generation uint64
	// Invalidated is closed as soon as Session stops being the current one.
	Invalidated <-chan struct{}
}

// Registry holds the single active session. All methods are safe for
// concurrent use.
type Registry struct {
	mu        sync.Mutex
	current   realtime.Session
	gen       uint64
	invalid   chan struct{}
	observers []func(realtime.Session, uint64)
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{invalid: make(chan struct{})}
}

// Register makes s the active session and invalidates the previous one. The
// previous session is not closed; the caller that replaced it owns that. It
// returns the new generation.
func (r *Registry) Register(s realtime.Session) uint64 {
	_, gen := r.Replace(s)
	return gen
}

// Replace is Register that also returns the session it displaced, read under
// the same lock, so the caller can close exactly that one.
func (r *Registry) Replace(s realtime.Session) (prev realtime.Session, gen uint64) {
	r.mu.Lock()
	prev = r.current
	gen, obs := r.installLocked(s)
	r.mu.Unlock()

	r.notify(s, gen, obs)
	return prev, gen
}

// RegisterIfEmpty registers s only when no session is active. It reports
// false, leaving the registry untouched, when another session got there
// first.
func (r *Registry) RegisterIfEmpty(s realtime.Session) (uint64, bool) {
	r.mu.Lock()
	if r.current != nil {
		gen := r.gen
		r.mu.Unlock()
		return gen, false
	}
	gen, obs := r.installLocked(s)
	r.mu.Unlock()

	r.notify(s, gen, obs)
	return gen, true
}

func (r *Registry) installLocked(s realtime.Session) (uint64, []func(realtime.Session, uint64)) {
	close(r.invalid)
	r.invalid = make(chan struct{})
	r.gen++
	r.current = s
	return r.gen, slices.Clone(r.observers)
}

func (r *Registry) notify(s realtime.Session, gen uint64, obs []func(realtime.Session, uint64)) {
	slog.Debug("session: registered", "generation", gen)
	for _, fn := range obs {
		fn(s, gen)
	}
}

// Clear drops the active session, failing every wait tied to it. Clearing an
// empty registry is a no-op.
func (r *Registry) Clear() {
	r.mu.Lock()
	if r.current == nil {
		r.mu.Unlock()
		return
	}
	close(r.invalid)
	r.invalid = make(chan struct{})
	r.gen++
	r.current = nil
	gen := r.gen
	obs := slices.Clone(r.observers)
	r.mu.Unlock()

	slog.Debug("session: cleared", "generation", gen)
	for _, fn := range obs {
		fn(nil, gen)
	}
}

// Current returns the active session or nil.
func (r *Registry) Current() realtime.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Generation returns the current generation counter.
func (r *Registry) Generation() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gen
}

// Snapshot returns the active session together with its generation and
// invalidation channel, read atomically.
func (r *Registry) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Snapshot{Session: r.current, Generation: r.gen, Invalidated: r.invalid}
}

// OnChange registers fn to run after every Register and Clear. fn receives
// the new session (nil after Clear) and its generation.
func (r *Registry) OnChange(fn func(realtime.Session, uint64)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, fn)
}

// Close closes s if its concrete type supports it.
func Close(s realtime.Session) error {
	if c, ok := s.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
