package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/voxlink/internal/session"
	"github.com/MrWong99/voxlink/pkg/realtime"
)

// Default reconnection parameters.
const (
	defaultMaxRetries = 10
	defaultBackoff    = 1 * time.Second
	defaultMaxBackoff = 30 * time.Second
)

// ReconnectorConfig configures a [Reconnector].
type ReconnectorConfig struct {
	// Connector opens new realtime sessions.
	Connector session.Connector

	// Registry receives every established session.
	Registry *session.Registry

	// MaxRetries is the maximum number of reconnection attempts per drop.
	// Defaults to 10 if zero.
	MaxRetries int

	// Backoff is the initial wait between attempts. Doubles each attempt up
	// to MaxBackoff. Defaults to 1s if zero.
	Backoff time.Duration

	// MaxBackoff caps the wait. Defaults to 30s if zero.
	MaxBackoff time.Duration

	// OnReconnect is called after a successful reconnection. May be nil.
	OnReconnect func(realtime.Session)

	// OnGiveUp is called when every attempt for a drop has failed. May be nil.
	OnGiveUp func(err error)
}

// Reconnector watches the registered session for transport drops and
// re-establishes it.
//
// Callers obtain the first session via [Reconnector.Connect], then call
// [Reconnector.Monitor]. Every session that enters the registry, including
// ones registered by [Controller], is watched for the transport.closed
// pseudo-event. A drop of the current session clears the registry
// immediately and triggers reconnection with exponential backoff.
//
// All methods are safe for concurrent use.
type Reconnector struct {
	connector   session.Connector
	reg         *session.Registry
	maxRetries  int
	backoff     time.Duration
	maxBackoff  time.Duration
	onReconnect func(realtime.Session)
	onGiveUp    func(error)

	mu           sync.Mutex
	watched      realtime.Session
	watchID      realtime.ListenerID
	done         chan struct{}
	stopOnce     sync.Once
	disconnected chan struct{}
}

// NewReconnector creates a [Reconnector] and starts watching every session
// registered in cfg.Registry.
func NewReconnector(cfg ReconnectorConfig) *Reconnector {
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = defaultBackoff
	}
	maxBackoff := cfg.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = defaultMaxBackoff
	}
	r := &Reconnector{
		connector:    cfg.Connector,
		reg:          cfg.Registry,
		maxRetries:   maxRetries,
		backoff:      backoff,
		maxBackoff:   maxBackoff,
		onReconnect:  cfg.OnReconnect,
		onGiveUp:     cfg.OnGiveUp,
		done:         make(chan struct{}),
		disconnected: make(chan struct{}, 1),
	}
	r.reg.OnChange(func(s realtime.Session, _ uint64) { r.watch(s) })
	if s := r.reg.Current(); s != nil {
		r.watch(s)
	}
	return r
}

// Connect opens the first session and registers it.
func (r *Reconnector) Connect(ctx context.Context) (realtime.Session, error) {
	s, err := r.connector.Connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("recovery: initial connect: %w", err)
	}
	r.reg.Register(s)
	return s, nil
}

// Monitor starts the reconnection loop in a background goroutine. It exits
// when ctx is cancelled or Stop is called.
func (r *Reconnector) Monitor(ctx context.Context) {
	go r.monitorLoop(ctx)
}

// NotifyDisconnect reports that the current session is gone. The registry is
// cleared at once so every wait tied to the session fails, and the monitor
// is signalled. Repeated calls before the monitor picks up the signal
// coalesce.
func (r *Reconnector) NotifyDisconnect() {
	r.reg.Clear()
	select {
	case r.disconnected <- struct{}{}:
	default:
	}
}

// Stop halts monitoring, clears the registry and closes the current session.
// Safe to call multiple times.
func (r *Reconnector) Stop() error {
	r.stopOnce.Do(func() {
		close(r.done)
	})

	s := r.reg.Current()
	r.reg.Clear()
	if s != nil {
		return session.Close(s)
	}
	return nil
}

// watch moves the transport.closed subscription to s.
func (r *Reconnector) watch(s realtime.Session) {
	r.mu.Lock()
	prev, prevID := r.watched, r.watchID
	r.watched = nil
	if s != nil {
		r.watched = s
		r.watchID = s.On(realtime.EventTransportClosed, func(realtime.ServerEvent) {
			// A replaced session closing is expected; only the current one
			// counts as a drop.
			if r.reg.Current() == s {
				slog.Warn("recovery: transport closed")
				r.NotifyDisconnect()
			}
		})
	}
	r.mu.Unlock()

	if prev != nil && prev != s {
		prev.Off(realtime.EventTransportClosed, prevID)
	}
}

func (r *Reconnector) monitorLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case <-r.disconnected:
			r.attemptReconnect(ctx)
		}
	}
}

// attemptReconnect tries to reconnect with exponential backoff.
func (r *Reconnector) attemptReconnect(ctx context.Context) {
	currentBackoff := r.backoff
	var lastErr error

	for attempt := 1; attempt <= r.maxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		default:
		}

		if r.reg.Current() != nil {
			// Someone else (the stall controller) already re-established it.
			return
		}

		slog.Info("recovery: attempting reconnection",
			"attempt", attempt,
			"max_retries", r.maxRetries,
			"backoff", currentBackoff,
		)

		s, err := r.connector.Connect(ctx)
		if err == nil {
			if _, ok := r.reg.RegisterIfEmpty(s); !ok {
				// The stall controller registered a session while we dialled.
				if cerr := session.Close(s); cerr != nil {
					slog.Debug("recovery: close surplus session", "err", cerr)
				}
				slog.Info("recovery: session already re-established, dropping reconnect", "attempt", attempt)
				return
			}
			slog.Info("recovery: reconnection successful", "attempt", attempt)
			if r.onReconnect != nil {
				r.onReconnect(s)
			}
			return
		}
		lastErr = err

		slog.Warn("recovery: reconnection attempt failed",
			"attempt", attempt,
			"err", err,
		)

		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case <-time.After(currentBackoff):
		}

		currentBackoff *= 2
		if currentBackoff > r.maxBackoff {
			currentBackoff = r.maxBackoff
		}
	}

	slog.Error("recovery: reconnection failed after max retries", "max_retries", r.maxRetries)
	if r.onGiveUp != nil {
		r.onGiveUp(fmt.Errorf("recovery: reconnect after %d attempts: %w", r.maxRetries, lastErr))
	}
}
