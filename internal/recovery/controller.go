// Package recovery detects a realtime session that stopped answering and
// replaces it.
//
// [Controller] guards each response request with a watchdog and recreates
// the session at most once per conversational turn. [Reconnector] handles
// transport drops: it clears the registry at once so pending waits fail,
// then reconnects in the background with exponential backoff.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/MrWong99/voxlink/internal/bridge"
	"github.com/MrWong99/voxlink/internal/session"
	"github.com/MrWong99/voxlink/pkg/realtime"
)

const defaultWatchdog = 8 * time.Second

var (
	// ErrWatchdogExpired means response.created did not arrive in time after
	// a successful send.
	ErrWatchdogExpired = errors.New("recovery: response watchdog expired")

	// ErrSessionInvalidated means the session a request was sent on was
	// replaced or cleared before it was acknowledged.
	ErrSessionInvalidated = errors.New("recovery: session invalidated")
)

// RecreationExhaustedError is returned when the one recreation a turn is
// allowed has been used or has failed. It is terminal for the turn.
type RecreationExhaustedError struct {
	// Recreated reports whether a new session was established before the
	// request failed again.
	Recreated bool
	Err       error
}

func (e *RecreationExhaustedError) Error() string {
	if e.Recreated {
		return fmt.Sprintf("recovery: recreated session also stalled: %v", e.Err)
	}
	return fmt.Sprintf("recovery: session recreation exhausted: %v", e.Err)
}

func (e *RecreationExhaustedError) Unwrap() error { return e.Err }

// Outcome names reported to the observer.
const (
	OutcomeAcknowledged      = "acknowledged"
	OutcomeWatchdogExpired   = "watchdog_expired"
	OutcomeRecreated         = "recreated"
	OutcomeRecreationFailed  = "recreation_failed"
	OutcomeExhausted         = "exhausted"
	OutcomeTransportNotReady = "transport_not_ready"
)

// Option configures a [Controller].
type Option func(*Controller)

// WithWatchdog overrides the 8 s acknowledgement bound.
func WithWatchdog(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.watchdog = d
		}
	}
}

// WithObserver installs a hook called with every outcome constant.
func WithObserver(fn func(outcome string)) Option {
	return func(c *Controller) { c.observe = fn }
}

// Controller sends response requests and recovers a stalled session. It is
// the only component that replaces the registered session on a stall. All
// methods are safe for concurrent use.
type Controller struct {
	bridge    *bridge.Bridge
	reg       *session.Registry
	connector session.Connector
	watchdog  time.Duration
	observe   func(outcome string)

	group singleflight.Group

	mu        sync.Mutex
	attempted bool
}

// NewController returns a controller that sends through b and recreates
// sessions with connector.
func NewController(b *bridge.Bridge, connector session.Connector, opts ...Option) *Controller {
	c := &Controller{
		bridge:    b,
		reg:       b.Registry(),
		connector: connector,
		watchdog:  defaultWatchdog,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// RequestOption adjusts a single [Controller.RequestResponse] call.
type RequestOption func(*requestOpts)

type requestOpts struct {
	reprime func(context.Context) error
}

// WithReprime runs fn after a stalled session was recreated and before the
// request is resent. fn restores whatever the turn already sent on the old
// session, typically the user item. An error from fn ends the turn with a
// [*RecreationExhaustedError].
func WithReprime(fn func(ctx context.Context) error) RequestOption {
	return func(o *requestOpts) { o.reprime = fn }
}

// RequestResponse sends ev (normally a response.create), waits for
// response.created and returns the id it carried.
//
// A send that fails outright returns an error wrapping
// [bridge.ErrTransportNotReady] or [bridge.ErrSendRejected] without any
// recovery, so the caller can fall back. If the send succeeded but the
// watchdog expires, the session is recreated, reprimed and ev is resent
// once. Any further stall in the same turn, or a failed recreation, returns
// a [*RecreationExhaustedError]. The one-shot allowance is restored only
// after an acknowledged request or [Controller.EndTurn].
func (c *Controller) RequestResponse(ctx context.Context, ev realtime.Event, opts ...RequestOption) (string, error) {
	var o requestOpts
	for _, fn := range opts {
		fn(&o)
	}

	id, err := c.sendAndWatch(ctx, ev)
	if err == nil {
		c.acknowledged()
		return id, nil
	}
	if !errors.Is(err, ErrWatchdogExpired) {
		return "", err
	}
	c.report(OutcomeWatchdogExpired)

	if !c.claim() {
		c.report(OutcomeExhausted)
		slog.Error("recovery: session stalled again in the same turn", "type", ev.EventType())
		return "", &RecreationExhaustedError{Err: err}
	}

	if rerr := c.recreate(ctx); rerr != nil {
		c.report(OutcomeRecreationFailed)
		slog.Error("recovery: session recreation failed", "err", rerr)
		return "", &RecreationExhaustedError{Err: rerr}
	}
	c.report(OutcomeRecreated)

	if o.reprime != nil {
		if perr := o.reprime(ctx); perr != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			c.report(OutcomeExhausted)
			slog.Error("recovery: reprime recreated session", "err", perr)
			return "", &RecreationExhaustedError{Recreated: true, Err: fmt.Errorf("recovery: reprime: %w", perr)}
		}
	}

	id, err = c.sendAndWatch(ctx, ev)
	if err == nil {
		c.acknowledged()
		return id, nil
	}
	if errors.Is(err, ErrWatchdogExpired) {
		c.report(OutcomeExhausted)
		return "", &RecreationExhaustedError{Recreated: true, Err: err}
	}
	return "", err
}

// EndTurn restores the recreation allowance. Call it when the caller gives
// up on a turn.
func (c *Controller) EndTurn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempted = false
}

// Attempted reports whether the current turn has used its recreation.
func (c *Controller) Attempted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempted
}

// sendAndWatch subscribes to response.created on the current session, sends
// ev and waits for the acknowledgement, the watchdog, cancellation or
// session invalidation. It returns the created response's id.
func (c *Controller) sendAndWatch(ctx context.Context, ev realtime.Event) (string, error) {
	snap := c.reg.Snapshot()
	if snap.Session == nil {
		c.report(OutcomeTransportNotReady)
		return "", fmt.Errorf("recovery: request response: %w", bridge.ErrTransportNotReady)
	}

	created := make(chan string, 1)
	lid := snap.Session.On(realtime.EventResponseCreated, func(ev realtime.ServerEvent) {
		select {
		case created <- ev.ResponseRef():
		default:
		}
	})
	defer snap.Session.Off(realtime.EventResponseCreated, lid)

	if err := c.bridge.SendOrErr(ev); err != nil {
		c.report(OutcomeTransportNotReady)
		return "", fmt.Errorf("recovery: request response: %w", err)
	}

	timer := time.NewTimer(c.watchdog)
	defer timer.Stop()

	select {
	case id := <-created:
		return id, nil
	case <-timer.C:
		slog.Warn("recovery: no response.created within watchdog", "watchdog", c.watchdog, "generation", snap.Generation)
		return "", ErrWatchdogExpired
	case <-snap.Invalidated:
		return "", ErrSessionInvalidated
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// claim takes the turn's recreation allowance.
func (c *Controller) claim() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.attempted {
		return false
	}
	c.attempted = true
	return true
}

func (c *Controller) acknowledged() {
	c.mu.Lock()
	c.attempted = false
	c.mu.Unlock()
	c.report(OutcomeAcknowledged)
}

// recreate connects a new session and registers it. Concurrent callers
// share one connection attempt.
func (c *Controller) recreate(ctx context.Context) error {
	if c.connector == nil {
		return errors.New("recovery: no connector configured")
	}
	_, err, shared := c.group.Do("recreate", func() (any, error) {
		s, err := c.connector.Connect(ctx)
		if err != nil {
			return nil, fmt.Errorf("recovery: connect: %w", err)
		}
		old, gen := c.reg.Replace(s)
		if old != nil {
			if err := session.Close(old); err != nil {
				slog.Debug("recovery: close stalled session", "err", err)
			}
		}
		slog.Info("recovery: session recreated", "generation", gen)
		return s, nil
	})
	if shared {
		slog.Debug("recovery: joined in-flight recreation")
	}
	return err
}

func (c *Controller) report(outcome string) {
	if c.observe != nil {
		c.observe(outcome)
	}
}
