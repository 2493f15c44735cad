package ack

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/voxlink/internal/session"
	"github.com/MrWong99/voxlink/pkg/realtime"
)

// subscription is one handler registered for the lifetime of a wait.
type subscription struct {
	eventType string
	id        realtime.ListenerID
}

// wait is a single cancellable wait operation. It owns every handler,
// ticker and timer it creates, and releases all of them exactly once when it
// resolves, no matter which source resolved it.
type wait struct {
	sess realtime.Session

	mu   sync.Mutex
	subs []subscription

	once   sync.Once
	done   chan struct{}
	result bool
	reason string
}

func newWait(sess realtime.Session) *wait {
	return &wait{sess: sess, done: make(chan struct{})}
}

// on registers match for eventType. A handler that matches resolves the wait
// with true.
func (w *wait) on(eventType string, match func(realtime.ServerEvent) bool) {
	id := w.sess.On(eventType, func(ev realtime.ServerEvent) {
		select {
		case <-w.done:
			return
		default:
		}
		if match(ev) {
			w.resolve(true, "event:"+ev.Type)
		}
	})
	w.mu.Lock()
	w.subs = append(w.subs, subscription{eventType: eventType, id: id})
	w.mu.Unlock()
}

// resolve records the outcome once and signals the run loop.
func (w *wait) resolve(ok bool, reason string) {
	w.once.Do(func() {
		w.result = ok
		w.reason = reason
		close(w.done)
	})
}

// teardown removes every handler registered by this wait.
func (w *wait) teardown() {
	w.mu.Lock()
	subs := w.subs
	w.subs = nil
	w.mu.Unlock()
	for _, s := range subs {
		w.sess.Off(s.eventType, s.id)
	}
}

// run blocks until the wait resolves. poll is consulted immediately and then
// on every tick; it may be nil. The wait resolves false on timeout, ctx
// cancellation, or when the registry stops holding the session the wait was
// started against.
func (w *wait) run(ctx context.Context, snap session.Snapshot, timeout, interval time.Duration, poll func() bool) (bool, string) {
	defer w.teardown()

	if poll != nil && poll() {
		w.resolve(true, "history")
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var tick <-chan time.Time
	if poll != nil && interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-w.done:
			return w.result, w.reason
		case <-tick:
			if poll() {
				w.resolve(true, "history")
			}
		case <-timer.C:
			w.resolve(false, "timeout")
		case <-ctx.Done():
			w.resolve(false, "cancelled")
		case <-snap.Invalidated:
			w.resolve(false, "session replaced")
		}
	}
}
