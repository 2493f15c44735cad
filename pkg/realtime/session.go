// Package realtime defines the session capability the voice core talks to
// and the protocol events it exchanges.
//
// A [Session] is deliberately small: send an event, subscribe and unsubscribe
// handlers by event type, and report connection state. Concrete transports
// (see the openai subpackage) are adapted to it once, at the boundary, with
// [SenderOf], [Hub] and [Compose].
package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// ConnState is the connection-state tag of a session.
type ConnState int

const (
	StateConnecting ConnState = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("ConnState(%d)", int(s))
	}
}

// Handler receives inbound events. Handlers run on the transport's reader
// goroutine and must not block.
type Handler func(ServerEvent)

// ListenerID identifies a registered handler for [Session.Off].
type ListenerID uint64

// Session is the live connection capability to the remote conversational
// service.
type Session interface {
	// Send transmits ev. It returns false instead of an error so callers can
	// fall back without unwrapping anything.
	Send(ev Event) bool
	// On registers h for events of eventType, or every event for [EventAny].
	On(eventType string, h Handler) ListenerID
	// Off removes a handler registered with On. Unknown ids are ignored.
	Off(eventType string, id ListenerID)
	State() ConnState
}

// ── Hub ──────────────────────────────────────────────────────────────────────

type listener struct {
	id ListenerID
	h  Handler
}

// Hub is a subscribe/unsubscribe event emitter. The zero value is ready to
// use and safe for concurrent use.
type Hub struct {
	mu        sync.Mutex
	next      ListenerID
	listeners map[string][]listener
}

// On registers h and returns its id.
func (b *Hub) On(eventType string, h Handler) ListenerID {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listeners == nil {
		b.listeners = make(map[string][]listener)
	}
	b.next++
	b.listeners[eventType] = append(b.listeners[eventType], listener{id: b.next, h: h})
	return b.next
}

// Off removes the handler with id from eventType.
func (b *Hub) Off(eventType string, id ListenerID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ls := b.listeners[eventType]
	for i, l := range ls {
		if l.id == id {
			b.listeners[eventType] = append(ls[:i:i], ls[i+1:]...)
			break
		}
	}
	if len(b.listeners[eventType]) == 0 {
		delete(b.listeners, eventType)
	}
}

// Emit delivers ev to handlers registered for its type, then to [EventAny]
// handlers, in registration order. Handlers are called without the hub lock
// held, so they may call On or Off.
func (b *Hub) Emit(ev ServerEvent) {
	b.mu.Lock()
	typed := b.listeners[ev.Type]
	wild := b.listeners[EventAny]
	hs := make([]Handler, 0, len(typed)+len(wild))
	for _, l := range typed {
		hs = append(hs, l.h)
	}
	for _, l := range wild {
		hs = append(hs, l.h)
	}
	b.mu.Unlock()

	for _, h := range hs {
		h(ev)
	}
}

// Len returns the number of registered handlers across all event types.
func (b *Hub) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, ls := range b.listeners {
		n += len(ls)
	}
	return n
}

// ── Sender adaptation ────────────────────────────────────────────────────────

// SendFunc is the normalised send contract.
type SendFunc func(Event) bool

// SenderOf adapts the send method of a concrete transport to a [SendFunc].
// Accepted shapes, in order of preference:
//
//	Send(Event) bool
//	Send(Event) error
//	SendEvent(context.Context, Event) error
//	WriteJSON(any) error
//	func(Event) bool
//	func(Event) error
//
// Errors are logged at debug level and reported as false.
func SenderOf(v any) (SendFunc, error) {
	switch s := v.(type) {
	case nil:
		return nil, fmt.Errorf("realtime: sender of nil")
	case interface{ Send(Event) bool }:
		return s.Send, nil
	case interface{ Send(Event) error }:
		return errSender(s.Send), nil
	case interface {
		SendEvent(context.Context, Event) error
	}:
		return errSender(func(ev Event) error { return s.SendEvent(context.Background(), ev) }), nil
	case interface{ WriteJSON(any) error }:
		return errSender(func(ev Event) error { return s.WriteJSON(ev) }), nil
	case SendFunc:
		return s, nil
	case func(Event) bool:
		return s, nil
	case func(Event) error:
		return errSender(s), nil
	default:
		return nil, fmt.Errorf("realtime: unsupported sender type %T", v)
	}
}

func errSender(fn func(Event) error) SendFunc {
	return func(ev Event) bool {
		if err := fn(ev); err != nil {
			slog.Debug("realtime: send failed", "type", ev.EventType(), "err", err)
			return false
		}
		return true
	}
}

// ── Composition ──────────────────────────────────────────────────────────────

// Compose builds a [Session] from its parts. history may be nil; the result
// always implements [HistoryView] and returns nil items without one.
func Compose(send SendFunc, hub *Hub, state func() ConnState, history HistoryView) Session {
	if hub == nil {
		hub = &Hub{}
	}
	return &composed{send: send, hub: hub, state: state, history: history}
}

type composed struct {
	send    SendFunc
	hub     *Hub
	state   func() ConnState
	history HistoryView
}

var (
	_ Session     = (*composed)(nil)
	_ HistoryView = (*composed)(nil)
)

func (c *composed) Send(ev Event) bool {
	if c.send == nil {
		return false
	}
	return c.send(ev)
}

func (c *composed) On(eventType string, h Handler) ListenerID { return c.hub.On(eventType, h) }

func (c *composed) Off(eventType string, id ListenerID) { c.hub.Off(eventType, id) }

func (c *composed) State() ConnState {
	if c.state == nil {
		return StateOpen
	}
	return c.state()
}

func (c *composed) Items() []Item {
	if c.history == nil {
		return nil
	}
	return c.history.Items()
}

// Items returns the history of s when it exposes one.
func Items(s Session) []Item {
	if hv, ok := s.(HistoryView); ok {
		return hv.Items()
	}
	return nil
}
