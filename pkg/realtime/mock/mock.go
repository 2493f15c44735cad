// Package mock provides an in-memory [realtime.Session] for unit tests.
//
// The mock records every sent event, lets the test control the send result
// and connection state, and delivers inbound events synchronously through
// [Session.Emit]. A conversation history is maintained from emitted events
// exactly as a real transport would.
//
// Typical usage:
//
//	sess := mock.NewSession()
//	sess.OnSend = func(ev realtime.Event) {
//	    if ev.EventType() == realtime.TypeResponseCreate {
//	        go sess.Emit(realtime.ServerEvent{Type: realtime.EventResponseCreated})
//	    }
//	}
package mock

import (
	"sync"

	"github.com/MrWong99/voxlink/pkg/realtime"
)

// Session is a mock implementation of [realtime.Session] and
// [realtime.HistoryView]. It is safe for concurrent use.
type Session struct {
	hub     realtime.Hub
	history realtime.History

	mu sync.Mutex

	// SendResult is returned by Send. NewSession sets it to true.
	SendResult bool

	// FailTypes makes Send return false for the listed event types,
	// regardless of SendResult.
	FailTypes map[string]bool

	// OnSend, when set, is called after each Send is recorded. It runs on the
	// caller's goroutine without the mock lock held.
	OnSend func(realtime.Event)

	sent   []realtime.Event
	state  realtime.ConnState
	closed int
}

// NewSession returns an open session whose sends succeed.
func NewSession() *Session {
	return &Session{SendResult: true, state: realtime.StateOpen}
}

var (
	_ realtime.Session     = (*Session)(nil)
	_ realtime.HistoryView = (*Session)(nil)
)

// Send implements [realtime.Session]. Every call is recorded, including
// failed ones.
func (s *Session) Send(ev realtime.Event) bool {
	s.mu.Lock()
	s.sent = append(s.sent, ev)
	ok := s.SendResult && !s.FailTypes[ev.EventType()] && s.state == realtime.StateOpen
	hook := s.OnSend
	s.mu.Unlock()
	if hook != nil {
		hook(ev)
	}
	return ok
}

// On implements [realtime.Session].
func (s *Session) On(eventType string, h realtime.Handler) realtime.ListenerID {
	return s.hub.On(eventType, h)
}

// Off implements [realtime.Session].
func (s *Session) Off(eventType string, id realtime.ListenerID) {
	s.hub.Off(eventType, id)
}

// State implements [realtime.Session].
func (s *Session) State() realtime.ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Items implements [realtime.HistoryView].
func (s *Session) Items() []realtime.Item {
	return s.history.Items()
}

// Close marks the session closed. It never fails.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = realtime.StateClosed
	s.closed++
	return nil
}

// CloseCount returns how many times Close was called.
func (s *Session) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// SetState changes the reported connection state.
func (s *Session) SetState(st realtime.ConnState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
}

// SetSendResult changes the value returned by Send.
func (s *Session) SetSendResult(ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SendResult = ok
}

// Emit applies ev to the history and delivers it to subscribed handlers on
// the calling goroutine.
func (s *Session) Emit(ev realtime.ServerEvent) {
	s.history.Apply(ev)
	s.hub.Emit(ev)
}

// Sent returns a copy of every event passed to Send.
func (s *Session) Sent() []realtime.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]realtime.Event(nil), s.sent...)
}

// SentTypes returns the event type of every Send call, in order.
func (s *Session) SentTypes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.sent))
	for i, ev := range s.sent {
		out[i] = ev.EventType()
	}
	return out
}

// CountSent returns how many events of eventType were sent.
func (s *Session) CountSent(eventType string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ev := range s.sent {
		if ev.EventType() == eventType {
			n++
		}
	}
	return n
}

// ListenerCount returns the number of registered handlers.
func (s *Session) ListenerCount() int {
	return s.hub.Len()
}
