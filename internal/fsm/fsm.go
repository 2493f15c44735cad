// Package fsm is the conversational state machine observed by avatar and
// chat surfaces: idle, listening, thinking, speaking and error.
//
// [Transition] is the pure transition table. [Machine] holds the single
// current state, applies events through the table and publishes every change
// to observers.
package fsm

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// State is the conversational state.
type State string

// Event is a transition trigger.
type Event string

const (
	StateIdle      State = "idle"
	StateListening State = "listening"
	StateThinking  State = "thinking"
	StateSpeaking  State = "speaking"
	StateError     State = "error"
)

const (
	// EventAgentSpeechStarted: the remote side began speaking unprompted.
	EventAgentSpeechStarted Event = "agent_speech_started"
	// EventSendAccepted: a local text or voice turn was sent and a reply is
	// awaited.
	EventSendAccepted Event = "send_accepted"
	// EventReplyObserved: the first audio or text token of a reply arrived.
	EventReplyObserved Event = "reply_observed"
	// EventAudioFinished: the authoritative end-of-output signal.
	EventAudioFinished Event = "audio_finished"
	// EventFail: an unrecoverable transport or protocol error.
	EventFail Event = "fail"
	// EventRecovered: a session was successfully re-established.
	EventRecovered Event = "recovered"
	// EventListenStarted / EventListenStopped: the microphone went live or
	// was released.
	EventListenStarted Event = "listen_started"
	EventListenStopped Event = "listen_stopped"
	// EventInterrupted: the user barged in while the agent was speaking.
	EventInterrupted Event = "interrupted"
	// EventReset: voice was disabled; everything returns to idle.
	EventReset Event = "reset"
)

// ErrInvalidTransition is wrapped by every rejected transition.
var ErrInvalidTransition = errors.New("fsm: invalid transition")

// Transition returns the state reached from current on event. captureLive
// decides where speaking ends: listening while the microphone is live, idle
// otherwise. Rejected events return current and an error wrapping
// [ErrInvalidTransition].
func Transition(current State, event Event, captureLive bool) (State, error) {
	afterSpeech := StateIdle
	if captureLive {
		afterSpeech = StateListening
	}

	switch event {
	case EventFail:
		return StateError, nil
	case EventSendAccepted:
		return StateThinking, nil
	case EventReset:
		return StateIdle, nil
	}

	switch current {
	case StateIdle:
		switch event {
		case EventAgentSpeechStarted:
			return StateSpeaking, nil
		case EventListenStarted:
			return StateListening, nil
		case EventListenStopped:
			return current, nil
		}
	case StateListening:
		switch event {
		case EventAgentSpeechStarted:
			return StateSpeaking, nil
		case EventListenStopped:
			return StateIdle, nil
		case EventListenStarted:
			return current, nil
		}
	case StateThinking:
		switch event {
		case EventReplyObserved:
			return StateSpeaking, nil
		}
	case StateSpeaking:
		switch event {
		case EventAudioFinished, EventInterrupted:
			return afterSpeech, nil
		case EventReplyObserved, EventAgentSpeechStarted:
			return current, nil
		}
	case StateError:
		switch event {
		case EventRecovered:
			return StateIdle, nil
		}
	default:
		return current, fmt.Errorf("fsm: unknown state %q", current)
	}
	return current, invalidTransition(current, event)
}

func invalidTransition(state State, event Event) error {
	return fmt.Errorf("%w: %s --(%s)--> ?", ErrInvalidTransition, state, event)
}

// ── Machine ─────────────────────────────────────────────────────────────────

// Observer is notified after every state change.
type Observer func(from, to State, event Event)

// Option configures a [Machine].
type Option func(*Machine)

// WithCaptureLive supplies the predicate that decides whether speaking ends
// in listening or idle.
func WithCaptureLive(fn func() bool) Option {
	return func(m *Machine) { m.captureLive = fn }
}

// WithRecorder installs a hook called for every applied transition,
// including self-transitions. Used for metrics.
func WithRecorder(fn func(from, to State, event Event)) Option {
	return func(m *Machine) { m.recorder = fn }
}

// Machine holds the current state. All methods are safe for concurrent use.
// Observers run synchronously inside Fire and must not call Fire themselves.
type Machine struct {
	captureLive func() bool
	recorder    func(from, to State, event Event)

	// fireMu serialises Fire so observers see changes in order.
	fireMu sync.Mutex

	mu        sync.Mutex
	state     State
	next      int
	observers map[int]Observer
	order     []int
}

// New returns a machine in [StateIdle].
func New(opts ...Option) *Machine {
	m := &Machine{state: StateIdle, observers: make(map[int]Observer)}
	for _, o := range opts {
		o(m)
	}
	return m
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Fire applies event. It returns the resulting state; a rejected event
// leaves the state unchanged and returns the error from [Transition].
func (m *Machine) Fire(event Event) (State, error) {
	m.fireMu.Lock()
	defer m.fireMu.Unlock()

	live := false
	if m.captureLive != nil {
		live = m.captureLive()
	}

	m.mu.Lock()
	from := m.state
	to, err := Transition(from, event, live)
	if err != nil {
		m.mu.Unlock()
		slog.Debug("fsm: transition rejected", "state", from, "event", event)
		return from, err
	}
	m.state = to
	var obs []Observer
	if to != from {
		obs = make([]Observer, 0, len(m.order))
		for _, id := range m.order {
			obs = append(obs, m.observers[id])
		}
	}
	rec := m.recorder
	m.mu.Unlock()

	if rec != nil {
		rec(from, to, event)
	}
	if to != from {
		slog.Debug("fsm: transition", "from", from, "to", to, "event", event)
		for _, fn := range obs {
			fn(from, to, event)
		}
	}
	return to, nil
}

// Subscribe registers fn for state changes and returns a function that
// removes it.
func (m *Machine) Subscribe(fn Observer) (unsubscribe func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	id := m.next
	m.observers[id] = fn
	m.order = append(m.order, id)
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.observers, id)
		for i, v := range m.order {
			if v == id {
				m.order = append(m.order[:i:i], m.order[i+1:]...)
				break
			}
		}
	}
}
