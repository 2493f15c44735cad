// Package ack correlates locally sent conversation turns with the remote
// side's acknowledgement and reply.
//
// Both waits follow the same shape: subscribe to the relevant inbound events,
// poll the session's history view on an interval, and resolve on whichever
// fires first, bounded by a timeout. A wait also resolves false when its
// context is cancelled or when the session it was started against is
// replaced in the [session.Registry]. Every handler and timer is released on
// resolution.
package ack

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/voxlink/internal/session"
	"github.com/MrWong99/voxlink/pkg/realtime"
)

const (
	defaultItemAckTimeout = 2 * time.Second
	defaultReplyTimeout   = 4 * time.Second
	defaultPollInterval   = 100 * time.Millisecond
)

// Option configures a [Tracker].
type Option func(*Tracker)

// WithItemAckTimeout overrides the 2 s bound on [Tracker.WaitForItemAck].
func WithItemAckTimeout(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.itemTimeout = d
		}
	}
}

// WithReplyTimeout overrides the 4 s bound on [Tracker.WaitForAssistantReply].
func WithReplyTimeout(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.replyTimeout = d
		}
	}
}

// WithPollInterval sets how often the history view is polled. Default 100 ms.
func WithPollInterval(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.pollInterval = d
		}
	}
}

// WithObserver installs a hook called after every wait with the wait kind
// ("item_ack" or "reply"), the outcome and the elapsed time.
func WithObserver(fn func(kind string, ok bool, elapsed time.Duration)) Option {
	return func(t *Tracker) { t.observe = fn }
}

// Tracker runs ack and reply waits against the registry's current session.
// It is safe for concurrent use; each call owns its own wait.
type Tracker struct {
	reg          *session.Registry
	itemTimeout  time.Duration
	replyTimeout time.Duration
	pollInterval time.Duration
	observe      func(kind string, ok bool, elapsed time.Duration)
}

// New returns a tracker bound to reg.
func New(reg *session.Registry, opts ...Option) *Tracker {
	t := &Tracker{
		reg:          reg,
		itemTimeout:  defaultItemAckTimeout,
		replyTimeout: defaultReplyTimeout,
		pollInterval: defaultPollInterval,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// ── ResponseRef ──────────────────────────────────────────────────────────────

// ResponseRef holds the id of the response a turn is waiting on. The id is
// usually learned from response.created after the wait has begun, so the
// reference is shared and updated concurrently.
type ResponseRef struct {
	mu sync.Mutex
	id string
}

// Set records id.
func (r *ResponseRef) Set(id string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.id = id
}

// setIfEmpty records id unless one is already known.
func (r *ResponseRef) setIfEmpty(id string) {
	if r == nil || id == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.id == "" {
		r.id = id
	}
}

// ID returns the recorded id or "".
func (r *ResponseRef) ID() string {
	if r == nil {
		return ""
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.id
}

// matches reports whether id belongs to the tracked response. With no id
// recorded every response matches; completions of an unrelated response can
// then be attributed to this turn.
func (r *ResponseRef) matches(id string) bool {
	want := r.ID()
	return want == "" || id == "" || want == id
}

// ── Snapshots ────────────────────────────────────────────────────────────────

// KnownIDs returns the ids of the current session's history items. Take it
// before sending so the ack wait can tell new items from old ones.
func (t *Tracker) KnownIDs() map[string]bool {
	return KnownIDs(realtime.Items(t.reg.Current()))
}

// AssistantSnapshot returns the current session's assistant items. Take it
// before requesting a response.
func (t *Tracker) AssistantSnapshot() []realtime.Item {
	return AssistantItems(realtime.Items(t.reg.Current()))
}

// KnownIDs returns the set of non-empty ids in items.
func KnownIDs(items []realtime.Item) map[string]bool {
	ids := make(map[string]bool, len(items))
	for _, it := range items {
		if it.ID != "" {
			ids[it.ID] = true
		}
	}
	return ids
}

// AssistantItems filters items to the assistant role.
func AssistantItems(items []realtime.Item) []realtime.Item {
	var out []realtime.Item
	for _, it := range items {
		if it.Role == realtime.RoleAssistant {
			out = append(out, it)
		}
	}
	return out
}

// ── Item acknowledgement ─────────────────────────────────────────────────────

// WaitForItemAck waits up to 2 s for the remote side to acknowledge a user
// item carrying expectedText. A user item matches when its id is not in
// knownIDs and its normalised text equals expectedText. An empty
// expectedText, or an item with no text yet, matches by arrival alone.
// An item without an id matches on text only.
//
// It returns false on timeout; callers are expected to continue
// optimistically.
func (t *Tracker) WaitForItemAck(ctx context.Context, expectedText string, knownIDs map[string]bool) bool {
	start := time.Now()
	snap := t.reg.Snapshot()
	if snap.Session == nil {
		slog.Debug("ack: no session for item ack")
		t.record("item_ack", false, start)
		return false
	}

	target := realtime.Normalize(expectedText)
	match := func(it realtime.Item) bool {
		if it.Role != realtime.RoleUser {
			return false
		}
		if it.ID != "" && knownIDs[it.ID] {
			return false
		}
		text := realtime.Normalize(it.Text())
		if it.ID == "" {
			return target != "" && text == target
		}
		return target == "" || text == "" || text == target
	}

	w := newWait(snap.Session)
	w.on(realtime.EventItemCreated, func(ev realtime.ServerEvent) bool {
		return ev.Item != nil && match(*ev.Item)
	})
	poll := func() bool {
		for _, it := range realtime.Items(snap.Session) {
			if match(it) {
				return true
			}
		}
		return false
	}

	ok, reason := w.run(ctx, snap, t.itemTimeout, t.pollInterval, poll)
	slog.Debug("ack: item ack resolved", "ok", ok, "reason", reason, "elapsed", time.Since(start))
	t.record("item_ack", ok, start)
	return ok
}

// ── Assistant reply ──────────────────────────────────────────────────────────

// WaitForAssistantReply waits up to 4 s for a reply after a response was
// requested. prior is the assistant snapshot taken before the request; ref
// correlates completion events and may be nil. It resolves true on the first
// of:
//
//   - a new assistant item with non-empty content
//   - a previously empty assistant item that gained content
//   - response.done or response.completed for the tracked response
//   - an audio-bearing output item or audio delta for the tracked response
func (t *Tracker) WaitForAssistantReply(ctx context.Context, prior []realtime.Item, ref *ResponseRef) bool {
	start := time.Now()
	snap := t.reg.Snapshot()
	if snap.Session == nil {
		slog.Debug("ack: no session for reply wait")
		t.record("reply", false, start)
		return false
	}

	before := make(map[string]bool, len(prior))
	for _, it := range prior {
		if it.ID != "" {
			before[it.ID] = it.HasContent()
		}
	}
	isReply := func(it realtime.Item) bool {
		if it.Role != realtime.RoleAssistant || !it.HasContent() {
			return false
		}
		hadContent, seen := before[it.ID]
		return !seen || !hadContent
	}

	w := newWait(snap.Session)
	itemEvent := func(ev realtime.ServerEvent) bool {
		return ev.Item != nil && isReply(*ev.Item)
	}
	w.on(realtime.EventItemCreated, itemEvent)
	w.on(realtime.EventOutputItemAdded, itemEvent)
	w.on(realtime.EventOutputItemDone, itemEvent)
	w.on(realtime.EventResponseCreated, func(ev realtime.ServerEvent) bool {
		ref.setIfEmpty(ev.ResponseRef())
		return false
	})
	w.on(realtime.EventAudioDelta, func(ev realtime.ServerEvent) bool {
		return ref.matches(ev.ResponseRef())
	})
	completed := func(ev realtime.ServerEvent) bool {
		return ref.matches(ev.ResponseRef())
	}
	w.on(realtime.EventResponseDone, completed)
	w.on(realtime.EventResponseCompleted, completed)

	poll := func() bool {
		for _, it := range realtime.Items(snap.Session) {
			if isReply(it) {
				return true
			}
		}
		return false
	}

	ok, reason := w.run(ctx, snap, t.replyTimeout, t.pollInterval, poll)
	slog.Debug("ack: reply wait resolved", "ok", ok, "reason", reason, "response_id", ref.ID(), "elapsed", time.Since(start))
	t.record("reply", ok, start)
	return ok
}

func (t *Tracker) record(kind string, ok bool, start time.Time) {
	if t.observe != nil {
		t.observe(kind, ok, time.Since(start))
	}
}
