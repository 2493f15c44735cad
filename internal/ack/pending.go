package ack

import (
	"errors"
	"sync"
	"time"

	"github.com/MrWong99/voxlink/pkg/realtime"
)

var (
	// ErrExpired resolves a pending send whose acknowledgement did not arrive
	// before its expiry.
	ErrExpired = errors.New("ack: pending send expired")

	// ErrSessionInvalidated resolves every pending send when the session it
	// was sent on is replaced or torn down.
	ErrSessionInvalidated = errors.New("ack: session invalidated")
)

const defaultPendingTTL = 10 * time.Second

// PendingSend is an outbound item awaiting acknowledgement.
type PendingSend struct {
	Text    string
	Created time.Time
	Expires time.Time

	once   sync.Once
	done   chan struct{}
	err    error
	itemID string
}

// Done is closed when the send is acknowledged, expires or fails.
func (p *PendingSend) Done() <-chan struct{} { return p.done }

// Err returns nil for an acknowledged send and the failure otherwise. It is
// only meaningful after Done is closed.
func (p *PendingSend) Err() error {
	<-p.done
	return p.err
}

// ItemID returns the id the remote side assigned, if acknowledged.
func (p *PendingSend) ItemID() string {
	<-p.done
	return p.itemID
}

func (p *PendingSend) finish(itemID string, err error) {
	p.once.Do(func() {
		p.itemID = itemID
		p.err = err
		close(p.done)
	})
}

// PendingQueue tracks outbound items in send order until they are
// acknowledged, expire or are failed together.
type PendingQueue struct {
	ttl time.Duration
	now func() time.Time

	mu    sync.Mutex
	items []*PendingSend
}

// NewPendingQueue returns a queue whose entries expire after ttl. A
// non-positive ttl selects 10 s.
func NewPendingQueue(ttl time.Duration) *PendingQueue {
	if ttl <= 0 {
		ttl = defaultPendingTTL
	}
	return &PendingQueue{ttl: ttl, now: time.Now}
}

// Add enqueues a send for text.
func (q *PendingQueue) Add(text string) *PendingSend {
	now := q.now()
	p := &PendingSend{
		Text:    text,
		Created: now,
		Expires: now.Add(q.ttl),
		done:    make(chan struct{}),
	}
	q.mu.Lock()
	q.items = append(q.items, p)
	q.mu.Unlock()
	return p
}

// Ack resolves the oldest pending send matching it: by normalised text, or
// the oldest entry when either side has no text. It returns the resolved
// send or nil.
func (q *PendingQueue) Ack(it realtime.Item) *PendingSend {
	text := realtime.Normalize(it.Text())
	q.mu.Lock()
	idx := -1
	for i, p := range q.items {
		want := realtime.Normalize(p.Text)
		if want == "" || text == "" || want == text {
			idx = i
			break
		}
	}
	if idx < 0 {
		q.mu.Unlock()
		return nil
	}
	p := q.items[idx]
	q.items = append(q.items[:idx:idx], q.items[idx+1:]...)
	q.mu.Unlock()

	p.finish(it.ID, nil)
	return p
}

// Expire removes and fails every entry past its expiry.
func (q *PendingQueue) Expire() []*PendingSend {
	now := q.now()
	q.mu.Lock()
	var expired, keep []*PendingSend
	for _, p := range q.items {
		if now.After(p.Expires) {
			expired = append(expired, p)
		} else {
			keep = append(keep, p)
		}
	}
	q.items = keep
	q.mu.Unlock()

	for _, p := range expired {
		p.finish("", ErrExpired)
	}
	return expired
}

// FailAll removes and fails every entry with err.
func (q *PendingQueue) FailAll(err error) int {
	q.mu.Lock()
	items := q.items
	q.items = nil
	q.mu.Unlock()

	for _, p := range items {
		p.finish("", err)
	}
	return len(items)
}

// Remove drops p without resolving it as acknowledged; it is failed with
// [ErrExpired] if still pending.
func (q *PendingQueue) Remove(p *PendingSend) {
	q.mu.Lock()
	for i, v := range q.items {
		if v == p {
			q.items = append(q.items[:i:i], q.items[i+1:]...)
			break
		}
	}
	q.mu.Unlock()
	p.finish("", ErrExpired)
}

// Len returns the number of pending entries.
func (q *PendingQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
