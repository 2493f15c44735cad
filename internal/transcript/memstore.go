package transcript

import (
	"context"
	"sync"
	"time"
)

var _ Store = (*MemStore)(nil)

// MemStore is an in-memory [Store]. The zero value is ready to use.
type MemStore struct {
	mu      sync.RWMutex
	entries map[string][]Entry

	// now is replaceable in tests.
	now func() time.Time
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{entries: make(map[string][]Entry)}
}

// Append implements [Store.Append].
func (s *MemStore) Append(_ context.Context, e Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = s.clock()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entries == nil {
		s.entries = make(map[string][]Entry)
	}
	s.entries[e.ConversationID] = append(s.entries[e.ConversationID], e)
	return nil
}

// Recent implements [Store.Recent].
func (s *MemStore) Recent(_ context.Context, conversationID string, limit int) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.entries[conversationID]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return append([]Entry{}, all...), nil
}

// Ping implements [Store.Ping].
func (s *MemStore) Ping(context.Context) error { return nil }

func (s *MemStore) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}
