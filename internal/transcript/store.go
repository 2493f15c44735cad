// Package transcript keeps a durable log of what was said in a conversation:
// user text and voice transcriptions, assistant replies from the realtime
// session and replies produced by the fallback path.
//
// The log feeds the fallback responder with recent context and is available
// for inspection after the fact. Two backends exist: [MemStore] for tests and
// ephemeral runs and [PostgresStore] for persistence.
package transcript

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Source records which path produced an entry.
type Source string

const (
	// SourceText is text typed by the user.
	SourceText Source = "text"
	// SourceVoice is a server-side transcription of user speech.
	SourceVoice Source = "voice"
	// SourceRealtime is an assistant reply from the realtime session.
	SourceRealtime Source = "realtime"
	// SourceFallback is an assistant reply from the non-streaming path.
	SourceFallback Source = "fallback"
	// SourceContext is background context injected by the host.
	SourceContext Source = "context"
)

// ErrEmptyText is returned when an entry carries no text.
var ErrEmptyText = errors.New("transcript: entry text is empty")

// Entry is one line of the transcript.
type Entry struct {
	ConversationID string
	// Role is "user", "assistant" or "system".
	Role   string
	Text   string
	Source Source
	// ItemID is the realtime conversation item, when known.
	ItemID    string
	Timestamp time.Time
}

// Validate checks the fields every backend requires.
func (e Entry) Validate() error {
	var errs []error
	if strings.TrimSpace(e.Text) == "" {
		errs = append(errs, ErrEmptyText)
	}
	if e.Role == "" {
		errs = append(errs, errors.New("transcript: role is required"))
	}
	return errors.Join(errs...)
}

// Store persists transcript entries. Implementations are safe for concurrent
// use.
type Store interface {
	// Append records e. A zero Timestamp is set to the current time.
	Append(ctx context.Context, e Entry) error

	// Recent returns up to limit of the newest entries of a conversation,
	// oldest first. limit <= 0 returns all.
	Recent(ctx context.Context, conversationID string, limit int) ([]Entry, error)

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
}
