// Package llm defines the text completion backend used when the realtime
// session cannot answer a turn.
//
// The fallback path replays the conversation as plain chat messages and asks
// a completion backend for the reply text, which may then be synthesised to
// speech. Implementations must be safe for concurrent use. Channels returned
// by StreamCompletion are closed by the implementation when the stream ends
// or the context is cancelled.
package llm

import (
	"context"
	"errors"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// FinishReasonError marks a stream chunk that carries a mid-stream error in
// its Text field.
const FinishReasonError = "error"

// Message is one chat message.
type Message struct {
	Role    string
	Content string
}

// Usage holds token accounting returned by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest is the input to a completion. Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the conversation, oldest first. The last message is
	// normally the user turn being answered.
	Messages []Message

	// SystemPrompt is prepended as a system message when non-empty.
	SystemPrompt string

	// Temperature in [0, 2]. Zero uses the backend default.
	Temperature float64

	// MaxTokens caps the reply. Zero uses the backend default.
	MaxTokens int
}

// ErrNoMessages is returned for a request without messages.
var ErrNoMessages = errors.New("llm: request has no messages")

// Conversation returns the request messages with the system prompt, if any,
// as the first entry.
func (r CompletionRequest) Conversation() ([]Message, error) {
	if len(r.Messages) == 0 {
		return nil, ErrNoMessages
	}
	out := make([]Message, 0, len(r.Messages)+1)
	if r.SystemPrompt != "" {
		out = append(out, Message{Role: RoleSystem, Content: r.SystemPrompt})
	}
	return append(out, r.Messages...), nil
}

// Chunk is one fragment of a streamed completion.
type Chunk struct {
	Text string
	// FinishReason is set on the final chunk ("stop", "length", or
	// [FinishReasonError]).
	FinishReason string
}

// CompletionResponse is the result of a non-streaming completion.
type CompletionResponse struct {
	Content string
	Usage   Usage
}

// Provider is a text completion backend.
type Provider interface {
	// StreamCompletion starts a completion and returns its chunks. The error
	// return is non-nil only if the stream could not start; later failures
	// arrive as a chunk with [FinishReasonError]. The channel is never nil
	// when err is nil.
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)

	// Complete runs a completion to the end.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// Collect drains a chunk stream into its text. A chunk with
// [FinishReasonError] ends collection with that error.
func Collect(ctx context.Context, ch <-chan Chunk) (string, error) {
	var out []byte
	for {
		select {
		case <-ctx.Done():
			return string(out), ctx.Err()
		case c, ok := <-ch:
			if !ok {
				return string(out), nil
			}
			if c.FinishReason == FinishReasonError {
				return string(out), &StreamError{Message: c.Text}
			}
			out = append(out, c.Text...)
		}
	}
}

// Relay moves a backend stream onto a chunk channel. next yields chunks
// until it reports false; done is then called once and a non-nil result is
// forwarded as a [FinishReasonError] chunk. done also runs when ctx ends
// the relay early. The channel is closed when the
// stream ends or ctx is cancelled.
func Relay(ctx context.Context, next func() (Chunk, bool), done func() error) <-chan Chunk {
	ch := make(chan Chunk, 32)
	go func() {
		defer close(ch)
		emit := func(c Chunk) bool {
			select {
			case ch <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}
		for {
			c, ok := next()
			if !ok {
				break
			}
			if !emit(c) {
				_ = done()
				return
			}
		}
		if err := done(); err != nil {
			emit(Chunk{FinishReason: FinishReasonError, Text: err.Error()})
		}
	}()
	return ch
}

// StreamError is a failure reported inside a completion stream.
type StreamError struct {
	Message string
}

func (e *StreamError) Error() string { return "llm: stream: " + e.Message }
