// Package mock provides a scripted llm.Provider for tests.
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/voxlink/pkg/provider/llm"
)

// Provider is a mock implementation of llm.Provider. Zero values for the
// response fields return zero values and nil errors.
type Provider struct {
	mu sync.Mutex

	// StreamChunks is emitted, in order, by StreamCompletion.
	StreamChunks []llm.Chunk

	// StreamErr, if non-nil, is returned by StreamCompletion instead of a
	// channel.
	StreamErr error

	// CompleteResponse is returned by Complete.
	CompleteResponse *llm.CompletionResponse

	// CompleteErr, if non-nil, is returned by Complete.
	CompleteErr error

	// StreamCalls and CompleteCalls record every request in order.
	StreamCalls   []llm.CompletionRequest
	CompleteCalls []llm.CompletionRequest
}

var _ llm.Provider = (*Provider)(nil)

// StreamCompletion records the call and returns a channel that emits
// StreamChunks.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	p.mu.Lock()
	p.StreamCalls = append(p.StreamCalls, req)
	if p.StreamErr != nil {
		err := p.StreamErr
		p.mu.Unlock()
		return nil, err
	}
	chunks := slices.Clone(p.StreamChunks)
	p.mu.Unlock()

	next := func() (llm.Chunk, bool) {
		if len(chunks) == 0 {
			return llm.Chunk{}, false
		}
		c := chunks[0]
		chunks = chunks[1:]
		return c, true
	}
	return llm.Relay(ctx, next, func() error { return nil }), nil
}

// Complete records the call and returns CompleteResponse, CompleteErr.
func (p *Provider) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CompleteCalls = append(p.CompleteCalls, req)
	return p.CompleteResponse, p.CompleteErr
}

// CompleteCount returns len(CompleteCalls) under the lock.
func (p *Provider) CompleteCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.CompleteCalls)
}

// LastComplete returns the most recent Complete request.
func (p *Provider) LastComplete() (llm.CompletionRequest, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.CompleteCalls) == 0 {
		return llm.CompletionRequest{}, false
	}
	return p.CompleteCalls[len(p.CompleteCalls)-1], true
}
