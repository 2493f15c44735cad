package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every entry of a [FallbackGroup] failed or
// was skipped by its breaker.
var ErrAllFailed = errors.New("resilience: all responders failed")

// FallbackConfig configures the breaker created for each entry.
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig

	// OnAttempt, if set, is called after each entry is tried with the entry
	// name and the call's error (nil on success, [ErrCircuitOpen] when
	// skipped).
	OnAttempt func(name string, err error)
}

type entry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup holds responders of one type in preference order, each
// behind its own [CircuitBreaker].
type FallbackGroup[T any] struct {
	cfg     FallbackConfig
	entries []entry[T]
}

// NewFallbackGroup creates a group whose first entry is primary.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	g := &FallbackGroup[T]{cfg: cfg}
	g.Add(primaryName, primary)
	return g
}

// Add appends a responder tried after every entry added before it. Add must
// not be called concurrently with Do.
func (g *FallbackGroup[T]) Add(name string, value T) {
	bc := g.cfg.CircuitBreaker
	bc.Name = name
	g.entries = append(g.entries, entry[T]{name: name, value: value, breaker: NewCircuitBreaker(bc)})
}

// Names lists entry names in preference order.
func (g *FallbackGroup[T]) Names() []string {
	names := make([]string, len(g.entries))
	for i, e := range g.entries {
		names[i] = e.name
	}
	return names
}

// Breaker returns the breaker guarding the named entry, or nil.
func (g *FallbackGroup[T]) Breaker(name string) *CircuitBreaker {
	for _, e := range g.entries {
		if e.name == name {
			return e.breaker
		}
	}
	return nil
}

// Do runs fn against each entry until one returns nil and reports the name
// of the entry that succeeded. Cancellation of ctx stops the walk and is
// returned as-is, without counting against the entry being tried.
func Do[T any, R any](ctx context.Context, g *FallbackGroup[T], fn func(context.Context, T) (R, error)) (R, string, error) {
	var (
		zero    R
		lastErr error
	)
	for i := range g.entries {
		e := &g.entries[i]
		if err := ctx.Err(); err != nil {
			return zero, "", err
		}

		var (
			result    R
			cancelled bool
		)
		err := e.breaker.Execute(func() error {
			var callErr error
			result, callErr = fn(ctx, e.value)
			if callErr != nil && ctx.Err() != nil {
				// Caller gave up; not the responder's fault.
				cancelled = true
				return nil
			}
			return callErr
		})
		if cancelled {
			return zero, "", ctx.Err()
		}
		if g.cfg.OnAttempt != nil {
			g.cfg.OnAttempt(e.name, err)
		}
		if err == nil {
			return result, e.name, nil
		}

		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("resilience: skipping responder, circuit open", "responder", e.name)
		} else {
			slog.Warn("resilience: responder failed, trying next", "responder", e.name, "err", err)
		}
	}
	return zero, "", fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
