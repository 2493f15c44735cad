package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newGroup(cfg FallbackConfig) *FallbackGroup[string] {
	g := NewFallbackGroup("primary", "primary", cfg)
	g.Add("secondary", "secondary")
	return g
}

func TestDo(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		failing  map[string]bool
		wantName string
		wantErr  error
	}{
		{name: "primary answers", wantName: "primary"},
		{name: "falls over to secondary", failing: map[string]bool{"primary": true}, wantName: "secondary"},
		{name: "all fail", failing: map[string]bool{"primary": true, "secondary": true}, wantErr: ErrAllFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			g := newGroup(FallbackConfig{})
			got, name, err := Do(t.Context(), g, func(_ context.Context, v string) (string, error) {
				if tt.failing[v] {
					return "", errTest
				}
				return "reply from " + v, nil
			})
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) || !errors.Is(err, errTest) {
					t.Fatalf("err = %v, want %v wrapping the last error", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if name != tt.wantName || got != "reply from "+tt.wantName {
				t.Errorf("got (%q, %q), want %q", got, name, tt.wantName)
			}
		})
	}
}

func TestDo_SkipsOpenBreaker(t *testing.T) {
	t.Parallel()
	g := newGroup(FallbackConfig{CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1, Cooldown: time.Hour}})

	primaryCalls := 0
	call := func(_ context.Context, v string) (string, error) {
		if v == "primary" {
			primaryCalls++
			return "", errTest
		}
		return v, nil
	}
	for range 3 {
		if _, name, err := Do(t.Context(), g, call); err != nil || name != "secondary" {
			t.Fatalf("Do = %q, %v", name, err)
		}
	}
	if primaryCalls != 1 {
		t.Errorf("primary called %d times, want 1", primaryCalls)
	}
	if g.Breaker("primary").State() != StateOpen {
		t.Error("primary breaker should be open")
	}
	if g.Breaker("missing") != nil {
		t.Error("unknown name should have no breaker")
	}
}

func TestDo_CancellationIsNotAFailure(t *testing.T) {
	t.Parallel()
	g := newGroup(FallbackConfig{CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1}})

	ctx, cancel := context.WithCancel(t.Context())
	var tried []string
	_, _, err := Do(ctx, g, func(ctx context.Context, v string) (string, error) {
		tried = append(tried, v)
		cancel()
		return "", ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(tried) != 1 {
		t.Errorf("tried = %v, want only the primary", tried)
	}
	if g.Breaker("primary").State() != StateClosed {
		t.Error("cancellation must not trip the breaker")
	}
}

func TestDo_OnAttempt(t *testing.T) {
	t.Parallel()
	var attempts []string
	g := newGroup(FallbackConfig{OnAttempt: func(name string, err error) {
		outcome := "ok"
		if err != nil {
			outcome = "fail"
		}
		attempts = append(attempts, name+"="+outcome)
	}})
	_, _, _ = Do(t.Context(), g, func(_ context.Context, v string) (string, error) {
		if v == "primary" {
			return "", errTest
		}
		return v, nil
	})
	if len(attempts) != 2 || attempts[0] != "primary=fail" || attempts[1] != "secondary=ok" {
		t.Errorf("attempts = %v", attempts)
	}
}

func TestFallbackGroup_Names(t *testing.T) {
	t.Parallel()
	g := newGroup(FallbackConfig{})
	g.Add("third", "third")
	names := g.Names()
	if len(names) != 3 || names[0] != "primary" || names[2] != "third" {
		t.Errorf("names = %v", names)
	}
}
