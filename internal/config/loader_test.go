package config_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/voxlink/internal/config"
)

func TestValidate_Rejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		yaml    string
		wantSub string
	}{
		{
			name:    "log level",
			yaml:    "server:\n  log_level: bananas\n",
			wantSub: "server.log_level",
		},
		{
			name:    "threshold",
			yaml:    "realtime:\n  turn_detection:\n    threshold: 1.5\n",
			wantSub: "threshold",
		},
		{
			name:    "negative silence",
			yaml:    "realtime:\n  turn_detection:\n    silence_duration_ms: -1\n",
			wantSub: "silence_duration_ms",
		},
		{
			name:    "backoff above max",
			yaml:    "realtime:\n  reconnect:\n    backoff: 5s\n    max_backoff: 1s\n",
			wantSub: "max_backoff",
		},
		{
			name:    "negative timeout",
			yaml:    "timeouts:\n  reply: -2s\n",
			wantSub: "timeouts.reply",
		},
		{
			name:    "energy threshold",
			yaml:    "audio:\n  energy_threshold: 2\n",
			wantSub: "audio.energy_threshold",
		},
		{
			name:    "nameless responder",
			yaml:    "fallback:\n  llm:\n    - model: gpt-4o\n",
			wantSub: "fallback.llm[0].name",
		},
		{
			name:    "duplicate responder",
			yaml:    "fallback:\n  llm:\n    - {name: openai, model: a}\n    - {name: openai, model: a}\n",
			wantSub: "duplicate",
		},
		{
			name:    "negative history",
			yaml:    "fallback:\n  history_turns: -3\n",
			wantSub: "history_turns",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error %q should mention %q", err, tt.wantSub)
			}
		})
	}
}

func TestValidate_JoinsAllErrors(t *testing.T) {
	t.Parallel()

	_, err := config.LoadFromReader(strings.NewReader(`
server:
  log_level: loud
audio:
  energy_threshold: -1
`))
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	for _, sub := range []string{"server.log_level", "audio.energy_threshold"} {
		if !strings.Contains(err.Error(), sub) {
			t.Errorf("error should mention %q, got: %v", sub, err)
		}
	}
}

func TestValidate_SameProviderDifferentModels(t *testing.T) {
	t.Parallel()

	_, err := config.LoadFromReader(strings.NewReader(`
fallback:
  llm:
    - {name: openai, model: gpt-4o}
    - {name: openai, model: gpt-4o-mini}
`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
