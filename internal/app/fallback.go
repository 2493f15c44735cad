package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/MrWong99/voxlink/internal/config"
	"github.com/MrWong99/voxlink/internal/observe"
	"github.com/MrWong99/voxlink/internal/resilience"
	"github.com/MrWong99/voxlink/pkg/provider/llm"
	"github.com/MrWong99/voxlink/pkg/provider/tts"
)

// resilienceConfig turns the breaker block into a fallback config that
// reports every attempt and breaker transition.
func resilienceConfig(b config.BreakerConfig, met *observe.Metrics) resilience.FallbackConfig {
	return resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures: b.MaxFailures,
			Cooldown:    b.Cooldown,
			Probes:      b.Probes,
			OnStateChange: func(name string, from, to resilience.State) {
				slog.Warn("app: fallback breaker changed", "responder", name, "from", from, "to", to)
			},
		},
		OnAttempt: func(name string, err error) {
			status := "ok"
			switch {
			case errors.Is(err, resilience.ErrCircuitOpen):
				status = "skipped"
			case err != nil:
				status = "error"
			}
			met.RecordFallback(context.Background(), name, status)
		},
	}
}

// buildLLMChain creates every entry through the registry and groups them
// in order. Entries that fail to build are skipped with a warning; the
// chain fails only when none could be built.
func buildLLMChain(reg *config.Registry, entries []config.ProviderEntry, cfg resilience.FallbackConfig) (llm.Provider, error) {
	if reg == nil {
		return nil, errors.New("no provider registry")
	}
	var chain *resilience.LLMFallback
	var errs []error
	for _, e := range entries {
		p, err := reg.CreateLLM(e)
		if err != nil {
			slog.Warn("app: skipping fallback responder", "name", config.EntryLabel(e), "err", err)
			errs = append(errs, err)
			continue
		}
		label := config.EntryLabel(e)
		if chain == nil {
			chain = resilience.NewLLMFallback(p, label, cfg)
		} else {
			chain.AddFallback(label, p)
		}
		slog.Info("app: fallback responder ready", "name", label)
	}
	if chain == nil {
		return nil, fmt.Errorf("no usable llm responder: %w", errors.Join(errs...))
	}
	return chain, nil
}

// buildTTSChain is the speech counterpart of [buildLLMChain].
func buildTTSChain(reg *config.Registry, entries []config.ProviderEntry, cfg resilience.FallbackConfig) (tts.Provider, error) {
	if reg == nil {
		return nil, errors.New("no provider registry")
	}
	var chain *resilience.TTSFallback
	var errs []error
	for _, e := range entries {
		p, err := reg.CreateTTS(e)
		if err != nil {
			slog.Warn("app: skipping fallback speech", "name", config.EntryLabel(e), "err", err)
			errs = append(errs, err)
			continue
		}
		label := config.EntryLabel(e)
		if chain == nil {
			chain = resilience.NewTTSFallback(p, label, cfg)
		} else {
			chain.AddFallback(label, p)
		}
	}
	if chain == nil {
		return nil, fmt.Errorf("no usable tts backend: %w", errors.Join(errs...))
	}
	return chain, nil
}

// apiKey falls back to OPENAI_API_KEY when the config leaves it empty.
func apiKey(configured string) string {
	if configured != "" {
		return configured
	}
	return os.Getenv("OPENAI_API_KEY")
}
