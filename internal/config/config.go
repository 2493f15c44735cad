// Package config provides the configuration schema, loader, watcher and
// fallback provider registry for voxlink.
package config

import (
	"time"

	"github.com/MrWong99/voxlink/pkg/realtime"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Realtime   RealtimeConfig   `yaml:"realtime"`
	Timeouts   TimeoutsConfig   `yaml:"timeouts"`
	Audio      AudioConfig      `yaml:"audio"`
	Fallback   FallbackConfig   `yaml:"fallback"`
	Transcript TranscriptConfig `yaml:"transcript"`
}

// ServerConfig holds the HTTP listener (metrics and health) and logging.
type ServerConfig struct {
	// ListenAddr is the TCP address for /metrics, /healthz and /readyz.
	// Empty disables the HTTP server.
	ListenAddr string `yaml:"listen_addr"`

	LogLevel LogLevel `yaml:"log_level"`
}

// RealtimeConfig describes the remote realtime session.
type RealtimeConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`

	// Voice is sent with session.update and every response.create.
	Voice string `yaml:"voice"`

	// Instructions is the session-level system prompt.
	Instructions string `yaml:"instructions"`

	// TranscriptionModel enables input audio transcription when set.
	TranscriptionModel string `yaml:"transcription_model"`

	TurnDetection TurnDetectionConfig `yaml:"turn_detection"`
	Reconnect     ReconnectConfig     `yaml:"reconnect"`
}

// TurnDetectionConfig mirrors the server VAD settings of session.update.
type TurnDetectionConfig struct {
	Type              string  `yaml:"type"`
	Threshold         float64 `yaml:"threshold"`
	PrefixPaddingMS   int     `yaml:"prefix_padding_ms"`
	SilenceDurationMS int     `yaml:"silence_duration_ms"`

	// CreateResponse lets the server answer on its own after speech stops.
	// Nil means true.
	CreateResponse *bool `yaml:"create_response"`
}

// Wire converts the config block to its protocol shape.
func (t TurnDetectionConfig) Wire() realtime.TurnDetection {
	create := true
	if t.CreateResponse != nil {
		create = *t.CreateResponse
	}
	return realtime.TurnDetection{
		Type:              t.Type,
		Threshold:         t.Threshold,
		PrefixPaddingMS:   t.PrefixPaddingMS,
		SilenceDurationMS: t.SilenceDurationMS,
		CreateResponse:    realtime.Bool(create),
	}
}

// ReconnectConfig tunes transport drop recovery. Zero values take the
// reconnector defaults.
type ReconnectConfig struct {
	MaxRetries int           `yaml:"max_retries"`
	Backoff    time.Duration `yaml:"backoff"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// TimeoutsConfig overrides the built-in waits. Durations use Go syntax
// ("2s", "250ms").
type TimeoutsConfig struct {
	ItemAck      time.Duration `yaml:"item_ack"`
	Reply        time.Duration `yaml:"reply"`
	Watchdog     time.Duration `yaml:"watchdog"`
	CaptureFlush time.Duration `yaml:"capture_flush"`
	PlaybackGap  time.Duration `yaml:"playback_gap"`

	// PendingTTL bounds how long an unacknowledged text send is kept.
	PendingTTL time.Duration `yaml:"pending_ttl"`
}

// AudioConfig selects local devices.
type AudioConfig struct {
	// Source and Sink are PulseAudio device names. Empty or "default"
	// select the server defaults.
	Source string `yaml:"source"`
	Sink   string `yaml:"sink"`

	// EnergyThreshold is the RMS level above which a capture chunk counts
	// as voiced. Zero keeps the engine default.
	EnergyThreshold float64 `yaml:"energy_threshold"`

	// Disabled starts with voice offline; text still works.
	Disabled bool `yaml:"disabled"`
}

// FallbackConfig configures the non-streaming responder chain used when the
// realtime session cannot answer.
type FallbackConfig struct {
	// LLM lists responders in preference order.
	LLM []ProviderEntry `yaml:"llm"`

	// TTS lists speech backends in preference order. Empty leaves fallback
	// replies text-only.
	TTS []ProviderEntry `yaml:"tts"`

	// Voice is the TTS voice for fallback replies. Defaults to the realtime
	// voice.
	Voice string `yaml:"voice"`

	// SystemPrompt defaults to the realtime instructions.
	SystemPrompt string `yaml:"system_prompt"`

	// HistoryTurns is how many transcript entries are replayed to the
	// responder.
	HistoryTurns int `yaml:"history_turns"`

	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig tunes the circuit breaker around each fallback entry.
type BreakerConfig struct {
	MaxFailures int           `yaml:"max_failures"`
	Cooldown    time.Duration `yaml:"cooldown"`
	Probes      int           `yaml:"probes"`
}

// ProviderEntry is the common configuration block shared by fallback
// providers. The Name field is used to look up the constructor in the
// [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "anthropic").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered above.
	Options map[string]any `yaml:"options"`
}

// TranscriptConfig selects where conversation turns are stored.
type TranscriptConfig struct {
	// PostgresDSN stores turns in PostgreSQL. Empty keeps them in memory.
	PostgresDSN string `yaml:"postgres_dsn"`

	// ConversationID groups entries of one conversation.
	ConversationID string `yaml:"conversation_id"`
}
