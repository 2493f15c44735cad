package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known fallback provider names per kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"tts": {"openai"},
}

// Defaults applied by [ApplyDefaults].
const (
	DefaultLogLevel       = LogInfo
	DefaultVoice          = "alloy"
	DefaultTurnDetection  = "server_vad"
	DefaultConversationID = "default"
	DefaultHistoryTurns   = 20

	DefaultItemAck      = 2 * time.Second
	DefaultReply        = 4 * time.Second
	DefaultWatchdog     = 8 * time.Second
	DefaultCaptureFlush = 25 * time.Millisecond
	DefaultPlaybackGap  = 5 * time.Millisecond
	DefaultPendingTTL   = 10 * time.Second

	DefaultBreakerFailures = 3
	DefaultBreakerCooldown = 30 * time.Second
	DefaultBreakerProbes   = 1
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills defaults and validates
// the result. Unknown keys are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills every zero field that has a default. Explicit values
// are left alone.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = DefaultLogLevel
	}
	if cfg.Realtime.Voice == "" {
		cfg.Realtime.Voice = DefaultVoice
	}
	if cfg.Realtime.TurnDetection.Type == "" {
		cfg.Realtime.TurnDetection.Type = DefaultTurnDetection
	}

	t := &cfg.Timeouts
	setDuration(&t.ItemAck, DefaultItemAck)
	setDuration(&t.Reply, DefaultReply)
	setDuration(&t.Watchdog, DefaultWatchdog)
	setDuration(&t.CaptureFlush, DefaultCaptureFlush)
	setDuration(&t.PlaybackGap, DefaultPlaybackGap)
	setDuration(&t.PendingTTL, DefaultPendingTTL)

	fb := &cfg.Fallback
	if fb.Voice == "" {
		fb.Voice = cfg.Realtime.Voice
	}
	if fb.SystemPrompt == "" {
		fb.SystemPrompt = cfg.Realtime.Instructions
	}
	if fb.HistoryTurns == 0 {
		fb.HistoryTurns = DefaultHistoryTurns
	}
	if fb.Breaker.MaxFailures == 0 {
		fb.Breaker.MaxFailures = DefaultBreakerFailures
	}
	setDuration(&fb.Breaker.Cooldown, DefaultBreakerCooldown)
	if fb.Breaker.Probes == 0 {
		fb.Breaker.Probes = DefaultBreakerProbes
	}

	if cfg.Transcript.ConversationID == "" {
		cfg.Transcript.ConversationID = DefaultConversationID
	}
}

func setDuration(d *time.Duration, def time.Duration) {
	if *d == 0 {
		*d = def
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Realtime.APIKey == "" && os.Getenv("OPENAI_API_KEY") == "" {
		slog.Warn("realtime.api_key is empty and OPENAI_API_KEY is unset; only fallback responders will answer")
	}

	td := cfg.Realtime.TurnDetection
	if td.Threshold < 0 || td.Threshold > 1 {
		errs = append(errs, fmt.Errorf("realtime.turn_detection.threshold %.2f is out of range [0, 1]", td.Threshold))
	}
	if td.PrefixPaddingMS < 0 {
		errs = append(errs, fmt.Errorf("realtime.turn_detection.prefix_padding_ms must not be negative"))
	}
	if td.SilenceDurationMS < 0 {
		errs = append(errs, fmt.Errorf("realtime.turn_detection.silence_duration_ms must not be negative"))
	}

	rc := cfg.Realtime.Reconnect
	if rc.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("realtime.reconnect.max_retries must not be negative"))
	}
	if rc.MaxBackoff > 0 && rc.Backoff > rc.MaxBackoff {
		errs = append(errs, fmt.Errorf("realtime.reconnect.backoff %s exceeds max_backoff %s", rc.Backoff, rc.MaxBackoff))
	}

	for _, d := range []struct {
		name string
		v    time.Duration
	}{
		{"item_ack", cfg.Timeouts.ItemAck},
		{"reply", cfg.Timeouts.Reply},
		{"watchdog", cfg.Timeouts.Watchdog},
		{"capture_flush", cfg.Timeouts.CaptureFlush},
		{"playback_gap", cfg.Timeouts.PlaybackGap},
		{"pending_ttl", cfg.Timeouts.PendingTTL},
	} {
		if d.v < 0 {
			errs = append(errs, fmt.Errorf("timeouts.%s must not be negative", d.name))
		}
	}

	if cfg.Audio.EnergyThreshold < 0 || cfg.Audio.EnergyThreshold > 1 {
		errs = append(errs, fmt.Errorf("audio.energy_threshold %.3f is out of range [0, 1]", cfg.Audio.EnergyThreshold))
	}

	errs = append(errs, validateEntries("llm", cfg.Fallback.LLM)...)
	errs = append(errs, validateEntries("tts", cfg.Fallback.TTS)...)
	if len(cfg.Fallback.TTS) > 0 && len(cfg.Fallback.LLM) == 0 {
		slog.Warn("fallback.tts is configured without fallback.llm; it will never be used")
	}
	if cfg.Fallback.HistoryTurns < 0 {
		errs = append(errs, fmt.Errorf("fallback.history_turns must not be negative"))
	}
	if cfg.Fallback.Breaker.MaxFailures < 0 || cfg.Fallback.Breaker.Probes < 0 {
		errs = append(errs, fmt.Errorf("fallback.breaker counts must not be negative"))
	}

	return errors.Join(errs...)
}

// validateEntries checks a fallback list: names are required and unique
// within the list, and unknown names are logged.
func validateEntries(kind string, entries []ProviderEntry) []error {
	var errs []error
	seen := make(map[string]int, len(entries))
	for i, e := range entries {
		prefix := fmt.Sprintf("fallback.%s[%d]", kind, i)
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		key := e.Name + "/" + e.Model
		if prev, ok := seen[key]; ok {
			errs = append(errs, fmt.Errorf("%s %q is a duplicate of fallback.%s[%d]", prefix, key, kind, prev))
		}
		seen[key] = i
		validateProviderName(kind, e.Name)
	}
	return errs
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or a third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
