package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/MrWong99/voxlink/internal/config"
	"github.com/MrWong99/voxlink/internal/fsm"
)

type fakeAssistant struct {
	mu      sync.Mutex
	calls   []string
	texts   []string
	sendErr error
}

func (f *fakeAssistant) note(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeAssistant) SendText(_ context.Context, text string) error {
	f.mu.Lock()
	f.texts = append(f.texts, text)
	f.mu.Unlock()
	f.note("send")
	return f.sendErr
}
func (f *fakeAssistant) StartListening(context.Context) error { f.note("listen"); return nil }
func (f *fakeAssistant) StopListening() error                 { f.note("stop"); return nil }
func (f *fakeAssistant) Interrupt()                           { f.note("interrupt") }
func (f *fakeAssistant) AddContext(text string) error         { f.note("context:" + text); return nil }
func (f *fakeAssistant) Disable() error                       { f.note("disable"); return nil }
func (f *fakeAssistant) Enable() error                        { f.note("enable"); return nil }
func (f *fakeAssistant) State() fsm.State                     { return fsm.StateIdle }

func TestConsole_Handle(t *testing.T) {
	t.Parallel()

	tests := []struct {
		line     string
		wantCall string
		wantOut  string
		wantQuit bool
	}{
		{line: "hello there", wantCall: "send"},
		{line: "/listen", wantCall: "listen"},
		{line: "/stop", wantCall: "stop"},
		{line: "/interrupt", wantCall: "interrupt"},
		{line: "/context  the user likes tea ", wantCall: "context:the user likes tea"},
		{line: "/mute", wantCall: "disable"},
		{line: "/unmute", wantCall: "enable"},
		{line: "/state", wantOut: "state: idle"},
		{line: "/context", wantOut: "usage: /context"},
		{line: "/bogus", wantOut: "unknown command /bogus"},
		{line: "/help", wantOut: "/listen"},
		{line: "   "},
		{line: "/quit", wantQuit: true},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			t.Parallel()
			fa := &fakeAssistant{}
			var out bytes.Buffer
			c := newConsole(fa, &out)

			if quit := c.handle(t.Context(), tt.line); quit != tt.wantQuit {
				t.Errorf("quit = %v, want %v", quit, tt.wantQuit)
			}
			if tt.wantCall != "" && (len(fa.calls) != 1 || fa.calls[0] != tt.wantCall) {
				t.Errorf("calls = %v, want [%s]", fa.calls, tt.wantCall)
			}
			if tt.wantCall == "" && len(fa.calls) != 0 {
				t.Errorf("unexpected calls %v", fa.calls)
			}
			if tt.wantOut != "" && !strings.Contains(out.String(), tt.wantOut) {
				t.Errorf("output = %q, want it to contain %q", out.String(), tt.wantOut)
			}
		})
	}
}

func TestConsole_ReportsErrors(t *testing.T) {
	t.Parallel()

	fa := &fakeAssistant{sendErr: errors.New("no session")}
	var out bytes.Buffer
	c := newConsole(fa, &out)
	c.handle(t.Context(), "hi")

	if !strings.Contains(out.String(), "error: no session") {
		t.Errorf("output = %q", out.String())
	}
}

func TestConsole_RunStopsAtQuit(t *testing.T) {
	t.Parallel()

	fa := &fakeAssistant{}
	c := newConsole(fa, &bytes.Buffer{})
	c.run(t.Context(), strings.NewReader("one\ntwo\n/quit\nthree\n"))

	if len(fa.texts) != 2 || fa.texts[0] != "one" || fa.texts[1] != "two" {
		t.Errorf("texts = %v, want [one two]", fa.texts)
	}
}

func TestConsole_RunStopsAtEOF(t *testing.T) {
	t.Parallel()

	fa := &fakeAssistant{}
	c := newConsole(fa, &bytes.Buffer{})
	c.run(t.Context(), strings.NewReader("only\n"))

	if len(fa.texts) != 1 {
		t.Errorf("texts = %v", fa.texts)
	}
}

func TestSlogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   config.LogLevel
		want string
	}{
		{config.LogDebug, "DEBUG"},
		{config.LogInfo, "INFO"},
		{config.LogWarn, "WARN"},
		{config.LogError, "ERROR"},
		{"", "INFO"},
	}
	for _, tt := range tests {
		if got := slogLevel(tt.in).String(); got != tt.want {
			t.Errorf("slogLevel(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestOptDuration(t *testing.T) {
	t.Parallel()

	opts := map[string]any{"timeout": "20s", "bad": "soon", "num": 5}
	if got := optDuration(opts, "timeout"); got.Seconds() != 20 {
		t.Errorf("timeout = %v", got)
	}
	for _, key := range []string{"bad", "num", "missing"} {
		if got := optDuration(opts, key); got != 0 {
			t.Errorf("optDuration(%q) = %v, want 0", key, got)
		}
	}
	if got := optString(nil, "x"); got != "" {
		t.Errorf("optString(nil) = %q", got)
	}
}

func TestRegisterBuiltinProviders(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	llmNames := reg.Names(config.KindLLM)
	for _, want := range []string{"openai", "anthropic", "ollama", "gemini"} {
		found := false
		for _, n := range llmNames {
			found = found || n == want
		}
		if !found {
			t.Errorf("llm %q not registered; have %v", want, llmNames)
		}
	}
	if tts := reg.Names(config.KindTTS); len(tts) != 1 || tts[0] != "openai" {
		t.Errorf("tts names = %v", tts)
	}
}
