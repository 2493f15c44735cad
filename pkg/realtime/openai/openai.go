// Package openai connects to the OpenAI Realtime API and exposes the
// connection as a [realtime.Session].
//
// It establishes a WebSocket connection to the Realtime endpoint and
// exchanges JSON events. Outbound events are written as text frames; every
// inbound event updates the session's conversation history and is then
// dispatched to subscribed handlers. When the connection drops the session
// emits a [realtime.EventTransportClosed] pseudo-event and reports
// [realtime.StateClosed].
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/voxlink/pkg/realtime"
	"github.com/coder/websocket"
)

var (
	_ realtime.Session     = (*Session)(nil)
	_ realtime.HistoryView = (*Session)(nil)
)

const (
	defaultModel        = "gpt-4o-realtime-preview"
	defaultBaseURL      = "wss://api.openai.com/v1/realtime"
	defaultWriteTimeout = 5 * time.Second

	// Audio deltas are large; the library default of 32 KiB is too small.
	readLimit = 16 << 20
)

// ErrClosed is returned when writing to a closed session.
var ErrClosed = errors.New("openai: session closed")

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Dialer.
type Option func(*Dialer)

// WithModel sets the OpenAI model used for sessions.
func WithModel(model string) Option {
	return func(d *Dialer) {
		if model != "" {
			d.model = model
		}
	}
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(d *Dialer) {
		if url != "" {
			d.baseURL = url
		}
	}
}

// WithHTTPClient sets the HTTP client used for the WebSocket handshake.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Dialer) { d.httpClient = c }
}

// WithWriteTimeout bounds each outbound frame write. Default 5 s.
func WithWriteTimeout(t time.Duration) Option {
	return func(d *Dialer) {
		if t > 0 {
			d.writeTimeout = t
		}
	}
}

// ── Dialer ─────────────────────────────────────────────────────────────────────

// SessionConfig is sent as the initial session.update.
type SessionConfig struct {
	Instructions  string
	Voice         string
	TurnDetection *realtime.TurnDetection
	// TranscriptionModel enables input audio transcription when non-empty.
	TranscriptionModel string
}

// Dialer opens Realtime sessions.
type Dialer struct {
	apiKey       string
	model        string
	baseURL      string
	httpClient   *http.Client
	writeTimeout time.Duration
}

// New creates a Dialer with the given API key and options.
func New(apiKey string, opts ...Option) *Dialer {
	d := &Dialer{
		apiKey:       apiKey,
		model:        defaultModel,
		baseURL:      defaultBaseURL,
		writeTimeout: defaultWriteTimeout,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Connect dials a new session and sends the initial session.update. The
// returned session is open and already dispatching inbound events.
func (d *Dialer) Connect(ctx context.Context, cfg SessionConfig) (*Session, error) {
	wsURL := fmt.Sprintf("%s?model=%s", d.baseURL, d.model)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPClient: d.httpClient,
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + d.apiKey},
			"OpenAI-Beta":   []string{"realtime=v1"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai: dial: %w", err)
	}
	conn.SetReadLimit(readLimit)

	sessCtx, sessCancel := context.WithCancel(context.Background())
	s := &Session{
		conn:         conn,
		writeTimeout: d.writeTimeout,
		ctx:          sessCtx,
		cancel:       sessCancel,
		done:         make(chan struct{}),
	}
	s.state.Store(int32(realtime.StateOpen))

	params := realtime.SessionParams{
		Instructions:      cfg.Instructions,
		Voice:             cfg.Voice,
		Modalities:        []string{"audio", "text"},
		InputAudioFormat:  "pcm16",
		OutputAudioFormat: "pcm16",
		TurnDetection:     cfg.TurnDetection,
	}
	if cfg.TranscriptionModel != "" {
		params.InputAudioTranscription = &realtime.Transcription{Model: cfg.TranscriptionModel}
	}
	if err := s.SendEvent(ctx, realtime.NewSessionUpdate(params)); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "session update failed")
		return nil, fmt.Errorf("openai: session update: %w", err)
	}

	go s.receiveLoop()

	slog.Info("openai: realtime session connected", "model", d.model)
	return s, nil
}

// ── Session ────────────────────────────────────────────────────────────────────

// Session is one live Realtime connection.
type Session struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	hub          realtime.Hub
	history      realtime.History
	state        atomic.Int32

	mu     sync.Mutex
	errVal error

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// Send implements [realtime.Session]. Failures are logged at debug level.
func (s *Session) Send(ev realtime.Event) bool {
	if err := s.SendEvent(s.ctx, ev); err != nil {
		slog.Debug("openai: send failed", "type", ev.EventType(), "err", err)
		return false
	}
	return true
}

// SendEvent marshals ev and writes it as a text frame.
func (s *Session) SendEvent(ctx context.Context, ev realtime.Event) error {
	if s.State() != realtime.StateOpen {
		return ErrClosed
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("openai: marshal %s: %w", ev.EventType(), err)
	}
	wctx, cancel := context.WithTimeout(ctx, s.writeTimeout)
	defer cancel()
	if err := s.conn.Write(wctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("openai: write %s: %w", ev.EventType(), err)
	}
	return nil
}

// On implements [realtime.Session].
func (s *Session) On(eventType string, h realtime.Handler) realtime.ListenerID {
	return s.hub.On(eventType, h)
}

// Off implements [realtime.Session].
func (s *Session) Off(eventType string, id realtime.ListenerID) {
	s.hub.Off(eventType, id)
}

// State implements [realtime.Session].
func (s *Session) State() realtime.ConnState {
	return realtime.ConnState(s.state.Load())
}

// Items implements [realtime.HistoryView].
func (s *Session) Items() []realtime.Item {
	return s.history.Items()
}

// Done is closed once the receive loop has exited.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns the error that terminated the connection, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// Close terminates the session. Idempotent.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.state.Store(int32(realtime.StateClosing))
		s.cancel()
		_ = s.conn.Close(websocket.StatusNormalClosure, "session closed")
		s.state.Store(int32(realtime.StateClosed))
	})
	return nil
}

// receiveLoop reads events from the WebSocket and dispatches them. It emits
// the transport-closed pseudo-event exactly once when the connection ends.
func (s *Session) receiveLoop() {
	defer close(s.done)

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			s.terminate(err)
			return
		}

		var ev realtime.ServerEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			slog.Debug("openai: dropping malformed event", "err", err)
			continue
		}
		if ev.Type == realtime.EventError && ev.Error != nil {
			slog.Debug("openai: server error event", "code", ev.Error.Code, "message", ev.Error.Message)
		}
		s.history.Apply(ev)
		s.hub.Emit(ev)
	}
}

func (s *Session) terminate(err error) {
	local := s.ctx.Err() != nil
	s.state.Store(int32(realtime.StateClosed))
	if !local {
		s.mu.Lock()
		if s.errVal == nil {
			s.errVal = err
		}
		s.mu.Unlock()
		slog.Warn("openai: realtime connection lost", "err", err)
	}
	msg := "closed"
	if !local {
		msg = err.Error()
	}
	s.hub.Emit(realtime.ServerEvent{
		Type:  realtime.EventTransportClosed,
		Error: &realtime.ErrorDetail{Type: "transport", Message: msg},
	})
}
