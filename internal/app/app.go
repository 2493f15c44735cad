// Package app wires the voxlink subsystems into a running application.
//
// The App struct owns the full lifecycle: New builds every component from
// the config, Run connects the realtime session and drives the background
// loops, and Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithConnector,
// WithSink, WithAcquirer, ...). When an option is not provided, New creates
// the real implementation from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxlink/internal/ack"
	"github.com/MrWong99/voxlink/internal/bridge"
	"github.com/MrWong99/voxlink/internal/config"
	"github.com/MrWong99/voxlink/internal/conversation"
	"github.com/MrWong99/voxlink/internal/fsm"
	"github.com/MrWong99/voxlink/internal/guard"
	"github.com/MrWong99/voxlink/internal/health"
	"github.com/MrWong99/voxlink/internal/observe"
	"github.com/MrWong99/voxlink/internal/recovery"
	"github.com/MrWong99/voxlink/internal/session"
	"github.com/MrWong99/voxlink/internal/transcript"
	"github.com/MrWong99/voxlink/pkg/audio"
	"github.com/MrWong99/voxlink/pkg/audio/capture"
	"github.com/MrWong99/voxlink/pkg/audio/playback"
	"github.com/MrWong99/voxlink/pkg/audio/pulse"
	"github.com/MrWong99/voxlink/pkg/provider/llm"
	"github.com/MrWong99/voxlink/pkg/provider/tts"
	"github.com/MrWong99/voxlink/pkg/realtime"
	rtopenai "github.com/MrWong99/voxlink/pkg/realtime/openai"
)

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *config.Registry
	met       *observe.Metrics

	// Injected or built in New.
	connector session.Connector
	sink      playback.Sink
	acquirer  capture.Acquirer
	store     transcript.Store
	responder llm.Provider
	speech    tts.Provider

	reg         *session.Registry
	bridge      *bridge.Bridge
	machine     *fsm.Machine
	watch       *fsm.CompletionWatch
	tracker     *ack.Tracker
	pending     *ack.PendingQueue
	controller  *recovery.Controller
	reconnector *recovery.Reconnector
	devices     *capture.Devices
	capture     *capture.Engine
	guard       *guard.Guard
	queue       *playback.Queue
	client      *conversation.Client

	// live holds the hot-reloadable session settings.
	liveMu sync.Mutex
	live   config.RealtimeConfig

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithConnector replaces the OpenAI Realtime dialer.
func WithConnector(c session.Connector) Option {
	return func(a *App) { a.connector = c }
}

// WithSink replaces the PulseAudio speaker.
func WithSink(s playback.Sink) Option {
	return func(a *App) { a.sink = s }
}

// WithAcquirer replaces the PulseAudio microphone acquirer.
func WithAcquirer(acq capture.Acquirer) Option {
	return func(a *App) { a.acquirer = acq }
}

// WithTranscriptStore injects a store instead of creating one from config.
func WithTranscriptStore(s transcript.Store) Option {
	return func(a *App) { a.store = s }
}

// WithResponder replaces the fallback LLM chain built from config.
func WithResponder(p llm.Provider) Option {
	return func(a *App) { a.responder = p }
}

// WithSpeech replaces the fallback TTS chain built from config.
func WithSpeech(p tts.Provider) Option {
	return func(a *App) { a.speech = p }
}

// WithMetrics sets the instruments every component reports to. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.met = m }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. providers resolves
// the fallback entries of cfg and may be nil when no fallback is configured
// or both chains are injected.
//
// New does not touch the network or audio devices except to open the
// speaker and the transcript database; Run connects the session.
func New(ctx context.Context, cfg *config.Config, providers *config.Registry, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
		live:      cfg.Realtime,
	}
	for _, o := range opts {
		o(a)
	}
	if a.met == nil {
		a.met = observe.DefaultMetrics()
	}

	// ── 1. Transcript store ──────────────────────────────────────────────
	if err := a.initTranscript(ctx); err != nil {
		return nil, fmt.Errorf("app: init transcript: %w", err)
	}

	// ── 2. Fallback chains ───────────────────────────────────────────────
	if err := a.initFallback(); err != nil {
		a.runClosers()
		return nil, fmt.Errorf("app: init fallback: %w", err)
	}

	// ── 3. Audio endpoints ───────────────────────────────────────────────
	if err := a.initAudio(); err != nil {
		a.runClosers()
		return nil, fmt.Errorf("app: init audio: %w", err)
	}

	// ── 4. Session, state and recovery ───────────────────────────────────
	a.initSession()

	// ── 5. Conversation ──────────────────────────────────────────────────
	if err := a.initConversation(); err != nil {
		a.runClosers()
		return nil, fmt.Errorf("app: init conversation: %w", err)
	}

	if cfg.Audio.Disabled {
		if err := a.guard.Disable(); err != nil {
			slog.Warn("app: initial disable incomplete", "err", err)
		}
	}
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) initTranscript(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	dsn := a.cfg.Transcript.PostgresDSN
	if dsn == "" {
		a.store = transcript.NewMemStore()
		slog.Info("app: transcripts kept in memory")
		return nil
	}
	store, closeFn, err := transcript.Open(ctx, dsn)
	if err != nil {
		return err
	}
	a.store = store
	a.closers = append(a.closers, func() error {
		closeFn()
		return nil
	})
	slog.Info("app: transcripts stored in postgres")
	return nil
}

func (a *App) initFallback() error {
	fb := a.cfg.Fallback
	breaker := resilienceConfig(fb.Breaker, a.met)

	if a.responder == nil && len(fb.LLM) > 0 {
		p, err := buildLLMChain(a.providers, fb.LLM, breaker)
		if err != nil {
			return err
		}
		a.responder = p
	}
	if a.speech == nil && len(fb.TTS) > 0 {
		p, err := buildTTSChain(a.providers, fb.TTS, breaker)
		if err != nil {
			return err
		}
		a.speech = p
	}
	return nil
}

func (a *App) initAudio() error {
	if a.sink == nil {
		spk, err := pulse.NewSpeaker(a.cfg.Audio.Sink)
		if err != nil {
			return err
		}
		a.sink = spk
		a.closers = append(a.closers, spk.Close)
	}
	if a.acquirer == nil {
		a.acquirer = &pulse.Acquirer{Source: a.cfg.Audio.Source}
	}
	a.queue = playback.New(a.sink, playback.WithGap(a.cfg.Timeouts.PlaybackGap))
	a.devices = capture.NewDevices(a.acquirer)
	return nil
}

func (a *App) initSession() {
	bg := context.Background()

	a.reg = session.NewRegistry()
	a.bridge = bridge.New(a.reg)

	if a.connector == nil {
		a.connector = a.dialer()
	}

	a.machine = fsm.New(
		fsm.WithCaptureLive(func() bool { return a.capture != nil && a.capture.Active() }),
		fsm.WithRecorder(func(from, to fsm.State, ev fsm.Event) {
			a.met.RecordTransition(bg, string(from), string(to), string(ev))
		}),
	)
	a.watch = fsm.NewCompletionWatch(a.machine, a.queue)

	a.tracker = ack.New(a.reg,
		ack.WithItemAckTimeout(a.cfg.Timeouts.ItemAck),
		ack.WithReplyTimeout(a.cfg.Timeouts.Reply),
		ack.WithObserver(func(kind string, ok bool, elapsed time.Duration) {
			a.met.RecordAck(bg, kind, ok, elapsed)
		}),
	)
	a.pending = ack.NewPendingQueue(a.cfg.Timeouts.PendingTTL)

	a.controller = recovery.NewController(a.bridge, a.connector,
		recovery.WithWatchdog(a.cfg.Timeouts.Watchdog),
		recovery.WithObserver(func(outcome string) { a.met.RecordRecovery(bg, outcome) }),
	)

	rc := a.cfg.Realtime.Reconnect
	a.reconnector = recovery.NewReconnector(recovery.ReconnectorConfig{
		Connector:  a.connector,
		Registry:   a.reg,
		MaxRetries: rc.MaxRetries,
		Backoff:    rc.Backoff,
		MaxBackoff: rc.MaxBackoff,
		OnReconnect: func(realtime.Session) {
			slog.Info("app: realtime session re-established")
		},
		OnGiveUp: func(err error) {
			slog.Error("app: realtime session lost", "err", err)
			if _, ferr := a.machine.Fire(fsm.EventFail); ferr != nil {
				slog.Debug("app: fail transition rejected", "err", ferr)
			}
		},
	})
}

func (a *App) initConversation() error {
	capOpts := []capture.Option{
		capture.WithFlushInterval(a.cfg.Timeouts.CaptureFlush),
		capture.WithBlocker(blockerFunc(func() bool { return a.guard.Blocked() })),
	}
	if th := a.cfg.Audio.EnergyThreshold; th > 0 {
		capOpts = append(capOpts, capture.WithEnergyThreshold(th))
	}
	a.capture = capture.New(a.devices, func(f audio.Frame) { a.client.ForwardFrame(f) }, capOpts...)

	a.guard = guard.New(a.devices,
		guard.WithCapture(a.capture),
		guard.WithSurfaces(a.queue),
		guard.WithSender(a.bridge),
		guard.WithMachine(a.machine),
		guard.WithTurnDetection(func() realtime.TurnDetection {
			a.liveMu.Lock()
			defer a.liveMu.Unlock()
			return a.live.TurnDetection.Wire()
		}),
		guard.WithContextFlusher(func(text string) error { return a.client.DeliverContext(text) }),
	)

	fb := a.cfg.Fallback
	client, err := conversation.New(conversation.Config{
		ConversationID: a.cfg.Transcript.ConversationID,
		Voice:          a.cfg.Realtime.Voice,
		Instructions:   a.cfg.Realtime.Instructions,
		SystemPrompt:   fb.SystemPrompt,
		SpeechVoice:    tts.Voice{ID: fb.Voice},
		HistoryTurns:   fb.HistoryTurns,
	}, conversation.Deps{
		Bridge:     a.bridge,
		Machine:    a.machine,
		Tracker:    a.tracker,
		Recovery:   a.controller,
		Guard:      a.guard,
		Playback:   a.queue,
		Pending:    a.pending,
		Capture:    a.capture,
		Responder:  a.responder,
		Speech:     a.speech,
		Transcript: a.store,
		Metrics:    a.met,
	})
	if err != nil {
		return err
	}
	a.client = client
	return nil
}

// dialer adapts the OpenAI Realtime dialer to a connector that always uses
// the latest hot-reloaded session settings.
func (a *App) dialer() session.Connector {
	rc := a.cfg.Realtime
	var opts []rtopenai.Option
	if rc.Model != "" {
		opts = append(opts, rtopenai.WithModel(rc.Model))
	}
	if rc.BaseURL != "" {
		opts = append(opts, rtopenai.WithBaseURL(rc.BaseURL))
	}
	d := rtopenai.New(apiKey(rc.APIKey), opts...)

	return session.ConnectorFunc(func(ctx context.Context) (realtime.Session, error) {
		a.liveMu.Lock()
		live := a.live
		a.liveMu.Unlock()

		td := live.TurnDetection.Wire()
		if a.guard != nil && a.guard.Blocked() {
			td.CreateResponse = realtime.Bool(false)
		}
		s, err := d.Connect(ctx, rtopenai.SessionConfig{
			Instructions:       live.Instructions,
			Voice:              live.Voice,
			TurnDetection:      &td,
			TranscriptionModel: live.TranscriptionModel,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	})
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Client returns the conversation orchestrator.
func (a *App) Client() *conversation.Client { return a.client }

// Machine returns the conversational state machine.
func (a *App) Machine() *fsm.Machine { return a.machine }

// Checkers returns the readiness probes for the health handler.
func (a *App) Checkers() []health.Checker {
	checks := []health.Checker{health.SessionCheck(a.bridge)}
	if p, ok := a.store.(interface{ Ping(context.Context) error }); ok {
		checks = append(checks, health.PingCheck("transcript", p))
	}
	return checks
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run connects the realtime session and blocks until ctx is cancelled. A
// failed first connection is not fatal: the reconnector keeps trying and
// text turns use the fallback chain meanwhile.
func (a *App) Run(ctx context.Context) error {
	a.watch.Attach()

	if _, err := a.reconnector.Connect(ctx); err != nil {
		slog.Warn("app: realtime session unavailable, retrying in background", "err", err)
		a.reconnector.NotifyDisconnect()
	}
	a.reconnector.Monitor(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.client.Run(gctx) })

	slog.Info("app running",
		"conversation_id", a.cfg.Transcript.ConversationID,
		"fallback", a.responder != nil,
		"voice_disabled", a.guard.Blocked(),
	)
	<-ctx.Done()

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// ApplyConfig hot-applies the reloadable part of a new config: voice,
// instructions and turn detection go out as a session.update and are used
// for later connections and responses. Log level changes are the caller's
// business; everything else is logged as needing a restart.
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	for _, section := range d.RestartRequired {
		slog.Warn("app: config change needs a restart", "section", section)
	}
	if !d.SessionChanged() {
		return
	}

	a.liveMu.Lock()
	a.live.Voice = new.Realtime.Voice
	a.live.Instructions = new.Realtime.Instructions
	a.live.TurnDetection = new.Realtime.TurnDetection
	a.liveMu.Unlock()

	a.client.Reconfigure(d.Session.Voice, d.Session.Instructions)

	params := d.Session
	if params.TurnDetection != nil && a.guard.Blocked() {
		params.TurnDetection.CreateResponse = realtime.Bool(false)
	}
	if !a.bridge.Send(realtime.NewSessionUpdate(params)) {
		slog.Info("app: session settings saved for the next connection")
		return
	}
	slog.Info("app: session settings updated",
		"voice", d.VoiceChanged,
		"instructions", d.InstructionsChanged,
		"turn_detection", d.TurnDetectionChanged,
	)
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems. It respects the context deadline: if
// ctx expires before all closers finish, remaining closers are skipped and
// the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		a.watch.Detach()
		var errs []error
		if err := a.client.Close(); err != nil {
			errs = append(errs, err)
		}
		if err := a.reconnector.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("close session: %w", err))
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				errs = append(errs, ctx.Err())
				shutdownErr = errors.Join(errs...)
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		shutdownErr = errors.Join(errs...)
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

func (a *App) runClosers() {
	for _, c := range a.closers {
		if err := c(); err != nil {
			slog.Warn("closer error", "err", err)
		}
	}
	a.closers = nil
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// blockerFunc adapts a function to [capture.Blocker].
type blockerFunc func() bool

func (f blockerFunc) Blocked() bool { return f() }
