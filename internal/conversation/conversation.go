// Package conversation wires the voice pipeline to the realtime session.
//
// A [Client] attaches to every session the registry publishes, maps protocol
// events onto the conversational state machine, decodes assistant audio into
// the playback queue and forwards captured microphone frames. Text turns go
// through [Client.SendText], which tracks acknowledgements, requests a
// response under the recovery watchdog and falls back to a non-streaming
// completion when the realtime path cannot answer.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/voxlink/internal/ack"
	"github.com/MrWong99/voxlink/internal/bridge"
	"github.com/MrWong99/voxlink/internal/fsm"
	"github.com/MrWong99/voxlink/internal/guard"
	"github.com/MrWong99/voxlink/internal/observe"
	"github.com/MrWong99/voxlink/internal/recovery"
	"github.com/MrWong99/voxlink/internal/transcript"
	"github.com/MrWong99/voxlink/pkg/audio"
	"github.com/MrWong99/voxlink/pkg/audio/playback"
	"github.com/MrWong99/voxlink/pkg/provider/llm"
	"github.com/MrWong99/voxlink/pkg/provider/tts"
	"github.com/MrWong99/voxlink/pkg/realtime"
)

const (
	defaultHistoryTurns  = 20
	defaultExpiryTick    = time.Second
	transcriptQueueDepth = 64
)

// Capture is the part of the capture engine the client drives.
type Capture interface {
	Initialize(ctx context.Context) error
	Start() error
	Stop() error
	SetEnabled(enabled bool)
	Active() bool
}

// Player is the local playback queue.
type Player interface {
	Enqueue(seg playback.Segment)
	Stop()
	Running() bool
	OnEnded(fn func())
}

// Config holds per-conversation settings.
type Config struct {
	// ConversationID keys transcript entries. Default: "default".
	ConversationID string

	// Voice and Instructions are sent with every response.create.
	Voice        string
	Instructions string

	// SystemPrompt is given to the fallback responder.
	SystemPrompt string

	// SpeechVoice is used when the fallback reply is synthesised.
	SpeechVoice tts.Voice

	// HistoryTurns is how many transcript entries the fallback responder
	// sees. Default: 20.
	HistoryTurns int
}

// Deps are the collaborators of a [Client]. Bridge, Machine, Tracker,
// Recovery, Guard, Playback and Pending are required.
type Deps struct {
	Bridge   *bridge.Bridge
	Machine  *fsm.Machine
	Tracker  *ack.Tracker
	Recovery *recovery.Controller
	Guard    *guard.Guard
	Playback Player
	Pending  *ack.PendingQueue

	// Capture is optional; without it listening is unavailable.
	Capture Capture

	// Responder answers turns the realtime path could not. Optional.
	Responder llm.Provider

	// Speech synthesises fallback replies. Optional.
	Speech tts.Provider

	// Transcript persists the conversation. Optional.
	Transcript transcript.Store

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Reply is an assistant answer surfaced to the host.
type Reply struct {
	Text   string
	Source transcript.Source
}

// Client is the conversation orchestrator. All methods are safe for
// concurrent use.
type Client struct {
	cfg  Config
	deps Deps
	met  *observe.Metrics

	records chan transcript.Entry

	// speech normalises fallback synthesis to the wire format so the
	// playback queue sees a single format regardless of backend.
	speech *audio.Converter

	mu         sync.Mutex
	closed     bool
	sess       realtime.Session
	listener   realtime.ListenerID
	responseID string
	audioDone  bool
	reply      []byte
	onReply    func(Reply)
	onError    func(error)
}

// New validates deps and attaches the client to the registry. A session
// already registered is attached immediately.
func New(cfg Config, deps Deps) (*Client, error) {
	var errs []error
	if deps.Bridge == nil {
		errs = append(errs, errors.New("bridge is required"))
	}
	if deps.Machine == nil {
		errs = append(errs, errors.New("machine is required"))
	}
	if deps.Tracker == nil {
		errs = append(errs, errors.New("tracker is required"))
	}
	if deps.Recovery == nil {
		errs = append(errs, errors.New("recovery controller is required"))
	}
	if deps.Guard == nil {
		errs = append(errs, errors.New("guard is required"))
	}
	if deps.Playback == nil {
		errs = append(errs, errors.New("playback is required"))
	}
	if deps.Pending == nil {
		errs = append(errs, errors.New("pending queue is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("conversation: new: %w", err)
	}

	if cfg.ConversationID == "" {
		cfg.ConversationID = "default"
	}
	if cfg.HistoryTurns <= 0 {
		cfg.HistoryTurns = defaultHistoryTurns
	}
	met := deps.Metrics
	if met == nil {
		met = observe.DefaultMetrics()
	}

	c := &Client{
		cfg:     cfg,
		deps:    deps,
		met:     met,
		records: make(chan transcript.Entry, transcriptQueueDepth),
		speech:  &audio.Converter{Target: audio.Wire},
	}
	deps.Playback.OnEnded(c.onPlaybackEnded)

	reg := deps.Bridge.Registry()
	reg.OnChange(c.onSessionChange)
	if s := reg.Current(); s != nil {
		c.onSessionChange(s, reg.Generation())
	}
	return c, nil
}

// OnReply registers fn to receive assistant replies. It replaces any earlier
// registration.
func (c *Client) OnReply(fn func(Reply)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onReply = fn
}

// OnError registers fn to receive critical protocol errors and failed turns.
func (c *Client) OnError(fn func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = fn
}

// Reconfigure replaces the voice and instructions sent with later
// response.create requests. Empty values keep the current setting.
func (c *Client) Reconfigure(voice, instructions string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if voice != "" {
		c.cfg.Voice = voice
	}
	if instructions != "" {
		c.cfg.Instructions = instructions
	}
}

// State returns the current conversational state.
func (c *Client) State() fsm.State {
	return c.deps.Machine.State()
}

// Run persists transcript entries and expires stale pending sends until ctx
// is cancelled. Entries still queued at shutdown are written with a fresh
// short-lived context.
func (c *Client) Run(ctx context.Context) error {
	tick := time.NewTicker(defaultExpiryTick)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			c.drainRecords()
			return nil
		case e := <-c.records:
			c.persist(ctx, e)
		case <-tick.C:
			for _, p := range c.deps.Pending.Expire() {
				slog.Debug("conversation: pending send expired", "text_len", len(p.Text), "age", time.Since(p.Created))
			}
		}
	}
}

// Close detaches from the current session, stops playback and capture and
// fails every pending send. It is idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	sess, id := c.sess, c.listener
	c.sess = nil
	c.mu.Unlock()

	if sess != nil {
		sess.Off(realtime.EventAny, id)
		c.met.ActiveSessions.Add(context.Background(), -1)
	}
	c.deps.Playback.Stop()
	c.deps.Pending.FailAll(ErrClosed)

	var errs []error
	if c.deps.Capture != nil {
		if err := c.deps.Capture.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("conversation: stop capture: %w", err))
		}
	}
	slog.Info("conversation: closed", "conversation_id", c.cfg.ConversationID)
	return errors.Join(errs...)
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// fire applies ev and logs rejected transitions at debug. Rejections are
// expected when protocol events race local ones.
func (c *Client) fire(ev fsm.Event) {
	if _, err := c.deps.Machine.Fire(ev); err != nil {
		slog.Debug("conversation: transition rejected", "event", string(ev), "err", err)
	}
}

func (c *Client) emitReply(r Reply) {
	c.mu.Lock()
	fn := c.onReply
	c.mu.Unlock()
	if fn != nil {
		fn(r)
	}
}

func (c *Client) emitError(err error) {
	c.mu.Lock()
	fn := c.onError
	c.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

// ── Transcript ───────────────────────────────────────────────────────────────

// record queues e for persistence without blocking the caller, which may be
// a transport reader.
func (c *Client) record(role, text string, source transcript.Source, itemID string) {
	if c.deps.Transcript == nil || text == "" {
		return
	}
	e := transcript.Entry{
		ConversationID: c.cfg.ConversationID,
		Role:           role,
		Text:           text,
		Source:         source,
		ItemID:         itemID,
		Timestamp:      time.Now(),
	}
	select {
	case c.records <- e:
	default:
		slog.Warn("conversation: transcript queue full, dropping entry", "role", role, "source", source)
	}
}

func (c *Client) persist(ctx context.Context, e transcript.Entry) {
	if err := c.deps.Transcript.Append(ctx, e); err != nil {
		slog.Warn("conversation: append transcript", "err", err, "role", e.Role, "source", e.Source)
	}
}

func (c *Client) drainRecords() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		select {
		case e := <-c.records:
			c.persist(ctx, e)
		default:
			return
		}
	}
}
