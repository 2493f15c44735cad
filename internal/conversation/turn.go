package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MrWong99/voxlink/internal/ack"
	"github.com/MrWong99/voxlink/internal/bridge"
	"github.com/MrWong99/voxlink/internal/fsm"
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
	pathRealtime = "realtime"
	pathFallback = "fallback"
)

// SendText runs one text turn: the user item is created, the machine moves
// to thinking, the item acknowledgement is awaited (continuing optimistically
// on timeout) and a response is requested under the recovery watchdog.
//
// When the realtime session cannot take the turn (no transport, rejected
// send, exhausted recreation or a session replaced mid-turn) the reply comes
// from the fallback responder instead. Only a failed fallback drives the
// machine to error.
func (c *Client) SendText(ctx context.Context, text string) (err error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyText
	}
	if c.isClosed() {
		return ErrClosed
	}

	start := time.Now()
	path := pathRealtime
	ctx, span := observe.StartSpan(ctx, "conversation.send_text")
	defer func() {
		observe.EndSpan(span, err)
		c.met.RecordTurn(ctx, path, err, time.Since(start))
	}()
	log := observe.Logger(ctx).With("conversation_id", c.cfg.ConversationID)

	c.record(string(realtime.RoleUser), text, transcript.SourceText, "")

	known := c.deps.Tracker.KnownIDs()
	pending := c.deps.Pending.Add(text)
	if !c.deps.Bridge.Send(realtime.NewUserText(text)) {
		c.deps.Pending.Remove(pending)
		path = pathFallback
		return c.fallback(ctx, text, bridge.ErrTransportNotReady)
	}
	c.fire(fsm.EventSendAccepted)

	if !c.deps.Tracker.WaitForItemAck(ctx, text, known) {
		if ctx.Err() != nil {
			c.deps.Pending.Remove(pending)
			return ctx.Err()
		}
		log.Warn("conversation: continuing without item ack", "err", ErrAckTimeout)
	}

	c.mu.Lock()
	params := realtime.ResponseParams{Voice: c.cfg.Voice, Instructions: c.cfg.Instructions}
	c.mu.Unlock()

	prior := c.deps.Tracker.AssistantSnapshot()
	respID, reqErr := c.deps.Recovery.RequestResponse(ctx, realtime.NewResponseCreate(params),
		recovery.WithReprime(func(ctx context.Context) error { return c.resendUserItem(ctx, text) }))
	if reqErr != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !fallbackWorthy(reqErr) {
			c.fire(fsm.EventFail)
			c.emitError(reqErr)
			return fmt.Errorf("conversation: request response: %w", reqErr)
		}
		c.deps.Recovery.EndTurn()
		log.Warn("conversation: realtime path unavailable, falling back", "err", reqErr)
		path = pathFallback
		return c.fallback(ctx, text, reqErr)
	}

	// response.created has already been consumed by the controller, so the
	// id it carried is handed over here. Completions of other responses do
	// not count as this turn's reply.
	ref := &ack.ResponseRef{}
	ref.Set(respID)
	if !c.deps.Tracker.WaitForAssistantReply(ctx, prior, ref) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn("conversation: no assistant reply observed yet", "err", ErrAckTimeout, "response_id", respID)
	}
	return nil
}

// resendUserItem puts text on a session recreated mid-turn. The item sent
// earlier went to the stalled session and is gone with it.
func (c *Client) resendUserItem(ctx context.Context, text string) error {
	known := c.deps.Tracker.KnownIDs()
	pending := c.deps.Pending.Add(text)
	if err := c.deps.Bridge.SendOrErr(realtime.NewUserText(text)); err != nil {
		c.deps.Pending.Remove(pending)
		return fmt.Errorf("conversation: resend user item: %w", err)
	}
	if !c.deps.Tracker.WaitForItemAck(ctx, text, known) {
		if ctx.Err() != nil {
			c.deps.Pending.Remove(pending)
			return ctx.Err()
		}
		slog.Warn("conversation: continuing without item ack on recreated session", "err", ErrAckTimeout)
	}
	return nil
}

// fallbackWorthy reports whether err means the realtime session cannot take
// the turn, as opposed to a local failure.
func fallbackWorthy(err error) bool {
	var exhausted *recovery.RecreationExhaustedError
	switch {
	case errors.As(err, &exhausted):
		return true
	case errors.Is(err, bridge.ErrTransportNotReady),
		errors.Is(err, bridge.ErrSendRejected),
		errors.Is(err, recovery.ErrSessionInvalidated):
		return true
	}
	return false
}

// fallback answers text with the non-streaming responder and, when speech is
// configured and voice is enabled, plays the synthesised reply.
func (c *Client) fallback(ctx context.Context, text string, cause error) error {
	c.fire(fsm.EventSendAccepted)

	if c.deps.Responder == nil {
		err := fmt.Errorf("conversation: no fallback responder: %w", cause)
		c.fire(fsm.EventFail)
		c.emitError(err)
		return err
	}

	req := llm.CompletionRequest{
		Messages:     c.history(ctx, text),
		SystemPrompt: c.cfg.SystemPrompt,
	}
	start := time.Now()
	resp, err := c.deps.Responder.Complete(ctx, req)
	c.met.FallbackDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err = fmt.Errorf("conversation: fallback: %w", errors.Join(cause, err))
		slog.Error("conversation: fallback exhausted", "err", err)
		c.fire(fsm.EventFail)
		c.emitError(err)
		return err
	}

	reply := strings.TrimSpace(resp.Content)
	c.record(string(realtime.RoleAssistant), reply, transcript.SourceFallback, "")
	c.emitReply(Reply{Text: reply, Source: transcript.SourceFallback})

	c.mu.Lock()
	c.audioDone = false
	c.mu.Unlock()
	c.fire(fsm.EventReplyObserved)
	c.speak(ctx, reply)
	c.onAudioDone()
	return nil
}

// speak synthesises reply into the playback queue. Failures are logged; the
// text reply has already been delivered.
func (c *Client) speak(ctx context.Context, reply string) {
	if c.deps.Speech == nil || reply == "" || c.deps.Guard.Blocked() {
		return
	}
	chunks, err := c.deps.Speech.SynthesizeStream(ctx, tts.Text(reply), c.cfg.SpeechVoice)
	if err != nil {
		slog.Warn("conversation: synthesise fallback reply", "err", err)
		return
	}
	format := c.deps.Speech.Format()
	if format == (audio.Format{}) {
		format = audio.Wire
	}
	for chunk := range chunks {
		samples := c.speech.Convert(audio.PCM16FromBytes(chunk), format)
		if len(samples) == 0 {
			continue
		}
		c.deps.Playback.Enqueue(playback.Segment{
			Samples:    samples,
			SampleRate: audio.Wire.SampleRate,
			Channels:   audio.Wire.Channels,
		})
		c.met.PlaybackSegments.Add(ctx, 1)
	}
}

// history builds the fallback prompt from the transcript, ending with text.
func (c *Client) history(ctx context.Context, text string) []llm.Message {
	var msgs []llm.Message
	if c.deps.Transcript != nil {
		entries, err := c.deps.Transcript.Recent(ctx, c.cfg.ConversationID, c.cfg.HistoryTurns)
		if err != nil {
			slog.Warn("conversation: load history for fallback", "err", err)
		}
		for _, e := range entries {
			role := llm.RoleUser
			switch e.Role {
			case string(realtime.RoleAssistant):
				role = llm.RoleAssistant
			case string(realtime.RoleSystem):
				role = llm.RoleSystem
			}
			msgs = append(msgs, llm.Message{Role: role, Content: e.Text})
		}
	}
	if n := len(msgs); n > 0 && msgs[n-1].Role == llm.RoleUser && msgs[n-1].Content == text {
		return msgs
	}
	return append(msgs, llm.Message{Role: llm.RoleUser, Content: text})
}
