package conversation

import (
	"context"
	"log/slog"

	"github.com/MrWong99/voxlink/internal/ack"
	"github.com/MrWong99/voxlink/internal/fsm"
	"github.com/MrWong99/voxlink/internal/transcript"
	"github.com/MrWong99/voxlink/pkg/audio"
	"github.com/MrWong99/voxlink/pkg/audio/playback"
	"github.com/MrWong99/voxlink/pkg/realtime"
)

// onSessionChange moves the event listener to the newly registered session.
// It runs on the goroutine that registered or cleared the session.
func (c *Client) onSessionChange(s realtime.Session, gen uint64) {
	var id realtime.ListenerID
	if s != nil {
		id = s.On(realtime.EventAny, c.handle)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		if s != nil {
			s.Off(realtime.EventAny, id)
		}
		return
	}
	old, oldID := c.sess, c.listener
	c.sess, c.listener = s, id
	c.responseID = ""
	c.audioDone = false
	c.reply = c.reply[:0]
	c.mu.Unlock()

	ctx := context.Background()
	if old != nil {
		old.Off(realtime.EventAny, oldID)
		c.met.ActiveSessions.Add(ctx, -1)
	}
	if n := c.deps.Pending.FailAll(ack.ErrSessionInvalidated); n > 0 {
		slog.Info("conversation: pending sends invalidated", "count", n, "generation", gen)
	}
	if s == nil {
		slog.Info("conversation: session detached", "generation", gen)
		return
	}
	c.met.ActiveSessions.Add(ctx, 1)
	slog.Info("conversation: session attached", "generation", gen)
	if c.deps.Machine.State() == fsm.StateError {
		c.fire(fsm.EventRecovered)
	}
}

// handle dispatches one inbound event. It runs on the transport reader and
// never blocks on I/O.
func (c *Client) handle(ev realtime.ServerEvent) {
	switch ev.Type {
	case realtime.EventItemCreated:
		c.onItemCreated(ev)
	case realtime.EventResponseCreated:
		c.onResponseCreated(ev)
	case realtime.EventAudioDelta:
		c.onAudioDelta(ev)
	case realtime.EventTextDelta, realtime.EventAudioTranscriptDelta:
		c.onTextDelta(ev)
	case realtime.EventAudioDone:
		c.onAudioDone()
	case realtime.EventResponseDone:
		c.onResponseDone(ev)
	case realtime.EventOutputAudioStarted:
		c.observeReply()
	case realtime.EventOutputAudioStopped:
		c.finishSpeech("output_audio_buffer.stopped")
	case realtime.EventSpeechStarted:
		c.onSpeechStarted()
	case realtime.EventInputTranscriptCompleted:
		c.record(string(realtime.RoleUser), ev.Transcript, transcript.SourceVoice, ev.ItemID)
	case realtime.EventError:
		c.onProtocolError(ev)
	case realtime.EventTransportClosed:
		slog.Warn("conversation: transport closed")
	}
}

func (c *Client) onItemCreated(ev realtime.ServerEvent) {
	if ev.Item == nil || ev.Item.Role != realtime.RoleUser {
		return
	}
	if p := c.deps.Pending.Ack(*ev.Item); p != nil {
		slog.Debug("conversation: item acknowledged", "item_id", ev.Item.ID)
	}
}

func (c *Client) onResponseCreated(ev realtime.ServerEvent) {
	c.mu.Lock()
	c.responseID = ev.ResponseRef()
	c.audioDone = false
	c.reply = c.reply[:0]
	c.mu.Unlock()
	slog.Debug("conversation: response created", "response_id", ev.ResponseRef())
}

func (c *Client) onAudioDelta(ev realtime.ServerEvent) {
	if c.deps.Guard.Blocked() {
		return
	}
	samples, err := audio.DecodeBase64PCM16(ev.Delta)
	if err != nil {
		slog.Warn("conversation: undecodable audio delta", "err", err, "response_id", ev.ResponseRef())
		return
	}
	if len(samples) == 0 {
		return
	}
	c.observeReply()
	c.deps.Playback.Enqueue(playback.Segment{
		Samples:    samples,
		SampleRate: audio.SampleRate,
		Channels:   audio.Channels,
	})
	c.met.PlaybackSegments.Add(context.Background(), 1)
}

func (c *Client) onTextDelta(ev realtime.ServerEvent) {
	if ev.Delta == "" {
		return
	}
	c.mu.Lock()
	c.reply = append(c.reply, ev.Delta...)
	c.mu.Unlock()
	c.observeReply()
}

// observeReply moves thinking to speaking, or starts speaking when the remote
// side answers without a local request (server-side turn detection).
func (c *Client) observeReply() {
	switch c.deps.Machine.State() {
	case fsm.StateThinking:
		c.fire(fsm.EventReplyObserved)
	case fsm.StateIdle, fsm.StateListening:
		c.fire(fsm.EventAgentSpeechStarted)
	}
}

// onAudioDone marks the response's audio as fully received. If playback has
// already drained this is the end of speech; otherwise the drain is.
func (c *Client) onAudioDone() {
	c.mu.Lock()
	c.audioDone = true
	c.mu.Unlock()
	if !c.deps.Playback.Running() {
		c.finishSpeech("playback drained")
	}
}

func (c *Client) onPlaybackEnded() {
	c.mu.Lock()
	done := c.audioDone
	c.mu.Unlock()
	if done {
		c.finishSpeech("playback drained")
	}
}

// finishSpeech is the authoritative end of output.
func (c *Client) finishSpeech(signal string) {
	if c.deps.Machine.State() != fsm.StateSpeaking {
		return
	}
	slog.Debug("conversation: speech finished", "signal", signal)
	c.fire(fsm.EventAudioFinished)
}

// onResponseDone surfaces and records the reply text. It does not end
// speaking: buffered audio may still be playing.
func (c *Client) onResponseDone(ev realtime.ServerEvent) {
	c.mu.Lock()
	text := string(c.reply)
	c.reply = c.reply[:0]
	c.mu.Unlock()

	var itemID string
	if ev.Response != nil {
		for _, it := range ev.Response.Output {
			if it.Role != realtime.RoleAssistant {
				continue
			}
			itemID = it.ID
			if text == "" {
				text = it.Text()
			}
		}
	}
	if text == "" {
		return
	}
	c.record(string(realtime.RoleAssistant), text, transcript.SourceRealtime, itemID)
	c.emitReply(Reply{Text: text, Source: transcript.SourceRealtime})
}

// onSpeechStarted handles barge-in: the user started talking over the agent.
func (c *Client) onSpeechStarted() {
	if c.deps.Machine.State() != fsm.StateSpeaking {
		return
	}
	slog.Info("conversation: barge-in")
	c.Interrupt()
}

func (c *Client) onProtocolError(ev realtime.ServerEvent) {
	perr := classify(ev.Error)
	c.met.RecordProtocolError(context.Background(), perr.Code, perr.Critical)
	if !perr.Critical {
		slog.Warn("conversation: benign remote error", "code", perr.Code, "message", perr.Message)
		return
	}
	slog.Error("conversation: remote error", "code", perr.Code, "type", perr.Type, "message", perr.Message)
	c.fire(fsm.EventFail)
	c.emitError(perr)
}
