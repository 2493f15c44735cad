package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MrWong99/voxlink/internal/fsm"
	"github.com/MrWong99/voxlink/internal/transcript"
	"github.com/MrWong99/voxlink/pkg/audio"
	"github.com/MrWong99/voxlink/pkg/realtime"
)

// ForwardFrame sends one captured frame as input_audio_buffer.append. It is
// the capture engine's output callback. Frames are dropped while voice is
// disabled or no session is ready.
func (c *Client) ForwardFrame(f audio.Frame) {
	if len(f.Samples) == 0 || c.deps.Guard.Blocked() {
		return
	}
	if !c.deps.Bridge.Send(realtime.NewAudioAppend(f.Samples)) {
		return
	}
	c.met.CaptureChunks.Add(context.Background(), 1)
}

// StartListening acquires the microphone if needed and starts forwarding.
func (c *Client) StartListening(ctx context.Context) error {
	if c.deps.Capture == nil {
		return errors.New("conversation: no capture engine configured")
	}
	if c.deps.Guard.Blocked() {
		return ErrVoiceDisabled
	}
	if err := c.deps.Capture.Initialize(ctx); err != nil {
		return fmt.Errorf("conversation: start listening: %w", err)
	}
	if err := c.deps.Capture.Start(); err != nil {
		return fmt.Errorf("conversation: start listening: %w", err)
	}
	c.deps.Capture.SetEnabled(true)
	if st := c.deps.Machine.State(); st == fsm.StateIdle || st == fsm.StateListening {
		c.fire(fsm.EventListenStarted)
	}
	slog.Info("conversation: listening")
	return nil
}

// StopListening releases the microphone. A speaking agent keeps speaking and
// returns to idle once it finishes.
func (c *Client) StopListening() error {
	if c.deps.Capture == nil {
		return nil
	}
	err := c.deps.Capture.Stop()
	if c.deps.Machine.State() == fsm.StateListening {
		c.fire(fsm.EventListenStopped)
	}
	if err != nil {
		return fmt.Errorf("conversation: stop listening: %w", err)
	}
	return nil
}

// Interrupt cuts the agent off: local playback stops at once and the remote
// response is cancelled. Cancelling when nothing is active is harmless; the
// remote side answers with a benign error.
func (c *Client) Interrupt() {
	c.deps.Playback.Stop()
	c.deps.Bridge.Send(realtime.NewResponseCancel())
	c.mu.Lock()
	c.audioDone = false
	c.mu.Unlock()
	if c.deps.Machine.State() == fsm.StateSpeaking {
		c.fire(fsm.EventInterrupted)
	}
}

// AddContext appends system context to the conversation without requesting
// a response. While voice is disabled the context is held back and delivered
// on enable.
func (c *Client) AddContext(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyText
	}
	if c.deps.Guard.Defer(text) {
		slog.Debug("conversation: context deferred while disabled")
		return nil
	}
	return c.DeliverContext(text)
}

// DeliverContext sends text as a system item immediately. It is the guard's
// context flusher.
func (c *Client) DeliverContext(text string) error {
	if err := c.deps.Bridge.SendOrErr(realtime.NewSystemText(text)); err != nil {
		return fmt.Errorf("conversation: add context: %w", err)
	}
	c.record(string(realtime.RoleSystem), text, transcript.SourceContext, "")
	return nil
}

// Disable takes voice offline through the guard.
func (c *Client) Disable() error {
	return c.deps.Guard.Disable()
}

// Enable brings voice back through the guard.
func (c *Client) Enable() error {
	return c.deps.Guard.Enable()
}
