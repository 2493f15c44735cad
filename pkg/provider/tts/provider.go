// Package tts defines the speech synthesis backend used by the fallback
// path to voice a reply the realtime session could not produce.
//
// SynthesizeStream accepts a channel of text fragments and returns raw
// PCM16 little-endian audio as it becomes available, in the format reported
// by Format. Implementations must be safe for concurrent use.
package tts

import (
	"context"

	"github.com/MrWong99/voxlink/pkg/audio"
)

// Voice selects and shapes the synthesised voice.
type Voice struct {
	// ID is the provider-specific voice name (for example "alloy").
	ID string

	// Speed scales the speaking rate. Zero uses the provider default.
	Speed float64

	// Instructions optionally steer delivery on models that support it.
	Instructions string
}

// Provider is a speech synthesis backend.
type Provider interface {
	// SynthesizeStream consumes text fragments until text is closed and
	// emits PCM16 audio chunks. The audio channel is closed when all text has
	// been voiced, on a synthesis error, or when ctx is cancelled. The error
	// return is non-nil only if synthesis could not start.
	SynthesizeStream(ctx context.Context, text <-chan string, voice Voice) (<-chan []byte, error)

	// Format is the sample format of emitted audio.
	Format() audio.Format
}

// Text returns a closed channel carrying the single fragment s.
func Text(s string) <-chan string {
	ch := make(chan string, 1)
	ch <- s
	close(ch)
	return ch
}
