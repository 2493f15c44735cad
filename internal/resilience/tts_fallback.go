package resilience

import (
	"context"

	"github.com/MrWong99/voxlink/pkg/audio"
	"github.com/MrWong99/voxlink/pkg/provider/tts"
)

// TTSFallback is a [tts.Provider] that synthesises with the first healthy
// backend of its group. All backends must emit the same format.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a TTSFallback preferring primary.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another backend.
func (f *TTSFallback) AddFallback(name string, p tts.Provider) { f.group.Add(name, p) }

// SynthesizeStream implements tts.Provider. Only stream setup fails over;
// text already consumed by a backend that then fails is not replayed.
func (f *TTSFallback) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.Voice) (<-chan []byte, error) {
	ch, _, err := Do(ctx, f.group, func(ctx context.Context, p tts.Provider) (<-chan []byte, error) {
		return p.SynthesizeStream(ctx, text, voice)
	})
	return ch, err
}

// Format reports the primary's format.
func (f *TTSFallback) Format() audio.Format {
	return f.group.entries[0].value.Format()
}
