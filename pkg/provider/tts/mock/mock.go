// Package mock provides a test double for the tts.Provider interface.
//
// Example:
//
//	p := &mock.Provider{SynthesizeChunks: [][]byte{pcm1, pcm2}}
//	ch, _ := p.SynthesizeStream(ctx, tts.Text("Hello"), tts.Voice{ID: "alloy"})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxlink/pkg/audio"
	"github.com/MrWong99/voxlink/pkg/provider/tts"
)

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// SynthesizeChunks is emitted, in order, by every SynthesizeStream call.
	SynthesizeChunks [][]byte

	// SynthesizeErr, if non-nil, is returned by SynthesizeStream.
	SynthesizeErr error

	// AudioFormat is returned by Format. Zero means [audio.Wire].
	AudioFormat audio.Format

	// Texts records every fragment received, across calls.
	Texts []string

	// Voices records the voice of every call.
	Voices []tts.Voice
}

var _ tts.Provider = (*Provider)(nil)

// SynthesizeStream records the call, drains text into Texts and emits
// SynthesizeChunks once text is closed.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.Voice) (<-chan []byte, error) {
	p.mu.Lock()
	p.Voices = append(p.Voices, voice)
	if p.SynthesizeErr != nil {
		err := p.SynthesizeErr
		p.mu.Unlock()
		return nil, err
	}
	chunks := append([][]byte(nil), p.SynthesizeChunks...)
	p.mu.Unlock()

	ch := make(chan []byte, len(chunks))
	go func() {
		defer close(ch)
		for s := range text {
			p.mu.Lock()
			p.Texts = append(p.Texts, s)
			p.mu.Unlock()
		}
		for _, c := range chunks {
			select {
			case <-ctx.Done():
				return
			case ch <- c:
			}
		}
	}()
	return ch, nil
}

// Format implements tts.Provider.
func (p *Provider) Format() audio.Format {
	if p.AudioFormat.SampleRate == 0 {
		return audio.Wire
	}
	return p.AudioFormat
}

// ReceivedTexts returns a copy of Texts.
func (p *Provider) ReceivedTexts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.Texts...)
}
