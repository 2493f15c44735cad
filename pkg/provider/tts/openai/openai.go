// Package openai provides a TTS provider backed by the OpenAI speech API.
//
// Audio is requested in the "pcm" response format, which is raw 24 kHz mono
// PCM16 little-endian and therefore matches the realtime wire format without
// conversion.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/MrWong99/voxlink/pkg/audio"
	"github.com/MrWong99/voxlink/pkg/provider/tts"
)

const (
	defaultModel = "gpt-4o-mini-tts"
	defaultVoice = "alloy"

	// chunkBytes is 100 ms of wire audio.
	chunkBytes = audio.SampleRate / 10 * 2
)

// Provider implements tts.Provider using the OpenAI speech endpoint.
type Provider struct {
	client oai.Client
	model  string
}

var _ tts.Provider = (*Provider)(nil)

type config struct {
	baseURL string
	model   string
	timeout time.Duration
}

// Option configures a Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithModel selects the speech model. Defaults to gpt-4o-mini-tts.
func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// New constructs a Provider.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai tts: apiKey must not be empty")
	}
	cfg := &config{model: defaultModel}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}
	return &Provider{client: oai.NewClient(reqOpts...), model: cfg.model}, nil
}

// Format implements tts.Provider.
func (p *Provider) Format() audio.Format { return audio.Wire }

// SynthesizeStream implements tts.Provider. Fragments are voiced one request
// at a time, in order; blank fragments are skipped.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.Voice) (<-chan []byte, error) {
	if text == nil {
		return nil, fmt.Errorf("openai tts: nil text channel")
	}
	out := make(chan []byte, 16)
	go func() {
		defer close(out)
		for {
			var (
				s  string
				ok bool
			)
			select {
			case <-ctx.Done():
				return
			case s, ok = <-text:
			}
			if !ok {
				return
			}
			if strings.TrimSpace(s) == "" {
				continue
			}
			if err := p.speak(ctx, s, voice, out); err != nil {
				if !errors.Is(err, context.Canceled) {
					slog.Warn("openai tts: synthesis failed", "err", err)
				}
				return
			}
		}
	}()
	return out, nil
}

func (p *Provider) speak(ctx context.Context, s string, voice tts.Voice, out chan<- []byte) error {
	resp, err := p.client.Audio.Speech.New(ctx, p.buildParams(s, voice))
	if err != nil {
		return fmt.Errorf("openai tts: speech: %w", err)
	}
	defer resp.Body.Close()

	buf := make([]byte, chunkBytes)
	var carry []byte
	for {
		n, rerr := io.ReadFull(resp.Body, buf)
		if n > 0 {
			data := append(carry, buf[:n]...)
			// Keep whole samples only; an odd trailing byte waits for the next read.
			even := len(data) &^ 1
			carry = append([]byte(nil), data[even:]...)
			chunk := append([]byte(nil), data[:even]...)
			if len(chunk) > 0 {
				select {
				case out <- chunk:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
		switch {
		case rerr == nil:
		case errors.Is(rerr, io.EOF), errors.Is(rerr, io.ErrUnexpectedEOF):
			return nil
		default:
			return fmt.Errorf("openai tts: read audio: %w", rerr)
		}
	}
}

func (p *Provider) buildParams(s string, voice tts.Voice) oai.AudioSpeechNewParams {
	v := voice.ID
	if v == "" {
		v = defaultVoice
	}
	params := oai.AudioSpeechNewParams{
		Input:          s,
		Model:          oai.SpeechModel(p.model),
		Voice:          oai.AudioSpeechNewParamsVoice(v),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatPCM,
	}
	if voice.Speed > 0 {
		params.Speed = param.NewOpt(voice.Speed)
	}
	if voice.Instructions != "" {
		params.Instructions = param.NewOpt(voice.Instructions)
	}
	return params
}
