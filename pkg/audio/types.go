// Package audio holds the PCM primitives shared by capture and playback:
// the 24 kHz mono wire format, float/int16 conversion, block-averaging
// decimation and sink-side format conversion.
package audio

import "time"

// Wire format of the realtime session. Every frame sent to or received from
// the remote service is mono PCM16 at this rate.
const (
	SampleRate = 24000
	Channels   = 1
)

// Wire is the [Format] of the realtime session.
var Wire = Format{SampleRate: SampleRate, Channels: Channels}

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Frame is a chunk of signed 16-bit samples ready for the wire. Frames are
// produced by the capture engine and must not be mutated once handed to a
// transport.
type Frame struct {
	// Samples are interleaved when Channels > 1.
	Samples []int16

	SampleRate int
	Channels   int

	// Timestamp marks when the first sample was captured, relative to the
	// start of the capture session.
	Timestamp time.Duration
}

// Duration returns the playback length of the frame.
func (f Frame) Duration() time.Duration {
	return SamplesDuration(len(f.Samples), f.SampleRate, f.Channels)
}

// SamplesDuration converts a sample count into wall-clock time. A zero or
// negative rate yields zero.
func SamplesDuration(n, sampleRate, channels int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	if channels <= 0 {
		channels = 1
	}
	frames := n / channels
	return time.Duration(frames) * time.Second / time.Duration(sampleRate)
}
