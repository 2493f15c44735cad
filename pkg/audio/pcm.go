package audio

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
)

// Downsample decimates samples captured at sourceRate to [SampleRate] by
// block averaging. See [DownsampleTo].
func Downsample(samples []float32, sourceRate int) []float32 {
	return DownsampleTo(samples, sourceRate, SampleRate)
}

// DownsampleTo decimates samples from sourceRate to targetRate. Output index i
// is the mean of every source sample in [i*ratio, (i+1)*ratio) where
// ratio = sourceRate/targetRate. The output length is
// floor(len(samples) / ratio).
//
// The input is returned unchanged when the rates match, when either rate is
// not positive, or when targetRate exceeds sourceRate (upsampling is not a
// decimation concern).
func DownsampleTo(samples []float32, sourceRate, targetRate int) []float32 {
	if sourceRate <= 0 || targetRate <= 0 || sourceRate <= targetRate {
		return samples
	}
	ratio := float64(sourceRate) / float64(targetRate)
	n := int(math.Floor(float64(len(samples)) / ratio))
	out := make([]float32, n)
	for i := range n {
		start := int(math.Floor(float64(i) * ratio))
		end := int(math.Floor(float64(i+1) * ratio))
		if end > len(samples) {
			end = len(samples)
		}
		if end <= start {
			end = start + 1
		}
		var sum float64
		for _, s := range samples[start:end] {
			sum += float64(s)
		}
		out[i] = float32(sum / float64(end-start))
	}
	return out
}

// EncodePCM16 clamps every sample to [-1, 1] and scales it to int16.
// Negative values scale by 32768 and non-negative ones by 32767 so that both
// ends of the two's-complement range are reachable.
func EncodePCM16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		switch {
		case s != s: // NaN
			s = 0
		case s > 1:
			s = 1
		case s < -1:
			s = -1
		}
		if s < 0 {
			out[i] = int16(math.Round(float64(s) * 32768))
		} else {
			out[i] = int16(math.Round(float64(s) * 32767))
		}
	}
	return out
}

// DecodePCM16 converts int16 samples to floats in [-1, 1).
func DecodePCM16(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768
	}
	return out
}

// PCM16Bytes serialises samples as little-endian int16.
func PCM16Bytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// PCM16FromBytes parses little-endian int16 samples. A trailing odd byte is
// ignored.
func PCM16FromBytes(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out
}

// EncodeBase64PCM16 is the text-channel encoding of a frame.
func EncodeBase64PCM16(samples []int16) string {
	return base64.StdEncoding.EncodeToString(PCM16Bytes(samples))
}

// DecodeBase64PCM16 reverses [EncodeBase64PCM16].
func DecodeBase64PCM16(s string) ([]int16, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("audio: decode base64 pcm16: %w", err)
	}
	if len(b)%2 != 0 {
		return nil, fmt.Errorf("audio: decode base64 pcm16: odd byte count %d", len(b))
	}
	return PCM16FromBytes(b), nil
}

// RMS returns the root-mean-square energy of samples, 0 for an empty slice.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
