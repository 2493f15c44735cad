package audio

import (
	"fmt"
	"log/slog"
	"sync"
)

// Converter converts PCM16 audio to a fixed target format. It logs a
// warning on the first format mismatch only and is safe for concurrent use.
type Converter struct {
	Target         Format
	warnedMismatch sync.Once
}

// Convert returns samples in c.Target. If the source format already matches,
// samples is returned unchanged (zero allocation).
// Conversion order: resample first, then channel convert.
func (c *Converter) Convert(samples []int16, from Format) []int16 {
	if from == c.Target || c.Target.SampleRate <= 0 {
		return samples
	}

	c.warnedMismatch.Do(func() {
		slog.Warn("audio converter: format mismatch, converting",
			"from", formatString(from.SampleRate, from.Channels),
			"to", formatString(c.Target.SampleRate, c.Target.Channels),
		)
	})

	out := samples
	if from.SampleRate != c.Target.SampleRate {
		if from.Channels == 2 {
			out = ResampleStereo(out, from.SampleRate, c.Target.SampleRate)
		} else {
			out = ResampleMono(out, from.SampleRate, c.Target.SampleRate)
		}
	}
	switch {
	case from.Channels == 1 && c.Target.Channels == 2:
		out = MonoToStereo(out)
	case from.Channels == 2 && c.Target.Channels == 1:
		out = StereoToMono(out)
	}
	return out
}

// MonoToStereo duplicates each mono sample into an L+R pair.
func MonoToStereo(samples []int16) []int16 {
	out := make([]int16, len(samples)*2)
	for i, s := range samples {
		out[i*2] = s
		out[i*2+1] = s
	}
	return out
}

// StereoToMono averages each L+R pair. Uses int32 arithmetic so the sum
// cannot overflow.
func StereoToMono(samples []int16) []int16 {
	frames := len(samples) / 2
	out := make([]int16, frames)
	for i := range frames {
		out[i] = int16((int32(samples[i*2]) + int32(samples[i*2+1])) / 2)
	}
	return out
}

// ResampleMono resamples mono PCM16 from srcRate to dstRate using linear
// interpolation. If srcRate == dstRate the input is returned unchanged.
func ResampleMono(samples []int16, srcRate, dstRate int) []int16 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(samples) == 0 {
		return samples
	}
	dstSamples := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]int16, dstSamples)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstSamples {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)
		s0 := samples[idx]
		s1 := s0
		if idx+1 < len(samples) {
			s1 = samples[idx+1]
		}
		out[i] = int16(float64(s0)*(1-frac) + float64(s1)*frac)
	}
	return out
}

// ResampleStereo resamples interleaved stereo PCM16 by resampling each
// channel independently.
func ResampleStereo(samples []int16, srcRate, dstRate int) []int16 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(samples) < 2 {
		return samples
	}
	frames := len(samples) / 2
	left := make([]int16, frames)
	right := make([]int16, frames)
	for i := range frames {
		left[i] = samples[i*2]
		right[i] = samples[i*2+1]
	}
	left = ResampleMono(left, srcRate, dstRate)
	right = ResampleMono(right, srcRate, dstRate)
	out := make([]int16, len(left)*2)
	for i := range left {
		out[i*2] = left[i]
		out[i*2+1] = right[i]
	}
	return out
}

// formatString returns e.g. "48000Hz stereo".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
