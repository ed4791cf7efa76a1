// Package resample converts fixed-size audio blocks from a device's native
// format to the 16 kHz mono format the recognizer consumes.
package resample

import (
	"errors"
	"fmt"
)

// TargetRate is the sample rate the recognizer expects.
const TargetRate = 16000

var (
	// ErrBlockSize reports a block whose sample count does not match the
	// converter's configured input geometry.
	ErrBlockSize = errors.New("resample: input length does not match configured block size")
)

// Converter downmixes interleaved multi-channel audio to mono and resamples
// it to TargetRate by linear interpolation. A Converter is built for one
// input format; feeding it a different geometry is a contract violation and
// the caller must construct a new one.
//
// Downmix happens before resampling so interpolation never mixes samples
// from different channels.
type Converter struct {
	inRate    int
	channels  int
	frames    int
	outFrames int
	mono      []float32
}

// NewConverter builds a converter for fixed blocks of the given frame count
// in the given input format.
func NewConverter(inRate, channels, frames int) (*Converter, error) {
	if inRate <= 0 {
		return nil, fmt.Errorf("resample: invalid input rate %d", inRate)
	}
	if channels < 1 {
		return nil, fmt.Errorf("resample: invalid channel count %d", channels)
	}
	if frames <= 0 {
		return nil, fmt.Errorf("resample: invalid block size %d", frames)
	}
	return &Converter{
		inRate:    inRate,
		channels:  channels,
		frames:    frames,
		outFrames: outputFrames(frames, inRate),
		mono:      make([]float32, frames),
	}, nil
}

// OutputFrames reports how many mono samples each converted block holds.
// The count is fixed for the life of the converter.
func (c *Converter) OutputFrames() int { return c.outFrames }

// Convert transforms one fixed-size interleaved block into 16 kHz mono.
// The returned slice is freshly allocated on every call so downstream stages
// may retain it.
func (c *Converter) Convert(in []float32) ([]float32, error) {
	if len(in) != c.frames*c.channels {
		return nil, fmt.Errorf("%w: got %d samples, want %d", ErrBlockSize, len(in), c.frames*c.channels)
	}

	mono := c.mono
	if c.channels == 1 {
		mono = in
	} else {
		for f := 0; f < c.frames; f++ {
			var sum float32
			base := f * c.channels
			for ch := 0; ch < c.channels; ch++ {
				sum += in[base+ch]
			}
			mono[f] = sum / float32(c.channels)
		}
	}

	out := make([]float32, c.outFrames)
	if c.inRate == TargetRate {
		copy(out, mono)
		return out, nil
	}

	// Linear interpolation between the two nearest input samples.
	ratio := float64(c.inRate) / float64(TargetRate)
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= c.frames-1 {
			out[i] = mono[c.frames-1]
			continue
		}
		frac := float32(pos - float64(idx))
		out[i] = mono[idx]*(1-frac) + mono[idx+1]*frac
	}
	return out, nil
}

func outputFrames(frames, inRate int) int {
	if inRate == TargetRate {
		return frames
	}
	return int(float64(frames) * float64(TargetRate) / float64(inRate))
}
