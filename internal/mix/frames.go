// Package mix converts between decoded stereo frames, mono signals and the
// interleaved sample buffers that audio streams read and write.
package mix

import (
	"fmt"
	"math"
)

// Downmix reduces decoded frames to a mono signal. Mono sources decode with
// identical left/right samples, so numChannels == 1 takes the left side.
func Downmix(frames [][2]float64, numChannels int) []float32 {
	out := make([]float32, len(frames))
	for i, f := range frames {
		if numChannels == 1 {
			out[i] = float32(f[0])
		} else {
			out[i] = float32((f[0] + f[1]) / 2)
		}
	}
	return out
}

// Route places a mono signal on one channel (1-based) of an interleaved
// buffer with the given channel count. All other channels are silent.
func Route(mono []float32, channel, channels int) ([]float32, error) {
	if channels < 1 {
		return nil, fmt.Errorf("channel count must be >= 1, got %d", channels)
	}
	if channel < 1 || channel > channels {
		return nil, fmt.Errorf("channel %d outside 1..%d", channel, channels)
	}
	out := make([]float32, len(mono)*channels)
	slot := channel - 1
	for i, s := range mono {
		out[i*channels+slot] = s
	}
	return out, nil
}

// OutputChannels is the channel count to open for an output stream that
// must reach the given 1-based channel. Stereo is the minimum.
func OutputChannels(channel int) int {
	if channel < 2 {
		return 2
	}
	return channel
}

// PCMToFrames unpacks interleaved 16-bit samples into stereo frames scaled
// to [-1, 1). A mono buffer fills both sides.
func PCMToFrames(samples []int16, channels int) ([][2]float64, error) {
	if channels != 1 && channels != 2 {
		return nil, fmt.Errorf("only mono and stereo buffers are supported, got %d channels", channels)
	}
	if len(samples)%channels != 0 {
		return nil, fmt.Errorf("%d samples is not a whole number of %d-channel frames", len(samples), channels)
	}
	frames := make([][2]float64, len(samples)/channels)
	for i := range frames {
		l := float64(samples[i*channels]) / 32768
		r := l
		if channels == 2 {
			r = float64(samples[i*channels+1]) / 32768
		}
		frames[i] = [2]float64{l, r}
	}
	return frames, nil
}

// FloatToPCM converts a float sample in [-1, 1] to 16-bit, clamping.
func FloatToPCM(v float32) int16 {
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}
	return int16(math.Round(float64(v) * 32767))
}

// Peak returns the largest absolute sample.
func Peak(samples []int16) int {
	peak := 0
	for _, s := range samples {
		a := int(s)
		if a < 0 {
			a = -a
		}
		if a > peak {
			peak = a
		}
	}
	return peak
}
