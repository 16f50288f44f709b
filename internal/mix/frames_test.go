package mix

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDownmix(t *testing.T) {
	frames := [][2]float64{{0.5, 0.5}, {1, 0}, {-0.25, -0.75}}

	mono := Downmix(frames, 1)
	assert.Equal(t, []float32{0.5, 1, -0.25}, mono)

	stereo := Downmix(frames, 2)
	assert.Equal(t, []float32{0.5, 0.5, -0.5}, stereo)
}

func TestRoutePlacesSignalOnOneChannel(t *testing.T) {
	out, err := Route([]float32{0.1, 0.2}, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0.1, 0, 0.2}, out)

	out, err = Route([]float32{0.3}, 3, 4)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0, 0.3, 0}, out)
}

func TestRouteRejectsBadChannel(t *testing.T) {
	_, err := Route([]float32{1}, 0, 2)
	assert.Error(t, err)
	_, err = Route([]float32{1}, 3, 2)
	assert.Error(t, err)
	_, err = Route([]float32{1}, 1, 0)
	assert.Error(t, err)
}

func TestOutputChannels(t *testing.T) {
	assert.Equal(t, 2, OutputChannels(1))
	assert.Equal(t, 2, OutputChannels(2))
	assert.Equal(t, 6, OutputChannels(6))
}

func TestPCMToFrames(t *testing.T) {
	frames, err := PCMToFrames([]int16{16384, -16384, 0, 32767}, 2)
	require.NoError(t, err)
	require.Len(t, frames, 2)
	assert.InDelta(t, 0.5, frames[0][0], 1e-9)
	assert.InDelta(t, -0.5, frames[0][1], 1e-9)

	mono, err := PCMToFrames([]int16{16384}, 1)
	require.NoError(t, err)
	assert.Equal(t, mono[0][0], mono[0][1])

	_, err = PCMToFrames([]int16{1, 2, 3}, 2)
	assert.Error(t, err)
	_, err = PCMToFrames([]int16{1}, 3)
	assert.Error(t, err)
}

func TestFloatToPCMClamps(t *testing.T) {
	assert.Equal(t, int16(32767), FloatToPCM(2))
	assert.Equal(t, int16(-32767), FloatToPCM(-2))
	assert.Equal(t, int16(0), FloatToPCM(0))
}

func TestPeak(t *testing.T) {
	assert.Equal(t, 300, Peak([]int16{10, -300, 200}))
	assert.Equal(t, 0, Peak(nil))
}
