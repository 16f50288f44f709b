package audio

import (
	"fmt"
	"strings"

	"github.com/audiolibrelab/trialsync/internal/routing"
)

// BackendType represents the type of audio backend
type BackendType string

const (
	BackendTypePortAudio BackendType = "portaudio"
	BackendTypeSimulated BackendType = "simulated"
	BackendTypeAuto      BackendType = "auto"
)

// ParseBackendType normalizes a configured backend name. Empty means auto.
func ParseBackendType(s string) (BackendType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return BackendTypeAuto, nil
	case "portaudio":
		return BackendTypePortAudio, nil
	case "simulated", "dummy":
		return BackendTypeSimulated, nil
	default:
		return "", fmt.Errorf("unknown audio backend %q (expected portaudio, simulated or auto)", s)
	}
}

// DefaultDevice selects the host's default device in a StreamConfig.
const DefaultDevice = -1

// StreamConfig describes a blocking PCM stream.
type StreamConfig struct {
	Device          int
	Channels        int
	SampleRate      int
	FramesPerBuffer int
}

// OutputStream is a started playback stream. Write blocks until the
// interleaved float32 samples are queued to the device.
type OutputStream interface {
	Write(samples []float32) error
	// Close drains pending output, stops and releases the stream.
	Close() error
}

// InputStream is a started capture stream. Read blocks until buf, which
// holds interleaved 16-bit samples, is full.
type InputStream interface {
	Read(buf []int16) error
	Close() error
}

// Backend is a host audio subsystem.
type Backend interface {
	routing.DeviceLister

	OpenOutput(cfg StreamConfig) (OutputStream, error)
	OpenInput(cfg StreamConfig) (InputStream, error)

	// Terminate releases the subsystem. It is called once per process.
	Terminate() error

	Type() BackendType
}

// FindInputDevice returns the device to capture from: want itself when it
// is not DefaultDevice, otherwise the first device with enough inputs.
func FindInputDevice(devices []routing.DeviceInfo, want, channels int) (routing.DeviceInfo, bool) {
	for _, d := range devices {
		if want != DefaultDevice && d.Index != want {
			continue
		}
		if d.MaxInputChannels >= channels {
			return d, true
		}
		if want != DefaultDevice {
			return d, false
		}
	}
	return routing.DeviceInfo{}, false
}
