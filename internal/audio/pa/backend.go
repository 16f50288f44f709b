// Package pa is the PortAudio implementation of audio.Backend. It is kept
// apart from package audio so that only binaries that link real hardware
// need cgo.
package pa

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/audiolibrelab/trialsync/internal/audio"
	"github.com/audiolibrelab/trialsync/internal/faults"
	"github.com/audiolibrelab/trialsync/internal/routing"
)

// Backend drives devices through PortAudio blocking streams.
type Backend struct {
	mu         sync.Mutex
	terminated bool
}

// New initializes PortAudio. Call Terminate once when done.
func New() (*Backend, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, faults.New(faults.KindDeviceUnavailable, "portaudio.init", "", err)
	}
	slog.Debug("PortAudio initialized", "version", portaudio.VersionText())
	return &Backend{}, nil
}

func (b *Backend) Type() audio.BackendType {
	return audio.BackendTypePortAudio
}

func (b *Backend) Devices() ([]routing.DeviceInfo, error) {
	if err := b.check(); err != nil {
		return nil, err
	}
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	out := make([]routing.DeviceInfo, 0, len(devices))
	for _, d := range devices {
		out = append(out, convert(d))
	}
	return out, nil
}

func convert(d *portaudio.DeviceInfo) routing.DeviceInfo {
	info := routing.DeviceInfo{
		Index:             d.Index,
		Name:              d.Name,
		MaxInputChannels:  d.MaxInputChannels,
		MaxOutputChannels: d.MaxOutputChannels,
		DefaultSampleRate: d.DefaultSampleRate,
	}
	if d.HostApi != nil {
		info.HostAPI = d.HostApi.Name
	}
	return info
}

// lookup resolves an index, or the host default when index is
// audio.DefaultDevice.
func (b *Backend) lookup(index int, input bool) (*portaudio.DeviceInfo, error) {
	if index == audio.DefaultDevice {
		if input {
			return portaudio.DefaultInputDevice()
		}
		return portaudio.DefaultOutputDevice()
	}
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	for _, d := range devices {
		if d.Index == index {
			return d, nil
		}
	}
	return nil, fmt.Errorf("no such device")
}

func (b *Backend) OpenOutput(cfg audio.StreamConfig) (audio.OutputStream, error) {
	if err := b.check(); err != nil {
		return nil, err
	}
	resource := fmt.Sprintf("device %d", cfg.Device)
	dev, err := b.lookup(cfg.Device, false)
	if err != nil {
		return nil, faults.New(faults.KindDeviceUnavailable, "audio.open_output", resource, err)
	}
	if dev.MaxOutputChannels < cfg.Channels {
		return nil, faults.New(faults.KindDeviceUnavailable, "audio.open_output", resource,
			fmt.Errorf("%d output channels requested, %s has %d", cfg.Channels, dev.Name, dev.MaxOutputChannels))
	}

	p := portaudio.HighLatencyParameters(nil, dev)
	p.Output.Channels = cfg.Channels
	p.SampleRate = float64(cfg.SampleRate)
	p.FramesPerBuffer = cfg.FramesPerBuffer

	out := &outputStream{channels: cfg.Channels, buf: make([]float32, bufferFrames(cfg)*cfg.Channels)}
	out.stream, err = portaudio.OpenStream(p, &out.buf)
	if err != nil {
		return nil, faults.New(faults.KindDeviceUnavailable, "audio.open_output", resource, err)
	}
	if err := out.stream.Start(); err != nil {
		out.stream.Close()
		return nil, faults.New(faults.KindDeviceUnavailable, "audio.open_output", resource, err)
	}
	slog.Debug("Output stream started", "device", dev.Index, "name", dev.Name, "channels", cfg.Channels, "rate", cfg.SampleRate)
	return out, nil
}

func (b *Backend) OpenInput(cfg audio.StreamConfig) (audio.InputStream, error) {
	if err := b.check(); err != nil {
		return nil, err
	}
	resource := fmt.Sprintf("device %d", cfg.Device)
	dev, err := b.lookup(cfg.Device, true)
	if err != nil {
		return nil, faults.New(faults.KindDeviceUnavailable, "audio.open_input", resource, err)
	}
	if dev.MaxInputChannels < cfg.Channels {
		return nil, faults.New(faults.KindDeviceUnavailable, "audio.open_input", resource,
			fmt.Errorf("%d input channels requested, %s has %d", cfg.Channels, dev.Name, dev.MaxInputChannels))
	}

	p := portaudio.HighLatencyParameters(dev, nil)
	p.Input.Channels = cfg.Channels
	p.SampleRate = float64(cfg.SampleRate)
	p.FramesPerBuffer = cfg.FramesPerBuffer

	in := &inputStream{buf: make([]int16, bufferFrames(cfg)*cfg.Channels)}
	in.stream, err = portaudio.OpenStream(p, &in.buf)
	if err != nil {
		return nil, faults.New(faults.KindDeviceUnavailable, "audio.open_input", resource, err)
	}
	if err := in.stream.Start(); err != nil {
		in.stream.Close()
		return nil, faults.New(faults.KindDeviceUnavailable, "audio.open_input", resource, err)
	}
	slog.Debug("Input stream started", "device", dev.Index, "name", dev.Name, "channels", cfg.Channels, "rate", cfg.SampleRate)
	return in, nil
}

func bufferFrames(cfg audio.StreamConfig) int {
	if cfg.FramesPerBuffer > 0 {
		return cfg.FramesPerBuffer
	}
	return 1024
}

func (b *Backend) Terminate() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.terminated {
		return nil
	}
	b.terminated = true
	return portaudio.Terminate()
}

func (b *Backend) check() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.terminated {
		return faults.ErrClosed
	}
	return nil
}

// outputStream writes through a buffer registered with PortAudio. The
// buffer is resliced for each chunk; PortAudio reads its current length.
type outputStream struct {
	stream   *portaudio.Stream
	channels int
	buf      []float32
}

func (o *outputStream) Write(samples []float32) error {
	size := cap(o.buf)
	for len(samples) > 0 {
		n := min(size, len(samples))
		n -= n % o.channels
		if n == 0 {
			return fmt.Errorf("partial frame of %d samples", len(samples))
		}
		o.buf = o.buf[:n]
		copy(o.buf, samples[:n])
		if err := o.stream.Write(); err != nil && !errors.Is(err, portaudio.OutputUnderflowed) {
			return err
		}
		samples = samples[n:]
	}
	return nil
}

func (o *outputStream) Close() error {
	return errors.Join(o.stream.Stop(), o.stream.Close())
}

type inputStream struct {
	stream *portaudio.Stream
	buf    []int16
}

// Read fills dst chunk by chunk. Overflow is logged and tolerated; the
// samples that were delivered are kept.
func (in *inputStream) Read(dst []int16) error {
	size := cap(in.buf)
	for len(dst) > 0 {
		n := min(size, len(dst))
		in.buf = in.buf[:n]
		if err := in.stream.Read(); err != nil {
			if !errors.Is(err, portaudio.InputOverflowed) {
				return err
			}
			slog.Warn("Capture input overflowed, samples were dropped")
		}
		copy(dst, in.buf)
		dst = dst[n:]
	}
	return nil
}

func (in *inputStream) Close() error {
	return errors.Join(in.stream.Stop(), in.stream.Close())
}
