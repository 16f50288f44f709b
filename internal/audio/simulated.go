package audio

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/audiolibrelab/trialsync/internal/faults"
	"github.com/audiolibrelab/trialsync/internal/routing"
)

// Playback is what a simulated output stream received.
type Playback struct {
	Device     int
	Channels   int
	SampleRate int
	Frames     int
	// Peak holds the largest absolute sample written to each channel.
	Peak   []float32
	Closed bool
}

// Simulated is an in-process Backend with a fixed device list. Capture
// returns a quiet sine tone and playback is recorded instead of heard.
// When realtime is set, reads and writes take as long as the audio they
// carry.
type Simulated struct {
	mu         sync.Mutex
	devices    []routing.DeviceInfo
	realtime   bool
	playbacks  []*Playback
	inputs     int
	openInputs int
	terminated bool
	onRead     func(chunk int) error
}

// NewSimulated returns a simulated backend. A nil device list uses
// SimulatedDevices.
func NewSimulated(devices []routing.DeviceInfo, realtime bool) *Simulated {
	if devices == nil {
		devices = SimulatedDevices()
	}
	slog.Warn("Audio backend is simulated, nothing will be played or recorded", "devices", len(devices))
	return &Simulated{devices: devices, realtime: realtime}
}

// SimulatedDevices mimics a Fireface interface exposed as stereo pairs, one
// of them reserved, plus a stereo capture device.
func SimulatedDevices() []routing.DeviceInfo {
	devices := []routing.DeviceInfo{
		{Index: 0, Name: "Simulated Microphones", HostAPI: "simulated", MaxInputChannels: 2, DefaultSampleRate: 44100},
	}
	for i, pair := range []string{"1+2", "3+4", "5+6", "7+8", "9+10", "11+12"} {
		devices = append(devices, routing.DeviceInfo{
			Index:             i + 1,
			Name:              fmt.Sprintf("Analog (%s) (Fireface Analog (%s))", pair, pair),
			HostAPI:           "simulated",
			MaxOutputChannels: 2,
			DefaultSampleRate: 44100,
		})
	}
	return devices
}

func (s *Simulated) Type() BackendType {
	return BackendTypeSimulated
}

func (s *Simulated) Devices() ([]routing.DeviceInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.terminated {
		return nil, faults.ErrClosed
	}
	out := make([]routing.DeviceInfo, len(s.devices))
	copy(out, s.devices)
	return out, nil
}

func (s *Simulated) device(index int) (routing.DeviceInfo, bool) {
	for _, d := range s.devices {
		if d.Index == index {
			return d, true
		}
	}
	return routing.DeviceInfo{}, false
}

func (s *Simulated) OpenOutput(cfg StreamConfig) (OutputStream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.terminated {
		return nil, faults.ErrClosed
	}
	resource := fmt.Sprintf("device %d", cfg.Device)
	d, ok := s.device(cfg.Device)
	if !ok {
		return nil, faults.New(faults.KindDeviceUnavailable, "audio.open_output", resource, fmt.Errorf("no such device"))
	}
	if d.MaxOutputChannels < cfg.Channels {
		return nil, faults.New(faults.KindDeviceUnavailable, "audio.open_output", resource,
			fmt.Errorf("%d output channels requested, device has %d", cfg.Channels, d.MaxOutputChannels))
	}
	p := &Playback{Device: cfg.Device, Channels: cfg.Channels, SampleRate: cfg.SampleRate, Peak: make([]float32, cfg.Channels)}
	s.playbacks = append(s.playbacks, p)
	return &simOutput{backend: s, p: p}, nil
}

func (s *Simulated) OpenInput(cfg StreamConfig) (InputStream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.terminated {
		return nil, faults.ErrClosed
	}
	d, ok := FindInputDevice(s.devices, cfg.Device, cfg.Channels)
	if !ok {
		return nil, faults.New(faults.KindDeviceUnavailable, "audio.open_input", fmt.Sprintf("device %d", cfg.Device),
			fmt.Errorf("no input device with %d channels", cfg.Channels))
	}
	s.inputs++
	s.openInputs++
	return &simInput{backend: s, device: d.Index, channels: cfg.Channels, rate: cfg.SampleRate}, nil
}

func (s *Simulated) Terminate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.terminated = true
	return nil
}

// OnRead installs a hook run before every capture read, with the number of
// chunks the stream has delivered so far. A non-nil return fails that read.
// It lets callers inject device faults or act at a known point mid-capture.
func (s *Simulated) OnRead(hook func(chunk int) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onRead = hook
}

// Playbacks returns a snapshot of every output stream opened so far.
func (s *Simulated) Playbacks() []Playback {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Playback, len(s.playbacks))
	for i, p := range s.playbacks {
		out[i] = *p
		out[i].Peak = append([]float32(nil), p.Peak...)
	}
	return out
}

// InputsOpened counts capture streams opened so far.
func (s *Simulated) InputsOpened() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inputs
}

// OpenInputs counts capture streams not yet closed.
func (s *Simulated) OpenInputs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openInputs
}

func (s *Simulated) pace(frames, rate int) {
	if s.realtime && rate > 0 {
		time.Sleep(time.Duration(frames) * time.Second / time.Duration(rate))
	}
}

type simOutput struct {
	backend *Simulated
	p       *Playback
}

func (o *simOutput) Write(samples []float32) error {
	o.backend.mu.Lock()
	if o.p.Closed {
		o.backend.mu.Unlock()
		return faults.New(faults.KindClosed, "audio.write", fmt.Sprintf("device %d", o.p.Device), nil)
	}
	for i, v := range samples {
		ch := i % o.p.Channels
		if a := float32(math.Abs(float64(v))); a > o.p.Peak[ch] {
			o.p.Peak[ch] = a
		}
	}
	frames := len(samples) / o.p.Channels
	o.p.Frames += frames
	rate := o.p.SampleRate
	o.backend.mu.Unlock()

	o.backend.pace(frames, rate)
	return nil
}

func (o *simOutput) Close() error {
	o.backend.mu.Lock()
	defer o.backend.mu.Unlock()
	o.p.Closed = true
	return nil
}

type simInput struct {
	backend  *Simulated
	device   int
	channels int
	rate     int
	pos      int
	chunks   int
	closed   bool
}

// Read fills buf with a 440 Hz tone at a tenth of full scale.
func (in *simInput) Read(buf []int16) error {
	if in.closed {
		return faults.New(faults.KindClosed, "audio.read", fmt.Sprintf("device %d", in.device), nil)
	}
	in.backend.mu.Lock()
	hook := in.backend.onRead
	in.backend.mu.Unlock()
	if hook != nil {
		if err := hook(in.chunks); err != nil {
			return faults.New(faults.KindDeviceUnavailable, "audio.read", fmt.Sprintf("device %d", in.device), err)
		}
	}
	in.chunks++

	frames := len(buf) / in.channels
	for f := 0; f < frames; f++ {
		v := int16(3276 * math.Sin(2*math.Pi*440*float64(in.pos)/float64(in.rate)))
		for c := 0; c < in.channels; c++ {
			buf[f*in.channels+c] = v
		}
		in.pos++
	}
	in.backend.pace(frames, in.rate)
	return nil
}

func (in *simInput) Close() error {
	if in.closed {
		return nil
	}
	in.closed = true
	in.backend.mu.Lock()
	in.backend.openInputs--
	in.backend.mu.Unlock()
	return nil
}
