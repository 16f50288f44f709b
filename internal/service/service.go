package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/audiolibrelab/trialsync/internal/audio"
	"github.com/audiolibrelab/trialsync/internal/config"
	"github.com/audiolibrelab/trialsync/internal/faults"
	"github.com/audiolibrelab/trialsync/internal/metrics"
	"github.com/audiolibrelab/trialsync/internal/play"
	"github.com/audiolibrelab/trialsync/internal/routing"
	"github.com/audiolibrelab/trialsync/internal/sensor"
	"github.com/audiolibrelab/trialsync/internal/sequence"
)

// Service is what a trial orchestrator drives: line routing, stimulus
// playback, sensor responses, balanced orders and synced recordings.
type Service interface {
	// Core trial operations
	ResolveLine(line int) (routing.Endpoint, error)
	PlayStimulus(ctx context.Context, stimulusPath string, line int, blocking bool) error
	WaitPlayback() error
	AcquireResponse(ctx context.Context) (float64, error)
	ZeroSensor(ctx context.Context) error
	GenerateBalancedOrder(itemCount, trialCount int) ([]int, error)
	RecordSynced(ctx context.Context, stimulusPath string, line int, offset time.Duration, outPath string) (string, error)

	// Recording without a stimulus
	RecordFor(ctx context.Context, duration time.Duration, outPath string) (string, error)

	// Balanced cross-product sweep
	BalancedBlock(locations, conditions, trialCount int) (sequence.Block, error)
	RunSweep(ctx context.Context, req SweepRequest) ([]SweepResult, error)

	// Information operations
	Devices() ([]routing.DeviceInfo, error)
	Candidates() ([]routing.DeviceInfo, error)
	Lines() (*routing.Mapping, error)
	GetStatus() Status
	GetConfig() *config.Config
	GetLastError() string
	Metrics() *metrics.Metrics

	// Cleanup
	Close() error
}

// Status is a snapshot of the hardware state.
type Status struct {
	Backend       audio.BackendType `json:"backend" yaml:"backend"`
	Simulated     bool              `json:"simulated" yaml:"simulated"`
	Recorder      audio.Status      `json:"recorder" yaml:"recorder"`
	Playing       bool              `json:"playing" yaml:"playing"`
	SensorOpen    bool              `json:"sensor_open" yaml:"sensor_open"`
	MappingSource string            `json:"mapping_source,omitempty" yaml:"mapping_source,omitempty"`
	Lines         int               `json:"lines" yaml:"lines"`
	LastResponse  *float64          `json:"last_response,omitempty" yaml:"last_response,omitempty"`
	LastError     string            `json:"last_error,omitempty" yaml:"last_error,omitempty"`
}

// SensorOpener opens the link to the angle encoder on first use.
type SensorOpener func() (sensor.Source, error)

// Options carries the collaborators built by the caller. Backend is
// required; the rest default to fresh instances.
type Options struct {
	Backend    audio.Backend
	OpenSensor SensorOpener
	Metrics    *metrics.Metrics
	Rand       *rand.Rand
	CacheSize  int
}

// TrialService is the main service implementation
type TrialService struct {
	cfg       *config.Config
	backend   audio.Backend
	player    *play.Player
	recorder  *audio.Recorder
	sequencer *sequence.Sequencer
	stimuli   *lru.Cache[string, *audio.Stimulus]
	metrics   *metrics.Metrics

	openSensor SensorOpener
	sensorMu   sync.Mutex
	reader     *sensor.Reader

	routerMu sync.Mutex
	router   *routing.Router

	captureMu   sync.Mutex
	captureOpen bool

	lastResponse *float64
	lastError    string
	stateMutex   sync.RWMutex
}

// New creates a new service instance
func New(cfg *config.Config, opts Options) (*TrialService, error) {
	if opts.Backend == nil {
		return nil, fmt.Errorf("an audio backend is required")
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = 32
	}
	cache, err := lru.New[string, *audio.Stimulus](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create stimulus cache: %w", err)
	}

	return &TrialService{
		cfg:        cfg,
		backend:    opts.Backend,
		player:     play.New(opts.Backend, cfg.Audio.ChunkSize),
		recorder:   audio.NewRecorder(opts.Backend, cfg.Audio.PreRoll),
		sequencer:  sequence.New(opts.Rand),
		stimuli:    cache,
		metrics:    opts.Metrics,
		openSensor: opts.OpenSensor,
	}, nil
}

// routing is built on first use so commands that never play audio do not
// need a usable line table.
func (s *TrialService) routing() (*routing.Router, error) {
	s.routerMu.Lock()
	defer s.routerMu.Unlock()
	if s.router != nil {
		return s.router, nil
	}
	r, err := routing.NewRouter(s.backend, s.cfg.Lines, s.cfg.Audio.Candidates)
	if err != nil {
		return nil, err
	}
	s.router = r
	return r, nil
}

// ResolveLine maps a line to its device and channel.
func (s *TrialService) ResolveLine(line int) (routing.Endpoint, error) {
	r, err := s.routing()
	if err != nil {
		return routing.Endpoint{}, s.fail(err)
	}
	ep, err := r.Resolve(line)
	if err != nil {
		return routing.Endpoint{}, s.fail(err)
	}
	return ep, nil
}

// loadStimulus decodes a file once and serves later requests from the cache.
func (s *TrialService) loadStimulus(path string) (*audio.Stimulus, error) {
	if stim, ok := s.stimuli.Get(path); ok {
		s.metrics.StimulusCache.WithLabelValues("hit").Inc()
		return stim, nil
	}
	s.metrics.StimulusCache.WithLabelValues("miss").Inc()
	stim, err := audio.LoadStimulus(path)
	if err != nil {
		return nil, err
	}
	s.stimuli.Add(path, stim)
	slog.Debug("Stimulus decoded", "path", path, "duration", stim.Duration, "rate", stim.SampleRate(), "channels", stim.Channels())
	return stim, nil
}

// PlayStimulus plays a stimulus file on a line.
func (s *TrialService) PlayStimulus(ctx context.Context, stimulusPath string, line int, blocking bool) error {
	ep, err := s.ResolveLine(line)
	if err != nil {
		return err
	}
	stim, err := s.loadStimulus(stimulusPath)
	if err != nil {
		return s.fail(err)
	}
	return s.play(ctx, stim, line, ep, blocking)
}

func (s *TrialService) play(ctx context.Context, stim *audio.Stimulus, line int, ep routing.Endpoint, blocking bool) error {
	start := time.Now()
	slog.Info("Playing stimulus", "stimulus", stim.Path, "line", line, "device", ep.Device, "channel", ep.Channel, "blocking", blocking)
	err := s.player.Play(ctx, stim, ep, blocking)
	s.metrics.Playbacks.WithLabelValues(strconv.Itoa(line), metrics.Outcome(err)).Inc()
	if blocking {
		s.metrics.Observe("play", start)
	}
	if err != nil {
		return s.fail(err)
	}
	s.clearLastError()
	return nil
}

// PlayTone plays a synthesized tone on a line, used to check wiring.
func (s *TrialService) PlayTone(ctx context.Context, line int, freq float64, d time.Duration) error {
	ep, err := s.ResolveLine(line)
	if err != nil {
		return err
	}
	return s.play(ctx, audio.Tone(freq, d, s.cfg.Audio.SampleRate), line, ep, true)
}

// WaitPlayback waits for a non-blocking playback to finish.
func (s *TrialService) WaitPlayback() error {
	return s.player.Wait()
}

// sensorReader opens the sensor on first use.
func (s *TrialService) sensorReader(ctx context.Context) (*sensor.Reader, error) {
	s.sensorMu.Lock()
	defer s.sensorMu.Unlock()
	if s.reader != nil {
		return s.reader, nil
	}
	if s.openSensor == nil {
		return nil, faults.New(faults.KindConnection, "sensor.open", s.cfg.Sensor.Port, fmt.Errorf("no sensor configured"))
	}
	src, err := s.openSensor()
	if err != nil {
		return nil, err
	}
	r, err := sensor.Open(ctx, src, s.cfg.SensorOptions())
	if err != nil {
		return nil, err
	}
	s.reader = r
	return r, nil
}

// AcquireResponse reads the participant's response angle.
func (s *TrialService) AcquireResponse(ctx context.Context) (float64, error) {
	r, err := s.sensorReader(ctx)
	if err != nil {
		s.metrics.Acquisitions.WithLabelValues(metrics.Outcome(err)).Inc()
		return 0, s.fail(err)
	}
	start := time.Now()
	angle, err := r.Acquire(ctx)
	s.metrics.Acquisitions.WithLabelValues(metrics.Outcome(err)).Inc()
	s.metrics.Observe("acquire", start)
	if err != nil {
		return 0, s.fail(err)
	}
	s.metrics.ResponseAngle.Observe(angle)

	s.stateMutex.Lock()
	s.lastResponse = &angle
	s.lastError = ""
	s.stateMutex.Unlock()
	return angle, nil
}

// ZeroSensor resets the encoder's zero point.
func (s *TrialService) ZeroSensor(ctx context.Context) error {
	r, err := s.sensorReader(ctx)
	if err != nil {
		return s.fail(err)
	}
	if err := r.Zero(ctx); err != nil {
		return s.fail(err)
	}
	return nil
}

// GenerateBalancedOrder returns trialCount indices in [0, itemCount) with
// every index used equally often.
func (s *TrialService) GenerateBalancedOrder(itemCount, trialCount int) ([]int, error) {
	order, err := s.sequencer.Generate(itemCount, trialCount)
	if err != nil {
		return nil, s.fail(err)
	}
	s.metrics.Orders.Inc()
	return order, nil
}

// BalancedBlock orders a locations x conditions cross product.
func (s *TrialService) BalancedBlock(locations, conditions, trialCount int) (sequence.Block, error) {
	block, err := s.sequencer.Block(locations, conditions, trialCount)
	if err != nil {
		return sequence.Block{}, s.fail(err)
	}
	s.metrics.Orders.Inc()
	return block, nil
}

// ensureCapture selects the capture device once.
func (s *TrialService) ensureCapture() error {
	s.captureMu.Lock()
	defer s.captureMu.Unlock()
	if s.captureOpen {
		return nil
	}

	device := audio.DefaultDevice
	if want := s.cfg.Audio.InputDevice; want != "" {
		devices, err := s.backend.Devices()
		if err != nil {
			return faults.New(faults.KindDeviceUnavailable, "recorder.open_capture", want, err)
		}
		found := false
		for _, d := range devices {
			if d.MaxInputChannels >= s.cfg.Audio.RecordChannels && strings.Contains(d.Name, want) {
				device, found = d.Index, true
				break
			}
		}
		if !found {
			return faults.New(faults.KindDeviceUnavailable, "recorder.open_capture", want,
				fmt.Errorf("no input device matching %q", want))
		}
	}

	if err := s.recorder.OpenCapture(audio.CaptureConfig{
		Device:     device,
		SampleRate: s.cfg.Audio.SampleRate,
		Channels:   s.cfg.Audio.RecordChannels,
		ChunkSize:  s.cfg.Audio.ChunkSize,
	}); err != nil {
		return err
	}
	s.captureOpen = true
	return nil
}

// RecordSynced plays a stimulus on a line while recording, and saves the
// capture to outPath (".wav" is appended when missing). The capture runs
// for the stimulus duration plus offset.
func (s *TrialService) RecordSynced(ctx context.Context, stimulusPath string, line int, offset time.Duration, outPath string) (string, error) {
	ep, err := s.ResolveLine(line)
	if err != nil {
		return "", err
	}
	stim, err := s.loadStimulus(stimulusPath)
	if err != nil {
		return "", s.fail(err)
	}
	if err := s.ensureCapture(); err != nil {
		return "", s.fail(err)
	}

	s.recorder.SetStimulus(stim)
	defer s.recorder.Finish()

	return s.capture(ctx, s.player.Cue(stim, ep), 0, offset, outPath)
}

// RecordFor records for a fixed duration without playing anything.
func (s *TrialService) RecordFor(ctx context.Context, duration time.Duration, outPath string) (string, error) {
	if err := s.ensureCapture(); err != nil {
		return "", s.fail(err)
	}
	s.recorder.SetStimulus(nil)
	defer s.recorder.Finish()
	return s.capture(ctx, nil, duration, 0, outPath)
}

func (s *TrialService) capture(ctx context.Context, cue audio.Cue, duration, offset time.Duration, outPath string) (string, error) {
	start := time.Now()
	session, err := s.recorder.Record(ctx, cue, duration, offset)
	s.metrics.Observe("record", start)
	if err != nil {
		s.metrics.Recordings.WithLabelValues(metrics.Outcome(err)).Inc()
		return "", s.fail(err)
	}
	path, err := s.recorder.Save(outPath)
	s.metrics.Recordings.WithLabelValues(metrics.Outcome(err)).Inc()
	if err != nil {
		return "", s.fail(err)
	}
	s.metrics.RecordedSeconds.Add(session.Duration().Seconds())
	s.clearLastError()
	return path, nil
}

// Devices lists every host audio device.
func (s *TrialService) Devices() ([]routing.DeviceInfo, error) {
	devices, err := s.backend.Devices()
	if err != nil {
		return nil, faults.New(faults.KindDeviceUnavailable, "audio.devices", string(s.backend.Type()), err)
	}
	return devices, nil
}

// Candidates lists the devices matching the configured output criteria.
// It works even when no line table can be built.
func (s *TrialService) Candidates() ([]routing.DeviceInfo, error) {
	return routing.NewLister(s.backend, s.cfg.Audio.Candidates).Candidates()
}

// Lines returns the active line table.
func (s *TrialService) Lines() (*routing.Mapping, error) {
	r, err := s.routing()
	if err != nil {
		return nil, err
	}
	return r.Mapping(), nil
}

// GetStatus reports the hardware state without touching the hardware.
func (s *TrialService) GetStatus() Status {
	recorderStatus, _ := s.recorder.Status()
	st := Status{
		Backend:   s.backend.Type(),
		Simulated: s.cfg.Simulate || s.backend.Type() == audio.BackendTypeSimulated,
		Recorder:  recorderStatus,
		Playing:   s.player.Playing(),
	}

	s.sensorMu.Lock()
	st.SensorOpen = s.reader != nil
	s.sensorMu.Unlock()

	s.routerMu.Lock()
	if s.router != nil {
		st.MappingSource = s.router.Mapping().Source()
		st.Lines = s.router.Mapping().Lines()
	}
	s.routerMu.Unlock()

	s.stateMutex.RLock()
	st.LastResponse = s.lastResponse
	st.LastError = s.lastError
	s.stateMutex.RUnlock()
	return st
}

// GetConfig returns the current configuration
func (s *TrialService) GetConfig() *config.Config {
	return s.cfg
}

func (s *TrialService) Metrics() *metrics.Metrics {
	return s.metrics
}

// Close stops playback and releases the sensor and the audio backend.
func (s *TrialService) Close() error {
	s.player.Stop()

	var errs []error
	s.sensorMu.Lock()
	if s.reader != nil {
		if err := s.reader.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close sensor: %w", err))
		}
		s.reader = nil
	}
	s.sensorMu.Unlock()

	if err := s.recorder.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to release audio backend: %w", err))
	}
	return errors.Join(errs...)
}

// GetLastError returns the last error message
func (s *TrialService) GetLastError() string {
	s.stateMutex.RLock()
	defer s.stateMutex.RUnlock()
	return s.lastError
}

// fail records err as the last error and returns it.
func (s *TrialService) fail(err error) error {
	s.stateMutex.Lock()
	s.lastError = err.Error()
	s.stateMutex.Unlock()
	return err
}

func (s *TrialService) clearLastError() {
	s.stateMutex.Lock()
	s.lastError = ""
	s.stateMutex.Unlock()
}

var _ Service = (*TrialService)(nil)
