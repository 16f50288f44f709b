package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/audiolibrelab/trialsync/internal/faults"
)

// Status represents the current state of the recorder
type Status string

const (
	StatusStandby   Status = "STANDBY"
	StatusReady     Status = "READY"
	StatusRecording Status = "RECORDING"
	StatusCaptured  Status = "CAPTURED"
	StatusError     Status = "ERROR"
	StatusClosed    Status = "CLOSED"
)

// CaptureConfig is the capture stream format. Channels defaults to 2.
type CaptureConfig struct {
	Device     int
	SampleRate int
	Channels   int
	ChunkSize  int
}

// Cue is started right before the first chunk is read and waited on once
// capture ends. A non-blocking stimulus playback is the usual cue.
type Cue interface {
	Start(ctx context.Context) error
	Wait() error
}

// Session is one capture: the samples read and the format they were read in.
type Session struct {
	SampleRate int       `json:"sample_rate"`
	Channels   int       `json:"channels"`
	ChunkSize  int       `json:"chunk_size"`
	Iterations int       `json:"iterations"`
	Stimulus   string    `json:"stimulus,omitempty"`
	StartTime  time.Time `json:"start_time"`
	Samples    []int16   `json:"-"`
}

// Frames is the number of captured frames.
func (s *Session) Frames() int {
	if s.Channels == 0 {
		return 0
	}
	return len(s.Samples) / s.Channels
}

// Duration is the captured length.
func (s *Session) Duration() time.Duration {
	if s.SampleRate == 0 {
		return 0
	}
	return time.Duration(s.Frames()) * time.Second / time.Duration(s.SampleRate)
}

// ChunkIterations is how many chunks cover d at the given rate, rounding up.
func ChunkIterations(d time.Duration, sampleRate, chunkSize int) int {
	frames := int(math.Ceil(d.Seconds() * float64(sampleRate)))
	return (frames + chunkSize - 1) / chunkSize
}

// Recorder captures from one input device while a cue plays. Playback is
// started immediately before the first chunk read; alignment between the two
// is best effort and may slip by up to one chunk period plus scheduling
// jitter.
type Recorder struct {
	backend Backend
	preRoll time.Duration

	mutex    sync.Mutex
	status   Status
	cfg      CaptureConfig
	stimulus *Stimulus
	session  *Session
}

// NewRecorder creates a recorder on backend. preRoll is the countdown
// logged before each capture.
func NewRecorder(backend Backend, preRoll time.Duration) *Recorder {
	return &Recorder{backend: backend, preRoll: preRoll, status: StatusStandby}
}

// OpenCapture selects the input device and format for later captures. It
// fails with DeviceUnavailable when no input device can provide the
// requested channel count.
func (r *Recorder) OpenCapture(cfg CaptureConfig) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	switch r.status {
	case StatusClosed:
		return faults.New(faults.KindClosed, "recorder.open_capture", "", nil)
	case StatusRecording:
		return faults.New(faults.KindBusy, "recorder.open_capture", "", nil)
	}

	if cfg.Channels == 0 {
		cfg.Channels = 2
	}
	if cfg.Channels < 1 || cfg.Channels > 2 {
		return fmt.Errorf("recordings support 1 or 2 channels, got %d", cfg.Channels)
	}
	if cfg.SampleRate <= 0 || cfg.ChunkSize <= 0 {
		return fmt.Errorf("sample rate and chunk size must be positive")
	}

	devices, err := r.backend.Devices()
	if err != nil {
		return faults.New(faults.KindDeviceUnavailable, "recorder.open_capture", "", err)
	}
	d, ok := FindInputDevice(devices, cfg.Device, cfg.Channels)
	if !ok {
		return faults.New(faults.KindDeviceUnavailable, "recorder.open_capture", fmt.Sprintf("device %d", cfg.Device),
			fmt.Errorf("no input device with %d channels", cfg.Channels))
	}
	cfg.Device = d.Index

	r.cfg = cfg
	r.status = StatusReady
	slog.Info("Capture device selected", "device", d.Index, "name", d.Name, "channels", cfg.Channels, "rate", cfg.SampleRate)
	return nil
}

// SetStimulus makes the next Record run for the stimulus duration plus the
// offset, at the stimulus sample rate. nil clears it.
func (r *Recorder) SetStimulus(s *Stimulus) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.stimulus = s
}

// Record captures audio. With a stimulus set, duration is replaced by the
// stimulus duration plus offset. The capture stream is closed on return and
// cue, if any, is waited on before Record returns.
func (r *Recorder) Record(ctx context.Context, cue Cue, duration, offset time.Duration) (*Session, error) {
	r.mutex.Lock()
	switch r.status {
	case StatusStandby:
		r.mutex.Unlock()
		return nil, fmt.Errorf("no capture device selected, call OpenCapture first")
	case StatusRecording:
		r.mutex.Unlock()
		return nil, faults.New(faults.KindBusy, "recorder.record", "", nil)
	case StatusClosed:
		r.mutex.Unlock()
		return nil, faults.New(faults.KindClosed, "recorder.record", "", nil)
	}

	cfg := r.cfg
	session := &Session{SampleRate: cfg.SampleRate, Channels: cfg.Channels, ChunkSize: cfg.ChunkSize}
	if r.stimulus != nil {
		duration = r.stimulus.Duration + offset
		session.SampleRate = r.stimulus.SampleRate()
		session.Stimulus = r.stimulus.Path
	}
	if duration <= 0 {
		r.mutex.Unlock()
		return nil, fmt.Errorf("record duration must be positive, got %s", duration)
	}
	r.status = StatusRecording
	r.session = nil
	r.mutex.Unlock()

	err := r.capture(ctx, cue, session, duration)

	r.mutex.Lock()
	defer r.mutex.Unlock()
	if err != nil {
		r.status = StatusError
		return nil, err
	}
	r.session = session
	r.status = StatusCaptured
	return session, nil
}

func (r *Recorder) capture(ctx context.Context, cue Cue, session *Session, duration time.Duration) (err error) {
	if err := r.countdown(ctx); err != nil {
		return err
	}

	stream, err := r.backend.OpenInput(StreamConfig{
		Device:          r.cfg.Device,
		Channels:        session.Channels,
		SampleRate:      session.SampleRate,
		FramesPerBuffer: session.ChunkSize,
	})
	if err != nil {
		return err
	}
	defer func() {
		if cerr := stream.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close capture stream: %w", cerr)
		}
	}()

	if cue != nil {
		if err := cue.Start(ctx); err != nil {
			return fmt.Errorf("failed to start playback: %w", err)
		}
		defer func() {
			if werr := cue.Wait(); werr != nil && err == nil && !errors.Is(werr, context.Canceled) {
				err = fmt.Errorf("playback failed: %w", werr)
			}
		}()
	}

	session.Iterations = ChunkIterations(duration, session.SampleRate, session.ChunkSize)
	session.StartTime = time.Now()
	slog.Info("Recording", "duration", duration, "chunks", session.Iterations, "rate", session.SampleRate)

	chunk := make([]int16, session.ChunkSize*session.Channels)
	session.Samples = make([]int16, 0, session.Iterations*len(chunk))
	for i := 0; i < session.Iterations; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := stream.Read(chunk); err != nil {
			return fmt.Errorf("capture read failed after %d chunks: %w", i, err)
		}
		session.Samples = append(session.Samples, chunk...)
	}

	slog.Info("Recording finished", "frames", session.Frames(), "elapsed", time.Since(session.StartTime).Round(time.Millisecond))
	return nil
}

func (r *Recorder) countdown(ctx context.Context) error {
	remaining := r.preRoll
	for remaining > 0 {
		slog.Info("Recording starts in", "remaining", remaining)
		step := time.Second
		if remaining < step {
			step = remaining
		}
		t := time.NewTimer(step)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		remaining -= step
	}
	return nil
}

// Save writes the last capture to path as 16-bit PCM, appending ".wav"
// when missing, and ends the session. It returns the written path.
func (r *Recorder) Save(path string) (string, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.session == nil {
		return "", fmt.Errorf("no captured session to save")
	}
	if !strings.EqualFold(filepath.Ext(path), ".wav") {
		path += ".wav"
	}
	s := r.session
	if err := SaveWAV(path, s.Samples, s.SampleRate, s.Channels); err != nil {
		return "", err
	}
	r.session = nil
	r.status = StatusReady
	slog.Info("Recording saved", "path", path, "frames", s.Frames())
	return path, nil
}

// Finish discards the current session. It may be called after every trial.
func (r *Recorder) Finish() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.session = nil
	r.stimulus = nil
	if r.status == StatusCaptured || r.status == StatusError {
		r.status = StatusReady
	}
}

// Close finishes and terminates the audio backend. It is valid once.
func (r *Recorder) Close() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.status == StatusClosed {
		return faults.New(faults.KindClosed, "recorder.close", "", nil)
	}
	if r.status == StatusRecording {
		return faults.New(faults.KindBusy, "recorder.close", "", nil)
	}
	r.session = nil
	r.stimulus = nil
	r.status = StatusClosed
	return r.backend.Terminate()
}

// Status returns the state and the captured session, if any.
func (r *Recorder) Status() (Status, *Session) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.status, r.session
}
