package audio

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/faiface/beep"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiolibrelab/trialsync/internal/faults"
	"github.com/audiolibrelab/trialsync/internal/routing"
)

type fakeCue struct {
	backend   *Simulated
	started   bool
	waited    bool
	openAtCue int
	startErr  error
}

func (c *fakeCue) Start(ctx context.Context) error {
	c.started = true
	c.openAtCue = c.backend.OpenInputs()
	return c.startErr
}

func (c *fakeCue) Wait() error {
	c.waited = true
	return nil
}

func newTestRecorder(t *testing.T) (*Recorder, *Simulated) {
	t.Helper()
	backend := NewSimulated(nil, false)
	r := NewRecorder(backend, 0)
	require.NoError(t, r.OpenCapture(CaptureConfig{Device: DefaultDevice, SampleRate: 44100, ChunkSize: 1024}))
	return r, backend
}

func TestChunkIterations(t *testing.T) {
	assert.Equal(t, 91, ChunkIterations(2100*time.Millisecond, 44100, 1024))
	assert.Equal(t, 1, ChunkIterations(time.Millisecond, 44100, 1024))
	assert.Equal(t, 2, ChunkIterations(2048*time.Second/44100, 44100, 1024))
}

func TestRecordStimulusPlusOffset(t *testing.T) {
	r, backend := newTestRecorder(t)
	r.SetStimulus(Tone(440, 2*time.Second, 44100))
	cue := &fakeCue{backend: backend}

	session, err := r.Record(context.Background(), cue, 0, 100*time.Millisecond)
	require.NoError(t, err)

	want := 44100 * 2.1
	assert.InDelta(t, want, float64(session.Frames()), 1024)
	assert.GreaterOrEqual(t, float64(session.Frames()), want)
	assert.Equal(t, 91, session.Iterations)
	assert.Equal(t, 2, session.Channels)
	assert.Equal(t, 44100, session.SampleRate)

	assert.True(t, cue.started)
	assert.True(t, cue.waited)
	assert.Equal(t, 1, cue.openAtCue, "capture stream must be open before playback starts")
	assert.Equal(t, 0, backend.OpenInputs())

	status, captured := r.Status()
	assert.Equal(t, StatusCaptured, status)
	assert.Same(t, session, captured)
}

func TestRecordUsesStimulusSampleRate(t *testing.T) {
	r, _ := newTestRecorder(t)
	r.SetStimulus(Tone(440, 500*time.Millisecond, 22050))

	session, err := r.Record(context.Background(), nil, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 22050, session.SampleRate)
	assert.InDelta(t, 22050*0.5, float64(session.Frames()), 1024)
}

func TestRecordExplicitDuration(t *testing.T) {
	r, _ := newTestRecorder(t)

	session, err := r.Record(context.Background(), nil, time.Second, 0)
	require.NoError(t, err)
	assert.InDelta(t, 44100, float64(session.Frames()), 1024)

	_, err = r.Record(context.Background(), nil, 0, 0)
	assert.Error(t, err)
}

func TestRecordClosesStreamOnCueFailure(t *testing.T) {
	r, backend := newTestRecorder(t)
	cue := &fakeCue{backend: backend, startErr: errors.New("device gone")}

	_, err := r.Record(context.Background(), cue, 100*time.Millisecond, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "device gone")
	assert.Equal(t, 0, backend.OpenInputs())

	status, _ := r.Status()
	assert.Equal(t, StatusError, status)
}

func TestRecordReadFailureMidCapture(t *testing.T) {
	r, backend := newTestRecorder(t)
	backend.OnRead(func(chunk int) error {
		if chunk == 5 {
			return errors.New("usb disconnect")
		}
		return nil
	})
	cue := &fakeCue{backend: backend}

	session, err := r.Record(context.Background(), cue, time.Second, 0)
	require.Error(t, err)
	assert.Nil(t, session)
	assert.Contains(t, err.Error(), "after 5 chunks")
	assert.ErrorIs(t, err, faults.ErrDeviceUnavailable)
	assert.True(t, cue.waited)
	assert.Equal(t, 1, backend.InputsOpened())
	assert.Equal(t, 0, backend.OpenInputs())

	status, captured := r.Status()
	assert.Equal(t, StatusError, status)
	assert.Nil(t, captured)

	// The next trial starts from a clean stream.
	backend.OnRead(nil)
	_, err = r.Record(context.Background(), nil, 100*time.Millisecond, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, backend.OpenInputs())
}

func TestRecordCancelledMidCapture(t *testing.T) {
	r, backend := newTestRecorder(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	backend.OnRead(func(chunk int) error {
		if chunk == 3 {
			cancel()
		}
		return nil
	})

	_, err := r.Record(ctx, &fakeCue{backend: backend}, time.Second, 0)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, backend.InputsOpened())
	assert.Equal(t, 0, backend.OpenInputs())

	status, _ := r.Status()
	assert.Equal(t, StatusError, status)
}

func TestRecordCancelledDuringPreRoll(t *testing.T) {
	backend := NewSimulated(nil, false)
	r := NewRecorder(backend, 5*time.Second)
	require.NoError(t, r.OpenCapture(CaptureConfig{Device: DefaultDevice, SampleRate: 44100, ChunkSize: 1024}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := r.Record(ctx, nil, time.Second, 0)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, backend.InputsOpened())
}

func TestRecordRequiresOpenCapture(t *testing.T) {
	r := NewRecorder(NewSimulated(nil, false), 0)
	_, err := r.Record(context.Background(), nil, time.Second, 0)
	assert.Error(t, err)
}

func TestOpenCaptureWithoutInputDevice(t *testing.T) {
	outputsOnly := []routing.DeviceInfo{{Index: 3, Name: "Fireface Analog (1+2)", MaxOutputChannels: 2}}
	r := NewRecorder(NewSimulated(outputsOnly, false), 0)

	err := r.OpenCapture(CaptureConfig{Device: DefaultDevice, SampleRate: 44100, ChunkSize: 1024})
	assert.ErrorIs(t, err, faults.ErrDeviceUnavailable)

	err = r.OpenCapture(CaptureConfig{Device: 3, SampleRate: 44100, ChunkSize: 1024})
	assert.ErrorIs(t, err, faults.ErrDeviceUnavailable)

	err = r.OpenCapture(CaptureConfig{Device: DefaultDevice, SampleRate: 44100, ChunkSize: 1024, Channels: 3})
	assert.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	r, _ := newTestRecorder(t)
	session, err := r.Record(context.Background(), nil, 250*time.Millisecond, 0)
	require.NoError(t, err)
	frames := session.Frames()

	path, err := r.Save(filepath.Join(t.TempDir(), "participant_7", "trial"))
	require.NoError(t, err)
	assert.Equal(t, ".wav", filepath.Ext(path))

	info, err := Inspect(path)
	require.NoError(t, err)
	assert.Equal(t, frames, info.Frames)
	assert.Equal(t, 2, info.Channels)
	assert.Equal(t, 44100, info.SampleRate)
	assert.Equal(t, 2, info.Precision)

	_, err = r.Save(path)
	assert.Error(t, err, "a session can only be saved once")
}

func TestFinishAndClose(t *testing.T) {
	r, backend := newTestRecorder(t)
	_, err := r.Record(context.Background(), nil, 50*time.Millisecond, 0)
	require.NoError(t, err)

	r.Finish()
	status, session := r.Status()
	assert.Equal(t, StatusReady, status)
	assert.Nil(t, session)

	_, err = r.Record(context.Background(), nil, 50*time.Millisecond, 0)
	require.NoError(t, err)

	require.NoError(t, r.Close())
	assert.ErrorIs(t, r.Close(), faults.ErrClosed)
	_, err = backend.Devices()
	assert.ErrorIs(t, err, faults.ErrClosed)

	_, err = r.Record(context.Background(), nil, 50*time.Millisecond, 0)
	assert.ErrorIs(t, err, faults.ErrClosed)
}

func TestLoadStimulus(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "noise.wav")
	samples := make([]int16, 2*22050)
	for i := range samples {
		samples[i] = int16(i % 1000)
	}
	require.NoError(t, SaveWAV(path, samples, 22050, 2))

	stim, err := LoadStimulus(path)
	require.NoError(t, err)
	assert.Equal(t, 22050, stim.SampleRate())
	assert.Equal(t, 2, stim.Channels())
	assert.Len(t, stim.Frames, 22050)
	assert.Equal(t, time.Second, stim.Duration)
	assert.Len(t, stim.Mono(), 22050)
}

func TestLoadStimulusFailures(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadStimulus(filepath.Join(dir, "missing.wav"))
	assert.ErrorIs(t, err, faults.ErrUnreadableAudio)

	garbage := filepath.Join(dir, "garbage.wav")
	require.NoError(t, os.WriteFile(garbage, []byte("definitely not RIFF data"), 0644))
	_, err = LoadStimulus(garbage)
	assert.ErrorIs(t, err, faults.ErrUnreadableAudio)
	assert.Contains(t, err.Error(), garbage)
}

func TestTone(t *testing.T) {
	stim := Tone(1000, 250*time.Millisecond, 48000)
	assert.Equal(t, 250*time.Millisecond, stim.Duration)
	assert.Equal(t, beep.SampleRate(48000), stim.Format.SampleRate)
	assert.Len(t, stim.Frames, 12000)
}

func TestParseBackendType(t *testing.T) {
	for in, want := range map[string]BackendType{
		"":          BackendTypeAuto,
		"AUTO":      BackendTypeAuto,
		"portaudio": BackendTypePortAudio,
		"dummy":     BackendTypeSimulated,
		"simulated": BackendTypeSimulated,
	} {
		got, err := ParseBackendType(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseBackendType("pipewire")
	assert.Error(t, err)
}
