package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/audiolibrelab/trialsync/internal/audio"
	"github.com/audiolibrelab/trialsync/internal/audio/pa"
	"github.com/audiolibrelab/trialsync/internal/config"
	"github.com/audiolibrelab/trialsync/internal/sensor"
	"github.com/audiolibrelab/trialsync/internal/service"
)

// newBackend picks the audio backend. "auto" falls back to the simulated
// backend when PortAudio cannot start.
func newBackend(c *config.Config) (audio.Backend, error) {
	kind, err := audio.ParseBackendType(c.Audio.Backend)
	if err != nil {
		return nil, err
	}
	if c.Simulate {
		kind = audio.BackendTypeSimulated
	}

	switch kind {
	case audio.BackendTypeSimulated:
		return audio.NewSimulated(audio.SimulatedDevices(), true), nil
	case audio.BackendTypePortAudio:
		b, err := pa.New()
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		b, err := pa.New()
		if err != nil {
			slog.Warn("PortAudio unavailable, falling back to simulated audio", "error", err)
			return audio.NewSimulated(audio.SimulatedDevices(), true), nil
		}
		return b, nil
	}
}

// sensorOpener returns how the service reaches the angle encoder.
func sensorOpener(c *config.Config) service.SensorOpener {
	if c.Simulate {
		return func() (sensor.Source, error) {
			return sensor.NewSimulatedSource(nil, simulatedPace(c)), nil
		}
	}
	return func() (sensor.Source, error) {
		if c.Sensor.Port == "" {
			return nil, fmt.Errorf("sensor.port is not configured (see 'trialsync sensor ports')")
		}
		return sensor.OpenSerial(c.Sensor.Port, c.Sensor.BaudRate)
	}
}

// simulatedPace spreads one acquisition over the configured window.
func simulatedPace(c *config.Config) time.Duration {
	if c.Sensor.Mode == string(sensor.ModeDuration) || c.Sensor.SampleCount < 1 {
		return 10 * time.Millisecond
	}
	return c.Sensor.Window / time.Duration(c.Sensor.SampleCount)
}

func newService(c *config.Config) (*service.TrialService, error) {
	backend, err := newBackend(c)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio backend: %w", err)
	}
	svc, err := service.New(c, service.Options{
		Backend:    backend,
		OpenSensor: sensorOpener(c),
	})
	if err != nil {
		backend.Terminate()
		return nil, err
	}
	return svc, nil
}

// stimulusFile resolves a configured stimulus name, or accepts a path.
func stimulusFile(c *config.Config, arg string) (string, string, error) {
	if st, err := c.Stimulus(arg); err == nil {
		return st.Name, st.File, nil
	}
	if _, err := os.Stat(arg); err != nil {
		return "", "", fmt.Errorf("%q is neither a configured stimulus nor a readable file", arg)
	}
	return filepath.Base(arg), arg, nil
}

// outputPath places bare names in the configured output directory.
func outputPath(c *config.Config, name string) string {
	if filepath.IsAbs(name) || filepath.Dir(name) != "." {
		return name
	}
	return filepath.Join(c.Output.Directory, name)
}
