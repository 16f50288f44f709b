// Package sensor reads the participant's response angle from a serial
// encoder that prints one decimal reading per line.
package sensor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/audiolibrelab/trialsync/internal/faults"
)

// Mode selects how many lines make up one acquisition.
type Mode string

const (
	// ModeCount averages a fixed number of lines.
	ModeCount Mode = "count"
	// ModeDuration averages every line received within a time window.
	ModeDuration Mode = "duration"
)

// Options configures a Reader.
type Options struct {
	Mode        Mode
	SampleCount int
	Window      time.Duration
	// SettleDelay is waited after opening the link and after a zero command.
	SettleDelay time.Duration
	// ReadTimeout bounds the wait for any single line. Zero waits forever.
	ReadTimeout time.Duration
	ZeroCommand byte
}

// DefaultOptions matches the encoder firmware: 100 readings per response,
// 'A' resets the zero point, and the board needs 2s after a reset.
func DefaultOptions() Options {
	return Options{
		Mode:        ModeCount,
		SampleCount: 100,
		Window:      2 * time.Second,
		SettleDelay: 2 * time.Second,
		ReadTimeout: 10 * time.Second,
		ZeroCommand: 'A',
	}
}

// Validate checks the options for the selected mode.
func (o Options) Validate() error {
	switch o.Mode {
	case ModeCount:
		if o.SampleCount < 1 {
			return fmt.Errorf("sample count must be >= 1, got %d", o.SampleCount)
		}
	case ModeDuration:
		if o.Window <= 0 {
			return fmt.Errorf("window must be positive, got %s", o.Window)
		}
	default:
		return fmt.Errorf("unknown acquisition mode %q (expected %q or %q)", o.Mode, ModeCount, ModeDuration)
	}
	if o.SettleDelay < 0 || o.ReadTimeout < 0 {
		return fmt.Errorf("delays must not be negative")
	}
	return nil
}

// Reader owns a Source exclusively. Acquire and Zero are serialized; a call
// made while another is in progress fails with a Busy fault.
type Reader struct {
	src    Source
	opts   Options
	mu     sync.Mutex
	closed bool
}

// Open wraps src and waits SettleDelay for the device to come up.
func Open(ctx context.Context, src Source, opts Options) (*Reader, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if src == nil {
		return nil, faults.New(faults.KindConnection, "sensor.open", "", errors.New("no source"))
	}
	if err := sleepCtx(ctx, opts.SettleDelay); err != nil {
		src.Close()
		return nil, err
	}
	slog.Info("Angle sensor ready", "source", src.Name(), "mode", opts.Mode)
	return &Reader{src: src, opts: opts}, nil
}

// Options returns the reader's configuration.
func (r *Reader) Options() Options {
	return r.opts
}

// Acquire discards buffered input and returns the mean of the readings that
// arrive afterwards.
func (r *Reader) Acquire(ctx context.Context) (float64, error) {
	if !r.mu.TryLock() {
		return 0, faults.ErrBusy
	}
	defer r.mu.Unlock()
	if r.closed {
		return 0, faults.New(faults.KindClosed, "sensor.acquire", r.src.Name(), nil)
	}

	if err := r.src.Flush(); err != nil {
		return 0, faults.New(faults.KindConnection, "sensor.acquire", r.src.Name(), err)
	}

	var (
		values []float64
		err    error
	)
	if r.opts.Mode == ModeDuration {
		values, err = r.collectWindow(ctx)
	} else {
		values, err = r.collectCount(ctx)
	}
	if err != nil {
		return 0, err
	}
	if len(values) == 0 {
		return 0, faults.New(faults.KindNoSamples, "sensor.acquire", r.src.Name(), nil)
	}

	angle := mean(values)
	slog.Info("Estimated angle", "angle", angle, "samples", len(values))
	return angle, nil
}

func (r *Reader) collectCount(ctx context.Context) ([]float64, error) {
	values := make([]float64, 0, r.opts.SampleCount)
	for len(values) < r.opts.SampleCount {
		line, err := r.readLine(ctx)
		if err != nil {
			return nil, err
		}
		v, err := parseReading(line)
		if err != nil {
			return nil, faults.New(faults.KindMalformedSample, "sensor.acquire", r.src.Name(), err)
		}
		values = append(values, v)
	}
	return values, nil
}

func (r *Reader) collectWindow(ctx context.Context) ([]float64, error) {
	wctx, cancel := context.WithTimeout(ctx, r.opts.Window)
	defer cancel()

	var values []float64
	for {
		line, err := r.src.ReadLine(wctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if wctx.Err() != nil {
				return values, nil
			}
			return nil, faults.New(faults.KindConnection, "sensor.acquire", r.src.Name(), err)
		}
		v, err := parseReading(line)
		if err != nil {
			return nil, faults.New(faults.KindMalformedSample, "sensor.acquire", r.src.Name(), err)
		}
		values = append(values, v)
	}
}

// readLine applies the per-line timeout and maps link failures.
func (r *Reader) readLine(ctx context.Context) (string, error) {
	lctx := ctx
	if r.opts.ReadTimeout > 0 {
		var cancel context.CancelFunc
		lctx, cancel = context.WithTimeout(ctx, r.opts.ReadTimeout)
		defer cancel()
	}
	line, err := r.src.ReadLine(lctx)
	if err == nil {
		return line, nil
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	if lctx.Err() != nil {
		err = fmt.Errorf("no reading within %s", r.opts.ReadTimeout)
	}
	return "", faults.New(faults.KindConnection, "sensor.acquire", r.src.Name(), err)
}

// Zero sends the zero command and waits SettleDelay for the device to reset.
func (r *Reader) Zero(ctx context.Context) error {
	if !r.mu.TryLock() {
		return faults.ErrBusy
	}
	defer r.mu.Unlock()
	if r.closed {
		return faults.New(faults.KindClosed, "sensor.zero", r.src.Name(), nil)
	}

	if _, err := r.src.Write([]byte{r.opts.ZeroCommand}); err != nil {
		return faults.New(faults.KindConnection, "sensor.zero", r.src.Name(), err)
	}
	slog.Info("Angle sensor zeroed", "source", r.src.Name())
	return sleepCtx(ctx, r.opts.SettleDelay)
}

// Close releases the source. Calling it again is a no-op.
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return r.src.Close()
}

func parseReading(line string) (float64, error) {
	s := strings.TrimSpace(line)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("unparseable reading %q", s)
	}
	return v, nil
}

func mean(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
