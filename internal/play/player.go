// Package play routes decoded stimuli to a single output channel of an
// audio device.
package play

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/audiolibrelab/trialsync/internal/audio"
	"github.com/audiolibrelab/trialsync/internal/faults"
	"github.com/audiolibrelab/trialsync/internal/mix"
	"github.com/audiolibrelab/trialsync/internal/routing"
)

// DefaultChunkFrames is the write granularity; cancellation is noticed
// between chunks.
const DefaultChunkFrames = 1024

type playback struct {
	endpoint routing.Endpoint
	stimulus string
	started  time.Time
	cancel   context.CancelFunc
	done     chan struct{}
	err      error
}

// Player owns at most one output stream at a time.
type Player struct {
	backend     audio.Backend
	chunkFrames int

	mu     sync.Mutex
	active *playback
}

func New(backend audio.Backend, chunkFrames int) *Player {
	if chunkFrames <= 0 {
		chunkFrames = DefaultChunkFrames
	}
	return &Player{backend: backend, chunkFrames: chunkFrames}
}

// Play routes stim to endpoint. When blocking is false it returns as soon as
// the output stream is open and writing has begun; use Wait to join it.
// Starting while another playback is still running fails with Busy.
func (p *Player) Play(ctx context.Context, stim *audio.Stimulus, endpoint routing.Endpoint, blocking bool) error {
	p.mu.Lock()
	if p.active != nil && !isDone(p.active) {
		p.mu.Unlock()
		return faults.New(faults.KindBusy, "play", endpoint.String(), fmt.Errorf("%s is still playing", p.active.stimulus))
	}

	channels := mix.OutputChannels(endpoint.Channel)
	samples, err := mix.Route(stim.Mono(), endpoint.Channel, channels)
	if err != nil {
		p.mu.Unlock()
		return faults.New(faults.KindDeviceUnavailable, "play", endpoint.String(), err)
	}

	stream, err := p.backend.OpenOutput(audio.StreamConfig{
		Device:          endpoint.Device,
		Channels:        channels,
		SampleRate:      stim.SampleRate(),
		FramesPerBuffer: p.chunkFrames,
	})
	if err != nil {
		p.mu.Unlock()
		return err
	}

	pctx, cancel := context.WithCancel(ctx)
	pb := &playback{
		endpoint: endpoint,
		stimulus: stim.Path,
		started:  time.Now(),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	p.active = pb
	p.mu.Unlock()

	slog.Debug("Playback started", "stimulus", stim.Path, "endpoint", endpoint.String(), "duration", stim.Duration)
	go p.run(pctx, pb, stream, samples, channels)

	if !blocking {
		return nil
	}
	return p.Wait()
}

func (p *Player) run(ctx context.Context, pb *playback, stream audio.OutputStream, samples []float32, channels int) {
	defer close(pb.done)
	defer pb.cancel()

	step := p.chunkFrames * channels
	var err error
	for off := 0; off < len(samples); off += step {
		if err = ctx.Err(); err != nil {
			break
		}
		end := min(off+step, len(samples))
		if err = stream.Write(samples[off:end]); err != nil {
			err = fmt.Errorf("write to %s failed: %w", pb.endpoint, err)
			break
		}
	}
	if cerr := stream.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("failed to close output stream: %w", cerr)
	}
	pb.err = err

	if err != nil {
		slog.Warn("Playback ended early", "stimulus", pb.stimulus, "endpoint", pb.endpoint.String(), "error", err)
		return
	}
	slog.Debug("Playback finished", "stimulus", pb.stimulus, "elapsed", time.Since(pb.started).Round(time.Millisecond))
}

// Wait blocks until the current playback has finished and the output stream
// is closed, and returns its error. It returns nil when nothing was played.
func (p *Player) Wait() error {
	p.mu.Lock()
	pb := p.active
	p.mu.Unlock()
	if pb == nil {
		return nil
	}
	<-pb.done
	return pb.err
}

// Stop cancels the current playback and waits for it.
func (p *Player) Stop() error {
	p.mu.Lock()
	pb := p.active
	p.mu.Unlock()
	if pb == nil {
		return nil
	}
	pb.cancel()
	<-pb.done
	return nil
}

// Playing reports whether a playback is in progress.
func (p *Player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active != nil && !isDone(p.active)
}

// Cue adapts a non-blocking playback of stim on endpoint for a recorder.
func (p *Player) Cue(stim *audio.Stimulus, endpoint routing.Endpoint) audio.Cue {
	return &cue{player: p, stim: stim, endpoint: endpoint}
}

type cue struct {
	player   *Player
	stim     *audio.Stimulus
	endpoint routing.Endpoint
}

func (c *cue) Start(ctx context.Context) error {
	return c.player.Play(ctx, c.stim, c.endpoint, false)
}

func (c *cue) Wait() error {
	return c.player.Wait()
}

func isDone(pb *playback) bool {
	select {
	case <-pb.done:
		return true
	default:
		return false
	}
}
