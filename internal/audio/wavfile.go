package audio

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/wav"

	"github.com/audiolibrelab/trialsync/internal/faults"
	"github.com/audiolibrelab/trialsync/internal/mix"
)

// FileInfo summarizes a WAV file.
type FileInfo struct {
	Path       string        `json:"path"`
	SampleRate int           `json:"sample_rate"`
	Channels   int           `json:"channels"`
	Precision  int           `json:"precision"`
	Frames     int           `json:"frames"`
	Duration   time.Duration `json:"duration"`
}

// frameStreamer replays a fixed frame slice once.
type frameStreamer struct {
	frames [][2]float64
	pos    int
}

func (s *frameStreamer) Stream(samples [][2]float64) (int, bool) {
	if s.pos >= len(s.frames) {
		return 0, false
	}
	n := copy(samples, s.frames[s.pos:])
	s.pos += n
	return n, true
}

func (s *frameStreamer) Err() error {
	return nil
}

// SaveWAV writes interleaved 16-bit samples as a PCM WAV file, creating
// parent directories as needed.
func SaveWAV(path string, samples []int16, sampleRate, channels int) error {
	frames, err := mix.PCMToFrames(samples, channels)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	format := beep.Format{SampleRate: beep.SampleRate(sampleRate), NumChannels: channels, Precision: 2}
	if err := wav.Encode(f, &frameStreamer{frames: frames}, format); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return f.Close()
}

// Inspect reads a WAV header and counts its frames.
func Inspect(path string) (FileInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return FileInfo{}, faults.New(faults.KindUnreadableAudio, "audio.inspect", path, err)
	}
	defer f.Close()

	streamer, format, err := wav.Decode(f)
	if err != nil {
		return FileInfo{}, faults.New(faults.KindUnreadableAudio, "audio.inspect", path, err)
	}
	defer streamer.Close()

	frames := streamer.Len()
	return FileInfo{
		Path:       path,
		SampleRate: int(format.SampleRate),
		Channels:   format.NumChannels,
		Precision:  format.Precision,
		Frames:     frames,
		Duration:   format.SampleRate.D(frames),
	}, nil
}
