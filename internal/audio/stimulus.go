package audio

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/wav"
	"github.com/go-audio/riff"
	gowav "github.com/go-audio/wav"

	"github.com/audiolibrelab/trialsync/internal/faults"
	"github.com/audiolibrelab/trialsync/internal/mix"
)

// Stimulus is a fully decoded audio file. Duration and sample rate come
// from the file and drive how long a synced recording runs.
type Stimulus struct {
	Path     string
	Format   beep.Format
	Frames   [][2]float64
	Duration time.Duration
}

// NewStimulus wraps already decoded frames.
func NewStimulus(path string, format beep.Format, frames [][2]float64) *Stimulus {
	return &Stimulus{
		Path:     path,
		Format:   format,
		Frames:   frames,
		Duration: format.SampleRate.D(len(frames)),
	}
}

// LoadStimulus decodes a WAV file into memory. Integer PCM goes through
// beep; IEEE float data, plain or extensible, is decoded separately since
// beep rejects it.
func LoadStimulus(path string) (*Stimulus, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, faults.New(faults.KindUnreadableAudio, "audio.load", path, err)
	}
	defer f.Close()

	isFloat, err := isFloatWAV(f)
	if err != nil {
		return nil, faults.New(faults.KindUnreadableAudio, "audio.load", path, err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, faults.New(faults.KindUnreadableAudio, "audio.load", path, err)
	}

	var (
		format beep.Format
		frames [][2]float64
	)
	if isFloat {
		format, frames, err = decodeFloatWAV(f)
	} else {
		format, frames, err = decodePCMWAV(f)
	}
	if err != nil {
		return nil, faults.New(faults.KindUnreadableAudio, "audio.load", path, err)
	}
	if len(frames) == 0 {
		return nil, faults.New(faults.KindUnreadableAudio, "audio.load", path, fmt.Errorf("no audio frames"))
	}
	return NewStimulus(path, format, frames), nil
}

const (
	wavFormatFloat      = 3
	wavFormatExtensible = 0xFFFE
)

// isFloatWAV reports whether the fmt chunk declares IEEE float samples.
// For WAVE_FORMAT_EXTENSIBLE the answer is in the first two bytes of the
// sub format GUID.
func isFloatWAV(r io.Reader) (bool, error) {
	p := riff.New(r)
	if err := p.ParseHeaders(); err != nil {
		return false, err
	}
	if p.Format != riff.WavFormatID {
		return false, fmt.Errorf("not a WAVE file: %q", p.Format[:])
	}
	for {
		ch, err := p.NextChunk()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return false, fmt.Errorf("fmt chunk not found")
			}
			return false, err
		}
		if ch.ID != riff.FmtID {
			ch.Drain()
			continue
		}

		var hdr struct {
			Tag        uint16
			Channels   uint16
			SampleRate uint32
			ByteRate   uint32
			BlockAlign uint16
			Bits       uint16
		}
		if err := ch.ReadLE(&hdr); err != nil {
			return false, fmt.Errorf("fmt chunk: %w", err)
		}
		switch hdr.Tag {
		case wavFormatFloat:
			return true, nil
		case wavFormatExtensible:
			var ext struct {
				Size      uint16
				ValidBits uint16
				Mask      uint32
				SubFormat uint16
			}
			if ch.Size < 26 {
				return false, fmt.Errorf("extensible fmt chunk too short: %d bytes", ch.Size)
			}
			if err := ch.ReadLE(&ext); err != nil {
				return false, fmt.Errorf("extensible fmt chunk: %w", err)
			}
			return ext.SubFormat == wavFormatFloat, nil
		default:
			return false, nil
		}
	}
}

func decodePCMWAV(r io.Reader) (beep.Format, [][2]float64, error) {
	streamer, format, err := wav.Decode(r)
	if err != nil {
		return beep.Format{}, nil, err
	}
	defer streamer.Close()

	frames, err := drain(streamer, streamer.Len())
	return format, frames, err
}

// decodeFloatWAV reads 32-bit float samples. The decoder hands back raw
// bit patterns for 32-bit data, which are reinterpreted here.
func decodeFloatWAV(r io.ReadSeeker) (beep.Format, [][2]float64, error) {
	dec := gowav.NewDecoder(r)
	if !dec.IsValidFile() {
		if err := dec.Err(); err != nil {
			return beep.Format{}, nil, err
		}
		return beep.Format{}, nil, fmt.Errorf("invalid float wav")
	}
	if dec.BitDepth != 32 {
		return beep.Format{}, nil, fmt.Errorf("unsupported float bit depth %d", dec.BitDepth)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return beep.Format{}, nil, err
	}
	data := buf.Data
	if limit := dec.PCMSize / 4; dec.PCMSize > 0 && len(data) > limit {
		data = data[:limit]
	}

	channels := int(dec.NumChans)
	frames := make([][2]float64, len(data)/channels)
	for i := range frames {
		left := float64(math.Float32frombits(uint32(int32(data[i*channels]))))
		right := left
		if channels > 1 {
			right = float64(math.Float32frombits(uint32(int32(data[i*channels+1]))))
		}
		frames[i] = [2]float64{left, right}
	}

	format := beep.Format{
		SampleRate:  beep.SampleRate(dec.SampleRate),
		NumChannels: min(channels, 2),
		Precision:   4,
	}
	return format, frames, nil
}

// drain reads s until it is exhausted.
func drain(s beep.Streamer, sizeHint int) ([][2]float64, error) {
	if sizeHint < 0 {
		sizeHint = 0
	}
	frames := make([][2]float64, 0, sizeHint)
	buf := make([][2]float64, 4096)
	for {
		n, ok := s.Stream(buf)
		frames = append(frames, buf[:n]...)
		if !ok {
			break
		}
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return frames, nil
}

// Tone synthesizes a sine stimulus at half scale, used for line checks.
func Tone(freq float64, d time.Duration, sampleRate int) *Stimulus {
	rate := beep.SampleRate(sampleRate)
	frames := make([][2]float64, rate.N(d))
	for i := range frames {
		v := 0.5 * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate))
		frames[i] = [2]float64{v, v}
	}
	format := beep.Format{SampleRate: rate, NumChannels: 1, Precision: 2}
	return NewStimulus(fmt.Sprintf("tone:%gHz", freq), format, frames)
}

func (s *Stimulus) SampleRate() int {
	return int(s.Format.SampleRate)
}

func (s *Stimulus) Channels() int {
	return s.Format.NumChannels
}

// Mono downmixes the stimulus for routing to a single output channel.
func (s *Stimulus) Mono() []float32 {
	return mix.Downmix(s.Frames, s.Format.NumChannels)
}
