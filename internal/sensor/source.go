package sensor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// Source is a line-oriented link to the angle encoder.
type Source interface {
	// Name identifies the link in logs and errors (port name, "simulated").
	Name() string
	// Flush discards every byte already received but not yet read.
	Flush() error
	// ReadLine blocks until a full line arrives and returns it without the
	// line terminator. It returns ctx.Err() once ctx is done.
	ReadLine(ctx context.Context) (string, error)
	// Write sends raw bytes to the device.
	Write(p []byte) (int, error)
	Close() error
}

// inputResetter is implemented by serial ports that can purge the driver's
// receive buffer.
type inputResetter interface {
	ResetInputBuffer() error
}

// streamSource splits an io.Reader into lines. A Read returning (0, nil) is
// treated as a poll timeout, which is how serial ports with a read timeout
// behave; the context is checked after each one.
type streamSource struct {
	name    string
	r       io.Reader
	w       io.Writer
	pending []byte
	buf     [256]byte
}

// NewStreamSource wraps any reader (and optional writer) as a Source. If r
// implements ResetInputBuffer it is called on Flush. If r or w implements
// io.Closer it is closed on Close.
func NewStreamSource(name string, r io.Reader, w io.Writer) Source {
	return &streamSource{name: name, r: r, w: w}
}

func (s *streamSource) Name() string {
	return s.name
}

func (s *streamSource) Flush() error {
	s.pending = s.pending[:0]
	if rr, ok := s.r.(inputResetter); ok {
		if err := rr.ResetInputBuffer(); err != nil {
			return fmt.Errorf("failed to reset input buffer: %w", err)
		}
	}
	return nil
}

func (s *streamSource) ReadLine(ctx context.Context) (string, error) {
	for {
		if i := bytes.IndexByte(s.pending, '\n'); i >= 0 {
			line := string(s.pending[:i])
			s.pending = append(s.pending[:0], s.pending[i+1:]...)
			return strings.TrimRight(line, "\r"), nil
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}

		n, err := s.r.Read(s.buf[:])
		s.pending = append(s.pending, s.buf[:n]...)
		if err != nil {
			if errors.Is(err, io.EOF) && len(s.pending) > 0 && bytes.IndexByte(s.pending, '\n') < 0 {
				line := string(s.pending)
				s.pending = s.pending[:0]
				return strings.TrimRight(line, "\r"), nil
			}
			if errors.Is(err, io.EOF) && bytes.IndexByte(s.pending, '\n') >= 0 {
				continue
			}
			return "", err
		}
	}
}

func (s *streamSource) Write(p []byte) (int, error) {
	if s.w == nil {
		return 0, fmt.Errorf("%s is read-only", s.name)
	}
	return s.w.Write(p)
}

func (s *streamSource) Close() error {
	var errs []error
	if c, ok := s.r.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	if c, ok := s.w.(io.Closer); ok && any(s.w) != any(s.r) {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
