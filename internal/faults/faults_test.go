package faults

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorIsMatchesByKind(t *testing.T) {
	err := New(KindMalformedSample, "sensor.acquire", "/dev/ttyUSB0", errors.New("parse \"abc\""))

	assert.ErrorIs(t, err, ErrMalformedSample)
	assert.NotErrorIs(t, err, ErrConnection)

	wrapped := fmt.Errorf("trial 3: %w", err)
	assert.ErrorIs(t, wrapped, ErrMalformedSample)
	assert.Equal(t, KindMalformedSample, KindOf(wrapped))
}

func TestErrorUnwrapKeepsCause(t *testing.T) {
	err := New(KindUnreadableAudio, "audio.load", "white.wav", io.ErrUnexpectedEOF)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.ErrorIs(t, err, ErrUnreadableAudio)
}

func TestErrorMessageCarriesResource(t *testing.T) {
	err := New(KindConnection, "sensor.open", "COM3", errors.New("access denied"))
	assert.Equal(t, "sensor.open: connection error (COM3): access denied", err.Error())

	bare := New(KindUnmappedLine, "", "", nil)
	assert.Equal(t, "unmapped line", bare.Error())
}

func TestKindOfPlainError(t *testing.T) {
	assert.Equal(t, Kind(0), KindOf(errors.New("plain")))
	assert.Contains(t, Kind(42).String(), "42")
}
