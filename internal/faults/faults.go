// Package faults holds the error taxonomy shared by the sensor, routing,
// audio and sequencing packages.
//
// Every failure that the operator has to act on is a *Error carrying a Kind
// and the resource (port, device index, line number, path) involved. Callers
// test for a kind with errors.Is against the package sentinels:
//
//	if errors.Is(err, faults.ErrMalformedSample) { ... }
package faults

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind int

const (
	KindConnection        Kind = 1
	KindMalformedSample   Kind = 2
	KindNoSamples         Kind = 3
	KindDeviceUnavailable Kind = 4
	KindUnmappedLine      Kind = 5
	KindInvalidTrialCount Kind = 6
	KindUnreadableAudio   Kind = 7
	KindBusy              Kind = 8
	KindClosed            Kind = 9
)

func (k Kind) String() string {
	switch k {
	case KindConnection:
		return "connection error"
	case KindMalformedSample:
		return "malformed sample"
	case KindNoSamples:
		return "no samples collected"
	case KindDeviceUnavailable:
		return "device unavailable"
	case KindUnmappedLine:
		return "unmapped line"
	case KindInvalidTrialCount:
		return "invalid trial count"
	case KindUnreadableAudio:
		return "unreadable audio"
	case KindBusy:
		return "resource busy"
	case KindClosed:
		return "resource closed"
	default:
		return fmt.Sprintf("unknown error kind: %d", int(k))
	}
}

// Sentinels for errors.Is.
var (
	ErrConnection        = &Error{Kind: KindConnection}
	ErrMalformedSample   = &Error{Kind: KindMalformedSample}
	ErrNoSamples         = &Error{Kind: KindNoSamples}
	ErrDeviceUnavailable = &Error{Kind: KindDeviceUnavailable}
	ErrUnmappedLine      = &Error{Kind: KindUnmappedLine}
	ErrInvalidTrialCount = &Error{Kind: KindInvalidTrialCount}
	ErrUnreadableAudio   = &Error{Kind: KindUnreadableAudio}
	ErrBusy              = &Error{Kind: KindBusy}
	ErrClosed            = &Error{Kind: KindClosed}
)

// Error is a classified failure.
type Error struct {
	Kind     Kind
	Op       string // operation that failed, e.g. "sensor.open"
	Resource string // port name, device index, line number, file path
	Err      error  // underlying cause, may be nil
}

// New builds a classified error.
func New(kind Kind, op, resource string, err error) *Error {
	return &Error{Kind: kind, Op: op, Resource: resource, Err: err}
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Resource != "" {
		msg += " (" + e.Resource + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same Kind, so sentinels compare by kind only.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the Kind of the first *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
