package protocol

import (
	"errors"
	"fmt"
)

// ErrorKind classifies wire-level failures. Every kind is fatal for the
// connection that produced it.
type ErrorKind int

const (
	// ErrCorrupt covers malformed VarInts, truncated fields and bad enum values.
	ErrCorrupt ErrorKind = iota
	// ErrTooLarge is a string, array or cookie payload exceeding its bound.
	ErrTooLarge
	// ErrLeftoverBytes is raised by strict decoding when a body is not fully consumed.
	ErrLeftoverBytes
	// ErrIllegalState is a frame arriving in a state that accepts no packets.
	ErrIllegalState
)

var errorKindNames = map[ErrorKind]string{
	ErrCorrupt:       "corrupt",
	ErrTooLarge:      "too_large",
	ErrLeftoverBytes: "leftover_bytes",
	ErrIllegalState:  "illegal_state",
}

// String returns the label used in logs and metrics.
func (k ErrorKind) String() string {
	if s, ok := errorKindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Error is a decode or encode failure.
type Error struct {
	Kind ErrorKind
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("protocol %s: %s", e.Kind, e.Msg)
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrFrameCorrupt) works
// against the sentinels below.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}
	return false
}

// Sentinels for errors.Is comparisons.
var (
	ErrFrameCorrupt  = &Error{Kind: ErrCorrupt, Msg: "corrupt"}
	ErrFieldTooLarge = &Error{Kind: ErrTooLarge, Msg: "too large"}
	ErrNotConsumed   = &Error{Kind: ErrLeftoverBytes, Msg: "leftover bytes"}
	ErrNoPackets     = &Error{Kind: ErrIllegalState, Msg: "state accepts no packets"}
)

func corruptf(format string, args ...any) error {
	return &Error{Kind: ErrCorrupt, Msg: fmt.Sprintf(format, args...)}
}

func tooLargef(format string, args ...any) error {
	return &Error{Kind: ErrTooLarge, Msg: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of a protocol error, and false for any other error.
func KindOf(err error) (ErrorKind, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind, true
	}
	return 0, false
}
