package stream

import (
	"context"
	"errors"
	"io"
	"net"

	"github.com/danmuck/satlink/internal/protocol/wire"
)

var (
	ErrInvalidConfig     = errors.New("stream: invalid config")
	ErrSessionStarted    = errors.New("stream: session already started")
	ErrSessionTerminated = errors.New("stream: session terminated")
	// ErrTransport marks a broken connection. Transport adapters wrap
	// carrier-level failures with it so the session retries them.
	ErrTransport = errors.New("stream: transport failure")
)

// TerminationReason records why a session ended. Exactly one is set per
// session.
type TerminationReason int

const (
	ReasonNone TerminationReason = iota
	ReasonPlanFailed
	ReasonEndOfTelemetry
	ReasonRetriesExhausted
	ReasonUnrecoverable
	ReasonUserCancelled
)

func (r TerminationReason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonPlanFailed:
		return "plan_failed"
	case ReasonEndOfTelemetry:
		return "end_of_telemetry_marker"
	case ReasonRetriesExhausted:
		return "retries_exhausted"
	case ReasonUnrecoverable:
		return "unrecoverable_error"
	case ReasonUserCancelled:
		return "user_cancelled"
	default:
		return "unknown"
	}
}

// isTransient decides whether a failed attempt may be retried. Status errors
// from the peer are retried only for UNAVAILABLE and CANCELLED; malformed
// data and unknown failures are terminal.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	var se *wire.StatusError
	if errors.As(err, &se) {
		return se.Code == wire.Unavailable || se.Code == wire.Cancelled
	}
	if errors.Is(err, wire.ErrMalformed) {
		return false
	}
	if errors.Is(err, ErrTransport) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}
