package wire

import (
	"errors"
	"fmt"

	"github.com/danmuck/satlink/internal/protocol/schema"
)

// Code is the status carried by an error frame.
type Code uint32

const (
	OK                 Code = 0
	Cancelled          Code = 1
	InvalidArgument    Code = 3
	NotFound           Code = 5
	FailedPrecondition Code = 9
	Internal           Code = 13
	Unavailable        Code = 14
)

func (c Code) String() string {
	switch c {
	case OK:
		return "OK"
	case Cancelled:
		return "CANCELLED"
	case InvalidArgument:
		return "INVALID_ARGUMENT"
	case NotFound:
		return "NOT_FOUND"
	case FailedPrecondition:
		return "FAILED_PRECONDITION"
	case Internal:
		return "INTERNAL"
	case Unavailable:
		return "UNAVAILABLE"
	default:
		return fmt.Sprintf("CODE(%d)", uint32(c))
	}
}

// StatusError is an error that crosses the wire as an error frame.
type StatusError struct {
	Code    Code
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("wire: status=%s: %s", e.Code, e.Message)
}

// Errorf builds a StatusError with a formatted message.
func Errorf(code Code, format string, args ...any) error {
	return &StatusError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// StatusCode reports the wire status for err. Schema validation and decode
// failures map to InvalidArgument; anything unrecognized maps to Internal.
func StatusCode(err error) Code {
	if err == nil {
		return OK
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	var ve schema.ValidationError
	if errors.As(err, &ve) || errors.Is(err, ErrMalformed) {
		return InvalidArgument
	}
	return Internal
}

// AsStatus converts err into a StatusError suitable for an error frame.
func AsStatus(err error) *StatusError {
	var se *StatusError
	if errors.As(err, &se) {
		return se
	}
	return &StatusError{Code: StatusCode(err), Message: err.Error()}
}
