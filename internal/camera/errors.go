package camera

import (
	"errors"
	"fmt"
)

// Error codes.
const (
	ErrCodeProtocol      = "DEVICE_PROTOCOL"
	ErrCodeConfiguration = "CONFIGURATION"
	ErrCodeDegenerate    = "ARITHMETIC_DEGENERATE"
)

// Sentinels matched with errors.Is against any *Error of the same code.
var (
	ErrProtocol      = errors.New("device protocol error")
	ErrConfiguration = errors.New("configuration error")
	ErrDegenerate    = errors.New("arithmetic degenerate")
)

// Error represents a failure at the camera boundary or in the exposure core.
type Error struct {
	Code     string
	Op       string
	Register uint64
	Message  string
	Cause    error
}

func (e *Error) Error() string {
	msg := e.Code
	if e.Op != "" {
		msg += ": " + e.Op
	}
	if e.Register != 0 {
		msg += fmt.Sprintf(" [0x%04X]", e.Register)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches the sentinel that corresponds to the error code.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrProtocol:
		return e.Code == ErrCodeProtocol
	case ErrConfiguration:
		return e.Code == ErrCodeConfiguration
	case ErrDegenerate:
		return e.Code == ErrCodeDegenerate
	}
	return false
}

// ProtocolError wraps a failed device call. Hardware state after such a
// failure is indeterminate, so callers abort the current operation.
func ProtocolError(op string, cause error) *Error {
	return &Error{Code: ErrCodeProtocol, Op: op, Cause: cause}
}

// RegisterError is a ProtocolError bound to a register address.
func RegisterError(op string, addr uint64, cause error) *Error {
	return &Error{Code: ErrCodeProtocol, Op: op, Register: addr, Cause: cause}
}

// ConfigurationError reports parameters rejected before any register write.
func ConfigurationError(op, format string, args ...any) *Error {
	return &Error{Code: ErrCodeConfiguration, Op: op, Message: fmt.Sprintf(format, args...)}
}

// DegenerateError reports a numeric result that must not reach hardware.
func DegenerateError(op, format string, args ...any) *Error {
	return &Error{Code: ErrCodeDegenerate, Op: op, Message: fmt.Sprintf(format, args...)}
}
