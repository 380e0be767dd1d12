// Package status defines the closed error taxonomy shared by every layer
// of the imaging service, from the ring protocol up through the C ABI.
package status

import (
	"errors"
	"fmt"
)

// Code is a closed set of abstract error kinds. It is never extended at
// runtime; the C ABI maps each Code to a flat status enum value.
type Code int

const (
	Unknown Code = iota
	InvalidArgument
	InvalidSize
	PermissionDenied
	NotInitialized
	AlreadyExists
	AlreadyRunning
	NotRunning
	BufferFull
	BufferEmpty
	Timeout
	ReadFailed
	WriteFailed
	NotSupported
	CreationFailed
	DeviceNotFound
	InitFailed
	ConfigurationError
	FeatureNotSupported
	IOError
	Internal
	NotImplemented
	InvalidHandle
)

// String returns the lower-kebab name of the code, the vocabulary logs
// and the CLI print.
func (c Code) String() string {
	switch c {
	case InvalidArgument:
		return "invalid-argument"
	case InvalidSize:
		return "invalid-size"
	case PermissionDenied:
		return "permission-denied"
	case NotInitialized:
		return "not-initialized"
	case AlreadyExists:
		return "already-exists"
	case AlreadyRunning:
		return "already-running"
	case NotRunning:
		return "not-running"
	case BufferFull:
		return "buffer-full"
	case BufferEmpty:
		return "buffer-empty"
	case Timeout:
		return "timeout"
	case ReadFailed:
		return "read-failed"
	case WriteFailed:
		return "write-failed"
	case NotSupported:
		return "not-supported"
	case CreationFailed:
		return "creation-failed"
	case DeviceNotFound:
		return "device-not-found"
	case InitFailed:
		return "init-failed"
	case ConfigurationError:
		return "configuration-error"
	case FeatureNotSupported:
		return "feature-not-supported"
	case IOError:
		return "i/o-error"
	case Internal:
		return "internal-error"
	case NotImplemented:
		return "not-implemented"
	case InvalidHandle:
		return "invalid-handle"
	default:
		return "unknown"
	}
}

// Error wraps a Code with a human-readable message and an optional
// underlying cause. It implements error, Unwrap, and exposes Code() so
// callers can branch on the abstract kind with errors.As.
type Error struct {
	code    Code
	message string
	cause   error
}

// New creates a status Error with no underlying cause.
func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

// Newf creates a status Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{code: code, message: fmt.Sprintf(format, args...)}
}

// Wrap creates a status Error that wraps an underlying cause.
func Wrap(code Code, cause error, message string) *Error {
	return &Error{code: code, message: message, cause: cause}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

// Code returns the abstract error kind.
func (e *Error) Code() Code { return e.code }

// Unwrap exposes the underlying cause, if any, for errors.Is/As.
func (e *Error) Unwrap() error { return e.cause }

// Is reports whether target is a status Error with the same Code,
// allowing callers to write errors.Is(err, status.New(status.Timeout, "")).
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return other.code == e.code
}

// CodeOf extracts the Code from err if it is (or wraps) a status Error,
// otherwise returns Unknown.
func CodeOf(err error) Code {
	var se *Error
	if errors.As(err, &se) {
		return se.code
	}
	return Unknown
}
