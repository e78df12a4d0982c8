// Package rtpserr defines the error taxonomy used across the engine
// (spec §7). Errors are distinguished by Kind rather than by Go type,
// so callers write `errors.Is(err, rtpserr.ErrTimeout)`-style checks
// against the sentinel errors below.
package rtpserr

import (
	"errors"
	"fmt"
)

// Kind classifies an error without pinning it to a specific message.
type Kind int

const (
	// Unknown is the zero value; never returned by this package.
	Unknown Kind = iota
	// InvalidArgument: malformed locator, negative sequence, unknown QoS combination.
	InvalidArgument
	// PreconditionNotMet: e.g. deleting a publisher that still owns writers.
	PreconditionNotMet
	// ImmutablePolicy: QoS value changed after entity enable.
	ImmutablePolicy
	// InconsistentPolicy: internally inconsistent QoS.
	InconsistentPolicy
	// NotEnabled: operation requires an enabled entity.
	NotEnabled
	// AlreadyEnabled: Enable called twice.
	AlreadyEnabled
	// Timeout: a bounded wait did not complete in time.
	Timeout
	// OutOfResources: history full, pool exhausted, sequence number space exhausted.
	OutOfResources
	// WireFormat: a received RTPS message was malformed.
	WireFormat
	// SecurityException: plugin authentication/access/crypto failure.
	SecurityException
)

func (k Kind) String() string {
	switch k {
	case InvalidArgument:
		return "InvalidArgument"
	case PreconditionNotMet:
		return "PreconditionNotMet"
	case ImmutablePolicy:
		return "ImmutablePolicy"
	case InconsistentPolicy:
		return "InconsistentPolicy"
	case NotEnabled:
		return "NotEnabled"
	case AlreadyEnabled:
		return "AlreadyEnabled"
	case Timeout:
		return "Timeout"
	case OutOfResources:
		return "OutOfResources"
	case WireFormat:
		return "WireFormat"
	case SecurityException:
		return "SecurityException"
	default:
		return "Unknown"
	}
}

// Error is the concrete error type returned by this module. It carries
// a Kind for programmatic dispatch and an optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap allows errors.Is/errors.As to see through to Cause.
func (e *Error) Unwrap() error { return e.Cause }

// Is supports errors.Is(err, SomeKind) by comparing Kind against a
// sentinel *Error carrying no message (see the Kind sentinels below).
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind && t.Message == ""
	}
	return false
}

// New builds an *Error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error of the given kind around an existing cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf extracts the Kind of err, or Unknown if err is not (or does
// not wrap) an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// Sentinel zero-message errors, usable with errors.Is.
var (
	ErrInvalidArgument    = &Error{Kind: InvalidArgument}
	ErrPreconditionNotMet = &Error{Kind: PreconditionNotMet}
	ErrImmutablePolicy    = &Error{Kind: ImmutablePolicy}
	ErrInconsistentPolicy = &Error{Kind: InconsistentPolicy}
	ErrNotEnabled         = &Error{Kind: NotEnabled}
	ErrAlreadyEnabled     = &Error{Kind: AlreadyEnabled}
	ErrTimeout            = &Error{Kind: Timeout}
	ErrOutOfResources     = &Error{Kind: OutOfResources}
	ErrWireFormat         = &Error{Kind: WireFormat}
	ErrSecurityException  = &Error{Kind: SecurityException}
)
