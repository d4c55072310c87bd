// Package errs defines the MindCache error taxonomy shared by every core
// component. Callers compare kinds with errors.Is against an
// errs.New(kind, "") value, or use errors.As (or KindOf) to recover the
// *Error and inspect its Kind.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error the way the core's components report failures.
// Kinds are compared, never error identities, so wrapping with fmt.Errorf
// and %w never loses the classification.
type Kind int

const (
	Internal Kind = iota
	InvalidArgument
	NotFound
	Forbidden
	Conflict
	TooLarge
	CorruptRecord
	Io
	Timeout
	SessionEmpty
)

func (k Kind) String() string {
	switch k {
	case InvalidArgument:
		return "InvalidArgument"
	case NotFound:
		return "NotFound"
	case Forbidden:
		return "Forbidden"
	case Conflict:
		return "Conflict"
	case TooLarge:
		return "TooLarge"
	case CorruptRecord:
		return "CorruptRecord"
	case Io:
		return "Io"
	case Timeout:
		return "Timeout"
	case SessionEmpty:
		return "SessionEmpty"
	default:
		return "Internal"
	}
}

// Error is the concrete error type returned across the core's public
// surface. Msg is human-readable; Err, if present, is the underlying cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, errs.New(SomeKind, "")) match any error of that
// kind regardless of message or cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New constructs an *Error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap constructs an *Error of the given kind wrapping cause.
func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: cause}
}

// Invalid, NotFoundErr, ... are one-line constructors for the common call
// sites in store/planner/decay/summarizer.
func Invalid(format string, args ...any) *Error {
	return New(InvalidArgument, fmt.Sprintf(format, args...))
}

func NotFoundErr(format string, args ...any) *Error {
	return New(NotFound, fmt.Sprintf(format, args...))
}

func ForbiddenErr(format string, args ...any) *Error {
	return New(Forbidden, fmt.Sprintf(format, args...))
}

func ConflictErr(format string, args ...any) *Error {
	return New(Conflict, fmt.Sprintf(format, args...))
}

func TooLargeErr(format string, args ...any) *Error {
	return New(TooLarge, fmt.Sprintf(format, args...))
}

func CorruptErr(segment string, offset int64, cause error) *Error {
	return Wrap(CorruptRecord, fmt.Sprintf("segment %s offset %d", segment, offset), cause)
}

func IoErr(msg string, cause error) *Error {
	return Wrap(Io, msg, cause)
}

func TimeoutErr(msg string) *Error {
	return New(Timeout, msg)
}

func SessionEmptyErr(sessionID string) *Error {
	return New(SessionEmpty, fmt.Sprintf("session %q has no memories", sessionID))
}

func InternalErr(msg string, cause error) *Error {
	return Wrap(Internal, msg, cause)
}

// KindOf returns the Kind of err if it is (or wraps) an *Error, else Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}
