// Package apierr defines the error kinds shared by the naming server and
// storage server RPC surfaces, and the glue to carry a kind across a
// net/rpc call, which only propagates error strings.
package apierr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind identifies one of the error categories the RPC surface can report,
// as opposed to a specific Go error type.
type Kind string

const (
	NotFound         Kind = "not-found"
	Bounds           Kind = "bounds"
	IllegalArgument  Kind = "illegal-argument"
	IllegalState     Kind = "illegal-state"
	AlreadyRegistered Kind = "already-registered"
	NullArgument     Kind = "null-argument"
	Transport        Kind = "rmi-transport"
)

// Error is a kind-carrying error, analogous to the teacher codebase's
// errorf(typeMethod, format, args...) helper in internal/storage/error.go,
// generalized with an explicit Kind so callers across an RPC boundary can
// recover it.
type Error struct {
	Kind   Kind
	Method string
	Msg    string
	Cause  error
}

// marker is embedded in the wire-encoded error string so the client side
// can recognize and strip it, the same trick RemoteStore.Get plays for
// ErrNotFound in internal/storage/rpc.go.
const marker = "kind="

func (e *Error) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("%s: %s%s", e.Method, marker, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %s%s", e.Method, e.Msg, marker, e.Kind)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, New(NotFound)) work if callers prefer comparing
// against a bare Kind wrapped as an error via New.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// Errorf constructs an *Error, mirroring the teacher's
// errorf(typeMethod, format, a...) but attaching a Kind.
func Errorf(method string, kind Kind, format string, a ...interface{}) *Error {
	return &Error{Kind: kind, Method: method, Msg: fmt.Sprintf(format, a...)}
}

// Wrap attaches a kind to an existing error without discarding it.
func Wrap(method string, kind Kind, cause error) *Error {
	return &Error{Kind: kind, Method: method, Cause: cause}
}

// New returns a bare sentinel error of the given kind, suitable for
// errors.Is comparisons in tests.
func New(kind Kind) error {
	return &Error{Kind: kind}
}

// KindOf extracts the Kind from err, either because err (or something it
// wraps) is an *Error, or because err crossed a net/rpc boundary and lost
// its type, in which case the wire-encoded marker is parsed back out.
func KindOf(err error) (Kind, bool) {
	if err == nil {
		return "", false
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	if i := strings.LastIndex(err.Error(), marker); i >= 0 {
		return Kind(err.Error()[i+len(marker):]), true
	}
	return "", false
}

// Is reports whether err carries the given kind, across process
// boundaries if necessary.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
