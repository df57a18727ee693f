package rpc

import "fmt"

// Kind distinguishes the error categories the core must propagate
// across process and node boundaries (spec §7).
type Kind string

const (
	KindNotFound    Kind = "not_found"
	KindTimeout     Kind = "timeout"
	KindIPC         Kind = "ipc_error"
	KindRPC         Kind = "rpc_error"
	KindStoppingNow Kind = "stopping_now"
	KindSchema      Kind = "schema_error"
	KindFatal       Kind = "fatal"
	KindUnknown     Kind = "unknown"
)

// Error is the tagged sum type used to serialize exceptions across the
// wire instead of leaning on any language's exception class identity
// (spec §9). It implements the standard error interface.
type Error struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Cause   *Error `json:"cause,omitempty"`

	// Node/Worker/Request are diagnostic fields an originator may
	// attach before rethrowing (spec §7 "_rich_exception").
	Node    string `json:"node,omitempty"`
	Worker  int    `json:"worker,omitempty"`
	Request string `json:"request,omitempty"`
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Cause.Error())
	}
	return e.Message
}

// Unwrap lets errors.Is / errors.As walk the Cause chain.
func (e *Error) Unwrap() error {
	if e == nil || e.Cause == nil {
		return nil
	}
	return e.Cause
}

// NewError constructs a leaf error of the given kind.
func NewError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap re-wraps a local error with a cause and a human label, the way
// errors re-enter the caller after crossing the wire (spec §4.1).
func Wrap(kind Kind, label string, cause error) *Error {
	return &Error{Kind: kind, Message: label, Cause: Encode(cause)}
}

// Encode converts any Go error into the wire-safe tagged form,
// preserving the Kind when the error already is one.
func Encode(err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := err.(*Error); ok {
		return e
	}
	return &Error{Kind: KindUnknown, Message: err.Error()}
}

// RichException attaches diagnostic fields before the error continues
// up the originator's call stack (spec §7).
func RichException(err *Error, node string, worker int, request string) *Error {
	if err == nil {
		return nil
	}
	cp := *err
	cp.Node = node
	cp.Worker = worker
	cp.Request = request
	return &cp
}

// IsKind reports whether err (or any error in its Cause chain) carries
// the given Kind.
func IsKind(err error, kind Kind) bool {
	e, ok := err.(*Error)
	if !ok {
		return false
	}
	for e != nil {
		if e.Kind == kind {
			return true
		}
		e = e.Cause
	}
	return false
}
