// Package gwerrors defines the gateway's error taxonomy (spec §7).
//
// Kinds are stable across releases even when the associated message text
// changes, so the numeric Code assigned to each Kind here must never be
// renumbered once shipped.
package gwerrors

import (
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// Kind classifies a gateway error for protocol-level reporting and for
// deciding how the caller (Router, Transport pool, Session manager) should
// react to it.
type Kind int

const (
	KindUnknown Kind = iota
	KindConfigError
	KindTransportError
	KindHandshakeError
	KindTimeout
	KindCancelled
	KindNotFound
	KindConflict
	KindInvalidParams
	KindPolicyViolation
	KindSizeLimitExceeded
	KindUpstreamError
	KindUnavailable
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindConfigError:
		return "ConfigError"
	case KindTransportError:
		return "TransportError"
	case KindHandshakeError:
		return "HandshakeError"
	case KindTimeout:
		return "Timeout"
	case KindCancelled:
		return "Cancelled"
	case KindNotFound:
		return "NotFound"
	case KindConflict:
		return "Conflict"
	case KindInvalidParams:
		return "InvalidParams"
	case KindPolicyViolation:
		return "PolicyViolation"
	case KindSizeLimitExceeded:
		return "SizeLimitExceeded"
	case KindUpstreamError:
		return "UpstreamError"
	case KindUnavailable:
		return "Unavailable"
	case KindInternal:
		return "Internal"
	default:
		return "Unknown"
	}
}

// code is the stable JSON-RPC-ish numeric code surfaced to clients. These
// values must never be reassigned once released; add new Kinds at the end.
var code = map[Kind]int{
	KindConfigError:       -32001,
	KindTransportError:    -32002,
	KindHandshakeError:    -32003,
	KindTimeout:           -32004,
	KindCancelled:         -32005,
	KindNotFound:          -32601, // aligned with JSON-RPC MethodNotFound
	KindConflict:          -32006,
	KindInvalidParams:     -32602, // aligned with JSON-RPC InvalidParams
	KindPolicyViolation:   -32007,
	KindSizeLimitExceeded: -32008,
	KindUpstreamError:     -32009,
	KindUnavailable:       -32010,
	KindInternal:          -32603, // aligned with JSON-RPC InternalError
}

// Error is the gateway's error envelope. Data carries protocol-visible
// metadata (e.g. Conflict alternatives); it must never include internal
// state for KindInternal.
type Error struct {
	Kind    Kind
	Message string
	Data    any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Code returns the stable numeric code for this error's Kind.
func (e *Error) Code() int { return code[e.Kind] }

// New builds a gateway error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds a gateway error that wraps an underlying cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// WithData attaches protocol-visible data (e.g. Conflict alternatives).
func (e *Error) WithData(data any) *Error {
	e.Data = data
	return e
}

// Internal wraps err with a captured stack trace via github.com/pkg/errors,
// so the log sink can print call-site context that never reaches the client.
func Internal(message string, err error) *Error {
	if err != nil && pkgerrors.Cause(err) == err {
		err = pkgerrors.WithStack(err)
	}
	return &Error{Kind: KindInternal, Message: message, Err: err}
}

// StackTrace extracts the pkg/errors stack trace attached by Internal, if any.
func StackTrace(err error) pkgerrors.StackTrace {
	type stackTracer interface {
		StackTrace() pkgerrors.StackTrace
	}
	var st stackTracer
	if errors.As(err, &st) {
		return st.StackTrace()
	}
	return nil
}

// Of returns the Kind of err, or KindUnknown if err is not a *Error.
func Of(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err's chain contains a *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	return Of(err) == kind
}
