package protocol

import (
	"errors"
	"fmt"
)

// Kind is a stable category for programmatic error handling.
//
// Callers should branch on Kind (see IsKind) rather than matching error
// strings. The transport bindings map each Kind to a wire status and back.
type Kind string

const (
	KindLookupFailed             Kind = "LookupFailed"
	KindRelationSigningFailed    Kind = "RelationSigningFailed"
	KindRelationValidationFailed Kind = "RelationValidationFailed"
	KindProfileValidationFailed  Kind = "ProfileValidationFailed"
	KindPeerIDRetrievalFailed    Kind = "PeerIdRetrievalFailed"
	KindSessionClosed            Kind = "SessionClosed"
	KindInvalidRequest           Kind = "InvalidRequest"
	KindUnknown                  Kind = "Unknown"
)

// Error is the protocol's structured error type.
//
// Op names the failing operation (e.g. "home.register"). Message is intended
// for humans; do not match on it.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// NewError returns a *Error without a cause.
func NewError(kind Kind, op, msg string) error {
	return &Error{Kind: kind, Op: op, Message: msg}
}

// Errorf is NewError with a formatted message.
func Errorf(kind Kind, op, format string, args ...interface{}) error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// WrapError returns a *Error carrying cause. A nil cause yields NewError.
func WrapError(kind Kind, op, msg string, cause error) error {
	if cause == nil {
		return NewError(kind, op, msg)
	}
	return &Error{Kind: kind, Op: op, Message: msg, Cause: cause}
}

// IsKind reports whether err is (or wraps) a *Error with the given Kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// KindOf returns the Kind of the outermost *Error in err's chain.
// Errors outside the taxonomy report KindUnknown; nil reports "".
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if !errors.As(err, &e) {
		return KindUnknown
	}
	return e.Kind
}

// ErrSessionClosed is returned by every operation on a terminated HomeSession.
var ErrSessionClosed error = &Error{Kind: KindSessionClosed, Message: "session closed"}

// ErrCallAlreadyAnswered is returned by IncomingCall.Answer after the first answer.
var ErrCallAlreadyAnswered = errors.New("protocol: call already answered")
