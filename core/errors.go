package core

import "errors"

// ErrorKind is the caller-visible category of an access-control failure.
type ErrorKind string

const (
	KindUnauthorized    ErrorKind = "Unauthorized"
	KindInvalidResource ErrorKind = "InvalidResource"
	KindInvalidGrantee  ErrorKind = "InvalidGrantee"
	KindInvalidRequest  ErrorKind = "InvalidRequest"
	KindNotFound        ErrorKind = "NotFound"
	KindNoAccess        ErrorKind = "NoAccess"
	KindUpstream        ErrorKind = "UpstreamError"
)

// Error is a typed access-control failure. Err carries the underlying cause
// for server-side logging and is never shown to callers.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, ErrNoAccess)
// holds regardless of the wrapped cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrUnauthorized    = &Error{Kind: KindUnauthorized}
	ErrInvalidResource = &Error{Kind: KindInvalidResource}
	ErrInvalidGrantee  = &Error{Kind: KindInvalidGrantee}
	ErrInvalidRequest  = &Error{Kind: KindInvalidRequest}
	ErrNotFound        = &Error{Kind: KindNotFound}
	ErrNoAccess        = &Error{Kind: KindNoAccess}
	ErrUpstream        = &Error{Kind: KindUpstream}
)

// Storage sentinels. Stores wrap these; the service translates them into kinds.
var (
	ErrPolicyNotFound  = errors.New("policy not found")
	ErrReceiptNotFound = errors.New("receipt not found")
)

func fail(kind ErrorKind, cause error) *Error {
	return &Error{Kind: kind, Err: cause}
}

// KindOf reports the ErrorKind carried by err, if any.
func KindOf(err error) (ErrorKind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
