package hub

import "errors"

// Kind classifies action failures
type Kind string

const (
	KindPermission   Kind = "permission_denied"
	KindNotFound     Kind = "not_found"
	KindInvalidInput Kind = "invalid_input"
	KindTransport    Kind = "transport_failure"
	KindPlatform     Kind = "platform_failure"
	KindVerification Kind = "verification_mismatch"
	KindConflict     Kind = "conflict"
)

// Error is a failed action. Message is safe to show to the caller; Err keeps
// the underlying cause for logs.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of err, or KindPlatform for foreign errors
func KindOf(err error) Kind {
	var he *Error
	if errors.As(err, &he) {
		return he.Kind
	}
	return KindPlatform
}

func permissionDenied(msg string) *Error {
	return &Error{Kind: KindPermission, Message: msg}
}

func invalidInput(msg string) *Error {
	return &Error{Kind: KindInvalidInput, Message: msg}
}

func notFound(msg string) *Error {
	return &Error{Kind: KindNotFound, Message: msg}
}

func transportFailure(msg string, err error) *Error {
	return &Error{Kind: KindTransport, Message: msg, Err: err}
}

// platformFailure surfaces the platform's own message
func platformFailure(err error) *Error {
	return &Error{Kind: KindPlatform, Message: err.Error(), Err: err}
}
