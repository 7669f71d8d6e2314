// Package errs holds the error taxonomy shared by the identity store, the broker and the session.
package errs

import "errors"

// Code classifies an error for callers that need to react to it.
type Code string

const (
	// CodeValidation marks user-correctable input, e.g. a display name that normalizes too short.
	CodeValidation Code = "validation"
	// CodeNotRegistered marks an operation attempted before an identity exists.
	CodeNotRegistered Code = "not_registered"
	// CodeDuplicateIdentity marks an id that is already reachable elsewhere.
	CodeDuplicateIdentity Code = "duplicate_identity"
	// CodeTransport marks a connection that failed to open or was dropped.
	CodeTransport Code = "transport"
	// CodeUnknownPayload marks a malformed or unrecognized wire payload.
	CodeUnknownPayload Code = "unknown_payload"
	// CodeNotInitialized marks a network operation attempted before Initialize.
	CodeNotInitialized Code = "not_initialized"
	// CodeDestroyed marks an operation on a destroyed session.
	CodeDestroyed Code = "destroyed"
)

// Sentinels for errors.Is. Any *Error with the same code matches.
var (
	ErrValidation        = &Error{Code: CodeValidation, Message: "validation failed"}
	ErrNotRegistered     = &Error{Code: CodeNotRegistered, Message: "no identity registered"}
	ErrDuplicateIdentity = &Error{Code: CodeDuplicateIdentity, Message: "identity already taken"}
	ErrTransport         = &Error{Code: CodeTransport, Message: "transport failure"}
	ErrUnknownPayload    = &Error{Code: CodeUnknownPayload, Message: "unknown payload"}
	ErrNotInitialized    = &Error{Code: CodeNotInitialized, Message: "session not initialized"}
	ErrDestroyed         = &Error{Code: CodeDestroyed, Message: "session destroyed"}
)

// Error wraps a code, a human-readable message and an optional cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// New builds an error with the given code and message.
func New(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// Wrap builds an error with the given code and message around cause.
func Wrap(code Code, msg string, cause error) *Error {
	return &Error{Code: code, Message: msg, Err: cause}
}

// CodeOf returns the code of the first *Error in err's chain, or "" when there is none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
