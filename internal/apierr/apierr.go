// Package apierr defines the closed error taxonomy shared by every endpoint.
//
// Each error carries a stable Kind (the wire "type"), a situation-specific
// Code, and a human-readable message. Kinds map one-to-one onto HTTP status
// codes; handlers never invent statuses outside this table.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies a class of failure. The string value is what clients see
// in the "type" field of the error body.
type Kind string

const (
	KindInvalidRequest  Kind = "invalid_request"
	KindUnauthorized    Kind = "unauthorized"
	KindTimeout         Kind = "timeout"
	KindSessionConflict Kind = "session_conflict"
	KindSessionGone     Kind = "session_gone"
	KindPayloadTooLarge Kind = "payload_too_large"
	KindSchemaError     Kind = "schema_error"
	KindRateLimited     Kind = "rate_limited"
	KindOverloaded      Kind = "overloaded"
	KindInternal        Kind = "internal"
)

// HTTPStatus returns the HTTP status code for the kind. Unknown kinds map
// to 500 so a missed case can never leak a 200.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindInvalidRequest:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindTimeout:
		return http.StatusRequestTimeout
	case KindSessionConflict:
		return http.StatusConflict
	case KindSessionGone:
		return http.StatusGone
	case KindPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case KindSchemaError:
		return http.StatusUnprocessableEntity
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindOverloaded:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified proxy error. It is a value type; compare with
// errors.As and check the Kind.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	// Err is the underlying cause, if any. Not serialized.
	Err error
}

// E constructs an Error with the given kind, code, and message.
func E(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap constructs an internal Error around an unexpected failure.
func Wrap(err error, message string) *Error {
	return &Error{Kind: KindInternal, Code: "internal_error", Message: message, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s (%s): %s: %v", e.Kind, e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s (%s): %s", e.Kind, e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the Kind from err. Errors outside the taxonomy are
// classified as internal.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// From converts any error into a taxonomy *Error. Errors already in the
// taxonomy pass through untouched; anything else becomes internal.
func From(err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return Wrap(err, "unexpected error")
}
