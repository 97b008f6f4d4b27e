// Package apperr defines the error kinds surfaced to HTTP clients.
//
// Each kind is a sentinel; *Error carries a client-safe message and the
// underlying cause. errors.Is matches both the kind and anything in the
// cause chain, so callers can still test for driver-level sentinels.
package apperr

import (
	"github.com/go-faster/errors"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrConflict          = errors.New("conflict")
	ErrStorage           = errors.New("storage error")
	ErrPaymentGateway    = errors.New("payment gateway error")
	ErrValidation        = errors.New("validation error")
)

// Error pairs a kind with a message that is safe to show to clients.
type Error struct {
	Kind    error
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Kind.Error() + ": " + e.Message
	}
	return e.Kind.Error() + ": " + e.Message + " (cause: " + e.Cause.Error() + ")"
}

func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

func NotFound(message string) *Error {
	return &Error{Kind: ErrNotFound, Message: message}
}

func InvalidTransition(message string, cause error) *Error {
	return &Error{Kind: ErrInvalidTransition, Message: message, Cause: cause}
}

func Conflict(message string) *Error {
	return &Error{Kind: ErrConflict, Message: message}
}

func Storage(message string, cause error) *Error {
	return &Error{Kind: ErrStorage, Message: message, Cause: cause}
}

func PaymentGateway(message string, cause error) *Error {
	return &Error{Kind: ErrPaymentGateway, Message: message, Cause: cause}
}

func Validation(message string, cause error) *Error {
	return &Error{Kind: ErrValidation, Message: message, Cause: cause}
}

// MessageOf returns the client-safe message of the first *Error in err's chain.
func MessageOf(err error) (string, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Message, true
	}
	return "", false
}
