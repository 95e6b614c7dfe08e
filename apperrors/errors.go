package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error so handlers and the dispatcher can react without
// inspecting error strings.
type Kind int

const (
	KindValidation Kind = iota
	KindNotFound
	KindConflict
	KindForbidden
	KindInvalidTransition
	KindTransientDelivery
	KindPermanentDelivery
	KindInternal
)

// Error carries a kind plus a caller-facing message. Wrapped causes are kept
// for logging but never serialized to clients.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func Validation(format string, args ...interface{}) *Error {
	return New(KindValidation, fmt.Sprintf(format, args...))
}

func NotFound(format string, args ...interface{}) *Error {
	return New(KindNotFound, fmt.Sprintf(format, args...))
}

func Conflict(format string, args ...interface{}) *Error {
	return New(KindConflict, fmt.Sprintf(format, args...))
}

func Forbidden(format string, args ...interface{}) *Error {
	return New(KindForbidden, fmt.Sprintf(format, args...))
}

func InvalidTransition(format string, args ...interface{}) *Error {
	return New(KindInvalidTransition, fmt.Sprintf(format, args...))
}

// TransientDelivery marks a notification/payment failure as retryable.
func TransientDelivery(message string, err error) *Error {
	return Wrap(KindTransientDelivery, message, err)
}

// PermanentDelivery marks a delivery failure that must not be retried,
// e.g. a malformed recipient.
func PermanentDelivery(message string, err error) *Error {
	return Wrap(KindPermanentDelivery, message, err)
}

// KindOf returns the kind of err, or KindInternal when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

func IsConflict(err error) bool          { return IsKind(err, KindConflict) }
func IsNotFound(err error) bool          { return IsKind(err, KindNotFound) }
func IsPermanentDelivery(err error) bool { return IsKind(err, KindPermanentDelivery) }

// HTTPStatus maps an error to the status code the REST surface returns.
// Delivery failures never reach HTTP callers, but mapping them keeps the
// function total.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	// Availability conflicts surface as 400 like any other rejected request,
	// matching the original booking API.
	case KindValidation, KindInvalidTransition, KindConflict:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
