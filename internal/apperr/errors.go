// Package apperr defines the closed error taxonomy of the ticket service and
// its translation to HTTP responses.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for callers and transports
type Kind string

const (
	MissingRequiredField     Kind = "MISSING_REQUIRED_FIELD"
	MalformedTimestamp       Kind = "MALFORMED_TIMESTAMP"
	InvalidAmount            Kind = "INVALID_AMOUNT"
	InconsistentBasket       Kind = "INCONSISTENT_BASKET"
	AttachmentRejected       Kind = "ATTACHMENT_REJECTED"
	DuplicateRecord          Kind = "DUPLICATE_RECORD"
	StoreIntegrityViolation  Kind = "STORE_INTEGRITY_VIOLATION"
	TransientUpstreamFailure Kind = "TRANSIENT_UPSTREAM_FAILURE"
	UpstreamRejected         Kind = "UPSTREAM_REJECTED"

	BadRequest   Kind = "BAD_REQUEST"
	Unauthorized Kind = "UNAUTHORIZED"
	NotFound     Kind = "NOT_FOUND"
	Internal     Kind = "INTERNAL"
)

// Constraint categories reported with StoreIntegrityViolation
const (
	ConstraintUnique     = "unique"
	ConstraintForeignKey = "foreign_key"
	ConstraintCheck      = "check"
	ConstraintNotNull    = "not_null"
)

// Error is the single error type returned across service boundaries
type Error struct {
	Kind    Kind
	Message string

	// Invoice is set for DuplicateRecord
	Invoice string
	// Constraint is set for StoreIntegrityViolation
	Constraint string

	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by kind, so errors.Is(err, &Error{Kind: X}) works
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New creates an error of the given kind
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an error of the given kind around a cause
func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// Duplicate reports an invoice that is already stored
func Duplicate(invoice string) *Error {
	return &Error{
		Kind:    DuplicateRecord,
		Message: fmt.Sprintf("purchase with invoice number %s already exists", invoice),
		Invoice: invoice,
	}
}

// Integrity reports a constraint violation surfaced by the store
func Integrity(constraint, name string, err error) *Error {
	return &Error{
		Kind:       StoreIntegrityViolation,
		Message:    fmt.Sprintf("%s constraint violated: %s", constraint, name),
		Constraint: constraint,
		Err:        err,
	}
}

// KindOf returns the kind of err, or Internal for foreign errors
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// IsKind reports whether err carries the given kind
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsAlreadyExists is true both for the application-level duplicate check and
// for a unique violation raised by a concurrent ingestion of the same invoice.
func IsAlreadyExists(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	switch e.Kind {
	case DuplicateRecord:
		return true
	case StoreIntegrityViolation:
		return e.Constraint == ConstraintUnique
	}
	return false
}

// IsRetryable reports whether the operation may succeed if repeated later
func IsRetryable(err error) bool {
	return IsKind(err, TransientUpstreamFailure)
}

// HTTPStatus maps an error to its response status
func HTTPStatus(err error) int {
	var e *Error
	if !errors.As(err, &e) {
		return http.StatusInternalServerError
	}

	switch e.Kind {
	case MissingRequiredField, MalformedTimestamp, InvalidAmount, InconsistentBasket, AttachmentRejected:
		return http.StatusUnprocessableEntity
	case DuplicateRecord:
		return http.StatusConflict
	case StoreIntegrityViolation:
		if e.Constraint == ConstraintUnique {
			return http.StatusConflict
		}
		return http.StatusUnprocessableEntity
	case TransientUpstreamFailure:
		return http.StatusServiceUnavailable
	case UpstreamRejected, BadRequest:
		return http.StatusBadRequest
	case Unauthorized:
		return http.StatusUnauthorized
	case NotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns the message safe to show to the caller.
// Internal and store details are never exposed.
func PublicMessage(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return "internal server error"
	}

	switch e.Kind {
	case Internal:
		return "internal server error"
	case StoreIntegrityViolation:
		if e.Constraint == ConstraintUnique {
			return "the ticket already exists"
		}
		return "the ticket references data that does not satisfy store constraints"
	case TransientUpstreamFailure:
		return "extraction service unavailable"
	default:
		return e.Message
	}
}
