package queue

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation   Kind = "validation"
	KindNotFound     Kind = "not_found"
	KindConflict     Kind = "conflict"
	KindForbidden    Kind = "forbidden"
	KindUnauthorized Kind = "unauthorized"
	KindUpstream     Kind = "upstream"
	KindTransient    Kind = "transient_store"
)

// Error is the error type returned by every queue operation.
type Error struct {
	Kind    Kind
	Message string
	// Status is the ticket status that blocked a transition (conflicts only).
	Status string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Kind == KindTransient {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewValidationError(message string) *Error {
	return &Error{Kind: KindValidation, Message: message}
}

func NewNotFoundError(message string) *Error {
	return &Error{Kind: KindNotFound, Message: message}
}

func NewConflictError(status, message string) *Error {
	return &Error{Kind: KindConflict, Message: message, Status: status}
}

func NewForbiddenError(message string) *Error {
	return &Error{Kind: KindForbidden, Message: message}
}

func NewUnauthorizedError(message string) *Error {
	return &Error{Kind: KindUnauthorized, Message: message}
}

func NewUpstreamError(err error) *Error {
	message := "upstream lookup failed"
	if err != nil && err.Error() != "" {
		message = err.Error()
	}
	return &Error{Kind: KindUpstream, Message: message, Err: err}
}

func NewTransientError(err error) *Error {
	return &Error{Kind: KindTransient, Message: "store operation failed", Err: err}
}

// KindOf reports the kind of err. Errors that are not *Error count as transient.
func KindOf(err error) Kind {
	var qe *Error
	if errors.As(err, &qe) {
		return qe.Kind
	}
	return KindTransient
}

func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
