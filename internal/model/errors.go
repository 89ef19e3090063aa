package model

import (
	"errors"
	"fmt"
)

// ErrorKind classifies expected, user-facing outcomes. Presentation layers
// switch on it to render different states ("Full", "Sign in to register").
type ErrorKind string

const (
	KindNotFound              ErrorKind = "not_found"
	KindInactive              ErrorKind = "inactive"
	KindAlreadyStarted        ErrorKind = "already_started"
	KindDuplicateRegistration ErrorKind = "duplicate_registration"
	KindCapacityExceeded      ErrorKind = "capacity_exceeded"
	KindUnauthorized          ErrorKind = "unauthorized"
	KindWithinDeadline        ErrorKind = "within_deadline"
	KindAlreadyCancelled      ErrorKind = "already_cancelled"
	KindUnauthenticated       ErrorKind = "unauthenticated"
	KindDuplicateRequest      ErrorKind = "duplicate_request"
	KindAlreadyProcessed      ErrorKind = "already_processed"
	KindInvalid               ErrorKind = "invalid_request"
	KindInternal              ErrorKind = "internal"
)

// Error is a kinded domain error. Two Errors match under errors.Is when their
// kinds are equal, so entity-specific messages still compare to the sentinels.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// NewError builds a domain error of the given kind.
func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

var (
	ErrNotFound              = &Error{Kind: KindNotFound, Message: "not found"}
	ErrInactive              = &Error{Kind: KindInactive, Message: "no longer active"}
	ErrAlreadyStarted        = &Error{Kind: KindAlreadyStarted, Message: "already started"}
	ErrDuplicateRegistration = &Error{Kind: KindDuplicateRegistration, Message: "already registered"}
	ErrCapacityExceeded      = &Error{Kind: KindCapacityExceeded, Message: "capacity exceeded"}
	ErrUnauthorized          = &Error{Kind: KindUnauthorized, Message: "you can only cancel your own registrations"}
	ErrWithinDeadline        = &Error{Kind: KindWithinDeadline, Message: "cannot cancel within the cancellation window"}
	ErrAlreadyCancelled      = &Error{Kind: KindAlreadyCancelled, Message: "registration is already cancelled"}
	ErrUnauthenticated       = &Error{Kind: KindUnauthenticated, Message: "you must be signed in"}
	ErrInvalid               = &Error{Kind: KindInvalid, Message: "invalid request"}
	ErrDuplicateRequest      = &Error{Kind: KindDuplicateRequest, Message: "you already have a pending or approved request with this title"}
	ErrAlreadyProcessed      = &Error{Kind: KindAlreadyProcessed, Message: "this request has already been processed"}
)

// KindOf extracts the kind of a domain error. Anything else is internal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// IsDomain reports whether err is an expected outcome rather than a fault.
func IsDomain(err error) bool {
	var de *Error
	return errors.As(err, &de)
}
