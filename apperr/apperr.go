// Package apperr classifies domain errors so transport layers can map them
// without knowing every sentinel.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is the coarse category of a rejected operation.
type Kind int

const (
	KindInternal Kind = iota
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindInvalidTransition
	KindPreconditionFailed
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindInvalidTransition:
		return "invalid_transition"
	case KindPreconditionFailed:
		return "precondition_failed"
	case KindValidation:
		return "validation_error"
	default:
		return "internal"
	}
}

// Error is a classified error. Sentinels are compared by identity, so
// errors.Is keeps working through fmt.Errorf("%w") wrapping.
type Error struct {
	kind Kind
	msg  string
}

// New returns a classified sentinel.
func New(kind Kind, msg string) *Error {
	return &Error{kind: kind, msg: msg}
}

// Errorf builds a classified error with a formatted reason.
func Errorf(kind Kind, format string, args ...any) error {
	return &Error{kind: kind, msg: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string { return e.msg }

// Kind reports the category of e.
func (e *Error) Kind() Kind { return e.kind }

// KindOf returns the category of the first classified error in err's chain,
// or KindInternal when none is found.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}
	return KindInternal
}
