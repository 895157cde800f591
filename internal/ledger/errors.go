package ledger

import (
	"errors"
	"fmt"
)

// Kind classifies why an operation was rejected. Every kind aborts the whole
// operation.
type Kind int

const (
	KindAuthorization Kind = iota + 1 // invocation identity does not match the user argument
	KindValidation                    // an argument violates a static constraint
	KindReference                     // a referenced message does not exist
	KindConflict                      // a uniqueness invariant would break
)

func (k Kind) String() string {
	switch k {
	case KindAuthorization:
		return "authorization"
	case KindValidation:
		return "validation"
	case KindReference:
		return "reference"
	case KindConflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// Error is a rejected operation. Reason is surfaced to the caller verbatim.
type Error struct {
	Kind   Kind
	Reason string
}

func (e *Error) Error() string {
	return e.Reason
}

// Is matches any *Error of the same Kind, so errors.Is(err, ErrConflict)
// works regardless of the reason text.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrAuthorization = &Error{Kind: KindAuthorization, Reason: "authorization error"}
	ErrValidation    = &Error{Kind: KindValidation, Reason: "validation error"}
	ErrReference     = &Error{Kind: KindReference, Reason: "reference error"}
	ErrConflict      = &Error{Kind: KindConflict, Reason: "conflict error"}
)

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// KindOf extracts the rejection kind from err. The second result is false for
// nil and for failures that are not rejections (storage errors and the like).
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
