package store

import (
	"errors"
	"fmt"
)

// Kind is the three-member error taxonomy C6 raises per §7. Anything else
// propagates as an internal error.
type Kind string

const (
	KindNotFound   Kind = "NOT_FOUND"
	KindValidation Kind = "VALIDATION"
	KindConflict   Kind = "CONFLICT"
)

// Error is a domain error carrying a Kind and a machine-readable reason,
// safe for the transport to map onto an HTTP status (404/400/409).
type Error struct {
	Kind   Kind
	Reason string
	err    error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("store: %s: %s: %v", e.Kind, e.Reason, e.err)
	}
	return fmt.Sprintf("store: %s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error { return e.err }

func notFound(reason string) error {
	return &Error{Kind: KindNotFound, Reason: reason}
}

func validation(reason string) error {
	return &Error{Kind: KindValidation, Reason: reason}
}

func conflict(reason string) error {
	return &Error{Kind: KindConflict, Reason: reason}
}

func internalf(reason string, err error) error {
	return &Error{Kind: "", Reason: reason, err: err}
}

// KindOf extracts the Kind of a store error, or "" if err is not (or does
// not wrap) a *Error.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}
