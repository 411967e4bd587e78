package realty

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation Kind = "validation"
	KindConflict   Kind = "conflict"
	KindState      Kind = "state"
	KindPermission Kind = "permission"
	KindNotFound   Kind = "not_found"
)

// Error carries the failure kind and a human readable reason.
type Error struct {
	Kind   Kind
	Reason string
}

func (e *Error) Error() string { return string(e.Kind) + ": " + e.Reason }

// Is matches any *Error of the same kind, so errors.Is(err, ErrConflict) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrValidation = &Error{Kind: KindValidation}
	ErrConflict   = &Error{Kind: KindConflict}
	ErrState      = &Error{Kind: KindState}
	ErrPermission = &Error{Kind: KindPermission}
	ErrNotFound   = &Error{Kind: KindNotFound}
)

func newErr(k Kind, format string, args ...any) error {
	return &Error{Kind: k, Reason: fmt.Sprintf(format, args...)}
}

func validationf(format string, args ...any) error { return newErr(KindValidation, format, args...) }
func conflictf(format string, args ...any) error   { return newErr(KindConflict, format, args...) }
func statef(format string, args ...any) error      { return newErr(KindState, format, args...) }
func permissionf(format string, args ...any) error { return newErr(KindPermission, format, args...) }

// NotFound is used by Repo implementations for absent rows.
func NotFound(entity, id string) error {
	return newErr(KindNotFound, "%s %s not found", entity, id)
}

// KindOf returns the kind of a domain error, or "" for infrastructure errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
