package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors. Callers wrap these with fmt.Errorf("%w: ...") so that
// errors.Is works across layer boundaries.
var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrInvalidInput    = errors.New("invalid argument")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrForbidden       = errors.New("forbidden")
	ErrQuotaExceeded   = errors.New("quota exceeded")
	ErrDependency      = errors.New("dependency failure")
	ErrConflict        = errors.New("conflict")
	ErrExtractionEmpty = errors.New("extraction produced no result")
)

// Kind is the machine-readable error class exposed to tool callers.
type Kind string

const (
	KindNotFound        Kind = "not_found"
	KindAlreadyExists   Kind = "already_exists"
	KindInvalidArgument Kind = "invalid_argument"
	KindUnauthorized    Kind = "unauthorized"
	KindForbidden       Kind = "forbidden"
	KindQuotaExceeded   Kind = "quota_exceeded"
	KindDependency      Kind = "dependency_failure"
	KindConflict        Kind = "conflict"
	KindInternal        Kind = "internal"
)

// KindOf classifies an error chain into its exposed kind.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrAlreadyExists):
		return KindAlreadyExists
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidArgument
	case errors.Is(err, ErrUnauthorized):
		return KindUnauthorized
	case errors.Is(err, ErrForbidden):
		return KindForbidden
	case errors.Is(err, ErrQuotaExceeded):
		return KindQuotaExceeded
	case errors.Is(err, ErrDependency):
		return KindDependency
	case errors.Is(err, ErrConflict):
		return KindConflict
	default:
		return KindInternal
	}
}

// DependencyError wraps a backend failure with the dependency name so the
// caller can tell which external system misbehaved.
func DependencyError(dependency string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrDependency, dependency, err)
}
