package shared

import (
	"errors"
	"fmt"
)

// ErrorKind classifies domain errors so callers can decide per-kind
// whether to retry, prompt the user, or hard-fail.
type ErrorKind string

const (
	// KindValidation marks malformed input. The engine state is unchanged.
	KindValidation ErrorKind = "VALIDATION"
	// KindAuthorization marks a caller lacking role or section authority.
	KindAuthorization ErrorKind = "AUTHORIZATION"
	// KindInvariant marks an operation that would corrupt aggregate state.
	KindInvariant ErrorKind = "INVARIANT"
	// KindConflict marks a stale read set; the caller must re-fetch.
	KindConflict ErrorKind = "CONFLICT"
)

// DomainError is the typed result returned across every engine boundary.
type DomainError struct {
	Kind    ErrorKind
	Message string
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Validationf builds a validation error.
func Validationf(format string, args ...any) *DomainError {
	return &DomainError{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// Authorizationf builds an authorization error.
func Authorizationf(format string, args ...any) *DomainError {
	return &DomainError{Kind: KindAuthorization, Message: fmt.Sprintf(format, args...)}
}

// Invariantf builds an invariant violation error.
func Invariantf(format string, args ...any) *DomainError {
	return &DomainError{Kind: KindInvariant, Message: fmt.Sprintf(format, args...)}
}

// Conflictf builds a concurrency conflict error.
func Conflictf(format string, args ...any) *DomainError {
	return &DomainError{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the kind from err, or "" when err is not a DomainError.
func KindOf(err error) ErrorKind {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// ErrNotFound indicates resource not found.
var ErrNotFound = errors.New("not found")
