// Package fault defines the typed error taxonomy used across the engine.
// Every failure a caller can branch on carries a stable machine-readable
// kind alongside a human-readable message; raw store errors never leak
// past the repository layer.
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind string

const (
	// KindValidation is malformed, missing, or out-of-range input.
	KindValidation Kind = "validation"
	// KindNotFound is a missing request, donor, bank, or inventory item.
	KindNotFound Kind = "not_found"
	// KindAuthorization is a role or ownership violation.
	KindAuthorization Kind = "authorization"
	// KindInsufficientStock is the expected business outcome of a reserve
	// that cannot be covered. It is not a generic failure.
	KindInsufficientStock Kind = "insufficient_stock"
	// KindDonorNotEligible is the expected business outcome of a
	// donation attempt by a donor outside the eligibility rules.
	KindDonorNotEligible Kind = "donor_not_eligible"
	// KindConflict is an action invalid in the entity's current state,
	// such as cancelling a request that is no longer pending.
	KindConflict Kind = "conflict"
	// KindTransientStore is an underlying persistence failure. It always
	// rolls back the enclosing transaction.
	KindTransientStore Kind = "transient_store"
)

// Error is a classified engine error.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a classified error.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error.
func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// Validation builds a validation error.
func Validation(format string, args ...interface{}) *Error {
	return New(KindValidation, format, args...)
}

// NotFound builds a not-found error.
func NotFound(format string, args ...interface{}) *Error {
	return New(KindNotFound, format, args...)
}

// Authorization builds an authorization error.
func Authorization(format string, args ...interface{}) *Error {
	return New(KindAuthorization, format, args...)
}

// InsufficientStock builds an insufficient-stock error.
func InsufficientStock(format string, args ...interface{}) *Error {
	return New(KindInsufficientStock, format, args...)
}

// DonorNotEligible builds a donor-not-eligible error.
func DonorNotEligible(format string, args ...interface{}) *Error {
	return New(KindDonorNotEligible, format, args...)
}

// Conflict builds a conflict error.
func Conflict(format string, args ...interface{}) *Error {
	return New(KindConflict, format, args...)
}

// TransientStore wraps a persistence failure.
func TransientStore(err error, format string, args ...interface{}) *Error {
	return Wrap(KindTransientStore, err, format, args...)
}

// KindOf extracts the Kind from err, or KindTransientStore when err is not
// a classified error (unknown failures are treated as store failures so
// they roll back and retry rather than being reported as caller mistakes).
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindTransientStore
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
