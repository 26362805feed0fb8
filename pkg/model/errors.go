package model

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by the stores, the chat service and the HTTP
// layer. Handlers map these to status codes with errors.Is, so wrapped
// variants (ErrNotAMember, Transient results) keep working.
var (
	ErrUnauthenticated  = errors.New("unauthenticated")
	ErrPermissionDenied = errors.New("permission denied")
	ErrValidation       = errors.New("validation failed")
	ErrNotFound         = errors.New("not found")
	ErrUnavailable      = errors.New("store unavailable")
)

// ErrNotAMember wraps ErrPermissionDenied so callers checking either
// sentinel succeed.
var ErrNotAMember = fmt.Errorf("%w: not a member", ErrPermissionDenied)

// Validation wraps ErrValidation with a field-level reason.
func Validation(reason string) error {
	return fmt.Errorf("%w: %s", ErrValidation, reason)
}

// Transient marks a store I/O failure as retryable-by-caller.
func Transient(err error) error {
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
