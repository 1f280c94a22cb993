package rbac

import (
	"errors"
	"fmt"
)

// Sentinels for errors.Is matching. Each typed error below reports Is() true for
// its sentinel, so callers can use either style.
var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation failed")
	ErrConflict   = errors.New("conflict")
	ErrProvider   = errors.New("provider failure")
)

// NotFoundError reports a referenced role or assignment that does not exist
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ValidationError reports malformed input or a business rule violation
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// ConflictError reports a uniqueness violation that idempotence did not absorb
type ConflictError struct {
	Resource string
	Message  string
	Err      error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s conflict: %s", e.Resource, e.Message)
}

func (e *ConflictError) Unwrap() error { return e.Err }

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// ProviderError wraps a failure of the backing store
type ProviderError struct {
	Op  string
	Err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("failed to %s: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

func (e *ProviderError) Is(target error) bool { return target == ErrProvider }

// IsNotFound reports whether err is or wraps a NotFoundError
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsValidation reports whether err is or wraps a ValidationError
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsConflict reports whether err is or wraps a ConflictError
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

// wrapStoreError classifies a raw driver error. Unique violations become
// ConflictError, everything else ProviderError.
func wrapStoreError(op, resource string, err error) error {
	if err == nil {
		return nil
	}
	if IsNotFound(err) || IsValidation(err) || IsConflict(err) || errors.Is(err, ErrProvider) {
		return err
	}
	if isUniqueViolation(err) {
		return &ConflictError{Resource: resource, Message: "already exists", Err: err}
	}
	return &ProviderError{Op: op, Err: err}
}
