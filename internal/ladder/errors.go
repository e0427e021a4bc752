package ladder

import (
	"errors"
	"fmt"
)

var (
	ErrValidation     = errors.New("validation failed")
	ErrDuplicateMatch = errors.New("match already registered")
	// ErrOptimisticLock is the only error RegisterMatch and UndoMatch retry.
	ErrOptimisticLock = errors.New("optimistic lock conflict")
	ErrNotFound       = errors.New("not found")
	ErrAlreadyUndone  = errors.New("match already undone")
	ErrPoolExhausted  = errors.New("connection pool exhausted")
)

// ValidationError describes a rejected input. It matches ErrValidation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid input: " + e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// IsRetryable reports whether err is a transient conflict.
func IsRetryable(err error) bool { return errors.Is(err, ErrOptimisticLock) }
