package postgres

import (
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/park285/elo-ladder-bot/internal/ladder"
)

const (
	codeNumericOutOfRange    = "22003"
	codeUniqueViolation      = "23505"
	codeCheckViolation       = "23514"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"

	constraintIdempotencyKey = "matches_idempotency_key_key"
)

// mapError classifies driver errors into ladder error kinds. Lock contention
// the database resolved by aborting us counts as a conflict and is retried.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	switch pqErr.Code {
	case codeUniqueViolation:
		if pqErr.Constraint == constraintIdempotencyKey {
			return fmt.Errorf("%w: %v", ladder.ErrDuplicateMatch, err)
		}
	case codeNumericOutOfRange:
		return &ladder.ValidationError{Field: pqErr.Column, Reason: "value out of range"}
	case codeCheckViolation:
		return &ladder.ValidationError{Field: pqErr.Constraint, Reason: "violates check constraint"}
	case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable:
		return fmt.Errorf("%w: %v", ladder.ErrOptimisticLock, err)
	}
	return err
}

const codeForeignKeyViolation = "23503"

func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == codeForeignKeyViolation
}
