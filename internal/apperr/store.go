package apperr

import (
	"errors"

	"github.com/lib/pq"
)

// Postgres integrity constraint violation codes (class 23)
const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
	pqCheckViolation      = "23514"
	pqNotNullViolation    = "23502"

	// numeric_value_out_of_range (class 22)
	pqNumericOutOfRange = "22003"
)

// FromStore classifies an error returned by the persistence layer.
// Constraint violations become StoreIntegrityViolation, values that overflow
// a numeric column InvalidAmount, anything else Internal.
func FromStore(err error, op string) error {
	if err == nil {
		return nil
	}

	var e *Error
	if errors.As(err, &e) {
		return err
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case pqUniqueViolation:
			return Integrity(ConstraintUnique, pqErr.Constraint, err)
		case pqForeignKeyViolation:
			return Integrity(ConstraintForeignKey, pqErr.Constraint, err)
		case pqCheckViolation:
			return Integrity(ConstraintCheck, pqErr.Constraint, err)
		case pqNotNullViolation:
			return Integrity(ConstraintNotNull, pqErr.Column, err)
		case pqNumericOutOfRange:
			return Wrap(InvalidAmount, err, "an amount exceeds the supported range")
		}
	}

	return Wrap(Internal, err, "store operation %s failed", op)
}
