package persistence

import (
	"fmt"

	"github.com/featurebasedb/relstore/errors"
)

const (
	ErrSchemaMismatch    errors.Code = "SchemaMismatch"
	ErrInvalidIdentifier errors.Code = "InvalidIdentifier"

	ErrEntityNotFound    errors.Code = "EntityNotFound"
	ErrEntityNotUnique   errors.Code = "EntityNotUnique"
	ErrForeignField      errors.Code = "ForeignField"
	ErrTypeMismatch      errors.Code = "TypeMismatch"
	ErrNullViolation     errors.Code = "NullViolation"
	ErrOverflow          errors.Code = "Overflow"
	ErrNonFiniteDecimal  errors.Code = "NonFiniteDecimal"
	ErrEnumeratedElement errors.Code = "EnumeratedElement"

	ErrInvalidQuery       errors.Code = "InvalidQuery"
	ErrInvalidResumePoint errors.Code = "InvalidResumePoint"

	ErrLockMismatch errors.Code = "LockMismatch"

	ErrUnsupportedDialect errors.Code = "UnsupportedDialect"
	ErrPersistence        errors.Code = "Persistence"
)

// The following are helper functions for constructing coded errors containing
// relevant information about the specific error.

// NewErrSchemaMismatch describes a declared field that the live table cannot
// hold. detail is appended verbatim, typically the expected column list or the
// statement the table was created with.
func NewErrSchemaMismatch(schema, table, column, reason, detail string) error {
	msg := fmt.Sprintf("schema mismatch on %s.%s column %s: %s", schema, table, column, reason)
	if detail != "" {
		msg += "\n" + detail
	}
	return errors.New(ErrSchemaMismatch, msg)
}

func NewErrInvalidIdentifier(name, reason string) error {
	return errors.New(
		ErrInvalidIdentifier,
		fmt.Sprintf("invalid identifier '%s': %s", name, reason),
	)
}

func NewErrEntityNotFound(qualifiedTable, uri string) error {
	return errors.New(
		ErrEntityNotFound,
		fmt.Sprintf("entity '%s' not found in %s", uri, qualifiedTable),
	)
}

func NewErrEntityNotUnique(qualifiedTable, uri string, n int) error {
	return errors.New(
		ErrEntityNotUnique,
		fmt.Sprintf("entity '%s' matched %d rows in %s", uri, n, qualifiedTable),
	)
}

func NewErrForeignField(field, qualifiedTable string) error {
	return errors.New(
		ErrForeignField,
		fmt.Sprintf("field '%s' does not belong to %s", field, qualifiedTable),
	)
}

func NewErrTypeMismatch(field string, want DataType, got string) error {
	return errors.New(
		ErrTypeMismatch,
		fmt.Sprintf("field '%s' is %s, cannot hold %s", field, want, got),
	)
}

func NewErrNullViolation(field string) error {
	return errors.New(
		ErrNullViolation,
		fmt.Sprintf("field '%s' is not nullable", field),
	)
}

func NewErrOverflow(field string, maxLen, got int) error {
	return errors.New(
		ErrOverflow,
		fmt.Sprintf("value of length %d overflows field '%s' (max %d)", got, field, maxLen),
	)
}

func NewErrNonFiniteDecimal(field, dialect string) error {
	return errors.New(
		ErrNonFiniteDecimal,
		fmt.Sprintf("%s cannot store a non-finite value in field '%s'", dialect, field),
	)
}

func NewErrEnumeratedElement(qualifiedTable, parent string, want, got int64) error {
	return errors.New(
		ErrEnumeratedElement,
		fmt.Sprintf("%s under '%s': expected element %d, found %d", qualifiedTable, parent, want, got),
	)
}

func NewErrInvalidQuery(reason string) error {
	return errors.New(ErrInvalidQuery, "invalid query: "+reason)
}

func NewErrInvalidResumePoint(reason string) error {
	return errors.New(ErrInvalidResumePoint, "invalid resume point: "+reason)
}

func NewErrLockMismatch(lockID, wantForm, wantType, gotForm, gotType string) error {
	return errors.New(
		ErrLockMismatch,
		fmt.Sprintf("lock '%s' is held for %s/%s, not %s/%s", lockID, gotForm, gotType, wantForm, wantType),
	)
}

func NewErrUnsupportedDialect(name string) error {
	return errors.New(
		ErrUnsupportedDialect,
		fmt.Sprintf("unsupported dialect '%s'", name),
	)
}

// WrapPersistence marks err as a backend failure the caller may retry.
func WrapPersistence(err error, op string) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(errors.WithCode(err, ErrPersistence), op)
}
