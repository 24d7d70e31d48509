package errors_test

import (
	"fmt"
	"testing"

	"github.com/featurebasedb/relstore/errors"
	"github.com/stretchr/testify/assert"
)

func TestErrors(t *testing.T) {
	t.Run("Is", func(t *testing.T) {
		uncoded := errors.New(errors.ErrUncoded, "uncoded error")
		cnf := newErrColumnNotFound("col")
		tnf := newErrTableNotFound("tbl")
		cnfCustom := errors.New(errColumnNotFound, "custom column message")

		tests := []struct {
			err    error
			target errors.Code
			exp    bool
		}{
			{err: uncoded, target: errors.ErrUncoded, exp: true},
			{err: uncoded, target: errColumnNotFound, exp: false},
			{err: cnf, target: errColumnNotFound, exp: true},
			{err: cnf, target: errTableNotFound, exp: false},
			{err: errors.Wrap(tnf, "with message"), target: errTableNotFound, exp: true},
			{err: errors.Wrapf(errors.Wrap(tnf, "inner"), "outer %d", 2), target: errTableNotFound, exp: true},
			{err: cnfCustom, target: errColumnNotFound, exp: true},
			{err: fmt.Errorf("plain"), target: errors.ErrUncoded, exp: false},
		}

		for i, test := range tests {
			t.Run(fmt.Sprintf("test-%d", i), func(t *testing.T) {
				got := errors.Is(test.err, test.target)
				assert.Equal(t, test.exp, got)
			})
		}
	})

	t.Run("CodeOf", func(t *testing.T) {
		assert.Equal(t, errTableNotFound, errors.CodeOf(errors.Wrap(newErrTableNotFound("x"), "ctx")))
		assert.Equal(t, errors.Code(""), errors.CodeOf(fmt.Errorf("plain")))
	})

	t.Run("WithCode", func(t *testing.T) {
		driverErr := &fakeDriverError{Number: 1146}
		err := errors.Wrap(errors.WithCode(driverErr, errTableNotFound), "introspecting")
		assert.True(t, errors.Is(err, errTableNotFound))
		assert.False(t, errors.Is(err, errColumnNotFound))
		assert.Equal(t, errTableNotFound, errors.CodeOf(err))

		var target *fakeDriverError
		assert.True(t, errors.As(err, &target))
		assert.Equal(t, 1146, target.Number)
		assert.Nil(t, errors.WithCode(nil, errTableNotFound))
	})

	t.Run("Message", func(t *testing.T) {
		err := errors.Wrap(errors.Newf(errTableNotFound, "table not found: %s", "t1"), "asserting")
		assert.Equal(t, "asserting: table not found: t1", err.Error())
	})
}

// Test error codes.

const (
	errColumnNotFound errors.Code = "ColumnNotFound"
	errTableNotFound  errors.Code = "TableNotFound"
)

func newErrColumnNotFound(column string) error {
	return errors.New(
		errColumnNotFound,
		"column not found: "+column,
	)
}

func newErrTableNotFound(table string) error {
	return errors.New(
		errTableNotFound,
		"table not found: "+table,
	)
}

type fakeDriverError struct {
	Number int
}

func (e *fakeDriverError) Error() string { return fmt.Sprintf("driver error %d", e.Number) }
