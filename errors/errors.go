// Package errors wraps pkg/errors and adds error codes, so callers can
// branch on the kind of a failure without matching message text.
package errors

import (
	"fmt"

	"github.com/pkg/errors"
)

// Code is an error code which can be used to check against a given error. For
// example, see the Is() method.
type Code string

const (
	ErrUncoded Code = "Uncoded"
)

// New returns an error carrying code, with a stack trace attached.
func New(code Code, message string) error {
	return errors.WithStack(codedError{
		Code:    code,
		Message: message,
	})
}

// Newf is New with a formatted message.
func Newf(code Code, format string, args ...interface{}) error {
	return New(code, fmt.Sprintf(format, args...))
}

// Is reports whether any error in err's chain carries the target code.
func Is(err error, target Code) bool {
	return errors.Is(err, codedError{Code: target})
}

// WithCode attaches code to err while keeping err in the chain, so both
// Is(err, code) and As(err, &driverErr) keep working.
func WithCode(err error, code Code) error {
	if err == nil {
		return nil
	}
	return errors.WithStack(codeWrapper{code: code, err: err})
}

// CodeOf returns the code of the first coded error in err's chain, or the
// empty code when there is none.
func CodeOf(err error) Code {
	for err != nil {
		switch e := err.(type) {
		case codedError:
			return e.Code
		case codeWrapper:
			return e.code
		}
		err = errors.Unwrap(err)
	}
	return ""
}

func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

func Cause(err error) error {
	return errors.Cause(err)
}

func Errorf(format string, args ...interface{}) error {
	return errors.Errorf(format, args...)
}

func Unwrap(err error) error {
	return errors.Unwrap(err)
}

func WithMessage(err error, message string) error {
	return errors.WithMessage(err, message)
}

func WithMessagef(err error, format string, args ...interface{}) error {
	return errors.WithMessagef(err, format, args...)
}

func WithStack(err error) error {
	return errors.WithStack(err)
}

func Wrap(err error, message string) error {
	return errors.Wrap(err, message)
}

func Wrapf(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}

// codedError is the fundamental type used by this package to provide coded
// errors.
type codedError struct {
	Code    Code
	Message string
}

func (ce codedError) Error() string {
	return ce.Message
}

func (ce codedError) Is(err error) bool {
	e, ok := err.(codedError)
	return ok && ce.Code == e.Code
}

type codeWrapper struct {
	code Code
	err  error
}

func (cw codeWrapper) Error() string { return cw.err.Error() }
func (cw codeWrapper) Unwrap() error { return cw.err }

func (cw codeWrapper) Is(err error) bool {
	e, ok := err.(codedError)
	return ok && cw.code == e.Code
}
