// Package serviceerr carries coded service failures from the domain
// packages to the HTTP layer.
package serviceerr

import (
	"errors"
	"fmt"
)

// Error wraps a failure with a stable "<operation>.<reason>" code.
type Error struct {
	code string
	err  error
}

func (e *Error) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *Error) Unwrap() error {
	return e.err
}

func (e *Error) Code() string {
	return e.code
}

// Message returns the underlying cause's message, which is what operators
// see in the admin notifications.
func (e *Error) Message() string {
	if e.err == nil {
		return e.code
	}
	return e.err.Error()
}

// New builds an Error for operation and reason.
func New(operation, reason string, cause error) error {
	return &Error{code: operation + "." + reason, err: cause}
}

// Code extracts the code of the first Error in err's chain.
func Code(err error) string {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.code
	}
	return ""
}
