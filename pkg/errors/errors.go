package errors

import (
	goerrors "errors"
	"fmt"
)

// New returns an error with the given message.
func New(msg string) error {
	return goerrors.New(msg)
}

// ContextError annotates an error with the operation that produced it.
// Callers wrap errors as they propagate up so that the final message
// reads as a chain of operations (e.g. "parse config: read file: ...").
type ContextError struct {
	Context string
	Err     error
}

// WithContext wraps err with context.
func WithContext(err error, context string) error {
	return ContextError{Context: context, Err: err}
}

func (err ContextError) Error() string {
	return fmt.Sprintf("%s: %s", err.Context, err.Err)
}

// Unwrap returns the wrapped error so that ContextError works with the
// standard errors.Is and errors.As helpers.
func (err ContextError) Unwrap() error {
	return err.Err
}

// RootCause returns the innermost error in a chain of ContextErrors.
func RootCause(err error) error {
	for {
		contextErr, ok := err.(ContextError)
		if !ok {
			return err
		}
		err = contextErr.Err
	}
}

// FriendlyError is an error whose message is meant to be shown directly
// to the user, without any wrapping context.
type FriendlyError interface {
	FriendlyMessage() string
	error
}

type friendlyError struct {
	message string
}

// NewFriendlyError creates an error with a message that's printed
// verbatim to the user.
func NewFriendlyError(format string, args ...interface{}) error {
	return friendlyError{fmt.Sprintf(format, args...)}
}

func (err friendlyError) Error() string {
	return err.message
}

func (err friendlyError) FriendlyMessage() string {
	return err.message
}

// GetPrintableMessage returns the message that should be shown to the
// user for the given error.
func GetPrintableMessage(err error) string {
	if friendly, ok := err.(FriendlyError); ok {
		return friendly.FriendlyMessage()
	}
	return err.Error()
}
