// Package errors contains the error helpers used throughout treesync.
//
// Errors are wrapped with a short description of the operation that failed,
// so that the final message reads like a stack of failed steps, e.g.
// "sync docs: copy /a/b: open destination: permission denied". The original
// error is always kept as the root cause so that callers can still switch on
// its type.
package errors

import (
	"errors"
	"fmt"
)

// New returns an error with the given message.
func New(format string, args ...interface{}) error {
	if len(args) == 0 {
		return errors.New(format)
	}
	return fmt.Errorf(format, args...)
}

type contextError struct {
	context string
	err     error
}

// WithContext annotates `err` with a description of what was being done
// when it occurred. It returns nil if `err` is nil.
func WithContext(err error, context string) error {
	if err == nil {
		return nil
	}
	return contextError{context: context, err: err}
}

func (err contextError) Error() string {
	return fmt.Sprintf("%s: %s", err.context, err.err)
}

func (err contextError) Unwrap() error {
	return err.err
}

// RootCause returns the innermost error wrapped by WithContext.
func RootCause(err error) error {
	for {
		ctxErr, ok := err.(contextError)
		if !ok {
			return err
		}
		err = ctxErr.err
	}
}

// FriendlyError is an error whose message is meant to be shown to the
// operator as is, without the context chain.
type FriendlyError struct {
	msg string
}

// NewFriendlyError creates a FriendlyError. Its arguments are handled in the
// manner of fmt.Sprintf.
func NewFriendlyError(format string, args ...interface{}) error {
	return FriendlyError{fmt.Sprintf(format, args...)}
}

func (err FriendlyError) Error() string {
	return err.msg
}

// FriendlyMessage returns the message that should be printed to the user.
func (err FriendlyError) FriendlyMessage() string {
	return err.msg
}

type friendlyMessager interface {
	FriendlyMessage() string
}

// GetPrintableMessage returns the message that should be shown to the user
// for the given error. If any error in the chain implements
// FriendlyMessage, that message is used. Otherwise, the full error string is
// returned.
func GetPrintableMessage(err error) string {
	for curr := err; curr != nil; curr = errors.Unwrap(curr) {
		if friendly, ok := curr.(friendlyMessager); ok {
			return friendly.FriendlyMessage()
		}
	}
	return err.Error()
}

// Is and As are re-exported so that callers don't need to import both this
// package and the standard library one.
var (
	Is = errors.Is
	As = errors.As
)
