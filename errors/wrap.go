package errors

import (
	"context"
	"errors"
	"fmt"
)

// Coded is implemented by lower-layer errors that know their own code.
type Coded interface {
	ErrorCode() ErrorCode
}

// Wrap wraps an error with additional context while preserving the chain.
// If err is nil, Wrap returns nil. An *Error keeps its code and category,
// as does any error implementing Coded. Context expiry becomes TIMEOUT or
// CANCELED. Anything else is UNAVAILABLE, since unclassified failures at
// this layer come from the storage backend.
func Wrap(err error, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}

	var se *Error
	if errors.As(err, &se) {
		wrapped := &Error{
			code:      se.code,
			category:  se.category,
			message:   message,
			cause:     err,
			metadata:  se.Metadata(),
			timestamp: se.timestamp,
			taskID:    se.taskID,
			path:      se.path,
		}
		for _, opt := range opts {
			opt(wrapped)
		}
		return wrapped
	}

	var c Coded
	if errors.As(err, &c) {
		return New(c.ErrorCode(), message, append(opts, WithCause(err))...)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return New(ErrCodeTimeout, message, append(opts, WithCause(err))...)
	}
	if errors.Is(err, context.Canceled) {
		return New(ErrCodeCanceled, message, append(opts, WithCause(err))...)
	}

	return New(ErrCodeUnavailable, message, append(opts, WithCause(err))...)
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, format string, args ...interface{}) *Error {
	return Wrap(err, fmt.Sprintf(format, args...))
}

// WrapWithCode wraps an error with a specific error code.
func WrapWithCode(err error, code ErrorCode, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}
	opts = append(opts, WithCause(err))
	return New(code, message, opts...)
}

// As extracts an *Error from an error chain, or nil.
func As(err error) *Error {
	var se *Error
	if errors.As(err, &se) {
		return se
	}
	return nil
}

// Is checks if any error in the chain has the given error code.
func Is(err error, code ErrorCode) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.code == code
	}
	return false
}

// IsRetryable checks if the error is retryable.
func IsRetryable(err error) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Retryable()
	}
	return false
}

// Code extracts the error code from an error, or "" if it has none.
func Code(err error) ErrorCode {
	var se *Error
	if errors.As(err, &se) {
		return se.code
	}
	return ""
}

// Join combines multiple errors into a single error.
func Join(errs ...error) error {
	return errors.Join(errs...)
}
