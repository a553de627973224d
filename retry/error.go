package retry

import "errors"

// ErrExhausted is returned when the retry budget refuses an attempt. This
// protects the system from retry storms under high load.
var ErrExhausted = errors.New("retry budget exhausted")

// Error is implemented by errors that know whether they are temporary
// (retryable) or permanent. When Temporary() returns false the retry loop
// stops immediately and returns the error without further attempts.
type Error interface {
	// Temporary reports whether the operation is worth retrying.
	Temporary() bool
	error
}

// permanentError marks an error as permanent. Produced by Abort.
type permanentError struct {
	error
}

func (e *permanentError) Temporary() bool { return false }

func (e *permanentError) Unwrap() error {
	return e.error
}

// Abort wraps an error so the retry loop stops immediately. Use it for
// failures where retrying cannot help:
//
//	if err := validateInput(data); err != nil {
//	    return retry.Abort(err)
//	}
func Abort(err error) Error {
	return &permanentError{err}
}
