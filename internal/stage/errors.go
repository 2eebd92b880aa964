package stage

import (
	"errors"
	"fmt"
)

// RetryableError marks a failure as transient. Only procedures that
// explicitly recognise a known-transient signature should produce it; every
// other error is fatal.
type RetryableError struct {
	Signature string
	Err       error
}

// Retryable wraps err as a transient failure matched by signature.
func Retryable(err error, signature string) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Signature: signature, Err: err}
}

func (e *RetryableError) Error() string {
	if e.Signature == "" {
		return fmt.Sprintf("transient failure: %v", e.Err)
	}
	return fmt.Sprintf("transient failure (%s): %v", e.Signature, e.Err)
}

// Unwrap returns the underlying error.
func (e *RetryableError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err carries a RetryableError.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}
