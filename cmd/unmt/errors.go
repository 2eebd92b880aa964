package main

import (
	"errors"
	"fmt"

	unmterrors "github.com/njdelapaz/Translation-Without-Supervision/pkg/errors"
)

const (
	exitSuccess = 0
	exitFailure = 1
	exitConfig  = 2
)

// usageError wraps malformed command lines so they map to the configuration
// exit code.
type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

// pendingError is returned by `status --check` when stages still need to run.
type pendingError struct {
	pending int
}

func (e *pendingError) Error() string {
	return fmt.Sprintf("%d stage(s) are not satisfied", e.pending)
}

func exitCode(err error) int {
	if err == nil {
		return exitSuccess
	}

	var (
		usageErr  *usageError
		configErr *unmterrors.ConfigurationError
		validErr  *unmterrors.ValidationError
		parseErr  *unmterrors.ParseError
	)
	switch {
	case errors.As(err, &usageErr),
		errors.As(err, &configErr),
		errors.As(err, &validErr),
		errors.As(err, &parseErr):
		return exitConfig
	}
	return exitFailure
}
