package main

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	unmterrors "github.com/njdelapaz/Translation-Without-Supervision/pkg/errors"
)

func TestExitCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"success", nil, exitSuccess},
		{"configuration", unmterrors.NewConfigurationError("from-step", "unknown stage", nil), exitConfig},
		{"wrapped validation", fmt.Errorf("load: %w", unmterrors.NewValidationError("threads", "too small", nil)), exitConfig},
		{"parse", unmterrors.NewParseError("unmt.yaml", 3, errors.New("bad indent")), exitConfig},
		{"usage", &usageError{err: errors.New("unknown flag: --bogus")}, exitConfig},
		{"execution", &unmterrors.ExecutionError{StageID: "04-map-embeddings", Err: errors.New("exit status 3")}, exitFailure},
		{"interrupted", context.Canceled, exitFailure},
		{"pending", &pendingError{pending: 3}, exitFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}

func TestUnknownFlagIsUsageError(t *testing.T) {
	_, err := executeCommand(newRootCmd(), "train", "--bogus")
	require.Error(t, err)
	require.Equal(t, exitConfig, exitCode(err))
}
