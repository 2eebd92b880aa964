package main

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/njdelapaz/Translation-Without-Supervision/internal/history"
	unmterrors "github.com/njdelapaz/Translation-Without-Supervision/pkg/errors"
)

func lastRun(t *testing.T, workdir string) history.Run {
	t.Helper()
	h, err := history.Open(workdir)
	require.NoError(t, err)
	run, ok := h.Last()
	require.True(t, ok)
	return run
}

func TestTrainRunsWholePipeline(t *testing.T) {
	cfgPath := writeTrainingConfig(t, "")
	workdir := filepath.Join(filepath.Dir(cfgPath), "work")

	output, err := executeCommand(newRootCmd(), "train", "--config", cfgPath, "--no-tui")
	require.NoError(t, err)
	require.Contains(t, output, "[12/12]")
	require.Contains(t, output, "Training finished")
	require.Contains(t, output, "Final artifacts of 10-train-nmt:")
	require.Contains(t, output, filepath.Join(workdir, "10-train-nmt", "nmt.src2tgt"))

	data, err := os.ReadFile(filepath.Join(workdir, "08-backtranslate", "final", "bt.tgt2src"))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(data), "retrain\n"))

	run := lastRun(t, workdir)
	require.Equal(t, history.StatusCompleted, run.Status)
	require.Equal(t, "01-preprocess", run.From)
	require.Equal(t, "10-train-nmt", run.To)
	require.Equal(t, 12, run.Counts["success"])
}

func TestTrainResumesFromCheckpoints(t *testing.T) {
	cfgPath := writeTrainingConfig(t, "")

	_, err := executeCommand(newRootCmd(), "train", "--config", cfgPath, "--no-tui")
	require.NoError(t, err)

	// Threads are not part of any checkpoint.
	output, err := executeCommand(newRootCmd(), "train", "--config", cfgPath, "--no-tui", "--threads", "8")
	require.NoError(t, err)
	require.Contains(t, output, "10-train-nmt skipped")
	require.NotContains(t, output, "10-train-nmt success")

	output, err = executeCommand(newRootCmd(), "train", "--config", cfgPath, "--no-tui", "--force", "train-nmt")
	require.NoError(t, err)
	require.Contains(t, output, "10-train-nmt success")
	require.Contains(t, output, "09-generate-bitext skipped")
}

func TestTrainStopsOnFatalFailure(t *testing.T) {
	cfgPath := writeTrainingConfig(t, "map-embeddings")
	workdir := filepath.Join(filepath.Dir(cfgPath), "work")

	output, err := executeCommand(newRootCmd(), "train", "--config", cfgPath, "--no-tui")
	require.Error(t, err)
	require.Equal(t, exitFailure, exitCode(err))

	var execErr *unmterrors.ExecutionError
	require.True(t, errors.As(err, &execErr))
	require.Equal(t, "04-map-embeddings", execErr.StageID)
	require.Contains(t, output, "04-map-embeddings failed")
	require.NotContains(t, output, "05-induce-phrase-table success")

	logData, err := os.ReadFile(execErr.LogPath)
	require.NoError(t, err)
	require.Contains(t, string(logData), "boom")

	for _, unpublished := range []string{"04-map-embeddings", "05-induce-phrase-table"} {
		_, err = os.Stat(filepath.Join(workdir, unpublished))
		require.True(t, os.IsNotExist(err), "%s must stay unpublished", unpublished)
	}

	run := lastRun(t, workdir)
	require.Equal(t, history.StatusFailed, run.Status)
	require.Equal(t, "04-map-embeddings", run.FailedUnit)
}

func TestTrainStageRange(t *testing.T) {
	cfgPath := writeTrainingConfig(t, "")

	output, err := executeCommand(newRootCmd(), "train", "--config", cfgPath, "--no-tui", "--to-step", "train-lm")
	require.NoError(t, err)
	require.Contains(t, output, "[2/2]")
	require.Contains(t, output, "Final artifacts of 02-train-lm:")

	output, err = executeCommand(newRootCmd(), "train", "--config", cfgPath, "--no-tui", "--from-step", "3", "--to-step", "3")
	require.NoError(t, err)
	require.Contains(t, output, "03-train-embeddings success")
}

func TestTrainConfigurationErrors(t *testing.T) {
	cfgPath := writeTrainingConfig(t, "")

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing config flag", []string{"train"}, "config file is required"},
		{"config does not exist", []string{"train", "--config", "/path/does/not/exist.yaml"}, "does not exist"},
		{"reversed range", []string{"train", "--config", cfgPath, "--from-step", "5", "--to-step", "2"}, "after range end"},
		{"unknown stage", []string{"train", "--config", cfgPath, "--from-step", "align"}, `unknown stage "align"`},
		{"unsatisfied upstream", []string{"train", "--config", cfgPath, "--from-step", "tune"}, "not satisfied"},
		{"invalid override", []string{"train", "--config", cfgPath, "--threads", "0"}, "threads"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := executeCommand(newRootCmd(), append(tt.args, "--no-tui")...)
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.want)
			require.Equal(t, exitConfig, exitCode(err))
		})
	}
}
