package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/njdelapaz/Translation-Without-Supervision/internal/artifact"
	"github.com/njdelapaz/Translation-Without-Supervision/internal/model"
	"github.com/njdelapaz/Translation-Without-Supervision/internal/ports"
	"github.com/njdelapaz/Translation-Without-Supervision/internal/stage"
	unmterrors "github.com/njdelapaz/Translation-Without-Supervision/pkg/errors"
)

// Engine runs a single execution unit and classifies the outcome. It owns
// the retry policy; it never decides whether a unit should run at all.
type Engine struct {
	exec *ExecutionContext
}

// NewEngine creates an engine bound to the shared execution context.
func NewEngine(execCtx *ExecutionContext) (*Engine, error) {
	if execCtx == nil || execCtx.Store == nil {
		return nil, fmt.Errorf("execution context requires a store")
	}
	if execCtx.MaxRetries < 0 {
		return nil, unmterrors.NewConfigurationError("retry.max_retries", "must be zero or positive", nil)
	}
	return &Engine{exec: execCtx}, nil
}

// Context returns the shared execution context.
func (e *Engine) Context() *ExecutionContext {
	return e.exec
}

// Execute runs unit against resolved inputs. Each attempt writes into a fresh
// staging directory; only a successful attempt whose outputs all pass their
// completeness predicates is published under fingerprint. A RetryableFailure
// is re-invoked up to MaxRetries times and then escalates to a fatal
// ExecutionError, which is also returned for every other failure.
func (e *Engine) Execute(ctx context.Context, unit Unit, inputs map[string]artifact.Input, fingerprint string) (*model.StageResult, error) {
	if unit.Stage == nil || unit.Procedure == nil {
		return nil, unmterrors.NewExecutionError(unit.ID(), fmt.Errorf("unit has no procedure"))
	}

	store := e.exec.Store
	unitID := unit.ID()
	logPath := store.LogPath(unit.Namespace)
	log := e.exec.Logger.ForUnit(unitID)

	result := &model.StageResult{
		UnitID:    unitID,
		Ordinal:   unit.Stage.Ordinal,
		Round:     unit.Round,
		Direction: string(unit.Direction),
		Status:    model.StatusRunning,
		LogPath:   logPath,
		Timestamp: time.Now(),
	}

	logFile, err := store.OpenLog(unit.Namespace)
	if err != nil {
		return e.fail(ctx, result, err)
	}
	defer logFile.Close()

	start := time.Now()
	maxAttempts := e.exec.MaxRetries + 1
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result.Attempts = attempt
		e.exec.publish(ctx, ports.EventStageStarted, map[string]interface{}{
			"unit": unitID, "ordinal": unit.Stage.Ordinal, "round": unit.Round, "direction": string(unit.Direction), "attempt": attempt,
		})
		fmt.Fprintf(logFile, "==> %s attempt %d/%d started %s\n", unitID, attempt, maxAttempts, time.Now().UTC().Format(time.RFC3339))

		published, degraded, runErr := e.attempt(ctx, unit, inputs, fingerprint, attempt, logFile)
		if runErr == nil {
			result.Duration = time.Since(start)
			result.Outputs = published
			result.Outcome = model.OutcomeSuccess
			result.Status = model.StatusSuccess
			result.Message = "published"
			if degraded != "" {
				result.Status = model.StatusDegraded
				result.Message = degraded
				log.Warn("unit produced degraded outputs: " + degraded)
				e.exec.publish(ctx, ports.EventStageDegraded, map[string]interface{}{"unit": unitID, "reason": degraded})
			}
			fmt.Fprintf(logFile, "==> %s %s\n", unitID, result.Status)
			e.exec.publish(ctx, ports.EventStageCompleted, map[string]interface{}{
				"unit": unitID, "status": result.Status, "attempts": attempt, "duration": result.Duration.String(),
			})
			log.Info("unit completed")
			return result, nil
		}

		fmt.Fprintf(logFile, "==> %s attempt %d/%d failed: %v\n", unitID, attempt, maxAttempts, runErr)
		result.Error = runErr

		if ctx.Err() != nil || !stage.IsRetryable(runErr) || attempt == maxAttempts {
			break
		}
		result.Status = model.StatusRetrying
		log.Warn(fmt.Sprintf("transient failure on attempt %d, retrying: %v", attempt, runErr))
		e.exec.publish(ctx, ports.EventStageRetrying, map[string]interface{}{"unit": unitID, "attempt": attempt, "error": runErr.Error()})
	}

	result.Duration = time.Since(start)
	return e.fail(ctx, result, result.Error)
}

func (e *Engine) attempt(ctx context.Context, unit Unit, inputs map[string]artifact.Input, fingerprint string, attempt int, log io.Writer) (map[string]string, string, error) {
	store := e.exec.Store

	staging, err := store.Begin(unit.Namespace, unit.Outputs)
	if err != nil {
		return nil, "", err
	}
	tmp, err := store.TempDir(unit.Namespace)
	if err != nil {
		_ = staging.Discard()
		return nil, "", err
	}
	defer func() { _ = store.RemoveTempDir(unit.Namespace) }()

	inv := &stage.Invocation{
		UnitID:    unit.ID(),
		Round:     unit.Round,
		Direction: unit.Direction,
		Attempt:   attempt,
		Inputs:    Paths(inputs),
		Outputs:   staging.Paths(),
		Threads:   e.exec.Threads,
		TempDir:   tmp,
		Log:       log,
		Params:    unit.Stage.Params,
	}

	runCtx := ctx
	if unit.Stage.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, unit.Stage.Timeout)
		defer cancel()
	}

	if err := unit.Procedure.Run(runCtx, inv); err != nil {
		_ = staging.Discard()
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, "", fmt.Errorf("timeout exceeded after %s: %w", unit.Stage.Timeout, err)
		}
		return nil, "", err
	}

	degraded, _ := inv.Degraded()
	published, err := store.Publish(staging, artifact.PublishOptions{Fingerprint: fingerprint, Degraded: degraded})
	if err != nil {
		_ = staging.Discard()
		return nil, "", err
	}
	return published, degraded, nil
}

func (e *Engine) fail(ctx context.Context, result *model.StageResult, err error) (*model.StageResult, error) {
	result.Status = model.StatusFailed
	result.Outcome = model.OutcomeFatal
	if err != nil {
		result.Message = err.Error()
	}
	e.exec.Logger.WithFields(map[string]any{"unit": result.UnitID, "log": result.LogPath, "attempts": result.Attempts}).Error(err, "unit failed")
	e.exec.publish(ctx, ports.EventStageFailed, map[string]interface{}{"unit": result.UnitID, "attempts": result.Attempts, "log": result.LogPath})

	return result, &unmterrors.ExecutionError{
		StageID:  result.UnitID,
		LogPath:  result.LogPath,
		Attempts: result.Attempts,
		Err:      err,
	}
}
