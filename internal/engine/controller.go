package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/njdelapaz/Translation-Without-Supervision/internal/artifact"
	"github.com/njdelapaz/Translation-Without-Supervision/internal/model"
	"github.com/njdelapaz/Translation-Without-Supervision/internal/ports"
	"github.com/njdelapaz/Translation-Without-Supervision/internal/stage"
	unmterrors "github.com/njdelapaz/Translation-Without-Supervision/pkg/errors"
)

// IterativeRequest describes one execution of the iterative stage.
type IterativeRequest struct {
	Stage       *stage.Stage
	Inputs      map[string]artifact.Input
	Fingerprint string
	Rounds      int
	Force       bool
}

// IterativeRunner expands the iterative stage into rounds and publishes its
// stage-level outputs. The returned results cover every round unit followed
// by the consolidation unit.
type IterativeRunner interface {
	RunIterative(ctx context.Context, req IterativeRequest) ([]model.StageResult, error)
}

// Report summarises a completed run.
type Report struct {
	Plan    *Plan
	Results []model.StageResult
	// Final holds the published artifact locations of the last stage.
	Final    map[string]string
	Duration time.Duration
}

// Counts tallies results by status.
func (r *Report) Counts() map[string]int {
	counts := make(map[string]int)
	if r == nil {
		return counts
	}
	for _, res := range r.Results {
		counts[res.Status]++
	}
	return counts
}

// Controller walks a plan in order, skipping satisfied stages and executing
// the rest through the engine. It stops at the first fatal failure.
type Controller struct {
	graph  *Graph
	engine *Engine
	loop   IterativeRunner
}

// NewController wires the graph, the engine and the runner used for the
// iterative stage.
func NewController(graph *Graph, engine *Engine, loop IterativeRunner) *Controller {
	return &Controller{graph: graph, engine: engine, loop: loop}
}

// Run executes plan. Skipping is strictly output-driven: a stage is skipped
// only when every declared output is satisfied under the fingerprint of its
// current inputs and it was not forced.
func (c *Controller) Run(ctx context.Context, plan *Plan) (*Report, error) {
	if plan == nil {
		return nil, unmterrors.NewConfigurationError("plan", "plan cannot be nil", nil)
	}
	execCtx := c.engine.Context()
	store := execCtx.Store
	log := execCtx.Logger

	start := time.Now()
	report := &Report{Plan: plan}
	execCtx.publish(ctx, ports.EventPipelineStarted, map[string]interface{}{
		"from": plan.From.ID(), "to": plan.To.ID(), "units": len(plan.Units), "stages": plan.StageIDs(),
	})

	failed := func(err error) (*Report, error) {
		report.Duration = time.Since(start)
		execCtx.publish(ctx, ports.EventPipelineFailed, map[string]interface{}{"error": err.Error()})
		return report, err
	}

	for _, st := range plan.Stages {
		if err := ctx.Err(); err != nil {
			return failed(unmterrors.NewExecutionError(st.ID(), err))
		}

		inputs, err := ResolveInputs(c.graph, store, st)
		if err != nil {
			return failed(unmterrors.NewExecutionError(st.ID(), err))
		}
		fp, err := StageFingerprint(st, inputs, plan.Rounds)
		if err != nil {
			return failed(unmterrors.NewExecutionError(st.ID(), err))
		}

		unit := StageUnit(st)
		forced := plan.Forced(st)
		if !forced {
			check, err := store.Satisfied(unit.Namespace, st.Outputs, fp)
			if err != nil {
				return failed(unmterrors.NewExecutionError(st.ID(), err))
			}
			if check.Satisfied {
				log.ForUnit(unit.ID()).Info("stage already satisfied, skipping")
				execCtx.publish(ctx, ports.EventStageSkipped, map[string]interface{}{"unit": unit.ID(), "ordinal": st.Ordinal})
				report.Results = append(report.Results, model.StageResult{
					UnitID:    unit.ID(),
					Ordinal:   st.Ordinal,
					Status:    model.StatusSkipped,
					Outcome:   model.OutcomeSuccess,
					Message:   "checkpoint satisfied",
					Outputs:   publishedPaths(store, unit),
					Timestamp: time.Now(),
				})
				continue
			}
			log.WithFields(map[string]any{"unit": unit.ID(), "reason": check.Reason}).Debug("stage must run")
		}

		if st.Iterative {
			if c.loop == nil {
				return failed(unmterrors.NewExecutionError(st.ID(), fmt.Errorf("no runner configured for iterative stage")))
			}
			results, err := c.loop.RunIterative(ctx, IterativeRequest{
				Stage: st, Inputs: inputs, Fingerprint: fp, Rounds: plan.Rounds, Force: forced,
			})
			report.Results = append(report.Results, results...)
			if err != nil {
				var execErr *unmterrors.ExecutionError
				if !errors.As(err, &execErr) {
					err = unmterrors.NewExecutionError(st.ID(), err)
				}
				return failed(err)
			}
			continue
		}

		result, err := c.engine.Execute(ctx, unit, inputs, fp)
		if result != nil {
			report.Results = append(report.Results, *result)
		}
		if err != nil {
			return failed(err)
		}
	}

	report.Final = publishedPaths(store, StageUnit(plan.To))
	report.Duration = time.Since(start)
	execCtx.publish(ctx, ports.EventPipelineCompleted, map[string]interface{}{
		"to": plan.To.ID(), "duration": report.Duration.String(),
	})
	return report, nil
}

// Preview reports, without executing anything, which stages of the plan
// would be skipped. A stage downstream of one that will run is reported as
// pending because its inputs are going to be re-published.
func (c *Controller) Preview(plan *Plan) (*model.StatusSummary, error) {
	store := c.engine.Context().Store
	summary := &model.StatusSummary{}
	willRun := make(map[string]bool)

	for _, st := range plan.Stages {
		unit := StageUnit(st)
		status := model.UnitStatus{UnitID: unit.ID(), Location: store.Dir(unit.Namespace)}

		upstream := ""
		for _, dep := range c.graph.Nodes[st.ID()].DependsOn {
			if willRun[dep.ID] {
				upstream = dep.ID
				break
			}
		}

		switch {
		case plan.Forced(st):
			status.Reason = "forced"
		case upstream != "":
			status.Reason = fmt.Sprintf("upstream %s will run", upstream)
		default:
			inputs, err := ResolveInputs(c.graph, store, st)
			if err != nil {
				status.Reason = err.Error()
				break
			}
			fp, err := StageFingerprint(st, inputs, plan.Rounds)
			if err != nil {
				return nil, err
			}
			check, err := store.Satisfied(unit.Namespace, st.Outputs, fp)
			if err != nil {
				return nil, err
			}
			status.Satisfied = check.Satisfied
			status.Reason = check.Reason
		}

		if !status.Satisfied {
			willRun[st.ID()] = true
		}
		summary.Add(status)
	}
	return summary, nil
}

func publishedPaths(store *artifact.Store, unit Unit) map[string]string {
	paths := make(map[string]string, len(unit.Outputs))
	for _, out := range unit.Outputs {
		paths[out.Key] = store.Path(artifact.Ref{Namespace: unit.Namespace, Key: out.Key})
	}
	return paths
}
