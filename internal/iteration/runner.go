package iteration

import (
	"context"
	"fmt"

	"github.com/njdelapaz/Translation-Without-Supervision/internal/artifact"
	"github.com/njdelapaz/Translation-Without-Supervision/internal/engine"
	"github.com/njdelapaz/Translation-Without-Supervision/internal/model"
	"github.com/njdelapaz/Translation-Without-Supervision/internal/stage"
	"github.com/njdelapaz/Translation-Without-Supervision/internal/tools"
)

// Keys names the stage-level artifacts the loop reads and publishes, per
// direction.
type Keys struct {
	// Initial is the model each direction starts from.
	Initial map[stage.Direction]string
	// Mono is the monolingual corpus sampled for a direction, i.e. the
	// corpus in the direction's target language.
	Mono map[stage.Direction]string
	// PhraseTable is the original phrase table of a direction.
	PhraseTable map[stage.Direction]string
	// Final is the consolidated model published by the stage.
	Final map[stage.Direction]string
}

// DefaultKeys matches the UNMT stage definition.
func DefaultKeys() Keys {
	return Keys{
		Initial:     map[stage.Direction]string{stage.SourceToTarget: "tuned.src2tgt", stage.TargetToSource: "tuned.tgt2src"},
		Mono:        map[stage.Direction]string{stage.SourceToTarget: "mono.tgt", stage.TargetToSource: "mono.src"},
		PhraseTable: map[stage.Direction]string{stage.SourceToTarget: "phrase-table.src2tgt", stage.TargetToSource: "phrase-table.tgt2src"},
		Final:       map[stage.Direction]string{stage.SourceToTarget: "bt.src2tgt", stage.TargetToSource: "bt.tgt2src"},
	}
}

// Runner executes the iterative stage for the controller: it runs the loop
// and then publishes the last round's models as the stage outputs.
type Runner struct {
	Engine     *engine.Engine
	Translate  stage.Procedure
	Retrain    stage.Procedure
	SampleSize int
	Seed       int64
	// Settings are hashed into every round fingerprint. They must not
	// include the round count so that adding rounds keeps earlier ones.
	Settings any
	Keys     Keys
}

// RunIterative implements engine.IterativeRunner.
func (r *Runner) RunIterative(ctx context.Context, req engine.IterativeRequest) ([]model.StageResult, error) {
	if r.Translate == nil || r.Retrain == nil {
		return nil, fmt.Errorf("iterative stage %s needs translate and retrain procedures", req.Stage.ID())
	}
	keys := r.Keys
	if keys.Initial == nil {
		keys = DefaultKeys()
	}

	loop := &Loop{
		engine:    r.Engine,
		stage:     req.Stage,
		translate: r.Translate,
		retrain:   r.Retrain,
		settings:  r.Settings,
		seed:      r.Seed,
		force:     req.Force,
		mono:      make(map[stage.Direction]artifact.Input),
		tables:    make(map[stage.Direction]artifact.Input),
	}
	initial := make(Models)
	for _, dir := range stage.Directions {
		var err error
		if initial[dir], err = lookup(req, keys.Initial[dir]); err != nil {
			return nil, err
		}
		if loop.mono[dir], err = lookup(req, keys.Mono[dir]); err != nil {
			return nil, err
		}
		if loop.tables[dir], err = lookup(req, keys.PhraseTable[dir]); err != nil {
			return nil, err
		}
	}

	final, err := loop.Run(ctx, initial, req.Rounds, r.SampleSize)
	results := loop.Results()
	if err != nil {
		return results, err
	}

	consolidate := engine.StageUnit(req.Stage)
	consolidate.Procedure = stage.ProcedureFunc(func(ctx context.Context, inv *stage.Invocation) error {
		for _, dir := range stage.Directions {
			dst, err := inv.Output(keys.Final[dir])
			if err != nil {
				return err
			}
			if err := tools.CopyFile(final[dir].Path, dst); err != nil {
				return fmt.Errorf("consolidate %s model: %w", dir, err)
			}
		}
		return nil
	})

	inputs := make(map[string]artifact.Input, len(req.Inputs)+len(final))
	for key, in := range req.Inputs {
		inputs[key] = in
	}
	for dir, in := range final {
		inputs["final."+string(dir)] = in
	}

	res, err := r.Engine.Execute(ctx, consolidate, inputs, req.Fingerprint)
	if res != nil {
		results = append(results, *res)
	}
	return results, err
}

func lookup(req engine.IterativeRequest, key string) (artifact.Input, error) {
	in, ok := req.Inputs[key]
	if !ok {
		return artifact.Input{}, fmt.Errorf("iterative stage %s: input %q was not resolved", req.Stage.ID(), key)
	}
	return in, nil
}
