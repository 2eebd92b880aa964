package iteration

import (
	"context"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/njdelapaz/Translation-Without-Supervision/internal/artifact"
	"github.com/njdelapaz/Translation-Without-Supervision/internal/corpus"
	"github.com/njdelapaz/Translation-Without-Supervision/internal/engine"
	"github.com/njdelapaz/Translation-Without-Supervision/internal/model"
	"github.com/njdelapaz/Translation-Without-Supervision/internal/ports"
	"github.com/njdelapaz/Translation-Without-Supervision/internal/stage"
)

// Artifact keys of a round namespace. For direction d, SyntheticSource is
// machine translated text in d's source language and SyntheticTarget is the
// sampled monolingual text in d's target language it was translated from.
const (
	SyntheticSource = "synthetic.src"
	SyntheticTarget = "synthetic.tgt"
	ModelKey        = "model"
)

// Keys of the invocations handed to the translate and retrain procedures.
const (
	TranslateModel  = "model"
	TranslateInput  = "input"
	TranslateOutput = "output"
	RetrainBase     = "model"
	RetrainTable    = "phrase-table"
	// ReverseModel is the opposite direction's model a round translates with.
	ReverseModel = "model.reverse"
	// MonoInput is the target-side monolingual corpus a round samples.
	MonoInput = "mono"
)

// RoundOutputs declares what every round namespace must publish. The
// synthetic bitext may be empty when the sample is.
var RoundOutputs = []stage.Output{
	{Key: SyntheticSource, AllowEmpty: true},
	{Key: SyntheticTarget, AllowEmpty: true},
	{Key: ModelKey},
}

// Models maps each direction to its current model artifact.
type Models map[stage.Direction]artifact.Input

// Loop drives the backtranslation rounds of one iterative stage.
type Loop struct {
	engine    *engine.Engine
	stage     *stage.Stage
	translate stage.Procedure
	retrain   stage.Procedure
	settings  any
	seed      int64
	force     bool

	// mono and tables hold, per direction, the target-side monolingual
	// corpus to sample and the phrase table used for retraining.
	mono   map[stage.Direction]artifact.Input
	tables map[stage.Direction]artifact.Input

	mu      sync.Mutex
	results []model.StageResult
}

// Run performs rounds backtranslation rounds starting from initial and
// returns the models of the last round. Round k only reads round k-1 (or
// initial for k=1); the two directions of a round run concurrently and the
// next round starts only once both published. A failure in either direction
// aborts the loop. With zero rounds initial is returned unchanged and
// nothing is published.
func (l *Loop) Run(ctx context.Context, initial Models, rounds, sampleSize int) (Models, error) {
	if rounds < 0 {
		return nil, fmt.Errorf("round count must be zero or positive, got %d", rounds)
	}
	if rounds > 0 && sampleSize <= 0 {
		return nil, fmt.Errorf("sample size must be positive, got %d", sampleSize)
	}
	for _, dir := range stage.Directions {
		if _, ok := initial[dir]; !ok {
			return nil, fmt.Errorf("no initial model for %s", dir)
		}
	}

	execCtx := l.engine.Context()
	current := initial
	for round := 1; round <= rounds; round++ {
		publish(ctx, execCtx, ports.EventRoundStarted, map[string]interface{}{"stage": l.stage.ID(), "round": round})

		next := make([]artifact.Input, len(stage.Directions))
		g, gctx := errgroup.WithContext(ctx)
		for i, dir := range stage.Directions {
			g.Go(func() error {
				m, err := l.runDirection(gctx, round, dir, current, sampleSize)
				if err != nil {
					return err
				}
				next[i] = m
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		advanced := make(Models, len(stage.Directions))
		for i, dir := range stage.Directions {
			advanced[dir] = next[i]
		}
		current = advanced
		publish(ctx, execCtx, ports.EventRoundCompleted, map[string]interface{}{"stage": l.stage.ID(), "round": round})
	}
	return current, nil
}

// Results returns the unit results recorded so far in completion order.
func (l *Loop) Results() []model.StageResult {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]model.StageResult(nil), l.results...)
}

func (l *Loop) record(res model.StageResult) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.results = append(l.results, res)
}

func (l *Loop) runDirection(ctx context.Context, round int, dir stage.Direction, previous Models, sampleSize int) (artifact.Input, error) {
	execCtx := l.engine.Context()
	store := execCtx.Store
	ns := artifact.RoundNamespace(l.stage, round, dir)

	inputs := map[string]artifact.Input{
		MonoInput:    l.mono[dir],
		RetrainTable: l.tables[dir],
		RetrainBase:  previous[dir],
		ReverseModel: previous[dir.Opposite()],
	}
	fp, err := engine.Fingerprint(l.settings, inputs, fmt.Sprintf("round=%d", round), fmt.Sprintf("sample=%d", sampleSize))
	if err != nil {
		return artifact.Input{}, err
	}

	if !l.force {
		check, err := store.Satisfied(ns, RoundOutputs, fp)
		if err != nil {
			return artifact.Input{}, err
		}
		if check.Satisfied {
			execCtx.Logger.ForUnit(ns.String()).Info("round already satisfied, skipping")
			publish(ctx, execCtx, ports.EventStageSkipped, map[string]interface{}{"unit": ns.String(), "round": round})
			l.record(model.StageResult{
				UnitID: ns.String(), Ordinal: l.stage.Ordinal, Round: round, Direction: string(dir),
				Status: model.StatusSkipped, Outcome: model.OutcomeSuccess, Message: "checkpoint satisfied",
			})
			return store.Resolve(artifact.Ref{Namespace: ns, Key: ModelKey})
		}
	}

	unit := engine.Unit{
		Stage:     l.stage,
		Round:     round,
		Direction: dir,
		Namespace: ns,
		Outputs:   RoundOutputs,
		Procedure: l.roundProcedure(round, dir, sampleSize),
	}
	result, err := l.engine.Execute(ctx, unit, inputs, fp)
	if result != nil {
		l.record(*result)
	}
	if err != nil {
		return artifact.Input{}, err
	}
	return store.Resolve(artifact.Ref{Namespace: ns, Key: ModelKey})
}

// roundProcedure samples the target-side corpus, backtranslates it with the
// opposite direction's model and retrains the direction on the result.
func (l *Loop) roundProcedure(round int, dir stage.Direction, sampleSize int) stage.Procedure {
	return stage.ProcedureFunc(func(ctx context.Context, inv *stage.Invocation) error {
		mono, err := inv.Input(MonoInput)
		if err != nil {
			return err
		}
		sampled, err := inv.Output(SyntheticTarget)
		if err != nil {
			return err
		}
		synthetic, err := inv.Output(SyntheticSource)
		if err != nil {
			return err
		}

		n, err := corpus.SampleFile(mono, sampled, sampleSize, corpus.RoundSeed(l.seed, round, string(dir)))
		if err != nil {
			return err
		}
		fmt.Fprintf(inv.LogWriter(), "sampled %d lines from %s\n", n, mono)

		if n == 0 {
			if err := os.WriteFile(synthetic, nil, 0o644); err != nil {
				return err
			}
		} else {
			reverse, err := inv.Input(ReverseModel)
			if err != nil {
				return err
			}
			sub := inv.Derive(
				map[string]string{TranslateModel: reverse, TranslateInput: sampled},
				map[string]string{TranslateOutput: synthetic},
			)
			if err := l.translate.Run(ctx, sub); err != nil {
				return fmt.Errorf("translate with %s model: %w", dir.Opposite(), err)
			}
		}

		base, err := inv.Input(RetrainBase)
		if err != nil {
			return err
		}
		table, err := inv.Input(RetrainTable)
		if err != nil {
			return err
		}
		target, err := inv.Output(ModelKey)
		if err != nil {
			return err
		}
		sub := inv.Derive(
			map[string]string{RetrainBase: base, RetrainTable: table, SyntheticSource: synthetic, SyntheticTarget: sampled},
			map[string]string{ModelKey: target},
		)
		if err := l.retrain.Run(ctx, sub); err != nil {
			return fmt.Errorf("retrain %s: %w", dir, err)
		}
		return nil
	})
}

func publish(ctx context.Context, execCtx *engine.ExecutionContext, eventType string, data map[string]interface{}) {
	if execCtx.Publisher == nil {
		return
	}
	_ = execCtx.Publisher.Publish(ctx, ports.Event{Type: eventType, Data: data})
}
