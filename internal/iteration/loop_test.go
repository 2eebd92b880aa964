package iteration

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/njdelapaz/Translation-Without-Supervision/internal/artifact"
	"github.com/njdelapaz/Translation-Without-Supervision/internal/engine"
	"github.com/njdelapaz/Translation-Without-Supervision/internal/logger"
	"github.com/njdelapaz/Translation-Without-Supervision/internal/model"
	"github.com/njdelapaz/Translation-Without-Supervision/internal/stage"
)

var btStage = &stage.Stage{
	Ordinal:   8,
	Name:      "backtranslate",
	Inputs:    []string{"tuned.src2tgt", "tuned.tgt2src", "mono.src", "mono.tgt", "phrase-table.src2tgt", "phrase-table.tgt2src"},
	Outputs:   []stage.Output{{Key: "bt.src2tgt"}, {Key: "bt.tgt2src"}},
	Procedure: stage.ProcedureFunc(func(context.Context, *stage.Invocation) error { return nil }),
	Iterative: true,
}

// access records every path a round procedure touched, per unit.
type access struct {
	mu    sync.Mutex
	paths map[string][]string
	calls map[string]int
}

func newAccess() *access {
	return &access{paths: make(map[string][]string), calls: make(map[string]int)}
}

func (a *access) touch(inv *stage.Invocation, kind string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls[kind+" "+inv.UnitID]++
	for _, p := range inv.Inputs {
		a.paths[inv.UnitID] = append(a.paths[inv.UnitID], p)
	}
	for _, p := range inv.Outputs {
		a.paths[inv.UnitID] = append(a.paths[inv.UnitID], p)
	}
}

func (a *access) count(kind, unit string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[kind+" "+unit]
}

func firstLine(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return "<" + err.Error() + ">"
	}
	return strings.SplitN(string(data), "\n", 2)[0]
}

// fakeTranslate prefixes every sampled line with the first line of the model.
func fakeTranslate(a *access) stage.Procedure {
	return stage.ProcedureFunc(func(ctx context.Context, inv *stage.Invocation) error {
		a.touch(inv, "translate")
		in, err := os.Open(inv.Inputs[TranslateInput])
		if err != nil {
			return err
		}
		defer in.Close()

		var b strings.Builder
		tag := firstLine(inv.Inputs[TranslateModel])
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			fmt.Fprintf(&b, "%s|%s\n", tag, scanner.Text())
		}
		return os.WriteFile(inv.Outputs[TranslateOutput], []byte(b.String()), 0o644)
	})
}

// fakeRetrain writes a model naming its round, direction and base model.
func fakeRetrain(a *access) stage.Procedure {
	return stage.ProcedureFunc(func(ctx context.Context, inv *stage.Invocation) error {
		a.touch(inv, "retrain")
		data, err := os.ReadFile(inv.Inputs[SyntheticSource])
		if err != nil {
			return err
		}
		trained := fmt.Sprintf("model r%d %s\nbase=%s\npairs=%d\n", inv.Round, inv.Direction, firstLine(inv.Inputs[RetrainBase]), strings.Count(string(data), "\n"))
		return os.WriteFile(inv.Outputs[ModelKey], []byte(trained), 0o644)
	})
}

type loopFixture struct {
	t      *testing.T
	store  *artifact.Store
	engine *engine.Engine
	access *access
	inputs map[string]artifact.Input
}

func newLoopFixture(t *testing.T, monoLines int) *loopFixture {
	t.Helper()

	dir := t.TempDir()
	store, err := artifact.Open(filepath.Join(dir, "work"))
	require.NoError(t, err)
	eng, err := engine.NewEngine(&engine.ExecutionContext{Store: store, Logger: logger.Discard(), Threads: 1})
	require.NoError(t, err)

	write := func(name, content string) artifact.Input {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		in, err := artifact.External(path)
		require.NoError(t, err)
		return in
	}

	var src, tgt strings.Builder
	for i := 0; i < monoLines; i++ {
		fmt.Fprintf(&src, "source %d\n", i)
		fmt.Fprintf(&tgt, "target %d\n", i)
	}

	return &loopFixture{
		t:      t,
		store:  store,
		engine: eng,
		access: newAccess(),
		inputs: map[string]artifact.Input{
			"tuned.src2tgt":        write("tuned.src2tgt", "tuned src2tgt\n"),
			"tuned.tgt2src":        write("tuned.tgt2src", "tuned tgt2src\n"),
			"mono.src":             write("mono.src", src.String()),
			"mono.tgt":             write("mono.tgt", tgt.String()),
			"phrase-table.src2tgt": write("pt.src2tgt", "a ||| b\n"),
			"phrase-table.tgt2src": write("pt.tgt2src", "b ||| a\n"),
		},
	}
}

func (f *loopFixture) runner() *Runner {
	return &Runner{
		Engine:     f.engine,
		Translate:  fakeTranslate(f.access),
		Retrain:    fakeRetrain(f.access),
		SampleSize: 4,
		Seed:       11,
		Settings:   map[string]int{"sample_size": 4},
	}
}

func (f *loopFixture) loop(r *Runner) *Loop {
	keys := DefaultKeys()
	l := &Loop{
		engine:    r.Engine,
		stage:     btStage,
		translate: r.Translate,
		retrain:   r.Retrain,
		settings:  r.Settings,
		seed:      r.Seed,
		mono:      make(map[stage.Direction]artifact.Input),
		tables:    make(map[stage.Direction]artifact.Input),
	}
	for _, dir := range stage.Directions {
		l.mono[dir] = f.inputs[keys.Mono[dir]]
		l.tables[dir] = f.inputs[keys.PhraseTable[dir]]
	}
	return l
}

func (f *loopFixture) initial() Models {
	return Models{
		stage.SourceToTarget: f.inputs["tuned.src2tgt"],
		stage.TargetToSource: f.inputs["tuned.tgt2src"],
	}
}

func roundDir(f *loopFixture, round int, dir stage.Direction) string {
	return f.store.Dir(artifact.RoundNamespace(btStage, round, dir))
}

func TestLoopZeroRoundsIsIdentity(t *testing.T) {
	t.Parallel()

	f := newLoopFixture(t, 10)
	initial := f.initial()

	final, err := f.loop(f.runner()).Run(context.Background(), initial, 0, 4)
	require.NoError(t, err)
	require.Equal(t, initial, final)

	_, err = os.Stat(filepath.Join(f.store.Root(), btStage.ID()))
	require.True(t, os.IsNotExist(err), "zero rounds publish nothing")
}

func TestLoopChainsRoundsAcrossDirections(t *testing.T) {
	t.Parallel()

	f := newLoopFixture(t, 10)
	l := f.loop(f.runner())

	final, err := l.Run(context.Background(), f.initial(), 2, 4)
	require.NoError(t, err)

	require.Equal(t, filepath.Join(roundDir(f, 2, stage.SourceToTarget), ModelKey), final[stage.SourceToTarget].Path)
	require.Equal(t, "model r2 src2tgt", firstLine(final[stage.SourceToTarget].Path))

	// Round 2 src2tgt translated with round 1 tgt2src and retrained from round 1 src2tgt.
	synthetic, err := os.ReadFile(filepath.Join(roundDir(f, 2, stage.SourceToTarget), SyntheticSource))
	require.NoError(t, err)
	require.Contains(t, string(synthetic), "model r1 tgt2src|target")
	trained, err := os.ReadFile(final[stage.SourceToTarget].Path)
	require.NoError(t, err)
	require.Contains(t, string(trained), "base=model r1 src2tgt")
	require.Contains(t, string(trained), "pairs=4")

	// Round 1 starts from the initial models.
	synthetic, err = os.ReadFile(filepath.Join(roundDir(f, 1, stage.TargetToSource), SyntheticSource))
	require.NoError(t, err)
	require.Contains(t, string(synthetic), "tuned src2tgt|source")

	require.Len(t, l.Results(), 4)
	for _, res := range l.Results() {
		require.Equal(t, model.StatusSuccess, res.Status)
	}
}

func TestLoopRoundIsolation(t *testing.T) {
	t.Parallel()

	f := newLoopFixture(t, 10)
	_, err := f.loop(f.runner()).Run(context.Background(), f.initial(), 3, 4)
	require.NoError(t, err)

	for round := 1; round <= 3; round++ {
		for _, dir := range stage.Directions {
			unit := artifact.RoundNamespace(btStage, round, dir).String()
			for _, path := range f.access.paths[unit] {
				for other := 1; other <= 3; other++ {
					if other == round || other == round-1 {
						continue
					}
					require.NotContains(t, path, fmt.Sprintf("round-%02d", other), "unit %s touched %s", unit, path)
				}
				if strings.Contains(path, fmt.Sprintf("round-%02d", round-1)) && round > 1 {
					require.NotContains(t, path, ".staging", "previous rounds are read only through published paths")
				}
			}
		}
	}
}

func TestLoopDirectionsRunConcurrentlyBehindBarrier(t *testing.T) {
	t.Parallel()

	f := newLoopFixture(t, 10)
	r := f.runner()

	arrived := make(chan stage.Direction, 2)
	release := make(chan struct{})
	var once sync.Once
	base := r.Translate
	r.Translate = stage.ProcedureFunc(func(ctx context.Context, inv *stage.Invocation) error {
		if inv.Round == 1 {
			arrived <- inv.Direction
			if len(arrived) == 2 {
				once.Do(func() { close(release) })
			}
			select {
			case <-release:
			case <-time.After(5 * time.Second):
				return errors.New("directions of a round did not run concurrently")
			}
		}
		if inv.Round == 2 {
			for _, dir := range stage.Directions {
				if _, err := os.Stat(filepath.Join(roundDir(f, 1, dir), artifact.ManifestFile)); err != nil {
					return fmt.Errorf("round 2 started before round 1 %s published", dir)
				}
			}
		}
		return base.Run(ctx, inv)
	})

	_, err := f.loop(r).Run(context.Background(), f.initial(), 2, 4)
	require.NoError(t, err)
}

func TestLoopFailureAbortsWithoutCarryForward(t *testing.T) {
	t.Parallel()

	f := newLoopFixture(t, 10)
	r := f.runner()
	base := r.Retrain
	r.Retrain = stage.ProcedureFunc(func(ctx context.Context, inv *stage.Invocation) error {
		if inv.Direction == stage.TargetToSource {
			return errors.New("retraining crashed")
		}
		return base.Run(ctx, inv)
	})

	_, err := f.loop(r).Run(context.Background(), f.initial(), 3, 4)
	require.ErrorContains(t, err, "retraining crashed")

	check, err := f.store.Satisfied(artifact.RoundNamespace(btStage, 1, stage.TargetToSource), RoundOutputs, "")
	require.NoError(t, err)
	require.False(t, check.Satisfied)
	_, err = os.Stat(roundDir(f, 2, stage.SourceToTarget))
	require.True(t, os.IsNotExist(err), "no round starts after a failed one")
}

func TestLoopEmptySampleStillRetrains(t *testing.T) {
	t.Parallel()

	f := newLoopFixture(t, 0)
	l := f.loop(f.runner())

	_, err := l.Run(context.Background(), f.initial(), 1, 4)
	require.NoError(t, err)

	for _, dir := range stage.Directions {
		unit := artifact.RoundNamespace(btStage, 1, dir)
		require.Zero(t, f.access.count("translate", unit.String()))
		require.Equal(t, 1, f.access.count("retrain", unit.String()))

		for _, key := range []string{SyntheticSource, SyntheticTarget} {
			info, err := os.Stat(filepath.Join(f.store.Dir(unit), key))
			require.NoError(t, err)
			require.Zero(t, info.Size())
		}
		require.Contains(t, firstLine(filepath.Join(f.store.Dir(unit), ModelKey)), "model r1")
	}
}

func TestLoopResumesSatisfiedRounds(t *testing.T) {
	t.Parallel()

	f := newLoopFixture(t, 10)
	_, err := f.loop(f.runner()).Run(context.Background(), f.initial(), 2, 4)
	require.NoError(t, err)

	f.access = newAccess()
	l := f.loop(f.runner())
	_, err = l.Run(context.Background(), f.initial(), 3, 4)
	require.NoError(t, err)

	for _, dir := range stage.Directions {
		require.Zero(t, f.access.count("retrain", artifact.RoundNamespace(btStage, 1, dir).String()))
		require.Zero(t, f.access.count("retrain", artifact.RoundNamespace(btStage, 2, dir).String()))
		require.Equal(t, 1, f.access.count("retrain", artifact.RoundNamespace(btStage, 3, dir).String()))
	}

	var skipped int
	for _, res := range l.Results() {
		if res.Status == model.StatusSkipped {
			skipped++
		}
	}
	require.Equal(t, 4, skipped)
}

func TestLoopSampleIsReproducible(t *testing.T) {
	t.Parallel()

	f := newLoopFixture(t, 50)
	_, err := f.loop(f.runner()).Run(context.Background(), f.initial(), 1, 5)
	require.NoError(t, err)
	path := filepath.Join(roundDir(f, 1, stage.SourceToTarget), SyntheticTarget)
	first, err := os.ReadFile(path)
	require.NoError(t, err)

	l := f.loop(f.runner())
	l.force = true
	_, err = l.Run(context.Background(), f.initial(), 1, 5)
	require.NoError(t, err)
	second, err := os.ReadFile(path)
	require.NoError(t, err)

	require.Equal(t, string(first), string(second))
	require.Equal(t, 5, strings.Count(string(first), "\n"))
	require.Contains(t, string(first), "target", "src2tgt samples the target-side corpus")
}

func TestLoopRejectsInvalidArguments(t *testing.T) {
	t.Parallel()

	f := newLoopFixture(t, 1)
	l := f.loop(f.runner())

	_, err := l.Run(context.Background(), f.initial(), -1, 4)
	require.Error(t, err)
	_, err = l.Run(context.Background(), f.initial(), 1, 0)
	require.ErrorContains(t, err, "sample size")
	_, err = l.Run(context.Background(), Models{}, 1, 4)
	require.ErrorContains(t, err, "no initial model")
}

func TestRunnerPublishesFinalModels(t *testing.T) {
	t.Parallel()

	f := newLoopFixture(t, 10)
	results, err := f.runner().RunIterative(context.Background(), engine.IterativeRequest{
		Stage:       btStage,
		Inputs:      f.inputs,
		Fingerprint: "stage-fp",
		Rounds:      2,
	})
	require.NoError(t, err)
	require.Len(t, results, 5)

	last := results[len(results)-1]
	require.Equal(t, "08-backtranslate/final", last.UnitID)
	require.Equal(t, model.StatusSuccess, last.Status)
	require.Equal(t, "model r2 src2tgt", firstLine(last.Outputs["bt.src2tgt"]))
	require.Equal(t, "model r2 tgt2src", firstLine(last.Outputs["bt.tgt2src"]))

	check, err := f.store.Satisfied(artifact.StageNamespace(btStage), btStage.Outputs, "stage-fp")
	require.NoError(t, err)
	require.True(t, check.Satisfied, check.Reason)
}

func TestRunnerZeroRoundsPublishesInitialModels(t *testing.T) {
	t.Parallel()

	f := newLoopFixture(t, 10)
	results, err := f.runner().RunIterative(context.Background(), engine.IterativeRequest{
		Stage:  btStage,
		Inputs: f.inputs,
		Rounds: 0,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "tuned src2tgt", firstLine(results[0].Outputs["bt.src2tgt"]))

	matches, err := filepath.Glob(filepath.Join(f.store.Root(), btStage.ID(), "round-*"))
	require.NoError(t, err)
	require.Empty(t, matches)
}

func TestRunnerRequiresResolvedInputs(t *testing.T) {
	t.Parallel()

	f := newLoopFixture(t, 1)
	delete(f.inputs, "mono.tgt")
	_, err := f.runner().RunIterative(context.Background(), engine.IterativeRequest{Stage: btStage, Inputs: f.inputs, Rounds: 1})
	require.ErrorContains(t, err, `"mono.tgt"`)
}
