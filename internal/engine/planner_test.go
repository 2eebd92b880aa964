package engine

import (
	"os"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/njdelapaz/Translation-Without-Supervision/internal/artifact"
	"github.com/njdelapaz/Translation-Without-Supervision/internal/stage"
	unmterrors "github.com/njdelapaz/Translation-Without-Supervision/pkg/errors"
)

func requireConfigError(t *testing.T, err error, contains string) {
	t.Helper()
	var cfgErr *unmterrors.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	require.Contains(t, err.Error(), contains)
}

func TestResolve_DefaultsToFullRange(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	plan, err := f.graph.Resolve("", "", f.store, ResolveOptions{})
	require.NoError(t, err)

	want := []string{"01-a", "02-b", "03-c", "04-d", "05-e", "06-f", "07-g"}
	if diff := cmp.Diff(want, plan.StageIDs()); diff != "" {
		t.Fatalf("stages mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, "a", plan.From.Name)
	require.Equal(t, "g", plan.To.Name)
}

func TestResolve_RejectsInvalidRanges(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	_, err := f.graph.Resolve("5", "3", f.store, ResolveOptions{})
	requireConfigError(t, err, "after range end")

	_, err = f.graph.Resolve("1", "42", f.store, ResolveOptions{})
	requireConfigError(t, err, `unknown stage "42"`)

	_, err = f.graph.Resolve("nope", "3", f.store, ResolveOptions{})
	requireConfigError(t, err, `unknown stage "nope"`)

	_, err = f.graph.Resolve("1", "3", f.store, ResolveOptions{Force: []string{"5"}})
	requireConfigError(t, err, "outside the requested range")

	_, err = f.graph.Resolve("1", "3", f.store, ResolveOptions{Rounds: -1})
	requireConfigError(t, err, "rounds")
}

func TestResolve_BrokenGraph(t *testing.T) {
	t.Parallel()

	rec := newRecorder()
	stages := []*stage.Stage{
		{Ordinal: 1, Name: "a", Inputs: []string{"c.out"}, Outputs: []stage.Output{{Key: "a.out"}}, Procedure: derive(rec, "a")},
		{Ordinal: 2, Name: "b", Inputs: []string{"missing"}, Outputs: []stage.Output{{Key: "b.out"}}, Procedure: derive(rec, "b")},
		{Ordinal: 3, Name: "c", Outputs: []stage.Output{{Key: "c.out"}}, Procedure: derive(rec, "c")},
	}
	graph, err := BuildGraph(stages, nil)
	require.NoError(t, err)
	store, err := artifact.Open(t.TempDir())
	require.NoError(t, err)

	_, err = graph.Resolve("1", "1", store, ResolveOptions{})
	requireConfigError(t, err, "does not run before 01-a")

	_, err = graph.Resolve("2", "2", store, ResolveOptions{})
	requireConfigError(t, err, "not produced by any stage")

	plan, err := graph.Resolve("3", "3", store, ResolveOptions{})
	require.NoError(t, err)
	require.Equal(t, []string{"03-c"}, plan.StageIDs())
}

func TestResolve_MissingExternalInput(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	require.NoError(t, os.Remove(f.corpus))

	_, err := f.graph.Resolve("1", "2", f.store, ResolveOptions{})
	requireConfigError(t, err, `external input "corpus"`)
}

func TestResolve_PartialRangeNeedsCheckpoint(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	_, err := f.graph.Resolve("4", "6", f.store, ResolveOptions{})
	requireConfigError(t, err, "not satisfied in the working directory")

	_, err = f.run("1", "3")
	require.NoError(t, err)

	// Only stage 2's artifact is damaged: stage 6 depends on it directly.
	bOut := f.store.Path(artifact.Ref{Namespace: artifact.StageNamespace(f.stage("b")), Key: "b.out"})
	require.NoError(t, os.Remove(bOut))

	_, err = f.graph.Resolve("4", "6", f.store, ResolveOptions{})
	requireConfigError(t, err, "02-b")

	// Re-publishing stage 2 changes the lineage of stage 3, so it reruns too.
	_, err = f.run("2", "3")
	require.NoError(t, err)

	plan, err := f.graph.Resolve("4", "6", f.store, ResolveOptions{})
	require.NoError(t, err)
	require.Equal(t, []string{"04-d", "05-e", "06-f"}, plan.StageIDs())
}

func TestResolve_ExpandsIterativeStage(t *testing.T) {
	t.Parallel()

	rec := newRecorder()
	stages := []*stage.Stage{
		simpleStage(1, "tune", nil, "tuned"),
		{Ordinal: 2, Name: "backtranslate", Inputs: []string{"tuned"}, Outputs: []stage.Output{{Key: "bt"}}, Procedure: derive(rec, "bt"), Iterative: true},
		simpleStage(3, "bitext", []string{"bt"}, "bitext"),
	}
	graph, err := BuildGraph(stages, nil)
	require.NoError(t, err)
	store, err := artifact.Open(t.TempDir())
	require.NoError(t, err)

	plan, err := graph.Resolve("1", "3", store, ResolveOptions{Rounds: 2, Force: []string{"backtranslate"}})
	require.NoError(t, err)

	var units []string
	for _, u := range plan.Units {
		units = append(units, u.ID())
	}
	want := []string{
		"01-tune",
		"02-backtranslate/round-01/src2tgt",
		"02-backtranslate/round-01/tgt2src",
		"02-backtranslate/round-02/src2tgt",
		"02-backtranslate/round-02/tgt2src",
		"02-backtranslate/final",
		"03-bitext",
	}
	if diff := cmp.Diff(want, units); diff != "" {
		t.Fatalf("units mismatch (-want +got):\n%s", diff)
	}

	summary := plan.String()
	require.Contains(t, summary, "Plan 01-tune .. 03-bitext (3 stages, 7 units)")
	require.Contains(t, summary, "02-backtranslate/final [forced]")
	require.Equal(t, []string{"02-backtranslate"}, plan.ForcedIDs())

	_, err = graph.Resolve("2", "2", store, ResolveOptions{})
	requireConfigError(t, err, "needs 01-tune")
}
