package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/njdelapaz/Translation-Without-Supervision/internal/artifact"
	"github.com/njdelapaz/Translation-Without-Supervision/internal/logger"
	"github.com/njdelapaz/Translation-Without-Supervision/internal/stage"
)

// recorder counts procedure invocations per stage name.
type recorder struct {
	mu    sync.Mutex
	calls map[string]int
	order []string
}

func newRecorder() *recorder {
	return &recorder{calls: make(map[string]int)}
}

func (r *recorder) record(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[name]++
	r.order = append(r.order, name)
}

func (r *recorder) count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[name]
}

func (r *recorder) executed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = make(map[string]int)
	r.order = nil
}

// derive writes every declared output as a deterministic function of the
// stage name and the content of its inputs.
func derive(rec *recorder, name string) stage.Procedure {
	return stage.ProcedureFunc(func(ctx context.Context, inv *stage.Invocation) error {
		rec.record(name)
		keys := make([]string, 0, len(inv.Inputs))
		for key := range inv.Inputs {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		var b strings.Builder
		for _, key := range keys {
			data, err := os.ReadFile(inv.Inputs[key])
			if err != nil {
				return err
			}
			fmt.Fprintf(&b, "%s<%s>", key, strings.TrimSpace(string(data)))
		}
		for key, path := range inv.Outputs {
			if err := os.WriteFile(path, []byte(fmt.Sprintf("%s:%s[%s]\n", name, key, b.String())), 0o644); err != nil {
				return err
			}
		}
		fmt.Fprintf(inv.LogWriter(), "%s wrote %d outputs\n", name, len(inv.Outputs))
		return nil
	})
}

type fixture struct {
	t       *testing.T
	root    string
	corpus  string
	stages  []*stage.Stage
	graph   *Graph
	store   *artifact.Store
	rec     *recorder
	retries int
}

// newFixture builds a seven stage chain a..g. Stage f also consumes b.out so
// a range starting after stage 2 depends on a checkpoint of stage 2.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	dir := t.TempDir()
	corpus := filepath.Join(dir, "corpus.txt")
	require.NoError(t, os.WriteFile(corpus, []byte("hello world\n"), 0o644))

	rec := newRecorder()
	defs := []struct {
		name   string
		inputs []string
	}{
		{"a", []string{"corpus"}},
		{"b", []string{"a.out"}},
		{"c", []string{"b.out"}},
		{"d", []string{"c.out"}},
		{"e", []string{"d.out"}},
		{"f", []string{"e.out", "b.out"}},
		{"g", []string{"f.out"}},
	}

	var stages []*stage.Stage
	for i, def := range defs {
		stages = append(stages, &stage.Stage{
			Ordinal:   i + 1,
			Name:      def.name,
			Inputs:    def.inputs,
			Outputs:   []stage.Output{{Key: def.name + ".out"}},
			Procedure: derive(rec, def.name),
			Settings:  map[string]string{"name": def.name},
		})
	}

	f := &fixture{t: t, root: filepath.Join(dir, "work"), corpus: corpus, stages: stages, rec: rec}
	f.rebuild()
	return f
}

// stage returns the definition with the given name for in-place tweaks.
func (f *fixture) stage(name string) *stage.Stage {
	for _, st := range f.stages {
		if st.Name == name {
			return st
		}
	}
	f.t.Fatalf("no stage %q", name)
	return nil
}

func (f *fixture) rebuild() {
	f.t.Helper()
	graph, err := BuildGraph(f.stages, map[string]string{"corpus": f.corpus})
	require.NoError(f.t, err)
	store, err := artifact.Open(f.root)
	require.NoError(f.t, err)
	f.graph = graph
	f.store = store
}

func (f *fixture) engine() *Engine {
	f.t.Helper()
	eng, err := NewEngine(&ExecutionContext{
		Store:      f.store,
		Logger:     logger.Discard(),
		Threads:    2,
		MaxRetries: f.retries,
	})
	require.NoError(f.t, err)
	return eng
}

func (f *fixture) run(from, to string, force ...string) (*Report, error) {
	f.t.Helper()
	plan, err := f.graph.Resolve(from, to, f.store, ResolveOptions{Force: force})
	if err != nil {
		return nil, err
	}
	return NewController(f.graph, f.engine(), nil).Run(context.Background(), plan)
}

func (f *fixture) read(stageName string) string {
	f.t.Helper()
	st := f.stage(stageName)
	data, err := os.ReadFile(f.store.Path(artifact.Ref{Namespace: artifact.StageNamespace(st), Key: stageName + ".out"}))
	require.NoError(f.t, err)
	return string(data)
}

func statuses(report *Report) []string {
	var out []string
	for _, res := range report.Results {
		out = append(out, res.UnitID+"="+res.Status)
	}
	return out
}
