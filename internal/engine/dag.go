package engine

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/njdelapaz/Translation-Without-Supervision/internal/stage"
	unmterrors "github.com/njdelapaz/Translation-Without-Supervision/pkg/errors"
)

// Node represents a stage in the dependency graph.
type Node struct {
	ID         string
	Stage      *stage.Stage
	DependsOn  []*Node
	Dependents []*Node
}

// Graph is the static dependency graph of the pipeline. Edges are derived
// from artifact keys: the producer of a key points at every consumer of it.
type Graph struct {
	Nodes  map[string]*Node
	Levels [][]string
	// Stages holds the definitions in declared order.
	Stages []*stage.Stage
	// Externals maps input keys that no stage produces to paths outside the
	// working directory, such as the raw corpora.
	Externals map[string]string

	producers map[string]*stage.Stage
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{
		Nodes:     make(map[string]*Node),
		Externals: make(map[string]string),
		producers: make(map[string]*stage.Stage),
	}
}

// AddNode inserts a stage as a vertex in the graph.
func (g *Graph) AddNode(st *stage.Stage) (*Node, error) {
	if st == nil {
		return nil, unmterrors.NewConfigurationError("stages", "stage cannot be nil", nil)
	}
	if err := st.Validate(); err != nil {
		return nil, unmterrors.NewConfigurationError("stages", err.Error(), err)
	}

	id := st.ID()
	if _, exists := g.Nodes[id]; exists {
		return nil, unmterrors.NewConfigurationError("stages", fmt.Sprintf("duplicate stage %q", id), nil)
	}
	for _, existing := range g.Stages {
		if existing.Name == st.Name {
			return nil, unmterrors.NewConfigurationError("stages", fmt.Sprintf("duplicate stage name %q", st.Name), nil)
		}
	}
	for _, out := range st.Outputs {
		if prev, ok := g.producers[out.Key]; ok {
			return nil, unmterrors.NewConfigurationError("stages", fmt.Sprintf("artifact %q is produced by both %s and %s", out.Key, prev.ID(), id), nil)
		}
		g.producers[out.Key] = st
	}

	node := &Node{ID: id, Stage: st}
	g.Nodes[id] = node
	g.Stages = append(g.Stages, st)
	return node, nil
}

// AddEdge connects a producer to a consumer.
func (g *Graph) AddEdge(from, to string) error {
	source, ok := g.Nodes[from]
	if !ok {
		return unmterrors.NewConfigurationError("stages", fmt.Sprintf("unknown producer %q", from), nil)
	}
	target, ok := g.Nodes[to]
	if !ok {
		return unmterrors.NewConfigurationError("stages", fmt.Sprintf("unknown consumer %q", to), nil)
	}
	for _, dep := range target.DependsOn {
		if dep == source {
			return nil
		}
	}

	source.Dependents = append(source.Dependents, target)
	target.DependsOn = append(target.DependsOn, source)
	return nil
}

// Producer returns the stage that declares key as an output.
func (g *Graph) Producer(key string) (*stage.Stage, bool) {
	st, ok := g.producers[key]
	return st, ok
}

// Lookup finds a stage by ordinal, by name or by id.
func (g *Graph) Lookup(ref string) (*stage.Stage, bool) {
	if n, err := strconv.Atoi(ref); err == nil {
		if n >= 1 && n <= len(g.Stages) {
			return g.Stages[n-1], true
		}
		return nil, false
	}
	for _, st := range g.Stages {
		if st.Name == ref || st.ID() == ref {
			return st, true
		}
	}
	return nil, false
}

// TopologicalSort computes the graph levels using Kahn's algorithm.
func (g *Graph) TopologicalSort() error {
	indegree := make(map[string]int, len(g.Nodes))
	for id := range g.Nodes {
		indegree[id] = 0
	}

	for _, node := range g.Nodes {
		for _, dep := range node.Dependents {
			indegree[dep.ID]++
		}
	}

	var queue []string
	for id, degree := range indegree {
		if degree == 0 {
			queue = append(queue, id)
		}
	}

	processed := 0
	var levels [][]string

	for len(queue) > 0 {
		currentLevel := queue
		sort.Strings(currentLevel)
		levels = append(levels, append([]string(nil), currentLevel...))

		var nextLevel []string
		for _, id := range currentLevel {
			processed++
			node := g.Nodes[id]
			for _, dependent := range node.Dependents {
				indegree[dependent.ID]--
				if indegree[dependent.ID] == 0 {
					nextLevel = append(nextLevel, dependent.ID)
				}
			}
		}

		queue = nextLevel
	}

	if processed != len(g.Nodes) {
		return unmterrors.NewConfigurationError("stages", "cycle detected while sorting graph", nil)
	}

	g.Levels = levels
	return nil
}
