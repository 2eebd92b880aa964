package engine

import (
	"fmt"

	"github.com/njdelapaz/Translation-Without-Supervision/internal/stage"
	unmterrors "github.com/njdelapaz/Translation-Without-Supervision/pkg/errors"
)

// BuildGraph constructs the dependency graph of a static stage sequence.
// Ordinals must run 1..N in declared order. Inputs that no stage produces
// must be listed in externals; inputs that are produced only by a later
// stage are accepted here and rejected by Resolve for any range that needs
// them, so appending a stage never requires touching earlier definitions.
func BuildGraph(stages []*stage.Stage, externals map[string]string) (*Graph, error) {
	graph := NewGraph()

	for i, st := range stages {
		if st != nil && st.Ordinal != i+1 {
			return nil, unmterrors.NewConfigurationError("stages", fmt.Sprintf("stage %s has ordinal %d, expected %d", st.ID(), st.Ordinal, i+1), nil)
		}
		if _, err := graph.AddNode(st); err != nil {
			return nil, err
		}
	}

	for key, path := range externals {
		if producer, ok := graph.producers[key]; ok {
			return nil, unmterrors.NewConfigurationError("stages", fmt.Sprintf("external input %q is also produced by %s", key, producer.ID()), nil)
		}
		graph.Externals[key] = path
	}

	for _, st := range stages {
		for _, key := range st.Inputs {
			producer, ok := graph.producers[key]
			if !ok {
				continue
			}
			if producer == st {
				return nil, unmterrors.NewConfigurationError("stages", fmt.Sprintf("stage %s consumes its own output %q", st.ID(), key), nil)
			}
			if err := graph.AddEdge(producer.ID(), st.ID()); err != nil {
				return nil, err
			}
		}
	}

	if err := graph.TopologicalSort(); err != nil {
		return nil, err
	}

	return graph, nil
}
