package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/njdelapaz/Translation-Without-Supervision/internal/artifact"
	"github.com/njdelapaz/Translation-Without-Supervision/internal/stage"
	unmterrors "github.com/njdelapaz/Translation-Without-Supervision/pkg/errors"
)

// Unit is one execution of a plan: a whole stage, or one direction of one
// round of the iterative stage.
type Unit struct {
	Stage     *stage.Stage
	Round     int
	Direction stage.Direction
	Namespace artifact.Namespace
	Outputs   []stage.Output
	Procedure stage.Procedure
}

// StageUnit returns the unit executing a whole stage.
func StageUnit(st *stage.Stage) Unit {
	return Unit{
		Stage:     st,
		Namespace: artifact.StageNamespace(st),
		Outputs:   st.Outputs,
		Procedure: st.Procedure,
	}
}

// ID is the namespace the unit publishes into.
func (u Unit) ID() string {
	return u.Namespace.String()
}

// ResolveOptions tunes plan resolution.
type ResolveOptions struct {
	// Rounds is the number of backtranslation rounds the iterative stage
	// expands into.
	Rounds int
	// Force lists stages, by ordinal or name, that must run even when their
	// outputs are satisfied.
	Force []string
}

// Plan is the resolved, ordered list of execution units for a range.
type Plan struct {
	From   *stage.Stage
	To     *stage.Stage
	Stages []*stage.Stage
	Units  []Unit
	Rounds int
	Force  map[string]bool
}

// Forced reports whether st was named by ResolveOptions.Force.
func (p *Plan) Forced(st *stage.Stage) bool {
	return p != nil && p.Force[st.ID()]
}

// Resolve computes the plan for the inclusive range [from, to]. Bounds are
// stage ordinals or names; empty bounds default to the first and last stage.
// Every unit's inputs must be produced earlier in the plan, already be
// satisfied in the store, or exist as external files; otherwise a
// ConfigurationError is returned and nothing is touched.
func (g *Graph) Resolve(from, to string, store *artifact.Store, opts ResolveOptions) (*Plan, error) {
	if len(g.Stages) == 0 {
		return nil, unmterrors.NewConfigurationError("stages", "no stages defined", nil)
	}
	if from == "" {
		from = "1"
	}
	if to == "" {
		to = fmt.Sprint(len(g.Stages))
	}

	first, ok := g.Lookup(from)
	if !ok {
		return nil, unmterrors.NewConfigurationError("from-step", fmt.Sprintf("unknown stage %q", from), nil)
	}
	last, ok := g.Lookup(to)
	if !ok {
		return nil, unmterrors.NewConfigurationError("to-step", fmt.Sprintf("unknown stage %q", to), nil)
	}
	if first.Ordinal > last.Ordinal {
		return nil, unmterrors.NewConfigurationError("from-step", fmt.Sprintf("range start %s is after range end %s", first.ID(), last.ID()), nil)
	}
	if opts.Rounds < 0 {
		return nil, unmterrors.NewConfigurationError("rounds", "must be zero or positive", nil)
	}

	plan := &Plan{From: first, To: last, Rounds: opts.Rounds, Force: make(map[string]bool)}
	for _, ref := range opts.Force {
		st, ok := g.Lookup(ref)
		if !ok {
			return nil, unmterrors.NewConfigurationError("force", fmt.Sprintf("unknown stage %q", ref), nil)
		}
		if st.Ordinal < first.Ordinal || st.Ordinal > last.Ordinal {
			return nil, unmterrors.NewConfigurationError("force", fmt.Sprintf("stage %s is outside the requested range", st.ID()), nil)
		}
		plan.Force[st.ID()] = true
	}

	checked := make(map[string]bool)
	for _, st := range g.Stages[first.Ordinal-1 : last.Ordinal] {
		for _, key := range st.Inputs {
			if err := g.checkInput(st, key, first, store, opts.Rounds, checked); err != nil {
				return nil, err
			}
		}

		plan.Stages = append(plan.Stages, st)
		if st.Iterative {
			for round := 1; round <= opts.Rounds; round++ {
				for _, dir := range stage.Directions {
					plan.Units = append(plan.Units, Unit{
						Stage:     st,
						Round:     round,
						Direction: dir,
						Namespace: artifact.RoundNamespace(st, round, dir),
					})
				}
			}
		}
		plan.Units = append(plan.Units, StageUnit(st))
	}

	return plan, nil
}

func (g *Graph) checkInput(st *stage.Stage, key string, first *stage.Stage, store *artifact.Store, rounds int, checked map[string]bool) error {
	field := fmt.Sprintf("stages.%s.inputs", st.Name)

	producer, ok := g.Producer(key)
	if !ok {
		path, external := g.Externals[key]
		if !external {
			return unmterrors.NewConfigurationError(field, fmt.Sprintf("input %q is not produced by any stage", key), nil)
		}
		if _, err := artifact.External(path); err != nil {
			return unmterrors.NewConfigurationError(field, fmt.Sprintf("external input %q is unavailable", key), err)
		}
		return nil
	}
	if producer.Ordinal >= st.Ordinal {
		return unmterrors.NewConfigurationError(field, fmt.Sprintf("input %q is only produced by %s, which does not run before %s", key, producer.ID(), st.ID()), nil)
	}
	if producer.Ordinal >= first.Ordinal || checked[producer.ID()] {
		return nil
	}

	inputs, err := ResolveInputs(g, store, producer)
	if err != nil {
		return unmterrors.NewConfigurationError(field, fmt.Sprintf("input %q needs %s, which is not satisfied in the working directory", key, producer.ID()), err)
	}
	fp, err := StageFingerprint(producer, inputs, rounds)
	if err != nil {
		return unmterrors.NewConfigurationError(field, "fingerprint settings", err)
	}
	check, err := store.Satisfied(artifact.StageNamespace(producer), producer.Outputs, fp)
	if err != nil {
		return unmterrors.NewConfigurationError(field, fmt.Sprintf("check %s", producer.ID()), err)
	}
	if !check.Satisfied {
		return unmterrors.NewConfigurationError(field, fmt.Sprintf("input %q needs %s, which is not satisfied in the working directory (%s); include it in the range", key, producer.ID(), check.Reason), nil)
	}
	checked[producer.ID()] = true
	return nil
}

// String renders a human readable summary of the plan.
func (p *Plan) String() string {
	if p == nil {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Plan %s .. %s (%d stages, %d units)\n", p.From.ID(), p.To.ID(), len(p.Stages), len(p.Units))
	for i, unit := range p.Units {
		marker := ""
		if unit.Round == 0 && p.Forced(unit.Stage) {
			marker = " [forced]"
		}
		fmt.Fprintf(&b, "%3d. %s%s\n", i+1, unit.ID(), marker)
	}
	return b.String()
}

// StageIDs lists the stage ids of the plan in order.
func (p *Plan) StageIDs() []string {
	ids := make([]string, 0, len(p.Stages))
	for _, st := range p.Stages {
		ids = append(ids, st.ID())
	}
	return ids
}

// ForcedIDs lists the forced stage ids in sorted order.
func (p *Plan) ForcedIDs() []string {
	ids := make([]string, 0, len(p.Force))
	for id := range p.Force {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
