package stage

import (
	"context"
	"fmt"
	"io"
	"sort"
)

// Procedure is the capability a stage uses to turn its declared inputs into
// its declared outputs. Implementations write only to the paths returned by
// Invocation.Output and must be safe to rerun into a clean target.
type Procedure interface {
	Run(ctx context.Context, inv *Invocation) error
}

// ProcedureFunc adapts a function to the Procedure interface.
type ProcedureFunc func(ctx context.Context, inv *Invocation) error

// Run calls f.
func (f ProcedureFunc) Run(ctx context.Context, inv *Invocation) error {
	return f(ctx, inv)
}

// Invocation is everything a procedure may observe about one attempt.
type Invocation struct {
	UnitID    string
	Round     int
	Direction Direction
	Attempt   int

	Inputs  map[string]string
	Outputs map[string]string

	Threads int
	TempDir string
	Log     io.Writer
	Params  map[string]string

	degraded string
	parent   *Invocation
}

// Input returns the resolved path of a declared input.
func (i *Invocation) Input(key string) (string, error) {
	path, ok := i.Inputs[key]
	if !ok {
		return "", fmt.Errorf("%s: undeclared input %q (declared: %v)", i.UnitID, key, sortedKeys(i.Inputs))
	}
	return path, nil
}

// Output returns the staging path of a declared output.
func (i *Invocation) Output(key string) (string, error) {
	path, ok := i.Outputs[key]
	if !ok {
		return "", fmt.Errorf("%s: undeclared output %q (declared: %v)", i.UnitID, key, sortedKeys(i.Outputs))
	}
	return path, nil
}

// Param returns a stage parameter or the empty string.
func (i *Invocation) Param(name string) string {
	return i.Params[name]
}

// LogWriter never returns nil.
func (i *Invocation) LogWriter() io.Writer {
	if i.Log == nil {
		return io.Discard
	}
	return i.Log
}

// MarkDegraded records that the outputs were produced by a reduced-fidelity
// substitute. The engine reports the unit as degraded instead of success.
func (i *Invocation) MarkDegraded(reason string) {
	if reason == "" {
		reason = "reduced fidelity"
	}
	i.degraded = reason
	if i.parent != nil {
		i.parent.MarkDegraded(reason)
	}
}

// Degraded reports the reason recorded by MarkDegraded.
func (i *Invocation) Degraded() (string, bool) {
	return i.degraded, i.degraded != ""
}

// Derive returns a sub-invocation for a procedure composed inside another
// one. It shares the budget, log and temp dir of i but sees only the given
// inputs and outputs. Degradation of the child is reported on i.
func (i *Invocation) Derive(inputs, outputs map[string]string) *Invocation {
	return &Invocation{
		UnitID:    i.UnitID,
		Round:     i.Round,
		Direction: i.Direction,
		Attempt:   i.Attempt,
		Inputs:    inputs,
		Outputs:   outputs,
		Threads:   i.Threads,
		TempDir:   i.TempDir,
		Log:       i.Log,
		Params:    i.Params,
		parent:    i,
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
