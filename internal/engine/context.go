package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/njdelapaz/Translation-Without-Supervision/internal/artifact"
	"github.com/njdelapaz/Translation-Without-Supervision/internal/logger"
	"github.com/njdelapaz/Translation-Without-Supervision/internal/ports"
	"github.com/njdelapaz/Translation-Without-Supervision/internal/stage"
)

// ExecutionContext contains the runtime collaborators shared by the engine,
// the controller and the iteration loop.
type ExecutionContext struct {
	Store      *artifact.Store
	Logger     *logger.Logger
	Publisher  ports.EventPublisher
	Threads    int
	MaxRetries int
}

func (c *ExecutionContext) publish(ctx context.Context, eventType string, data map[string]interface{}) {
	if c.Publisher == nil {
		return
	}
	_ = c.Publisher.Publish(ctx, ports.Event{Type: eventType, Data: data})
}

// ResolveInputs locates every declared input of st: published artifacts come
// from the producer's namespace, everything else from the external paths.
func ResolveInputs(g *Graph, store *artifact.Store, st *stage.Stage) (map[string]artifact.Input, error) {
	inputs := make(map[string]artifact.Input, len(st.Inputs))
	for _, key := range st.Inputs {
		if producer, ok := g.Producer(key); ok {
			in, err := store.Resolve(artifact.Ref{Namespace: artifact.StageNamespace(producer), Key: key})
			if err != nil {
				return nil, err
			}
			inputs[key] = in
			continue
		}
		path, ok := g.Externals[key]
		if !ok {
			return nil, fmt.Errorf("input %q of %s has no producer", key, st.ID())
		}
		in, err := artifact.External(path)
		if err != nil {
			return nil, fmt.Errorf("external input %q: %w", key, err)
		}
		inputs[key] = in
	}
	return inputs, nil
}

// Fingerprint identifies one execution of a unit: the hash of its settings
// and of the exact publications of its inputs. A unit whose upstream was
// re-published gets a new fingerprint and is no longer satisfied.
func Fingerprint(settings any, inputs map[string]artifact.Input, extra ...string) (string, error) {
	settingsFP, err := stage.Fingerprint(settings)
	if err != nil {
		return "", err
	}

	keys := make([]string, 0, len(inputs))
	for key := range inputs {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	h := sha256.New()
	fmt.Fprintf(h, "settings=%s\n", settingsFP)
	for _, key := range keys {
		fmt.Fprintf(h, "input %s=%s\n", key, inputs[key].Digest)
	}
	for _, e := range extra {
		fmt.Fprintf(h, "extra=%s\n", e)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// StageFingerprint is the fingerprint of a stage-level unit. The round count
// only matters for the iterative stage.
func StageFingerprint(st *stage.Stage, inputs map[string]artifact.Input, rounds int) (string, error) {
	if st.Iterative {
		return Fingerprint(st.Settings, inputs, fmt.Sprintf("rounds=%d", rounds))
	}
	return Fingerprint(st.Settings, inputs)
}

// Paths flattens resolved inputs into the map handed to procedures.
func Paths(inputs map[string]artifact.Input) map[string]string {
	out := make(map[string]string, len(inputs))
	for key, in := range inputs {
		out[key] = in.Path
	}
	return out
}
