package artifact

import (
	"fmt"
	"path"
	"strings"

	"github.com/njdelapaz/Translation-Without-Supervision/internal/stage"
)

// Namespace is the directory an execution unit publishes into. Round
// namespaces of an iterative stage are disjoint from each other and from the
// stage-level "final" namespace.
type Namespace struct {
	StageID   string
	Round     int
	Direction stage.Direction
	Final     bool
}

// StageNamespace returns the namespace of a non-iterative stage, or the
// consolidated namespace of an iterative one.
func StageNamespace(s *stage.Stage) Namespace {
	return Namespace{StageID: s.ID(), Final: s.Iterative}
}

// RoundNamespace returns the namespace of one direction of one round.
func RoundNamespace(s *stage.Stage, round int, dir stage.Direction) Namespace {
	return Namespace{StageID: s.ID(), Round: round, Direction: dir}
}

// String renders the slash separated relative location.
func (n Namespace) String() string {
	parts := []string{n.StageID}
	switch {
	case n.Round > 0:
		parts = append(parts, fmt.Sprintf("round-%02d", n.Round))
		if n.Direction != "" {
			parts = append(parts, string(n.Direction))
		}
	case n.Final:
		parts = append(parts, "final")
	}
	return path.Join(parts...)
}

// logName flattens the namespace into a file name.
func (n Namespace) logName() string {
	return strings.ReplaceAll(n.String(), "/", ".") + ".log"
}

// Ref identifies a single artifact: (stage, iteration, key).
type Ref struct {
	Namespace Namespace
	Key       string
}

func (r Ref) String() string {
	return r.Namespace.String() + ":" + r.Key
}
