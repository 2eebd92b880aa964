package tui

import (
	"github.com/njdelapaz/Translation-Without-Supervision/internal/artifact"
	"github.com/njdelapaz/Translation-Without-Supervision/internal/engine"
	"github.com/njdelapaz/Translation-Without-Supervision/internal/stage"
)

func testPlan(rounds int) *engine.Plan {
	tune := &stage.Stage{Ordinal: 7, Name: "tune-nmt"}
	bt := &stage.Stage{Ordinal: 8, Name: "backtranslate", Iterative: true}

	plan := &engine.Plan{From: tune, To: bt, Stages: []*stage.Stage{tune, bt}, Rounds: rounds}
	plan.Units = append(plan.Units, engine.StageUnit(tune))
	for round := 1; round <= rounds; round++ {
		for _, dir := range stage.Directions {
			plan.Units = append(plan.Units, engine.Unit{Stage: bt, Round: round, Direction: dir, Namespace: artifact.RoundNamespace(bt, round, dir)})
		}
	}
	plan.Units = append(plan.Units, engine.StageUnit(bt))
	return plan
}
