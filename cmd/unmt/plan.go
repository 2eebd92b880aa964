package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/njdelapaz/Translation-Without-Supervision/internal/engine"
	"github.com/njdelapaz/Translation-Without-Supervision/internal/model"
	"github.com/njdelapaz/Translation-Without-Supervision/internal/unmt"
)

type planOptions struct {
	config configFlags
	from   string
	to     string
	force  []string
}

func newPlanCmd(root *rootFlags) *cobra.Command {
	opts := &planOptions{}

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show which units a training run would execute or skip",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(cmd, root, opts)
		},
	}

	opts.config.register(cmd, false)
	cmd.Flags().StringVar(&opts.from, "from-step", "", "First stage, by number or name")
	cmd.Flags().StringVar(&opts.to, "to-step", "", "Last stage, by number or name")
	cmd.Flags().StringArrayVar(&opts.force, "force", nil, "Treat a stage as unsatisfied (repeatable)")

	return cmd
}

func runPlan(cmd *cobra.Command, root *rootFlags, opts *planOptions) error {
	cfg, err := opts.config.load(cmd)
	if err != nil {
		return err
	}
	log, err := root.logger(cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	pipeline, err := unmt.New(cfg, unmt.Options{Logger: log})
	if err != nil {
		return err
	}
	plan, err := pipeline.Plan(opts.from, opts.to, opts.force)
	if err != nil {
		return err
	}
	preview, err := pipeline.Controller.Preview(plan)
	if err != nil {
		return err
	}

	renderPlan(cmd.OutOrStdout(), plan, preview)
	return nil
}

func renderPlan(out io.Writer, plan *engine.Plan, preview *model.StatusSummary) {
	byStage := make(map[string]model.UnitStatus, len(preview.Units))
	for _, u := range preview.Units {
		byStage[u.UnitID] = u
	}

	fmt.Fprintf(out, "Plan %s .. %s (%d stages, %d units, %d rounds)\n", plan.From.ID(), plan.To.ID(), len(plan.Stages), len(plan.Units), plan.Rounds)
	runs := 0
	for i, unit := range plan.Units {
		status := byStage[engine.StageUnit(unit.Stage).ID()]
		action := "skip"
		if !status.Satisfied {
			action = "run"
			runs++
		}
		line := fmt.Sprintf("%3d. %-4s %s", i+1, action, unit.ID())
		if unit.Round == 0 && status.Reason != "" {
			line = fmt.Sprintf("%s (%s)", line, status.Reason)
		}
		fmt.Fprintln(out, line)
	}
	fmt.Fprintf(out, "%d of %d units would run\n", runs, len(plan.Units))
}

