package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/njdelapaz/Translation-Without-Supervision/internal/history"
	"github.com/njdelapaz/Translation-Without-Supervision/internal/model"
	"github.com/njdelapaz/Translation-Without-Supervision/internal/unmt"
)

var (
	headerStyle    = lipgloss.NewStyle().Bold(true)
	satisfiedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	missingStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
)

type statusOptions struct {
	config configFlags
	check  bool
}

func newStatusCmd(root *rootFlags) *cobra.Command {
	opts := &statusOptions{}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Report which stages are checkpointed in the working directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, root, opts)
		},
	}

	opts.config.register(cmd, false)
	cmd.Flags().BoolVar(&opts.check, "check", false, "Exit with status 1 when any stage is not satisfied")

	return cmd
}

func runStatus(cmd *cobra.Command, root *rootFlags, opts *statusOptions) error {
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
	summary, err := pipeline.Status()
	if err != nil {
		return err
	}
	hist, err := history.Open(cfg.Workdir)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Working directory: %s\n\n", pipeline.Store.Root())
	if err := renderStatusTable(out, summary); err != nil {
		return err
	}
	fmt.Fprintf(out, "\n%d satisfied, %d pending\n", summary.Satisfied, summary.Pending)
	renderLastRun(out, hist)

	if opts.check && !summary.AllSatisfied() {
		return &pendingError{pending: summary.Pending}
	}
	return nil
}

func renderStatusTable(out io.Writer, summary *model.StatusSummary) error {
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, headerStyle.Render("STAGE")+"\t"+headerStyle.Render("STATE")+"\t"+headerStyle.Render("DETAIL"))
	for _, u := range summary.Units {
		state := missingStyle.Render("pending")
		detail := u.Reason
		if u.Satisfied {
			state = satisfiedStyle.Render("satisfied")
			detail = u.Location
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\n", u.UnitID, state, detail)
	}
	return writer.Flush()
}

func renderLastRun(out io.Writer, hist *history.History) {
	last, ok := hist.Last()
	if !ok {
		fmt.Fprintln(out, "Last run: none recorded")
		return
	}

	fmt.Fprintf(out, "Last run: %s %s (%s .. %s, %s)\n",
		last.Status,
		last.StartedAt.Local().Format(time.RFC3339),
		valueOrFallback(last.From, "?"),
		valueOrFallback(last.To, "?"),
		last.FinishedAt.Sub(last.StartedAt).Truncate(time.Millisecond),
	)
	if last.FailedUnit != "" {
		fmt.Fprintf(out, "  failed unit: %s\n", last.FailedUnit)
	}
	if last.LogPath != "" {
		fmt.Fprintf(out, "  log: %s\n", last.LogPath)
	}
}

func valueOrFallback(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
