package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/njdelapaz/Translation-Without-Supervision/internal/config"
	"github.com/njdelapaz/Translation-Without-Supervision/internal/engine"
	"github.com/njdelapaz/Translation-Without-Supervision/internal/events"
	"github.com/njdelapaz/Translation-Without-Supervision/internal/history"
	"github.com/njdelapaz/Translation-Without-Supervision/internal/tui"
	"github.com/njdelapaz/Translation-Without-Supervision/internal/unmt"
)

type trainOptions struct {
	config configFlags
	from   string
	to     string
	force  []string
	noTUI  bool
}

func newTrainCmd(root *rootFlags) *cobra.Command {
	opts := &trainOptions{}

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Run the training pipeline, resuming from published checkpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			interactive := !opts.noTUI && term.IsTerminal(int(os.Stdout.Fd()))
			return runTrain(cmd, root, opts, interactive)
		},
	}

	opts.config.register(cmd, true)
	cmd.Flags().StringVar(&opts.from, "from-step", "", "First stage to run, by number or name")
	cmd.Flags().StringVar(&opts.to, "to-step", "", "Last stage to run, by number or name")
	cmd.Flags().StringArrayVar(&opts.force, "force", nil, "Re-run a stage even when its outputs are satisfied (repeatable)")
	cmd.Flags().BoolVar(&opts.noTUI, "no-tui", false, "Print plain progress lines instead of the interactive view")

	return cmd
}

func runTrain(cmd *cobra.Command, root *rootFlags, opts *trainOptions, interactive bool) error {
	cfg, err := opts.config.load(cmd)
	if err != nil {
		return err
	}

	logOut, closeLog, err := trainLogOutput(cmd.ErrOrStderr(), cfg, interactive)
	if err != nil {
		return err
	}
	defer closeLog()

	log, err := root.logger(logOut)
	if err != nil {
		return err
	}

	publisher := events.NewLoggingPublisher(log)
	pipeline, err := unmt.New(cfg, unmt.Options{Logger: log, Publisher: publisher})
	if err != nil {
		return err
	}
	plan, err := pipeline.Plan(opts.from, opts.to, opts.force)
	if err != nil {
		return err
	}
	hist, err := history.Open(cfg.Workdir)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	title := fmt.Sprintf("%s→%s", cfg.Source.Lang, cfg.Target.Lang)
	state := tui.NewModel(title, plan, !interactive)
	bridge := tui.NewBridge()
	started := time.Now()

	var (
		report *engine.Report
		runErr error
	)
	if interactive {
		report, runErr = runInteractive(ctx, cancel, pipeline, plan, publisher, bridge, state)
	} else {
		printer := tui.NewPrinter(cmd.OutOrStdout(), state)
		sub, err := publisher.Subscribe(events.Wildcard, bridge.Handler(printer.Send))
		if err != nil {
			return err
		}
		report, runErr = pipeline.Run(ctx, plan)
		sub.Unsubscribe()
		printer.Send(tui.PipelineDoneMsg{Err: runErr})
		fmt.Fprintln(cmd.OutOrStdout(), printer.State().View())
	}

	hist.Append(history.FromReport(report, runErr, started))
	if err := hist.Save(); err != nil {
		log.Error(err, "failed to record run history")
	}

	if runErr != nil {
		return runErr
	}
	printFinal(cmd.OutOrStdout(), report)
	return nil
}

func runInteractive(ctx context.Context, cancel context.CancelFunc, pipeline *unmt.Pipeline, plan *engine.Plan, publisher *events.LoggingPublisher, bridge *tui.Bridge, state tui.Model) (*engine.Report, error) {
	program := tea.NewProgram(state)
	sub, err := publisher.Subscribe(events.Wildcard, bridge.Handler(program.Send))
	if err != nil {
		return nil, err
	}
	defer sub.Unsubscribe()

	var (
		report *engine.Report
		runErr error
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		report, runErr = pipeline.Run(ctx, plan)
		program.Send(tui.PipelineDoneMsg{Err: runErr})
	}()

	final, programErr := program.Run()
	if m, ok := final.(tui.Model); programErr != nil || (ok && m.Cancelled()) {
		cancel()
	}
	<-done

	if runErr == nil && programErr != nil {
		return report, fmt.Errorf("progress view: %w", programErr)
	}
	return report, runErr
}

// trainLogOutput keeps the structured log off the terminal while the
// interactive view owns it.
func trainLogOutput(stderr io.Writer, cfg *config.Config, interactive bool) (io.Writer, func(), error) {
	if !interactive {
		return stderr, func() {}, nil
	}
	dir := filepath.Join(cfg.Workdir, "logs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, "unmt.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open run log: %w", err)
	}
	return f, func() { f.Close() }, nil
}

func printFinal(out io.Writer, report *engine.Report) {
	if report == nil || len(report.Final) == 0 {
		return
	}
	keys := make([]string, 0, len(report.Final))
	for key := range report.Final {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	fmt.Fprintf(out, "Final artifacts of %s:\n", report.Plan.To.ID())
	for _, key := range keys {
		fmt.Fprintf(out, "  %s: %s\n", key, report.Final[key])
	}
}
