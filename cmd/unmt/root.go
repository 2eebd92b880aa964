package main

import (
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/njdelapaz/Translation-Without-Supervision/internal/logger"
)

type rootFlags struct {
	verbose bool
	logJSON bool
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:           "unmt",
		Short:         "unmt drives the staged unsupervised machine translation training pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "Enable debug logging")
	cmd.PersistentFlags().BoolVar(&flags.logJSON, "log-json", false, "Emit log entries as JSON lines")
	cmd.SetFlagErrorFunc(func(c *cobra.Command, err error) error {
		return &usageError{err: err}
	})

	cmd.AddCommand(newTrainCmd(flags))
	cmd.AddCommand(newPlanCmd(flags))
	cmd.AddCommand(newStatusCmd(flags))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func (f *rootFlags) logger(w io.Writer) (*logger.Logger, error) {
	if w == nil {
		w = os.Stderr
	}
	level := "info"
	if f.verbose {
		level = "debug"
	}
	return logger.New(logger.Options{Level: level, HumanReadable: !f.logJSON, Writer: w})
}
