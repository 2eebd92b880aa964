package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/njdelapaz/Translation-Without-Supervision/internal/config"
	unmterrors "github.com/njdelapaz/Translation-Without-Supervision/pkg/errors"
)

// configFlags are shared by every command that loads a configuration.
type configFlags struct {
	path       string
	workdir    string
	threads    int
	rounds     int
	sampleSize int
	maxRetries int
}

func (f *configFlags) register(cmd *cobra.Command, tuning bool) {
	cmd.Flags().StringVarP(&f.path, "config", "c", "", "Path to the pipeline configuration file")
	cmd.Flags().StringVar(&f.workdir, "workdir", "", "Override the working directory")
	cmd.Flags().IntVar(&f.rounds, "rounds", 0, "Override the number of backtranslation rounds")
	if tuning {
		cmd.Flags().IntVar(&f.threads, "threads", 0, "Override the thread budget passed to tools")
		cmd.Flags().IntVar(&f.sampleSize, "sample-size", 0, "Override the backtranslation sample size")
		cmd.Flags().IntVar(&f.maxRetries, "max-retries", 0, "Override the retry bound for transient failures")
	}
}

// load parses the configuration and applies the flags the user set.
func (f *configFlags) load(cmd *cobra.Command) (*config.Config, error) {
	if err := validateConfigPath(f.path); err != nil {
		return nil, err
	}
	cfg, err := config.ParseConfig(f.path)
	if err != nil {
		return nil, err
	}
	if err := f.overrides(cmd).Apply(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (f *configFlags) overrides(cmd *cobra.Command) config.Overrides {
	var o config.Overrides
	changed := cmd.Flags().Changed
	if changed("workdir") {
		o.Workdir = f.workdir
		if abs, err := filepath.Abs(f.workdir); err == nil {
			o.Workdir = abs
		}
	}
	if changed("threads") {
		o.Threads = &f.threads
	}
	if changed("rounds") {
		o.Rounds = &f.rounds
	}
	if changed("sample-size") {
		o.SampleSize = &f.sampleSize
	}
	if changed("max-retries") {
		o.MaxRetries = &f.maxRetries
	}
	return o
}

func validateConfigPath(path string) error {
	if strings.TrimSpace(path) == "" {
		return unmterrors.NewConfigurationError("config", "config file is required", nil)
	}
	info, err := os.Stat(path)
	if err != nil {
		return unmterrors.NewConfigurationError("config", "config file does not exist", err)
	}
	if info.IsDir() {
		return unmterrors.NewConfigurationError("config", fmt.Sprintf("config path %s is a directory", path), nil)
	}
	return nil
}
