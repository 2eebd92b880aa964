package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"

	unmterrors "github.com/njdelapaz/Translation-Without-Supervision/pkg/errors"
)

var yamlLineRegex = regexp.MustCompile(`line (\d+)`)

// ParseConfig loads a configuration file from disk, validates it, and returns the resulting model.
// Relative corpus and workdir paths are resolved against the file's directory.
func ParseConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, unmterrors.NewParseError(path, 0, err)
	}

	cfg := Config{Retry: Retry{MaxRetries: DefaultMaxRetries}}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, unmterrors.NewParseError(path, extractLine(err), err)
	}
	cfg.applyDefaults()

	base, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, unmterrors.NewParseError(path, 0, err)
	}
	cfg.Workdir = resolve(base, cfg.Workdir)
	cfg.Source.Corpus = resolve(base, cfg.Source.Corpus)
	cfg.Target.Corpus = resolve(base, cfg.Target.Corpus)

	if err := ValidateConfig(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func resolve(base, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}

func extractLine(err error) int {
	if err == nil {
		return 0
	}

	matches := yamlLineRegex.FindStringSubmatch(err.Error())
	if len(matches) != 2 {
		return 0
	}

	var line int
	_, scanErr := fmt.Sscanf(matches[1], "%d", &line)
	if scanErr != nil {
		return 0
	}

	return line
}
