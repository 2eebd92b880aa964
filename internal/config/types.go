package config

import (
	"strings"

	"gopkg.in/yaml.v3"
)

// Defaults applied when a document leaves a value unset.
const (
	DefaultThreads    = 1
	DefaultMaxRetries = 2
	DefaultSampleSize = 100000
	DefaultWorkdir    = "work"
)

// Config represents the full pipeline configuration document.
type Config struct {
	Workdir         string          `yaml:"workdir,omitempty"`
	Threads         int             `yaml:"threads,omitempty" validate:"min=1,max=1024"`
	Source          Language        `yaml:"source" validate:"required"`
	Target          Language        `yaml:"target" validate:"required"`
	Retry           Retry           `yaml:"retry,omitempty"`
	Backtranslation Backtranslation `yaml:"backtranslation" validate:"required"`
	Stages          map[string]Tool `yaml:"stages" validate:"required,min=1,dive,keys,stage_ref,endkeys"`
}

// Language describes one side of the language pair and its raw
// monolingual corpus.
type Language struct {
	Lang   string `yaml:"lang" validate:"required,lang"`
	Corpus string `yaml:"corpus" validate:"required"`
}

// Retry bounds re-execution of stages failing with a known transient error.
type Retry struct {
	MaxRetries int `yaml:"max_retries" validate:"min=0,max=100"`
}

// UnmarshalYAML applies the default retry bound unless max_retries is set,
// so an explicit zero disables retries.
func (r *Retry) UnmarshalYAML(value *yaml.Node) error {
	type rawRetry Retry
	var temp rawRetry
	if err := value.Decode(&temp); err != nil {
		return err
	}
	*r = Retry(temp)
	if !hasYAMLKey(value, "max_retries") {
		r.MaxRetries = DefaultMaxRetries
	}
	return nil
}

// Backtranslation configures the iterative stage.
type Backtranslation struct {
	Rounds     int   `yaml:"rounds" validate:"min=0,max=1000"`
	SampleSize int   `yaml:"sample_size,omitempty" validate:"min=1"`
	Seed       int64 `yaml:"seed,omitempty"`
	// Translate turns sampled text into synthetic source text with the
	// opposite direction's model.
	Translate Tool `yaml:"translate" validate:"required"`
	// Retrain produces a direction's next model.
	Retrain Tool `yaml:"retrain" validate:"required"`
}

// Tool is the external program behind a stage. Exactly one of Commands and
// Passthrough is set.
type Tool struct {
	Commands  []Command `yaml:"commands,omitempty" validate:"omitempty,dive"`
	Transient []string  `yaml:"transient,omitempty" validate:"omitempty,dive,min=1"`
	// Passthrough maps output keys to the input they are copied from. It
	// stands in for tools that are not installed and always yields a
	// degraded result.
	Passthrough map[string]string `yaml:"passthrough,omitempty" validate:"omitempty,dive,keys,min=1,endkeys,min=1"`
	Params      map[string]string `yaml:"params,omitempty"`
	// Timeout is in seconds; zero disables it.
	Timeout int `yaml:"timeout,omitempty" validate:"omitempty,min=1"`
}

// Command is one program invocation of a tool. Every string is a Go
// template with the functions input, output, param, threads, tmp, src,
// tgt, round and direction.
type Command struct {
	Args   []string          `yaml:"args" validate:"required,min=1,dive,required"`
	Stdin  string            `yaml:"stdin,omitempty"`
	Stdout string            `yaml:"stdout,omitempty"`
	Env    map[string]string `yaml:"env,omitempty"`
}

// IsPassthrough reports whether the tool is a pass-through shim.
func (t Tool) IsPassthrough() bool {
	return len(t.Passthrough) > 0
}

// Overrides are command-line values replacing fields of the document. Nil
// fields leave the document untouched.
type Overrides struct {
	Workdir    string
	Threads    *int
	Rounds     *int
	SampleSize *int
	MaxRetries *int
}

// Apply writes the overrides into cfg and re-validates it.
func (o Overrides) Apply(cfg *Config) error {
	if o.Workdir != "" {
		cfg.Workdir = o.Workdir
	}
	if o.Threads != nil {
		cfg.Threads = *o.Threads
	}
	if o.Rounds != nil {
		cfg.Backtranslation.Rounds = *o.Rounds
	}
	if o.SampleSize != nil {
		cfg.Backtranslation.SampleSize = *o.SampleSize
	}
	if o.MaxRetries != nil {
		cfg.Retry.MaxRetries = *o.MaxRetries
	}
	return ValidateConfig(cfg)
}

func (c *Config) applyDefaults() {
	if c.Workdir == "" {
		c.Workdir = DefaultWorkdir
	}
	if c.Threads == 0 {
		c.Threads = DefaultThreads
	}
	if c.Backtranslation.SampleSize == 0 {
		c.Backtranslation.SampleSize = DefaultSampleSize
	}
}

func hasYAMLKey(node *yaml.Node, key string) bool {
	if node == nil || node.Kind != yaml.MappingNode {
		return false
	}
	for i := 0; i < len(node.Content); i += 2 {
		k := node.Content[i]
		if strings.EqualFold(k.Value, key) {
			return true
		}
	}
	return false
}
