// Package unmt defines the fixed stage sequence of unsupervised machine
// translation training and wires it to the configured external tools.
package unmt

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/njdelapaz/Translation-Without-Supervision/internal/config"
	"github.com/njdelapaz/Translation-Without-Supervision/internal/iteration"
	"github.com/njdelapaz/Translation-Without-Supervision/internal/stage"
	"github.com/njdelapaz/Translation-Without-Supervision/internal/tools"
	unmterrors "github.com/njdelapaz/Translation-Without-Supervision/pkg/errors"
)

// External inputs read from the configured corpora.
const (
	CorpusSource = "corpus.src"
	CorpusTarget = "corpus.tgt"
)

// BacktranslateStage is the name of the iterative stage.
const BacktranslateStage = "backtranslate"

type definition struct {
	name    string
	inputs  []string
	outputs []string
}

var definitions = []definition{
	{"preprocess", []string{CorpusSource, CorpusTarget}, []string{"mono.src", "mono.tgt"}},
	{"train-lm", []string{"mono.src", "mono.tgt"}, []string{"lm.src", "lm.tgt"}},
	{"train-embeddings", []string{"mono.src", "mono.tgt"}, []string{"emb.src", "emb.tgt"}},
	{"map-embeddings", []string{"emb.src", "emb.tgt"}, []string{"mapped.src", "mapped.tgt"}},
	{"induce-phrase-table", []string{"mapped.src", "mapped.tgt"}, []string{"phrase-table.src2tgt", "phrase-table.tgt2src"}},
	{"build-initial-model", []string{"phrase-table.src2tgt", "phrase-table.tgt2src", "lm.src", "lm.tgt"}, []string{"model.src2tgt", "model.tgt2src"}},
	{"tune", []string{"model.src2tgt", "model.tgt2src", "mono.src", "mono.tgt"}, []string{"tuned.src2tgt", "tuned.tgt2src"}},
	{BacktranslateStage, []string{"tuned.src2tgt", "tuned.tgt2src", "mono.src", "mono.tgt", "phrase-table.src2tgt", "phrase-table.tgt2src"}, []string{"bt.src2tgt", "bt.tgt2src"}},
	{"generate-bitext", []string{"bt.src2tgt", "bt.tgt2src", "mono.src", "mono.tgt"}, []string{"bitext.src", "bitext.tgt"}},
	{"train-nmt", []string{"bitext.src", "bitext.tgt"}, []string{"nmt.src2tgt", "nmt.tgt2src"}},
}

// Names lists the stage names in execution order.
func Names() []string {
	names := make([]string, 0, len(definitions))
	for _, d := range definitions {
		names = append(names, d.name)
	}
	return names
}

// toolSettings is what a stage fingerprint covers: the language pair and the
// full tool definition. Threads are not part of it, so changing parallelism
// keeps checkpoints valid.
type toolSettings struct {
	Source string      `yaml:"source"`
	Target string      `yaml:"target"`
	Tool   config.Tool `yaml:"tool"`
}

type backtranslationSettings struct {
	Source     string      `yaml:"source"`
	Target     string      `yaml:"target"`
	SampleSize int         `yaml:"sample_size"`
	Seed       int64       `yaml:"seed"`
	Translate  config.Tool `yaml:"translate"`
	Retrain    config.Tool `yaml:"retrain"`
}

// Definition is the stage sequence together with what the iterative stage
// needs to run.
type Definition struct {
	Stages    []*stage.Stage
	Externals map[string]string
	Translate stage.Procedure
	Retrain   stage.Procedure
	// RoundSettings are hashed into every round fingerprint.
	RoundSettings any
}

// Build turns a validated configuration into the stage sequence. Tool
// problems are reported as configuration errors.
func Build(cfg *config.Config) (*Definition, error) {
	langs := tools.Languages{Source: cfg.Source.Lang, Target: cfg.Target.Lang}
	def := &Definition{
		Externals: map[string]string{
			CorpusSource: cfg.Source.Corpus,
			CorpusTarget: cfg.Target.Corpus,
		},
	}

	bt := cfg.Backtranslation
	var err error
	def.Translate, err = procedure("backtranslation.translate", bt.Translate, langs,
		[]string{iteration.TranslateModel, iteration.TranslateInput}, []string{iteration.TranslateOutput}, seconds(bt.Translate.Timeout))
	if err != nil {
		return nil, err
	}
	def.Retrain, err = procedure("backtranslation.retrain", bt.Retrain, langs,
		[]string{iteration.RetrainBase, iteration.RetrainTable, iteration.SyntheticSource, iteration.SyntheticTarget}, []string{iteration.ModelKey}, seconds(bt.Retrain.Timeout))
	if err != nil {
		return nil, err
	}
	def.RoundSettings = backtranslationSettings{
		Source:     cfg.Source.Lang,
		Target:     cfg.Target.Lang,
		SampleSize: bt.SampleSize,
		Seed:       bt.Seed,
		Translate:  bt.Translate,
		Retrain:    bt.Retrain,
	}

	for i, d := range definitions {
		st := &stage.Stage{
			Ordinal: i + 1,
			Name:    d.name,
			Inputs:  append([]string(nil), d.inputs...),
		}
		for _, key := range d.outputs {
			out := stage.Output{Key: key}
			if strings.HasPrefix(key, "bitext.") {
				out.Check = stage.NonBlank
			}
			st.Outputs = append(st.Outputs, out)
		}

		if d.name == BacktranslateStage {
			st.Iterative = true
			st.Settings = def.RoundSettings
			st.Procedure = stage.ProcedureFunc(func(context.Context, *stage.Invocation) error {
				return fmt.Errorf("stage %s runs through the iteration controller", st.ID())
			})
		} else {
			tool := cfg.Stages[d.name]
			proc, err := procedure("stages."+d.name, tool, langs, d.inputs, d.outputs, 0)
			if err != nil {
				return nil, err
			}
			st.Procedure = proc
			st.Settings = toolSettings{Source: cfg.Source.Lang, Target: cfg.Target.Lang, Tool: tool}
			st.Params = tool.Params
			st.Timeout = seconds(tool.Timeout)
		}

		if err := st.Validate(); err != nil {
			return nil, unmterrors.NewConfigurationError("stages."+d.name, err.Error(), err)
		}
		def.Stages = append(def.Stages, st)
	}
	return def, nil
}

// procedure builds the procedure of one configured tool. Sub-procedures of
// the iterative stage get their own params and timeout through scoped; the
// engine applies the timeout of ordinary stages.
func procedure(field string, tool config.Tool, langs tools.Languages, inputs, outputs []string, timeout time.Duration) (stage.Procedure, error) {
	if tool.IsPassthrough() {
		for out, in := range tool.Passthrough {
			if !contains(outputs, out) {
				return nil, unmterrors.NewConfigurationError(field+".passthrough", fmt.Sprintf("%q is not an output (outputs: %v)", out, outputs), nil)
			}
			if !contains(inputs, in) {
				return nil, unmterrors.NewConfigurationError(field+".passthrough", fmt.Sprintf("%q is not an input (inputs: %v)", in, inputs), nil)
			}
		}
		return &scoped{proc: &tools.Passthrough{Copies: tool.Passthrough}, params: tool.Params, timeout: timeout}, nil
	}

	commands := make([]tools.Command, 0, len(tool.Commands))
	for _, c := range tool.Commands {
		commands = append(commands, tools.Command{Args: c.Args, Stdin: c.Stdin, Stdout: c.Stdout, Env: c.Env})
	}
	t, err := tools.NewTool(field, commands, tool.Transient, langs)
	if err != nil {
		return nil, unmterrors.NewConfigurationError(field, err.Error(), err)
	}
	return &scoped{proc: t, params: tool.Params, timeout: timeout}, nil
}

// scoped runs a procedure with its own params and, when set, its own time
// limit.
type scoped struct {
	proc    stage.Procedure
	params  map[string]string
	timeout time.Duration
}

func (s *scoped) Run(ctx context.Context, inv *stage.Invocation) error {
	if s.params != nil {
		inv.Params = s.params
	}
	if s.timeout <= 0 {
		return s.proc.Run(ctx, inv)
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.proc.Run(ctx, inv); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("timeout exceeded after %s: %w", s.timeout, err)
		}
		return err
	}
	return nil
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
