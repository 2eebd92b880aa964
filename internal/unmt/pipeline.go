package unmt

import (
	"context"

	"github.com/njdelapaz/Translation-Without-Supervision/internal/artifact"
	"github.com/njdelapaz/Translation-Without-Supervision/internal/config"
	"github.com/njdelapaz/Translation-Without-Supervision/internal/engine"
	"github.com/njdelapaz/Translation-Without-Supervision/internal/iteration"
	"github.com/njdelapaz/Translation-Without-Supervision/internal/logger"
	"github.com/njdelapaz/Translation-Without-Supervision/internal/model"
	"github.com/njdelapaz/Translation-Without-Supervision/internal/ports"
	unmterrors "github.com/njdelapaz/Translation-Without-Supervision/pkg/errors"
)

// Options carry the collaborators a pipeline reports through.
type Options struct {
	Logger    *logger.Logger
	Publisher ports.EventPublisher
}

// Pipeline is the fully wired training pipeline for one configuration.
type Pipeline struct {
	Config     *config.Config
	Definition *Definition
	Graph      *engine.Graph
	Store      *artifact.Store
	Engine     *engine.Engine
	Controller *engine.Controller
}

// New builds the stage graph, opens the working directory and wires the
// engine, the controller and the backtranslation runner.
func New(cfg *config.Config, opts Options) (*Pipeline, error) {
	if cfg == nil {
		return nil, unmterrors.NewConfigurationError("config", "configuration is nil", nil)
	}
	log := opts.Logger
	if log == nil {
		log = logger.Discard()
	}

	def, err := Build(cfg)
	if err != nil {
		return nil, err
	}
	graph, err := engine.BuildGraph(def.Stages, def.Externals)
	if err != nil {
		return nil, err
	}
	store, err := artifact.Open(cfg.Workdir)
	if err != nil {
		return nil, unmterrors.NewConfigurationError("workdir", err.Error(), err)
	}

	eng, err := engine.NewEngine(&engine.ExecutionContext{
		Store:      store,
		Logger:     log,
		Publisher:  opts.Publisher,
		Threads:    cfg.Threads,
		MaxRetries: cfg.Retry.MaxRetries,
	})
	if err != nil {
		return nil, err
	}

	runner := &iteration.Runner{
		Engine:     eng,
		Translate:  def.Translate,
		Retrain:    def.Retrain,
		SampleSize: cfg.Backtranslation.SampleSize,
		Seed:       cfg.Backtranslation.Seed,
		Settings:   def.RoundSettings,
		Keys:       iteration.DefaultKeys(),
	}

	return &Pipeline{
		Config:     cfg,
		Definition: def,
		Graph:      graph,
		Store:      store,
		Engine:     eng,
		Controller: engine.NewController(graph, eng, runner),
	}, nil
}

// Plan resolves the inclusive stage range. Bounds are stage numbers or
// names; empty bounds select the whole pipeline.
func (p *Pipeline) Plan(from, to string, force []string) (*engine.Plan, error) {
	return p.Graph.Resolve(from, to, p.Store, engine.ResolveOptions{
		Rounds: p.Config.Backtranslation.Rounds,
		Force:  force,
	})
}

// Run executes a resolved plan.
func (p *Pipeline) Run(ctx context.Context, plan *engine.Plan) (*engine.Report, error) {
	return p.Controller.Run(ctx, plan)
}

// Status reports which stages of the whole pipeline are satisfied in the
// working directory.
func (p *Pipeline) Status() (*model.StatusSummary, error) {
	plan := &engine.Plan{
		From:   p.Graph.Stages[0],
		To:     p.Graph.Stages[len(p.Graph.Stages)-1],
		Stages: p.Graph.Stages,
		Rounds: p.Config.Backtranslation.Rounds,
	}
	return p.Controller.Preview(plan)
}
