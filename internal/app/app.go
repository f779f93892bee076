// Package app wires configuration into the enricher's services. The daemon
// and the CLI build the same graph through it.
package app

import (
	"context"
	"log/slog"

	"github.com/joseph-ayodele/doc-enricher/internal/artifact"
	"github.com/joseph-ayodele/doc-enricher/internal/common"
	"github.com/joseph-ayodele/doc-enricher/internal/export"
	"github.com/joseph-ayodele/doc-enricher/internal/ingest"
	"github.com/joseph-ayodele/doc-enricher/internal/llm"
	"github.com/joseph-ayodele/doc-enricher/internal/llm/openai"
	"github.com/joseph-ayodele/doc-enricher/internal/pipeline"
	"github.com/joseph-ayodele/doc-enricher/internal/repository"
	"github.com/joseph-ayodele/doc-enricher/internal/server"
	"github.com/joseph-ayodele/doc-enricher/internal/templates"
)

type App struct {
	Config   *common.Config
	Logger   *slog.Logger
	Store    *artifact.FSStore
	Registry *templates.Registry
	Ingestor *ingest.FSIngestor
	Exporter *export.Service
	DB       *repository.DB
	Runs     repository.StageRunRepository

	client llm.JobClient
	exec   *pipeline.Executor
}

type Option func(*App)

// WithJobClient replaces the OpenAI client, mainly for tests.
func WithJobClient(c llm.JobClient) Option {
	return func(a *App) { a.client = c }
}

// New opens the artifact store, loads templates and connects run history.
// The provider client is created lazily by Executor so commands that never
// call the provider work without credentials.
func New(ctx context.Context, cfg *common.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger}
	for _, o := range opts {
		o(a)
	}

	store, err := artifact.OpenDir(cfg.Store.Root, artifact.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	a.Store = store

	reg, err := templates.LoadFile(cfg.Pipeline.TemplatesFile,
		templates.WithStrict(cfg.Pipeline.TemplateStrict),
		templates.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}
	a.Registry = reg

	a.Ingestor = ingest.NewFSIngestor(store, cfg.Server.MaxRawTextBytes, logger)
	a.Exporter = export.NewService(store, logger)

	db, runs, err := server.ConnectRunHistory(ctx, cfg.RunHistory, logger)
	if err != nil {
		return nil, err
	}
	a.DB, a.Runs = db, runs

	logger.Info("app.ready", "artifact_root", cfg.Store.Root, "templates", reg.Stages(), "run_history", db != nil)
	return a, nil
}

// Executor returns the stage executor, creating the provider client on
// first use.
func (a *App) Executor() (*pipeline.Executor, error) {
	if a.exec != nil {
		return a.exec, nil
	}
	if a.client == nil {
		c, err := openai.NewClient(openai.Config{
			APIKey:      a.Config.LLM.APIKey,
			BaseURL:     a.Config.LLM.BaseURL,
			Model:       a.Config.LLM.Model,
			Temperature: a.Config.LLM.Temperature,
			Timeout:     a.Config.LLM.Timeout,
		}, a.Logger)
		if err != nil {
			return nil, err
		}
		a.client = c
	}

	opts := []pipeline.Option{
		pipeline.WithLogger(a.Logger),
		pipeline.WithModel(a.Config.LLM.Model),
		pipeline.WithPollPolicy(llm.PollPolicy{
			Interval:    a.Config.Pipeline.PollInterval,
			MaxAttempts: a.Config.Pipeline.PollMaxAttempts,
			Sleep:       llm.SleepContext,
		}),
	}
	if a.Runs != nil {
		opts = append(opts, pipeline.WithRunRecorder(a.Runs))
	}
	a.exec = pipeline.NewExecutor(a.Store, a.Registry, a.client, nil, opts...)
	return a.exec, nil
}

// Health pings run history when it is enabled.
func (a *App) Health(ctx context.Context) error {
	return server.PingDB(ctx, a.DB, a.Logger, a.Config.RunHistory.DialTimeout)
}

func (a *App) Close() {
	server.CloseDB(a.DB, a.Logger)
}
