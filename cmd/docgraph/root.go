package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/dgallion1/docgraph/internal/checkpoint"
	"github.com/dgallion1/docgraph/internal/config"
	"github.com/dgallion1/docgraph/internal/extract"
	"github.com/dgallion1/docgraph/internal/llm"
	"github.com/dgallion1/docgraph/internal/pipeline"
	"github.com/dgallion1/docgraph/internal/schema"
)

type rootFlags struct {
	envFile  string
	logLevel string
}

// NewRootCommand builds the command tree. Each call returns fresh state so
// tests can run commands independently.
func NewRootCommand() *cobra.Command {
	var rf rootFlags
	root := &cobra.Command{
		Use:           "docgraph",
		Short:         "Extract knowledge graphs from long documents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&rf.envFile, "env-file", "", "dotenv file to load (default .env if present)")
	root.PersistentFlags().StringVar(&rf.logLevel, "log-level", "", "override LOG_LEVEL (debug, info, warn, error)")

	root.AddCommand(
		newServeCommand(&rf),
		newExtractCommand(&rf),
		newDomainsCommand(&rf),
		newCheckpointsCommand(&rf),
	)
	return root
}

func (rf *rootFlags) load() (config.Config, error) {
	var files []string
	if rf.envFile != "" {
		files = append(files, rf.envFile)
	}
	cfg, err := config.Load(files...)
	if err != nil {
		return cfg, err
	}
	if rf.logLevel != "" {
		cfg.LogLevel = rf.logLevel
	}
	return cfg, nil
}

func loadDomains(cfg config.Config) (*schema.Registry, error) {
	reg := schema.NewRegistry()
	if cfg.DomainsFile != "" {
		if err := reg.LoadFile(cfg.DomainsFile); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func openCheckpoints(cfg config.Config) (checkpoint.Store, func() error, error) {
	noop := func() error { return nil }
	switch cfg.CheckpointBackend {
	case "none":
		return nil, noop, nil
	case "bolt":
		s, err := checkpoint.NewBoltStore(cfg.CheckpointDB)
		if err != nil {
			return nil, noop, err
		}
		return s, s.Close, nil
	default:
		s, err := checkpoint.NewFileStore(cfg.CheckpointDir)
		if err != nil {
			return nil, noop, err
		}
		return s, noop, nil
	}
}

// app is everything a command needs to run extractions.
type app struct {
	cfg      config.Config
	log      *slog.Logger
	registry *prometheus.Registry
	client   *llm.RetryingClient
	x        *pipeline.Extraction
	close    func() error
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	log := cfg.Logger()

	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	domains, err := loadDomains(cfg)
	if err != nil {
		return nil, err
	}
	client, err := llm.New(ctx, cfg.LLM.Client(), llm.Options{
		Log:     log,
		Stats:   llm.NewStats(0),
		Metrics: llm.NewMetrics(reg),
	})
	if err != nil {
		return nil, err
	}
	debug, err := extract.NewDebugWriter(cfg.DebugDir)
	if err != nil {
		return nil, err
	}
	store, closeStore, err := openCheckpoints(cfg)
	if err != nil {
		return nil, fmt.Errorf("open checkpoints: %w", err)
	}

	return &app{
		cfg:      cfg,
		log:      log,
		registry: reg,
		client:   client,
		x: &pipeline.Extraction{
			Client:      client,
			Domains:     domains,
			Checkpoints: store,
			Metrics:     pipeline.NewMetrics(reg),
			Debug:       debug,
			Config: pipeline.Config{
				Chunking:    cfg.Chunking(),
				Concurrency: cfg.Concurrency,
			},
			Log: log,
		},
		close: closeStore,
	}, nil
}

func (a *app) Close() error {
	return a.close()
}
