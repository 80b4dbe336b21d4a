package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dgallion1/docgraph/internal/api"
	"github.com/dgallion1/docgraph/internal/pathstore"
	"github.com/dgallion1/docgraph/internal/pipeline"
)

func newServeCommand(rf *rootFlags) *cobra.Command {
	var port string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and extraction workers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rf.load()
			if err != nil {
				return err
			}
			if port != "" {
				cfg.Port = port
			}
			if err := cfg.ValidateServer(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			log := a.log

			var pub *pathstore.Publisher
			if cfg.PathstoreURL != "" {
				ps := pathstore.NewClient(cfg.PathstoreURL, cfg.PathstoreAPIKey)
				defer ps.Close()
				pub = pathstore.NewPublisher(ps, cfg.PathstorePrefix, cfg.MaxConcurrentPublish, log)
			}

			orch := pipeline.NewOrchestrator(pipeline.OrchestratorConfig{
				Workers:   cfg.WorkerCount,
				QueueSize: cfg.MaxQueueSize,
				Jobs:      pipeline.JobStoreConfig{Size: cfg.MaxJobs, TTL: cfg.JobTTL},
			}, a.x, pub, log)
			orch.Start(ctx)

			srv := api.NewServer(api.Deps{
				Orchestrator: orch,
				LLM:          a.client,
				Domains:      a.x.Domains,
				Gatherer:     a.registry,
			}, log, cfg)

			httpServer := &http.Server{
				Addr:         ":" + cfg.Port,
				Handler:      srv,
				ReadTimeout:  30 * time.Second,
				WriteTimeout: 120 * time.Second,
				IdleTimeout:  60 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				log.Info("starting docgraph", "port", cfg.Port, "provider", cfg.LLM.Provider, "model", cfg.LLM.Model)
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				orch.Stop()
				return err
			case <-ctx.Done():
			}

			log.Info("shutting down...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				log.Error("http shutdown", "error", err)
			}
			orch.Stop()
			return nil
		},
	}
	cmd.Flags().StringVar(&port, "port", "", "override PORT")
	return cmd
}
