package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dgallion1/docgraph/internal/parser"
	"github.com/dgallion1/docgraph/internal/pipeline"
)

type extractFlags struct {
	domain         string
	level          string
	chunkLevel     string
	out            string
	debugDir       string
	provider       string
	model          string
	baseURL        string
	concurrency    int
	maxChunkTokens int
	failFast       bool
	forceRestart   bool
}

func newExtractCommand(rf *rootFlags) *cobra.Command {
	var f extractFlags
	cmd := &cobra.Command{
		Use:   "extract FILE",
		Short: "Extract a knowledge graph from one document",
		Long: `Extract parses FILE, chunks it along its chapter and section structure,
extracts entities and relationships chunk by chunk and merges them into one graph.

Progress is checkpointed after every chunk, so rerunning an interrupted
extraction resumes where it stopped unless --force-restart is given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rf.load()
			if err != nil {
				return err
			}
			fl := cmd.Flags()
			set := func(name string, apply func()) {
				if fl.Changed(name) {
					apply()
				}
			}
			set("domain", func() { cfg.Domain = f.domain })
			set("level", func() { cfg.Level = f.level })
			set("chunk-level", func() { cfg.ChunkLevel = f.chunkLevel })
			set("debug-dir", func() { cfg.DebugDir = f.debugDir })
			set("provider", func() { cfg.LLM.Provider = f.provider })
			set("model", func() { cfg.LLM.Model = f.model })
			set("base-url", func() { cfg.LLM.BaseURL = f.baseURL })
			set("concurrency", func() { cfg.Concurrency = f.concurrency })
			set("max-chunk-tokens", func() { cfg.MaxChunkTokens = f.maxChunkTokens })
			set("fail-fast", func() { cfg.FailFast = f.failFast })
			if err := cfg.Validate(); err != nil {
				return err
			}

			path := args[0]
			p, err := parser.ForFile(path)
			if err != nil {
				return err
			}
			file, err := os.Open(path)
			if err != nil {
				return err
			}
			doc, err := p.Parse(file, path)
			file.Close()
			if err != nil {
				return fmt.Errorf("parse %s: %w", path, err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			a.x.Config.OutputDir = f.out
			a.x.Log = a.log.With("file", path)

			res, err := a.x.Run(ctx, doc.Text(), pipeline.JobOptions{
				Domain:       cfg.Domain,
				Level:        cfg.Level,
				FailFast:     cfg.FailFast,
				ForceRestart: f.forceRestart,
			}, nil)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if f.out != "" {
				return enc.Encode(res.Stats)
			}
			return enc.Encode(res)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.domain, "domain", "", "domain schema (see `docgraph domains`)")
	fl.StringVar(&f.level, "level", "", "extraction level: brief, standard or deep")
	fl.StringVar(&f.chunkLevel, "chunk-level", "", "force chunk level: document, chapter or section")
	fl.StringVarP(&f.out, "out", "o", "", "write graph.json and stats.json here instead of printing the graph")
	fl.StringVar(&f.debugDir, "debug-dir", "", "write every prompt and response here")
	fl.StringVar(&f.provider, "provider", "", "llm provider: ollama, openai, custom, anthropic or gemini")
	fl.StringVar(&f.model, "model", "", "llm model")
	fl.StringVar(&f.baseURL, "base-url", "", "llm base url")
	fl.IntVar(&f.concurrency, "concurrency", 1, "chunks extracted in parallel")
	fl.IntVar(&f.maxChunkTokens, "max-chunk-tokens", 0, "token budget per chunk")
	fl.BoolVar(&f.failFast, "fail-fast", false, "stop at the first failed chunk")
	fl.BoolVar(&f.forceRestart, "force-restart", false, "ignore any saved checkpoint")
	return cmd
}
