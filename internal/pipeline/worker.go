package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dgallion1/docgraph/internal/checkpoint"
	"github.com/dgallion1/docgraph/internal/extract"
	"github.com/dgallion1/docgraph/internal/graph"
	"github.com/dgallion1/docgraph/internal/llm"
	"github.com/dgallion1/docgraph/internal/parser"
	"github.com/dgallion1/docgraph/internal/pathstore"
	"github.com/dgallion1/docgraph/internal/schema"
)

// Extraction holds what every document run shares: the generation client,
// domain schemas, checkpoint store and observability.
type Extraction struct {
	Client      llm.Client
	Domains     *schema.Registry
	Checkpoints checkpoint.Store // optional
	Metrics     *Metrics         // optional
	Debug       *extract.DebugWriter
	Config      Config
	Log         *slog.Logger
}

// Run extracts a graph from text using the domain and level in opts.
// The checkpoint key combines the text hash, domain and level so that a run
// never resumes from chunk graphs extracted under other settings.
func (e *Extraction) Run(ctx context.Context, text string, opts JobOptions, observer Observer) (*Result, error) {
	log := e.Log
	if log == nil {
		log = slog.Default()
	}
	domain, err := e.Domains.Get(opts.Domain)
	if err != nil {
		return nil, err
	}
	level, err := extract.ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	log = log.With("domain", domain.Name, "level", level)

	x := extract.New(e.Client, extract.Config{Level: level, Domain: domain}, log, e.Debug)
	popts := []Option{
		WithMerger(&graph.Merger{Schema: domain, Log: log}),
		WithMetrics(e.Metrics),
	}
	if e.Checkpoints != nil {
		popts = append(popts, WithCheckpoints(e.Checkpoints))
	}
	if observer != nil {
		popts = append(popts, WithObserver(observer))
	}
	p := New(x, e.Config, log, popts...)

	key := fmt.Sprintf("%s-%s-%s", checkpoint.HashText(text)[:16], domain.Name, level)
	return p.Run(ctx, Input{
		Key:          key,
		Text:         text,
		FailFast:     opts.FailFast,
		ForceRestart: opts.ForceRestart,
	})
}

// Worker processes a single document job.
type Worker struct {
	extraction *Extraction
	publisher  *pathstore.Publisher
	log        *slog.Logger
}

func NewWorker(x *Extraction, pub *pathstore.Publisher, log *slog.Logger) *Worker {
	return &Worker{extraction: x, publisher: pub, log: log}
}

// Process parses the job's file, runs extraction and optionally publishes
// the merged graph.
func (w *Worker) Process(ctx context.Context, job *Job) {
	log := w.log.With("job_id", job.ID, "filename", job.Filename)

	job.SetStatus(StatusParsing, "parsing")
	p, err := parser.ForFile(job.Filename)
	if err != nil {
		log.Error("unsupported format", "error", err)
		job.AddError(err.Error())
		job.SetStatus(StatusFailed, "parsing")
		return
	}
	doc, err := p.Parse(bytes.NewReader(job.FileData()), job.Filename)
	if err != nil {
		log.Error("parse failed", "error", err)
		job.AddError(fmt.Sprintf("parse: %s", err))
		job.SetStatus(StatusFailed, "parsing")
		return
	}
	job.setParsed(doc.Title, ContentHashHex([]byte(doc.Text())))
	// The upload is no longer needed once parsed.
	job.SetFileData(nil)

	snap := job.Snapshot()
	publish := snap.Options.Publish && w.publisher != nil
	if publish && !snap.Options.ForceRestart {
		if existing, found, err := w.publisher.FindByHash(ctx, job.contentHash()); err != nil {
			log.Warn("dedup check failed, proceeding", "error", err)
		} else if found {
			log.Info("duplicate document, skipping", "existing_doc_id", existing)
			job.SetStatus(StatusDupSkipped, "dedup")
			return
		}
	}

	x := *w.extraction
	x.Log = log
	res, err := x.Run(ctx, doc.Text(), snap.Options, job.Observe)
	if err != nil {
		log.Error("extraction failed", "error", err)
		job.AddError(err.Error())
		phase := "extracting"
		if errors.Is(err, ErrEmptyDocument) {
			phase = "parsing"
		}
		job.SetStatus(StatusFailed, phase)
		return
	}
	job.SetResult(res)

	partial := res.Stats.FailedChunks > 0
	if publish {
		job.SetStatus(StatusPublishing, "publishing")
		pres, err := w.publisher.Publish(ctx, pathstore.Document{
			ID:          job.contentHash()[:16],
			Filename:    job.Filename,
			Title:       job.Snapshot().Title,
			ContentHash: job.contentHash(),
			Domain:      snap.Options.Domain,
		}, res.Graph)
		switch {
		case err != nil:
			log.Error("publish failed", "error", err)
			job.AddError(fmt.Sprintf("publish: %s", err))
			partial = true
		case pres.Failed > 0:
			for _, e := range pres.Errors {
				job.AddError("publish " + e)
			}
			partial = true
		}
	}

	if partial {
		job.SetStatus(StatusPartial, "done")
	} else {
		job.SetStatus(StatusCompleted, "done")
	}
}
