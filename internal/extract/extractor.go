// Package extract runs two-phase knowledge-graph extraction on one chunk:
// entities first, then relationships among only those entities.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dgallion1/docgraph/internal/graph"
	"github.com/dgallion1/docgraph/internal/jsonrepair"
	"github.com/dgallion1/docgraph/internal/llm"
	"github.com/dgallion1/docgraph/internal/schema"
)

// ErrNoEntities means phase 1 produced nothing usable. It fails the chunk.
var ErrNoEntities = errors.New("no entities extracted")

// DefaultExcerptRunes bounds the text sent with the relationship prompt.
const DefaultExcerptRunes = 6000

// Input is one chunk to extract.
type Input struct {
	ChunkID       string
	Text          string
	ParentContext string
}

// Result is a chunk graph with local ids and the usage of both calls.
type Result struct {
	ChunkID  string      `json:"chunk_id"`
	Graph    graph.Graph `json:"graph"`
	Usage    llm.Usage   `json:"usage"`
	Rejected int         `json:"rejected,omitempty"`
}

// Config tunes an Extractor. Domain may be nil.
type Config struct {
	Level        Level
	Domain       *schema.Domain
	ExcerptRunes int
}

// Extractor is safe for concurrent use if its client is.
type Extractor struct {
	client llm.Client
	cfg    Config
	log    *slog.Logger
	debug  *DebugWriter
}

func New(client llm.Client, cfg Config, log *slog.Logger, debug *DebugWriter) *Extractor {
	if cfg.Level == "" {
		cfg.Level = LevelStandard
	}
	if cfg.ExcerptRunes <= 0 {
		cfg.ExcerptRunes = DefaultExcerptRunes
	}
	if log == nil {
		log = slog.Default()
	}
	return &Extractor{client: client, cfg: cfg, log: log, debug: debug}
}

// Extract runs both phases. Phase-1 failures, including zero valid entities,
// are returned as errors. Phase-2 failures leave the edge list empty unless
// ctx was cancelled.
func (x *Extractor) Extract(ctx context.Context, in Input) (*Result, error) {
	log := x.log.With("chunk", in.ChunkID)
	res := &Result{ChunkID: in.ChunkID, Graph: graph.New()}

	prompt := EntityPrompt(x.cfg.Domain, x.cfg.Level, in.ParentContext, in.Text)
	resp, err := x.client.Generate(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("entity phase: %w", err)
	}
	res.Usage = res.Usage.Add(resp.Usage)
	x.writeDebug(log, in.ChunkID, "entities", prompt, resp.Text)

	parsed, perr := jsonrepair.Decode(resp.Text)
	if perr != nil {
		log.Warn("entity output unparseable", "error", perr, "finish_reason", resp.FinishReason)
	}
	entities, rejected := ValidateEntities(parsed.Nodes)
	res.Rejected = rejected
	if len(entities) == 0 {
		return nil, fmt.Errorf("entity phase (finish_reason=%q): %w", resp.FinishReason, ErrNoEntities)
	}
	res.Graph.Nodes = entities
	log.Debug("entities extracted", "count", len(entities), "rejected", rejected)

	if len(entities) < 2 {
		return res, nil
	}

	excerpt := Excerpt(in.Text, x.cfg.ExcerptRunes)
	prompt = RelationshipPrompt(x.cfg.Domain, entities, excerpt)
	resp, err = x.client.Generate(ctx, prompt)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Warn("relationship phase failed", "error", err)
		return res, nil
	}
	res.Usage = res.Usage.Add(resp.Usage)
	x.writeDebug(log, in.ChunkID, "relationships", prompt, resp.Text)

	edges := jsonrepair.Parse(resp.Text).Edges
	res.Graph.Edges = ResolveEndpoints(entities, edges)
	log.Debug("relationships extracted", "count", len(res.Graph.Edges))
	return res, nil
}

func (x *Extractor) writeDebug(log *slog.Logger, chunkID, phase, prompt, response string) {
	if err := x.debug.Write(chunkID, phase, prompt, response); err != nil {
		log.Warn("debug write failed", "error", err)
	}
}
