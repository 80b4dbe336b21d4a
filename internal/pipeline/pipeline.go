package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/dgallion1/docgraph/internal/checkpoint"
	"github.com/dgallion1/docgraph/internal/chunker"
	"github.com/dgallion1/docgraph/internal/doctree"
	"github.com/dgallion1/docgraph/internal/extract"
	"github.com/dgallion1/docgraph/internal/graph"
	"github.com/dgallion1/docgraph/internal/llm"
	"github.com/dgallion1/docgraph/internal/structure"
)

// State is a stage of a pipeline run.
type State string

const (
	StateNotStarted State = "not_started"
	StateChunking   State = "chunking"
	StateExtracting State = "extracting"
	StateMerging    State = "merging"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

var (
	// ErrAllChunksFailed means no chunk produced a graph.
	ErrAllChunksFailed = errors.New("all chunks failed")
	// ErrEmptyDocument means there was no text to extract from.
	ErrEmptyDocument = errors.New("document has no text")
)

// ChunkError is returned in fail-fast mode for the first failing chunk.
type ChunkError struct {
	ChunkID string
	Index   int
	Err     error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("chunk %s (#%d): %v", e.ChunkID, e.Index, e.Err)
}

func (e *ChunkError) Unwrap() error { return e.Err }

// ChunkExtractor extracts one chunk. *extract.Extractor implements it.
type ChunkExtractor interface {
	Extract(ctx context.Context, in extract.Input) (*extract.Result, error)
}

// Input is one document run.
type Input struct {
	// Key names the checkpoint. Defaults to a prefix of the document hash.
	Key          string
	Text         string
	FailFast     bool
	ForceRestart bool
}

// Config holds per-pipeline settings.
type Config struct {
	Chunking    chunker.Config
	Concurrency int
	// OutputDir receives graph.json and stats.json when set.
	OutputDir string
}

// Event reports progress to an Observer.
type Event struct {
	State       State
	TotalChunks int
	Completed   int // chunks 0..Completed-1 are checkpointed
	Entry       *checkpoint.Entry
}

// Observer receives progress events. It is called from worker goroutines
// and must not block.
type Observer func(Event)

// Stats summarizes a run.
type Stats struct {
	graph.Stats
	Level           chunker.Level     `json:"level"`
	TotalChunks     int               `json:"total_chunks"`
	SucceededChunks int               `json:"succeeded_chunks"`
	FailedChunks    int               `json:"failed_chunks"`
	ResumedChunks   int               `json:"resumed_chunks"`
	Usage           llm.Usage         `json:"usage"`
	StageMillis     map[State]int64   `json:"stage_ms"`
	TotalMillis     int64             `json:"total_ms"`
	ChunkErrors     map[string]string `json:"chunk_errors,omitempty"`
}

// Result is the merged graph and run statistics.
type Result struct {
	Graph graph.Graph `json:"graph"`
	Stats Stats       `json:"stats"`
}

// Pipeline runs structure analysis, chunking, extraction with checkpointing,
// and merging for one document at a time. Runs on different keys may proceed
// concurrently on one Pipeline.
type Pipeline struct {
	extractor ChunkExtractor
	merger    *graph.Merger
	store     checkpoint.Store
	cfg       Config
	log       *slog.Logger
	metrics   *Metrics
	observer  Observer
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithCheckpoints enables resume through store.
func WithCheckpoints(store checkpoint.Store) Option {
	return func(p *Pipeline) { p.store = store }
}

// WithMerger replaces the default schema-less merger.
func WithMerger(m *graph.Merger) Option {
	return func(p *Pipeline) { p.merger = m }
}

func WithMetrics(m *Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

func WithObserver(o Observer) Option {
	return func(p *Pipeline) { p.observer = o }
}

func New(x ChunkExtractor, cfg Config, log *slog.Logger, opts ...Option) *Pipeline {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.Chunking.MaxChunkTokens <= 0 {
		cfg.Chunking.MaxChunkTokens = chunker.DefaultMaxChunkTokens
	}
	if cfg.Chunking.Thresholds == (chunker.Thresholds{}) {
		cfg.Chunking.Thresholds = chunker.DefaultThresholds()
	}
	if log == nil {
		log = slog.Default()
	}
	p := &Pipeline{extractor: x, cfg: cfg, log: log}
	for _, o := range opts {
		o(p)
	}
	if p.merger == nil {
		p.merger = &graph.Merger{Log: log}
	}
	return p
}

// run is the mutable state of one Run call.
type run struct {
	p       *Pipeline
	in      Input
	key     string
	hash    string
	layout  string
	log     *slog.Logger
	tree    *doctree.Tree
	level   chunker.Level
	groups  []chunker.Group
	stats   Stats
	started time.Time

	mu      sync.Mutex
	cp      *checkpoint.Checkpoint
	pending map[int]checkpoint.Entry
}

// Run processes in.Text to a merged graph. In fail-soft mode (default) a chunk
// failure is recorded and the run continues; it fails only when no chunk
// succeeds. In fail-fast mode the first failure stops the run with a
// *ChunkError after checkpointing the completed prefix.
func (p *Pipeline) Run(ctx context.Context, in Input) (*Result, error) {
	if strings.TrimSpace(in.Text) == "" {
		return nil, ErrEmptyDocument
	}
	r := &run{
		p:       p,
		in:      in,
		hash:    checkpoint.HashText(in.Text),
		started: time.Now(),
		pending: make(map[int]checkpoint.Entry),
		stats:   Stats{StageMillis: make(map[State]int64)},
	}
	r.key = in.Key
	if r.key == "" {
		r.key = r.hash[:16]
	}
	r.log = p.log.With("checkpoint", r.key)

	r.chunk()

	if err := r.loadCheckpoint(); err != nil {
		return nil, r.fail(err)
	}
	if err := r.extract(ctx); err != nil {
		return nil, r.fail(err)
	}
	return r.merge()
}

func (r *run) setState(s State) {
	r.p.metrics.state(s)
	r.notify(Event{State: s, TotalChunks: len(r.groups), Completed: r.completed()})
	r.log.Info("pipeline state", "state", s)
}

func (r *run) timed(s State, start time.Time) {
	r.stats.StageMillis[s] = time.Since(start).Milliseconds()
}

func (r *run) notify(ev Event) {
	if r.p.observer != nil {
		r.p.observer(ev)
	}
}

func (r *run) completed() int {
	if r.cp == nil {
		return 0
	}
	return r.cp.LastCompletedIndex + 1
}

func (r *run) fail(err error) error {
	r.setState(StateFailed)
	return err
}

func (r *run) chunk() {
	start := time.Now()
	r.setState(StateChunking)
	r.tree = structure.Analyze(r.in.Text)
	r.level, r.groups = chunker.Chunk(r.tree, utf8.RuneCountInString(r.in.Text), r.p.cfg.Chunking)
	r.layout = chunker.Fingerprint(r.level, r.groups)
	r.stats.Level = r.level
	r.stats.TotalChunks = len(r.groups)
	r.timed(StateChunking, start)
	r.log.Info("chunked document",
		"level", r.level,
		"chunks", len(r.groups),
		"chapters", r.tree.Count(doctree.TypeChapter),
		"sections", r.tree.Count(doctree.TypeSection),
	)
}

// loadCheckpoint resumes from a stored checkpoint unless a restart is forced
// or the stored one belongs to a different document or chunking.
func (r *run) loadCheckpoint() error {
	store := r.p.store
	if store == nil {
		r.cp = checkpoint.New(r.hash, r.layout, len(r.groups))
		return nil
	}
	if r.in.ForceRestart {
		if err := store.Delete(r.key); err != nil {
			return fmt.Errorf("discard checkpoint: %w", err)
		}
		r.cp = checkpoint.New(r.hash, r.layout, len(r.groups))
		return nil
	}

	cp, err := store.Load(r.key)
	switch {
	case errors.Is(err, checkpoint.ErrNotFound):
		cp = checkpoint.New(r.hash, r.layout, len(r.groups))
	case err != nil:
		r.log.Warn("unreadable checkpoint, starting over", "error", err)
		cp = checkpoint.New(r.hash, r.layout, len(r.groups))
	case !cp.Matches(r.hash, r.layout, len(r.groups)):
		r.log.Warn("checkpoint does not match document or chunking, starting over",
			"stored_chunks", cp.TotalChunks, "chunks", len(r.groups))
		cp = checkpoint.New(r.hash, r.layout, len(r.groups))
	default:
		r.log.Info("resuming from checkpoint", "completed", cp.LastCompletedIndex+1, "total", len(r.groups))
	}
	r.cp = cp
	r.stats.ResumedChunks = cp.LastCompletedIndex + 1
	return nil
}

func (r *run) extract(ctx context.Context) error {
	start := time.Now()
	defer r.timed(StateExtracting, start)
	r.setState(StateExtracting)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.p.cfg.Concurrency)

	for i := r.cp.LastCompletedIndex + 1; i < len(r.groups); i++ {
		if gctx.Err() != nil {
			break
		}
		grp := r.groups[i]
		g.Go(func() error { return r.extractOne(gctx, grp) })
	}
	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			r.log.Warn("extraction stopped", "completed", r.completed(), "total", len(r.groups))
		}
		return err
	}
	return nil
}

func (r *run) extractOne(ctx context.Context, grp chunker.Group) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	log := r.log.With("chunk", grp.ID)
	entry := checkpoint.Entry{
		ChunkID:     grp.ID,
		Index:       grp.Index,
		Level:       string(grp.Level),
		SourceNodes: grp.NodeNumbers(r.tree),
	}

	start := time.Now()
	res, err := r.p.extractor.Extract(ctx, extract.Input{
		ChunkID:       grp.ID,
		Text:          grp.Text(r.tree),
		ParentContext: grp.ParentContext,
	})
	if err != nil && ctx.Err() != nil {
		// Interrupted chunks are never recorded.
		return ctx.Err()
	}
	r.p.metrics.chunk(err, time.Since(start))

	if err != nil {
		log.Warn("chunk failed", "error", err)
		if r.in.FailFast {
			return &ChunkError{ChunkID: grp.ID, Index: grp.Index, Err: err}
		}
		entry.Error = err.Error()
		entry.Graph = graph.New()
	} else {
		entry.Graph = res.Graph
		entry.Usage = res.Usage
		log.Info("chunk extracted",
			"entities", len(res.Graph.Nodes),
			"relationships", len(res.Graph.Edges),
			"tokens", res.Usage.TotalTokens,
			"duration", time.Since(start),
		)
	}
	r.record(entry)
	return nil
}

// record stores a finished chunk and advances the checkpoint over every
// contiguous finished index. The checkpoint never gets ahead of a gap.
func (r *run) record(e checkpoint.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pending[e.Index] = e
	advanced := false
	for {
		next, ok := r.pending[r.cp.LastCompletedIndex+1]
		if !ok {
			break
		}
		delete(r.pending, next.Index)
		r.cp.Advance(next)
		advanced = true
	}
	if advanced && r.p.store != nil {
		if err := r.p.store.Save(r.key, r.cp); err != nil {
			r.log.Error("checkpoint save failed", "error", err)
		}
	}
	r.notify(Event{State: StateExtracting, TotalChunks: len(r.groups), Completed: r.cp.LastCompletedIndex + 1, Entry: &e})
}

func (r *run) merge() (*Result, error) {
	chunks := make([]graph.ChunkGraph, 0, len(r.cp.ChunkGraphs))
	r.stats.ChunkErrors = make(map[string]string)
	for _, e := range r.cp.ChunkGraphs {
		r.stats.Usage = r.stats.Usage.Add(e.Usage)
		if e.Failed() {
			r.stats.FailedChunks++
			r.stats.ChunkErrors[e.ChunkID] = e.Error
			continue
		}
		r.stats.SucceededChunks++
		chunks = append(chunks, graph.ChunkGraph{ChunkID: e.ChunkID, Graph: e.Graph})
	}

	if r.p.store != nil {
		if err := r.p.store.Delete(r.key); err != nil {
			r.log.Warn("checkpoint delete failed", "error", err)
		}
	}
	if r.stats.SucceededChunks == 0 {
		return nil, r.fail(fmt.Errorf("%d chunks: %w", len(r.groups), ErrAllChunksFailed))
	}

	start := time.Now()
	r.setState(StateMerging)
	merged := r.p.merger.Merge(chunks)
	r.stats.Stats = graph.ComputeStats(merged)
	r.timed(StateMerging, start)

	res := &Result{Graph: merged, Stats: r.stats}
	res.Stats.TotalMillis = time.Since(r.started).Milliseconds()
	if r.p.cfg.OutputDir != "" {
		if err := WriteOutput(r.p.cfg.OutputDir, res); err != nil {
			return nil, r.fail(err)
		}
	}

	r.setState(StateDone)
	res.Stats.TotalMillis = time.Since(r.started).Milliseconds()
	r.log.Info("pipeline done",
		"entities", res.Stats.Entities,
		"relationships", res.Stats.Relationships,
		"failed_chunks", res.Stats.FailedChunks,
		"tokens", res.Stats.Usage.TotalTokens,
	)
	return res, nil
}
