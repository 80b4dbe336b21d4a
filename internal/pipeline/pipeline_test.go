package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgallion1/docgraph/internal/checkpoint"
	"github.com/dgallion1/docgraph/internal/chunker"
	"github.com/dgallion1/docgraph/internal/extract"
	"github.com/dgallion1/docgraph/internal/graph"
	"github.com/dgallion1/docgraph/internal/llm"
)

var topics = []string{"Alpha", "Beta", "Gamma", "Delta", "Epsilon"}

// fiveChapters chunks into chunk-000 .. chunk-004 at chapter level.
func fiveChapters() string {
	var b strings.Builder
	for _, t := range topics {
		fmt.Fprintf(&b, "# %s\nKim writes about %s.\n\n", t, strings.ToLower(t))
	}
	return b.String()
}

// fakeExtractor returns Kim plus one topic per chunk. fail decides per call
// whether the chunk errors.
type fakeExtractor struct {
	mu    sync.Mutex
	calls []string
	fail  func(chunkID string, call int) error
	hook  func(ctx context.Context, in extract.Input) error
}

func (f *fakeExtractor) Extract(ctx context.Context, in extract.Input) (*extract.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, in.ChunkID)
	n := 0
	for _, c := range f.calls {
		if c == in.ChunkID {
			n++
		}
	}
	f.mu.Unlock()

	if f.hook != nil {
		if err := f.hook(ctx, in); err != nil {
			return nil, err
		}
	}
	if f.fail != nil {
		if err := f.fail(in.ChunkID, n); err != nil {
			return nil, err
		}
	}
	topic := in.ChunkID
	for _, t := range topics {
		if strings.Contains(in.Text, t) {
			topic = t
		}
	}
	return &extract.Result{
		ChunkID: in.ChunkID,
		Graph: graph.Graph{
			Nodes: []graph.Entity{
				{ID: "n1", Type: "Person", Properties: graph.PropertiesOf("name", "Kim")},
				{ID: "n2", Type: "Topic", Properties: graph.PropertiesOf("name", topic)},
			},
			Edges: []graph.Relationship{{Type: "DISCUSSES", Source: "n1", Target: "n2"}},
		},
		Usage: llm.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}, nil
}

func (f *fakeExtractor) called() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func failOn(id string, err error) func(string, int) error {
	return func(chunkID string, _ int) error {
		if chunkID == id {
			return err
		}
		return nil
	}
}

func chapterConfig(concurrency int) Config {
	cfg := Config{Chunking: chunker.DefaultConfig(), Concurrency: concurrency}
	cfg.Chunking.ForceLevel = chunker.LevelChapter
	return cfg
}

func newStore(t *testing.T) *checkpoint.FileStore {
	s, err := checkpoint.NewFileStore(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestRun_TwoChapterDocument(t *testing.T) {
	x := &fakeExtractor{}
	p := New(x, Config{Chunking: chunker.Config{ForceLevel: chunker.LevelChapter}}, nil)

	res, err := p.Run(context.Background(), Input{Text: "1. Intro\nHello\n1.1 Background\nWorld\n2. Methods\nFoo"})
	require.NoError(t, err)

	assert.Equal(t, chunker.LevelChapter, res.Stats.Level)
	assert.Equal(t, 2, res.Stats.TotalChunks)
	assert.Equal(t, 2, res.Stats.SucceededChunks)
	assert.Equal(t, []string{"chunk-000", "chunk-001"}, x.called())
	// Kim is shared; each chunk adds its own topic.
	assert.Equal(t, 3, res.Stats.Entities)
	assert.Equal(t, 30, res.Stats.Usage.TotalTokens)
}

func TestRun_AllChunksSucceed(t *testing.T) {
	x := &fakeExtractor{}
	store := newStore(t)
	p := New(x, chapterConfig(1), nil, WithCheckpoints(store))

	res, err := p.Run(context.Background(), Input{Key: "doc", Text: fiveChapters()})
	require.NoError(t, err)

	assert.Equal(t, 5, res.Stats.TotalChunks)
	assert.Equal(t, 6, res.Stats.Entities)
	assert.Equal(t, 5, res.Stats.Relationships)
	assert.Equal(t, map[string]int{"Person": 1, "Topic": 5}, res.Stats.EntityTypes)
	assert.Equal(t, map[string]int{"DISCUSSES": 5}, res.Stats.RelationTypes)
	assert.Contains(t, res.Stats.StageMillis, StateExtracting)

	_, err = store.Load("doc")
	assert.ErrorIs(t, err, checkpoint.ErrNotFound, "checkpoint is deleted on merge")
}

func TestRun_FailSoftRecordsAndContinues(t *testing.T) {
	x := &fakeExtractor{fail: failOn("chunk-002", errors.New("model unavailable"))}
	p := New(x, chapterConfig(1), nil, WithCheckpoints(newStore(t)))

	res, err := p.Run(context.Background(), Input{Key: "doc", Text: fiveChapters()})
	require.NoError(t, err)

	assert.Equal(t, 4, res.Stats.SucceededChunks)
	assert.Equal(t, 1, res.Stats.FailedChunks)
	assert.Equal(t, "model unavailable", res.Stats.ChunkErrors["chunk-002"])
	assert.Equal(t, 5, res.Stats.Entities)
	assert.Len(t, x.called(), 5)
}

func TestRun_FailFastStopsAndKeepsPrefix(t *testing.T) {
	x := &fakeExtractor{fail: failOn("chunk-002", errors.New("bad output"))}
	store := newStore(t)
	p := New(x, chapterConfig(1), nil, WithCheckpoints(store))

	_, err := p.Run(context.Background(), Input{Key: "doc", Text: fiveChapters(), FailFast: true})
	require.Error(t, err)

	var ce *ChunkError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "chunk-002", ce.ChunkID)
	assert.Equal(t, 2, ce.Index)
	assert.Equal(t, []string{"chunk-000", "chunk-001", "chunk-002"}, x.called())

	cp, err := store.Load("doc")
	require.NoError(t, err)
	assert.Equal(t, 1, cp.LastCompletedIndex)
	assert.Len(t, cp.ChunkGraphs, 2)
	assert.Equal(t, 5, cp.TotalChunks)
}

func TestRun_ResumeMatchesUninterruptedRun(t *testing.T) {
	full, err := New(&fakeExtractor{}, chapterConfig(1), nil).
		Run(context.Background(), Input{Text: fiveChapters()})
	require.NoError(t, err)

	// First attempt dies at chunk-002; the retry succeeds.
	x := &fakeExtractor{fail: func(id string, call int) error {
		if id == "chunk-002" && call == 1 {
			return errors.New("timeout")
		}
		return nil
	}}
	store := newStore(t)
	p := New(x, chapterConfig(1), nil, WithCheckpoints(store))

	_, err = p.Run(context.Background(), Input{Key: "doc", Text: fiveChapters(), FailFast: true})
	require.Error(t, err)

	resumed, err := p.Run(context.Background(), Input{Key: "doc", Text: fiveChapters(), FailFast: true})
	require.NoError(t, err)

	assert.Equal(t, 2, resumed.Stats.ResumedChunks)
	assert.Equal(t, []string{"chunk-000", "chunk-001", "chunk-002", "chunk-002", "chunk-003", "chunk-004"}, x.called())

	assert.Equal(t, full.Stats.Entities, resumed.Stats.Entities)
	assert.Equal(t, full.Stats.Relationships, resumed.Stats.Relationships)
	assert.Equal(t, full.Stats.EntityTypes, resumed.Stats.EntityTypes)
	assert.Equal(t, full.Stats.RelationTypes, resumed.Stats.RelationTypes)
	assert.Equal(t, full.Stats.Usage, resumed.Stats.Usage)
}

func TestRun_ForceRestartIgnoresCheckpoint(t *testing.T) {
	store := newStore(t)
	first := &fakeExtractor{fail: failOn("chunk-003", errors.New("boom"))}
	_, err := New(first, chapterConfig(1), nil, WithCheckpoints(store)).
		Run(context.Background(), Input{Key: "doc", Text: fiveChapters(), FailFast: true})
	require.Error(t, err)

	x := &fakeExtractor{}
	res, err := New(x, chapterConfig(1), nil, WithCheckpoints(store)).
		Run(context.Background(), Input{Key: "doc", Text: fiveChapters(), ForceRestart: true})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Stats.ResumedChunks)
	assert.Len(t, x.called(), 5)
}

func TestRun_MismatchedCheckpointStartsOver(t *testing.T) {
	store := newStore(t)
	stale := checkpoint.New(checkpoint.HashText("another document"), "", 5)
	stale.Advance(checkpoint.Entry{ChunkID: "chunk-000", Graph: graph.New()})
	require.NoError(t, store.Save("doc", stale))

	x := &fakeExtractor{}
	res, err := New(x, chapterConfig(1), nil, WithCheckpoints(store)).
		Run(context.Background(), Input{Key: "doc", Text: fiveChapters()})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Stats.ResumedChunks)
	assert.Len(t, x.called(), 5)
}

func TestRun_OtherChunkBoundariesStartOver(t *testing.T) {
	// Two chapters with one section each give two chunks at chapter level and
	// two at section level, cut differently.
	text := "# One\nKim opens.\n## Alpha\nKim on alpha.\n# Two\nKim again.\n## Beta\nKim on beta.\n"
	store := newStore(t)

	first := &fakeExtractor{fail: failOn("chunk-001", errors.New("bad output"))}
	_, err := New(first, chapterConfig(1), nil, WithCheckpoints(store)).
		Run(context.Background(), Input{Key: "doc", Text: text, FailFast: true})
	require.Error(t, err)
	cp, err := store.Load("doc")
	require.NoError(t, err)
	require.Equal(t, 0, cp.LastCompletedIndex)
	require.Equal(t, 2, cp.TotalChunks)

	cfg := Config{Chunking: chunker.DefaultConfig(), Concurrency: 1}
	cfg.Chunking.ForceLevel = chunker.LevelSection
	second := &fakeExtractor{}
	res, err := New(second, cfg, nil, WithCheckpoints(store)).
		Run(context.Background(), Input{Key: "doc", Text: text})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Stats.TotalChunks)
	assert.Equal(t, 0, res.Stats.ResumedChunks)
	assert.Equal(t, []string{"chunk-000", "chunk-001"}, second.called())
}

func TestRun_AllChunksFailed(t *testing.T) {
	store := newStore(t)
	x := &fakeExtractor{fail: func(string, int) error { return errors.New("down") }}
	var states []State
	p := New(x, chapterConfig(2), nil, WithCheckpoints(store), WithObserver(func(ev Event) {
		if ev.Entry == nil {
			states = append(states, ev.State)
		}
	}))

	_, err := p.Run(context.Background(), Input{Key: "doc", Text: fiveChapters()})
	require.ErrorIs(t, err, ErrAllChunksFailed)
	assert.Equal(t, []State{StateChunking, StateExtracting, StateFailed}, states)

	_, err = store.Load("doc")
	assert.ErrorIs(t, err, checkpoint.ErrNotFound)
}

func TestRun_EmptyDocument(t *testing.T) {
	_, err := New(&fakeExtractor{}, Config{}, nil).Run(context.Background(), Input{Text: " \n\t"})
	assert.ErrorIs(t, err, ErrEmptyDocument)
}

func TestRun_CancelledChunkIsNotRecorded(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	x := &fakeExtractor{hook: func(ctx context.Context, in extract.Input) error {
		if in.ChunkID == "chunk-002" {
			cancel()
			return ctx.Err()
		}
		return nil
	}}
	store := newStore(t)
	_, err := New(x, chapterConfig(1), nil, WithCheckpoints(store)).
		Run(ctx, Input{Key: "doc", Text: fiveChapters()})
	require.ErrorIs(t, err, context.Canceled)

	cp, err := store.Load("doc")
	require.NoError(t, err)
	assert.Equal(t, 1, cp.LastCompletedIndex)
	for _, e := range cp.ChunkGraphs {
		assert.False(t, e.Failed(), e.ChunkID)
	}
	assert.NotContains(t, x.called(), "chunk-003")
}

// savingStore records the frontier of every save.
type savingStore struct {
	checkpoint.Store
	mu     sync.Mutex
	saves  []int
	broken bool
}

func (s *savingStore) Save(key string, c *checkpoint.Checkpoint) error {
	s.mu.Lock()
	s.saves = append(s.saves, c.LastCompletedIndex)
	for i, e := range c.ChunkGraphs {
		if e.Index != i {
			s.broken = true
		}
	}
	s.mu.Unlock()
	return s.Store.Save(key, c)
}

func TestRun_ConcurrentFrontierAdvancesInOrder(t *testing.T) {
	var others sync.WaitGroup
	others.Add(4)
	x := &fakeExtractor{hook: func(ctx context.Context, in extract.Input) error {
		if in.ChunkID == "chunk-000" {
			others.Wait()
			return nil
		}
		others.Done()
		return nil
	}}

	store := &savingStore{Store: newStore(t)}
	var mu sync.Mutex
	var events []Event
	p := New(x, chapterConfig(5), nil, WithCheckpoints(store), WithObserver(func(ev Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	}))

	res, err := p.Run(context.Background(), Input{Key: "doc", Text: fiveChapters()})
	require.NoError(t, err)
	assert.Equal(t, 6, res.Stats.Entities)

	assert.False(t, store.broken, "checkpoint entries out of index order")
	require.NotEmpty(t, store.saves)
	for i := 1; i < len(store.saves); i++ {
		assert.Greater(t, store.saves[i], store.saves[i-1])
	}
	assert.Equal(t, 4, store.saves[len(store.saves)-1])

	firstDone := false
	for _, ev := range events {
		if ev.Entry == nil {
			continue
		}
		if ev.Entry.Index == 0 {
			firstDone = true
		}
		if !firstDone {
			assert.Equal(t, 0, ev.Completed, "frontier moved past an unfinished chunk-000")
		}
	}
}

func TestRun_CheckpointSaveFailureIsNotFatal(t *testing.T) {
	p := New(&fakeExtractor{}, chapterConfig(1), nil, WithCheckpoints(brokenStore{}))
	res, err := p.Run(context.Background(), Input{Key: "doc", Text: fiveChapters()})
	require.NoError(t, err)
	assert.Equal(t, 5, res.Stats.SucceededChunks)
}

type brokenStore struct{}

func (brokenStore) Load(string) (*checkpoint.Checkpoint, error) { return nil, checkpoint.ErrNotFound }
func (brokenStore) Save(string, *checkpoint.Checkpoint) error   { return errors.New("disk full") }
func (brokenStore) Delete(string) error                         { return nil }
func (brokenStore) Keys() ([]string, error)                     { return nil, nil }

func TestRun_WritesOutput(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	cfg := chapterConfig(1)
	cfg.OutputDir = dir

	_, err := New(&fakeExtractor{}, cfg, nil).Run(context.Background(), Input{Text: fiveChapters()})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, GraphFile))
	require.NoError(t, err)
	var g graph.Graph
	require.NoError(t, json.Unmarshal(data, &g))
	assert.Len(t, g.Nodes, 6)

	data, err = os.ReadFile(filepath.Join(dir, StatsFile))
	require.NoError(t, err)
	var st map[string]any
	require.NoError(t, json.Unmarshal(data, &st))
	assert.EqualValues(t, 5, st["total_chunks"])
	assert.EqualValues(t, 6, st["entities"])
}

func TestRun_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	x := &fakeExtractor{fail: failOn("chunk-001", errors.New("x"))}

	_, err := New(x, chapterConfig(1), nil, WithMetrics(m)).Run(context.Background(), Input{Text: fiveChapters()})
	require.NoError(t, err)

	assert.Equal(t, 4.0, testutil.ToFloat64(m.chunks.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.chunks.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues(string(StateDone))))
}

func TestChunkError(t *testing.T) {
	base := errors.New("rate limited")
	err := fmt.Errorf("run: %w", &ChunkError{ChunkID: "chunk-007", Index: 7, Err: base})
	assert.ErrorIs(t, err, base)
	assert.Equal(t, "run: chunk chunk-007 (#7): rate limited", err.Error())
}

func TestWriteOutput_BadDir(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	err := WriteOutput(filepath.Join(file, "sub"), &Result{Graph: graph.New()})
	assert.Error(t, err)
}
