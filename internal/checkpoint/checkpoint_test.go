package checkpoint

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgallion1/docgraph/internal/graph"
	"github.com/dgallion1/docgraph/internal/llm"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	fs, err := NewFileStore(filepath.Join(t.TempDir(), "cp"))
	require.NoError(t, err)
	bs, err := NewBoltStore(filepath.Join(t.TempDir(), "cp.db"))
	require.NoError(t, err)
	t.Cleanup(func() { bs.Close() })
	return map[string]Store{"file": fs, "bolt": bs}
}

func sample() *Checkpoint {
	c := New(HashText("doc"), "layout-a", 3)
	g := graph.New()
	g.Nodes = append(g.Nodes, graph.Entity{ID: "n1", Type: "Person", Properties: graph.PropertiesOf("name", "Kim", "age", 30)})
	g.Edges = append(g.Edges, graph.Relationship{Source: "n1", Target: "n1", Type: "SELF", Properties: graph.NewProperties()})
	c.Advance(Entry{ChunkID: "chunk-000", Index: 0, Level: "chapter", SourceNodes: []string{"1"}, Graph: g, Usage: llm.Usage{TotalTokens: 12}})
	c.Advance(Entry{ChunkID: "chunk-001", Index: 1, Level: "chapter", SourceNodes: []string{"2"}, Graph: graph.New(), Error: "entity phase: no entities extracted"})
	return c
}

func TestStore_RoundTrip(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Load("doc")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, s.Save("doc", sample()))
			got, err := s.Load("doc")
			require.NoError(t, err)

			assert.Equal(t, 1, got.LastCompletedIndex)
			assert.Equal(t, 3, got.TotalChunks)
			assert.False(t, got.Timestamp.IsZero())
			require.Len(t, got.ChunkGraphs, 2)
			assert.True(t, got.ChunkGraphs[1].Failed())
			assert.Equal(t, 12, got.ChunkGraphs[0].Usage.TotalTokens)

			n := got.ChunkGraphs[0].Graph.Nodes[0]
			assert.Equal(t, "Kim", n.Name())
			var keys []string
			for p := n.Properties.Oldest(); p != nil; p = p.Next() {
				keys = append(keys, p.Key)
			}
			assert.Equal(t, []string{"name", "age"}, keys)
			assert.True(t, got.Matches(HashText("doc"), "layout-a", 3))

			require.NoError(t, s.Delete("doc"))
			_, err = s.Load("doc")
			assert.ErrorIs(t, err, ErrNotFound)
			assert.NoError(t, s.Delete("doc"), "deleting twice is not an error")
		})
	}
}

func TestStore_SaveOverwrites(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			c := New("h", "l", 2)
			require.NoError(t, s.Save("k", c))
			c.Advance(Entry{ChunkID: "chunk-000", Index: 0, Graph: graph.New()})
			require.NoError(t, s.Save("k", c))

			got, err := s.Load("k")
			require.NoError(t, err)
			assert.Equal(t, 0, got.LastCompletedIndex)
		})
	}
}

func TestCheckpoint_Matches(t *testing.T) {
	c := sample()
	assert.True(t, c.Matches(HashText("doc"), "layout-a", 3))
	assert.False(t, c.Matches(HashText("other"), "layout-a", 3))
	assert.False(t, c.Matches(HashText("doc"), "layout-a", 4))
	assert.False(t, c.Matches(HashText("doc"), "layout-b", 3), "same count, other boundaries")

	var nilCP *Checkpoint
	assert.False(t, nilCP.Matches("", "", 0))

	c.ChunkGraphs = c.ChunkGraphs[:1]
	assert.False(t, c.Matches(HashText("doc"), "layout-a", 3), "entries must cover 0..LastCompletedIndex")
}

func TestStore_Keys(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			keys, err := s.Keys()
			require.NoError(t, err)
			assert.Empty(t, keys)

			require.NoError(t, s.Save("b", New("h", "l", 1)))
			require.NoError(t, s.Save("a", New("h", "l", 1)))
			keys, err = s.Keys()
			require.NoError(t, err)
			assert.Equal(t, []string{"a", "b"}, keys)

			require.NoError(t, s.Delete("a"))
			keys, err = s.Keys()
			require.NoError(t, err)
			assert.Equal(t, []string{"b"}, keys)
		})
	}
}
