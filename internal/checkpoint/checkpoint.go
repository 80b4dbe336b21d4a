// Package checkpoint persists extraction progress so a run can resume after
// a crash or a deliberate stop.
package checkpoint

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/dgallion1/docgraph/internal/graph"
	"github.com/dgallion1/docgraph/internal/llm"
)

// ErrNotFound is returned by Load when no checkpoint exists for a key.
var ErrNotFound = errors.New("checkpoint not found")

// Entry is the recorded outcome of one chunk attempt. Error is set for a
// failed chunk, whose Graph is then empty.
type Entry struct {
	ChunkID     string      `json:"chunk_id"`
	Index       int         `json:"index"`
	Level       string      `json:"level"`
	SourceNodes []string    `json:"source_nodes"`
	Graph       graph.Graph `json:"graph"`
	Error       string      `json:"error,omitempty"`
	Usage       llm.Usage   `json:"usage"`
}

// Failed reports whether the chunk was recorded as an error.
func (e Entry) Failed() bool { return e.Error != "" }

// Checkpoint is the durable progress of one document run. ChunkGraphs holds
// entries 0..LastCompletedIndex in index order. Layout fingerprints the chunk
// boundaries the entries were extracted from.
type Checkpoint struct {
	DocumentHash       string    `json:"document_hash"`
	Layout             string    `json:"layout"`
	TotalChunks        int       `json:"total_chunks"`
	LastCompletedIndex int       `json:"last_completed_index"`
	ChunkGraphs        []Entry   `json:"chunk_graphs"`
	Timestamp          time.Time `json:"timestamp"`
}

// New returns an empty checkpoint for a document split into total chunks.
func New(documentHash, layout string, total int) *Checkpoint {
	return &Checkpoint{
		DocumentHash:       documentHash,
		Layout:             layout,
		TotalChunks:        total,
		LastCompletedIndex: -1,
		ChunkGraphs:        []Entry{},
	}
}

// Matches reports whether c was written for the same document and chunking.
func (c *Checkpoint) Matches(documentHash, layout string, total int) bool {
	return c != nil && c.DocumentHash == documentHash && c.Layout == layout && c.TotalChunks == total &&
		c.LastCompletedIndex < total && len(c.ChunkGraphs) == c.LastCompletedIndex+1
}

// Advance appends e, which must be the entry at LastCompletedIndex+1.
func (c *Checkpoint) Advance(e Entry) {
	c.ChunkGraphs = append(c.ChunkGraphs, e)
	c.LastCompletedIndex = e.Index
}

// Store persists checkpoints by key. Implementations are safe for concurrent use.
type Store interface {
	Load(key string) (*Checkpoint, error)
	Save(key string, c *Checkpoint) error
	Delete(key string) error
	Keys() ([]string, error)
}

// HashText returns the hex SHA-256 of text, used as DocumentHash and as a
// default store key.
func HashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
