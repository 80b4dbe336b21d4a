package pathstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dgallion1/docgraph/internal/graph"
)

const source = "docgraph"

// Document describes the source of a published graph.
type Document struct {
	ID          string `json:"doc_id"`
	Filename    string `json:"filename"`
	Title       string `json:"title"`
	ContentHash string `json:"content_hash"`
	Domain      string `json:"domain"`
}

// PublishResult counts what was written.
type PublishResult struct {
	Nodes       int      `json:"nodes"`
	Links       int      `json:"links"`
	Failed      int      `json:"failed"`
	Errors      []string `json:"errors,omitempty"`
	DocumentKey string   `json:"document_key"`
}

// Publisher writes graphs under prefix/documents/{doc_id}. Entities become
// nodes at .../entities/{type}/{name}; relationships become links.
type Publisher struct {
	client      *Client
	prefix      string
	concurrency int
	log         *slog.Logger
}

func NewPublisher(client *Client, prefix string, concurrency int, log *slog.Logger) *Publisher {
	if concurrency < 1 {
		concurrency = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return &Publisher{client: client, prefix: prefix, concurrency: concurrency, log: log}
}

func (p *Publisher) documentKey(docID string) string {
	return fmt.Sprintf("%s/documents/%s", p.prefix, docID)
}

func (p *Publisher) hashKey(hash string) string {
	return fmt.Sprintf("%s/documents/by_hash/%s", p.prefix, hash)
}

// EntityKeys assigns each entity a unique path under docKey.
func EntityKeys(docKey string, g graph.Graph) map[string]string {
	keys := make(map[string]string, len(g.Nodes))
	used := make(map[string]bool, len(g.Nodes))
	for _, n := range g.Nodes {
		typ := graph.Slugify(n.Type)
		if typ == "" {
			typ = "entity"
		}
		name := graph.Slugify(n.Name())
		if name == "" {
			name = graph.Slugify(n.ID)
		}
		key := fmt.Sprintf("%s/entities/%s/%s", docKey, typ, name)
		if used[key] {
			key = fmt.Sprintf("%s-%s", key, graph.Slugify(n.ID))
		}
		used[key] = true
		keys[n.ID] = key
	}
	return keys
}

// Publish writes the graph, then the document metadata and hash index.
// Individual node or link failures are counted and do not stop the rest.
func (p *Publisher) Publish(ctx context.Context, doc Document, g graph.Graph) (*PublishResult, error) {
	docKey := p.documentKey(doc.ID)
	keys := EntityKeys(docKey, g)
	res := &PublishResult{DocumentKey: docKey}
	log := p.log.With("doc_id", doc.ID)

	var mu sync.Mutex
	record := func(count *int, what string, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err == nil {
			*count++
			return
		}
		res.Failed++
		res.Errors = append(res.Errors, fmt.Sprintf("%s: %s", what, err))
		log.Warn("publish failed", "key", what, "error", err)
	}

	nodes, nctx := errgroup.WithContext(ctx)
	nodes.SetLimit(p.concurrency)
	for _, n := range g.Nodes {
		key := keys[n.ID]
		nodes.Go(func() error {
			err := p.client.PutNode(nctx, key, NodeRequest{
				Value: map[string]any{
					"id":         n.ID,
					"type":       n.Type,
					"name":       n.Name(),
					"properties": n.Properties,
				},
				MemoryType: "semantic",
				Salience:   0.5,
				Source:     source + ":" + doc.ID,
			})
			record(&res.Nodes, key, err)
			return nctx.Err()
		})
	}
	if err := nodes.Wait(); err != nil {
		return res, fmt.Errorf("publish nodes: %w", err)
	}

	links, lctx := errgroup.WithContext(ctx)
	links.SetLimit(p.concurrency)
	for _, e := range g.Edges {
		from, to := keys[e.Source], keys[e.Target]
		if from == "" || to == "" {
			record(&res.Links, e.ID, fmt.Errorf("edge endpoint %s -> %s not in graph", e.Source, e.Target))
			continue
		}
		links.Go(func() error {
			err := p.client.PutLink(lctx, LinkRequest{From: from, To: to, Weight: 1, Summary: e.Type})
			record(&res.Links, from+" -> "+to, err)
			return lctx.Err()
		})
	}
	if err := links.Wait(); err != nil {
		return res, fmt.Errorf("publish links: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	err := p.client.PutNode(ctx, docKey+"/meta", NodeRequest{
		Value: map[string]any{
			"filename":      doc.Filename,
			"title":         doc.Title,
			"content_hash":  doc.ContentHash,
			"domain":        doc.Domain,
			"entities":      res.Nodes,
			"relationships": res.Links,
			"published_at":  now,
		},
		MemoryType: "metacognitive",
		Salience:   0.5,
		Source:     source + ":" + doc.ID,
	})
	if err != nil {
		return res, fmt.Errorf("write document meta: %w", err)
	}

	if doc.ContentHash != "" {
		err := p.client.PutNode(ctx, p.hashKey(doc.ContentHash)+"/"+doc.ID, NodeRequest{
			Value:      map[string]any{"filename": doc.Filename, "published_at": now},
			MemoryType: "metacognitive",
			Salience:   0.1,
			Source:     source + ":" + doc.ID,
		})
		if err != nil {
			log.Error("hash index write failed", "error", err)
		}
	}

	log.Info("graph published", "nodes", res.Nodes, "links", res.Links, "failed", res.Failed)
	return res, nil
}

// FindByHash returns the id of a published document with the given content hash.
func (p *Publisher) FindByHash(ctx context.Context, hash string) (string, bool, error) {
	children, err := p.client.ListChildren(ctx, p.hashKey(hash), 1)
	if errors.Is(err, ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if len(children) == 0 {
		return "", false, nil
	}
	return lastSegment(children[0].Key), true, nil
}

// Documents lists the metadata of published documents.
func (p *Publisher) Documents(ctx context.Context, limit int) ([]Node, error) {
	children, err := p.client.ListChildren(ctx, p.prefix+"/documents", limit)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	var docs []Node
	for _, c := range children {
		if lastSegment(c.Key) == "meta" {
			docs = append(docs, c)
		}
	}
	return docs, nil
}

// Delete removes a published document, its graph and its hash index entry.
func (p *Publisher) Delete(ctx context.Context, docID string) error {
	docKey := p.documentKey(docID)
	meta, err := p.client.GetNode(ctx, docKey+"/meta")
	if err != nil {
		return fmt.Errorf("read document meta: %w", err)
	}
	if err := p.client.DeleteNode(ctx, docKey, true); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if m, ok := meta.Value.(map[string]any); ok {
		if hash, _ := m["content_hash"].(string); hash != "" {
			if err := p.client.DeleteNode(ctx, p.hashKey(hash)+"/"+docID, false); err != nil {
				p.log.Warn("hash index delete failed", "doc_id", docID, "error", err)
			}
		}
	}
	return nil
}

// lastSegment returns the final element of a key in either / or . notation.
func lastSegment(key string) string {
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == '/' || key[i] == '.' {
			return key[i+1:]
		}
	}
	return key
}
