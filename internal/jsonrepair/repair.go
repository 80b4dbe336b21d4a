// Package jsonrepair recovers graph JSON from imperfect model output.
//
// Repair runs a fixed chain of string-to-string stages; the result is parsed
// once at the end. Output the stages cannot fix (single quotes, bare keys,
// Python literals) goes through kaptinlin/jsonrepair before giving up. Parse
// never panics and returns an empty graph when nothing can be recovered.
package jsonrepair

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	jsonfix "github.com/kaptinlin/jsonrepair"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/dgallion1/docgraph/internal/graph"
)

// ErrNoPayload is returned by Decode when the text contains no JSON at all.
var ErrNoPayload = errors.New("no json payload")

// Repair applies every stage in order.
func Repair(raw string) string {
	s := raw
	for _, st := range stages {
		s = st.fn(s)
	}
	return strings.TrimSpace(s)
}

// Parse repairs raw and decodes it into a graph. Any failure yields an empty graph.
func Parse(raw string) graph.Graph {
	g, err := Decode(raw)
	if err != nil {
		return graph.New()
	}
	return g
}

// Decode repairs raw and decodes it, reporting why decoding failed.
func Decode(raw string) (g graph.Graph, err error) {
	defer func() {
		if r := recover(); r != nil {
			g, err = graph.New(), fmt.Errorf("decode graph: %v", r)
		}
	}()

	fixed := Repair(raw)
	if fixed == "" || (fixed[0] != '{' && fixed[0] != '[') {
		return graph.New(), ErrNoPayload
	}
	g, err = decode(fixed)
	if err == nil {
		return g, nil
	}
	for _, candidate := range []string{fixed, extractPayload(raw)} {
		repaired, rerr := jsonfix.JSONRepair(candidate)
		if rerr != nil {
			continue
		}
		if rg, derr := decode(strings.TrimSpace(repaired)); derr == nil {
			return rg, nil
		}
	}
	return graph.New(), err
}

func decode(fixed string) (graph.Graph, error) {
	g := graph.New()
	if strings.HasPrefix(fixed, "[") {
		var items []json.RawMessage
		if err := json.Unmarshal([]byte(fixed), &items); err != nil {
			return graph.New(), fmt.Errorf("decode graph: %w", err)
		}
		addItems(&g, items, false)
		return g, nil
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal([]byte(fixed), &top); err != nil {
		return graph.New(), fmt.Errorf("decode graph: %w", err)
	}
	decodeObject(&g, top, 0)
	return g, nil
}

var (
	nodeKeys    = []string{"entities", "nodes"}
	edgeKeys    = []string{"relationships", "edges", "relations"}
	wrapperKeys = []string{"graph", "data", "result", "knowledge_graph"}
)

func decodeObject(g *graph.Graph, top map[string]json.RawMessage, depth int) {
	found := false
	for k, v := range top {
		key := strings.ToLower(k)
		var items []json.RawMessage
		switch {
		case contains(nodeKeys, key):
			if json.Unmarshal(v, &items) == nil {
				addItems(g, items, false)
				found = true
			}
		case contains(edgeKeys, key):
			if json.Unmarshal(v, &items) == nil {
				addItems(g, items, true)
				found = true
			}
		}
	}
	if found || depth > 2 {
		return
	}
	for k, v := range top {
		if !contains(wrapperKeys, strings.ToLower(k)) {
			continue
		}
		var inner map[string]json.RawMessage
		if json.Unmarshal(v, &inner) == nil {
			decodeObject(g, inner, depth+1)
			return
		}
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

type item = orderedmap.OrderedMap[string, json.RawMessage]

// addItems decodes array elements. Elements that carry both endpoints and no
// name are treated as edges even inside an entity list.
func addItems(g *graph.Graph, raws []json.RawMessage, edges bool) {
	for _, raw := range raws {
		it := orderedmap.New[string, json.RawMessage]()
		if err := json.Unmarshal(raw, it); err != nil {
			continue
		}
		if edges || looksLikeEdge(it) {
			if e, ok := toRelationship(it); ok {
				g.Edges = append(g.Edges, e)
			}
			continue
		}
		g.Nodes = append(g.Nodes, toEntity(it))
	}
}

var (
	idKeys     = []string{"id", "entity_id", "node_id"}
	typeKeys   = []string{"type", "label", "entity_type", "category"}
	sourceKeys = []string{"source", "from", "source_id", "head", "subject"}
	targetKeys = []string{"target", "to", "target_id", "tail", "object"}
	relKeys    = []string{"type", "relation", "relation_type", "relationship", "label", "predicate"}
)

func looksLikeEdge(it *item) bool {
	_, hasName := it.Get("name")
	return !hasName && first(it, sourceKeys) != "" && first(it, targetKeys) != ""
}

func toEntity(it *item) graph.Entity {
	e := graph.Entity{
		ID:         first(it, idKeys),
		Type:       first(it, typeKeys),
		Properties: properties(it),
	}
	hoist(it, e.Properties, idKeys, typeKeys)
	if _, ok := e.Properties.Get("name"); !ok {
		for _, alt := range []string{"title", "label", "text"} {
			if v, ok := e.Properties.Get(alt); ok {
				e.Properties.Set("name", v)
				break
			}
		}
	}
	return e
}

func toRelationship(it *item) (graph.Relationship, bool) {
	r := graph.Relationship{
		Source:     first(it, sourceKeys),
		Target:     first(it, targetKeys),
		Type:       first(it, relKeys),
		ID:         first(it, []string{"id"}),
		Properties: properties(it),
	}
	if r.Source == "" || r.Target == "" {
		return r, false
	}
	hoist(it, r.Properties, []string{"id"}, sourceKeys, targetKeys, relKeys)
	return r, true
}

// properties decodes the "properties" object, keeping key order.
func properties(it *item) *graph.Properties {
	p := graph.NewProperties()
	raw, ok := it.Get("properties")
	if !ok {
		return p
	}
	decoded := orderedmap.New[string, any]()
	if err := json.Unmarshal(raw, decoded); err == nil {
		for pair := decoded.Oldest(); pair != nil; pair = pair.Next() {
			p.Set(pair.Key, pair.Value)
		}
		return p
	}
	var s string
	if json.Unmarshal(raw, &s) == nil && s != "" {
		p.Set("description", s)
	}
	return p
}

// hoist moves fields written beside "properties" into it. Keys consumed as
// structural fields are skipped; existing property values win.
func hoist(it *item, p *graph.Properties, structural ...[]string) {
	for pair := it.Oldest(); pair != nil; pair = pair.Next() {
		k := pair.Key
		if k == "properties" {
			continue
		}
		skip := false
		for _, keys := range structural {
			if contains(keys, k) {
				skip = true
				break
			}
		}
		if skip {
			continue
		}
		if _, exists := p.Get(k); exists {
			continue
		}
		var v any
		if json.Unmarshal(pair.Value, &v) == nil {
			p.Set(k, v)
		}
	}
}

// first returns the first key present with a scalar value, as a string.
func first(it *item, keys []string) string {
	for _, k := range keys {
		raw, ok := it.Get(k)
		if !ok {
			continue
		}
		if s := scalar(raw); s != "" {
			return s
		}
	}
	return ""
}

func scalar(raw json.RawMessage) string {
	var v any
	if json.Unmarshal(raw, &v) != nil {
		return ""
	}
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	}
	return ""
}
