// Package graph holds the knowledge-graph model and merges per-chunk graphs.
package graph

import (
	"fmt"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Properties is an ordered key/value bag; key order follows the source.
type Properties = orderedmap.OrderedMap[string, any]

// NewProperties returns an empty property bag.
func NewProperties() *Properties {
	return orderedmap.New[string, any]()
}

// PropertiesOf builds a bag from alternating key/value pairs.
func PropertiesOf(kv ...any) *Properties {
	p := NewProperties()
	for i := 0; i+1 < len(kv); i += 2 {
		p.Set(fmt.Sprint(kv[i]), kv[i+1])
	}
	return p
}

// Entity is a typed node. Before merging, IDs are chunk-local.
type Entity struct {
	ID         string      `json:"id"`
	Type       string      `json:"type"`
	Properties *Properties `json:"properties"`
}

// Name returns the entity's name property.
func (e Entity) Name() string {
	return propString(e.Properties, "name")
}

// Relationship is a typed, directed edge between two entity ids.
type Relationship struct {
	ID         string      `json:"id,omitempty"`
	Type       string      `json:"type"`
	Source     string      `json:"source"`
	Target     string      `json:"target"`
	Properties *Properties `json:"properties,omitempty"`
}

// Graph is a set of entities and relationships.
type Graph struct {
	Nodes []Entity       `json:"nodes"`
	Edges []Relationship `json:"edges"`
}

// New returns an empty graph with non-nil slices.
func New() Graph {
	return Graph{Nodes: []Entity{}, Edges: []Relationship{}}
}

// Empty reports whether the graph has no nodes and no edges.
func (g Graph) Empty() bool {
	return len(g.Nodes) == 0 && len(g.Edges) == 0
}

func propString(p *Properties, key string) string {
	if p == nil {
		return ""
	}
	v, ok := p.Get(key)
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// TypeKey normalizes a type name for comparison.
func TypeKey(t string) string {
	return strings.ToLower(strings.TrimSpace(t))
}
