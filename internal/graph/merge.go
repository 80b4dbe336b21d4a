package graph

import (
	"log/slog"
	"strconv"

	"github.com/google/uuid"
)

const (
	// PlaceholderType is the type of nodes synthesized for unresolved edge endpoints.
	PlaceholderType = "Unknown"
	// DefaultEntityType is used when a model returns an entity without a type.
	DefaultEntityType = "Entity"
	// DefaultRelationType is used when no type is given and none can be inferred.
	DefaultRelationType = "RELATED_TO"
)

// ChunkGraph is one chunk's extraction result, still using chunk-local ids.
type ChunkGraph struct {
	ChunkID string
	Graph   Graph
}

// Canonicalizer maps free-form type names onto a domain vocabulary.
// RelationType may infer a type from the endpoint types when rel is empty;
// it returns "" when it has no opinion.
type Canonicalizer interface {
	EntityType(t string) string
	RelationType(rel, sourceType, targetType string) string
}

// Merger combines per-chunk graphs into one deduplicated graph with global ids.
type Merger struct {
	Schema Canonicalizer // optional
	NewID  func() string // defaults to random UUIDs
	Log    *slog.Logger
}

// Merge runs the default merger without a schema.
func Merge(chunks []ChunkGraph) Graph {
	return (&Merger{}).Merge(chunks)
}

type mergeState struct {
	m      *Merger
	newID  func() string
	out    Graph
	byKey  map[string]string   // type key + normalized name -> global id
	byName map[string][]string // normalized name -> global ids across types
	types  map[string]string   // global id -> entity type
	local  []map[string]string // per chunk: local id -> global id
	places map[string]string   // chunk index + ref -> placeholder id
}

// Merge deduplicates nodes by (type, normalized name) and remaps every edge onto
// global ids. Nodes are resolved for all chunks before any edge, so the result
// does not depend on chunk order beyond which duplicate supplies the properties.
func (m *Merger) Merge(chunks []ChunkGraph) Graph {
	newID := m.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	s := &mergeState{
		m:      m,
		newID:  newID,
		out:    New(),
		byKey:  make(map[string]string),
		byName: make(map[string][]string),
		types:  make(map[string]string),
		local:  make([]map[string]string, len(chunks)),
		places: make(map[string]string),
	}

	for i, c := range chunks {
		s.local[i] = make(map[string]string)
		for _, n := range c.Graph.Nodes {
			s.addNode(i, n)
		}
	}

	unresolved := 0
	for i, c := range chunks {
		for _, e := range c.Graph.Edges {
			src, okS := s.resolve(i, e.Source)
			tgt, okT := s.resolve(i, e.Target)
			if !okS {
				unresolved++
			}
			if !okT {
				unresolved++
			}
			s.out.Edges = append(s.out.Edges, Relationship{
				ID:         s.newID(),
				Type:       s.relationType(e.Type, src, tgt),
				Source:     src,
				Target:     tgt,
				Properties: e.Properties,
			})
		}
	}

	if m.Log != nil {
		m.Log.Info("graph merged",
			"chunks", len(chunks),
			"nodes", len(s.out.Nodes),
			"edges", len(s.out.Edges),
			"unresolved_refs", unresolved,
		)
	}
	return s.out
}

func (s *mergeState) addNode(chunk int, n Entity) {
	typ := s.entityType(n.Type)
	name := NormalizeName(n.Name())
	if name == "" {
		name = NormalizeName(n.ID)
	}
	key := TypeKey(typ) + "\x00" + name

	id, ok := s.byKey[key]
	if !ok {
		id = s.newID()
		s.byKey[key] = id
		s.byName[name] = append(s.byName[name], id)
		s.types[id] = typ
		props := n.Properties
		if props == nil {
			props = PropertiesOf("name", n.ID)
		}
		s.out.Nodes = append(s.out.Nodes, Entity{ID: id, Type: typ, Properties: props})
	}

	localID := StripChunkPrefix(n.ID)
	if _, seen := s.local[chunk][localID]; !seen && localID != "" {
		s.local[chunk][localID] = id
	}
}

// resolve maps a chunk-local reference to a global id. It falls back to a
// unique name match across the whole graph, then to a placeholder node.
func (s *mergeState) resolve(chunk int, ref string) (string, bool) {
	ref = StripChunkPrefix(ref)
	if id, ok := s.local[chunk][ref]; ok {
		return id, true
	}
	if ids := s.byName[NormalizeName(ref)]; len(ids) == 1 {
		return ids[0], true
	}

	key := strconv.Itoa(chunk) + "\x00" + ref
	if id, ok := s.places[key]; ok {
		return id, false
	}
	id := s.newID()
	s.places[key] = id
	s.types[id] = PlaceholderType
	s.out.Nodes = append(s.out.Nodes, Entity{
		ID:         id,
		Type:       PlaceholderType,
		Properties: PropertiesOf("name", ref, "placeholder", true),
	})
	return id, false
}

func (s *mergeState) entityType(t string) string {
	if s.m.Schema != nil {
		if c := s.m.Schema.EntityType(t); c != "" {
			return c
		}
	}
	if t == "" {
		return DefaultEntityType
	}
	return t
}

func (s *mergeState) relationType(rel, src, tgt string) string {
	if s.m.Schema != nil {
		if c := s.m.Schema.RelationType(rel, s.types[src], s.types[tgt]); c != "" {
			return c
		}
	}
	if k := RelationTypeKey(rel); k != "" {
		return k
	}
	return DefaultRelationType
}
