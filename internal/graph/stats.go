package graph

// Stats summarizes a graph.
type Stats struct {
	Entities      int            `json:"entities"`
	Relationships int            `json:"relationships"`
	Placeholders  int            `json:"placeholders"`
	EntityTypes   map[string]int `json:"entity_types"`
	RelationTypes map[string]int `json:"relation_types"`
}

// ComputeStats counts nodes and edges and builds per-type histograms.
func ComputeStats(g Graph) Stats {
	st := Stats{
		Entities:      len(g.Nodes),
		Relationships: len(g.Edges),
		EntityTypes:   make(map[string]int),
		RelationTypes: make(map[string]int),
	}
	for _, n := range g.Nodes {
		st.EntityTypes[n.Type]++
		if n.Type == PlaceholderType {
			if v, ok := n.Properties.Get("placeholder"); ok && v == true {
				st.Placeholders++
			}
		}
	}
	for _, e := range g.Edges {
		st.RelationTypes[e.Type]++
	}
	return st
}
