package extract

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/dgallion1/docgraph/internal/graph"
)

// MaxNameLen bounds entity names in runes.
const MaxNameLen = 200

var injectionPattern = regexp.MustCompile(
	`(?i)(ignore\s+(previous|all|above)|system\s*prompt|you\s+are\s+now|` +
		`act\s+as\s+|pretend\s+|forget\s+(everything|all)|override|` +
		`new\s+instructions)`,
)

// ValidateEntity checks one entity, trimming its name in place.
func ValidateEntity(e *graph.Entity) bool {
	if e == nil || e.Properties == nil {
		return false
	}
	name := strings.TrimSpace(e.Name())
	n := utf8.RuneCountInString(name)
	if n == 0 || n > MaxNameLen {
		return false
	}
	if injectionPattern.MatchString(name) {
		return false
	}
	e.Properties.Set("name", name)
	e.Type = strings.TrimSpace(e.Type)
	return true
}

// ValidateEntities drops invalid entities and makes local ids unique. An entity
// with a missing or repeated id gets the next free "nN" id. It returns the kept
// entities and the number rejected.
func ValidateEntities(in []graph.Entity) ([]graph.Entity, int) {
	out := make([]graph.Entity, 0, len(in))
	seen := make(map[string]bool, len(in))
	rejected := 0
	for i := range in {
		e := in[i]
		if !ValidateEntity(&e) {
			rejected++
			continue
		}
		e.ID = strings.TrimSpace(e.ID)
		if e.ID != "" && !seen[e.ID] {
			seen[e.ID] = true
			out = append(out, e)
			continue
		}
		for k := len(out) + 1; ; k++ {
			id := "n" + strconv.Itoa(k)
			if !seen[id] {
				e.ID = id
				seen[id] = true
				break
			}
		}
		out = append(out, e)
	}
	return out, rejected
}

// ResolveEndpoints maps relationship endpoints onto phase-1 ids. An endpoint
// may be an id, an id with a chunk prefix, or an entity name. Unknown
// endpoints are left as given. Edges with an empty endpoint or an injected
// type are dropped.
func ResolveEndpoints(entities []graph.Entity, edges []graph.Relationship) []graph.Relationship {
	ids := make(map[string]bool, len(entities))
	byName := make(map[string]string, len(entities))
	for _, e := range entities {
		ids[e.ID] = true
		key := graph.NormalizeName(e.Name())
		if _, dup := byName[key]; !dup {
			byName[key] = e.ID
		}
	}
	resolve := func(ref string) string {
		ref = strings.TrimSpace(ref)
		if ids[ref] {
			return ref
		}
		if s := graph.StripChunkPrefix(ref); ids[s] {
			return s
		}
		if id, ok := byName[graph.NormalizeName(ref)]; ok {
			return id
		}
		return ref
	}

	out := make([]graph.Relationship, 0, len(edges))
	for _, r := range edges {
		r.Source = resolve(r.Source)
		r.Target = resolve(r.Target)
		if r.Source == "" || r.Target == "" || injectionPattern.MatchString(r.Type) {
			continue
		}
		out = append(out, r)
	}
	return out
}
