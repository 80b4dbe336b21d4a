package extract

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dgallion1/docgraph/internal/graph"
	"github.com/dgallion1/docgraph/internal/schema"
)

// Level controls how exhaustive entity extraction is.
type Level string

const (
	LevelBrief    Level = "brief"
	LevelStandard Level = "standard"
	LevelDeep     Level = "deep"
)

// ParseLevel accepts brief, standard or deep; empty means standard.
func ParseLevel(s string) (Level, error) {
	switch Level(strings.ToLower(strings.TrimSpace(s))) {
	case "", LevelStandard:
		return LevelStandard, nil
	case LevelBrief:
		return LevelBrief, nil
	case LevelDeep:
		return LevelDeep, nil
	}
	return "", fmt.Errorf("unknown extraction level %q", s)
}

var levelGuidance = map[Level]string{
	LevelBrief: `- Extract only the most important entities (at most 10).
- Properties: name and a one-line description only.`,
	LevelStandard: `- Extract every named entity that matters to the meaning of the text.
- Properties: name, description, and any attributes stated in the text.`,
	LevelDeep: `- Extract every entity, including minor ones, dates, amounts and defined terms.
- Properties: name, description, and every attribute stated or clearly implied.`,
}

const entityPrompt = `You are building a knowledge graph. Extract the entities from the text below.

Return ONLY a JSON object of this shape, with no other text:
{"entities": [{"id": "n1", "type": "<Type>", "properties": {"name": "<name>", "description": "<short description>"}}]}

Rules:
- ids are n1, n2, n3 ... in order of appearance and must be unique.
- "name" is required and must be the name used in the text.
- Use one entity per distinct thing; do not repeat an entity.
%s
`

const relationshipPrompt = `You are building a knowledge graph. The entities below were extracted from the text excerpt that follows.
List the relationships between them that the excerpt states or clearly implies.

Return ONLY a JSON object of this shape, with no other text:
{"relationships": [{"source": "n1", "target": "n2", "type": "<TYPE>", "properties": {"description": "<short description>"}}]}

Rules:
- "source" and "target" MUST be ids from the entity list. Do not invent entities.
- Relationship types are UPPER_SNAKE_CASE verbs.
- Return {"relationships": []} if there are none.
`

// EntityPrompt builds the phase-1 prompt.
func EntityPrompt(d *schema.Domain, level Level, parentContext, text string) string {
	guidance, ok := levelGuidance[level]
	if !ok {
		guidance = levelGuidance[LevelStandard]
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, entityPrompt, guidance)
	if d != nil && len(d.EntityTypes) > 0 {
		sb.WriteString("\nAllowed entity types:\n")
		for _, et := range d.EntityTypes {
			if et.Description != "" {
				fmt.Fprintf(&sb, "- %s: %s\n", et.Name, et.Description)
			} else {
				fmt.Fprintf(&sb, "- %s\n", et.Name)
			}
		}
	}
	sb.WriteString("\n---\n")
	if parentContext != "" {
		fmt.Fprintf(&sb, "Context: %s\n---\n", parentContext)
	}
	sb.WriteString(text)
	return sb.String()
}

type entityRef struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Name string `json:"name"`
}

// RelationshipPrompt builds the phase-2 prompt. Only id, type and name of each
// entity are sent.
func RelationshipPrompt(d *schema.Domain, entities []graph.Entity, excerpt string) string {
	refs := make([]entityRef, 0, len(entities))
	for _, e := range entities {
		refs = append(refs, entityRef{ID: e.ID, Type: e.Type, Name: e.Name()})
	}
	list, _ := json.Marshal(refs)

	var sb strings.Builder
	sb.WriteString(relationshipPrompt)
	if d != nil && len(d.RelationTypes) > 0 {
		sb.WriteString("\nPreferred relationship types:\n")
		for _, rt := range d.RelationTypes {
			if len(rt.Source) > 0 && len(rt.Target) > 0 {
				fmt.Fprintf(&sb, "- %s (%s -> %s)\n", rt.Name, strings.Join(rt.Source, "|"), strings.Join(rt.Target, "|"))
			} else {
				fmt.Fprintf(&sb, "- %s\n", rt.Name)
			}
		}
	}
	sb.WriteString("\nEntities:\n")
	sb.Write(list)
	sb.WriteString("\n---\n")
	sb.WriteString(excerpt)
	return sb.String()
}

// Excerpt returns at most n runes of text, cut at the last line or sentence
// break when one falls in the final fifth.
func Excerpt(text string, n int) string {
	r := []rune(text)
	if n <= 0 || len(r) <= n {
		return text
	}
	cut := string(r[:n])
	if i := strings.LastIndexAny(cut, "\n."); i >= len(cut)*4/5 {
		return cut[:i+1]
	}
	return cut
}
