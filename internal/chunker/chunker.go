package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"

	"github.com/dgallion1/docgraph/internal/doctree"
)

// Level is the granularity a document is chunked at.
type Level string

const (
	LevelDocument Level = "document"
	LevelChapter  Level = "chapter"
	LevelSection  Level = "section"
)

// ParseLevel accepts "", document, chapter or section ("" means auto).
func ParseLevel(s string) (Level, error) {
	switch Level(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return "", nil
	case LevelDocument:
		return LevelDocument, nil
	case LevelChapter:
		return LevelChapter, nil
	case LevelSection:
		return LevelSection, nil
	}
	return "", fmt.Errorf("unknown chunk level %q", s)
}

// BoundaryRule records why a group has the extent it has.
type BoundaryRule string

const (
	RuleDocument         BoundaryRule = "document_boundary"
	RuleChapter          BoundaryRule = "chapter_boundary"
	RuleTokenMerge       BoundaryRule = "token_based_merge"
	RuleChapterCorrected BoundaryRule = "chapter_boundary_corrected"
)

// DefaultMaxChunkTokens is the per-chunk budget used when none is configured.
const DefaultMaxChunkTokens = 3000

// Thresholds are document sizes in characters that drive level selection.
type Thresholds struct {
	Small      int // below: one chunk for the whole document
	Large      int // at or above: decide between chapter and section by chapter size
	AvgChapter int // average chapter size above which large docs chunk by section
}

// DefaultThresholds returns the standard size thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{Small: 8000, Large: 50000, AvgChapter: 15000}
}

// Config controls chunking behavior.
type Config struct {
	Thresholds     Thresholds
	MaxChunkTokens int
	ForceLevel     Level // skip level selection when set
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Thresholds:     DefaultThresholds(),
		MaxChunkTokens: DefaultMaxChunkTokens,
	}
}

// Group is a chunk: an ordered set of tree nodes extracted together.
// Nodes are references into the tree; the tree keeps ownership.
type Group struct {
	ID             string       `json:"id"`
	Index          int          `json:"index"`
	Level          Level        `json:"level"`
	Nodes          []doctree.ID `json:"nodes"`
	ParentContext  string       `json:"parent_context,omitempty"`
	Preface        string       `json:"preface,omitempty"`
	OwnContentOnly bool         `json:"own_content_only,omitempty"`
	BoundaryRule   BoundaryRule `json:"boundary_rule"`
}

// Text renders the group's source text.
func (g Group) Text(tree *doctree.Tree) string {
	parts := make([]string, 0, len(g.Nodes)+1)
	if g.Preface != "" {
		parts = append(parts, g.Preface)
	}
	for _, id := range g.Nodes {
		var s string
		if g.OwnContentOnly {
			s = tree.OwnText(id)
		} else {
			s = tree.FullText(id)
		}
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n\n")
}

// Tokens estimates the group's size.
func (g Group) Tokens(tree *doctree.Tree) int {
	return EstimateTokens(g.Text(tree))
}

// NodeNumbers lists the numbers of the group's nodes ("" for the root).
func (g Group) NodeNumbers(tree *doctree.Tree) []string {
	out := make([]string, len(g.Nodes))
	for i, id := range g.Nodes {
		out[i] = tree.Node(id).Number
	}
	return out
}

// Chunk picks a level (unless forced) and partitions the tree.
func Chunk(tree *doctree.Tree, docSize int, cfg Config) (Level, []Group) {
	level := cfg.ForceLevel
	if level == "" {
		level = DetermineLevel(docSize, tree, cfg.Thresholds)
	}
	return level, CreateChunks(tree, level, cfg.MaxChunkTokens)
}

// Fingerprint identifies a chunking result: the level and, per group, the
// nodes it covers and how it renders them. Two runs with equal fingerprints
// cut the document the same way.
func Fingerprint(level Level, groups []Group) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\n", level)
	for _, g := range groups {
		fmt.Fprintf(h, "%s|%s|%v|%t|%t\n", g.Level, g.BoundaryRule, g.Nodes, g.Preface != "", g.OwnContentOnly)
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// DetermineLevel chooses the chunking granularity from document size and structure.
func DetermineLevel(docSize int, tree *doctree.Tree, th Thresholds) Level {
	if th == (Thresholds{}) {
		th = DefaultThresholds()
	}
	chapters := tree.Count(doctree.TypeChapter)
	sections := tree.Count(doctree.TypeSection)

	switch {
	case docSize < th.Small:
		return LevelDocument
	case docSize < th.Large:
		if chapters >= 2 {
			return LevelChapter
		}
		if sections >= 3 {
			return LevelSection
		}
		return LevelDocument
	}

	if chapters == 0 {
		if sections > 0 {
			return LevelSection
		}
		return LevelDocument
	}
	total := 0
	for _, ch := range tree.Chapters() {
		total += tree.Size(ch.ID)
	}
	if total/chapters > th.AvgChapter {
		return LevelSection
	}
	return LevelChapter
}

// CreateChunks partitions the tree at the given level. Groups never cross a
// chapter boundary; section-level groups pack whole sections up to maxTokens.
func CreateChunks(tree *doctree.Tree, level Level, maxTokens int) []Group {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxChunkTokens
	}

	var groups []Group
	switch level {
	case LevelChapter, LevelSection:
		if tree.Root().Content != "" {
			groups = append(groups, Group{
				Level:          LevelDocument,
				Nodes:          []doctree.ID{0},
				OwnContentOnly: true,
				BoundaryRule:   RuleDocument,
			})
		}
		for _, ch := range tree.Chapters() {
			sections := tree.ChildrenOfType(ch.ID, doctree.TypeSection)
			if level == LevelChapter || len(sections) == 0 {
				groups = append(groups, Group{
					Level:        LevelChapter,
					Nodes:        []doctree.ID{ch.ID},
					BoundaryRule: RuleChapter,
				})
				continue
			}
			groups = append(groups, mergeSections(tree, ch, sections, maxTokens)...)
		}
	default:
		groups = append(groups, Group{
			Level:        LevelDocument,
			Nodes:        []doctree.ID{0},
			BoundaryRule: RuleDocument,
		})
	}

	groups = validateBoundaries(tree, groups)
	for i := range groups {
		groups[i].Index = i
		groups[i].ID = fmt.Sprintf("chunk-%03d", i)
	}
	return groups
}

// mergeSections packs consecutive sections of one chapter. A group is closed
// when its rendered text with the next section would exceed the budget, so only
// a single oversized section can stand over it. The chapter's own text rides
// on the first group, or becomes a group of its own when it does not fit there.
func mergeSections(tree *doctree.Tree, ch *doctree.Node, sections []*doctree.Node, maxTokens int) []Group {
	context := tree.Heading(ch.ID)
	empty := Group{Level: LevelSection, ParentContext: context, BoundaryRule: RuleTokenMerge}
	with := func(g Group, id doctree.ID) Group {
		g.Nodes = append(slices.Clone(g.Nodes), id)
		return g
	}

	var groups []Group
	cur := empty
	cur.Preface = tree.OwnText(ch.ID)
	for _, sec := range sections {
		next := with(cur, sec.ID)
		if next.Tokens(tree) > maxTokens {
			switch {
			case len(cur.Nodes) > 0:
				groups = append(groups, cur)
				next = with(empty, sec.ID)
			case cur.Preface != "":
				groups = append(groups, Group{
					Level:          LevelChapter,
					Nodes:          []doctree.ID{ch.ID},
					ParentContext:  context,
					OwnContentOnly: true,
					BoundaryRule:   RuleChapter,
				})
				next = with(empty, sec.ID)
			}
		}
		cur = next
	}
	if len(cur.Nodes) > 0 {
		groups = append(groups, cur)
	}
	return groups
}

// validateBoundaries splits any non-merged group whose nodes span more than one
// root chapter into one corrected group per chapter.
func validateBoundaries(tree *doctree.Tree, groups []Group) []Group {
	out := make([]Group, 0, len(groups))
	for _, g := range groups {
		if g.BoundaryRule == RuleTokenMerge {
			out = append(out, g)
			continue
		}
		var order []string
		byChapter := make(map[string][]doctree.ID)
		for _, id := range g.Nodes {
			num := tree.RootChapterNumber(id)
			if _, ok := byChapter[num]; !ok {
				order = append(order, num)
			}
			byChapter[num] = append(byChapter[num], id)
		}
		if len(order) <= 1 {
			out = append(out, g)
			continue
		}
		for _, num := range order {
			split := g
			split.Nodes = byChapter[num]
			split.BoundaryRule = RuleChapterCorrected
			out = append(out, split)
		}
	}
	return out
}
