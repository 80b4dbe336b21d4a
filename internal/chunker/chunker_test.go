package chunker

import (
	"fmt"
	"strings"
	"testing"

	"github.com/dgallion1/docgraph/internal/doctree"
	"github.com/dgallion1/docgraph/internal/structure"
)

// body returns a paragraph of roughly n runes that never looks like a heading.
func body(n int) string {
	return strings.Repeat("lorem ", n/6)
}

func buildDoc(chapters, sectionsPer, bodyRunes int) string {
	var b strings.Builder
	for c := 1; c <= chapters; c++ {
		fmt.Fprintf(&b, "# Chapter %c\n", 'A'+c-1)
		if sectionsPer == 0 {
			b.WriteString(body(bodyRunes) + "\n")
		}
		for s := 1; s <= sectionsPer; s++ {
			fmt.Fprintf(&b, "## Sec %d\n%s\n", s, body(bodyRunes))
		}
	}
	return b.String()
}

func TestDetermineLevel(t *testing.T) {
	tests := []struct {
		name string
		text string
		want Level
	}{
		{"small document", buildDoc(3, 2, 500), LevelDocument},
		{"medium with chapters", buildDoc(2, 0, 6000), LevelChapter},
		{"medium with sections only", buildDoc(1, 4, 3000), LevelSection},
		{"medium without structure", body(20000), LevelDocument},
		{"large with big chapters", buildDoc(3, 2, 10000), LevelSection},
		{"large with small chapters", buildDoc(10, 0, 6000), LevelChapter},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tree := structure.Analyze(tt.text)
			got := DetermineLevel(len(tt.text), tree, DefaultThresholds())
			if got != tt.want {
				t.Errorf("DetermineLevel = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCreateChunks_DocumentLevel(t *testing.T) {
	tree := structure.Analyze(buildDoc(2, 2, 300))
	groups := CreateChunks(tree, LevelDocument, 1000)

	if len(groups) != 1 {
		t.Fatalf("expected 1 group, got %d", len(groups))
	}
	if groups[0].BoundaryRule != RuleDocument {
		t.Errorf("expected %q, got %q", RuleDocument, groups[0].BoundaryRule)
	}
	if groups[0].ID != "chunk-000" {
		t.Errorf("expected id chunk-000, got %q", groups[0].ID)
	}
}

func TestCreateChunks_SectionMergeRespectsBudget(t *testing.T) {
	tree := structure.Analyze(buildDoc(1, 5, 1600))
	groups := CreateChunks(tree, LevelSection, 1000)

	sizes := make([]int, len(groups))
	for i, g := range groups {
		sizes[i] = len(g.Nodes)
		if g.BoundaryRule != RuleTokenMerge {
			t.Errorf("group %d: expected token merge, got %q", i, g.BoundaryRule)
		}
		if len(g.Nodes) > 1 && g.Tokens(tree) > 1000 {
			t.Errorf("group %d: %d tokens over budget", i, g.Tokens(tree))
		}
		if g.ParentContext != "1 Chapter A" {
			t.Errorf("group %d: parent context %q", i, g.ParentContext)
		}
	}
	if fmt.Sprint(sizes) != "[2 2 1]" {
		t.Errorf("expected group sizes [2 2 1], got %v", sizes)
	}
	if groups[0].Preface == "" || groups[1].Preface != "" {
		t.Errorf("chapter preface should ride on the first group only")
	}
}

func TestCreateChunks_OversizedSectionStandsAlone(t *testing.T) {
	tree := structure.Analyze(buildDoc(1, 2, 8000))
	groups := CreateChunks(tree, LevelSection, 500)

	if len(groups) != 3 {
		t.Fatalf("expected chapter text plus 2 sections, got %d", len(groups))
	}
	if !groups[0].OwnContentOnly || groups[0].Text(tree) != "1 Chapter A" {
		t.Errorf("expected the chapter's own text first, got %+v", groups[0])
	}
	for i, g := range groups[1:] {
		if len(g.Nodes) != 1 || g.Preface != "" {
			t.Errorf("group %d: expected a lone section, got %+v", i+1, g)
		}
	}
}

// withinBudget checks that every section-level group fits maxTokens unless it
// is exactly one section with nothing attached.
func withinBudget(t *testing.T, tree *doctree.Tree, groups []Group, maxTokens int) {
	t.Helper()
	for _, g := range groups {
		if g.Tokens(tree) <= maxTokens {
			continue
		}
		loneSection := len(g.Nodes) == 1 && g.Preface == "" && tree.Node(g.Nodes[0]).Type == doctree.TypeSection
		loneChapterText := len(g.Nodes) == 1 && g.OwnContentOnly
		if !loneSection && !loneChapterText {
			t.Errorf("%s: %d nodes render to %d tokens, budget %d", g.ID, len(g.Nodes), g.Tokens(tree), maxTokens)
		}
	}
}

func TestCreateChunks_LongPrefaceGetsItsOwnGroup(t *testing.T) {
	var b strings.Builder
	b.WriteString("# One
" + strings.Repeat("preface ", 35) + "
")
	for i := 1; i <= 12; i++ {
		fmt.Fprintf(&b, "## S%d
abcdefg
", i)
	}
	tree := structure.Analyze(b.String())
	groups := CreateChunks(tree, LevelSection, 40)

	withinBudget(t, tree, groups, 40)
	if !groups[0].OwnContentOnly || len(groups[0].Nodes) != 1 {
		t.Fatalf("expected the preface alone first, got %+v", groups[0])
	}
	sections := 0
	for _, g := range groups[1:] {
		if g.Preface != "" {
			t.Errorf("%s: preface repeated", g.ID)
		}
		sections += len(g.Nodes)
	}
	if sections != 12 {
		t.Errorf("expected 12 sections across groups, got %d", sections)
	}
}

func TestCreateChunks_RenderedSizeStaysInBudget(t *testing.T) {
	for _, tc := range []struct{ sections, runes, budget int }{
		{12, 7, 40},
		{20, 30, 25},
		{8, 120, 100},
		{5, 1600, 1000},
		{30, 60, 17},
	} {
		t.Run(fmt.Sprintf("%d-%d-%d", tc.sections, tc.runes, tc.budget), func(t *testing.T) {
			tree := structure.Analyze(buildDoc(2, tc.sections, tc.runes))
			withinBudget(t, tree, CreateChunks(tree, LevelSection, tc.budget), tc.budget)
		})
	}
}

func TestCreateChunks_GroupsStayInsideOneChapter(t *testing.T) {
	tree := structure.Analyze(buildDoc(3, 4, 900))
	groups := CreateChunks(tree, LevelSection, 100000)

	if len(groups) != 3 {
		t.Fatalf("expected one group per chapter, got %d", len(groups))
	}
	for i, g := range groups {
		chapters := map[string]bool{}
		for _, id := range g.Nodes {
			chapters[tree.RootChapterNumber(id)] = true
		}
		if len(chapters) != 1 {
			t.Errorf("group %d spans chapters %v", i, chapters)
		}
	}
}

func TestCreateChunks_ChapterWithoutSections(t *testing.T) {
	tree := structure.Analyze("# One\n" + body(600) + "\n# Two\n## Part\n" + body(600))
	groups := CreateChunks(tree, LevelSection, 1000)

	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(groups))
	}
	if groups[0].BoundaryRule != RuleChapter || groups[0].Level != LevelChapter {
		t.Errorf("expected whole-chapter group, got %+v", groups[0])
	}
	if groups[1].BoundaryRule != RuleTokenMerge {
		t.Errorf("expected token merge, got %q", groups[1].BoundaryRule)
	}
}

func TestCreateChunks_PreambleIsKept(t *testing.T) {
	text := "Opening remarks here.\n# One\nalpha\n# Two\nbeta"
	tree := structure.Analyze(text)
	groups := CreateChunks(tree, LevelChapter, 1000)

	if len(groups) != 3 {
		t.Fatalf("expected preamble plus 2 chapters, got %d", len(groups))
	}
	got := groups[0].Text(tree)
	if got != "Opening remarks here." {
		t.Errorf("preamble text = %q", got)
	}
	if strings.Contains(got, "alpha") {
		t.Errorf("preamble must not include chapter text")
	}
}

func TestCreateChunks_NoContentLost(t *testing.T) {
	text := "Intro.\n# One\nalpha\n## A\nbravo\n## B\ncharlie\n# Two\ndelta\n## C\necho"
	tree := structure.Analyze(text)

	for _, level := range []Level{LevelDocument, LevelChapter, LevelSection} {
		var all strings.Builder
		for _, g := range CreateChunks(tree, level, 2) {
			all.WriteString(g.Text(tree))
		}
		for _, word := range []string{"Intro.", "alpha", "bravo", "charlie", "delta", "echo"} {
			if !strings.Contains(all.String(), word) {
				t.Errorf("level %s: %q missing from chunks", level, word)
			}
		}
	}
}

func TestValidateBoundaries_SplitsMixedChapters(t *testing.T) {
	tree := structure.Analyze("# One\nalpha\n## A\nbravo\n# Two\ncharlie")
	chapters := tree.Chapters()
	sec := tree.ChildrenOfType(chapters[0].ID, doctree.TypeSection)[0]

	mixed := Group{
		Level:        LevelChapter,
		Nodes:        []doctree.ID{chapters[0].ID, sec.ID, chapters[1].ID},
		BoundaryRule: RuleChapter,
	}
	out := validateBoundaries(tree, []Group{mixed})

	if len(out) != 2 {
		t.Fatalf("expected 2 corrected groups, got %d", len(out))
	}
	for i, g := range out {
		if g.BoundaryRule != RuleChapterCorrected {
			t.Errorf("group %d: rule %q", i, g.BoundaryRule)
		}
	}
	if len(out[0].Nodes) != 2 || len(out[1].Nodes) != 1 {
		t.Errorf("unexpected split %v / %v", out[0].Nodes, out[1].Nodes)
	}
}

func TestEstimateTokens(t *testing.T) {
	if got := EstimateTokens(""); got != 0 {
		t.Errorf("empty: got %d", got)
	}
	if got := EstimateTokens(strings.Repeat("a", 40)); got != 10 {
		t.Errorf("40 chars: got %d, want 10", got)
	}
	if got := EstimateTokens("가나다라마바사아"); got != 2 {
		t.Errorf("8 runes: got %d, want 2", got)
	}
}

func TestParseLevel(t *testing.T) {
	if l, err := ParseLevel("Section"); err != nil || l != LevelSection {
		t.Errorf("ParseLevel(Section) = %q, %v", l, err)
	}
	if _, err := ParseLevel("paragraph"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestFingerprint(t *testing.T) {
	tree := structure.Analyze("# One\nalpha\n## A\nbravo\n# Two\ncharlie\n## B\ndelta")
	chapters := CreateChunks(tree, LevelChapter, 1000)
	sections := CreateChunks(tree, LevelSection, 1000)
	if len(chapters) != len(sections) {
		t.Fatalf("expected equal counts, got %d and %d", len(chapters), len(sections))
	}

	fp := Fingerprint(LevelChapter, chapters)
	if fp != Fingerprint(LevelChapter, CreateChunks(tree, LevelChapter, 1000)) {
		t.Error("fingerprint is not stable")
	}
	if fp == Fingerprint(LevelSection, sections) {
		t.Error("different boundaries share a fingerprint")
	}
	if Fingerprint(LevelSection, CreateChunks(tree, LevelSection, 2)) == Fingerprint(LevelSection, sections) {
		t.Error("budget change that moves boundaries must change the fingerprint")
	}
}
