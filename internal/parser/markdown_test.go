package parser

import (
	"strings"
	"testing"
)

func TestMarkdownParser_HeadingHierarchy(t *testing.T) {
	input := `# Title

Intro text.

## Section A

Section A content.

### Subsection A1

Subsection A1 content.

Section B
---------

Section B content.
`
	p := &MarkdownParser{}
	doc, err := p.Parse(strings.NewReader(input), "doc.md")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if doc.Title != "doc" {
		t.Errorf("expected title %q, got %q", "doc", doc.Title)
	}

	want := []string{
		"# Title",
		"Intro text.",
		"## Section A",
		"Section A content.",
		"### Subsection A1",
		"Subsection A1 content.",
		"## Section B",
		"Section B content.",
	}
	if len(doc.Blocks) != len(want) {
		t.Fatalf("expected %d blocks, got %d: %q", len(want), len(doc.Blocks), doc.Blocks)
	}
	for i, w := range want {
		if doc.Blocks[i] != w {
			t.Errorf("block[%d]: expected %q, got %q", i, w, doc.Blocks[i])
		}
	}
}

func TestMarkdownParser_NoHeadings(t *testing.T) {
	input := `Just some plain text.

Another paragraph here.`

	p := &MarkdownParser{}
	doc, err := p.Parse(strings.NewReader(input), "plain.md")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := doc.Text(); got != "Just some plain text.\n\nAnother paragraph here." {
		t.Errorf("unexpected text %q", got)
	}
}

func TestMarkdownParser_MixedContentWithCodeBlocks(t *testing.T) {
	input := "# API Reference\n\nSome intro.\n\n## Endpoints\n\nList of endpoints:\n\n```\nGET /api/users\nPOST /api/users\n```\n\nMore text after code.\n"

	p := &MarkdownParser{}
	doc, err := p.Parse(strings.NewReader(input), "api.md")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	text := doc.Text()
	if !strings.Contains(text, "## Endpoints\n\nList of endpoints:") {
		t.Errorf("expected heading followed by paragraph, got %q", text)
	}
	if !strings.Contains(text, "GET /api/users\nPOST /api/users") {
		t.Errorf("expected code block content in text, got %q", text)
	}
	if strings.Count(text, "Some intro.") != 1 {
		t.Errorf("expected paragraph text exactly once, got %q", text)
	}
}

func TestMarkdownParser_ListItems(t *testing.T) {
	doc, err := (&MarkdownParser{}).Parse(strings.NewReader("- one\n- two\n"), "list.md")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := doc.Text(); got != "one\ntwo" {
		t.Errorf("expected list items on separate lines, got %q", got)
	}
}

func TestMarkdownParser_EmptyInput(t *testing.T) {
	p := &MarkdownParser{}
	doc, err := p.Parse(strings.NewReader(""), "empty.md")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(doc.Blocks) != 0 {
		t.Errorf("expected 0 blocks for empty input, got %d", len(doc.Blocks))
	}
}

func TestMarkdownParser_TitleStripping(t *testing.T) {
	tests := []struct {
		filename string
		want     string
	}{
		{"readme.md", "readme"},
		{"notes.markdown", "notes"},
		{"dir/plain.md", "plain"},
	}
	p := &MarkdownParser{}
	for _, tt := range tests {
		doc, err := p.Parse(strings.NewReader("text"), tt.filename)
		if err != nil {
			t.Fatalf("unexpected error for %s: %v", tt.filename, err)
		}
		if doc.Title != tt.want {
			t.Errorf("filename=%q: expected title %q, got %q", tt.filename, tt.want, doc.Title)
		}
	}
}
