// Package structure detects the chapter/section/subsection hierarchy of plain text.
package structure

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/dgallion1/docgraph/internal/doctree"
)

// DefaultMaxHeadingLen is the longest line (in runes) that may be a heading.
const DefaultMaxHeadingLen = 120

// Analyzer builds a doctree from text. The zero value uses defaults.
type Analyzer struct {
	MaxHeadingLen int
}

// Analyze runs the default analyzer.
func Analyze(text string) *doctree.Tree {
	return Analyzer{}.Analyze(text)
}

// Analyze never fails: text without recognizable headings yields a root with content only.
// Positions are rune offsets into text after CRLF normalization.
func (a Analyzer) Analyze(text string) *doctree.Tree {
	maxLen := a.MaxHeadingLen
	if maxLen <= 0 {
		maxLen = DefaultMaxHeadingLen
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")

	s := &scanner{
		tree:   doctree.New("", utf8.RuneCountInString(text)),
		maxLen: maxLen,
	}
	for l := 1; l <= 3; l++ {
		s.open[l] = doctree.NoParent
	}

	pos := 0
	for _, line := range strings.Split(text, "\n") {
		s.line(line, pos)
		pos += utf8.RuneCountInString(line) + 1
	}
	s.finish(s.tree.Root().EndPos)
	return s.tree
}

type scanner struct {
	tree   *doctree.Tree
	maxLen int

	open    [4]doctree.ID // open[l] is the open node at level l, NoParent when none
	counter [4]int        // last local number used per level
	buf     strings.Builder
}

func (s *scanner) line(raw string, pos int) {
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" && utf8.RuneCountInString(trimmed) <= s.maxLen {
		if m, r, ok := matchLine(trimmed); ok && s.accept(m, r) {
			s.openNode(m, pos)
			return
		}
	}
	s.buf.WriteString(raw)
	s.buf.WriteByte('\n')
}

// accept applies the consistency checks for weak rules so numbered lists and
// running prose inside a chapter stay content.
func (s *scanner) accept(m match, r *rule) bool {
	if !r.weak {
		return true
	}
	switch m.level {
	case 1:
		return m.parts[0] > s.counter[1]
	case 2:
		if len(m.parts) < 2 {
			return true
		}
		return s.open[1] == doctree.NoParent || m.parts[0] == s.counter[1]
	case 3:
		if len(m.parts) < 3 {
			return s.open[2] != doctree.NoParent
		}
		return s.open[2] == doctree.NoParent ||
			(m.parts[0] == s.counter[1] && m.parts[1] == s.counter[2])
	}
	return true
}

func (s *scanner) openNode(m match, pos int) {
	// Synthesize missing ancestors so no node is parentless.
	for l := 1; l < m.level; l++ {
		if s.open[l] != doctree.NoParent {
			continue
		}
		local := s.counter[l] + 1
		if len(m.parts) == m.level {
			local = m.parts[l-1]
		}
		s.openAt(l, local, "", pos, true)
	}

	local := s.counter[m.level] + 1
	if len(m.parts) > 0 {
		local = m.parts[len(m.parts)-1]
	}
	s.openAt(m.level, local, m.title, pos, false)
}

func (s *scanner) openAt(level, local int, title string, pos int, implicit bool) {
	s.flush()
	s.closeFrom(level, pos)

	parent := doctree.ID(0)
	if level > 1 {
		parent = s.open[level-1]
	}
	number := strconv.Itoa(local)
	if p := s.tree.Node(parent); p.Number != "" {
		number = p.Number + "." + number
	}

	n := s.tree.Add(parent, doctree.TypeAt(level), number, title, pos)
	n.Implicit = implicit
	s.open[level] = n.ID
	s.counter[level] = local
	for l := level + 1; l <= 3; l++ {
		s.counter[l] = 0
	}
}

// closeFrom ends every open node at level or deeper.
func (s *scanner) closeFrom(level, pos int) {
	for l := 3; l >= level; l-- {
		if id := s.open[l]; id != doctree.NoParent {
			s.tree.Node(id).EndPos = pos
			s.open[l] = doctree.NoParent
		}
	}
}

// flush moves buffered lines into the deepest open node.
func (s *scanner) flush() {
	text := strings.TrimSpace(s.buf.String())
	s.buf.Reset()
	if text == "" {
		return
	}
	owner := s.tree.Root()
	for l := 3; l >= 1; l-- {
		if s.open[l] != doctree.NoParent {
			owner = s.tree.Node(s.open[l])
			break
		}
	}
	if owner.Content == "" {
		owner.Content = text
	} else {
		owner.Content += "\n\n" + text
	}
}

func (s *scanner) finish(end int) {
	s.flush()
	s.closeFrom(1, end)
}
