package doctree

import (
	"strings"
	"unicode/utf8"
)

// NodeType classifies a node in the document hierarchy.
type NodeType string

const (
	TypeDocument   NodeType = "document"
	TypeChapter    NodeType = "chapter"
	TypeSection    NodeType = "section"
	TypeSubsection NodeType = "subsection"
)

// LevelOf returns the depth for a node type (document=0 ... subsection=3).
func LevelOf(t NodeType) int {
	switch t {
	case TypeChapter:
		return 1
	case TypeSection:
		return 2
	case TypeSubsection:
		return 3
	default:
		return 0
	}
}

// TypeAt is the inverse of LevelOf.
func TypeAt(level int) NodeType {
	switch level {
	case 1:
		return TypeChapter
	case 2:
		return TypeSection
	case 3:
		return TypeSubsection
	default:
		return TypeDocument
	}
}

// ID indexes a node inside its Tree.
type ID int

// NoParent is the Parent of the root node.
const NoParent ID = -1

// Node is one structural unit. Children are owned by the node; Parent is a lookup only.
type Node struct {
	ID       ID       `json:"id"`
	Type     NodeType `json:"type"`
	Level    int      `json:"level"`
	Number   string   `json:"number"`
	Title    string   `json:"title"`
	Content  string   `json:"content"`
	StartPos int      `json:"start_pos"` // rune offset into the analyzed text
	EndPos   int      `json:"end_pos"`
	Children []ID     `json:"children,omitempty"`
	Parent   ID       `json:"parent"`
	Implicit bool     `json:"implicit,omitempty"` // synthesized to hold an orphan child
}

// Tree is the arena owning every node of a document. Node 0 is the root.
type Tree struct {
	Nodes []*Node `json:"nodes"`
}

// New returns a tree holding only a document root spanning size runes.
func New(title string, size int) *Tree {
	return &Tree{Nodes: []*Node{{
		ID:     0,
		Type:   TypeDocument,
		Title:  title,
		EndPos: size,
		Parent: NoParent,
	}}}
}

// Root returns the document node.
func (t *Tree) Root() *Node { return t.Nodes[0] }

// Node returns the node with the given id, or nil.
func (t *Tree) Node(id ID) *Node {
	if id < 0 || int(id) >= len(t.Nodes) {
		return nil
	}
	return t.Nodes[id]
}

// Add appends a child under parent and returns it.
func (t *Tree) Add(parent ID, typ NodeType, number, title string, start int) *Node {
	n := &Node{
		ID:       ID(len(t.Nodes)),
		Type:     typ,
		Level:    LevelOf(typ),
		Number:   number,
		Title:    title,
		StartPos: start,
		Parent:   parent,
	}
	t.Nodes = append(t.Nodes, n)
	p := t.Nodes[parent]
	p.Children = append(p.Children, n.ID)
	return n
}

// Parent returns the parent of id, or nil for the root.
func (t *Tree) Parent(id ID) *Node {
	n := t.Node(id)
	if n == nil || n.Parent == NoParent {
		return nil
	}
	return t.Nodes[n.Parent]
}

// ChildrenOfType returns the direct children of id with the given type.
func (t *Tree) ChildrenOfType(id ID, typ NodeType) []*Node {
	var out []*Node
	for _, c := range t.Nodes[id].Children {
		if t.Nodes[c].Type == typ {
			out = append(out, t.Nodes[c])
		}
	}
	return out
}

// Count returns how many nodes of the given type exist.
func (t *Tree) Count(typ NodeType) int {
	n := 0
	for _, node := range t.Nodes {
		if node.Type == typ {
			n++
		}
	}
	return n
}

// Chapters returns all chapter nodes in document order.
func (t *Tree) Chapters() []*Node {
	return t.ChildrenOfType(0, TypeChapter)
}

// RootChapterNumber walks up from id to its level-1 ancestor and returns that number.
// Nodes outside any chapter (the root itself) return "".
func (t *Tree) RootChapterNumber(id ID) string {
	n := t.Node(id)
	for n != nil && n.Level > 1 {
		n = t.Parent(n.ID)
	}
	if n == nil || n.Level != 1 {
		return ""
	}
	return n.Number
}

// Heading renders the heading line for a node, or "" for the root.
func (t *Tree) Heading(id ID) string {
	n := t.Nodes[id]
	if n.Type == TypeDocument {
		return ""
	}
	switch {
	case n.Number != "" && n.Title != "":
		return n.Number + " " + n.Title
	case n.Title != "":
		return n.Title
	default:
		return n.Number
	}
}

// OwnText returns the heading and the node's own content, without children.
func (t *Tree) OwnText(id ID) string {
	var b strings.Builder
	t.writeOwn(&b, t.Nodes[id])
	return strings.TrimSpace(b.String())
}

// FullText returns the node's heading and content followed by all descendants.
func (t *Tree) FullText(id ID) string {
	var b strings.Builder
	t.writeFull(&b, t.Nodes[id])
	return strings.TrimSpace(b.String())
}

func (t *Tree) writeOwn(b *strings.Builder, n *Node) {
	if h := t.Heading(n.ID); h != "" {
		b.WriteString(h)
		b.WriteString("\n")
	}
	if n.Content != "" {
		b.WriteString(n.Content)
		b.WriteString("\n")
	}
}

func (t *Tree) writeFull(b *strings.Builder, n *Node) {
	t.writeOwn(b, n)
	for _, c := range n.Children {
		b.WriteString("\n")
		t.writeFull(b, t.Nodes[c])
	}
}

// Size returns the rune length of a node's full text.
func (t *Tree) Size(id ID) int {
	return utf8.RuneCountInString(t.FullText(id))
}

// Walk visits every node depth-first in document order.
func (t *Tree) Walk(fn func(n *Node)) {
	var visit func(id ID)
	visit = func(id ID) {
		fn(t.Nodes[id])
		for _, c := range t.Nodes[id].Children {
			visit(c)
		}
	}
	visit(0)
}
