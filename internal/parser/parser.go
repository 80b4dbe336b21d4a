package parser

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

// Document is the plain text of a source file. Headings recognized by a
// format-aware reader are written as markdown heading lines ("#", "##",
// "###") so structure analysis sees them regardless of the source format.
type Document struct {
	Title  string
	Blocks []string
}

// Text joins the blocks with blank lines.
func (d *Document) Text() string {
	return strings.Join(d.Blocks, "\n\n")
}

func (d *Document) heading(level int, title string) {
	title = strings.Join(strings.Fields(title), " ")
	if title == "" {
		return
	}
	if level < 1 || level > 3 {
		d.Blocks = append(d.Blocks, title)
		return
	}
	d.Blocks = append(d.Blocks, strings.Repeat("#", level)+" "+title)
}

func (d *Document) paragraph(text string) {
	if t := strings.TrimSpace(text); t != "" {
		d.Blocks = append(d.Blocks, t)
	}
}

// Parser converts raw document bytes into a Document.
type Parser interface {
	Parse(r io.Reader, filename string) (*Document, error)
}

// SupportedExtensions lists file extensions this service can handle.
var SupportedExtensions = map[string]bool{
	".txt":      true,
	".md":       true,
	".markdown": true,
	".csv":      true,
	".html":     true,
	".htm":      true,
	".pdf":      true,
	".docx":     true,
}

// ForFile returns the appropriate parser for a filename.
func ForFile(filename string) (Parser, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".txt":
		return &TextParser{}, nil
	case ".md", ".markdown":
		return &MarkdownParser{}, nil
	case ".csv":
		return &CSVParser{}, nil
	case ".html", ".htm":
		return &HTMLParser{}, nil
	case ".pdf":
		return &PDFParser{}, nil
	case ".docx":
		return &DOCXParser{}, nil
	default:
		return nil, fmt.Errorf("unsupported file extension: %s", ext)
	}
}

// IsSupportedExtension checks if a file extension is supported.
func IsSupportedExtension(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return SupportedExtensions[ext]
}

func titleFromFilename(filename string) string {
	base := filepath.Base(filename)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
