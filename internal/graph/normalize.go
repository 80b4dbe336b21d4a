package graph

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeName folds a name for deduplication: NFKC, lower case, collapsed whitespace.
func NormalizeName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(norm.NFKC.String(name))), " ")
}

var nonWord = regexp.MustCompile(`[^\p{L}\p{N}]+`)

// RelationTypeKey converts "works for" or "worksFor" style labels to WORKS_FOR.
func RelationTypeKey(t string) string {
	t = strings.TrimSpace(t)
	if t == "" {
		return ""
	}
	var b strings.Builder
	prevLower := false
	for _, r := range t {
		isUpper := r >= 'A' && r <= 'Z'
		if isUpper && prevLower {
			b.WriteByte('_')
		}
		b.WriteRune(r)
		prevLower = r >= 'a' && r <= 'z'
	}
	s := nonWord.ReplaceAllString(b.String(), "_")
	return strings.ToUpper(strings.Trim(s, "_"))
}

var chunkPrefix = regexp.MustCompile(`^chunk[-_]?\d+[_:/.-]`)

// StripChunkPrefix removes a "chunk-003_" style prefix some models add to local ids.
func StripChunkPrefix(ref string) string {
	return chunkPrefix.ReplaceAllString(strings.TrimSpace(ref), "")
}

var (
	slugInvalid = regexp.MustCompile(`[^a-z0-9-]`)
	slugRepeat  = regexp.MustCompile(`-+`)
)

// Slugify converts a string to a URL/path-safe slug of at most 50 bytes.
func Slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(norm.NFKD.String(s)))
	s = slugInvalid.ReplaceAllString(s, "-")
	s = slugRepeat.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if len(s) > 50 {
		s = strings.TrimRight(s[:50], "-")
	}
	return s
}
