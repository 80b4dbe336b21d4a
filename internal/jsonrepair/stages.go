package jsonrepair

import (
	"regexp"
	"strings"
)

// stage is one pure text-to-text repair.
type stage struct {
	name string
	fn   func(string) string
}

// stages run in this order; each assumes the ones before it have run.
var stages = []stage{
	{"extract_payload", extractPayload},
	{"strip_comments", stripComments},
	{"fix_early_close", fixEarlyClose},
	{"normalize_entity_shape", normalizeEntityShape},
	{"hoist_stray_fields", hoistStrayFields},
	{"escape_control_chars", escapeControlChars},
	{"remove_invalid_escapes", removeInvalidEscapes},
	{"truncate_dangling_item", truncateDangling},
	{"strip_trailing_commas", stripTrailingCommas},
	{"fill_empty_values", fillEmptyValues},
	{"close_brackets", closeBrackets},
}

var fenceRe = regexp.MustCompile("(?s)```[a-zA-Z]*[ \t]*\n?(.*?)(?:```|$)")

// extractPayload pulls the JSON out of a fenced block or surrounding prose:
// the span from the first '{' to the last '}', or to the end if truncated.
func extractPayload(s string) string {
	if m := fenceRe.FindStringSubmatch(s); m != nil && strings.ContainsAny(m[1], "{[") {
		s = m[1]
	}
	start := strings.IndexByte(s, '{')
	closer := byte('}')
	if a := strings.IndexByte(s, '['); a >= 0 && (start < 0 || a < start) && arrayOfObjects(s[a+1:]) {
		start, closer = a, ']'
	}
	if start < 0 {
		return strings.TrimSpace(s)
	}
	end := strings.LastIndexByte(s, closer)
	if end < start {
		return strings.TrimSpace(s[start:])
	}
	return s[start : end+1]
}

// arrayOfObjects reports whether the text after '[' starts an array of objects.
func arrayOfObjects(rest string) bool {
	rest = strings.TrimLeft(rest, " \t\r\n")
	return rest != "" && (rest[0] == '{' || rest[0] == ']')
}

// stripComments removes // line and /* block */ comments outside strings.
func stripComments(s string) string {
	if !strings.Contains(s, "//") && !strings.Contains(s, "/*") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		switch {
		case s[i] == '"':
			end := stringEnd(s, i)
			if end < 0 {
				b.WriteString(s[i:])
				return b.String()
			}
			b.WriteString(s[i : end+1])
			i = end
		case strings.HasPrefix(s[i:], "//"):
			nl := strings.IndexByte(s[i:], '\n')
			if nl < 0 {
				return b.String()
			}
			i += nl - 1
		case strings.HasPrefix(s[i:], "/*"):
			end := strings.Index(s[i+2:], "*/")
			if end < 0 {
				return b.String()
			}
			i += end + 3
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

// earlyCloseRe matches an array closed right before another entity starts:
// `}]  , {"id":` where the ']' does not belong.
var earlyCloseRe = regexp.MustCompile(`\}(\s*)\]\s*,\s*\{(\s*"id"\s*:)`)

func fixEarlyClose(s string) string {
	return earlyCloseRe.ReplaceAllString(s, "}$1,{$2")
}

const jsonString = `"(?:[^"\\]|\\.)*"`

// flatEntityRe matches {"id":..,"type":..,"name":..} with no properties wrapper.
var flatEntityRe = regexp.MustCompile(`\{\s*"id"\s*:\s*(` + jsonString + `|\d+)\s*,\s*"type"\s*:\s*(` + jsonString + `)\s*,\s*"name"\s*:\s*(` + jsonString + `)\s*\}`)

func normalizeEntityShape(s string) string {
	return flatEntityRe.ReplaceAllString(s, `{"id":$1,"type":$2,"properties":{"name":$3}}`)
}

// strayFieldRe matches a name/description field placed after the properties object.
var strayFieldRe = regexp.MustCompile(`"properties"\s*:\s*\{([^{}]*)\}\s*,\s*("(?:name|description|aliases?)"\s*:\s*` + jsonString + `)`)

// hoistStrayFields moves common fields written next to "properties" into it.
func hoistStrayFields(s string) string {
	for range 8 {
		next := strayFieldRe.ReplaceAllStringFunc(s, func(m string) string {
			sub := strayFieldRe.FindStringSubmatch(m)
			inner := strings.TrimSpace(sub[1])
			if inner == "" {
				return `"properties":{` + sub[2] + `}`
			}
			return `"properties":{` + inner + `,` + sub[2] + `}`
		})
		if next == s {
			break
		}
		s = next
	}
	return s
}

// escapeControlChars escapes raw control characters inside string literals.
func escapeControlChars(s string) string {
	return mapStrings(s, func(body string) string {
		if !strings.ContainsFunc(body, func(r rune) bool { return r < 0x20 }) {
			return body
		}
		var b strings.Builder
		for _, r := range body {
			switch {
			case r == '\n':
				b.WriteString(`\n`)
			case r == '\r':
				b.WriteString(`\r`)
			case r == '\t':
				b.WriteString(`\t`)
			case r < 0x20:
				b.WriteString(`\u00`)
				b.WriteByte("0123456789abcdef"[r>>4])
				b.WriteByte("0123456789abcdef"[r&0xf])
			default:
				b.WriteRune(r)
			}
		}
		return b.String()
	})
}

// removeInvalidEscapes drops backslashes that do not start a valid JSON escape.
func removeInvalidEscapes(s string) string {
	return mapStrings(s, func(body string) string {
		if !strings.Contains(body, `\`) {
			return body
		}
		var b strings.Builder
		for i := 0; i < len(body); i++ {
			if body[i] != '\\' {
				b.WriteByte(body[i])
				continue
			}
			if i+1 >= len(body) {
				break
			}
			next := body[i+1]
			switch {
			case strings.IndexByte(`"\/bfnrt`, next) >= 0:
				b.WriteByte('\\')
				b.WriteByte(next)
				i++
			case next == 'u' && isHex4(body[i+2:]):
				b.WriteString(`\u`)
				i++
			}
		}
		return b.String()
	})
}

func isHex4(s string) bool {
	if len(s) < 4 {
		return false
	}
	for i := range 4 {
		c := s[i]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F') {
			return false
		}
	}
	return true
}

var partialLiteral = regexp.MustCompile(`(?:^|[\s:,\[])(?:t|tr|tru|f|fa|fal|fals|n|nu|nul)$`)

// truncateDangling cuts an unfinished trailing item (a half-written key, a
// missing value, a partial literal) back to the last complete item of the
// innermost open array. Items that only lack their closers are left for
// closeBrackets.
func truncateDangling(s string) string {
	r := scan(s)
	if len(r.stack) == 0 {
		return s
	}
	top := r.stack[len(r.stack)-1]
	dangling := r.inString && r.inKey
	if !r.inString {
		trimmed := strings.TrimRight(s, " \t\r\n")
		dangling = (top.kind == '{' && (top.expect == expectColon || top.expect == expectValue)) ||
			partialLiteral.MatchString(trimmed)
	}
	if !dangling {
		return s
	}
	for k := len(r.stack) - 1; k >= 0; k-- {
		f := r.stack[k]
		if f.kind != '[' {
			continue
		}
		if f.lastComma >= 0 {
			return s[:f.lastComma]
		}
		return s[:f.open+1]
	}
	return s
}

var trailingCommaRe = regexp.MustCompile(`,(\s*[}\]])`)

func stripTrailingCommas(s string) string {
	return mapOutside(s, func(seg string) string {
		return trailingCommaRe.ReplaceAllString(seg, "$1")
	})
}

var emptyValueRe = regexp.MustCompile(`:(\s*)([,}\]])`)

// fillEmptyValues turns `"key": ,` into `"key": null,`.
func fillEmptyValues(s string) string {
	return mapOutside(s, func(seg string) string {
		return emptyValueRe.ReplaceAllString(seg, ": null$2")
	})
}

// closeBrackets terminates an open string and appends missing closers.
// Closers with no matching opener are dropped.
func closeBrackets(s string) string {
	r := scan(s)
	if len(r.unmatched) > 0 {
		var b strings.Builder
		skip := make(map[int]bool, len(r.unmatched))
		for _, i := range r.unmatched {
			skip[i] = true
		}
		for i := 0; i < len(s); i++ {
			if !skip[i] {
				b.WriteByte(s[i])
			}
		}
		s = b.String()
		r = scan(s)
	}
	if len(r.stack) == 0 && !r.inString {
		return s
	}

	var b strings.Builder
	switch {
	case r.inString:
		b.WriteString(s)
		b.WriteByte('"')
		if r.inKey {
			b.WriteString(": null")
		}
	default:
		trimmed := strings.TrimRight(s, " \t\r\n")
		trimmed = strings.TrimSuffix(trimmed, ",")
		b.WriteString(trimmed)
		if top := r.stack[len(r.stack)-1]; top.kind == '{' {
			switch top.expect {
			case expectColon:
				b.WriteString(": null")
			case expectValue:
				b.WriteString(" null")
			}
		}
	}
	for k := len(r.stack) - 1; k >= 0; k-- {
		if r.stack[k].kind == '{' {
			b.WriteByte('}')
		} else {
			b.WriteByte(']')
		}
	}
	return b.String()
}
