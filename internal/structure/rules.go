package structure

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// match is a heading recognized on a single line.
type match struct {
	level int
	parts []int // explicit number components; nil means auto-number
	title string
}

// rule recognizes one heading variant. Weak rules are only accepted when their
// number is consistent with the headings already open (see analyzer.accept).
type rule struct {
	name  string
	level int
	weak  bool
	re    *regexp.Regexp
	parse func(m []string) (parts []int, title string, ok bool)
}

var koreanEnumerators = []rune("가나다라마바사아자차카타파하")

// rules are tried in order; the first match wins. Chapter rules come first so a
// line like "1. Introduction" is never mistaken for a deeper level.
var rules = []rule{
	{name: "korean_chapter", level: 1, re: regexp.MustCompile(`^제\s*(\d+)\s*장(?:[\s.:]+(.*))?$`), parse: numbered},
	{name: "english_chapter", level: 1, re: regexp.MustCompile(`^(?i:chapter)\s+(\d+|[IVXLCDM]+)\b[.:\-]?\s*(.*)$`), parse: numberedOrRoman},
	{name: "bare_chapter", level: 1, weak: true, re: regexp.MustCompile(`^(\d{2})$`), parse: bare},
	{name: "numeric_chapter", level: 1, weak: true, re: regexp.MustCompile(`^(\d+)\.\s+(\S.*)$`), parse: numbered},
	{name: "roman_chapter", level: 1, weak: true, re: regexp.MustCompile(`^([IVXLCDM]+)\.\s+(\S.*)$`), parse: numberedOrRoman},
	{name: "markdown_chapter", level: 1, re: regexp.MustCompile(`^#\s+(.+?)\s*#*$`), parse: markdown},

	{name: "korean_section", level: 2, re: regexp.MustCompile(`^제\s*(\d+)\s*절(?:[\s.:]+(.*))?$`), parse: numbered},
	{name: "english_section", level: 2, re: regexp.MustCompile(`^(?i:section)\s+(\d+(?:\.\d+)*)\b[.:\-]?\s*(.*)$`), parse: dotted},
	{name: "numeric_section", level: 2, weak: true, re: regexp.MustCompile(`^(\d+\.\d+)\.?\s+(\S.*)$`), parse: dotted},
	{name: "markdown_section", level: 2, re: regexp.MustCompile(`^##\s+(.+?)\s*#*$`), parse: markdown},

	{name: "numeric_subsection", level: 3, weak: true, re: regexp.MustCompile(`^(\d+\.\d+\.\d+)\.?\s+(\S.*)$`), parse: dotted},
	{name: "korean_subsection", level: 3, weak: true, re: regexp.MustCompile(`^([가나다라마바사아자차카타파하])\.\s*(\S.*)$`), parse: korean},
	{name: "markdown_subsection", level: 3, re: regexp.MustCompile(`^###\s+(.+?)\s*#*$`), parse: markdown},
}

var leadingNumber = regexp.MustCompile(`^(\d+(?:\.\d+)*)\.?\s+(\S.*)$`)

func numbered(m []string) ([]int, string, bool) {
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return nil, "", false
	}
	return []int{n}, group(m, 2), true
}

func numberedOrRoman(m []string) ([]int, string, bool) {
	if n, err := strconv.Atoi(m[1]); err == nil {
		return []int{n}, group(m, 2), true
	}
	n, ok := parseRoman(m[1])
	if !ok {
		return nil, "", false
	}
	return []int{n}, group(m, 2), true
}

func bare(m []string) ([]int, string, bool) {
	n, err := strconv.Atoi(m[1])
	if err != nil || n == 0 {
		return nil, "", false
	}
	return []int{n}, "Chapter " + strconv.Itoa(n), true
}

func dotted(m []string) ([]int, string, bool) {
	parts, ok := splitNumber(m[1])
	if !ok {
		return nil, "", false
	}
	return parts, group(m, 2), true
}

func korean(m []string) ([]int, string, bool) {
	r, _ := utf8.DecodeRuneInString(m[1])
	for i, k := range koreanEnumerators {
		if k == r {
			return []int{i + 1}, group(m, 2), true
		}
	}
	return nil, "", false
}

// markdown headings auto-number unless the heading text carries its own number.
func markdown(m []string) ([]int, string, bool) {
	title := strings.TrimSpace(m[1])
	if title == "" {
		return nil, "", false
	}
	if nm := leadingNumber.FindStringSubmatch(title); nm != nil {
		if parts, ok := splitNumber(nm[1]); ok {
			return parts, nm[2], true
		}
	}
	return nil, title, true
}

func group(m []string, i int) string {
	if i >= len(m) {
		return ""
	}
	return strings.TrimSpace(m[i])
}

func splitNumber(s string) ([]int, bool) {
	fields := strings.Split(s, ".")
	parts := make([]int, 0, len(fields))
	for _, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil {
			return nil, false
		}
		parts = append(parts, n)
	}
	return parts, true
}

var romanValues = map[rune]int{'I': 1, 'V': 5, 'X': 10, 'L': 50, 'C': 100, 'D': 500, 'M': 1000}

// parseRoman converts an uppercase Roman numeral, rejecting non-canonical forms.
func parseRoman(s string) (int, bool) {
	total := 0
	runes := []rune(s)
	for i, r := range runes {
		v, ok := romanValues[r]
		if !ok {
			return 0, false
		}
		if i+1 < len(runes) && romanValues[runes[i+1]] > v {
			total -= v
		} else {
			total += v
		}
	}
	if total <= 0 || toRoman(total) != s {
		return 0, false
	}
	return total, true
}

func toRoman(n int) string {
	vals := []int{1000, 900, 500, 400, 100, 90, 50, 40, 10, 9, 5, 4, 1}
	syms := []string{"M", "CM", "D", "CD", "C", "XC", "L", "XL", "X", "IX", "V", "IV", "I"}
	var b strings.Builder
	for i, v := range vals {
		for n >= v {
			b.WriteString(syms[i])
			n -= v
		}
	}
	return b.String()
}

// looksLikeHeading rejects weak matches whose title reads like running prose.
func looksLikeHeading(title string) bool {
	r, _ := utf8.DecodeRuneInString(title)
	return r == utf8.RuneError || !unicode.IsLower(r)
}

// matchLine returns the first rule matching a trimmed line.
func matchLine(line string) (match, *rule, bool) {
	for i := range rules {
		r := &rules[i]
		m := r.re.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		parts, title, ok := r.parse(m)
		if !ok {
			continue
		}
		if r.weak && !looksLikeHeading(title) {
			continue
		}
		return match{level: r.level, parts: parts, title: title}, r, true
	}
	return match{}, nil, false
}
