package jsonrepair

import "strings"

// expect is what the scanner wants next inside a container.
type expect int

const (
	expectValue expect = iota
	expectKey
	expectColon
	expectNext // a comma or the closer
)

type frame struct {
	kind      byte // '{' or '['
	open      int
	lastComma int
	expect    expect
}

type scanResult struct {
	stack     []frame
	inString  bool // input ends inside a string literal
	inKey     bool // that string is an object key
	unmatched []int
}

// scan walks s tracking container nesting outside of string literals.
func scan(s string) scanResult {
	var r scanResult
	top := func() *frame {
		if len(r.stack) == 0 {
			return nil
		}
		return &r.stack[len(r.stack)-1]
	}

	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '"':
			f := top()
			key := f != nil && f.kind == '{' && f.expect == expectKey
			end := stringEnd(s, i)
			if end < 0 {
				r.inString = true
				r.inKey = key
				return r
			}
			i = end
			if f != nil {
				if key {
					f.expect = expectColon
				} else {
					f.expect = expectNext
				}
			}
		case '{', '[':
			if f := top(); f != nil {
				f.expect = expectNext
			}
			e := expectValue
			if c == '{' {
				e = expectKey
			}
			r.stack = append(r.stack, frame{kind: c, open: i, lastComma: -1, expect: e})
		case '}', ']':
			want := byte('{')
			if c == ']' {
				want = '['
			}
			if f := top(); f != nil && f.kind == want {
				r.stack = r.stack[:len(r.stack)-1]
			} else {
				r.unmatched = append(r.unmatched, i)
			}
		case ':':
			if f := top(); f != nil && f.kind == '{' {
				f.expect = expectValue
			}
		case ',':
			if f := top(); f != nil {
				f.lastComma = i
				if f.kind == '{' {
					f.expect = expectKey
				} else {
					f.expect = expectValue
				}
			}
		case ' ', '\t', '\n', '\r':
		default:
			if f := top(); f != nil {
				f.expect = expectNext
			}
		}
	}
	return r
}

// stringEnd returns the index of the quote closing the string opened at start,
// or -1 if the string runs to the end of s.
func stringEnd(s string, start int) int {
	for j := start + 1; j < len(s); j++ {
		switch s[j] {
		case '\\':
			j++
		case '"':
			return j
		}
	}
	return -1
}

// mapOutside applies fn to every run of text outside string literals.
func mapOutside(s string, fn func(string) string) string {
	var b strings.Builder
	b.Grow(len(s))
	last := 0
	for i := 0; i < len(s); i++ {
		if s[i] != '"' {
			continue
		}
		b.WriteString(fn(s[last:i]))
		end := stringEnd(s, i)
		if end < 0 {
			b.WriteString(s[i:])
			return b.String()
		}
		b.WriteString(s[i : end+1])
		last = end + 1
		i = end
	}
	b.WriteString(fn(s[last:]))
	return b.String()
}

// mapStrings applies fn to the body of every string literal (without quotes).
// An unterminated trailing string is passed to fn as well.
func mapStrings(s string, fn func(string) string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '"' {
			b.WriteByte(s[i])
			continue
		}
		end := stringEnd(s, i)
		if end < 0 {
			b.WriteByte('"')
			b.WriteString(fn(s[i+1:]))
			return b.String()
		}
		b.WriteByte('"')
		b.WriteString(fn(s[i+1 : end]))
		b.WriteByte('"')
		i = end
	}
	return b.String()
}
