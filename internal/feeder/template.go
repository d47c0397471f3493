package feeder

import "strings"

type segment struct {
	text  string
	field bool
}

// Template is a string with {{field}} placeholders, parsed once.
type Template struct {
	raw      string
	segments []segment
}

// Compile splits s into literal text and placeholders. Unterminated
// braces are kept as text.
func Compile(s string) Template {
	t := Template{raw: s}
	rest := s
	for {
		open := strings.Index(rest, "{{")
		if open < 0 {
			break
		}
		end := strings.Index(rest[open+2:], "}}")
		if end < 0 {
			break
		}
		name := strings.TrimSpace(rest[open+2 : open+2+end])
		if name == "" {
			t.segments = append(t.segments, segment{text: rest[:open+4+end]})
		} else {
			if open > 0 {
				t.segments = append(t.segments, segment{text: rest[:open]})
			}
			t.segments = append(t.segments, segment{text: name, field: true})
		}
		rest = rest[open+4+end:]
	}
	if rest != "" {
		t.segments = append(t.segments, segment{text: rest})
	}
	return t
}

// String is the uncompiled template.
func (t Template) String() string { return t.raw }

// Static reports whether t has no placeholders.
func (t Template) Static() bool {
	for _, s := range t.segments {
		if s.field {
			return false
		}
	}
	return true
}

// Expand fills placeholders from r. Fields missing from r are left as
// {{field}}.
func (t Template) Expand(r Record) string {
	if t.Static() {
		return t.raw
	}
	var b strings.Builder
	b.Grow(len(t.raw))
	for _, s := range t.segments {
		if !s.field {
			b.WriteString(s.text)
			continue
		}
		if v, ok := r[s.text]; ok {
			b.WriteString(v)
		} else {
			b.WriteString("{{" + s.text + "}}")
		}
	}
	return b.String()
}
