package xmltag

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	cdataOpen  = "<![CDATA["
	cdataClose = "]]>"
)

// Attr is a single element attribute. Value is formatted as text before escaping.
type Attr struct {
	Name  string
	Value any
}

// Build returns an XML element named name with the given attributes in order.
// A self-closing element ignores content. Otherwise content is embedded verbatim,
// so callers pass already built child elements or CDATA sections.
func Build(name string, attrs []Attr, selfClosing bool, content ...string) string {
	var b strings.Builder

	b.WriteByte('<')
	b.WriteString(name)
	for _, attr := range attrs {
		b.WriteByte(' ')
		b.WriteString(attr.Name)
		b.WriteString(`="`)
		b.WriteString(Escape(format(attr.Value)))
		b.WriteByte('"')
	}

	if selfClosing {
		b.WriteString("/>")
		return b.String()
	}

	b.WriteByte('>')
	for _, c := range content {
		b.WriteString(c)
	}
	b.WriteString("</")
	b.WriteString(name)
	b.WriteByte('>')

	return b.String()
}

// Escape makes text safe inside a double-quoted attribute value.
// Whitespace control characters are written as character references so that
// attribute value normalization keeps them intact.
func Escape(text string) string {
	var b strings.Builder
	b.Grow(len(text))

	for _, r := range text {
		switch r {
		case '&':
			b.WriteString("&amp;")
		case '<':
			b.WriteString("&lt;")
		case '>':
			b.WriteString("&gt;")
		case '"':
			b.WriteString("&quot;")
		case '\'':
			b.WriteString("&apos;")
		case '\t':
			b.WriteString("&#x9;")
		case '\n':
			b.WriteString("&#xA;")
		case '\r':
			b.WriteString("&#xD;")
		default:
			if isValidChar(r) {
				b.WriteRune(r)
			}
		}
	}

	return b.String()
}

// CDATA wraps text into a CDATA section. A "]]>" inside text is split across two
// adjacent sections and characters forbidden in XML 1.0 are dropped.
func CDATA(text string) string {
	var body strings.Builder
	body.Grow(len(text))

	for _, r := range text {
		if r == '\t' || r == '\n' || r == '\r' || isValidChar(r) {
			body.WriteRune(r)
		}
	}

	split := strings.ReplaceAll(body.String(), cdataClose, "]]"+cdataClose+cdataOpen+">")

	return cdataOpen + split + cdataClose
}

// isValidChar reports whether r is a non-whitespace character allowed by XML 1.0.
func isValidChar(r rune) bool {
	if r == utf8.RuneError {
		return false
	}

	return r >= 0x20 && r <= 0xD7FF ||
		r >= 0xE000 && r <= 0xFFFD ||
		r >= 0x10000 && r <= 0x10FFFF
}

func format(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}
